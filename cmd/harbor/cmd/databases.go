package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var databasesCmd = &cobra.Command{
	Use:   "databases <uri>",
	Short: "List databases reachable through an established session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		names, err := a.manager.ListDatabases(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, name := range names {
			pterm.Println(name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(databasesCmd)
}
