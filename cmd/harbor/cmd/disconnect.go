package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var disconnectCancel bool

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <uri>",
	Short: "Tear down the session for an owner URI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		uri := args[0]
		if disconnectCancel {
			if err := a.manager.CancelConnect(cmd.Context(), uri); err != nil {
				return err
			}
			pterm.Success.Printfln("Cancelled %s", uri)
			return nil
		}
		if err := a.manager.Disconnect(cmd.Context(), uri); err != nil {
			return err
		}
		pterm.Success.Printfln("Disconnected %s", uri)
		return nil
	},
}

func init() {
	disconnectCmd.Flags().BoolVar(&disconnectCancel, "cancel", false, "cancel an in-flight connect instead")
	rootCmd.AddCommand(disconnectCmd)
}
