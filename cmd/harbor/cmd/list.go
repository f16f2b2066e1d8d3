package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/willibrandon/harbor/internal/models"
)

var (
	listRecent bool
	listActive bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved, recent, or active connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		var profiles []*models.ConnectionProfile
		switch {
		case listRecent:
			profiles, err = a.manager.RecentConnections()
		case listActive:
			profiles, err = a.manager.ActiveConnections()
		default:
			profiles, err = a.manager.Profiles()
		}
		if err != nil {
			return err
		}

		if len(profiles) == 0 {
			pterm.Info.Println("No connections.")
			return nil
		}

		rows := pterm.TableData{{"Provider", "Server", "Database", "User", "Group"}}
		for _, p := range profiles {
			rows = append(rows, []string{
				p.ProviderName, p.ServerName(), p.DatabaseName(), p.UserName(), p.GroupFullName,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

func init() {
	listCmd.Flags().BoolVar(&listRecent, "recent", false, "show the most-recently-used list")
	listCmd.Flags().BoolVar(&listActive, "active", false, "show the active-connection list")
	rootCmd.AddCommand(listCmd)
}
