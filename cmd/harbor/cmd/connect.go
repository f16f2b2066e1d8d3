package cmd

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/willibrandon/harbor/internal/manager"
	"github.com/willibrandon/harbor/internal/models"
	"github.com/willibrandon/harbor/internal/provider/pgsql"
)

var (
	connectHost     string
	connectPort     string
	connectDatabase string
	connectUser     string
	connectPassword string
	connectAuthType string
	connectSSLMode  string
	connectGroup    string
	connectSave     bool
	connectSavePass bool
	connectURI      string
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Open a connection to a database server",
	Long: `Connect opens a session against a PostgreSQL server. With --save the
profile is persisted to the catalogue under the --group path, creating any
missing group segments.

The password is resolved from --password, the HARBOR_PASSWORD environment
variable, or the credential store for a previously saved profile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		password := connectPassword
		if password == "" {
			password = os.Getenv("HARBOR_PASSWORD")
		}

		profile := models.NewProfile(pgsql.ProviderName, map[string]string{
			pgsql.OptHost:     connectHost,
			pgsql.OptPort:     connectPort,
			pgsql.OptDatabase: connectDatabase,
			pgsql.OptUser:     connectUser,
			pgsql.OptPassword: password,
			pgsql.OptAuthType: connectAuthType,
			pgsql.OptSSLMode:  connectSSLMode,
		}, pgsql.Capabilities())
		profile.GroupFullName = connectGroup
		profile.SavePassword = connectSavePass

		spinner, _ := pterm.DefaultSpinner.Start("Connecting to ", profile.ShortName())
		result, err := a.manager.Connect(cmd.Context(), profile, connectURI, manager.ConnectOptions{
			SaveTheConnection: connectSave,
			ShowDialogOnError: true,
		})
		if err != nil {
			spinner.Fail(err.Error())
			return err
		}
		if !result.Connected {
			spinner.Fail(result.ErrorMessage)
			return nil
		}
		spinner.Success("Connected, id ", result.ConnectionID)
		return nil
	},
}

func init() {
	connectCmd.Flags().StringVar(&connectHost, "host", "localhost", "server host")
	connectCmd.Flags().StringVar(&connectPort, "port", "5432", "server port")
	connectCmd.Flags().StringVarP(&connectDatabase, "database", "d", "", "database name")
	connectCmd.Flags().StringVarP(&connectUser, "user", "u", "", "user name")
	connectCmd.Flags().StringVar(&connectPassword, "password", "", "password (or HARBOR_PASSWORD)")
	connectCmd.Flags().StringVar(&connectAuthType, "auth", "", "auth mode (Integrated to skip password)")
	connectCmd.Flags().StringVar(&connectSSLMode, "sslmode", "prefer", "SSL mode")
	connectCmd.Flags().StringVarP(&connectGroup, "group", "g", "", "group path, e.g. Prod/Billing")
	connectCmd.Flags().BoolVar(&connectSave, "save", false, "save the profile to the catalogue")
	connectCmd.Flags().BoolVar(&connectSavePass, "save-password", false, "save the password to the credential store")
	connectCmd.Flags().StringVar(&connectURI, "uri", "", "explicit owner URI (advanced)")
	rootCmd.AddCommand(connectCmd)
}
