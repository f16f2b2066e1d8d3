package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/sethvargo/go-password/password"
	"github.com/spf13/cobra"

	"github.com/willibrandon/harbor/internal/models"
	"github.com/willibrandon/harbor/internal/provider/pgsql"
)

var (
	profileHost     string
	profilePort     string
	profileDatabase string
	profileUser     string
	profilePassword string
	profileGroup    string
	profileSavePass bool
	profileGenPass  bool
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage saved connection profiles",
}

var profileAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Save a connection profile without connecting",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		pw := profilePassword
		if profileGenPass {
			// 24 chars, 4 digits, 4 symbols.
			pw, err = password.Generate(24, 4, 4, false, false)
			if err != nil {
				return fmt.Errorf("failed to generate password: %w", err)
			}
		}

		profile := models.NewProfile(pgsql.ProviderName, map[string]string{
			pgsql.OptHost:     profileHost,
			pgsql.OptPort:     profilePort,
			pgsql.OptDatabase: profileDatabase,
			pgsql.OptUser:     profileUser,
			pgsql.OptPassword: pw,
		}, pgsql.Capabilities())
		profile.GroupFullName = profileGroup
		profile.SavePassword = profileSavePass || profileGenPass

		saved, err := a.manager.SaveProfile(profile)
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Saved %s under %q", saved.ShortName(), saved.GroupFullName)
		if profileGenPass {
			pterm.Info.Printfln("Generated password: %s", pw)
		}
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Delete a saved connection profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		profiles, err := a.manager.Profiles()
		if err != nil {
			return err
		}
		for _, p := range profiles {
			if p.ServerName() == profileHost &&
				p.DatabaseName() == profileDatabase &&
				p.UserName() == profileUser {
				if err := a.manager.DeleteProfile(cmd.Context(), p); err != nil {
					return err
				}
				pterm.Success.Printfln("Removed %s", p.ShortName())
				return nil
			}
		}
		return fmt.Errorf("no saved profile matches host=%s database=%s user=%s",
			profileHost, profileDatabase, profileUser)
	},
}

func init() {
	for _, c := range []*cobra.Command{profileAddCmd, profileRemoveCmd} {
		c.Flags().StringVar(&profileHost, "host", "localhost", "server host")
		c.Flags().StringVar(&profilePort, "port", "5432", "server port")
		c.Flags().StringVarP(&profileDatabase, "database", "d", "", "database name")
		c.Flags().StringVarP(&profileUser, "user", "u", "", "user name")
		c.Flags().StringVarP(&profileGroup, "group", "g", "", "group path, e.g. Prod/Billing")
	}
	profileAddCmd.Flags().StringVar(&profilePassword, "password", "", "password to store")
	profileAddCmd.Flags().BoolVar(&profileSavePass, "save-password", false, "save the password to the credential store")
	profileAddCmd.Flags().BoolVar(&profileGenPass, "generate-password", false, "generate and store a random password")

	profileCmd.AddCommand(profileAddCmd)
	profileCmd.AddCommand(profileRemoveCmd)
	rootCmd.AddCommand(profileCmd)
}
