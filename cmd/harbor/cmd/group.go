package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Edit connection groups",
}

var groupRenameCmd = &cobra.Command{
	Use:   "rename <path> <new-name>",
	Short: "Rename a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		id, err := resolveGroupPath(a, args[0])
		if err != nil {
			return err
		}
		if err := a.manager.RenameGroup(id, args[1]); err != nil {
			return err
		}
		pterm.Success.Printfln("Renamed %q to %q", args[0], args[1])
		return nil
	},
}

var groupDeleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "Delete a group, its subgroups, and their profiles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		id, err := resolveGroupPath(a, args[0])
		if err != nil {
			return err
		}
		if err := a.manager.DeleteGroup(cmd.Context(), id); err != nil {
			return err
		}
		pterm.Success.Printfln("Deleted %q", args[0])
		return nil
	},
}

var groupMoveCmd = &cobra.Command{
	Use:   "move <path> <new-parent-path>",
	Short: "Re-parent a group (use / for the root)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		id, err := resolveGroupPath(a, args[0])
		if err != nil {
			return err
		}
		parentID := ""
		if args[1] != "/" {
			parentID, err = resolveGroupPath(a, args[1])
			if err != nil {
				return err
			}
		}
		if err := a.manager.MoveGroup(id, parentID); err != nil {
			return err
		}
		pterm.Success.Printfln("Moved %q under %q", args[0], args[1])
		return nil
	},
}

// resolveGroupPath maps a slash path to the id of an existing group.
func resolveGroupPath(a *app, path string) (string, error) {
	arena, err := a.manager.ConnectionGroups()
	if err != nil {
		return "", err
	}
	for _, g := range arena.All() {
		if arena.FullName(g.ID) == path {
			return g.ID, nil
		}
	}
	return "", fmt.Errorf("no group at path %q", path)
}

func init() {
	groupCmd.AddCommand(groupRenameCmd)
	groupCmd.AddCommand(groupDeleteCmd)
	groupCmd.AddCommand(groupMoveCmd)
	rootCmd.AddCommand(groupCmd)
}
