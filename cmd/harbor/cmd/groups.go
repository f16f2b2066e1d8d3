package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/willibrandon/harbor/internal/models"
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Show the saved connection catalogue as a tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		arena, err := a.manager.ConnectionGroups()
		if err != nil {
			return err
		}
		profiles, err := a.manager.Profiles()
		if err != nil {
			return err
		}

		byGroup := make(map[string][]*models.ConnectionProfile)
		for _, p := range profiles {
			byGroup[p.GroupID] = append(byGroup[p.GroupID], p)
		}

		tree := treeprint.New()
		tree.SetValue("Connections")
		addBranch(tree, arena, byGroup, "")
		fmt.Print(tree.String())
		return nil
	},
}

// addBranch recursively renders the children of parentID, groups first,
// then the profiles filed directly under the parent.
func addBranch(branch treeprint.Tree, arena *models.GroupArena, byGroup map[string][]*models.ConnectionProfile, parentID string) {
	for _, g := range arena.Children(parentID) {
		sub := branch.AddBranch(g.Name)
		addBranch(sub, arena, byGroup, g.ID)
	}
	for _, p := range byGroup[parentID] {
		branch.AddNode(p.ShortName())
	}
}

func init() {
	rootCmd.AddCommand(groupsCmd)
}
