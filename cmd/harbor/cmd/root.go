// Package cmd contains the CLI commands for harbor.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/willibrandon/harbor/internal/logger"
)

var (
	// Global flags
	debug   bool
	logFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "harbor",
	Short: "Harbor - database connection manager",
	Long: `Harbor manages live connections to database servers: it opens,
tracks, reuses, and tears down sessions, and keeps a persisted catalogue
of saved servers organized into hierarchical groups.

Examples:
  # Connect to a server and save the profile under a group path
  harbor connect --host db1.internal --user app --group "Prod/Billing" --save

  # Show the saved catalogue as a tree
  harbor groups

  # List recently used connections
  harbor list --recent`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		logger.Init(level, logFile)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file path (default ~/.config/harbor/harbor.log)")
}
