// Package cli provides the command-line interface for uplog.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gametrace/uplog/internal/cli/commands"
)

// Execute runs the root command and returns the exit code.
func Execute() int {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		// Print error to stderr (SilenceErrors prevents Cobra from doing this)
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2 // Configuration or runtime error
	}
	return 0
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "uplog",
		Short: "Follow a game client log and upload its events",
		Long: `uplog follows a game client's log file as it is written, extracts the
JSON event fragments embedded in it, and uploads them to a collection
endpoint.

It survives client restarts, log truncation, and log rotation without
re-uploading events: progress is checkpointed on disk and every event
carries an idempotency key derived from its session and position.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add subcommands
	rootCmd.AddCommand(commands.NewFollowCommand())
	rootCmd.AddCommand(commands.NewValidateCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	return rootCmd
}
