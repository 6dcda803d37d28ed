package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gametrace/uplog/pkg/config"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a configuration file",
		Long: `Validate an uplog configuration file without following anything.

Checks:
  - YAML syntax
  - Required fields
  - Endpoint URL validity
  - Event taxonomy rules
  - Log file existence (warning only)`,
		Args: cobra.ExactArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	configPath := args[0]
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Printf("Validating %s...\n", configPath)

	// Load and validate config
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	// Report what we found
	fmt.Printf("\nConfiguration valid!\n")
	fmt.Printf("  Log file:    %s\n", cfg.LogFile)
	fmt.Printf("  Endpoint:    %s\n", cfg.Endpoint.URL)
	fmt.Printf("  Taxonomy:    version %d, %d event kind(s)\n", cfg.Taxonomy.Version, len(cfg.Taxonomy.Events))

	// List event rules
	fmt.Printf("\nEvent kinds:\n")
	for i, rule := range cfg.Taxonomy.Events {
		matcher := "field " + rule.Field
		if rule.Field == "" {
			matcher = "marker " + rule.Marker
		}
		fmt.Printf("  %d. [%s] %s (%s)\n", i+1, rule.Role, rule.Kind, matcher)
	}

	// Check if the log file exists (warning only)
	if _, err := os.Stat(cfg.LogFile); err != nil {
		fmt.Printf("\nWarning: log file not readable: %v\n", err)
	}

	return nil
}
