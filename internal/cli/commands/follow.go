package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gametrace/uplog/internal/logging"
	"github.com/gametrace/uplog/pkg/config"
	"github.com/gametrace/uplog/pkg/pipeline"
)

// NewFollowCommand creates the follow command.
func NewFollowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "follow [config-file]",
		Short: "Follow the game log and upload events",
		Long: `Follow the configured game log file and upload the events it produces.

Runs until interrupted. On SIGINT or SIGTERM the queue is drained for a
short grace period before exit, and progress is checkpointed so the next
run resumes where this one stopped.

Without a config file the log path and endpoint come from the
UPLOG_LOG_FILE, UPLOG_ENDPOINT_URL, and UPLOG_API_TOKEN environment
variables.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runFollow,
	}

	cmd.Flags().Bool("from-start", false, "Upload the whole existing log instead of only new entries")
	cmd.Flags().Bool("verbose", false, "Enable debug logging")

	return cmd
}

func runFollow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadFollowConfig(ctx, args)
	if err != nil {
		return err
	}

	if fromStart, _ := cmd.Flags().GetBool("from-start"); fromStart {
		cfg.Follow.FromStart = true
	}

	level := logging.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = logging.LevelDebug
	}
	log := logging.New("uplog", logging.WithLevel(level))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Infof("shutting down, draining delivery queue")
		cancel()
	}()

	log.Infof("following %s", cfg.LogFile)
	log.Infof("uploading to %s", cfg.Endpoint.URL)

	p := pipeline.New(cfg, pipeline.WithLogger(log))
	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("follow failed: %w", err)
	}

	return nil
}

func loadFollowConfig(ctx context.Context, args []string) (*config.Config, error) {
	if len(args) == 1 {
		return config.Load(ctx, args[0])
	}
	return config.FromEnvironment(ctx)
}
