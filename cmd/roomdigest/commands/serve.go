package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/selwynd/roomdigest/pkg/roomdigest"
)

// newServeCmd creates the `roomdigest serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon with the daily scheduler",
		Long: `Start roomdigest as a daemon: connect to the Matrix homeserver, run the
daily digest scheduler and the delivery retry worker.

Examples:
  roomdigest serve
  roomdigest serve --config ./roomdigest.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := buildLogger(cmd, cfg)
	logger.Info("config loaded", "path", configPath)

	plugin, err := roomdigest.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := plugin.Start(ctx); err != nil {
		return err
	}

	logger.Info("roomdigest running. Press Ctrl+C to stop.",
		"homeserver", cfg.Matrix.HomeserverURL,
		"time_of_day", cfg.Scheduler.TimeOfDay,
		"format", cfg.Report.Format,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := plugin.Stop(shutdownCtx); err != nil {
		logger.Warn("shutdown finished with errors", "error", err)
	} else {
		logger.Info("shutdown complete")
	}
	return nil
}
