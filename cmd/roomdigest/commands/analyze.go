package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/selwynd/roomdigest/pkg/roomdigest"
	"github.com/selwynd/roomdigest/pkg/roomdigest/analysis"
	"github.com/selwynd/roomdigest/pkg/roomdigest/delivery"
	"github.com/selwynd/roomdigest/pkg/roomdigest/platform"
	"github.com/selwynd/roomdigest/pkg/roomdigest/report"
)

// newAnalyzeCmd creates the `roomdigest analyze` command for one-off runs.
func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <room-id>",
		Short: "Analyze one room now and print or deliver the digest",
		Long: `Run the digest pipeline for a single room immediately, bypassing the
daily schedule.

By default the plain-text report is printed to stdout. With --send the
report is rendered in the configured format and delivered to the room.

Examples:
  roomdigest analyze '!abc123:example.org'
  roomdigest analyze '!abc123:example.org' --send
  roomdigest analyze '!abc123:example.org' --days 3`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyze,
	}

	cmd.Flags().Bool("send", false, "deliver the report to the room instead of printing it")
	cmd.Flags().Int("days", 0, "history window in days (default: config since_days)")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if days, _ := cmd.Flags().GetInt("days"); days > 0 {
		cfg.Analysis.SinceDays = days
	}
	// One-off runs should not kick off the daily loop.
	cfg.Scheduler.Enabled = false

	logger := buildLogger(cmd, cfg)
	roomID := args[0]

	plugin, err := roomdigest.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := plugin.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = plugin.Stop(stopCtx)
	}()

	res, err := plugin.RunAnalysis(ctx, roomID)
	if errors.Is(err, analysis.ErrNotEnoughMessages) {
		fmt.Println("Not enough messages in the window to build a digest.")
		return nil
	}
	if err != nil {
		return err
	}

	send, _ := cmd.Flags().GetBool("send")
	if !send {
		fmt.Println(report.RenderText(res))
		return nil
	}

	outcome, err := plugin.Deliver(ctx, roomID, plugin.TransportName(), res, cfg.Report.Format)
	if err != nil {
		return err
	}

	// Scheduled runs queue retries silently; a requested digest tells the
	// room it is still coming.
	if outcome == delivery.OutcomeQueued {
		if _, tr, rerr := plugin.Registry().ResolveForProtocol(plugin.TransportName(), "matrix"); rerr == nil {
			if ts, ok := tr.(platform.TextSender); ok {
				_ = ts.SendText(ctx, roomID, "Digest is on its way, delivery will be retried shortly.")
			}
		}
	}

	fmt.Printf("Delivery outcome: %s\n", outcome)
	return nil
}
