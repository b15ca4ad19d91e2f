package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/selwynd/roomdigest/pkg/roomdigest/report"
	"github.com/selwynd/roomdigest/pkg/roomdigest/state"
)

// newStatusCmd creates the `roomdigest status` command.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show scheduler state and recent dead-lettered deliveries",
		RunE:  runStatus,
	}
	cmd.Flags().Int("limit", 10, "dead letters to show")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	db, err := state.Open(cfg.StatePath)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Printf("Config:     %s\n", configPath)
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.HomeserverURL)
	fmt.Printf("Schedule:   daily at %s (enabled: %v)\n", cfg.Scheduler.TimeOfDay, cfg.Scheduler.Enabled)
	fmt.Printf("Format:     %s\n", cfg.Report.Format)
	fmt.Printf("Categories: %s\n", strings.Join(cfg.EnabledCategories(), ", "))

	if binary := report.FindChromium(cfg.Report.ChromiumPath); binary != "" {
		fmt.Printf("Renderer:   %s\n", binary)
	} else {
		fmt.Println("Renderer:   not installed (run `roomdigest install-browser`)")
	}

	limit, _ := cmd.Flags().GetInt("limit")
	letters, err := state.NewJournal(db).Recent(limit)
	if err != nil {
		return err
	}

	if len(letters) == 0 {
		fmt.Println("\nNo dead-lettered deliveries.")
		return nil
	}

	fmt.Printf("\nDead letters (%d):\n", len(letters))
	for _, dl := range letters {
		fmt.Printf("  %s  room=%s retries=%d reason=%s\n",
			dl.FailedAt.Format("2006-01-02 15:04"), dl.RoomID, dl.Retries, dl.Reason)
	}
	return nil
}
