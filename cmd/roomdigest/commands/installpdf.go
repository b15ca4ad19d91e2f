package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/selwynd/roomdigest/pkg/roomdigest/report"
)

// newInstallPDFCmd creates the `roomdigest install-browser` command that
// installs the headless Chromium used for image and PDF rendering.
func newInstallPDFCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install-browser",
		Short: "Install the headless browser used for report rendering",
		Long: `Download a headless Chromium via Playwright for image and PDF report
rendering. Skipped automatically when a system Chromium is already present.`,
		RunE: runInstallBrowser,
	}
}

func runInstallBrowser(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := buildLogger(cmd, cfg)

	if binary := report.FindChromium(cfg.Report.ChromiumPath); binary != "" {
		fmt.Printf("Browser already available: %s\n", binary)
		return nil
	}

	installer := report.NewInstaller(report.DefaultInstallCommand, logger)
	if err := installer.Install(cmd.Context()); err != nil {
		return err
	}

	fmt.Println("Installing headless browser...")
	for {
		status := installer.Status()
		if status.Completed {
			fmt.Println("Install complete.")
			return nil
		}
		if status.Failed {
			return fmt.Errorf("install failed: %s", status.Err)
		}
		time.Sleep(2 * time.Second)
	}
}
