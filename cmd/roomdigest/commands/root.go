// Package commands implements the roomdigest CLI commands using cobra.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/selwynd/roomdigest/pkg/roomdigest/config"
)

// NewRootCmd creates the CLI root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "roomdigest",
		Short: "Daily chat digests for Matrix rooms",
		Long: `roomdigest analyzes Matrix room activity with an LLM and posts a daily
digest report: hot topics, user titles, golden quotes and activity stats.

Examples:
  roomdigest serve
  roomdigest analyze '!room:example.org'
  roomdigest status
  roomdigest key set`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newAnalyzeCmd(),
		newStatusCmd(),
		newInstallPDFCmd(),
		newKeyCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// resolveConfig loads config from the --config flag or the usual locations.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath == "" {
		configPath = config.FindConfigFile()
	}
	if configPath == "" {
		return nil, "", fmt.Errorf("no configuration file found (try --config)")
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	return cfg, configPath, nil
}

// buildLogger creates the slog logger from config plus the --verbose flag.
func buildLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
