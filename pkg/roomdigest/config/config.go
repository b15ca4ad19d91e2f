// Package config loads roomdigest configuration from a YAML file, with
// .env loading, environment-variable expansion inside values, and a secret
// resolution chain (OS keyring, environment, config value) for the LLM
// API key.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	"github.com/selwynd/roomdigest/pkg/roomdigest/analysis"
	"github.com/selwynd/roomdigest/pkg/roomdigest/delivery"
	"github.com/selwynd/roomdigest/pkg/roomdigest/platform/matrix"
	"github.com/selwynd/roomdigest/pkg/roomdigest/provider"
	"github.com/selwynd/roomdigest/pkg/roomdigest/scheduler"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "roomdigest"

	// keyringAPIKey is the keyring entry for the LLM API key.
	keyringAPIKey = "api_key"

	// envAPIKey is the environment variable checked for the LLM API key.
	envAPIKey = "ROOMDIGEST_API_KEY"
)

// CategoryConfig tunes one extraction category.
type CategoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MaxItems    int    `yaml:"max_items"`
	MaxTokens   int    `yaml:"max_tokens"`
	ProviderKey string `yaml:"provider"`
}

// AnalysisConfig tunes the extraction pipeline.
type AnalysisConfig struct {
	Topics       CategoryConfig `yaml:"topics"`
	UserTitles   CategoryConfig `yaml:"user_titles"`
	GoldenQuotes CategoryConfig `yaml:"golden_quotes"`

	Temperature  float64  `yaml:"temperature"`
	MinMessages  int      `yaml:"min_messages"`
	TopUserLimit int      `yaml:"top_user_limit"`
	BotIDs       []string `yaml:"bot_ids"`

	// SinceDays is the history window fetched per room.
	SinceDays int `yaml:"since_days"`
}

// ReportConfig tunes rendering.
type ReportConfig struct {
	// Format is "image", "pdf" or "text".
	Format string `yaml:"format"`

	// ChromiumPath overrides browser auto-detection.
	ChromiumPath string `yaml:"chromium_path"`

	// TmpDir holds rendered PDF files.
	TmpDir string `yaml:"tmp_dir"`
}

// LoggingConfig tunes slog output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Config is the root configuration.
type Config struct {
	Analysis  AnalysisConfig   `yaml:"analysis"`
	Report    ReportConfig     `yaml:"report"`
	Provider  provider.Config  `yaml:"provider"`
	Delivery  delivery.Config  `yaml:"delivery"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	Matrix    matrix.Config    `yaml:"matrix"`
	Logging   LoggingConfig    `yaml:"logging"`

	// StatePath is the SQLite state database location.
	StatePath string `yaml:"state_path"`

	// RoomFilterMode selects the room filter: "allowlist" digests only
	// AllowedRooms, "blocklist" digests everything except BlockedRooms.
	RoomFilterMode string `yaml:"room_filter_mode"`

	// AllowedRooms restricts digests to these room IDs; empty allows all.
	AllowedRooms []string `yaml:"allowed_rooms"`

	// BlockedRooms are room IDs never digested in blocklist mode.
	BlockedRooms []string `yaml:"blocked_rooms"`
}

// Default returns a config with every default applied.
func Default() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			Topics:       CategoryConfig{Enabled: true},
			UserTitles:   CategoryConfig{Enabled: true},
			GoldenQuotes: CategoryConfig{Enabled: true},
			Temperature:  0.6,
			MinMessages:  10,
			TopUserLimit: 10,
			SinceDays:    1,
		},
		Report: ReportConfig{
			Format: "image",
		},
		Scheduler: scheduler.Config{
			Enabled:   true,
			TimeOfDay: "09:00",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		StatePath:      "./data/roomdigest.db",
		RoomFilterMode: "allowlist",
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} inside config values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnvVars substitutes ${VAR} references with environment values.
func expandEnvVars(data string) string {
	return envVarPattern.ReplaceAllStringFunc(data, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(groups[1]); ok {
			return val
		}
		return groups[2]
	})
}

// FindConfigFile looks for a config file in the usual locations and returns
// the first that exists, or "".
func FindConfigFile() string {
	candidates := []string{
		"./roomdigest.yaml",
		"./roomdigest.yml",
		"./config.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, home+"/.config/roomdigest/config.yaml")
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// LoadFromFile reads a YAML config, loading .env first and expanding
// environment variables inside values.
func LoadFromFile(path string) (*Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML bytes over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the YAML schema cannot express.
func (c *Config) Validate() error {
	switch c.Report.Format {
	case "image", "pdf", "text":
	default:
		return fmt.Errorf("config: invalid report format %q (want image, pdf or text)", c.Report.Format)
	}
	if c.Scheduler.TimeOfDay != "" {
		var h, m int
		if _, err := fmt.Sscanf(c.Scheduler.TimeOfDay, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
			return fmt.Errorf("config: invalid scheduler time_of_day %q (want HH:MM)", c.Scheduler.TimeOfDay)
		}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log level %q", c.Logging.Level)
	}
	switch c.RoomFilterMode {
	case "", "allowlist", "blocklist":
	default:
		return fmt.Errorf("config: invalid room_filter_mode %q (want allowlist or blocklist)", c.RoomFilterMode)
	}
	return nil
}

// IsRoomAllowed reports whether a room may receive digests.
func (c *Config) IsRoomAllowed(roomID string) bool {
	if c.RoomFilterMode == "blocklist" {
		for _, id := range c.BlockedRooms {
			if id == roomID {
				return false
			}
		}
		return true
	}
	if len(c.AllowedRooms) == 0 {
		return true
	}
	for _, id := range c.AllowedRooms {
		if id == roomID {
			return true
		}
	}
	return false
}

// EnabledCategories returns the names of the enabled extraction categories.
func (c *Config) EnabledCategories() []string {
	var out []string
	if c.Analysis.Topics.Enabled {
		out = append(out, "topics")
	}
	if c.Analysis.UserTitles.Enabled {
		out = append(out, "user_titles")
	}
	if c.Analysis.GoldenQuotes.Enabled {
		out = append(out, "golden_quotes")
	}
	return out
}

// PipelineOptions converts the analysis section into pipeline options.
func (c *Config) PipelineOptions() analysis.Options {
	toCategory := func(cc CategoryConfig) analysis.CategoryOptions {
		return analysis.CategoryOptions{
			Enabled:     cc.Enabled,
			MaxItems:    cc.MaxItems,
			MaxTokens:   cc.MaxTokens,
			ProviderKey: cc.ProviderKey,
		}
	}
	return analysis.Options{
		Topics:       toCategory(c.Analysis.Topics),
		UserTitles:   toCategory(c.Analysis.UserTitles),
		GoldenQuotes: toCategory(c.Analysis.GoldenQuotes),
		Temperature:  c.Analysis.Temperature,
		MinMessages:  c.Analysis.MinMessages,
		BotIDs:       c.Analysis.BotIDs,
		TopUserLimit: c.Analysis.TopUserLimit,
	}
}

// StoreAPIKey saves the LLM API key in the OS keyring.
func StoreAPIKey(value string) error {
	return keyring.Set(keyringService, keyringAPIKey, value)
}

// DeleteAPIKey removes the LLM API key from the OS keyring.
func DeleteAPIKey() error {
	return keyring.Delete(keyringService, keyringAPIKey)
}

// ResolveAPIKey fills the provider API key using the priority chain:
// OS keyring, then environment variable, then the config value itself.
// The resolved key is written back into the default endpoint.
func (c *Config) ResolveAPIKey(logger *slog.Logger) {
	if val, err := keyring.Get(keyringService, keyringAPIKey); err == nil && val != "" {
		c.Provider.Default.APIKey = val
		logger.Debug("API key resolved from OS keyring")
		return
	}
	if val := strings.TrimSpace(os.Getenv(envAPIKey)); val != "" {
		c.Provider.Default.APIKey = val
		logger.Debug("API key resolved from environment")
		return
	}
	if c.Provider.Default.APIKey != "" {
		logger.Warn("API key read from config file; prefer the keyring or " + envAPIKey)
	}
}
