package config

import (
	"strings"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("matrix:\n  homeserver_url: https://matrix.example.org\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !cfg.Analysis.Topics.Enabled {
		t.Error("topics should default to enabled")
	}
	if cfg.Analysis.Temperature != 0.6 {
		t.Errorf("Temperature = %v, want 0.6", cfg.Analysis.Temperature)
	}
	if cfg.Scheduler.TimeOfDay != "09:00" {
		t.Errorf("TimeOfDay = %q, want 09:00", cfg.Scheduler.TimeOfDay)
	}
	if cfg.Report.Format != "image" {
		t.Errorf("Format = %q, want image", cfg.Report.Format)
	}
	if cfg.Matrix.HomeserverURL != "https://matrix.example.org" {
		t.Errorf("HomeserverURL = %q", cfg.Matrix.HomeserverURL)
	}
}

func TestParseOverrides(t *testing.T) {
	yaml := `
analysis:
  topics:
    enabled: false
  min_messages: 50
scheduler:
  time_of_day: "21:30"
report:
  format: pdf
delivery:
  max_retries: 5
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Analysis.Topics.Enabled {
		t.Error("topics should be disabled")
	}
	if cfg.Analysis.MinMessages != 50 {
		t.Errorf("MinMessages = %d", cfg.Analysis.MinMessages)
	}
	if cfg.Scheduler.TimeOfDay != "21:30" {
		t.Errorf("TimeOfDay = %q", cfg.Scheduler.TimeOfDay)
	}
	if cfg.Delivery.MaxRetries != 5 {
		t.Errorf("Delivery.MaxRetries = %d", cfg.Delivery.MaxRetries)
	}
}

func TestParseEnvExpansion(t *testing.T) {
	t.Setenv("TEST_HOMESERVER", "https://hs.example.org")

	yaml := `
matrix:
  homeserver_url: ${TEST_HOMESERVER}
  access_token: ${TEST_MISSING_TOKEN:-fallback-token}
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Matrix.HomeserverURL != "https://hs.example.org" {
		t.Errorf("HomeserverURL = %q, want expanded env value", cfg.Matrix.HomeserverURL)
	}
	if cfg.Matrix.AccessToken != "fallback-token" {
		t.Errorf("AccessToken = %q, want default value", cfg.Matrix.AccessToken)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad format", "report:\n  format: docx\n", "invalid report format"},
		{"bad time", "scheduler:\n  time_of_day: \"25:00\"\n", "time_of_day"},
		{"bad level", "logging:\n  level: loud\n", "log level"},
		{"bad filter mode", "room_filter_mode: denylist\n", "room_filter_mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestIsRoomAllowed(t *testing.T) {
	cfg := Default()
	if !cfg.IsRoomAllowed("!any:x") {
		t.Error("empty allow list should allow all rooms")
	}

	cfg.AllowedRooms = []string{"!a:x", "!b:x"}
	if !cfg.IsRoomAllowed("!a:x") {
		t.Error("!a:x should be allowed")
	}
	if cfg.IsRoomAllowed("!c:x") {
		t.Error("!c:x should be rejected")
	}

	cfg.RoomFilterMode = "blocklist"
	cfg.BlockedRooms = []string{"!c:x"}
	if cfg.IsRoomAllowed("!c:x") {
		t.Error("!c:x should be blocked")
	}
	if !cfg.IsRoomAllowed("!d:x") {
		t.Error("blocklist mode should allow unlisted rooms")
	}
}

func TestEnabledCategories(t *testing.T) {
	cfg := Default()
	got := cfg.EnabledCategories()
	if len(got) != 3 {
		t.Fatalf("EnabledCategories = %v, want all three", got)
	}

	cfg.Analysis.UserTitles.Enabled = false
	got = cfg.EnabledCategories()
	if len(got) != 2 || got[0] != "topics" || got[1] != "golden_quotes" {
		t.Errorf("EnabledCategories = %v", got)
	}
}

func TestPipelineOptions(t *testing.T) {
	cfg := Default()
	cfg.Analysis.Topics.MaxItems = 3
	cfg.Analysis.UserTitles.Enabled = false
	cfg.Analysis.BotIDs = []string{"@bot:x"}

	opts := cfg.PipelineOptions()
	if opts.Topics.MaxItems != 3 {
		t.Errorf("Topics.MaxItems = %d", opts.Topics.MaxItems)
	}
	if opts.UserTitles.Enabled {
		t.Error("UserTitles should be disabled")
	}
	if len(opts.BotIDs) != 1 || opts.BotIDs[0] != "@bot:x" {
		t.Errorf("BotIDs = %v", opts.BotIDs)
	}
}
