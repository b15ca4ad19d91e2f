package roomdigest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/selwynd/roomdigest/pkg/roomdigest/analysis"
	"github.com/selwynd/roomdigest/pkg/roomdigest/config"
	"github.com/selwynd/roomdigest/pkg/roomdigest/delivery"
)

// textOnlyTransport records text sends; it has no media capability.
type textOnlyTransport struct {
	texts []string
}

func (t *textOnlyTransport) Name() string     { return "fake" }
func (t *textOnlyTransport) Protocol() string { return "matrix" }
func (t *textOnlyTransport) Connected() bool  { return true }

func (t *textOnlyTransport) SendText(_ context.Context, _ string, body string) error {
	t.texts = append(t.texts, body)
	return nil
}

func testPlugin(t *testing.T) (*Plugin, *textOnlyTransport) {
	t.Helper()

	cfg := config.Default()
	cfg.StatePath = filepath.Join(t.TempDir(), "state.db")
	cfg.Scheduler.Enabled = false
	// Point past a nonexistent binary so no system browser is picked up.
	cfg.Report.ChromiumPath = filepath.Join(t.TempDir(), "missing-chromium")

	p, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.db.Close() })

	transport := &textOnlyTransport{}
	if err := p.registry.Register("fake", transport); err != nil {
		t.Fatal(err)
	}
	return p, transport
}

func TestDeliverPDFWithoutRendererFallsBackToText(t *testing.T) {
	p, transport := testPlugin(t)

	res := &analysis.Result{
		RoomID:      "!room:x",
		GeneratedAt: time.Now(),
		Stats:       analysis.Statistics{MessageCount: 30},
		Topics:      []analysis.Topic{{Topic: "release"}},
	}

	outcome, err := p.Deliver(context.Background(), "!room:x", "fake", res, "pdf")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if outcome != delivery.OutcomeTextFallback {
		t.Errorf("outcome = %v, want %v", outcome, delivery.OutcomeTextFallback)
	}
	if len(transport.texts) != 1 {
		t.Fatalf("text sends = %d, want 1", len(transport.texts))
	}
	if !strings.Contains(transport.texts[0], "release") {
		t.Errorf("fallback body = %q, want text report content", transport.texts[0])
	}
}

func TestDeliverImageWithoutRendererFallsBackToText(t *testing.T) {
	p, transport := testPlugin(t)

	res := &analysis.Result{
		RoomID:      "!room:x",
		GeneratedAt: time.Now(),
		Topics:      []analysis.Topic{{Topic: "release"}},
	}

	outcome, err := p.Deliver(context.Background(), "!room:x", "fake", res, "image")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if outcome != delivery.OutcomeTextFallback {
		t.Errorf("outcome = %v, want %v", outcome, delivery.OutcomeTextFallback)
	}
	if len(transport.texts) != 1 {
		t.Errorf("text sends = %d, want 1", len(transport.texts))
	}
}
