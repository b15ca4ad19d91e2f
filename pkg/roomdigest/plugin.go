// Package roomdigest wires the digest pipeline together: Matrix transport,
// LLM extraction, report rendering, delivery with retries, and the daily
// scheduler.
package roomdigest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/selwynd/roomdigest/pkg/roomdigest/analysis"
	"github.com/selwynd/roomdigest/pkg/roomdigest/config"
	"github.com/selwynd/roomdigest/pkg/roomdigest/delivery"
	"github.com/selwynd/roomdigest/pkg/roomdigest/platform"
	"github.com/selwynd/roomdigest/pkg/roomdigest/platform/matrix"
	"github.com/selwynd/roomdigest/pkg/roomdigest/provider"
	"github.com/selwynd/roomdigest/pkg/roomdigest/report"
	"github.com/selwynd/roomdigest/pkg/roomdigest/scheduler"
	"github.com/selwynd/roomdigest/pkg/roomdigest/state"
)

// Plugin is the assembled digest service.
type Plugin struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *sql.DB
	registry  *platform.Registry
	matrix    *matrix.Client
	pipeline  *analysis.Pipeline
	generator *report.Generator
	engine    *delivery.Engine
	sched     *scheduler.Scheduler
	installer *report.Installer
}

// New assembles a plugin from config. It opens the state database but does
// not touch the network; call Start for that.
func New(cfg *config.Config, logger *slog.Logger) (*Plugin, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ResolveAPIKey(logger)

	db, err := state.Open(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("opening state: %w", err)
	}

	registry := platform.NewRegistry(logger)
	mx := matrix.New(cfg.Matrix, logger)
	if err := registry.Register(mx.Name(), mx); err != nil {
		db.Close()
		return nil, fmt.Errorf("registering matrix transport: %w", err)
	}

	gateway := provider.New(cfg.Provider, logger)
	pipeline := analysis.NewPipeline(gateway, cfg.PipelineOptions(), logger)

	var renderer *report.ChromiumRenderer
	if binary := report.FindChromium(cfg.Report.ChromiumPath); binary != "" {
		renderer = report.NewChromiumRenderer(binary, cfg.Report.TmpDir, logger)
	} else {
		logger.Warn("no chromium binary found, image and PDF reports unavailable")
	}

	var htmlRenderer report.HTMLRenderer
	var pdfRenderer report.PDFRenderer
	if renderer != nil {
		htmlRenderer = renderer
		pdfRenderer = renderer
	}
	generator := report.NewGenerator(htmlRenderer, pdfRenderer, cfg.Report.TmpDir, logger)

	engine := delivery.NewEngine(cfg.Delivery, htmlRenderer, registry, state.NewJournal(db), logger)

	p := &Plugin{
		cfg:       cfg,
		logger:    logger.With("component", "plugin"),
		db:        db,
		registry:  registry,
		matrix:    mx,
		pipeline:  pipeline,
		generator: generator,
		engine:    engine,
		installer: report.NewInstaller(report.DefaultInstallCommand, logger),
	}

	p.sched = scheduler.New(cfg.Scheduler, p.handleRoom, p.listRooms, state.NewRunStore(db), logger)
	return p, nil
}

// TransportName returns the registry handle of the Matrix transport.
func (p *Plugin) TransportName() string { return p.matrix.Name() }

// Registry exposes the transport registry, mainly for tests and commands.
func (p *Plugin) Registry() *platform.Registry { return p.registry }

// Scheduler exposes the daily scheduler.
func (p *Plugin) Scheduler() *scheduler.Scheduler { return p.sched }

// Engine exposes the delivery retry engine.
func (p *Plugin) Engine() *delivery.Engine { return p.engine }

// Installer exposes the headless-browser installer.
func (p *Plugin) Installer() *report.Installer { return p.installer }

// Start connects the Matrix transport and launches the scheduler when
// enabled.
func (p *Plugin) Start(ctx context.Context) error {
	if err := p.matrix.Connect(ctx); err != nil {
		return err
	}
	if p.cfg.Scheduler.Enabled {
		if err := p.sched.Start(); err != nil {
			return err
		}
	}
	p.logger.Info("plugin started", "scheduler", p.cfg.Scheduler.Enabled)
	return nil
}

// Stop shuts everything down in reverse order, draining the retry queue
// until ctx expires.
func (p *Plugin) Stop(ctx context.Context) error {
	p.sched.Stop()

	pending, err := p.engine.Stop(ctx)
	if pending > 0 {
		p.logger.Warn("stopped with undelivered retry tasks", "pending", pending)
	}
	if err != nil {
		p.logger.Warn("delivery engine shutdown timed out", "error", err)
	}

	p.matrix.Disconnect()
	if cerr := p.db.Close(); cerr != nil {
		return fmt.Errorf("closing state: %w", cerr)
	}
	p.logger.Info("plugin stopped")
	return nil
}

// listRooms returns the joined rooms that pass the allow list.
func (p *Plugin) listRooms(ctx context.Context) ([]string, error) {
	rooms, err := p.matrix.JoinedRooms(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range rooms {
		if p.cfg.IsRoomAllowed(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// handleRoom is the scheduler's per-room job: fetch history, analyze,
// deliver.
func (p *Plugin) handleRoom(ctx context.Context, roomID string) error {
	res, err := p.RunAnalysis(ctx, roomID)
	if err != nil {
		return err
	}
	outcome, err := p.Deliver(ctx, roomID, p.matrix.Name(), res, p.cfg.Report.Format)
	if err != nil {
		return err
	}
	p.logger.Info("room digest handled", "room", roomID, "outcome", outcome)
	return nil
}

// RunAnalysis fetches a room's recent history and runs the extraction
// pipeline.
func (p *Plugin) RunAnalysis(ctx context.Context, roomID string) (*analysis.Result, error) {
	if !p.cfg.IsRoomAllowed(roomID) {
		return nil, fmt.Errorf("room %q is not on the allow list", roomID)
	}

	messages, err := p.matrix.FetchMessages(ctx, roomID, p.cfg.Analysis.SinceDays)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	return p.pipeline.Analyze(ctx, messages, roomID)
}

// Deliver renders a result in the requested format and sends it, queueing
// an image delivery for retry when the first attempt fails.
func (p *Plugin) Deliver(ctx context.Context, roomID, platformID string, res *analysis.Result, format string) (delivery.Outcome, error) {
	switch format {
	case "image":
		return p.deliverImage(ctx, roomID, platformID, res)
	case "pdf":
		return p.deliverPDF(ctx, roomID, platformID, res)
	case "text":
		if err := p.engine.SendText(ctx, roomID, platformID, res); err != nil {
			return 0, fmt.Errorf("sending text report: %w", err)
		}
		return delivery.OutcomeSent, nil
	default:
		return 0, fmt.Errorf("unknown report format %q", format)
	}
}

// deliverImage renders the image report and sends it, entering the retry
// path on render or send failure. The markup built during rendering is what
// retries re-render from.
func (p *Plugin) deliverImage(ctx context.Context, roomID, platformID string, res *analysis.Result) (delivery.Outcome, error) {
	art, html, err := p.generator.RenderImage(ctx, res)
	if err != nil {
		// No markup to retry from; a single text send is all that is left.
		p.logger.Error("image report unavailable, degrading to text", "room", roomID, "error", err)
		if terr := p.engine.SendText(ctx, roomID, platformID, res); terr != nil {
			return 0, fmt.Errorf("text fallback failed: %w", terr)
		}
		return delivery.OutcomeTextFallback, nil
	}

	if art != nil {
		sendErr := p.engine.SendArtifact(ctx, roomID, platformID, art)
		if sendErr == nil {
			return delivery.OutcomeSent, nil
		}
		p.logger.Warn("first delivery attempt failed", "room", roomID, "error", sendErr)
	}

	if err := p.engine.Add(p.engine.NewTask(roomID, platformID, html, res)); err != nil {
		// Queue full or engine stopped: degrade to text rather than dropping.
		if terr := p.engine.SendText(ctx, roomID, platformID, res); terr != nil {
			return 0, fmt.Errorf("queue full and text fallback failed: %w", terr)
		}
		return delivery.OutcomeTextFallback, nil
	}
	return delivery.OutcomeQueued, nil
}

// deliverPDF renders the PDF report, falling back to text when rendering
// fails. PDF delivery has no retry queue.
func (p *Plugin) deliverPDF(ctx context.Context, roomID, platformID string, res *analysis.Result) (delivery.Outcome, error) {
	path, err := p.generator.RenderPDF(ctx, res)
	if err != nil || path == "" {
		// Covers the no-renderer-installed case: the room still gets its
		// digest as text.
		if err != nil {
			p.logger.Error("PDF report unavailable, degrading to text", "room", roomID, "error", err)
		}
		if terr := p.engine.SendText(ctx, roomID, platformID, res); terr != nil {
			return 0, fmt.Errorf("PDF fallback failed: %w", terr)
		}
		return delivery.OutcomeTextFallback, nil
	}

	if err := p.engine.SendFile(ctx, roomID, platformID, path, "application/pdf"); err != nil {
		if terr := p.engine.SendText(ctx, roomID, platformID, res); terr != nil {
			return 0, fmt.Errorf("PDF send and text fallback failed: %w", terr)
		}
		return delivery.OutcomeTextFallback, nil
	}
	return delivery.OutcomeSent, nil
}
