// Package delivery sends rendered reports to chat rooms and retries the
// ones that fail. Failed sends enter a bounded queue drained by a single
// worker; each retry re-renders the report at a cheaper quality, waits an
// exponentially growing jittered delay, and re-enqueues. Tasks that exhaust
// their retries land in a dead-letter list and trigger a one-shot plain-text
// fallback so the room still gets its digest.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/selwynd/roomdigest/pkg/roomdigest/analysis"
	"github.com/selwynd/roomdigest/pkg/roomdigest/platform"
	"github.com/selwynd/roomdigest/pkg/roomdigest/report"
	"github.com/selwynd/roomdigest/pkg/roomdigest/state"
)

// Outcome describes what happened to a delivery attempt.
type Outcome int

const (
	// OutcomeSent means the report reached the room on the first attempt.
	OutcomeSent Outcome = iota

	// OutcomeQueued means the attempt failed and the task now sits in the
	// retry queue.
	OutcomeQueued

	// OutcomeTextFallback means the report was delivered as plain text.
	OutcomeTextFallback
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeQueued:
		return "queued"
	case OutcomeTextFallback:
		return "text_fallback"
	default:
		return "unknown"
	}
}

// Task is one report delivery awaiting retry. HTML is kept instead of the
// rendered image: retries re-render from markup at a cheaper quality.
type Task struct {
	ID         string
	RoomID     string
	PlatformID string
	HTML       string
	Result     *analysis.Result
	RetryCount int
	MaxRetries int
	CreatedAt  time.Time
}

// Config tunes the retry engine.
type Config struct {
	// MaxRetries is how many times a task is retried before dead-lettering.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBaseSeconds is the base of the exponential retry delay.
	BackoffBaseSeconds int `yaml:"backoff_base_seconds"`

	// JitterMinSeconds and JitterMaxSeconds bound the uniform jitter added
	// to every retry delay.
	JitterMinSeconds int `yaml:"jitter_min_seconds"`
	JitterMaxSeconds int `yaml:"jitter_max_seconds"`

	// QueueSize bounds the retry queue.
	QueueSize int `yaml:"queue_size"`

	// DeadLetterLimit bounds the in-memory dead-letter list.
	DeadLetterLimit int `yaml:"dead_letter_limit"`

	// SendTimeoutSeconds bounds one retry attempt end to end.
	SendTimeoutSeconds int `yaml:"send_timeout_seconds"`
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBaseSeconds <= 0 {
		c.BackoffBaseSeconds = 5
	}
	if c.JitterMinSeconds <= 0 {
		c.JitterMinSeconds = 1
	}
	if c.JitterMaxSeconds <= c.JitterMinSeconds {
		c.JitterMaxSeconds = c.JitterMinSeconds + 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.DeadLetterLimit <= 0 {
		c.DeadLetterLimit = 50
	}
	if c.SendTimeoutSeconds <= 0 {
		c.SendTimeoutSeconds = 120
	}
}

var (
	// ErrQueueFull is returned when the retry queue cannot accept another task.
	ErrQueueFull = errors.New("delivery: retry queue full")

	// ErrStopped is returned when a task is added after Stop; nothing would
	// drain it.
	ErrStopped = errors.New("delivery: engine stopped")
)

// Engine is the delivery retry engine. One worker drains the queue; delay
// timers run as independent goroutines so a long backoff never blocks the
// worker from processing other tasks.
type Engine struct {
	cfg      Config
	renderer report.HTMLRenderer
	registry *platform.Registry
	journal  *state.Journal
	logger   *slog.Logger

	queue  chan *Task
	stopCh chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	workerWg  sync.WaitGroup
	timerWg   sync.WaitGroup

	mu          sync.Mutex
	deadLetters []state.DeadLetter

	rng *rand.Rand
}

// NewEngine creates a delivery engine. journal may be nil to disable
// dead-letter persistence.
func NewEngine(cfg Config, renderer report.HTMLRenderer, registry *platform.Registry, journal *state.Journal, logger *slog.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		renderer: renderer,
		registry: registry,
		journal:  journal,
		logger:   logger.With("component", "delivery"),
		queue:    make(chan *Task, cfg.QueueSize),
		stopCh:   make(chan struct{}),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewTask builds a retry task for a failed delivery.
func (e *Engine) NewTask(roomID, platformID, html string, res *analysis.Result) *Task {
	return &Task{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		PlatformID: platformID,
		HTML:       html,
		Result:     res,
		MaxRetries: e.cfg.MaxRetries,
		CreatedAt:  time.Now(),
	}
}

// Add enqueues a task for retry, starting the worker on first use.
// Returns ErrQueueFull when the queue cannot take another task and
// ErrStopped after Stop.
func (e *Engine) Add(task *Task) error {
	select {
	case <-e.stopCh:
		return ErrStopped
	default:
	}

	e.startOnce.Do(func() {
		e.workerWg.Add(1)
		go e.worker()
	})

	select {
	case e.queue <- task:
		e.logger.Info("task queued for retry",
			"task", task.ID,
			"room", task.RoomID,
			"retry", task.RetryCount,
		)
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueLen returns the number of tasks currently waiting in the queue.
func (e *Engine) QueueLen() int { return len(e.queue) }

// DeadLetters returns a snapshot of the in-memory dead-letter list,
// newest last.
func (e *Engine) DeadLetters() []state.DeadLetter {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]state.DeadLetter, len(e.deadLetters))
	copy(out, e.deadLetters)
	return out
}

// Stop shuts down the worker and all pending delay timers. Returns the
// number of tasks left in the queue, or ctx.Err() if shutdown timed out.
func (e *Engine) Stop(ctx context.Context) (int, error) {
	e.stopOnce.Do(func() { close(e.stopCh) })

	done := make(chan struct{})
	go func() {
		e.workerWg.Wait()
		e.timerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return len(e.queue), nil
	case <-ctx.Done():
		return len(e.queue), ctx.Err()
	}
}

// worker drains the retry queue until Stop.
func (e *Engine) worker() {
	defer e.workerWg.Done()
	e.logger.Info("retry worker started")

	for {
		select {
		case <-e.stopCh:
			e.logger.Info("retry worker stopped", "pending", len(e.queue))
			return
		case task := <-e.queue:
			e.processTask(task)
		}
	}
}

// processTask runs one retry attempt. A panicking attempt dead-letters the
// task instead of killing the worker.
func (e *Engine) processTask(task *Task) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("retry attempt panicked", "task", task.ID, "panic", r)
			e.deadLetter(task, fmt.Errorf("panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(e.cfg.SendTimeoutSeconds)*time.Second)
	defer cancel()

	e.logger.Info("retrying delivery",
		"task", task.ID,
		"room", task.RoomID,
		"attempt", task.RetryCount+1,
		"max", task.MaxRetries,
	)

	art, err := e.reRender(ctx, task)
	if err != nil {
		e.handleFailure(task, fmt.Errorf("re-render: %w", err))
		return
	}

	if err := e.SendArtifact(ctx, task.RoomID, task.PlatformID, art); err != nil {
		e.handleFailure(task, err)
		return
	}

	e.logger.Info("retry delivered", "task", task.ID, "room", task.RoomID, "attempt", task.RetryCount+1)
}

// reRender produces a fresh artifact from the task's markup at retry quality.
func (e *Engine) reRender(ctx context.Context, task *Task) (*report.ImageArtifact, error) {
	if e.renderer == nil {
		return nil, errors.New("no renderer configured")
	}
	url, data, err := e.renderer.Render(ctx, task.HTML, report.RetryRenderOptions, false)
	if err != nil {
		return nil, err
	}
	if url == "" && len(data) == 0 {
		return nil, errors.New("renderer returned nothing")
	}
	return &report.ImageArtifact{URL: url, Data: data, MimeType: report.ImageMime(data, report.RetryRenderOptions)}, nil
}

// SendArtifact delivers a rendered image to a room, uploading inline bytes
// when present and falling back to posting the URL otherwise. Also used by
// the plugin for first-attempt sends so all transport logic lives here.
func (e *Engine) SendArtifact(ctx context.Context, roomID, platformID string, art *report.ImageArtifact) error {
	id, transport, err := e.registry.ResolveForProtocol(platformID, "matrix")
	if err != nil {
		return fmt.Errorf("resolve transport %q: %w", platformID, err)
	}

	if len(art.Data) > 0 {
		media, ok := transport.(platform.MediaSender)
		if !ok {
			return fmt.Errorf("transport %q cannot send media", id)
		}
		filename := fmt.Sprintf("digest-%s%s", time.Now().Format("20060102"), extForMime(art.MimeType))
		ref, err := media.UploadBinary(ctx, art.Data, art.MimeType, filename)
		if err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		if err := media.SendMedia(ctx, roomID, ref, filename, art.MimeType); err != nil {
			return fmt.Errorf("send media: %w", err)
		}
		return nil
	}

	if art.URL != "" {
		text, ok := transport.(platform.TextSender)
		if !ok {
			return fmt.Errorf("transport %q cannot send text", id)
		}
		if err := text.SendText(ctx, roomID, art.URL); err != nil {
			return fmt.Errorf("send url: %w", err)
		}
		return nil
	}

	return errors.New("empty artifact")
}

// SendFile uploads a rendered file from disk and sends it to a room.
func (e *Engine) SendFile(ctx context.Context, roomID, platformID, path, mimeType string) error {
	id, transport, err := e.registry.ResolveForProtocol(platformID, "matrix")
	if err != nil {
		return fmt.Errorf("resolve transport %q: %w", platformID, err)
	}
	media, ok := transport.(platform.MediaSender)
	if !ok {
		return fmt.Errorf("transport %q cannot send media", id)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	filename := filepath.Base(path)
	ref, err := media.UploadBinary(ctx, data, mimeType, filename)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if err := media.SendMedia(ctx, roomID, ref, filename, mimeType); err != nil {
		return fmt.Errorf("send file: %w", err)
	}
	return nil
}

// SendText delivers the plain-text rendering of a result.
func (e *Engine) SendText(ctx context.Context, roomID, platformID string, res *analysis.Result) error {
	id, transport, err := e.registry.ResolveForProtocol(platformID, "matrix")
	if err != nil {
		return fmt.Errorf("resolve transport %q: %w", platformID, err)
	}
	text, ok := transport.(platform.TextSender)
	if !ok {
		return fmt.Errorf("transport %q cannot send text", id)
	}
	return text.SendText(ctx, roomID, report.RenderText(res))
}

// handleFailure schedules another retry or dead-letters an exhausted task.
// The count increments first: at RetryCount == MaxRetries the task is
// terminal and never requeued.
func (e *Engine) handleFailure(task *Task, cause error) {
	task.RetryCount++
	if task.RetryCount >= task.MaxRetries {
		e.deadLetter(task, cause)
		return
	}

	delay := e.backoffDelay(task.RetryCount)
	e.logger.Warn("delivery failed, scheduling retry",
		"task", task.ID,
		"room", task.RoomID,
		"retry", task.RetryCount,
		"delay", delay,
		"error", cause,
	)

	// Each delayed requeue gets its own timer goroutine so backoffs for
	// different tasks overlap instead of serializing behind the worker.
	e.timerWg.Add(1)
	go func() {
		defer e.timerWg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-e.stopCh:
		case <-timer.C:
			if err := e.Add(task); err != nil {
				e.logger.Error("requeue failed", "task", task.ID, "error", err)
				e.deadLetter(task, err)
			}
		}
	}()
}

// backoffDelay computes the wait before retry n: base * 2^(n-1) seconds
// plus uniform jitter.
func (e *Engine) backoffDelay(retryCount int) time.Duration {
	base := time.Duration(e.cfg.BackoffBaseSeconds) * time.Second
	backoff := base << uint(retryCount-1)

	e.mu.Lock()
	jitterRange := float64(e.cfg.JitterMaxSeconds - e.cfg.JitterMinSeconds)
	jitter := time.Duration((float64(e.cfg.JitterMinSeconds) + e.rng.Float64()*jitterRange) * float64(time.Second))
	e.mu.Unlock()

	return backoff + jitter
}

// deadLetter records an exhausted task and makes one final plain-text
// delivery attempt so the room still receives its digest.
func (e *Engine) deadLetter(task *Task, cause error) {
	dl := state.DeadLetter{
		ID:         task.ID,
		RoomID:     task.RoomID,
		PlatformID: task.PlatformID,
		Reason:     cause.Error(),
		Retries:    task.RetryCount,
		CreatedAt:  task.CreatedAt,
		FailedAt:   time.Now(),
	}

	e.mu.Lock()
	e.deadLetters = append(e.deadLetters, dl)
	if len(e.deadLetters) > e.cfg.DeadLetterLimit {
		e.deadLetters = e.deadLetters[len(e.deadLetters)-e.cfg.DeadLetterLimit:]
	}
	e.mu.Unlock()

	if e.journal != nil {
		if err := e.journal.Record(dl); err != nil {
			e.logger.Error("journal write failed", "task", task.ID, "error", err)
		}
	}

	e.logger.Error("task dead-lettered",
		"task", task.ID,
		"room", task.RoomID,
		"retries", task.RetryCount,
		"error", cause,
	)

	if task.Result == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.SendText(ctx, task.RoomID, task.PlatformID, task.Result); err != nil {
		e.logger.Error("text fallback failed", "task", task.ID, "error", err)
		return
	}
	e.logger.Info("text fallback delivered", "task", task.ID, "room", task.RoomID)
}

func extForMime(mime string) string {
	if mime == "image/png" {
		return ".png"
	}
	return ".jpg"
}
