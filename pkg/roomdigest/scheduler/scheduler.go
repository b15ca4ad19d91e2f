// Package scheduler runs the daily digest cycle. A single loop sleeps until
// the configured wall-clock time, then analyzes every eligible room
// concurrently under a semaphore, with a per-room timeout, a per-room lock
// so manual and scheduled runs never overlap, and a same-day guard so a
// restart never produces a second digest.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/selwynd/roomdigest/pkg/roomdigest/state"
)

// State is the scheduler lifecycle state.
type State int

const (
	// StateIdle means the scheduler is stopped.
	StateIdle State = iota

	// StateWaiting means the loop is sleeping until the next fire time.
	StateWaiting

	// StateRunning means a daily cycle is in progress.
	StateRunning
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Config tunes the daily scheduler.
type Config struct {
	// Enabled turns the daily loop on.
	Enabled bool `yaml:"enabled"`

	// TimeOfDay is the daily fire time in "HH:MM" (local time).
	TimeOfDay string `yaml:"time_of_day"`

	// MaxConcurrent bounds parallel room analyses.
	MaxConcurrent int `yaml:"max_concurrent"`

	// RoomTimeoutSeconds bounds one room's analysis end to end.
	RoomTimeoutSeconds int `yaml:"room_timeout_seconds"`
}

func (c *Config) applyDefaults() {
	if c.TimeOfDay == "" {
		c.TimeOfDay = "09:00"
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.RoomTimeoutSeconds <= 0 {
		c.RoomTimeoutSeconds = 1200
	}
}

// RoomHandler analyzes and delivers one room's digest.
type RoomHandler func(ctx context.Context, roomID string) error

// RoomLister returns the rooms eligible for the daily cycle.
type RoomLister func(ctx context.Context) ([]string, error)

// roomLock serializes work on one room. refs counts waiters so the entry
// can be dropped from the map once nobody holds or wants it.
type roomLock struct {
	mu   sync.Mutex
	refs int
}

// Scheduler drives the daily digest cycle.
type Scheduler struct {
	cfg     Config
	handler RoomHandler
	lister  RoomLister
	runs    *state.RunStore
	logger  *slog.Logger

	sem *semaphore.Weighted

	mu      sync.Mutex
	status  State
	stopCh  chan struct{}
	loopWg  sync.WaitGroup
	locks   map[string]*roomLock
	nextRun time.Time
}

// New creates a scheduler. runs may be nil to disable the same-day guard.
func New(cfg Config, handler RoomHandler, lister RoomLister, runs *state.RunStore, logger *slog.Logger) *Scheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:     cfg,
		handler: handler,
		lister:  lister,
		runs:    runs,
		logger:  logger.With("component", "scheduler"),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		locks:   make(map[string]*roomLock),
	}
}

// Status returns the current lifecycle state.
func (s *Scheduler) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// NextRun returns when the loop will fire next, zero when stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// nextFireTime computes the next daily fire after now. A target already past
// today rolls over to tomorrow.
func nextFireTime(timeOfDay string, now time.Time) (time.Time, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("scheduler: invalid time_of_day %q: %w", timeOfDay, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("scheduler: invalid time_of_day %q", timeOfDay)
	}

	spec, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: building schedule: %w", err)
	}
	return spec.Next(now), nil
}

// Start launches the daily loop. Returns an error if already running or the
// configured time is invalid.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StateIdle {
		return errors.New("scheduler: already running")
	}

	next, err := nextFireTime(s.cfg.TimeOfDay, time.Now())
	if err != nil {
		return err
	}

	s.stopCh = make(chan struct{})
	s.status = StateWaiting
	s.nextRun = next
	s.loopWg.Add(1)
	go s.loop(s.stopCh)

	s.logger.Info("scheduler started", "time_of_day", s.cfg.TimeOfDay, "next_run", next)
	return nil
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.status == StateIdle {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	s.loopWg.Wait()

	s.mu.Lock()
	s.status = StateIdle
	s.nextRun = time.Time{}
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// Restart stops the loop and starts it again.
func (s *Scheduler) Restart() error {
	s.Stop()
	return s.Start()
}

// RestartWithConfig stops the loop, applies a new config and starts again.
func (s *Scheduler) RestartWithConfig(cfg Config) error {
	s.Stop()

	cfg.applyDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	s.mu.Unlock()

	return s.Start()
}

// loop sleeps until each fire time and runs the cycle.
func (s *Scheduler) loop(stopCh chan struct{}) {
	defer s.loopWg.Done()

	for {
		next, err := nextFireTime(s.cfg.TimeOfDay, time.Now())
		if err != nil {
			s.logger.Error("schedule became invalid, stopping loop", "error", err)
			return
		}

		s.mu.Lock()
		s.status = StateWaiting
		s.nextRun = next
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		s.status = StateRunning
		s.mu.Unlock()

		s.runCycle(stopCh)
	}
}

// runCycle analyzes every eligible room concurrently. Failures are isolated
// per room: one room's error never stops the others.
func (s *Scheduler) runCycle(stopCh chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	rooms, err := s.lister(ctx)
	if err != nil {
		s.logger.Error("listing rooms failed", "error", err)
		return
	}

	s.logger.Info("daily cycle started", "rooms", len(rooms))
	started := time.Now()

	var wg sync.WaitGroup
	var okCount, failCount, skipCount int
	var countMu sync.Mutex

	for _, roomID := range rooms {
		wg.Add(1)
		go func(roomID string) {
			defer wg.Done()
			switch err := s.runRoom(ctx, roomID); {
			case errors.Is(err, errAlreadyRan):
				countMu.Lock()
				skipCount++
				countMu.Unlock()
			case err != nil:
				countMu.Lock()
				failCount++
				countMu.Unlock()
				s.logger.Error("room analysis failed", "room", roomID, "error", err)
			default:
				countMu.Lock()
				okCount++
				countMu.Unlock()
			}
		}(roomID)
	}
	wg.Wait()

	s.logger.Info("daily cycle finished",
		"ok", okCount,
		"failed", failCount,
		"skipped", skipCount,
		"elapsed", time.Since(started).Round(time.Second),
	)
}

// errAlreadyRan marks the same-day guard skipping a room.
var errAlreadyRan = errors.New("scheduler: room already ran today")

// runRoom runs one room under the concurrency semaphore, the per-room lock,
// the same-day guard and the room timeout.
func (s *Scheduler) runRoom(ctx context.Context, roomID string) (err error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire slot: %w", err)
	}
	defer s.sem.Release(1)

	release := s.lockRoom(roomID)
	defer release()

	today := time.Now().Format("2006-01-02")
	if s.runs != nil {
		last, err := s.runs.LastExecutionDate(roomID)
		if err != nil {
			return fmt.Errorf("read run state: %w", err)
		}
		if last == today {
			s.logger.Debug("room already ran today, skipping", "room", roomID)
			return errAlreadyRan
		}
	}

	roomCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.RoomTimeoutSeconds)*time.Second)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("room analysis panicked: %v", r)
		}
	}()

	if err := s.handler(roomCtx, roomID); err != nil {
		return err
	}

	if s.runs != nil {
		if err := s.runs.MarkExecuted(roomID, today, time.Now()); err != nil {
			return fmt.Errorf("mark executed: %w", err)
		}
	}
	return nil
}

// RunRoomNow runs one room immediately, honoring the per-room lock and the
// concurrency semaphore but bypassing the same-day guard. Used for manual
// triggers.
func (s *Scheduler) RunRoomNow(ctx context.Context, roomID string) (err error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire slot: %w", err)
	}
	defer s.sem.Release(1)

	release := s.lockRoom(roomID)
	defer release()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("room analysis panicked: %v", r)
		}
	}()

	roomCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.RoomTimeoutSeconds)*time.Second)
	defer cancel()
	return s.handler(roomCtx, roomID)
}

// lockRoom takes the per-room mutex, creating the entry on demand and
// dropping it once the last holder releases.
func (s *Scheduler) lockRoom(roomID string) (release func()) {
	s.mu.Lock()
	l, ok := s.locks[roomID]
	if !ok {
		l = &roomLock{}
		s.locks[roomID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, roomID)
		}
		s.mu.Unlock()
	}
}
