package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/selwynd/roomdigest/pkg/roomdigest/state"
)

func TestNextFireTime(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 5, 0, 0, time.UTC)

	tests := []struct {
		name      string
		timeOfDay string
		want      time.Time
	}{
		{
			name:      "target already past rolls to tomorrow",
			timeOfDay: "09:00",
			want:      time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC),
		},
		{
			name:      "target still ahead fires today",
			timeOfDay: "23:30",
			want:      time.Date(2026, 8, 28, 23, 30, 0, 0, time.UTC),
		},
		{
			name:      "exact current minute rolls to tomorrow",
			timeOfDay: "09:05",
			want:      time.Date(2026, 8, 29, 9, 5, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nextFireTime(tt.timeOfDay, now)
			if err != nil {
				t.Fatalf("nextFireTime: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("nextFireTime(%q) = %v, want %v", tt.timeOfDay, got, tt.want)
			}
		})
	}
}

func TestNextFireTimeInvalid(t *testing.T) {
	for _, bad := range []string{"", "25:00", "09:61", "nine"} {
		if _, err := nextFireTime(bad, time.Now()); err == nil {
			t.Errorf("nextFireTime(%q) should fail", bad)
		}
	}
}

func openRunStore(t *testing.T) *state.RunStore {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return state.NewRunStore(db)
}

func TestRunRoomSameDayGuard(t *testing.T) {
	runs := openRunStore(t)

	var calls int
	s := New(Config{}, func(ctx context.Context, roomID string) error {
		calls++
		return nil
	}, nil, runs, nil)

	if err := s.runRoom(context.Background(), "!room:x"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := s.runRoom(context.Background(), "!room:x"); !errors.Is(err, errAlreadyRan) {
		t.Fatalf("second run err = %v, want errAlreadyRan", err)
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestRunRoomFailureDoesNotMarkExecuted(t *testing.T) {
	runs := openRunStore(t)

	var calls int
	s := New(Config{}, func(ctx context.Context, roomID string) error {
		calls++
		if calls == 1 {
			return errors.New("llm down")
		}
		return nil
	}, nil, runs, nil)

	if err := s.runRoom(context.Background(), "!room:x"); err == nil {
		t.Fatal("first run should fail")
	}
	// A failed run must not trip the same-day guard.
	if err := s.runRoom(context.Background(), "!room:x"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if calls != 2 {
		t.Errorf("handler called %d times, want 2", calls)
	}
}

func TestRunRoomPanicIsolated(t *testing.T) {
	s := New(Config{}, func(ctx context.Context, roomID string) error {
		panic("boom")
	}, nil, nil, nil)

	err := s.runRoom(context.Background(), "!room:x")
	if err == nil || err.Error() != "room analysis panicked: boom" {
		t.Fatalf("err = %v, want recovered panic", err)
	}
}

func TestRunCycleFailureIsolation(t *testing.T) {
	var mu sync.Mutex
	handled := map[string]bool{}

	s := New(Config{}, func(ctx context.Context, roomID string) error {
		mu.Lock()
		handled[roomID] = true
		mu.Unlock()
		if roomID == "!bad:x" {
			return errors.New("boom")
		}
		return nil
	}, func(ctx context.Context) ([]string, error) {
		return []string{"!good:x", "!bad:x", "!also:x"}, nil
	}, nil, nil)

	s.runCycle(make(chan struct{}))

	if len(handled) != 3 {
		t.Errorf("handled %d rooms, want all 3 despite one failing", len(handled))
	}
}

func TestRunCycleConcurrencyBound(t *testing.T) {
	const maxConcurrent = 2

	var mu sync.Mutex
	running, peak := 0, 0

	rooms := []string{"!a:x", "!b:x", "!c:x", "!d:x", "!e:x"}
	s := New(Config{MaxConcurrent: maxConcurrent}, func(ctx context.Context, roomID string) error {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	}, func(ctx context.Context) ([]string, error) {
		return rooms, nil
	}, nil, nil)

	s.runCycle(make(chan struct{}))

	if peak > maxConcurrent {
		t.Errorf("peak concurrency = %d, want <= %d", peak, maxConcurrent)
	}
}

func TestRoomLockSerializes(t *testing.T) {
	s := New(Config{MaxConcurrent: 10}, nil, nil, nil, nil)

	var mu sync.Mutex
	inside := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := s.lockRoom("!room:x")
			defer release()

			mu.Lock()
			inside++
			if inside > 1 {
				t.Error("two holders inside the same room lock")
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.mu.Lock()
	remaining := len(s.locks)
	s.mu.Unlock()
	if remaining != 0 {
		t.Errorf("lock map has %d entries after release, want 0", remaining)
	}
}

func TestStartStop(t *testing.T) {
	s := New(Config{TimeOfDay: "23:59"}, func(ctx context.Context, roomID string) error {
		return nil
	}, func(ctx context.Context) ([]string, error) {
		return nil, nil
	}, nil, nil)

	if s.Status() != StateIdle {
		t.Fatalf("initial status = %v", s.Status())
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("second Start should fail")
	}
	if s.Status() != StateWaiting {
		t.Errorf("status after Start = %v, want waiting", s.Status())
	}
	if s.NextRun().IsZero() {
		t.Error("NextRun should be set after Start")
	}

	s.Stop()
	if s.Status() != StateIdle {
		t.Errorf("status after Stop = %v, want idle", s.Status())
	}

	// Restart works after a full stop.
	if err := s.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	s.Stop()
}

func TestRestartWithConfig(t *testing.T) {
	s := New(Config{TimeOfDay: "23:58"}, nil, func(ctx context.Context) ([]string, error) {
		return nil, nil
	}, nil, nil)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := s.NextRun()

	if err := s.RestartWithConfig(Config{TimeOfDay: "23:59"}); err != nil {
		t.Fatalf("RestartWithConfig: %v", err)
	}
	defer s.Stop()

	second := s.NextRun()
	if second.Minute() != 59 {
		t.Errorf("NextRun after config change = %v, want minute 59 (was %v)", second, first)
	}
}

func TestStartInvalidTime(t *testing.T) {
	s := New(Config{TimeOfDay: "99:99"}, nil, nil, nil, nil)
	if err := s.Start(); err == nil {
		t.Fatal("Start with invalid time should fail")
	}
}
