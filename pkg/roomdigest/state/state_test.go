package state

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRunStore(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	runs := NewRunStore(db)

	date, err := runs.LastExecutionDate("!room:x")
	if err != nil {
		t.Fatal(err)
	}
	if date != "" {
		t.Errorf("date for unknown room = %q, want empty", date)
	}

	if err := runs.MarkExecuted("!room:x", "2026-08-28", time.Now()); err != nil {
		t.Fatal(err)
	}
	date, err = runs.LastExecutionDate("!room:x")
	if err != nil {
		t.Fatal(err)
	}
	if date != "2026-08-28" {
		t.Errorf("date = %q, want 2026-08-28", date)
	}

	// Upsert replaces the previous date.
	if err := runs.MarkExecuted("!room:x", "2026-08-29", time.Now()); err != nil {
		t.Fatal(err)
	}
	date, _ = runs.LastExecutionDate("!room:x")
	if date != "2026-08-29" {
		t.Errorf("date after upsert = %q, want 2026-08-29", date)
	}
}

func TestJournal(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	journal := NewJournal(db)

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"t1", "t2", "t3"} {
		err := journal.Record(DeadLetter{
			ID:         id,
			RoomID:     "!room:x",
			PlatformID: "matrix",
			Reason:     "send failed",
			Retries:    3,
			CreatedAt:  base,
			FailedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	letters, err := journal.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(letters) != 2 {
		t.Fatalf("Recent(2) = %d entries", len(letters))
	}
	if letters[0].ID != "t3" {
		t.Errorf("newest first: got %q, want t3", letters[0].ID)
	}

	// Same ID overwrites instead of duplicating.
	if err := journal.Record(DeadLetter{ID: "t3", RoomID: "!room:x", PlatformID: "matrix",
		Reason: "other", Retries: 4, CreatedAt: base, FailedAt: base.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	letters, _ = journal.Recent(10)
	if len(letters) != 3 {
		t.Errorf("Recent(10) = %d entries after overwrite, want 3", len(letters))
	}
	if letters[0].Retries != 4 {
		t.Errorf("overwritten retries = %d, want 4", letters[0].Retries)
	}
}
