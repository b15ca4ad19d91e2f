// Package state persists scheduler progress and the delivery dead-letter
// journal in a local SQLite database. All stores share one *sql.DB.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_runs (
	room_id            TEXT PRIMARY KEY,
	last_execution_date TEXT NOT NULL,
	last_run_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_letters (
	id          TEXT PRIMARY KEY,
	room_id     TEXT NOT NULL,
	platform_id TEXT NOT NULL,
	reason      TEXT NOT NULL,
	retries     INTEGER NOT NULL,
	created_at  DATETIME NOT NULL,
	failed_at   DATETIME NOT NULL
);
`

// Open opens or creates the state database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		path = "./data/roomdigest.db"
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply state schema: %w", err)
	}

	return db, nil
}

// RunStore records the last completed analysis date per room, used by the
// scheduler's same-day guard.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a run store over an open state database.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// LastExecutionDate returns the date (YYYY-MM-DD) of a room's last completed
// run, or "" if the room never ran.
func (s *RunStore) LastExecutionDate(roomID string) (string, error) {
	var date string
	err := s.db.QueryRow(
		"SELECT last_execution_date FROM room_runs WHERE room_id = ?", roomID,
	).Scan(&date)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query last execution date: %w", err)
	}
	return date, nil
}

// MarkExecuted records that a room's analysis completed on the given date.
func (s *RunStore) MarkExecuted(roomID, date string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO room_runs (room_id, last_execution_date, last_run_at)
		VALUES (?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			last_execution_date = excluded.last_execution_date,
			last_run_at = excluded.last_run_at`,
		roomID, date, at.UTC())
	if err != nil {
		return fmt.Errorf("mark executed: %w", err)
	}
	return nil
}

// DeadLetter is a persisted record of a delivery that exhausted its retries.
type DeadLetter struct {
	ID         string
	RoomID     string
	PlatformID string
	Reason     string
	Retries    int
	CreatedAt  time.Time
	FailedAt   time.Time
}

// Journal persists dead-lettered deliveries for post-mortem inspection.
type Journal struct {
	db *sql.DB
}

// NewJournal creates a dead-letter journal over an open state database.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record appends a dead letter. Conflicting IDs overwrite the earlier record.
func (j *Journal) Record(dl DeadLetter) error {
	_, err := j.db.Exec(`
		INSERT INTO dead_letters (id, room_id, platform_id, reason, retries, created_at, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reason = excluded.reason,
			retries = excluded.retries,
			failed_at = excluded.failed_at`,
		dl.ID, dl.RoomID, dl.PlatformID, dl.Reason, dl.Retries, dl.CreatedAt.UTC(), dl.FailedAt.UTC())
	if err != nil {
		return fmt.Errorf("record dead letter: %w", err)
	}
	return nil
}

// Recent returns up to limit dead letters, newest first.
func (j *Journal) Recent(limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(`
		SELECT id, room_id, platform_id, reason, retries, created_at, failed_at
		FROM dead_letters ORDER BY failed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		if err := rows.Scan(&dl.ID, &dl.RoomID, &dl.PlatformID, &dl.Reason, &dl.Retries, &dl.CreatedAt, &dl.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}
