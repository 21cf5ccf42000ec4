package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Craig-0219/potato-autoA/internal/throttle"
)

// SQLiteCounterStore persists throttle counters in a sqlite database so
// the daily cap holds across runs.
type SQLiteCounterStore struct {
	db *sql.DB
}

var _ throttle.CounterStore = (*SQLiteCounterStore)(nil)

// OpenCounterStore opens (creating if needed) the counter database at path.
func OpenCounterStore(path string) (*SQLiteCounterStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open counter database: %w", err)
	}
	// One writer; sqlite serialises anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteCounterStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteCounterStore) initialize() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS counters (
		key TEXT PRIMARY KEY,
		day TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create counters table: %w", err)
	}
	return nil
}

// Get returns the stored count for key, zero if unset.
func (s *SQLiteCounterStore) Get(ctx context.Context, key string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count FROM counters WHERE key = ?`, key).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	return n, nil
}

// Increment adds one to key and returns the new count.
func (s *SQLiteCounterStore) Increment(ctx context.Context, key string) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (key, day, count) VALUES (?, '', 1)
		ON CONFLICT(key) DO UPDATE SET count = count + 1, updated_at = CURRENT_TIMESTAMP`, key)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}
	return s.Get(ctx, key)
}

// ResetIfNewDay zeroes key when its stored day differs from now's day.
func (s *SQLiteCounterStore) ResetIfNewDay(ctx context.Context, key string, now time.Time) error {
	day := throttle.Day(now)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (key, day, count) VALUES (?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET
			count = CASE WHEN day = excluded.day THEN count ELSE 0 END,
			day = excluded.day,
			updated_at = CURRENT_TIMESTAMP`, key, day)
	if err != nil {
		return fmt.Errorf("failed to reset counter %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteCounterStore) Close() error {
	return s.db.Close()
}
