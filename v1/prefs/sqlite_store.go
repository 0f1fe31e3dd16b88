package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const defaultPollInterval = time.Second

// SQLiteStore keeps preferences in a single-row SQLite table, which is
// what an on-device install uses.
type SQLiteStore struct {
	db   *sql.DB
	poll time.Duration
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithPollInterval sets how often Changes checks the table for writes
// made by other processes.
func WithPollInterval(d time.Duration) SQLiteOption {
	return func(s *SQLiteStore) { s.poll = d }
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("prefs: create data dir: %w", err)
		}
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("prefs: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("prefs: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS preferences (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			lock_enabled INTEGER NOT NULL,
			updated_at   TEXT    NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prefs: migrate: %w", err)
	}
	s := &SQLiteStore{db: db, poll: defaultPollInterval}
	for _, opt := range opts {
		opt(s)
	}
	if s.poll <= 0 {
		s.poll = defaultPollInterval
	}
	return s, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (Preferences, bool, error) {
	var enabled int
	err := s.db.QueryRowContext(ctx, `SELECT lock_enabled FROM preferences WHERE id = 1`).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return Preferences{}, false, nil
	}
	if err != nil {
		return Preferences{}, false, fmt.Errorf("prefs: load: %w", err)
	}
	return Preferences{LockEnabled: enabled != 0}, true, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, p Preferences) error {
	enabled := 0
	if p.LockEnabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (id, lock_enabled, updated_at) VALUES (1, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET lock_enabled = excluded.lock_enabled, updated_at = excluded.updated_at`,
		enabled)
	if err != nil {
		return fmt.Errorf("prefs: save: %w", err)
	}
	return nil
}

// Changes implements Feed by polling the row. A signal is sent only when
// the stored value differs from the previous poll.
func (s *SQLiteStore) Changes(ctx context.Context) (<-chan struct{}, error) {
	last, _, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			p, _, err := s.Load(ctx)
			if err != nil || p == last {
				continue
			}
			last = p
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
