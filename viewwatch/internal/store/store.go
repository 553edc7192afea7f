// Package store opens the viewwatch SQLite database and journals emitted
// visibility events.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/viewwatch/viewwatch/event"
)

// Schema for the event journal.
const Schema = `
CREATE TABLE IF NOT EXISTS visibility_events (
	id           TEXT PRIMARY KEY,
	page_id      TEXT NOT NULL,
	page_url     TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	target       TEXT NOT NULL,
	selector     TEXT NOT NULL,
	path         TEXT NOT NULL,
	direction    TEXT NOT NULL,
	ratio        REAL NOT NULL,
	host_time_ms REAL NOT NULL,
	watcher_key  TEXT NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_visibility_events_page ON visibility_events(page_id, seq);
`

type options struct {
	schemas []string
}

// Option customises Open.
type Option func(*options)

// WithSchema queues extra SQL to execute after the journal schema.
func WithSchema(s string) Option { return func(o *options) { o.schemas = append(o.schemas, s) } }

// Open opens the database at path with WAL, busy timeout and the journal schema.
func Open(path string, opts ...Option) (*sql.DB, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	stmts := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		Schema,
	}
	stmts = append(stmts, o.schemas...)
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: exec: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests, pinned to one
// connection, closed on cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// Journal appends events and reads them back.
type Journal struct {
	db *sql.DB
}

// NewJournal wraps an opened database.
func NewJournal(db *sql.DB) *Journal { return &Journal{db: db} }

// Append stores one event.
func (j *Journal) Append(ctx context.Context, e event.Event) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO visibility_events (
			id, page_id, page_url, seq, target, selector, path,
			direction, ratio, host_time_ms, watcher_key, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.PageID, e.PageURL, int64(e.Seq), e.Target, e.Selector, e.Path,
		string(e.Direction), e.Ratio, e.HostTimeMs, e.WatcherKey, e.Timestamp)
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	return nil
}

// Recent returns the newest events, newest first. An empty pageID matches
// every page. limit <= 0 means 50.
func (j *Journal) Recent(ctx context.Context, pageID string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, page_id, page_url, seq, target, selector, path,
	             direction, ratio, host_time_ms, watcher_key, created_at
	      FROM visibility_events`
	args := []any{}
	if pageID != "" {
		q += " WHERE page_id = ?"
		args = append(args, pageID)
	}
	q += " ORDER BY created_at DESC, seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var e event.Event
		var seq int64
		var dir string
		if err := rows.Scan(&e.ID, &e.PageID, &e.PageURL, &seq, &e.Target, &e.Selector, &e.Path,
			&dir, &e.Ratio, &e.HostTimeMs, &e.WatcherKey, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		e.Seq = uint64(seq)
		e.Direction = event.Direction(dir)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of journaled events.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM visibility_events").Scan(&n)
	return n, err
}
