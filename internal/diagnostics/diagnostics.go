// Package diagnostics persists counters for silently-dropped traffic:
// origin mismatches, decode failures, and unknown request names must
// never surface as errors to user code, but they are counted. A
// sqlite-backed store (rather than an in-memory map) lets the
// playground's `--stats` flag report counts from a separate process
// invocation than the one that accumulated them.
package diagnostics

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jshsmth/forgeframe/internal/transport"
	"github.com/jshsmth/forgeframe/internal/wire"
)

// Store counts dropped-frame events by reason.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a sqlite-backed diagnostics store at
// path. Use ":memory:" for a process-local, test-only store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("forgeframe: opening diagnostics store: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS drop_events (
			reason     TEXT PRIMARY KEY,
			count      INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("forgeframe: creating diagnostics schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record increments the counter for reason.
func (s *Store) Record(reason transport.DropReason) error {
	_, err := s.db.Exec(`
		INSERT INTO drop_events (reason, count, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(reason) DO UPDATE SET count = count + 1, updated_at = excluded.updated_at
	`, string(reason), time.Now().UTC())
	return err
}

// OnDrop adapts Record to the transport.Options.OnDrop callback shape, so
// an Endpoint can be wired directly: Options{OnDrop: store.OnDrop}.
func (s *Store) OnDrop(reason transport.DropReason, _ wire.Frame) {
	_ = s.Record(reason)
}

// Counts returns every recorded reason and its current count.
func (s *Store) Counts() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT reason, count FROM drop_events ORDER BY reason`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var reason string
		var count int64
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, err
		}
		counts[reason] = count
	}
	return counts, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
