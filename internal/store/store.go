// Package store implements the durable cache for tracker data: records
// (full ticket payloads keyed by ticket key), actor profiles, query-to-keys
// index entries, and short-TTL metadata blobs.
//
// It is backed by a single SQLite database (modernc.org/sqlite, pure Go)
// opened in WAL mode with one connection, which serializes writes and keeps
// PRAGMA state consistent. A *Store is safe for concurrent use; every
// mutating operation is a short transaction and none is ever held open
// across a network call.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const (
	dbFileName         = "cache.db"
	defaultBusyTimeout = 5000
)

// ErrNotFound is returned when a requested entry does not exist or has
// expired.
var ErrNotFound = errors.New("store: not found")

// Store is the durable keyed cache. Obtain one via Open.
type Store struct {
	db     *sql.DB
	dir    string
	path   string
	logger zerolog.Logger
}

// Open opens (or creates) the cache database under dir.
//
// If the existing database fails its integrity check, it is deleted and
// recreated empty: losing cached data is acceptable, refusing to start is
// not. The recovery is logged.
func Open(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, dbFileName)

	db, err := openDB(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).
			Msg("cache database unusable, deleting and recreating")

		removeDatabase(path)

		db, err = openDB(path)
		if err != nil {
			return nil, fmt.Errorf("store: recreate %s: %w", path, err)
		}
	}

	return &Store{db: db, dir: dir, path: path, logger: logger}, nil
}

// openDB opens the database, applies PRAGMAs, verifies integrity, and
// migrates the schema. Any failure means the file is unusable.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	// One connection: SQLite serializes writes anyway, and this guarantees
	// the PRAGMAs below apply to every statement.
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}

	var check string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&check); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: integrity check: %w", err)
	}
	if check != "ok" {
		_ = db.Close()
		return nil, fmt.Errorf("store: integrity check failed: %s", check)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// removeDatabase deletes the database file and its WAL sidecars.
func removeDatabase(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dir returns the cache directory the store was opened with.
func (s *Store) Dir() string {
	return s.dir
}

// Stats summarizes the cache contents for the management surface.
type Stats struct {
	Records   Bucket
	Actors    Bucket
	SizeBytes int64
}

// Bucket holds per-table counts and age boundaries.
type Bucket struct {
	Count  int
	Oldest time.Time
	Newest time.Time
}

// Stats reports counts, age boundaries, and on-disk size. It performs no
// network I/O and completes in bounded time.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	rec, err := s.bucketStats(ctx, "records")
	if err != nil {
		return Stats{}, err
	}
	st.Records = rec

	act, err := s.bucketStats(ctx, "actors")
	if err != nil {
		return Stats{}, err
	}
	st.Actors = act

	if info, err := os.Stat(s.path); err == nil {
		st.SizeBytes = info.Size()
	}

	return st, nil
}

func (s *Store) bucketStats(ctx context.Context, table string) (Bucket, error) {
	var (
		b      Bucket
		oldest sql.NullString
		newest sql.NullString
	)

	// table is one of two compile-time constants, never user input.
	q := fmt.Sprintf("SELECT COUNT(*), MIN(cached_at), MAX(cached_at) FROM %s", table)
	if err := s.db.QueryRowContext(ctx, q).Scan(&b.Count, &oldest, &newest); err != nil {
		return Bucket{}, fmt.Errorf("store: stats for %s: %w", table, err)
	}

	if oldest.Valid {
		if t, err := parseTime(oldest.String); err == nil {
			b.Oldest = t
		}
	}
	if newest.Valid {
		if t, err := parseTime(newest.String); err == nil {
			b.Newest = t
		}
	}
	return b, nil
}

// ClearAll empties every table and reports how many records and actors were
// removed.
func (s *Store) ClearAll(ctx context.Context) (records, actors int, err error) {
	records, err = s.ClearRecords(ctx)
	if err != nil {
		return 0, 0, err
	}
	actors, err = s.ClearActors(ctx)
	if err != nil {
		return records, 0, err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM metadata"); err != nil {
		return records, actors, fmt.Errorf("store: clear metadata: %w", err)
	}
	return records, actors, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
