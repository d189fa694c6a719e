package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// QueryIndexEntry maps a query fingerprint to the ordered key list it last
// resolved to. Freshness is the reader's call: the entry is returned
// regardless of age so a failed refresh can still fall back to the
// last-known list.
type QueryIndexEntry struct {
	Fingerprint string
	Query       string
	Keys        []string
	CachedAt    time.Time
}

// FreshWithin reports whether the entry was written within ttl.
func (e QueryIndexEntry) FreshWithin(ttl time.Duration) bool {
	return time.Since(e.CachedAt) <= ttl
}

// QueryIndex returns the index entry for fingerprint, or ErrNotFound.
func (s *Store) QueryIndex(ctx context.Context, fingerprint string) (QueryIndexEntry, error) {
	var (
		e        QueryIndexEntry
		keysJSON string
		cachedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT fingerprint, query, keys, cached_at FROM query_index WHERE fingerprint = ?",
		fingerprint,
	).Scan(&e.Fingerprint, &e.Query, &keysJSON, &cachedAt)
	if err == sql.ErrNoRows {
		return QueryIndexEntry{}, ErrNotFound
	}
	if err != nil {
		return QueryIndexEntry{}, fmt.Errorf("store: get query index: %w", err)
	}

	if err := json.Unmarshal([]byte(keysJSON), &e.Keys); err != nil {
		return QueryIndexEntry{}, fmt.Errorf("store: unmarshal index keys: %w", err)
	}
	if e.CachedAt, err = parseTime(cachedAt); err != nil {
		return QueryIndexEntry{}, fmt.Errorf("store: parse index cached_at: %w", err)
	}
	return e, nil
}

// SetQueryIndex records the ordered key list a query resolved to.
func (s *Store) SetQueryIndex(ctx context.Context, fingerprint, query string, keys []string) error {
	keysJSON, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("store: marshal index keys: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO query_index (fingerprint, query, keys, cached_at)
		VALUES (?, ?, ?, ?)`,
		fingerprint, query, string(keysJSON), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("store: set query index: %w", err)
	}
	return nil
}

// TouchQueryIndex refreshes the entry's cached_at after a completed
// verification cycle, without changing its key list.
func (s *Store) TouchQueryIndex(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE query_index SET cached_at = ? WHERE fingerprint = ?",
		formatTime(time.Now()), fingerprint,
	)
	if err != nil {
		return fmt.Errorf("store: touch query index: %w", err)
	}
	return nil
}
