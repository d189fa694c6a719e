package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Metadata entries cache small tracker lookups (link types, issue types and
// the like) under a category plus optional key, each with its own TTL.
// Expired entries read as missing; they are overwritten in place on the
// next SetMeta.

// Meta returns the metadata blob for category/key if present and within its
// TTL, or ErrNotFound.
func (s *Store) Meta(ctx context.Context, category, key string) (json.RawMessage, error) {
	var (
		payload  []byte
		ttlSec   int64
		cachedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT payload, ttl_seconds, cached_at FROM metadata WHERE category = ? AND key = ?",
		category, key,
	).Scan(&payload, &ttlSec, &cachedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get metadata %s/%s: %w", category, key, err)
	}

	at, err := parseTime(cachedAt)
	if err != nil {
		return nil, fmt.Errorf("store: parse metadata cached_at: %w", err)
	}
	if time.Since(at) > time.Duration(ttlSec)*time.Second {
		return nil, ErrNotFound
	}
	return payload, nil
}

// SetMeta stores a metadata blob with its TTL.
func (s *Store) SetMeta(ctx context.Context, category, key string, payload json.RawMessage, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO metadata (category, key, payload, ttl_seconds, cached_at)
		VALUES (?, ?, ?, ?, ?)`,
		category, key, []byte(payload), int64(ttl.Seconds()), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("store: set metadata %s/%s: %w", category, key, err)
	}
	return nil
}

// SetMetaAt is SetMeta with an explicit cache timestamp. Used by the legacy
// import so migrated entries keep their original age.
func (s *Store) SetMetaAt(ctx context.Context, category, key string, payload json.RawMessage, ttl time.Duration, cachedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO metadata (category, key, payload, ttl_seconds, cached_at)
		VALUES (?, ?, ?, ?, ?)`,
		category, key, []byte(payload), int64(ttl.Seconds()), formatTime(cachedAt),
	)
	if err != nil {
		return fmt.Errorf("store: set metadata %s/%s: %w", category, key, err)
	}
	return nil
}

// InvalidateMeta deletes a metadata entry if present.
func (s *Store) InvalidateMeta(ctx context.Context, category, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM metadata WHERE category = ? AND key = ?", category, key)
	if err != nil {
		return fmt.Errorf("store: invalidate metadata %s/%s: %w", category, key, err)
	}
	return nil
}

// CountMeta returns the number of stored metadata entries, expired or not.
func (s *Store) CountMeta(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM metadata").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count metadata: %w", err)
	}
	return n, nil
}
