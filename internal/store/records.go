package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Record is one cached tracker entity.
//
// Version is the tracker's "updated" timestamp in its ISO-8601 wire form.
// The format orders lexicographically, so versions compare as plain strings.
type Record struct {
	Key      string
	Version  string
	Payload  json.RawMessage
	CachedAt time.Time
}

// monotonicUpsert writes a record but leaves the row untouched when the
// incoming version is not strictly newer. Out-of-order background commits
// therefore can never regress a record.
const monotonicUpsert = `
	INSERT INTO records (key, version, payload, cached_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		version   = excluded.version,
		payload   = excluded.payload,
		cached_at = excluded.cached_at
	WHERE excluded.version > records.version`

// Get returns the record for key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (Record, error) {
	var (
		r        Record
		cachedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT key, version, payload, cached_at FROM records WHERE key = ?", key,
	).Scan(&r.Key, &r.Version, &r.Payload, &cachedAt)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: get record %s: %w", key, err)
	}

	r.CachedAt, err = parseTime(cachedAt)
	if err != nil {
		return Record{}, fmt.Errorf("store: parse cached_at for %s: %w", key, err)
	}
	return r, nil
}

// GetMany returns the records that exist for the given keys. Missing keys
// are simply absent from the result.
func (s *Store) GetMany(ctx context.Context, keys []string) (map[string]Record, error) {
	if len(keys) == 0 {
		return map[string]Record{}, nil
	}

	query := fmt.Sprintf(
		"SELECT key, version, payload, cached_at FROM records WHERE key IN (%s)",
		placeholders(len(keys)),
	)

	rows, err := s.db.QueryContext(ctx, query, toAny(keys)...)
	if err != nil {
		return nil, fmt.Errorf("store: get many records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]Record, len(keys))
	for rows.Next() {
		var (
			r        Record
			cachedAt string
		)
		if err := rows.Scan(&r.Key, &r.Version, &r.Payload, &cachedAt); err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		if r.CachedAt, err = parseTime(cachedAt); err != nil {
			return nil, fmt.Errorf("store: parse cached_at for %s: %w", r.Key, err)
		}
		result[r.Key] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get many records rows: %w", err)
	}
	return result, nil
}

// Set writes one record, subject to the monotonic-version invariant: a
// version older than or equal to the stored one is silently dropped.
func (s *Store) Set(ctx context.Context, key, version string, payload json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, monotonicUpsert,
		key, version, []byte(payload), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("store: set record %s: %w", key, err)
	}
	return nil
}

// SetMany writes all records in one transaction, each row subject to the
// monotonic-version invariant. The transaction is all-or-nothing.
func (s *Store) SetMany(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin set many: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, monotonicUpsert)
	if err != nil {
		return fmt.Errorf("store: prepare set many: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := formatTime(time.Now())
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Key, r.Version, []byte(r.Payload), now); err != nil {
			return fmt.Errorf("store: set record %s: %w", r.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit set many: %w", err)
	}
	return nil
}

// AllKeys lists every cached record key.
func (s *Store) AllKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM records ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("store: all keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("store: scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: all keys rows: %w", err)
	}
	return keys, nil
}

// OldestCachedAt returns the oldest cached_at among the given keys. ok is
// false when none of the keys are cached.
func (s *Store) OldestCachedAt(ctx context.Context, keys []string) (oldest time.Time, ok bool, err error) {
	if len(keys) == 0 {
		return time.Time{}, false, nil
	}

	query := fmt.Sprintf(
		"SELECT MIN(cached_at) FROM records WHERE key IN (%s)",
		placeholders(len(keys)),
	)

	var v sql.NullString
	if err := s.db.QueryRowContext(ctx, query, toAny(keys)...).Scan(&v); err != nil {
		return time.Time{}, false, fmt.Errorf("store: oldest cached_at: %w", err)
	}
	if !v.Valid {
		return time.Time{}, false, nil
	}

	t, err := parseTime(v.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: parse oldest cached_at: %w", err)
	}
	return t, true, nil
}

// DeleteKeys removes the given records and returns how many existed.
func (s *Store) DeleteKeys(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf("DELETE FROM records WHERE key IN (%s)", placeholders(len(keys)))
	res, err := s.db.ExecContext(ctx, query, toAny(keys)...)
	if err != nil {
		return 0, fmt.Errorf("store: delete keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete keys rows affected: %w", err)
	}
	return int(n), nil
}

// ClearRecords empties the record table and the query index. Index entries
// are cleared alongside so no fingerprint keeps pointing at keys that no
// longer have payloads.
func (s *Store) ClearRecords(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count records: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin clear records: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return 0, fmt.Errorf("store: clear records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM query_index"); err != nil {
		return 0, fmt.Errorf("store: clear query index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit clear records: %w", err)
	}
	return count, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAny(keys []string) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}
