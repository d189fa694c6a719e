package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Actor is a lightweight cached profile of a person referenced by a record
// (assignee, reporter). Actors are cached opportunistically on first access
// from a displayed record and are never bulk-populated.
type Actor struct {
	AccountID   string
	Email       string
	DisplayName string
	Payload     json.RawMessage
	CachedAt    time.Time
}

// Actor returns the cached actor with the given account ID, or ErrNotFound.
func (s *Store) Actor(ctx context.Context, accountID string) (Actor, error) {
	return s.scanActor(s.db.QueryRowContext(ctx,
		"SELECT account_id, email, display_name, payload, cached_at FROM actors WHERE account_id = ?",
		accountID,
	))
}

// ActorByEmail returns the cached actor with the given email, or ErrNotFound.
func (s *Store) ActorByEmail(ctx context.Context, email string) (Actor, error) {
	return s.scanActor(s.db.QueryRowContext(ctx,
		"SELECT account_id, email, display_name, payload, cached_at FROM actors WHERE email = ?",
		email,
	))
}

// ActorByDisplayName returns the cached actor with the given display name,
// matched case-insensitively, or ErrNotFound.
func (s *Store) ActorByDisplayName(ctx context.Context, displayName string) (Actor, error) {
	return s.scanActor(s.db.QueryRowContext(ctx,
		"SELECT account_id, email, display_name, payload, cached_at FROM actors WHERE display_name = ? COLLATE NOCASE",
		displayName,
	))
}

// SetActor stores an actor profile, replacing any previous entry.
func (s *Store) SetActor(ctx context.Context, a Actor) error {
	if a.AccountID == "" {
		return fmt.Errorf("store: actor account id cannot be empty")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO actors (account_id, email, display_name, payload, cached_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.AccountID, a.Email, a.DisplayName, []byte(a.Payload), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("store: set actor %s: %w", a.AccountID, err)
	}
	return nil
}

// ClearActors empties the actor table and returns how many entries existed.
func (s *Store) ClearActors(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM actors").Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count actors: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM actors"); err != nil {
		return 0, fmt.Errorf("store: clear actors: %w", err)
	}
	return count, nil
}

func (s *Store) scanActor(row *sql.Row) (Actor, error) {
	var (
		a        Actor
		cachedAt string
	)
	err := row.Scan(&a.AccountID, &a.Email, &a.DisplayName, &a.Payload, &cachedAt)
	if err == sql.ErrNoRows {
		return Actor{}, ErrNotFound
	}
	if err != nil {
		return Actor{}, fmt.Errorf("store: scan actor: %w", err)
	}

	if a.CachedAt, err = parseTime(cachedAt); err != nil {
		return Actor{}, fmt.Errorf("store: parse actor cached_at: %w", err)
	}
	return a, nil
}
