package gateway

import (
	"context"
	"encoding/json"

	"github.com/terabyte/jiraview/internal/engine/batch"
)

// Paginated wraps a Gateway and transparently splits oversized key sets
// into batches within the configured Limits.
//
// Partial failures return the successfully fetched subset together with
// the error: the engine commits what arrived and leaves the rest stale for
// the next cycle.
type Paginated struct {
	Inner  Gateway
	Limits Limits
}

// NewPaginated wraps inner with the given limits (zero values fall back to
// the defaults).
func NewPaginated(inner Gateway, limits Limits) *Paginated {
	def := DefaultLimits()
	if limits.Minimal <= 0 {
		limits.Minimal = def.Minimal
	}
	if limits.Full <= 0 {
		limits.Full = def.Full
	}
	return &Paginated{Inner: inner, Limits: limits}
}

// List delegates unchanged; listing paginates inside the implementation.
func (p *Paginated) List(ctx context.Context, query string) ([]string, error) {
	return p.Inner.List(ctx, query)
}

// FetchMinimal fetches versions in batches of at most Limits.Minimal keys.
func (p *Paginated) FetchMinimal(ctx context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))

	err := batch.ProcessAll(ctx, keys, p.Limits.Minimal, func(ctx context.Context, b []string, _ int) error {
		m, err := p.Inner.FetchMinimal(ctx, b)
		for k, v := range m {
			result[k] = v
		}
		return err
	})

	return result, err
}

// FetchFull fetches payloads in batches of at most Limits.Full keys.
func (p *Paginated) FetchFull(ctx context.Context, keys []string, fields []string) (map[string]json.RawMessage, error) {
	result := make(map[string]json.RawMessage, len(keys))

	err := batch.ProcessAll(ctx, keys, p.Limits.Full, func(ctx context.Context, b []string, _ int) error {
		m, err := p.Inner.FetchFull(ctx, b, fields)
		for k, v := range m {
			result[k] = v
		}
		return err
	})

	return result, err
}

var _ Gateway = (*Paginated)(nil)
