// Package gateway defines the minimal data-fetch contract the cache engine
// consumes from the tracker API layer, plus decorators for transparent
// request batching and retries.
//
// The engine never talks to the network itself; it calls a Gateway from
// background workers only. Implementations handle authentication and
// transport; those concerns stay outside this repository's core.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnavailable wraps any transport-level failure. The engine treats it as
// transient: it falls back to cached data and reports through the status
// model, never to the caller as a hard error.
var ErrUnavailable = errors.New("gateway: unavailable")

// Gateway abstracts the remote tracker API.
//
// All three calls accept arbitrarily many keys; implementations (or the
// Paginated decorator) split oversized requests into bounded batches. The
// page size a backend actually honors shrinks as the field list grows, so
// callers must not assume a requested size is achieved.
type Gateway interface {
	// List resolves a query to its ordered key sequence.
	List(ctx context.Context, query string) ([]string, error)

	// FetchMinimal returns the remote version for each key that exists.
	FetchMinimal(ctx context.Context, keys []string) (map[string]string, error)

	// FetchFull returns the full payload for each key that exists,
	// restricted to the requested fields.
	FetchFull(ctx context.Context, keys []string, fields []string) (map[string]json.RawMessage, error)
}

// Limits bounds how many keys one round trip may carry.
type Limits struct {
	// Minimal is the max keys per FetchMinimal call. Minimal requests carry
	// two fields and tolerate large pages.
	Minimal int

	// Full is the max keys per FetchFull call. Conservative: the effective
	// ceiling under many-field requests is an observed operational number.
	Full int
}

// DefaultLimits returns the batch limits that have held up in practice.
func DefaultLimits() Limits {
	return Limits{Minimal: 500, Full: 150}
}

// Unavailable wraps err as a transient gateway failure.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
