// Package refresh implements the background refresh pipeline that keeps
// cached issue records in sync with the tracker: resolve the query's key
// list, verify versions against the backend, and refetch only what changed.
package refresh

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// State identifies where in the pipeline a run currently is.
type State int

const (
	StateResolvingKeys State = iota
	StateServingCache
	StateVerifying
	StateDiffing
	StateRefetching
	StateCommitting
	StateReady
	StateErrorServeCache
	StateErrorNoCache
)

// String returns the lower-snake name used in logs and status output.
func (s State) String() string {
	switch s {
	case StateResolvingKeys:
		return "resolving_keys"
	case StateServingCache:
		return "serving_cache"
	case StateVerifying:
		return "verifying"
	case StateDiffing:
		return "diffing"
	case StateRefetching:
		return "refetching"
	case StateCommitting:
		return "committing"
	case StateReady:
		return "ready"
	case StateErrorServeCache:
		return "error_serve_cache"
	case StateErrorNoCache:
		return "error_no_cache"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateReady, StateErrorServeCache, StateErrorNoCache:
		return true
	}
	return false
}

// Run is the handle for one background refresh. It is created by the
// controller, driven by the coordinator, and observed by status callers.
// All mutable fields are guarded by mu; the done channel closes exactly
// once, when the run reaches a terminal state.
type Run struct {
	ID          ulid.ULID
	Fingerprint string
	Query       string
	// Fields overrides the coordinator's default field set when non-nil.
	Fields  []string
	Started time.Time

	mu      sync.Mutex
	state   State
	current int
	total   int
	err     error
	done    chan struct{}
}

// Snapshot is a point-in-time copy of a run's observable state.
type Snapshot struct {
	ID          ulid.ULID
	Fingerprint string
	Query       string
	Started     time.Time
	State       State
	Current     int
	Total       int
	Err         error
}

var ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0) //nolint:gosec // IDs only need uniqueness

// NewRun creates a pending run for the given query fingerprint.
func NewRun(fingerprint, query string) *Run {
	return &Run{
		ID:          ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy),
		Fingerprint: fingerprint,
		Query:       query,
		Started:     time.Now(),
		state:       StateResolvingKeys,
		done:        make(chan struct{}),
	}
}

// Snapshot returns a copy of the run's current state and progress.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:          r.ID,
		Fingerprint: r.Fingerprint,
		Query:       r.Query,
		Started:     r.Started,
		State:       r.state,
		Current:     r.current,
		Total:       r.total,
		Err:         r.err,
	}
}

// Done returns a channel closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err returns the terminal error, if any. Valid after Done is closed.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the run finishes or the context is canceled.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	r.state = s
}

func (r *Run) setProgress(current, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = current
	r.total = total
}

func (r *Run) advance(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current += n
}

// finish moves the run to a terminal state and releases waiters. Calling
// finish on an already finished run is a no-op.
func (r *Run) finish(s State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	r.state = s
	r.err = err
	close(r.done)
}
