// Package engine is the front door of the cache: it resolves queries to
// cached records synchronously, keeps at most one background refresh in
// flight per query, and derives the freshness status shown to the user.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/terabyte/jiraview/internal/engine/refresh"
	"github.com/terabyte/jiraview/internal/gateway"
	"github.com/terabyte/jiraview/internal/store"
)

// Options configures a Controller. Store and Gateway are required.
type Options struct {
	Store   *store.Store
	Gateway gateway.Gateway
	Limits  gateway.Limits
	Fields  []string
	// QueryTTL bounds how long a query's key list is trusted without
	// re-listing against the backend.
	QueryTTL time.Duration
	Logger   zerolog.Logger
}

// DefaultQueryTTL matches how long result lists stay meaningful while a
// user is actively working a board.
const DefaultQueryTTL = 5 * time.Minute

// Result is what a query execution hands back to the presentation layer.
// Records arrive in the query's result order. CacheAge is only meaningful
// when HasAge is true.
type Result struct {
	Fingerprint string
	Records     []store.Record
	Status      Status
	CacheAge    time.Duration
	HasAge      bool
}

// BackgroundStatus reports progress of the refresh run for one fingerprint.
type BackgroundStatus struct {
	Running bool
	Current int
	Total   int
}

// Controller coordinates the store, the gateway, and background refresh
// runs. Safe for concurrent use.
//
// Lock discipline: mu guards only the run registry and is never held while
// any store or gateway call is outstanding. All network work happens in
// run goroutines.
type Controller struct {
	store  *store.Store
	coord  *refresh.Coordinator
	ttl    time.Duration
	logger zerolog.Logger

	mu     sync.Mutex
	runs   map[string]*refresh.Run
	closed bool
	wg     sync.WaitGroup
}

// New builds a Controller around the given store and gateway.
func New(opts Options) *Controller {
	if opts.QueryTTL <= 0 {
		opts.QueryTTL = DefaultQueryTTL
	}
	limits := opts.Limits
	if limits.Minimal <= 0 || limits.Full <= 0 {
		limits = gateway.DefaultLimits()
	}

	c := &Controller{
		store:  opts.Store,
		ttl:    opts.QueryTTL,
		logger: opts.Logger,
		runs:   make(map[string]*refresh.Run),
	}
	c.coord = &refresh.Coordinator{
		Store:     opts.Store,
		Gateway:   opts.Gateway,
		Limits:    limits,
		Fields:    opts.Fields,
		Logger:    opts.Logger,
		OnRecords: c.cacheActors,
	}
	return c
}

// ExecuteQuery serves whatever the cache holds for the query right now and
// makes sure a background refresh is running when one is needed. It never
// waits on the network: a cold query comes back empty with StatusFirstRun
// while its first refresh resolves keys in the background. A nil fields
// slice means the controller's configured field set.
func (c *Controller) ExecuteQuery(ctx context.Context, query string, fields []string, forceRefresh bool) (Result, error) {
	fp := Fingerprint(query)
	res := Result{Fingerprint: fp}

	entry, err := c.store.QueryIndex(ctx, fp)
	haveIndex := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return res, err
	}

	if haveIndex && len(entry.Keys) > 0 {
		records, gerr := c.store.GetMany(ctx, entry.Keys)
		if gerr != nil {
			return res, gerr
		}
		// Preserve the backend's result ordering.
		for _, key := range entry.Keys {
			if rec, ok := records[key]; ok {
				res.Records = append(res.Records, rec)
			}
		}
		if oldest, ok, aerr := c.store.OldestCachedAt(ctx, entry.Keys); aerr == nil && ok {
			res.CacheAge = time.Since(oldest)
			res.HasAge = true
		}
	}

	fresh := haveIndex && entry.FreshWithin(c.ttl)
	prior, active := c.ensureRun(fp, query, fields, fresh && !forceRefresh)

	res.Status = deriveStatus(len(res.Records) > 0, prior, active)
	return res, nil
}

// ensureRun starts a refresh run for the fingerprint unless one is already
// in flight, the previous run confirmed freshness within the TTL, or the
// controller is shut down. It returns the terminal snapshot of the last
// finished run (if any) and the snapshot of the run now in flight (if any).
func (c *Controller) ensureRun(fp, query string, fields []string, skipIfClean bool) (prior, active *refresh.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.runs[fp]; ok {
		snap := existing.Snapshot()
		if !snap.State.Terminal() {
			return nil, &snap
		}
		prior = &snap
		if skipIfClean && snap.State == refresh.StateReady {
			return prior, nil
		}
	} else if skipIfClean {
		return nil, nil
	}

	if c.closed {
		return prior, nil
	}

	run := refresh.NewRun(fp, query)
	run.Fields = fields
	c.runs[fp] = run
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.coord.Execute(context.Background(), run)
	}()

	snap := run.Snapshot()
	return prior, &snap
}

// RefreshRecord forces a background re-fetch of a single record,
// coalescing with any refresh of the same key already in flight.
func (c *Controller) RefreshRecord(key string, fields []string) {
	fp := keyFingerprint(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if existing, ok := c.runs[fp]; ok && !existing.Snapshot().State.Terminal() {
		return
	}

	run := refresh.NewRun(fp, "")
	run.Fields = fields
	c.runs[fp] = run
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.coord.ExecuteKeys(context.Background(), run, []string{key})
	}()
}

// GetBackgroundStatus reports whether a refresh is running for the
// fingerprint and how far along it is.
func (c *Controller) GetBackgroundStatus(fingerprint string) BackgroundStatus {
	c.mu.Lock()
	run, ok := c.runs[fingerprint]
	c.mu.Unlock()
	if !ok {
		return BackgroundStatus{}
	}

	snap := run.Snapshot()
	return BackgroundStatus{
		Running: !snap.State.Terminal(),
		Current: snap.Current,
		Total:   snap.Total,
	}
}

// WaitForRefresh blocks until the fingerprint's current run finishes or
// the context expires. A fingerprint with no run returns immediately.
func (c *Controller) WaitForRefresh(ctx context.Context, fingerprint string) error {
	c.mu.Lock()
	run, ok := c.runs[fingerprint]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return run.Wait(ctx)
}

// Stats reports cache contents without touching the network.
func (c *Controller) Stats(ctx context.Context) (store.Stats, error) {
	return c.store.Stats(ctx)
}

// ClearRecords drops all cached records and the query index.
func (c *Controller) ClearRecords(ctx context.Context) (int, error) {
	c.dropRuns()
	return c.store.ClearRecords(ctx)
}

// ClearActors drops all cached actor identities.
func (c *Controller) ClearActors(ctx context.Context) (int, error) {
	return c.store.ClearActors(ctx)
}

// ClearAll drops everything and returns the record and actor counts.
func (c *Controller) ClearAll(ctx context.Context) (records, actors int, err error) {
	c.dropRuns()
	return c.store.ClearAll(ctx)
}

// dropRuns forgets finished runs so stale terminal states cannot shadow a
// freshly cleared cache.
func (c *Controller) dropRuns() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for fp, run := range c.runs {
		if run.Snapshot().State.Terminal() {
			delete(c.runs, fp)
		}
	}
}

// Close stops accepting new refreshes and waits for in-flight runs to
// finish committing, keeping the store consistent on shutdown.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}
