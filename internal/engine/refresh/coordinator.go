package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/terabyte/jiraview/internal/engine/batch"
	"github.com/terabyte/jiraview/internal/gateway"
	"github.com/terabyte/jiraview/internal/store"
)

// verifyConcurrency bounds parallel version-check calls per run.
const verifyConcurrency = 4

// Coordinator drives a Run through the refresh pipeline. It owns no
// long-lived state of its own; everything durable goes through the store,
// and everything remote goes through the gateway.
type Coordinator struct {
	Store   *store.Store
	Gateway gateway.Gateway
	Limits  gateway.Limits
	Fields  []string
	Logger  zerolog.Logger

	// OnRecords, if set, is called after each committed batch with the
	// records that just landed. The controller uses it to harvest actor
	// identities from issue payloads.
	OnRecords func(ctx context.Context, recs []store.Record)
}

// Execute runs the full pipeline for the run's query: resolve the key
// list, verify cached versions, refetch stale records, and commit. It
// always drives the run to a terminal state.
func (c *Coordinator) Execute(ctx context.Context, run *Run) {
	log := c.Logger.With().
		Stringer("run_id", run.ID).
		Str("fingerprint", run.Fingerprint).
		Logger()

	keys, listErr := c.resolveKeys(ctx, run)
	if listErr != nil && keys == nil {
		// Listing failed and no previous key list exists. Nothing can
		// be served and nothing can be refreshed.
		log.Warn().Err(listErr).Msg("refresh failed before resolving keys")
		run.finish(StateErrorNoCache, listErr)
		return
	}

	run.setState(StateServingCache)

	degraded := errors.Join(listErr, c.refreshKeys(ctx, run, keys))
	if degraded != nil {
		log.Warn().Err(degraded).Msg("refresh finished degraded, serving cache")
		run.finish(StateErrorServeCache, degraded)
		return
	}

	// The index timestamp only advances on a clean run; a degraded pass
	// must leave the query looking as stale as it is.
	if err := c.Store.TouchQueryIndex(ctx, run.Fingerprint); err != nil {
		log.Warn().Err(err).Msg("touch query index failed")
	}

	log.Debug().Int("keys", len(keys)).Msg("refresh complete")
	run.finish(StateReady, nil)
}

// ExecuteKeys refreshes an explicit set of keys, bypassing query
// resolution. Used for forced single-record refreshes.
func (c *Coordinator) ExecuteKeys(ctx context.Context, run *Run, keys []string) {
	run.setState(StateServingCache)

	if degraded := c.refreshKeys(ctx, run, keys); degraded != nil {
		run.finish(StateErrorServeCache, degraded)
		return
	}
	run.finish(StateReady, nil)
}

// resolveKeys lists the query's current key sequence and persists it to
// the query index. When the backend is unreachable it falls back to the
// last known key list, however old, so the rest of the pipeline can still
// validate against whatever is cached locally.
func (c *Coordinator) resolveKeys(ctx context.Context, run *Run) ([]string, error) {
	run.setState(StateResolvingKeys)

	keys, err := c.Gateway.List(ctx, run.Query)
	if err == nil {
		if serr := c.Store.SetQueryIndex(ctx, run.Fingerprint, run.Query, keys); serr != nil {
			return nil, fmt.Errorf("persist query index: %w", serr)
		}
		return keys, nil
	}

	entry, ierr := c.Store.QueryIndex(ctx, run.Fingerprint)
	if ierr != nil {
		return nil, err
	}

	c.Logger.Debug().
		Str("fingerprint", run.Fingerprint).
		Err(err).
		Msg("listing unavailable, reusing last known key list")
	return entry.Keys, err
}

// refreshKeys verifies, diffs, refetches, and commits the given keys.
// It returns the joined error of any degraded stages, or nil when every
// record is confirmed current.
func (c *Coordinator) refreshKeys(ctx context.Context, run *Run, keys []string) error {
	if len(keys) == 0 {
		run.setProgress(0, 0)
		return nil
	}

	run.setState(StateVerifying)
	remote, verifyErr := c.verify(ctx, keys)
	if len(remote) == 0 && verifyErr != nil {
		return verifyErr
	}

	run.setState(StateDiffing)
	stale, err := c.diff(ctx, keys, remote)
	if err != nil {
		return err
	}
	run.setProgress(0, len(stale))

	run.setState(StateRefetching)
	fetchErr := c.refetch(ctx, run, stale, remote)

	return errors.Join(verifyErr, fetchErr)
}

// verify fetches the remote version for every key, splitting the work
// into minimal-payload batches checked concurrently. Failed batches are
// dropped from the result; their keys simply stay unverified this round.
func (c *Coordinator) verify(ctx context.Context, keys []string) (map[string]string, error) {
	chunks := batch.Split(keys, c.Limits.Minimal)

	var (
		mu     sync.Mutex
		remote = make(map[string]string, len(keys))
		errs   []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrency)
	for _, chunk := range chunks {
		g.Go(func() error {
			versions, verr := c.Gateway.FetchMinimal(gctx, chunk)
			mu.Lock()
			defer mu.Unlock()
			if verr != nil {
				errs = append(errs, verr)
				return nil
			}
			for k, v := range versions {
				remote[k] = v
			}
			return nil
		})
	}
	if werr := g.Wait(); werr != nil {
		errs = append(errs, werr)
	}

	return remote, errors.Join(errs...)
}

// diff returns the keys whose cached copy is missing or older than the
// remote version. Versions are ISO-8601 timestamps, so lexicographic
// comparison orders them correctly.
func (c *Coordinator) diff(ctx context.Context, keys []string, remote map[string]string) ([]string, error) {
	cached, err := c.Store.GetMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("read cached records: %w", err)
	}

	var stale []string
	for key, version := range remote {
		rec, ok := cached[key]
		if !ok || version > rec.Version {
			stale = append(stale, key)
		}
	}
	sort.Strings(stale)
	return stale, nil
}

// refetch pulls full payloads for the stale keys and commits each batch
// as soon as it arrives, so a failure partway through still leaves the
// earlier batches durably cached. Committed versions come from the remote
// map produced by verify, not from the payload, so a run with a narrow
// field list still records the version it was refreshed against.
func (c *Coordinator) refetch(ctx context.Context, run *Run, stale []string, remote map[string]string) error {
	if len(stale) == 0 {
		return nil
	}

	var errs []error
	fields := c.Fields
	if run.Fields != nil {
		fields = run.Fields
	}

	chunks := batch.Split(stale, c.Limits.Full)
	for _, chunk := range chunks {
		payloads, ferr := c.Gateway.FetchFull(ctx, chunk, fields)
		if ferr != nil {
			errs = append(errs, ferr)
			continue
		}

		run.setState(StateCommitting)
		recs := make([]store.Record, 0, len(payloads))
		for key, payload := range payloads {
			recs = append(recs, store.Record{
				Key:     key,
				Version: remote[key],
				Payload: payload,
			})
		}
		if cerr := c.Store.SetMany(ctx, recs); cerr != nil {
			errs = append(errs, fmt.Errorf("commit batch: %w", cerr))
			continue
		}
		if c.OnRecords != nil {
			c.OnRecords(ctx, recs)
		}

		run.advance(len(chunk))
		run.setState(StateRefetching)
	}

	return errors.Join(errs...)
}
