package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terabyte/jiraview/internal/gateway"
	"github.com/terabyte/jiraview/internal/gateway/gatewaytest"
	"github.com/terabyte/jiraview/internal/store"
)

func newCoordinator(t *testing.T, fake gateway.Gateway) (*Coordinator, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return &Coordinator{
		Store:   st,
		Gateway: fake,
		Limits:  gateway.Limits{Minimal: 2, Full: 2},
		Fields:  []string{"summary", "updated"},
		Logger:  zerolog.Nop(),
	}, st
}

// issue builds a payload carrying the same updated timestamp the fake
// reports as the issue's remote version.
func issue(key, version string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"key":%q,"fields":{"updated":%q,"summary":"issue %s"}}`, key, version, key))
}

func seedRemote(fake *gatewaytest.Fake, query string, keys ...string) {
	fake.SetQuery(query, keys...)
	for i, key := range keys {
		fake.SetIssue(key, fmt.Sprintf("2026-01-0%dT00:00:00.000+0000", i+1), issue(key, fmt.Sprintf("2026-01-0%dT00:00:00.000+0000", i+1)))
	}
}

func execute(c *Coordinator, run *Run) Snapshot {
	c.Execute(context.Background(), run)
	return run.Snapshot()
}

func TestExecuteColdCache(t *testing.T) {
	fake := gatewaytest.New()
	seedRemote(fake, "project = P", "P-1", "P-2", "P-3")
	c, st := newCoordinator(t, fake)

	run := NewRun("fp-1", "project = P")
	snap := execute(c, run)

	assert.Equal(t, StateReady, snap.State)
	assert.NoError(t, snap.Err)
	assert.Equal(t, 3, snap.Current)
	assert.Equal(t, 3, snap.Total)

	ctx := context.Background()
	recs, err := st.GetMany(ctx, []string{"P-1", "P-2", "P-3"})
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	assert.Equal(t, "2026-01-02T00:00:00.000+0000", recs["P-2"].Version)

	entry, err := st.QueryIndex(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"P-1", "P-2", "P-3"}, entry.Keys)
}

func TestExecuteSkipsCurrentRecords(t *testing.T) {
	fake := gatewaytest.New()
	seedRemote(fake, "project = P", "P-1", "P-2")
	c, st := newCoordinator(t, fake)
	ctx := context.Background()

	// Warm the cache, then run again against unchanged remote state.
	require.Equal(t, StateReady, execute(c, NewRun("fp-1", "project = P")).State)
	fullBefore := fake.FullCalls.Load()

	snap := execute(c, NewRun("fp-1", "project = P"))
	assert.Equal(t, StateReady, snap.State)
	assert.Equal(t, 0, snap.Total)
	assert.Equal(t, fullBefore, fake.FullCalls.Load(), "nothing changed, nothing refetched")

	recs, err := st.GetMany(ctx, []string{"P-1", "P-2"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestExecuteRefetchesOnlyChanged(t *testing.T) {
	fake := gatewaytest.New()
	seedRemote(fake, "project = P", "P-1", "P-2", "P-3")
	c, st := newCoordinator(t, fake)
	ctx := context.Background()

	require.Equal(t, StateReady, execute(c, NewRun("fp-1", "project = P")).State)

	// Bump one issue remotely.
	fake.SetIssue("P-2", "2026-03-01T00:00:00.000+0000", issue("P-2", "2026-03-01T00:00:00.000+0000"))

	snap := execute(c, NewRun("fp-1", "project = P"))
	assert.Equal(t, StateReady, snap.State)
	assert.Equal(t, 1, snap.Total)

	rec, err := st.Get(ctx, "P-2")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T00:00:00.000+0000", rec.Version)

	// The untouched neighbors keep their original versions.
	rec, err = st.Get(ctx, "P-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00.000+0000", rec.Version)
}

func TestExecuteCommitsVerifiedVersions(t *testing.T) {
	fake := gatewaytest.New()
	fake.SetQuery("project = P", "P-1")
	// A narrow field set means the payload carries no updated timestamp;
	// the committed version must come from the verify pass instead.
	fake.SetIssue("P-1", "2026-02-01T00:00:00.000+0000",
		json.RawMessage(`{"key":"P-1","fields":{"summary":"trimmed field set"}}`))
	c, st := newCoordinator(t, fake)
	c.Fields = []string{"summary"}
	ctx := context.Background()

	require.Equal(t, StateReady, execute(c, NewRun("fp-1", "project = P")).State)

	rec, err := st.Get(ctx, "P-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-01T00:00:00.000+0000", rec.Version)

	// With the version durably recorded, the unchanged issue must not be
	// treated as stale on the next pass.
	fullBefore := fake.FullCalls.Load()
	require.Equal(t, StateReady, execute(c, NewRun("fp-1", "project = P")).State)
	assert.Equal(t, fullBefore, fake.FullCalls.Load(), "current record refetched")
}

func TestExecuteDegradedRunKeepsIndexAge(t *testing.T) {
	fake := gatewaytest.New()
	seedRemote(fake, "project = P", "P-1", "P-2")
	c, st := newCoordinator(t, fake)
	ctx := context.Background()

	require.Equal(t, StateReady, execute(c, NewRun("fp-1", "project = P")).State)
	before, err := st.QueryIndex(ctx, "fp-1")
	require.NoError(t, err)

	// A fully degraded run serves the old cache; the index timestamp
	// must keep reporting how old that cache really is.
	fake.FailAll(true)
	snap := execute(c, NewRun("fp-1", "project = P"))
	require.Equal(t, StateErrorServeCache, snap.State)

	after, err := st.QueryIndex(ctx, "fp-1")
	require.NoError(t, err)
	assert.True(t, after.CachedAt.Equal(before.CachedAt), "degraded run re-stamped the index")
}

func TestExecuteListFailureWithoutIndex(t *testing.T) {
	fake := gatewaytest.New()
	fake.FailAll(true)
	c, _ := newCoordinator(t, fake)

	snap := execute(c, NewRun("fp-1", "project = P"))
	assert.Equal(t, StateErrorNoCache, snap.State)
	assert.ErrorIs(t, snap.Err, gateway.ErrUnavailable)
}

func TestExecuteListFailureFallsBackToIndex(t *testing.T) {
	fake := gatewaytest.New()
	seedRemote(fake, "project = P", "P-1", "P-2")
	c, st := newCoordinator(t, fake)
	ctx := context.Background()

	require.Equal(t, StateReady, execute(c, NewRun("fp-1", "project = P")).State)

	// Backend goes away entirely. The cached records must survive and
	// the run must end in the degraded-but-served state.
	fake.FailAll(true)
	snap := execute(c, NewRun("fp-1", "project = P"))
	assert.Equal(t, StateErrorServeCache, snap.State)
	assert.ErrorIs(t, snap.Err, gateway.ErrUnavailable)

	recs, err := st.GetMany(ctx, []string{"P-1", "P-2"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestExecuteVerifyFailureServesCache(t *testing.T) {
	fake := gatewaytest.New()
	seedRemote(fake, "project = P", "P-1", "P-2")
	c, _ := newCoordinator(t, fake)

	require.Equal(t, StateReady, execute(c, NewRun("fp-1", "project = P")).State)

	fake.FailMinimal.Store(true)
	fullBefore := fake.FullCalls.Load()

	snap := execute(c, NewRun("fp-1", "project = P"))
	assert.Equal(t, StateErrorServeCache, snap.State)
	assert.ErrorIs(t, snap.Err, gateway.ErrUnavailable)
	assert.Equal(t, fullBefore, fake.FullCalls.Load(), "no refetch without verified versions")
}

// failAfterFull lets the first n FetchFull calls through, then fails.
type failAfterFull struct {
	gateway.Gateway
	mu    sync.Mutex
	left  int
	calls int
}

func (g *failAfterFull) FetchFull(ctx context.Context, keys []string, fields []string) (map[string]json.RawMessage, error) {
	g.mu.Lock()
	g.calls++
	ok := g.left > 0
	g.left--
	g.mu.Unlock()
	if !ok {
		return nil, gateway.Unavailable(fmt.Errorf("injected failure on call %d", g.calls))
	}
	return g.Gateway.FetchFull(ctx, keys, fields)
}

func TestExecuteCommitsBatchesBeforeFailure(t *testing.T) {
	fake := gatewaytest.New()
	seedRemote(fake, "project = P", "P-1", "P-2", "P-3", "P-4")
	c, st := newCoordinator(t, fake)
	c.Gateway = &failAfterFull{Gateway: fake, left: 1}
	ctx := context.Background()

	snap := execute(c, NewRun("fp-1", "project = P"))
	assert.Equal(t, StateErrorServeCache, snap.State)
	assert.Equal(t, 2, snap.Current, "first batch still committed")
	assert.Equal(t, 4, snap.Total)

	recs, err := st.GetMany(ctx, []string{"P-1", "P-2", "P-3", "P-4"})
	require.NoError(t, err)
	assert.Len(t, recs, 2, "only the successful batch lands")
}

func TestExecuteKeysRefreshesSubset(t *testing.T) {
	fake := gatewaytest.New()
	seedRemote(fake, "project = P", "P-1", "P-2")
	c, st := newCoordinator(t, fake)
	ctx := context.Background()

	run := NewRun("key:P-2", "")
	c.ExecuteKeys(ctx, run, []string{"P-2"})

	snap := run.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.EqualValues(t, 0, fake.ListCalls.Load(), "explicit keys bypass listing")

	rec, err := st.Get(ctx, "P-2")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02T00:00:00.000+0000", rec.Version)

	_, err = st.Get(ctx, "P-1")
	assert.ErrorIs(t, err, store.ErrNotFound, "unrequested keys stay untouched")
}

func TestExecuteInvokesOnRecords(t *testing.T) {
	fake := gatewaytest.New()
	seedRemote(fake, "project = P", "P-1", "P-2", "P-3")
	c, _ := newCoordinator(t, fake)

	var (
		mu   sync.Mutex
		seen []string
	)
	c.OnRecords = func(_ context.Context, recs []store.Record) {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range recs {
			seen = append(seen, r.Key)
		}
	}

	require.Equal(t, StateReady, execute(c, NewRun("fp-1", "project = P")).State)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"P-1", "P-2", "P-3"}, seen)
}

func TestRunWaitHonorsContext(t *testing.T) {
	run := NewRun("fp-1", "project = P")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, run.Wait(ctx), context.DeadlineExceeded)

	run.finish(StateReady, nil)
	assert.NoError(t, run.Wait(context.Background()))
}

func TestRunFinishIsIdempotent(t *testing.T) {
	run := NewRun("fp-1", "project = P")
	run.finish(StateErrorNoCache, gateway.Unavailable(fmt.Errorf("down")))
	run.finish(StateReady, nil)

	snap := run.Snapshot()
	assert.Equal(t, StateErrorNoCache, snap.State)
	assert.ErrorIs(t, snap.Err, gateway.ErrUnavailable)
}
