package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryIndexRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.QueryIndex(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	keys := []string{"P-3", "P-1", "P-2"}
	require.NoError(t, s.SetQueryIndex(ctx, "fp1", "project = P ORDER BY rank", keys))

	e, err := s.QueryIndex(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, "fp1", e.Fingerprint)
	assert.Equal(t, "project = P ORDER BY rank", e.Query)
	assert.Equal(t, keys, e.Keys, "key order is preserved")
	assert.True(t, e.FreshWithin(time.Minute))
}

func TestQueryIndexFreshness(t *testing.T) {
	e := QueryIndexEntry{CachedAt: time.Now().Add(-10 * time.Minute)}
	assert.False(t, e.FreshWithin(5*time.Minute))
	assert.True(t, e.FreshWithin(time.Hour))
}

func TestTouchQueryIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetQueryIndex(ctx, "fp2", "q", []string{"X-1"}))

	before, err := s.QueryIndex(ctx, "fp2")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.TouchQueryIndex(ctx, "fp2"))

	after, err := s.QueryIndex(ctx, "fp2")
	require.NoError(t, err)
	assert.True(t, after.CachedAt.After(before.CachedAt))
	assert.Equal(t, before.Keys, after.Keys)
}

func TestQueryIndexReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetQueryIndex(ctx, "fp3", "q", []string{"A-1", "A-2"}))
	require.NoError(t, s.SetQueryIndex(ctx, "fp3", "q", []string{"A-2"}))

	e, err := s.QueryIndex(ctx, "fp3")
	require.NoError(t, err)
	assert.Equal(t, []string{"A-2"}, e.Keys)
}
