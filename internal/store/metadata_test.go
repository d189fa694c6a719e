package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetaRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Meta(ctx, "link_types", "")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetMeta(ctx, "link_types", "", payload(`["blocks","relates to"]`), time.Hour))

	got, err := s.Meta(ctx, "link_types", "")
	require.NoError(t, err)
	assert.JSONEq(t, `["blocks","relates to"]`, string(got))
}

func TestMetaSubkeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetMeta(ctx, "issue_types", "PROJ", payload(`["Bug"]`), time.Hour))
	require.NoError(t, s.SetMeta(ctx, "issue_types", "OTHER", payload(`["Task"]`), time.Hour))

	got, err := s.Meta(ctx, "issue_types", "PROJ")
	require.NoError(t, err)
	assert.JSONEq(t, `["Bug"]`, string(got))
}

func TestMetaExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Backdated entry with a 1-hour TTL is already expired.
	require.NoError(t, s.SetMetaAt(ctx, "issue_types", "", payload(`[]`), time.Hour, time.Now().Add(-2*time.Hour)))

	_, err := s.Meta(ctx, "issue_types", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidateMeta(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetMeta(ctx, "link_types", "", payload(`[]`), time.Hour))
	require.NoError(t, s.InvalidateMeta(ctx, "link_types", ""))

	_, err := s.Meta(ctx, "link_types", "")
	assert.ErrorIs(t, err, ErrNotFound)

	// Idempotent.
	require.NoError(t, s.InvalidateMeta(ctx, "link_types", ""))
}
