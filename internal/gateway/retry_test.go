package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terabyte/jiraview/internal/gateway"
)

// flakyGateway fails the first failures calls to List, then succeeds.
type flakyGateway struct {
	failures int
	calls    int
}

func (f *flakyGateway) List(context.Context, string) ([]string, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, gateway.Unavailable(errors.New("flaky"))
	}
	return []string{"OK-1"}, nil
}

func (f *flakyGateway) FetchMinimal(context.Context, []string) (map[string]string, error) {
	return nil, gateway.Unavailable(errors.New("always down"))
}

func (f *flakyGateway) FetchFull(context.Context, []string, []string) (map[string]json.RawMessage, error) {
	return nil, gateway.Unavailable(errors.New("always down"))
}

func TestRetryingEventuallySucceeds(t *testing.T) {
	inner := &flakyGateway{failures: 2}
	r := &gateway.Retrying{Inner: inner, MaxTries: 5, Initial: time.Millisecond}

	keys, err := r.List(context.Background(), "project = X")
	require.NoError(t, err)
	assert.Equal(t, []string{"OK-1"}, keys)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingGivesUpAfterMaxTries(t *testing.T) {
	inner := &flakyGateway{failures: 100}
	r := &gateway.Retrying{Inner: inner, MaxTries: 3, Initial: time.Millisecond}

	_, err := r.List(context.Background(), "project = X")
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner := &flakyGateway{failures: 100}
	r := &gateway.Retrying{Inner: inner, MaxTries: 10, Initial: time.Millisecond}

	_, err := r.List(ctx, "project = X")
	require.Error(t, err)
	assert.LessOrEqual(t, inner.calls, 1)
}
