package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terabyte/jiraview/internal/gateway"
)

// recordingGateway captures the batch sizes it receives and can fail
// selected batches.
type recordingGateway struct {
	mu          sync.Mutex
	minimalLens []int
	fullLens    []int
	failBatch   int // 1-based full-fetch batch to fail; 0 = none
}

func (r *recordingGateway) List(context.Context, string) ([]string, error) {
	return nil, nil
}

func (r *recordingGateway) FetchMinimal(_ context.Context, keys []string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.minimalLens = append(r.minimalLens, len(keys))

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = "v"
	}
	return out, nil
}

func (r *recordingGateway) FetchFull(_ context.Context, keys []string, _ []string) (map[string]json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fullLens = append(r.fullLens, len(keys))

	if r.failBatch > 0 && len(r.fullLens) == r.failBatch {
		return nil, gateway.Unavailable(errors.New("batch down"))
	}

	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		out[k] = json.RawMessage(`{}`)
	}
	return out, nil
}

func makeKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("K-%d", i)
	}
	return keys
}

func TestPaginatedSplitsMinimal(t *testing.T) {
	inner := &recordingGateway{}
	p := gateway.NewPaginated(inner, gateway.Limits{Minimal: 100, Full: 50})

	got, err := p.FetchMinimal(context.Background(), makeKeys(250))
	require.NoError(t, err)
	assert.Len(t, got, 250)
	assert.Equal(t, []int{100, 100, 50}, inner.minimalLens)
}

func TestPaginatedSplitsFull(t *testing.T) {
	inner := &recordingGateway{}
	p := gateway.NewPaginated(inner, gateway.Limits{Minimal: 100, Full: 150})

	got, err := p.FetchFull(context.Background(), makeKeys(320), []string{"summary"})
	require.NoError(t, err)
	assert.Len(t, got, 320)
	assert.Equal(t, []int{150, 150, 20}, inner.fullLens)
}

func TestPaginatedPartialFailureKeepsSuccessfulSubset(t *testing.T) {
	inner := &recordingGateway{failBatch: 2}
	p := gateway.NewPaginated(inner, gateway.Limits{Minimal: 100, Full: 100})

	got, err := p.FetchFull(context.Background(), makeKeys(300), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrUnavailable)

	// Batches 1 and 3 succeeded; their 200 keys are returned alongside the error.
	assert.Len(t, got, 200)
	assert.Equal(t, []int{100, 100, 100}, inner.fullLens, "later batches still ran")
}

func TestPaginatedDefaults(t *testing.T) {
	p := gateway.NewPaginated(&recordingGateway{}, gateway.Limits{})
	assert.Equal(t, gateway.DefaultLimits(), p.Limits)
}
