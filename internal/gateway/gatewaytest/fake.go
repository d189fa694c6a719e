// Package gatewaytest provides a scripted in-memory Gateway for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/terabyte/jiraview/internal/gateway"
)

// Fake is a Gateway whose remote state is set directly by tests. It counts
// every call, can inject failures per call type, and can delay calls to
// widen race windows. Safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	queries  map[string][]string
	versions map[string]string
	payloads map[string]json.RawMessage

	// FailList, FailMinimal, FailFull make the corresponding call fail.
	FailList    atomic.Bool
	FailMinimal atomic.Bool
	FailFull    atomic.Bool

	// Delay is applied at the start of every call when set.
	Delay time.Duration

	ListCalls    atomic.Int64
	MinimalCalls atomic.Int64
	FullCalls    atomic.Int64
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		queries:  make(map[string][]string),
		versions: make(map[string]string),
		payloads: make(map[string]json.RawMessage),
	}
}

// SetQuery scripts the key list a query resolves to.
func (f *Fake) SetQuery(query string, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries[query] = append([]string(nil), keys...)
}

// SetIssue scripts one remote issue: its version and payload.
func (f *Fake) SetIssue(key, version string, payload json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[key] = version
	f.payloads[key] = payload
}

// FailAll toggles failure injection for every call type at once.
func (f *Fake) FailAll(fail bool) {
	f.FailList.Store(fail)
	f.FailMinimal.Store(fail)
	f.FailFull.Store(fail)
}

func (f *Fake) wait(ctx context.Context) error {
	if f.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(f.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List implements gateway.Gateway.
func (f *Fake) List(ctx context.Context, query string) ([]string, error) {
	f.ListCalls.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.FailList.Load() {
		return nil, gateway.Unavailable(errors.New("injected list failure"))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries[query]...), nil
}

// FetchMinimal implements gateway.Gateway.
func (f *Fake) FetchMinimal(ctx context.Context, keys []string) (map[string]string, error) {
	f.MinimalCalls.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.FailMinimal.Load() {
		return nil, gateway.Unavailable(errors.New("injected minimal failure"))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := f.versions[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// FetchFull implements gateway.Gateway.
func (f *Fake) FetchFull(ctx context.Context, keys []string, _ []string) (map[string]json.RawMessage, error) {
	f.FullCalls.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.FailFull.Load() {
		return nil, gateway.Unavailable(errors.New("injected full failure"))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if p, ok := f.payloads[k]; ok {
			out[k] = p
		}
	}
	return out, nil
}

var _ gateway.Gateway = (*Fake)(nil)
