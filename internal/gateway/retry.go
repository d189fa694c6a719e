package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retrying wraps a Gateway with bounded exponential-backoff retries for
// transient failures. Context cancellation is never retried.
type Retrying struct {
	Inner    Gateway
	MaxTries uint
	// Initial is the first backoff interval. Zero means 250ms.
	Initial time.Duration
}

// NewRetrying wraps inner with up to maxTries attempts per call.
func NewRetrying(inner Gateway, maxTries uint) *Retrying {
	return &Retrying{Inner: inner, MaxTries: maxTries}
}

func retryCall[T any](ctx context.Context, r *Retrying, call func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.Initial
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = 250 * time.Millisecond
	}

	tries := r.MaxTries
	if tries == 0 {
		tries = 3
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := call()
		if err != nil && ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(tries))
}

// List retries the listing call on transient failure.
func (r *Retrying) List(ctx context.Context, query string) ([]string, error) {
	return retryCall(ctx, r, func() ([]string, error) {
		return r.Inner.List(ctx, query)
	})
}

// FetchMinimal retries the minimal fetch on transient failure.
func (r *Retrying) FetchMinimal(ctx context.Context, keys []string) (map[string]string, error) {
	return retryCall(ctx, r, func() (map[string]string, error) {
		return r.Inner.FetchMinimal(ctx, keys)
	})
}

// FetchFull retries the full fetch on transient failure.
func (r *Retrying) FetchFull(ctx context.Context, keys []string, fields []string) (map[string]json.RawMessage, error) {
	return retryCall(ctx, r, func() (map[string]json.RawMessage, error) {
		return r.Inner.FetchFull(ctx, keys, fields)
	})
}

var _ Gateway = (*Retrying)(nil)
