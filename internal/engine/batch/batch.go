// Package batch splits key sets into bounded-size groups so that every
// round trip to the tracker stays under the transport's request ceiling.
//
// The effective ceiling depends on how many fields a request carries, so the
// engine never assumes a requested size is honored end to end; it only
// guarantees it never sends more than the configured limit in one call.
package batch

import (
	"context"
	"errors"
	"fmt"
)

// Common batching errors.
var (
	ErrInvalidSize = errors.New("batch size must be positive")
	ErrNilFunc     = errors.New("batch func cannot be nil")
)

// Func processes one batch. index is 0-based.
type Func[T any] func(ctx context.Context, items []T, index int) error

// Split divides items into consecutive groups of at most size elements.
// The returned slices alias the input. Empty input yields no batches.
func Split[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}

	batches := make([][]T, 0, Count(len(items), size))
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches
}

// Count returns how many batches of at most size are needed for total items.
func Count(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	n := total / size
	if total%size > 0 {
		n++
	}
	return n
}

// Process runs fn over each batch sequentially, stopping at the first error
// or context cancellation.
func Process[T any](ctx context.Context, items []T, size int, fn Func[T]) error {
	if size <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	if fn == nil {
		return ErrNilFunc
	}

	for i, b := range Split(items, size) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx, b, i); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
	}
	return nil
}

// ProcessAll runs fn over each batch sequentially but keeps going after
// failures, joining all errors. Used where the successful subset must be
// kept even when some batches fail.
func ProcessAll[T any](ctx context.Context, items []T, size int, fn Func[T]) error {
	if size <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	if fn == nil {
		return ErrNilFunc
	}

	var errs []error
	for i, b := range Split(items, size) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := fn(ctx, b, i); err != nil {
			errs = append(errs, fmt.Errorf("batch %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
