package resilience

import (
	"context"
	"fmt"
	"time"
)

// Bounded runs fn on its own goroutine and returns its value, or the zero
// value with an error wrapping context.DeadlineExceeded once limit passes.
// A driver that ignores cancellation cannot hold the caller; its late result
// is dropped. A non-positive limit runs fn inline.
func Bounded[T any](ctx context.Context, limit time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if limit <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	var zero T
	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		if cause := context.Cause(ctx); cause != context.DeadlineExceeded {
			return zero, cause
		}
		return zero, fmt.Errorf("exceeded %v: %w", limit, context.DeadlineExceeded)
	}
}
