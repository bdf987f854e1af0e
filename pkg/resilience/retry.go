package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Backoff retries an operation with capped exponential delays and full
// jitter. Zero fields take defaults.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func (b Backoff) withDefaults() Backoff {
	if b.Attempts <= 0 {
		b.Attempts = 3
	}
	if b.Base <= 0 {
		b.Base = 100 * time.Millisecond
	}
	if b.Cap <= 0 {
		b.Cap = 10 * time.Second
	}
	return b
}

// Do calls fn until it succeeds, returns a Permanent error, attempts run
// out, or ctx is done.
func (b Backoff) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	b = b.withDefaults()
	logger := slog.Default().With("component", "backoff", "operation", name)
	var err error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		if attempt > 0 {
			wait := b.delay(attempt)
			logger.Warn("retrying", "attempt", attempt+1, "of", b.Attempts, "wait", wait, "error", err)
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("%s: gave up during backoff: %w", name, ctx.Err())
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return fmt.Errorf("%s: %w", name, perm.err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %d attempts failed: %w", name, b.Attempts, err)
}

// delay draws uniformly from [0, min(Cap, Base*2^(attempt-1))].
func (b Backoff) delay(attempt int) time.Duration {
	ceil := b.Base
	for i := 1; i < attempt && ceil < b.Cap; i++ {
		ceil *= 2
	}
	if ceil > b.Cap {
		ceil = b.Cap
	}
	return time.Duration(rand.Int64N(int64(ceil) + 1))
}
