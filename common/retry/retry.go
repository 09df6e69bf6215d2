// Package retry provides exponential-backoff retry logic for transient errors.
//
// Usage:
//
//	resp, err := retry.DoValue(ctx, retry.DefaultConfig, func() (*Response, error) {
//	    return client.Call(ctx)
//	})
//
// A failed attempt may ask for a specific wait (an HTTP Retry-After header,
// say) by returning retry.After(err, d); the hint replaces the backoff delay
// for that attempt, still capped by MaxDelay.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls the retry behaviour.
type Config struct {
	// MaxAttempts is the total number of attempts (including the first).
	// Zero or negative values are treated as 1 (no retries).
	MaxAttempts int
	// InitialDelay is the wait before the second attempt.
	// Subsequent delays are doubled up to MaxDelay.
	InitialDelay time.Duration
	// MaxDelay caps the per-attempt wait, hinted waits included.
	MaxDelay time.Duration
	// ShouldRetry is an optional predicate that lets callers classify errors
	// as retryable.  When nil, all non-nil errors are retried.
	ShouldRetry func(err error) bool
}

// DefaultConfig provides sensible defaults for short-lived network calls.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
}

type hinted struct {
	err   error
	after time.Duration
}

func (h *hinted) Error() string { return h.err.Error() }
func (h *hinted) Unwrap() error { return h.err }

// After annotates err with the delay the callee asked for before the next
// attempt. A nil err stays nil.
func After(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &hinted{err: err, after: d}
}

// DelayHint returns the delay attached to err by After, if any.
func DelayHint(err error) (time.Duration, bool) {
	var h *hinted
	if errors.As(err, &h) && h.after > 0 {
		return h.after, true
	}
	return 0, false
}

// Do calls fn up to cfg.MaxAttempts times, backing off exponentially between
// attempts.  It stops early when ctx is cancelled or fn returns nil.
// The error from the last attempt is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoValue(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoValue is Do for functions that produce a result. The result of the
// first successful attempt is returned.
func DoValue[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	cfg = cfg.normalized()

	var (
		zero    T
		lastErr error
	)
	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, errors.Join(lastErr, err)
		}

		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !cfg.ShouldRetry(err) || attempt == cfg.MaxAttempts {
			break
		}

		wait := delay
		if hint, ok := DelayHint(err); ok {
			wait = hint
		}
		wait = min(wait, cfg.MaxDelay)

		slog.Debug("retry: attempt failed, retrying",
			"attempt", attempt, "max", cfg.MaxAttempts,
			"err", err, "delay", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}

		delay = min(delay*2, cfg.MaxDelay)
	}
	return zero, lastErr
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultConfig.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultConfig.MaxDelay
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = func(error) bool { return true }
	}
	return c
}
