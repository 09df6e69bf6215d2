package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bdobrica/prepmate/common/retry"
)

var fast = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func TestDoValue_ReturnsFirstSuccess(t *testing.T) {
	calls := 0
	got, err := retry.DoValue(context.Background(), fast, func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return fmt.Sprintf("ok after %d", calls), nil
	})
	if err != nil {
		t.Fatalf("expected nil after eventual success, got %v", err)
	}
	if got != "ok after 2" {
		t.Errorf("got %q", got)
	}
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("permanent")
	err := retry.Do(context.Background(), fast, func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ShouldRetryPredicate(t *testing.T) {
	permanent := errors.New("permanent")
	cfg := fast
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	err := retry.Do(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call (no retries for permanent error), got %d", calls)
	}
}

func TestDelayHint(t *testing.T) {
	base := errors.New("slow down")

	if _, ok := retry.DelayHint(base); ok {
		t.Error("plain error must carry no hint")
	}
	if retry.After(nil, time.Second) != nil {
		t.Error("After(nil) must stay nil")
	}

	wrapped := fmt.Errorf("call: %w", retry.After(base, 2*time.Second))
	d, ok := retry.DelayHint(wrapped)
	if !ok || d != 2*time.Second {
		t.Errorf("DelayHint = %v, %v; want 2s, true", d, ok)
	}
	if !errors.Is(wrapped, base) {
		t.Error("hinted error must unwrap to the original")
	}
}

func TestDo_HintIsCappedByMaxDelay(t *testing.T) {
	calls := 0
	start := time.Now()
	err := retry.Do(context.Background(), fast, func() error {
		calls++
		if calls == 1 {
			return retry.After(errors.New("429"), time.Hour)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("hinted wait was not capped: %v", elapsed)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retry.Do(ctx, retry.Config{MaxAttempts: 5, InitialDelay: 10 * time.Millisecond}, func() error {
		calls++
		return errors.New("fail")
	})
	if calls != 0 {
		t.Fatalf("expected no calls with a cancelled context, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
