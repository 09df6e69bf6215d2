// Package usage implements the per-user usage ledger: request counts over
// rolling minute/hour/day windows, cost accumulated per hour and day, and an
// administrative block flag.
//
// The ledger separates the gating question from the bookkeeping. Callers
//  1. call CheckAndReserve before doing any work,
//  2. call RecordRequest once they have committed to the work, and
//  3. call RecordCost when the real cost of an external call is known.
//
// Windows are wall-clock based: a window's counters reset on the first
// check or increment at or after StartedAt+duration, and the new window
// starts at that moment. A burst never shortens a window.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/bdobrica/prepmate/internal/prepmate/clock"
	"github.com/bdobrica/prepmate/internal/prepmate/store"
)

// ErrStorageUnavailable wraps any storage failure seen while answering a
// ledger question.
var ErrStorageUnavailable = errors.New("usage: storage unavailable")

// ErrResetContention is returned when a window reset keeps losing to
// concurrent writers. The row may still hold an elapsed window, so it is
// not evaluated.
var ErrResetContention = errors.New("usage: window reset contended")

// maxResetAttempts bounds how often refresh reloads the row after losing a
// window-reset compare-and-swap to a concurrent caller.
const maxResetAttempts = 3

// Store is the persistence the ledger needs. *store.Store implements it.
type Store interface {
	GetOrCreateUsage(ctx context.Context, userID string, now time.Time) (*store.UsageRecord, error)
	ResetUsageWindow(ctx context.Context, userID string, w store.UsageWindow, prevStart, now time.Time) (bool, error)
	IncrementRequests(ctx context.Context, userID string, now time.Time) error
	AddCost(ctx context.Context, userID string, amount float64, now time.Time) error
	SetBlocked(ctx context.Context, userID string, blocked bool, reason string, now time.Time) error
}

// Ledger answers "may this user make another request?" and records usage.
// It keeps no per-user state in memory; every answer is computed from the
// stored row, so several processes can share one database.
type Ledger struct {
	store  Store
	clock  clock.Clock
	limits atomic.Pointer[Limits]
	logger *slog.Logger
}

// New returns a Ledger. A nil clock means the system clock; a nil logger
// means slog.Default().
func New(st Store, clk clock.Clock, limits Limits, logger *slog.Logger) *Ledger {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{store: st, clock: clk, logger: logger}
	l.SetLimits(limits)
	return l
}

// SetLimits replaces the active limits. Safe to call while requests are
// being checked; each check uses one consistent snapshot.
func (l *Ledger) SetLimits(limits Limits) {
	limits = limits.withDefaults()
	l.limits.Store(&limits)
}

// Limits returns the active limits.
func (l *Ledger) Limits() Limits {
	return *l.limits.Load()
}

// CheckAndReserve evaluates the user's limits without consuming anything.
//
// When storage fails the returned decision is Allowed with Degraded set and
// the error wraps ErrStorageUnavailable; the caller decides whether to honour
// the permissive answer (see governance.LedgerCheckPolicy).
func (l *Ledger) CheckAndReserve(ctx context.Context, userID string) (Decision, error) {
	now := l.now()
	limits := l.Limits()

	rec, err := l.refresh(ctx, userID, now, limits)
	if err != nil {
		return Decision{Allowed: true, Degraded: true}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return Evaluate(rec, limits, now), nil
}

// RecordRequest counts one request against every window. Call it only once
// the request is actually going to be served.
func (l *Ledger) RecordRequest(ctx context.Context, userID string) error {
	now := l.now()
	if _, err := l.refresh(ctx, userID, now, l.Limits()); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := l.store.IncrementRequests(ctx, userID, now); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// RecordCost settles amount cost units against the hour and day
// accumulators and the lifetime total.
func (l *Ledger) RecordCost(ctx context.Context, userID string, amount float64) error {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("usage: invalid cost amount %v", amount)
	}
	if amount == 0 {
		return nil
	}
	now := l.now()
	if _, err := l.refresh(ctx, userID, now, l.Limits()); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := l.store.AddCost(ctx, userID, amount, now); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Block denies every further request from the user until Unblock is called.
// Rolling counters are not modified.
func (l *Ledger) Block(ctx context.Context, userID, reason string) error {
	now := l.now()
	if _, err := l.store.GetOrCreateUsage(ctx, userID, now); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := l.store.SetBlocked(ctx, userID, true, reason, now); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	l.logger.Info("usage: user blocked", "user_id", userID, "reason", reason)
	return nil
}

// Unblock clears the block flag.
func (l *Ledger) Unblock(ctx context.Context, userID string) error {
	now := l.now()
	if _, err := l.store.GetOrCreateUsage(ctx, userID, now); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := l.store.SetBlocked(ctx, userID, false, "", now); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	l.logger.Info("usage: user unblocked", "user_id", userID)
	return nil
}

// Snapshot returns the user's ledger row with elapsed windows already reset.
func (l *Ledger) Snapshot(ctx context.Context, userID string) (*store.UsageRecord, error) {
	rec, err := l.refresh(ctx, userID, l.now(), l.Limits())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return rec, nil
}

// refresh loads (or lazily creates) the user's row and resets every window
// whose duration has elapsed, so the returned record is valid at now.
func (l *Ledger) refresh(ctx context.Context, userID string, now time.Time, limits Limits) (*store.UsageRecord, error) {
	rec, err := l.store.GetOrCreateUsage(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	for range maxResetAttempts {
		lost := false
		for _, w := range store.UsageWindows {
			cur := rec.Window(w)
			next, reset := AdvanceWindow(*cur, now, limits.Duration(w))
			if !reset {
				continue
			}
			swapped, err := l.store.ResetUsageWindow(ctx, userID, w, cur.StartedAt, now)
			if err != nil {
				return nil, err
			}
			if !swapped {
				lost = true
				break
			}
			*cur = next
		}
		if !lost {
			return rec, nil
		}
		// Someone else reset a window first; their boundary is authoritative.
		if rec, err = l.store.GetOrCreateUsage(ctx, userID, now); err != nil {
			return nil, err
		}
	}
	for _, w := range store.UsageWindows {
		if _, reset := AdvanceWindow(*rec.Window(w), now, limits.Duration(w)); reset {
			return nil, fmt.Errorf("%w: %s window after %d attempts", ErrResetContention, w, maxResetAttempts)
		}
	}
	return rec, nil
}

// now truncates to the store's millisecond resolution so boundaries written
// and later compared are identical.
func (l *Ledger) now() time.Time {
	return l.clock.Now().Truncate(time.Millisecond)
}
