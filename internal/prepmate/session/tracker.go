// Package session tracks short-lived "active conversation" sessions.
//
// A user has at most one active session. It is created by the first message
// after a quiet period, bumped by every following message and retired once
// it has been idle for the inactivity timeout. All mutations go through
// conditional statements in the store, so concurrent deliveries for the same
// user converge on one session without locking in this process.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/prepmate/internal/prepmate/clock"
	"github.com/bdobrica/prepmate/internal/prepmate/store"
)

// DefaultInactivityTimeout is how long a session survives without a message.
const DefaultInactivityTimeout = 10 * time.Minute

// ErrInvariantViolation is logged when more than one live session is found
// for a user. The tracker repairs the state and carries on.
var ErrInvariantViolation = errors.New("session: more than one active session")

// Store is the persistence the tracker needs. *store.Store implements it.
type Store interface {
	ReapExpiredSessions(ctx context.Context, userID string, cutoff time.Time) (int64, error)
	ActivateSession(ctx context.Context, candidate *store.Session, cutoff time.Time) (*store.Session, bool, error)
	TouchSession(ctx context.Context, id string, now time.Time) error
	DeactivateSession(ctx context.Context, id string) error
	ListActiveSessions(ctx context.Context, userID string) ([]*store.Session, error)
}

// Config holds Tracker settings.
type Config struct {
	// InactivityTimeout retires a session once this long has passed since
	// its last message. Default: 10 minutes.
	InactivityTimeout time.Duration
}

// Tracker manages the session lifecycle on top of a Store.
// It is safe for concurrent use.
type Tracker struct {
	store   Store
	clock   clock.Clock
	timeout time.Duration
	logger  *slog.Logger
}

// NewTracker returns a Tracker. A nil clock means the system clock; a nil
// logger means slog.Default().
func NewTracker(st Store, clk clock.Clock, cfg Config, logger *slog.Logger) *Tracker {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: st, clock: clk, timeout: cfg.InactivityTimeout, logger: logger}
}

// Timeout returns the inactivity timeout in use.
func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}

// ReapExpired deactivates the user's sessions that have been idle for at
// least the inactivity timeout. It is idempotent: a second call with no new
// activity finds nothing to do.
func (t *Tracker) ReapExpired(ctx context.Context, userID string) (int64, error) {
	n, err := t.store.ReapExpiredSessions(ctx, userID, t.cutoff(t.now()))
	if err != nil {
		return 0, fmt.Errorf("session: reap: %w", err)
	}
	if n > 0 {
		t.logger.Debug("session: reaped expired sessions", "user_id", userID, "count", n)
	}
	return n, nil
}

// GetOrCreateActive returns the user's live session, bumping its last
// activity to now, or creates a new one tagged with topic. The second
// result reports whether the session was created by this call.
func (t *Tracker) GetOrCreateActive(ctx context.Context, userID, topic string) (*store.Session, bool, error) {
	now := t.now()
	candidate := &store.Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		Topic:          topic,
		CreatedAt:      now,
		LastActivityAt: now,
		IsActive:       true,
	}

	sess, created, err := t.store.ActivateSession(ctx, candidate, t.cutoff(now))
	if err != nil {
		return nil, false, fmt.Errorf("session: activate: %w", err)
	}
	if created {
		t.logger.Info("session: started", "user_id", userID, "session_id", sess.ID)
		if kept, err := t.enforceSingleActive(ctx, userID); err == nil && kept != nil && kept.ID != sess.ID {
			// Another live session won the repair; attribute the turn to it.
			return kept, false, nil
		}
	}
	return sess, created, nil
}

// Touch records activity on a session.
func (t *Tracker) Touch(ctx context.Context, sessionID string) error {
	if err := t.store.TouchSession(ctx, sessionID, t.now()); err != nil {
		return fmt.Errorf("session: touch: %w", err)
	}
	return nil
}

// End deactivates a session explicitly, e.g. when the user closes the
// conversation.
func (t *Tracker) End(ctx context.Context, sessionID string) error {
	if err := t.store.DeactivateSession(ctx, sessionID); err != nil {
		return fmt.Errorf("session: end: %w", err)
	}
	t.logger.Info("session: ended", "session_id", sessionID)
	return nil
}

// Active returns the user's live session, or nil when the user has none or
// it has expired. It never creates or bumps a session.
func (t *Tracker) Active(ctx context.Context, userID string) (*store.Session, error) {
	sess, err := t.enforceSingleActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if StateOf(sess, t.now(), t.timeout) != SessionActive {
		return nil, nil
	}
	return sess, nil
}

// enforceSingleActive returns the user's most recently touched live
// session. If more than one is live, every other one is deactivated and the
// violation is logged.
func (t *Tracker) enforceSingleActive(ctx context.Context, userID string) (*store.Session, error) {
	live, err := t.store.ListActiveSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("session: list active: %w", err)
	}
	if len(live) == 0 {
		return nil, nil
	}

	keep := live[0]
	for _, s := range live[1:] {
		if s.LastActivityAt.After(keep.LastActivityAt) {
			keep = s
		}
	}
	if len(live) == 1 {
		return keep, nil
	}

	t.logger.Warn("session: repairing duplicate active sessions",
		"anomaly", "invariant_violation",
		"user_id", userID,
		"count", len(live),
		"kept", keep.ID,
		"error", ErrInvariantViolation,
	)
	for _, s := range live {
		if s.ID == keep.ID {
			continue
		}
		if err := t.store.DeactivateSession(ctx, s.ID); err != nil {
			return nil, fmt.Errorf("session: repair %s: %w", s.ID, err)
		}
	}
	return keep, nil
}

func (t *Tracker) cutoff(now time.Time) time.Time {
	return now.Add(-t.timeout)
}

func (t *Tracker) now() time.Time {
	return t.clock.Now().Truncate(time.Millisecond)
}
