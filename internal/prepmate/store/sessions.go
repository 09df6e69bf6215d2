package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session marks a user as mid-conversation. At most one session per user
// has IsActive set; the partial unique index idx_sessions_one_active
// enforces it.
type Session struct {
	ID             string
	UserID         string
	Topic          string
	CreatedAt      time.Time
	LastActivityAt time.Time
	IsActive       bool
}

const sessionColumns = `id, user_id, topic, created_at, last_activity_at, is_active`

// maxActivateAttempts bounds the reactivate/insert loop in ActivateSession.
// Each lost race means another delivery created the session we will find
// on the next pass, so two passes are normally enough.
const maxActivateAttempts = 3

// ReapExpiredSessions deactivates the user's live sessions whose last
// activity is at or before cutoff. It returns how many were deactivated.
func (s *Store) ReapExpiredSessions(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = 0
		WHERE user_id = ? AND is_active = 1 AND last_activity_at <= ?
	`, userID, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to reap sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}

// ActivateSession returns the user's live session, bumping its
// last_activity_at to candidate.LastActivityAt, when one exists with
// activity after cutoff. Otherwise it retires stale sessions and inserts
// candidate. The second return value reports whether candidate was inserted.
//
// The insert is conditional on the partial unique index, so two concurrent
// callers for the same user end up sharing one session.
func (s *Store) ActivateSession(ctx context.Context, candidate *Session, cutoff time.Time) (*Session, bool, error) {
	now := toMillis(candidate.LastActivityAt)

	for range maxActivateAttempts {
		row := s.db.QueryRowContext(ctx, `
			UPDATE sessions SET last_activity_at = MAX(last_activity_at, ?)
			WHERE user_id = ? AND is_active = 1 AND last_activity_at > ?
			RETURNING `+sessionColumns,
			now, candidate.UserID, toMillis(cutoff),
		)
		sess, err := scanSession(row)
		if err == nil {
			return sess, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("failed to refresh session: %w", err)
		}

		if _, err := s.ReapExpiredSessions(ctx, candidate.UserID, cutoff); err != nil {
			return nil, false, err
		}

		res, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, 1)
		`, candidate.ID, candidate.UserID, nullString(candidate.Topic),
			toMillis(candidate.CreatedAt), now)
		if err != nil {
			return nil, false, fmt.Errorf("failed to insert session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, false, fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n == 1 {
			created := *candidate
			created.IsActive = true
			return &created, true, nil
		}
	}

	return nil, false, fmt.Errorf("failed to activate session for %s: contention after %d attempts",
		candidate.UserID, maxActivateAttempts)
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// TouchSession sets last_activity_at to now. Timestamps never move backwards.
func (s *Store) TouchSession(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity_at = MAX(last_activity_at, ?)
		WHERE id = ?
	`, toMillis(now), id)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return expectOneRow(res, "session", id)
}

// DeactivateSession marks a session inactive. Sessions are never deleted.
func (s *Store) DeactivateSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate session: %w", err)
	}
	return expectOneRow(res, "session", id)
}

// ListActiveSessions returns the user's live sessions, most recently
// active first.
func (s *Store) ListActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND is_active = 1
		ORDER BY last_activity_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// CountActiveSessions returns the number of live sessions across all users.
func (s *Store) CountActiveSessions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE is_active = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

func scanSession(row scanner) (*Session, error) {
	var (
		sess                Session
		topic               sql.NullString
		createdAt, activeAt int64
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &topic, &createdAt, &activeAt, &sess.IsActive); err != nil {
		return nil, err
	}
	sess.Topic = topic.String
	sess.CreatedAt = fromMillis(createdAt)
	sess.LastActivityAt = fromMillis(activeAt)
	return &sess, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
