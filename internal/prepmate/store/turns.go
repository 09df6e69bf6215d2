package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Turn is one immutable entry in a user's conversation log.
type Turn struct {
	ID        string
	UserID    string
	SessionID string // empty when the turn was logged without a session
	Text      string
	Role      Role
	CreatedAt time.Time
}

const turnColumns = `id, user_id, session_id, text, role, created_at`

// AppendTurn writes a turn to the log.
func (s *Store) AppendTurn(ctx context.Context, turn *Turn) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (`+turnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, turn.ID, turn.UserID, nullString(turn.SessionID), turn.Text, string(turn.Role), toMillis(turn.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit of the most recent turns, oldest first.
// When sessionID is non-empty only that session's turns are considered.
func (s *Store) RecentTurns(ctx context.Context, userID, sessionID string, limit int) ([]*Turn, error) {
	query := `SELECT ` + turnColumns + ` FROM conversation_turns WHERE user_id = ?`
	args := []any{userID}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	// rowid breaks ties between turns logged in the same millisecond.
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	turns, err := s.queryTurns(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SearchTurns returns up to limit of the user's turns whose text contains
// keyword (case-insensitive), newest first.
func (s *Store) SearchTurns(ctx context.Context, userID, keyword string, limit int) ([]*Turn, error) {
	return s.queryTurns(ctx, `
		SELECT `+turnColumns+` FROM conversation_turns
		WHERE user_id = ? AND `+lowerFunc+`(text) LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, userID, likePattern(keyword), limit)
}

func (s *Store) queryTurns(ctx context.Context, query string, args ...any) ([]*Turn, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var (
			t         Turn
			sessionID sql.NullString
			role      string
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &sessionID, &t.Text, &role, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.SessionID = sessionID.String
		t.Role = Role(role)
		t.CreatedAt = fromMillis(createdAt)
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}
