package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Preferred answer lengths and tones.
const (
	LengthShort  = "short"
	LengthMedium = "medium"
	LengthLong   = "long"

	ToneNeutral = "neutral"
	ToneFormal  = "formal"
	ToneCasual  = "casual"
)

// Preferences holds output-shaping preferences inferred from a user's
// refinement requests.
type Preferences struct {
	UserID          string
	PreferredLength string // "short", "medium" or "long"
	PreferredTone   string // "neutral", "formal" or "casual"
	MaxBullets      int
	UpdatedAt       time.Time
}

// DefaultPreferences returns the preferences assumed for a user with no row.
func DefaultPreferences(userID string) *Preferences {
	return &Preferences{
		UserID:          userID,
		PreferredLength: LengthMedium,
		PreferredTone:   ToneNeutral,
		MaxBullets:      7,
	}
}

// GetPreferences returns the user's preferences, or the defaults when none
// have been recorded.
func (s *Store) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	var (
		p         Preferences
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, preferred_length, preferred_tone, max_bullets, updated_at
		FROM user_preferences WHERE user_id = ?
	`, userID).Scan(&p.UserID, &p.PreferredLength, &p.PreferredTone, &p.MaxBullets, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPreferences(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

// SavePreferences upserts the user's preferences.
func (s *Store) SavePreferences(ctx context.Context, p *Preferences) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, preferred_length, preferred_tone, max_bullets, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			preferred_length = excluded.preferred_length,
			preferred_tone = excluded.preferred_tone,
			max_bullets = excluded.max_bullets,
			updated_at = excluded.updated_at
	`, p.UserID, p.PreferredLength, p.PreferredTone, p.MaxBullets, toMillis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}
