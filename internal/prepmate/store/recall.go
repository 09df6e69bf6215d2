package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Artifact is a generated output (a preparation checklist) kept for
// long-term recall.
type Artifact struct {
	ID        string
	UserID    string
	Topic     string
	Content   string
	CreatedAt time.Time
}

// RecurringTopic is the deduplicated registry entry for a topic the user
// keeps coming back to. NormalizedName is unique per user.
type RecurringTopic struct {
	ID              string
	UserID          string
	RawTopicName    string
	NormalizedName  string
	Frequency       string
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	OccurrenceCount int
	LastArtifactRef string
	LastSummary     string
}

const topicColumns = `id, user_id, raw_topic_name, normalized_name, frequency,
	first_seen_at, last_seen_at, occurrence_count, last_artifact_ref, last_summary`

// SaveArtifact stores a generated artifact.
func (s *Store) SaveArtifact(ctx context.Context, a *Artifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, user_id, topic, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.UserID, a.Topic, a.Content, toMillis(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

// SearchArtifacts returns up to limit of the user's artifacts whose topic or
// content contains keyword (case-insensitive), newest first.
func (s *Store) SearchArtifacts(ctx context.Context, userID, keyword string, limit int) ([]*Artifact, error) {
	pattern := likePattern(keyword)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, topic, content, created_at FROM artifacts
		WHERE user_id = ?
		  AND (`+lowerFunc+`(topic) LIKE ? ESCAPE '\' OR `+lowerFunc+`(content) LIKE ? ESCAPE '\')
		ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, userID, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		var (
			a         Artifact
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Topic, &a.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		a.CreatedAt = fromMillis(createdAt)
		artifacts = append(artifacts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}
	return artifacts, nil
}

// GetRecurringTopic looks up a topic by its normalized name.
func (s *Store) GetRecurringTopic(ctx context.Context, userID, normalizedName string) (*RecurringTopic, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+topicColumns+` FROM recurring_topics
		WHERE user_id = ? AND normalized_name = ?
	`, userID, normalizedName)
	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recurring topic %q: %w", normalizedName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recurring topic: %w", err)
	}
	return t, nil
}

// UpsertRecurringTopic inserts candidate or, when (user_id, normalized_name)
// already exists, increments occurrence_count and refreshes last_seen_at in
// the same statement. The stored row is returned.
func (s *Store) UpsertRecurringTopic(ctx context.Context, candidate *RecurringTopic) (*RecurringTopic, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO recurring_topics (`+topicColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, NULL, NULL)
		ON CONFLICT(user_id, normalized_name) DO UPDATE SET
			occurrence_count = occurrence_count + 1,
			last_seen_at = MAX(last_seen_at, excluded.last_seen_at),
			raw_topic_name = excluded.raw_topic_name,
			frequency = COALESCE(excluded.frequency, frequency)
		RETURNING `+topicColumns,
		candidate.ID, candidate.UserID, candidate.RawTopicName, candidate.NormalizedName,
		nullString(candidate.Frequency), toMillis(candidate.FirstSeenAt), toMillis(candidate.LastSeenAt),
	)
	t, err := scanTopic(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert recurring topic: %w", err)
	}
	return t, nil
}

// AttachArtifactToTopic records the latest artifact generated for a topic.
func (s *Store) AttachArtifactToTopic(ctx context.Context, topicID, artifactID, summary string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recurring_topics SET last_artifact_ref = ?, last_summary = ?
		WHERE id = ?
	`, artifactID, nullString(summary), topicID)
	if err != nil {
		return fmt.Errorf("failed to attach artifact: %w", err)
	}
	return expectOneRow(res, "recurring topic", topicID)
}

// ListRecurringTopics returns the user's topics, most recently seen first.
func (s *Store) ListRecurringTopics(ctx context.Context, userID string) ([]*RecurringTopic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+topicColumns+` FROM recurring_topics
		WHERE user_id = ?
		ORDER BY last_seen_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring topics: %w", err)
	}
	defer rows.Close()

	var topics []*RecurringTopic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recurring topic: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recurring topics: %w", err)
	}
	return topics, nil
}

func scanTopic(row scanner) (*RecurringTopic, error) {
	var (
		t                   RecurringTopic
		frequency           sql.NullString
		firstSeen, lastSeen int64
		artifactRef         sql.NullString
		summary             sql.NullString
	)
	err := row.Scan(&t.ID, &t.UserID, &t.RawTopicName, &t.NormalizedName, &frequency,
		&firstSeen, &lastSeen, &t.OccurrenceCount, &artifactRef, &summary)
	if err != nil {
		return nil, err
	}
	t.Frequency = frequency.String
	t.FirstSeenAt = fromMillis(firstSeen)
	t.LastSeenAt = fromMillis(lastSeen)
	t.LastArtifactRef = artifactRef.String
	t.LastSummary = summary.String
	return &t, nil
}
