// Package recall is the long-term, cross-session memory: keyword lookup over
// past artifacts and conversation turns, and a registry of recurring topics
// keyed by a normalised topic name.
package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bdobrica/prepmate/internal/prepmate/clock"
	"github.com/bdobrica/prepmate/internal/prepmate/store"
)

// ErrEmptyTopic is returned when a topic has no content left once
// normalised (punctuation or stopwords only).
var ErrEmptyTopic = errors.New("recall: topic has no content after normalisation")

// Search limits.
const (
	DefaultLimitPerKeyword = 3
	maxSearchKeywords      = 3
	turnsPerKeyword        = 5
	maxPastArtifacts       = 3
	maxPastTurns           = 10
	summaryLength          = 200
)

// Store is the persistence the index needs. *store.Store implements it.
type Store interface {
	SearchArtifacts(ctx context.Context, userID, keyword string, limit int) ([]*store.Artifact, error)
	SearchTurns(ctx context.Context, userID, keyword string, limit int) ([]*store.Turn, error)
	SaveArtifact(ctx context.Context, a *store.Artifact) error
	GetRecurringTopic(ctx context.Context, userID, normalizedName string) (*store.RecurringTopic, error)
	UpsertRecurringTopic(ctx context.Context, candidate *store.RecurringTopic) (*store.RecurringTopic, error)
	AttachArtifactToTopic(ctx context.Context, topicID, artifactID, summary string) error
}

// PastContext is what FindPastContext dug up.
type PastContext struct {
	Artifacts []*store.Artifact
	Turns     []*store.Turn
}

// Empty reports whether nothing was found.
func (p *PastContext) Empty() bool {
	return p == nil || (len(p.Artifacts) == 0 && len(p.Turns) == 0)
}

// Index answers recall questions for one store.
type Index struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewIndex returns an Index. A nil clock means the system clock; a nil
// logger means slog.Default().
func NewIndex(st Store, clk clock.Clock, logger *slog.Logger) *Index {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{store: st, clock: clk, logger: logger}
}

// FindPastContext searches the user's history for up to 3 of keywords,
// collecting up to limitPerKeyword artifacts and 5 turns per keyword.
// Results are deduplicated by id in first-seen order and capped at 3
// artifacts and 10 turns.
func (x *Index) FindPastContext(ctx context.Context, userID string, keywords []string, limitPerKeyword int) (*PastContext, error) {
	if limitPerKeyword <= 0 {
		limitPerKeyword = DefaultLimitPerKeyword
	}
	if len(keywords) > maxSearchKeywords {
		keywords = keywords[:maxSearchKeywords]
	}

	out := &PastContext{}
	seenArtifacts := make(map[string]bool)
	seenTurns := make(map[string]bool)

	for _, kw := range keywords {
		artifacts, err := x.store.SearchArtifacts(ctx, userID, kw, limitPerKeyword)
		if err != nil {
			return nil, fmt.Errorf("recall: search artifacts: %w", err)
		}
		for _, a := range artifacts {
			if !seenArtifacts[a.ID] {
				seenArtifacts[a.ID] = true
				out.Artifacts = append(out.Artifacts, a)
			}
		}

		turns, err := x.store.SearchTurns(ctx, userID, kw, turnsPerKeyword)
		if err != nil {
			return nil, fmt.Errorf("recall: search turns: %w", err)
		}
		for _, t := range turns {
			if !seenTurns[t.ID] {
				seenTurns[t.ID] = true
				out.Turns = append(out.Turns, t)
			}
		}
	}

	if len(out.Artifacts) > maxPastArtifacts {
		out.Artifacts = out.Artifacts[:maxPastArtifacts]
	}
	if len(out.Turns) > maxPastTurns {
		out.Turns = out.Turns[:maxPastTurns]
	}
	return out, nil
}

// CheckForRecurringTopic returns the registry entry matching topicText, or
// nil when there is none. It does not modify the registry.
func (x *Index) CheckForRecurringTopic(ctx context.Context, userID, topicText string) (*store.RecurringTopic, error) {
	name := NormalizeTopic(topicText)
	if name == "" {
		return nil, nil
	}
	t, err := x.store.GetRecurringTopic(ctx, userID, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recall: check recurring topic: %w", err)
	}
	return t, nil
}

// FindOrCreateRecurringTopic records an occurrence of topicText: the entry
// is created with a count of 1, or its count is incremented and last seen
// time refreshed. frequency may be empty.
func (x *Index) FindOrCreateRecurringTopic(ctx context.Context, userID, topicText, frequency string) (*store.RecurringTopic, error) {
	name := NormalizeTopic(topicText)
	if name == "" {
		return nil, fmt.Errorf("%w: %q", ErrEmptyTopic, topicText)
	}
	now := x.clock.Now()
	t, err := x.store.UpsertRecurringTopic(ctx, &store.RecurringTopic{
		ID:             uuid.New().String(),
		UserID:         userID,
		RawTopicName:   strings.TrimSpace(topicText),
		NormalizedName: name,
		Frequency:      frequency,
		FirstSeenAt:    now,
		LastSeenAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("recall: record recurring topic: %w", err)
	}
	x.logger.Debug("recall: recurring topic seen",
		"user_id", userID, "topic", name, "count", t.OccurrenceCount)
	return t, nil
}

// SaveArtifact stores a generated artifact and, when topic is non-nil,
// links it to the topic with a short summary.
func (x *Index) SaveArtifact(ctx context.Context, userID, topicText, content string, topic *store.RecurringTopic) (*store.Artifact, error) {
	a := &store.Artifact{
		ID:        uuid.New().String(),
		UserID:    userID,
		Topic:     topicText,
		Content:   content,
		CreatedAt: x.clock.Now(),
	}
	if err := x.store.SaveArtifact(ctx, a); err != nil {
		return nil, fmt.Errorf("recall: save artifact: %w", err)
	}
	if topic != nil {
		if err := x.store.AttachArtifactToTopic(ctx, topic.ID, a.ID, Summarize(content)); err != nil {
			return a, fmt.Errorf("recall: link artifact: %w", err)
		}
	}
	return a, nil
}

// Summarize flattens an artifact to a single line of at most 200 runes for
// the recurring-topic "last time" note.
func Summarize(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	r := []rune(s)
	if len(r) <= summaryLength {
		return s
	}
	return strings.TrimSpace(string(r[:summaryLength])) + "..."
}
