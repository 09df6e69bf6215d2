// Package governance runs the per-message admission and continuity flow.
//
// For every inbound message the Orchestrator, in order: retires the user's
// stale session, checks the usage ledger, counts the request, attaches the
// message to a session, logs it, decides whether it continues the
// conversation, and assembles the context the reply generator needs. Each
// storage-backed step has a named FailurePolicy; a failing step is logged
// with an "anomaly" attribute and never surfaces to the user as an error.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bdobrica/prepmate/internal/prepmate/clock"
	"github.com/bdobrica/prepmate/internal/prepmate/continuity"
	"github.com/bdobrica/prepmate/internal/prepmate/observability"
	"github.com/bdobrica/prepmate/internal/prepmate/recall"
	"github.com/bdobrica/prepmate/internal/prepmate/session"
	"github.com/bdobrica/prepmate/internal/prepmate/store"
	"github.com/bdobrica/prepmate/internal/prepmate/usage"
)

// Store is the turn log and preference storage the orchestrator uses
// directly. *store.Store implements it.
type Store interface {
	AppendTurn(ctx context.Context, turn *store.Turn) error
	RecentTurns(ctx context.Context, userID, sessionID string, limit int) ([]*store.Turn, error)
	GetPreferences(ctx context.Context, userID string) (*store.Preferences, error)
	SavePreferences(ctx context.Context, p *store.Preferences) error
}

// Components are the collaborators an Orchestrator composes.
type Components struct {
	Ledger   *usage.Ledger
	Sessions *session.Tracker
	Detector *continuity.Detector
	Recall   *recall.Index
	Store    Store
	Clock    clock.Clock // nil means the system clock
}

// Config holds Orchestrator settings. Zero values select the defaults.
type Config struct {
	// ContextMessages is how many session turns feed the classifier and the
	// follow-up context. Default: 10.
	ContextMessages int
	// MaxContextTokens caps the context handed to the generator.
	// Default: 2000.
	MaxContextTokens int
	// LimitPerKeyword bounds each recall search. Default: 3.
	LimitPerKeyword int
	// LedgerCheckPolicy decides what happens when limits cannot be read.
	// Default: FailOpen.
	LedgerCheckPolicy FailurePolicy
}

func (c Config) withDefaults() Config {
	if c.ContextMessages <= 0 {
		c.ContextMessages = continuity.DefaultContextMessages
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = recall.DefaultMaxContextTokens
	}
	if c.LimitPerKeyword <= 0 {
		c.LimitPerKeyword = recall.DefaultLimitPerKeyword
	}
	if !c.LedgerCheckPolicy.Valid() {
		c.LedgerCheckPolicy = LedgerCheckPolicy
	}
	return c
}

// Outcome is the result of governing one inbound message.
type Outcome struct {
	UserID string
	Text   string
	TurnID string // empty when the turn could not be logged

	// Allowed is false when the ledger refused the message; Denial then
	// carries the user-facing reason and nothing else is set.
	Allowed bool
	Denial  *usage.Decision

	// Session is nil when the tracker was unavailable.
	Session        *store.Session
	SessionCreated bool

	// Closing is set when the message was a sign-off and the session was
	// ended.
	Closing bool

	Decision continuity.Decision

	// Topic is the recurring topic this message matched, if any.
	Topic *store.RecurringTopic
	// PastContext is rendered recall context for a new topic, truncated.
	PastContext string

	Preferences store.Preferences

	// Degraded lists the steps that failed and were skipped.
	Degraded []string
}

// Orchestrator runs GovernTurn. It holds no per-user state and is safe
// for concurrent use.
type Orchestrator struct {
	ledger   *usage.Ledger
	sessions *session.Tracker
	detector *continuity.Detector
	recall   *recall.Index
	store    Store
	clock    clock.Clock
	cfg      Config
	logger   *slog.Logger
}

// New returns an Orchestrator. A nil logger means slog.Default().
func New(c Components, cfg Config, logger *slog.Logger) *Orchestrator {
	if c.Clock == nil {
		c.Clock = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ledger:   c.Ledger,
		sessions: c.Sessions,
		detector: c.Detector,
		recall:   c.Recall,
		store:    c.Store,
		clock:    c.Clock,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// GovernTurn admits and routes one inbound message. It never returns an
// error: failures are logged and reflected in Outcome.Degraded.
func (o *Orchestrator) GovernTurn(ctx context.Context, userID, text string) *Outcome {
	log := observability.FromContext(ctx, o.logger).With("user_id", userID)
	out := &Outcome{UserID: userID, Text: text, Decision: continuity.NewTopic()}

	if _, err := o.sessions.ReapExpired(ctx, userID); err != nil {
		o.degrade(log, out, StepReap, SessionPolicy, AnomalyStorageUnavailable, err)
	}

	dec, err := o.ledger.CheckAndReserve(ctx, userID)
	if err != nil {
		o.degrade(log, out, StepLedgerCheck, o.cfg.LedgerCheckPolicy, ledgerAnomaly(err), err)
		if o.cfg.LedgerCheckPolicy == FailClosed {
			dec = usage.Unavailable()
		} else {
			dec = usage.Allow()
			dec.Degraded = true
		}
	}
	if !dec.Allowed {
		out.Denial = &dec
		log.Info("turn denied", "limit", string(dec.Limit), "retry_after_seconds", dec.RetryAfterSeconds)
		return out
	}
	out.Allowed = true

	if err := o.ledger.RecordRequest(ctx, userID); err != nil {
		o.degrade(log, out, StepLedgerCost, LedgerRecordPolicy, ledgerAnomaly(err), err)
	}

	pattern := recall.DetectRecurringPattern(text)
	sess, created, err := o.sessions.GetOrCreateActive(ctx, userID, pattern.Topic)
	if err != nil {
		o.degrade(log, out, StepSession, SessionPolicy, AnomalyStorageUnavailable, err)
	} else {
		out.Session, out.SessionCreated = sess, created
		log = log.With("session_id", sess.ID)
	}

	out.TurnID = o.appendTurn(ctx, log, out, store.RoleUser, text)
	out.Preferences = o.loadPreferences(ctx, log, out)

	if out.Session != nil && !out.SessionCreated {
		o.continueSession(ctx, log, out)
	}
	if !out.Decision.IsFollowUp && !out.Closing {
		o.recallPast(ctx, log, out, pattern)
	}

	log.Debug("turn governed",
		"kind", string(out.Decision.Kind),
		"confidence", out.Decision.Confidence,
		"session_created", out.SessionCreated,
		"closing", out.Closing,
		"degraded", len(out.Degraded))
	return out
}

// continueSession runs continuity detection against the live session's
// history, and builds the follow-up context when the message continues it.
func (o *Orchestrator) continueSession(ctx context.Context, log *slog.Logger, out *Outcome) {
	history, err := o.store.RecentTurns(ctx, out.UserID, out.Session.ID, o.cfg.ContextMessages+1)
	if err != nil {
		o.degrade(log, out, StepHistory, ContinuityPolicy, AnomalyStorageUnavailable, err)
		return
	}
	history = withoutTurn(history, out.TurnID)
	if len(history) > o.cfg.ContextMessages {
		history = history[len(history)-o.cfg.ContextMessages:]
	}

	if continuity.IsConversationClosing(out.Text) {
		out.Closing = true
		if err := o.sessions.End(ctx, out.Session.ID); err != nil {
			o.degrade(log, out, StepSession, SessionPolicy, AnomalyStorageUnavailable, err)
		}
		return
	}

	d := o.detector.Decide(ctx, out.Text, continuity.TurnTexts(history))
	if d.ClassifierCalled {
		if err := o.ledger.RecordCost(ctx, out.UserID, usage.CostClassifier); err != nil {
			o.degrade(log, out, StepLedgerCost, LedgerRecordPolicy, ledgerAnomaly(err), err)
		}
	}
	if d.IsFollowUp {
		d.ContextText = recall.TruncateContext(
			continuity.BuildConversationContext(history, o.cfg.ContextMessages), o.cfg.MaxContextTokens)
		if d.Refinement != continuity.RefineNone {
			o.applyRefinement(ctx, log, out, d.Refinement)
		}
	}
	out.Decision = d
}

// recallPast records recurring topics and, when the message points at the
// past or the topic has come up before, assembles recalled context.
func (o *Orchestrator) recallPast(ctx context.Context, log *slog.Logger, out *Outcome, pattern recall.RecurringPattern) {
	var (
		topic *store.RecurringTopic
		err   error
	)
	if pattern.IsRecurring {
		topic, err = o.recall.FindOrCreateRecurringTopic(ctx, out.UserID, pattern.Topic, pattern.Frequency)
	} else {
		topic, err = o.recall.CheckForRecurringTopic(ctx, out.UserID, out.Text)
		if err == nil && topic != nil {
			topic, err = o.recall.FindOrCreateRecurringTopic(ctx, out.UserID, out.Text, topic.Frequency)
		}
	}
	if err != nil {
		o.degrade(log, out, StepRecall, RecallPolicy, recallAnomaly(err), err)
		topic = nil
	}
	out.Topic = topic

	ref := recall.DetectsPastReference(out.Text)
	seenBefore := topic != nil && topic.OccurrenceCount > 1
	if !ref.IsPastReference && !seenBefore {
		return
	}

	keywords := ref.Keywords
	if len(keywords) == 0 {
		keywords = recall.ExtractKeywords(out.Text)
	}
	past, err := o.recall.FindPastContext(ctx, out.UserID, keywords, o.cfg.LimitPerKeyword)
	if err != nil {
		o.degrade(log, out, StepRecall, RecallPolicy, recallAnomaly(err), err)
		past = &recall.PastContext{}
	}
	turns := withoutTurn(past.Turns, out.TurnID)
	out.PastContext = recall.TruncateContext(
		recall.BuildContextString(past.Artifacts, turns, topic), o.cfg.MaxContextTokens)
}

func (o *Orchestrator) loadPreferences(ctx context.Context, log *slog.Logger, out *Outcome) store.Preferences {
	p, err := o.store.GetPreferences(ctx, out.UserID)
	if err != nil {
		o.degrade(log, out, StepPreferences, PreferencesPolicy, AnomalyStorageUnavailable, err)
		return *store.DefaultPreferences(out.UserID)
	}
	return *p
}

func (o *Orchestrator) applyRefinement(ctx context.Context, log *slog.Logger, out *Outcome, r continuity.RefinementType) {
	prefs, changed := continuity.InferPreferences(out.Preferences, r)
	if !changed {
		return
	}
	prefs.UserID = out.UserID
	prefs.UpdatedAt = o.clock.Now()
	out.Preferences = prefs
	if err := o.store.SavePreferences(ctx, &prefs); err != nil {
		o.degrade(log, out, StepPreferences, PreferencesPolicy, AnomalyStorageUnavailable, err)
		return
	}
	log.Info("preferences updated", "refinement", string(r),
		"length", prefs.PreferredLength, "tone", prefs.PreferredTone, "max_bullets", prefs.MaxBullets)
}

// FinishTurn settles a governed turn once the reply is known: it records
// the reply's cost, logs the reply and, for new topics, keeps it as an
// artifact for later recall. Every step is attempted; the failures are
// logged and returned joined.
func (o *Orchestrator) FinishTurn(ctx context.Context, out *Outcome, reply string, cost float64) error {
	if out == nil || !out.Allowed {
		return nil
	}
	log := observability.FromContext(ctx, o.logger).With("user_id", out.UserID)

	var errs []error
	if cost > 0 {
		if err := o.RecordCost(ctx, out.UserID, cost); err != nil {
			errs = append(errs, err)
		}
	}
	if reply == "" {
		return errors.Join(errs...)
	}

	if id := o.appendTurn(ctx, log, out, store.RoleBot, reply); id == "" {
		errs = append(errs, fmt.Errorf("governance: reply for %s not logged", out.UserID))
	}
	if out.Session != nil && !out.Closing {
		if err := o.sessions.Touch(ctx, out.Session.ID); err != nil {
			o.degrade(log, out, StepSession, SessionPolicy, AnomalyStorageUnavailable, err)
			errs = append(errs, err)
		}
	}
	if !out.Decision.IsFollowUp && !out.Closing {
		if _, err := o.recall.SaveArtifact(ctx, out.UserID, out.Text, reply, out.Topic); err != nil {
			o.degrade(log, out, StepRecall, RecallPolicy, recallAnomaly(err), err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordCost charges amount to the user. Storage failures are logged and
// returned; the caller is not expected to act on them.
func (o *Orchestrator) RecordCost(ctx context.Context, userID string, amount float64) error {
	err := o.ledger.RecordCost(ctx, userID, amount)
	if err != nil && errors.Is(err, usage.ErrStorageUnavailable) {
		observability.FromContext(ctx, o.logger).Warn("cost not recorded",
			"user_id", userID, "amount", amount, "policy", string(LedgerRecordPolicy),
			"anomaly", ledgerAnomaly(err), "err", err)
	}
	return err
}

// EndSession retires a session explicitly.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	return o.sessions.End(ctx, sessionID)
}

// appendTurn logs a turn attributed to out's session, returning its ID or
// "" when it could not be stored.
func (o *Orchestrator) appendTurn(ctx context.Context, log *slog.Logger, out *Outcome, role store.Role, text string) string {
	turn := &store.Turn{
		ID:        uuid.New().String(),
		UserID:    out.UserID,
		Text:      text,
		Role:      role,
		CreatedAt: o.clock.Now(),
	}
	if out.Session != nil {
		turn.SessionID = out.Session.ID
	}
	if err := o.store.AppendTurn(ctx, turn); err != nil {
		o.degrade(log, out, StepTurnLog, TurnLogPolicy, AnomalyStorageUnavailable, err)
		return ""
	}
	return turn.ID
}

func (o *Orchestrator) degrade(log *slog.Logger, out *Outcome, step string, policy FailurePolicy, anomaly string, err error) {
	out.Degraded = append(out.Degraded, step)
	log.Warn("governance step failed",
		"step", step,
		"policy", string(policy),
		"anomaly", anomaly,
		"err", err)
}

func ledgerAnomaly(err error) string {
	if errors.Is(err, usage.ErrResetContention) {
		return AnomalyResetContention
	}
	return AnomalyStorageUnavailable
}

func recallAnomaly(err error) string {
	if errors.Is(err, recall.ErrEmptyTopic) {
		return AnomalyInvalidInput
	}
	return AnomalyStorageUnavailable
}

func withoutTurn(turns []*store.Turn, id string) []*store.Turn {
	if id == "" {
		return turns
	}
	kept := turns[:0:0]
	for _, t := range turns {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	return kept
}
