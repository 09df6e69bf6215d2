package governance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/prepmate/internal/prepmate/clock"
	"github.com/bdobrica/prepmate/internal/prepmate/continuity"
	"github.com/bdobrica/prepmate/internal/prepmate/recall"
	"github.com/bdobrica/prepmate/internal/prepmate/session"
	"github.com/bdobrica/prepmate/internal/prepmate/store"
	"github.com/bdobrica/prepmate/internal/prepmate/usage"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const user = "@alice:example.org"

// stubClassifier answers every call with a fixed verdict.
type stubClassifier struct {
	mu      sync.Mutex
	verdict continuity.Verdict
	calls   int
}

func (s *stubClassifier) Classify(_ context.Context, _ string, _ []string) (continuity.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.verdict, nil
}

func (s *stubClassifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// downUsageStore fails every ledger operation.
type downUsageStore struct{}

var errDown = errors.New("database is locked")

func (downUsageStore) GetOrCreateUsage(context.Context, string, time.Time) (*store.UsageRecord, error) {
	return nil, errDown
}
func (downUsageStore) ResetUsageWindow(context.Context, string, store.UsageWindow, time.Time, time.Time) (bool, error) {
	return false, errDown
}
func (downUsageStore) IncrementRequests(context.Context, string, time.Time) error { return errDown }
func (downUsageStore) AddCost(context.Context, string, float64, time.Time) error  { return errDown }
func (downUsageStore) SetBlocked(context.Context, string, bool, string, time.Time) error {
	return errDown
}

// contendedUsageStore never wins a window reset.
type contendedUsageStore struct {
	*store.Store
}

func (contendedUsageStore) ResetUsageWindow(context.Context, string, store.UsageWindow, time.Time, time.Time) (bool, error) {
	return false, nil
}

type harness struct {
	orch       *Orchestrator
	store      *store.Store
	ledger     *usage.Ledger
	sessions   *session.Tracker
	classifier *stubClassifier
	clock      *clock.Fake
	logs       *bytes.Buffer
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	usageStore usage.Store
	cfg        Config
}

func withUsageStore(s usage.Store) harnessOption {
	return func(c *harnessConfig) { c.usageStore = s }
}

func withConfig(cfg Config) harnessOption {
	return func(c *harnessConfig) { c.cfg = cfg }
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "governance-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()
	st, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	st := openStore(t)

	hc := harnessConfig{usageStore: st}
	for _, opt := range opts {
		opt(&hc)
	}

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	clk := clock.NewFake(t0)
	cls := &stubClassifier{verdict: continuity.Unclear}

	h := &harness{
		store:      st,
		ledger:     usage.New(hc.usageStore, clk, usage.DefaultLimits(), logger),
		sessions:   session.NewTracker(st, clk, session.Config{}, logger),
		classifier: cls,
		clock:      clk,
		logs:       logs,
	}
	h.orch = New(Components{
		Ledger:   h.ledger,
		Sessions: h.sessions,
		Detector: continuity.NewDetector(cls, continuity.DefaultThreshold, logger),
		Recall:   recall.NewIndex(st, clk, logger),
		Store:    st,
		Clock:    clk,
	}, hc.cfg, logger)
	return h
}

// turn governs text and settles it with reply, as a host would.
func (h *harness) turn(t *testing.T, text, reply string, cost float64) *Outcome {
	t.Helper()
	ctx := context.Background()
	out := h.orch.GovernTurn(ctx, user, text)
	if out.Allowed {
		if err := h.orch.FinishTurn(ctx, out, reply, cost); err != nil {
			t.Fatalf("FinishTurn(%q): %v", text, err)
		}
	}
	return out
}

func TestGovernTurnFirstMessage(t *testing.T) {
	h := newHarness(t)

	out := h.turn(t, "Prepare me for my budget review with finance", "1. Bring numbers", usage.CostReasoning)

	if !out.Allowed || out.Denial != nil {
		t.Fatalf("expected allowed, got denial %+v", out.Denial)
	}
	if !out.SessionCreated || out.Session == nil {
		t.Fatal("expected a new session")
	}
	if out.Decision.IsFollowUp || out.Decision.Kind != continuity.KindNewTopic {
		t.Errorf("expected new topic, got %+v", out.Decision)
	}
	if n := h.classifier.Calls(); n != 0 {
		t.Errorf("expected no classifier call without history, got %d", n)
	}
	if len(out.Degraded) != 0 {
		t.Errorf("unexpected degraded steps %v", out.Degraded)
	}

	turns, err := h.store.RecentTurns(context.Background(), user, out.Session.ID, 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 2 || turns[0].Role != store.RoleUser || turns[1].Role != store.RoleBot {
		t.Fatalf("expected user then bot turn, got %d turns", len(turns))
	}
}

func TestGovernTurnRefinementFollowUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.turn(t, "Prepare me for my budget review", "1. Bring numbers\n2. Know the ask", usage.CostReasoning)
	h.clock.Advance(time.Minute)

	h.classifier.verdict = continuity.Verdict{Kind: continuity.KindRefinement, Confidence: 0.9}
	out := h.orch.GovernTurn(ctx, user, "make it shorter")

	if out.SessionCreated || out.Session.ID != first.Session.ID {
		t.Fatal("expected the existing session to be reused")
	}
	d := out.Decision
	if !d.IsFollowUp || d.Kind != continuity.KindRefinement || d.Refinement != continuity.RefineShorter {
		t.Fatalf("unexpected decision %+v", d)
	}
	want := "User: Prepare me for my budget review\n\nAssistant: 1. Bring numbers\n2. Know the ask"
	if d.ContextText != want {
		t.Errorf("ContextText = %q, want %q", d.ContextText, want)
	}
	if h.classifier.Calls() != 1 {
		t.Errorf("expected one classifier call, got %d", h.classifier.Calls())
	}

	if out.Preferences.PreferredLength != store.LengthShort || out.Preferences.MaxBullets != 5 {
		t.Errorf("expected short preferences, got %+v", out.Preferences)
	}
	saved, err := h.store.GetPreferences(ctx, user)
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if saved.PreferredLength != store.LengthShort {
		t.Errorf("expected stored short preference, got %q", saved.PreferredLength)
	}

	if err := h.orch.FinishTurn(ctx, out, "1. Numbers", usage.CostFollowUp); err != nil {
		t.Fatalf("FinishTurn: %v", err)
	}
	rec, err := h.ledger.Snapshot(ctx, user)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if rec.Day.Requests != 2 {
		t.Errorf("day requests = %d, want 2", rec.Day.Requests)
	}
	wantCost := usage.CostReasoning + usage.CostClassifier + usage.CostFollowUp
	if math.Abs(rec.Day.Cost-wantCost) > 1e-9 {
		t.Errorf("day cost = %v, want %v", rec.Day.Cost, wantCost)
	}
}

func TestGovernTurnNewMeetingOverridesClassifier(t *testing.T) {
	h := newHarness(t)

	h.turn(t, "Prepare me for my budget review", "1. Bring numbers", usage.CostReasoning)
	h.clock.Advance(30 * time.Second)

	h.classifier.verdict = continuity.Verdict{Kind: continuity.KindFollowUp, Confidence: 0.95}
	out := h.orch.GovernTurn(context.Background(), user, "Also, I have a doctor appointment tomorrow")

	if out.Decision.IsFollowUp || out.Decision.Kind != continuity.KindNewTopic {
		t.Errorf("expected new topic, got %+v", out.Decision)
	}
	if out.Decision.ContextText != "" {
		t.Errorf("expected no follow-up context, got %q", out.Decision.ContextText)
	}
	if h.classifier.Calls() != 1 {
		t.Errorf("expected the classifier to be consulted once, got %d", h.classifier.Calls())
	}
}

func TestGovernTurnLowConfidenceIsNewTopic(t *testing.T) {
	h := newHarness(t)

	h.turn(t, "Prepare me for my budget review", "1. Bring numbers", usage.CostReasoning)
	h.classifier.verdict = continuity.Verdict{Kind: continuity.KindClarification, Confidence: 0.6}
	out := h.orch.GovernTurn(context.Background(), user, "what about the timeline?")

	if out.Decision.IsFollowUp {
		t.Errorf("confidence at the threshold must not continue, got %+v", out.Decision)
	}
}

func TestGovernTurnMinuteLimit(t *testing.T) {
	h := newHarness(t)

	for i := range 5 {
		out := h.turn(t, "Prepare me for the offsite", "ok", 0)
		if !out.Allowed {
			t.Fatalf("message %d denied: %+v", i+1, out.Denial)
		}
	}

	out := h.orch.GovernTurn(context.Background(), user, "Prepare me for the offsite")
	if out.Allowed || out.Denial == nil {
		t.Fatal("expected the sixth message to be denied")
	}
	if out.Denial.Limit != usage.LimitPerMinute {
		t.Errorf("limit = %q, want %q", out.Denial.Limit, usage.LimitPerMinute)
	}
	if out.Session != nil || out.TurnID != "" {
		t.Error("a denied message must not be attached or logged")
	}
	if err := h.orch.FinishTurn(context.Background(), out, "ignored", 1); err != nil {
		t.Errorf("FinishTurn on a denied turn: %v", err)
	}

	rec, err := h.ledger.Snapshot(context.Background(), user)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if rec.Minute.Requests != 5 {
		t.Errorf("minute requests = %d, want 5", rec.Minute.Requests)
	}
}

func TestGovernTurnLedgerUnavailable(t *testing.T) {
	tests := []struct {
		name        string
		policy      FailurePolicy
		wantAllowed bool
	}{
		{"fail open by default", "", true},
		{"fail closed when configured", FailClosed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, withUsageStore(downUsageStore{}), withConfig(Config{LedgerCheckPolicy: tt.policy}))

			out := h.orch.GovernTurn(context.Background(), user, "Prepare me for the offsite")

			if out.Allowed != tt.wantAllowed {
				t.Fatalf("Allowed = %v, want %v", out.Allowed, tt.wantAllowed)
			}
			if !slices.Contains(out.Degraded, StepLedgerCheck) {
				t.Errorf("expected %q in degraded steps, got %v", StepLedgerCheck, out.Degraded)
			}
			if !strings.Contains(h.logs.String(), "anomaly=storage_unavailable") {
				t.Errorf("expected a storage_unavailable anomaly in logs:\n%s", h.logs.String())
			}
			if tt.wantAllowed {
				if out.Session == nil {
					t.Error("expected the turn to proceed to a session")
				}
				if !slices.Contains(out.Degraded, StepLedgerCost) {
					t.Errorf("expected the request count to be skipped, got %v", out.Degraded)
				}
				return
			}
			if out.Denial == nil || out.Denial.Limit != usage.LimitUnavailable {
				t.Errorf("expected an unavailable denial, got %+v", out.Denial)
			}
		})
	}
}

func TestGovernTurnResetContentionAnomaly(t *testing.T) {
	h := newHarness(t, withUsageStore(contendedUsageStore{openStore(t)}))
	h.turn(t, "Prepare me for the offsite", "1. Agenda", usage.CostReasoning)
	h.clock.Advance(2 * time.Minute)
	h.logs.Reset()

	out := h.orch.GovernTurn(context.Background(), user, "Prepare me for the board meeting")

	if !out.Allowed {
		t.Fatalf("expected the turn to fail open, got denial %+v", out.Denial)
	}
	if !slices.Contains(out.Degraded, StepLedgerCheck) {
		t.Errorf("expected %q in degraded steps, got %v", StepLedgerCheck, out.Degraded)
	}
	logs := h.logs.String()
	if !strings.Contains(logs, "anomaly=reset_contention") {
		t.Errorf("expected a reset_contention anomaly in logs:\n%s", logs)
	}
	if strings.Contains(logs, "anomaly=storage_unavailable") {
		t.Errorf("contention must not be reported as a storage outage:\n%s", logs)
	}
}

func TestAnomalyKinds(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ledger outage", ledgerAnomaly(fmt.Errorf("%w: %w", usage.ErrStorageUnavailable, errDown)), AnomalyStorageUnavailable},
		{"ledger contention", ledgerAnomaly(fmt.Errorf("%w: %w", usage.ErrStorageUnavailable, usage.ErrResetContention)), AnomalyResetContention},
		{"recall outage", recallAnomaly(fmt.Errorf("recall: search: %w", errDown)), AnomalyStorageUnavailable},
		{"empty topic", recallAnomaly(fmt.Errorf("%w: %q", recall.ErrEmptyTopic, "?!")), AnomalyInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("anomaly = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestGovernTurnSessionExpiry(t *testing.T) {
	h := newHarness(t)

	first := h.turn(t, "Prepare me for my budget review", "1. Bring numbers", usage.CostReasoning)
	h.clock.Advance(session.DefaultInactivityTimeout + time.Minute)

	h.classifier.verdict = continuity.Verdict{Kind: continuity.KindRefinement, Confidence: 0.9}
	out := h.orch.GovernTurn(context.Background(), user, "make it shorter")

	if !out.SessionCreated || out.Session.ID == first.Session.ID {
		t.Fatal("expected a fresh session after the inactivity timeout")
	}
	if out.Decision.IsFollowUp {
		t.Errorf("a message opening a session cannot be a follow-up: %+v", out.Decision)
	}
	if h.classifier.Calls() != 0 {
		t.Errorf("expected no classifier call, got %d", h.classifier.Calls())
	}
}

func TestGovernTurnClosingEndsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.turn(t, "Prepare me for my budget review", "1. Bring numbers", usage.CostReasoning)
	out := h.turn(t, "thanks!", "Good luck!", 0)

	if !out.Closing {
		t.Fatal("expected the sign-off to close the conversation")
	}
	if h.classifier.Calls() != 0 {
		t.Errorf("expected no classifier call, got %d", h.classifier.Calls())
	}
	active, err := h.sessions.Active(ctx, user)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active != nil {
		t.Errorf("expected no active session, got %s", active.ID)
	}

	next := h.orch.GovernTurn(ctx, user, "Prepare me for the offsite")
	if !next.SessionCreated {
		t.Error("expected the next message to open a new session")
	}
}

func TestGovernTurnRecurringTopicRecall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	text := "Help me prep for my weekly 1:1 with Sam"

	first := h.turn(t, text, "Checklist A: bring the roadmap", usage.CostReasoning)
	if first.Topic == nil || first.Topic.OccurrenceCount != 1 {
		t.Fatalf("expected a new recurring topic, got %+v", first.Topic)
	}
	if first.PastContext != "" {
		t.Errorf("expected no recall context on first sight, got %q", first.PastContext)
	}

	h.clock.Advance(7 * 24 * time.Hour)
	out := h.orch.GovernTurn(ctx, user, text)

	if out.Topic == nil || out.Topic.OccurrenceCount != 2 || out.Topic.ID != first.Topic.ID {
		t.Fatalf("expected the same topic seen twice, got %+v", out.Topic)
	}
	for _, want := range []string{"RECURRING MEETING INFO:", "Last time summary: Checklist A: bring the roadmap"} {
		if !strings.Contains(out.PastContext, want) {
			t.Errorf("PastContext missing %q:\n%s", want, out.PastContext)
		}
	}
	if strings.Count(out.PastContext, "- User: "+text) > 1 {
		t.Errorf("the current message leaked into recall context:\n%s", out.PastContext)
	}
}

func TestFinishTurnSkipsArtifactForFollowUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.turn(t, "Prepare me for my budget review", "Checklist budget", usage.CostReasoning)
	h.classifier.verdict = continuity.Verdict{Kind: continuity.KindClarification, Confidence: 0.8}
	out := h.turn(t, "what about the timeline?", "Timeline answer", usage.CostFollowUp)
	if !out.Decision.IsFollowUp {
		t.Fatalf("expected a follow-up, got %+v", out.Decision)
	}

	found, err := h.store.SearchArtifacts(ctx, user, "Timeline answer", 10)
	if err != nil {
		t.Fatalf("SearchArtifacts: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("follow-up replies must not be stored as artifacts, found %d", len(found))
	}
	found, err = h.store.SearchArtifacts(ctx, user, "budget", 10)
	if err != nil {
		t.Fatalf("SearchArtifacts: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("expected the checklist artifact, found %d", len(found))
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{LedgerCheckPolicy: "bogus"}.withDefaults()
	if cfg.ContextMessages != continuity.DefaultContextMessages ||
		cfg.MaxContextTokens != recall.DefaultMaxContextTokens ||
		cfg.LimitPerKeyword != recall.DefaultLimitPerKeyword ||
		cfg.LedgerCheckPolicy != FailOpen {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
