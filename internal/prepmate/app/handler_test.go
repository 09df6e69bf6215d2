package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/prepmate/internal/prepmate/clock"
	"github.com/bdobrica/prepmate/internal/prepmate/config"
	"github.com/bdobrica/prepmate/internal/prepmate/generate"
	"github.com/bdobrica/prepmate/internal/prepmate/matrix"
	"github.com/bdobrica/prepmate/internal/prepmate/store"
)

const (
	room   = "!dm:example.org"
	sender = "@alice:example.org"
)

type sent struct {
	room, text string
	notice     bool
}

type recordingReplier struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recordingReplier) SendText(_ context.Context, roomID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{roomID, text, false})
	return nil
}

func (r *recordingReplier) SendNotice(_ context.Context, roomID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{roomID, text, true})
	return nil
}

func (r *recordingReplier) last(t *testing.T) sent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		t.Fatal("nothing was sent")
	}
	return r.msgs[len(r.msgs)-1]
}

type stubGenerator struct {
	reply *generate.Reply
	err   error
	reqs  []generate.Request
}

func (g *stubGenerator) Generate(_ context.Context, req generate.Request) (*generate.Reply, error) {
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return nil, g.err
	}
	return g.reply, nil
}

type fixture struct {
	handler *Handler
	store   *store.Store
	comps   *Components
	gen     *stubGenerator
	replies *recordingReplier
	clock   *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "app-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()
	st, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	comps := Build(st, config.DefaultPolicy(), nil, clk, logger)
	gen := &stubGenerator{reply: &generate.Reply{Text: "1. Bring the numbers", Cost: 0.2}}
	replies := &recordingReplier{}

	return &fixture{
		handler: NewHandler(comps.Orchestrator, gen, replies, logger),
		store:   st,
		comps:   comps,
		gen:     gen,
		replies: replies,
		clock:   clk,
	}
}

func (f *fixture) say(text string) {
	f.handler.Handle(context.Background(), matrix.Message{RoomID: room, Sender: sender, Body: text})
}

func TestHandleAnswersAndSettles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.say("Prepare me for my budget review")

	got := f.replies.last(t)
	if got.room != room || got.text != "1. Bring the numbers" || got.notice {
		t.Fatalf("unexpected reply %+v", got)
	}
	if len(f.gen.reqs) != 1 || f.gen.reqs[0].Decision.IsFollowUp {
		t.Fatalf("expected one new-topic generation, got %+v", f.gen.reqs)
	}

	rec, err := f.comps.Ledger.Snapshot(ctx, sender)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if rec.Day.Requests != 1 || math.Abs(rec.Day.Cost-0.2) > 1e-9 {
		t.Errorf("ledger = %d requests, %v cost; want 1, 0.2", rec.Day.Requests, rec.Day.Cost)
	}

	turns, err := f.store.RecentTurns(ctx, sender, "", 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 2 || turns[1].Text != "1. Bring the numbers" {
		t.Errorf("expected the question and the answer logged, got %d turns", len(turns))
	}
}

func TestHandleDeniesOverLimit(t *testing.T) {
	f := newFixture(t)

	for range 5 {
		f.say("Prepare me for the offsite")
	}
	f.say("Prepare me for the offsite")

	got := f.replies.last(t)
	if !got.notice || !strings.Contains(got.text, "too quickly") {
		t.Errorf("expected a rate-limit notice, got %+v", got)
	}
	if len(f.gen.reqs) != 5 {
		t.Errorf("generator called %d times, want 5", len(f.gen.reqs))
	}
}

func TestHandleClosing(t *testing.T) {
	f := newFixture(t)

	f.say("Prepare me for my budget review")
	f.say("thanks, that's all")

	if got := f.replies.last(t); got.text != closingReply {
		t.Errorf("expected the closing reply, got %q", got.text)
	}
	if len(f.gen.reqs) != 1 {
		t.Errorf("a sign-off must not reach the generator, got %d calls", len(f.gen.reqs))
	}
	active, err := f.comps.Sessions.Active(context.Background(), sender)
	if err != nil || active != nil {
		t.Errorf("expected the session to be ended, got %v, %v", active, err)
	}
}

func TestHandleGenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("upstream timeout")

	f.say("Prepare me for my budget review")

	got := f.replies.last(t)
	if !got.notice || got.text != failureReply {
		t.Errorf("expected the failure notice, got %+v", got)
	}
	rec, err := f.comps.Ledger.Snapshot(context.Background(), sender)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if rec.Day.Cost != 0 {
		t.Errorf("a failed generation must not be charged, got %v", rec.Day.Cost)
	}
}

func TestHandleIgnoresBlankMessages(t *testing.T) {
	f := newFixture(t)
	f.say("   ")
	if len(f.replies.msgs) != 0 || len(f.gen.reqs) != 0 {
		t.Error("blank messages must be ignored")
	}
}
