package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/prepmate/common/trace"
	"github.com/bdobrica/prepmate/internal/prepmate/generate"
	"github.com/bdobrica/prepmate/internal/prepmate/governance"
	"github.com/bdobrica/prepmate/internal/prepmate/matrix"
	"github.com/bdobrica/prepmate/internal/prepmate/observability"
)

const (
	closingReply = "Anytime! Good luck with your meeting. Message me whenever you need to prepare for the next one."
	failureReply = "Sorry, something went wrong while preparing your answer. Please try again in a moment."
)

// Replier sends messages back to a room. *matrix.Client implements it.
type Replier interface {
	SendText(ctx context.Context, roomID, text string) error
	SendNotice(ctx context.Context, roomID, text string) error
}

// typingReplier is implemented by repliers that can show a typing
// indicator while a reply is generated.
type typingReplier interface {
	SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error
}

// Handler answers inbound chat messages: it governs the turn, generates
// the reply and settles the turn's cost.
type Handler struct {
	orch      *governance.Orchestrator
	generator generate.Generator
	replier   Replier
	logger    *slog.Logger
}

// NewHandler returns a Handler. A nil logger means slog.Default().
func NewHandler(orch *governance.Orchestrator, gen generate.Generator, r Replier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orch: orch, generator: gen, replier: r, logger: logger}
}

// Handle processes one message. The sender's Matrix ID is the user ID the
// ledger and sessions are keyed by.
func (h *Handler) Handle(ctx context.Context, msg matrix.Message) {
	text := strings.TrimSpace(msg.Body)
	if text == "" {
		return
	}
	ctx, _ = trace.Ensure(ctx)
	log := observability.FromContext(ctx, h.logger).With("room", msg.RoomID, "sender", msg.Sender)

	out := h.orch.GovernTurn(ctx, msg.Sender, text)
	if !out.Allowed {
		h.send(ctx, log, msg.RoomID, out.Denial.Reason, true)
		return
	}

	if out.Closing {
		h.send(ctx, log, msg.RoomID, closingReply, false)
		h.finish(ctx, log, out, closingReply, 0)
		return
	}

	if t, ok := h.replier.(typingReplier); ok {
		_ = t.SetTyping(ctx, msg.RoomID, true, 30*time.Second)
		defer func() { _ = t.SetTyping(ctx, msg.RoomID, false, 0) }()
	}

	reply, err := h.generator.Generate(ctx, generate.Request{
		Text:        text,
		Decision:    out.Decision,
		PastContext: out.PastContext,
		Preferences: out.Preferences,
	})
	if err != nil {
		log.Error("reply generation failed", "err", err)
		h.send(ctx, log, msg.RoomID, failureReply, true)
		h.finish(ctx, log, out, "", 0)
		return
	}

	h.send(ctx, log, msg.RoomID, reply.Text, false)
	h.finish(ctx, log, out, reply.Text, reply.Cost)
	log.Info("turn answered",
		"follow_up", out.Decision.IsFollowUp,
		"kind", string(out.Decision.Kind),
		"cost", reply.Cost)
}

func (h *Handler) send(ctx context.Context, log *slog.Logger, roomID, text string, notice bool) {
	send := h.replier.SendText
	if notice {
		send = h.replier.SendNotice
	}
	if err := send(ctx, roomID, text); err != nil {
		log.Error("failed to send reply", "err", err)
	}
}

func (h *Handler) finish(ctx context.Context, log *slog.Logger, out *governance.Outcome, reply string, cost float64) {
	if err := h.orch.FinishTurn(ctx, out, reply, cost); err != nil {
		log.Debug("turn settled with errors", "err", err)
	}
}
