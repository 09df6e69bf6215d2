// Package matrix is prepmate's chat host: it syncs with a Matrix homeserver,
// hands every inbound text message to a MessageHandler and sends the
// replies back to the room.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds Matrix client configuration
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// AllowedRooms restricts which rooms are served. Empty means every room
	// the bot is in.
	AllowedRooms []string
	// AutoJoin accepts room invites addressed to the bot.
	AutoJoin bool
	// DB is an optional SQLite connection used to persist the Matrix sync
	// token (next_batch) across restarts. When nil, an in-memory store is
	// used and, on restart, messages sent before startup are skipped.
	DB *sql.DB
}

// Message is one inbound text message.
type Message struct {
	RoomID  string
	EventID string
	Sender  string
	Body    string
	SentAt  time.Time
}

// MessageHandler processes one inbound message.
type MessageHandler func(ctx context.Context, msg Message)

// Client wraps the Matrix client
type Client struct {
	client    *mautrix.Client
	config    *Config
	startedAt time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
	handler   MessageHandler
}

// New creates a new Matrix client. It does not contact the homeserver.
func New(config *Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	c := &Client{
		client: client,
		config: config,
		stopCh: make(chan struct{}),
	}

	if config.DB != nil {
		client.Store = NewDBSyncStore(config.DB)
		slog.Info("matrix: using persistent sync store")
	} else {
		slog.Warn("matrix: no DB configured, sync position is not persisted")
	}
	return c, nil
}

// Start registers handler and begins syncing in the background. The sync
// loop reconnects with exponential back-off until Stop is called.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	if handler == nil {
		return errors.New("matrix: nil message handler")
	}
	c.handler = handler
	c.startedAt = time.Now()

	slog.Warn("matrix: E2EE is not enabled; messages are transmitted in plaintext")

	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	if c.config.AutoJoin {
		syncer.OnEventType(event.StateMember, c.handleMembership)
	}

	for _, roomID := range c.config.AllowedRooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("failed to join room %s: %w", roomID, err)
		}
	}

	go c.syncLoop()
	return nil
}

func (c *Client) syncLoop() {
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		err := c.client.Sync()
		select {
		case <-c.stopCh:
			return
		default:
		}
		if err == nil {
			return
		}
		slog.Error("matrix: sync stopped; reconnecting", "err", err, "backoff", backoff)
		select {
		case <-c.stopCh:
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Stop stops the sync loop. It is safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.client.StopSync()
	})
}

// SendText sends a plain m.text message to a room.
func (c *Client) SendText(ctx context.Context, roomID, text string) error {
	if _, err := c.client.SendText(ctx, id.RoomID(roomID), text); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendNotice sends an m.notice message, used for denials and other
// non-conversational replies.
func (c *Client) SendNotice(ctx context.Context, roomID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}

// SetTyping sets the typing indicator.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout); err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}

// UserID returns the bot's user ID.
func (c *Client) UserID() string {
	return c.config.UserID
}

// Accepts reports whether messages from roomID are served.
func (c *Client) Accepts(roomID string) bool {
	return len(c.config.AllowedRooms) == 0 || slices.Contains(c.config.AllowedRooms, roomID)
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	msg, ok := c.toMessage(evt)
	if !ok {
		return
	}
	c.handler(ctx, msg)
}

// toMessage filters evt down to the messages the bot answers: text from
// someone else, in a served room, sent after startup.
func (c *Client) toMessage(evt *event.Event) (Message, bool) {
	if evt.Sender == id.UserID(c.config.UserID) {
		return Message{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return Message{}, false
	}
	if !c.Accepts(evt.RoomID.String()) {
		return Message{}, false
	}
	sentAt := time.UnixMilli(evt.Timestamp)
	if c.config.DB == nil && sentAt.Before(c.startedAt) {
		return Message{}, false
	}
	return Message{
		RoomID:  evt.RoomID.String(),
		EventID: evt.ID.String(),
		Sender:  evt.Sender.String(),
		Body:    content.Body,
		SentAt:  sentAt,
	}, true
}

func (c *Client) handleMembership(ctx context.Context, evt *event.Event) {
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if evt.GetStateKey() != c.config.UserID || !c.Accepts(evt.RoomID.String()) {
		return
	}
	if err := c.joinRoom(ctx, evt.RoomID); err != nil {
		slog.Warn("matrix: failed to accept invite", "room", evt.RoomID, "inviter", evt.Sender, "err", err)
		return
	}
	slog.Info("matrix: joined room on invite", "room", evt.RoomID, "inviter", evt.Sender)
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// Homeservers answer M_FORBIDDEN when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
