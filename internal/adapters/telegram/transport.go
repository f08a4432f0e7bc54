package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alekspetrov/taskpilot/internal/logging"
	"github.com/alekspetrov/taskpilot/internal/pipeline"
)

const (
	defaultPollTimeout = 30
	maxPollBackoff     = 30 * time.Second
)

// Handler processes one inbound message.
type Handler interface {
	Handle(ctx context.Context, msg pipeline.Message)
}

// TransportConfig configures a Transport.
type TransportConfig struct {
	// AllowedIDs restricts the chats and users the bot answers. Empty
	// allows everyone.
	AllowedIDs []int64
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
}

// Transport handles Telegram polling and delegates message processing to Handler.
type Transport struct {
	client      *Client // Telegram bot API client
	handler     Handler // Handler for business logic
	allowedIDs  map[int64]bool
	offset      int64 // Next update ID to fetch
	pollTimeout int
	log         *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewTransport creates a new Telegram transport layer.
func NewTransport(client *Client, handler Handler, cfg *TransportConfig) *Transport {
	if cfg == nil {
		cfg = &TransportConfig{}
	}
	allowedIDs := make(map[int64]bool)
	for _, id := range cfg.AllowedIDs {
		allowedIDs[id] = true
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	return &Transport{
		client:      client,
		handler:     handler,
		allowedIDs:  allowedIDs,
		pollTimeout: pollTimeout,
		log:         logging.WithComponent("telegram"),
		sleep:       sleepContext,
	}
}

// Run polls for updates and hands messages to the handler one at a time
// until ctx is canceled.
func (t *Transport) Run(ctx context.Context) error {
	t.log.Info("Transport poll loop started", slog.Int("poll_timeout", t.pollTimeout))
	defer t.log.Info("Transport poll loop stopped")

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := t.client.GetUpdates(ctx, t.offset, t.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrConflict) {
				t.log.Error("Another instance is polling this bot", slog.Any("error", err))
			} else {
				t.log.Warn("Error fetching updates", slog.Any("error", err))
			}
			if t.sleep(ctx, backoff) != nil {
				return nil
			}
			backoff = min(backoff*2, maxPollBackoff)
			continue
		}
		backoff = time.Second

		for _, update := range updates {
			t.processUpdate(ctx, update)

			// Acknowledge the update even when it was skipped.
			if update.UpdateID >= t.offset {
				t.offset = update.UpdateID + 1
			}
		}
	}
}

// processUpdate converts a text message and dispatches it to the handler.
func (t *Transport) processUpdate(ctx context.Context, update *Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	if msg.From != nil && msg.From.IsBot {
		return
	}
	if !t.isAllowed(msg) {
		t.log.Debug("Ignoring message from unlisted chat",
			slog.Int64("chat_id", msg.Chat.ID),
		)
		return
	}

	t.handler.Handle(ctx, toPipelineMessage(msg))
}

// isAllowed reports whether the chat or the sender is on the allow-list.
func (t *Transport) isAllowed(msg *Message) bool {
	if len(t.allowedIDs) == 0 {
		return true
	}
	if msg.Chat != nil && t.allowedIDs[msg.Chat.ID] {
		return true
	}
	return msg.From != nil && t.allowedIDs[msg.From.ID]
}

func toPipelineMessage(msg *Message) pipeline.Message {
	out := pipeline.Message{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
	}
	if msg.From != nil {
		out.AuthorID = msg.From.ID
		out.AuthorName = displayName(msg.From)
	}
	if msg.ReplyToMessage != nil {
		out.ReplyTo = msg.ReplyToMessage.MessageID
	}
	return out
}

// displayName prefers the username, then the full name, then the user id.
func displayName(u *User) string {
	if u.Username != "" {
		return u.Username
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return fmt.Sprintf("user_%d", u.ID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
