// Package pipeline turns inbound chat messages into task operations:
// classification, assignment, confirmation, persistence and replies.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alekspetrov/taskpilot/internal/confirm"
	"github.com/alekspetrov/taskpilot/internal/intent"
	"github.com/alekspetrov/taskpilot/internal/logging"
	"github.com/alekspetrov/taskpilot/internal/metrics"
	"github.com/alekspetrov/taskpilot/internal/recurring"
	"github.com/alekspetrov/taskpilot/internal/roles"
	"github.com/alekspetrov/taskpilot/internal/routing"
	"github.com/alekspetrov/taskpilot/internal/sink"
)

// DefaultClassifyTimeout bounds one classification, including the fallback.
const DefaultClassifyTimeout = 2 * time.Minute

// Message is an inbound chat message.
type Message struct {
	ChatID    int64
	MessageID int64
	Text      string
	AuthorID  int64
	// AuthorName is the sender's username, or their display name when they
	// have none.
	AuthorName string
	// ReplyTo is the id of the message this one replies to, 0 if none.
	ReplyTo int64
}

// Messenger sends chat messages. replyTo 0 sends a plain message. It
// returns the id of the sent message.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) (int64, error)
}

// RecurringStore is the subset of the recurring store the pipeline uses.
type RecurringStore interface {
	Add(ctx context.Context, def recurring.Definition) (recurring.Definition, error)
	MarkComplete(ctx context.Context, fuzzyTitle string) (*recurring.Definition, error)
	List() []recurring.Definition
}

// Options configures a Pipeline.
type Options struct {
	Classifier intent.Classifier
	// Fallback is used when Classifier fails. Optional.
	Fallback  intent.Classifier
	Sink      sink.Sink
	Recurring RecurringStore
	Router    *routing.Router
	Directory *roles.Directory
	Messenger Messenger

	// SinkName is shown in commit and expiry notices ("Notion").
	SinkName string
	// BossID marks messages from the boss when classifying. 0 disables it.
	BossID          int64
	ConfirmWindow   time.Duration
	ConfirmClock    confirm.Clock
	ClassifyTimeout time.Duration
	Logger          *slog.Logger
}

// Pipeline handles chat messages. Handle is safe for concurrent use but
// the transport delivers messages one at a time.
type Pipeline struct {
	classifier      intent.Classifier
	fallback        intent.Classifier
	sink            sink.Sink
	recurring       RecurringStore
	router          *routing.Router
	directory       *roles.Directory
	messenger       Messenger
	confirmations   *confirm.Store
	sinkName        string
	bossID          int64
	classifyTimeout time.Duration
	log             *slog.Logger
}

// New creates a Pipeline. Classifier, Sink, Recurring, Router and Messenger
// are required.
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	case opts.Sink == nil:
		return nil, errors.New("pipeline: sink is required")
	case opts.Recurring == nil:
		return nil, errors.New("pipeline: recurring store is required")
	case opts.Router == nil:
		return nil, errors.New("pipeline: router is required")
	case opts.Messenger == nil:
		return nil, errors.New("pipeline: messenger is required")
	}
	if opts.Directory == nil {
		opts.Directory = roles.NewDirectory(nil)
	}
	if opts.SinkName == "" {
		opts.SinkName = "Notion"
	}
	if opts.ClassifyTimeout <= 0 {
		opts.ClassifyTimeout = DefaultClassifyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("pipeline")
	}

	p := &Pipeline{
		classifier:      opts.Classifier,
		fallback:        opts.Fallback,
		sink:            opts.Sink,
		recurring:       opts.Recurring,
		router:          opts.Router,
		directory:       opts.Directory,
		messenger:       opts.Messenger,
		sinkName:        opts.SinkName,
		bossID:          opts.BossID,
		classifyTimeout: opts.ClassifyTimeout,
		log:             opts.Logger,
	}
	p.confirmations = confirm.NewStore(confirm.Options{
		Window:   opts.ConfirmWindow,
		OnExpire: p.onExpire,
		Clock:    opts.ConfirmClock,
		Logger:   opts.Logger.With(slog.String("store", "confirm")),
	})
	return p, nil
}

// Confirmations returns the pending confirmation store.
func (p *Pipeline) Confirmations() *confirm.Store {
	return p.confirmations
}

// Close drops pending confirmations without expiry notices.
func (p *Pipeline) Close() {
	p.confirmations.Close()
}

var confirmWords = []string{"确定", "确认", "ok", "好的", "yes"}

// IsConfirmation reports whether text is a confirmation reply.
func IsConfirmation(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, "!！。.")
	for _, w := range confirmWords {
		if t == w {
			return true
		}
	}
	return false
}

// Handle processes one message. Failures are reported in the chat and
// logged; Handle never panics.
func (p *Pipeline) Handle(ctx context.Context, msg Message) {
	correlationID := uuid.New().String()
	ctx = logging.ContextWithCorrelationID(ctx, correlationID)
	ctx = logging.ContextWithChatID(ctx, msg.ChatID)
	log := p.log.With(
		slog.String("correlation_id", correlationID),
		slog.Int64("chat_id", msg.ChatID),
		slog.Int64("message_id", msg.MessageID),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Message handler panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			p.reply(ctx, log, msg, msgGenericError)
		}
	}()

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	msg.Text = text

	switch {
	case IsConfirmation(text):
		metrics.RecordMessage("confirm")
		p.handleConfirm(ctx, log, msg)
	case strings.HasPrefix(text, "/"):
		metrics.RecordMessage("command")
		p.handleCommand(ctx, log, msg)
	default:
		p.handleText(ctx, log, msg)
	}
}

func (p *Pipeline) handleText(ctx context.Context, log *slog.Logger, msg Message) {
	result := p.classify(ctx, log, msg)
	if result == nil {
		metrics.RecordMessage("unavailable")
		p.reply(ctx, log, msg, msgClassifierDown)
		return
	}
	metrics.RecordMessage(string(result.Intent))
	log.Info("Message classified",
		slog.String("intent", string(result.Intent)),
		slog.String("author", msg.AuthorName),
	)

	// The classifier reply always goes before the intent's own output.
	if result.AssistantReply != "" {
		p.reply(ctx, log, msg, result.AssistantReply)
	}

	switch result.Intent {
	case intent.TaskNew:
		p.handleNewTasks(ctx, log, msg, result)
	case intent.TaskDone:
		p.handleDone(ctx, log, msg, result)
	case intent.TaskBlocked:
		p.handleBlocked(ctx, log, msg, result)
	case intent.Recurring:
		p.handleRecurring(ctx, log, msg, result)
	case intent.TaskQuery:
		p.handleSummary(ctx, log, msg)
	case intent.ListTasks:
		p.handleListTasks(ctx, log, msg)
	case intent.ListProjects:
		p.handleListProjects(ctx, log, msg)
	}
}

// classify asks the primary classifier, then the fallback. It returns nil
// when neither produced a result.
func (p *Pipeline) classify(ctx context.Context, log *slog.Logger, msg Message) *intent.Result {
	ctx, cancel := context.WithTimeout(ctx, p.classifyTimeout)
	defer cancel()

	author := p.authorLabel(msg)
	result, err := p.classifier.Classify(ctx, msg.Text, author)
	if err == nil && result != nil {
		return result
	}
	log.Warn("Classifier failed", slog.Any("error", err))

	if p.fallback == nil {
		return nil
	}
	result, err = p.fallback.Classify(ctx, msg.Text, author)
	if err != nil || result == nil {
		log.Warn("Fallback classifier failed", slog.Any("error", err))
		return nil
	}
	log.Info("Used fallback classifier")
	return result
}

func (p *Pipeline) authorLabel(msg Message) string {
	name := msg.AuthorName
	if name == "" {
		name = fmt.Sprintf("user_%d", msg.AuthorID)
	}
	if p.bossID == 0 {
		return name
	}
	if msg.AuthorID == p.bossID {
		return name + "（老板）"
	}
	return name + "（员工）"
}

// reply sends text in the message's chat. Send failures are logged.
func (p *Pipeline) reply(ctx context.Context, log *slog.Logger, msg Message, text string) int64 {
	return p.send(ctx, log, msg.ChatID, text, 0)
}

func (p *Pipeline) send(ctx context.Context, log *slog.Logger, chatID int64, text string, replyTo int64) int64 {
	id, err := p.messenger.SendMessage(ctx, chatID, text, replyTo)
	if err != nil {
		log.Warn("Failed to send message", slog.Any("error", err))
		return 0
	}
	return id
}

// onExpire posts the expiry notice as a reply to the preview message.
func (p *Pipeline) onExpire(b *confirm.Batch) {
	log := p.log.With(
		slog.Int64("chat_id", b.ChatID),
		slog.Int64("message_id", b.MessageID),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p.send(ctx, log, b.ChatID, fmt.Sprintf(msgExpired, p.sinkName), b.MessageID)
}

// NewReminder returns the reminder callback for fired recurring triggers.
// Reminders go to the definition's group, or defaultChat when it has none.
func NewReminder(m Messenger, defaultChat int64) recurring.ReminderFunc {
	return func(ctx context.Context, def recurring.Definition) error {
		chatID := def.GroupID
		if chatID == 0 {
			chatID = defaultChat
		}
		if chatID == 0 {
			return fmt.Errorf("no chat for recurring task %q", def.Title)
		}
		if _, err := m.SendMessage(ctx, chatID, FormatReminder(def), 0); err != nil {
			return fmt.Errorf("send reminder: %w", err)
		}
		return nil
	}
}

// FormatReminder renders the reminder for a recurring task.
func FormatReminder(def recurring.Definition) string {
	assignee := roles.MentionUser(def.Assignee)
	if assignee == "" {
		assignee = "未分配"
	}
	return fmt.Sprintf("⏰ 定时任务提醒！\n\n📋 %s\n👤 %s\n\n请完成任务后回复：\"%s 完成\"",
		def.Title, assignee, def.Title)
}
