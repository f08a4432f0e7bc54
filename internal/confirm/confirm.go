// Package confirm holds proposed task batches until they are confirmed in
// chat or expire.
package confirm

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alekspetrov/taskpilot/internal/logging"
	"github.com/alekspetrov/taskpilot/internal/metrics"
	"github.com/alekspetrov/taskpilot/internal/routing"
	"github.com/alekspetrov/taskpilot/internal/sink"
)

// DefaultWindow is how long a batch waits for confirmation.
const DefaultWindow = 120 * time.Second

// Key identifies a batch by chat and preview message.
type Key struct {
	ChatID    int64
	MessageID int64
}

// Batch is a set of proposed tasks awaiting confirmation.
type Batch struct {
	ChatID       int64
	MessageID    int64 // the preview message
	ProjectTitle string
	AuthorName   string
	SourceText   string
	Partition    routing.Partition
	Tasks        []sink.Task
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Key returns the batch key.
func (b *Batch) Key() Key {
	return Key{ChatID: b.ChatID, MessageID: b.MessageID}
}

// Timer is a stoppable pending call.
type Timer interface {
	Stop() bool
}

// Clock abstracts time for the store.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Options configures a Store.
type Options struct {
	Window time.Duration
	// OnExpire is called once for every batch that expires unconfirmed or
	// is replaced by a batch with the same key.
	OnExpire func(b *Batch)
	Clock    Clock
	Logger   *slog.Logger
}

type entry struct {
	batch *Batch
	timer Timer
}

// Store holds pending batches. Exactly one of Confirm or expiry takes a
// batch out of the store; whichever gets the lock first wins.
type Store struct {
	mu       sync.Mutex
	pending  map[Key]*entry
	window   time.Duration
	onExpire func(b *Batch)
	clock    Clock
	closed   bool
	logger   *slog.Logger
}

// NewStore creates a Store.
func NewStore(opts Options) *Store {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("confirm")
	}
	return &Store{
		pending:  make(map[Key]*entry),
		window:   opts.Window,
		onExpire: opts.OnExpire,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
}

// Window returns the confirmation window.
func (s *Store) Window() time.Duration {
	return s.window
}

// Propose stores b and arms its expiry. CreatedAt and ExpiresAt are set by
// the store. A batch already stored under the same key is replaced and
// terminated like an expired one, so it still gets exactly one notice.
func (s *Store) Propose(b *Batch) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	key := b.Key()
	var replaced *Batch
	if old, ok := s.pending[key]; ok {
		old.timer.Stop()
		replaced = old.batch
	}

	b.CreatedAt = s.clock.Now()
	b.ExpiresAt = b.CreatedAt.Add(s.window)
	e := &entry{batch: b}
	e.timer = s.clock.AfterFunc(s.window, func() { s.expire(key, e) })
	s.pending[key] = e
	s.mu.Unlock()

	metrics.RecordConfirmation("proposed")
	s.logger.Info("batch proposed",
		slog.Int64("chat_id", b.ChatID),
		slog.Int64("message_id", b.MessageID),
		slog.Int("tasks", len(b.Tasks)),
	)

	if replaced != nil {
		metrics.RecordConfirmation("replaced")
		s.logger.Warn("pending batch replaced",
			slog.Int64("chat_id", key.ChatID),
			slog.Int64("message_id", key.MessageID),
			slog.String("project", replaced.ProjectTitle),
		)
		if s.onExpire != nil {
			s.onExpire(replaced)
		}
	}
}

// Confirm takes a batch out of the store. When replyTo names a stored
// preview of the chat, that batch is used; otherwise the most recently
// proposed live batch of the chat. It returns nil when nothing is pending.
func (s *Store) Confirm(chatID, replyTo int64) *Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var target *entry

	if replyTo != 0 {
		if e, ok := s.pending[Key{ChatID: chatID, MessageID: replyTo}]; ok && now.Before(e.batch.ExpiresAt) {
			target = e
		}
	}
	if target == nil {
		for key, e := range s.pending {
			if key.ChatID != chatID || !now.Before(e.batch.ExpiresAt) {
				continue
			}
			if target == nil || newer(e.batch, target.batch) {
				target = e
			}
		}
	}
	if target == nil {
		return nil
	}

	delete(s.pending, target.batch.Key())
	target.timer.Stop()

	metrics.RecordConfirmation("committed")
	s.logger.Info("batch confirmed",
		slog.Int64("chat_id", chatID),
		slog.Int64("message_id", target.batch.MessageID),
	)
	return target.batch
}

// newer orders batches by creation time, then by preview message id.
func newer(a, b *Batch) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.MessageID > b.MessageID
}

// expire removes the batch if e is still the stored entry for key, then
// notifies outside the lock.
func (s *Store) expire(key Key, e *entry) {
	s.mu.Lock()
	current, ok := s.pending[key]
	if !ok || current != e || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.mu.Unlock()

	metrics.RecordConfirmation("expired")
	s.logger.Info("batch expired",
		slog.Int64("chat_id", key.ChatID),
		slog.Int64("message_id", key.MessageID),
	)

	if s.onExpire != nil {
		s.onExpire(e.batch)
	}
}

// Get returns a pending batch without removing it.
func (s *Store) Get(key Key) (*Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[key]
	if !ok {
		return nil, false
	}
	return e.batch, true
}

// Len returns the number of pending batches.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops every expiry timer without sending notices and drops all
// pending batches.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, key)
	}
	s.closed = true
}
