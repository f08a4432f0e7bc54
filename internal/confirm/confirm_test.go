package confirm

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/alekspetrov/taskpilot/internal/sink"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock fires AfterFunc callbacks when Advance passes their deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	f        func()
	stopped  bool
	fired    bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward and runs every due timer in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, t := range due {
		t.f()
	}
}

type expiryRecorder struct {
	mu      sync.Mutex
	batches []*Batch
}

func (r *expiryRecorder) record(b *Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
}

func (r *expiryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func newTestStore() (*Store, *fakeClock, *expiryRecorder) {
	clock := newFakeClock()
	rec := &expiryRecorder{}
	s := NewStore(Options{Window: 120 * time.Second, Clock: clock, OnExpire: rec.record})
	return s, clock, rec
}

func batch(chatID, messageID int64, title string) *Batch {
	return &Batch{
		ChatID:       chatID,
		MessageID:    messageID,
		ProjectTitle: title,
		Tasks:        []sink.Task{{Title: title}},
	}
}

func TestProposeConfirm(t *testing.T) {
	s, clock, rec := newTestStore()

	b := batch(1, 100, "海报")
	s.Propose(b)

	if b.CreatedAt.IsZero() || !b.ExpiresAt.Equal(b.CreatedAt.Add(120*time.Second)) {
		t.Errorf("timestamps not set: created=%v expires=%v", b.CreatedAt, b.ExpiresAt)
	}

	clock.Advance(60 * time.Second)
	got := s.Confirm(1, 100)
	if got != b {
		t.Fatalf("Confirm returned %+v, want the proposed batch", got)
	}
	if again := s.Confirm(1, 100); again != nil {
		t.Errorf("second Confirm returned %+v, want nil", again)
	}

	clock.Advance(120 * time.Second)
	if rec.count() != 0 {
		t.Errorf("confirmed batch sent %d expiry notices", rec.count())
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestExpiry(t *testing.T) {
	s, clock, rec := newTestStore()

	s.Propose(batch(1, 100, "海报"))

	clock.Advance(119 * time.Second)
	if rec.count() != 0 {
		t.Fatal("batch expired early")
	}

	clock.Advance(1 * time.Second)
	if rec.count() != 1 {
		t.Fatalf("expiry notices = %d, want 1", rec.count())
	}
	if s.Len() != 0 {
		t.Error("expired batch still stored")
	}

	clock.Advance(30 * time.Second)
	if got := s.Confirm(1, 100); got != nil {
		t.Errorf("Confirm after expiry = %+v, want nil", got)
	}
	if rec.count() != 1 {
		t.Errorf("expiry notices = %d, want exactly 1", rec.count())
	}
}

func TestConfirmPastDeadlineBeforeTimerFires(t *testing.T) {
	s, clock, rec := newTestStore()
	s.Propose(batch(1, 100, "海报"))

	// Move the clock without running timers, as a late timer goroutine would.
	clock.mu.Lock()
	clock.now = clock.now.Add(121 * time.Second)
	clock.mu.Unlock()

	if got := s.Confirm(1, 100); got != nil {
		t.Errorf("Confirm past deadline = %+v, want nil", got)
	}

	clock.Advance(0)
	if rec.count() != 1 {
		t.Errorf("expiry notices = %d, want 1", rec.count())
	}
}

func TestConfirmResolution(t *testing.T) {
	s, clock, _ := newTestStore()

	first := batch(1, 100, "first")
	s.Propose(first)
	clock.Advance(time.Second)
	second := batch(1, 101, "second")
	s.Propose(second)
	other := batch(2, 102, "other chat")
	s.Propose(other)

	if got := s.Confirm(1, 100); got != first {
		t.Errorf("reply to first preview confirmed %+v", got)
	}

	clock.Advance(time.Second)
	s.Propose(first)
	// An unknown reply target falls back to the newest batch of the chat.
	if got := s.Confirm(1, 999); got != first {
		t.Errorf("fallback confirmed %+v, want newest batch", got)
	}
	if got := s.Confirm(1, 0); got != second {
		t.Errorf("no reply confirmed %+v, want remaining batch", got)
	}
	if got := s.Confirm(1, 0); got != nil {
		t.Errorf("empty chat confirmed %+v", got)
	}
	if got := s.Confirm(2, 0); got != other {
		t.Errorf("other chat confirmed %+v", got)
	}
}

func TestReplyToOtherChatIsIgnored(t *testing.T) {
	s, _, _ := newTestStore()
	s.Propose(batch(2, 100, "other chat"))

	if got := s.Confirm(1, 100); got != nil {
		t.Errorf("confirmed a batch of another chat: %+v", got)
	}
	if s.Len() != 1 {
		t.Error("batch of another chat must stay pending")
	}
}

func TestProposeReplacesSameKey(t *testing.T) {
	s, clock, rec := newTestStore()

	original := batch(1, 100, "old")
	s.Propose(original)
	clock.Advance(60 * time.Second)
	replacement := batch(1, 100, "new")
	s.Propose(replacement)

	if rec.count() != 1 || rec.batches[0] != original {
		t.Fatalf("replaced batch should get one notice, got %d", rec.count())
	}
	if got, ok := s.Get(Key{ChatID: 1, MessageID: 100}); !ok || got != replacement {
		t.Fatal("replacement should be pending")
	}

	clock.Advance(60 * time.Second)
	if rec.count() != 1 {
		t.Error("the old timer must not fire after replacement")
	}
	clock.Advance(60 * time.Second)
	if rec.count() != 2 || rec.batches[1] != replacement {
		t.Errorf("expected the replacement to expire second, got %d notices", rec.count())
	}
	if s.Confirm(1, 100) != nil {
		t.Error("nothing should be left to confirm")
	}
}

func TestClose(t *testing.T) {
	s, clock, rec := newTestStore()
	s.Propose(batch(1, 100, "a"))
	s.Propose(batch(1, 101, "b"))

	s.Close()
	clock.Advance(200 * time.Second)

	if rec.count() != 0 {
		t.Errorf("Close should suppress notices, got %d", rec.count())
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after Close", s.Len())
	}
	s.Propose(batch(1, 102, "c"))
	if s.Len() != 0 {
		t.Error("closed store must not accept batches")
	}
}

func TestConfirmRacesExpiry(t *testing.T) {
	var committed, expired atomic.Int32
	s := NewStore(Options{
		Window:   time.Millisecond,
		OnExpire: func(*Batch) { expired.Add(1) },
	})
	defer s.Close()

	const batches = 50
	for i := int64(0); i < batches; i++ {
		s.Propose(batch(1, 1000+i, "race"))
	}

	var wg sync.WaitGroup
	for i := int64(0); i < batches; i++ {
		wg.Add(2)
		for j := 0; j < 2; j++ {
			go func(id int64) {
				defer wg.Done()
				if s.Confirm(1, id) != nil {
					committed.Add(1)
				}
			}(1000 + i)
		}
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for committed.Load()+expired.Load() < batches && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if total := committed.Load() + expired.Load(); total != batches {
		t.Errorf("committed %d + expired %d = %d, want %d", committed.Load(), expired.Load(), total, batches)
	}
}
