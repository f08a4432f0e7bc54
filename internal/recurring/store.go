package recurring

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alekspetrov/taskpilot/internal/logging"
	"github.com/alekspetrov/taskpilot/internal/metrics"
)

// ResetSpec is the weekly boundary at which weekly completion flags clear:
// Monday 00:00.
const ResetSpec = "0 0 * * 1"

// ReminderFunc delivers a reminder for a fired definition.
type ReminderFunc func(ctx context.Context, def Definition) error

// Options configures a Store.
type Options struct {
	// Location is the time zone triggers are evaluated in. Defaults to local time.
	Location *time.Location
	// OnReminder is called when a trigger fires and the definition is due.
	OnReminder ReminderFunc
	// Now overrides the clock, for tests.
	Now func() time.Time
	Logger *slog.Logger
}

// Store owns recurring definitions and their cron triggers. Definitions are
// kept in insertion order and indexed by id; each trigger holds only the id
// of its definition.
type Store struct {
	mu       sync.Mutex
	storage  Storage
	defs     []*Definition
	byID     map[string]*Definition
	entries  map[string]cron.EntryID
	cron     *cron.Cron
	resetID  cron.EntryID
	running  bool
	runCtx   context.Context
	lastID   int64
	remind   ReminderFunc
	now      func() time.Time
	location *time.Location
	logger   *slog.Logger
}

// Open loads all definitions from storage. A storage that cannot be read is
// an error wrapping ErrStorage.
func Open(ctx context.Context, storage Storage, opts Options) (*Store, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("recurring")
	}

	loaded, err := storage.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load: %w", ErrStorage, err)
	}

	s := &Store{
		storage:  storage,
		byID:     make(map[string]*Definition),
		entries:  make(map[string]cron.EntryID),
		cron:     cron.New(cron.WithLocation(opts.Location)),
		runCtx:   context.Background(),
		remind:   opts.OnReminder,
		now:      opts.Now,
		location: opts.Location,
		logger:   opts.Logger,
	}

	for i := range loaded {
		def := loaded[i]
		if def.ID == "" {
			return nil, fmt.Errorf("%w: definition %q has no id", ErrStorage, def.Title)
		}
		if _, dup := s.byID[def.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate definition id %s", ErrStorage, def.ID)
		}
		s.defs = append(s.defs, &def)
		s.byID[def.ID] = &def
		if n, err := strconv.ParseInt(def.ID, 10, 64); err == nil && n > s.lastID {
			s.lastID = n
		}
	}

	s.logger.Info("loaded recurring definitions", slog.Int("count", len(s.defs)))
	return s, nil
}

// Start registers a trigger for every active definition plus the weekly
// reset job and starts the scheduler. Reminders run with ctx.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	resetID, err := s.cron.AddFunc(ResetSpec, func() {
		if err := s.ResetCycle(ctx); err != nil {
			s.logger.Error("weekly reset failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule weekly reset: %w", err)
	}
	s.resetID = resetID

	for _, def := range s.defs {
		if !def.Active {
			continue
		}
		if err := s.scheduleLocked(def); err != nil {
			// A bad stored definition must not block the others.
			s.logger.Warn("skipping unschedulable definition",
				slog.String("id", def.ID),
				slog.String("title", def.Title),
				slog.Any("error", err),
			)
		}
	}

	s.runCtx = ctx
	s.cron.Start()
	s.running = true

	s.logger.Info("recurring scheduler started",
		slog.Int("triggers", len(s.entries)),
		slog.String("timezone", s.location.String()),
	)
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Store) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	// Running jobs take s.mu, so wait without holding it.
	<-s.cron.Stop().Done()

	s.mu.Lock()
	for id := range s.entries {
		s.unscheduleLocked(id)
	}
	s.cron.Remove(s.resetID)
	s.mu.Unlock()

	s.logger.Info("recurring scheduler stopped")
}

// scheduleLocked registers the trigger of def. Callers hold s.mu.
func (s *Store) scheduleLocked(def *Definition) error {
	spec, err := CronSpec(*def)
	if err != nil {
		return err
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	if old, ok := s.entries[def.ID]; ok {
		s.cron.Remove(old)
	}
	id := def.ID
	s.entries[id] = s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(id) }))

	s.logger.Debug("scheduled recurring definition",
		slog.String("id", id),
		slog.String("title", def.Title),
		slog.String("cron", spec),
	)
	return nil
}

// unscheduleLocked removes the trigger of id. Callers hold s.mu.
func (s *Store) unscheduleLocked(id string) {
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
}

// nextIDLocked returns a millisecond timestamp id, bumped to stay unique.
func (s *Store) nextIDLocked() string {
	n := s.now().UnixMilli()
	if n <= s.lastID {
		n = s.lastID + 1
	}
	s.lastID = n
	return strconv.FormatInt(n, 10)
}

// snapshotLocked copies every definition, inactive ones included.
func (s *Store) snapshotLocked() []Definition {
	out := make([]Definition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, *def)
	}
	return out
}

func (s *Store) persistLocked(ctx context.Context) error {
	if err := s.storage.Save(ctx, s.snapshotLocked()); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

// Add validates def, assigns an id, persists it and starts its trigger.
func (s *Store) Add(ctx context.Context, def Definition) (Definition, error) {
	def, err := normalize(def)
	if err != nil {
		return Definition{}, err
	}
	spec, _ := CronSpec(def)
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevLastID := s.lastID
	def.ID = s.nextIDLocked()
	def.CreatedAt = s.now()
	def.Active = true
	def.CompletedThisWeek = false
	def.LastReminded = nil
	def.LastCompleted = nil

	stored := &def
	s.defs = append(s.defs, stored)
	s.byID[def.ID] = stored

	if err := s.persistLocked(ctx); err != nil {
		s.defs = s.defs[:len(s.defs)-1]
		delete(s.byID, def.ID)
		s.lastID = prevLastID
		return Definition{}, err
	}

	if s.running {
		id := def.ID
		s.entries[id] = s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(id) }))
	}

	s.logger.Info("recurring definition added",
		slog.String("id", def.ID),
		slog.String("title", def.Title),
		slog.String("cron", spec),
	)
	return def, nil
}

// Remove deactivates a definition and stops its trigger. It returns false
// when the id is unknown or already removed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.byID[id]
	if !ok || !def.Active {
		return false, nil
	}

	def.Active = false
	if err := s.persistLocked(ctx); err != nil {
		def.Active = true
		return false, err
	}
	s.unscheduleLocked(id)

	s.logger.Info("recurring definition removed", slog.String("id", id), slog.String("title", def.Title))
	return true, nil
}

// MarkComplete marks the first active definition, in insertion order, whose
// title contains fuzzyTitle (case-insensitive) as completed for this cycle.
// It returns nil when nothing matches.
func (s *Store) MarkComplete(ctx context.Context, fuzzyTitle string) (*Definition, error) {
	needle := strings.ToLower(strings.TrimSpace(fuzzyTitle))
	if needle == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var match *Definition
	for _, def := range s.defs {
		if def.Active && strings.Contains(strings.ToLower(def.Title), needle) {
			match = def
			break
		}
	}
	if match == nil {
		return nil, nil
	}

	prevCompleted, prevAt := match.CompletedThisWeek, match.LastCompleted
	now := s.now()
	match.CompletedThisWeek = true
	match.LastCompleted = &now

	if err := s.persistLocked(ctx); err != nil {
		match.CompletedThisWeek, match.LastCompleted = prevCompleted, prevAt
		return nil, err
	}

	out := *match
	return &out, nil
}

// ResetCycle clears the completion flag of every weekly definition. Daily
// and monthly definitions are left as they are.
func (s *Store) ResetCycle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []*Definition
	for _, def := range s.defs {
		if def.Frequency == Weekly && def.CompletedThisWeek {
			def.CompletedThisWeek = false
			changed = append(changed, def)
		}
	}

	if err := s.persistLocked(ctx); err != nil {
		for _, def := range changed {
			def.CompletedThisWeek = true
		}
		return err
	}

	s.logger.Info("weekly completion flags reset", slog.Int("count", len(changed)))
	return nil
}

// fire runs when the trigger of id fires. Weekly definitions already
// completed this cycle are skipped. Reminder failures and panics are logged
// and leave the trigger scheduled.
func (s *Store) fire(id string) {
	s.mu.Lock()
	def, ok := s.byID[id]
	if !ok || !def.Active {
		s.mu.Unlock()
		return
	}
	if def.Frequency == Weekly && def.CompletedThisWeek {
		s.mu.Unlock()
		metrics.RecordRecurringFire("skipped")
		s.logger.Info("recurring definition completed this week, reminder skipped",
			slog.String("id", id),
			slog.String("title", def.Title),
		)
		return
	}
	snapshot := *def
	ctx := s.runCtx
	remind := s.remind
	s.mu.Unlock()

	if err := s.deliver(ctx, remind, snapshot); err != nil {
		metrics.RecordRecurringFire("failed")
		s.logger.Error("recurring reminder failed",
			slog.String("id", id),
			slog.String("title", snapshot.Title),
			slog.Any("error", err),
		)
		return
	}
	metrics.RecordRecurringFire("reminded")

	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok = s.byID[id]
	if !ok {
		return
	}
	now := s.now()
	def.LastReminded = &now
	if err := s.persistLocked(ctx); err != nil {
		s.logger.Error("failed to persist reminder time", slog.String("id", id), slog.Any("error", err))
	}
}

func (s *Store) deliver(ctx context.Context, remind ReminderFunc, def Definition) (err error) {
	if remind == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reminder panicked: %v", r)
		}
	}()
	return remind(ctx, def)
}

// Get returns a definition by id.
func (s *Store) Get(id string) (Definition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.byID[id]
	if !ok {
		return Definition{}, false
	}
	return *def, true
}

// List returns the active definitions in insertion order.
func (s *Store) List() []Definition {
	return s.filter(func(d *Definition) bool { return d.Active })
}

// Pending returns the active definitions not completed this cycle.
func (s *Store) Pending() []Definition {
	return s.filter(func(d *Definition) bool { return d.Active && !d.CompletedThisWeek })
}

func (s *Store) filter(keep func(*Definition) bool) []Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Definition
	for _, def := range s.defs {
		if keep(def) {
			out = append(out, *def)
		}
	}
	return out
}

// NextRun returns the next fire time of a definition, or the zero time when
// it has no running trigger.
func (s *Store) NextRun(id string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok || !s.running {
		return time.Time{}
	}
	return s.cron.Entry(entry).Next
}

// Triggers returns the number of scheduled definition triggers.
func (s *Store) Triggers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
