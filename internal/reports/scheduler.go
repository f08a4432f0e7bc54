package reports

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alekspetrov/taskpilot/internal/logging"
	"github.com/alekspetrov/taskpilot/internal/sink"
)

// Config configures the periodic report.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone"`
}

// DefaultConfig posts at 09:00, 13:00 and 18:00 local time.
func DefaultConfig() *Config {
	return &Config{
		Enabled:  true,
		Schedule: "0 9,13,18 * * *",
		Timezone: "Local",
	}
}

// Summarizer produces the progress summary.
type Summarizer interface {
	ProgressSummary(ctx context.Context) (*sink.Summary, error)
}

// Sender posts a message to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) (int64, error)
}

// Scheduler posts the progress report to one chat on a cron schedule.
type Scheduler struct {
	summarizer Summarizer
	sender     Sender
	chatID     int64
	config     *Config
	location   *time.Location
	cron       *cron.Cron
	mu         sync.Mutex
	running    bool
	entryID    cron.EntryID
	logger     *slog.Logger
	now        func() time.Time
}

// NewScheduler creates a report scheduler. An invalid timezone falls back to UTC.
func NewScheduler(summarizer Summarizer, sender Sender, chatID int64, config *Config) *Scheduler {
	logger := logging.WithComponent("reports")

	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		logger.Warn("invalid timezone, using UTC", "timezone", config.Timezone, "error", err)
		loc = time.UTC
	}

	return &Scheduler{
		summarizer: summarizer,
		sender:     sender,
		chatID:     chatID,
		config:     config,
		location:   loc,
		cron:       cron.New(cron.WithLocation(loc)),
		logger:     logger,
		now:        time.Now,
	}
}

// Start begins the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if !s.config.Enabled {
		s.logger.Info("report scheduler disabled")
		return nil
	}

	entryID, err := s.cron.AddFunc(s.config.Schedule, func() {
		if err := s.RunNow(ctx); err != nil {
			s.logger.Error("periodic report failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid report schedule %q: %w", s.config.Schedule, err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.running = true

	s.logger.Info("report scheduler started",
		"schedule", s.config.Schedule,
		"timezone", s.location.String(),
		"next_run", s.cron.Entry(s.entryID).Next,
	)
	return nil
}

// Stop stops the scheduler and waits for a running report to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.cron.Remove(s.entryID)
	s.running = false
	s.logger.Info("report scheduler stopped")
}

// RunNow builds the summary and posts it immediately.
func (s *Scheduler) RunNow(ctx context.Context) error {
	summary, err := s.summarizer.ProgressSummary(ctx)
	if err != nil {
		return fmt.Errorf("progress summary: %w", err)
	}

	text := FormatPeriodic(summary, s.now().In(s.location))
	if _, err := s.sender.SendMessage(ctx, s.chatID, text, 0); err != nil {
		return fmt.Errorf("post report: %w", err)
	}

	s.logger.Info("periodic report posted",
		"chat_id", s.chatID,
		"projects_active", summary.ProjectsActive,
		"tasks_pending", summary.TasksPending,
	)
	return nil
}

// NextRun returns the next scheduled run time
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// IsRunning returns whether the scheduler is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns scheduler status information
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{
		Enabled:  s.config.Enabled,
		Running:  s.running,
		Schedule: s.config.Schedule,
		Timezone: s.location.String(),
	}

	if s.running {
		entry := s.cron.Entry(s.entryID)
		status.NextRun = entry.Next
		status.LastRun = entry.Prev
	}
	return status
}

// SchedulerStatus holds scheduler status information
type SchedulerStatus struct {
	Enabled  bool
	Running  bool
	Schedule string
	Timezone string
	NextRun  time.Time
	LastRun  time.Time
}
