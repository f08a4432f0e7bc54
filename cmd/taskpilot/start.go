package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alekspetrov/taskpilot/internal/adapters/telegram"
	"github.com/alekspetrov/taskpilot/internal/config"
	"github.com/alekspetrov/taskpilot/internal/intent"
	"github.com/alekspetrov/taskpilot/internal/ledger"
	"github.com/alekspetrov/taskpilot/internal/logging"
	"github.com/alekspetrov/taskpilot/internal/metrics"
	"github.com/alekspetrov/taskpilot/internal/notion"
	"github.com/alekspetrov/taskpilot/internal/pipeline"
	"github.com/alekspetrov/taskpilot/internal/recurring"
	"github.com/alekspetrov/taskpilot/internal/reports"
	"github.com/alekspetrov/taskpilot/internal/roles"
	"github.com/alekspetrov/taskpilot/internal/routing"
	"github.com/alekspetrov/taskpilot/internal/sink"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the Telegram bot",
		Long: `Start the bot and keep it running until interrupted.

Startup order:
  1. Load and validate the configuration
  2. Check the bot token with getMe
  3. Open the task sink (Notion or the local ledger)
  4. Load recurring tasks and start their reminders
  5. Poll Telegram for messages

Ctrl+C stops polling, pending reminders and the report scheduler.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config:\n%w", err)
			}
			if err := logging.Init(cfg.Logging); err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runBot(ctx, cfg)
		},
	}
}

// closers runs cleanup functions in reverse order.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func runBot(ctx context.Context, cfg *config.Config) error {
	log := logging.WithComponent("start")

	var cleanup closers
	defer cleanup.run()

	client := telegram.NewClient(cfg.Telegram.Token)
	me, err := client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe failed, check telegram.token: %w", err)
	}
	log.Info("Telegram bot connected", slog.String("username", me.Username), slog.Int64("id", me.ID))
	messenger := telegram.NewMessenger(client)

	router, err := routing.NewRouter(cfg.Partitions)
	if err != nil {
		return fmt.Errorf("failed to build partition router: %w", err)
	}

	taskSink, sinkName, err := openSink(cfg, router)
	if err != nil {
		return err
	}
	if c, ok := taskSink.(interface{ Close() error }); ok {
		cleanup.add(func() { _ = c.Close() })
	}
	instrumented := sink.WithMetrics(cfg.Sink, taskSink)

	classifier, fallback := buildClassifier(cfg)
	if q, ok := classifier.(*intent.Queue); ok {
		q.Start()
		cleanup.add(q.Stop)
	}

	loc, err := config.LoadLocation(cfg.Recurring.Timezone)
	if err != nil {
		return err
	}
	storage, closeStorage, err := openRecurringStorage(cfg.Recurring)
	if err != nil {
		return err
	}
	cleanup.add(closeStorage)

	groupChatID := cfg.Telegram.GroupChatID
	store, err := recurring.Open(ctx, storage, recurring.Options{
		Location:   loc,
		OnReminder: pipeline.NewReminder(messenger, groupChatID),
	})
	if err != nil {
		return fmt.Errorf("failed to load recurring tasks: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return err
	}
	cleanup.add(store.Stop)

	var bossID int64
	if cfg.Boss != nil {
		bossID = cfg.Boss.ID
	}
	pipe, err := pipeline.New(pipeline.Options{
		Classifier:      classifier,
		Fallback:        fallback,
		Sink:            instrumented,
		Recurring:       store,
		Router:          router,
		Directory:       roles.NewDirectory(cfg.Roles),
		Messenger:       messenger,
		SinkName:        sinkName,
		BossID:          bossID,
		ConfirmWindow:   cfg.Confirmation.Window,
		ClassifyTimeout: cfg.Classifier.Timeout,
	})
	if err != nil {
		return err
	}
	cleanup.add(pipe.Close)

	if cfg.Reports != nil && cfg.Reports.Enabled {
		scheduler := reports.NewScheduler(instrumented, messenger, groupChatID, cfg.Reports)
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start report scheduler: %w", err)
		}
		cleanup.add(scheduler.Stop)
	}

	g, gctx := errgroup.WithContext(ctx)

	transport := telegram.NewTransport(client, pipe, &telegram.TransportConfig{
		AllowedIDs:  cfg.Telegram.AllowedIDs,
		PollTimeout: cfg.Telegram.PollTimeout,
	})
	g.Go(func() error { return transport.Run(gctx) })

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		server := metrics.NewServer(cfg.Metrics.Address)
		g.Go(func() error { return server.Run(gctx) })
	}

	log.Info("TaskPilot started",
		slog.String("sink", cfg.Sink),
		slog.String("classifier", cfg.Classifier.Mode),
		slog.Int("recurring", len(store.List())),
	)

	err = g.Wait()
	log.Info("TaskPilot stopping")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openSink builds the configured task sink and the name shown to users.
func openSink(cfg *config.Config, router *routing.Router) (sink.Sink, string, error) {
	switch cfg.Sink {
	case config.SinkLedger:
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open ledger: %w", err)
		}
		return l, "本地任务库", nil
	default:
		var httpClient *http.Client
		if cfg.Notion.Timeout > 0 {
			httpClient = &http.Client{Timeout: cfg.Notion.Timeout}
		}
		var client *notion.Client
		if httpClient != nil {
			client = notion.NewClientWithHTTP(cfg.Notion.BaseURL, cfg.Notion.Token, cfg.Notion.Version, httpClient)
		} else {
			client = notion.NewClient(cfg.Notion.BaseURL, cfg.Notion.Token, cfg.Notion.Version)
		}
		return notion.NewSink(client, cfg.Notion, router.Partitions()), "Notion", nil
	}
}

// buildClassifier returns the primary classifier and the optional fallback.
func buildClassifier(cfg *config.Config) (intent.Classifier, intent.Classifier) {
	var fallback intent.Classifier
	if cfg.Classifier.Fallback {
		fallback = intent.NewRuleClassifier()
	}

	if cfg.Classifier.Mode == config.ClassifierRules {
		return intent.NewRuleClassifier(), nil
	}
	claude := intent.NewClaudeClassifier(cfg.Classifier.Claude)
	return intent.NewQueue(claude, cfg.Classifier.QueueDelay, cfg.Classifier.QueueSize), fallback
}

// openRecurringStorage opens the configured backend and returns its cleanup.
func openRecurringStorage(cfg *config.RecurringConfig) (recurring.Storage, func(), error) {
	if cfg.Storage == config.StorageSQLite {
		s, err := recurring.NewSQLiteStorage(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open recurring database: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	}
	return recurring.NewFileStorage(cfg.Path), func() {}, nil
}
