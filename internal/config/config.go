package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/taskpilot/internal/intent"
	"github.com/alekspetrov/taskpilot/internal/logging"
	"github.com/alekspetrov/taskpilot/internal/metrics"
	"github.com/alekspetrov/taskpilot/internal/notion"
	"github.com/alekspetrov/taskpilot/internal/reports"
	"github.com/alekspetrov/taskpilot/internal/roles"
	"github.com/alekspetrov/taskpilot/internal/routing"
)

// Classifier modes.
const (
	ClassifierClaude = "claude"
	ClassifierRules  = "rules"
)

// Sink backends.
const (
	SinkNotion = "notion"
	SinkLedger = "ledger"
)

// Recurring storage backends.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Config represents the main configuration
type Config struct {
	Version      string              `yaml:"version"`
	Telegram     *TelegramConfig     `yaml:"telegram"`
	Boss         *BossConfig         `yaml:"boss"`
	Classifier   *ClassifierConfig   `yaml:"classifier"`
	Sink         string              `yaml:"sink"`
	Notion       *notion.Config      `yaml:"notion"`
	Ledger       *LedgerConfig       `yaml:"ledger"`
	Partitions   *routing.Config     `yaml:"partitions"`
	Roles        *roles.Config       `yaml:"roles"`
	Recurring    *RecurringConfig    `yaml:"recurring"`
	Confirmation *ConfirmationConfig `yaml:"confirmation"`
	Reports      *reports.Config     `yaml:"reports"`
	Metrics      *metrics.Config     `yaml:"metrics"`
	Logging      *logging.Config     `yaml:"logging"`
}

// TelegramConfig holds bot settings
type TelegramConfig struct {
	Token string `yaml:"token"`
	// AllowedIDs restricts the chats and users the bot answers.
	AllowedIDs []int64 `yaml:"allowed_ids"`
	// GroupChatID receives scheduled reports and reminders of definitions
	// without a group.
	GroupChatID int64 `yaml:"group_chat_id"`
	PollTimeout int   `yaml:"poll_timeout"`
}

// BossConfig identifies the boss account.
type BossConfig struct {
	ID       int64  `yaml:"id"`
	Username string `yaml:"username"`
}

// ClassifierConfig selects and tunes intent classification.
type ClassifierConfig struct {
	Mode   string              `yaml:"mode"` // claude, rules
	Claude intent.ClaudeConfig `yaml:"claude"`
	// Fallback uses the rule classifier when Claude fails.
	Fallback bool `yaml:"fallback"`
	// QueueDelay is the pause between two classifier requests.
	QueueDelay time.Duration `yaml:"queue_delay"`
	QueueSize  int           `yaml:"queue_size"`
	// Timeout bounds one message's classification including the fallback.
	Timeout time.Duration `yaml:"timeout"`
}

// LedgerConfig holds the local SQLite task store settings.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// RecurringConfig holds recurring task settings
type RecurringConfig struct {
	Storage  string `yaml:"storage"` // file, sqlite
	Path     string `yaml:"path"`
	Timezone string `yaml:"timezone"`
}

// ConfirmationConfig holds the preview confirmation window.
type ConfirmationConfig struct {
	Window time.Duration `yaml:"window"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Version:  "1.0",
		Telegram: &TelegramConfig{PollTimeout: 30},
		Boss:     &BossConfig{},
		Classifier: &ClassifierConfig{
			Mode:       ClassifierClaude,
			Claude:     intent.DefaultClaudeConfig(),
			Fallback:   true,
			QueueDelay: time.Second,
			QueueSize:  intent.DefaultQueueSize,
			Timeout:    2 * time.Minute,
		},
		Sink:       SinkNotion,
		Notion:     notion.DefaultConfig(),
		Ledger:     &LedgerConfig{Path: filepath.Join(dataDir, "ledger.db")},
		Partitions: routing.DefaultConfig(),
		Roles:      roles.DefaultConfig(),
		Recurring: &RecurringConfig{
			Storage:  StorageFile,
			Path:     filepath.Join(dataDir, "recurring-tasks.json"),
			Timezone: "Local",
		},
		Confirmation: &ConfirmationConfig{Window: 2 * time.Minute},
		Reports:      reports.DefaultConfig(),
		Metrics:      metrics.DefaultConfig(),
		Logging:      logging.DefaultConfig(),
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Return defaults if no config file
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Expand paths
	if config.Ledger != nil {
		config.Ledger.Path = expandPath(config.Ledger.Path)
	}
	if config.Recurring != nil {
		config.Recurring.Path = expandPath(config.Recurring.Path)
	}
	if config.Logging != nil && config.Logging.Output != "stdout" && config.Logging.Output != "stderr" {
		config.Logging.Output = expandPath(config.Logging.Output)
	}

	return config, nil
}

// Save saves configuration to a file
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file holds bot and API tokens.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".taskpilot", "config.yaml")
}

// DefaultDataDir returns the default directory for local state.
func DefaultDataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".taskpilot", "data")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// LoadLocation resolves a timezone name. "" and "Local" are the host zone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// Validate validates the configuration. It reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Telegram == nil || strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token is required")
	} else if c.Telegram.PollTimeout < 0 {
		add("telegram.poll_timeout must not be negative")
	}

	if c.Classifier == nil {
		add("classifier configuration is required")
	} else {
		switch c.Classifier.Mode {
		case ClassifierClaude:
			if c.Classifier.Claude.Command == "" {
				add("classifier.claude.command is required in claude mode")
			}
		case ClassifierRules:
		default:
			add("invalid classifier.mode %q (want %s or %s)", c.Classifier.Mode, ClassifierClaude, ClassifierRules)
		}
		if c.Classifier.QueueDelay < 0 {
			add("classifier.queue_delay must not be negative")
		}
	}

	switch c.Sink {
	case SinkNotion:
		c.validateNotion(add)
	case SinkLedger:
		if c.Ledger == nil || c.Ledger.Path == "" {
			add("ledger.path is required when sink is ledger")
		}
	default:
		add("invalid sink %q (want %s or %s)", c.Sink, SinkNotion, SinkLedger)
	}

	if c.Recurring == nil {
		add("recurring configuration is required")
	} else {
		if c.Recurring.Storage != StorageFile && c.Recurring.Storage != StorageSQLite {
			add("invalid recurring.storage %q (want %s or %s)", c.Recurring.Storage, StorageFile, StorageSQLite)
		}
		if c.Recurring.Path == "" {
			add("recurring.path is required")
		}
		if _, err := LoadLocation(c.Recurring.Timezone); err != nil {
			add("recurring.timezone: %v", err)
		}
	}

	if c.Confirmation == nil || c.Confirmation.Window <= 0 {
		add("confirmation.window must be positive")
	}

	if c.Reports != nil && c.Reports.Enabled {
		if _, err := cron.ParseStandard(c.Reports.Schedule); err != nil {
			add("invalid reports.schedule %q: %v", c.Reports.Schedule, err)
		}
		if _, err := LoadLocation(c.Reports.Timezone); err != nil {
			add("reports.timezone: %v", err)
		}
		if c.Telegram != nil && c.Telegram.GroupChatID == 0 {
			add("telegram.group_chat_id is required when reports are enabled")
		}
	}

	if c.Metrics != nil && c.Metrics.Enabled && c.Metrics.Address == "" {
		add("metrics.address is required when metrics are enabled")
	}

	return errors.Join(errs...)
}

func (c *Config) validateNotion(add func(string, ...any)) {
	if c.Notion == nil || strings.TrimSpace(c.Notion.Token) == "" {
		add("notion.token is required when sink is notion")
	}
	if c.Partitions == nil || c.Partitions.Primary == nil {
		add("partitions.primary is required")
		return
	}
	if c.Partitions.Primary.ProjectDB == "" || c.Partitions.Primary.TaskDB == "" {
		add("partitions.primary needs project_db and task_db")
	}
	if c.Notion == nil {
		return
	}
	for id, schema := range c.Notion.Schemas {
		if !schema.Valid() {
			add("notion.schemas[%s]: unknown schema %q", id, schema)
		}
	}
}
