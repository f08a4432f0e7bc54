package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/alekspetrov/taskpilot/internal/logging"
	"github.com/alekspetrov/taskpilot/internal/metrics"
)

// ClaudeConfig configures the Claude CLI classifier.
type ClaudeConfig struct {
	Command      string        `yaml:"command"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DefaultClaudeConfig returns the CLI defaults.
func DefaultClaudeConfig() ClaudeConfig {
	return ClaudeConfig{
		Command:      "claude",
		Model:        "claude-haiku-4-5-20251001",
		Timeout:      90 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Second,
	}
}

const classifierPrompt = `[ROLE]
你是"项目管理AI助手"。对每条输入，先判别意图，再输出统一JSON：
- 闲聊/咨询/问候 => intent=chat，在 assistant_reply 给出自然、有帮助的回答；
- 创建项目/分配任务/安排工作 => intent=task_new，给 project_title + tasks（不分配负责人）+ assistant_reply；
- 完成了/做完了/已提交/done => intent=task_done，给 status_update.task_hint + assistant_reply；
- 遇到问题/需要批准/缺少资源/被阻塞 => intent=task_blocked，给 obstacle.desc 和 obstacle.need + assistant_reply；
- 查看进度/汇报状态/进度报告 => intent=task_query；
- 包含"任务"或问"有什么/还有什么/待办" => intent=list_tasks；
- 列出项目/所有项目/项目列表 => intent=list_projects；
- 以"每天/每周/每月"开头并描述了要做的事 => intent=recurring_task，给 recurring.title + recurring.frequency + assistant_reply。

[OUTPUT_JSON_SCHEMA]
{
  "intent": "chat | task_new | task_done | task_blocked | task_query | list_tasks | list_projects | recurring_task",
  "assistant_reply": "string",
  "project_title": "string (task_new)",
  "tasks": [{"title": "string", "details": "string", "due_hint": "string"}],
  "status_update": {"task_hint": "string (task_done)"},
  "obstacle": {"desc": "string", "need": "string (task_blocked)"},
  "recurring": {"title": "string", "frequency": "daily | weekly | monthly", "day_of_week": "1-7", "time": "HH:MM"}
}

[RULES]
- assistant_reply 必须提供；
- task_new：project_title 不超过40字，tasks 1~8条；
- 不要分配负责人，不要询问属于哪个业务；
- 仅输出JSON，不要代码块标记，不要解释。

[EXAMPLES]
输入："BB house需要安装WiFi，三天内完成"
输出：{"intent":"task_new","assistant_reply":"好的，我来为BB House的WiFi安装制定计划。","project_title":"BB House WiFi安装","tasks":[{"title":"联系网络运营商","details":"比较套餐价格和服务","due_hint":"今天"},{"title":"完成安装调试","details":"测试网络连接","due_hint":"3天内"}]}

输入："每周五提交周报"
输出：{"intent":"recurring_task","assistant_reply":"好的，我会设置每周五提醒提交周报的定时任务。","recurring":{"title":"提交周报","frequency":"weekly","day_of_week":"5","time":"17:00"}}`

// maxInputChars bounds the message text sent to the CLI.
const maxInputChars = 4000

// ClaudeClassifier classifies messages with a `claude --print` subprocess.
type ClaudeClassifier struct {
	cfg ClaudeConfig
	log *slog.Logger

	// cmdRunner executes the claude command. Overridden in tests.
	cmdRunner func(ctx context.Context, args ...string) ([]byte, error)
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewClaudeClassifier creates a classifier backed by the Claude CLI.
// Zero fields in cfg take their defaults.
func NewClaudeClassifier(cfg ClaudeConfig) *ClaudeClassifier {
	def := DefaultClaudeConfig()
	if cfg.Command == "" {
		cfg.Command = def.Command
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}

	c := &ClaudeClassifier{
		cfg:   cfg,
		log:   logging.WithComponent("claude-classifier"),
		sleep: sleepContext,
	}
	c.cmdRunner = c.defaultCmdRunner
	return c
}

func (c *ClaudeClassifier) defaultCmdRunner(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	return cmd.Output()
}

// newClaudeClassifierWithRunner creates a classifier with a custom command runner for testing.
func newClaudeClassifierWithRunner(cfg ClaudeConfig, runner func(ctx context.Context, args ...string) ([]byte, error)) *ClaudeClassifier {
	c := NewClaudeClassifier(cfg)
	c.cmdRunner = runner
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}

// Classify runs the CLI and parses its JSON answer. Process failures are
// retried with exponential backoff; unparseable output is not.
func (c *ClaudeClassifier) Classify(ctx context.Context, text, author string) (*Result, error) {
	start := time.Now()
	res, err := c.classify(ctx, text, author)
	metrics.RecordClassification("claude", err, time.Since(start))
	if err != nil {
		c.log.Warn("classification failed", slog.Any("error", err))
		return nil, err
	}
	c.log.Debug("classified message", slog.String("intent", string(res.Intent)))
	return res, nil
}

func (c *ClaudeClassifier) classify(ctx context.Context, text, author string) (*Result, error) {
	prompt := buildPrompt(text, author)
	args := []string{
		"--print",
		"-p", prompt,
		"--model", c.cfg.Model,
		"--output-format", "text",
	}

	backoff := c.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
			backoff *= 2
		}

		output, err := c.run(ctx, args)
		if err != nil {
			lastErr = err
			c.log.Debug("claude command failed", slog.Int("attempt", attempt+1), slog.Any("error", err))
			continue
		}

		res, err := Parse(string(output), text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w: claude command failed: %w", ErrUnavailable, lastErr)
}

func (c *ClaudeClassifier) run(ctx context.Context, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	output, err := c.cmdRunner(ctx, args...)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(output))) == 0 {
		return nil, errors.New("empty response from claude")
	}
	return output, nil
}

// Health checks that the CLI is installed and runnable.
func (c *ClaudeClassifier) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := c.cmdRunner(ctx, "--version"); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func buildPrompt(text, author string) string {
	if author == "" {
		author = "unknown"
	}
	if len(text) > maxInputChars {
		text = strings.ToValidUTF8(text[:maxInputChars], "") + "\n...[truncated]"
	}
	return fmt.Sprintf("%s\n\n[INPUT]\n发起人: %s\n消息:\n\"\"\"%s\"\"\"\n\n[OUTPUT_ONLY_JSON]", classifierPrompt, author, text)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
