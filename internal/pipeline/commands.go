package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alekspetrov/taskpilot/internal/intent"
	"github.com/alekspetrov/taskpilot/internal/recurring"
	"github.com/alekspetrov/taskpilot/internal/reports"
	"github.com/alekspetrov/taskpilot/internal/roles"
)

const helpText = `📋 使用说明

常用功能:
• 创建任务: 直接描述任务
• 完成任务: 说"XX完成了"
• 查看任务: "有什么任务"
• 定时任务: "每周五提交周报"

命令:
/status - 查看进度
/recurring - 查看定时任务
/aitest - 测试AI服务
/help - 显示帮助`

// handleCommand routes slash commands. "/cmd@botname" is accepted in groups.
func (p *Pipeline) handleCommand(ctx context.Context, log *slog.Logger, msg Message) {
	parts := strings.Fields(msg.Text)
	cmd := strings.ToLower(parts[0])
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/start":
		p.reply(ctx, log, msg, p.startText())
	case "/help":
		p.reply(ctx, log, msg, helpText)
	case "/status":
		p.handleStatus(ctx, log, msg)
	case "/recurring":
		p.reply(ctx, log, msg, FormatRecurringList(p.recurring.List()))
	case "/aitest":
		p.handleHealth(ctx, log, msg)
	default:
		p.reply(ctx, log, msg, "❓ 未知命令，使用 /help 查看帮助")
	}
}

func (p *Pipeline) startText() string {
	partitions := p.router.Partitions()
	labels := make([]string, 0, len(partitions))
	for _, part := range partitions {
		labels = append(labels, part.Label)
	}
	return fmt.Sprintf(`🤖 AI项目管理机器人

功能:
• 老板发布任务 → AI智能拆解并分配
• 员工说"完成" → 自动更新状态
• 遇到"问题" → 记录并通知
• 自动路由: 付款→%s, 直播→%s, 设计→%s
• 业务分区: %s`,
		p.directory.Label(roles.Finance),
		p.directory.Label(roles.Livestream),
		p.directory.Label(roles.Designer),
		strings.Join(labels, "/"))
}

func (p *Pipeline) handleStatus(ctx context.Context, log *slog.Logger, msg Message) {
	summary, err := p.sink.ProgressSummary(ctx)
	if err != nil {
		log.Error("Failed to build status", slog.Any("error", err))
		p.reply(ctx, log, msg, "❌ 获取状态失败")
		return
	}
	p.reply(ctx, log, msg, reports.FormatStatus(summary))
}

func (p *Pipeline) handleHealth(ctx context.Context, log *slog.Logger, msg Message) {
	checker, ok := p.classifier.(intent.HealthChecker)
	if !ok {
		p.reply(ctx, log, msg, "✅ AI服务运行正常（规则模式）")
		return
	}
	hctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := checker.Health(hctx); err != nil {
		log.Warn("Classifier health check failed", slog.Any("error", err))
		p.reply(ctx, log, msg, "❌ AI服务不可用，请检查 claude 命令是否已安装并登录")
		return
	}
	p.reply(ctx, log, msg, "✅ AI服务运行正常")
}

// FormatRecurringList renders the active recurring definitions.
func FormatRecurringList(defs []recurring.Definition) string {
	if len(defs) == 0 {
		return "📅 当前没有定时任务"
	}
	var sb strings.Builder
	sb.WriteString("📅 定时任务列表：\n\n")
	for i, def := range defs {
		state := "⏳ 待完成"
		if def.CompletedThisWeek {
			state = "✅ 本周已完成"
		}
		assignee := roles.MentionUser(def.Assignee)
		if assignee == "" {
			assignee = "未分配"
		}
		fmt.Fprintf(&sb, "%d. %s\n   🔄 %s\n   👤 %s\n   %s\n\n",
			i+1, def.Title, recurring.Describe(def), assignee, state)
	}
	return strings.TrimRight(sb.String(), "\n")
}
