package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alekspetrov/taskpilot/internal/confirm"
	"github.com/alekspetrov/taskpilot/internal/intent"
	"github.com/alekspetrov/taskpilot/internal/metrics"
	"github.com/alekspetrov/taskpilot/internal/recurring"
	"github.com/alekspetrov/taskpilot/internal/reports"
	"github.com/alekspetrov/taskpilot/internal/roles"
	"github.com/alekspetrov/taskpilot/internal/sink"
)

const (
	msgGenericError     = "抱歉，处理您的消息时遇到问题，请稍后重试。"
	msgClassifierDown   = "收到您的消息。我正在处理中，如果是任务相关的需求，请稍后再试或者更详细地描述一下。"
	msgNothingToConfirm = "⚠️ 没有待确认的任务（预览可能已过期）"
	msgCommitFailed     = "❌ 保存任务失败，请重试"
	msgExpired          = "⏰ 任务预览已过期，未保存到%s"
	msgNotFound         = "⚠️ 未找到匹配的任务，请确认任务名称"
	msgUpdateFailed     = "❌ 更新任务状态失败，请重试"
	msgObstacleFailed   = "❌ 记录阻碍失败，请重试"
	msgRecurringInvalid = "❌ 定时任务设置无效：%s\n例如：\"每周五提交周报\""
	msgRecurringFailed  = "❌ 创建定时任务失败，请重试"
	msgSummaryFailed    = "❌ 生成报告失败"
	msgTasksFailed      = "❌ 获取任务列表失败，请稍后重试"
	msgProjectsFailed   = "❌ 获取项目列表失败"
	maxObstacleName     = 30
)

// handleNewTasks assigns the proposed tasks, posts the preview and holds the
// batch for confirmation.
func (p *Pipeline) handleNewTasks(ctx context.Context, log *slog.Logger, msg Message, result *intent.Result) {
	partition, rule := p.router.Explain(msg.Text)
	metrics.RecordRouting(partition.Name, rule)

	proposals := result.Tasks
	if len(proposals) == 0 {
		proposals = []intent.TaskProposal{{Title: result.ProjectTitle}}
	}

	tasks := make([]sink.Task, 0, len(proposals))
	for _, tp := range proposals {
		role := roles.Pick(strings.TrimSpace(tp.Title + " " + tp.Details))
		metrics.RecordAssignment(string(role))
		tasks = append(tasks, sink.Task{
			Title:    tp.Title,
			Details:  tp.Details,
			DueHint:  tp.DueHint,
			Assignee: role,
			Owner:    p.directory.Mention(role),
		})
	}

	title := result.ProjectTitle
	if title == "" {
		title = truncate(msg.Text, 40)
	}

	previewID := p.reply(ctx, log, msg, formatPreview(title, tasks, p.confirmations.Window()))
	if previewID == 0 {
		log.Warn("Preview not sent, batch dropped")
		return
	}

	p.confirmations.Propose(&confirm.Batch{
		ChatID:       msg.ChatID,
		MessageID:    previewID,
		ProjectTitle: title,
		AuthorName:   msg.AuthorName,
		SourceText:   msg.Text,
		Partition:    partition,
		Tasks:        tasks,
	})
	log.Info("Tasks proposed",
		slog.String("partition", partition.Name),
		slog.String("rule", rule),
		slog.Int("tasks", len(tasks)),
	)
}

func formatPreview(title string, tasks []sink.Task, window time.Duration) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 %s 任务预览：\n", title)
	for i, t := range tasks {
		fmt.Fprintf(&sb, "%d. %s → %s", i+1, t.Title, t.Owner)
		if t.DueHint != "" {
			fmt.Fprintf(&sb, " （%s）", t.DueHint)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\n⚠️ 请回复「确定」来保存任务，或等待%s自动取消", formatWindow(window))
	return sb.String()
}

func formatWindow(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%d分钟", int(d/time.Minute))
	}
	return fmt.Sprintf("%d秒", int(d.Round(time.Second)/time.Second))
}

// handleConfirm commits the batch the confirmation refers to. A failed
// commit is reported and the batch is not retried.
func (p *Pipeline) handleConfirm(ctx context.Context, log *slog.Logger, msg Message) {
	batch := p.confirmations.Confirm(msg.ChatID, msg.ReplyTo)
	if batch == nil {
		p.reply(ctx, log, msg, msgNothingToConfirm)
		return
	}

	_, err := p.sink.CreateProjectWithTasks(ctx, sink.ProjectRequest{
		Partition:  batch.Partition,
		Title:      batch.ProjectTitle,
		Author:     batch.AuthorName,
		SourceText: batch.SourceText,
		Tasks:      batch.Tasks,
	})
	if err != nil {
		metrics.RecordConfirmation("commit_failed")
		log.Error("Failed to save confirmed tasks",
			slog.String("project", batch.ProjectTitle),
			slog.Any("error", err),
		)
		p.reply(ctx, log, msg, msgCommitFailed)
		return
	}

	log.Info("Confirmed tasks saved",
		slog.String("project", batch.ProjectTitle),
		slog.String("partition", batch.Partition.Name),
		slog.Int("tasks", len(batch.Tasks)),
	)
	p.reply(ctx, log, msg, fmt.Sprintf("✅ 任务已确认并保存到%s！\n项目：%s\n任务数：%d",
		p.sinkName, batch.ProjectTitle, len(batch.Tasks)))
}

// handleDone completes a recurring definition for this cycle or, failing
// that, sets the matching task to done.
func (p *Pipeline) handleDone(ctx context.Context, log *slog.Logger, msg Message, result *intent.Result) {
	hint := ""
	if result.StatusUpdate != nil {
		hint = strings.TrimSpace(result.StatusUpdate.TaskHint)
	}
	if hint == "" {
		p.reply(ctx, log, msg, msgNotFound)
		return
	}

	def, err := p.recurring.MarkComplete(ctx, hint)
	if err != nil {
		log.Error("Failed to mark recurring task complete", slog.String("hint", hint), slog.Any("error", err))
		p.reply(ctx, log, msg, msgUpdateFailed)
		return
	}
	if def != nil {
		next := "下周同一时间"
		if def.Frequency == recurring.Daily {
			next = "明天同一时间"
		} else if def.Frequency == recurring.Monthly {
			next = "下月同一时间"
		}
		p.reply(ctx, log, msg, fmt.Sprintf("✅ 定时任务\"%s\"本周已完成！\n下次提醒时间：%s", def.Title, next))
		return
	}

	ok, err := p.sink.UpdateStatus(ctx, hint, sink.StatusDone, msg.AuthorName)
	switch {
	case err != nil:
		log.Error("Failed to update task status", slog.String("hint", hint), slog.Any("error", err))
		p.reply(ctx, log, msg, msgUpdateFailed)
	case !ok:
		p.reply(ctx, log, msg, msgNotFound)
	default:
		log.Info("Task marked done", slog.String("hint", hint))
	}
}

// handleBlocked records an obstacle, flags the task and names who should help.
func (p *Pipeline) handleBlocked(ctx context.Context, log *slog.Logger, msg Message, result *intent.Result) {
	var desc, need string
	if result.Obstacle != nil {
		desc = strings.TrimSpace(result.Obstacle.Desc)
		need = strings.TrimSpace(result.Obstacle.Need)
	}
	if need == "" {
		need = desc
	}
	if need == "" {
		need = msg.Text
	}
	role := roles.Pick(need)
	metrics.RecordAssignment(string(role))

	taskName, description := desc, desc
	if desc == "" {
		taskName = truncate(msg.Text, maxObstacleName)
		description = msg.Text
	}

	_, err := p.sink.CreateObstacle(ctx, sink.Obstacle{
		TaskName:    taskName,
		Description: description,
		Actor:       msg.AuthorName,
		HelpRole:    role,
	})
	switch {
	case errors.Is(err, sink.ErrNotConfigured):
		log.Warn("Obstacle database not configured, obstacle not stored")
	case err != nil:
		log.Error("Failed to record obstacle", slog.Any("error", err))
		p.reply(ctx, log, msg, msgObstacleFailed)
		return
	}

	if desc != "" {
		if _, err := p.sink.UpdateStatus(ctx, desc, sink.StatusNeedsHelp, msg.AuthorName); err != nil {
			log.Warn("Failed to flag blocked task", slog.String("desc", desc), slog.Any("error", err))
		}
	}

	p.reply(ctx, log, msg, fmt.Sprintf("⚠️ 阻碍已记录，需要 %s 协助处理", p.directory.Mention(role)))
}

// handleRecurring creates a recurring definition owned by the author.
func (p *Pipeline) handleRecurring(ctx context.Context, log *slog.Logger, msg Message, result *intent.Result) {
	req := result.Recurring
	if req == nil || strings.TrimSpace(req.Title) == "" {
		p.reply(ctx, log, msg, fmt.Sprintf(msgRecurringInvalid, "缺少任务名称"))
		return
	}

	freq := recurring.Weekly
	if strings.TrimSpace(req.Frequency) != "" {
		f, ok := recurring.ParseFrequency(req.Frequency)
		if !ok {
			p.reply(ctx, log, msg, fmt.Sprintf(msgRecurringInvalid, "无法识别的频率 "+req.Frequency))
			return
		}
		freq = f
	}

	def, err := p.recurring.Add(ctx, recurring.Definition{
		Title:       strings.TrimSpace(req.Title),
		Description: msg.Text,
		Frequency:   freq,
		DayOfWeek:   req.DayOfWeek.Int(),
		TimeOfDay:   req.Time,
		Assignee:    msg.AuthorName,
		CreatedBy:   msg.AuthorName,
		GroupID:     msg.ChatID,
	})
	switch {
	case errors.Is(err, recurring.ErrInvalidDefinition):
		log.Info("Rejected recurring task", slog.Any("error", err))
		p.reply(ctx, log, msg, fmt.Sprintf(msgRecurringInvalid, invalidReason(freq, req)))
		return
	case err != nil:
		log.Error("Failed to create recurring task", slog.Any("error", err))
		p.reply(ctx, log, msg, msgRecurringFailed)
		return
	}

	log.Info("Recurring task created",
		slog.String("id", def.ID),
		slog.String("title", def.Title),
		slog.String("schedule", recurring.Describe(def)),
	)
	p.reply(ctx, log, msg, fmt.Sprintf(
		"⏰ 定时任务已创建！\n\n📋 任务：%s\n🔄 频率：%s\n👤 负责人：%s\n\n提醒：任务会定时提醒，直到回复\"%s 完成\"为止",
		def.Title, recurring.Describe(def), roles.MentionUser(def.Assignee), def.Title))
}

func invalidReason(freq recurring.Frequency, req *intent.RecurringRequest) string {
	if freq == recurring.Weekly {
		if d := req.DayOfWeek.Int(); d < 1 || d > 7 {
			return "每周任务需要指定星期几"
		}
	}
	if req.Time != "" {
		return "时间格式应为 HH:MM"
	}
	return "参数不完整"
}

func (p *Pipeline) handleSummary(ctx context.Context, log *slog.Logger, msg Message) {
	summary, err := p.sink.ProgressSummary(ctx)
	if err != nil {
		log.Error("Failed to build progress summary", slog.Any("error", err))
		p.reply(ctx, log, msg, msgSummaryFailed)
		return
	}
	p.reply(ctx, log, msg, reports.FormatSummary(summary))
}

func (p *Pipeline) handleListTasks(ctx context.Context, log *slog.Logger, msg Message) {
	tasks, err := p.sink.ListPendingTasks(ctx)
	if err != nil {
		log.Error("Failed to list pending tasks", slog.Any("error", err))
		p.reply(ctx, log, msg, msgTasksFailed)
		return
	}
	p.reply(ctx, log, msg, reports.FormatPendingTasks(tasks))
}

func (p *Pipeline) handleListProjects(ctx context.Context, log *slog.Logger, msg Message) {
	projects, err := p.sink.ListProjects(ctx)
	if err != nil {
		log.Error("Failed to list projects", slog.Any("error", err))
		p.reply(ctx, log, msg, msgProjectsFailed)
		return
	}
	p.reply(ctx, log, msg, reports.FormatProjects(projects))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
