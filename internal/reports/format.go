// Package reports formats progress reports and posts them on a schedule.
package reports

import (
	"fmt"
	"strings"
	"time"

	"github.com/alekspetrov/taskpilot/internal/sink"
)

// FormatSummary renders the on-demand progress report.
func FormatSummary(s *sink.Summary) string {
	return fmt.Sprintf("📊 项目进度报告（不含测试数据）\n\n"+
		"项目：%d个进行中，%d个已完成\n"+
		"任务：%d个待完成，%d个需协助\n"+
		"阻碍：%d个待解决",
		s.ProjectsActive, s.ProjectsDone,
		s.TasksPending, s.TasksNeedHelp,
		s.ObstaclesOpen)
}

// FormatStatus renders the /status report, which also counts finished tasks.
func FormatStatus(s *sink.Summary) string {
	return fmt.Sprintf("📊 项目进度报告\n\n"+
		"项目:\n• %d个进行中\n• %d个已完成\n\n"+
		"任务:\n• %d个待完成\n• %d个需协助\n• %d个已完成\n\n"+
		"阻碍: %d个待解决",
		s.ProjectsActive, s.ProjectsDone,
		s.TasksPending, s.TasksNeedHelp, s.TasksDone,
		s.ObstaclesOpen)
}

// FormatPeriodic renders the scheduled report posted to the group.
func FormatPeriodic(s *sink.Summary, at time.Time) string {
	return fmt.Sprintf("📊 定时进度报告 [%s]\n\n"+
		"项目: %d个进行中, %d个已完成\n"+
		"任务: %d个待完成, %d个需协助\n"+
		"阻碍: %d个待解决\n\n"+
		"请相关负责人及时跟进！",
		at.Format("2006/1/2 15:04:05"),
		s.ProjectsActive, s.ProjectsDone,
		s.TasksPending, s.TasksNeedHelp,
		s.ObstaclesOpen)
}

// taskGroup is one section of the pending task list.
type taskGroup struct {
	heading string
	match   func(t sink.TaskRecord) bool
}

var taskGroups = []taskGroup{
	{"🔴 过期任务：", func(t sink.TaskRecord) bool { return t.Overdue }},
	{"🟠 高优先级任务：", func(t sink.TaskRecord) bool { return !t.Overdue && t.Priority == sink.PriorityHigh }},
	{"🟡 中优先级任务：", func(t sink.TaskRecord) bool {
		return !t.Overdue && t.Priority != sink.PriorityHigh && t.Priority != sink.PriorityLow
	}},
	{"🔵 低优先级任务：", func(t sink.TaskRecord) bool { return !t.Overdue && t.Priority == sink.PriorityLow }},
}

// FormatPendingTasks renders pending tasks grouped overdue, then by priority.
// Tasks with an unknown priority are listed as medium.
func FormatPendingTasks(tasks []sink.TaskRecord) string {
	if len(tasks) == 0 {
		return "✅ 太棒了！当前没有待办任务"
	}

	var sections []string
	for _, g := range taskGroups {
		var b strings.Builder
		for _, t := range tasks {
			if !g.match(t) {
				continue
			}
			if b.Len() == 0 {
				b.WriteString(g.heading + "\n")
			}
			b.WriteString("• " + t.Title)
			if t.Owner != "" {
				b.WriteString(" (" + t.Owner + ")")
			}
			b.WriteString(" - " + dueText(t.Due) + "\n")
		}
		if b.Len() > 0 {
			sections = append(sections, b.String())
		}
	}

	return "📝 待办任务列表：\n\n" + strings.Join(sections, "\n") +
		fmt.Sprintf("\n总计：%d 个待办任务", len(tasks))
}

func dueText(due *time.Time) string {
	if due == nil {
		return "无期限"
	}
	return due.Format("2006/1/2")
}

// FormatProjects renders active and finished projects.
func FormatProjects(projects []sink.ProjectRecord) string {
	if len(projects) == 0 {
		return "📋 当前没有进行中的项目"
	}

	var active, done []sink.ProjectRecord
	for _, p := range projects {
		if p.Done {
			done = append(done, p)
		} else {
			active = append(active, p)
		}
	}

	var b strings.Builder
	b.WriteString("📋 所有项目列表（不含测试数据）：\n\n")
	if len(active) > 0 {
		b.WriteString("🔵 进行中的项目：\n")
		for i, p := range active {
			fmt.Fprintf(&b, "%d. %s [%s] (%s)\n", i+1, p.Title, p.Status, p.Source)
		}
	}
	if len(done) > 0 {
		b.WriteString("\n✅ 已完成的项目：\n")
		for i, p := range done {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, p.Title, p.CreatedAt.Format("2006/1/2"))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
