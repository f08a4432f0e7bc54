package intent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alekspetrov/taskpilot/internal/metrics"
)

// Query patterns ask for progress numbers.
var queryPatterns = []string{
	"进度", "汇报", "报告", "统计", "总结", "status", "progress",
}

// Project listing patterns.
var projectListPatterns = []string{
	"项目列表", "所有项目", "列出项目", "哪些项目", "有什么项目", "list projects",
}

// Task listing patterns.
var taskListPatterns = []string{
	"有什么", "还有什么", "哪些任务", "任务列表", "列出任务", "查看任务",
	"所有任务", "待办", "什么需要做", "没做完", "list tasks", "todo",
}

// Completion patterns. The suffix form "X 完成" is how recurring tasks are acknowledged.
var donePatterns = []string{
	"已经完成了", "已经提交了", "已经完成", "完成了", "做完了", "已完成", "已经提交", "已提交", "提交了", "搞定了", "搞定",
	"done", "finished",
}

// Blocker patterns.
var blockedPatterns = []string{
	"遇到问题", "有问题", "阻塞", "卡住", "需要批准", "需要审批", "需要协助", "需要帮助",
	"缺少", "无法", "没办法", "blocked", "stuck",
}

// Action words that indicate a new piece of work.
var taskActionWords = []string{
	"需要", "安排", "准备", "设计", "制作", "采购", "购买", "订购", "联系", "负责",
	"跟进", "处理", "安装", "整理", "更新", "上线", "发布", "策划", "预约", "要做",
}

var (
	recurringPattern = regexp.MustCompile(`^(每天|每日|每周|每星期|每月)([一二三四五六日天1-7])?\s*(.*)$`)
	clockPattern     = regexp.MustCompile(`(上午|早上|下午|晚上)?\s*(\d{1,2})\s*[:：点]\s*(\d{2})?\s*分?`)
	daysPattern      = regexp.MustCompile(`(\d+)\s*天`)
	monthDayPattern  = regexp.MustCompile(`^\s*\d{1,2}\s*[日号]`)
)

var weekdayDigits = map[string]int{
	"一": 1, "二": 2, "三": 3, "四": 4, "五": 5, "六": 6, "日": 7, "天": 7,
	"1": 1, "2": 2, "3": 3, "4": 4, "5": 5, "6": 6, "7": 7,
}

const titleTrimSet = " \t，,。.！!：:、"

// RuleClassifier classifies messages with fixed keyword rules.
type RuleClassifier struct{}

// NewRuleClassifier creates a keyword classifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Classify implements Classifier. It never fails.
func (RuleClassifier) Classify(_ context.Context, text, _ string) (*Result, error) {
	start := time.Now()
	res := DetectIntent(text)
	metrics.RecordClassification("rules", nil, time.Since(start))
	return res, nil
}

// DetectIntent classifies text with keyword rules.
// Priority order: Recurring > Done > Blocked > ListProjects > Query > ListTasks > TaskNew > Chat
func DetectIntent(text string) *Result {
	trimmed := strings.TrimSpace(text)
	msg := strings.ToLower(trimmed)

	if r := detectRecurring(trimmed); r != nil {
		return Normalize(&Result{
			Intent:         Recurring,
			AssistantReply: "好的，我会设置定时任务提醒。",
			Recurring:      r,
		}, trimmed)
	}

	if hint, ok := completionHint(trimmed); ok {
		return Normalize(&Result{
			Intent:         TaskDone,
			AssistantReply: "收到，我会更新任务状态为完成。",
			StatusUpdate:   &StatusUpdate{TaskHint: hint},
		}, trimmed)
	}

	switch {
	case containsAny(msg, blockedPatterns):
		return Normalize(&Result{
			Intent:         TaskBlocked,
			AssistantReply: "收到，已记录您遇到的问题。",
			Obstacle:       &Obstacle{Desc: trimmed, Need: trimmed},
		}, trimmed)
	case containsAny(msg, projectListPatterns):
		return Normalize(&Result{Intent: ListProjects, AssistantReply: "我来为您列出所有项目。"}, trimmed)
	case containsAny(msg, queryPatterns):
		return Normalize(&Result{Intent: TaskQuery, AssistantReply: "正在为您生成项目进度报告。"}, trimmed)
	case containsAny(msg, taskListPatterns):
		return Normalize(&Result{Intent: ListTasks, AssistantReply: "让我为您列出所有待办任务。"}, trimmed)
	}

	if containsAny(msg, taskActionWords) {
		task := TaskProposal{Title: trimmed}
		if m := daysPattern.FindStringSubmatch(trimmed); m != nil {
			task.DueHint = m[1] + "天内"
		}
		return Normalize(&Result{
			Intent:         TaskNew,
			AssistantReply: "好的，我来为您安排这个任务。",
			ProjectTitle:   trimmed,
			Tasks:          []TaskProposal{task},
		}, trimmed)
	}

	return Normalize(&Result{Intent: Chat}, trimmed)
}

// detectRecurring parses "每周五 17:00 提交周报" style requests.
func detectRecurring(text string) *RecurringRequest {
	m := recurringPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	req := &RecurringRequest{}
	switch m[1] {
	case "每天", "每日":
		req.Frequency = "daily"
	case "每周", "每星期":
		req.Frequency = "weekly"
		req.DayOfWeek = flexInt(weekdayDigits[m[2]])
	case "每月":
		req.Frequency = "monthly"
	}

	rest := m[3]
	if m[1] != "每周" && m[1] != "每星期" && m[2] != "" {
		rest = m[2] + rest
	}

	if c := clockPattern.FindStringSubmatchIndex(rest); c != nil {
		hour, _ := strconv.Atoi(rest[c[4]:c[5]])
		minute := 0
		if c[6] >= 0 {
			minute, _ = strconv.Atoi(rest[c[6]:c[7]])
		}
		if c[2] >= 0 {
			switch rest[c[2]:c[3]] {
			case "下午", "晚上":
				if hour < 12 {
					hour += 12
				}
			}
		}
		if hour < 24 && minute < 60 {
			req.Time = fmt.Sprintf("%02d:%02d", hour, minute)
			rest = rest[:c[0]] + rest[c[1]:]
		}
	}

	if req.Frequency == "monthly" {
		rest = monthDayPattern.ReplaceAllString(rest, "")
	}
	req.Title = strings.Trim(strings.Join(strings.Fields(rest), " "), titleTrimSet)
	if req.Title == "" {
		return nil
	}
	return req
}

// completionHint returns the task hint of a completion report.
func completionHint(text string) (string, bool) {
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		lower = text
	}
	for _, p := range donePatterns {
		idx := strings.Index(lower, p)
		if idx == -1 {
			continue
		}
		hint := strings.Trim(text[:idx]+text[idx+len(p):], titleTrimSet)
		return hint, true
	}
	trimmed := strings.TrimRight(text, titleTrimSet)
	if !strings.HasSuffix(trimmed, "完成") {
		return "", false
	}
	head := strings.TrimSuffix(trimmed, "完成")
	// "X 完成" acknowledges X; "需要在三天内完成" is a new task.
	if strings.TrimRight(head, " \t") == head && containsAny(strings.ToLower(head), taskActionWords) {
		return "", false
	}
	return strings.Trim(head, titleTrimSet), true
}

func containsAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
