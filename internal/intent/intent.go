// Package intent classifies inbound chat messages into structured intents.
package intent

import (
	"context"
	"errors"
	"strings"
)

// ErrUnavailable is returned when a classifier cannot produce a result:
// the subprocess failed or timed out, or its output could not be parsed.
var ErrUnavailable = errors.New("intent classifier unavailable")

// Kind is the detected intent of a message.
type Kind string

const (
	Chat         Kind = "chat"
	TaskNew      Kind = "task_new"
	TaskDone     Kind = "task_done"
	TaskBlocked  Kind = "task_blocked"
	TaskQuery    Kind = "task_query"
	ListTasks    Kind = "list_tasks"
	ListProjects Kind = "list_projects"
	Recurring    Kind = "recurring_task"
)

var kinds = []Kind{Chat, TaskNew, TaskDone, TaskBlocked, TaskQuery, ListTasks, ListProjects, Recurring}

// ParseKind converts a wire name to a Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range kinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// Description returns a human-readable description of the intent.
func (k Kind) Description() string {
	switch k {
	case TaskNew:
		return "New task set"
	case TaskDone:
		return "Task completed"
	case TaskBlocked:
		return "Task blocked"
	case TaskQuery:
		return "Progress summary"
	case ListTasks:
		return "List pending tasks"
	case ListProjects:
		return "List projects"
	case Recurring:
		return "Recurring task"
	default:
		return "Conversation"
	}
}

// TaskProposal is one subtask proposed by the classifier.
type TaskProposal struct {
	Title   string `json:"title"`
	Details string `json:"details,omitempty"`
	DueHint string `json:"due_hint,omitempty"`
}

// StatusUpdate names the task a completion report refers to.
type StatusUpdate struct {
	TaskHint string `json:"task_hint"`
}

// Obstacle describes a reported blocker and the help it needs.
type Obstacle struct {
	Desc string `json:"desc"`
	Need string `json:"need,omitempty"`
}

// RecurringRequest describes a requested recurring task.
type RecurringRequest struct {
	Title     string  `json:"title"`
	Frequency string  `json:"frequency,omitempty"`
	DayOfWeek flexInt `json:"day_of_week,omitempty"`
	Time      string  `json:"time,omitempty"`
}

// Result is a classified message.
type Result struct {
	Intent         Kind              `json:"intent"`
	AssistantReply string            `json:"assistant_reply"`
	ProjectTitle   string            `json:"project_title,omitempty"`
	Tasks          []TaskProposal    `json:"tasks,omitempty"`
	StatusUpdate   *StatusUpdate     `json:"status_update,omitempty"`
	Obstacle       *Obstacle         `json:"obstacle,omitempty"`
	Recurring      *RecurringRequest `json:"recurring,omitempty"`
}

// Classifier turns a chat message into a Result.
type Classifier interface {
	Classify(ctx context.Context, text, author string) (*Result, error)
}

// HealthChecker is implemented by classifiers that can probe their backend.
type HealthChecker interface {
	Health(ctx context.Context) error
}
