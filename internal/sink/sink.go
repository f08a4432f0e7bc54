// Package sink defines where confirmed tasks, status changes and obstacles
// are written, and the records read back for reports.
package sink

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alekspetrov/taskpilot/internal/roles"
	"github.com/alekspetrov/taskpilot/internal/routing"
)

// Task and project statuses.
const (
	StatusPending   = "未完成"
	StatusDone      = "完成"
	StatusNeedsHelp = "需协助"
)

// Obstacle statuses.
const (
	ObstacleOpen     = "待解决"
	ObstacleResolved = "已解决"
)

// ErrNotConfigured is returned when the database an operation needs has
// not been configured.
var ErrNotConfigured = errors.New("sink database not configured")

// Task priorities.
const (
	PriorityHigh   = "高"
	PriorityMedium = "中"
	PriorityLow    = "低"
)

// Sink persists tasks for the bot. Implementations are not transactional:
// a failure halfway through CreateProjectWithTasks may leave the project
// without all of its tasks.
type Sink interface {
	// CreateProjectWithTasks writes one project and its tasks into the
	// databases of the request's partition.
	CreateProjectWithTasks(ctx context.Context, req ProjectRequest) (*ProjectResult, error)
	// UpdateStatus sets the status of the first open task, then project,
	// whose title contains fuzzyName. It reports whether anything matched.
	UpdateStatus(ctx context.Context, fuzzyName, status, actor string) (bool, error)
	// CreateObstacle records an obstacle and returns its id.
	CreateObstacle(ctx context.Context, obstacle Obstacle) (string, error)
	// ProgressSummary counts projects, tasks and open obstacles.
	ProgressSummary(ctx context.Context) (*Summary, error)
	// ListPendingTasks returns unfinished tasks, overdue first, then by priority.
	ListPendingTasks(ctx context.Context) ([]TaskRecord, error)
	// ListProjects returns all projects.
	ListProjects(ctx context.Context) ([]ProjectRecord, error)
}

// Task is a proposed task with its resolved assignee.
type Task struct {
	Title    string
	Details  string
	DueHint  string
	Assignee roles.Role
	// Owner is how the assignee is shown: a mention or a label.
	Owner string
}

// ProjectRequest is a confirmed batch ready to be written.
type ProjectRequest struct {
	Partition  routing.Partition
	Title      string
	Author     string
	SourceText string
	Tasks      []Task
}

// ProjectResult holds the ids created for a ProjectRequest.
type ProjectResult struct {
	ProjectID string
	TaskIDs   []string
}

// Obstacle is a reported blocker.
type Obstacle struct {
	TaskName    string
	Description string
	Actor       string
	HelpRole    roles.Role
}

// Title renders the obstacle record title, "task: description".
func (o Obstacle) Title() string {
	if o.TaskName == "" {
		return o.Description
	}
	return o.TaskName + ": " + o.Description
}

// Summary is the progress overview.
type Summary struct {
	ProjectsActive int
	ProjectsDone   int
	TasksPending   int
	TasksNeedHelp  int
	TasksDone      int
	ObstaclesOpen  int
}

// TaskRecord is a stored task.
type TaskRecord struct {
	ID        string
	Title     string
	Status    string
	Owner     string
	Priority  string
	Due       *time.Time
	Overdue   bool
	Source    string
	CreatedAt time.Time
}

// ProjectRecord is a stored project.
type ProjectRecord struct {
	ID        string
	Title     string
	Status    string
	Done      bool
	Source    string
	CreatedAt time.Time
}

var testMarkers = []string{"TEST", "DEMO", "测试"}

// IsTestTitle reports whether a title marks test or demo data, which is
// left out of listings and summaries.
func IsTestTitle(title string) bool {
	for _, m := range testMarkers {
		if strings.Contains(title, m) {
			return true
		}
	}
	return false
}

// IsDoneStatus reports whether a task or project status means finished.
func IsDoneStatus(status string) bool {
	switch status {
	case StatusDone, "已完成", "Done", "Complete":
		return true
	}
	return false
}

// IsNeedsHelpStatus reports whether a task status means blocked.
func IsNeedsHelpStatus(status string) bool {
	return status == StatusNeedsHelp || status == "阻塞"
}

var dueDigits = regexp.MustCompile(`\d+`)

// DueDate turns a due hint into a date: the first number in the hint is a
// count of days from now. Hints without a number have no due date.
func DueDate(hint string, now time.Time) *time.Time {
	m := dueDigits.FindString(hint)
	if m == "" {
		return nil
	}
	days, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	due := now.AddDate(0, 0, days)
	return &due
}

func priorityRank(p string) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// SortPending orders tasks overdue first, then high, medium, low priority.
// The sort is stable so equal tasks keep their database order.
func SortPending(tasks []TaskRecord) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Overdue != tasks[j].Overdue {
			return tasks[i].Overdue
		}
		return priorityRank(tasks[i].Priority) < priorityRank(tasks[j].Priority)
	})
}
