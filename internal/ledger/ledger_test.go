package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alekspetrov/taskpilot/internal/roles"
	"github.com/alekspetrov/taskpilot/internal/routing"
	"github.com/alekspetrov/taskpilot/internal/sink"
)

var fixedNow = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	s.now = func() time.Time { return fixedNow }
	return s
}

func salon() routing.Partition {
	return routing.Partition{Name: routing.Salon, Label: "Salon", ProjectDB: "p", TaskDB: "t"}
}

func TestCreateProjectWithTasks(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	res, err := s.CreateProjectWithTasks(ctx, sink.ProjectRequest{
		Partition: salon(),
		Title:     "门店装修",
		Author:    "boss",
		Tasks: []sink.Task{
			{Title: "联系装修队", DueHint: "2天内", Assignee: roles.Admin, Owner: "管理员"},
			{Title: "付款给装修队", Assignee: roles.Finance},
		},
	})
	if err != nil {
		t.Fatalf("CreateProjectWithTasks() error = %v", err)
	}
	if res.ProjectID == "" || len(res.TaskIDs) != 2 {
		t.Fatalf("result = %+v", res)
	}

	tasks, err := s.ListPendingTasks(ctx)
	if err != nil {
		t.Fatalf("ListPendingTasks() error = %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(tasks))
	}
	if tasks[0].Owner != "管理员" || tasks[0].Source != "Salon" || tasks[0].Priority != sink.PriorityMedium {
		t.Errorf("task = %+v", tasks[0])
	}
	if tasks[0].Due == nil || !tasks[0].Due.Equal(fixedNow.AddDate(0, 0, 2)) {
		t.Errorf("due = %v, want now+2d", tasks[0].Due)
	}
	if tasks[1].Owner != "finance" || tasks[1].Due != nil {
		t.Errorf("task = %+v", tasks[1])
	}
}

func TestUpdateStatus(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	_, err := s.CreateProjectWithTasks(ctx, sink.ProjectRequest{
		Partition: salon(),
		Title:     "WiFi安装项目",
		Tasks:     []sink.Task{{Title: "WiFi申请"}, {Title: "WiFi调试"}},
	})
	if err != nil {
		t.Fatalf("CreateProjectWithTasks() error = %v", err)
	}

	tests := []struct {
		name string
		hint string
		want bool
	}{
		{"first task", "wifi", true},
		{"second task", "WiFi", true},
		{"then project", "WiFi", true},
		{"nothing left", "WiFi", false},
		{"like wildcard is literal", "%", false},
		{"empty hint", "  ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.UpdateStatus(ctx, tt.hint, sink.StatusDone, "alice")
			if err != nil {
				t.Fatalf("UpdateStatus() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("UpdateStatus(%q) = %v, want %v", tt.hint, got, tt.want)
			}
		})
	}

	projects, _ := s.ListProjects(ctx)
	if len(projects) != 1 || !projects[0].Done {
		t.Errorf("projects = %+v, want one done project", projects)
	}
}

func TestSummaryAndObstacles(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	_, _ = s.CreateProjectWithTasks(ctx, sink.ProjectRequest{
		Partition: salon(),
		Title:     "直播准备",
		Tasks:     []sink.Task{{Title: "准备样品"}, {Title: "联系主播"}, {Title: "发布预告"}},
	})
	_, _ = s.CreateProjectWithTasks(ctx, sink.ProjectRequest{
		Partition: salon(),
		Title:     "TEST 项目",
		Tasks:     []sink.Task{{Title: "测试任务"}},
	})

	if ok, _ := s.UpdateStatus(ctx, "准备样品", sink.StatusDone, "a"); !ok {
		t.Fatal("准备样品 not updated")
	}
	if ok, _ := s.UpdateStatus(ctx, "联系主播", sink.StatusNeedsHelp, "a"); !ok {
		t.Fatal("联系主播 not updated")
	}
	id, err := s.CreateObstacle(ctx, sink.Obstacle{TaskName: "联系主播", Description: "预算不足", Actor: "a", HelpRole: roles.Finance})
	if err != nil || id == "" {
		t.Fatalf("CreateObstacle() = %q, %v", id, err)
	}

	summary, err := s.ProgressSummary(ctx)
	if err != nil {
		t.Fatalf("ProgressSummary() error = %v", err)
	}
	want := sink.Summary{ProjectsActive: 1, TasksPending: 1, TasksNeedHelp: 1, TasksDone: 1, ObstaclesOpen: 1}
	if *summary != want {
		t.Errorf("summary = %+v, want %+v", *summary, want)
	}

	tasks, _ := s.ListPendingTasks(ctx)
	if len(tasks) != 2 {
		t.Errorf("pending = %d, want 2 (done and test tasks excluded)", len(tasks))
	}
}

func TestOverdueSortsFirst(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	_, _ = s.CreateProjectWithTasks(ctx, sink.ProjectRequest{
		Partition: salon(),
		Title:     "p",
		Tasks:     []sink.Task{{Title: "later"}, {Title: "soon", DueHint: "1天"}},
	})

	s.now = func() time.Time { return fixedNow.AddDate(0, 0, 3) }
	tasks, err := s.ListPendingTasks(ctx)
	if err != nil {
		t.Fatalf("ListPendingTasks() error = %v", err)
	}
	if tasks[0].Title != "soon" || !tasks[0].Overdue {
		t.Errorf("first = %+v, want overdue task", tasks[0])
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := s.CreateProjectWithTasks(ctx, sink.ProjectRequest{Partition: salon(), Title: "持久化"}); err != nil {
		t.Fatalf("CreateProjectWithTasks() error = %v", err)
	}
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer func() { _ = s.Close() }()
	projects, err := s.ListProjects(ctx)
	if err != nil || len(projects) != 1 || projects[0].Title != "持久化" {
		t.Errorf("projects = %+v, err = %v", projects, err)
	}
}
