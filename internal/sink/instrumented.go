package sink

import (
	"context"
	"time"

	"github.com/alekspetrov/taskpilot/internal/metrics"
)

// Instrumented wraps a Sink and records the latency of every call.
type Instrumented struct {
	name  string
	inner Sink
}

// WithMetrics wraps s so its calls are recorded under name.
func WithMetrics(name string, s Sink) *Instrumented {
	return &Instrumented{name: name, inner: s}
}

func (i *Instrumented) record(op string, start time.Time, err error) {
	metrics.RecordSinkOperation(i.name, op, err, time.Since(start))
}

func (i *Instrumented) CreateProjectWithTasks(ctx context.Context, req ProjectRequest) (res *ProjectResult, err error) {
	defer func(start time.Time) { i.record("create_project", start, err) }(time.Now())
	return i.inner.CreateProjectWithTasks(ctx, req)
}

func (i *Instrumented) UpdateStatus(ctx context.Context, fuzzyName, status, actor string) (ok bool, err error) {
	defer func(start time.Time) { i.record("update_status", start, err) }(time.Now())
	return i.inner.UpdateStatus(ctx, fuzzyName, status, actor)
}

func (i *Instrumented) CreateObstacle(ctx context.Context, obstacle Obstacle) (id string, err error) {
	defer func(start time.Time) { i.record("create_obstacle", start, err) }(time.Now())
	return i.inner.CreateObstacle(ctx, obstacle)
}

func (i *Instrumented) ProgressSummary(ctx context.Context) (s *Summary, err error) {
	defer func(start time.Time) { i.record("progress_summary", start, err) }(time.Now())
	return i.inner.ProgressSummary(ctx)
}

func (i *Instrumented) ListPendingTasks(ctx context.Context) (tasks []TaskRecord, err error) {
	defer func(start time.Time) { i.record("list_pending_tasks", start, err) }(time.Now())
	return i.inner.ListPendingTasks(ctx)
}

func (i *Instrumented) ListProjects(ctx context.Context) (projects []ProjectRecord, err error) {
	defer func(start time.Time) { i.record("list_projects", start, err) }(time.Now())
	return i.inner.ListProjects(ctx)
}
