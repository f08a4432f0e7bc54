package notion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alekspetrov/taskpilot/internal/logging"
	"github.com/alekspetrov/taskpilot/internal/routing"
	"github.com/alekspetrov/taskpilot/internal/sink"
)

// Schema names the property layout of a database.
type Schema string

const (
	// SchemaChinese uses Chinese property names with a select 状态.
	SchemaChinese Schema = "zh"
	// SchemaEnglish is the English project layout with a status-typed Status.
	SchemaEnglish Schema = "en"
	// SchemaChineseDetailed is a Chinese task layout that also has 类型 and 描述.
	SchemaChineseDetailed Schema = "zh_detailed"
)

// Valid reports whether s is a known layout.
func (s Schema) Valid() bool {
	switch s {
	case SchemaChinese, SchemaEnglish, SchemaChineseDetailed:
		return true
	}
	return false
}

// Property names.
const (
	propProjectTitle   = "项目名称"
	propTaskTitle      = "任务名称"
	propStatus         = "状态"
	propOwner          = "负责人"
	propDue            = "截止日期"
	propDescription    = "描述"
	propPriority       = "优先级"
	propType           = "类型"
	propObstacleTitle  = "阻碍描述"
	propCreated        = "创建日期"
	propEnProjectTitle = "Project name"
	propEnStatus       = "Status"
	propEnPriority     = "Priority"
	propEnStart        = "Start date"
	propEnEnd          = "End date"
)

// English project statuses.
const (
	enNotStarted = "Not started"
	enInProgress = "In progress"
	enDone       = "Done"
)

// projectHorizon is the default project deadline.
const projectHorizon = 7 * 24 * time.Hour

// Config configures the Notion sink.
type Config struct {
	Token      string        `yaml:"token"`
	BaseURL    string        `yaml:"base_url,omitempty"`
	Version    string        `yaml:"version,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	ObstacleDB string        `yaml:"obstacle_db"`
	// Schemas maps database ids to their layout. Unlisted databases use
	// SchemaChinese.
	Schemas map[string]Schema `yaml:"schemas,omitempty"`
}

// DefaultConfig returns a Config with API defaults and no databases.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: DefaultBaseURL,
		Version: DefaultVersion,
		Timeout: 30 * time.Second,
		Schemas: map[string]Schema{},
	}
}

// database is a configured database with the partition it belongs to.
type database struct {
	id     string
	schema Schema
	source string
}

// Sink implements sink.Sink on Notion databases.
type Sink struct {
	client     *Client
	obstacleDB string
	projectDBs []database
	taskDBs    []database
	log        *slog.Logger
	now        func() time.Time
}

var _ sink.Sink = (*Sink)(nil)

// NewSink creates a sink over the databases of partitions. Databases shared
// by several partitions are queried once.
func NewSink(client *Client, cfg *Config, partitions []routing.Partition) *Sink {
	s := &Sink{
		client:     client,
		obstacleDB: cfg.ObstacleDB,
		log:        logging.WithComponent("notion"),
		now:        time.Now,
	}

	schemaOf := func(id string) Schema {
		if sc, ok := cfg.Schemas[id]; ok && sc != "" {
			return sc
		}
		return SchemaChinese
	}

	seenProject := map[string]bool{}
	seenTask := map[string]bool{}
	for _, p := range partitions {
		if p.ProjectDB != "" && !seenProject[p.ProjectDB] {
			seenProject[p.ProjectDB] = true
			s.projectDBs = append(s.projectDBs, database{id: p.ProjectDB, schema: schemaOf(p.ProjectDB), source: p.Label})
		}
		if p.TaskDB != "" && !seenTask[p.TaskDB] {
			seenTask[p.TaskDB] = true
			s.taskDBs = append(s.taskDBs, database{id: p.TaskDB, schema: schemaOf(p.TaskDB), source: p.Label})
		}
	}
	return s
}

func (s *Sink) schemaFor(dbs []database, id string) Schema {
	for _, db := range dbs {
		if db.id == id {
			return db.schema
		}
	}
	return SchemaChinese
}

// CreateProjectWithTasks writes the project row, then one row per task.
// A failed task write stops the batch and leaves earlier rows in place.
func (s *Sink) CreateProjectWithTasks(ctx context.Context, req sink.ProjectRequest) (*sink.ProjectResult, error) {
	if req.Partition.ProjectDB == "" || req.Partition.TaskDB == "" {
		return nil, fmt.Errorf("partition %q: %w", req.Partition.Name, sink.ErrNotConfigured)
	}

	now := s.now()
	projectID, err := s.client.CreatePage(ctx, req.Partition.ProjectDB,
		projectProperties(s.schemaFor(s.projectDBs, req.Partition.ProjectDB), req, now))
	if err != nil {
		return nil, fmt.Errorf("create project %q: %w", req.Title, err)
	}
	logging.Enrich(s.log, ctx).Info("project created",
		slog.String("project_id", projectID),
		slog.String("partition", req.Partition.Name),
		slog.Int("tasks", len(req.Tasks)),
	)

	result := &sink.ProjectResult{ProjectID: projectID}
	taskSchema := s.schemaFor(s.taskDBs, req.Partition.TaskDB)
	for _, task := range req.Tasks {
		id, err := s.client.CreatePage(ctx, req.Partition.TaskDB, taskProperties(taskSchema, task, now))
		if err != nil {
			return result, fmt.Errorf("create task %q: %w", task.Title, err)
		}
		result.TaskIDs = append(result.TaskIDs, id)
	}
	return result, nil
}

func projectProperties(schema Schema, req sink.ProjectRequest, now time.Time) Properties {
	if schema == SchemaEnglish {
		return Properties{
			propEnProjectTitle: titleProp(req.Title),
			propEnStatus:       statusProp(enNotStarted),
			propEnPriority:     selectProp("Medium"),
			propEnStart:        dateProp(now),
			propEnEnd:          dateProp(now.Add(projectHorizon)),
		}
	}

	author := req.Author
	if author == "" {
		author = "未知"
	}
	return Properties{
		propProjectTitle: titleProp(req.Title),
		propStatus:       selectProp(sink.StatusPending),
		propOwner:        textProp(author),
		propDue:          dateProp(now.Add(projectHorizon)),
		propDescription:  textProp(req.SourceText),
	}
}

func taskProperties(schema Schema, task sink.Task, now time.Time) Properties {
	owner := task.Owner
	if owner == "" {
		owner = string(task.Assignee)
	}
	props := Properties{
		propTaskTitle: titleProp(task.Title),
		propStatus:    selectProp(sink.StatusPending),
		propOwner:     textProp(owner),
		propPriority:  selectProp(sink.PriorityMedium),
	}
	if schema == SchemaChineseDetailed {
		props[propType] = selectProp("任务")
		props[propDescription] = textProp(task.Details)
	}
	if due := sink.DueDate(task.DueHint, now); due != nil {
		props[propDue] = dateProp(*due)
	}
	return props
}

// UpdateStatus searches the task databases, then the project databases, for
// the first unfinished row whose title contains fuzzyName. A query failure on
// one database is logged and the search continues; if nothing was updated the
// first such failure is returned. A failed write to a matched page is
// returned at once.
func (s *Sink) UpdateStatus(ctx context.Context, fuzzyName, status, actor string) (bool, error) {
	fuzzyName = strings.TrimSpace(fuzzyName)
	if fuzzyName == "" {
		return false, nil
	}
	var queryErr error
	for _, db := range s.taskDBs {
		pages, err := s.client.QueryDatabase(ctx, db.id, and(
			titleContains(propTaskTitle, fuzzyName),
			selectNotEquals(propStatus, sink.StatusDone),
		))
		if err != nil {
			logging.Enrich(s.log, ctx).Warn("task query failed", slog.String("database", db.id), slog.Any("error", err))
			if queryErr == nil {
				queryErr = err
			}
			continue
		}
		if len(pages) == 0 {
			continue
		}
		if err := s.client.UpdatePage(ctx, pages[0].ID, Properties{propStatus: selectProp(status)}); err != nil {
			return false, fmt.Errorf("update task %s: %w", pages[0].ID, err)
		}
		logging.Enrich(s.log, ctx).Info("task status updated",
			slog.String("page", pages[0].ID),
			slog.String("status", status),
			slog.String("actor", actor),
		)
		return true, nil
	}

	for _, db := range s.projectDBs {
		filter := and(
			titleContains(propProjectTitle, fuzzyName),
			selectNotEquals(propStatus, sink.StatusDone),
		)
		update := Properties{propStatus: selectProp(status)}
		if db.schema == SchemaEnglish {
			filter = and(
				titleContains(propEnProjectTitle, fuzzyName),
				statusNotEquals(propEnStatus, enDone),
			)
			update = Properties{propEnStatus: statusProp(englishStatus(status))}
		}

		pages, err := s.client.QueryDatabase(ctx, db.id, filter)
		if err != nil {
			logging.Enrich(s.log, ctx).Warn("project query failed", slog.String("database", db.id), slog.Any("error", err))
			if queryErr == nil {
				queryErr = err
			}
			continue
		}
		if len(pages) == 0 {
			continue
		}
		if err := s.client.UpdatePage(ctx, pages[0].ID, update); err != nil {
			return false, fmt.Errorf("update project %s: %w", pages[0].ID, err)
		}
		logging.Enrich(s.log, ctx).Info("project status updated",
			slog.String("page", pages[0].ID),
			slog.String("status", status),
			slog.String("actor", actor),
		)
		return true, nil
	}

	if queryErr != nil {
		return false, fmt.Errorf("update status: %w", queryErr)
	}
	return false, nil
}

func englishStatus(status string) string {
	switch status {
	case sink.StatusDone:
		return enDone
	case "进行中":
		return enInProgress
	default:
		return enNotStarted
	}
}

// CreateObstacle writes an open obstacle row.
func (s *Sink) CreateObstacle(ctx context.Context, o sink.Obstacle) (string, error) {
	if s.obstacleDB == "" {
		return "", fmt.Errorf("obstacle database: %w", sink.ErrNotConfigured)
	}
	id, err := s.client.CreatePage(ctx, s.obstacleDB, Properties{
		propObstacleTitle: titleProp(o.Title()),
		propOwner:         textProp(o.Actor),
		propStatus:        selectProp(sink.ObstacleOpen),
		propCreated:       dateProp(s.now()),
	})
	if err != nil {
		return "", fmt.Errorf("create obstacle: %w", err)
	}
	return id, nil
}

// ProgressSummary counts rows across all databases, skipping test data.
// It fails only when no database could be read.
func (s *Sink) ProgressSummary(ctx context.Context) (*sink.Summary, error) {
	summary := &sink.Summary{}
	var errs []error
	read := 0

	projects, err := s.ListProjects(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		read++
		for _, p := range projects {
			if p.Done {
				summary.ProjectsDone++
			} else {
				summary.ProjectsActive++
			}
		}
	}

	for _, db := range s.taskDBs {
		pages, err := s.client.QueryDatabase(ctx, db.id, nil)
		if err != nil {
			logging.Enrich(s.log, ctx).Warn("task query failed", slog.String("database", db.id), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		read++
		for _, page := range pages {
			if sink.IsTestTitle(page.Properties[propTaskTitle].PlainText()) {
				continue
			}
			status := page.Properties[propStatus].OptionName()
			switch {
			case sink.IsDoneStatus(status):
				summary.TasksDone++
			case sink.IsNeedsHelpStatus(status):
				summary.TasksNeedHelp++
			default:
				summary.TasksPending++
			}
		}
	}

	if s.obstacleDB != "" {
		pages, err := s.client.QueryDatabase(ctx, s.obstacleDB, and(selectEquals(propStatus, sink.ObstacleOpen)))
		if err != nil {
			logging.Enrich(s.log, ctx).Warn("obstacle query failed", slog.Any("error", err))
			errs = append(errs, err)
		} else {
			read++
			summary.ObstaclesOpen = len(pages)
		}
	}

	if read == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("progress summary: %w", errors.Join(errs...))
	}
	return summary, nil
}

// ListPendingTasks returns unfinished, non-test tasks sorted overdue first,
// then by priority.
func (s *Sink) ListPendingTasks(ctx context.Context) ([]sink.TaskRecord, error) {
	var tasks []sink.TaskRecord
	var errs []error
	now := s.now()

	for _, db := range s.taskDBs {
		pages, err := s.client.QueryDatabase(ctx, db.id, and(
			selectNotEquals(propStatus, sink.StatusDone),
			selectNotEquals(propStatus, "已完成"),
		))
		if err != nil {
			logging.Enrich(s.log, ctx).Warn("task query failed", slog.String("database", db.id), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		for _, page := range pages {
			rec := taskRecord(page, db.source, now)
			if sink.IsTestTitle(rec.Title) {
				continue
			}
			tasks = append(tasks, rec)
		}
	}

	if len(errs) == len(s.taskDBs) && len(errs) > 0 {
		return nil, fmt.Errorf("list pending tasks: %w", errors.Join(errs...))
	}
	sink.SortPending(tasks)
	return tasks, nil
}

func taskRecord(page Page, source string, now time.Time) sink.TaskRecord {
	rec := sink.TaskRecord{
		ID:        page.ID,
		Title:     page.Properties[propTaskTitle].PlainText(),
		Status:    page.Properties[propStatus].OptionName(),
		Owner:     page.Properties[propOwner].PlainText(),
		Priority:  page.Properties[propPriority].OptionName(),
		Source:    source,
		CreatedAt: page.CreatedTime,
	}
	if rec.Title == "" {
		rec.Title = "无标题"
	}
	if rec.Status == "" {
		rec.Status = sink.StatusPending
	}
	if rec.Owner == "" {
		rec.Owner = "未分配"
	}
	if rec.Priority == "" {
		rec.Priority = sink.PriorityMedium
	}
	if due, ok := page.Properties[propDue].Time(); ok {
		rec.Due = &due
		rec.Overdue = due.Before(now)
	}
	return rec
}

// ListProjects returns all non-test projects in database order.
func (s *Sink) ListProjects(ctx context.Context) ([]sink.ProjectRecord, error) {
	var projects []sink.ProjectRecord
	var errs []error

	for _, db := range s.projectDBs {
		pages, err := s.client.QueryDatabase(ctx, db.id, nil)
		if err != nil {
			logging.Enrich(s.log, ctx).Warn("project query failed", slog.String("database", db.id), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		for _, page := range pages {
			rec := projectRecord(page, db)
			if sink.IsTestTitle(rec.Title) {
				continue
			}
			projects = append(projects, rec)
		}
	}

	if len(errs) == len(s.projectDBs) && len(errs) > 0 {
		return nil, fmt.Errorf("list projects: %w", errors.Join(errs...))
	}
	return projects, nil
}

func projectRecord(page Page, db database) sink.ProjectRecord {
	rec := sink.ProjectRecord{
		ID:        page.ID,
		Source:    db.source,
		CreatedAt: page.CreatedTime,
	}
	if db.schema == SchemaEnglish {
		rec.Title = page.Properties[propEnProjectTitle].PlainText()
		rec.Status = page.Properties[propEnStatus].OptionName()
		if rec.Status == "" {
			rec.Status = enNotStarted
		}
	} else {
		rec.Title = page.Properties[propProjectTitle].PlainText()
		rec.Status = page.Properties[propStatus].OptionName()
		if rec.Status == "" {
			rec.Status = sink.StatusPending
		}
	}
	if rec.Title == "" {
		rec.Title = "无标题"
	}
	rec.Done = sink.IsDoneStatus(rec.Status)
	return rec
}
