// Package ledger is a local SQLite sink for running without Notion.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alekspetrov/taskpilot/internal/logging"
	"github.com/alekspetrov/taskpilot/internal/sink"
)

// Sink stores projects, tasks and obstacles in SQLite.
type Sink struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

var _ sink.Sink = (*Sink)(nil)

// New creates a Sink using an existing *sql.DB connection.
// It runs migrations to create the required tables if they don't exist.
func New(db *sql.DB) (*Sink, error) {
	s := &Sink{
		db:  db,
		log: logging.WithComponent("ledger"),
		now: time.Now,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("ledger migration failed: %w", err)
	}
	return s, nil
}

// Open opens the ledger database at path. Use ":memory:" in tests.
func Open(path string) (*Sink, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set database pragmas: %w", err)
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Sink) Close() error {
	return s.db.Close()
}

func (s *Sink) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			partition TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			source_text TEXT NOT NULL DEFAULT '',
			due_at INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id),
			source TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			owner TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT '中',
			due_at INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS obstacles (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			help_role TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateProjectWithTasks writes the project and its tasks in one transaction.
func (s *Sink) CreateProjectWithTasks(ctx context.Context, req sink.ProjectRequest) (*sink.ProjectResult, error) {
	now := s.now()
	result := &sink.ProjectResult{ProjectID: uuid.New().String()}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (id, partition, source, title, status, author, source_text, due_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ProjectID, req.Partition.Name, req.Partition.Label, req.Title, sink.StatusPending,
		req.Author, req.SourceText, now.AddDate(0, 0, 7).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}

	for _, task := range req.Tasks {
		id := uuid.New().String()
		var due sql.NullInt64
		if d := sink.DueDate(task.DueHint, now); d != nil {
			due = sql.NullInt64{Int64: d.UnixMilli(), Valid: true}
		}
		owner := task.Owner
		if owner == "" {
			owner = string(task.Assignee)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, project_id, source, title, details, status, owner, role, priority, due_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, result.ProjectID, req.Partition.Label, task.Title, task.Details, sink.StatusPending,
			owner, string(task.Assignee), sink.PriorityMedium, due, now.UnixMilli(),
		)
		if err != nil {
			return nil, fmt.Errorf("insert task %q: %w", task.Title, err)
		}
		result.TaskIDs = append(result.TaskIDs, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	logging.Enrich(s.log, ctx).Info("project recorded",
		slog.String("project_id", result.ProjectID),
		slog.String("partition", req.Partition.Name),
		slog.Int("tasks", len(req.Tasks)),
	)
	return result, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// UpdateStatus sets the status of the oldest unfinished task whose title
// contains fuzzyName, or failing that the oldest unfinished project.
func (s *Sink) UpdateStatus(ctx context.Context, fuzzyName, status, actor string) (bool, error) {
	fuzzyName = strings.TrimSpace(fuzzyName)
	if fuzzyName == "" {
		return false, nil
	}
	pattern := "%" + likeEscaper.Replace(fuzzyName) + "%"

	for _, table := range []string{"tasks", "projects"} {
		var id string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM `+table+` WHERE title LIKE ? ESCAPE '\' AND status != ? ORDER BY rowid LIMIT 1`,
			pattern, sink.StatusDone,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("find in %s: %w", table, err)
		}

		if _, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET status = ? WHERE id = ?`, status, id); err != nil {
			return false, fmt.Errorf("update %s: %w", table, err)
		}
		logging.Enrich(s.log, ctx).Info("status updated",
			slog.String("table", table),
			slog.String("id", id),
			slog.String("status", status),
			slog.String("actor", actor),
		)
		return true, nil
	}
	return false, nil
}

// CreateObstacle records an open obstacle.
func (s *Sink) CreateObstacle(ctx context.Context, o sink.Obstacle) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO obstacles (id, title, actor, help_role, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, o.Title(), o.Actor, string(o.HelpRole), sink.ObstacleOpen, s.now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("insert obstacle: %w", err)
	}
	return id, nil
}

// ProgressSummary counts non-test projects and tasks and open obstacles.
func (s *Sink) ProgressSummary(ctx context.Context) (*sink.Summary, error) {
	summary := &sink.Summary{}

	projects, err := s.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if p.Done {
			summary.ProjectsDone++
		} else {
			summary.ProjectsActive++
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT title, status FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var title, status string
		if err := rows.Scan(&title, &status); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if sink.IsTestTitle(title) {
			continue
		}
		switch {
		case sink.IsDoneStatus(status):
			summary.TasksDone++
		case sink.IsNeedsHelpStatus(status):
			summary.TasksNeedHelp++
		default:
			summary.TasksPending++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM obstacles WHERE status = ?`, sink.ObstacleOpen).
		Scan(&summary.ObstaclesOpen)
	if err != nil {
		return nil, fmt.Errorf("count obstacles: %w", err)
	}
	return summary, nil
}

// ListPendingTasks returns unfinished, non-test tasks, overdue first, then by
// priority.
func (s *Sink) ListPendingTasks(ctx context.Context) ([]sink.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, status, owner, priority, source, due_at, created_at
		 FROM tasks WHERE status NOT IN (?, ?) ORDER BY rowid`,
		sink.StatusDone, "已完成",
	)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	now := s.now()
	var tasks []sink.TaskRecord
	for rows.Next() {
		var rec sink.TaskRecord
		var due sql.NullInt64
		var created int64
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Status, &rec.Owner, &rec.Priority, &rec.Source, &due, &created); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if sink.IsTestTitle(rec.Title) {
			continue
		}
		if rec.Owner == "" {
			rec.Owner = "未分配"
		}
		rec.CreatedAt = time.UnixMilli(created)
		if due.Valid {
			d := time.UnixMilli(due.Int64)
			rec.Due = &d
			rec.Overdue = d.Before(now)
		}
		tasks = append(tasks, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	sink.SortPending(tasks)
	return tasks, nil
}

// ListProjects returns all non-test projects in creation order.
func (s *Sink) ListProjects(ctx context.Context) ([]sink.ProjectRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, status, source, created_at FROM projects ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []sink.ProjectRecord
	for rows.Next() {
		var rec sink.ProjectRecord
		var created int64
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Status, &rec.Source, &created); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if sink.IsTestTitle(rec.Title) {
			continue
		}
		rec.CreatedAt = time.UnixMilli(created)
		rec.Done = sink.IsDoneStatus(rec.Status)
		projects = append(projects, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}
