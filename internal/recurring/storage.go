package recurring

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage is the durable backing for recurring definitions. Load reads the
// whole set, Save replaces it.
type Storage interface {
	Load(ctx context.Context) ([]Definition, error)
	Save(ctx context.Context, defs []Definition) error
}

// FileStorage keeps definitions in a JSON file.
type FileStorage struct {
	path string
}

// NewFileStorage creates a FileStorage at path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Path returns the file path.
func (f *FileStorage) Path() string {
	return f.path
}

// Load reads all definitions. A missing file is an empty set; a file that
// cannot be parsed is an error.
func (f *FileStorage) Load(_ context.Context) ([]Definition, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var defs []Definition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	return defs, nil
}

// Save writes all definitions through a temp file and rename.
func (f *FileStorage) Save(_ context.Context, defs []Definition) error {
	if defs == nil {
		defs = []Definition{}
	}
	data, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal definitions: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".recurring-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

// SQLiteStorage keeps definitions in a SQLite table.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path and migrates it.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS recurring_definitions (
			position INTEGER NOT NULL,
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT DEFAULT '',
			frequency TEXT NOT NULL,
			day_of_week INTEGER DEFAULT 0,
			time_of_day TEXT NOT NULL,
			assignee TEXT DEFAULT '',
			created_by TEXT DEFAULT '',
			group_id INTEGER DEFAULT 0,
			created_at DATETIME NOT NULL,
			last_reminded DATETIME,
			last_completed DATETIME,
			completed_this_week BOOLEAN DEFAULT FALSE,
			active BOOLEAN DEFAULT TRUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recurring_position ON recurring_definitions(position)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Load reads all definitions in insertion order.
func (s *SQLiteStorage) Load(ctx context.Context) ([]Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, frequency, day_of_week, time_of_day, assignee,
		       created_by, group_id, created_at, last_reminded, last_completed,
		       completed_this_week, active
		FROM recurring_definitions
		ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var defs []Definition
	for rows.Next() {
		var (
			def           Definition
			frequency     string
			lastReminded  sql.NullTime
			lastCompleted sql.NullTime
		)
		if err := rows.Scan(
			&def.ID, &def.Title, &def.Description, &frequency, &def.DayOfWeek, &def.TimeOfDay,
			&def.Assignee, &def.CreatedBy, &def.GroupID, &def.CreatedAt, &lastReminded,
			&lastCompleted, &def.CompletedThisWeek, &def.Active,
		); err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		def.Frequency = Frequency(frequency)
		if lastReminded.Valid {
			t := lastReminded.Time
			def.LastReminded = &t
		}
		if lastCompleted.Valid {
			t := lastCompleted.Time
			def.LastCompleted = &t
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Save replaces all rows in one transaction.
func (s *SQLiteStorage) Save(ctx context.Context, defs []Definition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recurring_definitions`); err != nil {
		return fmt.Errorf("failed to clear definitions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO recurring_definitions (
			position, id, title, description, frequency, day_of_week, time_of_day, assignee,
			created_by, group_id, created_at, last_reminded, last_completed,
			completed_this_week, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, def := range defs {
		if _, err := stmt.ExecContext(ctx,
			i, def.ID, def.Title, def.Description, string(def.Frequency), def.DayOfWeek,
			def.TimeOfDay, def.Assignee, def.CreatedBy, def.GroupID, def.CreatedAt.UTC(),
			nullTime(def.LastReminded), nullTime(def.LastCompleted), def.CompletedThisWeek, def.Active,
		); err != nil {
			return fmt.Errorf("failed to insert definition %s: %w", def.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit definitions: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
