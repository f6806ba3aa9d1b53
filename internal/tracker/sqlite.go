package tracker

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ShayCichocki/alphie/internal/executor"
	"github.com/ShayCichocki/alphie/pkg/models"
)

// SQLite is a Tracker backed by an on-disk SQLite database, for backlogs
// too large to comfortably hand-edit as a single JSON/YAML file. It
// migrates its own schema on open.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (creating if necessary) a SQLite-backed tracker at
// path and applies its schema migration.
func NewSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("tracker: create db directory: %w", err)
	}

	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, fmt.Errorf("tracker: open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracker: enable WAL mode: %w", err)
	}

	s := &SQLite{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const tasksSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL DEFAULT 'open',
	priority INTEGER NOT NULL DEFAULT 2,
	depends_on TEXT,
	blocks TEXT,
	labels TEXT,
	metadata TEXT,
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(tasksSchema)
	if err != nil {
		return fmt.Errorf("tracker: migrate schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Seed inserts tasks that don't already exist by ID. Existing rows are
// left untouched, so re-running Seed against a backlog that has already
// made progress is safe.
func (s *SQLite) Seed(tasks []models.Task) error {
	for _, t := range tasks {
		var exists int
		if err := s.db.QueryRow("SELECT 1 FROM tasks WHERE id = ?", t.ID).Scan(&exists); err == nil {
			continue
		} else if err != sql.ErrNoRows {
			return fmt.Errorf("tracker: check existing task %s: %w", t.ID, err)
		}
		if err := s.insert(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) insert(t models.Task) error {
	dependsOn, _ := json.Marshal(t.DependsOn)
	blocks, _ := json.Marshal(t.Blocks)
	labels, _ := json.Marshal(t.Labels)
	metadata, _ := json.Marshal(t.Metadata)
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO tasks (id, title, description, status, priority, depends_on, blocks, labels, metadata, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, t.Description, string(t.Status), t.Priority,
		string(dependsOn), string(blocks), string(labels), string(metadata),
		formatTime(createdAt), formatNullableTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("tracker: insert task %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLite) GetTasks(filter executor.TaskFilter) ([]models.Task, error) {
	query := `SELECT id, title, description, status, priority, depends_on, blocks, labels, metadata, created_at, completed_at FROM tasks`
	var args []any

	var clauses []string
	if len(filter.StatusIn) > 0 {
		placeholders := make([]string, len(filter.StatusIn))
		for i, st := range filter.StatusIn {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	if len(filter.IncludeIDs) > 0 {
		placeholders := make([]string, len(filter.IncludeIDs))
		for i, id := range filter.IncludeIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		clauses = append(clauses, "id IN ("+strings.Join(placeholders, ",")+")")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("tracker: query tasks: %w", err)
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if containsID(filter.ExcludeIDs, t.ID) {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(rows *sql.Rows) (models.Task, error) {
	var t models.Task
	var description, dependsOn, blocks, labels, metadata sql.NullString
	var createdAt string
	var completedAt sql.NullString

	if err := rows.Scan(&t.ID, &t.Title, &description, &t.Status, &t.Priority,
		&dependsOn, &blocks, &labels, &metadata, &createdAt, &completedAt); err != nil {
		return models.Task{}, fmt.Errorf("tracker: scan task: %w", err)
	}

	if description.Valid {
		t.Description = description.String
	}
	if dependsOn.Valid {
		_ = json.Unmarshal([]byte(dependsOn.String), &t.DependsOn)
	}
	if blocks.Valid {
		_ = json.Unmarshal([]byte(blocks.String), &t.Blocks)
	}
	if labels.Valid {
		_ = json.Unmarshal([]byte(labels.String), &t.Labels)
	}
	if metadata.Valid {
		_ = json.Unmarshal([]byte(metadata.String), &t.Metadata)
	}
	t.CreatedAt, _ = parseTimeValue(createdAt)
	t.CompletedAt = parseNullableTimeValue(completedAt)
	return t, nil
}

func (s *SQLite) UpdateTaskStatus(id string, status models.TaskStatus) error {
	res, err := s.db.Exec("UPDATE tasks SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("tracker: update task status: %w", err)
	}
	return requireRowsAffected(res)
}

func (s *SQLite) CompleteTask(id string, reason string) (executor.CompletionResult, error) {
	row := s.db.QueryRow("SELECT metadata FROM tasks WHERE id = ?", id)
	var metadataRaw sql.NullString
	if err := row.Scan(&metadataRaw); err == sql.ErrNoRows {
		return executor.CompletionResult{}, ErrTaskNotFound
	} else if err != nil {
		return executor.CompletionResult{}, fmt.Errorf("tracker: load task %s: %w", id, err)
	}

	metadata := map[string]any{}
	if metadataRaw.Valid && metadataRaw.String != "" {
		_ = json.Unmarshal([]byte(metadataRaw.String), &metadata)
	}
	if reason != "" {
		metadata["completion_reason"] = reason
	}
	encoded, _ := json.Marshal(metadata)

	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, completed_at = ?, metadata = ? WHERE id = ?
	`, string(models.TaskStatusCompleted), formatTime(time.Now()), string(encoded), id)
	if err != nil {
		return executor.CompletionResult{}, fmt.Errorf("tracker: complete task: %w", err)
	}
	if err := requireRowsAffected(res); err != nil {
		return executor.CompletionResult{}, err
	}
	return executor.CompletionResult{Completed: true}, nil
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tracker: rows affected: %w", err)
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatNullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTimeValue(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseNullableTimeValue(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTimeValue(s.String)
	if err != nil {
		return nil
	}
	return &t
}

var _ executor.Tracker = (*SQLite)(nil)
