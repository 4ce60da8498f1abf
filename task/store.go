package task

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	text         TEXT NOT NULL,
	category     TEXT NOT NULL,
	completed    INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS tasks_owner_idx ON tasks(owner_id);
`

// SQLiteStore persists tasks in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the tasks table exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// SetClock replaces the store's time source. Used by tests.
func (s *SQLiteStore) SetClock(now func() time.Time) { s.now = now }

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create persists a new task with a fresh ID and the store's current time.
func (s *SQLiteStore) Create(d Draft) (*Task, error) {
	created := s.now()
	t := &Task{
		ID:        uuid.NewString(),
		OwnerID:   d.OwnerID,
		Text:      d.Text,
		Category:  d.Category,
		CreatedAt: &created,
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, owner_id, text, category, completed, created_at, completed_at)
		VALUES (?,?,?,?,0,?,NULL)`,
		t.ID, t.OwnerID, t.Text, string(t.Category), created,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+columns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// Update applies p to the task. Completion changes stamp completed_at with
// the store's clock, or clear it when the task is reopened.
func (s *SQLiteStore) Update(id string, p Patch) (*Task, error) {
	var (
		sets []string
		args []any
	)
	if p.Text != nil {
		sets = append(sets, "text=?")
		args = append(args, *p.Text)
	}
	if p.Completed != nil {
		if *p.Completed {
			sets = append(sets, "completed=1", "completed_at=?")
			args = append(args, s.now())
		} else {
			sets = append(sets, "completed=0", "completed_at=NULL")
		}
	}
	if len(sets) == 0 {
		return s.Get(id)
	}
	args = append(args, id)

	res, err := s.db.Exec("UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id=?", args...)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return s.Get(id)
}

// List returns tasks matching the filter, newest first.
func (s *SQLiteStore) List(filter Filter) ([]*Task, error) {
	q := strings.Builder{}
	q.WriteString("SELECT " + columns + " FROM tasks WHERE 1=1")
	args := []any{}

	if filter.OwnerID != "" {
		q.WriteString(" AND owner_id=?")
		args = append(args, filter.OwnerID)
	}
	q.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
	}

	rows, err := s.db.Query(q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Delete removes a task by ID.
func (s *SQLiteStore) Delete(id string) error {
	res, err := s.db.Exec("DELETE FROM tasks WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

const columns = "id, owner_id, text, category, completed, created_at, completed_at"

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var category string
	var createdAt, completedAt sql.NullTime

	err := s.Scan(&t.ID, &t.OwnerID, &t.Text, &category, &t.Completed, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}
	t.Category = Category(category)
	if createdAt.Valid {
		t.CreatedAt = &createdAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}
