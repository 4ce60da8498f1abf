// Package task defines the task model and its owner-scoped persistence.
package task

import (
	"errors"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// ErrNotFound is returned when a task does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrPermissionDenied is returned when the caller does not own the task
	// or asks for another owner's tasks.
	ErrPermissionDenied = errors.New("missing or insufficient permissions")
)

// Category is the classification tag attached to every task.
type Category string

const (
	CategoryWork      Category = "work"
	CategoryPersonal  Category = "personal"
	CategoryShopping  Category = "shopping"
	CategoryHealth    Category = "health"
	CategoryEducation Category = "education"
)

// Categories lists the recognised categories in display order.
var Categories = []Category{
	CategoryWork,
	CategoryPersonal,
	CategoryShopping,
	CategoryHealth,
	CategoryEducation,
}

var titleCase = cases.Title(language.English)

// Valid reports whether c is one of the recognised categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Label returns the display form of the category, e.g. "Work".
func (c Category) Label() string {
	return titleCase.String(string(c))
}

// Task is a single to-do item belonging to exactly one owner.
//
// CreatedAt is nil until the store has acknowledged the write. CompletedAt
// is non-nil exactly when Completed is true.
type Task struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Text        string     `json:"text"`
	Category    Category   `json:"category"`
	Completed   bool       `json:"completed"`
	CreatedAt   *time.Time `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Draft holds the caller-supplied fields of a new task.
type Draft struct {
	OwnerID  string   `json:"owner_id"`
	Text     string   `json:"text"`
	Category Category `json:"category"`
}

// Patch is a partial update. Nil fields are left untouched.
// Setting Completed also sets or clears CompletedAt with the store's clock.
type Patch struct {
	Text      *string `json:"text,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool { return p.Text == nil && p.Completed == nil }

// Store persists and retrieves tasks.
type Store interface {
	// Create persists a new task, assigning its ID and CreatedAt.
	Create(d Draft) (*Task, error)

	// Get retrieves a task by ID.
	Get(id string) (*Task, error)

	// Update applies a partial update and returns the stored result.
	Update(id string, p Patch) (*Task, error)

	// List returns tasks matching the given filter.
	List(filter Filter) ([]*Task, error)

	// Delete removes a task by ID.
	Delete(id string) error
}

// Filter controls which tasks are returned by List.
type Filter struct {
	OwnerID string `json:"owner_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}
