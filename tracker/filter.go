package tracker

import (
	"sort"

	"github.com/GoCodeAlone/tally/task"
)

type predicateKind int

const (
	kindAll predicateKind = iota
	kindActive
	kindCompleted
	kindCategory
)

// Predicate selects tasks for a filtered view.
type Predicate struct {
	kind     predicateKind
	category task.Category
}

var (
	All       = Predicate{kind: kindAll}
	Active    = Predicate{kind: kindActive}
	Completed = Predicate{kind: kindCompleted}
)

// InCategory matches tasks whose category equals c exactly.
func InCategory(c task.Category) Predicate {
	return Predicate{kind: kindCategory, category: c}
}

// ParsePredicate maps a filter toggle name to a Predicate. Any name other
// than all, active or completed is taken as a category.
func ParsePredicate(name string) Predicate {
	switch name {
	case "", "all":
		return All
	case "active":
		return Active
	case "completed":
		return Completed
	default:
		return InCategory(task.Category(name))
	}
}

// String returns the toggle name of the predicate.
func (p Predicate) String() string {
	switch p.kind {
	case kindActive:
		return "active"
	case kindCompleted:
		return "completed"
	case kindCategory:
		return string(p.category)
	default:
		return "all"
	}
}

// Match reports whether t is selected by p.
func (p Predicate) Match(t task.Task) bool {
	switch p.kind {
	case kindActive:
		return !t.Completed
	case kindCompleted:
		return t.Completed
	case kindCategory:
		return t.Category == p.category
	default:
		return true
	}
}

// Filter returns the tasks selected by p, keeping snapshot order.
func Filter(tasks []task.Task, p Predicate) []task.Task {
	out := make([]task.Task, 0, len(tasks))
	for _, t := range tasks {
		if p.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// sortNewestFirst orders tasks by CreatedAt descending. Tasks without a
// CreatedAt go after dated ones and keep their relative order.
func sortNewestFirst(tasks []task.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i].CreatedAt, tasks[j].CreatedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}
