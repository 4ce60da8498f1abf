// Package analytics computes dashboard figures and chart series from a task
// snapshot. Every function is pure: the same tasks and clock give the same
// result.
package analytics

import (
	"math"
	"time"

	"github.com/GoCodeAlone/tally/task"
)

// Summary holds the headline counts.
type Summary struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Active         int `json:"active"`
	CompletionRate int `json:"completion_rate"` // percent, 0 when Total is 0
}

// Summarize counts tasks. Tasks with unknown dates still count.
func Summarize(tasks []task.Task) Summary {
	var s Summary
	s.Total = len(tasks)
	for _, t := range tasks {
		if t.Completed {
			s.Completed++
		}
	}
	s.Active = s.Total - s.Completed
	if s.Total > 0 {
		s.CompletionRate = int(math.Round(100 * float64(s.Completed) / float64(s.Total)))
	}
	return s
}

// AverageCompletionDays is the rounded mean of whole days between creation
// and completion, over completed tasks with both timestamps. Partial days
// round up; a zero interval counts as zero days. Returns 0 when no task
// qualifies.
func AverageCompletionDays(tasks []task.Task) int {
	var sum float64
	var n int
	for _, t := range tasks {
		if !t.Completed || t.CreatedAt == nil || t.CompletedAt == nil {
			continue
		}
		d := t.CompletedAt.Sub(*t.CreatedAt)
		if d < 0 {
			d = -d
		}
		sum += math.Ceil(d.Hours() / 24)
		n++
	}
	if n == 0 {
		return 0
	}
	return int(math.Round(sum / float64(n)))
}

// ByCategory counts tasks per known category. All five keys are present.
// Tasks with an unrecognised category are left out.
func ByCategory(tasks []task.Task) map[task.Category]int {
	counts := make(map[task.Category]int, len(task.Categories))
	for _, c := range task.Categories {
		counts[c] = 0
	}
	for _, t := range tasks {
		if _, ok := counts[t.Category]; ok {
			counts[t.Category]++
		}
	}
	return counts
}

// CategoryCount is one slice of the category chart.
type CategoryCount struct {
	Category task.Category `json:"category"`
	Label    string        `json:"label"`
	Count    int           `json:"count"`
}

// CategoryBreakdown is ByCategory in task.Categories order, labelled.
func CategoryBreakdown(tasks []task.Task) []CategoryCount {
	counts := ByCategory(tasks)
	out := make([]CategoryCount, 0, len(task.Categories))
	for _, c := range task.Categories {
		out = append(out, CategoryCount{Category: c, Label: c.Label(), Count: counts[c]})
	}
	return out
}

// Series is a labelled sequence of counts, oldest or first label first.
type Series struct {
	Labels []string `json:"labels"`
	Counts []int    `json:"counts"`
}

// Sum adds up the counts.
func (s Series) Sum() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

var weekdayLabels = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// WeeklyCompletions counts completions per weekday for the week containing
// today. The week starts on the most recent Sunday at or before today and
// ends with today; days are compared on the calendar of today's location.
// The result is labelled Monday to Sunday, so Sunday's count comes last.
func WeeklyCompletions(tasks []task.Task, today time.Time) Series {
	loc := today.Location()
	end := startOfDay(today)
	start := end.AddDate(0, 0, -int(end.Weekday()))

	var bySunday [7]int
	for _, t := range tasks {
		if !t.Completed || t.CompletedAt == nil {
			continue
		}
		day := startOfDay(t.CompletedAt.In(loc))
		if day.Before(start) || day.After(end) {
			continue
		}
		bySunday[day.Weekday()]++
	}

	counts := make([]int, 7)
	for i := range counts {
		counts[i] = bySunday[(i+1)%7]
	}
	return Series{Labels: append([]string(nil), weekdayLabels...), Counts: counts}
}

// MonthlyCreations counts tasks created in each of the six calendar months
// ending with now's month, oldest first. Labels read like "Jan 2006".
func MonthlyCreations(tasks []task.Task, now time.Time) Series {
	const months = 6
	loc := now.Location()
	counts := make([]int, months)
	for _, t := range tasks {
		if t.CreatedAt == nil {
			continue
		}
		c := t.CreatedAt.In(loc)
		diff := (now.Year()-c.Year())*12 + int(now.Month()) - int(c.Month())
		if diff < 0 || diff >= months {
			continue
		}
		counts[months-1-diff]++
	}

	labels := make([]string, months)
	for i := range labels {
		m := time.Date(now.Year(), now.Month()-time.Month(months-1-i), 1, 0, 0, 0, 0, loc)
		labels[i] = m.Format("Jan 2006")
	}
	return Series{Labels: labels, Counts: counts}
}

// CreatedToday counts tasks created on now's calendar day. The dashboard
// shows it as "tasks due today"; tasks carry no due date.
func CreatedToday(tasks []task.Task, now time.Time) int {
	today := startOfDay(now)
	n := 0
	for _, t := range tasks {
		if t.CreatedAt == nil {
			continue
		}
		if startOfDay(t.CreatedAt.In(now.Location())).Equal(today) {
			n++
		}
	}
	return n
}

// Recent returns the first n tasks of a newest-first snapshot.
func Recent(tasks []task.Task, n int) []task.Task {
	if n < 0 {
		n = 0
	}
	if len(tasks) < n {
		n = len(tasks)
	}
	return append([]task.Task(nil), tasks[:n]...)
}

// Report gathers every figure shown on the dashboard and analytics pages.
type Report struct {
	Summary      Summary         `json:"summary"`
	AverageDays  int             `json:"average_days"`
	CreatedToday int             `json:"created_today"`
	Categories   []CategoryCount `json:"categories"`
	Weekly       Series          `json:"weekly"`
	Monthly      Series          `json:"monthly"`
	Recent       []task.Task     `json:"recent"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// RecentLimit is how many tasks the dashboard lists.
const RecentLimit = 5

// Build computes a Report for tasks at time now.
func Build(tasks []task.Task, now time.Time) Report {
	return Report{
		Summary:      Summarize(tasks),
		AverageDays:  AverageCompletionDays(tasks),
		CreatedToday: CreatedToday(tasks, now),
		Categories:   CategoryBreakdown(tasks),
		Weekly:       WeeklyCompletions(tasks, now),
		Monthly:      MonthlyCreations(tasks, now),
		Recent:       Recent(tasks, RecentLimit),
		GeneratedAt:  now,
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
