// Package view renders tasks and analytics as terminal tables and text charts.
package view

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/GoCodeAlone/tally/analytics"
	"github.com/GoCodeAlone/tally/task"
	"github.com/GoCodeAlone/tally/tracker"
)

// ShortIDLen is how many ID characters tables show.
const ShortIDLen = 8

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	titleColor   = color.New(color.FgCyan, color.Bold)
	barColor     = color.New(color.FgBlue)
)

// ShortID truncates a task ID for display.
func ShortID(id string) string {
	if len(id) <= ShortIDLen {
		return id
	}
	return id[:ShortIDLen]
}

// Notice prints a transient message, green on success and red otherwise.
func Notice(w io.Writer, n tracker.Notice) {
	if n.Success {
		successColor.Fprintln(w, n.Message) //nolint:errcheck
		return
	}
	errorColor.Fprintln(w, n.Message) //nolint:errcheck
}

// Title prints a section heading.
func Title(w io.Writer, s string) {
	titleColor.Fprintln(w, s) //nolint:errcheck
}

// TaskTable renders tasks in the given order.
func TaskTable(w io.Writer, tasks []task.Task) error {
	if len(tasks) == 0 {
		_, err := fmt.Fprintln(w, "No tasks found")
		return err
	}
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Done", "Category", "Task", "Created")
	for _, t := range tasks {
		_ = table.Append([]string{
			ShortID(t.ID),
			checkbox(t.Completed),
			categoryLabel(t.Category),
			t.Text,
			formatTime(t.CreatedAt),
		})
	}
	return table.Render()
}

// Dashboard renders the stat tiles and the most recent tasks.
func Dashboard(w io.Writer, name string, r analytics.Report) error {
	Title(w, "Welcome, "+name)
	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	_ = table.Append([]string{"Total Tasks", strconv.Itoa(r.Summary.Total)})
	_ = table.Append([]string{"Completed", strconv.Itoa(r.Summary.Completed)})
	_ = table.Append([]string{"Active", strconv.Itoa(r.Summary.Active)})
	_ = table.Append([]string{"Due Today", strconv.Itoa(r.CreatedToday)})
	if err := table.Render(); err != nil {
		return err
	}

	Title(w, "Recent Tasks")
	return TaskTable(w, r.Recent)
}

// Analytics renders the four analytics charts.
func Analytics(w io.Writer, r analytics.Report) error {
	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	_ = table.Append([]string{"Completion Rate", strconv.Itoa(r.Summary.CompletionRate) + "%"})
	_ = table.Append([]string{"Avg. Completion", pluralDays(r.AverageDays)})
	if err := table.Render(); err != nil {
		return err
	}

	labels := make([]string, 0, len(r.Categories))
	counts := make([]int, 0, len(r.Categories))
	for _, c := range r.Categories {
		labels = append(labels, c.Label)
		counts = append(counts, c.Count)
	}
	charts := []struct {
		title  string
		labels []string
		counts []int
	}{
		{"Tasks by Category", labels, counts},
		{"Completion Status", []string{"Completed", "Active"}, []int{r.Summary.Completed, r.Summary.Active}},
		{"Completed This Week", r.Weekly.Labels, r.Weekly.Counts},
		{"Created per Month", r.Monthly.Labels, r.Monthly.Counts},
	}
	for _, c := range charts {
		if err := BarChart(w, c.title, c.labels, c.counts, 30); err != nil {
			return err
		}
	}
	return nil
}

// BarChart draws one horizontal bar per label, scaled so the largest count
// spans width cells.
func BarChart(w io.Writer, title string, labels []string, counts []int, width int) error {
	Title(w, title)
	labelWidth, peak := 0, 0
	for i, l := range labels {
		labelWidth = max(labelWidth, len(l))
		if i < len(counts) {
			peak = max(peak, counts[i])
		}
	}
	for i, l := range labels {
		n := 0
		if i < len(counts) {
			n = counts[i]
		}
		cells := 0
		if peak > 0 {
			cells = n * width / peak
		}
		if n > 0 && cells == 0 {
			cells = 1
		}
		if _, err := fmt.Fprintf(w, "%-*s ", labelWidth, l); err != nil {
			return err
		}
		barColor.Fprint(w, strings.Repeat("█", cells)) //nolint:errcheck
		if _, err := fmt.Fprintf(w, " %d\n", n); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

func checkbox(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}

func categoryLabel(c task.Category) string {
	if c.Valid() {
		return c.Label()
	}
	return string(c)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return strconv.Itoa(n) + " days"
}
