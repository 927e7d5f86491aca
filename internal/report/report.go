// Package report renders tracker metrics for the terminal
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/armorclaw/errtrack/pkg/store"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).MarginBottom(1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(18)
	valueStyle = lipgloss.NewStyle().Bold(true)
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	headStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle  = lipgloss.NewStyle().Padding(0, 1)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// highErrorRate is the rate at which the summary value turns red
const highErrorRate = 50.0

// Metrics renders a time-range rollup
func Metrics(w io.Writer, m tracker.ErrorMetrics) error {
	rate := valueStyle.Render(fmt.Sprintf("%.1f%%", m.ErrorRate))
	if m.ErrorRate >= highErrorRate {
		rate = warnStyle.Render(fmt.Sprintf("%.1f%%", m.ErrorRate))
	}

	summary := lipgloss.JoinVertical(lipgloss.Left,
		kv("Window", fmt.Sprintf("%s (since %s)", m.TimeRange, m.WindowStart.Format(time.RFC3339))),
		kv("Total errors", fmt.Sprint(m.TotalErrors)),
		kv("Unique groups", fmt.Sprint(m.UniqueGroups)),
		labelStyle.Render("Error rate")+rate,
		kv("Affected users", fmt.Sprint(m.AffectedUsers)),
		kv("MTTR", fmt.Sprintf("%.1f min", m.MTTRMinutes)),
	)

	sections := []string{
		titleStyle.Render("Error metrics"),
		boxStyle.Render(summary),
	}
	if len(m.TopGroups) > 0 {
		sections = append(sections, titleStyle.Render("Top groups"), topGroupsTable(m.TopGroups))
	}
	for _, d := range []struct {
		title string
		rows  []tracker.Distribution
	}{
		{"By type", m.ByType},
		{"By component", m.ByComponent},
		{"By level", m.ByLevel},
	} {
		if len(d.rows) > 0 {
			sections = append(sections, titleStyle.Render(d.title), distributionTable(d.rows))
		}
	}

	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, sections...))
	return err
}

// Stats renders the process-wide counters
func Stats(w io.Writer, s tracker.Stats) error {
	body := lipgloss.JoinVertical(lipgloss.Left,
		kv("Total errors", fmt.Sprint(s.TotalErrors)),
		kv("Total groups", fmt.Sprint(s.TotalGroups)),
		kv("Sampled out", fmt.Sprint(s.SampledOut)),
		kv("Rate limited", fmt.Sprint(s.RateLimited)),
		kv("Alerts", fmt.Sprint(s.AlertsTriggered)),
		kv("Avg processing", fmt.Sprintf("%.3f ms", s.AvgProcessingMs)),
		kv("Memory", fmt.Sprintf("%.2f MB", s.MemoryUsageMB)),
	)
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Tracker stats"), boxStyle.Render(body)))
	return err
}

// StoreStats renders persisted totals
func StoreStats(w io.Writer, s store.StoreStats) error {
	body := lipgloss.JoinVertical(lipgloss.Left,
		kv("Stored events", fmt.Sprint(s.TotalEvents)),
		kv("Stored groups", fmt.Sprint(s.TotalGroups)),
		kv("Unresolved", fmt.Sprint(s.UnresolvedGroups)),
		kv("Affected users", fmt.Sprint(s.AffectedUsers)),
		kv("By level", formatCounts(s.ByLevel)),
	)
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Persisted history"), boxStyle.Render(body)))
	return err
}

// Groups renders stored groups as a table
func Groups(w io.Writer, groups []store.StoredGroup) error {
	t := newTable("Fingerprint", "Type", "Pattern", "Count", "Last seen", "Status")
	for _, g := range groups {
		status := "open"
		if g.Resolved {
			status = "resolved"
		}
		t.Row(g.Fingerprint, g.Type, truncate(g.Pattern, 48),
			fmt.Sprint(g.Occurrences), g.LastSeen.Format(time.RFC3339), status)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func kv(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headStyle
			}
			return cellStyle
		})
}

func topGroupsTable(groups []tracker.GroupSummary) string {
	t := newTable("Fingerprint", "Type", "Pattern", "Count", "Status")
	for _, g := range groups {
		status := "open"
		if g.Resolved {
			status = "resolved"
		}
		t.Row(g.Fingerprint, g.Type, truncate(g.Pattern, 48), fmt.Sprint(g.Count), status)
	}
	return t.Render()
}

func distributionTable(rows []tracker.Distribution) string {
	t := newTable("Name", "Count", "Share")
	for _, d := range rows {
		t.Row(d.Name, fmt.Sprint(d.Count), fmt.Sprintf("%.1f%%", d.Percentage))
	}
	return t.Render()
}

func formatCounts(m map[string]int) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
