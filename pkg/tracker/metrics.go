package tracker

import (
	"math"
	"sort"
	"time"
)

// TimeRange selects the window for metrics aggregation
type TimeRange string

const (
	Range1Hour   TimeRange = "1h"
	Range6Hours  TimeRange = "6h"
	Range24Hours TimeRange = "24h"
	Range7Days   TimeRange = "7d"
	Range30Days  TimeRange = "30d"

	DefaultTimeRange = Range1Hour
)

var rangeDurations = map[TimeRange]time.Duration{
	Range1Hour:   time.Hour,
	Range6Hours:  6 * time.Hour,
	Range24Hours: 24 * time.Hour,
	Range7Days:   7 * 24 * time.Hour,
	Range30Days:  30 * 24 * time.Hour,
}

// ParseTimeRange parses a range name, falling back to DefaultTimeRange
func ParseTimeRange(s string) (TimeRange, bool) {
	r := TimeRange(s)
	if _, ok := rangeDurations[r]; ok {
		return r, true
	}
	return DefaultTimeRange, false
}

// Duration returns the length of the range; unknown ranges use the default
func (r TimeRange) Duration() time.Duration {
	if d, ok := rangeDurations[r]; ok {
		return d
	}
	return rangeDurations[DefaultTimeRange]
}

const (
	topGroupsLimit      = 10
	recentEventsLimit   = 50
	errorRateSaturation = 1000
	unknownComponent    = "unknown"
)

// Distribution is one bucket of a count breakdown
type Distribution struct {
	Name       string  `json:"name"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// GroupSummary is a group as reported in the top-N list
type GroupSummary struct {
	Fingerprint string    `json:"fingerprint"`
	Pattern     string    `json:"pattern"`
	Type        string    `json:"type"`
	Count       int64     `json:"count"`
	LastSeen    time.Time `json:"last_seen"`
	Resolved    bool      `json:"resolved"`
}

// ErrorMetrics is the rollup returned by GetMetrics
type ErrorMetrics struct {
	TimeRange     TimeRange      `json:"time_range"`
	WindowStart   time.Time      `json:"window_start"`
	GeneratedAt   time.Time      `json:"generated_at"`
	TotalErrors   int64          `json:"total_errors"`
	UniqueGroups  int            `json:"unique_groups"`
	ErrorRate     float64        `json:"error_rate"`
	AffectedUsers int            `json:"affected_users"`
	MTTRMinutes   float64        `json:"mttr_minutes"`
	ByType        []Distribution `json:"by_type"`
	ByComponent   []Distribution `json:"by_component"`
	ByLevel       []Distribution `json:"by_level"`
	TopGroups     []GroupSummary `json:"top_groups"`
	RecentEvents  []ErrorEvent   `json:"recent_events"`
}

// Aggregator computes metrics over a snapshot of the group store
type Aggregator struct {
	groups *GroupStore
}

// NewAggregator creates an aggregator reading from groups
func NewAggregator(groups *GroupStore) *Aggregator {
	return &Aggregator{groups: groups}
}

// Compute aggregates every group last seen within the range ending at now
func (a *Aggregator) Compute(r TimeRange, now time.Time) ErrorMetrics {
	if _, ok := rangeDurations[r]; !ok {
		r = DefaultTimeRange
	}
	start := now.Add(-r.Duration())
	selected := a.groups.Snapshot(func(g *ErrorGroup) bool {
		return !g.LastSeen.Before(start)
	})

	m := ErrorMetrics{
		TimeRange:    r,
		WindowStart:  start,
		GeneratedAt:  now,
		UniqueGroups: len(selected),
	}

	byType := make(map[string]int64)
	byComponent := make(map[string]int64)
	byLevel := make(map[string]int64)
	users := make(map[string]struct{})
	var recent []ErrorEvent
	var resolvedCount int
	var resolvedMinutes float64

	for i := range selected {
		g := &selected[i]
		m.TotalErrors += g.Count

		latest := g.Latest()
		byType[latest.Type] += g.Count
		component := latest.Component()
		if component == "" {
			component = unknownComponent
		}
		byComponent[component] += g.Count
		byLevel[string(latest.Level)] += g.Count

		for _, e := range g.RecentEvents {
			if uid := e.UserID(); uid != "" {
				users[uid] = struct{}{}
			}
		}
		recent = append(recent, g.RecentEvents...)

		if g.Resolved && g.ResolvedAt != nil {
			resolvedCount++
			resolvedMinutes += g.ResolvedAt.Sub(g.FirstSeen).Minutes()
		}

		m.TopGroups = append(m.TopGroups, GroupSummary{
			Fingerprint: g.Fingerprint,
			Pattern:     g.Pattern,
			Type:        latest.Type,
			Count:       g.Count,
			LastSeen:    g.LastSeen,
			Resolved:    g.Resolved,
		})
	}

	m.AffectedUsers = len(users)
	m.ErrorRate = math.Min(float64(m.TotalErrors)/errorRateSaturation, 1) * 100
	if resolvedCount > 0 {
		m.MTTRMinutes = resolvedMinutes / float64(resolvedCount)
	}
	m.ByType = distribution(byType, m.TotalErrors)
	m.ByComponent = distribution(byComponent, m.TotalErrors)
	m.ByLevel = distribution(byLevel, m.TotalErrors)

	sort.Slice(m.TopGroups, func(i, j int) bool {
		if m.TopGroups[i].Count != m.TopGroups[j].Count {
			return m.TopGroups[i].Count > m.TopGroups[j].Count
		}
		return m.TopGroups[i].LastSeen.After(m.TopGroups[j].LastSeen)
	})
	if len(m.TopGroups) > topGroupsLimit {
		m.TopGroups = m.TopGroups[:topGroupsLimit]
	}

	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Timestamp.After(recent[j].Timestamp)
	})
	if len(recent) > recentEventsLimit {
		recent = recent[:recentEventsLimit]
	}
	m.RecentEvents = recent

	return m
}

func distribution(counts map[string]int64, total int64) []Distribution {
	result := make([]Distribution, 0, len(counts))
	for name, count := range counts {
		d := Distribution{Name: name, Count: count}
		if total > 0 {
			d.Percentage = float64(count) / float64(total) * 100
		}
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Name < result[j].Name
	})
	return result
}
