package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/errtrack/pkg/store"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

func TestMetrics(t *testing.T) {
	m := tracker.ErrorMetrics{
		TimeRange:     tracker.Range6Hours,
		WindowStart:   time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC),
		TotalErrors:   42,
		UniqueGroups:  3,
		ErrorRate:     4.2,
		AffectedUsers: 5,
		ByType:        []tracker.Distribution{{Name: "NotFoundError", Count: 40, Percentage: 95.2}},
		TopGroups: []tracker.GroupSummary{
			{Fingerprint: "a1b2c3d4e5f60718", Type: "NotFoundError", Pattern: "User <NUM> not found", Count: 40},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Metrics(&buf, m))

	out := buf.String()
	for _, want := range []string{"Error metrics", "6h", "42", "4.2%", "Top groups", "a1b2c3d4e5f60718", "User <NUM> not found", "NotFoundError", "95.2%"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "By component", "empty sections are skipped")
}

func TestStats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Stats(&buf, tracker.Stats{TotalErrors: 9, SampledOut: 2, AvgProcessingMs: 0.125}))
	assert.Contains(t, buf.String(), "Tracker stats")
	assert.Contains(t, buf.String(), "0.125 ms")
}

func TestStoreStatsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, StoreStats(&buf, store.StoreStats{
		TotalEvents: 10,
		ByLevel:     map[string]int{"error": 7, "critical": 3},
	}))
	assert.Contains(t, buf.String(), "critical=3 error=7")

	buf.Reset()
	require.NoError(t, Groups(&buf, []store.StoredGroup{
		{Fingerprint: "fp1", Type: "TypeError", Pattern: "x is undefined", Occurrences: 4, Resolved: true},
	}))
	assert.Contains(t, buf.String(), "resolved")
	assert.Contains(t, buf.String(), "TypeError")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
