package tracker

import (
	"sync"
	"sync/atomic"
	"time"
)

// bytesPerEvent is the rough footprint charged for each retained event
const bytesPerEvent = 1024

// Stats is a snapshot of the tracker's process-wide counters
type Stats struct {
	TotalErrors     int64   `json:"total_errors"`
	TotalGroups     int64   `json:"total_groups"`
	SampledOut      int64   `json:"sampled_out"`
	RateLimited     int64   `json:"rate_limited"`
	AlertsTriggered int64   `json:"alerts_triggered"`
	AvgProcessingMs float64 `json:"avg_processing_ms"`
	MemoryUsageMB   float64 `json:"memory_usage_mb"`
}

type statsTracker struct {
	totalErrors atomic.Int64
	totalGroups atomic.Int64
	sampledOut  atomic.Int64
	rateLimited atomic.Int64
	alerts      atomic.Int64

	mu      sync.Mutex
	samples int64
	avgMs   float64
}

// observe folds one processing duration into the running mean
func (s *statsTracker) observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples++
	s.avgMs += (ms - s.avgMs) / float64(s.samples)
}

func (s *statsTracker) snapshot(retainedEvents int) Stats {
	s.mu.Lock()
	avg := s.avgMs
	s.mu.Unlock()

	return Stats{
		TotalErrors:     s.totalErrors.Load(),
		TotalGroups:     s.totalGroups.Load(),
		SampledOut:      s.sampledOut.Load(),
		RateLimited:     s.rateLimited.Load(),
		AlertsTriggered: s.alerts.Load(),
		AvgProcessingMs: avg,
		MemoryUsageMB:   float64(retainedEvents*bytesPerEvent) / (1024 * 1024),
	}
}
