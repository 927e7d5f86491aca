// Package telemetry exports ingestion counters to Prometheus
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/armorclaw/errtrack/pkg/tracker"
)

// Metrics implements tracker.Recorder and keeps a local snapshot alongside
// the Prometheus series
type Metrics struct {
	admitted     int64
	created      int64
	sampledOut   int64
	rateLimited  int64
	alerts       int64
	sinkDropped  int64
	activeGroups int
	mu           sync.RWMutex

	eventsAdmitted   *prometheus.CounterVec
	eventsSampledOut *prometheus.CounterVec
	eventsLimited    prometheus.Counter
	groupsCreated    prometheus.Counter
	alertsRaised     *prometheus.CounterVec
	sinkDrops        prometheus.Counter
	groupsActive     prometheus.Gauge
	processingTime   prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg
// registers nothing, which suits tests that only read the snapshot.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		eventsAdmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errtrack_events_admitted_total",
				Help: "Total number of error events admitted into a group",
			},
			[]string{"level"},
		),
		eventsSampledOut: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errtrack_events_sampled_out_total",
				Help: "Total number of error events rejected by the sampler",
			},
			[]string{"level"},
		),
		eventsLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "errtrack_events_rate_limited_total",
				Help: "Total number of error events rejected by the rate limiter",
			},
		),
		groupsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "errtrack_groups_created_total",
				Help: "Total number of error groups created",
			},
		),
		alertsRaised: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errtrack_alerts_raised_total",
				Help: "Total number of alerts raised",
			},
			[]string{"rule", "severity"},
		),
		sinkDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "errtrack_sink_dropped_total",
				Help: "Total number of records dropped by the async persistence sink",
			},
		),
		groupsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "errtrack_groups_active",
				Help: "Number of error groups currently held in memory",
			},
		),
		processingTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "errtrack_processing_duration_seconds",
				Help:    "Time spent processing a tracked error",
				Buckets: []float64{.00001, .00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05},
			},
		),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.eventsAdmitted,
		m.eventsSampledOut,
		m.eventsLimited,
		m.groupsCreated,
		m.alertsRaised,
		m.sinkDrops,
		m.groupsActive,
		m.processingTime,
	}
}

// EventAdmitted records an event that reached a group
func (m *Metrics) EventAdmitted(level tracker.Level, created bool) {
	m.mu.Lock()
	m.admitted++
	if created {
		m.created++
	}
	m.mu.Unlock()
	m.eventsAdmitted.WithLabelValues(string(level)).Inc()
	if created {
		m.groupsCreated.Inc()
	}
}

// EventSampledOut records a sampler rejection
func (m *Metrics) EventSampledOut(level tracker.Level) {
	m.mu.Lock()
	m.sampledOut++
	m.mu.Unlock()
	m.eventsSampledOut.WithLabelValues(string(level)).Inc()
}

// EventRateLimited records a rate limiter rejection
func (m *Metrics) EventRateLimited() {
	m.mu.Lock()
	m.rateLimited++
	m.mu.Unlock()
	m.eventsLimited.Inc()
}

// AlertRaised records a raised alert
func (m *Metrics) AlertRaised(alert tracker.Alert) {
	m.mu.Lock()
	m.alerts++
	m.mu.Unlock()
	m.alertsRaised.WithLabelValues(alert.Rule, string(alert.Severity)).Inc()
}

// GroupsChanged sets the active group gauge
func (m *Metrics) GroupsChanged(groups int) {
	m.mu.Lock()
	m.activeGroups = groups
	m.mu.Unlock()
	m.groupsActive.Set(float64(groups))
}

// ProcessingObserved records the latency of one TrackError call
func (m *Metrics) ProcessingObserved(d time.Duration) {
	m.processingTime.Observe(d.Seconds())
}

// SinkDropped records a record the async sink could not queue
func (m *Metrics) SinkDropped() {
	m.mu.Lock()
	m.sinkDropped++
	m.mu.Unlock()
	m.sinkDrops.Inc()
}

// GetSnapshot returns a snapshot of current counters
func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int64{
		"admitted":       m.admitted,
		"groups_created": m.created,
		"sampled_out":    m.sampledOut,
		"rate_limited":   m.rateLimited,
		"alerts":         m.alerts,
		"sink_dropped":   m.sinkDropped,
		"active_groups":  int64(m.activeGroups),
	}
}

var _ tracker.Recorder = (*Metrics)(nil)
