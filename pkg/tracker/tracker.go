package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/armorclaw/errtrack/pkg/logger"
)

// ErrEmptyMessage is logged when an event without a message reaches the tracker
var ErrEmptyMessage = errors.New("error event has no message")

// Record is what the tracker hands to an EventSink after admitting an event
type Record struct {
	Event       ErrorEvent `json:"event"`
	Fingerprint string     `json:"fingerprint"`
	Pattern     string     `json:"pattern"`
	Location    string     `json:"location"`
	Count       int64      `json:"count"`
}

// EventSink persists admitted events. Persist is called on the ingestion
// path and must not block on I/O; wrap slow sinks with sink.Async.
type EventSink interface {
	Persist(ctx context.Context, rec Record) error
}

// AlertNotifier delivers raised alerts. Like EventSink it must not block.
type AlertNotifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Recorder receives telemetry hooks from the ingestion path
type Recorder interface {
	EventAdmitted(level Level, created bool)
	EventSampledOut(level Level)
	EventRateLimited()
	AlertRaised(alert Alert)
	GroupsChanged(groups int)
	ProcessingObserved(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) EventAdmitted(Level, bool)        {}
func (nopRecorder) EventSampledOut(Level)            {}
func (nopRecorder) EventRateLimited()                {}
func (nopRecorder) AlertRaised(Alert)                {}
func (nopRecorder) GroupsChanged(int)                {}
func (nopRecorder) ProcessingObserved(time.Duration) {}

// Option customizes a Tracker
type Option func(*Tracker)

// WithSink sets the persistence sink for admitted events
func WithSink(s EventSink) Option {
	return func(t *Tracker) { t.sink = s }
}

// WithNotifier sets the alert notifier
func WithNotifier(n AlertNotifier) Option {
	return func(t *Tracker) { t.notifier = n }
}

// WithRecorder sets the telemetry recorder
func WithRecorder(r Recorder) Option {
	return func(t *Tracker) {
		if r != nil {
			t.recorder = r
		}
	}
}

// WithRandomSource replaces the sampler's random source
func WithRandomSource(src RandomSource) Option {
	return func(t *Tracker) { t.random = src }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger used for internal failures
func WithLogger(l *logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// Tracker ingests error events, groups them by fingerprint and keeps
// aggregate statistics. All methods are safe for concurrent use.
type Tracker struct {
	cfg Config

	normalizer *Normalizer
	sampler    *Sampler
	limiter    *RateLimiter
	groups     *GroupStore
	alerts     *AlertEvaluator
	aggregator *Aggregator
	reaper     *Reaper
	stats      statsTracker

	sink     EventSink
	notifier AlertNotifier
	recorder Recorder
	random   RandomSource
	now      func() time.Time
	log      *logger.Logger
}

// New creates a tracker. Zero limits and durations in cfg take their defaults.
func New(cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	t := &Tracker{
		cfg:      cfg,
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.Global().WithComponent("tracker")
	}

	t.normalizer = NewNormalizer()
	t.sampler = NewSampler(cfg.Sampling, t.random)
	t.limiter = NewRateLimiter(cfg.RateLimit)
	t.groups = NewGroupStore(cfg.RecentEvents)
	t.alerts = NewAlertEvaluator(cfg.AlertThreshold)
	t.aggregator = NewAggregator(t.groups)
	t.reaper = NewReaper(t.groups, cfg.Retention)

	return t, nil
}

// Config returns the effective configuration
func (t *Tracker) Config() Config {
	return t.cfg
}

// TrackError ingests one event. It never fails the caller: admission
// rejections are counted and internal failures are logged.
func (t *Tracker) TrackError(ctx context.Context, ev ErrorEvent) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			t.log.ErrorEvent(ctx, "error tracking failed", fmt.Errorf("panic: %v", r))
		}
	}()

	if err := t.track(ctx, ev); err != nil {
		t.log.ErrorEvent(ctx, "error tracking failed", err,
			slog.String("event_type", ev.Type))
		return
	}

	d := time.Since(start)
	t.stats.observe(d)
	t.recorder.ProcessingObserved(d)
}

func (t *Tracker) track(ctx context.Context, ev ErrorEvent) error {
	if ev.Message == "" {
		return ErrEmptyMessage
	}
	now := t.now()
	ev = ev.withDefaults(now)

	pattern := t.normalizer.Message(ev.Message)
	location := t.normalizer.Location(ev.Stack)
	fp := Fingerprint(ev.Type, pattern, location, ev.Component())

	if !t.sampler.Sample(ev.Level) {
		t.stats.sampledOut.Add(1)
		t.recorder.EventSampledOut(ev.Level)
		return nil
	}
	if !t.limiter.Allow(fp, now) {
		t.stats.rateLimited.Add(1)
		t.recorder.EventRateLimited()
		return nil
	}

	upd := t.groups.Update(fp, pattern, location, ev, now)
	t.stats.totalErrors.Add(1)
	if upd.Created {
		t.stats.totalGroups.Add(1)
		t.recorder.GroupsChanged(t.groups.Len())
	}
	t.recorder.EventAdmitted(ev.Level, upd.Created)

	if t.sink != nil {
		rec := Record{Event: ev, Fingerprint: fp, Pattern: pattern, Location: location, Count: upd.Count}
		if err := t.sink.Persist(ctx, rec); err != nil {
			t.log.WithFingerprint(fp).ErrorEvent(ctx, "failed to persist error event", err)
		}
	}

	if alert, ok := t.alerts.Evaluate(fp, upd.Count, now); ok {
		t.stats.alerts.Add(1)
		t.recorder.AlertRaised(alert)
		t.log.WithFingerprint(fp).Warn("alert raised",
			"rule", alert.Rule,
			"count", upd.Count,
		)
		if t.notifier != nil {
			if err := t.notifier.Notify(ctx, alert); err != nil {
				t.log.WithFingerprint(fp).ErrorEvent(ctx, "failed to deliver alert", err)
			}
		}
	}

	return nil
}

// GetMetrics aggregates the groups seen within r. Unknown ranges use the default.
func (t *Tracker) GetMetrics(r TimeRange) ErrorMetrics {
	return t.aggregator.Compute(r, t.now())
}

// GetStats returns a snapshot of the process-wide counters
func (t *Tracker) GetStats() Stats {
	return t.stats.snapshot(t.groups.RetainedEvents())
}

// ClearGroups drops every group along with its rate-limit state
func (t *Tracker) ClearGroups() {
	n := t.groups.Clear(func(removed int) {
		t.limiter.Reset()
		t.stats.totalGroups.Add(-int64(removed))
	})
	t.recorder.GroupsChanged(t.groups.Len())
	t.log.Info("error groups cleared", "groups", n)
}

// Cleanup evicts groups idle longer than the retention horizon and returns
// how many were removed
func (t *Tracker) Cleanup() int {
	evicted := t.reaper.Sweep(t.now(), func(fps []string) {
		t.limiter.Forget(fps...)
		t.stats.totalGroups.Add(-int64(len(fps)))
	})
	if len(evicted) == 0 {
		return 0
	}
	t.recorder.GroupsChanged(t.groups.Len())
	t.log.Info("expired error groups removed",
		"groups", len(evicted),
		"retention", t.reaper.Retention().String(),
	)
	return len(evicted)
}

// Group returns a copy of one group
func (t *Tracker) Group(fingerprint string) (ErrorGroup, error) {
	g, ok := t.groups.Get(fingerprint)
	if !ok {
		return ErrorGroup{}, fmt.Errorf("%w: %s", ErrGroupNotFound, fingerprint)
	}
	return g, nil
}

// Groups returns copies of every group
func (t *Tracker) Groups() []ErrorGroup {
	return t.groups.Snapshot(nil)
}

// Resolve marks a group resolved
func (t *Tracker) Resolve(fingerprint, resolvedBy string) error {
	if err := t.groups.Resolve(fingerprint, resolvedBy, t.now()); err != nil {
		return fmt.Errorf("%w: %s", err, fingerprint)
	}
	t.log.WithFingerprint(fingerprint).Info("error group resolved", "resolved_by", resolvedBy)
	return nil
}

// Unresolve reopens a group
func (t *Tracker) Unresolve(fingerprint string) error {
	if err := t.groups.Unresolve(fingerprint); err != nil {
		return fmt.Errorf("%w: %s", err, fingerprint)
	}
	return nil
}

// Close closes the sink and notifier when they hold resources
func (t *Tracker) Close() error {
	var errs []error
	if c, ok := t.sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
	}
	if c, ok := t.notifier.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}
	return errors.Join(errs...)
}
