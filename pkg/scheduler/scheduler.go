// Package scheduler runs periodic maintenance jobs on cron schedules
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/armorclaw/errtrack/pkg/logger"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

// JobFunc performs one run of a job and reports how many items it handled
type JobFunc func(ctx context.Context) (int64, error)

// JobStatus describes the last run of a job
type JobStatus struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	Runs       int64     `json:"runs"`
	LastRun    time.Time `json:"last_run,omitempty"`
	LastResult int64     `json:"last_result"`
	LastError  string    `json:"last_error,omitempty"`
	Next       time.Time `json:"next,omitempty"`
}

type job struct {
	name     string
	schedule string
	fn       JobFunc
	entry    rcron.EntryID
	status   JobStatus
}

// Scheduler wraps a cron runner with named jobs and run bookkeeping
type Scheduler struct {
	cron    *rcron.Cron
	log     *logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	jobs    map[string]*job
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New creates a scheduler. Each run is bounded by timeout when it is positive.
func New(log *logger.Logger, timeout time.Duration) *Scheduler {
	if log == nil {
		log = logger.Global().WithComponent("scheduler")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: rcron.New(rcron.WithChain(
			rcron.Recover(rcron.DiscardLogger),
			rcron.SkipIfStillRunning(rcron.DiscardLogger),
		)),
		log:     log,
		timeout: timeout,
		jobs:    make(map[string]*job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers fn under name on a standard five-field cron spec or a
// descriptor such as "@every 5m"
func (s *Scheduler) Add(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	j := &job{name: name, schedule: schedule, fn: fn}
	j.status = JobStatus{Name: name, Schedule: schedule}

	id, err := s.cron.AddFunc(schedule, func() { s.execute(j) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, name, err)
	}
	j.entry = id
	s.jobs[name] = j

	s.log.Info("job_registered", slog.String("job", name), slog.String("schedule", schedule))
	return nil
}

// Start begins running jobs on their schedules
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.log.Info("scheduler_started", slog.Int("jobs", len(s.jobs)))
}

// Stop halts scheduling and waits for running jobs, up to ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()

	s.cancel()
	if !running {
		return nil
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.log.Info("scheduler_stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// RunNow runs a job immediately, outside its schedule
func (s *Scheduler) RunNow(name string) (int64, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("job %q not registered", name)
	}
	return s.execute(j)
}

func (s *Scheduler) execute(j *job) (int64, error) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	n, err := j.fn(ctx)

	s.mu.Lock()
	j.status.Runs++
	j.status.LastRun = start
	j.status.LastResult = n
	j.status.LastError = ""
	if err != nil {
		j.status.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.ErrorEvent(ctx, "job_failed", err, slog.String("job", j.name))
		return n, err
	}
	s.log.Debug("job_completed",
		slog.String("job", j.name),
		slog.Int64("result", n),
		slog.Duration("duration", time.Since(start)))
	return n, nil
}

// Status returns the state of every job, sorted by name
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := j.status
		st.Next = s.cron.Entry(j.entry).Next
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// TrackerCleanup evicts expired groups from the in-memory tracker
func TrackerCleanup(tr *tracker.Tracker) JobFunc {
	return func(context.Context) (int64, error) {
		return int64(tr.Cleanup()), nil
	}
}

// RetentionCleaner is a store that can purge rows past its retention
type RetentionCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// StoreCleanup purges persisted rows past the store retention
func StoreCleanup(c RetentionCleaner) JobFunc {
	return c.Cleanup
}
