package sink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/armorclaw/errtrack/pkg/logger"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

const (
	defaultBufferSize   = 1024
	defaultDrainTimeout = 5 * time.Second
)

// AsyncOption configures an Async sink
type AsyncOption func(*Async)

// WithBufferSize sets the queue capacity. Default: 1024.
func WithBufferSize(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.bufSize = n
		}
	}
}

// WithDrainTimeout bounds how long Close waits for queued records. Default: 5s.
func WithDrainTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.drainTimeout = d
		}
	}
}

// WithOnError sets the callback invoked when the inner sink fails.
// Default: logs through the global logger.
func WithOnError(f func(tracker.Record, error)) AsyncOption {
	return func(a *Async) { a.errFunc = f }
}

// WithOnDrop sets the callback invoked when a record is dropped
func WithOnDrop(f func(tracker.Record)) AsyncOption {
	return func(a *Async) { a.dropFunc = f }
}

// Async hands records to a background goroutine through a buffered channel.
// Persist never blocks: when the queue is full or the sink is closed the
// record is dropped and counted.
type Async struct {
	inner        tracker.EventSink
	ch           chan tracker.Record
	done         chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	bufSize      int
	drainTimeout time.Duration
	errFunc      func(tracker.Record, error)
	dropFunc     func(tracker.Record)

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	dropped   atomic.Int64
}

// NewAsync wraps inner. The drain goroutine starts immediately.
func NewAsync(inner tracker.EventSink, opts ...AsyncOption) *Async {
	log := logger.Global().WithComponent("sink")
	a := &Async{
		inner:        inner,
		bufSize:      defaultBufferSize,
		drainTimeout: defaultDrainTimeout,
		errFunc: func(rec tracker.Record, err error) {
			log.WithFingerprint(rec.Fingerprint).Warn("async sink write failed", "error", err)
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan tracker.Record, a.bufSize)
	a.done = make(chan struct{})
	a.ctx, a.cancel = context.WithCancel(context.Background())
	go a.drain()
	return a
}

// Persist queues the record and returns immediately
func (a *Async) Persist(_ context.Context, rec tracker.Record) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.drop(rec)
		return nil
	}
	select {
	case a.ch <- rec:
	default:
		a.drop(rec)
	}
	return nil
}

func (a *Async) drop(rec tracker.Record) {
	a.dropped.Add(1)
	if a.dropFunc != nil {
		a.dropFunc(rec)
	}
}

// Dropped returns how many records were discarded
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Pending returns the number of queued records
func (a *Async) Pending() int {
	return len(a.ch)
}

// Check reports an error once the queue is at least 90% full
func (a *Async) Check(context.Context) error {
	if n, c := len(a.ch), cap(a.ch); c > 0 && n*10 >= c*9 {
		return fmt.Errorf("sink backlog %d/%d", n, c)
	}
	return nil
}

// Close stops accepting records, waits for the queue to drain (bounded by
// the drain timeout), then closes the inner sink if it is closable. On
// timeout the in-flight write is cancelled and the remaining records are
// dropped; the inner sink is closed only after the drain goroutine exits.
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.ch)
		a.mu.Unlock()

		select {
		case <-a.done:
		case <-time.After(a.drainTimeout):
			logger.Global().WithComponent("sink").Warn("async sink drain timed out",
				"pending", len(a.ch))
			// Abort the in-flight write and drop the rest before closing inner
			a.cancel()
			<-a.done
		}
		a.cancel()
		err = closeSink(a.inner)
	})
	return err
}

func (a *Async) drain() {
	defer close(a.done)
	for rec := range a.ch {
		if a.ctx.Err() != nil {
			a.drop(rec)
			continue
		}
		if err := a.inner.Persist(a.ctx, rec); err != nil && a.errFunc != nil {
			a.errFunc(rec, err)
		}
	}
}
