// Package eventbus fans raised alerts out to in-process subscribers such as
// websocket streams. Publishing never blocks: a subscriber whose buffer is
// full misses the alert and the drop is counted.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/armorclaw/errtrack/pkg/logger"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

// EventBus manages real-time alert distribution to subscribers
type EventBus struct {
	cfg         Config
	subscribers map[string]*Subscriber
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	log         *logger.Logger
	now         func() time.Time

	stopped   atomic.Bool
	sequence  atomic.Int64
	published atomic.Int64
	dropped   atomic.Int64
}

// Subscriber represents a client subscribed to receive alerts
type Subscriber struct {
	ID            string
	Filter        AlertFilter
	Events        chan *AlertEnvelope
	SubscribeTime time.Time

	lastActivity time.Time
	closed       bool
	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
}

// Done is closed when the subscription ends
func (s *Subscriber) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Touch marks the subscriber as active
func (s *Subscriber) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// LastActivity returns the time of the last delivery or Touch
func (s *Subscriber) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *Subscriber) close() {
	s.cancel()
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.Events)
	}
	s.mu.Unlock()
}

// Config holds event bus configuration
type Config struct {
	MaxSubscribers    int           // Maximum concurrent subscribers
	InactivityTimeout time.Duration // Disconnect inactive subscribers
	BufferSize        int           // Per-subscriber channel capacity
	CleanupInterval   time.Duration // How often inactive subscribers are swept
}

// DefaultConfig returns default event bus configuration
func DefaultConfig() Config {
	return Config{
		MaxSubscribers:    100,
		InactivityTimeout: 30 * time.Minute,
		BufferSize:        100,
		CleanupInterval:   time.Minute,
	}
}

// Stats is a snapshot of bus activity
type Stats struct {
	ActiveSubscribers int   `json:"active_subscribers"`
	MaxSubscribers    int   `json:"max_subscribers"`
	Published         int64 `json:"published"`
	Dropped           int64 `json:"dropped"`
}

// NewEventBus creates a new event bus
func NewEventBus(cfg Config, log *logger.Logger) *EventBus {
	def := DefaultConfig()
	if cfg.MaxSubscribers <= 0 {
		cfg.MaxSubscribers = def.MaxSubscribers
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = def.InactivityTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if log == nil {
		log = logger.Global().WithComponent("eventbus")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EventBus{
		cfg:         cfg,
		subscribers: make(map[string]*Subscriber),
		ctx:         ctx,
		cancel:      cancel,
		log:         log,
		now:         time.Now,
	}
}

// Start starts the inactive subscriber sweep
func (b *EventBus) Start() {
	go b.cleanupInactiveSubscribers()
	b.log.Info("eventbus_started",
		slog.Int("max_subscribers", b.cfg.MaxSubscribers),
		slog.Duration("inactivity_timeout", b.cfg.InactivityTimeout))
}

// Stop stops the event bus and closes every subscriber channel
func (b *EventBus) Stop() {
	if !b.stopped.CompareAndSwap(false, true) {
		return
	}
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		sub.close()
		delete(b.subscribers, id)
	}

	b.log.Info("eventbus_stopped")
}

// Publish delivers an alert to all matching subscribers and returns how
// many received it
func (b *EventBus) Publish(alert tracker.Alert) (int, error) {
	if b.stopped.Load() {
		return 0, ErrBusStopped()
	}

	now := b.now()
	env := &AlertEnvelope{
		Type:     EventTypeAlert,
		Alert:    alert,
		Received: now,
		Sequence: b.sequence.Add(1),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for id, sub := range b.subscribers {
		if !sub.Filter.Matches(alert) {
			continue
		}

		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			continue
		}
		select {
		case sub.Events <- env:
			delivered++
			sub.lastActivity = now
		default:
			// Channel full, subscriber slow - log and skip
			b.dropped.Add(1)
			err := ErrChannelFull(id, alert.ID)
			b.log.Warn("alert_dropped",
				slog.String("code", string(err.Code)),
				slog.String("subscriber_id", id),
				slog.String("fingerprint", alert.Fingerprint))
		}
		sub.mu.Unlock()
	}
	b.published.Add(1)

	b.log.Debug("alert_published",
		slog.String("alert_id", alert.ID),
		slog.String("fingerprint", alert.Fingerprint),
		slog.Int("subscribers_notified", delivered))

	return delivered, nil
}

// Subscribe creates a new subscription for receiving alerts
func (b *EventBus) Subscribe(filter AlertFilter) (*Subscriber, error) {
	if b.stopped.Load() {
		return nil, ErrBusStopped()
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) >= b.cfg.MaxSubscribers {
		err := ErrSubscriberLimit(b.cfg.MaxSubscribers)
		b.log.Warn("subscribe_rejected",
			slog.String("code", string(err.Code)),
			slog.Int("active", len(b.subscribers)))
		return nil, err
	}

	ctx, cancel := context.WithCancel(b.ctx)
	now := b.now()
	sub := &Subscriber{
		ID:            "sub-" + uuid.NewString(),
		Filter:        filter,
		Events:        make(chan *AlertEnvelope, b.cfg.BufferSize),
		SubscribeTime: now,
		lastActivity:  now,
		ctx:           ctx,
		cancel:        cancel,
	}
	b.subscribers[sub.ID] = sub

	b.log.Info("subscriber_created",
		slog.String("subscriber_id", sub.ID),
		slog.String("fingerprint_filter", filter.Fingerprint))

	return sub, nil
}

// Unsubscribe removes a subscription
func (b *EventBus) Unsubscribe(subscriberID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subscribers[subscriberID]
	if !exists {
		return ErrSubscriberNotFound(subscriberID)
	}

	sub.close()
	delete(b.subscribers, subscriberID)

	b.log.Info("subscriber_removed", slog.String("subscriber_id", subscriberID))
	return nil
}

// cleanupInactiveSubscribers removes inactive subscribers on a ticker
func (b *EventBus) cleanupInactiveSubscribers() {
	ticker := time.NewTicker(b.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.removeInactive(b.now())
		}
	}
}

// removeInactive drops subscribers idle longer than the inactivity timeout
func (b *EventBus) removeInactive(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, sub := range b.subscribers {
		idle := now.Sub(sub.LastActivity())
		if idle <= b.cfg.InactivityTimeout {
			continue
		}
		b.log.Info("subscriber_removed_inactive",
			slog.String("subscriber_id", id),
			slog.Duration("inactive_time", idle))
		sub.close()
		delete(b.subscribers, id)
		removed++
	}
	return removed
}

// Stats returns event bus statistics
func (b *EventBus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Stats{
		ActiveSubscribers: len(b.subscribers),
		MaxSubscribers:    b.cfg.MaxSubscribers,
		Published:         b.published.Load(),
		Dropped:           b.dropped.Load(),
	}
}
