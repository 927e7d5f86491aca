package notification

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/armorclaw/errtrack/pkg/logger"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

// WebhookConfig configures outbound alert delivery
type WebhookConfig struct {
	URL           string
	Timeout       time.Duration // Per-request timeout
	RatePerMinute float64       // Maximum deliveries per minute
	QueueSize     int           // Alerts buffered before new ones are dropped
	DrainTimeout  time.Duration // How long Close waits for queued alerts
	Client        *http.Client
}

// DefaultWebhookConfig returns default webhook settings
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Timeout:       5 * time.Second,
		RatePerMinute: 30,
		QueueSize:     64,
		DrainTimeout:  10 * time.Second,
	}
}

// WebhookStats counts webhook deliveries
type WebhookStats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Pending int   `json:"pending"`
}

// WebhookNotifier POSTs alerts as JSON from a background worker
type WebhookNotifier struct {
	cfg     WebhookConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Logger

	queue  chan tracker.Alert
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewWebhookNotifier starts a webhook worker for cfg.URL
func NewWebhookNotifier(cfg WebhookConfig, log *logger.Logger) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	def := DefaultWebhookConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = def.RatePerMinute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = logger.Global().WithComponent("webhook")
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &WebhookNotifier{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerMinute/60), 1),
		log:     log,
		queue:   make(chan tracker.Alert, cfg.QueueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go w.run()
	return w, nil
}

// Notify queues the alert for delivery and returns immediately
func (w *WebhookNotifier) Notify(_ context.Context, alert tracker.Alert) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.dropped.Add(1)
		return fmt.Errorf("webhook notifier closed")
	}

	select {
	case w.queue <- alert:
		return nil
	default:
		w.dropped.Add(1)
		w.log.Warn("webhook_alert_dropped",
			slog.String("alert_id", alert.ID),
			slog.Int("queue_size", w.cfg.QueueSize))
		return nil
	}
}

func (w *WebhookNotifier) run() {
	defer close(w.done)
	for alert := range w.queue {
		if err := w.limiter.Wait(w.ctx); err != nil {
			w.failed.Add(1)
			continue
		}
		if err := w.deliver(alert); err != nil {
			w.failed.Add(1)
			w.log.ErrorEvent(w.ctx, "webhook_delivery_failed", err,
				slog.String("alert_id", alert.ID),
				slog.String("fingerprint", alert.Fingerprint))
			continue
		}
		w.sent.Add(1)
	}
}

func (w *WebhookNotifier) deliver(alert tracker.Alert) error {
	body, err := FromAlert(alert).ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "errtrackd")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Stats returns delivery counters
func (w *WebhookNotifier) Stats() WebhookStats {
	return WebhookStats{
		Sent:    w.sent.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
		Pending: len(w.queue),
	}
}

// Close stops accepting alerts and waits up to the drain timeout for queued
// ones to be delivered
func (w *WebhookNotifier) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()

		select {
		case <-w.done:
		case <-time.After(w.cfg.DrainTimeout):
			err = fmt.Errorf("webhook drain timed out with %d alerts pending", len(w.queue))
		}
		w.cancel()
	})
	return err
}
