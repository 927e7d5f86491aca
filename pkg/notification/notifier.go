// Package notification delivers raised alerts to operators: the log, the
// in-process event bus, and outbound webhooks. Every notifier returns
// without waiting on the network.
package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/armorclaw/errtrack/pkg/eventbus"
	"github.com/armorclaw/errtrack/pkg/logger"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

// LogNotifier writes alerts to the structured log
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a notifier that logs alerts at warn level
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Global().WithComponent("notifier")
	}
	return &LogNotifier{log: log}
}

// Notify logs the alert
func (n *LogNotifier) Notify(ctx context.Context, alert tracker.Alert) error {
	n.log.LogAttrs(ctx, slog.LevelWarn, "alert_raised",
		slog.String("alert_id", alert.ID),
		slog.String("rule", alert.Rule),
		slog.String("severity", string(alert.Severity)),
		slog.String("fingerprint", alert.Fingerprint),
		slog.Float64("value", alert.Value),
		slog.Float64("threshold", alert.Threshold))
	return nil
}

// BusNotifier publishes alerts to an event bus
type BusNotifier struct {
	bus *eventbus.EventBus
}

// NewBusNotifier creates a notifier backed by bus
func NewBusNotifier(bus *eventbus.EventBus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

// Notify publishes the alert. Slow subscribers miss it rather than block.
func (n *BusNotifier) Notify(_ context.Context, alert tracker.Alert) error {
	_, err := n.bus.Publish(alert)
	return err
}

// Multi fans an alert out to several notifiers
type Multi struct {
	notifiers []tracker.AlertNotifier
}

// NewMulti creates a notifier that calls each of notifiers in order
func NewMulti(notifiers ...tracker.AlertNotifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Notify calls every notifier and joins their errors
func (m *Multi) Notify(ctx context.Context, alert tracker.Alert) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every notifier that holds resources
func (m *Multi) Close() error {
	var errs []error
	for _, n := range m.notifiers {
		if c, ok := n.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
