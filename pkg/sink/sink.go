// Package sink provides tracker.EventSink implementations that wrap or fan
// out to other sinks.
package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/armorclaw/errtrack/pkg/logger"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

func closeSink(s tracker.EventSink) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Multi fans out records to several sinks. A failing sink does not stop
// delivery to the rest.
type Multi struct {
	sinks []tracker.EventSink
}

// NewMulti creates a Multi over the given sinks
func NewMulti(sinks ...tracker.EventSink) *Multi {
	return &Multi{sinks: sinks}
}

// Persist delivers rec to every sink and joins their errors
func (m *Multi) Persist(ctx context.Context, rec tracker.Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Persist(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every closable sink
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := closeSink(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes each admitted event as a structured log line
type Log struct {
	log   *logger.Logger
	level slog.Level
}

// NewLog creates a logging sink at debug level
func NewLog(l *logger.Logger) *Log {
	if l == nil {
		l = logger.Global()
	}
	return &Log{log: l.WithComponent("sink"), level: slog.LevelDebug}
}

// Persist logs the record
func (s *Log) Persist(ctx context.Context, rec tracker.Record) error {
	s.log.LogAttrs(ctx, s.level, "error event tracked",
		slog.String("fingerprint", rec.Fingerprint),
		slog.String("event_id", rec.Event.ID),
		slog.String("type", rec.Event.Type),
		slog.String("level", string(rec.Event.Level)),
		slog.String("pattern", rec.Pattern),
		slog.String("location", rec.Location),
		slog.Int64("count", rec.Count),
	)
	return nil
}
