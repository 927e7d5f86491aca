// Package tracker implements in-process error tracking and aggregation for
// errtrack.
//
// # Overview
//
// A Tracker ingests raw error events from the host application and:
//   - Normalizes messages, replacing identifiers, URLs, timestamps, addresses,
//     paths and numbers with placeholder tokens
//   - Reduces stack traces to a stable "file:line" location
//   - Fingerprints each event so structurally identical errors share a group
//   - Samples by severity and rate-limits per fingerprint
//   - Keeps a bounded history of recent events per group
//   - Raises an alert every time a group count reaches a threshold multiple
//   - Computes time-ranged metrics and process-wide statistics on demand
//
// # Quick Start
//
//	t, err := tracker.New(tracker.DefaultConfig(),
//	    tracker.WithSink(sink.NewAsync(st, sink.WithBufferSize(1024))),
//	    tracker.WithNotifier(notification.NewLogNotifier(log)),
//	)
//	if err != nil {
//	    return err
//	}
//	defer t.Close()
//
//	t.TrackError(ctx, tracker.ErrorEvent{
//	    Type:    "NotFoundError",
//	    Message: "User 123 not found",
//	    Stack:   stack,
//	    Context: &tracker.EventContext{UserID: "u-1", Component: "cases"},
//	})
//
//	m := t.GetMetrics(tracker.Range24Hours)
//
// # Pipeline
//
// TrackError runs each event through, in order:
//  1. Defaults (ID, type, level, timestamp)
//  2. Normalizer and fingerprint
//  3. Sampler, then rate limiter; a rejection ends processing and is counted
//  4. Group store update and statistics
//  5. Sink hand-off and alert evaluation
//
// TrackError never returns an error and never panics. Internal failures are
// logged and the event is dropped.
//
// # Fingerprints
//
// A fingerprint is the first 16 hex characters of
// sha256("type|pattern|location|component"), skipping empty parts. The
// location is taken from the first frame of any of these forms:
//
//	at handler (/srv/project/src/routes/cases.js:42:17)
//	handler@http://localhost:3000/src/app.js:42:17
//	File "/srv/project/lib/parser.py", line 42, in parse
//
// # Retention
//
// The tracker does not schedule itself. Call Cleanup periodically to evict
// groups idle longer than Config.Retention; pkg/scheduler does this on a cron
// schedule.
package tracker
