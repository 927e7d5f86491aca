package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/errtrack/pkg/eventbus"
	"github.com/armorclaw/errtrack/pkg/logger"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

func testAlert(fp string, value float64) tracker.Alert {
	return tracker.Alert{
		ID:          "alert-" + fp,
		Rule:        tracker.RuleGroupVolume,
		Severity:    tracker.AlertWarning,
		Message:     "error group " + fp + " has occurred 10 times",
		Fingerprint: fp,
		Value:       value,
		Threshold:   10,
		Timestamp:   time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Active:      true,
	}
}

type webhookReceiver struct {
	mu       sync.Mutex
	payloads []map[string]any
	status   int
}

func (r *webhookReceiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var p map[string]any
	json.NewDecoder(req.Body).Decode(&p)
	r.mu.Lock()
	r.payloads = append(r.payloads, p)
	status := r.status
	r.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (r *webhookReceiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func TestFromAlert(t *testing.T) {
	sa := FromAlert(testAlert("fp1", 20))

	assert.Equal(t, "WARNING", sa.Severity)
	assert.Equal(t, "Error group reached 20 occurrences", sa.Title)
	assert.Equal(t, int64(1767268800000), sa.Timestamp)

	content := sa.ToContent()
	assert.Equal(t, AlertEventType, content[FieldEventType])
	assert.Equal(t, "fp1", content[FieldFingerprint])
}

func TestWebhookNotifier_Delivers(t *testing.T) {
	recv := &webhookReceiver{}
	srv := httptest.NewServer(recv)
	defer srv.Close()

	w, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, RatePerMinute: 6000}, logger.Discard())
	require.NoError(t, err)

	require.NoError(t, w.Notify(context.Background(), testAlert("fp1", 10)))
	require.NoError(t, w.Notify(context.Background(), testAlert("fp2", 10)))
	require.NoError(t, w.Close())

	assert.Equal(t, 2, recv.count())
	assert.Equal(t, int64(2), w.Stats().Sent)
	assert.Equal(t, "errtrack.alert", recv.payloads[0][FieldEventType])
	assert.Equal(t, "fp1", recv.payloads[0][FieldFingerprint])
}

func TestWebhookNotifier_CountsFailures(t *testing.T) {
	recv := &webhookReceiver{status: http.StatusInternalServerError}
	srv := httptest.NewServer(recv)
	defer srv.Close()

	var buf bytes.Buffer
	log, err := logger.New(logger.Config{Level: "error", Format: "json", Writer: &buf})
	require.NoError(t, err)

	w, err := NewWebhookNotifier(WebhookConfig{URL: srv.URL, RatePerMinute: 6000}, log)
	require.NoError(t, err)
	w.Notify(context.Background(), testAlert("fp1", 10))
	require.NoError(t, w.Close())

	assert.Equal(t, int64(1), w.Stats().Failed)
	assert.Contains(t, buf.String(), "webhook_delivery_failed")
}

func TestWebhookNotifier_DropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	w, err := NewWebhookNotifier(WebhookConfig{
		URL:           srv.URL,
		QueueSize:     2,
		RatePerMinute: 6000,
		DrainTimeout:  50 * time.Millisecond,
	}, logger.Discard())
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 10; i++ {
		assert.NoError(t, w.Notify(context.Background(), testAlert("fp", 10)))
	}
	assert.Less(t, time.Since(start), time.Second, "Notify must not block")
	assert.GreaterOrEqual(t, w.Stats().Dropped, int64(7))

	assert.Error(t, w.Close())
	assert.Error(t, w.Notify(context.Background(), testAlert("fp", 10)))
}

func TestNewWebhookNotifier_RequiresURL(t *testing.T) {
	_, err := NewWebhookNotifier(WebhookConfig{}, logger.Discard())
	assert.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New(logger.Config{Level: "info", Format: "json", Writer: &buf})
	require.NoError(t, err)

	require.NoError(t, NewLogNotifier(log).Notify(context.Background(), testAlert("fp1", 10)))
	assert.Contains(t, buf.String(), `"msg":"alert_raised"`)
	assert.Contains(t, buf.String(), `"fingerprint":"fp1"`)
}

func TestBusNotifier(t *testing.T) {
	bus := eventbus.NewEventBus(eventbus.DefaultConfig(), logger.Discard())
	defer bus.Stop()

	sub, err := bus.Subscribe(eventbus.AlertFilter{})
	require.NoError(t, err)

	require.NoError(t, NewBusNotifier(bus).Notify(context.Background(), testAlert("fp1", 10)))
	env := <-sub.Events
	assert.Equal(t, "fp1", env.Alert.Fingerprint)
}

type failingNotifier struct{ closed bool }

func (f *failingNotifier) Notify(context.Context, tracker.Alert) error { return errors.New("nope") }
func (f *failingNotifier) Close() error                                { f.closed = true; return nil }

func TestMulti(t *testing.T) {
	bus := eventbus.NewEventBus(eventbus.DefaultConfig(), logger.Discard())
	defer bus.Stop()
	sub, _ := bus.Subscribe(eventbus.AlertFilter{})

	failing := &failingNotifier{}
	m := NewMulti(failing, NewBusNotifier(bus))

	err := m.Notify(context.Background(), testAlert("fp1", 10))
	assert.EqualError(t, err, "nope")
	assert.Len(t, sub.Events, 1, "later notifiers still run after a failure")

	require.NoError(t, m.Close())
	assert.True(t, failing.closed)
}

func TestNotifiersImplementInterface(t *testing.T) {
	var _ tracker.AlertNotifier = (*LogNotifier)(nil)
	var _ tracker.AlertNotifier = (*BusNotifier)(nil)
	var _ tracker.AlertNotifier = (*WebhookNotifier)(nil)
	var _ tracker.AlertNotifier = (*Multi)(nil)
}
