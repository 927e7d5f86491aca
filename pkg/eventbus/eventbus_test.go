package eventbus

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/armorclaw/errtrack/pkg/logger"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

func newTestBus(t *testing.T, cfg Config) *EventBus {
	t.Helper()
	b := NewEventBus(cfg, logger.Discard())
	t.Cleanup(b.Stop)
	return b
}

func testAlert(fp string) tracker.Alert {
	return tracker.Alert{
		ID:          "alert-" + fp,
		Rule:        tracker.RuleGroupVolume,
		Severity:    tracker.AlertWarning,
		Fingerprint: fp,
		Value:       10,
		Threshold:   10,
		Timestamp:   time.Now(),
		Active:      true,
	}
}

func TestNewEventBus_Defaults(t *testing.T) {
	b := newTestBus(t, Config{})
	if b.cfg != DefaultConfig() {
		t.Errorf("cfg = %+v, want defaults", b.cfg)
	}
}

func TestPublish_DeliversToMatchingSubscribers(t *testing.T) {
	b := newTestBus(t, DefaultConfig())

	all, err := b.Subscribe(AlertFilter{})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	onlyA, _ := b.Subscribe(AlertFilter{Fingerprint: "fpA"})
	critical, _ := b.Subscribe(AlertFilter{Severities: []tracker.AlertSeverity{tracker.AlertCritical}})

	n, err := b.Publish(testAlert("fpB"))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Publish() delivered to %d, want 1", n)
	}

	env := <-all.Events
	if env.Alert.Fingerprint != "fpB" || env.Type != EventTypeAlert {
		t.Errorf("unexpected envelope %+v", env)
	}
	if len(onlyA.Events) != 0 || len(critical.Events) != 0 {
		t.Error("filtered subscribers should not receive fpB")
	}

	b.Publish(testAlert("fpA"))
	if len(onlyA.Events) != 1 {
		t.Error("fingerprint subscriber should receive fpA")
	}
}

func TestPublish_SequenceIncreases(t *testing.T) {
	b := newTestBus(t, DefaultConfig())
	sub, _ := b.Subscribe(AlertFilter{})

	b.Publish(testAlert("a"))
	b.Publish(testAlert("b"))

	first, second := <-sub.Events, <-sub.Events
	if second.Sequence <= first.Sequence {
		t.Errorf("sequence %d then %d, want increasing", first.Sequence, second.Sequence)
	}
}

func TestPublish_DropsWhenFull(t *testing.T) {
	b := newTestBus(t, Config{BufferSize: 2})
	sub, _ := b.Subscribe(AlertFilter{})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(testAlert("fp"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if len(sub.Events) != 2 {
		t.Errorf("buffered = %d, want 2", len(sub.Events))
	}
	stats := b.Stats()
	if stats.Dropped != 3 || stats.Published != 5 {
		t.Errorf("Stats() = %+v, want 3 dropped of 5", stats)
	}
}

func TestSubscribe_Limit(t *testing.T) {
	b := newTestBus(t, Config{MaxSubscribers: 2})

	b.Subscribe(AlertFilter{})
	b.Subscribe(AlertFilter{})
	_, err := b.Subscribe(AlertFilter{})
	if !IsErrorCode(err, CodeSubLimit) {
		t.Errorf("Subscribe() error = %v, want subscriber limit", err)
	}
}

func TestSubscribe_InvalidFilter(t *testing.T) {
	b := newTestBus(t, DefaultConfig())
	_, err := b.Subscribe(AlertFilter{Severities: []tracker.AlertSeverity{"loud"}})
	if !IsErrorCode(err, CodeInvalidFilter) {
		t.Errorf("Subscribe() error = %v, want invalid filter", err)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := newTestBus(t, DefaultConfig())
	sub, _ := b.Subscribe(AlertFilter{})

	if err := b.Unsubscribe(sub.ID); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if _, ok := <-sub.Events; ok {
		t.Error("Events should be closed after Unsubscribe")
	}
	select {
	case <-sub.Done():
	default:
		t.Error("Done() should be closed after Unsubscribe")
	}

	err := b.Unsubscribe(sub.ID)
	if !IsErrorCode(err, CodeSubNotFound) {
		t.Errorf("second Unsubscribe() error = %v, want not found", err)
	}
}

func TestRemoveInactive(t *testing.T) {
	b := newTestBus(t, Config{InactivityTimeout: time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	idle, _ := b.Subscribe(AlertFilter{})
	active, _ := b.Subscribe(AlertFilter{})
	active.Touch(now.Add(2 * time.Minute))

	if n := b.removeInactive(now.Add(2 * time.Minute)); n != 1 {
		t.Fatalf("removeInactive() = %d, want 1", n)
	}
	if _, ok := <-idle.Events; ok {
		t.Error("idle subscriber should be closed")
	}
	if b.Stats().ActiveSubscribers != 1 {
		t.Errorf("ActiveSubscribers = %d, want 1", b.Stats().ActiveSubscribers)
	}
}

func TestStop(t *testing.T) {
	b := NewEventBus(DefaultConfig(), logger.Discard())
	b.Start()
	sub, _ := b.Subscribe(AlertFilter{})

	b.Stop()
	b.Stop()

	if _, ok := <-sub.Events; ok {
		t.Error("Events should be closed after Stop")
	}
	if _, err := b.Publish(testAlert("fp")); !IsErrorCode(err, CodeBusStopped) {
		t.Errorf("Publish() after Stop error = %v", err)
	}
	if _, err := b.Subscribe(AlertFilter{}); !IsErrorCode(err, CodeBusStopped) {
		t.Errorf("Subscribe() after Stop error = %v", err)
	}
}

func TestConcurrentPublishUnsubscribe(t *testing.T) {
	b := newTestBus(t, Config{BufferSize: 1})

	var subs []*Subscriber
	for i := 0; i < 20; i++ {
		s, err := b.Subscribe(AlertFilter{})
		if err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
		subs = append(subs, s)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			b.Publish(testAlert("fp"))
		}
	}()
	go func() {
		defer wg.Done()
		for _, s := range subs {
			b.Unsubscribe(s.ID)
		}
	}()
	wg.Wait()

	if b.Stats().ActiveSubscribers != 0 {
		t.Errorf("ActiveSubscribers = %d, want 0", b.Stats().ActiveSubscribers)
	}
}

func TestAlertEnvelope_ToJSON(t *testing.T) {
	env := &AlertEnvelope{Type: EventTypeAlert, Alert: testAlert("fp1"), Sequence: 7}
	data, err := env.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["type"] != EventTypeAlert {
		t.Errorf("type = %v", decoded["type"])
	}
	alert := decoded["alert"].(map[string]any)
	if alert["fingerprint"] != "fp1" {
		t.Errorf("fingerprint = %v", alert["fingerprint"])
	}
}
