package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/errtrack/internal/telemetry"
	"github.com/armorclaw/errtrack/pkg/eventbus"
	"github.com/armorclaw/errtrack/pkg/health"
	"github.com/armorclaw/errtrack/pkg/logger"
	"github.com/armorclaw/errtrack/pkg/notification"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

type testEnv struct {
	tracker *tracker.Tracker
	bus     *eventbus.EventBus
	server  *Server
	http    *httptest.Server
}

func newTestEnv(t *testing.T, cfg ServerConfig, opts ...Option) *testEnv {
	t.Helper()

	bus := eventbus.NewEventBus(eventbus.DefaultConfig(), logger.Discard())
	t.Cleanup(bus.Stop)

	reg := prometheus.NewRegistry()
	rec, err := telemetry.New(reg)
	require.NoError(t, err)

	tr, err := tracker.New(tracker.DefaultConfig(),
		tracker.WithNotifier(notification.NewBusNotifier(bus)),
		tracker.WithRecorder(rec),
		tracker.WithLogger(logger.Discard()))
	require.NoError(t, err)

	opts = append([]Option{WithEventBus(bus), WithGatherer(reg), WithLogger(logger.Discard())}, opts...)
	s := NewServer(cfg, tr, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{tracker: tr, bus: bus, server: s, http: ts}
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.http.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

const userNotFound = `{"type":"NotFoundError","message":"User 42 not found","level":"error","context":{"component":"users","user_id":"u-1"}}`

func TestIngest_SingleAndBatch(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	resp := env.post(t, "/api/events", userNotFound)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	batch := `[
		{"type":"NotFoundError","message":"User 7 not found"},
		{"type":"TimeoutError","message":"upstream timed out after 3000 ms","level":"critical"}
	]`
	resp = env.post(t, "/api/events", batch)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.Equal(t, 2, accepted["accepted"])

	stats := env.tracker.GetStats()
	assert.EqualValues(t, 3, stats.TotalErrors)
	assert.EqualValues(t, 3, stats.TotalGroups, "component differs between first two events")
}

func TestIngest_Rejections(t *testing.T) {
	env := newTestEnv(t, ServerConfig{MaxBodyBytes: 256})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"invalid json", `{"type":`, http.StatusBadRequest},
		{"missing message", `{"type":"TypeError"}`, http.StatusBadRequest},
		{"blank message in batch", `[{"message":"ok"},{"message":"  "}]`, http.StatusBadRequest},
		{"empty batch", `[]`, http.StatusBadRequest},
		{"too large", `{"message":"` + strings.Repeat("x", 512) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.post(t, "/api/events", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
	assert.EqualValues(t, 0, env.tracker.GetStats().TotalErrors)
}

func TestIngest_RateLimited(t *testing.T) {
	env := newTestEnv(t, ServerConfig{IngestRate: 0.001, IngestBurst: 2})

	assert.Equal(t, http.StatusAccepted, env.post(t, "/api/events", userNotFound).StatusCode)
	assert.Equal(t, http.StatusAccepted, env.post(t, "/api/events", userNotFound).StatusCode)

	resp := env.post(t, "/api/events", userNotFound)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestMetricsAndStats(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	for i := 0; i < 3; i++ {
		env.post(t, "/api/events", userNotFound)
	}

	var m tracker.ErrorMetrics
	resp := env.get(t, "/api/metrics?range=24h", &m)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, tracker.Range24Hours, m.TimeRange)
	assert.EqualValues(t, 3, m.TotalErrors)
	assert.Equal(t, 1, m.UniqueGroups)
	assert.Equal(t, 1, m.AffectedUsers)

	env.get(t, "/api/metrics?range=bogus", &m)
	assert.Equal(t, tracker.DefaultTimeRange, m.TimeRange)

	var stats tracker.Stats
	env.get(t, "/api/stats", &stats)
	assert.EqualValues(t, 3, stats.TotalErrors)
	assert.EqualValues(t, 1, stats.TotalGroups)
}

type recordingResolver struct {
	resolved   []string
	unresolved []string
}

func (r *recordingResolver) Resolve(_ context.Context, fp, by string) error {
	r.resolved = append(r.resolved, fp+"/"+by)
	return nil
}

func (r *recordingResolver) Unresolve(_ context.Context, fp string) error {
	r.unresolved = append(r.unresolved, fp)
	return nil
}

func TestGroups_ResolveFlow(t *testing.T) {
	res := &recordingResolver{}
	env := newTestEnv(t, ServerConfig{}, WithResolver(res))
	env.post(t, "/api/events", userNotFound)

	var list struct {
		Groups []tracker.ErrorGroup `json:"groups"`
		Count  int                  `json:"count"`
	}
	env.get(t, "/api/groups", &list)
	require.Equal(t, 1, list.Count)
	fp := list.Groups[0].Fingerprint
	assert.Equal(t, "User <NUM> not found", list.Groups[0].Pattern)

	resp := env.post(t, "/api/groups/"+fp+"/resolve", `{"resolved_by":"oncall"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{fp + "/oncall"}, res.resolved)

	var g tracker.ErrorGroup
	env.get(t, "/api/groups/"+fp, &g)
	assert.True(t, g.Resolved)
	assert.Equal(t, "oncall", g.ResolvedBy)

	env.get(t, "/api/groups?resolved=false", &list)
	assert.Equal(t, 0, list.Count)

	resp = env.post(t, "/api/groups/"+fp+"/unresolve", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{fp}, res.unresolved)

	env.get(t, "/api/groups?resolved=false", &list)
	assert.Equal(t, 1, list.Count)
}

func TestGroups_NotFound(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/groups/deadbeefdeadbeef", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.post(t, "/api/groups/deadbeefdeadbeef/resolve", "").StatusCode)
}

func TestClearGroups(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	env.post(t, "/api/events", userNotFound)

	req, _ := http.NewRequest(http.MethodDelete, env.http.URL+"/api/groups", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, env.tracker.Groups())
}

func TestHealthAndPrometheus(t *testing.T) {
	env := newTestEnv(t, ServerConfig{Version: "1.2.3"})
	env.post(t, "/api/events", userNotFound)

	var health map[string]any
	env.get(t, "/health", &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "1.2.3", health["version"])

	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `errtrack_events_admitted_total{level="error"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	resp := env.get(t, "/api/events", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, ServerConfig{AllowedOrigins: []string{"https://ops.example.com"}})

	req, _ := http.NewRequest(http.MethodOptions, env.http.URL+"/api/events", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://ops.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestAlertStream(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/alerts?severity=warning"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return env.bus.Stats().ActiveSubscribers == 1
	}, time.Second, 10*time.Millisecond)

	for i := 0; i < 10; i++ {
		env.post(t, "/api/events", userNotFound)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env2 eventbus.AlertEnvelope
	require.NoError(t, json.Unmarshal(data, &env2))
	assert.Equal(t, eventbus.EventTypeAlert, env2.Type)
	assert.EqualValues(t, 10, env2.Alert.Value)
	assert.Equal(t, tracker.RuleGroupVolume, env2.Alert.Rule)
}

func TestAlertStream_BadFilter(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	var body struct {
		Code string `json:"code"`
	}
	resp := env.get(t, "/ws/alerts?severity=loud", &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(eventbus.CodeInvalidFilter), body.Code)
}

func TestAlertStream_Disabled(t *testing.T) {
	tr, err := tracker.New(tracker.DefaultConfig(), tracker.WithLogger(logger.Discard()))
	require.NoError(t, err)
	s := NewServer(ServerConfig{}, tr, WithLogger(logger.Discard()), WithGatherer(prometheus.NewRegistry()))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/alerts", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth_ReportsComponents(t *testing.T) {
	mon := health.NewMonitor(health.DefaultMonitorConfig(), logger.Discard())
	var storeErr error
	mon.Register("store", func(context.Context) error { return storeErr })
	env := newTestEnv(t, ServerConfig{}, WithHealth(mon))

	mon.CheckAll()
	var body struct {
		Status     string                   `json:"status"`
		Components []health.ComponentHealth `json:"components"`
	}
	resp := env.get(t, "/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body.Status)
	require.Len(t, body.Components, 1)
	assert.Equal(t, health.StateHealthy, body.Components[0].State)

	storeErr = errors.New("database is locked")
	mon.CheckAll()
	resp = env.get(t, "/health", &body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "database is locked", body.Components[0].LastError)
}
