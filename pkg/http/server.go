// Package http exposes the error tracker over HTTP: event ingestion, the
// metrics and stats read paths, group resolution, Prometheus scraping, and a
// websocket stream of raised alerts.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/armorclaw/errtrack/pkg/eventbus"
	"github.com/armorclaw/errtrack/pkg/health"
	"github.com/armorclaw/errtrack/pkg/logger"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

const (
	DefaultIngestRate   = 200.0
	DefaultIngestBurst  = 400
	DefaultMaxBodyBytes = 1 << 20
	maxBatchEvents      = 500
)

// ServerConfig holds configuration for the HTTP server
type ServerConfig struct {
	Addr           string
	IngestRate     float64 // Sustained POST /api/events requests per second
	IngestBurst    int
	MaxBodyBytes   int64
	AllowedOrigins []string // CORS and websocket origins; empty allows any
	Version        string
}

// GroupResolver mirrors resolution state into a second system of record
type GroupResolver interface {
	Resolve(ctx context.Context, fingerprint, resolvedBy string) error
	Unresolve(ctx context.Context, fingerprint string) error
}

// Option customizes a Server
type Option func(*Server)

// WithEventBus enables the /ws/alerts stream
func WithEventBus(bus *eventbus.EventBus) Option {
	return func(s *Server) { s.bus = bus }
}

// WithGatherer serves /metrics from g instead of the default registry
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithResolver forwards resolve/unresolve calls to r
func WithResolver(r GroupResolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithHealth reports component state from m on /health
func WithHealth(m *health.Monitor) Option {
	return func(s *Server) { s.health = m }
}

// WithLogger sets the server logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server is the HTTP front end of the tracker
type Server struct {
	config   ServerConfig
	tracker  *tracker.Tracker
	bus      *eventbus.EventBus
	gatherer prometheus.Gatherer
	resolver GroupResolver
	health   *health.Monitor
	limiter  *rate.Limiter
	log      *logger.Logger
	upgrader websocket.Upgrader
	handler  http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	started    time.Time
}

// NewServer creates a server for tr
func NewServer(config ServerConfig, tr *tracker.Tracker, opts ...Option) *Server {
	if config.IngestRate <= 0 {
		config.IngestRate = DefaultIngestRate
	}
	if config.IngestBurst <= 0 {
		config.IngestBurst = DefaultIngestBurst
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if config.Version == "" {
		config.Version = "dev"
	}

	s := &Server{
		config:  config,
		tracker: tr,
		limiter: rate.NewLimiter(rate.Limit(config.IngestRate), config.IngestBurst),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().WithComponent("http")
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/events", s.handleIngest)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/groups", s.handleGroups)
	mux.HandleFunc("DELETE /api/groups", s.handleClearGroups)
	mux.HandleFunc("GET /api/groups/{fingerprint}", s.handleGroup)
	mux.HandleFunc("POST /api/groups/{fingerprint}/resolve", s.handleResolve)
	mux.HandleFunc("POST /api/groups/{fingerprint}/unresolve", s.handleUnresolve)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /ws/alerts", s.handleAlertStream)
	s.handler = s.corsMiddleware(mux)

	return s
}

// Handler returns the routed handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Stop is called
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Stop is called
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.log.Info("http_server_started", slog.String("addr", ln.Addr().String()))

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.log.Info("http_server_stopping")
	return srv.Shutdown(ctx)
}

// ingestEvent is the wire form accepted by POST /api/events
type ingestEvent struct {
	ID        string                `json:"id"`
	Type      string                `json:"type"`
	Message   string                `json:"message"`
	Stack     string                `json:"stack"`
	Level     string                `json:"level"`
	Timestamp *time.Time            `json:"timestamp"`
	Context   *tracker.EventContext `json:"context"`
	Tags      []string              `json:"tags"`
}

func (e ingestEvent) toEvent() tracker.ErrorEvent {
	ev := tracker.ErrorEvent{
		ID:      e.ID,
		Type:    e.Type,
		Message: e.Message,
		Stack:   e.Stack,
		Level:   tracker.Level(e.Level),
		Context: e.Context,
		Tags:    e.Tags,
	}
	if e.Timestamp != nil {
		ev.Timestamp = *e.Timestamp
	}
	return ev
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusTooManyRequests, "ingest rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	events, err := decodeEvents(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	for i, e := range events {
		if strings.TrimSpace(e.Message) == "" {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("event %d: message is required", i))
			return
		}
	}

	for _, e := range events {
		s.tracker.TrackError(r.Context(), e.toEvent())
	}

	s.writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(events)})
}

// decodeEvents accepts either a single event object or an array of them
func decodeEvents(r *http.Request) ([]ingestEvent, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var events []ingestEvent
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, fmt.Errorf("invalid event batch: %w", err)
		}
		if len(events) == 0 {
			return nil, errors.New("event batch is empty")
		}
		if len(events) > maxBatchEvents {
			return nil, fmt.Errorf("event batch exceeds %d events", maxBatchEvents)
		}
		return events, nil
	}

	var ev ingestEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	return []ingestEvent{ev}, nil
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	tr, _ := tracker.ParseTimeRange(r.URL.Query().Get("range"))
	s.writeJSON(w, http.StatusOK, s.tracker.GetMetrics(tr))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tracker.GetStats())
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups := s.tracker.Groups()

	switch r.URL.Query().Get("resolved") {
	case "true":
		groups = filterGroups(groups, func(g tracker.ErrorGroup) bool { return g.Resolved })
	case "false":
		groups = filterGroups(groups, func(g tracker.ErrorGroup) bool { return !g.Resolved })
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"count":  len(groups),
	})
}

func filterGroups(groups []tracker.ErrorGroup, keep func(tracker.ErrorGroup) bool) []tracker.ErrorGroup {
	out := groups[:0]
	for _, g := range groups {
		if keep(g) {
			out = append(out, g)
		}
	}
	return out
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.tracker.Group(r.PathValue("fingerprint"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleClearGroups(w http.ResponseWriter, r *http.Request) {
	s.tracker.ClearGroups()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	fp := r.PathValue("fingerprint")

	var body struct {
		ResolvedBy string `json:"resolved_by"`
	}
	if r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, 4096)
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if body.ResolvedBy == "" {
		body.ResolvedBy = "api"
	}

	err := s.tracker.Resolve(fp, body.ResolvedBy)
	found := err == nil
	if err != nil && !errors.Is(err, tracker.ErrGroupNotFound) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.resolver != nil {
		if rerr := s.resolver.Resolve(r.Context(), fp, body.ResolvedBy); rerr == nil {
			found = true
		} else if !errors.Is(rerr, tracker.ErrGroupNotFound) {
			s.log.ErrorEvent(r.Context(), "resolve_forward_failed", rerr, slog.String("fingerprint", fp))
		}
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "error group not found")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"fingerprint": fp,
		"resolved":    true,
		"resolved_by": body.ResolvedBy,
	})
}

func (s *Server) handleUnresolve(w http.ResponseWriter, r *http.Request) {
	fp := r.PathValue("fingerprint")

	err := s.tracker.Unresolve(fp)
	found := err == nil
	if err != nil && !errors.Is(err, tracker.ErrGroupNotFound) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.resolver != nil {
		if rerr := s.resolver.Unresolve(r.Context(), fp); rerr == nil {
			found = true
		} else if !errors.Is(rerr, tracker.ErrGroupNotFound) {
			s.log.ErrorEvent(r.Context(), "unresolve_forward_failed", rerr, slog.String("fingerprint", fp))
		}
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "error group not found")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"fingerprint": fp, "resolved": false})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.config.Version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}
	status := http.StatusOK
	if s.health != nil {
		resp["components"] = s.health.ListHealth()
		if !s.health.Healthy() {
			resp["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response_encode_failed", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && len(s.config.AllowedOrigins) > 0 && s.originAllowed(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}
