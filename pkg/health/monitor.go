// Package health runs periodic liveness checks against the daemon's
// components and reports their state for the /health endpoint
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/armorclaw/errtrack/pkg/logger"
)

// Component states
const (
	StateUnknown   = "unknown"
	StateHealthy   = "healthy"
	StateUnhealthy = "unhealthy"
)

// CheckFunc reports a component problem as a non-nil error
type CheckFunc func(ctx context.Context) error

// ComponentHealth holds health status for a component
type ComponentHealth struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	LastError    string    `json:"last_error,omitempty"`
	LastCheck    time.Time `json:"last_check"`
	LastHealthy  time.Time `json:"last_healthy"`
}

type component struct {
	check  CheckFunc
	status ComponentHealth
}

// FailureHandler is called when a component crosses the failure threshold
type FailureHandler func(name string, err error)

// MonitorConfig holds configuration for health monitoring
type MonitorConfig struct {
	CheckInterval time.Duration // How often to run checks
	CheckTimeout  time.Duration // Bound on a single check
	MaxFailures   int           // Consecutive failures before the handler fires
}

// DefaultMonitorConfig returns default monitoring configuration
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CheckInterval: 30 * time.Second,
		CheckTimeout:  5 * time.Second,
		MaxFailures:   3,
	}
}

// Monitor tracks component health
type Monitor struct {
	config     MonitorConfig
	components map[string]*component
	onFailure  FailureHandler
	log        *logger.Logger
	now        func() time.Time

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a new component health monitor
func NewMonitor(config MonitorConfig, log *logger.Logger) *Monitor {
	def := DefaultMonitorConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = def.CheckInterval
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = def.CheckTimeout
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = def.MaxFailures
	}
	if log == nil {
		log = logger.Global().WithComponent("health")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		config:     config,
		components: make(map[string]*component),
		log:        log,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetFailureHandler sets a custom handler for component failures
func (m *Monitor) SetFailureHandler(handler FailureHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailure = handler
}

// Register adds a component check
func (m *Monitor) Register(name string, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.components[name] = &component{
		check:  check,
		status: ComponentHealth{Name: name, State: StateUnknown},
	}
}

// Start runs every check once, then on each interval
func (m *Monitor) Start() {
	m.CheckAll()

	m.wg.Add(1)
	go m.monitorLoop()

	m.log.Info("health_monitor_started",
		slog.Duration("check_interval", m.config.CheckInterval),
		slog.Int("max_failures", m.config.MaxFailures))
}

// Stop stops the check loop
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.log.Info("health_monitor_stopped")
}

func (m *Monitor) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll()
		}
	}
}

// CheckAll runs every registered check
func (m *Monitor) CheckAll() {
	m.mu.RLock()
	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		m.checkComponent(name)
	}
}

func (m *Monitor) checkComponent(name string) {
	m.mu.RLock()
	c, exists := m.components[name]
	m.mu.RUnlock()
	if !exists {
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.config.CheckTimeout)
	err := c.check(ctx)
	cancel()

	now := m.now()
	m.mu.Lock()
	c.status.LastCheck = now
	if err == nil {
		if c.status.State == StateUnhealthy {
			m.log.Info("component_recovered", slog.String("component", name))
		}
		c.status.State = StateHealthy
		c.status.FailureCount = 0
		c.status.LastError = ""
		c.status.LastHealthy = now
		m.mu.Unlock()
		return
	}

	c.status.State = StateUnhealthy
	c.status.FailureCount++
	c.status.LastError = err.Error()
	failures := c.status.FailureCount
	handler := m.onFailure
	m.mu.Unlock()

	m.log.Warn("component_health_check_failed",
		slog.String("component", name),
		slog.String("error", err.Error()),
		slog.Int("failure_count", failures))

	if failures == m.config.MaxFailures && handler != nil {
		handler(name, err)
	}
}

// ListHealth returns the status of every component, sorted by name
func (m *Monitor) ListHealth() []ComponentHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ComponentHealth, 0, len(m.components))
	for _, c := range m.components {
		out = append(out, c.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether no component is currently failing
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.components {
		if c.status.State == StateUnhealthy {
			return false
		}
	}
	return true
}
