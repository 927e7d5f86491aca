package tracker

import (
	"sync"
	"time"
)

// RateLimitState is the fixed-window counter kept for one fingerprint
type RateLimitState struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// RateLimiter admits at most MaxPerGroup occurrences of a fingerprint per
// window, and at most MaxTotal occurrences overall per window.
type RateLimiter struct {
	mu          sync.Mutex
	states      map[string]*RateLimitState
	maxPerGroup int
	maxTotal    int
	window      time.Duration

	total        int
	totalResetAt time.Time
}

// NewRateLimiter creates a rate limiter from the given limits
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		states:      make(map[string]*RateLimitState),
		maxPerGroup: cfg.MaxPerGroup,
		maxTotal:    cfg.MaxTotal,
		window:      cfg.Window,
	}
}

// Allow records an occurrence of fingerprint at now and reports whether it is
// admitted. Rejected occurrences do not consume budget.
func (l *RateLimiter) Allow(fingerprint string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.totalResetAt.IsZero() || now.After(l.totalResetAt) {
		l.total = 0
		l.totalResetAt = now.Add(l.window)
	}
	if l.maxTotal > 0 && l.total >= l.maxTotal {
		return false
	}

	state, ok := l.states[fingerprint]
	if !ok || now.After(state.ResetAt) {
		l.states[fingerprint] = &RateLimitState{Count: 1, ResetAt: now.Add(l.window)}
		l.total++
		return true
	}
	if state.Count >= l.maxPerGroup {
		return false
	}
	state.Count++
	l.total++
	return true
}

// State returns a copy of the state for a fingerprint
func (l *RateLimiter) State(fingerprint string) (RateLimitState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.states[fingerprint]
	if !ok {
		return RateLimitState{}, false
	}
	return *state, true
}

// Forget drops the state of the given fingerprints
func (l *RateLimiter) Forget(fingerprints ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, fp := range fingerprints {
		delete(l.states, fp)
	}
}

// Reset drops every per-fingerprint state and the global window
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.states = make(map[string]*RateLimitState)
	l.total = 0
	l.totalResetAt = time.Time{}
}
