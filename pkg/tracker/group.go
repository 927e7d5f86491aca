package tracker

import (
	"errors"
	"sync"
	"time"
)

// ErrGroupNotFound is returned for operations on an unknown fingerprint
var ErrGroupNotFound = errors.New("error group not found")

// ErrorGroup aggregates every admitted event that shares a fingerprint
type ErrorGroup struct {
	Fingerprint  string       `json:"fingerprint"`
	Pattern      string       `json:"pattern"`
	Location     string       `json:"location"`
	FirstSeen    time.Time    `json:"first_seen"`
	LastSeen     time.Time    `json:"last_seen"`
	Count        int64        `json:"count"`
	RecentEvents []ErrorEvent `json:"recent_events"`

	// Resolution state is owned by an external collaborator
	Resolved   bool       `json:"resolved"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Latest returns the most recent event of the group
func (g *ErrorGroup) Latest() ErrorEvent {
	if len(g.RecentEvents) == 0 {
		return ErrorEvent{}
	}
	return g.RecentEvents[0]
}

func (g *ErrorGroup) clone() ErrorGroup {
	cp := *g
	cp.RecentEvents = append([]ErrorEvent(nil), g.RecentEvents...)
	if g.ResolvedAt != nil {
		at := *g.ResolvedAt
		cp.ResolvedAt = &at
	}
	return cp
}

// GroupUpdate describes the outcome of GroupStore.Update
type GroupUpdate struct {
	Count   int64
	Created bool
}

// GroupStore maps fingerprints to error groups
type GroupStore struct {
	mu       sync.RWMutex
	groups   map[string]*ErrorGroup
	capacity int
}

// NewGroupStore creates a store keeping at most capacity recent events per group
func NewGroupStore(capacity int) *GroupStore {
	if capacity <= 0 {
		capacity = defaultRecentEvents
	}
	return &GroupStore{
		groups:   make(map[string]*ErrorGroup),
		capacity: capacity,
	}
}

// Update records an admitted event against its group, creating the group on
// first occurrence. The lookup and mutation happen under one lock.
func (s *GroupStore) Update(fingerprint, pattern, location string, event ErrorEvent, now time.Time) GroupUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[fingerprint]
	if !ok {
		events := make([]ErrorEvent, 1, s.capacity)
		events[0] = event
		s.groups[fingerprint] = &ErrorGroup{
			Fingerprint:  fingerprint,
			Pattern:      pattern,
			Location:     location,
			FirstSeen:    now,
			LastSeen:     now,
			Count:        1,
			RecentEvents: events,
		}
		return GroupUpdate{Count: 1, Created: true}
	}

	g.LastSeen = now
	g.Count++
	// Newest first; the oldest falls off the end once full.
	if len(g.RecentEvents) < s.capacity {
		g.RecentEvents = append(g.RecentEvents, ErrorEvent{})
	}
	copy(g.RecentEvents[1:], g.RecentEvents)
	g.RecentEvents[0] = event

	return GroupUpdate{Count: g.Count}
}

// Get returns a copy of the group for a fingerprint
func (s *GroupStore) Get(fingerprint string) (ErrorGroup, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[fingerprint]
	if !ok {
		return ErrorGroup{}, false
	}
	return g.clone(), true
}

// Snapshot returns copies of every group, optionally filtered
func (s *GroupStore) Snapshot(keep func(*ErrorGroup) bool) []ErrorGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ErrorGroup, 0, len(s.groups))
	for _, g := range s.groups {
		if keep != nil && !keep(g) {
			continue
		}
		result = append(result, g.clone())
	}
	return result
}

// Len returns the number of groups
func (s *GroupStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups)
}

// RetainedEvents returns the number of raw events held across all groups
func (s *GroupStore) RetainedEvents() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, g := range s.groups {
		n += len(g.RecentEvents)
	}
	return n
}

// EvictBefore removes groups last seen before cutoff and returns their
// fingerprints. A non-nil onEvict runs with the evicted fingerprints before
// the store is unlocked, so no update can recreate them in between.
func (s *GroupStore) EvictBefore(cutoff time.Time, onEvict func(fingerprints []string)) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for fp, g := range s.groups {
		if g.LastSeen.Before(cutoff) {
			delete(s.groups, fp)
			evicted = append(evicted, fp)
		}
	}
	if len(evicted) > 0 && onEvict != nil {
		onEvict(evicted)
	}
	return evicted
}

// Clear removes every group and returns how many were removed. A non-nil
// onClear runs before the store is unlocked.
func (s *GroupStore) Clear(onClear func(removed int)) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.groups)
	s.groups = make(map[string]*ErrorGroup)
	if onClear != nil {
		onClear(n)
	}
	return n
}

// Resolve marks a group resolved by the given identity
func (s *GroupStore) Resolve(fingerprint, resolvedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[fingerprint]
	if !ok {
		return ErrGroupNotFound
	}
	g.Resolved = true
	g.ResolvedBy = resolvedBy
	g.ResolvedAt = &at
	return nil
}

// Unresolve reopens a resolved group
func (s *GroupStore) Unresolve(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[fingerprint]
	if !ok {
		return ErrGroupNotFound
	}
	g.Resolved = false
	g.ResolvedBy = ""
	g.ResolvedAt = nil
	return nil
}
