package tracker

import "time"

// Reaper evicts groups that have not been seen within the retention horizon.
// It does not schedule itself; callers invoke Sweep on their own timer.
type Reaper struct {
	groups    *GroupStore
	retention time.Duration
}

// NewReaper creates a reaper over groups
func NewReaper(groups *GroupStore, retention time.Duration) *Reaper {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Reaper{groups: groups, retention: retention}
}

// Sweep evicts stale groups and returns their fingerprints. onEvict, when
// set, runs while the group store is still locked.
func (r *Reaper) Sweep(now time.Time, onEvict func(fingerprints []string)) []string {
	return r.groups.EvictBefore(now.Add(-r.retention), onEvict)
}

// Retention returns the configured retention horizon
func (r *Reaper) Retention() time.Duration {
	return r.retention
}
