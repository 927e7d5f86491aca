package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/errtrack/pkg/logger"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

func TestAdd_Validation(t *testing.T) {
	s := New(logger.Discard(), 0)
	noop := func(context.Context) (int64, error) { return 0, nil }

	require.NoError(t, s.Add("cleanup", "@every 5m", noop))
	require.NoError(t, s.Add("nightly", "0 3 * * *", noop))
	assert.Error(t, s.Add("cleanup", "@hourly", noop), "duplicate name")
	assert.Error(t, s.Add("bad", "every now and then", noop))

	status := s.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "cleanup", status[0].Name)
	assert.Equal(t, "nightly", status[1].Name)
}

func TestRunNow_RecordsStatus(t *testing.T) {
	s := New(logger.Discard(), time.Second)

	calls := 0
	require.NoError(t, s.Add("count", "@hourly", func(ctx context.Context) (int64, error) {
		calls++
		if _, ok := ctx.Deadline(); !ok {
			t.Error("job context should carry the run timeout")
		}
		if calls == 2 {
			return 0, errors.New("disk full")
		}
		return 7, nil
	}))

	n, err := s.RunNow("count")
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)

	_, err = s.RunNow("count")
	assert.EqualError(t, err, "disk full")

	st := s.Status()[0]
	assert.EqualValues(t, 2, st.Runs)
	assert.Equal(t, "disk full", st.LastError)
	assert.False(t, st.LastRun.IsZero())

	_, err = s.RunNow("missing")
	assert.Error(t, err)
}

func TestStartStop_RunsScheduledJobs(t *testing.T) {
	s := New(logger.Discard(), 0)

	var runs atomic.Int64
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) (int64, error) {
		runs.Add(1)
		return 0, nil
	}))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.NoError(t, s.Stop(ctx), "second stop is a no-op")
}

func TestTrackerCleanup(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tr, err := tracker.New(tracker.DefaultConfig(),
		tracker.WithClock(clock),
		tracker.WithLogger(logger.Discard()))
	require.NoError(t, err)

	tr.TrackError(context.Background(), tracker.ErrorEvent{
		Type:      "TypeError",
		Message:   "x is undefined",
		Timestamp: now,
	})

	s := New(logger.Discard(), 0)
	require.NoError(t, s.Add("tracker", "@every 5m", TrackerCleanup(tr)))

	n, err := s.RunNow("tracker")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	now = now.Add(25 * time.Hour)
	n, err = s.RunNow("tracker")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Empty(t, tr.Groups())
}

type fakeCleaner struct{ calls int }

func (f *fakeCleaner) Cleanup(context.Context) (int64, error) {
	f.calls++
	return 3, nil
}

func TestStoreCleanup(t *testing.T) {
	c := &fakeCleaner{}
	s := New(logger.Discard(), 0)
	require.NoError(t, s.Add("store", "@daily", StoreCleanup(c)))

	n, err := s.RunNow("store")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, 1, c.calls)
}
