package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/errtrack/pkg/logger"
)

func TestMonitor_StateTransitions(t *testing.T) {
	m := NewMonitor(MonitorConfig{MaxFailures: 2}, logger.Discard())

	var failing atomic.Bool
	m.Register("store", func(context.Context) error {
		if failing.Load() {
			return errors.New("database is locked")
		}
		return nil
	})
	m.Register("sink", func(context.Context) error { return nil })

	var fired []string
	m.SetFailureHandler(func(name string, err error) { fired = append(fired, name) })

	assert.Equal(t, StateUnknown, m.ListHealth()[1].State)

	m.CheckAll()
	assert.True(t, m.Healthy())

	failing.Store(true)
	m.CheckAll()
	m.CheckAll()
	m.CheckAll()

	list := m.ListHealth()
	require.Len(t, list, 2)
	st := list[1]
	assert.Equal(t, "store", st.Name)
	assert.Equal(t, StateUnhealthy, st.State)
	assert.Equal(t, 3, st.FailureCount)
	assert.Equal(t, "database is locked", st.LastError)
	assert.False(t, m.Healthy())
	assert.Equal(t, []string{"store"}, fired, "handler fires once at the threshold")

	failing.Store(false)
	m.CheckAll()
	assert.True(t, m.Healthy())
	assert.Equal(t, 0, m.ListHealth()[1].FailureCount)
}

func TestMonitor_CheckTimeout(t *testing.T) {
	m := NewMonitor(MonitorConfig{CheckTimeout: 20 * time.Millisecond}, logger.Discard())
	m.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	m.CheckAll()
	assert.Equal(t, context.DeadlineExceeded.Error(), m.ListHealth()[0].LastError)
}

func TestMonitor_StartStop(t *testing.T) {
	m := NewMonitor(MonitorConfig{CheckInterval: 10 * time.Millisecond}, logger.Discard())

	var calls atomic.Int64
	m.Register("tick", func(context.Context) error {
		calls.Add(1)
		return nil
	})

	m.Start()
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	m.Stop()
}
