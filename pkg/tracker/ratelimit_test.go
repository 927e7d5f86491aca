package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_PerGroup(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{MaxPerGroup: 5, Window: time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	admitted := 0
	for i := 0; i < 10; i++ {
		if l.Allow("fp", now) {
			admitted++
		}
	}
	assert.Equal(t, 5, admitted)

	state, ok := l.State("fp")
	require.True(t, ok)
	assert.Equal(t, 5, state.Count)
	assert.Equal(t, now.Add(time.Minute), state.ResetAt)

	// Other fingerprints have their own budget
	assert.True(t, l.Allow("other", now))
}

func TestRateLimiter_WindowReset(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{MaxPerGroup: 1, Window: time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, l.Allow("fp", now))
	assert.False(t, l.Allow("fp", now.Add(30*time.Second)))
	assert.False(t, l.Allow("fp", now.Add(time.Minute)))
	assert.True(t, l.Allow("fp", now.Add(time.Minute+time.Millisecond)))
}

func TestRateLimiter_MaxTotal(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{MaxPerGroup: 100, MaxTotal: 3, Window: time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, l.Allow("a", now))
	assert.True(t, l.Allow("b", now))
	assert.True(t, l.Allow("c", now))
	assert.False(t, l.Allow("d", now))

	_, ok := l.State("d")
	assert.False(t, ok, "rejected fingerprint must not hold state")

	assert.True(t, l.Allow("d", now.Add(2*time.Minute)))
}

func TestRateLimiter_ForgetAndReset(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{MaxPerGroup: 1, Window: time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	l.Allow("a", now)
	l.Allow("b", now)

	l.Forget("a")
	_, ok := l.State("a")
	assert.False(t, ok)
	assert.True(t, l.Allow("a", now))

	l.Reset()
	_, ok = l.State("b")
	assert.False(t, ok)
	assert.True(t, l.Allow("b", now))
}
