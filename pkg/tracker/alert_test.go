package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAlertEvaluator_Evaluate(t *testing.T) {
	e := NewAlertEvaluator(10)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	var fired []int64
	for count := int64(1); count <= 35; count++ {
		if alert, ok := e.Evaluate("fp", count, now); ok {
			fired = append(fired, count)
			assert.Equal(t, RuleGroupVolume, alert.Rule)
			assert.Equal(t, AlertWarning, alert.Severity)
			assert.Equal(t, "fp", alert.Fingerprint)
			assert.Equal(t, float64(count), alert.Value)
			assert.Equal(t, float64(10), alert.Threshold)
			assert.True(t, alert.Active)
			assert.NotEmpty(t, alert.ID)
			assert.Contains(t, alert.Message, "fp")
		}
	}
	assert.Equal(t, []int64{10, 20, 30}, fired)
}

func TestAlertEvaluator_DefaultThreshold(t *testing.T) {
	e := NewAlertEvaluator(0)
	now := time.Now()

	_, ok := e.Evaluate("fp", 5, now)
	assert.False(t, ok)
	_, ok = e.Evaluate("fp", 10, now)
	assert.True(t, ok)
}
