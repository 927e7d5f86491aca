package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// fixedRand always returns the same draw
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func TestSampler_Sample(t *testing.T) {
	rates := SamplingRates{Debug: 0, Info: 0.1, Warning: 0.5, Error: 1, Critical: 1}

	tests := []struct {
		name  string
		level Level
		draw  float64
		want  bool
	}{
		{"critical always kept", LevelCritical, 0.999, true},
		{"error always kept", LevelError, 0.999, true},
		{"debug never kept", LevelDebug, 0, false},
		{"warning below rate", LevelWarning, 0.49, true},
		{"warning at rate", LevelWarning, 0.5, false},
		{"info above rate", LevelInfo, 0.2, false},
		{"info below rate", LevelInfo, 0.05, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSampler(rates, fixedRand(tt.draw))
			assert.Equal(t, tt.want, s.Sample(tt.level))
		})
	}
}

func TestSampler_DefaultSource(t *testing.T) {
	s := NewSampler(SamplingRates{Warning: 0.5}, nil)

	kept := 0
	for i := 0; i < 10000; i++ {
		if s.Sample(LevelWarning) {
			kept++
		}
	}
	assert.InDelta(t, 5000, kept, 500)
}
