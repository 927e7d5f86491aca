package tracker

import "math/rand/v2"

// RandomSource yields uniform values in [0,1). Implementations must be safe
// for concurrent use.
type RandomSource interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Sampler admits events with a per-level probability
type Sampler struct {
	rates SamplingRates
	rand  RandomSource
}

// NewSampler creates a sampler. A nil source uses the shared math/rand generator.
func NewSampler(rates SamplingRates, src RandomSource) *Sampler {
	if src == nil {
		src = globalRand{}
	}
	return &Sampler{rates: rates, rand: src}
}

// Sample reports whether an event at the given level is kept
func (s *Sampler) Sample(level Level) bool {
	rate := s.rates.Rate(level)
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	return s.rand.Float64() < rate
}
