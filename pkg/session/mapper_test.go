package session

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateToAmount(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want float64
	}{
		{"zero", 0, 0},
		{"negative", -12, 0},
		{"nan", math.NaN(), 0},
		{"one", 1, 1 - 1/1.3},
		{"hundred", 100, 1 - 1/math.Pow(1.3, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RateToAmount(tt.rate), 1e-12)
		})
	}

	assert.InDelta(t, 0.9275, RateToAmount(100), 1e-4)
}

func TestRateToAmountSaturatesBelowOne(t *testing.T) {
	for _, rate := range []float64{1e4, 1e6, 1e12, math.Inf(1)} {
		got := RateToAmount(rate)
		assert.Less(t, got, 1.0, "rate %g", rate)
		assert.Greater(t, got, 0.99, "rate %g", rate)
	}
}

func TestRateToAmountMonotonic(t *testing.T) {
	prev := RateToAmount(0)
	for rate := 0.25; rate <= 5000; rate *= 1.5 {
		got := RateToAmount(rate)
		assert.GreaterOrEqual(t, got, prev, "rate %g", rate)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.Less(t, got, 1.0)
		prev = got
	}
}

func TestClampFraction(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
		ok   bool
	}{
		{0, 0, true},
		{0.5, 0.5, true},
		{1, 1, true},
		{-0.1, 0, false},
		{1.7, 1, false},
		{math.NaN(), 0, false},
	}
	for _, tt := range tests {
		got, ok := clampFraction(tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.ok, ok)
	}
}
