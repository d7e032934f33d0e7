// Package systems contains the per-cycle computations of the growth engine:
// growth signals, neighbor detection, pairwise forces and integration.
package systems

import (
	"log/slog"
	"math"

	"github.com/pthm-cable/cellgrowth/config"
)

// Direction is the sign a cell's growth rate takes.
type Direction int8

const (
	Inactive Direction = 0
	Grow     Direction = 1
	Shrink   Direction = -1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Grow:
		return "grow"
	case Shrink:
		return "shrink"
	}
	return "inactive"
}

// Classify applies the mode table to one score. A score equal to the
// threshold is always inactive.
func Classify(score, threshold float64, mode config.GrowthMode) (Direction, float64) {
	switch {
	case score > threshold:
		mag := score - threshold
		switch mode {
		case config.GrowOnly, config.GrowBoth:
			return Grow, mag
		case config.ShrinkOnly, config.ShrinkBoth:
			return Shrink, mag
		}
	case score < threshold:
		mag := threshold - score
		switch mode {
		case config.GrowBoth:
			return Shrink, mag
		case config.ShrinkBoth:
			return Grow, mag
		}
	}
	return Inactive, 0
}

// GrowthSignals is the output of one growth computation.
type GrowthSignals struct {
	Rates     []float64 // One per point; 0 = inactive
	Active    []int     // Indices with a non-zero rate, ascending
	Growing   int
	Shrinking int
}

// Rate returns the rate for index i, or 0 when out of range.
func (s *GrowthSignals) Rate(i int) float64 {
	if i < 0 || i >= len(s.Rates) {
		return 0
	}
	return s.Rates[i]
}

// GrowthCalculator maps scores into signed growth rates.
// Buffers are reused between calls.
type GrowthCalculator struct {
	signals GrowthSignals
}

// NewGrowthCalculator creates a growth calculator.
func NewGrowthCalculator() *GrowthCalculator {
	return &GrowthCalculator{}
}

// Compute derives growth rates for n points from scores. Missing scores
// count as 0. The returned signals are owned by the calculator and are
// overwritten by the next call.
func (c *GrowthCalculator) Compute(scores []float64, n int, cfg config.GrowthConfig) *GrowthSignals {
	s := &c.signals
	s.Rates = resizeFloats(s.Rates, n)
	s.Active = s.Active[:0]
	s.Growing = 0
	s.Shrinking = 0

	maxAbs := 0.0
	for i := 0; i < n; i++ {
		score := 0.0
		if i < len(scores) {
			score = scores[i]
		}

		dir, mag := Classify(score, cfg.Threshold, cfg.Mode)
		if dir == Inactive {
			s.Rates[i] = 0
			continue
		}

		raw := math.Pow(mag, cfg.GrowthPower) * float64(dir)
		if math.IsNaN(raw) || math.IsInf(raw, 0) {
			slog.Warn("non-finite growth signal, cell left inactive",
				"cell", i, "score", score, "power", cfg.GrowthPower)
			s.Rates[i] = 0
			continue
		}
		s.Rates[i] = raw
		if a := math.Abs(raw); a > maxAbs {
			maxAbs = a
		}
	}

	scale := cfg.BaseGrowthRate
	if cfg.Normalize && maxAbs > 0 {
		scale /= maxAbs
	}

	// Scaling can underflow tiny signals to zero; those cells drop out.
	for i := 0; i < n; i++ {
		r := s.Rates[i] * scale
		if r == 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			s.Rates[i] = 0
			continue
		}
		s.Rates[i] = r
		s.Active = append(s.Active, i)
		if r > 0 {
			s.Growing++
		} else {
			s.Shrinking++
		}
	}

	return s
}

// GrowthRates is index-addressed rate storage for the force subsystem.
// Writes past the end grow the storage instead of faulting.
type GrowthRates struct {
	rates []float64
}

// Len returns the number of stored rates.
func (g *GrowthRates) Len() int { return len(g.rates) }

// Get returns the rate at i, or 0 when out of range.
func (g *GrowthRates) Get(i int) float64 {
	if i < 0 || i >= len(g.rates) {
		return 0
	}
	return g.rates[i]
}

// Set stores rate at i, growing the storage on demand.
func (g *GrowthRates) Set(i int, rate float64) {
	if i < 0 {
		return
	}
	if i >= len(g.rates) {
		g.rates = resizeFloats(g.rates, i+1)
	}
	g.rates[i] = rate
}

// Reset zeroes every rate and sizes storage to n.
func (g *GrowthRates) Reset(n int) {
	g.rates = resizeFloats(g.rates, n)
	clear(g.rates)
}

// Load replaces the stored rates with the active rates in s.
func (g *GrowthRates) Load(s *GrowthSignals) {
	g.Reset(len(s.Rates))
	for _, i := range s.Active {
		g.Set(i, s.Rates[i])
	}
}

// Slice exposes the backing rates. Callers must not retain it across Reset.
func (g *GrowthRates) Slice() []float64 { return g.rates }

// resizeFloats returns s with length n, zeroing any newly exposed tail.
func resizeFloats(s []float64, n int) []float64 {
	if cap(s) >= n {
		old := len(s)
		s = s[:n]
		if n > old {
			clear(s[old:])
		}
		return s
	}
	grown := make([]float64, n)
	copy(grown, s)
	return grown
}
