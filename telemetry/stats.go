// Package telemetry records per-cycle statistics and timing for the growth engine.
package telemetry

import (
	"log/slog"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// CycleRecord is one row of cycles.csv.
type CycleRecord struct {
	Cycle     int    `csv:"cycle"`
	StepMode  string `csv:"step_mode"`
	Outcome   string `csv:"outcome"`
	Skipped   bool   `csv:"skipped"`
	NumPoints int    `csv:"points"`

	// Growth signal counts
	ActivePoints    int `csv:"active"`
	GrowingPoints   int `csv:"growing"`
	ShrinkingPoints int `csv:"shrinking"`

	// Physics resolution
	PhysicsSteps       int     `csv:"physics_steps"`
	EquilibriumReached bool    `csv:"equilibrium"`
	MaxDisplacement    float64 `csv:"max_displacement"`
	TotalDisplacement  float64 `csv:"total_displacement"`
	AverageForce       float64 `csv:"average_force"`
	NeighborEdges      int     `csv:"neighbor_edges"`

	// Distribution of last sub-step displacements
	DisplacementMean float64 `csv:"disp_mean"`
	DisplacementP50  float64 `csv:"disp_p50"`
	DisplacementP90  float64 `csv:"disp_p90"`
}

// LogValue implements slog.LogValuer for structured logging.
func (r CycleRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("cycle", r.Cycle),
		slog.String("step_mode", r.StepMode),
		slog.String("outcome", r.Outcome),
		slog.Bool("skipped", r.Skipped),
		slog.Int("active", r.ActivePoints),
		slog.Int("growing", r.GrowingPoints),
		slog.Int("shrinking", r.ShrinkingPoints),
		slog.Int("physics_steps", r.PhysicsSteps),
		slog.Bool("equilibrium", r.EquilibriumReached),
		slog.Float64("max_displacement", r.MaxDisplacement),
		slog.Float64("total_displacement", r.TotalDisplacement),
		slog.Float64("average_force", r.AverageForce),
	)
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// SummarizeDisplacements returns the mean and median/p90 of per-cell displacements.
func SummarizeDisplacements(values []float64) (mean, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}

	mean = stat.Mean(values, nil)

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, p50, p90
}
