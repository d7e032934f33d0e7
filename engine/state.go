package engine

import (
	"context"
	"errors"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellgrowth/components"
	"github.com/pthm-cable/cellgrowth/telemetry"
)

var (
	// ErrBusy is returned when a synchronous operation is requested while continuous mode runs.
	ErrBusy = errors.New("orchestrator is running in continuous mode")
	// ErrNoTessellator is returned when physics is requested without a tessellator.
	ErrNoTessellator = errors.New("no tessellator configured")
	// ErrNoAnalysis is returned when continuous mode is started without a callback.
	ErrNoAnalysis = errors.New("continuous mode requires an analysis callback")
)

// State is the orchestrator lifecycle position.
type State int32

const (
	Idle State = iota
	Analyzing
	Stepping
	Equilibrium         // Terminal: displacement fell below precision
	StepBudgetExhausted // Terminal: step cap reached first
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Analyzing:
		return "analyzing"
	case Stepping:
		return "stepping"
	case Equilibrium:
		return "equilibrium"
	case StepBudgetExhausted:
		return "step_budget_exhausted"
	}
	return "unknown"
}

// Terminal reports whether s ends a cycle.
func (s State) Terminal() bool {
	return s == Equilibrium || s == StepBudgetExhausted
}

// Tessellator produces one polygon per generator point, index-aligned.
type Tessellator interface {
	Tessellate(points []r3.Vec) ([]components.Polygon, error)
}

// TessellatorFunc adapts a function to Tessellator.
type TessellatorFunc func(points []r3.Vec) ([]components.Polygon, error)

// Tessellate implements Tessellator.
func (f TessellatorFunc) Tessellate(points []r3.Vec) ([]components.Polygon, error) {
	return f(points)
}

// SourceTessellatorFunc adapts a tessellator that returns mixed polygon
// representations, such as flat buffers alongside vertex lists.
type SourceTessellatorFunc func(points []r3.Vec) ([]components.VertexSource, error)

// Tessellate implements Tessellator.
func (f SourceTessellatorFunc) Tessellate(points []r3.Vec) ([]components.Polygon, error) {
	srcs, err := f(points)
	if err != nil {
		return nil, err
	}
	return components.Polygons(srcs), nil
}

// FlatTessellatorFunc adapts a tessellator that consumes x,y,z generator
// buffers and returns one flat vertex buffer per cell.
type FlatTessellatorFunc func(flat []float64) ([][]float64, error)

// Tessellate implements Tessellator.
func (f FlatTessellatorFunc) Tessellate(points []r3.Vec) ([]components.Polygon, error) {
	bufs, err := f(components.FlattenPoints(nil, points))
	if err != nil {
		return nil, err
	}
	return components.PolygonsFromFlat(bufs)
}

// AnalysisFunc fetches fresh scores for the given positions. It is called
// between continuous batches and may block; ctx is cancelled by Stop.
type AnalysisFunc func(ctx context.Context, points []r3.Vec) ([]float64, error)

// Stats summarises one cycle (or one continuous batch).
type Stats struct {
	ActivePoints       int
	GrowingPoints      int
	ShrinkingPoints    int
	MaxDisplacement    float64 // Max displacement of the final sub-step
	TotalDisplacement  float64 // Summed over every sub-step
	AverageForce       float64 // Mean over sub-steps of the per-step average
	PhysicsSteps       int
	EquilibriumReached bool
	NeighborEdges      int
}

// Result is what a cycle hands back to the caller.
type Result struct {
	Points  []r3.Vec
	Stats   Stats
	Outcome State
	Skipped bool // No scores were available; Points are the input unchanged

	displacements []float64
}

// Record converts the result into a telemetry row.
func (r Result) Record(cycle int, mode string) telemetry.CycleRecord {
	mean, p50, p90 := telemetry.SummarizeDisplacements(r.displacements)
	return telemetry.CycleRecord{
		Cycle:              cycle,
		StepMode:           mode,
		Outcome:            r.Outcome.String(),
		Skipped:            r.Skipped,
		NumPoints:          len(r.Points),
		ActivePoints:       r.Stats.ActivePoints,
		GrowingPoints:      r.Stats.GrowingPoints,
		ShrinkingPoints:    r.Stats.ShrinkingPoints,
		PhysicsSteps:       r.Stats.PhysicsSteps,
		EquilibriumReached: r.Stats.EquilibriumReached,
		MaxDisplacement:    r.Stats.MaxDisplacement,
		TotalDisplacement:  r.Stats.TotalDisplacement,
		AverageForce:       r.Stats.AverageForce,
		NeighborEdges:      r.Stats.NeighborEdges,
		DisplacementMean:   mean,
		DisplacementP50:    p50,
		DisplacementP90:    p90,
	}
}
