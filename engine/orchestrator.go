// Package engine sequences growth signals, neighbor detection, pairwise forces
// and integration into growth cycles, and drives those cycles in manual,
// auto/equilibrium or continuous stepping modes.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellgrowth/components"
	"github.com/pthm-cable/cellgrowth/config"
	"github.com/pthm-cable/cellgrowth/systems"
	"github.com/pthm-cable/cellgrowth/telemetry"
)

// Orchestrator owns the point buffer and all per-cycle state. Only one cycle
// is active at a time; synchronous calls fail with ErrBusy while continuous
// mode runs.
type Orchestrator struct {
	mu sync.Mutex

	cfg  *config.Config
	tess Tessellator
	perf *telemetry.PerfCollector

	points    []r3.Vec
	growth    *systems.GrowthCalculator
	rates     systems.GrowthRates
	neighbors *systems.NeighborBuilder
	graph     *systems.NeighborGraph
	field     systems.ForceField
	integ     *systems.Integrator

	state    State
	batch    Stats
	forceSum float64
	onCycle  func(Result)

	// Manual mode keeps the cycle open while the scores repeat
	manualOpen   bool
	manualScores []float64

	// Continuous mode
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	subStep int
	cached  bool // growth signals loaded for the current batch
	err     error
	latest  Result
	hasLast bool
}

// New creates an orchestrator. tess may be nil for callers that only need
// growth signals; any physics step then fails with ErrNoTessellator.
func New(cfg *config.Config, tess Tessellator) *Orchestrator {
	return &Orchestrator{
		cfg:  cfg,
		tess: tess,
		field: systems.ForceField{
			Strength:    cfg.Physics.ForceStrength,
			MaxForce:    cfg.Physics.MaxForce,
			MinDistance: cfg.Physics.MinDistance,
		},
		growth:    systems.NewGrowthCalculator(),
		neighbors: systems.NewNeighborBuilder(cfg.Derived.Tolerance, cfg.Neighbors.MinShared),
		integ:     systems.NewIntegrator(0, cfg.Physics.Damping),
	}
}

// SetPerf attaches a perf collector; each cycle or continuous batch is one sample.
func (o *Orchestrator) SetPerf(p *telemetry.PerfCollector) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.perf = p
}

// SetOnCycle registers a callback for every completed cycle or continuous
// batch. It runs without the orchestrator lock held.
func (o *Orchestrator) SetOnCycle(fn func(Result)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onCycle = fn
}

// Config returns the configuration the orchestrator was built with.
func (o *Orchestrator) Config() *config.Config { return o.cfg }

// Load replaces the point buffer and clears all motion state.
func (o *Orchestrator) Load(points []r3.Vec) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrBusy
	}
	o.loadLocked(points)
	return nil
}

// LoadFlat replaces the point buffer from x0,y0,z0,x1,... values.
func (o *Orchestrator) LoadFlat(buf []float64) error {
	points, err := components.PointsFromFlat(buf)
	if err != nil {
		return err
	}
	return o.Load(points)
}

func (o *Orchestrator) loadLocked(points []r3.Vec) {
	o.points = components.ClonePoints(points)
	o.integ.Resize(len(o.points))
	o.integ.Reset()
	o.rates.Reset(len(o.points))
	o.graph = nil
	o.state = Idle
	o.manualOpen = false
}

// Points returns a copy of the current positions.
func (o *Orchestrator) Points() []r3.Vec {
	o.mu.Lock()
	defer o.mu.Unlock()
	return components.ClonePoints(o.points)
}

// AppendFlat appends the current positions to dst as x0,y0,z0,x1,...
func (o *Orchestrator) AppendFlat(dst []float64) []float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append(dst, components.FlattenPoints(nil, o.points)...)
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Step runs one external step in the configured stepping mode: one sub-step
// for manual, a full converge-or-exhaust cycle for auto and equilibrium, and
// one fixed batch of physics_steps_per_analysis sub-steps for continuous.
func (o *Orchestrator) Step(scores []float64) (Result, error) {
	switch o.cfg.Stepping.Mode {
	case config.StepManual:
		return o.StepOnce(scores)
	case config.StepContinuous:
		return o.RunBatch(scores)
	default:
		return o.RunToEquilibrium(scores)
	}
}

// StepOnce executes exactly one sub-step. When scores match the previous
// StepOnce call, the open cycle continues: velocities carry over and Stats
// accumulate, so N calls move the points like one N-step batch. Different
// scores, a Load, or any other kind of step start a fresh cycle.
func (o *Orchestrator) StepOnce(scores []float64) (Result, error) {
	return o.cycle(scores, 1, true, true)
}

// RunToEquilibrium starts a cycle from scores and steps until the largest
// displacement drops below the configured precision or the step budget runs out.
// Running out of budget is not an error: the partially settled positions are returned.
func (o *Orchestrator) RunToEquilibrium(scores []float64) (Result, error) {
	return o.cycle(scores, o.cfg.Physics.MaxPhysicsSteps, true, false)
}

// RunBatch starts a cycle from scores and executes a fixed number of
// sub-steps without stopping early.
func (o *Orchestrator) RunBatch(scores []float64) (Result, error) {
	return o.cycle(scores, o.cfg.Stepping.PhysicsStepsPerAnalysis, false, false)
}

func (o *Orchestrator) cycle(scores []float64, budget int, untilSettled, manual bool) (Result, error) {
	res, hook, err := o.cycleLocked(scores, budget, untilSettled, manual)
	if err != nil {
		return Result{}, err
	}
	if hook != nil {
		hook(res)
	}
	return res, nil
}

func (o *Orchestrator) cycleLocked(scores []float64, budget int, untilSettled, manual bool) (Result, func(Result), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return Result{}, nil, ErrBusy
	}
	resume := manual && o.manualOpen && slices.Equal(scores, o.manualScores)
	o.manualOpen = false
	if len(scores) == 0 {
		slog.Warn("no scores available, skipping growth cycle", "points", len(o.points))
		return Result{Points: components.ClonePoints(o.points), Outcome: Idle, Skipped: true}, o.onCycle, nil
	}

	o.perf.StartCycle()
	if resume {
		budget += o.batch.PhysicsSteps
	} else {
		o.beginCycleLocked(scores)
	}
	outcome, err := o.stepLoopLocked(budget, untilSettled)
	o.perf.EndCycle()
	if err != nil {
		o.state = Idle
		return Result{}, nil, err
	}
	if manual {
		o.manualOpen = true
		o.manualScores = append(o.manualScores[:0], scores...)
	}

	res := o.resultLocked(outcome)
	o.state = Idle

	slog.Debug("growth cycle complete",
		"outcome", outcome.String(),
		"resumed", resume,
		"physics_steps", res.Stats.PhysicsSteps,
		"active", res.Stats.ActivePoints,
		"max_displacement", res.Stats.MaxDisplacement,
	)
	return res, o.onCycle, nil
}

// beginCycleLocked clears motion state and loads fresh growth rates.
func (o *Orchestrator) beginCycleLocked(scores []float64) {
	o.state = Analyzing
	o.perf.StartPhase(telemetry.PhaseAnalyze)

	n := len(o.points)
	o.integ.Resize(n)
	o.integ.Reset()

	sig := o.growth.Compute(scores, n, o.cfg.Growth)
	o.rates.Load(sig)
	if o.graph != nil {
		o.graph.Invalidate()
	}

	o.batch = Stats{
		ActivePoints:    len(sig.Active),
		GrowingPoints:   sig.Growing,
		ShrinkingPoints: sig.Shrinking,
	}
	o.forceSum = 0
}

// stepLoopLocked runs sub-steps until budget, or until settled if untilSettled.
func (o *Orchestrator) stepLoopLocked(budget int, untilSettled bool) (State, error) {
	for o.batch.PhysicsSteps < budget {
		if _, err := o.subStepLocked(); err != nil {
			return Idle, err
		}
		if o.batch.EquilibriumReached && untilSettled {
			break
		}
	}
	if o.batch.EquilibriumReached {
		o.state = Equilibrium
	} else {
		o.state = StepBudgetExhausted
	}
	return o.state, nil
}

// subStepLocked rebuilds adjacency, accumulates forces and integrates once.
// Every force is accumulated before any position moves.
func (o *Orchestrator) subStepLocked() (systems.StepResult, error) {
	o.state = Stepping
	o.integ.ClearForces()

	if o.batch.ActivePoints > 0 {
		if o.tess == nil {
			return systems.StepResult{}, ErrNoTessellator
		}

		o.perf.StartPhase(telemetry.PhaseTessellate)
		polys, err := o.tess.Tessellate(o.points)
		if err != nil {
			return systems.StepResult{}, fmt.Errorf("tessellating %d points: %w", len(o.points), err)
		}

		o.perf.StartPhase(telemetry.PhaseNeighbors)
		o.graph = o.neighbors.Build(polys)

		o.perf.StartPhase(telemetry.PhaseForces)
		if _, err := o.field.Accumulate(o.points, o.rates.Slice(), o.graph, o.integ.Forces()); err != nil {
			return systems.StepResult{}, fmt.Errorf("accumulating forces: %w", err)
		}
	}

	o.perf.StartPhase(telemetry.PhaseIntegrate)
	step := o.integ.Step(o.points, o.cfg.Derived.DT)
	if o.graph != nil {
		o.graph.Invalidate()
	}

	o.batch.PhysicsSteps++
	o.batch.MaxDisplacement = step.MaxDisplacement
	o.batch.TotalDisplacement += step.TotalDisplacement
	o.forceSum += step.AverageForce
	o.batch.AverageForce = o.forceSum / float64(o.batch.PhysicsSteps)
	o.batch.EquilibriumReached = step.MaxDisplacement < o.cfg.Physics.EquilibriumPrecision
	if o.graph != nil {
		o.batch.NeighborEdges = o.graph.EdgeCount()
	}
	return step, nil
}

func (o *Orchestrator) resultLocked(outcome State) Result {
	disp := o.integ.Displacements()
	return Result{
		Points:        components.ClonePoints(o.points),
		Stats:         o.batch,
		Outcome:       outcome,
		displacements: append([]float64(nil), disp[:min(len(disp), len(o.points))]...),
	}
}
