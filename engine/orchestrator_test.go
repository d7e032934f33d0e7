package engine

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellgrowth/components"
	"github.com/pthm-cable/cellgrowth/config"
)

// pairTessellator returns two unit squares sharing the edge x=0.5,
// regardless of where the generators sit.
type pairTessellator struct {
	calls int
	err   error
}

func (p *pairTessellator) Tessellate(points []r3.Vec) ([]components.Polygon, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return []components.Polygon{
		{{X: -0.5, Y: -0.5}, {X: 0.5, Y: -0.5}, {X: 0.5, Y: 0.5}, {X: -0.5, Y: 0.5}},
		{{X: 0.5, Y: -0.5}, {X: 1.5, Y: -0.5}, {X: 1.5, Y: 0.5}, {X: 0.5, Y: 0.5}},
	}, nil
}

func pairPoints() []r3.Vec {
	return []r3.Vec{{X: 0}, {X: 1}}
}

func newPairOrchestrator(t *testing.T, cfg *config.Config) (*Orchestrator, *pairTessellator) {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	tess := &pairTessellator{}
	o := New(cfg, tess)
	if err := o.Load(pairPoints()); err != nil {
		t.Fatal(err)
	}
	return o, tess
}

// With the default threshold of 5: 10 grows, 0 shrinks, 5 is inactive.
func TestGrowingCellPushesNeighborAway(t *testing.T) {
	o, _ := newPairOrchestrator(t, nil)

	res, err := o.RunToEquilibrium([]float64{10, 5})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Equilibrium || !res.Stats.EquilibriumReached {
		t.Errorf("outcome = %v, want equilibrium", res.Outcome)
	}
	if res.Stats.ActivePoints != 1 || res.Stats.GrowingPoints != 1 {
		t.Errorf("stats = %+v, want one growing cell", res.Stats)
	}
	if res.Points[0].X >= 0 {
		t.Errorf("growing cell moved to %v, want recoil in -x", res.Points[0])
	}
	if res.Points[1].X <= 1 {
		t.Errorf("neighbor moved to %v, want pushed in +x", res.Points[1])
	}
	if res.Stats.NeighborEdges != 1 {
		t.Errorf("NeighborEdges = %d, want 1", res.Stats.NeighborEdges)
	}
	if o.State() != Idle {
		t.Errorf("state after cycle = %v, want idle", o.State())
	}
}

func TestShrinkingCellPullsNeighborIn(t *testing.T) {
	o, _ := newPairOrchestrator(t, nil)

	res, err := o.RunToEquilibrium([]float64{0, 5})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stats.ShrinkingPoints != 1 {
		t.Errorf("ShrinkingPoints = %d, want 1", res.Stats.ShrinkingPoints)
	}
	dist := r3.Norm(r3.Sub(res.Points[1], res.Points[0]))
	if dist >= 1 {
		t.Errorf("distance = %v, want < 1", dist)
	}
}

func TestOpposedRatesCancel(t *testing.T) {
	o, _ := newPairOrchestrator(t, nil)

	res, err := o.RunToEquilibrium([]float64{10, 0})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stats.ActivePoints != 2 {
		t.Fatalf("ActivePoints = %d, want 2", res.Stats.ActivePoints)
	}
	for i, p := range res.Points {
		if p != pairPoints()[i] {
			t.Errorf("point %d moved to %v", i, p)
		}
	}
	if res.Outcome != Equilibrium {
		t.Errorf("outcome = %v, want equilibrium", res.Outcome)
	}
}

func TestZeroSignalsLeavePointsUnchanged(t *testing.T) {
	o, tess := newPairOrchestrator(t, nil)

	res, err := o.RunToEquilibrium([]float64{5, 5})
	if err != nil {
		t.Fatal(err)
	}
	if tess.calls != 0 {
		t.Errorf("tessellator called %d times with no active cells", tess.calls)
	}
	if res.Stats.MaxDisplacement != 0 || res.Outcome != Equilibrium {
		t.Errorf("stats = %+v outcome = %v", res.Stats, res.Outcome)
	}
	for i, p := range o.Points() {
		if p != pairPoints()[i] {
			t.Errorf("point %d moved to %v", i, p)
		}
	}
}

func TestStepBudgetExhausted(t *testing.T) {
	cfg := config.Default()
	cfg.Physics.EquilibriumPrecision = 1e-12
	cfg.Physics.MaxPhysicsSteps = 5
	o, tess := newPairOrchestrator(t, cfg)

	res, err := o.RunToEquilibrium([]float64{10, 5})
	if err != nil {
		t.Fatalf("budget exhaustion must not be an error: %v", err)
	}
	if res.Outcome != StepBudgetExhausted || res.Stats.EquilibriumReached {
		t.Errorf("outcome = %v, want step budget exhausted", res.Outcome)
	}
	if res.Stats.PhysicsSteps != 5 {
		t.Errorf("PhysicsSteps = %d, want 5", res.Stats.PhysicsSteps)
	}
	// Neighbors are rebuilt every sub-step
	if tess.calls != 5 {
		t.Errorf("tessellator calls = %d, want 5", tess.calls)
	}
	if res.Points[1].X <= 1 {
		t.Errorf("partial progress lost: %v", res.Points[1])
	}
}

func TestStepSkipsWithoutScores(t *testing.T) {
	o, tess := newPairOrchestrator(t, nil)

	for _, scores := range [][]float64{nil, {}} {
		res, err := o.Step(scores)
		if err != nil {
			t.Fatalf("Step(%v) error: %v", scores, err)
		}
		if !res.Skipped || res.Stats.PhysicsSteps != 0 {
			t.Errorf("Step(%v) = %+v, want skipped", scores, res)
		}
		if len(res.Points) != 2 || res.Points[1] != pairPoints()[1] {
			t.Errorf("skipped cycle changed points: %v", res.Points)
		}
	}
	if tess.calls != 0 {
		t.Errorf("tessellator called on a skipped cycle")
	}
}

func TestStepModeDispatch(t *testing.T) {
	tests := []struct {
		mode      config.StepMode
		wantSteps int
	}{
		{config.StepManual, 1},
		{config.StepAuto, 1},        // settles after the first sub-step at default precision
		{config.StepEquilibrium, 1}, // same
		{config.StepContinuous, 10}, // fixed batch, no early exit
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			cfg := config.Default()
			cfg.Stepping.Mode = tt.mode
			cfg.Stepping.PhysicsStepsPerAnalysis = 10
			o, _ := newPairOrchestrator(t, cfg)

			res, err := o.Step([]float64{10, 5})
			if err != nil {
				t.Fatal(err)
			}
			if res.Stats.PhysicsSteps != tt.wantSteps {
				t.Errorf("PhysicsSteps = %d, want %d", res.Stats.PhysicsSteps, tt.wantSteps)
			}
		})
	}
}

func TestManualStepsAccumulate(t *testing.T) {
	cfg := config.Default()
	cfg.Stepping.Mode = config.StepManual
	o, _ := newPairOrchestrator(t, cfg)

	prev := 1.0
	for i := 0; i < 3; i++ {
		res, err := o.Step([]float64{10, 5})
		if err != nil {
			t.Fatal(err)
		}
		if res.Points[1].X <= prev {
			t.Fatalf("step %d: x = %v, want > %v", i, res.Points[1].X, prev)
		}
		prev = res.Points[1].X
	}
}

func TestManualStepsMatchBatch(t *testing.T) {
	const steps = 4
	scores := []float64{10, 5}

	cfg := config.Default()
	cfg.Stepping.PhysicsStepsPerAnalysis = steps
	manual, _ := newPairOrchestrator(t, cfg)
	batch, _ := newPairOrchestrator(t, cfg)

	var last Result
	for i := 0; i < steps; i++ {
		res, err := manual.StepOnce(scores)
		if err != nil {
			t.Fatal(err)
		}
		last = res
	}
	want, err := batch.RunBatch(scores)
	if err != nil {
		t.Fatal(err)
	}

	if last.Stats.PhysicsSteps != steps {
		t.Errorf("PhysicsSteps = %d, want %d accumulated", last.Stats.PhysicsSteps, steps)
	}
	for i := range want.Points {
		if r3.Norm(r3.Sub(last.Points[i], want.Points[i])) > 1e-12 {
			t.Errorf("point %d: manual %v, batch %v", i, last.Points[i], want.Points[i])
		}
	}
}

func TestManualStepRestartsOnNewScores(t *testing.T) {
	o, _ := newPairOrchestrator(t, nil)

	for i := 0; i < 2; i++ {
		if _, err := o.StepOnce([]float64{10, 5}); err != nil {
			t.Fatal(err)
		}
	}
	res, err := o.StepOnce([]float64{0, 5})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stats.PhysicsSteps != 1 || res.Stats.ShrinkingPoints != 1 {
		t.Errorf("stats = %+v, want a fresh one-step cycle with one shrinking cell", res.Stats)
	}

	if _, err := o.RunToEquilibrium([]float64{0, 5}); err != nil {
		t.Fatal(err)
	}
	res, err = o.StepOnce([]float64{0, 5})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stats.PhysicsSteps != 1 {
		t.Errorf("PhysicsSteps = %d after an auto cycle, want 1", res.Stats.PhysicsSteps)
	}
}

func TestTessellatorErrorPropagates(t *testing.T) {
	boom := errors.New("degenerate input")
	o, tess := newPairOrchestrator(t, nil)
	tess.err = boom

	if _, err := o.RunToEquilibrium([]float64{10, 5}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapping %v", err, boom)
	}
	if o.State() != Idle {
		t.Errorf("state after failure = %v, want idle", o.State())
	}
}

func TestMissingTessellator(t *testing.T) {
	o := New(config.Default(), nil)
	if err := o.Load(pairPoints()); err != nil {
		t.Fatal(err)
	}
	if _, err := o.StepOnce([]float64{10, 5}); !errors.Is(err, ErrNoTessellator) {
		t.Errorf("err = %v, want ErrNoTessellator", err)
	}
	// No active cells never needs one
	if _, err := o.StepOnce([]float64{5, 5}); err != nil {
		t.Errorf("inactive cycle failed: %v", err)
	}
}

func TestOnCycleHook(t *testing.T) {
	o, _ := newPairOrchestrator(t, nil)

	var got []Result
	o.SetOnCycle(func(r Result) { got = append(got, r) })

	if _, err := o.RunToEquilibrium([]float64{10, 5}); err != nil {
		t.Fatal(err)
	}
	if _, err := o.RunToEquilibrium(nil); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Skipped || !got[1].Skipped {
		t.Errorf("hook results = %+v", got)
	}
}

func TestResultRecord(t *testing.T) {
	o, _ := newPairOrchestrator(t, nil)

	res, err := o.RunToEquilibrium([]float64{10, 5})
	if err != nil {
		t.Fatal(err)
	}
	rec := res.Record(7, "auto")
	if rec.Cycle != 7 || rec.StepMode != "auto" || rec.Outcome != "equilibrium" {
		t.Errorf("record = %+v", rec)
	}
	if rec.NumPoints != 2 || rec.ActivePoints != 1 || rec.PhysicsSteps != 1 {
		t.Errorf("record counts = %+v", rec)
	}
	if rec.DisplacementMean <= 0 || rec.DisplacementP90 < rec.DisplacementP50 {
		t.Errorf("displacement summary = %v/%v/%v", rec.DisplacementMean, rec.DisplacementP50, rec.DisplacementP90)
	}
}

func TestResultIsACopy(t *testing.T) {
	o, _ := newPairOrchestrator(t, nil)

	res, err := o.RunToEquilibrium([]float64{10, 5})
	if err != nil {
		t.Fatal(err)
	}
	res.Points[0] = r3.Vec{X: 99}
	if o.Points()[0].X == 99 {
		t.Error("Result.Points aliases the orchestrator buffer")
	}
}

func TestFlatBuffers(t *testing.T) {
	flatTess := FlatTessellatorFunc(func(flat []float64) ([][]float64, error) {
		if len(flat) != 6 {
			t.Errorf("flat generators = %v", flat)
		}
		return [][]float64{
			{-0.5, -0.5, 0, 0.5, -0.5, 0, 0.5, 0.5, 0, -0.5, 0.5, 0},
			{0.5, -0.5, 0, 1.5, -0.5, 0, 1.5, 0.5, 0, 0.5, 0.5, 0},
		}, nil
	})
	o := New(config.Default(), flatTess)

	if err := o.LoadFlat([]float64{0, 0, 0, 1}); !errors.Is(err, components.ErrFlatBufferStride) {
		t.Errorf("LoadFlat with bad stride: err = %v", err)
	}
	if err := o.LoadFlat([]float64{0, 0, 0, 1, 0, 0}); err != nil {
		t.Fatal(err)
	}

	if _, err := o.RunToEquilibrium([]float64{10, 5}); err != nil {
		t.Fatal(err)
	}
	out := o.AppendFlat(nil)
	if len(out) != 6 || out[0] >= 0 || out[3] <= 1 {
		t.Errorf("flat positions = %v", out)
	}
}

func TestMixedPolygonSources(t *testing.T) {
	tess := SourceTessellatorFunc(func(points []r3.Vec) ([]components.VertexSource, error) {
		return []components.VertexSource{
			components.FlatPolygon{-0.5, -0.5, 0, 0.5, -0.5, 0, 0.5, 0.5, 0, -0.5, 0.5, 0},
			components.Cell{Index: 1, Verts: []r3.Vec{{X: 0.5, Y: -0.5}, {X: 1.5, Y: -0.5}, {X: 1.5, Y: 0.5}, {X: 0.5, Y: 0.5}}},
		}, nil
	})
	o := New(config.Default(), tess)
	if err := o.Load(pairPoints()); err != nil {
		t.Fatal(err)
	}

	res, err := o.RunToEquilibrium([]float64{10, 5})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stats.NeighborEdges != 1 || res.Points[1].X <= 1 {
		t.Errorf("mixed sources: %+v %v", res.Stats, res.Points)
	}
}

func TestEquilibriumTermination(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64 // threshold 5: 10 -> +1, 0 -> -1, 5 -> inactive
		check  func(dist float64) bool
	}{
		{"growing pushes apart", []float64{10, 5}, func(d float64) bool { return d > 1 }},
		{"shrinking pulls together", []float64{0, 5}, func(d float64) bool { return d < 1 }},
		{"opposed rates cancel", []float64{10, 0}, func(d float64) bool { return d == 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Growth.BaseGrowthRate = 1
			cfg.Physics.ForceStrength = 1
			cfg.Physics.Damping = 0.8
			cfg.Physics.MaxPhysicsSteps = 100
			cfg.Physics.EquilibriumPrecision = 0.001
			o, _ := newPairOrchestrator(t, cfg)

			res, err := o.RunToEquilibrium(tt.scores)
			if err != nil {
				t.Fatal(err)
			}
			if !res.Stats.EquilibriumReached || res.Stats.PhysicsSteps >= 100 {
				t.Errorf("equilibrium=%v after %d steps", res.Stats.EquilibriumReached, res.Stats.PhysicsSteps)
			}
			dist := r3.Norm(r3.Sub(res.Points[1], res.Points[0]))
			if !tt.check(dist) {
				t.Errorf("distance = %v", dist)
			}
		})
	}
}
