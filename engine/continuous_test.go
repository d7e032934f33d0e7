package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellgrowth/config"
	"github.com/pthm-cable/cellgrowth/telemetry"
)

func continuousConfig(steps int) *config.Config {
	cfg := config.Default()
	cfg.Stepping.Mode = config.StepContinuous
	cfg.Stepping.PhysicsStepsPerAnalysis = steps
	cfg.Stepping.Interval = 0
	return cfg
}

// waitDone fails the test if the loop does not exit in time.
func waitDone(t *testing.T, o *Orchestrator) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		o.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("continuous loop did not exit")
	}
}

func TestContinuousAnalyzesEveryBatch(t *testing.T) {
	o, tess := newPairOrchestrator(t, continuousConfig(3))

	var analyses atomic.Int32
	var batches []Result
	o.SetOnCycle(func(r Result) {
		batches = append(batches, r)
		if len(batches) == 2 {
			o.Stop()
		}
	})

	err := o.Start(context.Background(), nil, func(ctx context.Context, pts []r3.Vec) ([]float64, error) {
		analyses.Add(1)
		return []float64{10, 5}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, o)

	if got := analyses.Load(); got != 2 {
		t.Errorf("analysis calls = %d, want 2", got)
	}
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	for i, b := range batches {
		if b.Stats.PhysicsSteps != 3 || !b.Outcome.Terminal() {
			t.Errorf("batch %d = %+v outcome %v", i, b.Stats, b.Outcome)
		}
	}
	if tess.calls != 6 {
		t.Errorf("tessellator calls = %d, want 6", tess.calls)
	}
	if o.Running() || o.Err() != nil {
		t.Errorf("Running=%v Err=%v after Stop", o.Running(), o.Err())
	}
	if o.State() != Idle {
		t.Errorf("state = %v, want idle", o.State())
	}
}

func TestContinuousAnalysisSeesCurrentPoints(t *testing.T) {
	o, _ := newPairOrchestrator(t, continuousConfig(2))

	var mu sync.Mutex
	var seen [][]r3.Vec
	err := o.Start(context.Background(), nil, func(ctx context.Context, pts []r3.Vec) ([]float64, error) {
		mu.Lock()
		seen = append(seen, pts)
		n := len(seen)
		mu.Unlock()
		if n == 3 {
			o.Stop()
		}
		return []float64{10, 5}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, o)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("analysis calls = %d, want 3", len(seen))
	}
	if seen[0][1].X != 1 {
		t.Errorf("first analysis saw %v, want initial points", seen[0])
	}
	if seen[1][1].X <= seen[0][1].X || seen[2][1].X <= seen[1][1].X {
		t.Errorf("analysis did not see advancing positions: %v", seen)
	}
}

func TestContinuousStopIsIdempotent(t *testing.T) {
	o, _ := newPairOrchestrator(t, continuousConfig(1))

	// Idle
	o.Stop()
	o.Stop()
	o.Wait()

	err := o.Start(context.Background(), nil, func(ctx context.Context, pts []r3.Vec) ([]float64, error) {
		return []float64{10, 5}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	o.Stop()
	o.Stop()
	waitDone(t, o)
	o.Stop()

	if o.Running() {
		t.Error("still running after Stop")
	}
}

func TestContinuousNoWorkAfterStop(t *testing.T) {
	o, _ := newPairOrchestrator(t, continuousConfig(1))

	err := o.Start(context.Background(), nil, func(ctx context.Context, pts []r3.Vec) ([]float64, error) {
		return []float64{10, 5}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	o.Stop()
	waitDone(t, o)

	before := o.Points()
	time.Sleep(20 * time.Millisecond)
	after := o.Points()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("point %d moved after Stop: %v -> %v", i, before[i], after[i])
		}
	}
}

func TestContinuousAnalysisError(t *testing.T) {
	boom := errors.New("scorer unavailable")
	o, _ := newPairOrchestrator(t, continuousConfig(1))

	err := o.Start(context.Background(), nil, func(ctx context.Context, pts []r3.Vec) ([]float64, error) {
		return nil, boom
	})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, o)

	if !errors.Is(o.Err(), boom) {
		t.Errorf("Err() = %v, want wrapping %v", o.Err(), boom)
	}
	if o.Running() {
		t.Error("still running after analysis failure")
	}
}

func TestContinuousAnalysisPanic(t *testing.T) {
	o, _ := newPairOrchestrator(t, continuousConfig(1))

	err := o.Start(context.Background(), nil, func(ctx context.Context, pts []r3.Vec) ([]float64, error) {
		panic("scorer exploded")
	})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, o)

	if o.Err() == nil || !strings.Contains(o.Err().Error(), "panicked") {
		t.Errorf("Err() = %v, want panic error", o.Err())
	}
	if o.Running() {
		t.Error("still running after analysis panic")
	}
}

func TestContinuousStopDuringAnalysis(t *testing.T) {
	o, _ := newPairOrchestrator(t, continuousConfig(1))

	entered := make(chan struct{})
	err := o.Start(context.Background(), nil, func(ctx context.Context, pts []r3.Vec) ([]float64, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}
	<-entered

	if _, err := o.Step([]float64{10, 5}); !errors.Is(err, ErrBusy) {
		t.Errorf("Step while running: err = %v, want ErrBusy", err)
	}
	if err := o.Load(pairPoints()); !errors.Is(err, ErrBusy) {
		t.Errorf("Load while running: err = %v, want ErrBusy", err)
	}

	o.Stop()
	waitDone(t, o)

	// Cancellation is not a failure
	if o.Err() != nil {
		t.Errorf("Err() = %v after Stop, want nil", o.Err())
	}
	for i, p := range o.Points() {
		if p != pairPoints()[i] {
			t.Errorf("point %d moved to %v", i, p)
		}
	}
}

func TestContinuousParentCancel(t *testing.T) {
	o, _ := newPairOrchestrator(t, continuousConfig(1))

	ctx, cancel := context.WithCancel(context.Background())
	err := o.Start(ctx, nil, func(ctx context.Context, pts []r3.Vec) ([]float64, error) {
		return []float64{10, 5}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	waitDone(t, o)

	if o.Running() {
		t.Error("still running after parent context cancelled")
	}
	// Synchronous stepping is available again
	if _, err := o.StepOnce([]float64{10, 5}); err != nil {
		t.Errorf("StepOnce after cancel: %v", err)
	}
}

func TestContinuousStartErrors(t *testing.T) {
	analyze := func(ctx context.Context, pts []r3.Vec) ([]float64, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	o, _ := newPairOrchestrator(t, continuousConfig(1))
	if err := o.Start(context.Background(), nil, nil); !errors.Is(err, ErrNoAnalysis) {
		t.Errorf("nil analysis: err = %v, want ErrNoAnalysis", err)
	}

	bare := New(continuousConfig(1), nil)
	if err := bare.Start(context.Background(), pairPoints(), analyze); !errors.Is(err, ErrNoTessellator) {
		t.Errorf("nil tessellator: err = %v, want ErrNoTessellator", err)
	}

	if err := o.Start(context.Background(), nil, analyze); err != nil {
		t.Fatal(err)
	}
	if err := o.Start(context.Background(), nil, analyze); !errors.Is(err, ErrBusy) {
		t.Errorf("second Start: err = %v, want ErrBusy", err)
	}
	o.Stop()
	waitDone(t, o)
}

func TestContinuousSkipsEmptyScores(t *testing.T) {
	o, _ := newPairOrchestrator(t, continuousConfig(1))

	var calls atomic.Int32
	var batches atomic.Int32
	o.SetOnCycle(func(r Result) {
		batches.Add(1)
		o.Stop()
	})

	err := o.Start(context.Background(), nil, func(ctx context.Context, pts []r3.Vec) ([]float64, error) {
		if calls.Add(1) == 1 {
			return nil, nil
		}
		return []float64{10, 5}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, o)

	if calls.Load() != 2 || batches.Load() != 1 {
		t.Errorf("calls=%d batches=%d, want 2 and 1", calls.Load(), batches.Load())
	}
	if o.Err() != nil {
		t.Errorf("Err() = %v", o.Err())
	}
}

func TestContinuousSnapshot(t *testing.T) {
	o, _ := newPairOrchestrator(t, continuousConfig(4))
	if _, ok := o.Snapshot(); ok {
		t.Error("snapshot available before any run")
	}

	o.SetOnCycle(func(r Result) { o.Stop() })
	err := o.Start(context.Background(), nil, func(ctx context.Context, pts []r3.Vec) ([]float64, error) {
		return []float64{10, 5}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, o)

	snap, ok := o.Snapshot()
	if !ok || snap.Stats.PhysicsSteps != 4 {
		t.Errorf("snapshot = %+v, %v", snap.Stats, ok)
	}
}

func TestContinuousPerfExcludesInterval(t *testing.T) {
	cfg := continuousConfig(5)
	cfg.Stepping.Interval = 20 * time.Millisecond
	o, _ := newPairOrchestrator(t, cfg)
	perf := telemetry.NewPerfCollector(4)
	o.SetPerf(perf)
	o.SetOnCycle(func(Result) { o.Stop() })

	err := o.Start(context.Background(), nil, func(ctx context.Context, pts []r3.Vec) ([]float64, error) {
		return []float64{10, 5}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, o)

	stats := perf.Stats()
	if stats.Samples != 1 {
		t.Fatalf("samples = %d, want one batch", stats.Samples)
	}
	// Four 20ms sleeps separate the five sub-steps.
	if stats.AvgCycle >= 10*time.Millisecond {
		t.Errorf("batch work = %v, interval sleeps were counted", stats.AvgCycle)
	}
	if got := stats.PhaseAvg[telemetry.PhaseIntegrate]; got >= 10*time.Millisecond {
		t.Errorf("integrate = %v, interval sleeps were charged to it", got)
	}
	if _, ok := stats.PhaseAvg[telemetry.PhaseForces]; !ok {
		t.Error("forces phase not timed")
	}
}
