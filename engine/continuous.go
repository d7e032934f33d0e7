package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellgrowth/components"
)

// Start launches continuous mode in a background goroutine. The loop calls
// analyze for fresh scores, runs physics_steps_per_analysis sub-steps on the
// resulting signals, then asks again. If points is non-nil it replaces the
// current buffer first.
//
// The loop ends when ctx is cancelled, Stop is called, analyze returns an
// error or panics, or a physics step fails. Err reports the failure, if any.
func (o *Orchestrator) Start(ctx context.Context, points []r3.Vec, analyze AnalysisFunc) error {
	if analyze == nil {
		return ErrNoAnalysis
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return ErrBusy
	}
	if o.tess == nil {
		return ErrNoTessellator
	}
	if points != nil {
		o.loadLocked(points)
	}

	o.manualOpen = false

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true
	o.subStep = 0
	o.cached = false
	o.err = nil
	o.hasLast = false

	slog.Info("continuous mode started",
		"points", len(o.points),
		"steps_per_analysis", o.cfg.Stepping.PhysicsStepsPerAnalysis,
		"interval", o.cfg.Stepping.Interval,
	)

	go o.run(runCtx, analyze, o.done)
	return nil
}

// Stop cancels continuous mode and clears cached growth signals. It is a
// no-op when nothing is running, does not wait for the goroutine, and is
// safe to call from inside the analysis or cycle callbacks. Use Wait to
// block until the loop has exited.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

func (o *Orchestrator) stopLocked() {
	if !o.running {
		return
	}
	o.cancel()
	o.running = false
	o.subStep = 0
	o.cached = false
	o.rates.Reset(len(o.points))
	o.state = Idle
	slog.Info("continuous mode stopped", "points", len(o.points))
}

// Wait blocks until the most recently started loop has exited.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether continuous mode is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Err returns the error that ended the last continuous run, or nil.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Snapshot returns the result of the latest continuous sub-step.
func (o *Orchestrator) Snapshot() (Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.latest, o.hasLast
}

func (o *Orchestrator) run(ctx context.Context, analyze AnalysisFunc, done chan struct{}) {
	defer close(done)
	defer func() {
		// Parent context cancelled without Stop
		o.mu.Lock()
		if o.done == done {
			o.stopLocked()
		}
		o.mu.Unlock()
	}()

	for {
		o.mu.Lock()
		if ctx.Err() != nil {
			o.mu.Unlock()
			return
		}
		var snapshot []r3.Vec
		needScores := !o.cached
		if needScores {
			o.state = Analyzing
			snapshot = components.ClonePoints(o.points)
		}
		o.mu.Unlock()

		if needScores {
			scores, err := callAnalysis(ctx, analyze, snapshot)
			if err != nil {
				o.fail(ctx, fmt.Errorf("analysis: %w", err))
				return
			}
			if !o.loadScores(ctx, scores) {
				if !sleepCtx(ctx, o.cfg.Stepping.Interval) {
					return
				}
				continue
			}
		}

		res, hook, finished, err := o.continuousStep(ctx)
		if err != nil {
			o.fail(ctx, err)
			return
		}
		if finished && hook != nil {
			hook(res)
		}

		if !sleepCtx(ctx, o.cfg.Stepping.Interval) {
			return
		}
	}
}

// loadScores starts a new batch. It returns false if the loop was stopped
// meanwhile or no scores came back.
func (o *Orchestrator) loadScores(ctx context.Context, scores []float64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}
	if len(scores) == 0 {
		slog.Warn("no scores available, skipping growth cycle", "points", len(o.points))
		o.state = Idle
		return false
	}

	o.perf.StartCycle()
	o.beginCycleLocked(scores)
	o.cached = true
	o.subStep = 0
	return true
}

// continuousStep runs one sub-step of the current batch. finished is true
// when the batch is complete and fresh scores are due.
func (o *Orchestrator) continuousStep(ctx context.Context) (Result, func(Result), bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ctx.Err() != nil {
		return Result{}, nil, false, nil
	}

	_, err := o.subStepLocked()
	// The loop sleeps between sub-steps; that wait is not work.
	o.perf.Pause()
	if err != nil {
		return Result{}, nil, false, err
	}
	o.subStep++

	finished := o.subStep >= o.cfg.Stepping.PhysicsStepsPerAnalysis
	outcome := Stepping
	if finished {
		if o.batch.EquilibriumReached {
			outcome = Equilibrium
		} else {
			outcome = StepBudgetExhausted
		}
		o.subStep = 0
		o.cached = false
		o.perf.EndCycle()
	}

	o.latest = o.resultLocked(outcome)
	o.hasLast = true
	return o.latest, o.onCycle, finished, nil
}

// fail records err and stops the loop, unless the loop was already stopped.
func (o *Orchestrator) fail(ctx context.Context, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	o.err = err
	slog.Error("continuous mode failed", "error", err)
	o.stopLocked()
}

// callAnalysis invokes analyze, converting a panic into an error.
func callAnalysis(ctx context.Context, analyze AnalysisFunc, points []r3.Vec) (scores []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panicked: %v", r)
		}
	}()
	return analyze(ctx, points)
}

// sleepCtx waits for d and reports whether the loop should continue.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
