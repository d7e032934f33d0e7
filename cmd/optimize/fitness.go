package main

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/cellgrowth/config"
	"github.com/pthm-cable/cellgrowth/engine"
	"github.com/pthm-cable/cellgrowth/scoring"
	"github.com/pthm-cable/cellgrowth/tessellate"
)

// invalidFitness is returned for parameter sets the config rejects.
const invalidFitness = 1e9

// FitnessEvaluator runs headless growth sessions and scores how quickly
// they settle while still moving the points.
type FitnessEvaluator struct {
	params     *ParamVector
	cycles     int
	seeds      []int64
	baseConfig *config.Config
	target     float64 // desired total displacement per cycle

	mu          sync.Mutex
	lastSteps   float64
	lastMotion  float64
	lastSettled float64
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, cycles int, seeds []int64, baseCfg *config.Config, target float64) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:     params,
		cycles:     cycles,
		seeds:      seeds,
		baseConfig: baseCfg,
		target:     target,
	}
}

// LastRun returns the averages behind the most recent Evaluate call:
// physics steps per cycle, displacement per cycle, and settled fraction.
func (fe *FitnessEvaluator) LastRun() (steps, motion, settled float64) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastSteps, fe.lastMotion, fe.lastSettled
}

// runResult holds the per-cycle outcomes of one seed.
type runResult struct {
	steps   []float64
	motion  []float64
	settled int
	err     error
}

// Evaluate computes fitness for a parameter vector (lower = better).
// Fitness is the fraction of the step budget used per cycle plus the
// relative miss from the target displacement, so parameters that freeze
// the points are not rewarded for settling instantly.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	cfg := fe.baseConfig.Clone()
	fe.params.ApplyToConfig(cfg, x)
	if err := cfg.Refresh(); err != nil {
		return invalidFitness
	}

	results := make([]runResult, len(fe.seeds))
	var wg sync.WaitGroup
	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			results[idx] = fe.runSession(cfg, s)
		}(i, seed)
	}
	wg.Wait()

	var steps, motion []float64
	settled := 0
	for _, r := range results {
		if r.err != nil {
			return invalidFitness
		}
		steps = append(steps, r.steps...)
		motion = append(motion, r.motion...)
		settled += r.settled
	}
	if len(steps) == 0 {
		return invalidFitness
	}

	meanSteps := stat.Mean(steps, nil)
	meanMotion := stat.Mean(motion, nil)

	fe.mu.Lock()
	fe.lastSteps = meanSteps
	fe.lastMotion = meanMotion
	fe.lastSettled = float64(settled) / float64(len(steps))
	fe.mu.Unlock()

	return fe.computeFitness(meanSteps, meanMotion, cfg.Physics.MaxPhysicsSteps)
}

func (fe *FitnessEvaluator) computeFitness(meanSteps, meanMotion float64, budget int) float64 {
	budgetUsed := meanSteps / float64(budget)
	if fe.target <= 0 {
		return budgetUsed
	}
	return budgetUsed + math.Abs(meanMotion-fe.target)/fe.target
}

// runSession runs fe.cycles equilibrium cycles on one seed's points.
func (fe *FitnessEvaluator) runSession(cfg *config.Config, seed int64) runResult {
	demo := cfg.Demo
	points := tessellate.RandomPoints(demo.Points, demo.Width, demo.Height, seed)
	scorer := scoring.NewNoiseScorer(seed, demo.NoiseScale, demo.ScoreScale)

	orch := engine.New(cfg, &tessellate.Voronoi2D{Width: demo.Width, Height: demo.Height})
	if err := orch.Load(points); err != nil {
		return runResult{err: err}
	}

	var r runResult
	for c := 0; c < fe.cycles; c++ {
		res, err := orch.RunToEquilibrium(scorer.Score(orch.Points()))
		if err != nil {
			return runResult{err: err}
		}
		r.steps = append(r.steps, float64(res.Stats.PhysicsSteps))
		r.motion = append(r.motion, res.Stats.TotalDisplacement)
		if res.Outcome == engine.Equilibrium {
			r.settled++
		}
	}
	return r
}
