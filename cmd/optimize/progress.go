package main

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"
)

// logRow is one line of optimize_log.csv.
type logRow struct {
	Eval          int     `csv:"eval"`
	Fitness       float64 `csv:"fitness"`
	ForceStrength float64 `csv:"force_strength"`
	Damping       float64 `csv:"damping"`
	MaxForce      float64 `csv:"max_force"`
	MeanSteps     float64 `csv:"mean_steps"`
	MeanMotion    float64 `csv:"mean_displacement"`
	Settled       float64 `csv:"settled_fraction"`
}

// progress tracks the best physics parameters seen so far, appends each
// evaluation to the CSV log and prints a status line with an ETA.
type progress struct {
	csv      io.Writer
	status   io.Writer
	maxEvals int
	start    time.Time

	evals    int
	header   bool
	best     float64
	bestVals []float64
}

func newProgress(csv, status io.Writer, maxEvals int) *progress {
	return &progress{
		csv:      csv,
		status:   status,
		maxEvals: maxEvals,
		start:    time.Now(),
		best:     invalidFitness,
	}
}

// record logs one evaluation. vals are the clamped force_strength, damping
// and max_force the run used; steps, motion and settled come from LastRun.
func (p *progress) record(fitness float64, vals []float64, steps, motion, settled float64) error {
	p.evals++
	if fitness < p.best {
		p.best = fitness
		p.bestVals = vals
	}

	rows := []logRow{{
		Eval:          p.evals,
		Fitness:       fitness,
		ForceStrength: vals[0],
		Damping:       vals[1],
		MaxForce:      vals[2],
		MeanSteps:     steps,
		MeanMotion:    motion,
		Settled:       settled,
	}}
	var err error
	if p.header {
		err = gocsv.MarshalWithoutHeaders(rows, p.csv)
	} else {
		err = gocsv.Marshal(rows, p.csv)
		p.header = true
	}

	elapsed := time.Since(p.start)
	fmt.Fprintf(p.status, "[%d/%d] fitness %.4f  best %.4f  steps/cycle %.1f  displacement %.3f  settled %.0f%%  %s elapsed, %s left\n",
		p.evals, p.maxEvals, fitness, p.best, steps, motion, settled*100,
		clockTime(elapsed), clockTime(p.remaining(elapsed)))

	if err != nil {
		return fmt.Errorf("writing eval %d: %w", p.evals, err)
	}
	return nil
}

// remaining extrapolates the mean time per evaluation over the evaluations left.
func (p *progress) remaining(elapsed time.Duration) time.Duration {
	if p.evals == 0 || p.evals >= p.maxEvals {
		return 0
	}
	return elapsed / time.Duration(p.evals) * time.Duration(p.maxEvals-p.evals)
}

// clockTime renders d as H:MM:SS, rounded to the second.
func clockTime(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}
