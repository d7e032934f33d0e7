package telemetry

import (
	"log/slog"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Work phases of a growth cycle, in the order a sub-step runs them.
const (
	PhaseAnalyze    = "analyze"
	PhaseTessellate = "tessellate"
	PhaseNeighbors  = "neighbors"
	PhaseForces     = "forces"
	PhaseIntegrate  = "integrate"
)

// Phases lists every work phase.
var Phases = []string{PhaseAnalyze, PhaseTessellate, PhaseNeighbors, PhaseForces, PhaseIntegrate}

// PerfSample is the work time of one cycle or continuous batch.
// Work is the sum of Phases; paused time is in neither.
type PerfSample struct {
	Work   time.Duration
	Phases map[string]time.Duration
}

// PerfCollector times cycle phases and keeps the most recent samples.
//
// Only time spent inside a phase is counted. StartPhase switches the running
// phase, Pause stops the clock until the next StartPhase. Continuous mode
// pauses between sub-steps so the configured interval never shows up as work.
type PerfCollector struct {
	ring   []PerfSample
	next   int
	filled int

	open    bool
	running string // "" while paused
	since   time.Time
	cur     PerfSample
}

// NewPerfCollector keeps the last window samples. A window below 1 means 60.
func NewPerfCollector(window int) *PerfCollector {
	if window < 1 {
		window = 60
	}
	return &PerfCollector{ring: make([]PerfSample, window)}
}

// StartCycle opens a new sample, discarding one left open by an interrupted batch.
func (p *PerfCollector) StartCycle() {
	if p == nil {
		return
	}
	p.cur = PerfSample{Phases: make(map[string]time.Duration, len(Phases))}
	p.open = true
	p.running = ""
}

// StartPhase charges elapsed time to the running phase and starts timing phase.
// It is ignored outside a cycle.
func (p *PerfCollector) StartPhase(phase string) {
	if p == nil || !p.open {
		return
	}
	now := time.Now()
	p.charge(now)
	p.running = phase
	p.since = now
}

// Pause charges elapsed time to the running phase and stops the clock.
func (p *PerfCollector) Pause() {
	if p == nil || !p.open {
		return
	}
	p.charge(time.Now())
	p.running = ""
}

// EndCycle closes the running phase and stores the sample.
func (p *PerfCollector) EndCycle() {
	if p == nil || !p.open {
		return
	}
	p.charge(time.Now())
	p.ring[p.next] = p.cur
	p.next = (p.next + 1) % len(p.ring)
	p.filled = min(p.filled+1, len(p.ring))
	p.open = false
	p.running = ""
	p.cur = PerfSample{}
}

func (p *PerfCollector) charge(now time.Time) {
	if p.running == "" {
		return
	}
	d := now.Sub(p.since)
	p.cur.Phases[p.running] += d
	p.cur.Work += d
}

// Len returns the number of stored samples.
func (p *PerfCollector) Len() int {
	if p == nil {
		return 0
	}
	return p.filled
}

// PerfStats summarises the stored samples. Cycle figures are work time.
type PerfStats struct {
	Samples   int
	AvgCycle  time.Duration
	MinCycle  time.Duration
	MaxCycle  time.Duration
	PhaseAvg  map[string]time.Duration
	PhasePct  map[string]float64 // Share of AvgCycle
	CyclesSec float64            // Throughput if cycles ran back to back
}

// Stats aggregates the stored samples.
func (p *PerfCollector) Stats() PerfStats {
	st := PerfStats{
		PhaseAvg: make(map[string]time.Duration),
		PhasePct: make(map[string]float64),
	}
	if p.Len() == 0 {
		return st
	}

	work := make([]float64, p.filled)
	phaseTotal := make(map[string]time.Duration)
	for i, s := range p.ring[:p.filled] {
		work[i] = float64(s.Work)
		for name, d := range s.Phases {
			phaseTotal[name] += d
		}
	}

	st.Samples = p.filled
	st.AvgCycle = time.Duration(stat.Mean(work, nil))
	st.MinCycle = time.Duration(floats.Min(work))
	st.MaxCycle = time.Duration(floats.Max(work))
	for name, total := range phaseTotal {
		avg := total / time.Duration(p.filled)
		st.PhaseAvg[name] = avg
		if st.AvgCycle > 0 {
			st.PhasePct[name] = 100 * float64(avg) / float64(st.AvgCycle)
		}
	}
	if st.AvgCycle > 0 {
		st.CyclesSec = float64(time.Second) / float64(st.AvgCycle)
	}
	return st
}

// LogValue implements slog.LogValuer. Phases under 0.1% are omitted.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("samples", s.Samples),
		slog.Int64("avg_cycle_us", s.AvgCycle.Microseconds()),
		slog.Int64("min_cycle_us", s.MinCycle.Microseconds()),
		slog.Int64("max_cycle_us", s.MaxCycle.Microseconds()),
		slog.Float64("cycles_per_sec", s.CyclesSec),
	}
	for _, name := range Phases {
		if pct := s.PhasePct[name]; pct > 0.1 {
			attrs = append(attrs, slog.Float64(name+"_pct", pct))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfRow is one line of perf.csv.
type PerfRow struct {
	Cycle         int     `csv:"cycle"`
	Samples       int     `csv:"samples"`
	AvgCycleUS    int64   `csv:"avg_cycle_us"`
	MinCycleUS    int64   `csv:"min_cycle_us"`
	MaxCycleUS    int64   `csv:"max_cycle_us"`
	CyclesPerSec  float64 `csv:"cycles_per_sec"`
	AnalyzePct    float64 `csv:"analyze_pct"`
	TessellatePct float64 `csv:"tessellate_pct"`
	NeighborsPct  float64 `csv:"neighbors_pct"`
	ForcesPct     float64 `csv:"forces_pct"`
	IntegratePct  float64 `csv:"integrate_pct"`
	IntegrateUS   int64   `csv:"integrate_us"`
}

// Row flattens s for perf.csv, tagged with the cycle it was flushed at.
func (s PerfStats) Row(cycle int) PerfRow {
	return PerfRow{
		Cycle:         cycle,
		Samples:       s.Samples,
		AvgCycleUS:    s.AvgCycle.Microseconds(),
		MinCycleUS:    s.MinCycle.Microseconds(),
		MaxCycleUS:    s.MaxCycle.Microseconds(),
		CyclesPerSec:  s.CyclesSec,
		AnalyzePct:    s.PhasePct[PhaseAnalyze],
		TessellatePct: s.PhasePct[PhaseTessellate],
		NeighborsPct:  s.PhasePct[PhaseNeighbors],
		ForcesPct:     s.PhasePct[PhaseForces],
		IntegratePct:  s.PhasePct[PhaseIntegrate],
		IntegrateUS:   s.PhaseAvg[PhaseIntegrate].Microseconds(),
	}
}
