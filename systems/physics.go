package systems

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// StepResult summarises one integration sub-step.
type StepResult struct {
	MaxDisplacement   float64 // Largest |velocity*dt| this sub-step
	TotalDisplacement float64 // Sum of |velocity*dt| over all cells
	AverageForce      float64 // Mean magnitude of the non-zero forces
	ForcedCells       int     // Cells with a non-zero force
}

// Integrator owns per-cell velocity and force state and advances positions
// under damping.
type Integrator struct {
	Damping float64

	velocities    []r3.Vec
	forces        []r3.Vec
	displacements []float64
	forceMags     []float64
}

// NewIntegrator creates an integrator for n cells.
func NewIntegrator(n int, damping float64) *Integrator {
	in := &Integrator{Damping: damping}
	in.Resize(n)
	return in
}

// Resize sizes state to n cells, keeping existing entries.
func (in *Integrator) Resize(n int) {
	in.velocities = resizeVecs(in.velocities, n)
	in.forces = resizeVecs(in.forces, n)
	in.displacements = resizeFloats(in.displacements, n)
}

// Len returns the number of cells tracked.
func (in *Integrator) Len() int { return len(in.velocities) }

// Reset zeroes all velocities and forces. Called at the start of a growth cycle.
func (in *Integrator) Reset() {
	clear(in.velocities)
	clear(in.forces)
	clear(in.displacements)
}

// ClearForces zeroes the force accumulator before it is repopulated.
func (in *Integrator) ClearForces() {
	clear(in.forces)
}

// Forces exposes the force accumulator for ForceField.Accumulate.
func (in *Integrator) Forces() []r3.Vec { return in.forces }

// Velocities exposes current velocities (read only).
func (in *Integrator) Velocities() []r3.Vec { return in.velocities }

// Displacements returns per-cell |velocity*dt| from the last Step (read only).
func (in *Integrator) Displacements() []float64 { return in.displacements }

// Step applies velocity = (velocity + force*dt) * damping and
// position += velocity*dt to every cell. The force accumulator must be fully
// populated before the call; no position is touched until all forces are read.
func (in *Integrator) Step(points []r3.Vec, dt float64) StepResult {
	n := min(len(points), len(in.velocities))
	damping := clamp01(in.Damping)

	in.forceMags = in.forceMags[:0]
	for i := 0; i < n; i++ {
		if m := r3.Norm(in.forces[i]); m > 0 {
			in.forceMags = append(in.forceMags, m)
		}
	}

	for i := 0; i < n; i++ {
		v := r3.Add(in.velocities[i], r3.Scale(dt, in.forces[i]))
		v = r3.Scale(damping, v)
		in.velocities[i] = v

		step := r3.Scale(dt, v)
		points[i] = r3.Add(points[i], step)
		in.displacements[i] = r3.Norm(step)
	}

	var res StepResult
	if n > 0 {
		disp := in.displacements[:n]
		res.MaxDisplacement = floats.Max(disp)
		res.TotalDisplacement = floats.Sum(disp)
	}
	if len(in.forceMags) > 0 {
		res.AverageForce = stat.Mean(in.forceMags, nil)
		res.ForcedCells = len(in.forceMags)
	}
	return res
}
