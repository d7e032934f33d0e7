package systems

import (
	"errors"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrStaleGraph is returned when forces are requested from a graph built
// before the last position update.
var ErrStaleGraph = errors.New("neighbor graph is stale")

// DefaultMinDistance is the pair separation below which no force is produced.
const DefaultMinDistance = 0.01

// ForceField turns growth rates into inverse-square pair forces.
type ForceField struct {
	Strength    float64
	MaxForce    float64
	MinDistance float64
}

// Pair returns the force that a source cell at a with growth rate g applies
// to a neighbor at b. The source receives the negation. Positive g pushes
// the pair apart, negative g pulls it together.
func (f ForceField) Pair(a, b r3.Vec, g float64) r3.Vec {
	d := r3.Sub(b, a)
	dist := r3.Norm(d)
	if dist < f.MinDistance || dist == 0 {
		return r3.Vec{}
	}
	mag := clampMagnitude(g*f.Strength/(dist*dist), f.MaxForce)
	return r3.Scale(mag/dist, d)
}

// Accumulate adds the forces of every active cell on its neighbors into
// forces, with the equal and opposite reaction on the source. When both
// ends of a pair are active each contributes its own term independently.
// It returns the number of pair interactions evaluated.
func (f ForceField) Accumulate(points []r3.Vec, rates []float64, graph *NeighborGraph, forces []r3.Vec) (int, error) {
	if graph == nil || graph.Stale() {
		return 0, ErrStaleGraph
	}

	pairs := 0
	n := min(len(points), len(forces))
	for i, g := range rates {
		if g == 0 || i >= n {
			continue
		}
		for _, j := range graph.Neighbors(i) {
			if j >= n {
				continue
			}
			force := f.Pair(points[i], points[j], g)
			forces[j] = r3.Add(forces[j], force)
			forces[i] = r3.Sub(forces[i], force)
			pairs++
		}
	}
	return pairs, nil
}
