// Package tessellate builds planar Voronoi cells for generator points.
package tessellate

import (
	"errors"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellgrowth/components"
)

// ErrEmptyBounds is returned when the clipping box has no area.
var ErrEmptyBounds = errors.New("voronoi bounds must have positive width and height")

const clipEpsilon = 1e-12

// Voronoi2D computes Voronoi cells in the z=0 plane, clipped to the box
// [0,Width] x [0,Height]. Each cell starts as the box and is cut by the
// perpendicular bisector towards every other generator.
type Voronoi2D struct {
	Width  float64
	Height float64
}

// Tessellate returns one polygon per point, index-aligned. Generators that
// coincide do not cut each other.
func (v *Voronoi2D) Tessellate(points []r3.Vec) ([]components.Polygon, error) {
	if v.Width <= 0 || v.Height <= 0 {
		return nil, ErrEmptyBounds
	}

	cells := make([]components.Polygon, len(points))
	for i, p := range points {
		p.Z = 0
		cell := components.Polygon{
			{X: 0, Y: 0},
			{X: v.Width, Y: 0},
			{X: v.Width, Y: v.Height},
			{X: 0, Y: v.Height},
		}
		for j, q := range points {
			if i == j {
				continue
			}
			q.Z = 0
			if q == p {
				continue
			}
			cell = clipHalfPlane(cell, p, q)
			if len(cell) == 0 {
				break
			}
		}
		cells[i] = cell
	}
	return cells, nil
}

// clipHalfPlane keeps the part of poly closer to p than to q.
func clipHalfPlane(poly components.Polygon, p, q r3.Vec) components.Polygon {
	mid := r3.Scale(0.5, r3.Add(p, q))
	normal := r3.Sub(q, p)
	side := func(x r3.Vec) float64 { return r3.Dot(r3.Sub(x, mid), normal) }

	out := make(components.Polygon, 0, len(poly)+1)
	for k, cur := range poly {
		prev := poly[(k+len(poly)-1)%len(poly)]
		sc, sp := side(cur), side(prev)
		curIn, prevIn := sc <= clipEpsilon, sp <= clipEpsilon

		if curIn != prevIn {
			t := sp / (sp - sc)
			out = appendVertex(out, r3.Add(prev, r3.Scale(t, r3.Sub(cur, prev))))
		}
		if curIn {
			out = appendVertex(out, cur)
		}
	}
	if len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}

func appendVertex(poly components.Polygon, x r3.Vec) components.Polygon {
	if n := len(poly); n > 0 && poly[n-1] == x {
		return poly
	}
	return append(poly, x)
}

// RandomPoints scatters n points uniformly over [0,w] x [0,h] at z=0.
func RandomPoints(n int, w, h float64, seed int64) []r3.Vec {
	rng := rand.New(rand.NewSource(seed))
	points := make([]r3.Vec, n)
	for i := range points {
		points[i] = r3.Vec{X: rng.Float64() * w, Y: rng.Float64() * h}
	}
	return points
}
