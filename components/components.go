// Package components defines the data model shared by the growth engine:
// generator points, cell polygons and the adapters that normalise the
// shapes tessellators hand back.
package components

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Point is a generator position. Points have no identity beyond their index.
type Point = r3.Vec

// ErrFlatBufferStride is returned when a flat vertex buffer length is not a multiple of 3.
var ErrFlatBufferStride = errors.New("flat vertex buffer length is not a multiple of 3")

// VertexSource is anything that yields the boundary vertices of one cell.
type VertexSource interface {
	Vertices() []r3.Vec
}

// Polygon is the canonical cell boundary: an ordered list of vertices.
type Polygon []r3.Vec

// Vertices implements VertexSource.
func (p Polygon) Vertices() []r3.Vec { return p }

// Cell pairs a polygon with the index of its generator point.
type Cell struct {
	Index int
	Verts []r3.Vec
}

// Vertices implements VertexSource.
func (c Cell) Vertices() []r3.Vec { return c.Verts }

// FlatPolygon is a polygon stored as x0,y0,z0,x1,y1,z1,...
type FlatPolygon []float64

// Vertices implements VertexSource. A trailing partial vertex is ignored;
// call Polygon to get a stride error instead.
func (f FlatPolygon) Vertices() []r3.Vec {
	n := len(f) / 3
	out := make([]r3.Vec, n)
	for i := 0; i < n; i++ {
		out[i] = r3.Vec{X: f[3*i], Y: f[3*i+1], Z: f[3*i+2]}
	}
	return out
}

// Polygon converts the buffer, rejecting lengths that are not a multiple of 3.
func (f FlatPolygon) Polygon() (Polygon, error) {
	if len(f)%3 != 0 {
		return nil, fmt.Errorf("%w: got %d values", ErrFlatBufferStride, len(f))
	}
	return Polygon(f.Vertices()), nil
}

// Polygons unifies a slice of vertex sources into canonical polygons.
// Nil sources become empty polygons so indices stay aligned with points.
func Polygons(srcs []VertexSource) []Polygon {
	out := make([]Polygon, len(srcs))
	for i, s := range srcs {
		if s == nil {
			continue
		}
		out[i] = Polygon(s.Vertices())
	}
	return out
}

// PolygonsFromFlat converts a slice of flat buffers, failing on the first bad stride.
func PolygonsFromFlat(bufs [][]float64) ([]Polygon, error) {
	out := make([]Polygon, len(bufs))
	for i, b := range bufs {
		p, err := FlatPolygon(b).Polygon()
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}
