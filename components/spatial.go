package components

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// ClonePoints returns an independent copy of points.
func ClonePoints(points []Point) []Point {
	out := make([]Point, len(points))
	copy(out, points)
	return out
}

// PointsFromFlat converts x0,y0,z0,... into points.
func PointsFromFlat(buf []float64) ([]Point, error) {
	if len(buf)%3 != 0 {
		return nil, fmt.Errorf("points: %w: got %d values", ErrFlatBufferStride, len(buf))
	}
	out := make([]Point, len(buf)/3)
	for i := range out {
		out[i] = r3.Vec{X: buf[3*i], Y: buf[3*i+1], Z: buf[3*i+2]}
	}
	return out, nil
}

// FlattenPoints writes points as x0,y0,z0,... into dst (grown if needed) and returns it.
func FlattenPoints(dst []float64, points []Point) []float64 {
	dst = dst[:0]
	for _, p := range points {
		dst = append(dst, p.X, p.Y, p.Z)
	}
	return dst
}
