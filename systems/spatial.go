package systems

import (
	"encoding/binary"
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/pthm-cable/cellgrowth/components"
)

// NeighborGraph is a symmetric adjacency relation between cells stored as a
// flat run of neighbor indices per cell (offsets[i]..offsets[i+1]).
type NeighborGraph struct {
	offsets []int
	indices []int
	stale   bool
}

// Len returns the number of cells in the graph.
func (g *NeighborGraph) Len() int {
	if len(g.offsets) == 0 {
		return 0
	}
	return len(g.offsets) - 1
}

// Neighbors returns the sorted neighbor indices of cell i. The slice aliases
// graph storage and must not be modified.
func (g *NeighborGraph) Neighbors(i int) []int {
	if i < 0 || i >= g.Len() {
		return nil
	}
	return g.indices[g.offsets[i]:g.offsets[i+1]]
}

// AreNeighbors reports whether i and j share an edge.
func (g *NeighborGraph) AreNeighbors(i, j int) bool {
	_, found := slices.BinarySearch(g.Neighbors(i), j)
	return found
}

// EdgeCount returns the number of undirected neighbor pairs.
func (g *NeighborGraph) EdgeCount() int {
	return len(g.indices) / 2
}

// Invalidate marks the graph as out of date. Positions moved since it was built.
func (g *NeighborGraph) Invalidate() { g.stale = true }

// Stale reports whether the graph must be rebuilt before use.
func (g *NeighborGraph) Stale() bool { return g.stale }

// vertexKey is a polygon vertex snapped to the builder tolerance grid.
type vertexKey struct {
	X, Y, Z int64
}

func compareKeys(a, b vertexKey) int {
	switch {
	case a.X != b.X:
		return cmpInt64(a.X, b.X)
	case a.Y != b.Y:
		return cmpInt64(a.Y, b.Y)
	default:
		return cmpInt64(a.Z, b.Z)
	}
}

func cmpInt64(a, b int64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// NeighborBuilder derives a NeighborGraph from cell polygons. Two cells are
// neighbors when they share at least MinShared vertices after rounding; a
// single shared vertex is only a touching point.
// Scratch buffers and the returned graph are reused across Build calls.
type NeighborBuilder struct {
	tolerance float64
	minShared int

	cellKeys [][]vertexKey
	buckets  map[uint64][]int
	pairs    map[uint64]struct{}
	adj      [][]int
	hashBuf  [24]byte
	graph    NeighborGraph
}

// NewNeighborBuilder creates a builder that snaps vertices to multiples of
// tolerance before comparing them. A non-positive tolerance means 1e-4.
func NewNeighborBuilder(tolerance float64, minShared int) *NeighborBuilder {
	if minShared < 1 {
		minShared = 1
	}
	if tolerance <= 0 {
		tolerance = 1e-4
	}
	return &NeighborBuilder{
		tolerance: tolerance,
		minShared: minShared,
		buckets:   make(map[uint64][]int),
		pairs:     make(map[uint64]struct{}),
	}
}

// Build computes adjacency for polys. The result is symmetric and sorted.
func (b *NeighborBuilder) Build(polys []components.Polygon) *NeighborGraph {
	n := len(polys)
	b.reset(n)

	// Hash pass: vertex key -> cells containing it
	for i, poly := range polys {
		keys := b.cellKeys[i][:0]
		for _, v := range poly {
			keys = append(keys, b.round(v.X, v.Y, v.Z))
		}
		slices.SortFunc(keys, compareKeys)
		keys = slices.Compact(keys)
		b.cellKeys[i] = keys

		for _, k := range keys {
			h := b.hash(k)
			cells := b.buckets[h]
			if len(cells) > 0 && cells[len(cells)-1] == i {
				continue // hash collision inside one cell
			}
			b.buckets[h] = append(cells, i)
		}
	}

	// Candidate pairs: cells that co-occur under any key
	for _, cells := range b.buckets {
		for x := 0; x < len(cells); x++ {
			for y := x + 1; y < len(cells); y++ {
				lo, hi := cells[x], cells[y]
				if lo > hi {
					lo, hi = hi, lo
				}
				b.pairs[uint64(lo)<<32|uint64(hi)] = struct{}{}
			}
		}
	}

	// Exact pass: count shared rounded vertices per candidate pair
	for p := range b.pairs {
		i, j := int(p>>32), int(p&0xffffffff)
		if countShared(b.cellKeys[i], b.cellKeys[j]) >= b.minShared {
			b.adj[i] = append(b.adj[i], j)
			b.adj[j] = append(b.adj[j], i)
		}
	}

	g := &b.graph
	g.offsets = append(g.offsets[:0], 0)
	g.indices = g.indices[:0]
	for i := 0; i < n; i++ {
		slices.Sort(b.adj[i])
		g.indices = append(g.indices, b.adj[i]...)
		g.offsets = append(g.offsets, len(g.indices))
	}
	g.stale = false
	return g
}

func (b *NeighborBuilder) reset(n int) {
	if cap(b.cellKeys) < n {
		grown := make([][]vertexKey, n)
		copy(grown, b.cellKeys)
		b.cellKeys = grown
	}
	b.cellKeys = b.cellKeys[:n]

	if cap(b.adj) < n {
		grown := make([][]int, n)
		copy(grown, b.adj)
		b.adj = grown
	}
	b.adj = b.adj[:n]
	for i := range b.adj {
		b.adj[i] = b.adj[i][:0]
	}

	clear(b.buckets)
	clear(b.pairs)
}

func (b *NeighborBuilder) round(x, y, z float64) vertexKey {
	return vertexKey{
		X: int64(math.Round(x / b.tolerance)),
		Y: int64(math.Round(y / b.tolerance)),
		Z: int64(math.Round(z / b.tolerance)),
	}
}

func (b *NeighborBuilder) hash(k vertexKey) uint64 {
	binary.LittleEndian.PutUint64(b.hashBuf[0:8], uint64(k.X))
	binary.LittleEndian.PutUint64(b.hashBuf[8:16], uint64(k.Y))
	binary.LittleEndian.PutUint64(b.hashBuf[16:24], uint64(k.Z))
	return xxhash.Sum64(b.hashBuf[:])
}

// countShared counts keys present in both sorted, deduplicated slices.
func countShared(a, b []vertexKey) int {
	shared := 0
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := compareKeys(a[i], b[j]); {
		case c == 0:
			shared++
			i++
			j++
		case c < 0:
			i++
		default:
			j++
		}
	}
	return shared
}
