// Package scoring provides stand-in analysis functions that assign a
// score to every point.
package scoring

import (
	"context"

	opensimplex "github.com/ojrac/opensimplex-go"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellgrowth/config"
)

// NoiseScorer samples fractal simplex noise at each point's XY position and
// maps it to [0, Scale].
type NoiseScorer struct {
	Frequency   float64
	Scale       float64
	Octaves     int
	Persistence float64

	noise opensimplex.Noise
}

// NewNoiseScorer creates a scorer with three octaves of noise.
func NewNoiseScorer(seed int64, frequency, scale float64) *NoiseScorer {
	return &NoiseScorer{
		Frequency:   frequency,
		Scale:       scale,
		Octaves:     3,
		Persistence: 0.5,
		noise:       opensimplex.NewNormalized(seed),
	}
}

// FromDemo builds a scorer from the demo config section.
func FromDemo(cfg config.DemoConfig) *NoiseScorer {
	return NewNoiseScorer(cfg.Seed, cfg.NoiseScale, cfg.ScoreScale)
}

// Score returns one score per point.
func (s *NoiseScorer) Score(points []r3.Vec) []float64 {
	scores := make([]float64, len(points))
	for i, p := range points {
		scores[i] = s.At(p.X, p.Y)
	}
	return scores
}

// At returns the score at a single position.
func (s *NoiseScorer) At(x, y float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0
	frequency := s.Frequency

	octaves := max(s.Octaves, 1)
	for i := 0; i < octaves; i++ {
		total += s.noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= s.Persistence
		frequency *= 2
	}
	return total / maxVal * s.Scale
}

// Analyze adapts the scorer to engine.AnalysisFunc.
func (s *NoiseScorer) Analyze(ctx context.Context, points []r3.Vec) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Score(points), nil
}

// Drifting returns an analysis function whose noise field moves by step
// along x on every call, so successive batches see different scores.
func (s *NoiseScorer) Drifting(step float64) func(context.Context, []r3.Vec) ([]float64, error) {
	offset := 0.0
	return func(ctx context.Context, points []r3.Vec) ([]float64, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scores := make([]float64, len(points))
		for i, p := range points {
			scores[i] = s.At(p.X+offset, p.Y)
		}
		offset += step
		return scores, nil
	}
}
