package data

import (
	"context"
	"errors"
	"math/rand"

	"github.com/kingrea/cortex/internal/tensor"
)

// Synthetic draws noisy linear regression batches: y = x·w + b + noise.
// The hidden weights are fixed by the seed so runs are reproducible.
type Synthetic struct {
	cfg     Config
	weights []float64
	bias    float64
	rng     *rand.Rand
	served  int
	batch   map[string]any
}

func NewSynthetic(cfg Config) (*Synthetic, error) {
	if cfg.BatchSize <= 0 || cfg.DimIn <= 0 {
		return nil, errors.New("data: synthetic source needs batch_size and dim_in")
	}
	if cfg.Batches <= 0 {
		cfg.Batches = 1
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	weights := make([]float64, cfg.DimIn)
	for i := range weights {
		weights[i] = rng.NormFloat64()
	}
	bias := rng.NormFloat64()
	if cfg.Stream != 0 {
		rng = rand.New(rand.NewSource(cfg.Seed + cfg.Stream*7919))
	}
	return &Synthetic{cfg: cfg, weights: weights, bias: bias, rng: rng}, nil
}

// Weights returns the hidden generating weights and bias.
func (s *Synthetic) Weights() ([]float64, float64) {
	return append([]float64(nil), s.weights...), s.bias
}

func (s *Synthetic) Next(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.served >= s.cfg.Batches {
		return ErrEndOfEpoch
	}
	n, d := s.cfg.BatchSize, s.cfg.DimIn
	xs := make([]float64, n*d)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := s.bias
		for j := 0; j < d; j++ {
			v := s.rng.NormFloat64()
			xs[i*d+j] = v
			sum += v * s.weights[j]
		}
		ys[i] = sum + s.cfg.Noise*s.rng.NormFloat64()
	}
	x, err := tensor.FromSlice(xs, n, d)
	if err != nil {
		return err
	}
	y, err := tensor.FromSlice(ys, n, 1)
	if err != nil {
		return err
	}
	s.batch = map[string]any{"x": x, "y": y}
	s.served++
	return nil
}

func (s *Synthetic) Batch() map[string]any {
	out := make(map[string]any, len(s.batch))
	for k, v := range s.batch {
		out[k] = v
	}
	return out
}

func (s *Synthetic) Reset() {
	s.served = 0
	s.batch = nil
}
