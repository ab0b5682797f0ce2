// Package data defines the batch source contract and the sources used by the
// reference models.
package data

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEndOfEpoch is returned by Next when the source has no more batches in
// the current epoch.
var ErrEndOfEpoch = errors.New("data: end of epoch")

// Source yields batches of named fields.
type Source interface {
	Next(ctx context.Context) error
	Batch() map[string]any
}

// Resetter is implemented by sources that restart at each epoch.
type Resetter interface {
	Reset()
}

// Config selects and parameterizes a source.
type Config struct {
	Source    string
	BatchSize int
	Batches   int
	DimIn     int
	Noise     float64
	Seed      int64

	// Stream selects an independent sample sequence over the same
	// generating process; evaluation uses a stream other than training's.
	Stream int64
}

// EvalConfig returns cfg adjusted for a held-out evaluation source.
func (cfg Config) EvalConfig(batches int) Config {
	out := cfg
	if batches > 0 {
		out.Batches = batches
	}
	out.Stream = cfg.Stream + 1
	return out
}

// Open returns the source named in cfg.
func Open(cfg Config) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", "synthetic", "regression":
		return NewSynthetic(cfg)
	default:
		return nil, fmt.Errorf("data: unknown source %q", cfg.Source)
	}
}

// Static replays a fixed list of batches, one epoch at a time.
type Static struct {
	batches []map[string]any
	next    int
	current map[string]any
}

func NewStatic(batches ...map[string]any) *Static {
	return &Static{batches: batches}
}

func (s *Static) Next(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.next >= len(s.batches) {
		return ErrEndOfEpoch
	}
	s.current = s.batches[s.next]
	s.next++
	return nil
}

func (s *Static) Batch() map[string]any {
	out := make(map[string]any, len(s.current))
	for k, v := range s.current {
		out[k] = v
	}
	return out
}

func (s *Static) Reset() {
	s.next = 0
	s.current = nil
}
