// Package tensor adapts born's autodiff CPU tensors to the values, parameters
// and losses that flow through the scheduler. Every resource and batch lives
// on one shared backend so the tape sees the whole graph of a step.
package tensor

import (
	"fmt"
	"math"
	"sync"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	bt "github.com/born-ml/born/tensor"
)

// Backend is the autodiff-recording CPU backend.
type Backend = *autodiff.Backend[*cpu.Backend]

// Dense is a float32 born tensor on Backend.
type Dense = bt.Tensor[float32, Backend]

var (
	backendOnce sync.Once
	shared      Backend
)

// Default returns the process-wide backend.
func Default() Backend {
	backendOnce.Do(func() { shared = autodiff.New(cpu.New()) })
	return shared
}

// Tensor is a value passed between routines.
type Tensor struct {
	dense *Dense
	shape []int
}

// New returns a zero tensor with the given shape.
func New(shape ...int) *Tensor {
	t, err := FromSlice(make([]float64, size(shape)), shape...)
	if err != nil {
		panic(err)
	}
	return t
}

// FromSlice copies values into a tensor. With no shape the tensor is a
// vector.
func FromSlice(values []float64, shape ...int) (*Tensor, error) {
	if len(shape) == 0 {
		shape = []int{len(values)}
	}
	if size(shape) != len(values) {
		return nil, fmt.Errorf("tensor: %d values do not fit shape %v", len(values), shape)
	}
	data := make([]float32, len(values))
	for i, v := range values {
		data[i] = float32(v)
	}
	d, err := bt.FromSlice(data, bt.Shape(append([]int(nil), shape...)), Default())
	if err != nil {
		return nil, fmt.Errorf("tensor: %w", err)
	}
	return &Tensor{dense: d, shape: append([]int(nil), shape...)}, nil
}

// Scalar returns a one-element tensor.
func Scalar(v float64) *Tensor {
	t, err := FromSlice([]float64{v}, 1)
	if err != nil {
		panic(err)
	}
	return t
}

// Wrap adopts a born tensor produced by a layer or loss.
func Wrap(d *Dense) *Tensor {
	return &Tensor{dense: d, shape: append([]int(nil), d.Shape()...)}
}

// Dense returns the underlying born tensor.
func (t *Tensor) Dense() *Dense { return t.dense }

func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

// Len returns the number of elements.
func (t *Tensor) Len() int { return size(t.shape) }

// Rows returns the size of the first dimension.
func (t *Tensor) Rows() int {
	if len(t.shape) == 0 {
		return 0
	}
	return t.shape[0]
}

// Cols returns the size of the second dimension, 1 for vectors.
func (t *Tensor) Cols() int {
	if len(t.shape) < 2 {
		return 1
	}
	return t.shape[1]
}

// Values copies the elements out in row-major order.
func (t *Tensor) Values() []float64 {
	data := t.dense.Data()
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}

// At returns element (i, j) of a matrix.
func (t *Tensor) At(i, j int) float64 {
	return float64(t.dense.Data()[i*t.Cols()+j])
}

// Reshape returns a tensor over a copy of the values with a new shape.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	return FromSlice(t.Values(), shape...)
}

// Detach returns a leaf copy that is not connected to any recorded graph.
func (t *Tensor) Detach() any {
	out, err := FromSlice(t.Values(), t.shape...)
	if err != nil {
		return t
	}
	return out
}

// Item returns the value of a one-element tensor, NaN otherwise.
func (t *Tensor) Item() float64 {
	if t.Len() != 1 {
		return math.NaN()
	}
	return float64(t.dense.Data()[0])
}

// Mean returns the arithmetic mean of all elements.
func (t *Tensor) Mean() float64 {
	values := t.Values()
	if len(values) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
