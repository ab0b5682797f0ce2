package builtins

import (
	"fmt"

	"github.com/born-ml/born/nn"

	"github.com/kingrea/cortex/internal/stage"
	"github.com/kingrea/cortex/internal/tensor"
)

// Linear is a born fully connected layer exposed as a resource.
type Linear struct {
	layer  *nn.Linear[tensor.Backend]
	params []*tensor.Param
	dimIn  int
	dimOut int

	training bool
}

func NewLinear(dimIn, dimOut int) *Linear {
	layer := nn.NewLinear(dimIn, dimOut, tensor.Default())
	return &Linear{
		layer:    layer,
		params:   tensor.Params(layer.Parameters()),
		dimIn:    dimIn,
		dimOut:   dimOut,
		training: true,
	}
}

func (l *Linear) Parameters() []stage.Parameter {
	out := make([]stage.Parameter, len(l.params))
	for i, p := range l.params {
		out[i] = p
	}
	return out
}

// Params returns the wrapped born parameters.
func (l *Linear) Params() []*tensor.Param { return l.params }

func (l *Linear) Train() { l.training = true }

func (l *Linear) Eval() { l.training = false }

// Training reports whether the resource is in training mode.
func (l *Linear) Training() bool { return l.training }

// Forward maps a (batch, dim_in) tensor to (batch, dim_out).
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Cols() != l.dimIn {
		return nil, fmt.Errorf("linear: input width %d, want %d", x.Cols(), l.dimIn)
	}
	if len(x.Shape()) != 2 {
		var err error
		if x, err = x.Reshape(x.Rows(), l.dimIn); err != nil {
			return nil, err
		}
	}
	return tensor.Wrap(l.layer.Forward(x.Dense())), nil
}

type linearArgs struct {
	DimIn  int `help:"input feature width"`
	DimOut int `help:"output width"`
}

func buildLinear(b *stage.Build, kw stage.Kwargs) error {
	var args linearArgs
	if err := kw.Decode(&args); err != nil {
		return err
	}
	if args.DimIn <= 0 || args.DimOut <= 0 {
		return fmt.Errorf("linear: dim_in and dim_out must be positive, got %d and %d", args.DimIn, args.DimOut)
	}
	return b.SetNet("net", NewLinear(args.DimIn, args.DimOut))
}
