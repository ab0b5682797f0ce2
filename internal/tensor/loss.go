package tensor

import (
	"errors"
	"math"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/nn"
	bt "github.com/born-ml/born/tensor"
)

// Grads maps a parameter's raw tensor to its gradient, the form born's
// optimizers step with.
type Grads = map[*bt.RawTensor]*bt.RawTensor

// Param wraps a born parameter with the differentiation flag the scheduler
// toggles per step. Born has no per-parameter flag, so the flag gates which
// gradients reach the optimizer.
type Param struct {
	p            *nn.Parameter[Backend]
	requiresGrad bool
	grad         *bt.RawTensor
}

func NewParam(p *nn.Parameter[Backend]) *Param { return &Param{p: p} }

// Params wraps every parameter of a born module.
func Params(ps []*nn.Parameter[Backend]) []*Param {
	out := make([]*Param, len(ps))
	for i, p := range ps {
		out[i] = NewParam(p)
	}
	return out
}

func (p *Param) Name() string { return p.p.Name() }

// Parameter returns the born parameter.
func (p *Param) Parameter() *nn.Parameter[Backend] { return p.p }

func (p *Param) SetRequiresGrad(on bool) { p.requiresGrad = on }

func (p *Param) RequiresGrad() bool { return p.requiresGrad }

// Grad returns the gradient captured by the last Backward, nil when none.
func (p *Param) Grad() *bt.RawTensor { return p.grad }

func (p *Param) ZeroGrad() { p.grad = nil }

// Values copies the parameter's current values.
func (p *Param) Values() []float64 {
	data := p.p.Tensor().Data()
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}

func (p *Param) raw() *bt.RawTensor { return p.p.Tensor().Raw() }

// Loss is a scalar born tensor together with the parameters it trains.
type Loss struct {
	dense  *Dense
	params []*Param
	value  float64
	done   bool
}

// NewLoss wraps a scalar loss. Backward hands gradients to params only.
func NewLoss(d *Dense, params []*Param) *Loss {
	value := math.NaN()
	if data := d.Data(); len(data) == 1 {
		value = float64(data[0])
	}
	return &Loss{dense: d, params: params, value: value}
}

// Item returns the loss value.
func (l *Loss) Item() float64 { return l.value }

// Backward runs reverse-mode differentiation once and stores each gradient
// on its parameter when that parameter has differentiation enabled.
func (l *Loss) Backward() error {
	if l.dense == nil {
		return errors.New("tensor: loss has no graph")
	}
	if l.done {
		return errors.New("tensor: backward called twice on the same loss")
	}
	l.done = true
	grads := autodiff.Backward(l.dense, Default())
	for _, p := range l.params {
		if !p.requiresGrad {
			continue
		}
		if g, ok := grads[p.raw()]; ok {
			p.grad = g
		}
	}
	return nil
}

// Collect gathers the captured gradients of params for an optimizer step.
func Collect(params []*Param) Grads {
	grads := Grads{}
	for _, p := range params {
		if p.requiresGrad && p.grad != nil {
			grads[p.raw()] = p.grad
		}
	}
	return grads
}
