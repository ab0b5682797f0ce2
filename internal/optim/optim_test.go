package optim

import (
	"errors"
	"reflect"
	"testing"

	"github.com/born-ml/born/nn"

	"github.com/kingrea/cortex/internal/stage"
	"github.com/kingrea/cortex/internal/tensor"
)

type resource struct{ params []*tensor.Param }

func (r resource) Parameters() []stage.Parameter {
	out := make([]stage.Parameter, len(r.params))
	for i, p := range r.params {
		out[i] = p
	}
	return out
}

func fitStep(t *testing.T, layer *nn.Linear[tensor.Backend], params []*tensor.Param) {
	t.Helper()
	x, _ := tensor.FromSlice([]float64{1, 2, 3, 4}, 2, 2)
	y, _ := tensor.FromSlice([]float64{3, 7}, 2, 1)
	pred := layer.Forward(x.Dense())
	loss := tensor.NewLoss(nn.NewMSELoss(tensor.Default()).Forward(pred, y.Dense()), params)
	if err := loss.Backward(); err != nil {
		t.Fatalf("backward: %v", err)
	}
}

func TestStepUpdatesOnlyDifferentiatedParameters(t *testing.T) {
	layer := nn.NewLinear(2, 1, tensor.Default())
	params := tensor.Params(layer.Parameters())
	before := make([][]float64, len(params))
	for i, p := range params {
		before[i] = p.Values()
	}

	opt, err := New(Settings{Name: "sgd", LearningRate: 0.1}, resource{params}.Parameters())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	fitStep(t, layer, params)
	opt.Step()
	for i, p := range params {
		if !reflect.DeepEqual(p.Values(), before[i]) {
			t.Fatalf("parameter %s moved without differentiation", p.Name())
		}
	}

	for _, p := range params {
		p.SetRequiresGrad(true)
	}
	fitStep(t, layer, params)
	opt.Step()
	moved := false
	for i, p := range params {
		if !reflect.DeepEqual(p.Values(), before[i]) {
			moved = true
		}
	}
	if !moved {
		t.Fatal("expected a differentiated step to move the parameters")
	}
	opt.ZeroGrad()
	for _, p := range params {
		if p.Grad() != nil {
			t.Fatalf("expected zeroed gradient on %s", p.Name())
		}
	}
}

func TestSetupBuildsOneOptimizerPerResource(t *testing.T) {
	layer := nn.NewLinear(2, 1, tensor.Default())
	nets := map[string]any{"enc": resource{params: tensor.Params(layer.Parameters())}, "note": "not a resource"}
	reg, err := Setup(nets, Settings{Name: "sgd", LearningRate: 0.1}, map[string]Settings{"enc": {Name: "momentum", Momentum: 0.9}})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !reflect.DeepEqual(reg.Keys(), []string{"enc"}) {
		t.Fatalf("unexpected keys %v", reg.Keys())
	}
	if err := reg.ZeroGrad("enc"); err != nil {
		t.Fatalf("zero grad: %v", err)
	}
	if err := reg.Step("dec"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := Setup(nets, Settings{Name: "adamw"}, nil); !errors.Is(err, ErrUnknownOptimizer) {
		t.Fatalf("expected ErrUnknownOptimizer, got %v", err)
	}
	if got := merge(Settings{Name: "sgd", LearningRate: 0.1}, Settings{Momentum: 0.9}); got != (Settings{Name: "sgd", LearningRate: 0.1, Momentum: 0.9}) {
		t.Fatalf("unexpected merged settings %+v", got)
	}
}
