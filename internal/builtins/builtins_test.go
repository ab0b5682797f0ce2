package builtins

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kingrea/cortex/internal/composition"
	"github.com/kingrea/cortex/internal/data"
	"github.com/kingrea/cortex/internal/optim"
	"github.com/kingrea/cortex/internal/plugin"
	"github.com/kingrea/cortex/internal/scheduler"
	"github.com/kingrea/cortex/internal/stage"
	"github.com/kingrea/cortex/internal/tensor"
)

func TestLinearRegressionLearns(t *testing.T) {
	reg := plugin.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	c, err := composition.Compose(reg, "linear_regression", zerolog.Nop())
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	c.CollectKwargs()
	c.SetArgs(map[string]any{"dim_in": 3})
	if err := c.BuildResources(c.UnpackArgs(c.KwargsMap())); err != nil {
		t.Fatalf("build resources: %v", err)
	}
	optims, err := optim.Setup(c.NetsMap(), optim.Settings{Name: "sgd", LearningRate: 0.1}, nil)
	if err != nil {
		t.Fatalf("optimizers: %v", err)
	}
	source, err := data.NewSynthetic(data.Config{BatchSize: 32, Batches: 200, DimIn: 3, Noise: 0.01, Seed: 3})
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	s := scheduler.New(c, source, scheduler.WithOptimizers(optims))
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		if err := s.Train(ctx, 0, true); err != nil {
			t.Fatalf("train step %d: %v", i, err)
		}
	}
	mse := c.Results.History("mse")
	if len(mse) != 200 {
		t.Fatalf("expected 200 mse values, got %d", len(mse))
	}
	if mse[len(mse)-1] >= mse[0]/10 {
		t.Fatalf("expected loss to drop by an order of magnitude: first=%v last=%v", mse[0], mse[len(mse)-1])
	}
	if r2, ok := c.Results.Last("r2"); !ok || r2 < 0.9 {
		t.Fatalf("expected a good fit, r2=%v", r2)
	}
	if got := c.Results.Group("losses")["linear"]; len(got) != 200 {
		t.Fatalf("expected losses keyed by canonical net, got %v", c.Results.Group("losses"))
	}
}

func TestRegressionRejectsMismatchedBatch(t *testing.T) {
	reg := plugin.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	desc, err := reg.Lookup(stage.KindRoutine, "regression")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	c := composition.New("manual")
	c.Nets.Set("net", NewLinear(2, 1))
	r := desc.NewRoutine("", nil, nil)
	if err := c.AttachRoutine("", r); err != nil {
		t.Fatalf("attach: %v", err)
	}
	x, _ := tensor.FromSlice([]float64{1, 2, 3}, 1, 3)
	r.Inputs = stage.Inputs{"x": x, "y": tensor.Scalar(1)}
	if _, err := r.Perform(stage.Kwargs{}); err == nil {
		t.Fatal("expected width mismatch error")
	}
}

func TestRegressionScalesTargets(t *testing.T) {
	y, _ := tensor.FromSlice([]float64{1, 2}, 2)
	got, err := scaled(y, 3, []int{2, 1})
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	if v := got.Values(); v[0] != 3 || v[1] != 6 || got.Cols() != 1 {
		t.Fatalf("unexpected scaled targets %v %v", v, got.Shape())
	}
	same, _ := scaled(y, 0, []int{2, 1})
	if v := same.Values(); v[0] != 1 || v[1] != 2 {
		t.Fatalf("zero scale should leave targets unchanged: %v", v)
	}
}

func TestLinearModeSwitching(t *testing.T) {
	l := NewLinear(2, 1)
	c := composition.New("modes")
	c.Nets.Set("linear", l)
	c.SetEval()
	if l.Training() {
		t.Fatal("expected eval mode")
	}
	c.SetTrain()
	if !l.Training() {
		t.Fatal("expected train mode")
	}
}
