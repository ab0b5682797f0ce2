package builtins

import (
	"github.com/kingrea/cortex/internal/plugin"
	"github.com/kingrea/cortex/internal/stage"
)

// Register adds the reference plugins to reg.
func Register(reg *plugin.Registry) error {
	descriptors := []struct {
		kind stage.Kind
		desc plugin.Descriptor
	}{
		{stage.KindBuild, plugin.Descriptor{
			Name:        "linear",
			Description: "dense linear resource",
			Args:        linearArgs{DimIn: 4, DimOut: 1},
			Nets:        []string{"net"},
			Build:       buildLinear,
		}},
		{stage.KindRoutine, plugin.Descriptor{
			Name:        "regression",
			Description: "mean squared error regression",
			Args:        regressionArgs{TargetScale: 1},
			Inputs:      []string{"x", "y"},
			Nets:        []string{"net"},
			Trains:      []string{"net"},
			Run:         runRegression,
		}},
		{stage.KindRoutine, plugin.Descriptor{
			Name:        "score",
			Description: "coefficient of determination",
			Inputs:      []string{"prediction", "target"},
			Run:         runScore,
		}},
		{stage.KindModel, plugin.Descriptor{
			Name:        "linear_regression",
			Description: "linear model fit to synthetic regression data",
			Compose:     composeLinearRegression,
		}},
	}
	for _, d := range descriptors {
		if err := reg.Register(d.kind, d.desc); err != nil {
			return err
		}
	}
	return nil
}

func composeLinearRegression(reg *plugin.Registry, c plugin.Composer) error {
	linear, err := reg.Lookup(stage.KindBuild, "linear")
	if err != nil {
		return err
	}
	regression, err := reg.Lookup(stage.KindRoutine, "regression")
	if err != nil {
		return err
	}
	score, err := reg.Lookup(stage.KindRoutine, "score")
	if err != nil {
		return err
	}
	if err := c.AttachBuild("linear", linear.NewBuild(map[string]string{"net": "linear"})); err != nil {
		return err
	}
	fit := regression.NewRoutine("", map[string]string{"net": "linear"}, map[string]stage.InputRef{
		"x": stage.Key("data.x"),
		"y": stage.Key("data.y"),
	})
	if err := c.AttachRoutine("regression", fit); err != nil {
		return err
	}
	eval := score.NewRoutine("", nil, map[string]stage.InputRef{
		"prediction": stage.Key("regression.prediction"),
		"target":     stage.Key("data.y"),
	})
	if err := c.AttachRoutine("score", eval); err != nil {
		return err
	}
	c.AddTrainProcedure("main", stage.Step{Routine: "regression", Repeat: 1}, stage.Step{Routine: "score", Repeat: 1})
	c.SetDefaults("data", map[string]any{"source": "synthetic", "batch_size": 32, "batches": 16, "dim_in": 4, "noise": 0.1})
	c.SetDefaults("optimizer", map[string]any{"name": "sgd", "learning_rate": 0.1})
	c.SetDefaults("train", map[string]any{"epochs": 5})
	return nil
}
