package builtins

import (
	"fmt"
	"math"

	"github.com/born-ml/born/nn"

	"github.com/kingrea/cortex/internal/stage"
	"github.com/kingrea/cortex/internal/tensor"
)

type regressionArgs struct {
	TargetScale float64 `help:"factor applied to the targets before the loss"`
}

// runRegression fits the net to (x, y) with born's mean squared error.
func runRegression(r *stage.Routine, kw stage.Kwargs) (stage.Outputs, error) {
	var args regressionArgs
	if err := kw.Decode(&args); err != nil {
		return nil, err
	}
	res, err := r.Net("net")
	if err != nil {
		return nil, err
	}
	net, ok := res.(*Linear)
	if !ok {
		return nil, fmt.Errorf("regression: net is %T, want *Linear", res)
	}
	x, err := tensorInput(r.Inputs, "x")
	if err != nil {
		return nil, err
	}
	y, err := tensorInput(r.Inputs, "y")
	if err != nil {
		return nil, err
	}
	pred, err := net.Forward(x)
	if err != nil {
		return nil, err
	}
	if pred.Len() != y.Len() {
		return nil, fmt.Errorf("regression: %d predictions for %d targets", pred.Len(), y.Len())
	}
	target, err := scaled(y, args.TargetScale, pred.Shape())
	if err != nil {
		return nil, err
	}

	criterion := nn.NewMSELoss(tensor.Default())
	loss := tensor.NewLoss(criterion.Forward(pred.Dense(), target.Dense()), net.Params())
	if err := r.AddLoss("net", loss); err != nil {
		return nil, err
	}
	r.AddResult("mse", loss.Item())
	return stage.Outputs{"prediction": pred}, nil
}

// scaled copies y into shape, multiplying by scale when it is set.
func scaled(y *tensor.Tensor, scale float64, shape []int) (*tensor.Tensor, error) {
	values := y.Values()
	if scale != 0 && scale != 1 {
		for i := range values {
			values[i] *= scale
		}
	}
	return tensor.FromSlice(values, shape...)
}

// runScore reports the coefficient of determination of a prediction.
func runScore(r *stage.Routine, kw stage.Kwargs) (stage.Outputs, error) {
	pred, err := tensorInput(r.Inputs, "prediction")
	if err != nil {
		return nil, err
	}
	target, err := tensorInput(r.Inputs, "target")
	if err != nil {
		return nil, err
	}
	if pred.Len() != target.Len() {
		return nil, fmt.Errorf("score: %d predictions for %d targets", pred.Len(), target.Len())
	}
	mean := target.Mean()
	want, got := target.Values(), pred.Values()
	var ssRes, ssTot float64
	for i := range want {
		d := want[i] - got[i]
		ssRes += d * d
		m := want[i] - mean
		ssTot += m * m
	}
	r2 := math.NaN()
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	r.AddResult("r2", r2)
	return nil, nil
}

func tensorInput(in stage.Inputs, name string) (*tensor.Tensor, error) {
	v, ok := in.Get(name)
	if !ok {
		return nil, fmt.Errorf("input %s is not wired", name)
	}
	t, ok := v.(*tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("input %s is %T, want *tensor.Tensor", name, v)
	}
	return t, nil
}
