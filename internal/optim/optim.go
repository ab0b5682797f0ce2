// Package optim keeps one optimizer per canonical resource and exposes the
// zero-grad and step operations the scheduler drives during training.
package optim

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/born-ml/born/nn"
	bopt "github.com/born-ml/born/optim"

	"github.com/kingrea/cortex/internal/stage"
	"github.com/kingrea/cortex/internal/tensor"
)

var (
	ErrUnknownOptimizer = errors.New("optim: unknown optimizer")
	ErrNotConfigured    = errors.New("optim: no optimizer for resource")
)

// Optimizer updates a fixed set of parameters.
type Optimizer interface {
	ZeroGrad()
	Step()
}

// Settings configure an optimizer.
type Settings struct {
	Name         string
	LearningRate float64
	Momentum     float64
}

// stepper is the part of born's optimizers this package drives.
type stepper interface {
	Step(grads tensor.Grads)
	ZeroGrad()
}

// bornOptimizer steps a born optimizer with the gradients its parameters
// captured while differentiation was enabled.
type bornOptimizer struct {
	params []*tensor.Param
	inner  stepper
}

func (o *bornOptimizer) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
	o.inner.ZeroGrad()
}

func (o *bornOptimizer) Step() {
	grads := tensor.Collect(o.params)
	if len(grads) == 0 {
		return
	}
	o.inner.Step(grads)
}

// New builds the optimizer named in s over params. Parameters that are not
// born parameters are ignored.
func New(s Settings, params []stage.Parameter) (Optimizer, error) {
	wrapped := make([]*tensor.Param, 0, len(params))
	raw := make([]*nn.Parameter[tensor.Backend], 0, len(params))
	for _, p := range params {
		if tp, ok := p.(*tensor.Param); ok {
			wrapped = append(wrapped, tp)
			raw = append(raw, tp.Parameter())
		}
	}
	cfg := bopt.SGDConfig{LR: float32(s.LearningRate)}
	switch strings.ToLower(strings.TrimSpace(s.Name)) {
	case "", "sgd":
	case "momentum":
		cfg.Momentum = float32(s.Momentum)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOptimizer, s.Name)
	}
	return &bornOptimizer{params: wrapped, inner: bopt.NewSGD(raw, cfg, tensor.Default())}, nil
}

// Registry maps canonical resource keys to optimizers.
type Registry struct {
	mu   sync.RWMutex
	opts map[string]Optimizer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{opts: map[string]Optimizer{}}
}

// Set installs the optimizer for key, replacing any previous one.
func (r *Registry) Set(key string, o Optimizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts[key] = o
}

// Keys returns the configured resource keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.opts))
	for k := range r.opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ZeroGrad clears the gradients of the resource's parameters.
func (r *Registry) ZeroGrad(key string) error {
	o, err := r.get(key)
	if err != nil {
		return err
	}
	o.ZeroGrad()
	return nil
}

// Step advances the resource's optimizer by one update.
func (r *Registry) Step(key string) error {
	o, err := r.get(key)
	if err != nil {
		return err
	}
	o.Step()
	return nil
}

func (r *Registry) get(key string) (Optimizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.opts[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, key)
	}
	return o, nil
}

// Setup creates one optimizer per resource in nets. Overrides replace the
// base settings for individual keys.
func Setup(nets map[string]any, base Settings, overrides map[string]Settings) (*Registry, error) {
	reg := NewRegistry()
	keys := make([]string, 0, len(nets))
	for k := range nets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		res, ok := nets[key].(stage.Resource)
		if !ok {
			continue
		}
		s := base
		if o, ok := overrides[key]; ok {
			s = merge(base, o)
		}
		o, err := New(s, res.Parameters())
		if err != nil {
			return nil, fmt.Errorf("optim: %s: %w", key, err)
		}
		reg.Set(key, o)
	}
	return reg, nil
}

func merge(base, o Settings) Settings {
	if o.Name != "" {
		base.Name = o.Name
	}
	if o.LearningRate != 0 {
		base.LearningRate = o.LearningRate
	}
	if o.Momentum != 0 {
		base.Momentum = o.Momentum
	}
	return base
}
