package composition

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kingrea/cortex/internal/namespace"
	"github.com/kingrea/cortex/internal/results"
	"github.com/kingrea/cortex/internal/stage"
)

var (
	ErrUnknownAliasTarget = errors.New("composition: unknown alias target")
	ErrDuplicateStage     = errors.New("composition: stage already attached")
	ErrCheckFailed        = errors.New("composition: check failed")
)

// Option configures a Composition.
type Option func(*Composition)

// WithLogger sets the logger used for merge warnings.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Composition) { c.logger = logger }
}

// Composition is an assembled set of stages sharing canonical namespaces.
type Composition struct {
	Name string

	Kwargs *namespace.Map
	Nets   *namespace.Map
	Vars   *namespace.Map
	Help   *namespace.Map

	// Results accumulates per-step scalars for the lifetime of the run.
	Results *results.Accumulator

	buildKeys   []string
	builds      map[string]*stage.Build
	routineKeys []string
	routines    map[string]*stage.Routine

	train []Procedure
	eval  []Procedure

	defaults map[string]map[string]any
	losses   *namespace.Map
	logger   zerolog.Logger
}

// New returns an empty composition.
func New(name string, opts ...Option) *Composition {
	c := &Composition{
		Name:     name,
		Kwargs:   namespace.NewMap(),
		Nets:     namespace.NewMap(),
		Vars:     namespace.NewMap(),
		Help:     namespace.NewMap(),
		Results:  results.NewAccumulator(),
		builds:   map[string]*stage.Build{},
		routines: map[string]*stage.Routine{},
		defaults: map[string]map[string]any{},
		losses:   namespace.NewMap(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AttachBuild binds b to the canonical namespaces under key.
func (c *Composition) AttachBuild(key string, b *stage.Build) error {
	if b == nil {
		return fmt.Errorf("composition: build %s is nil", key)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = b.Plugin
	}
	if _, exists := c.builds[key]; exists {
		return fmt.Errorf("%w: build %s", ErrDuplicateStage, key)
	}
	kwargs := namespace.NewAlias(c.Kwargs)
	nets := namespace.NewAlias(c.Nets)
	help := namespace.NewAlias(c.Help)
	for _, local := range sortedKeys(b.Aliases) {
		target := b.Aliases[local]
		switch {
		case b.Roles.HasNet(local):
			nets.SetAlias(local, target)
		case b.Roles.HasParam(local):
			kwargs.SetAlias(local, target)
			help.SetAlias(local, target)
		default:
			return fmt.Errorf("%w: build %s has no net or parameter %s (aliased to %s)", ErrUnknownAliasTarget, key, local, target)
		}
	}
	b.Kwargs, b.Nets, b.Help = kwargs, nets, help
	c.builds[key] = b
	c.buildKeys = append(c.buildKeys, key)
	return nil
}

// AttachRoutine binds r to the canonical namespaces under key, which
// defaults to the routine's name.
func (c *Composition) AttachRoutine(key string, r *stage.Routine) error {
	if r == nil {
		return fmt.Errorf("composition: routine %s is nil", key)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = r.Name
	}
	if _, exists := c.routines[key]; exists {
		return fmt.Errorf("%w: routine %s", ErrDuplicateStage, key)
	}
	kwargs := namespace.NewAlias(c.Kwargs)
	nets := namespace.NewAlias(c.Nets)
	vars := namespace.NewAlias(c.Vars)
	help := namespace.NewAlias(c.Help)
	for _, local := range sortedKeys(r.Aliases) {
		target := r.Aliases[local]
		switch {
		case r.Roles.HasNet(local):
			nets.SetAlias(local, target)
		case r.Roles.HasVar(local):
			vars.SetAlias(local, target)
		case r.Roles.HasParam(local):
			kwargs.SetAlias(local, target)
			help.SetAlias(local, target)
		default:
			return fmt.Errorf("%w: routine %s has no net, var or parameter %s (aliased to %s)", ErrUnknownAliasTarget, key, local, target)
		}
	}
	r.Kwargs, r.Nets, r.Vars, r.Help = kwargs, nets, vars, help
	c.routines[key] = r
	c.routineKeys = append(c.routineKeys, key)
	return nil
}

// Build returns the build attached under key.
func (c *Composition) Build(key string) (*stage.Build, bool) {
	b, ok := c.builds[key]
	return b, ok
}

// Routine returns the routine attached under key.
func (c *Composition) Routine(key string) (*stage.Routine, bool) {
	r, ok := c.routines[key]
	return r, ok
}

// BuildKeys returns build keys in attach order.
func (c *Composition) BuildKeys() []string {
	return append([]string(nil), c.buildKeys...)
}

// RoutineKeys returns routine keys in attach order.
func (c *Composition) RoutineKeys() []string {
	return append([]string(nil), c.routineKeys...)
}

// SetDefaults records section defaults (data, optimizer, train) that the
// driver merges beneath its own configuration.
func (c *Composition) SetDefaults(section string, values map[string]any) {
	merged := c.defaults[section]
	if merged == nil {
		merged = map[string]any{}
		c.defaults[section] = merged
	}
	for k, v := range values {
		merged[k] = v
	}
}

// Defaults returns a copy of the defaults recorded for section.
func (c *Composition) Defaults(section string) map[string]any {
	out := map[string]any{}
	for k, v := range c.defaults[section] {
		out[k] = v
	}
	return out
}

// Check verifies that every attached stage is of its expected kind with an
// entry point and that every procedure step names an attached routine.
func (c *Composition) Check() error {
	var problems []string
	for _, key := range c.buildKeys {
		b := c.builds[key]
		if b.Kind != stage.KindBuild {
			problems = append(problems, fmt.Sprintf("build %s is a %s plugin", key, b.Kind))
		} else if b.Func == nil {
			problems = append(problems, fmt.Sprintf("build %s has no entry point", key))
		}
	}
	for _, key := range c.routineKeys {
		r := c.routines[key]
		if r.Kind != stage.KindRoutine {
			problems = append(problems, fmt.Sprintf("routine %s is a %s plugin", key, r.Kind))
		} else if r.Func == nil {
			problems = append(problems, fmt.Sprintf("routine %s has no entry point", key))
		}
	}
	for _, group := range [][]Procedure{c.train, c.eval} {
		for _, proc := range group {
			for _, step := range proc.Steps {
				if _, ok := c.routines[step.Routine]; !ok {
					problems = append(problems, fmt.Sprintf("procedure %s references unknown routine %s", proc.Name, step.Routine))
				}
				if step.Repeat < 0 {
					problems = append(problems, fmt.Sprintf("procedure %s repeats %s %d times", proc.Name, step.Routine, step.Repeat))
				}
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrCheckFailed, c.Name, strings.Join(problems, "; "))
	}
	return nil
}

// ResetRoutines drops per-step routine state and loss bookkeeping.
func (c *Composition) ResetRoutines() {
	c.losses.Clear()
	for _, key := range c.routineKeys {
		c.routines[key].Reset()
	}
}

// Reset drops per-step routine state and clears every results history.
func (c *Composition) Reset() {
	c.ResetRoutines()
	c.Results.Clear()
}

// RecordLoss stores the scalar loss reported for a canonical net this step.
func (c *Composition) RecordLoss(net string, value float64) {
	c.losses.Set(net, value)
}

// Losses returns the scalar losses recorded during the current step.
func (c *Composition) Losses() map[string]float64 {
	out := make(map[string]float64, c.losses.Len())
	c.losses.Range(func(k string, v any) bool {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
		return true
	})
	return out
}

// SetTrain switches every resource that supports it into training mode.
func (c *Composition) SetTrain() { c.eachModeSetter(stage.ModeSetter.Train) }

// SetEval switches every resource that supports it into evaluation mode.
func (c *Composition) SetEval() { c.eachModeSetter(stage.ModeSetter.Eval) }

func (c *Composition) eachModeSetter(fn func(stage.ModeSetter)) {
	c.Nets.Range(func(_ string, v any) bool {
		if m, ok := v.(stage.ModeSetter); ok {
			fn(m)
		}
		return true
	})
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
