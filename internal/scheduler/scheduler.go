package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingrea/cortex/internal/composition"
	"github.com/kingrea/cortex/internal/data"
	"github.com/kingrea/cortex/internal/device"
	"github.com/kingrea/cortex/internal/stage"
)

var (
	ErrMissingRequiredInput = errors.New("scheduler: missing required input")
	ErrDuplicateOutputKey   = errors.New("scheduler: duplicate output key")
	ErrUnknownProcedure     = errors.New("scheduler: unknown procedure")
	ErrUnknownRoutine       = errors.New("scheduler: unknown routine")
	ErrNumericAnomaly       = errors.New("scheduler: numeric anomaly")
	ErrNoOptimizers         = errors.New("scheduler: training requires optimizers")
)

// Optimizers exposes per-resource optimizer operations keyed by canonical
// net name.
type Optimizers interface {
	ZeroGrad(key string) error
	Step(key string) error
}

// Recorder receives step telemetry.
type Recorder interface {
	RecordStep(model, mode string, d time.Duration)
	RecordRoutine(model, routine string, d time.Duration)
	RecordLoss(model, net string, v float64)
	RecordAnomaly(model, routine string)
}

type nopRecorder struct{}

func (nopRecorder) RecordStep(string, string, time.Duration) {}

func (nopRecorder) RecordRoutine(string, string, time.Duration) {}

func (nopRecorder) RecordLoss(string, string, float64) {}

func (nopRecorder) RecordAnomaly(string, string) {}

// Options select the mode of a step.
type Options struct {
	Train bool
	// Strict terminates the process when a routine reports a non-finite
	// result.
	Strict bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithExit replaces the function called to terminate the process in strict
// mode.
func WithExit(exit func(code int)) Option {
	return func(s *Scheduler) { s.exit = exit }
}

func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

func WithDevice(d device.Device) Option {
	return func(s *Scheduler) { s.device = d }
}

func WithOptimizers(o Optimizers) Option {
	return func(s *Scheduler) { s.optims = o }
}

// Scheduler runs procedures of one composition against one data source.
type Scheduler struct {
	comp     *composition.Composition
	source   data.Source
	optims   Optimizers
	device   device.Device
	logger   zerolog.Logger
	recorder Recorder
	exit     func(code int)
}

// New returns a scheduler for comp fed by source.
func New(comp *composition.Composition, source data.Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		comp:     comp,
		source:   source,
		logger:   zerolog.Nop(),
		recorder: nopRecorder{},
		exit:     os.Exit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSource replaces the data source, for example between train and eval
// splits.
func (s *Scheduler) SetSource(source data.Source) { s.source = source }

// Train runs training procedure i.
func (s *Scheduler) Train(ctx context.Context, i int, strict bool) error {
	return s.RunProcedure(ctx, i, Options{Train: true, Strict: strict})
}

// Evaluate runs procedure i in evaluation mode: no gradients and every
// routine executes once. Strict stops on a non-finite result as in Train.
func (s *Scheduler) Evaluate(ctx context.Context, i int, strict bool) error {
	return s.RunProcedure(ctx, i, Options{Strict: strict})
}

// RunProcedure executes one step of procedure i.
func (s *Scheduler) RunProcedure(ctx context.Context, i int, opts Options) error {
	if opts.Train && s.optims == nil {
		return ErrNoOptimizers
	}
	defer device.Enter(s.device)()
	start := time.Now()

	proc, ok := s.comp.Procedure(i, opts.Train)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownProcedure, i)
	}
	if err := s.source.Next(ctx); err != nil {
		return err
	}
	pool := NewValuePool()
	pool.SeedData(s.source.Batch())

	s.comp.ResetRoutines()
	s.disableDifferentiation()

	for _, step := range proc.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, ok := s.comp.Routine(step.Routine)
		if !ok {
			return fmt.Errorf("%w: %s in procedure %s", ErrUnknownRoutine, step.Routine, proc.Name)
		}
		if err := s.runStep(ctx, step, r, pool, opts); err != nil {
			return err
		}
	}

	mode := "eval"
	if opts.Train {
		mode = "train"
	}
	s.recorder.RecordStep(s.comp.Name, mode, time.Since(start))
	return nil
}

func (s *Scheduler) runStep(ctx context.Context, step stage.Step, r *stage.Routine, pool *ValuePool, opts Options) error {
	key := step.Routine
	repeat := step.Times()
	if !opts.Train {
		repeat = 1
	}
	if err := r.CheckBindings(); err != nil {
		return err
	}
	kw, err := r.ResolvedKwargs()
	if err != nil {
		return fmt.Errorf("scheduler: routine %s: %w", key, err)
	}

	var elapsed time.Duration
	for u := 0; u < repeat; u++ {
		if u > 0 {
			if err := s.source.Next(ctx); err != nil {
				return err
			}
			pool.SeedData(s.source.Batch())
		}
		r.Reset()
		if err := wireInputs(r, pool); err != nil {
			return err
		}
		if opts.Train {
			if err := s.enableTraining(r); err != nil {
				return err
			}
		}

		started := time.Now()
		outputs, err := r.Perform(kw)
		if err != nil {
			return fmt.Errorf("scheduler: routine %s: %w", key, err)
		}
		if opts.Train {
			if err := s.backprop(r); err != nil {
				return err
			}
		}
		elapsed = time.Since(started)
		s.recorder.RecordRoutine(s.comp.Name, key, elapsed)

		if u == repeat-1 {
			for _, name := range sortedOutputs(outputs) {
				if err := pool.Set(key+"."+name, stage.Detach(outputs[name])); err != nil {
					return err
				}
			}
		}
		for _, entry := range r.Losses() {
			if entry.Loss != nil {
				r.MarkTrained(entry.Net)
			}
		}
		if err := s.checkValues(key, r, opts.Strict); err != nil {
			return err
		}
	}

	losses := map[string]float64{}
	for _, entry := range r.Losses() {
		if entry.Loss == nil {
			continue
		}
		net := r.NetKey(entry.Net)
		v := entry.Loss.Item()
		losses[net] = v
		s.comp.RecordLoss(net, v)
		s.recorder.RecordLoss(s.comp.Name, net, v)
	}
	resultsMap := make(map[string]any)
	for k, v := range r.Results() {
		resultsMap[k] = v
	}
	if err := s.comp.Results.Update(resultsMap); err != nil {
		return err
	}
	if len(losses) > 0 {
		s.comp.Results.UpdateGroup("losses", losses)
	}
	s.comp.Results.UpdateGroup("time", map[string]float64{key: elapsed.Seconds()})
	return nil
}

// wireInputs resolves declared inputs through the routine's name remap.
func wireInputs(r *stage.Routine, pool *ValuePool) error {
	inputs := stage.Inputs{}
	for _, name := range r.Roles.Inputs {
		ref := r.InputRef(name)
		v, missing := resolve(ref, pool)
		if missing != "" {
			return fmt.Errorf("%w: %s not found in inputs of routine %s; available: %s",
				ErrMissingRequiredInput, missing, r.Name, strings.Join(pool.Keys(), ", "))
		}
		inputs[name] = v
	}
	for _, name := range r.Roles.OptionalInputs {
		v, missing := resolve(r.InputRef(name), pool)
		if missing != "" {
			inputs[name] = stage.Absent
			continue
		}
		inputs[name] = v
	}
	r.Inputs = inputs
	return nil
}

func resolve(ref stage.InputRef, pool *ValuePool) (any, string) {
	if !ref.List {
		key := ref.String()
		v, ok := pool.Get(key)
		if !ok {
			return nil, key
		}
		return v, ""
	}
	values := make([]any, 0, len(ref.Keys))
	for _, key := range ref.Keys {
		v, ok := pool.Get(key)
		if !ok {
			return nil, key
		}
		values = append(values, v)
	}
	return values, ""
}

// disableDifferentiation turns gradients off on every canonical resource at
// the start of each step. Training then enables only the resources trained
// by the running routine.
func (s *Scheduler) disableDifferentiation() {
	s.comp.Nets.Range(func(_ string, v any) bool {
		if res, ok := v.(stage.Resource); ok {
			for _, p := range res.Parameters() {
				p.SetRequiresGrad(false)
			}
		}
		return true
	})
}

func (s *Scheduler) enableTraining(r *stage.Routine) error {
	for _, role := range r.Trained() {
		key := r.NetKey(role)
		if err := s.optims.ZeroGrad(key); err != nil {
			return fmt.Errorf("scheduler: routine %s: %w", r.Name, err)
		}
		res, err := r.Net(role)
		if err != nil {
			return fmt.Errorf("scheduler: routine %s: %w", r.Name, err)
		}
		for _, p := range res.Parameters() {
			p.SetRequiresGrad(true)
		}
	}
	return nil
}

func (s *Scheduler) backprop(r *stage.Routine) error {
	for _, entry := range r.Losses() {
		if entry.Loss == nil {
			continue
		}
		if err := entry.Loss.Backward(); err != nil {
			return fmt.Errorf("scheduler: routine %s loss %s: %w", r.Name, entry.Net, err)
		}
		if err := s.optims.Step(r.NetKey(entry.Net)); err != nil {
			return fmt.Errorf("scheduler: routine %s: %w", r.Name, err)
		}
	}
	return nil
}

func (s *Scheduler) checkValues(key string, r *stage.Routine, strict bool) error {
	results := r.Results()
	bad := map[string]float64{}
	for k, v := range results {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			bad[k] = v
		}
	}
	if len(bad) == 0 {
		return nil
	}
	s.recorder.RecordAnomaly(s.comp.Name, key)
	if strict {
		s.logger.Error().
			Str("routine", key).
			Str("bad", fmt.Sprint(bad)).
			Str("all", fmt.Sprint(results)).
			Msg("bad values found; quitting")
		s.exit(1)
		return fmt.Errorf("%w: routine %s", ErrNumericAnomaly, key)
	}
	s.logger.Warn().
		Str("routine", key).
		Str("bad", fmt.Sprint(bad)).
		Msg("bad values found")
	return nil
}

func sortedOutputs(outputs stage.Outputs) []string {
	names := make([]string, 0, len(outputs))
	for k := range outputs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
