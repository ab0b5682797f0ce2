// Package experiment drives a training run: it composes the configured model,
// opens its data, builds resources and optimizers, then alternates training
// and evaluation epochs while persisting results.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kingrea/cortex/internal/composition"
	"github.com/kingrea/cortex/internal/config"
	"github.com/kingrea/cortex/internal/data"
	"github.com/kingrea/cortex/internal/device"
	"github.com/kingrea/cortex/internal/monitor"
	"github.com/kingrea/cortex/internal/optim"
	"github.com/kingrea/cortex/internal/plugin"
	"github.com/kingrea/cortex/internal/results"
	"github.com/kingrea/cortex/internal/scheduler"
)

const (
	PhaseTrain = "train"
	PhaseEval  = "eval"
)

// Progress is reported after every step and once more when the run ends.
type Progress struct {
	RunID  string
	Model  string
	Phase  string
	Epoch  int
	Epochs int
	Step   int
	// Steps is the planned number of steps in the phase, or 0 when the
	// source decides.
	Steps  int
	Values map[string]float64
	Done   bool
	Err    error
}

type Option func(*Runner)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithArgs overrides model kwargs after the config's own.
func WithArgs(args map[string]any) Option {
	return func(r *Runner) { r.args = args }
}

func WithRecorder(rec scheduler.Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

func WithStore(store results.Store) Option {
	return func(r *Runner) { r.store = store }
}

func WithMonitor(m *monitor.Server) Option {
	return func(r *Runner) { r.monitor = m }
}

func WithProgress(fn func(Progress)) Option {
	return func(r *Runner) { r.progress = fn }
}

// WithExit replaces the strict-mode termination function.
func WithExit(exit func(code int)) Option {
	return func(r *Runner) { r.exit = exit }
}

// Runner owns one experiment run.
type Runner struct {
	cfg      *config.Config
	reg      *plugin.Registry
	logger   zerolog.Logger
	args     map[string]any
	recorder scheduler.Recorder
	store    results.Store
	monitor  *monitor.Server
	progress func(Progress)
	exit     func(code int)

	runID   string
	comp    *composition.Composition
	optims  *optim.Registry
	trainDS data.Source
	evalDS  data.Source
	sched   *scheduler.Scheduler

	// evalSummary holds one mean per key and epoch.
	evalSummary *results.Accumulator
	ready       bool
}

func New(cfg *config.Config, reg *plugin.Registry, opts ...Option) *Runner {
	r := &Runner{
		cfg:         cfg,
		reg:         reg,
		logger:      zerolog.Nop(),
		store:       results.NewMemoryStore(),
		runID:       uuid.NewString(),
		evalSummary: results.NewAccumulator(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) RunID() string { return r.runID }

// Composition returns the composed model, nil before Setup.
func (r *Runner) Composition() *composition.Composition { return r.comp }

// EvalSummary returns the per-epoch evaluation means.
func (r *Runner) EvalSummary() *results.Accumulator { return r.evalSummary }

// Setup composes the model and prepares data, resources and optimizers.
// Run calls it when it has not been called yet.
func (r *Runner) Setup(ctx context.Context) error {
	exp := &r.cfg.Experiment
	comp, err := composition.Compose(r.reg, exp.Model.Name, r.logger)
	if err != nil {
		return err
	}
	r.comp = comp
	err = r.cfg.ApplyModelDefaults(map[string]map[string]any{
		"data":      comp.Defaults("data"),
		"optimizer": comp.Defaults("optimizer"),
		"train":     comp.Defaults("train"),
	})
	if err != nil {
		return err
	}

	if err := r.setupData(); err != nil {
		return err
	}
	if err := r.setupModel(); err != nil {
		return err
	}
	if err := r.setupExperiment(ctx); err != nil {
		return err
	}
	if err := r.setupOptimizer(); err != nil {
		return err
	}

	dev, err := device.Parse(exp.Device)
	if err != nil {
		return err
	}
	opts := []scheduler.Option{
		scheduler.WithLogger(r.logger),
		scheduler.WithOptimizers(r.optims),
		scheduler.WithDevice(dev),
	}
	if r.recorder != nil {
		opts = append(opts, scheduler.WithRecorder(r.recorder))
	}
	if r.exit != nil {
		opts = append(opts, scheduler.WithExit(r.exit))
	}
	r.sched = scheduler.New(comp, r.trainDS, opts...)
	r.ready = true
	return nil
}

func (r *Runner) section(name string) {
	r.logger.Info().Str("section", name).Msg("")
}

func (r *Runner) setupData() error {
	r.section("data")
	exp := r.cfg.Experiment
	cfg := data.Config{
		Source:    exp.Data.Source,
		BatchSize: exp.Data.BatchSize,
		Batches:   exp.Data.Batches,
		DimIn:     exp.Data.DimIn,
		Noise:     exp.Data.Noise,
		Seed:      exp.Data.Seed,
	}
	train, err := data.Open(cfg)
	if err != nil {
		return err
	}
	eval, err := data.Open(cfg.EvalConfig(exp.Data.EvalBatches))
	if err != nil {
		return err
	}
	r.trainDS, r.evalDS = train, eval
	r.logger.Info().
		Str("source", cfg.Source).
		Int("batch_size", cfg.BatchSize).
		Int("batches", cfg.Batches).
		Int("dim_in", cfg.DimIn).
		Msg("data ready")
	return nil
}

func (r *Runner) setupModel() error {
	r.section("model")
	comp := r.comp
	comp.CollectKwargs()
	comp.CollectHelp()

	args := map[string]any{}
	if comp.Kwargs.Has("dim_in") {
		args["dim_in"] = r.cfg.Experiment.Data.DimIn
	}
	for k, v := range r.cfg.Experiment.Model.Kwargs {
		args[k] = v
	}
	for k, v := range r.args {
		args[k] = v
	}
	for _, k := range sortedKeys(args) {
		if !comp.Kwargs.Has(k) {
			r.logger.Warn().Str("kwarg", k).Msg("override does not match any model kwarg")
		}
	}
	comp.SetArgs(args)

	kwargs := comp.KwargsMap()
	for _, k := range sortedKeys(kwargs) {
		r.logger.Debug().Str("kwarg", k).Str("value", fmt.Sprint(kwargs[k])).Msg("model kwarg")
	}
	if err := comp.BuildResources(comp.UnpackArgs(kwargs)); err != nil {
		return err
	}
	r.logger.Info().
		Str("model", comp.Name).
		Strs("builds", comp.BuildKeys()).
		Strs("routines", comp.RoutineKeys()).
		Msg("model built")
	return nil
}

func (r *Runner) setupExperiment(ctx context.Context) error {
	r.section("experiment")
	if err := r.store.Init(ctx); err != nil {
		return fmt.Errorf("experiment: init results store: %w", err)
	}
	if r.monitor != nil {
		r.monitor.Attach(PhaseTrain, r.comp.Results)
		r.monitor.Attach(PhaseEval, r.evalSummary)
		r.monitor.SetStatus(monitor.Status{RunID: r.runID, Model: r.comp.Name, Mode: "setup"})
	}
	r.logger.Info().Str("run_id", r.runID).Str("name", r.cfg.Experiment.Name).Msg("experiment ready")
	return nil
}

func (r *Runner) setupOptimizer() error {
	r.section("optimizer")
	o := r.cfg.Experiment.Optimizer
	overrides := make(map[string]optim.Settings, len(o.Nets))
	for key, s := range o.Nets {
		overrides[key] = settings(s)
	}
	reg, err := optim.Setup(r.comp.NetsMap(), settings(o.OptimizerSettings), overrides)
	if err != nil {
		return err
	}
	r.optims = reg
	r.logger.Info().
		Str("optimizer", o.Name).
		Float64("learning_rate", o.LearningRate).
		Strs("nets", reg.Keys()).
		Msg("optimizers ready")
	return nil
}

func settings(s config.OptimizerSettings) optim.Settings {
	return optim.Settings{
		Name:         s.Name,
		LearningRate: s.LearningRate,
		Momentum:     s.Momentum,
	}
}

// Run trains for the configured epochs, evaluating and persisting after each
// one. With eval_only it evaluates once and returns.
func (r *Runner) Run(ctx context.Context) (results.Run, error) {
	if !r.ready {
		if err := r.Setup(ctx); err != nil {
			r.report(Progress{Done: true, Err: err})
			return results.Run{}, err
		}
	}
	run, err := r.run(ctx)
	r.report(Progress{Epoch: run.Epoch, Done: true, Err: err})
	return run, err
}

func (r *Runner) run(ctx context.Context) (results.Run, error) {
	train := r.cfg.Experiment.Train
	if train.EvalOnly {
		r.section("evaluation")
		if err := r.evaluate(ctx, 0); err != nil {
			return results.Run{}, err
		}
		return r.persist(ctx, 0)
	}

	r.section("train")
	var run results.Run
	for epoch := 1; epoch <= train.Epochs; epoch++ {
		start := time.Now()
		steps, err := r.trainEpoch(ctx, epoch)
		if err != nil {
			return run, err
		}
		if err := r.evaluate(ctx, epoch); err != nil {
			return run, err
		}
		run, err = r.persist(ctx, epoch)
		if err != nil {
			return run, err
		}
		r.logger.Info().
			Int("epoch", epoch).
			Int("steps", steps).
			Dur("elapsed", time.Since(start)).
			Msg("epoch complete")
	}
	return run, nil
}

func (r *Runner) trainEpoch(ctx context.Context, epoch int) (int, error) {
	train := r.cfg.Experiment.Train
	r.comp.SetTrain()
	resetSource(r.trainDS)
	r.sched.SetSource(r.trainDS)

	planned := train.StepsPerEpoch
	if planned == 0 {
		planned = r.cfg.Experiment.Data.Batches
	}
	step := 0
	for train.StepsPerEpoch == 0 || step < train.StepsPerEpoch {
		err := r.sched.Train(ctx, train.Procedure, train.Strict)
		if errors.Is(err, data.ErrEndOfEpoch) {
			break
		}
		if err != nil {
			return step, fmt.Errorf("experiment: epoch %d step %d: %w", epoch, step, err)
		}
		step++
		r.report(Progress{Phase: PhaseTrain, Epoch: epoch, Step: step, Steps: planned, Values: lastValues(r.comp.Results)})
	}
	return step, nil
}

// evaluate runs the eval procedure over the held-out source into a scratch
// accumulator and appends each key's mean to the run's eval summary.
func (r *Runner) evaluate(ctx context.Context, epoch int) error {
	train := r.cfg.Experiment.Train
	r.comp.SetEval()
	resetSource(r.evalDS)
	r.sched.SetSource(r.evalDS)

	trainResults := r.comp.Results
	scratch := results.NewAccumulator()
	r.comp.Results = scratch
	defer func() {
		r.comp.Results = trainResults
		r.sched.SetSource(r.trainDS)
	}()

	step := 0
	for train.EvalSteps == 0 || step < train.EvalSteps {
		err := r.sched.Evaluate(ctx, train.Procedure, train.Strict)
		if errors.Is(err, data.ErrEndOfEpoch) {
			break
		}
		if err != nil {
			return fmt.Errorf("experiment: evaluation step %d: %w", step, err)
		}
		step++
		r.report(Progress{Phase: PhaseEval, Epoch: epoch, Step: step, Steps: train.EvalSteps, Values: lastValues(scratch)})
	}

	means := map[string]float64{}
	for _, key := range scratch.Keys() {
		m := mean(scratch.History(key))
		means[key] = m
		r.evalSummary.Append(key, m)
	}
	event := r.logger.Info().Int("epoch", epoch).Int("steps", step)
	for _, key := range sortedKeys(means) {
		event = event.Float64(key, means[key])
	}
	event.Msg("evaluation")
	return nil
}

func (r *Runner) persist(ctx context.Context, epoch int) (results.Run, error) {
	run := results.Run{
		ID:        r.runID,
		Model:     r.comp.Name,
		Epoch:     epoch,
		UpdatedAt: time.Now().UTC(),
		Train:     r.comp.Results.Snapshot(),
		Eval:      r.evalSummary.Snapshot(),
	}
	if err := r.store.SaveRun(ctx, run); err != nil {
		return run, fmt.Errorf("experiment: save run: %w", err)
	}
	return run, nil
}

func (r *Runner) report(p Progress) {
	p.RunID = r.runID
	p.Epochs = r.cfg.Experiment.Train.Epochs
	if r.comp != nil {
		p.Model = r.comp.Name
	}
	if r.monitor != nil {
		mode := p.Phase
		if p.Done {
			mode = "done"
		}
		r.monitor.SetStatus(monitor.Status{RunID: p.RunID, Model: p.Model, Mode: mode, Epoch: p.Epoch, Step: p.Step})
	}
	if r.progress != nil {
		r.progress(p)
	}
}

func resetSource(src data.Source) {
	if rs, ok := src.(data.Resetter); ok {
		rs.Reset()
	}
}

func lastValues(acc *results.Accumulator) map[string]float64 {
	out := map[string]float64{}
	for _, key := range acc.Keys() {
		if v, ok := acc.Last(key); ok {
			out[key] = v
		}
	}
	return out
}

// mean averages the finite values of history; NaN when there are none.
func mean(history []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range history {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
