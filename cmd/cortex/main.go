// cmd/cortex/main.go
//
// Entry point for the cortex CLI. It loads the experiment config, builds the
// plugin registry from the built-in plugins and any blueprint directories,
// then trains the selected model in plain or TUI mode.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/kingrea/cortex/internal/builtins"
	"github.com/kingrea/cortex/internal/composition"
	"github.com/kingrea/cortex/internal/config"
	"github.com/kingrea/cortex/internal/experiment"
	"github.com/kingrea/cortex/internal/logging"
	"github.com/kingrea/cortex/internal/metrics"
	"github.com/kingrea/cortex/internal/monitor"
	"github.com/kingrea/cortex/internal/plugin"
	"github.com/kingrea/cortex/internal/results"
	"github.com/kingrea/cortex/internal/stage"
	"github.com/kingrea/cortex/internal/tui"
	"github.com/kingrea/cortex/plugins"
)

func main() {
	runDir := flag.String("dir", "", "run directory holding .cortex/ (defaults to cwd)")
	configPath := flag.String("config", "", "experiment config file (.yaml, .yml or .toml)")
	modelName := flag.String("model", "", "model plugin to train (overrides model.name)")
	sets := keyValueFlag{}
	flag.Var(&sets, "set", "model kwarg override (key=value, repeatable)")
	helpKwargs := flag.Bool("help-kwargs", false, "list the model's kwargs with defaults and help, then exit")
	listModels := flag.Bool("list-models", false, "list the model plugins that compose cleanly, then exit")
	evalOnly := flag.Bool("eval-only", false, "set up the model and evaluate once without training")
	strict := flag.Bool("strict", false, "stop the run on the first non-finite result")
	useTUI := flag.Bool("tui", false, "show the interactive training view")
	monitorAddr := flag.String("monitor", "", "serve results and /metrics on this address")
	storeKind := flag.String("store", "", "results store backend (memory or sqlite)")
	logLevel := flag.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flag.Parse()

	dir := *runDir
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
	}
	absoluteDir, err := filepath.Abs(dir)
	if err != nil {
		die("resolve run dir: %v", err)
	}
	if err := config.InitCortexDir(absoluteDir); err != nil {
		die("init .cortex: %v", err)
	}
	cfg, err := config.NewConfig(absoluteDir, *configPath)
	if err != nil {
		die("load config: %v", err)
	}
	exp := &cfg.Experiment
	if name := strings.TrimSpace(*modelName); name != "" {
		exp.Model.Name = name
	}
	if *evalOnly {
		exp.Train.EvalOnly = true
	}
	if *strict {
		exp.Train.Strict = true
	}
	if addr := strings.TrimSpace(*monitorAddr); addr != "" {
		exp.Monitor.Enabled = true
		exp.Monitor.Addr = addr
	}
	if kind := strings.TrimSpace(*storeKind); kind != "" {
		exp.Results.Store = strings.ToLower(kind)
	}
	if level := strings.TrimSpace(*logLevel); level != "" {
		exp.Logging.Level = level
	}

	logOpts := logging.Options{App: "cortex", Level: exp.Logging.Level}
	if exp.Logging.File || *useTUI {
		logOpts.Dir = cfg.LogsDir()
	}
	if *useTUI {
		logOpts.Console = io.Discard
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		die("init logging: %v", err)
	}
	defer logger.Close()

	reg := plugin.NewRegistry()
	if err := builtins.Register(reg); err != nil {
		die("register builtins: %v", err)
	}
	if err := plugins.RegisterBlueprints(reg, cfg.BlueprintDirs()...); err != nil {
		die("load blueprints: %v", err)
	}

	if *listModels {
		for _, m := range availableModels(reg, logger.Logger) {
			fmt.Printf("%-24s %s\n", m.Name, m.Summary)
		}
		return
	}
	if *helpKwargs {
		kwargs, err := experiment.Describe(reg, exp.Model.Name, logger.Logger)
		if err != nil {
			die("describe %s: %v", exp.Model.Name, err)
		}
		if err := experiment.WriteKwargs(os.Stdout, kwargs); err != nil {
			die("write kwargs: %v", err)
		}
		return
	}

	store, err := results.NewStore(exp.Results.Store, cfg.ResultsPath())
	if err != nil {
		die("open results store: %v", err)
	}
	defer results.CloseIfSupported(store)

	collectors := metrics.Default()
	var mon *monitor.Server
	if exp.Monitor.Enabled {
		mon = monitor.New(exp.Monitor.Addr,
			monitor.WithLogger(logger.Logger),
			monitor.WithMetrics(collectors, prometheus.DefaultGatherer),
			monitor.WithStore(store),
		)
		if err := mon.Start(); err != nil {
			die("start monitor: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mon.Shutdown(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	newRunner := func(progress func(experiment.Progress), extra ...experiment.Option) *experiment.Runner {
		opts := []experiment.Option{
			experiment.WithLogger(logger.Logger),
			experiment.WithArgs(sets),
			experiment.WithRecorder(collectors),
			experiment.WithStore(store),
		}
		if mon != nil {
			opts = append(opts, experiment.WithMonitor(mon))
		}
		if progress != nil {
			opts = append(opts, experiment.WithProgress(progress))
		}
		opts = append(opts, extra...)
		return experiment.New(cfg, reg, opts...)
	}

	if *useTUI {
		exit := &deferredExit{}
		start := func(ctx context.Context, model string, progress func(experiment.Progress)) error {
			exp.Model.Name = model
			_, err := newRunner(progress, experiment.WithExit(exit.request)).Run(ctx)
			return err
		}
		var appOpts []tui.AppOption
		if strings.TrimSpace(*modelName) != "" {
			appOpts = append(appOpts, tui.WithModel(exp.Model.Name))
		}
		p := tea.NewProgram(
			tui.NewApp(availableModels(reg, logger.Logger), start, appOpts...),
			tea.WithAltScreen(),
			tea.WithContext(ctx),
		)
		exit.quit = p.Quit
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			die("run TUI: %v", err)
		}
		if code := exit.Code(); code != 0 {
			logger.Close()
			fmt.Fprintf(os.Stderr, "run %s stopped on a non-finite result\n", exp.Model.Name)
			os.Exit(code)
		}
		return
	}

	runner := newRunner(nil)
	run, err := runner.Run(ctx)
	if err != nil {
		die("run %s: %v", exp.Model.Name, err)
	}
	fmt.Printf("Run %s finished after %d epoch(s).\n", run.ID, run.Epoch)
	keys := make([]string, 0, len(run.Eval.Values))
	for k := range run.Eval.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		history := run.Eval.Values[k]
		if len(history) == 0 {
			continue
		}
		fmt.Printf("  eval %-12s %.6g\n", k, history[len(history)-1])
	}
}

// availableModels lists the model plugins that compose and check cleanly.
func availableModels(reg *plugin.Registry, logger zerolog.Logger) []tui.ModelInfo {
	found := composition.Discover(reg, logger)
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	models := make([]tui.ModelInfo, 0, len(names))
	for _, name := range names {
		info := tui.ModelInfo{Name: name}
		if desc, err := reg.Lookup(stage.KindModel, name); err == nil {
			info.Summary = desc.Description
		}
		models = append(models, info)
	}
	return models
}

// deferredExit holds a strict-mode exit until the TUI has quit and restored
// the terminal.
type deferredExit struct {
	code atomic.Int32
	quit func()
}

func (d *deferredExit) request(code int) {
	d.code.CompareAndSwap(0, int32(code))
	if d.quit != nil {
		d.quit()
	}
}

// Code returns the first requested exit code, 0 when none.
func (d *deferredExit) Code() int { return int(d.code.Load()) }

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// keyValueFlag collects repeatable key=value overrides. Values are decoded
// as YAML scalars so numbers and booleans keep their types.
type keyValueFlag map[string]any

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	var pairs []string
	for key, value := range *kv {
		pairs = append(pairs, fmt.Sprintf("%s=%v", key, value))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ", ")
}

func (kv *keyValueFlag) Set(value string) error {
	key, parsed, err := config.ParseSetting(value)
	if err != nil {
		return err
	}
	if *kv == nil {
		*kv = keyValueFlag{}
	}
	(*kv)[key] = parsed
	return nil
}
