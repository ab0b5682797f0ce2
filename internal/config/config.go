// internal/config/config.go
//
// This package handles experiment configuration and the .cortex directory
// structure. A run directory gets a .cortex/ folder holding logs, results and
// project-local blueprints.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// CortexDir is the name of the directory created in each run directory.
	CortexDir = ".cortex"

	defaultLogLevel  = "info"
	defaultStoreKind = "memory"
	defaultMonitor   = "127.0.0.1:8080"
	defaultModel     = "linear_regression"
)

const defaultConfigYAML = `# cortex experiment configuration
version: 1

model:
  name: linear_regression
  # blueprint_dirs:
  #   - blueprints
  # kwargs:
  #   l2: 0.001

# Sections left empty take the model's defaults.
data: {}
optimizer: {}
train: {}

results:
  store: memory

logging:
  level: info
`

// DataConfig selects the batch source.
type DataConfig struct {
	Source      string  `yaml:"source" toml:"source"`
	BatchSize   int     `yaml:"batch_size" toml:"batch_size"`
	Batches     int     `yaml:"batches" toml:"batches"`
	EvalBatches int     `yaml:"eval_batches" toml:"eval_batches"`
	DimIn       int     `yaml:"dim_in" toml:"dim_in"`
	Noise       float64 `yaml:"noise" toml:"noise"`
	Seed        int64   `yaml:"seed" toml:"seed"`
}

// ModelConfig names the model plugin and the kwargs passed to it.
type ModelConfig struct {
	Name          string         `yaml:"name" toml:"name"`
	BlueprintDirs []string       `yaml:"blueprint_dirs,omitempty" toml:"blueprint_dirs"`
	Kwargs        map[string]any `yaml:"kwargs,omitempty" toml:"kwargs"`
}

// OptimizerSettings is one optimizer configuration.
type OptimizerSettings struct {
	Name         string  `yaml:"name" toml:"name"`
	LearningRate float64 `yaml:"learning_rate" toml:"learning_rate"`
	Momentum     float64 `yaml:"momentum" toml:"momentum"`
}

// OptimizerConfig holds the base optimizer and per-net overrides keyed by
// canonical net name.
type OptimizerConfig struct {
	OptimizerSettings `yaml:",inline"`
	Nets              map[string]OptimizerSettings `yaml:"nets,omitempty" toml:"nets"`
}

// TrainConfig controls the epoch loop.
type TrainConfig struct {
	Epochs        int  `yaml:"epochs" toml:"epochs"`
	StepsPerEpoch int  `yaml:"steps_per_epoch" toml:"steps_per_epoch"`
	EvalSteps     int  `yaml:"eval_steps" toml:"eval_steps"`
	Procedure     int  `yaml:"procedure" toml:"procedure"`
	Strict        bool `yaml:"strict" toml:"strict"`
	EvalOnly      bool `yaml:"eval_only" toml:"eval_only"`
}

// ResultsConfig selects where run results are persisted.
type ResultsConfig struct {
	Store string `yaml:"store" toml:"store"`
	Path  string `yaml:"path,omitempty" toml:"path"`
}

// LoggingConfig controls the zerolog setup.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
	File  bool   `yaml:"file" toml:"file"`
}

// MonitorConfig controls the HTTP monitor.
type MonitorConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
}

// ExperimentConfig models a cortex configuration file.
type ExperimentConfig struct {
	Version   int             `yaml:"version" toml:"version"`
	Name      string          `yaml:"name,omitempty" toml:"name"`
	Device    string          `yaml:"device,omitempty" toml:"device"`
	Data      DataConfig      `yaml:"data" toml:"data"`
	Model     ModelConfig     `yaml:"model" toml:"model"`
	Optimizer OptimizerConfig `yaml:"optimizer" toml:"optimizer"`
	Train     TrainConfig     `yaml:"train" toml:"train"`
	Results   ResultsConfig   `yaml:"results" toml:"results"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Monitor   MonitorConfig   `yaml:"monitor" toml:"monitor"`
}

// Config holds the runtime configuration for one run directory.
type Config struct {
	// RunDir is the directory the experiment runs from.
	RunDir string

	// CortexRunDir is RunDir/.cortex
	CortexRunDir string

	// Path is the file the experiment was loaded from, if any.
	Path string

	Experiment ExperimentConfig
}

// InitCortexDir creates the .cortex directory structure in runDir and writes
// a starter config.yaml when none exists.
//
// Structure created:
// .cortex/
// ├── logs/        <- run logs
// ├── results/     <- persisted results
// └── blueprints/  <- project-local model blueprints
func InitCortexDir(runDir string) error {
	cortexDir := filepath.Join(runDir, CortexDir)
	dirs := []string{
		filepath.Join(cortexDir, "logs"),
		filepath.Join(cortexDir, "results"),
		filepath.Join(cortexDir, "blueprints"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return ensureConfigFile(filepath.Join(cortexDir, "config.yaml"))
}

// NewConfig loads the experiment configuration for runDir. When path is empty
// the file at .cortex/config.yaml is used if present; an explicit path must
// exist.
func NewConfig(runDir, path string) (*Config, error) {
	cfg := &Config{
		RunDir:       runDir,
		CortexRunDir: filepath.Join(runDir, CortexDir),
		Path:         strings.TrimSpace(path),
		Experiment:   defaultExperimentConfig(),
	}
	explicit := cfg.Path != ""
	if explicit {
		cfg.Path = resolvePath(runDir, cfg.Path)
	} else {
		cfg.Path = cfg.ConfigPath()
	}
	if err := cfg.load(explicit); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.CortexRunDir, "logs")
}

// ResultsDir returns the path to the results directory.
func (c *Config) ResultsDir() string {
	return filepath.Join(c.CortexRunDir, "results")
}

// BlueprintsDir returns the directory holding project-local blueprints.
func (c *Config) BlueprintsDir() string {
	return filepath.Join(c.CortexRunDir, "blueprints")
}

// ConfigPath returns the default on-disk location of the config file.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.CortexRunDir, "config.yaml")
}

// ResultsPath returns the results database path, defaulting into ResultsDir.
func (c *Config) ResultsPath() string {
	if c.Experiment.Results.Path != "" {
		return c.Experiment.Results.Path
	}
	return filepath.Join(c.ResultsDir(), "results.db")
}

// BlueprintDirs returns the configured blueprint directories followed by the
// project-local one.
func (c *Config) BlueprintDirs() []string {
	dirs := append([]string(nil), c.Experiment.Model.BlueprintDirs...)
	return append(dirs, c.BlueprintsDir())
}

func (c *Config) load(required bool) error {
	exp, err := ParseFile(c.Path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	exp.normalize(c.RunDir)
	if err := exp.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Experiment = exp
	return nil
}

// ParseFile decodes the file at path. The format follows the extension:
// .toml is TOML, anything else YAML.
func ParseFile(path string) (ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ExperimentConfig{}, err
	}
	exp, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return ExperimentConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return exp, nil
}

// Parse decodes data in the format named by ext and applies the base
// defaults. Sections a model can supply defaults for are left untouched.
func Parse(data []byte, ext string) (ExperimentConfig, error) {
	var parsed ExperimentConfig
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "toml":
		if _, err := toml.Decode(string(data), &parsed); err != nil {
			return ExperimentConfig{}, err
		}
	case "", "yaml", "yml":
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return ExperimentConfig{}, err
		}
	default:
		return ExperimentConfig{}, fmt.Errorf("unsupported config format %q", ext)
	}
	parsed.applyDefaults()
	return parsed, nil
}

// ApplyModelDefaults fills fields left unset in the data, optimizer and
// train sections from the model's defaults, then applies the built-in
// fallbacks and validates again. Values from the file always win.
func (c *Config) ApplyModelDefaults(defaults map[string]map[string]any) error {
	exp := &c.Experiment
	if err := fillSection(&exp.Data, defaults["data"]); err != nil {
		return fmt.Errorf("config: data defaults: %w", err)
	}
	if err := fillSection(&exp.Optimizer.OptimizerSettings, defaults["optimizer"]); err != nil {
		return fmt.Errorf("config: optimizer defaults: %w", err)
	}
	if err := fillSection(&exp.Train, defaults["train"]); err != nil {
		return fmt.Errorf("config: train defaults: %w", err)
	}
	exp.applyTrainingDefaults()
	if err := exp.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func defaultExperimentConfig() ExperimentConfig {
	exp := ExperimentConfig{Model: ModelConfig{Name: defaultModel}}
	exp.applyDefaults()
	return exp
}

func (ec *ExperimentConfig) applyDefaults() {
	if ec.Version == 0 {
		ec.Version = 1
	}
	if ec.Results.Store == "" {
		ec.Results.Store = defaultStoreKind
	}
	if ec.Logging.Level == "" {
		ec.Logging.Level = defaultLogLevel
	}
	if ec.Monitor.Addr == "" {
		ec.Monitor.Addr = defaultMonitor
	}
	if ec.Model.Kwargs == nil {
		ec.Model.Kwargs = map[string]any{}
	}
}

func (ec *ExperimentConfig) applyTrainingDefaults() {
	if ec.Data.BatchSize == 0 {
		ec.Data.BatchSize = 32
	}
	if ec.Data.Batches == 0 {
		ec.Data.Batches = 16
	}
	if ec.Data.DimIn == 0 {
		ec.Data.DimIn = 4
	}
	if ec.Optimizer.Name == "" {
		ec.Optimizer.Name = "sgd"
	}
	if ec.Optimizer.LearningRate == 0 {
		ec.Optimizer.LearningRate = 0.01
	}
	if ec.Train.Epochs == 0 {
		ec.Train.Epochs = 1
	}
}

func (ec *ExperimentConfig) normalize(base string) {
	ec.Name = strings.TrimSpace(ec.Name)
	ec.Device = normalizeName(ec.Device)
	ec.Data.Source = normalizeName(ec.Data.Source)
	ec.Model.Name = strings.TrimSpace(ec.Model.Name)
	for i, dir := range ec.Model.BlueprintDirs {
		ec.Model.BlueprintDirs[i] = resolvePath(base, dir)
	}
	ec.Optimizer.Name = normalizeName(ec.Optimizer.Name)
	for key, s := range ec.Optimizer.Nets {
		s.Name = normalizeName(s.Name)
		ec.Optimizer.Nets[key] = s
	}
	ec.Results.Store = normalizeName(ec.Results.Store)
	ec.Results.Path = resolvePath(base, ec.Results.Path)
	ec.Logging.Level = normalizeName(ec.Logging.Level)
	ec.Monitor.Addr = strings.TrimSpace(ec.Monitor.Addr)
}

func (ec *ExperimentConfig) validate() error {
	if ec.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if ec.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if ec.Data.BatchSize < 0 || ec.Data.Batches < 0 || ec.Data.EvalBatches < 0 {
		return fmt.Errorf("data sizes must not be negative")
	}
	if ec.Optimizer.LearningRate < 0 {
		return fmt.Errorf("optimizer.learning_rate must not be negative")
	}
	for key, s := range ec.Optimizer.Nets {
		if s.LearningRate < 0 {
			return fmt.Errorf("optimizer.nets[%s]: learning_rate must not be negative", key)
		}
	}
	if ec.Train.Epochs < 0 || ec.Train.StepsPerEpoch < 0 || ec.Train.EvalSteps < 0 {
		return fmt.Errorf("train counts must not be negative")
	}
	if ec.Train.Procedure < 0 {
		return fmt.Errorf("train.procedure must be >= 0")
	}
	switch ec.Results.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("results.store must be 'memory' or 'sqlite'")
	}
	switch ec.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not recognised", ec.Logging.Level)
	}
	if ec.Monitor.Enabled && ec.Monitor.Addr == "" {
		return fmt.Errorf("monitor.addr is required when the monitor is enabled")
	}
	return nil
}

// ParseSetting splits a key=value override and decodes the value as a YAML
// scalar or collection, so "0.5" is a float and "[1, 2]" a list.
func ParseSetting(raw string) (string, any, error) {
	parts := strings.SplitN(raw, "=", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("config: expected key=value, got %q", raw)
	}
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return "", nil, fmt.Errorf("config: empty key in %q", raw)
	}
	text := strings.TrimSpace(parts[1])
	if text == "" {
		return key, "", nil
	}
	var value any
	if err := yaml.Unmarshal([]byte(text), &value); err != nil {
		return key, text, nil
	}
	return key, value, nil
}

// fillSection decodes values into a fresh copy of dst's type and copies each
// field that is still zero in dst.
func fillSection(dst any, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(values)
	if err != nil {
		return err
	}
	target := reflect.ValueOf(dst).Elem()
	fallback := reflect.New(target.Type())
	if err := yaml.Unmarshal(raw, fallback.Interface()); err != nil {
		return err
	}
	fallback = fallback.Elem()
	for i := 0; i < target.NumField(); i++ {
		field := target.Field(i)
		if field.CanSet() && field.IsZero() {
			field.Set(fallback.Field(i))
		}
	}
	return nil
}

func ensureConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0644)
}

func normalizeName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
