package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"

	"mdsearch/pkg/hypothesis"
	"mdsearch/pkg/population"
	"mdsearch/pkg/types"
)

// ModelKind selects the mechanism LP solved every iteration.
type ModelKind string

const (
	// ModelPrimal is the three-dimensional service/money/time model.
	ModelPrimal ModelKind = "primal"
	// ModelMyerson is the single-parameter benchmark.
	ModelMyerson ModelKind = "myerson"
)

// EnvPrefix is the prefix of environment variables overriding configuration
// keys, e.g. MDSEARCH_LOOPS or MDSEARCH_PARAMS_LAMBDA.
const EnvPrefix = "MDSEARCH"

// Config holds all parameters of a search run.
// Values can be loaded from a YAML file, the environment and flags.
type Config struct {
	// Params are the model parameters: number of types, supply cap, LAMBDA
	// and comparison precision.
	Params types.ModelParams `json:"params" mapstructure:"params"`

	// Model selects the primal model or the Myerson benchmark.
	Model ModelKind `json:"model" mapstructure:"model"`

	// Loops is the iteration budget. Every attempt counts, whatever its outcome.
	Loops int `json:"loops" mapstructure:"loops"`

	// StopOnFirst ends the run at the first counterexample.
	StopOnFirst bool `json:"stop_on_first" mapstructure:"stop_on_first"`

	// Pipeline generates the population of every iteration.
	Pipeline population.Pipeline `json:"pipeline" mapstructure:"pipeline"`

	// Hypotheses are checked against every optimal solution.
	Hypotheses []hypothesis.Spec `json:"hypotheses" mapstructure:"hypotheses"`

	// Seed makes runs reproducible; iteration k draws from seed+k.
	Seed int64 `json:"seed" mapstructure:"seed"`

	// Workers is the number of concurrent iterations (1 = sequential).
	Workers int `json:"workers" mapstructure:"workers"`

	// SolveTimeout bounds every LP solve (0 = no limit).
	SolveTimeout time.Duration `json:"solve_timeout" mapstructure:"solve_timeout"`

	// MaxConsecutiveFaults aborts the run after that many generation faults,
	// solver faults or timeouts in a row (0 = never).
	MaxConsecutiveFaults int `json:"max_consecutive_faults" mapstructure:"max_consecutive_faults"`

	// ProgressEvery logs progress every that many iterations (0 = never).
	ProgressEvery int `json:"progress_every" mapstructure:"progress_every"`

	// Verify re-checks every optimal primal against the IC/IR/supply
	// invariants; violations count as solver faults.
	Verify bool `json:"verify" mapstructure:"verify"`

	// ArtifactDir receives LP files of counterexamples and IIS files of
	// infeasible instances (empty = not written).
	ArtifactDir string `json:"artifact_dir" mapstructure:"artifact_dir"`

	// ReportPath is the parquet file collecting counterexample records.
	ReportPath string `json:"report_path" mapstructure:"report_path"`

	// SummaryPath is the YAML run summary.
	SummaryPath string `json:"summary_path" mapstructure:"summary_path"`

	// MetricsFile receives the final metrics in Prometheus text format.
	MetricsFile string `json:"metrics_file" mapstructure:"metrics_file"`

	// MetricsAddr serves /metrics during the run (empty = disabled).
	MetricsAddr string `json:"metrics_addr" mapstructure:"metrics_addr"`
}

// DefaultConfig returns the configuration of the reference search: nine types,
// unit supply, LAMBDA = 50000, 10000 iterations, monotonicity in vs/vm.
func DefaultConfig() *Config {
	return &Config{
		Params:               types.NewModelParams(9, 1, 50000),
		Model:                ModelPrimal,
		Loops:                10000,
		StopOnFirst:          true,
		Pipeline:             population.DefaultPipeline(),
		Hypotheses:           []hypothesis.Spec{{Kind: hypothesis.MonoSOverM}},
		Seed:                 1,
		Workers:              1,
		SolveTimeout:         30 * time.Second,
		MaxConsecutiveFaults: 100,
		ProgressEvery:        1000,
	}
}

// scalarKeys are registered with viper so that environment variables and
// flags can override them.
var scalarKeys = []string{
	"params.num_type", "params.q", "params.lambda", "params.precision",
	"model", "loops", "stop_on_first", "seed", "workers", "solve_timeout",
	"max_consecutive_faults", "progress_every", "verify",
	"artifact_dir", "report_path", "summary_path", "metrics_file", "metrics_addr",
}

// NewViper returns a viper instance reading MDSEARCH_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads the config file (if configFile is non-empty) into v and
// decodes everything on top of DefaultConfig. Precedence is flags bound to
// v, then environment, then file, then defaults.
func LoadConfig(v *viper.Viper, configFile string) (*Config, error) {
	cfg := DefaultConfig()
	defaults := map[string]interface{}{
		"params.num_type":        cfg.Params.NumType,
		"params.q":               cfg.Params.Q,
		"params.lambda":          cfg.Params.Lambda,
		"params.precision":       cfg.Params.Precision,
		"model":                  string(cfg.Model),
		"loops":                  cfg.Loops,
		"stop_on_first":          cfg.StopOnFirst,
		"seed":                   cfg.Seed,
		"workers":                cfg.Workers,
		"solve_timeout":          cfg.SolveTimeout,
		"max_consecutive_faults": cfg.MaxConsecutiveFaults,
		"progress_every":         cfg.ProgressEvery,
		"verify":                 cfg.Verify,
		"artifact_dir":           cfg.ArtifactDir,
		"report_path":            cfg.ReportPath,
		"summary_path":           cfg.SummaryPath,
		"metrics_file":           cfg.MetricsFile,
		"metrics_addr":           cfg.MetricsAddr,
	}
	for _, k := range scalarKeys {
		v.SetDefault(k, defaults[k])
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configFile, err)
		}
		klog.V(2).InfoS("Loaded config file", "path", v.ConfigFileUsed())
	}

	// Lists replace the defaults instead of merging element-wise.
	if v.IsSet("hypotheses") {
		cfg.Hypotheses = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Params.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("params: %w", err))
	}
	if c.Model != ModelPrimal && c.Model != ModelMyerson {
		errs = append(errs, fmt.Errorf("model must be 'primal' or 'myerson', got %q", c.Model))
	}
	if c.Loops < 1 {
		errs = append(errs, fmt.Errorf("loops must be >= 1, got %d", c.Loops))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1, got %d", c.Workers))
	}
	if c.SolveTimeout < 0 {
		errs = append(errs, fmt.Errorf("solve_timeout must be >= 0, got %v", c.SolveTimeout))
	}
	if c.MaxConsecutiveFaults < 0 {
		errs = append(errs, fmt.Errorf("max_consecutive_faults must be >= 0, got %d", c.MaxConsecutiveFaults))
	}
	if c.ProgressEvery < 0 {
		errs = append(errs, fmt.Errorf("progress_every must be >= 0, got %d", c.ProgressEvery))
	}
	if err := c.Pipeline.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	if len(c.Hypotheses) == 0 {
		errs = append(errs, fmt.Errorf("at least one hypothesis is required"))
	}
	preds, err := hypothesis.NewSet(c.Hypotheses)
	if err != nil {
		errs = append(errs, fmt.Errorf("hypotheses: %w", err))
	} else if err := hypothesis.ValidateFor(preds, c.Params.NumType); err != nil {
		errs = append(errs, fmt.Errorf("hypotheses: %w", err))
	}
	return utilerrors.NewAggregate(errs)
}

// Log logs the effective configuration.
func (c *Config) Log() {
	kinds := make([]string, len(c.Hypotheses))
	for i, h := range c.Hypotheses {
		kinds[i] = string(h.Kind)
	}
	klog.InfoS("Search configuration",
		"numType", c.Params.NumType,
		"q", c.Params.Q,
		"lambda", c.Params.Lambda,
		"precision", c.Params.Precision,
		"model", c.Model,
		"loops", c.Loops,
		"stopOnFirst", c.StopOnFirst,
		"hypotheses", kinds,
		"seed", c.Seed,
		"workers", c.Workers,
		"solveTimeout", c.SolveTimeout,
		"maxConsecutiveFaults", c.MaxConsecutiveFaults,
		"progressEvery", c.ProgressEvery,
		"verify", c.Verify,
		"artifactDir", c.ArtifactDir,
		"reportPath", c.ReportPath,
		"summaryPath", c.SummaryPath)
}
