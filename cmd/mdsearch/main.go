package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"

	"mdsearch/pkg/search"
)

func main() {
	defer klog.Flush()
	if err := newRootCommand().Execute(); err != nil {
		klog.ErrorS(err, "Command failed")
		klog.Flush()
		os.Exit(1)
	}
}

// options are shared by every subcommand.
type options struct {
	v          *viper.Viper
	configFile string
	logFormat  string
}

func (o *options) load() (*search.Config, error) {
	return search.LoadConfig(o.v, o.configFile)
}

func newRootCommand() *cobra.Command {
	o := &options{v: search.NewViper()}
	root := &cobra.Command{
		Use:   "mdsearch",
		Short: "Search multi-dimensional screening LPs for counterexamples to allocation hypotheses",
		Long: `mdsearch draws random populations of buyer types valuing service, money and
time, solves the revenue maximizing mechanism as a linear program and checks
structural hypotheses (monotone allocations, zero IC multipliers) on the
optimum.

Configuration is read from --config, then MDSEARCH_* environment variables,
then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(o.logFormat)
		},
	}

	fs := root.PersistentFlags()
	fs.StringVar(&o.configFile, "config", "", "YAML config file")
	fs.StringVar(&o.logFormat, "log-format", "klog", "Log output format: klog or tint")
	addConfigFlags(fs, o.v)

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	fs.AddGoFlagSet(klogFlags)

	root.AddCommand(newSearchCommand(o), newSolveCommand(o), newMyersonCommand(o), newConfigCommand(o))
	return root
}

// addConfigFlags declares a flag per scalar configuration key and binds it to
// v, so a flag only wins when it is set explicitly.
func addConfigFlags(fs *pflag.FlagSet, v *viper.Viper) {
	def := search.DefaultConfig()
	fs.Int("num-type", def.Params.NumType, "Number of buyer types")
	fs.Float64("q", def.Params.Q, "Ex-ante supply cap")
	fs.Float64("lambda", def.Params.Lambda, "Social value of revenue")
	fs.Int("precision", def.Params.Precision, "Decimal places used in tables")
	fs.String("model", string(def.Model), "Mechanism model: primal or myerson")
	fs.Int("loops", def.Loops, "Iteration budget")
	fs.Bool("stop-on-first", def.StopOnFirst, "Stop at the first counterexample")
	fs.Int64("seed", def.Seed, "Random seed; iteration k uses seed+k")
	fs.Int("workers", def.Workers, "Concurrent iterations")
	fs.Duration("solve-timeout", def.SolveTimeout, "Time limit per LP solve (0 = none)")
	fs.Int("max-consecutive-faults", def.MaxConsecutiveFaults, "Abort after that many faults in a row (0 = never)")
	fs.Int("progress-every", def.ProgressEvery, "Log progress every that many iterations (0 = never)")
	fs.Bool("verify", def.Verify, "Check every optimal primal against IC, IR and supply")
	fs.String("artifact-dir", def.ArtifactDir, "Directory for LP and IIS files")
	fs.String("report-path", def.ReportPath, "Parquet file collecting counterexample records")
	fs.String("summary-path", def.SummaryPath, "YAML run summary")
	fs.String("metrics-file", def.MetricsFile, "Prometheus text file written at the end of the run")
	fs.String("metrics-addr", def.MetricsAddr, "Serve /metrics on this address during the run")

	bindings := map[string]string{
		"params.num_type":        "num-type",
		"params.q":               "q",
		"params.lambda":          "lambda",
		"params.precision":       "precision",
		"model":                  "model",
		"loops":                  "loops",
		"stop_on_first":          "stop-on-first",
		"seed":                   "seed",
		"workers":                "workers",
		"solve_timeout":          "solve-timeout",
		"max_consecutive_faults": "max-consecutive-faults",
		"progress_every":         "progress-every",
		"verify":                 "verify",
		"artifact_dir":           "artifact-dir",
		"report_path":            "report-path",
		"summary_path":           "summary-path",
		"metrics_file":           "metrics-file",
		"metrics_addr":           "metrics-addr",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			klog.Fatalf("Failed to bind flag %s: %v", name, err)
		}
	}
}

// setupLogging optionally routes klog through a colourised slog handler.
func setupLogging(format string) error {
	switch format {
	case "", "klog":
		return nil
	case "tint":
		// klog applies -v itself; the handler must let every V level through.
		handler := tint.NewHandler(os.Stderr, &tint.Options{Level: slog.Level(-10), TimeFormat: time.Kitchen})
		klog.SetLogger(logr.FromSlogHandler(handler))
		return nil
	default:
		return fmt.Errorf("unknown log format %q (want klog or tint)", format)
	}
}
