package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"mdsearch/pkg/allocation"
	"mdsearch/pkg/lp"
	"mdsearch/pkg/population"
	"mdsearch/pkg/report"
	"mdsearch/pkg/search"
)

func newSearchCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "search",
		Short: "Run the counterexample search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSearch(ctx, cfg, cmd.OutOrStdout())
		},
	}
}

func runSearch(ctx context.Context, cfg *search.Config, out io.Writer) (err error) {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	cfg.Log()

	var sink *report.ParquetSink
	if cfg.ReportPath != "" {
		if sink, err = report.NewParquetSink(cfg.ReportPath); err != nil {
			return err
		}
		defer func() {
			if cerr := sink.Close(); cerr != nil && err == nil {
				err = cerr
			}
			klog.InfoS("Wrote counterexample records", "path", cfg.ReportPath, "rows", sink.Rows())
		}()
	}

	runner, err := search.NewRunner(cfg, search.WithReporter(report.NewReporter(out, sink, cfg.Params)))
	if err != nil {
		return err
	}
	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, runner.Metrics())
		defer srv.shutdown()
	}

	summary, runErr := runner.Run(ctx)
	if summary != nil {
		fmt.Fprintf(out, "%d counterexample(s) in %d iteration(s), stopped on %s\n",
			summary.Counterexamples, summary.Iterations, summary.StopReason)
		if cfg.SummaryPath != "" {
			if err := report.WriteYAML(cfg.SummaryPath, summary); err != nil {
				klog.ErrorS(err, "Failed to write summary", "path", cfg.SummaryPath)
			}
		}
	}
	if cfg.MetricsFile != "" {
		if err := runner.Metrics().WriteTextfile(cfg.MetricsFile); err != nil {
			klog.ErrorS(err, "Failed to write metrics", "path", cfg.MetricsFile)
		}
	}
	if errors.Is(runErr, context.Canceled) {
		klog.InfoS("Search interrupted")
		return nil
	}
	return runErr
}

func newSolveCommand(o *options) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Generate one population, solve it and print the solution tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			return runSolve(cmd.Context(), cfg, outDir, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "lp", "Directory receiving model.lp, dual.lp, model.ilp and perturbation.csv")
	return cmd
}

func newMyersonCommand(o *options) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "myerson",
		Short: "Solve one instance of the single-parameter benchmark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			cfg.Model = search.ModelMyerson
			return runSolve(cmd.Context(), cfg, outDir, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "lp", "Directory receiving model.lp, dual.lp and model.ilp")
	return cmd
}

// runSolve solves the instance drawn for iteration 0 of a search with the
// same configuration.
func runSolve(ctx context.Context, cfg *search.Config, outDir string, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", outDir, err)
	}

	pop, err := population.New(cfg.Params.NumType)
	if err != nil {
		return err
	}
	if err := cfg.Pipeline.Apply(pop, rand.New(rand.NewSource(cfg.Seed))); err != nil {
		return fmt.Errorf("generating population: %w", err)
	}
	if err := report.WritePerturbationFile(filepath.Join(outDir, "perturbation.csv"), pop); err != nil {
		return err
	}

	mech, err := search.BuildMechanism(cfg.Model, pop, &cfg.Params, true)
	if err != nil {
		return err
	}
	if err := lp.WriteLPFile(filepath.Join(outDir, "model.lp"), mech.Primal); err != nil {
		return err
	}
	if err := lp.WriteLPFile(filepath.Join(outDir, "dual.lp"), mech.Dual); err != nil {
		return err
	}

	solver := lp.NewSimplexSolver(cfg.SolveTimeout)
	res, err := solver.Solve(ctx, mech.Primal)
	if err != nil {
		return err
	}
	switch res.Status {
	case lp.StatusOptimal:
	case lp.StatusInfeasible:
		rows, err := lp.ComputeIIS(ctx, solver, mech.Primal)
		if err != nil {
			return fmt.Errorf("primal infeasible, IIS failed: %w", err)
		}
		path := filepath.Join(outDir, "model.ilp")
		if err := lp.WriteLPFile(path, mech.Primal.Subset(rows)); err != nil {
			return err
		}
		fmt.Fprintf(out, "Primal infeasible, IIS written to %s:\n", path)
		for _, r := range rows {
			fmt.Fprintf(out, "  %s\n", mech.Primal.Constraints[r].Name)
		}
		return nil
	default:
		fmt.Fprintf(out, "Primal %s: %s\n", res.Status, res.Message)
		return nil
	}

	primal, err := mech.PrimalSolution(res)
	if err != nil {
		return err
	}
	if err := allocation.ValidatePrimal(pop, &cfg.Params, primal, allocation.DefaultTolerance); err != nil {
		klog.ErrorS(err, "Optimal primal violates the mechanism constraints")
	}
	in := report.Instance{Pop: pop, Primal: primal}

	dres, err := solver.Solve(ctx, mech.Dual)
	if err != nil {
		return err
	}
	if dres.Status == lp.StatusOptimal {
		if in.Dual, err = mech.DualSolution(dres); err != nil {
			return err
		}
		klog.V(1).InfoS("Duality gap", "primal", primal.Objective, "dual", in.Dual.Objective)
	} else {
		klog.InfoS("Dual not optimal", "status", dres.Status, "message", dres.Message)
	}
	return report.WriteInstance(out, in, cfg.Params, allocation.DefaultTolerance)
}

func newConfigCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
