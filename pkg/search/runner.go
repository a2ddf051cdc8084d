// Package search drives the counterexample search: generate a population,
// solve its mechanism LP, check the configured hypotheses, repeat.
package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"mdsearch/pkg/hypothesis"
	"mdsearch/pkg/lp"
	"mdsearch/pkg/population"
)

// Summary is the final account of a run.
type Summary struct {
	Iterations          int     `json:"iterations"`
	Holds               int     `json:"holds"`
	Counterexamples     int     `json:"counterexamples"`
	Unbounded           int     `json:"unbounded"`
	Infeasible          int     `json:"infeasible"`
	Timeouts            int     `json:"timeouts"`
	Faults              int     `json:"faults"`
	GenerationFaults    int     `json:"generation_faults"`
	FirstCounterexample *int    `json:"first_counterexample,omitempty"`
	StopReason          string  `json:"stop_reason"`
	ElapsedSeconds      float64 `json:"elapsed_seconds"`
}

// Stop reasons.
const (
	StopBudget         = "budget"
	StopCounterexample = "counterexample"
	StopFaults         = "faults"
	StopCancelled      = "cancelled"
)

func (s *Summary) count(out Outcome) {
	s.Iterations++
	switch out.Kind {
	case OutcomeHolds:
		s.Holds++
	case OutcomeCounterexample:
		s.Counterexamples++
		if s.FirstCounterexample == nil {
			it := out.Iteration
			s.FirstCounterexample = &it
		}
	case OutcomeUnbounded:
		s.Unbounded++
	case OutcomeInfeasible:
		s.Infeasible++
	case OutcomeTimeout:
		s.Timeouts++
	case OutcomeFault:
		s.Faults++
	case OutcomeGenerationFault:
		s.GenerationFaults++
	}
}

// Runner executes a search described by a Config.
type Runner struct {
	cfg      *Config
	solver   lp.Solver
	preds    []hypothesis.Predicate
	needDual bool
	reporter Reporter
	metrics  *Metrics
	clock    clock.PassiveClock
}

// Option customizes a Runner.
type Option func(*Runner)

// WithSolver replaces the default simplex solver.
func WithSolver(s lp.Solver) Option { return func(r *Runner) { r.solver = s } }

// WithReporter receives every counterexample.
func WithReporter(rep Reporter) Option { return func(r *Runner) { r.reporter = rep } }

// WithMetrics records into m instead of a private registry.
func WithMetrics(m *Metrics) Option { return func(r *Runner) { r.metrics = m } }

// WithClock replaces the wall clock.
func WithClock(c clock.PassiveClock) Option { return func(r *Runner) { r.clock = c } }

// NewRunner validates cfg and prepares a run.
func NewRunner(cfg *Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	preds, err := hypothesis.NewSet(cfg.Hypotheses)
	if err != nil {
		return nil, err
	}
	solver := lp.NewSimplexSolver(cfg.SolveTimeout)
	// One abandoned engine solve per worker at most.
	solver.MaxAbandoned = max(cfg.Workers, 1)
	r := &Runner{
		cfg:      cfg,
		preds:    preds,
		needDual: hypothesis.AnyNeedsDual(preds),
		solver:   solver,
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics()
	}
	return r, nil
}

// Metrics returns the run metrics.
func (r *Runner) Metrics() *Metrics { return r.metrics }

// Run executes the search until the loop budget is spent, a counterexample
// is found with StopOnFirst set, the fault budget is exhausted or ctx is
// cancelled. The summary is returned in every case.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if r.cfg.ArtifactDir != "" {
		if err := os.MkdirAll(r.cfg.ArtifactDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating artifact dir: %w", err)
		}
	}
	agg := &aggregator{
		r:       r,
		start:   r.clock.Now(),
		breaker: faultBreaker{max: r.cfg.MaxConsecutiveFaults},
		summary: &Summary{StopReason: StopBudget},
	}
	klog.InfoS("Starting search", "loops", r.cfg.Loops, "workers", r.cfg.Workers, "dual", r.needDual)

	var err error
	if r.cfg.Workers <= 1 {
		err = r.runSequential(ctx, agg)
	} else {
		err = r.runParallel(ctx, agg)
	}
	return agg.finish(err)
}

func (r *Runner) runSequential(ctx context.Context, agg *aggregator) error {
	pop, err := population.New(r.cfg.Params.NumType)
	if err != nil {
		return err
	}
	for i := 0; i < r.cfg.Loops; i++ {
		out, err := r.runIteration(ctx, pop, i)
		if err != nil {
			return err
		}
		if stop, err := agg.handle(out); stop {
			return err
		}
	}
	return nil
}

type iterationResult struct {
	out Outcome
	err error
}

// runParallel fans iterations out to a worker pool and funnels every outcome
// into the calling goroutine, which alone touches the aggregator.
func (r *Runner) runParallel(ctx context.Context, agg *aggregator) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := newWorkerPool(r.cfg.Workers, r.cfg.Params.NumType)
	if err != nil {
		return err
	}
	results := make(chan iterationResult, r.cfg.Workers)

	go func() {
		defer close(results)
		defer pool.close()
		for i := 0; i < r.cfg.Loops; i++ {
			index := i
			err := pool.submit(ctx, func(pop *population.Population) {
				out, err := r.runIteration(ctx, pop, index)
				select {
				case results <- iterationResult{out: out, err: err}:
				case <-ctx.Done():
				}
			})
			if err != nil {
				return
			}
		}
	}()

	var runErr error
	stopped := false
	for res := range results {
		if stopped {
			continue
		}
		if res.err != nil {
			runErr, stopped = res.err, true
			cancel()
			continue
		}
		if stop, err := agg.handle(res.out); stop {
			runErr, stopped = err, true
			cancel()
		}
	}
	if !stopped && ctx.Err() != nil {
		// The parent context was cancelled while the feeder was blocked.
		return ctx.Err()
	}
	return runErr
}

func (r *Runner) timedSolve(ctx context.Context, m *lp.Model) (*lp.Result, error) {
	start := r.clock.Now()
	res, err := r.solver.Solve(ctx, m)
	r.metrics.RecordSolve(m.Name, r.clock.Since(start).Seconds())
	return res, err
}

// aggregator owns the counters, the breaker and the reporter. Only one
// goroutine calls it.
type aggregator struct {
	r       *Runner
	start   time.Time
	breaker faultBreaker
	summary *Summary
	stopped string
}

// handle accounts for one outcome and reports whether the run must stop.
func (a *aggregator) handle(out Outcome) (bool, error) {
	cfg := a.r.cfg
	a.summary.count(out)
	a.r.metrics.RecordOutcome(out.Kind)
	tripped := a.breaker.observe(out.Kind)
	a.r.metrics.RecordFaultStreak(a.breaker.streak)

	switch out.Kind {
	case OutcomeUnbounded:
		klog.V(1).InfoS("Primal unbounded, skipping", "iteration", out.Iteration)
	case OutcomeInfeasible:
		klog.InfoS("Primal infeasible, skipping", "iteration", out.Iteration, "iis", out.IIS)
		a.writeIIS(out)
	case OutcomeTimeout, OutcomeFault, OutcomeGenerationFault:
		klog.ErrorS(out.Err, "Iteration failed", "iteration", out.Iteration,
			"outcome", out.Kind, "consecutiveFaults", a.breaker.streak)
	case OutcomeCounterexample:
		f := out.Finding
		for _, v := range f.Violations {
			klog.InfoS("Counterexample found", "iteration", out.Iteration,
				"hypothesis", v.Hypothesis, "witness", v.Witness)
		}
		a.writeModels(f)
		if a.r.reporter != nil {
			if err := a.r.reporter.Counterexample(f); err != nil {
				return true, fmt.Errorf("reporting counterexample %d: %w", out.Iteration, err)
			}
		}
	}

	if n := a.summary.Iterations; cfg.ProgressEvery > 0 && n%cfg.ProgressEvery == 0 {
		elapsed := a.r.clock.Since(a.start)
		rate := 0.0
		if elapsed > 0 {
			rate = float64(n) / elapsed.Seconds()
		}
		klog.InfoS("Search progress", "iterations", n, "counterexamples", a.summary.Counterexamples,
			"elapsed", elapsed, "iterationsPerSecond", rate)
	}

	if tripped {
		a.stopped = StopFaults
		return true, fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyFaults, a.breaker.streak, out.Err)
	}
	if out.Kind == OutcomeCounterexample && cfg.StopOnFirst {
		a.stopped = StopCounterexample
		return true, nil
	}
	return false, nil
}

func (a *aggregator) finish(err error) (*Summary, error) {
	s := a.summary
	switch {
	case a.stopped != "":
		s.StopReason = a.stopped
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		s.StopReason = StopCancelled
	}
	s.ElapsedSeconds = a.r.clock.Since(a.start).Seconds()
	klog.InfoS("Search finished", "iterations", s.Iterations, "counterexamples", s.Counterexamples,
		"stopReason", s.StopReason, "elapsedSeconds", s.ElapsedSeconds)
	return s, err
}

func (a *aggregator) artifactPath(iteration int, name, ext string) string {
	return filepath.Join(a.r.cfg.ArtifactDir, fmt.Sprintf("iter-%06d-%s.%s", iteration, name, ext))
}

func (a *aggregator) writeModels(f *Finding) {
	if a.r.cfg.ArtifactDir == "" {
		return
	}
	for _, m := range []*lp.Model{f.PrimalModel, f.DualModel} {
		if m == nil {
			continue
		}
		if err := lp.WriteLPFile(a.artifactPath(f.Iteration, m.Name, "lp"), m); err != nil {
			klog.ErrorS(err, "Failed to write model", "iteration", f.Iteration, "model", m.Name)
		}
	}
}

func (a *aggregator) writeIIS(out Outcome) {
	if a.r.cfg.ArtifactDir == "" || out.IISModel == nil {
		return
	}
	if err := lp.WriteLPFile(a.artifactPath(out.Iteration, "iis", "ilp"), out.IISModel); err != nil {
		klog.ErrorS(err, "Failed to write IIS", "iteration", out.Iteration)
	}
}
