package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	clocktesting "k8s.io/utils/clock/testing"

	"mdsearch/pkg/allocation"
	"mdsearch/pkg/hypothesis"
	"mdsearch/pkg/lp"
	"mdsearch/pkg/population"
	"mdsearch/pkg/types"
)

type fakeSolver struct {
	mu    sync.Mutex
	calls int
	solve func(m *lp.Model) *lp.Result
}

func (f *fakeSolver) Solve(ctx context.Context, m *lp.Model) (*lp.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.solve(m), nil
}

// optimalWith returns an optimal result setting x[i] to x[i] and every other
// variable to zero.
func optimalWith(x []float64) func(m *lp.Model) *lp.Result {
	return func(m *lp.Model) *lp.Result {
		values := make([]float64, m.NumVars())
		for i, v := range x {
			if idx, ok := m.VarByName(fmt.Sprintf("x[%d]", i)); ok {
				values[idx] = v
			}
		}
		slacks := make([]float64, m.NumConstraints())
		for r, c := range m.Constraints {
			slacks[r] = c.Slack(values)
		}
		return &lp.Result{Status: lp.StatusOptimal, Values: values, Slacks: slacks, Objective: m.ObjectiveValue(values)}
	}
}

func status(s lp.Status) func(m *lp.Model) *lp.Result {
	return func(m *lp.Model) *lp.Result { return &lp.Result{Status: s, Message: "fake " + s.String()} }
}

type recordingReporter struct {
	findings []*Finding
}

func (r *recordingReporter) Counterexample(f *Finding) error {
	r.findings = append(r.findings, f)
	return nil
}

func testConfig(n int) *Config {
	cfg := DefaultConfig()
	cfg.Params = types.NewModelParams(n, 1, 2)
	cfg.Loops = 5
	cfg.StopOnFirst = false
	cfg.ProgressEvery = 0
	cfg.SolveTimeout = 0
	cfg.Pipeline = population.Pipeline{
		VS:           population.ValueSpec{Kind: population.KindGrid, Lo: 1, Hi: 5},
		VM:           population.ValueSpec{Kind: population.KindGrid, Lo: 2, Hi: 3},
		VT:           population.ValueSpec{Kind: population.KindGrid, Lo: 4, Hi: 2},
		Distribution: population.DistributionSpec{Kind: population.DistUniform},
	}
	return cfg
}

func newTestRunner(t *testing.T, cfg *Config, opts ...Option) *Runner {
	t.Helper()
	opts = append([]Option{WithClock(clocktesting.NewFakePassiveClock(time.Unix(0, 0)))}, opts...)
	r, err := NewRunner(cfg, opts...)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r
}

func iterations(m *Metrics, kind OutcomeKind) float64 {
	return testutil.ToFloat64(m.iterations.WithLabelValues(kind.String()))
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestConfigValidate_ReportsEveryError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Loops = 0
	cfg.Workers = 0
	cfg.Model = "vcg"
	cfg.Hypotheses = []hypothesis.Spec{{Kind: hypothesis.DualZeroIC, Pairs: []allocation.Pair{{I: 0, J: 20}}}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	for _, want := range []string{"loops", "workers", "model", "out of range"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected %q in %v", want, err)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.yaml")
	content := `
params:
  num_type: 5
  lambda: 3
loops: 50
hypotheses:
  - kind: dual-zero-ic
    pairs:
      - {i: 0, j: 3}
      - {i: 1, j: 4}
pipeline:
  vs: {kind: uniform, lo: 1, hi: 5, precision: 4}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("MDSEARCH_LOOPS", "7")

	cfg, err := LoadConfig(NewViper(), path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Loops != 7 {
		t.Errorf("Expected environment to override loops, got %d", cfg.Loops)
	}
	if cfg.Params.NumType != 5 || cfg.Params.Lambda != 3 {
		t.Errorf("Expected params from file, got %+v", cfg.Params)
	}
	if cfg.Params.Q != 1 || cfg.Params.Precision != types.DefaultPrecision {
		t.Errorf("Expected default q and precision, got %+v", cfg.Params)
	}
	if len(cfg.Hypotheses) != 1 || len(cfg.Hypotheses[0].Pairs) != 2 {
		t.Fatalf("Expected one hypothesis with two pairs, got %+v", cfg.Hypotheses)
	}
	if got := cfg.Hypotheses[0].Pairs[1]; got != (allocation.Pair{I: 1, J: 4}) {
		t.Errorf("Expected pair (1,4), got %v", got)
	}
	if cfg.Pipeline.VS.Kind != population.KindUniform || cfg.Pipeline.VS.Precision != 4 {
		t.Errorf("Expected uniform vs from file, got %+v", cfg.Pipeline.VS)
	}
	if cfg.Pipeline.VM.Kind != population.KindGrid {
		t.Errorf("Expected default vm to survive, got %+v", cfg.Pipeline.VM)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Loaded config should be valid: %v", err)
	}
}

func TestRun_SimplexEndToEnd(t *testing.T) {
	cfg := testConfig(3)
	cfg.Loops = 3
	cfg.Verify = true
	cfg.Pipeline.Perturb = &population.PerturbSpec{
		Dims: []population.Dimension{population.Service, population.Money}, Lo: -1e-3, Hi: 1e-3, Precision: 4,
	}
	r := newTestRunner(t, cfg)

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Iterations != 3 {
		t.Errorf("Expected 3 iterations, got %d", summary.Iterations)
	}
	if summary.Faults != 0 || summary.Timeouts != 0 || summary.GenerationFaults != 0 {
		t.Errorf("Expected no faults, got %+v", summary)
	}
	if summary.Holds+summary.Counterexamples != 3 {
		t.Errorf("Expected every iteration optimal, got %+v", summary)
	}
	if summary.StopReason != StopBudget {
		t.Errorf("Expected stop reason %q, got %q", StopBudget, summary.StopReason)
	}
	if summary.ElapsedSeconds != 0 {
		t.Errorf("Expected fake clock to report zero elapsed, got %v", summary.ElapsedSeconds)
	}
}

func TestRun_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Loops = 4
	cfg.StopOnFirst = false
	cfg.ProgressEvery = 0
	cfg.Verify = true
	cfg.Hypotheses = append(cfg.Hypotheses, hypothesis.Spec{
		Kind:  hypothesis.DualZeroIC,
		Pairs: []allocation.Pair{{I: 0, J: 3}, {I: 1, J: 4}},
	})
	r := newTestRunner(t, cfg)

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Faults != 0 || summary.Timeouts != 0 || summary.GenerationFaults != 0 {
		t.Errorf("Expected no faults at the default parameters, got %+v", summary)
	}
	if summary.Holds+summary.Counterexamples != cfg.Loops {
		t.Errorf("Expected every iteration optimal, got %+v", summary)
	}
}

func TestRun_PerturbedTiesAreNotGenerationFaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Loops = 30
	cfg.StopOnFirst = false
	cfg.ProgressEvery = 0
	cfg.Pipeline.VS = population.ValueSpec{Kind: population.KindGeometric, Lo: 1, Hi: 5, P: 0.5}
	cfg.Hypotheses = []hypothesis.Spec{{Kind: hypothesis.RegularMonoSOverM}}
	r := newTestRunner(t, cfg, WithSolver(&fakeSolver{solve: optimalWith(nil)}))

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.GenerationFaults != 0 {
		t.Errorf("Expected tied service values to survive perturbation, got %+v", summary)
	}
	if summary.Holds != 30 {
		t.Errorf("Expected 30 holds, got %+v", summary)
	}
}

func TestRun_CounterexampleStopsAndReports(t *testing.T) {
	cfg := testConfig(2)
	cfg.StopOnFirst = true
	cfg.ArtifactDir = t.TempDir()
	rep := &recordingReporter{}
	solver := &fakeSolver{solve: optimalWith([]float64{1, 0})}
	r := newTestRunner(t, cfg, WithSolver(solver), WithReporter(rep))

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Iterations != 1 || summary.Counterexamples != 1 {
		t.Errorf("Expected to stop after the first counterexample, got %+v", summary)
	}
	if summary.FirstCounterexample == nil || *summary.FirstCounterexample != 0 {
		t.Errorf("Expected first counterexample at iteration 0, got %v", summary.FirstCounterexample)
	}
	if summary.StopReason != StopCounterexample {
		t.Errorf("Expected stop reason %q, got %q", StopCounterexample, summary.StopReason)
	}
	if len(rep.findings) != 1 {
		t.Fatalf("Expected 1 reported finding, got %d", len(rep.findings))
	}
	f := rep.findings[0]
	if f.Violations[0].Hypothesis != string(hypothesis.MonoSOverM) {
		t.Errorf("Expected mono-s-over-m violation, got %+v", f.Violations)
	}
	if f.Pop.Phase() != population.PhaseDerived {
		t.Errorf("Expected derived population snapshot, got %s", f.Pop.Phase())
	}
	if _, err := os.Stat(filepath.Join(cfg.ArtifactDir, "iter-000000-primal.lp")); err != nil {
		t.Errorf("Expected primal LP artifact: %v", err)
	}
	if got := testutil.ToFloat64(r.Metrics().counterexamples); got != 1 {
		t.Errorf("Expected counterexamples_total 1, got %v", got)
	}
}

func TestRun_ContinuesPastCounterexamples(t *testing.T) {
	cfg := testConfig(2)
	rep := &recordingReporter{}
	r := newTestRunner(t, cfg, WithSolver(&fakeSolver{solve: optimalWith([]float64{1, 0})}), WithReporter(rep))

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Counterexamples != 5 || len(rep.findings) != 5 {
		t.Errorf("Expected 5 counterexamples, got %d (%d reported)", summary.Counterexamples, len(rep.findings))
	}
}

func TestRun_FaultBreaker(t *testing.T) {
	cfg := testConfig(2)
	cfg.Loops = 10
	cfg.MaxConsecutiveFaults = 3
	r := newTestRunner(t, cfg, WithSolver(&fakeSolver{solve: status(lp.StatusFault)}))

	summary, err := r.Run(context.Background())
	if !errors.Is(err, ErrTooManyFaults) {
		t.Fatalf("Expected ErrTooManyFaults, got %v", err)
	}
	if summary.Iterations != 3 || summary.Faults != 3 {
		t.Errorf("Expected 3 faulted iterations, got %+v", summary)
	}
	if summary.StopReason != StopFaults {
		t.Errorf("Expected stop reason %q, got %q", StopFaults, summary.StopReason)
	}
	if got := testutil.ToFloat64(r.Metrics().faultStreak); got != 3 {
		t.Errorf("Expected consecutive_faults 3, got %v", got)
	}
}

func TestRun_BreakerResetsOnSuccess(t *testing.T) {
	cfg := testConfig(2)
	cfg.Loops = 9
	cfg.MaxConsecutiveFaults = 2
	var mu sync.Mutex
	calls := 0
	solver := &fakeSolver{solve: func(m *lp.Model) *lp.Result {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls%2 == 0 {
			return status(lp.StatusUnbounded)(m)
		}
		return status(lp.StatusTimeout)(m)
	}}
	r := newTestRunner(t, cfg, WithSolver(solver))

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Expected the breaker not to trip, got %v", err)
	}
	if summary.Timeouts != 5 || summary.Unbounded != 4 {
		t.Errorf("Expected 5 timeouts and 4 unbounded, got %+v", summary)
	}
	if got := iterations(r.Metrics(), OutcomeTimeout); got != 5 {
		t.Errorf("Expected 5 timeout iterations in metrics, got %v", got)
	}
}

func TestRun_GenerationFaults(t *testing.T) {
	cfg := testConfig(2)
	cfg.MaxConsecutiveFaults = 2
	cfg.Pipeline.VM = population.ValueSpec{Kind: population.KindFixed, Values: []float64{0, 1}}
	solver := &fakeSolver{solve: optimalWith(nil)}
	r := newTestRunner(t, cfg, WithSolver(solver))

	summary, err := r.Run(context.Background())
	if !errors.Is(err, ErrTooManyFaults) {
		t.Fatalf("Expected ErrTooManyFaults, got %v", err)
	}
	if summary.GenerationFaults != 2 {
		t.Errorf("Expected 2 generation faults, got %+v", summary)
	}
	if solver.calls != 0 {
		t.Errorf("Expected no solves, got %d", solver.calls)
	}
}

func TestRun_InfeasibleComputesIIS(t *testing.T) {
	cfg := testConfig(2)
	cfg.Loops = 1
	cfg.ArtifactDir = t.TempDir()
	solver := &fakeSolver{solve: func(m *lp.Model) *lp.Result {
		for _, c := range m.Constraints {
			if c.Name == "IR[0]" {
				return &lp.Result{Status: lp.StatusInfeasible}
			}
		}
		return optimalWith(nil)(m)
	}}
	r := newTestRunner(t, cfg, WithSolver(solver))

	out, err := r.runIteration(context.Background(), mustPopulation(t, 2), 0)
	if err != nil {
		t.Fatalf("runIteration failed: %v", err)
	}
	if out.Kind != OutcomeInfeasible {
		t.Fatalf("Expected infeasible outcome, got %s", out.Kind)
	}
	if len(out.IIS) != 1 || out.IIS[0] != "IR[0]" {
		t.Errorf("Expected IIS [IR[0]], got %v", out.IIS)
	}

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Infeasible != 1 {
		t.Errorf("Expected 1 infeasible iteration, got %+v", summary)
	}
	if _, err := os.Stat(filepath.Join(cfg.ArtifactDir, "iter-000000-iis.ilp")); err != nil {
		t.Errorf("Expected IIS artifact: %v", err)
	}
}

func TestRun_DualHypothesisSolvesDual(t *testing.T) {
	cfg := testConfig(2)
	cfg.Loops = 2
	cfg.Hypotheses = []hypothesis.Spec{{Kind: hypothesis.DualZeroIC, Pairs: []allocation.Pair{{I: 0, J: 1}}}}
	solver := &fakeSolver{solve: optimalWith([]float64{0, 0})}
	r := newTestRunner(t, cfg, WithSolver(solver))

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Holds != 2 {
		t.Errorf("Expected zero multipliers to hold, got %+v", summary)
	}
	if solver.calls != 4 {
		t.Errorf("Expected primal and dual solves per iteration (4), got %d", solver.calls)
	}
}

func TestRun_Parallel(t *testing.T) {
	cfg := testConfig(2)
	cfg.Loops = 40
	cfg.Workers = 4
	r := newTestRunner(t, cfg, WithSolver(&fakeSolver{solve: optimalWith([]float64{0, 0})}))

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Iterations != 40 || summary.Holds != 40 {
		t.Errorf("Expected 40 holding iterations, got %+v", summary)
	}
	if got := iterations(r.Metrics(), OutcomeHolds); got != 40 {
		t.Errorf("Expected 40 in metrics, got %v", got)
	}
}

func TestRun_ParallelStopOnFirst(t *testing.T) {
	cfg := testConfig(2)
	cfg.Loops = 200
	cfg.Workers = 4
	cfg.StopOnFirst = true
	rep := &recordingReporter{}
	r := newTestRunner(t, cfg, WithSolver(&fakeSolver{solve: optimalWith([]float64{1, 0})}), WithReporter(rep))

	summary, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Counterexamples != 1 || len(rep.findings) != 1 {
		t.Errorf("Expected exactly one handled counterexample, got %d (%d reported)", summary.Counterexamples, len(rep.findings))
	}
	if summary.StopReason != StopCounterexample {
		t.Errorf("Expected stop reason %q, got %q", StopCounterexample, summary.StopReason)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newTestRunner(t, testConfig(2), WithSolver(&fakeSolver{solve: optimalWith(nil)}))

	summary, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if summary.StopReason != StopCancelled {
		t.Errorf("Expected stop reason %q, got %q", StopCancelled, summary.StopReason)
	}
}

func TestFaultBreaker(t *testing.T) {
	b := faultBreaker{max: 2}
	steps := []struct {
		kind OutcomeKind
		trip bool
	}{
		{OutcomeFault, false},
		{OutcomeHolds, false},
		{OutcomeTimeout, false},
		{OutcomeGenerationFault, true},
	}
	for i, s := range steps {
		if got := b.observe(s.kind); got != s.trip {
			t.Errorf("Step %d (%s): expected trip=%v, got %v", i, s.kind, s.trip, got)
		}
	}

	never := faultBreaker{}
	for i := 0; i < 100; i++ {
		if never.observe(OutcomeFault) {
			t.Fatal("A zero budget must never trip")
		}
	}
}

func TestBuildMechanism(t *testing.T) {
	pop := mustPopulation(t, 3)
	params := types.NewModelParams(3, 1, 2)
	for _, kind := range []ModelKind{ModelPrimal, ModelMyerson} {
		m, err := BuildMechanism(kind, pop, &params, true)
		if err != nil {
			t.Fatalf("BuildMechanism(%s) failed: %v", kind, err)
		}
		if m.Primal == nil || m.Dual == nil || m.PrimalSolution == nil || m.DualSolution == nil {
			t.Errorf("BuildMechanism(%s): expected primal and dual", kind)
		}
	}
	if _, err := BuildMechanism("vcg", pop, &params, false); err == nil {
		t.Error("Expected error for unknown model")
	}
}

func mustPopulation(t *testing.T, n int) *population.Population {
	t.Helper()
	pop, err := population.New(n)
	if err != nil {
		t.Fatalf("population.New failed: %v", err)
	}
	if err := testConfig(n).Pipeline.Apply(pop, nil); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	return pop
}
