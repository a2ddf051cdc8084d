package allocation

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"mdsearch/pkg/lp"
	"mdsearch/pkg/population"
	"mdsearch/pkg/types"
)

const testTol = 1e-6

func derivedPopulation(t *testing.T, vs, vm, vt []float64) *population.Population {
	t.Helper()
	pl := population.Pipeline{
		VS:           population.ValueSpec{Kind: population.KindFixed, Values: vs},
		VM:           population.ValueSpec{Kind: population.KindFixed, Values: vm},
		VT:           population.ValueSpec{Kind: population.KindFixed, Values: vt},
		Distribution: population.DistributionSpec{Kind: population.DistUniform},
	}
	pop, err := population.New(len(vs))
	if err != nil {
		t.Fatalf("population.New failed: %v", err)
	}
	if err := pl.Apply(pop, nil); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	return pop
}

func randomPopulation(t *testing.T, n int, seed int64) *population.Population {
	t.Helper()
	pl := population.Pipeline{
		VS:           population.ValueSpec{Kind: population.KindUniform, Lo: 0.1, Hi: 1, Precision: 3},
		VM:           population.ValueSpec{Kind: population.KindUniform, Lo: 0.5, Hi: 2, Precision: 3},
		VT:           population.ValueSpec{Kind: population.KindUniform, Lo: 0.5, Hi: 2, Precision: 3},
		Distribution: population.DistributionSpec{Kind: population.DistUniform},
	}
	pop, _ := population.New(n)
	if err := pl.Apply(pop, rand.New(rand.NewSource(seed))); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	return pop
}

func solve(t *testing.T, m *lp.Model) *lp.Result {
	t.Helper()
	res, err := lp.NewSimplexSolver(20*time.Second).Solve(context.Background(), m)
	if err != nil {
		t.Fatalf("Solve(%s) failed: %v", m.Name, err)
	}
	if res.Status != lp.StatusOptimal {
		t.Fatalf("Solve(%s): expected optimal, got %s (%s)", m.Name, res.Status, res.Message)
	}
	return res
}

func TestPrimalLayout(t *testing.T) {
	pop := derivedPopulation(t, []float64{1, 2, 3}, []float64{1, 1, 1}, []float64{1, 1, 1})
	params := types.NewModelParams(3, 1, 1)
	pr, err := BuildPrimal(pop, &params)
	if err != nil {
		t.Fatalf("BuildPrimal failed: %v", err)
	}

	if got := pr.Model.NumConstraints(); got != 10 {
		t.Errorf("Expected n²+1 = 10 rows, got %d", got)
	}
	if got := pr.Model.NumVars(); got != 9 {
		t.Errorf("Expected 9 variables, got %d", got)
	}

	rows := map[int]string{
		pr.ICRow(0, 1): "IC[0,1]",
		pr.ICRow(0, 2): "IC[0,2]",
		pr.ICRow(1, 0): "IC[1,0]",
		pr.ICRow(2, 1): "IC[2,1]",
		pr.IRRow(0):    "IR[0]",
		pr.IRRow(2):    "IR[2]",
		pr.SupplyRow(): "supply",
	}
	for row, want := range rows {
		if got := pr.Model.Constraints[row].Name; got != want {
			t.Errorf("Row %d: expected %s, got %s", row, want, got)
		}
	}
	if pr.ICRow(1, 0) != 2 || pr.IRRow(0) != 6 || pr.SupplyRow() != 9 {
		t.Errorf("Unexpected row indices: IC[1,0]=%d IR[0]=%d supply=%d", pr.ICRow(1, 0), pr.IRRow(0), pr.SupplyRow())
	}
}

func TestDualLayout(t *testing.T) {
	pop := derivedPopulation(t, []float64{1, 2, 3}, []float64{1, 1, 1}, []float64{1, 1, 1})
	params := types.NewModelParams(3, 1, 1)
	d, err := BuildDual(pop, &params)
	if err != nil {
		t.Fatalf("BuildDual failed: %v", err)
	}
	if got := d.Model.NumVars(); got != 6+3+3+1 {
		t.Errorf("Expected 13 variables, got %d", got)
	}
	if got := d.Model.NumConstraints(); got != 9 {
		t.Errorf("Expected 3n = 9 rows, got %d", got)
	}
	for row, want := range map[int]string{d.XRow(0): "x[0]", d.PRow(1): "p[1]", d.WRow(2): "w[2]"} {
		if got := d.Model.Constraints[row].Name; got != want {
			t.Errorf("Row %d: expected %s, got %s", row, want, got)
		}
	}
	if len(d.IC) != 6 {
		t.Errorf("Expected 6 IC multipliers, got %d", len(d.IC))
	}
}

func TestPairFlat(t *testing.T) {
	n := 4
	for k, pair := range Pairs(n) {
		if got := pair.Flat(n); got != k {
			t.Errorf("%v.Flat(%d) = %d, want %d", pair, n, got, k)
		}
		if got := PairFromFlat(n, k); got != pair {
			t.Errorf("PairFromFlat(%d, %d) = %v, want %v", n, k, got, pair)
		}
	}
}

func TestBuildPrimal_Preconditions(t *testing.T) {
	pop, _ := population.New(2)
	params := types.NewModelParams(2, 1, 1)
	var perr *population.PreconditionError
	if _, err := BuildPrimal(pop, &params); !errors.As(err, &perr) {
		t.Errorf("Expected PreconditionError for empty population, got %v", err)
	}

	derived := derivedPopulation(t, []float64{1, 2}, []float64{1, 1}, []float64{1, 1})
	wrongN := types.NewModelParams(3, 1, 1)
	if _, err := BuildDual(derived, &wrongN); err == nil {
		t.Error("Expected error for mismatched num_type")
	}
	if _, err := BuildMyersonPrimal(derived, nil); err == nil {
		t.Error("Expected error for nil params")
	}
}

func TestGridScenario(t *testing.T) {
	pop := derivedPopulation(t,
		[]float64{0.25, 0.5, 0.75},
		[]float64{0.25, 0.5, 0.75},
		[]float64{0.75, 0.5, 0.25})
	params := types.NewModelParams(3, 1, 10)

	pr, err := BuildPrimal(pop, &params)
	if err != nil {
		t.Fatalf("BuildPrimal failed: %v", err)
	}
	sol, err := pr.Solution(solve(t, pr.Model))
	if err != nil {
		t.Fatalf("Solution failed: %v", err)
	}

	approx := cmpopts.EquateApprox(0, testTol)
	if diff := cmp.Diff([]float64{1, 1, 1}, sol.X, approx); diff != "" {
		t.Errorf("x mismatch (-want +got):\n%s", diff)
	}
	if math.Abs(sol.Objective-params.Lambda) > testTol {
		t.Errorf("Expected objective %v, got %v", params.Lambda, sol.Objective)
	}
	if err := ValidatePrimal(pop, &params, sol, testTol); err != nil {
		t.Errorf("ValidatePrimal failed: %v", err)
	}
	if !sol.SupplyTight(testTol) {
		t.Error("Expected supply to bind with x = 1 and q = 1")
	}
}

func TestZeroServiceScenario(t *testing.T) {
	pop := derivedPopulation(t, []float64{0, 0, 0}, []float64{1, 1, 1}, []float64{1, 1, 1})
	params := types.NewModelParams(3, 0, 2)

	pr, err := BuildPrimal(pop, &params)
	if err != nil {
		t.Fatalf("BuildPrimal failed: %v", err)
	}
	sol, err := pr.Solution(solve(t, pr.Model))
	if err != nil {
		t.Fatalf("Solution failed: %v", err)
	}
	zeros := []float64{0, 0, 0}
	approx := cmpopts.EquateApprox(0, testTol)
	for name, got := range map[string][]float64{"x": sol.X, "p": sol.P, "w": sol.W} {
		if diff := cmp.Diff(zeros, got, approx); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", name, diff)
		}
	}

	d, _ := BuildDual(pop, &params)
	dual, err := d.Solution(solve(t, d.Model))
	if err != nil {
		t.Fatalf("dual Solution failed: %v", err)
	}
	if math.Abs(dual.Objective) > testTol {
		t.Errorf("Expected dual objective 0, got %v", dual.Objective)
	}
}

func TestStrongDualityAndSlackness(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		pop := randomPopulation(t, 4, seed)
		params := types.NewModelParams(4, 0.5, 1.5)

		pr, err := BuildPrimal(pop, &params)
		if err != nil {
			t.Fatalf("seed %d: BuildPrimal failed: %v", seed, err)
		}
		d, err := BuildDual(pop, &params)
		if err != nil {
			t.Fatalf("seed %d: BuildDual failed: %v", seed, err)
		}
		primal, err := pr.Solution(solve(t, pr.Model))
		if err != nil {
			t.Fatalf("seed %d: primal Solution failed: %v", seed, err)
		}
		dual, err := d.Solution(solve(t, d.Model))
		if err != nil {
			t.Fatalf("seed %d: dual Solution failed: %v", seed, err)
		}

		if gap := math.Abs(primal.Objective - dual.Objective); gap > testTol*math.Max(1, math.Abs(primal.Objective)) {
			t.Errorf("seed %d: duality gap %v (primal %v, dual %v)", seed, gap, primal.Objective, dual.Objective)
		}
		if err := ValidatePrimal(pop, &params, primal, testTol); err != nil {
			t.Errorf("seed %d: ValidatePrimal failed: %v", seed, err)
		}

		for pair, v := range dual.IC {
			if v > 1e-5 && !primal.ICTight(pair.I, pair.J, 1e-5) {
				t.Errorf("seed %d: ic%v = %v but IC row has slack %v",
					seed, pair, v, primal.Slacks[pr.ICRow(pair.I, pair.J)])
			}
		}
		for i, v := range dual.IR {
			if v > 1e-5 && !primal.IRTight(i, 1e-5) {
				t.Errorf("seed %d: ir[%d] = %v but IR row is slack", seed, i, v)
			}
		}
		for i := 0; i < 4; i++ {
			if primal.X[i] > 1e-5 && !dual.RowTight(d.XRow(i), 1e-5) {
				t.Errorf("seed %d: x[%d] = %v but dual x row is slack", seed, i, primal.X[i])
			}
			if primal.P[i] > 1e-5 && !dual.RowTight(d.PRow(i), 1e-5) {
				t.Errorf("seed %d: p[%d] = %v but dual p row is slack", seed, i, primal.P[i])
			}
		}
	}
}

// The reference regime: grid types perturbed by ±1e-3 and a weight of 50000
// on revenue, the setting where degenerate bases are common.
func TestStrongDuality_ReferenceRegime(t *testing.T) {
	for _, n := range []int{5, 7, 9} {
		for seed := int64(1); seed <= 3; seed++ {
			pop, err := population.New(n)
			if err != nil {
				t.Fatalf("population.New failed: %v", err)
			}
			if err := population.DefaultPipeline().Apply(pop, rand.New(rand.NewSource(seed))); err != nil {
				t.Fatalf("n=%d seed %d: Apply failed: %v", n, seed, err)
			}
			params := types.NewModelParams(n, 1, 50000)

			pr, err := BuildPrimal(pop, &params)
			if err != nil {
				t.Fatalf("n=%d seed %d: BuildPrimal failed: %v", n, seed, err)
			}
			d, err := BuildDual(pop, &params)
			if err != nil {
				t.Fatalf("n=%d seed %d: BuildDual failed: %v", n, seed, err)
			}
			primal, err := pr.Solution(solve(t, pr.Model))
			if err != nil {
				t.Fatalf("n=%d seed %d: primal Solution failed: %v", n, seed, err)
			}
			dual, err := d.Solution(solve(t, d.Model))
			if err != nil {
				t.Fatalf("n=%d seed %d: dual Solution failed: %v", n, seed, err)
			}

			if gap := math.Abs(primal.Objective - dual.Objective); gap > testTol*math.Max(1, math.Abs(primal.Objective)) {
				t.Errorf("n=%d seed %d: duality gap %v (primal %v, dual %v)", n, seed, gap, primal.Objective, dual.Objective)
			}
			if err := ValidatePrimal(pop, &params, primal, testTol); err != nil {
				t.Errorf("n=%d seed %d: ValidatePrimal failed: %v", n, seed, err)
			}
			// Multipliers scale with the revenue weight.
			for pair, v := range dual.IC {
				if v > 1e-3 && !primal.ICTight(pair.I, pair.J, 1e-5) {
					t.Errorf("n=%d seed %d: ic%v = %v but IC row has slack %v",
						n, seed, pair, v, primal.Slacks[pr.ICRow(pair.I, pair.J)])
				}
			}
		}
	}
}

func TestMyerson_ReferenceRegime(t *testing.T) {
	pop, _ := population.New(9)
	if err := population.DefaultPipeline().Apply(pop, rand.New(rand.NewSource(1))); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	params := types.NewModelParams(9, 1, 50000)
	mp, _ := BuildMyersonPrimal(pop, &params)
	md, _ := BuildMyersonDual(pop, &params)
	primal, err := mp.Solution(solve(t, mp.Model))
	if err != nil {
		t.Fatalf("primal Solution failed: %v", err)
	}
	dual, err := md.Solution(solve(t, md.Model))
	if err != nil {
		t.Fatalf("dual Solution failed: %v", err)
	}
	if gap := math.Abs(primal.Objective - dual.Objective); gap > testTol*math.Max(1, math.Abs(primal.Objective)) {
		t.Errorf("Duality gap %v (primal %v, dual %v)", gap, primal.Objective, dual.Objective)
	}
	if err := ValidatePrimal(pop, &params, primal, testTol); err != nil {
		t.Errorf("ValidatePrimal failed: %v", err)
	}
}

func TestMyerson(t *testing.T) {
	pop := derivedPopulation(t, []float64{1, 2, 3}, []float64{1, 1, 1}, []float64{1, 1, 1})
	params := types.NewModelParams(3, 0.5, 2)

	mp, err := BuildMyersonPrimal(pop, &params)
	if err != nil {
		t.Fatalf("BuildMyersonPrimal failed: %v", err)
	}
	if got := mp.Model.NumConstraints(); got != 9+1+3 {
		t.Errorf("Expected n²+1+n = 13 rows, got %d", got)
	}
	if got := mp.Model.Constraints[mp.BoundRow(1)].Name; got != "bound[1]" {
		t.Errorf("Expected bound[1], got %s", got)
	}

	md, err := BuildMyersonDual(pop, &params)
	if err != nil {
		t.Fatalf("BuildMyersonDual failed: %v", err)
	}
	primal, err := mp.Solution(solve(t, mp.Model))
	if err != nil {
		t.Fatalf("primal Solution failed: %v", err)
	}
	dual, err := md.Solution(solve(t, md.Model))
	if err != nil {
		t.Fatalf("dual Solution failed: %v", err)
	}

	if math.Abs(primal.Objective-dual.Objective) > testTol {
		t.Errorf("Duality gap: primal %v, dual %v", primal.Objective, dual.Objective)
	}
	if err := ValidatePrimal(pop, &params, primal, testTol); err != nil {
		t.Errorf("ValidatePrimal failed: %v", err)
	}
	for i := 1; i < 3; i++ {
		if primal.X[i] < primal.X[i-1]-testTol {
			t.Errorf("Expected allocation monotone in vs, got %v", primal.X)
		}
	}
	if primal.W != nil {
		t.Errorf("Expected no time payments, got %v", primal.W)
	}
}

func TestSolution_RequiresOptimal(t *testing.T) {
	pop := derivedPopulation(t, []float64{1, 2}, []float64{1, 1}, []float64{1, 1})
	params := types.NewModelParams(2, 1, 1)
	pr, _ := BuildPrimal(pop, &params)
	if _, err := pr.Solution(&lp.Result{Status: lp.StatusInfeasible}); err == nil {
		t.Error("Expected error for infeasible result")
	}
	if _, err := pr.Solution(nil); err == nil {
		t.Error("Expected error for nil result")
	}
}

func TestValidatePrimal_ReportsViolations(t *testing.T) {
	pop := derivedPopulation(t, []float64{1, 2}, []float64{1, 1}, []float64{1, 1})
	params := types.NewModelParams(2, 0.5, 1)
	sol := &PrimalSolution{
		X: []float64{1, 1},
		P: []float64{2, 0},
		W: []float64{0, -1},
	}
	err := ValidatePrimal(pop, &params, sol, testTol)
	if err == nil {
		t.Fatal("Expected violations")
	}
	for _, want := range []string{"IR[0]", "IC[0,1]", "w[1]", "supply"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected %q in %v", want, err)
		}
	}
}
