package allocation

import (
	"fmt"
	"math"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"mdsearch/pkg/lp"
	"mdsearch/pkg/population"
	"mdsearch/pkg/types"
)

// DefaultTolerance is the slack below which a constraint is reported tight
// and the violation above which an invariant is reported broken.
const DefaultTolerance = 1e-6

// PrimalSolution is an optimal primal allocation. W is nil for the Myerson
// model. Slacks are indexed like the model rows.
type PrimalSolution struct {
	Objective float64
	X, P, W   []float64
	Slacks    []float64

	n         int
	supplyRow int
	irBase    int
}

// ICTight reports whether IC[i,j] binds.
func (s *PrimalSolution) ICTight(i, j int, tol float64) bool {
	return math.Abs(s.Slacks[icRow(s.n, i, j)]) <= tol
}

// IRTight reports whether IR[i] binds.
func (s *PrimalSolution) IRTight(i int, tol float64) bool {
	return math.Abs(s.Slacks[s.irBase+i]) <= tol
}

// SupplyTight reports whether the supply constraint binds.
func (s *PrimalSolution) SupplyTight(tol float64) bool {
	return math.Abs(s.Slacks[s.supplyRow]) <= tol
}

// Eta returns p[i] - w[i] per type, or p when there are no time payments.
func (s *PrimalSolution) Eta() []float64 {
	eta := make([]float64, len(s.P))
	for i := range eta {
		eta[i] = s.P[i]
		if s.W != nil {
			eta[i] -= s.W[i]
		}
	}
	return eta
}

// Solution extracts the primal values from an optimal result.
func (pr *Primal) Solution(res *lp.Result) (*PrimalSolution, error) {
	if err := requireOptimal(res, pr.Model); err != nil {
		return nil, err
	}
	return &PrimalSolution{
		Objective: res.Objective,
		X:         pick(res.Values, pr.X),
		P:         pick(res.Values, pr.P),
		W:         pick(res.Values, pr.W),
		Slacks:    res.Slacks,
		n:         pr.N,
		supplyRow: pr.SupplyRow(),
		irBase:    pr.IRRow(0),
	}, nil
}

// Solution extracts the primal values from an optimal result.
func (mp *MyersonPrimal) Solution(res *lp.Result) (*PrimalSolution, error) {
	if err := requireOptimal(res, mp.Model); err != nil {
		return nil, err
	}
	return &PrimalSolution{
		Objective: res.Objective,
		X:         pick(res.Values, mp.X),
		P:         pick(res.Values, mp.P),
		Slacks:    res.Slacks,
		n:         mp.N,
		supplyRow: mp.SupplyRow(),
		irBase:    mp.IRRow(0),
	}, nil
}

// DualSolution holds optimal dual multipliers. Slacks are indexed like the
// dual rows (x rows, p rows, then w rows when present).
type DualSolution struct {
	Objective float64
	IC        map[Pair]float64
	IR        []float64
	Bound     []float64
	Supply    float64
	Slacks    []float64

	n int
}

// ICPositive reports whether the multiplier of IC[i,j] exceeds tol.
func (s *DualSolution) ICPositive(i, j int, tol float64) bool {
	return s.IC[Pair{I: i, J: j}] > tol
}

// RowTight reports whether dual row r binds. Rows run x[0..n), p[0..n), w[0..n).
func (s *DualSolution) RowTight(r int, tol float64) bool {
	return math.Abs(s.Slacks[r]) <= tol
}

// NumType returns the number of types the dual was built for.
func (s *DualSolution) NumType() int { return s.n }

// Solution extracts the multipliers from an optimal result.
func (d *Dual) Solution(res *lp.Result) (*DualSolution, error) {
	if err := requireOptimal(res, d.Model); err != nil {
		return nil, err
	}
	return newDualSolution(res, d.N, d.IC, d.IR, d.Bound, d.Supply), nil
}

// Solution extracts the multipliers from an optimal result.
func (md *MyersonDual) Solution(res *lp.Result) (*DualSolution, error) {
	if err := requireOptimal(res, md.Model); err != nil {
		return nil, err
	}
	return newDualSolution(res, md.N, md.IC, md.IR, md.Bound, md.Supply), nil
}

func newDualSolution(res *lp.Result, n int, ic map[Pair]int, ir, bound []int, supply int) *DualSolution {
	sol := &DualSolution{
		Objective: res.Objective,
		IC:        make(map[Pair]float64, len(ic)),
		IR:        pick(res.Values, ir),
		Bound:     pick(res.Values, bound),
		Supply:    res.Values[supply],
		Slacks:    res.Slacks,
		n:         n,
	}
	for pair, v := range ic {
		sol.IC[pair] = res.Values[v]
	}
	return sol
}

func requireOptimal(res *lp.Result, m *lp.Model) error {
	if res == nil {
		return fmt.Errorf("%s: no result", m.Name)
	}
	if res.Status != lp.StatusOptimal {
		return fmt.Errorf("%s: solution requested for %s result", m.Name, res.Status)
	}
	if len(res.Values) != m.NumVars() || len(res.Slacks) != m.NumConstraints() {
		return fmt.Errorf("%s: result has %d values and %d slacks, model has %d variables and %d rows",
			m.Name, len(res.Values), len(res.Slacks), m.NumVars(), m.NumConstraints())
	}
	return nil
}

func pick(values []float64, idx []int) []float64 {
	if idx == nil {
		return nil
	}
	out := make([]float64, len(idx))
	for k, v := range idx {
		out[k] = values[v]
	}
	return out
}

// utility of type i reporting type j. Myerson solutions (no W) price money
// at unit weight.
func utility(pop *population.Population, sol *PrimalSolution, i, j int) float64 {
	if sol.W == nil {
		return pop.VS()[i]*sol.X[j] - sol.P[j]
	}
	return pop.VS()[i]*sol.X[j] - pop.VM()[i]*sol.P[j] - pop.VT()[i]*sol.W[j]
}

// ValidatePrimal checks an optimal primal solution against the feasibility
// invariants: IC and IR within tol, supply within q + tol, 0 <= x <= 1 and
// non-negative payments. Every violation is reported.
func ValidatePrimal(pop *population.Population, params *types.ModelParams, sol *PrimalSolution, tol float64) error {
	var errs []error
	n := params.NumType
	pdf := pop.PDF()

	for i := 0; i < n; i++ {
		own := utility(pop, sol, i, i)
		if own < -tol {
			errs = append(errs, fmt.Errorf("IR[%d] violated: utility %v", i, own))
		}
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if other := utility(pop, sol, i, j); own < other-tol {
				errs = append(errs, fmt.Errorf("IC[%d,%d] violated: %v < %v", i, j, own, other))
			}
		}
		if sol.X[i] < -tol || sol.X[i] > 1+tol {
			errs = append(errs, fmt.Errorf("x[%d] = %v outside [0, 1]", i, sol.X[i]))
		}
		if sol.P[i] < -tol {
			errs = append(errs, fmt.Errorf("p[%d] = %v is negative", i, sol.P[i]))
		}
		if sol.W != nil && sol.W[i] < -tol {
			errs = append(errs, fmt.Errorf("w[%d] = %v is negative", i, sol.W[i]))
		}
	}

	supply := 0.0
	for i := 0; i < n; i++ {
		supply += pdf[i] * sol.X[i]
	}
	if supply > params.Q+tol {
		errs = append(errs, fmt.Errorf("supply violated: %v > %v", supply, params.Q))
	}
	return utilerrors.NewAggregate(errs)
}
