// Package allocation builds the mechanism-design linear programs solved for
// every generated population: the three-dimensional primal (service, money,
// time), its hand-derived dual, and the single-parameter Myerson pair.
package allocation

import (
	"fmt"
	"math"

	"mdsearch/pkg/lp"
	"mdsearch/pkg/population"
	"mdsearch/pkg/types"
)

// Primal is the revenue-plus-welfare primal LP together with the indices of
// its variables. Constraint rows are laid out as
//
//	IC[i,j] for i = 0..n-1, j = 0..n-1, j != i   (row-major)
//	IR[i]   for i = 0..n-1
//	supply
//
// giving n(n-1) + n + 1 = n²+1 rows.
type Primal struct {
	Model *lp.Model
	N     int

	X []int // allocation probability, in [0, 1]
	P []int // money payment
	W []int // time payment
}

// ICRow returns the row of the incentive constraint "type i does not prefer
// the outcome of type j".
func (pr *Primal) ICRow(i, j int) int {
	return icRow(pr.N, i, j)
}

// IRRow returns the row of the participation constraint of type i.
func (pr *Primal) IRRow(i int) int {
	return pr.N*(pr.N-1) + i
}

// SupplyRow returns the row of the supply constraint.
func (pr *Primal) SupplyRow() int {
	return pr.N * pr.N
}

func icRow(n, i, j int) int {
	if j > i {
		j--
	}
	return i*(n-1) + j
}

// BuildPrimal assembles the primal LP for a derived population:
//
//	maximize  Σ pdf[i] (vs[i] x[i] - vm[i] p[i] - vt[i] w[i] + lambda p[i])
//	IC[i,j]:  vs[i] x[i] - vm[i] p[i] - vt[i] w[i] >= vs[i] x[j] - vm[i] p[j] - vt[i] w[j]
//	IR[i]:    vs[i] x[i] - vm[i] p[i] - vt[i] w[i] >= 0
//	supply:   Σ pdf[i] x[i] <= q
//	0 <= x <= 1, p >= 0, w >= 0
func BuildPrimal(pop *population.Population, params *types.ModelParams) (*Primal, error) {
	if err := checkInputs(pop, params); err != nil {
		return nil, err
	}
	n := params.NumType
	vs, vm, vt, pdf := pop.VS(), pop.VM(), pop.VT(), pop.PDF()

	m := lp.NewModel("primal", lp.Maximize)
	pr := &Primal{
		Model: m,
		N:     n,
		X:     m.AddVars("x", n, 1),
		P:     m.AddVars("p", n, math.Inf(1)),
		W:     m.AddVars("w", n, math.Inf(1)),
	}
	for i := 0; i < n; i++ {
		m.SetObjective(pr.X[i], pdf[i]*vs[i])
		m.SetObjective(pr.P[i], pdf[i]*(params.Lambda-vm[i]))
		m.SetObjective(pr.W[i], -pdf[i]*vt[i])
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			expr := lp.Expr{}.
				Add(pr.X[i], vs[i]).Add(pr.P[i], -vm[i]).Add(pr.W[i], -vt[i]).
				Add(pr.X[j], -vs[i]).Add(pr.P[j], vm[i]).Add(pr.W[j], vt[i])
			m.AddConstraint(fmt.Sprintf("IC[%d,%d]", i, j), expr, lp.GreaterEqual, 0)
		}
	}
	for i := 0; i < n; i++ {
		expr := lp.Expr{}.Add(pr.X[i], vs[i]).Add(pr.P[i], -vm[i]).Add(pr.W[i], -vt[i])
		m.AddConstraint(fmt.Sprintf("IR[%d]", i), expr, lp.GreaterEqual, 0)
	}
	supply := lp.Expr{}
	for i := 0; i < n; i++ {
		supply = supply.Add(pr.X[i], pdf[i])
	}
	m.AddConstraint("supply", supply, lp.LessEqual, params.Q)
	return pr, nil
}

func checkInputs(pop *population.Population, params *types.ModelParams) error {
	if params == nil {
		return fmt.Errorf("model params are required")
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if pop.NumType() != params.NumType {
		return fmt.Errorf("population has %d types, params expect %d", pop.NumType(), params.NumType)
	}
	if pop.Phase() != population.PhaseDerived {
		return &population.PreconditionError{
			Op:     "build model",
			Reason: fmt.Sprintf("population must be derived, is %s", pop.Phase()),
		}
	}
	return nil
}
