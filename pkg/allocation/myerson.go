package allocation

import (
	"fmt"
	"math"

	"mdsearch/pkg/lp"
	"mdsearch/pkg/population"
	"mdsearch/pkg/types"
)

// MyersonPrimal is the single-parameter benchmark: only the service
// valuation matters and payments are made in money with unit weight.
// Rows are IC (row-major), IR, supply, then one bound row x[i] <= 1 per type.
type MyersonPrimal struct {
	Model *lp.Model
	N     int

	X []int
	P []int
}

func (mp *MyersonPrimal) ICRow(i, j int) int { return icRow(mp.N, i, j) }
func (mp *MyersonPrimal) IRRow(i int) int    { return mp.N*(mp.N-1) + i }
func (mp *MyersonPrimal) SupplyRow() int     { return mp.N * mp.N }
func (mp *MyersonPrimal) BoundRow(i int) int { return mp.N*mp.N + 1 + i }

// BuildMyersonPrimal assembles
//
//	maximize  Σ pdf[i] (vs[i] x[i] - p[i] + lambda p[i])
//	IC[i,j]:  vs[i] x[i] - p[i] >= vs[i] x[j] - p[j]
//	IR[i]:    vs[i] x[i] - p[i] >= 0
//	supply:   Σ pdf[i] x[i] <= q
//	bound[i]: x[i] <= 1
func BuildMyersonPrimal(pop *population.Population, params *types.ModelParams) (*MyersonPrimal, error) {
	if err := checkInputs(pop, params); err != nil {
		return nil, err
	}
	n := params.NumType
	vs, pdf := pop.VS(), pop.PDF()

	m := lp.NewModel("myerson_primal", lp.Maximize)
	mp := &MyersonPrimal{
		Model: m,
		N:     n,
		X:     m.AddVars("x", n, math.Inf(1)),
		P:     m.AddVars("p", n, math.Inf(1)),
	}
	for i := 0; i < n; i++ {
		m.SetObjective(mp.X[i], pdf[i]*vs[i])
		m.SetObjective(mp.P[i], pdf[i]*(params.Lambda-1))
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			expr := lp.Expr{}.Add(mp.X[i], vs[i]).Add(mp.P[i], -1).Add(mp.X[j], -vs[i]).Add(mp.P[j], 1)
			m.AddConstraint(fmt.Sprintf("IC[%d,%d]", i, j), expr, lp.GreaterEqual, 0)
		}
	}
	for i := 0; i < n; i++ {
		m.AddConstraint(fmt.Sprintf("IR[%d]", i), lp.Expr{}.Add(mp.X[i], vs[i]).Add(mp.P[i], -1), lp.GreaterEqual, 0)
	}
	var supply lp.Expr
	for i := 0; i < n; i++ {
		supply = supply.Add(mp.X[i], pdf[i])
	}
	m.AddConstraint("supply", supply, lp.LessEqual, params.Q)
	for i := 0; i < n; i++ {
		m.AddConstraint(fmt.Sprintf("bound[%d]", i), lp.Expr{}.Add(mp.X[i], 1), lp.LessEqual, 1)
	}
	return mp, nil
}

// MyersonDual is the dual of MyersonPrimal. Rows are x[i] then p[i].
type MyersonDual struct {
	Model *lp.Model
	N     int

	IC     map[Pair]int
	IR     []int
	Bound  []int
	Supply int
}

func (md *MyersonDual) XRow(i int) int { return i }
func (md *MyersonDual) PRow(i int) int { return md.N + i }

// BuildMyersonDual assembles
//
//	minimize  q supply + Σ bound[i]
//	x[i]: Σ_j -vs[i] ic[i,j] + Σ_j vs[j] ic[j,i] - vs[i] ir[i] + pdf[i] supply + bound[i] >= vs[i] pdf[i]
//	p[i]: Σ_j ic[i,j] - Σ_j ic[j,i] + ir[i] >= (lambda - 1) pdf[i]
func BuildMyersonDual(pop *population.Population, params *types.ModelParams) (*MyersonDual, error) {
	if err := checkInputs(pop, params); err != nil {
		return nil, err
	}
	n := params.NumType
	vs, pdf := pop.VS(), pop.PDF()

	m := lp.NewModel("myerson_dual", lp.Minimize)
	md := &MyersonDual{Model: m, N: n, IC: make(map[Pair]int, n*(n-1))}
	for _, pair := range Pairs(n) {
		md.IC[pair] = m.AddVar(fmt.Sprintf("ic[%d,%d]", pair.I, pair.J), math.Inf(1))
	}
	md.IR = m.AddVars("ir", n, math.Inf(1))
	md.Bound = m.AddVars("bound", n, math.Inf(1))
	md.Supply = m.AddVar("supply", math.Inf(1))
	m.SetObjective(md.Supply, params.Q)
	for i := 0; i < n; i++ {
		m.SetObjective(md.Bound[i], 1)
	}

	for i := 0; i < n; i++ {
		var e lp.Expr
		for j := 0; j < n; j++ {
			if j != i {
				e = e.Add(md.IC[Pair{I: i, J: j}], -vs[i]).Add(md.IC[Pair{I: j, J: i}], vs[j])
			}
		}
		e = e.Add(md.IR[i], -vs[i]).Add(md.Supply, pdf[i]).Add(md.Bound[i], 1)
		m.AddConstraint(fmt.Sprintf("x[%d]", i), e, lp.GreaterEqual, vs[i]*pdf[i])
	}
	for i := 0; i < n; i++ {
		var e lp.Expr
		for j := 0; j < n; j++ {
			if j != i {
				e = e.Add(md.IC[Pair{I: i, J: j}], 1).Add(md.IC[Pair{I: j, J: i}], -1)
			}
		}
		e = e.Add(md.IR[i], 1)
		m.AddConstraint(fmt.Sprintf("p[%d]", i), e, lp.GreaterEqual, (params.Lambda-1)*pdf[i])
	}
	return md, nil
}
