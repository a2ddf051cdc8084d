package allocation

import (
	"fmt"
	"math"

	"mdsearch/pkg/lp"
	"mdsearch/pkg/population"
	"mdsearch/pkg/types"
)

// Pair identifies the incentive constraint of type I against type J.
type Pair struct {
	I int `json:"i" mapstructure:"i"`
	J int `json:"j" mapstructure:"j"`
}

func (p Pair) String() string {
	return fmt.Sprintf("(%d,%d)", p.I, p.J)
}

// Flat returns the position of the pair in a row-major listing of all ordered
// pairs with I != J, i.e. I*(n-1) + J', where J' skips the diagonal.
func (p Pair) Flat(n int) int {
	return icRow(n, p.I, p.J)
}

// PairFromFlat inverts Flat. n must be at least 2.
func PairFromFlat(n, k int) Pair {
	i := k / (n - 1)
	j := k % (n - 1)
	if j >= i {
		j++
	}
	return Pair{I: i, J: j}
}

// Pairs lists every ordered pair for n types in row-major order.
func Pairs(n int) []Pair {
	pairs := make([]Pair, 0, n*(n-1))
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				pairs = append(pairs, Pair{I: i, J: j})
			}
		}
	}
	return pairs
}

// Dual is the LP dual of Primal. Variables are the multipliers of the primal
// rows (IC, IR, supply) and of the x <= 1 bounds. Rows are laid out as x[i]
// for every type, then p[i], then w[i].
type Dual struct {
	Model *lp.Model
	N     int

	IC     map[Pair]int
	IR     []int
	Bound  []int
	Supply int
}

// XRow returns the row dual to primal variable x[i].
func (d *Dual) XRow(i int) int { return i }

// PRow returns the row dual to primal variable p[i].
func (d *Dual) PRow(i int) int { return d.N + i }

// WRow returns the row dual to primal variable w[i].
func (d *Dual) WRow(i int) int { return 2*d.N + i }

// BuildDual assembles the dual of BuildPrimal's LP:
//
//	minimize  q supply + Σ bound[i]
//	x[i]: Σ_j -vs[i] ic[i,j] + Σ_j vs[j] ic[j,i] - vs[i] ir[i] + pdf[i] supply + bound[i] >= vs[i] pdf[i]
//	p[i]: Σ_j  vm[i] ic[i,j] - Σ_j vm[j] ic[j,i] + vm[i] ir[i]                            >= (lambda - vm[i]) pdf[i]
//	w[i]: Σ_j  vt[i] ic[i,j] - Σ_j vt[j] ic[j,i] + vt[i] ir[i]                            >= -vt[i] pdf[i]
//
// with every multiplier non-negative.
func BuildDual(pop *population.Population, params *types.ModelParams) (*Dual, error) {
	if err := checkInputs(pop, params); err != nil {
		return nil, err
	}
	n := params.NumType
	vs, vm, vt, pdf := pop.VS(), pop.VM(), pop.VT(), pop.PDF()

	m := lp.NewModel("dual", lp.Minimize)
	d := &Dual{Model: m, N: n, IC: make(map[Pair]int, n*(n-1))}
	for _, pair := range Pairs(n) {
		d.IC[pair] = m.AddVar(fmt.Sprintf("ic[%d,%d]", pair.I, pair.J), math.Inf(1))
	}
	d.IR = m.AddVars("ir", n, math.Inf(1))
	d.Bound = m.AddVars("bound", n, math.Inf(1))
	d.Supply = m.AddVar("supply", math.Inf(1))

	m.SetObjective(d.Supply, params.Q)
	for i := 0; i < n; i++ {
		m.SetObjective(d.Bound[i], 1)
	}

	// incentive returns sign*c[i] ic[i,j] - sign*c[j] ic[j,i] summed over j.
	incentive := func(i int, c []float64, sign float64) lp.Expr {
		var e lp.Expr
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			e = e.Add(d.IC[Pair{I: i, J: j}], sign*c[i])
			e = e.Add(d.IC[Pair{I: j, J: i}], -sign*c[j])
		}
		return e
	}

	for i := 0; i < n; i++ {
		e := incentive(i, vs, -1).
			Add(d.IR[i], -vs[i]).
			Add(d.Supply, pdf[i]).
			Add(d.Bound[i], 1)
		m.AddConstraint(fmt.Sprintf("x[%d]", i), e, lp.GreaterEqual, vs[i]*pdf[i])
	}
	for i := 0; i < n; i++ {
		e := incentive(i, vm, 1).Add(d.IR[i], vm[i])
		m.AddConstraint(fmt.Sprintf("p[%d]", i), e, lp.GreaterEqual, (params.Lambda-vm[i])*pdf[i])
	}
	for i := 0; i < n; i++ {
		e := incentive(i, vt, 1).Add(d.IR[i], vt[i])
		m.AddConstraint(fmt.Sprintf("w[%d]", i), e, lp.GreaterEqual, -vt[i]*pdf[i])
	}
	return d, nil
}
