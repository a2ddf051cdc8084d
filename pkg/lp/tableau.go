package lp

import (
	"context"
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	gonumlp "gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	// pivotTolerance is the smallest tableau entry accepted as a pivot.
	pivotTolerance = 1e-9
	// optimalityTolerance bounds negative reduced costs, relative to the
	// largest initial cost.
	optimalityTolerance = 1e-9
	// phaseOneTolerance bounds the artificial mass left by a feasible model,
	// relative to the largest right-hand side.
	phaseOneTolerance = 1e-9
	// blandAfter is the number of consecutive degenerate pivots after which
	// entering and leaving columns follow Bland's rule.
	blandAfter = 50
)

var errIterationLimit = errors.New("lp: tableau iteration limit reached")

// tableau is a dense simplex tableau for min cᵀx, Ax = b, x ≥ 0 with b ≥ 0.
//
// Columns [0, n) are the model columns and [n, width) the artificial ones;
// column width holds the right-hand side. Row m holds the phase 2 reduced
// costs and row m+1 the phase 1 reduced costs. The last entry of a cost row
// is minus the objective of the current basis.
type tableau struct {
	t       *mat.Dense
	m, n    int
	width   int
	basis   []int
	artRows []int // original row of each artificial column
}

// solveTableau is the fallback engine: a two-phase dense tableau simplex
// that refuses tiny pivots and switches to Bland's rule on degenerate
// stalls. It checks ctx between pivots.
func solveTableau(ctx context.Context, c []float64, a mat.Matrix, b []float64, _ float64) ([]float64, error) {
	tb := newTableau(c, a, b)
	if tb.width > tb.n {
		if err := tb.run(ctx, tb.m+1, tb.width); err != nil {
			return nil, err
		}
		scale := math.Max(1, floats.Norm(b, math.Inf(1)))
		if -tb.t.At(tb.m+1, tb.width) > phaseOneTolerance*scale {
			return nil, gonumlp.ErrInfeasible
		}
		tb.dropArtificials()
	}
	if err := tb.run(ctx, tb.m, tb.n); err != nil {
		return nil, err
	}
	return tb.solution(a, b), nil
}

func newTableau(c []float64, a mat.Matrix, b []float64) *tableau {
	m, n := a.Dims()
	tb := &tableau{m: m, n: n, basis: make([]int, m)}
	for i := range tb.basis {
		tb.basis[i] = -1
	}
	// A unit column starts basic in the row of its single entry.
	for j := 0; j < n; j++ {
		if i, ok := unitColumn(a, j); ok && tb.basis[i] < 0 {
			tb.basis[i] = j
		}
	}
	tb.width = n
	for i, j := range tb.basis {
		if j < 0 {
			tb.basis[i] = tb.width
			tb.artRows = append(tb.artRows, i)
			tb.width++
		}
	}

	tb.t = mat.NewDense(m+2, tb.width+1, nil)
	for i := 0; i < m; i++ {
		row := tb.t.RawRowView(i)
		for j := 0; j < n; j++ {
			row[j] = a.At(i, j)
		}
		if j := tb.basis[i]; j >= n {
			row[j] = 1
		}
		row[tb.width] = b[i]
	}
	cost := tb.t.RawRowView(m)
	copy(cost, c)
	phase1 := tb.t.RawRowView(m + 1)
	for j := n; j < tb.width; j++ {
		phase1[j] = 1
	}
	for i, j := range tb.basis {
		row := tb.t.RawRowView(i)
		if f := cost[j]; f != 0 {
			floats.AddScaled(cost, -f, row)
		}
		if f := phase1[j]; f != 0 {
			floats.AddScaled(phase1, -f, row)
		}
	}
	return tb
}

// unitColumn reports the row of column j if it is a unit vector.
func unitColumn(a mat.Matrix, j int) (int, bool) {
	m, _ := a.Dims()
	row := -1
	for i := 0; i < m; i++ {
		switch v := a.At(i, j); {
		case v == 0:
		case v == 1 && row < 0:
			row = i
		default:
			return -1, false
		}
	}
	return row, row >= 0
}

// run pivots until no column below allowed has a negative entry in cost row
// obj.
func (tb *tableau) run(ctx context.Context, obj, allowed int) error {
	cost := tb.t.RawRowView(obj)
	tol := optimalityTolerance * math.Max(1, floats.Norm(cost[:allowed], math.Inf(1)))
	limit := 50 * (tb.m + tb.width)
	degenerate := 0
	for iter := 0; ; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if iter >= limit {
			return errIterationLimit
		}
		bland := degenerate >= blandAfter
		e := entering(cost[:allowed], tol, bland)
		if e < 0 {
			return nil
		}
		r := tb.leaving(e, bland)
		if r < 0 {
			return gonumlp.ErrUnbounded
		}
		if tb.t.At(r, tb.width) <= pivotTolerance {
			degenerate++
		} else {
			degenerate = 0
		}
		tb.pivot(r, e)
	}
}

// entering picks the most negative reduced cost, or the first negative one
// under Bland's rule.
func entering(d []float64, tol float64, bland bool) int {
	best := -1
	for j, v := range d {
		if v >= -tol {
			continue
		}
		if bland {
			return j
		}
		if best < 0 || v < d[best] {
			best = j
		}
	}
	return best
}

// leaving runs the ratio test on column e. Among rows tied at the minimum
// ratio it keeps the largest pivot, or the lowest basic column under Bland's
// rule. It returns -1 when the column is unbounded.
func (tb *tableau) leaving(e int, bland bool) int {
	theta := math.Inf(1)
	for i := 0; i < tb.m; i++ {
		if p := tb.t.At(i, e); p > pivotTolerance {
			theta = math.Min(theta, math.Max(tb.t.At(i, tb.width), 0)/p)
		}
	}
	if math.IsInf(theta, 1) {
		return -1
	}
	bound := theta + 1e-12*(1+theta)
	best := -1
	for i := 0; i < tb.m; i++ {
		p := tb.t.At(i, e)
		if p <= pivotTolerance || math.Max(tb.t.At(i, tb.width), 0)/p > bound {
			continue
		}
		switch {
		case best < 0:
			best = i
		case bland:
			if tb.basis[i] < tb.basis[best] {
				best = i
			}
		case p > tb.t.At(best, e):
			best = i
		}
	}
	return best
}

func (tb *tableau) pivot(r, e int) {
	pr := tb.t.RawRowView(r)
	floats.Scale(1/pr[e], pr)
	pr[e] = 1
	rows, _ := tb.t.Dims()
	for i := 0; i < rows; i++ {
		if i == r {
			continue
		}
		row := tb.t.RawRowView(i)
		f := row[e]
		if f == 0 {
			continue
		}
		floats.AddScaled(row, -f, pr)
		row[e] = 0
		if i < tb.m && row[tb.width] < 0 && row[tb.width] > -pivotTolerance {
			row[tb.width] = 0
		}
	}
	tb.basis[r] = e
}

// dropArtificials pivots zero-valued artificial columns out of the basis.
// An artificial that cannot leave marks a redundant row and stays basic at
// zero; phase 2 never lets artificial columns enter.
func (tb *tableau) dropArtificials() {
	for i, j := range tb.basis {
		if j < tb.n {
			continue
		}
		row := tb.t.RawRowView(i)
		best := -1
		for k := 0; k < tb.n; k++ {
			if math.Abs(row[k]) > pivotTolerance && (best < 0 || math.Abs(row[k]) > math.Abs(row[best])) {
				best = k
			}
		}
		if best >= 0 {
			tb.pivot(i, best)
		}
	}
}

// solution reads the basic values, refined by one solve against the
// original columns when that solve is well conditioned.
func (tb *tableau) solution(a mat.Matrix, b []float64) []float64 {
	if x, ok := tb.refine(a, b); ok {
		return x
	}
	x := make([]float64, tb.n)
	for i, j := range tb.basis {
		if j < tb.n {
			x[j] = math.Max(tb.t.At(i, tb.width), 0)
		}
	}
	return x
}

func (tb *tableau) refine(a mat.Matrix, b []float64) ([]float64, bool) {
	ab := mat.NewDense(tb.m, tb.m, nil)
	col := make([]float64, tb.m)
	for k, j := range tb.basis {
		if j < tb.n {
			mat.Col(col, j, a)
		} else {
			for i := range col {
				col[i] = 0
			}
			col[tb.artRows[j-tb.n]] = 1
		}
		ab.SetCol(k, col)
	}
	var xb mat.VecDense
	if err := xb.SolveVec(ab, mat.NewVecDense(tb.m, b)); err != nil {
		return nil, false
	}
	x := make([]float64, tb.n)
	for k, j := range tb.basis {
		v := xb.AtVec(k)
		if v < -pivotTolerance || (j >= tb.n && math.Abs(v) > pivotTolerance) {
			return nil, false
		}
		if j < tb.n {
			x[j] = math.Max(v, 0)
		}
	}
	return x, true
}
