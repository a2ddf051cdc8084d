package lp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"
	gonumlp "gonum.org/v1/gonum/optimize/convex/lp"
	"k8s.io/klog/v2"
)

// DefaultTolerance is the zero tolerance handed to the simplex engine.
const DefaultTolerance = 1e-10

// DefaultMaxAbandoned is the number of timed out engine solves that may
// still be running before new models skip the engine.
const DefaultMaxAbandoned = 1

// feasibilityTolerance bounds the row violation accepted from an engine,
// relative to the magnitude of the row.
const feasibilityTolerance = 1e-6

// errEngineBusy is returned when MaxAbandoned engine goroutines are still
// running.
var errEngineBusy = errors.New("too many abandoned engine solves still running")

// SimplexSolver solves models with gonum's dense simplex implementation.
//
// The engine only accepts standard form (minimize cᵀx, Ax = b, x ≥ 0), so
// every inequality row gets its own slack column and every finite upper bound
// becomes an extra row.
//
// gonum gives up on degenerate models ("matrix singular or near-singular")
// and cannot be interrupted. Any engine failure other than an infeasible or
// unbounded verdict hands the same standard form to a dense tableau simplex
// that checks the context between pivots. With a Timeout, the engine gets half
// of the budget; past it the engine goroutine is abandoned and the fallback
// uses the rest. At most MaxAbandoned abandoned goroutines may be running at
// once (0 = no limit); beyond that, models skip the engine.
type SimplexSolver struct {
	Tolerance    float64
	Timeout      time.Duration
	MaxAbandoned int

	engine    engineFunc
	fallback  engineFunc
	abandoned atomic.Int64
	fallbacks atomic.Int64
}

// engineFunc solves min cᵀx, Ax = b, x ≥ 0 and returns x.
type engineFunc func(ctx context.Context, c []float64, a mat.Matrix, b []float64, tol float64) ([]float64, error)

// NewSimplexSolver creates a solver with the given per-solve timeout (0 = none).
func NewSimplexSolver(timeout time.Duration) *SimplexSolver {
	return &SimplexSolver{
		Tolerance:    DefaultTolerance,
		Timeout:      timeout,
		MaxAbandoned: DefaultMaxAbandoned,
	}
}

// Abandoned returns the number of timed out engine solves still running.
func (s *SimplexSolver) Abandoned() int { return int(s.abandoned.Load()) }

// Fallbacks returns the number of models solved by the tableau fallback.
func (s *SimplexSolver) Fallbacks() int { return int(s.fallbacks.Load()) }

func gonumSimplex(_ context.Context, c []float64, a mat.Matrix, b []float64, tol float64) ([]float64, error) {
	_, x, err := gonumlp.Simplex(c, a, b, tol, nil)
	return x, err
}

// standardForm is the engine input together with the mapping back to model variables.
type standardForm struct {
	c       []float64
	a       *mat.Dense
	b       []float64
	cols    []int // model variable of each structural column
	free    []int // model variables absent from every row
	diverge bool  // a free variable improves the objective without limit
}

// values maps an engine solution back to the model variables.
func (sf *standardForm) values(x []float64, n int) []float64 {
	values := make([]float64, n)
	for k, j := range sf.cols {
		values[j] = x[k]
	}
	return values
}

type simplexOutcome struct {
	x   []float64
	err error
}

// Solve implements Solver.
func (s *SimplexSolver) Solve(ctx context.Context, m *Model) (*Result, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sf := toStandardForm(m)
	if len(sf.b) == 0 {
		// No rows at all: every variable sits at its cheapest bound.
		if sf.diverge {
			return &Result{Status: StatusUnbounded}, nil
		}
		return s.optimal(m, make([]float64, m.NumVars())), nil
	}

	solveCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	tol := s.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}

	var values []float64
	x, err := s.runEngine(solveCtx, sf, tol)
	if err == nil {
		values = sf.values(x, m.NumVars())
		err = checkFeasible(m, values)
	}
	if needsFallback(err) && ctx.Err() == nil {
		klog.V(2).InfoS("Simplex engine failed, solving with the tableau fallback", "model", m.Name, "reason", err)
		s.fallbacks.Add(1)
		fallback := s.fallback
		if fallback == nil {
			fallback = solveTableau
		}
		if x, err = fallback(solveCtx, sf.c, sf.a, sf.b, tol); err == nil {
			values = sf.values(x, m.NumVars())
			err = checkFeasible(m, values)
		}
	}

	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		klog.V(2).InfoS("Simplex solve timed out", "model", m.Name, "timeout", s.Timeout)
		return &Result{Status: StatusTimeout, Message: fmt.Sprintf("solve exceeded %s", s.Timeout)}, nil
	case errors.Is(err, gonumlp.ErrInfeasible):
		return &Result{Status: StatusInfeasible}, nil
	case errors.Is(err, gonumlp.ErrUnbounded):
		return &Result{Status: StatusUnbounded}, nil
	default:
		return &Result{Status: StatusFault, Message: err.Error()}, nil
	}

	if sf.diverge {
		return &Result{Status: StatusUnbounded}, nil
	}
	return s.optimal(m, values), nil
}

// runEngine runs the engine in its own goroutine. When ctx has a deadline
// the engine gets half of the remaining time.
func (s *SimplexSolver) runEngine(ctx context.Context, sf *standardForm, tol float64) ([]float64, error) {
	if s.MaxAbandoned > 0 && s.Abandoned() >= s.MaxAbandoned {
		return nil, errEngineBusy
	}
	engine := s.engine
	if engine == nil {
		engine = gonumSimplex
	}
	engineCtx := ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		engineCtx, cancel = context.WithTimeout(ctx, time.Until(deadline)/2)
		defer cancel()
	}

	done := make(chan simplexOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- simplexOutcome{err: fmt.Errorf("simplex panic: %v", r)}
			}
		}()
		x, err := engine(engineCtx, sf.c, sf.a, sf.b, tol)
		done <- simplexOutcome{x: x, err: err}
	}()

	select {
	case out := <-done:
		return out.x, out.err
	case <-engineCtx.Done():
		s.abandoned.Add(1)
		go func() {
			<-done
			s.abandoned.Add(-1)
		}()
		return nil, fmt.Errorf("engine abandoned: %w", engineCtx.Err())
	}
}

// needsFallback reports whether err leaves the model unsolved without a
// verdict from the engine.
func needsFallback(err error) bool {
	return err != nil && !errors.Is(err, gonumlp.ErrInfeasible) && !errors.Is(err, gonumlp.ErrUnbounded)
}

// checkFeasible rejects solutions violating a row or a bound.
func checkFeasible(m *Model, values []float64) error {
	for j, v := range values {
		if v < -feasibilityTolerance || v > m.Vars[j].Upper+feasibilityTolerance*math.Max(1, m.Vars[j].Upper) {
			return fmt.Errorf("variable %s = %g is out of bounds", m.Vars[j].Name, v)
		}
	}
	for _, c := range m.Constraints {
		scale := math.Max(1, math.Abs(c.RHS))
		for _, t := range c.Expr {
			scale = math.Max(scale, math.Abs(t.Coef*values[t.Var]))
		}
		if slack := c.Slack(values); slack < -feasibilityTolerance*scale {
			return fmt.Errorf("row %s violated by %g", c.Name, -slack)
		}
	}
	return nil
}

func (s *SimplexSolver) optimal(m *Model, values []float64) *Result {
	slacks := make([]float64, m.NumConstraints())
	for r, c := range m.Constraints {
		slacks[r] = c.Slack(values)
	}
	return &Result{
		Status:    StatusOptimal,
		Objective: m.ObjectiveValue(values),
		Values:    values,
		Slacks:    slacks,
	}
}

// toStandardForm converts the model into the engine's equality form.
func toStandardForm(m *Model) *standardForm {
	n := m.NumVars()
	used := make([]bool, n)
	for _, c := range m.Constraints {
		for _, t := range c.Expr {
			used[t.Var] = true
		}
	}

	sf := &standardForm{}
	colOf := make([]int, n)
	for j := 0; j < n; j++ {
		colOf[j] = -1
		cost := m.Objective[j]
		if m.Direction == Maximize {
			cost = -cost
		}
		if !used[j] && math.IsInf(m.Vars[j].Upper, 1) {
			sf.free = append(sf.free, j)
			if cost < 0 {
				sf.diverge = true
			}
			continue
		}
		colOf[j] = len(sf.cols)
		sf.cols = append(sf.cols, j)
		sf.c = append(sf.c, cost)
	}

	type row struct {
		coefs map[int]float64
		sign  float64 // slack coefficient
		rhs   float64
	}
	var rows []row
	for _, c := range m.Constraints {
		r := row{coefs: make(map[int]float64, len(c.Expr)), sign: 1, rhs: c.RHS}
		if c.Sense == GreaterEqual {
			r.sign = -1
		}
		for _, t := range c.Expr {
			r.coefs[colOf[t.Var]] += t.Coef
		}
		rows = append(rows, r)
	}
	for j, v := range m.Vars {
		if colOf[j] < 0 || math.IsInf(v.Upper, 1) {
			continue
		}
		rows = append(rows, row{coefs: map[int]float64{colOf[j]: 1}, sign: 1, rhs: v.Upper})
	}
	if len(rows) == 0 {
		return sf
	}

	structural := len(sf.cols)
	width := structural + len(rows)
	sf.a = mat.NewDense(len(rows), width, nil)
	sf.b = make([]float64, len(rows))
	for i, r := range rows {
		flip := 1.0
		if r.rhs < 0 {
			flip = -1
		}
		for col, coef := range r.coefs {
			sf.a.Set(i, col, flip*coef)
		}
		sf.a.Set(i, structural+i, flip*r.sign)
		sf.b[i] = flip * r.rhs
	}
	sf.c = append(sf.c, make([]float64, len(rows))...)
	return sf
}
