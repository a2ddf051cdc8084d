// Package lp describes linear programs and solves them through an external engine.
//
// A Model holds non-negative variables (optionally bounded above), a linear
// objective and a list of inequality constraints. Models are built once per
// solve cycle and are not safe for concurrent mutation.
package lp

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidModel is returned when a model cannot be handed to a solver.
var ErrInvalidModel = errors.New("invalid LP model")

// Direction is the optimization direction of the objective.
type Direction int

const (
	Minimize Direction = iota
	Maximize
)

func (d Direction) String() string {
	if d == Maximize {
		return "Maximize"
	}
	return "Minimize"
}

// Sense is the relation of a constraint row to its right-hand side.
type Sense int

const (
	LessEqual Sense = iota
	GreaterEqual
)

func (s Sense) String() string {
	if s == GreaterEqual {
		return ">="
	}
	return "<="
}

// Var is a decision variable. The lower bound is always zero.
type Var struct {
	Name  string
	Upper float64 // +Inf when unbounded above
}

// Term is one coefficient of a linear expression.
type Term struct {
	Var  int
	Coef float64
}

// Expr is a linear expression over model variables.
type Expr []Term

// Add appends coef*v to the expression.
func (e Expr) Add(v int, coef float64) Expr {
	return append(e, Term{Var: v, Coef: coef})
}

// Normalize merges duplicate variables, keeping first-appearance order,
// and drops zero coefficients.
func (e Expr) Normalize() Expr {
	pos := make(map[int]int, len(e))
	out := make(Expr, 0, len(e))
	for _, t := range e {
		if k, ok := pos[t.Var]; ok {
			out[k].Coef += t.Coef
			continue
		}
		pos[t.Var] = len(out)
		out = append(out, t)
	}
	kept := out[:0]
	for _, t := range out {
		if t.Coef != 0 {
			kept = append(kept, t)
		}
	}
	return kept
}

// Eval returns the value of the expression at x.
func (e Expr) Eval(x []float64) float64 {
	var sum float64
	for _, t := range e {
		sum += t.Coef * x[t.Var]
	}
	return sum
}

// Constraint is a named linear inequality.
type Constraint struct {
	Name  string
	Expr  Expr
	Sense Sense
	RHS   float64
}

// Slack returns the non-negative distance of the constraint from being violated
// at x. A negative value means the constraint is violated.
func (c Constraint) Slack(x []float64) float64 {
	lhs := c.Expr.Eval(x)
	if c.Sense == GreaterEqual {
		return lhs - c.RHS
	}
	return c.RHS - lhs
}

// Model is a linear program over non-negative variables.
type Model struct {
	Name        string
	Direction   Direction
	Vars        []Var
	Objective   []float64 // one coefficient per variable
	Constraints []Constraint

	varIndex map[string]int
}

// NewModel creates an empty model.
func NewModel(name string, dir Direction) *Model {
	return &Model{
		Name:      name,
		Direction: dir,
		varIndex:  make(map[string]int),
	}
}

// AddVar adds a variable in [0, upper] and returns its index.
// Pass math.Inf(1) for a variable without upper bound.
func (m *Model) AddVar(name string, upper float64) int {
	idx := len(m.Vars)
	m.Vars = append(m.Vars, Var{Name: name, Upper: upper})
	m.Objective = append(m.Objective, 0)
	m.varIndex[name] = idx
	return idx
}

// AddVars adds n variables named prefix[0..n) and returns their indices.
func (m *Model) AddVars(prefix string, n int, upper float64) []int {
	idx := make([]int, n)
	for i := 0; i < n; i++ {
		idx[i] = m.AddVar(fmt.Sprintf("%s[%d]", prefix, i), upper)
	}
	return idx
}

// SetObjective sets the objective coefficient of variable v.
func (m *Model) SetObjective(v int, coef float64) {
	m.Objective[v] = coef
}

// AddConstraint appends a constraint and returns its row index.
func (m *Model) AddConstraint(name string, expr Expr, sense Sense, rhs float64) int {
	m.Constraints = append(m.Constraints, Constraint{
		Name:  name,
		Expr:  expr.Normalize(),
		Sense: sense,
		RHS:   rhs,
	})
	return len(m.Constraints) - 1
}

// VarByName looks up a variable index.
func (m *Model) VarByName(name string) (int, bool) {
	idx, ok := m.varIndex[name]
	return idx, ok
}

// NumVars returns the number of variables.
func (m *Model) NumVars() int { return len(m.Vars) }

// NumConstraints returns the number of constraint rows (bounds excluded).
func (m *Model) NumConstraints() int { return len(m.Constraints) }

// ObjectiveValue evaluates the objective at x.
func (m *Model) ObjectiveValue(x []float64) float64 {
	var sum float64
	for j, c := range m.Objective {
		sum += c * x[j]
	}
	return sum
}

// Subset returns a copy of the model keeping only the listed constraint rows.
// Variables, bounds and the objective are shared by value.
func (m *Model) Subset(rows []int) *Model {
	sub := &Model{
		Name:        m.Name,
		Direction:   m.Direction,
		Vars:        append([]Var(nil), m.Vars...),
		Objective:   append([]float64(nil), m.Objective...),
		Constraints: make([]Constraint, 0, len(rows)),
		varIndex:    m.varIndex,
	}
	for _, r := range rows {
		sub.Constraints = append(sub.Constraints, m.Constraints[r])
	}
	return sub
}

// Validate checks that every coefficient is finite and every term references
// an existing variable.
func (m *Model) Validate() error {
	if len(m.Vars) == 0 {
		return fmt.Errorf("%w: model %q has no variables", ErrInvalidModel, m.Name)
	}
	if len(m.Objective) != len(m.Vars) {
		return fmt.Errorf("%w: objective has %d coefficients for %d variables",
			ErrInvalidModel, len(m.Objective), len(m.Vars))
	}
	for j, v := range m.Vars {
		if math.IsNaN(v.Upper) || v.Upper < 0 {
			return fmt.Errorf("%w: variable %s has upper bound %v", ErrInvalidModel, v.Name, v.Upper)
		}
		if !isFinite(m.Objective[j]) {
			return fmt.Errorf("%w: objective coefficient of %s is %v", ErrInvalidModel, v.Name, m.Objective[j])
		}
	}
	for _, c := range m.Constraints {
		if !isFinite(c.RHS) {
			return fmt.Errorf("%w: constraint %s has rhs %v", ErrInvalidModel, c.Name, c.RHS)
		}
		for _, t := range c.Expr {
			if t.Var < 0 || t.Var >= len(m.Vars) {
				return fmt.Errorf("%w: constraint %s references variable %d", ErrInvalidModel, c.Name, t.Var)
			}
			if !isFinite(t.Coef) {
				return fmt.Errorf("%w: constraint %s has coefficient %v", ErrInvalidModel, c.Name, t.Coef)
			}
		}
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
