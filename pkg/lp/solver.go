package lp

import (
	"context"
	"math"
)

// Status is the outcome of a solve call.
type Status int

const (
	StatusOptimal Status = iota
	StatusInfeasible
	StatusUnbounded
	StatusTimeout
	StatusFault
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusTimeout:
		return "timeout"
	default:
		return "fault"
	}
}

// Result is the tagged outcome of a solve. Objective, Values and Slacks are
// only meaningful when Status is StatusOptimal; Message is set for faults.
type Result struct {
	Status    Status
	Objective float64
	Values    []float64 // one per variable
	Slacks    []float64 // one per constraint row, 0 means tight
	Message   string
}

// Tight reports whether constraint row r binds at the solution, i.e. its slack
// is within tol of zero.
func (r *Result) Tight(row int, tol float64) bool {
	return math.Abs(r.Slacks[row]) <= tol
}

// TightRows returns the indices of all binding rows.
func (r *Result) TightRows(tol float64) []int {
	var rows []int
	for i := range r.Slacks {
		if r.Tight(i, tol) {
			rows = append(rows, i)
		}
	}
	return rows
}

// Solver solves linear programs.
//
// A non-nil error means the call itself could not be carried out (invalid
// model, cancelled context); solver-side outcomes are reported via
// Result.Status.
type Solver interface {
	Solve(ctx context.Context, m *Model) (*Result, error)
}
