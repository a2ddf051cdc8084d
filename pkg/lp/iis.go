package lp

import (
	"context"
	"fmt"
)

// ComputeIIS explains an infeasible model by returning the rows of an
// irreducible infeasible subsystem: the listed constraints (together with the
// variable bounds) are infeasible, and dropping any single one of them makes
// the rest feasible.
//
// It runs the classic deletion filter, one solve per constraint, so it is only
// meant for diagnostics on small models. Bounds are always kept. A model that
// turns out to be feasible yields an error.
func ComputeIIS(ctx context.Context, s Solver, m *Model) ([]int, error) {
	keep := make([]int, m.NumConstraints())
	for i := range keep {
		keep[i] = i
	}

	res, err := s.Solve(ctx, m)
	if err != nil {
		return nil, err
	}
	if res.Status != StatusInfeasible {
		return nil, fmt.Errorf("model %q is not infeasible (status %s)", m.Name, res.Status)
	}

	for pos := 0; pos < len(keep); {
		trial := make([]int, 0, len(keep)-1)
		trial = append(trial, keep[:pos]...)
		trial = append(trial, keep[pos+1:]...)

		res, err := s.Solve(ctx, m.Subset(trial))
		if err != nil {
			return nil, err
		}
		switch res.Status {
		case StatusInfeasible:
			// Still infeasible without this row: it is not needed.
			keep = trial
		case StatusOptimal, StatusUnbounded:
			pos++
		default:
			return nil, fmt.Errorf("deletion filter on %q stopped at row %d: %s %s",
				m.Name, keep[pos], res.Status, res.Message)
		}
	}
	return keep, nil
}
