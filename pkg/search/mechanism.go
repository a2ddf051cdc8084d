package search

import (
	"fmt"

	"mdsearch/pkg/allocation"
	"mdsearch/pkg/lp"
	"mdsearch/pkg/population"
	"mdsearch/pkg/types"
)

// Mechanism bundles the primal (and optionally dual) model of one instance
// with the functions extracting typed solutions from solver results.
type Mechanism struct {
	Primal *lp.Model
	Dual   *lp.Model

	PrimalSolution func(*lp.Result) (*allocation.PrimalSolution, error)
	DualSolution   func(*lp.Result) (*allocation.DualSolution, error)
}

// BuildMechanism builds the models of the given kind for a derived population.
// The dual is only built when withDual is set.
func BuildMechanism(kind ModelKind, pop *population.Population, params *types.ModelParams, withDual bool) (*Mechanism, error) {
	switch kind {
	case ModelPrimal, "":
		pr, err := allocation.BuildPrimal(pop, params)
		if err != nil {
			return nil, err
		}
		m := &Mechanism{Primal: pr.Model, PrimalSolution: pr.Solution}
		if withDual {
			d, err := allocation.BuildDual(pop, params)
			if err != nil {
				return nil, err
			}
			m.Dual, m.DualSolution = d.Model, d.Solution
		}
		return m, nil
	case ModelMyerson:
		mp, err := allocation.BuildMyersonPrimal(pop, params)
		if err != nil {
			return nil, err
		}
		m := &Mechanism{Primal: mp.Model, PrimalSolution: mp.Solution}
		if withDual {
			md, err := allocation.BuildMyersonDual(pop, params)
			if err != nil {
				return nil, err
			}
			m.Dual, m.DualSolution = md.Model, md.Solution
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown model %q", kind)
	}
}
