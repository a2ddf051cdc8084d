package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"k8s.io/klog/v2"

	"mdsearch/pkg/allocation"
	"mdsearch/pkg/hypothesis"
	"mdsearch/pkg/lp"
	"mdsearch/pkg/population"
)

// state is a step of one iteration.
//
//	GENERATE -> SOLVE -> EVALUATE -> done
//
// Any step may finish the iteration early with a non-optimal outcome.
type state int

const (
	stateGenerate state = iota
	stateSolve
	stateEvaluate
	stateDone
)

func (s state) String() string {
	switch s {
	case stateGenerate:
		return "generate"
	case stateSolve:
		return "solve"
	case stateEvaluate:
		return "evaluate"
	default:
		return "done"
	}
}

// iteration carries the data flowing between the states of one search step.
type iteration struct {
	r   *Runner
	out Outcome
	pop *population.Population

	mech   *Mechanism
	primal *allocation.PrimalSolution
	dual   *allocation.DualSolution
}

// runIteration executes iteration index on pop, which is reset first.
// The returned error is non-nil only when ctx was cancelled.
func (r *Runner) runIteration(ctx context.Context, pop *population.Population, index int) (Outcome, error) {
	it := &iteration{r: r, pop: pop, out: Outcome{Iteration: index}}
	st := stateGenerate
	for st != stateDone {
		var err error
		prev := st
		switch st {
		case stateGenerate:
			st = it.generate(index)
		case stateSolve:
			st, err = it.solve(ctx)
		case stateEvaluate:
			st = it.evaluate()
		}
		if err != nil {
			return Outcome{}, err
		}
		klog.V(5).InfoS("Iteration step", "iteration", index, "from", prev, "to", st)
	}
	return it.out, nil
}

func (it *iteration) finish(kind OutcomeKind, err error) state {
	it.out.Kind = kind
	it.out.Err = err
	return stateDone
}

func (it *iteration) generate(index int) state {
	cfg := it.r.cfg
	rng := rand.New(rand.NewSource(cfg.Seed + int64(index)))
	if err := cfg.Pipeline.Apply(it.pop, rng); err != nil {
		return it.finish(OutcomeGenerationFault, err)
	}
	mech, err := BuildMechanism(cfg.Model, it.pop, &cfg.Params, it.r.needDual)
	if err != nil {
		return it.finish(OutcomeGenerationFault, err)
	}
	it.mech = mech
	return stateSolve
}

func (it *iteration) solve(ctx context.Context) (state, error) {
	res, err := it.r.timedSolve(ctx, it.mech.Primal)
	if err != nil {
		if ctx.Err() != nil {
			return stateDone, ctx.Err()
		}
		return it.finish(OutcomeFault, err), nil
	}

	switch res.Status {
	case lp.StatusOptimal:
	case lp.StatusUnbounded:
		return it.finish(OutcomeUnbounded, nil), nil
	case lp.StatusInfeasible:
		it.explainInfeasible(ctx)
		return it.finish(OutcomeInfeasible, nil), nil
	case lp.StatusTimeout:
		return it.finish(OutcomeTimeout, errors.New(res.Message)), nil
	default:
		return it.finish(OutcomeFault, fmt.Errorf("%s: %s", it.mech.Primal.Name, res.Message)), nil
	}

	if it.primal, err = it.mech.PrimalSolution(res); err != nil {
		return it.finish(OutcomeFault, err), nil
	}
	if it.r.cfg.Verify {
		if err := allocation.ValidatePrimal(it.pop, &it.r.cfg.Params, it.primal, allocation.DefaultTolerance); err != nil {
			return it.finish(OutcomeFault, fmt.Errorf("verification failed: %w", err)), nil
		}
	}

	if it.mech.Dual == nil {
		return stateEvaluate, nil
	}
	dres, err := it.r.timedSolve(ctx, it.mech.Dual)
	if err != nil {
		if ctx.Err() != nil {
			return stateDone, ctx.Err()
		}
		return it.finish(OutcomeFault, err), nil
	}
	switch dres.Status {
	case lp.StatusOptimal:
	case lp.StatusTimeout:
		return it.finish(OutcomeTimeout, errors.New(dres.Message)), nil
	default:
		// The primal is optimal, so its dual must be too.
		return it.finish(OutcomeFault, fmt.Errorf("%s is %s while the primal is optimal", it.mech.Dual.Name, dres.Status)), nil
	}
	if it.dual, err = it.mech.DualSolution(dres); err != nil {
		return it.finish(OutcomeFault, err), nil
	}
	return stateEvaluate, nil
}

// explainInfeasible computes an irreducible infeasible subsystem, best effort.
func (it *iteration) explainInfeasible(ctx context.Context) {
	rows, err := lp.ComputeIIS(ctx, it.r.solver, it.mech.Primal)
	if err != nil {
		klog.V(2).InfoS("Could not compute IIS", "iteration", it.out.Iteration, "err", err)
		return
	}
	it.out.IISModel = it.mech.Primal.Subset(rows)
	for _, row := range rows {
		it.out.IIS = append(it.out.IIS, it.mech.Primal.Constraints[row].Name)
	}
}

func (it *iteration) evaluate() state {
	in := hypothesis.Input{Pop: it.pop, Primal: it.primal, Dual: it.dual}
	var violations []Violation
	for _, p := range it.r.preds {
		v, err := p.Check(in)
		if err != nil {
			return it.finish(OutcomeFault, fmt.Errorf("evaluating %s: %w", p.Name(), err))
		}
		if !v.Holds {
			violations = append(violations, Violation{Hypothesis: p.Name(), Witness: v.Witness})
		}
	}
	if len(violations) == 0 {
		return it.finish(OutcomeHolds, nil)
	}
	it.out.Finding = &Finding{
		Iteration:   it.out.Iteration,
		Pop:         it.pop.Clone(),
		Primal:      it.primal,
		Dual:        it.dual,
		Violations:  violations,
		PrimalModel: it.mech.Primal,
		DualModel:   it.mech.Dual,
	}
	return it.finish(OutcomeCounterexample, nil)
}
