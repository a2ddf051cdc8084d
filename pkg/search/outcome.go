package search

import (
	"mdsearch/pkg/allocation"
	"mdsearch/pkg/lp"
	"mdsearch/pkg/population"
)

// OutcomeKind classifies a finished iteration.
type OutcomeKind int

const (
	// OutcomeHolds: optimal, every hypothesis held.
	OutcomeHolds OutcomeKind = iota
	// OutcomeCounterexample: optimal, at least one hypothesis failed.
	OutcomeCounterexample
	OutcomeUnbounded
	OutcomeInfeasible
	OutcomeTimeout
	// OutcomeFault: solver error, dual failure, failed verification or a
	// predicate that could not be evaluated.
	OutcomeFault
	// OutcomeGenerationFault: the population could not be generated or the
	// models could not be built from it.
	OutcomeGenerationFault
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeHolds:
		return "holds"
	case OutcomeCounterexample:
		return "counterexample"
	case OutcomeUnbounded:
		return "unbounded"
	case OutcomeInfeasible:
		return "infeasible"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeFault:
		return "fault"
	default:
		return "generation_fault"
	}
}

func (k OutcomeKind) isFault() bool {
	return k == OutcomeTimeout || k == OutcomeFault || k == OutcomeGenerationFault
}

// Violation is one failed hypothesis.
type Violation struct {
	Hypothesis string `json:"hypothesis"`
	Witness    string `json:"witness"`
}

// Finding is a counterexample together with everything needed to report it.
// The population is a snapshot owned by the Finding.
type Finding struct {
	Iteration  int
	Pop        *population.Population
	Primal     *allocation.PrimalSolution
	Dual       *allocation.DualSolution
	Violations []Violation

	PrimalModel *lp.Model
	DualModel   *lp.Model
}

// Outcome is the result of one iteration as seen by the aggregator.
type Outcome struct {
	Iteration int
	Kind      OutcomeKind
	Err       error

	// Infeasible iterations carry the names of the irreducible infeasible
	// subsystem rows when it could be computed.
	IIS      []string
	IISModel *lp.Model

	Finding *Finding
}

// Reporter receives every counterexample. Calls come from a single goroutine.
type Reporter interface {
	Counterexample(f *Finding) error
}
