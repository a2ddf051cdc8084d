// Package hypothesis implements the structural conjectures checked against
// every optimal mechanism. A predicate that does not hold on an instance
// makes that instance a counterexample.
package hypothesis

import (
	"fmt"

	"gonum.org/v1/gonum/floats/scalar"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"mdsearch/pkg/allocation"
	"mdsearch/pkg/population"
)

// Kind selects a predicate.
type Kind string

const (
	// MonoSOverM: x is non-decreasing in vs/vm.
	MonoSOverM Kind = "mono-s-over-m"
	// MonoSOverT: x is non-decreasing in vs/vt.
	MonoSOverT Kind = "mono-s-over-t"
	// MonoS: x is non-decreasing in vs (the Myerson benchmark).
	MonoS Kind = "mono-s"
	// RegularMonoSOverM: if the virtual service values are non-decreasing
	// then x is non-decreasing in vs/vm. Irregular populations hold vacuously.
	RegularMonoSOverM Kind = "regular-mono-s-over-m"
	// DualZeroIC: the multipliers of the listed IC constraints are zero.
	DualZeroIC Kind = "dual-zero-ic"
)

// Kinds lists every supported predicate.
var Kinds = []Kind{MonoSOverM, MonoSOverT, MonoS, RegularMonoSOverM, DualZeroIC}

// DefaultPrecision is the number of decimal places values are rounded to
// before comparison when a Spec leaves Precision unset.
const DefaultPrecision = 8

// Spec configures one predicate.
type Spec struct {
	Kind      Kind              `json:"kind" mapstructure:"kind"`
	Pairs     []allocation.Pair `json:"pairs,omitempty" mapstructure:"pairs"`
	Precision int               `json:"precision,omitempty" mapstructure:"precision"`
}

// Input is everything a predicate may inspect. Dual is nil unless some
// configured predicate needs it.
type Input struct {
	Pop    *population.Population
	Primal *allocation.PrimalSolution
	Dual   *allocation.DualSolution
}

// Verdict is the outcome of one check. Witness names the violating types
// when Holds is false.
type Verdict struct {
	Holds   bool
	Witness string
}

// Predicate is a conjecture about the optimal mechanism.
type Predicate interface {
	Name() string
	NeedsDual() bool
	Check(in Input) (Verdict, error)
}

// New builds the predicate described by spec.
func New(spec Spec) (Predicate, error) {
	prec := spec.Precision
	if prec <= 0 {
		prec = DefaultPrecision
	}
	switch spec.Kind {
	case MonoSOverM:
		return &monotone{kind: spec.Kind, prec: prec, key: (*population.Population).SM, label: "sm"}, nil
	case MonoSOverT:
		return &monotone{kind: spec.Kind, prec: prec, key: (*population.Population).ST, label: "st"}, nil
	case MonoS:
		return &monotone{kind: spec.Kind, prec: prec, key: (*population.Population).VS, label: "vs"}, nil
	case RegularMonoSOverM:
		return &monotone{kind: spec.Kind, prec: prec, key: (*population.Population).SM, label: "sm", regularOnly: true}, nil
	case DualZeroIC:
		if len(spec.Pairs) == 0 {
			return nil, fmt.Errorf("%s needs at least one pair", spec.Kind)
		}
		seen := sets.New[allocation.Pair]()
		pairs := make([]allocation.Pair, 0, len(spec.Pairs))
		for _, p := range spec.Pairs {
			if p.I == p.J || p.I < 0 || p.J < 0 {
				return nil, fmt.Errorf("%s: invalid pair %v", spec.Kind, p)
			}
			if seen.Has(p) {
				continue
			}
			seen.Insert(p)
			pairs = append(pairs, p)
		}
		return &dualZeroIC{prec: prec, pairs: pairs}, nil
	default:
		return nil, fmt.Errorf("unknown hypothesis %q", spec.Kind)
	}
}

// NewSet builds every predicate, reporting all invalid specs at once.
func NewSet(specs []Spec) ([]Predicate, error) {
	var errs []error
	preds := make([]Predicate, 0, len(specs))
	for _, s := range specs {
		p, err := New(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		preds = append(preds, p)
	}
	if err := utilerrors.NewAggregate(errs); err != nil {
		return nil, err
	}
	return preds, nil
}

// ValidateFor checks that every pair referenced by the predicates exists for
// a population of n types.
func ValidateFor(preds []Predicate, n int) error {
	var errs []error
	for _, p := range preds {
		if d, ok := p.(*dualZeroIC); ok {
			for _, pair := range d.pairs {
				if pair.I >= n || pair.J >= n {
					errs = append(errs, fmt.Errorf("%s: pair %v out of range for %d types", p.Name(), pair, n))
				}
			}
		}
	}
	return utilerrors.NewAggregate(errs)
}

// AnyNeedsDual reports whether the dual model must be solved.
func AnyNeedsDual(preds []Predicate) bool {
	for _, p := range preds {
		if p.NeedsDual() {
			return true
		}
	}
	return false
}

type monotone struct {
	kind        Kind
	prec        int
	key         func(*population.Population) []float64
	label       string
	regularOnly bool
}

func (m *monotone) Name() string    { return string(m.kind) }
func (m *monotone) NeedsDual() bool { return false }

// Check flags any pair with x[i] < x[j] while key[i] > key[j].
func (m *monotone) Check(in Input) (Verdict, error) {
	if in.Primal == nil {
		return Verdict{}, fmt.Errorf("%s: no primal solution", m.kind)
	}
	if m.regularOnly {
		regular, err := in.Pop.MonoRegular(m.prec)
		if err != nil {
			return Verdict{}, err
		}
		if !regular {
			return Verdict{Holds: true}, nil
		}
	}
	key := m.key(in.Pop)
	if key == nil {
		return Verdict{}, fmt.Errorf("%s: population ratios not computed", m.kind)
	}
	x := in.Primal.X
	for i := range x {
		for j := range x {
			if scalar.Round(x[i], m.prec) < scalar.Round(x[j], m.prec) &&
				scalar.Round(key[i], m.prec) > scalar.Round(key[j], m.prec) {
				return Verdict{
					Witness: fmt.Sprintf("x[%d]=%g < x[%d]=%g but %s[%d]=%g > %s[%d]=%g",
						i, x[i], j, x[j], m.label, i, key[i], m.label, j, key[j]),
				}, nil
			}
		}
	}
	return Verdict{Holds: true}, nil
}

type dualZeroIC struct {
	prec  int
	pairs []allocation.Pair
}

func (d *dualZeroIC) Name() string    { return string(DualZeroIC) }
func (d *dualZeroIC) NeedsDual() bool { return true }

func (d *dualZeroIC) Check(in Input) (Verdict, error) {
	if in.Dual == nil {
		return Verdict{}, fmt.Errorf("%s: no dual solution", DualZeroIC)
	}
	for _, p := range d.pairs {
		v, ok := in.Dual.IC[p]
		if !ok {
			return Verdict{}, fmt.Errorf("%s: dual has no multiplier for %v", DualZeroIC, p)
		}
		if scalar.Round(v, d.prec) != 0 {
			return Verdict{Witness: fmt.Sprintf("ic%v = %g", p, v)}, nil
		}
	}
	return Verdict{Holds: true}, nil
}
