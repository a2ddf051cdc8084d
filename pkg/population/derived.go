package population

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

// ComputeRatios derives vs/vm, vt/vm and vs/vt for every type.
// Money and time valuations must be strictly positive.
func (p *Population) ComputeRatios() error {
	const op = "compute ratios"
	if p.phase < PhaseDistributed {
		return precondition(op, "needs a type distribution, population is %s", p.phase)
	}
	vs, vm, vt := p.VS(), p.VM(), p.VT()
	for i := 0; i < p.numType; i++ {
		if !(vm[i] > 0) {
			return precondition(op, "vm[%d] = %v must be strictly positive", i, vm[i])
		}
		if !(vt[i] > 0) {
			return precondition(op, "vt[%d] = %v must be strictly positive", i, vt[i])
		}
	}

	sm := make([]float64, p.numType)
	tm := make([]float64, p.numType)
	st := make([]float64, p.numType)
	floats.DivTo(sm, vs, vm)
	floats.DivTo(tm, vt, vm)
	floats.DivTo(st, vs, vt)
	p.sm, p.tm, p.st = sm, tm, st
	p.ratiosDone = true
	p.phase = PhaseDerived
	return nil
}

// ComputeVirtualValues derives the virtual service value of every type:
//
//	vs[i] - (1-cdf[i])/pdf[i] * (vs[i+1]-vs[i])   for i < n-1
//	vs[n-1]                                        for the last type
//
// Every pdf entry must be positive. The formula assumes ascending service
// values; when a perturbation reorders them the population is recorded as
// irregular instead: VirtualVS stays nil and MonoRegular reports false.
// Repeated calls without intervening mutation yield identical output.
func (p *Population) ComputeVirtualValues() error {
	const op = "compute virtual values"
	if !p.ratiosDone {
		return precondition(op, "ratios must be computed first, population is %s", p.phase)
	}
	vs := p.VS()
	ascending := true
	for i := 0; i < p.numType; i++ {
		if !(p.pdf[i] > 0) {
			return precondition(op, "pdf[%d] = %v must be positive", i, p.pdf[i])
		}
		if i > 0 && vs[i] < vs[i-1] {
			ascending = false
		}
	}
	p.virtualDone = true
	if !ascending {
		p.virtualVS = nil
		return nil
	}

	virtual := make([]float64, p.numType)
	last := p.numType - 1
	for i := 0; i < last; i++ {
		virtual[i] = vs[i] - (1-p.cdf[i])/p.pdf[i]*(vs[i+1]-vs[i])
	}
	virtual[last] = vs[last]
	p.virtualVS = virtual
	return nil
}

// MonoRegular reports whether the virtual service values, rounded to
// precision decimal places, are non-decreasing in the type index. A
// population without ascending service values is never regular.
func (p *Population) MonoRegular(precision int) (bool, error) {
	if !p.virtualDone {
		return false, precondition("regularity check", "virtual values not computed, population is %s", p.phase)
	}
	if p.virtualVS == nil {
		return false, nil
	}
	for i := 1; i < p.numType; i++ {
		if scalar.Round(p.virtualVS[i], precision) < scalar.Round(p.virtualVS[i-1], precision) {
			return false, nil
		}
	}
	return true, nil
}
