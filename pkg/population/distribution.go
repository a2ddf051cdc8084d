package population

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// pdfTolerance bounds |Σ pdf - 1| after normalization.
const pdfTolerance = 1e-9

// TypeDistribution assigns unnormalized weights to the types of a population.
type TypeDistribution interface {
	Weights(p *Population) ([]float64, error)
}

// UniformTypes gives every type probability 1/n.
type UniformTypes struct{}

// Weights implements TypeDistribution.
func (UniformTypes) Weights(p *Population) ([]float64, error) {
	w := make([]float64, p.numType)
	for i := range w {
		w[i] = 1
	}
	return w, nil
}

// KumaraswamyTypes weights type i by the mixture density at the grid point (i+1)/(n+1).
type KumaraswamyTypes struct {
	Mixture KumaraswamyMixture
}

// Weights implements TypeDistribution.
func (k KumaraswamyTypes) Weights(p *Population) ([]float64, error) {
	if err := k.Mixture.validate(); err != nil {
		return nil, precondition("type distribution", "%v", err)
	}
	w := make([]float64, p.numType)
	for i := range w {
		w[i] = k.Mixture.Prob(float64(i+1) / float64(p.numType+1))
	}
	return w, nil
}

// GeometricTypes weights type i by P(1-P)^i.
type GeometricTypes struct {
	P float64
}

// Weights implements TypeDistribution.
func (g GeometricTypes) Weights(p *Population) ([]float64, error) {
	if g.P <= 0 || g.P >= 1 {
		return nil, precondition("type distribution", "geometric p must be in (0, 1), got %v", g.P)
	}
	w := make([]float64, p.numType)
	for i := range w {
		w[i] = g.P * math.Pow(1-g.P, float64(i))
	}
	return w, nil
}

// BetaTypes weights each type by the Beta(Alpha, Beta) density at its value in
// dimension Of. Values must lie in (0, 1).
type BetaTypes struct {
	Alpha, Beta float64
	Of          Dimension
}

// Weights implements TypeDistribution.
func (b BetaTypes) Weights(p *Population) ([]float64, error) {
	if b.Alpha <= 0 || b.Beta <= 0 {
		return nil, precondition("type distribution", "beta parameters must be positive, got (%v, %v)", b.Alpha, b.Beta)
	}
	values := p.values[b.Of]
	if values == nil {
		return nil, precondition("type distribution", "beta density needs values for %q", b.Of)
	}
	dist := distuv.Beta{Alpha: b.Alpha, Beta: b.Beta}
	w := make([]float64, p.numType)
	for i, v := range values {
		w[i] = dist.Prob(v)
	}
	return w, nil
}

// SetTypeDistribution normalizes the weights of dist into pdf and cdf and
// moves the population to PhaseDistributed.
func (p *Population) SetTypeDistribution(dist TypeDistribution) error {
	const op = "set type distribution"
	if p.phase != PhaseRaw && p.phase != PhasePerturbed {
		return precondition(op, "needs raw values, population is %s", p.phase)
	}
	w, err := dist.Weights(p)
	if err != nil {
		return err
	}
	if len(w) != p.numType {
		return precondition(op, "distribution returned %d weights, want %d", len(w), p.numType)
	}
	for i, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return precondition(op, "weight of type %d is %v", i, v)
		}
	}
	sum := floats.Sum(w)
	if sum <= 0 {
		return precondition(op, "weights sum to %v", sum)
	}
	floats.Scale(1/sum, w)
	if total := floats.Sum(w); math.Abs(total-1) > pdfTolerance {
		return precondition(op, "pdf sums to %v after normalization", total)
	}

	p.pdf = w
	p.cdf = floats.CumSum(make([]float64, p.numType), w)
	p.phase = PhaseDistributed
	return nil
}
