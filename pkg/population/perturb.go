package population

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

// Perturb adds an independent offset drawn from U(lo, hi), rounded to
// precision decimal places, to every value of dimension d. Offsets are
// accumulated and can be read back with Perturbation.
func (p *Population) Perturb(d Dimension, lo, hi float64, precision int, rng *rand.Rand) error {
	if rng == nil {
		return precondition("perturb", "random perturbation needs a random source")
	}
	offsets := make([]float64, p.numType)
	for i := range offsets {
		offsets[i] = scalar.Round(lo+rng.Float64()*(hi-lo), precision)
	}
	return p.PerturbWith(d, offsets)
}

// PerturbWith adds explicit offsets to dimension d.
func (p *Population) PerturbWith(d Dimension, offsets []float64) error {
	const op = "perturb"
	if p.phase != PhaseRaw && p.phase != PhasePerturbed {
		return precondition(op, "needs raw values, population is %s", p.phase)
	}
	if !d.valid() {
		return precondition(op, "unknown dimension %q", d)
	}
	if len(offsets) != p.numType {
		return precondition(op, "got %d offsets, want %d", len(offsets), p.numType)
	}

	values := p.values[d]
	acc := p.offset[d]
	if acc == nil {
		acc = make([]float64, p.numType)
		p.offset[d] = acc
	}
	floats.Add(values, offsets)
	floats.Add(acc, offsets)
	p.phase = PhasePerturbed
	return nil
}
