// Package population generates the discrete type populations searched for
// counterexamples.
//
// A Population moves through a fixed sequence of phases:
//
//	Empty -> Raw -> Perturbed -> Distributed -> Derived
//
// Raw valuations are set first, optionally perturbed, then the type
// distribution is attached, and only then are ratios and virtual values
// derived. Every operation checks the current phase and returns a
// *PreconditionError when called out of order.
package population

import (
	"fmt"
	"math/rand"
)

// Dimension names one of the three valuation dimensions.
type Dimension string

const (
	Service Dimension = "vs"
	Money   Dimension = "vm"
	Time    Dimension = "vt"
)

// Dimensions lists the valuation dimensions in generation order.
var Dimensions = []Dimension{Service, Money, Time}

func (d Dimension) valid() bool {
	return d == Service || d == Money || d == Time
}

// Phase is the lifecycle state of a Population.
type Phase int

const (
	PhaseEmpty Phase = iota
	PhaseRaw
	PhasePerturbed
	PhaseDistributed
	PhaseDerived
)

func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseRaw:
		return "raw"
	case PhasePerturbed:
		return "perturbed"
	case PhaseDistributed:
		return "distributed"
	default:
		return "derived"
	}
}

// PreconditionError reports an operation invoked on a population that is not
// ready for it, or whose values make the operation undefined.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("population: %s: %s", e.Op, e.Reason)
}

func precondition(op, format string, args ...interface{}) error {
	return &PreconditionError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// Population holds one problem instance: n types with service, money and time
// valuations and a probability distribution over types.
// A Population is owned by a single goroutine.
type Population struct {
	numType int
	phase   Phase

	values map[Dimension][]float64
	offset map[Dimension][]float64 // accumulated perturbation per dimension

	pdf []float64
	cdf []float64

	sm, tm, st []float64
	virtualVS  []float64
	ratiosDone bool
	// virtualDone is set once virtual values were derived; virtualVS stays
	// nil when service values are not ascending.
	virtualDone bool
}

// New creates an empty population of numType types.
func New(numType int) (*Population, error) {
	if numType < 1 {
		return nil, fmt.Errorf("num_type must be >= 1, got %d", numType)
	}
	p := &Population{numType: numType}
	p.Reset()
	return p, nil
}

// Reset clears every raw and derived field. It is idempotent.
func (p *Population) Reset() {
	p.phase = PhaseEmpty
	p.values = make(map[Dimension][]float64, len(Dimensions))
	p.offset = make(map[Dimension][]float64, len(Dimensions))
	p.pdf = nil
	p.cdf = nil
	p.sm, p.tm, p.st = nil, nil, nil
	p.virtualVS = nil
	p.ratiosDone = false
	p.virtualDone = false
}

// Clone returns a deep copy that shares no slices with p.
func (p *Population) Clone() *Population {
	c := &Population{
		numType:    p.numType,
		phase:      p.phase,
		values:     make(map[Dimension][]float64, len(p.values)),
		offset:     make(map[Dimension][]float64, len(p.offset)),
		pdf:        cloneSlice(p.pdf),
		cdf:        cloneSlice(p.cdf),
		sm:         cloneSlice(p.sm),
		tm:         cloneSlice(p.tm),
		st:         cloneSlice(p.st),
		virtualVS:  cloneSlice(p.virtualVS),
		ratiosDone: p.ratiosDone,

		virtualDone: p.virtualDone,
	}
	for d, v := range p.values {
		c.values[d] = cloneSlice(v)
	}
	for d, v := range p.offset {
		c.offset[d] = cloneSlice(v)
	}
	return c
}

func cloneSlice(s []float64) []float64 {
	if s == nil {
		return nil
	}
	return append([]float64(nil), s...)
}

// NumType returns the number of types.
func (p *Population) NumType() int { return p.numType }

// Phase returns the current lifecycle phase.
func (p *Population) Phase() Phase { return p.phase }

// SetValues installs raw valuations for one dimension. Once all three
// dimensions are set the population enters PhaseRaw; a dimension may be
// replaced while still in PhaseRaw.
func (p *Population) SetValues(d Dimension, values []float64) error {
	const op = "set values"
	if !d.valid() {
		return precondition(op, "unknown dimension %q", d)
	}
	if p.phase > PhaseRaw {
		return precondition(op, "raw values are frozen in phase %s", p.phase)
	}
	if len(values) != p.numType {
		return precondition(op, "%s has %d values, want %d", d, len(values), p.numType)
	}
	p.values[d] = append([]float64(nil), values...)
	if len(p.values) == len(Dimensions) {
		p.phase = PhaseRaw
	}
	return nil
}

// Generate draws raw valuations for one dimension from gen.
func (p *Population) Generate(d Dimension, gen ValueGenerator, rng *rand.Rand) error {
	values, err := gen.Generate(p.numType, rng)
	if err != nil {
		return fmt.Errorf("generating %s: %w", d, err)
	}
	return p.SetValues(d, values)
}

// Values returns the valuations of dimension d. The slice must not be modified.
func (p *Population) Values(d Dimension) []float64 { return p.values[d] }

// VS returns the service valuations.
func (p *Population) VS() []float64 { return p.values[Service] }

// VM returns the money valuations.
func (p *Population) VM() []float64 { return p.values[Money] }

// VT returns the time valuations.
func (p *Population) VT() []float64 { return p.values[Time] }

// PDF returns the type probabilities.
func (p *Population) PDF() []float64 { return p.pdf }

// CDF returns the cumulative type probabilities.
func (p *Population) CDF() []float64 { return p.cdf }

// SM returns vs/vm per type.
func (p *Population) SM() []float64 { return p.sm }

// TM returns vt/vm per type.
func (p *Population) TM() []float64 { return p.tm }

// ST returns vs/vt per type.
func (p *Population) ST() []float64 { return p.st }

// VirtualVS returns the virtual service values, or nil when they were not
// computed or the service values are not ascending.
func (p *Population) VirtualVS() []float64 { return p.virtualVS }

// Perturbation returns the total offset added to dimension d, or nil when the
// dimension was never perturbed.
func (p *Population) Perturbation(d Dimension) []float64 { return p.offset[d] }
