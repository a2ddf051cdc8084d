package population

import (
	"fmt"
	"math"
	"math/rand"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
)

// ValueKind selects a valuation generation strategy.
type ValueKind string

const (
	KindUniform     ValueKind = "uniform"
	KindGrid        ValueKind = "grid"
	KindExponential ValueKind = "exponential"
	KindGeometric   ValueKind = "geometric"
	KindBeta        ValueKind = "beta"
	KindKumaraswamy ValueKind = "kumaraswamy"
	KindFixed       ValueKind = "fixed"
	KindComplement  ValueKind = "complement"
)

// ValueSpec configures how one valuation dimension is generated.
// Only the fields relevant to Kind are read.
type ValueSpec struct {
	Kind       ValueKind              `json:"kind" mapstructure:"kind"`
	Lo         float64                `json:"lo,omitempty" mapstructure:"lo"`
	Hi         float64                `json:"hi,omitempty" mapstructure:"hi"`
	Precision  int                    `json:"precision,omitempty" mapstructure:"precision"`
	Random     bool                   `json:"random,omitempty" mapstructure:"random"`
	Scale      float64                `json:"scale,omitempty" mapstructure:"scale"`
	P          float64                `json:"p,omitempty" mapstructure:"p"`
	Alpha      float64                `json:"alpha,omitempty" mapstructure:"alpha"`
	Beta       float64                `json:"beta,omitempty" mapstructure:"beta"`
	Components []KumaraswamyComponent `json:"components,omitempty" mapstructure:"components"`
	Values     []float64              `json:"values,omitempty" mapstructure:"values"`
	Of         Dimension              `json:"of,omitempty" mapstructure:"of"`
	Total      float64                `json:"total,omitempty" mapstructure:"total"`
}

// Generator builds the ValueGenerator described by the spec. Complement specs
// need the already generated source dimension and are resolved by Apply.
func (s ValueSpec) Generator() (ValueGenerator, error) {
	switch s.Kind {
	case KindUniform:
		return Uniform{Lo: s.Lo, Hi: s.Hi, Precision: s.Precision}, nil
	case KindGrid:
		return Grid{Lo: s.Lo, Hi: s.Hi}, nil
	case KindExponential:
		hi := s.Hi
		if hi == 0 {
			hi = math.Inf(1)
		}
		return Exponential{Scale: s.Scale, Lo: s.Lo, Hi: hi, Random: s.Random}, nil
	case KindGeometric:
		return Geometric{P: s.P, Lo: s.Lo, Hi: s.Hi, Random: s.Random}, nil
	case KindBeta:
		return Beta{Alpha: s.Alpha, Beta: s.Beta, Lo: s.Lo, Hi: s.Hi, Random: s.Random}, nil
	case KindKumaraswamy:
		return KumaraswamyMixture{Components: s.Components, Lo: s.Lo, Hi: s.Hi, Random: s.Random}, nil
	case KindFixed:
		return Fixed(s.Values), nil
	case KindComplement:
		return nil, fmt.Errorf("complement values are resolved against %q at generation time", s.Of)
	default:
		return nil, fmt.Errorf("unknown value kind %q", s.Kind)
	}
}

// PerturbSpec configures random additive perturbation.
type PerturbSpec struct {
	Dims      []Dimension `json:"dims" mapstructure:"dims"`
	Lo        float64     `json:"lo" mapstructure:"lo"`
	Hi        float64     `json:"hi" mapstructure:"hi"`
	Precision int         `json:"precision" mapstructure:"precision"`
}

// DistributionKind selects a type distribution.
type DistributionKind string

const (
	DistUniform     DistributionKind = "uniform"
	DistKumaraswamy DistributionKind = "kumaraswamy"
	DistGeometric   DistributionKind = "geometric"
	DistBeta        DistributionKind = "beta"
)

// DistributionSpec configures the type distribution.
type DistributionSpec struct {
	Kind       DistributionKind       `json:"kind" mapstructure:"kind"`
	P          float64                `json:"p,omitempty" mapstructure:"p"`
	Alpha      float64                `json:"alpha,omitempty" mapstructure:"alpha"`
	Beta       float64                `json:"beta,omitempty" mapstructure:"beta"`
	Of         Dimension              `json:"of,omitempty" mapstructure:"of"`
	Components []KumaraswamyComponent `json:"components,omitempty" mapstructure:"components"`
}

// Distribution builds the TypeDistribution described by the spec.
func (s DistributionSpec) Distribution() (TypeDistribution, error) {
	switch s.Kind {
	case DistUniform, "":
		return UniformTypes{}, nil
	case DistKumaraswamy:
		return KumaraswamyTypes{Mixture: KumaraswamyMixture{Components: s.Components}}, nil
	case DistGeometric:
		return GeometricTypes{P: s.P}, nil
	case DistBeta:
		return BetaTypes{Alpha: s.Alpha, Beta: s.Beta, Of: s.Of}, nil
	default:
		return nil, fmt.Errorf("unknown distribution kind %q", s.Kind)
	}
}

// Pipeline is the generation recipe applied at the start of every search
// iteration. It is fixed for a whole run.
type Pipeline struct {
	VS           ValueSpec        `json:"vs" mapstructure:"vs"`
	VM           ValueSpec        `json:"vm" mapstructure:"vm"`
	VT           ValueSpec        `json:"vt" mapstructure:"vt"`
	Perturb      *PerturbSpec     `json:"perturb,omitempty" mapstructure:"perturb"`
	Distribution DistributionSpec `json:"distribution" mapstructure:"distribution"`
}

// DefaultPipeline is the reference search setting: uniform grids for all
// three dimensions (vt descending) and uniform type probabilities.
func DefaultPipeline() Pipeline {
	return Pipeline{
		VS:           ValueSpec{Kind: KindGrid, Lo: 1, Hi: 5},
		VM:           ValueSpec{Kind: KindGrid, Lo: 2, Hi: 3},
		VT:           ValueSpec{Kind: KindGrid, Lo: 4, Hi: 2},
		Perturb:      &PerturbSpec{Dims: []Dimension{Service, Money, Time}, Lo: -1e-3, Hi: 1e-3, Precision: 4},
		Distribution: DistributionSpec{Kind: DistUniform},
	}
}

func (pl Pipeline) spec(d Dimension) ValueSpec {
	switch d {
	case Money:
		return pl.VM
	case Time:
		return pl.VT
	default:
		return pl.VS
	}
}

// Validate checks every spec without generating values.
func (pl Pipeline) Validate() error {
	var errs []error
	seen := sets.New[Dimension]()
	for _, d := range Dimensions {
		s := pl.spec(d)
		if s.Kind == KindComplement {
			if !seen.Has(s.Of) {
				errs = append(errs, fmt.Errorf("%s: complement of %q must reference an earlier dimension", d, s.Of))
			}
		} else if _, err := s.Generator(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d, err))
		}
		seen.Insert(d)
	}
	if pl.Perturb != nil {
		for _, d := range pl.Perturb.Dims {
			if !d.valid() {
				errs = append(errs, fmt.Errorf("perturb: unknown dimension %q", d))
			}
		}
		if pl.Perturb.Hi < pl.Perturb.Lo {
			errs = append(errs, fmt.Errorf("perturb: range [%v, %v] is empty", pl.Perturb.Lo, pl.Perturb.Hi))
		}
	}
	if _, err := pl.Distribution.Distribution(); err != nil {
		errs = append(errs, fmt.Errorf("distribution: %w", err))
	}
	return utilerrors.NewAggregate(errs)
}

// Apply resets pop and runs the full generation sequence: raw values,
// perturbation, type distribution, ratios, virtual values.
func (pl Pipeline) Apply(pop *Population, rng *rand.Rand) error {
	pop.Reset()

	for _, d := range Dimensions {
		s := pl.spec(d)
		var gen ValueGenerator
		if s.Kind == KindComplement {
			gen = Complement{Of: pop.Values(s.Of), Total: s.Total}
		} else {
			var err error
			if gen, err = s.Generator(); err != nil {
				return fmt.Errorf("%s: %w", d, err)
			}
		}
		if err := pop.Generate(d, gen, rng); err != nil {
			return err
		}
	}

	if pl.Perturb != nil {
		dims := sets.New(pl.Perturb.Dims...)
		for _, d := range Dimensions {
			if !dims.Has(d) {
				continue
			}
			if err := pop.Perturb(d, pl.Perturb.Lo, pl.Perturb.Hi, pl.Perturb.Precision, rng); err != nil {
				return err
			}
		}
	}

	dist, err := pl.Distribution.Distribution()
	if err != nil {
		return err
	}
	if err := pop.SetTypeDistribution(dist); err != nil {
		return err
	}
	if err := pop.ComputeRatios(); err != nil {
		return err
	}
	return pop.ComputeVirtualValues()
}
