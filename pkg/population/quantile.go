package population

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// probabilities returns n ascending probability levels: the grid (i+1)/(n+1)
// or, when random is set, sorted uniform draws.
func probabilities(n int, random bool, rng *rand.Rand) ([]float64, error) {
	u := make([]float64, n)
	if !random {
		for i := range u {
			u[i] = float64(i+1) / float64(n+1)
		}
		return u, nil
	}
	if rng == nil {
		return nil, fmt.Errorf("random quantile sampling needs a random source")
	}
	for i := range u {
		u[i] = rng.Float64()
	}
	sort.Float64s(u)
	return u, nil
}

// Exponential maps probability levels through an exponential distribution
// with the given Scale (1/rate), shifted to start at Lo and truncated at Hi.
// An infinite Hi disables truncation.
type Exponential struct {
	Scale  float64
	Lo, Hi float64
	Random bool
}

// Generate implements ValueGenerator.
func (e Exponential) Generate(n int, rng *rand.Rand) ([]float64, error) {
	if e.Scale <= 0 {
		return nil, fmt.Errorf("exponential scale must be positive, got %v", e.Scale)
	}
	if !(e.Hi > e.Lo) {
		return nil, fmt.Errorf("exponential support [%v, %v] is empty", e.Lo, e.Hi)
	}
	u, err := probabilities(n, e.Random, rng)
	if err != nil {
		return nil, err
	}
	dist := distuv.Exponential{Rate: 1 / e.Scale}
	mass := 1.0
	if !math.IsInf(e.Hi, 1) {
		mass = dist.CDF(e.Hi - e.Lo)
	}
	values := make([]float64, n)
	for i := range u {
		values[i] = e.Lo + dist.Quantile(u[i]*mass)
	}
	return values, nil
}

// Geometric maps probability levels to a geometric trial count k and places
// the value at Lo + (Hi-Lo)*(1-(1-P)^k), the geometric CDF at k.
// Neighbouring types may share a value.
type Geometric struct {
	P      float64
	Lo, Hi float64
	Random bool
}

// Generate implements ValueGenerator.
func (g Geometric) Generate(n int, rng *rand.Rand) ([]float64, error) {
	if g.P <= 0 || g.P >= 1 {
		return nil, fmt.Errorf("geometric p must be in (0, 1), got %v", g.P)
	}
	u, err := probabilities(n, g.Random, rng)
	if err != nil {
		return nil, err
	}
	values := make([]float64, n)
	for i := range u {
		k := math.Ceil(math.Log1p(-u[i]) / math.Log1p(-g.P))
		if k < 1 {
			k = 1
		}
		values[i] = g.Lo + (g.Hi-g.Lo)*(1-math.Pow(1-g.P, k))
	}
	return values, nil
}

// Beta maps probability levels through a Beta(Alpha, Beta) quantile scaled to [Lo, Hi].
type Beta struct {
	Alpha, Beta float64
	Lo, Hi      float64
	Random      bool
}

// Generate implements ValueGenerator.
func (b Beta) Generate(n int, rng *rand.Rand) ([]float64, error) {
	if b.Alpha <= 0 || b.Beta <= 0 {
		return nil, fmt.Errorf("beta parameters must be positive, got (%v, %v)", b.Alpha, b.Beta)
	}
	u, err := probabilities(n, b.Random, rng)
	if err != nil {
		return nil, err
	}
	dist := distuv.Beta{Alpha: b.Alpha, Beta: b.Beta}
	values := make([]float64, n)
	for i := range u {
		values[i] = b.Lo + (b.Hi-b.Lo)*dist.Quantile(u[i])
	}
	return values, nil
}

// KumaraswamyComponent is one weighted Kumaraswamy(A, B) density on [0, 1].
type KumaraswamyComponent struct {
	Weight float64 `json:"weight" mapstructure:"weight"`
	A      float64 `json:"a" mapstructure:"a"`
	B      float64 `json:"b" mapstructure:"b"`
}

// KumaraswamyMixture is a finite mixture of Kumaraswamy densities, scaled to
// [Lo, Hi] when used as a ValueGenerator.
type KumaraswamyMixture struct {
	Components []KumaraswamyComponent
	Lo, Hi     float64
	Random     bool
}

// quantileIterations bounds the bisection; 60 halvings of [0, 1] reach
// below float64 resolution.
const quantileIterations = 60

func (k KumaraswamyMixture) validate() error {
	if len(k.Components) == 0 {
		return fmt.Errorf("kumaraswamy mixture has no components")
	}
	total := 0.0
	for i, c := range k.Components {
		if c.Weight < 0 || c.A <= 0 || c.B <= 0 {
			return fmt.Errorf("kumaraswamy component %d has invalid parameters (w=%v, a=%v, b=%v)",
				i, c.Weight, c.A, c.B)
		}
		total += c.Weight
	}
	if total <= 0 {
		return fmt.Errorf("kumaraswamy mixture weights sum to zero")
	}
	return nil
}

func (k KumaraswamyMixture) totalWeight() float64 {
	total := 0.0
	for _, c := range k.Components {
		total += c.Weight
	}
	return total
}

// CDF returns the mixture distribution function on [0, 1].
func (k KumaraswamyMixture) CDF(x float64) float64 {
	switch {
	case x <= 0:
		return 0
	case x >= 1:
		return 1
	}
	sum := 0.0
	for _, c := range k.Components {
		sum += c.Weight * (1 - math.Pow(1-math.Pow(x, c.A), c.B))
	}
	return sum / k.totalWeight()
}

// Prob returns the mixture density at x.
func (k KumaraswamyMixture) Prob(x float64) float64 {
	if x <= 0 || x >= 1 {
		return 0
	}
	sum := 0.0
	for _, c := range k.Components {
		xa := math.Pow(x, c.A)
		sum += c.Weight * c.A * c.B * math.Pow(x, c.A-1) * math.Pow(1-xa, c.B-1)
	}
	return sum / k.totalWeight()
}

// Quantile inverts the mixture CDF by bisection.
func (k KumaraswamyMixture) Quantile(p float64) float64 {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	lo, hi := 0.0, 1.0
	for i := 0; i < quantileIterations; i++ {
		mid := (lo + hi) / 2
		if k.CDF(mid) < p {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// Generate implements ValueGenerator.
func (k KumaraswamyMixture) Generate(n int, rng *rand.Rand) ([]float64, error) {
	if err := k.validate(); err != nil {
		return nil, err
	}
	u, err := probabilities(n, k.Random, rng)
	if err != nil {
		return nil, err
	}
	values := make([]float64, n)
	for i := range u {
		values[i] = k.Lo + (k.Hi-k.Lo)*k.Quantile(u[i])
	}
	if !floats.HasNaN(values) {
		return values, nil
	}
	return nil, fmt.Errorf("kumaraswamy quantiles produced NaN")
}
