package population

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats/scalar"
)

// ValueGenerator produces n valuations for one dimension.
type ValueGenerator interface {
	Generate(n int, rng *rand.Rand) ([]float64, error)
}

// Uniform draws independent values from U(Lo, Hi), rounds them to Precision
// decimal places (no rounding when Precision <= 0) and sorts them ascending.
type Uniform struct {
	Lo, Hi    float64
	Precision int
}

// Generate implements ValueGenerator.
func (u Uniform) Generate(n int, rng *rand.Rand) ([]float64, error) {
	if rng == nil {
		return nil, fmt.Errorf("uniform draw needs a random source")
	}
	values := make([]float64, n)
	for i := range values {
		v := u.Lo + rng.Float64()*(u.Hi-u.Lo)
		if u.Precision > 0 {
			v = scalar.Round(v, u.Precision)
		}
		values[i] = v
	}
	sort.Float64s(values)
	return values, nil
}

// Grid places n evenly spaced values strictly inside (Lo, Hi):
// (i+1)/(n+1)*(Hi-Lo)+Lo. With Lo > Hi the grid is descending.
type Grid struct {
	Lo, Hi float64
}

// Generate implements ValueGenerator.
func (g Grid) Generate(n int, _ *rand.Rand) ([]float64, error) {
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(i+1)*(g.Hi-g.Lo)/float64(n+1) + g.Lo
	}
	return values, nil
}

// Fixed returns an explicit list of values.
type Fixed []float64

// Generate implements ValueGenerator.
func (f Fixed) Generate(n int, _ *rand.Rand) ([]float64, error) {
	if len(f) != n {
		return nil, fmt.Errorf("fixed list has %d values, want %d", len(f), n)
	}
	return append([]float64(nil), f...), nil
}

// Complement derives values as Total - Of[i], e.g. vt = 1 - vm.
type Complement struct {
	Of    []float64
	Total float64
}

// Generate implements ValueGenerator.
func (c Complement) Generate(n int, _ *rand.Rand) ([]float64, error) {
	if len(c.Of) != n {
		return nil, fmt.Errorf("complement source has %d values, want %d", len(c.Of), n)
	}
	values := make([]float64, n)
	for i, v := range c.Of {
		values[i] = c.Total - v
	}
	return values, nil
}
