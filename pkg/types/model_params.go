// Package types provides shared type definitions used across mdsearch packages.
// This avoids duplicate parameter definitions between the model builders,
// the search loop and the reporter.
package types

import (
	"fmt"
	"math"
)

// ModelParams is the canonical set of run-level model parameters.
// Used by allocation, hypothesis, search and report packages.
type ModelParams struct {
	NumType   int     `json:"num_type" mapstructure:"num_type"`   // Number of discrete types (n)
	Q         float64 `json:"q" mapstructure:"q"`                 // Ex-ante supply cap
	Lambda    float64 `json:"lambda" mapstructure:"lambda"`       // Social value of revenue
	Precision int     `json:"precision" mapstructure:"precision"` // Decimal places used when comparing values
}

// NewModelParams creates ModelParams with required fields and the default precision.
func NewModelParams(numType int, q, lambda float64) ModelParams {
	return ModelParams{
		NumType:   numType,
		Q:         q,
		Lambda:    lambda,
		Precision: DefaultPrecision,
	}
}

// DefaultPrecision is the number of decimal places used by predicates and reports.
const DefaultPrecision = 4

// WithPrecision returns a copy with the Precision field set.
func (p ModelParams) WithPrecision(precision int) ModelParams {
	p.Precision = precision
	return p
}

// Validate checks the parameters for values that cannot produce a meaningful model.
// q = 0 is allowed (nothing may be allocated); a negative cap is not.
func (p ModelParams) Validate() error {
	if p.NumType < 1 {
		return fmt.Errorf("num_type must be >= 1, got %d", p.NumType)
	}
	if p.Q < 0 || math.IsNaN(p.Q) || math.IsInf(p.Q, 0) {
		return fmt.Errorf("q must be a finite non-negative number, got %v", p.Q)
	}
	if math.IsNaN(p.Lambda) || math.IsInf(p.Lambda, 0) {
		return fmt.Errorf("lambda must be finite, got %v", p.Lambda)
	}
	if p.Precision < 0 || p.Precision > 15 {
		return fmt.Errorf("precision must be in [0, 15], got %d", p.Precision)
	}
	return nil
}
