package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/juju/errors"

	"mdsearch/pkg/allocation"
	"mdsearch/pkg/population"
	"mdsearch/pkg/search"
	"mdsearch/pkg/types"
)

// Instance is one solved instance as printed by WriteInstance.
type Instance struct {
	Pop    *population.Population
	Primal *allocation.PrimalSolution
	Dual   *allocation.DualSolution
}

// WriteInstance prints the primal table, the IC/IR pattern and, when
// present, the dual table and dual pattern.
func WriteInstance(w io.Writer, in Instance, params types.ModelParams, tol float64) error {
	if err := WriteSolution(w, in.Pop, in.Primal, params); err != nil {
		return errors.Trace(err)
	}
	if err := WriteConstraintPattern(w, in.Primal, in.Pop.NumType(), tol); err != nil {
		return errors.Trace(err)
	}
	if in.Dual == nil {
		return nil
	}
	if err := WriteDual(w, in.Dual, params); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(WriteDualPattern(w, in.Dual, tol))
}

// Reporter prints every counterexample and, when it has a sink, stores its
// records.
type Reporter struct {
	out    io.Writer
	sink   *ParquetSink
	params types.ModelParams
	tol    float64
}

var _ search.Reporter = (*Reporter)(nil)

// NewReporter returns a Reporter writing tables to out. sink may be nil.
func NewReporter(out io.Writer, sink *ParquetSink, params types.ModelParams) *Reporter {
	return &Reporter{out: out, sink: sink, params: params, tol: allocation.DefaultTolerance}
}

// Counterexample implements search.Reporter.
func (r *Reporter) Counterexample(f *search.Finding) error {
	fmt.Fprintf(r.out, "Counterexample at iteration %d\n", f.Iteration)
	names := make([]string, 0, len(f.Violations))
	for _, v := range f.Violations {
		fmt.Fprintf(r.out, "  %s: %s\n", v.Hypothesis, v.Witness)
		names = append(names, v.Hypothesis)
	}
	in := Instance{Pop: f.Pop, Primal: f.Primal, Dual: f.Dual}
	if err := WriteInstance(r.out, in, r.params, r.tol); err != nil {
		return errors.Annotatef(err, "printing iteration %d", f.Iteration)
	}
	if r.sink == nil {
		return nil
	}
	rows := Rows(f.Iteration, f.Pop, f.Primal, f.Dual, strings.Join(names, ","), r.tol)
	return errors.Annotatef(r.sink.Write(rows), "storing iteration %d", f.Iteration)
}
