package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"gonum.org/v1/gonum/floats/scalar"

	"mdsearch/pkg/allocation"
	"mdsearch/pkg/population"
	"mdsearch/pkg/types"
)

// Table cells of the tight-constraint grids.
const (
	cellDiagonal = "****"
	cellICSlack  = "___>___"
	cellIRSlack  = "____>0"
	cellTight    = "tight"
	cellSlack    = "_____"
)

// table buffers tab separated rows and aligns them on flush.
type table struct {
	tw *tabwriter.Writer
}

func newTable(w io.Writer, header ...string) *table {
	t := &table{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight|tabwriter.Debug)}
	t.row(header...)
	return t
}

func (t *table) row(cells ...string) {
	fmt.Fprintln(t.tw, strings.Join(cells, "\t")+"\t")
}

func (t *table) flush() error { return t.tw.Flush() }

func typeHeader(first string, n int) []string {
	h := []string{first}
	for i := 1; i <= n; i++ {
		h = append(h, strconv.Itoa(i))
	}
	return h
}

// formatter rounds to a fixed number of decimal places.
type formatter int

func (f formatter) num(v float64) string {
	// Adding zero turns -0 into 0.
	return strconv.FormatFloat(scalar.Round(v, int(f))+0, 'f', -1, 64)
}

// virtual prints "-" for populations without virtual values.
func (f formatter) virtual(pop *population.Population, i int) string {
	if vv := pop.VirtualVS(); vv != nil {
		return f.num(vv[i])
	}
	return "-"
}

// WriteSolution prints the primal values per type followed by the supply cap
// and objective. Types are numbered from 1. Without time payments (Myerson)
// only the service columns are shown.
func WriteSolution(w io.Writer, pop *population.Population, sol *allocation.PrimalSolution, params types.ModelParams) error {
	f := formatter(params.Precision)
	eta := sol.Eta()
	var t *table
	if sol.W == nil {
		t = newTable(w, "index", "prob", "vs", "x", "p", "vs_reg")
	} else {
		t = newTable(w, "index", "prob", "vs", "vm", "vt", "x", "p", "w", "vs/vm", "vs/vt", "vt/vm", "vs_reg", "eta")
	}
	for i := 0; i < pop.NumType(); i++ {
		if sol.W == nil {
			t.row(strconv.Itoa(i+1), f.num(pop.PDF()[i]), f.num(pop.VS()[i]),
				f.num(sol.X[i]), f.num(sol.P[i]), f.virtual(pop, i))
			continue
		}
		t.row(strconv.Itoa(i+1), f.num(pop.PDF()[i]),
			f.num(pop.VS()[i]), f.num(pop.VM()[i]), f.num(pop.VT()[i]),
			f.num(sol.X[i]), f.num(sol.P[i]), f.num(sol.W[i]),
			f.num(pop.SM()[i]), f.num(pop.ST()[i]), f.num(pop.TM()[i]),
			f.virtual(pop, i), f.num(eta[i]))
	}
	if err := t.flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "q: %.2f, Obj: %g\n", params.Q, sol.Objective)
	return err
}

// WriteConstraintPattern prints which IC and IR constraints bind.
// Row IC(i, c) shows, for every other type j, whether type i is indifferent
// between its own report and reporting j.
func WriteConstraintPattern(w io.Writer, sol *allocation.PrimalSolution, n int, tol float64) error {
	t := newTable(w, typeHeader("constraint", n)...)
	for i := 0; i < n; i++ {
		row := []string{fmt.Sprintf("IC(%d, c)", i+1)}
		for j := 0; j < n; j++ {
			switch {
			case i == j:
				row = append(row, cellDiagonal)
			case sol.ICTight(i, j, tol):
				row = append(row, fmt.Sprintf("u(%d,%d)=u(%d,%d)", i+1, i+1, i+1, j+1))
			default:
				row = append(row, cellICSlack)
			}
		}
		t.row(row...)
	}
	row := []string{"IR"}
	for i := 0; i < n; i++ {
		if sol.IRTight(i, tol) {
			row = append(row, fmt.Sprintf("u(%d)=0", i+1))
		} else {
			row = append(row, cellIRSlack)
		}
	}
	t.row(row...)
	return t.flush()
}

// WriteDual prints the dual multipliers.
func WriteDual(w io.Writer, dual *allocation.DualSolution, params types.ModelParams) error {
	f := formatter(params.Precision)
	n := dual.NumType()
	if _, err := fmt.Fprintf(w, "Dual: q: %.2f, Obj: %g\n", params.Q, dual.Objective); err != nil {
		return err
	}
	t := newTable(w, typeHeader("var", n)...)
	for i := 0; i < n; i++ {
		row := []string{fmt.Sprintf("IC(%d, c)", i+1)}
		for j := 0; j < n; j++ {
			if i == j {
				row = append(row, "")
				continue
			}
			row = append(row, f.num(dual.IC[allocation.Pair{I: i, J: j}]))
		}
		t.row(row...)
	}
	vector := func(label string, values []float64) {
		row := []string{label}
		for _, v := range values {
			row = append(row, f.num(v))
		}
		t.row(row...)
	}
	vector("IR", dual.IR)
	vector("Bound", dual.Bound)
	supply := make([]string, n+1)
	supply[0], supply[1] = "Supply", f.num(dual.Supply)
	t.row(supply...)
	return t.flush()
}

// WriteDualPattern prints which dual rows bind: x and p rows, plus w rows
// when the dual has them.
func WriteDualPattern(w io.Writer, dual *allocation.DualSolution, tol float64) error {
	n := dual.NumType()
	t := newTable(w, typeHeader("constraint", n)...)
	labels := []string{"x", "p", "w"}
	for k := 0; k < len(labels) && (k+1)*n <= len(dual.Slacks); k++ {
		row := []string{labels[k]}
		for i := 0; i < n; i++ {
			if dual.RowTight(k*n+i, tol) {
				row = append(row, cellTight)
			} else {
				row = append(row, cellSlack)
			}
		}
		t.row(row...)
	}
	return t.flush()
}
