// Package report renders solved instances: text tables for the console,
// parquet records for later analysis, CSV perturbation pairs and YAML run
// summaries.
package report

import (
	"math"
	"strconv"
	"strings"

	"mdsearch/pkg/allocation"
	"mdsearch/pkg/population"
)

// Row is the record of one type of one solved instance.
type Row struct {
	Iteration int64 `parquet:"name=iteration, type=INT64"`
	Type      int64 `parquet:"name=type, type=INT64"`

	Prob float64 `parquet:"name=prob, type=DOUBLE"`
	VS   float64 `parquet:"name=vs, type=DOUBLE"`
	VM   float64 `parquet:"name=vm, type=DOUBLE"`
	VT   float64 `parquet:"name=vt, type=DOUBLE"`

	X   float64 `parquet:"name=x, type=DOUBLE"`
	P   float64 `parquet:"name=p, type=DOUBLE"`
	W   float64 `parquet:"name=w, type=DOUBLE"`
	Eta float64 `parquet:"name=eta, type=DOUBLE"`

	SM        float64 `parquet:"name=sm, type=DOUBLE"`
	ST        float64 `parquet:"name=st, type=DOUBLE"`
	TM        float64 `parquet:"name=tm, type=DOUBLE"`
	// VirtualVS is NaN when the service values are not ascending.
	VirtualVS float64 `parquet:"name=virtual_vs, type=DOUBLE"`

	// TightIC lists the j of every binding IC[i,j], comma separated.
	TightIC string `parquet:"name=tight_ic, type=UTF8"`
	IRTight bool   `parquet:"name=ir_tight, type=BOOLEAN"`

	HasDual    bool    `parquet:"name=has_dual, type=BOOLEAN"`
	IRDual     float64 `parquet:"name=ir_dual, type=DOUBLE"`
	BoundDual  float64 `parquet:"name=bound_dual, type=DOUBLE"`
	SupplyDual float64 `parquet:"name=supply_dual, type=DOUBLE"`
	// ICDual lists "j:ic[i,j]" for every other type j, comma separated.
	ICDual string `parquet:"name=ic_dual, type=UTF8"`

	Violations string `parquet:"name=violations, type=UTF8"`
}

// Rows builds one Row per type. dual may be nil. violations is stored on
// every row of the instance.
func Rows(iteration int, pop *population.Population, primal *allocation.PrimalSolution,
	dual *allocation.DualSolution, violations string, tol float64) []Row {
	n := pop.NumType()
	eta := primal.Eta()
	rows := make([]Row, n)
	for i := range rows {
		r := Row{
			Iteration:  int64(iteration),
			Type:       int64(i),
			Prob:       pop.PDF()[i],
			VS:         pop.VS()[i],
			VM:         pop.VM()[i],
			VT:         pop.VT()[i],
			X:          primal.X[i],
			P:          primal.P[i],
			Eta:        eta[i],
			SM:         pop.SM()[i],
			ST:         pop.ST()[i],
			TM:         pop.TM()[i],
			VirtualVS:  math.NaN(),
			TightIC:    tightIC(primal, n, i, tol),
			IRTight:    primal.IRTight(i, tol),
			Violations: violations,
		}
		if vv := pop.VirtualVS(); vv != nil {
			r.VirtualVS = vv[i]
		}
		if primal.W != nil {
			r.W = primal.W[i]
		}
		if dual != nil {
			r.HasDual = true
			r.IRDual = dual.IR[i]
			r.BoundDual = dual.Bound[i]
			r.SupplyDual = dual.Supply
			r.ICDual = icDual(dual, n, i)
		}
		rows[i] = r
	}
	return rows
}

func tightIC(sol *allocation.PrimalSolution, n, i int, tol float64) string {
	var js []string
	for j := 0; j < n; j++ {
		if j != i && sol.ICTight(i, j, tol) {
			js = append(js, strconv.Itoa(j))
		}
	}
	return strings.Join(js, ",")
}

func icDual(dual *allocation.DualSolution, n, i int) string {
	pairs := make([]string, 0, n-1)
	for j := 0; j < n; j++ {
		if j == i {
			continue
		}
		v := dual.IC[allocation.Pair{I: i, J: j}]
		pairs = append(pairs, strconv.Itoa(j)+":"+strconv.FormatFloat(v, 'g', -1, 64))
	}
	return strings.Join(pairs, ",")
}
