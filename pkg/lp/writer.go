package lp

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
)

// WriteLP writes the model in CPLEX LP text format, the same human-readable
// layout commercial solvers emit for model browsing.
func WriteLP(w io.Writer, m *Model) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "\\ Model %s\n", m.Name)
	fmt.Fprintf(bw, "%s\n", m.Direction)
	bw.WriteString(" obj:")
	var objective Expr
	for j, c := range m.Objective {
		objective = objective.Add(j, c)
	}
	writeExpr(bw, m, objective.Normalize())
	bw.WriteString("\nSubject To\n")
	for _, c := range m.Constraints {
		fmt.Fprintf(bw, " %s:", c.Name)
		writeExpr(bw, m, c.Expr)
		fmt.Fprintf(bw, " %s %s\n", c.Sense, formatCoef(c.RHS))
	}
	bounded := false
	for _, v := range m.Vars {
		if math.IsInf(v.Upper, 1) {
			continue
		}
		if !bounded {
			bw.WriteString("Bounds\n")
			bounded = true
		}
		fmt.Fprintf(bw, " %s <= %s\n", v.Name, formatCoef(v.Upper))
	}
	bw.WriteString("End\n")
	return bw.Flush()
}

// WriteLPFile writes the model to path.
func WriteLPFile(path string, m *Model) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteLP(f, m); err != nil {
		f.Close()
		return fmt.Errorf("failed to write model %s: %w", m.Name, err)
	}
	return f.Close()
}

func writeExpr(bw *bufio.Writer, m *Model, e Expr) {
	if len(e) == 0 {
		bw.WriteString(" 0")
		return
	}
	for k, t := range e {
		coef := t.Coef
		switch {
		case coef < 0:
			bw.WriteString(" -")
			coef = -coef
		case k > 0:
			bw.WriteString(" +")
		}
		if coef != 1 {
			bw.WriteString(" " + formatCoef(coef))
		}
		bw.WriteString(" " + m.Vars[t.Var].Name)
	}
}

func formatCoef(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
