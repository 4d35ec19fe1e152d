package arb

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// lpTolerance is the feasibility tolerance passed to the simplex solver,
// independent of tolFeasibility, which governs the feasibility tester.
const lpTolerance = 1e-10

// Solve minimizes c^T x over the polytope and returns the minimizing
// vertex, or (nil, false) if n is zero or the solver fails to report an
// optimal basis. Solve is deterministic given an identical objective and
// polytope.
//
// gonum's Simplex only solves standard form (A x = b, x >= 0); it has no
// notion of a bounded variable or a two-sided row. Both are lowered into
// extra equality rows with slack columns before the call, the same
// transformation a GLPK-style solver performs internally when a column
// or row is declared double-bounded:
//
//   - each variable x_i in [0,1] gets a slack u_i with x_i + u_i = 1
//   - an upper-bounded-only row a^T x <= hi gets a slack s_r >= 0 with
//     a^T x + s_r = hi
//   - a ranged row lo <= a^T x <= hi additionally bounds s_r <= hi-lo via
//     a second slack t_r with s_r + t_r = hi-lo
//   - an equality row lo == hi needs no slack at all
func (p *Polytope) Solve(objective []float64) ([]float64, bool) {
	n := p.numVars
	if n == 0 {
		return nil, false
	}

	sVar := make([]int, p.numConstraints)
	tVar := make([]int, p.numConstraints)
	nextVar := 2 * n
	rangedCount := 0
	for r := 0; r < p.numConstraints; r++ {
		lo, hi := p.lowerBound[r], p.upperBound[r]
		equality := lo > negInf+1 && math.Abs(lo-hi) < 1e-9
		if equality {
			sVar[r], tVar[r] = -1, -1
			continue
		}
		sVar[r] = nextVar
		nextVar++
		if lo > negInf+1 {
			tVar[r] = nextVar
			nextVar++
			rangedCount++
		} else {
			tVar[r] = -1
		}
	}
	totalVars := nextVar
	totalRows := n + p.numConstraints + rangedCount

	a := mat.NewDense(totalRows, totalVars, nil)
	b := make([]float64, totalRows)

	// Box rows: x_i + u_i = 1.
	for i := 0; i < n; i++ {
		a.Set(i, i, 1.0)
		a.Set(i, n+i, 1.0)
		b[i] = 1.0
	}

	// Constraint rows.
	rowOffset := n
	for _, t := range p.rows {
		a.Set(rowOffset+t.row, t.col, a.At(rowOffset+t.row, t.col)+t.val)
	}
	for r := 0; r < p.numConstraints; r++ {
		row := rowOffset + r
		lo, hi := p.lowerBound[r], p.upperBound[r]
		if sVar[r] == -1 {
			b[row] = hi // equality: lo == hi
			continue
		}
		a.Set(row, sVar[r], 1.0)
		b[row] = hi
		_ = lo
	}

	// Ranged-row bounding slacks: s_r + t_r = hi - lo.
	rangedOffset := rowOffset + p.numConstraints
	idx := 0
	for r := 0; r < p.numConstraints; r++ {
		if tVar[r] == -1 {
			continue
		}
		row := rangedOffset + idx
		idx++
		a.Set(row, sVar[r], 1.0)
		a.Set(row, tVar[r], 1.0)
		b[row] = p.upperBound[r] - p.lowerBound[r]
	}

	c := make([]float64, totalVars)
	copy(c, objective[:n])

	_, x, err := lp.Simplex(c, a, b, lpTolerance, nil)
	if err != nil {
		return nil, false
	}
	return x[:n], true
}
