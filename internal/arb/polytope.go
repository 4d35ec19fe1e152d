package arb

const negInf = -1e30

// triplet is one nonzero entry of the sparse constraint matrix A.
type triplet struct {
	row int
	col int
	val float64
}

// Polytope is the marginal polytope M = [0,1]^n intersected with one
// linear row per non-independent dependency. It is built once by Build
// and is immutable thereafter: CheckFeasibility and Solve never mutate
// it, so a single Polytope may be shared across goroutines running
// independent projections (see §5 of the design).
type Polytope struct {
	numVars        int
	rows           []triplet
	upperBound     []float64
	lowerBound     []float64
	numConstraints int
}

// NumVariables returns n, the number of markets the polytope was built for.
func (p *Polytope) NumVariables() int { return p.numVars }

// NumConstraints returns the number of non-independent dependency rows.
func (p *Polytope) NumConstraints() int { return p.numConstraints }

// Build translates a market count and a dependency list into a Polytope.
// Variable bounds are fixed at [0,1]^n. One row is appended per
// dependency, in insertion order; INDEPENDENT dependencies contribute no
// row. The builder does not deduplicate rows or detect infeasibility of
// the resulting system — callers must supply a consistent dependency set.
func Build(n int, deps []Dependency) *Polytope {
	p := &Polytope{numVars: n}
	row := 0
	for _, d := range deps {
		switch d.Relation {
		case Implies:
			// p_i <= p_j  =>  p_i - p_j <= 0
			p.rows = append(p.rows,
				triplet{row, d.I, 1.0},
				triplet{row, d.J, -1.0},
			)
			p.upperBound = append(p.upperBound, 0.0)
			p.lowerBound = append(p.lowerBound, negInf)
			row++
		case Mutex:
			p.rows = append(p.rows,
				triplet{row, d.I, 1.0},
				triplet{row, d.J, 1.0},
			)
			p.upperBound = append(p.upperBound, 1.0)
			p.lowerBound = append(p.lowerBound, negInf)
			row++
		case ExactlyOne:
			p.rows = append(p.rows,
				triplet{row, d.I, 1.0},
				triplet{row, d.J, 1.0},
			)
			p.upperBound = append(p.upperBound, 1.0)
			p.lowerBound = append(p.lowerBound, 1.0)
			row++
		case Independent:
			// no row
		}
	}
	p.numConstraints = row
	return p
}
