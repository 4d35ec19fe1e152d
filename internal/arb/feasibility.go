package arb

import "math"

// tolFeasibility is the maximum constraint breach tolerated before a
// price vector is considered infeasible; shared by the feasibility
// tester and the test assertions. The projector's convergence check uses
// its own duality-gap tolerance instead.
const tolFeasibility = 1e-9

// FeasibilityResult reports whether a price vector lies inside a
// Polytope and, if not, by how much.
type FeasibilityResult struct {
	Feasible  bool
	Violation float64
	Dual      []float64 // per-row signed slack: positive = upper-bound crossed, negative = lower-bound crossed
}

// CheckFeasibility evaluates A·prices against each row's bounds in one
// pass over the triplets. When the polytope has zero constraints the
// result is always feasible with zero violation.
func (p *Polytope) CheckFeasibility(prices []float64) FeasibilityResult {
	result := FeasibilityResult{
		Feasible: true,
		Dual:     make([]float64, p.numConstraints),
	}
	if p.numConstraints == 0 {
		return result
	}

	rowValues := make([]float64, p.numConstraints)
	for _, t := range p.rows {
		if t.col < len(prices) {
			rowValues[t.row] += t.val * prices[t.col]
		}
	}

	for r := 0; r < p.numConstraints; r++ {
		v := rowValues[r]

		if v > p.upperBound[r]+tolFeasibility {
			result.Feasible = false
			viol := v - p.upperBound[r]
			result.Violation = math.Max(result.Violation, viol)
			result.Dual[r] = viol
		}

		if p.lowerBound[r] > negInf+1 && v < p.lowerBound[r]-tolFeasibility {
			result.Feasible = false
			viol := p.lowerBound[r] - v
			result.Violation = math.Max(result.Violation, viol)
			result.Dual[r] = -viol
		}
	}

	return result
}
