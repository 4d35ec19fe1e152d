package arb

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKLDivergence_SelfIsZero(t *testing.T) {
	p := []float64{0.2, 0.5, 0.9}
	assert.InDelta(t, 0.0, klDivergence(p, p), 1e-12)
}

func TestOptimize_FeasiblePriceStaysNearItself(t *testing.T) {
	// S2: MUTEX(0,1), p=(0.3,0.4) is already feasible.
	p := Build(2, []Dependency{{0, 1, Mutex}})
	result := Optimize([]float64{0.3, 0.4}, p, 150, 1e-8)
	assert.True(t, result.Converged)
	assert.Less(t, result.Profit, 0.01)
	assert.LessOrEqual(t, l1Norm(result.TradeVector), 1e-2)
}

func TestOptimize_MutexInfeasible_S1(t *testing.T) {
	p := Build(2, []Dependency{{0, 1, Mutex}})
	prices := []float64{0.7, 0.6}
	result := Optimize(prices, p, 150, 1e-8)

	feasibility := p.CheckFeasibility(result.Optimal)
	assert.True(t, feasibility.Feasible || feasibility.Violation <= tolFeasibility)
	assert.LessOrEqual(t, result.Optimal[0]+result.Optimal[1], 1.001)
	assert.Greater(t, result.Profit, 0.0)
	assert.Less(t, result.TradeVector[0], 0.0)
	assert.Less(t, result.TradeVector[1], 0.0)
}

func TestOptimize_ImpliesChain_S3(t *testing.T) {
	deps := []Dependency{{1, 0, Implies}, {2, 1, Implies}}
	p := Build(3, deps)
	prices := []float64{0.3, 0.5, 0.8}
	result := Optimize(prices, p, 150, 1e-8)

	feasibility := p.CheckFeasibility(prices)
	assert.False(t, feasibility.Feasible)

	assert.GreaterOrEqual(t, result.Optimal[0]+1e-3, result.Optimal[1])
	assert.GreaterOrEqual(t, result.Optimal[1]+1e-3, result.Optimal[2])
	assert.Greater(t, result.Profit, 0.0)
}

func TestOptimize_ExactlyOne_S4(t *testing.T) {
	p := Build(2, []Dependency{{0, 1, ExactlyOne}})

	feasible := p.CheckFeasibility([]float64{0.4, 0.6})
	assert.True(t, feasible.Feasible)

	result := Optimize([]float64{0.3, 0.4}, p, 150, 1e-8)
	assert.InDelta(t, 1.0, result.Optimal[0]+result.Optimal[1], 1e-6)
}

func TestOptimize_ZeroConstraintPolytope_S6(t *testing.T) {
	p := Build(3, nil)
	result := Optimize([]float64{0.1, 0.5, 0.9}, p, 150, 1e-8)
	assert.True(t, result.Converged)
	for _, q := range result.Optimal {
		assert.InDelta(t, 0.5, q, 1e-9)
	}
	assert.False(t, math.IsNaN(result.Profit))
	assert.False(t, math.IsInf(result.Profit, 0))
}

func TestOptimize_TradeVectorIsExactDifference(t *testing.T) {
	p := Build(2, []Dependency{{0, 1, Mutex}})
	prices := []float64{0.7, 0.6}
	result := Optimize(prices, p, 150, 1e-8)
	for i := range prices {
		assert.Equal(t, result.Optimal[i]-prices[i], result.TradeVector[i])
	}
}

func TestExactLineSearch_NonExpandingAndNoWorseThanStart(t *testing.T) {
	p := []float64{0.7, 0.6}
	q := []float64{0.5, 0.5}
	v := []float64{0.0, 0.0}
	gamma := exactLineSearch(p, q, v)
	assert.GreaterOrEqual(t, gamma, 0.0)
	assert.LessOrEqual(t, gamma, 1.0)

	phiAtGamma := func(g float64) float64 {
		mixed := make([]float64, len(q))
		for i := range mixed {
			mixed[i] = (1-g)*q[i] + g*v[i]
		}
		return klDivergence(p, mixed)
	}
	assert.LessOrEqual(t, phiAtGamma(gamma), phiAtGamma(0)+1e-9)
}
