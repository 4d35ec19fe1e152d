package arb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckFeasibility_ZeroConstraintsAlwaysFeasible(t *testing.T) {
	p := Build(3, nil)
	result := p.CheckFeasibility([]float64{0.9, 0.9, 0.9})
	assert.True(t, result.Feasible)
	assert.Equal(t, 0.0, result.Violation)
}

func TestCheckFeasibility_MutexFeasible(t *testing.T) {
	p := Build(2, []Dependency{{0, 1, Mutex}})
	result := p.CheckFeasibility([]float64{0.3, 0.4})
	assert.True(t, result.Feasible)
	assert.LessOrEqual(t, result.Violation, tolFeasibility)
}

func TestCheckFeasibility_MutexInfeasible(t *testing.T) {
	// S1: p=(0.7,0.6), MUTEX(0,1): violation = 0.7+0.6-1 = 0.3
	p := Build(2, []Dependency{{0, 1, Mutex}})
	result := p.CheckFeasibility([]float64{0.7, 0.6})
	assert.False(t, result.Feasible)
	assert.InDelta(t, 0.3, result.Violation, 1e-9)
	assert.Greater(t, result.Dual[0], 0.0)
}

func TestCheckFeasibility_ImpliesViolation(t *testing.T) {
	// p_0 <= p_1 required; p_0=0.8 > p_1=0.3 violates by 0.5.
	p := Build(2, []Dependency{{0, 1, Implies}})
	result := p.CheckFeasibility([]float64{0.8, 0.3})
	assert.False(t, result.Feasible)
	assert.InDelta(t, 0.5, result.Violation, 1e-9)
}

func TestCheckFeasibility_ExactlyOne(t *testing.T) {
	p := Build(2, []Dependency{{0, 1, ExactlyOne}})

	feasible := p.CheckFeasibility([]float64{0.4, 0.6})
	assert.True(t, feasible.Feasible)

	infeasible := p.CheckFeasibility([]float64{0.3, 0.4})
	assert.False(t, infeasible.Feasible)
	assert.InDelta(t, 0.3, infeasible.Violation, 1e-9)
	assert.Less(t, infeasible.Dual[0], 0.0) // lower bound crossed
}
