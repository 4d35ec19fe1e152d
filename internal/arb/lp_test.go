package arb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolve_ZeroVariablesReturnsNone(t *testing.T) {
	p := Build(0, nil)
	_, ok := p.Solve(nil)
	assert.False(t, ok)
}

func TestSolve_BoxOnlyMinimizesAtZero(t *testing.T) {
	p := Build(2, nil)
	x, ok := p.Solve([]float64{1, 1})
	require.True(t, ok)
	assert.InDelta(t, 0.0, x[0], 1e-6)
	assert.InDelta(t, 0.0, x[1], 1e-6)
}

func TestSolve_BoxOnlyMaximizesAtOne(t *testing.T) {
	p := Build(2, nil)
	x, ok := p.Solve([]float64{-1, -1})
	require.True(t, ok)
	assert.InDelta(t, 1.0, x[0], 1e-6)
	assert.InDelta(t, 1.0, x[1], 1e-6)
}

func TestSolve_MutexRowRespected(t *testing.T) {
	p := Build(2, []Dependency{{0, 1, Mutex}})
	x, ok := p.Solve([]float64{-1, -1}) // push both toward 1
	require.True(t, ok)
	assert.LessOrEqual(t, x[0]+x[1], 1.0+1e-6)
}

func TestSolve_ExactlyOneRowRespected(t *testing.T) {
	p := Build(2, []Dependency{{0, 1, ExactlyOne}})
	x, ok := p.Solve([]float64{1, 0})
	require.True(t, ok)
	assert.InDelta(t, 1.0, x[0]+x[1], 1e-6)
}
