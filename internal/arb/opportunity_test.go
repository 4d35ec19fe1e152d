package arb

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemble_EmitsForProfitableInfeasibility(t *testing.T) {
	p := Build(2, []Dependency{{0, 1, Mutex}})
	prices := []float64{0.7, 0.6}
	feasibility := p.CheckFeasibility(prices)
	fw := Optimize(prices, p, 150, 1e-8)

	opp, ok := Assemble(prices, feasibility, fw)
	require.True(t, ok)
	assert.NotEmpty(t, opp.MarketIndices)
	for _, i := range opp.MarketIndices {
		assert.Greater(t, math.Abs(fw.TradeVector[i]), tradeVectorFloor)
	}
	assert.Equal(t, fw.Profit, opp.ExpectedProfitRate)
	assert.False(t, opp.DetectedAt.IsZero())
}

func TestAssemble_RejectsZeroProfit(t *testing.T) {
	opp, ok := Assemble([]float64{0.5, 0.5}, FeasibilityResult{Feasible: true}, FWResult{
		Optimal:     []float64{0.5, 0.5},
		TradeVector: []float64{0, 0},
		Profit:      0,
	})
	assert.False(t, ok)
	assert.Equal(t, Opportunity{}, opp)
}

func TestAssemble_RejectsNaNProfit(t *testing.T) {
	_, ok := Assemble([]float64{0.5, 0.5}, FeasibilityResult{}, FWResult{
		Optimal:     []float64{0.5, 0.5},
		TradeVector: []float64{0.1, -0.1},
		Profit:      math.NaN(),
	})
	assert.False(t, ok)
}

func TestAssemble_RejectsBelowTradeVectorFloor(t *testing.T) {
	_, ok := Assemble([]float64{0.5, 0.5}, FeasibilityResult{}, FWResult{
		Optimal:     []float64{0.5000001, 0.4999999},
		TradeVector: []float64{1e-7, -1e-7},
		Profit:      0.001,
	})
	assert.False(t, ok)
}
