package arb

import (
	"math"
	"time"
)

// tradeVectorFloor is the threshold below which a trade-vector entry is
// treated as zero — too small to route an order against.
const tradeVectorFloor = 1e-6

// Opportunity packages a detected mispricing: the markets it touches,
// their current and projected prices, the implied trade, and its
// expected profit rate.
type Opportunity struct {
	MarketIndices      []int
	CurrentPrices      []float64
	OptimalPrices      []float64
	TradeVector        []float64
	ExpectedProfitRate float64
	Mispricing         float64
	DetectedAt         time.Time
}

// Assemble builds an Opportunity from a price vector, feasibility
// result, and Frank-Wolfe result. It returns (Opportunity{}, false) if
// fw.Profit is not strictly positive, is NaN, or no trade-vector entry
// exceeds tradeVectorFloor in magnitude. Assemble is pure: it never
// consults order books or fee configuration.
func Assemble(prices []float64, feasibility FeasibilityResult, fw FWResult) (Opportunity, bool) {
	if math.IsNaN(fw.Profit) || fw.Profit <= 0 {
		return Opportunity{}, false
	}

	var indices []int
	for i, tv := range fw.TradeVector {
		if math.Abs(tv) > tradeVectorFloor {
			indices = append(indices, i)
		}
	}
	if len(indices) == 0 {
		return Opportunity{}, false
	}

	return Opportunity{
		MarketIndices:      indices,
		CurrentPrices:      prices,
		OptimalPrices:      fw.Optimal,
		TradeVector:        fw.TradeVector,
		ExpectedProfitRate: fw.Profit,
		Mispricing:         feasibility.Violation,
		DetectedAt:         time.Now().UTC(),
	}, true
}
