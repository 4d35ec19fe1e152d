package arb

import "math"

// Side is the direction of a single-leg trade implied by a trade-vector entry.
type Side int

const (
	Buy Side = iota
	Sell
)

// PriceLevel is one (price, size) rung of an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a token's resting liquidity. Bids must be sorted price
// descending, asks price ascending — both tightest-first.
type OrderBook struct {
	Bids []PriceLevel
	Asks []PriceLevel
}

// BestBid returns the best bid price, or 0 if the book has no bids.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the best ask price, or 1 if the book has no asks —
// the worst possible price a buyer could face, so downstream slippage
// and profit math still penalizes a one-sided book rather than treating
// it as free.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 1
	}
	return b.Asks[0].Price
}

// Midpoint returns (BestBid+BestAsk)/2.
func (b OrderBook) Midpoint() float64 {
	return (b.BestBid() + b.BestAsk()) / 2
}

// Spread returns BestAsk-BestBid.
func (b OrderBook) Spread() float64 {
	return b.BestAsk() - b.BestBid()
}

// VWAP walks the book on the requested side, filling min(remaining,
// level.size) at each level's price, and returns total_cost /
// total_filled. Returns 0 if nothing filled (empty book on that side).
func VWAP(book OrderBook, side Side, size float64) float64 {
	levels := book.Asks
	if side == Sell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return 0
	}

	remaining := size
	var totalCost, totalFilled float64
	for _, level := range levels {
		fill := math.Min(remaining, level.Size)
		totalCost += fill * level.Price
		totalFilled += fill
		remaining -= fill
		if remaining <= 0 {
			break
		}
	}
	if totalFilled == 0 {
		return 0
	}
	return totalCost / totalFilled
}

// SlippageRate is |vwap-best|/best, where best is BestAsk for buys and
// BestBid for sells. Returns 1 (worst case) if best is 0.
func SlippageRate(book OrderBook, side Side, size float64) float64 {
	vwap := VWAP(book, side, size)
	best := book.BestAsk()
	if side == Sell {
		best = book.BestBid()
	}
	if best == 0 {
		return 1
	}
	return math.Abs(vwap-best) / best
}

// Leg is one nonzero entry of a trade vector, bound to the order book it
// would trade against.
type Leg struct {
	MarketIndex int
	TradeValue  float64 // signed; positive = buy, negative = sell
	Book        OrderBook
}

// NetUSD reports expected net profit in dollars for a trade deployed at
// trade_notional_usd total notional, given a per-unit-notional profit
// rate and the legs it would execute against. gross is profit_rate times
// notional; each leg's slippage cost is weighted by its share of the
// notional (|trade_value|); fees are a flat rate on the full notional.
func NetUSD(profitRate float64, legs []Leg, feeRate, tradeNotionalUSD float64) float64 {
	gross := profitRate * tradeNotionalUSD

	var totalSlippageCost float64
	for _, leg := range legs {
		weight := math.Abs(leg.TradeValue)
		if weight == 0 {
			continue
		}
		side := Buy
		if leg.TradeValue < 0 {
			side = Sell
		}
		sigma := SlippageRate(leg.Book, side, weight*tradeNotionalUSD)
		totalSlippageCost += sigma * weight
	}
	totalSlippageCost *= tradeNotionalUSD

	fees := tradeNotionalUSD * feeRate

	return gross - fees - totalSlippageCost
}

// Profitable reports whether net clears the configured floor.
func Profitable(net, minProfitUSD float64) bool {
	return net >= minProfitUSD
}
