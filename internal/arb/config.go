package arb

// Config holds the five tunables the core recognizes. It reads no
// files, sockets, or environment variables itself; callers (in this
// repository, internal/config) are responsible for populating it from
// whatever configuration source they use.
type Config struct {
	// FWMaxIters bounds the outer Frank-Wolfe loop.
	FWMaxIters int
	// FWTolerance is the duality-gap convergence threshold.
	FWTolerance float64
	// FeeRate is the flat per-notional fee.
	FeeRate float64
	// MinProfitUSD is the profitability floor.
	MinProfitUSD float64
	// TradeNotionalUSD is the total capital deployed per opportunity.
	TradeNotionalUSD float64
}

// DefaultConfig returns the configuration defaults named in the
// external interface.
func DefaultConfig() Config {
	return Config{
		FWMaxIters:       defaultMaxIters,
		FWTolerance:      defaultTolerance,
		FeeRate:          0.02,
		MinProfitUSD:     0.50,
		TradeNotionalUSD: 100.00,
	}
}
