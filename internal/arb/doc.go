// Package arb implements the arbitrage detection and sizing engine: the
// marginal polytope, its feasibility test, the Frank-Wolfe I-projection
// onto it, and the cost-adjusted profitability filter that turns a trade
// vector into an expected dollar figure.
//
// The package is a pure function over (prices, dependency set, order
// books, cost parameters). It performs no I/O, holds no package-level
// mutable state, and never logs; callers own observability and
// persistence. A Polytope, once built, is read-only and safe to share
// across concurrent calls to CheckFeasibility and Optimize.
package arb
