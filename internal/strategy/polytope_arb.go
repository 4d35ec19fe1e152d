package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kieranvoss/marginal-arb/internal/arb"
	"github.com/kieranvoss/marginal-arb/internal/domain"
)

const (
	defaultPolyFWMaxIters       = 150
	defaultPolyFWTolerance      = 1e-8
	defaultPolyFeeRate          = 0.02
	defaultPolyMinProfitUSD     = 0.50
	defaultPolyTradeNotionalUSD = 100.00
	defaultPolyMaxGroupSize     = 10
	defaultPolyMaxStaleSec      = 5
)

// tokenRef locates which group and market index a price-feed token belongs to.
type tokenRef struct {
	groupID     string
	marketIndex int
}

// polytopeGroupState holds the built Polytope and the freshest order books
// for one condition group's dependency-linked markets.
type polytopeGroupState struct {
	groupID    string
	marketIDs  []string // index == polytope variable index
	polytope   *arb.Polytope
	books      map[string]domain.OrderbookSnapshot
	lastUpdate map[string]time.Time
}

// PolytopeArb detects and sizes arbitrage across a condition group's
// dependency-linked markets by projecting quoted prices onto the marginal
// polytope implied by the group's declared dependencies (see internal/arb).
// It supersedes the older heuristic rebalancing/combinatorial strategies:
// a sum-to-one check is just an EXACTLY_ONE constraint row and a pairwise
// implied-price check is just an IMPLIES row, so one polytope per group
// handles arbitrary mixes of IMPLIES / MUTEX / EXACTLY_ONE at once instead
// of needing a separate heuristic per relation shape.
type PolytopeArb struct {
	cfg     Config
	tracker *PriceTracker
	deps    domain.MarketDependencyStore
	markets domain.MarketStore

	mu         sync.Mutex
	states     map[string]*polytopeGroupState // groupID -> state
	tokenIndex map[string]tokenRef             // tokenID -> group/market index

	logger *slog.Logger
}

// NewPolytopeArb creates a PolytopeArb strategy.
func NewPolytopeArb(cfg Config, tracker *PriceTracker, deps domain.MarketDependencyStore, markets domain.MarketStore, logger *slog.Logger) *PolytopeArb {
	return &PolytopeArb{
		cfg:        cfg,
		tracker:    tracker,
		deps:       deps,
		markets:    markets,
		states:     make(map[string]*polytopeGroupState),
		tokenIndex: make(map[string]tokenRef),
		logger:     logger.With(slog.String("strategy", "polytope_arb")),
	}
}

// Name returns the strategy identifier.
func (p *PolytopeArb) Name() string { return "polytope_arb" }

// Init loads every group's dependencies, builds one Polytope per group, and
// indexes each dependency-linked market's tokens for O(1) lookup on book
// updates.
func (p *PolytopeArb) Init(ctx context.Context) error {
	allDeps, err := p.deps.List(ctx)
	if err != nil {
		return err
	}
	byGroup := make(map[string][]domain.MarketDependency)
	for _, d := range allDeps {
		byGroup[d.GroupID] = append(byGroup[d.GroupID], d)
	}

	maxSize := p.maxGroupSize()
	p.mu.Lock()
	defer p.mu.Unlock()

	for groupID, groupDeps := range byGroup {
		marketIDs, index := orderMarketIDs(groupDeps)
		if len(marketIDs) == 0 || len(marketIDs) > maxSize {
			continue
		}
		relDeps := make([]arb.Dependency, 0, len(groupDeps))
		for _, d := range groupDeps {
			rel, ok := toRelation(d.Relation)
			if !ok {
				continue
			}
			relDeps = append(relDeps, arb.Dependency{
				I:        index[d.MarketAID],
				J:        index[d.MarketBID],
				Relation: rel,
			})
		}

		state := &polytopeGroupState{
			groupID:    groupID,
			marketIDs:  marketIDs,
			polytope:   arb.Build(len(marketIDs), relDeps),
			books:      make(map[string]domain.OrderbookSnapshot),
			lastUpdate: make(map[string]time.Time),
		}
		p.states[groupID] = state

		for i, mid := range marketIDs {
			mkt, err := p.markets.GetByID(ctx, mid)
			if err != nil {
				continue
			}
			p.tokenIndex[mkt.TokenIDs[0]] = tokenRef{groupID: groupID, marketIndex: i}
		}
	}
	return nil
}

// orderMarketIDs assigns each market a stable polytope variable index in
// first-appearance order and returns both the ordered slice and the index map.
func orderMarketIDs(deps []domain.MarketDependency) ([]string, map[string]int) {
	index := make(map[string]int)
	var ordered []string
	assign := func(mid string) {
		if _, ok := index[mid]; !ok {
			index[mid] = len(ordered)
			ordered = append(ordered, mid)
		}
	}
	for _, d := range deps {
		assign(d.MarketAID)
		assign(d.MarketBID)
	}
	return ordered, index
}

func toRelation(r domain.DependencyRelation) (arb.Relation, bool) {
	switch r {
	case domain.DependencyIndependent:
		return arb.Independent, true
	case domain.DependencyImplies:
		return arb.Implies, true
	case domain.DependencyMutex:
		return arb.Mutex, true
	case domain.DependencyExactlyOne:
		return arb.ExactlyOne, true
	default:
		return 0, false
	}
}

// OnBookUpdate refreshes the order book for whichever group/market the
// asset belongs to, and once every market in that group has a fresh quote,
// runs feasibility + I-projection + the cost-adjusted profitability filter.
func (p *PolytopeArb) OnBookUpdate(ctx context.Context, snap domain.OrderbookSnapshot) ([]domain.TradeSignal, error) {
	p.mu.Lock()
	ref, ok := p.tokenIndex[snap.AssetID]
	if !ok {
		p.mu.Unlock()
		return nil, nil
	}
	state := p.states[ref.groupID]
	now := time.Now().UTC()
	marketID := state.marketIDs[ref.marketIndex]
	state.books[marketID] = snap
	state.lastUpdate[marketID] = now

	staleSec := time.Duration(p.maxStaleSec()) * time.Second
	prices := make([]float64, len(state.marketIDs))
	books := make([]domain.OrderbookSnapshot, len(state.marketIDs))
	for i, mid := range state.marketIDs {
		ts, seen := state.lastUpdate[mid]
		if !seen || now.Sub(ts) > staleSec {
			p.mu.Unlock()
			return nil, nil
		}
		book := state.books[mid]
		prices[i] = book.MidPrice
		if prices[i] <= 0 && book.BestBid > 0 {
			prices[i] = book.BestBid
		}
		books[i] = book
	}
	polytope := state.polytope
	marketIDs := append([]string(nil), state.marketIDs...)
	p.mu.Unlock()

	feasibility := polytope.CheckFeasibility(prices)
	fw := arb.Optimize(prices, polytope, p.fwMaxIters(), p.fwTolerance())
	opp, ok := arb.Assemble(prices, feasibility, fw)
	if !ok {
		return nil, nil
	}

	notional := p.tradeNotionalUSD()
	legs := make([]arb.Leg, 0, len(opp.MarketIndices))
	for _, idx := range opp.MarketIndices {
		legs = append(legs, arb.Leg{
			MarketIndex: idx,
			TradeValue:  fw.TradeVector[idx],
			Book:        toArbBook(books[idx]),
		})
	}
	net := arb.NetUSD(opp.ExpectedProfitRate, legs, p.feeRate(), notional)
	if !arb.Profitable(net, p.minProfitUSD()) {
		return nil, nil
	}

	legGroupID := uuid.New().String()
	oppID := uuid.New().String()
	ttl := 30 * time.Second
	var signals []domain.TradeSignal
	for _, idx := range opp.MarketIndices {
		tv := fw.TradeVector[idx]
		mid := marketIDs[idx]
		mkt, err := p.markets.GetByID(ctx, mid)
		if err != nil {
			continue
		}
		side := domain.OrderSideBuy
		if tv < 0 {
			side = domain.OrderSideSell
		}
		price := prices[idx]
		sizeUSD := absFloat(tv) * notional
		sizeUnits := sizeUSD
		if price > 0 {
			sizeUnits = sizeUSD / price
		}
		signals = append(signals, domain.TradeSignal{
			ID:         fmt.Sprintf("pa-%s-%d", mid, now.UnixNano()),
			Source:     p.Name(),
			MarketID:   mid,
			TokenID:    mkt.TokenIDs[0],
			Side:       side,
			PriceTicks: int64(price * 1e6),
			SizeUnits:  int64(sizeUnits * 1e6),
			Urgency:    domain.SignalUrgencyHigh,
			Reason:     fmt.Sprintf("polytope_arb profit_rate=%.6f net_usd=%.2f", opp.ExpectedProfitRate, net),
			Metadata: map[string]string{
				"leg_group_id": legGroupID,
				"leg_policy":   string(domain.LegPolicyAllOrNone),
				"arb_type":     string(domain.ArbTypePolytope),
				"opp_id":       oppID,
			},
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		})
	}
	for i := range signals {
		signals[i].Metadata["leg_count"] = fmt.Sprintf("%d", len(signals))
	}
	return signals, nil
}

func toArbBook(snap domain.OrderbookSnapshot) arb.OrderBook {
	bids := make([]arb.PriceLevel, len(snap.Bids))
	for i, l := range snap.Bids {
		bids[i] = arb.PriceLevel{Price: l.Price, Size: l.Size}
	}
	asks := make([]arb.PriceLevel, len(snap.Asks))
	for i, l := range snap.Asks {
		asks[i] = arb.PriceLevel{Price: l.Price, Size: l.Size}
	}
	return arb.OrderBook{Bids: bids, Asks: asks}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func (p *PolytopeArb) OnPriceChange(_ context.Context, change domain.PriceChange) ([]domain.TradeSignal, error) {
	p.tracker.Track(change.AssetID, change.Price, change.Timestamp)
	return nil, nil
}
func (p *PolytopeArb) OnTrade(_ context.Context, trade domain.Trade) ([]domain.TradeSignal, error) {
	p.tracker.Track(trade.MarketID, trade.Price, trade.Timestamp)
	return nil, nil
}
func (p *PolytopeArb) OnSignal(_ context.Context, _ domain.TradeSignal) ([]domain.TradeSignal, error) {
	return nil, nil
}
func (p *PolytopeArb) Close() error { return nil }

func (p *PolytopeArb) maxGroupSize() int {
	if v, ok := p.cfg.Params["max_group_size"].(int); ok {
		return v
	}
	if v, ok := p.cfg.Params["max_group_size"].(int64); ok {
		return int(v)
	}
	return defaultPolyMaxGroupSize
}
func (p *PolytopeArb) maxStaleSec() int {
	if v, ok := p.cfg.Params["max_stale_sec"].(int); ok {
		return v
	}
	return defaultPolyMaxStaleSec
}
func (p *PolytopeArb) fwMaxIters() int {
	if v, ok := p.cfg.Params["fw_max_iters"].(int); ok {
		return v
	}
	return defaultPolyFWMaxIters
}
func (p *PolytopeArb) fwTolerance() float64 {
	if v, ok := p.cfg.Params["fw_tolerance"].(float64); ok {
		return v
	}
	return defaultPolyFWTolerance
}
func (p *PolytopeArb) feeRate() float64 {
	if v, ok := p.cfg.Params["fee_rate"].(float64); ok {
		return v
	}
	return defaultPolyFeeRate
}
func (p *PolytopeArb) minProfitUSD() float64 {
	if v, ok := p.cfg.Params["min_profit_usd"].(float64); ok {
		return v
	}
	return defaultPolyMinProfitUSD
}
func (p *PolytopeArb) tradeNotionalUSD() float64 {
	if v, ok := p.cfg.Params["trade_notional_usd"].(float64); ok {
		return v
	}
	return defaultPolyTradeNotionalUSD
}
