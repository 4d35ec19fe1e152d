package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieranvoss/marginal-arb/internal/domain"
)

type fakeDependencyStore struct {
	deps []domain.MarketDependency
}

func (f *fakeDependencyStore) Create(context.Context, domain.MarketDependency) error { return nil }
func (f *fakeDependencyStore) ListByGroup(_ context.Context, groupID string) ([]domain.MarketDependency, error) {
	var out []domain.MarketDependency
	for _, d := range f.deps {
		if d.GroupID == groupID {
			out = append(out, d)
		}
	}
	return out, nil
}
func (f *fakeDependencyStore) List(context.Context) ([]domain.MarketDependency, error) {
	return f.deps, nil
}

type fakeMarketStore struct {
	byID map[string]domain.Market
}

func (f *fakeMarketStore) Upsert(context.Context, domain.Market) error      { return nil }
func (f *fakeMarketStore) UpsertBatch(context.Context, []domain.Market) error { return nil }
func (f *fakeMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	return f.byID[id], nil
}
func (f *fakeMarketStore) GetByTokenID(_ context.Context, tokenID string) (domain.Market, error) {
	for _, m := range f.byID {
		if m.TokenIDs[0] == tokenID || m.TokenIDs[1] == tokenID {
			return m, nil
		}
	}
	return domain.Market{}, nil
}
func (f *fakeMarketStore) GetBySlug(context.Context, string) (domain.Market, error) { return domain.Market{}, nil }
func (f *fakeMarketStore) ListActive(context.Context, domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}
func (f *fakeMarketStore) Count(context.Context) (int64, error) { return 0, nil }

func mustMarket(id string) domain.Market {
	return domain.Market{ID: id, TokenIDs: [2]string{id + "-yes", id + "-no"}}
}

func newTestPolytopeArb(t *testing.T, deps []domain.MarketDependency, markets map[string]domain.Market) *PolytopeArb {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPolytopeArb(
		Config{Name: "test", Params: map[string]any{
			// Loosened relative to production defaults so the test exercises
			// wiring (does a real mispricing reach a signal?) rather than
			// asserting an exact Frank-Wolfe profit magnitude.
			"min_profit_usd": 0.01,
			"fee_rate":       0.0,
		}},
		NewPriceTracker(nil, time.Minute),
		&fakeDependencyStore{deps: deps},
		&fakeMarketStore{byID: markets},
		logger,
	)
	require.NoError(t, p.Init(context.Background()))
	return p
}

func bookSnapshot(assetID string, mid float64) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		AssetID:  assetID,
		Bids:     []domain.PriceLevel{{Price: mid - 0.01, Size: 1000}},
		Asks:     []domain.PriceLevel{{Price: mid + 0.01, Size: 1000}},
		BestBid:  mid - 0.01,
		BestAsk:  mid + 0.01,
		MidPrice: mid,
	}
}

// Two mutually exclusive markets quoted to sum well above 1 should surface a
// profitable sell-both opportunity once both books are fresh.
func TestPolytopeArb_MutexMispricingEmitsSignalsForBothLegs(t *testing.T) {
	deps := []domain.MarketDependency{
		{GroupID: "g1", MarketAID: "m1", MarketBID: "m2", Relation: domain.DependencyMutex},
	}
	markets := map[string]domain.Market{"m1": mustMarket("m1"), "m2": mustMarket("m2")}
	p := newTestPolytopeArb(t, deps, markets)

	ctx := context.Background()
	signals, err := p.OnBookUpdate(ctx, bookSnapshot("m1-yes", 0.7))
	require.NoError(t, err)
	assert.Empty(t, signals, "first leg alone should not fire — second leg is stale")

	signals, err = p.OnBookUpdate(ctx, bookSnapshot("m2-yes", 0.6))
	require.NoError(t, err)
	require.NotEmpty(t, signals, "mutex violation 0.7+0.6=1.3 should be profitable enough to emit")
	for _, s := range signals {
		assert.Equal(t, string(domain.ArbTypePolytope), s.Metadata["arb_type"])
		assert.NotEmpty(t, s.Metadata["leg_group_id"])
		assert.Equal(t, string(domain.LegPolicyAllOrNone), s.Metadata["leg_policy"])
	}
}

// A feasible pair of prices should never emit — there is no edge to project.
func TestPolytopeArb_FeasiblePricesEmitNothing(t *testing.T) {
	deps := []domain.MarketDependency{
		{GroupID: "g1", MarketAID: "m1", MarketBID: "m2", Relation: domain.DependencyMutex},
	}
	markets := map[string]domain.Market{"m1": mustMarket("m1"), "m2": mustMarket("m2")}
	p := newTestPolytopeArb(t, deps, markets)

	ctx := context.Background()
	_, _ = p.OnBookUpdate(ctx, bookSnapshot("m1-yes", 0.3))
	signals, err := p.OnBookUpdate(ctx, bookSnapshot("m2-yes", 0.3))
	require.NoError(t, err)
	assert.Empty(t, signals)
}

// An asset with no dependency-linked market is ignored entirely.
func TestPolytopeArb_UnknownAssetIgnored(t *testing.T) {
	deps := []domain.MarketDependency{
		{GroupID: "g1", MarketAID: "m1", MarketBID: "m2", Relation: domain.DependencyMutex},
	}
	markets := map[string]domain.Market{"m1": mustMarket("m1"), "m2": mustMarket("m2")}
	p := newTestPolytopeArb(t, deps, markets)

	signals, err := p.OnBookUpdate(context.Background(), bookSnapshot("unrelated-token", 0.5))
	require.NoError(t, err)
	assert.Empty(t, signals)
}
