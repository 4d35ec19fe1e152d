package domain

import (
	"context"
	"time"
)

// DependencyRelation is the logical relation between two markets in a
// dependency group, following the marginal-polytope's four-valued relation
// algebra. It is distinct from RelationType, which relates condition groups
// rather than individual markets.
type DependencyRelation string

const (
	DependencyIndependent DependencyRelation = "independent"
	DependencyImplies     DependencyRelation = "implies"
	DependencyMutex       DependencyRelation = "mutex"
	DependencyExactlyOne  DependencyRelation = "exactly_one"
)

// MarketDependency links two markets within a group by a DependencyRelation.
// A group's dependencies, taken together, define the constraint rows of the
// marginal polytope the polytope_arb strategy projects onto.
type MarketDependency struct {
	ID        string
	GroupID   string
	MarketAID string
	MarketBID string
	Relation  DependencyRelation
	CreatedAt time.Time
}

// MarketDependencyStore persists market dependencies within condition groups.
type MarketDependencyStore interface {
	Create(ctx context.Context, d MarketDependency) error
	ListByGroup(ctx context.Context, groupID string) ([]MarketDependency, error)
	List(ctx context.Context) ([]MarketDependency, error)
}
