package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kieranvoss/marginal-arb/internal/domain"
)

// MarketDependencyStore implements domain.MarketDependencyStore using PostgreSQL.
type MarketDependencyStore struct {
	pool *pgxpool.Pool
}

// NewMarketDependencyStore creates a new MarketDependencyStore.
func NewMarketDependencyStore(pool *pgxpool.Pool) *MarketDependencyStore {
	return &MarketDependencyStore{pool: pool}
}

// Create inserts a new market dependency.
func (s *MarketDependencyStore) Create(ctx context.Context, d domain.MarketDependency) error {
	const query = `
		INSERT INTO market_dependencies (id, group_id, market_a_id, market_b_id, relation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, query,
		d.ID, d.GroupID, d.MarketAID, d.MarketBID, string(d.Relation), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market_dependency %s: %w", d.ID, err)
	}
	return nil
}

// ListByGroup returns dependencies declared within a condition group.
func (s *MarketDependencyStore) ListByGroup(ctx context.Context, groupID string) ([]domain.MarketDependency, error) {
	const query = `SELECT id, group_id, market_a_id, market_b_id, relation, created_at FROM market_dependencies WHERE group_id = $1`
	return s.queryDependencies(ctx, query, groupID)
}

// List returns all market dependencies.
func (s *MarketDependencyStore) List(ctx context.Context) ([]domain.MarketDependency, error) {
	const query = `SELECT id, group_id, market_a_id, market_b_id, relation, created_at FROM market_dependencies ORDER BY id`
	return s.queryDependencies(ctx, query)
}

func (s *MarketDependencyStore) queryDependencies(ctx context.Context, query string, args ...any) ([]domain.MarketDependency, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []domain.MarketDependency
	for rows.Next() {
		var d domain.MarketDependency
		var relation string
		if err := rows.Scan(&d.ID, &d.GroupID, &d.MarketAID, &d.MarketBID, &relation, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Relation = domain.DependencyRelation(relation)
		list = append(list, d)
	}
	return list, rows.Err()
}
