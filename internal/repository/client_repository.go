package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/segyhp/microlend-ledger/internal/domain"
)

type clientRepository struct {
	db sqlx.ExtContext
}

func (r *clientRepository) Get(ctx context.Context, clientID string) (*domain.ClientAggregate, error) {
	query := `
		SELECT client_id, loans, total_debt, version, updated_at
		FROM client_aggregates
		WHERE client_id = $1
	`

	var agg domain.ClientAggregate
	if err := sqlx.GetContext(ctx, r.db, &agg, query, clientID); err != nil {
		return nil, translate(err)
	}

	return &agg, nil
}

func (r *clientRepository) Adjust(ctx context.Context, clientID string, loans int, debt decimal.Decimal) (*domain.ClientAggregate, error) {
	query := `
		INSERT INTO client_aggregates (client_id, loans, total_debt, version, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (client_id) DO UPDATE
		SET loans = client_aggregates.loans + EXCLUDED.loans,
			total_debt = client_aggregates.total_debt + EXCLUDED.total_debt,
			version = client_aggregates.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING client_id, loans, total_debt, version, updated_at
	`

	var agg domain.ClientAggregate
	if err := sqlx.GetContext(ctx, r.db, &agg, query, clientID, loans, debt, time.Now().UTC()); err != nil {
		return nil, translate(err)
	}

	return &agg, nil
}

func (r *clientRepository) Replace(ctx context.Context, agg *domain.ClientAggregate) error {
	query := `
		INSERT INTO client_aggregates (client_id, loans, total_debt, version, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (client_id) DO UPDATE
		SET loans = EXCLUDED.loans,
			total_debt = EXCLUDED.total_debt,
			version = client_aggregates.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING version
	`

	return translate(sqlx.GetContext(ctx, r.db, &agg.Version, query,
		agg.ClientID, agg.Loans, agg.TotalDebt, agg.UpdatedAt))
}

func (r *clientRepository) List(ctx context.Context) ([]*domain.ClientAggregate, error) {
	query := `
		SELECT client_id, loans, total_debt, version, updated_at
		FROM client_aggregates
		ORDER BY client_id
	`

	var aggs []*domain.ClientAggregate
	if err := sqlx.SelectContext(ctx, r.db, &aggs, query); err != nil {
		return nil, translate(err)
	}

	return aggs, nil
}
