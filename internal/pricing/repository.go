package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/platform/db"
)

// Repository aggregates cost figures directly over the ledger table.
type Repository struct {
	source db.Source
}

// NewRepository constructs Repository.
func NewRepository(source db.Source) *Repository {
	return &Repository{source: source}
}

func (r *Repository) LastPurchaseCost(ctx context.Context, companyID, branchID, itemID int64) (decimal.Decimal, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var cost decimal.Decimal
	err = pool.QueryRow(ctx, `SELECT unit_cost FROM inventory_ledger
WHERE company_id=$1 AND ($2::bigint = 0 OR branch_id=$2) AND item_id=$3
  AND transaction_type='PURCHASE' AND unit_cost IS NOT NULL
ORDER BY created_at DESC, id DESC
LIMIT 1`, companyID, branchID, itemID).Scan(&cost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, ErrNoCost
		}
		return decimal.Decimal{}, err
	}
	return cost, nil
}

func (r *Repository) OpeningBalanceCost(ctx context.Context, companyID, branchID, itemID int64) (decimal.Decimal, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var cost decimal.Decimal
	err = pool.QueryRow(ctx, `SELECT unit_cost FROM inventory_ledger
WHERE company_id=$1 AND ($2::bigint = 0 OR branch_id=$2) AND item_id=$3
  AND transaction_type='OPENING_BALANCE' AND unit_cost IS NOT NULL
ORDER BY created_at DESC, id DESC
LIMIT 1`, companyID, branchID, itemID).Scan(&cost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, ErrNoCost
		}
		return decimal.Decimal{}, err
	}
	return cost, nil
}

// WeightedAverageCost divides total inbound cost by total inbound
// quantity; the HAVING clause is the division-by-zero guard.
func (r *Repository) WeightedAverageCost(ctx context.Context, companyID, branchID, itemID int64) (decimal.Decimal, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var cost decimal.Decimal
	err = pool.QueryRow(ctx, `SELECT SUM(quantity_delta * unit_cost) / SUM(quantity_delta)
FROM inventory_ledger
WHERE company_id=$1 AND ($2::bigint = 0 OR branch_id=$2) AND item_id=$3
  AND quantity_delta > 0 AND unit_cost IS NOT NULL
HAVING SUM(quantity_delta) > 0`, companyID, branchID, itemID).Scan(&cost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, ErrNoCost
		}
		return decimal.Decimal{}, err
	}
	return cost, nil
}

func (r *Repository) LastPurchaseCosts(ctx context.Context, companyID, branchID int64, itemIDs []int64) (map[int64]decimal.Decimal, error) {
	return r.queryCosts(ctx, `SELECT DISTINCT ON (item_id) item_id, unit_cost
FROM inventory_ledger
WHERE company_id=$1 AND ($2::bigint = 0 OR branch_id=$2) AND item_id = ANY($3)
  AND transaction_type='PURCHASE' AND unit_cost IS NOT NULL
ORDER BY item_id, created_at DESC, id DESC`, companyID, branchID, itemIDs)
}

func (r *Repository) OpeningBalanceCosts(ctx context.Context, companyID, branchID int64, itemIDs []int64) (map[int64]decimal.Decimal, error) {
	return r.queryCosts(ctx, `SELECT DISTINCT ON (item_id) item_id, unit_cost
FROM inventory_ledger
WHERE company_id=$1 AND ($2::bigint = 0 OR branch_id=$2) AND item_id = ANY($3)
  AND transaction_type='OPENING_BALANCE' AND unit_cost IS NOT NULL
ORDER BY item_id, created_at DESC, id DESC`, companyID, branchID, itemIDs)
}

func (r *Repository) WeightedAverageCosts(ctx context.Context, companyID, branchID int64, itemIDs []int64) (map[int64]decimal.Decimal, error) {
	return r.queryCosts(ctx, `SELECT item_id, SUM(quantity_delta * unit_cost) / SUM(quantity_delta)
FROM inventory_ledger
WHERE company_id=$1 AND ($2::bigint = 0 OR branch_id=$2) AND item_id = ANY($3)
  AND quantity_delta > 0 AND unit_cost IS NOT NULL
GROUP BY item_id
HAVING SUM(quantity_delta) > 0`, companyID, branchID, itemIDs)
}

func (r *Repository) queryCosts(ctx context.Context, sql string, companyID, branchID int64, itemIDs []int64) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, sql, companyID, branchID, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var itemID int64
		var cost decimal.Decimal
		if err := rows.Scan(&itemID, &cost); err != nil {
			return nil, err
		}
		out[itemID] = cost
	}
	return out, rows.Err()
}
