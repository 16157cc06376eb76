package reconcile

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/platform/db"
)

// BalancePair is one (branch, item) key with the ledger-derived stock
// next to the cached stock.
type BalancePair struct {
	BranchID     int64
	ItemID       int64
	LedgerStock  decimal.Decimal
	CachedStock  decimal.Decimal
	RowMissing   bool
}

// SnapshotPair is one (branch, item) key with the latest purchase per
// the ledger next to the cached snapshot.
type SnapshotPair struct {
	BranchID      int64
	ItemID        int64
	LedgerPrice   decimal.Decimal
	CachedPrice   decimal.Decimal
	RowMissing    bool
}

// Repository reads comparison pairs and performs backfills. Reads run
// inside a repeatable-read transaction so both sides of a comparison
// see the same point in time.
type Repository struct {
	source db.Source
}

// NewRepository constructs Repository.
func NewRepository(source db.Source) *Repository {
	return &Repository{source: source}
}

func (r *Repository) withReadTx(ctx context.Context, fn func(pgx.Tx) error) error {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return err
	}
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// BalancePairs returns every key where either side has data. Keys on
// neither side obviously cannot drift.
func (r *Repository) BalancePairs(ctx context.Context, companyID int64) ([]BalancePair, error) {
	var out []BalancePair
	err := r.withReadTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT branch_id, item_id,
COALESCE(l.total, 0), COALESCE(b.current_stock, 0), b.current_stock IS NULL
FROM (SELECT branch_id, item_id, SUM(quantity_delta) AS total
      FROM inventory_ledger WHERE company_id=$1 GROUP BY branch_id, item_id) l
FULL OUTER JOIN (SELECT branch_id, item_id, current_stock
      FROM inventory_balances WHERE company_id=$1) b USING (branch_id, item_id)`, companyID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p BalancePair
			if err := rows.Scan(&p.BranchID, &p.ItemID, &p.LedgerStock, &p.CachedStock, &p.RowMissing); err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

// SnapshotPairs compares the latest PURCHASE row per key against the
// purchase snapshot table.
func (r *Repository) SnapshotPairs(ctx context.Context, companyID int64) ([]SnapshotPair, error) {
	var out []SnapshotPair
	err := r.withReadTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT branch_id, item_id,
COALESCE(l.unit_cost, 0), COALESCE(s.last_purchase_price, 0), s.last_purchase_price IS NULL
FROM (SELECT DISTINCT ON (branch_id, item_id) branch_id, item_id, unit_cost
      FROM inventory_ledger
      WHERE company_id=$1 AND transaction_type='PURCHASE' AND unit_cost IS NOT NULL
      ORDER BY branch_id, item_id, created_at DESC, id DESC) l
LEFT JOIN (SELECT branch_id, item_id, last_purchase_price
      FROM item_branch_purchase_snapshot WHERE company_id=$1) s USING (branch_id, item_id)`, companyID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p SnapshotPair
			if err := rows.Scan(&p.BranchID, &p.ItemID, &p.LedgerPrice, &p.CachedPrice, &p.RowMissing); err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

// BackfillBalances inserts balance rows for keys the ledger knows but
// the balance table does not. Existing rows are left untouched; drift
// on present rows is reported, never silently repaired.
func (r *Repository) BackfillBalances(ctx context.Context, companyID int64) (int64, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, `INSERT INTO inventory_balances (company_id, branch_id, item_id, current_stock, updated_at)
SELECT $1, branch_id, item_id, SUM(quantity_delta), NOW()
FROM inventory_ledger WHERE company_id=$1
GROUP BY branch_id, item_id
ON CONFLICT (item_id, branch_id) DO NOTHING`, companyID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// BackfillSnapshots inserts purchase snapshots for keys with purchase
// history but no snapshot row.
func (r *Repository) BackfillSnapshots(ctx context.Context, companyID int64) (int64, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, `INSERT INTO item_branch_purchase_snapshot (company_id, branch_id, item_id, last_purchase_price, last_purchase_date, updated_at)
SELECT DISTINCT ON (branch_id, item_id) $1, branch_id, item_id, unit_cost, created_at, NOW()
FROM inventory_ledger
WHERE company_id=$1 AND transaction_type='PURCHASE' AND unit_cost IS NOT NULL
ORDER BY branch_id, item_id, created_at DESC, id DESC
ON CONFLICT (item_id, branch_id) DO NOTHING`, companyID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
