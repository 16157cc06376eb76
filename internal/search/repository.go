package search

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/platform/db"
)

// StockFacts is what the snapshot tables know about one item at a
// branch: current stock plus the latest purchase, when one exists.
type StockFacts struct {
	CurrentStock      decimal.Decimal
	HasSnapshot       bool
	LastPurchasePrice decimal.Decimal
	LastPurchaseDate  time.Time
	LastSupplierID    int64
}

// Repository reads the derived tables. Both lookups travel in one
// batch round trip; branch id zero widens to the whole company.
type Repository struct {
	source db.Source
}

// NewRepository constructs Repository.
func NewRepository(source db.Source) *Repository {
	return &Repository{source: source}
}

// StockFor returns balance and purchase-snapshot facts for a set of
// items. Items without rows are simply absent from the map; callers
// treat absence as zero stock and fall back to the cost resolver.
func (r *Repository) StockFor(ctx context.Context, companyID, branchID int64, itemIDs []int64) (map[int64]StockFacts, error) {
	out := make(map[int64]StockFacts, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return nil, err
	}
	batch := &pgx.Batch{}
	batch.Queue(`SELECT item_id, SUM(current_stock)
FROM inventory_balances
WHERE company_id=$1 AND ($2::bigint = 0 OR branch_id=$2) AND item_id = ANY($3)
GROUP BY item_id`, companyID, branchID, itemIDs)
	batch.Queue(`SELECT DISTINCT ON (item_id) item_id, last_purchase_price, last_purchase_date, last_supplier_id
FROM item_branch_purchase_snapshot
WHERE company_id=$1 AND ($2::bigint = 0 OR branch_id=$2) AND item_id = ANY($3)
ORDER BY item_id, last_purchase_date DESC`, companyID, branchID, itemIDs)

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	rows, err := results.Query()
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var itemID int64
		var stock decimal.Decimal
		if err := rows.Scan(&itemID, &stock); err != nil {
			rows.Close()
			return nil, err
		}
		out[itemID] = StockFacts{CurrentStock: stock}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = results.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			itemID     int64
			price      decimal.Decimal
			date       time.Time
			supplierID *int64
		)
		// last_supplier_id is NULL on backfilled rows and purchases
		// without a supplier.
		if err := rows.Scan(&itemID, &price, &date, &supplierID); err != nil {
			return nil, err
		}
		facts := out[itemID]
		facts.HasSnapshot = true
		facts.LastPurchasePrice = price
		facts.LastPurchaseDate = date
		if supplierID != nil {
			facts.LastSupplierID = *supplierID
		}
		out[itemID] = facts
	}
	return out, rows.Err()
}
