package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/platform/db"
)

// Repository persists the ledger and its snapshots in PostgreSQL,
// resolving the pool per tenant.
type Repository struct {
	source db.Source
}

// NewRepository constructs Repository.
func NewRepository(source db.Source) *Repository {
	return &Repository{source: source}
}

// TxRepository exposes the transactional operations used by Writer.
// A ledger insert and its snapshot upserts always run on the same
// instance, i.e. inside the same transaction.
type TxRepository interface {
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	HasNonOpeningActivity(ctx context.Context, companyID, branchID, itemID int64) (bool, error)
	GetOpeningBalance(ctx context.Context, companyID, branchID, itemID int64) (Entry, error)
	UpdateOpeningBalance(ctx context.Context, entryID int64, qty decimal.Decimal, unitCost decimal.Decimal) error
	AddToBalance(ctx context.Context, companyID, branchID, itemID int64, delta decimal.Decimal) error
	OverwritePurchaseSnapshot(ctx context.Context, snap PurchaseSnapshot) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction
// against the tenant's database.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// List returns ledger entries for a company, newest first.
func (r *Repository) List(ctx context.Context, companyID int64, filter Filter) ([]Entry, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return nil, err
	}
	sql, args := listQuery(companyID, filter)
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.BranchID, &e.ItemID, &e.Type, &e.ReferenceType, &e.ReferenceID, &e.QuantityDelta, &e.UnitCost, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// listQuery builds the listing statement, binding only the filters
// actually set so every argument carries a concrete type.
func listQuery(companyID int64, filter Filter) (string, []any) {
	where := []string{"company_id=$1"}
	args := []any{companyID}
	if filter.BranchID != 0 {
		args = append(args, filter.BranchID)
		where = append(where, fmt.Sprintf("branch_id=$%d", len(args)))
	}
	if filter.ItemID != 0 {
		args = append(args, filter.ItemID)
		where = append(where, fmt.Sprintf("item_id=$%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("transaction_type=$%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	sql := fmt.Sprintf(`SELECT id, company_id, branch_id, item_id, transaction_type, reference_type, COALESCE(reference_id::text, ''), quantity_delta, unit_cost, created_at
FROM inventory_ledger
WHERE %s
ORDER BY created_at DESC, id DESC
LIMIT $%d`, strings.Join(where, " AND "), len(args))
	return sql, args
}

// GetBalance returns the cached stock balance for one key.
func (r *Repository) GetBalance(ctx context.Context, companyID, branchID, itemID int64) (Balance, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return Balance{}, err
	}
	var b Balance
	err = pool.QueryRow(ctx, `SELECT company_id, branch_id, item_id, current_stock, updated_at
FROM inventory_balances WHERE company_id=$1 AND branch_id=$2 AND item_id=$3`, companyID, branchID, itemID).
		Scan(&b.CompanyID, &b.BranchID, &b.ItemID, &b.CurrentStock, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrEntryNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_ledger (company_id, branch_id, item_id, transaction_type, reference_type, reference_id, quantity_delta, unit_cost, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at`,
		entry.CompanyID, entry.BranchID, entry.ItemID, string(entry.Type), string(entry.ReferenceType), nullStr(entry.ReferenceID), entry.QuantityDelta, entry.UnitCost, createdAt).
		Scan(&entry.ID, &entry.CreatedAt)
	return entry, err
}

func (r *txRepository) HasNonOpeningActivity(ctx context.Context, companyID, branchID, itemID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM inventory_ledger
WHERE company_id=$1 AND branch_id=$2 AND item_id=$3 AND transaction_type <> 'OPENING_BALANCE')`,
		companyID, branchID, itemID).Scan(&exists)
	return exists, err
}

func (r *txRepository) GetOpeningBalance(ctx context.Context, companyID, branchID, itemID int64) (Entry, error) {
	var e Entry
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, branch_id, item_id, transaction_type, reference_type, COALESCE(reference_id::text, ''), quantity_delta, unit_cost, created_at
FROM inventory_ledger
WHERE company_id=$1 AND branch_id=$2 AND item_id=$3 AND transaction_type='OPENING_BALANCE'
LIMIT 1`, companyID, branchID, itemID).
		Scan(&e.ID, &e.CompanyID, &e.BranchID, &e.ItemID, &e.Type, &e.ReferenceType, &e.ReferenceID, &e.QuantityDelta, &e.UnitCost, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

// UpdateOpeningBalance is the single documented exception to the
// append-only rule.
func (r *txRepository) UpdateOpeningBalance(ctx context.Context, entryID int64, qty decimal.Decimal, unitCost decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_ledger SET quantity_delta=$2, unit_cost=$3
WHERE id=$1 AND transaction_type='OPENING_BALANCE'`, entryID, qty, unitCost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// AddToBalance applies the delta as one atomic upsert so concurrent
// writers on the same key cannot lose updates.
func (r *txRepository) AddToBalance(ctx context.Context, companyID, branchID, itemID int64, delta decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances (company_id, branch_id, item_id, current_stock, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (item_id, branch_id) DO UPDATE
SET current_stock = inventory_balances.current_stock + EXCLUDED.current_stock, updated_at = NOW()`,
		companyID, branchID, itemID, delta)
	return err
}

// OverwritePurchaseSnapshot replaces all snapshot fields
// unconditionally; batch ordering upstream decides which line wins.
func (r *txRepository) OverwritePurchaseSnapshot(ctx context.Context, snap PurchaseSnapshot) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO item_branch_purchase_snapshot (company_id, branch_id, item_id, last_purchase_price, last_purchase_date, last_supplier_id, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (item_id, branch_id) DO UPDATE
SET last_purchase_price = EXCLUDED.last_purchase_price,
    last_purchase_date = EXCLUDED.last_purchase_date,
    last_supplier_id = EXCLUDED.last_supplier_id,
    updated_at = NOW()`,
		snap.CompanyID, snap.BranchID, snap.ItemID, snap.LastPurchasePrice, snap.LastPurchaseDate, nullInt(snap.LastSupplierID))
	return err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
