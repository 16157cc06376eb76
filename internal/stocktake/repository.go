package stocktake

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/platform/db"
)

// Repository persists sheets and reads branch balances for sheet
// generation.
type Repository struct {
	source db.Source
}

// NewRepository constructs Repository.
func NewRepository(source db.Source) *Repository {
	return &Repository{source: source}
}

// BranchBalances returns the current balance rows of one branch,
// the raw material for a new sheet.
func (r *Repository) BranchBalances(ctx context.Context, companyID, branchID int64) (map[int64]decimal.Decimal, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `SELECT item_id, current_stock
FROM inventory_balances WHERE company_id=$1 AND branch_id=$2`, companyID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var itemID int64
		var stock decimal.Decimal
		if err := rows.Scan(&itemID, &stock); err != nil {
			return nil, err
		}
		out[itemID] = stock
	}
	return out, rows.Err()
}

// CreateSheet stores header and lines in one transaction.
func (r *Repository) CreateSheet(ctx context.Context, sheet Sheet, lines []SheetLine) (Sheet, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return Sheet{}, err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return Sheet{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `INSERT INTO stock_take_sheets
(id, company_id, branch_id, number, status, note)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at`,
		sheet.ID, sheet.CompanyID, sheet.BranchID, sheet.Number, string(sheet.Status), sheet.Note).
		Scan(&sheet.CreatedAt)
	if err != nil {
		return Sheet{}, err
	}
	for _, line := range lines {
		_, err := tx.Exec(ctx, `INSERT INTO stock_take_lines (sheet_id, item_id, system_qty)
VALUES ($1,$2,$3)`, sheet.ID, line.ItemID, line.SystemQty)
		if err != nil {
			return Sheet{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Sheet{}, err
	}
	return sheet, nil
}

// GetSheet loads one sheet with its lines.
func (r *Repository) GetSheet(ctx context.Context, companyID int64, id string) (Sheet, []SheetLine, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return Sheet{}, nil, err
	}
	var sheet Sheet
	var status string
	var postedAt *time.Time
	err = pool.QueryRow(ctx, `SELECT id, company_id, branch_id, number, status, note, posted_at, created_at
FROM stock_take_sheets WHERE company_id=$1 AND id=$2`, companyID, id).
		Scan(&sheet.ID, &sheet.CompanyID, &sheet.BranchID, &sheet.Number, &status, &sheet.Note, &postedAt, &sheet.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sheet{}, nil, ErrSheetNotFound
		}
		return Sheet{}, nil, err
	}
	sheet.Status = Status(status)
	if postedAt != nil {
		sheet.PostedAt = *postedAt
	}

	rows, err := pool.Query(ctx, `SELECT id, sheet_id, item_id, system_qty, counted_qty
FROM stock_take_lines WHERE sheet_id=$1 ORDER BY item_id`, id)
	if err != nil {
		return Sheet{}, nil, err
	}
	defer rows.Close()
	var lines []SheetLine
	for rows.Next() {
		var l SheetLine
		if err := rows.Scan(&l.ID, &l.SheetID, &l.ItemID, &l.SystemQty, &l.CountedQty); err != nil {
			return Sheet{}, nil, err
		}
		lines = append(lines, l)
	}
	return sheet, lines, rows.Err()
}

// RecordCount sets the counted quantity of one line on an open sheet.
func (r *Repository) RecordCount(ctx context.Context, companyID int64, sheetID string, itemID int64, counted decimal.Decimal) error {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, `UPDATE stock_take_lines l
SET counted_qty=$4
FROM stock_take_sheets s
WHERE l.sheet_id=s.id AND s.company_id=$1 AND s.status='OPEN' AND l.sheet_id=$2 AND l.item_id=$3`,
		companyID, sheetID, itemID, counted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// ClaimForPosting flips OPEN to POSTED conditionally.
func (r *Repository) ClaimForPosting(ctx context.Context, companyID int64, id string) error {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, `UPDATE stock_take_sheets
SET status='POSTED', posted_at=NOW()
WHERE company_id=$1 AND id=$2 AND status='OPEN'`, companyID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Reopen puts a claimed sheet back to OPEN after a failed post.
func (r *Repository) Reopen(ctx context.Context, companyID int64, id string) error {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `UPDATE stock_take_sheets
SET status='OPEN', posted_at=NULL
WHERE company_id=$1 AND id=$2 AND status='POSTED'`, companyID, id)
	return err
}

// Cancel transitions OPEN to CANCELLED.
func (r *Repository) Cancel(ctx context.Context, companyID int64, id string) error {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, `UPDATE stock_take_sheets
SET status='CANCELLED'
WHERE company_id=$1 AND id=$2 AND status='OPEN'`, companyID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}
