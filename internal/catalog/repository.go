package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/apotek-erp/apotek-erp/internal/platform/db"
)

// Repository persists items. Writes deliberately never touch the
// stored_cost and stored_price columns; they are frozen at whatever
// the legacy system left in them.
type Repository struct {
	source db.Source
}

// NewRepository constructs Repository.
func NewRepository(source db.Source) *Repository {
	return &Repository{source: source}
}

const itemColumns = `id, company_id, code, name, generic_name, barcode,
supplier_unit, wholesale_unit, retail_unit, pack_size, wholesale_units_per_supplier,
stored_cost, stored_price, active, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.CompanyID, &it.Code, &it.Name, &it.GenericName, &it.Barcode,
		&it.SupplierUnit, &it.WholesaleUnit, &it.RetailUnit, &it.PackSize, &it.WholesaleUnitsPerSupplier,
		&it.StoredCost, &it.StoredPrice, &it.Active, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return it, nil
}

// Create inserts an item. Unique (company_id, code) violations map to
// ErrDuplicateCode.
func (r *Repository) Create(ctx context.Context, it Item) (Item, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return Item{}, err
	}
	row := pool.QueryRow(ctx, `INSERT INTO items
(company_id, code, name, generic_name, barcode,
 supplier_unit, wholesale_unit, retail_unit, pack_size, wholesale_units_per_supplier, active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING `+itemColumns,
		it.CompanyID, it.Code, it.Name, it.GenericName, it.Barcode,
		it.SupplierUnit, it.WholesaleUnit, it.RetailUnit, it.PackSize, it.WholesaleUnitsPerSupplier, it.Active)
	created, err := scanItem(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Item{}, ErrDuplicateCode
		}
		return Item{}, err
	}
	return created, nil
}

// Update rewrites the mutable attributes of an item.
func (r *Repository) Update(ctx context.Context, it Item) (Item, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return Item{}, err
	}
	row := pool.QueryRow(ctx, `UPDATE items SET
name=$3, generic_name=$4, barcode=$5,
supplier_unit=$6, wholesale_unit=$7, retail_unit=$8,
pack_size=$9, wholesale_units_per_supplier=$10, active=$11, updated_at=now()
WHERE company_id=$1 AND id=$2
RETURNING `+itemColumns,
		it.CompanyID, it.ID, it.Name, it.GenericName, it.Barcode,
		it.SupplierUnit, it.WholesaleUnit, it.RetailUnit,
		it.PackSize, it.WholesaleUnitsPerSupplier, it.Active)
	return scanItem(row)
}

// Get fetches one item by id within a company.
func (r *Repository) Get(ctx context.Context, companyID, itemID int64) (Item, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return Item{}, err
	}
	row := pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE company_id=$1 AND id=$2`, companyID, itemID)
	return scanItem(row)
}

// GetByCode fetches one item by its company-unique code.
func (r *Repository) GetByCode(ctx context.Context, companyID int64, code string) (Item, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return Item{}, err
	}
	row := pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE company_id=$1 AND code=$2`, companyID, code)
	return scanItem(row)
}

// List returns items matching the filter, code order, paginated.
func (r *Repository) List(ctx context.Context, companyID int64, f Filter) ([]Item, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return nil, err
	}
	var (
		where = []string{"company_id=$1"}
		args  = []any{companyID}
	)
	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(code) LIKE $%d OR LOWER(generic_name) LIKE $%d)", n, n, n))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		where = append(where, fmt.Sprintf("active=$%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := 0
	if f.Page > 1 {
		offset = (f.Page - 1) * limit
	}
	args = append(args, limit, offset)
	sql := fmt.Sprintf(`SELECT %s FROM items WHERE %s ORDER BY code LIMIT $%d OFFSET $%d`,
		itemColumns, strings.Join(where, " AND "), len(args)-1, len(args))
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Count returns the number of items matching the filter.
func (r *Repository) Count(ctx context.Context, companyID int64, f Filter) (int, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return 0, err
	}
	var (
		where = []string{"company_id=$1"}
		args  = []any{companyID}
	)
	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(code) LIKE $%d OR LOWER(generic_name) LIKE $%d)", n, n, n))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		where = append(where, fmt.Sprintf("active=$%d", len(args)))
	}
	var total int
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM items WHERE `+strings.Join(where, " AND "), args...).Scan(&total)
	return total, err
}
