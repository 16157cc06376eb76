package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/apotek-erp/apotek-erp/internal/platform/db"
)

// Repository persists sales documents on the tenant's database.
type Repository struct {
	source db.Source
}

// NewRepository constructs Repository.
func NewRepository(source db.Source) *Repository {
	return &Repository{source: source}
}

// Create stores header and lines in one transaction.
func (r *Repository) Create(ctx context.Context, doc Document, lines []Line) (Document, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return Document{}, err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return Document{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `INSERT INTO sales_documents
(id, company_id, branch_id, kind, number, customer_id, status, note, doc_date)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING created_at`,
		doc.ID, doc.CompanyID, doc.BranchID, string(doc.Kind), doc.Number,
		doc.CustomerID, string(doc.Status), doc.Note, doc.DocDate).Scan(&doc.CreatedAt)
	if err != nil {
		return Document{}, err
	}
	for _, line := range lines {
		_, err := tx.Exec(ctx, `INSERT INTO sales_document_lines
(document_id, item_id, unit, quantity, unit_price)
VALUES ($1,$2,$3,$4,$5)`,
			doc.ID, line.ItemID, line.Unit, line.Quantity, line.UnitPrice)
		if err != nil {
			return Document{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Get loads one document with its lines.
func (r *Repository) Get(ctx context.Context, companyID int64, id string) (Document, []Line, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return Document{}, nil, err
	}
	var doc Document
	var kind, status string
	var postedAt *time.Time
	err = pool.QueryRow(ctx, `SELECT id, company_id, branch_id, kind, number, customer_id, status, note, doc_date, posted_at, created_at
FROM sales_documents WHERE company_id=$1 AND id=$2`, companyID, id).
		Scan(&doc.ID, &doc.CompanyID, &doc.BranchID, &kind, &doc.Number, &doc.CustomerID, &status, &doc.Note, &doc.DocDate, &postedAt, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, nil, ErrDocumentNotFound
		}
		return Document{}, nil, err
	}
	doc.Kind = DocumentKind(kind)
	doc.Status = Status(status)
	if postedAt != nil {
		doc.PostedAt = *postedAt
	}

	rows, err := pool.Query(ctx, `SELECT id, document_id, item_id, unit, quantity, unit_price, unit_cost, COALESCE(cost_source, '')
FROM sales_document_lines WHERE document_id=$1 ORDER BY id`, id)
	if err != nil {
		return Document{}, nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.ItemID, &l.Unit, &l.Quantity, &l.UnitPrice, &l.UnitCost, &l.CostSource); err != nil {
			return Document{}, nil, err
		}
		lines = append(lines, l)
	}
	return doc, lines, rows.Err()
}

// List returns document headers matching the filter, newest first.
func (r *Repository) List(ctx context.Context, companyID int64, f Filter) ([]Document, error) {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return nil, err
	}
	where := []string{"company_id=$1"}
	args := []any{companyID}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		where = append(where, fmt.Sprintf("kind=$%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.CustomerID != 0 {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id=$%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	sql := fmt.Sprintf(`SELECT id, company_id, branch_id, kind, number, customer_id, status, note, doc_date, posted_at, created_at
FROM sales_documents WHERE %s ORDER BY created_at DESC LIMIT $%d`, strings.Join(where, " AND "), len(args))
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var doc Document
		var kind, status string
		var postedAt *time.Time
		if err := rows.Scan(&doc.ID, &doc.CompanyID, &doc.BranchID, &kind, &doc.Number, &doc.CustomerID, &status, &doc.Note, &doc.DocDate, &postedAt, &doc.CreatedAt); err != nil {
			return nil, err
		}
		doc.Kind = DocumentKind(kind)
		doc.Status = Status(status)
		if postedAt != nil {
			doc.PostedAt = *postedAt
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// ClaimForPosting flips DRAFT to POSTED conditionally.
func (r *Repository) ClaimForPosting(ctx context.Context, companyID int64, id string) error {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, `UPDATE sales_documents
SET status='POSTED', posted_at=NOW()
WHERE company_id=$1 AND id=$2 AND status='DRAFT'`, companyID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Reopen puts a claimed document back to DRAFT after a failed post.
func (r *Repository) Reopen(ctx context.Context, companyID int64, id string) error {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `UPDATE sales_documents
SET status='DRAFT', posted_at=NULL
WHERE company_id=$1 AND id=$2 AND status='POSTED'`, companyID, id)
	return err
}

// Cancel transitions DRAFT to CANCELLED.
func (r *Repository) Cancel(ctx context.Context, companyID int64, id string) error {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, `UPDATE sales_documents
SET status='CANCELLED'
WHERE company_id=$1 AND id=$2 AND status='DRAFT'`, companyID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// RecordLineCosts stores the resolved cost per base unit on each line
// after a successful post.
func (r *Repository) RecordLineCosts(ctx context.Context, id string, lines []Line) error {
	pool, err := r.source.Pool(ctx)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(`UPDATE sales_document_lines SET unit_cost=$2, cost_source=$3 WHERE id=$1`,
			l.ID, l.UnitCost, l.CostSource)
	}
	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range lines {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
