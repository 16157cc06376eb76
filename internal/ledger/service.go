package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the writer.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, companyID int64, filter Filter) ([]Entry, error)
	GetBalance(ctx context.Context, companyID, branchID, itemID int64) (Balance, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheBumper invalidates read-path caches after a commit.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// MetricsPort counts ledger appends per transaction type.
type MetricsPort interface {
	LedgerAppended(txType string)
}

// Writer is the only legitimate writer of quantity and cost facts.
// Document services (procurement, sales, stock take, import) call it
// once per affected (item, branch) line; the matching snapshot
// updates happen inside the same transaction, fail-closed.
type Writer struct {
	repo    RepositoryPort
	audit   AuditPort
	bump    CacheBumper
	metrics MetricsPort
}

// NewWriter builds Writer. audit, bump and metrics may be nil.
func NewWriter(repo RepositoryPort, audit AuditPort, bump CacheBumper, metrics MetricsPort) *Writer {
	return &Writer{repo: repo, audit: audit, bump: bump, metrics: metrics}
}

// AppendInput describes one ledger append. QuantityDelta is signed
// and already in base units; the caller owns the sign convention per
// transaction type. UnitCost is cost per base unit, required for
// PURCHASE and OPENING_BALANCE.
type AppendInput struct {
	CompanyID     int64
	BranchID      int64
	ItemID        int64
	Type          TransactionType
	QuantityDelta decimal.Decimal
	UnitCost      decimal.NullDecimal
	ReferenceType ReferenceType
	ReferenceID   string
	SupplierID    int64
	ActorID       int64
}

func (in AppendInput) validate() error {
	if in.CompanyID == 0 || in.BranchID == 0 || in.ItemID == 0 {
		return shared.Validationf("company, branch and item are required")
	}
	if !in.Type.Valid() {
		return ErrInvalidTransactionType
	}
	if in.QuantityDelta.IsZero() {
		return ErrInvalidQuantity
	}
	switch in.Type {
	case TransactionPurchase, TransactionOpeningBalance:
		if !in.UnitCost.Valid {
			return ErrMissingUnitCost
		}
	}
	if in.ReferenceID != "" {
		if _, err := uuid.Parse(in.ReferenceID); err != nil {
			return shared.Validationf("reference id must be a uuid")
		}
	}
	return nil
}

// Append writes one ledger entry and its snapshot deltas atomically.
func (w *Writer) Append(ctx context.Context, in AppendInput) (Entry, error) {
	if err := in.validate(); err != nil {
		return Entry{}, err
	}
	var out Entry
	err := w.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = w.applyLine(ctx, tx, in)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	w.afterCommit(ctx, []Entry{out}, in.ActorID)
	return out, nil
}

// AppendBatch writes every line of one document in a single
// transaction, preserving line order. When a purchase batch contains
// the same item twice, the later line overwrites the purchase
// snapshot: last occurrence in batch order wins, deliberately.
func (w *Writer) AppendBatch(ctx context.Context, lines []AppendInput) ([]Entry, error) {
	if len(lines) == 0 {
		return nil, shared.Validationf("at least one line required")
	}
	for i, in := range lines {
		if err := in.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	out := make([]Entry, 0, len(lines))
	err := w.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i, in := range lines {
			entry, err := w.applyLine(ctx, tx, in)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	w.afterCommit(ctx, out, lines[0].ActorID)
	return out, nil
}

// applyLine inserts the entry, increments the balance snapshot and,
// for purchases, overwrites the purchase snapshot. Same transaction,
// so a snapshot failure rolls back the ledger row too.
func (w *Writer) applyLine(ctx context.Context, tx TxRepository, in AppendInput) (Entry, error) {
	entry, err := tx.InsertEntry(ctx, Entry{
		CompanyID:     in.CompanyID,
		BranchID:      in.BranchID,
		ItemID:        in.ItemID,
		Type:          in.Type,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		QuantityDelta: in.QuantityDelta,
		UnitCost:      in.UnitCost,
	})
	if err != nil {
		return Entry{}, err
	}
	if err := tx.AddToBalance(ctx, in.CompanyID, in.BranchID, in.ItemID, in.QuantityDelta); err != nil {
		return Entry{}, err
	}
	if in.Type == TransactionPurchase {
		err := tx.OverwritePurchaseSnapshot(ctx, PurchaseSnapshot{
			CompanyID:         in.CompanyID,
			BranchID:          in.BranchID,
			ItemID:            in.ItemID,
			LastPurchasePrice: in.UnitCost.Decimal,
			LastPurchaseDate:  entry.CreatedAt,
			LastSupplierID:    in.SupplierID,
		})
		if err != nil {
			return Entry{}, err
		}
	}
	return entry, nil
}

// OpeningBalanceInput seeds or corrects the initial stock of an item.
type OpeningBalanceInput struct {
	CompanyID   int64
	BranchID    int64
	ItemID      int64
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	ReferenceID string
	ActorID     int64
}

// RecordOpeningBalance writes the opening balance for a key,
// idempotently: a second call with no intervening real transactions
// updates the existing OPENING_BALANCE row in place and applies the
// quantity difference to the balance snapshot. Once any PURCHASE,
// SALE or ADJUSTMENT row exists for the key the call is rejected with
// ErrOpeningBalanceLocked.
func (w *Writer) RecordOpeningBalance(ctx context.Context, in OpeningBalanceInput) (Entry, error) {
	if in.CompanyID == 0 || in.BranchID == 0 || in.ItemID == 0 {
		return Entry{}, shared.Validationf("company, branch and item are required")
	}
	if in.Quantity.IsNegative() {
		return Entry{}, shared.Validationf("opening quantity must not be negative")
	}
	if in.UnitCost.IsNegative() {
		return Entry{}, shared.Validationf("opening unit cost must not be negative")
	}
	var out Entry
	err := w.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, _, err = w.applyOpeningBalance(ctx, tx, in)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	w.afterCommit(ctx, []Entry{out}, in.ActorID)
	return out, nil
}

// BulkResult summarises a bulk opening-balance run.
type BulkResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// RecordOpeningBalanceBulk applies many opening-balance rows in one
// transaction. Each row keeps the per-key idempotency rule and drives
// its own snapshot delta; any failing row rolls back the whole batch.
func (w *Writer) RecordOpeningBalanceBulk(ctx context.Context, rows []OpeningBalanceInput) (BulkResult, error) {
	if len(rows) == 0 {
		return BulkResult{}, shared.Validationf("at least one row required")
	}
	var res BulkResult
	var entries []Entry
	err := w.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i, in := range rows {
			if in.CompanyID == 0 || in.BranchID == 0 || in.ItemID == 0 {
				return fmt.Errorf("row %d: %w", i+1, shared.Validationf("company, branch and item are required"))
			}
			entry, updated, err := w.applyOpeningBalance(ctx, tx, in)
			if err != nil {
				return fmt.Errorf("row %d: %w", i+1, err)
			}
			entries = append(entries, entry)
			if updated {
				res.Updated++
			} else {
				res.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return BulkResult{}, err
	}
	var actor int64
	if len(rows) > 0 {
		actor = rows[0].ActorID
	}
	w.afterCommit(ctx, entries, actor)
	return res, nil
}

func (w *Writer) applyOpeningBalance(ctx context.Context, tx TxRepository, in OpeningBalanceInput) (Entry, bool, error) {
	hasActivity, err := tx.HasNonOpeningActivity(ctx, in.CompanyID, in.BranchID, in.ItemID)
	if err != nil {
		return Entry{}, false, err
	}
	if hasActivity {
		return Entry{}, false, ErrOpeningBalanceLocked
	}
	existing, err := tx.GetOpeningBalance(ctx, in.CompanyID, in.BranchID, in.ItemID)
	switch {
	case err == nil:
		// Correct in place; the balance snapshot gets the difference,
		// never a full recompute.
		if err := tx.UpdateOpeningBalance(ctx, existing.ID, in.Quantity, in.UnitCost); err != nil {
			return Entry{}, false, err
		}
		delta := in.Quantity.Sub(existing.QuantityDelta)
		if !delta.IsZero() {
			if err := tx.AddToBalance(ctx, in.CompanyID, in.BranchID, in.ItemID, delta); err != nil {
				return Entry{}, false, err
			}
		}
		existing.QuantityDelta = in.Quantity
		existing.UnitCost = decimal.NewNullDecimal(in.UnitCost)
		return existing, true, nil
	case errors.Is(err, ErrEntryNotFound):
		entry, err := tx.InsertEntry(ctx, Entry{
			CompanyID:     in.CompanyID,
			BranchID:      in.BranchID,
			ItemID:        in.ItemID,
			Type:          TransactionOpeningBalance,
			ReferenceType: ReferenceOpeningBalance,
			ReferenceID:   in.ReferenceID,
			QuantityDelta: in.Quantity,
			UnitCost:      decimal.NewNullDecimal(in.UnitCost),
		})
		if err != nil {
			return Entry{}, false, err
		}
		if err := tx.AddToBalance(ctx, in.CompanyID, in.BranchID, in.ItemID, in.Quantity); err != nil {
			return Entry{}, false, err
		}
		return entry, false, nil
	default:
		return Entry{}, false, err
	}
}

// List returns ledger entries for display, newest first.
func (w *Writer) List(ctx context.Context, companyID int64, filter Filter) ([]Entry, error) {
	if companyID == 0 {
		return nil, shared.Validationf("company required")
	}
	return w.repo.List(ctx, companyID, filter)
}

// GetBalance returns the cached stock for one key.
func (w *Writer) GetBalance(ctx context.Context, companyID, branchID, itemID int64) (Balance, error) {
	return w.repo.GetBalance(ctx, companyID, branchID, itemID)
}

func (w *Writer) afterCommit(ctx context.Context, entries []Entry, actorID int64) {
	if w.bump != nil {
		_ = w.bump.Bump(ctx)
	}
	for _, e := range entries {
		if w.metrics != nil {
			w.metrics.LedgerAppended(string(e.Type))
		}
		if w.audit != nil {
			_ = w.audit.Record(ctx, shared.AuditLog{
				ActorID:  actorID,
				Action:   fmt.Sprintf("ledger:%s", e.Type),
				Entity:   "inventory_ledger",
				EntityID: fmt.Sprintf("%d", e.ID),
				Meta: map[string]any{
					"branch_id": e.BranchID,
					"item_id":   e.ItemID,
					"qty_delta": e.QuantityDelta.String(),
				},
				At: time.Now().UTC(),
			})
		}
	}
}
