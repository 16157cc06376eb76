// Package ledger owns the append-only inventory ledger: the single
// source of truth for stock quantity and cost history, plus the two
// derived snapshot tables kept in step with it inside the same
// database transaction.
package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	// TransactionPurchase records goods received from a supplier.
	TransactionPurchase TransactionType = "PURCHASE"
	// TransactionSale records goods sold to a customer.
	TransactionSale TransactionType = "SALE"
	// TransactionAdjustment records manual or stock-take corrections.
	TransactionAdjustment TransactionType = "ADJUSTMENT"
	// TransactionOpeningBalance records the initial stock of an item.
	TransactionOpeningBalance TransactionType = "OPENING_BALANCE"
)

// Valid reports whether the transaction type is one of the four
// supported kinds.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionPurchase, TransactionSale, TransactionAdjustment, TransactionOpeningBalance:
		return true
	}
	return false
}

// ReferenceType links an entry back to its originating document. It
// is traceability metadata only; facts are never re-derived from it.
type ReferenceType string

const (
	ReferenceGRN              ReferenceType = "grn"
	ReferencePurchaseInvoice  ReferenceType = "purchase_invoice"
	ReferenceSalesInvoice     ReferenceType = "sales_invoice"
	ReferenceStockTake        ReferenceType = "stock_take"
	ReferenceManualAdjustment ReferenceType = "manual_adjustment"
	ReferenceOpeningBalance   ReferenceType = "opening_balance"
)

// Entry is one immutable ledger row. Quantities are signed and always
// in base (wholesale) units; UnitCost is cost per base unit and only
// meaningful for stock-increasing entries.
type Entry struct {
	ID            int64
	CompanyID     int64
	BranchID      int64
	ItemID        int64
	Type          TransactionType
	ReferenceType ReferenceType
	ReferenceID   string
	QuantityDelta decimal.Decimal
	UnitCost      decimal.NullDecimal
	CreatedAt     time.Time
}

// Balance mirrors SUM(quantity_delta) per (item, branch). It is a
// cache recomputable from the ledger, never a source of truth.
type Balance struct {
	CompanyID    int64
	BranchID     int64
	ItemID       int64
	CurrentStock decimal.Decimal
	UpdatedAt    time.Time
}

// PurchaseSnapshot caches the most recent purchase facts per
// (item, branch). Within a posting batch the last occurrence of an
// item wins; ordering is the caller's responsibility.
type PurchaseSnapshot struct {
	CompanyID         int64
	BranchID          int64
	ItemID            int64
	LastPurchasePrice decimal.Decimal
	LastPurchaseDate  time.Time
	LastSupplierID    int64
	UpdatedAt         time.Time
}

// Filter selects ledger entries for listings.
type Filter struct {
	BranchID int64
	ItemID   int64
	Type     TransactionType
	From     time.Time
	To       time.Time
	Limit    int
}

var (
	// ErrInvalidQuantity indicates a zero quantity delta.
	ErrInvalidQuantity = errors.New("ledger: quantity delta must be non zero")
	// ErrMissingUnitCost indicates a purchase or opening balance without a cost.
	ErrMissingUnitCost = errors.New("ledger: unit cost required for this transaction type")
	// ErrInvalidTransactionType indicates an unsupported transaction type.
	ErrInvalidTransactionType = errors.New("ledger: invalid transaction type")
	// ErrOpeningBalanceLocked rejects opening-balance corrections once
	// the item has real transactions; callers must post an adjustment.
	ErrOpeningBalanceLocked = errors.New("ledger: item has transactions, correct via adjustment")
	// ErrEntryNotFound indicates a missing ledger row.
	ErrEntryNotFound = errors.New("ledger: entry not found")
)
