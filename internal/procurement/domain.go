// Package procurement owns supplier-side documents: purchase invoices
// and goods receipts. Documents carry quantities and prices in the
// unit the supplier bills in; posting converts everything to base
// units and hands the lines to the ledger writer in one batch.
package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the document lifecycle. Posted documents are immutable;
// corrections go through a new document or a manual adjustment.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPosted    Status = "POSTED"
	StatusCancelled Status = "CANCELLED"
)

// DocumentKind distinguishes the two supplier documents.
type DocumentKind string

const (
	KindPurchaseInvoice DocumentKind = "purchase_invoice"
	KindGoodsReceipt    DocumentKind = "grn"
)

// Document is a purchase invoice or goods receipt header. ID is a
// UUID so ledger rows can reference it directly.
type Document struct {
	ID         string
	CompanyID  int64
	BranchID   int64
	Kind       DocumentKind
	Number     string
	SupplierID int64
	Status     Status
	Note       string
	DocDate    time.Time
	PostedAt   time.Time
	CreatedAt  time.Time
}

// Line is one received or invoiced item. Quantity and UnitPrice are
// expressed in Unit, which must match one of the item's three tiers.
type Line struct {
	ID         int64
	DocumentID string
	ItemID     int64
	Unit       string
	Quantity   decimal.Decimal
	UnitPrice  decimal.Decimal
}

// Filter selects documents for listings.
type Filter struct {
	Kind       DocumentKind
	Status     Status
	SupplierID int64
	Limit      int
}

var (
	// ErrDocumentNotFound indicates a missing document.
	ErrDocumentNotFound = errors.New("procurement: document not found")
	// ErrInvalidState rejects a lifecycle transition the current
	// status does not allow.
	ErrInvalidState = errors.New("procurement: invalid document state")
	// ErrEmptyDocument rejects documents without lines.
	ErrEmptyDocument = errors.New("procurement: document needs at least one line")
)
