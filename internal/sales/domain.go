// Package sales owns customer-side documents: sales invoices, which
// post negative SALE deltas to the ledger with cost of goods captured
// at post time, and quotations, which never touch stock at all.
package sales

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the document lifecycle.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPosted    Status = "POSTED"
	StatusCancelled Status = "CANCELLED"
)

// DocumentKind distinguishes invoices from quotations.
type DocumentKind string

const (
	KindInvoice   DocumentKind = "sales_invoice"
	KindQuotation DocumentKind = "quotation"
)

// Document is a sales invoice or quotation header.
type Document struct {
	ID         string
	CompanyID  int64
	BranchID   int64
	Kind       DocumentKind
	Number     string
	CustomerID int64
	Status     Status
	Note       string
	DocDate    time.Time
	PostedAt   time.Time
	CreatedAt  time.Time
}

// Line is one sold or quoted item. Quantity and UnitPrice are in
// Unit; UnitCost is the resolved cost per base unit, filled at post
// time for margin reporting.
type Line struct {
	ID         int64
	DocumentID string
	ItemID     int64
	Unit       string
	Quantity   decimal.Decimal
	UnitPrice  decimal.Decimal
	UnitCost   decimal.NullDecimal
	CostSource string
}

// Filter selects documents for listings.
type Filter struct {
	Kind       DocumentKind
	Status     Status
	CustomerID int64
	Limit      int
}

var (
	// ErrDocumentNotFound indicates a missing document.
	ErrDocumentNotFound = errors.New("sales: document not found")
	// ErrInvalidState rejects a transition the status does not allow.
	ErrInvalidState = errors.New("sales: invalid document state")
	// ErrEmptyDocument rejects documents without lines.
	ErrEmptyDocument = errors.New("sales: document needs at least one line")
	// ErrInsufficientStock rejects posting when the guard is on and a
	// line would push stock negative.
	ErrInsufficientStock = errors.New("sales: insufficient stock")
	// ErrQuotationNotPostable keeps quotations off the ledger.
	ErrQuotationNotPostable = errors.New("sales: quotations cannot be posted")
)
