// Package stocktake turns physical counts into ledger adjustments.
// A sheet freezes the system quantities at generation time; posting
// appends one ADJUSTMENT per counted line with the delta between the
// counted and the frozen quantity.
package stocktake

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the sheet lifecycle.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusPosted    Status = "POSTED"
	StatusCancelled Status = "CANCELLED"
)

// Sheet is one stock-take run for a branch.
type Sheet struct {
	ID        string
	CompanyID int64
	BranchID  int64
	Number    string
	Status    Status
	Note      string
	PostedAt  time.Time
	CreatedAt time.Time
}

// SheetLine is one item on the sheet. SystemQty is the balance at
// sheet generation; CountedQty stays null until someone counts.
type SheetLine struct {
	ID         int64
	SheetID    string
	ItemID     int64
	SystemQty  decimal.Decimal
	CountedQty decimal.NullDecimal
}

var (
	// ErrSheetNotFound indicates a missing sheet.
	ErrSheetNotFound = errors.New("stocktake: sheet not found")
	// ErrInvalidState rejects a transition the status does not allow.
	ErrInvalidState = errors.New("stocktake: invalid sheet state")
	// ErrNothingCounted rejects posting a sheet where no line has a
	// counted quantity.
	ErrNothingCounted = errors.New("stocktake: no counted lines")
	// ErrLineNotFound indicates a count for an item not on the sheet.
	ErrLineNotFound = errors.New("stocktake: item not on sheet")
)
