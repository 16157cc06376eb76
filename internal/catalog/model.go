// Package catalog manages item reference data: identity, the three
// fixed unit tiers, and the legacy stored cost columns that are kept
// in the schema but never trusted.
package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/units"
)

// UnitTier names one of the three fixed tiers of an item. Units are
// static item characteristics; a transaction's unit string is valid
// only if it matches one of these tiers.
type UnitTier string

const (
	TierSupplier  UnitTier = "supplier"
	TierWholesale UnitTier = "wholesale"
	TierRetail    UnitTier = "retail"
)

// Item is the reference record for one product. The unit tier
// attributes are fixed characteristics; quantities on the ledger are
// always in the wholesale (base) unit.
//
// StoredCost and StoredPrice are legacy columns: write-never,
// read-never. Any outbound representation must pass through Sanitize
// so callers only ever see ledger-derived costs.
type Item struct {
	ID          int64
	CompanyID   int64
	Code        string
	Name        string
	GenericName string
	Barcode     string

	SupplierUnit              string
	WholesaleUnit             string
	RetailUnit                string
	PackSize                  decimal.Decimal
	WholesaleUnitsPerSupplier decimal.Decimal

	StoredCost  decimal.Decimal
	StoredPrice decimal.Decimal

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ratio exposes the item's conversion ratios for the units package.
func (i Item) Ratio() units.Ratio {
	return units.Ratio{
		WholesalePerSupplier: i.WholesaleUnitsPerSupplier,
		PackSize:             i.PackSize,
	}
}

// TierOf resolves a unit string against the item's fixed tiers.
func (i Item) TierOf(unit string) (UnitTier, bool) {
	switch unit {
	case i.SupplierUnit:
		return TierSupplier, true
	case i.WholesaleUnit:
		return TierWholesale, true
	case i.RetailUnit:
		return TierRetail, true
	}
	return "", false
}

// Filter selects items for listings.
type Filter struct {
	Search string
	Active *bool
	Page   int
	Limit  int
}

var (
	// ErrItemNotFound indicates a missing item.
	ErrItemNotFound = errors.New("catalog: item not found")
	// ErrDuplicateCode indicates the item code is taken in the company.
	ErrDuplicateCode = errors.New("catalog: item code already exists")
	// ErrUnknownUnit indicates a unit string matching none of the
	// item's three fixed tiers.
	ErrUnknownUnit = errors.New("catalog: unit does not match any tier of this item")
)
