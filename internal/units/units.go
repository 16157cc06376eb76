// Package units converts quantities and costs between the three unit
// tiers carried on every item: supplier, wholesale (base) and retail.
// All ledger quantities and costs are stored in base units; every
// component that crosses a tier boundary must go through this package
// so rounding semantics stay uniform.
package units

import "github.com/shopspring/decimal"

// Ratio describes the fixed unit tiers of an item.
type Ratio struct {
	// WholesalePerSupplier is how many base (wholesale) units one
	// supplier unit contains.
	WholesalePerSupplier decimal.Decimal
	// PackSize is how many retail units one base unit contains.
	PackSize decimal.Decimal
}

var one = decimal.NewFromInt(1)

// wholesalePerSupplier returns the effective supplier ratio. Missing
// or non-positive ratios mean identity conversion, never a division
// by zero.
func (r Ratio) wholesalePerSupplier() decimal.Decimal {
	if r.WholesalePerSupplier.LessThanOrEqual(decimal.Zero) {
		return one
	}
	return r.WholesalePerSupplier
}

// packSize returns the effective pack size, floored to 1.
func (r Ratio) packSize() decimal.Decimal {
	if r.PackSize.LessThan(one) {
		return one
	}
	return r.PackSize
}

// CostPerBase converts a purchase price per supplier unit into cost
// per base unit.
func CostPerBase(pricePerSupplier decimal.Decimal, r Ratio) decimal.Decimal {
	return pricePerSupplier.Div(r.wholesalePerSupplier())
}

// SupplierToBase converts a supplier-unit quantity into base units.
func SupplierToBase(qty decimal.Decimal, r Ratio) decimal.Decimal {
	return qty.Mul(r.wholesalePerSupplier())
}

// BaseToSupplier converts a base-unit quantity back into supplier
// units.
func BaseToSupplier(qty decimal.Decimal, r Ratio) decimal.Decimal {
	return qty.Div(r.wholesalePerSupplier())
}

// BaseToRetail converts a base-unit quantity into retail units.
func BaseToRetail(qty decimal.Decimal, r Ratio) decimal.Decimal {
	return qty.Mul(r.packSize())
}

// RetailToBase converts a retail-unit quantity into base units.
func RetailToBase(qty decimal.Decimal, r Ratio) decimal.Decimal {
	return qty.Div(r.packSize())
}
