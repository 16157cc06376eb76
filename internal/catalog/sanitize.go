package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/pricing"
)

func zeroCost() pricing.Cost {
	return pricing.Cost{Amount: decimal.Zero, Source: pricing.SourceNone}
}

// ItemView is the only outbound representation of an item. It has no
// field for the stored cost columns at all; Cost always comes from
// the pricing resolver.
type ItemView struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	GenericName string `json:"generic_name,omitempty"`
	Barcode     string `json:"barcode,omitempty"`

	SupplierUnit              string `json:"supplier_unit"`
	WholesaleUnit             string `json:"wholesale_unit"`
	RetailUnit                string `json:"retail_unit"`
	PackSize                  string `json:"pack_size"`
	WholesaleUnitsPerSupplier string `json:"wholesale_units_per_supplier"`

	Cost       string `json:"cost"`
	CostSource string `json:"cost_source"`

	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Sanitize is the single gatekeeper between stored items and the
// outside world. Whatever the legacy cost columns contain, the view
// carries the resolver's answer, zero included.
func Sanitize(item Item, cost pricing.Cost) ItemView {
	return ItemView{
		ID:                        item.ID,
		Code:                      item.Code,
		Name:                      item.Name,
		GenericName:               item.GenericName,
		Barcode:                   item.Barcode,
		SupplierUnit:              item.SupplierUnit,
		WholesaleUnit:             item.WholesaleUnit,
		RetailUnit:                item.RetailUnit,
		PackSize:                  item.PackSize.String(),
		WholesaleUnitsPerSupplier: item.WholesaleUnitsPerSupplier.String(),
		Cost:                      cost.Amount.String(),
		CostSource:                string(cost.Source),
		Active:                    item.Active,
		CreatedAt:                 item.CreatedAt.Format(time.RFC3339),
		UpdatedAt:                 item.UpdatedAt.Format(time.RFC3339),
	}
}
