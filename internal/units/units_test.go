package units

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCostPerBase(t *testing.T) {
	r := Ratio{WholesalePerSupplier: dec("10")}
	cost := CostPerBase(dec("25000"), r)
	require.True(t, cost.Equal(dec("2500")), "got %s", cost)
}

func TestCostPerBaseMissingRatio(t *testing.T) {
	for _, ratio := range []decimal.Decimal{decimal.Zero, dec("-3")} {
		cost := CostPerBase(dec("120"), Ratio{WholesalePerSupplier: ratio})
		require.True(t, cost.Equal(dec("120")), "ratio %s should be identity", ratio)
	}
}

func TestSupplierToBaseRoundTrip(t *testing.T) {
	r := Ratio{WholesalePerSupplier: dec("12")}
	base := SupplierToBase(dec("1"), r)
	require.True(t, base.Equal(dec("12")))
	require.True(t, BaseToSupplier(base, r).Equal(dec("1")))
}

func TestBaseToRetailFloorsPackSize(t *testing.T) {
	require.True(t, BaseToRetail(dec("7"), Ratio{PackSize: dec("0.5")}).Equal(dec("7")))
	require.True(t, BaseToRetail(dec("7"), Ratio{}).Equal(dec("7")))
	require.True(t, BaseToRetail(dec("7"), Ratio{PackSize: dec("30")}).Equal(dec("210")))
}
