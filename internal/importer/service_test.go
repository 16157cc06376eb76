package importer

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/apotek-erp/apotek-erp/internal/catalog"
	"github.com/apotek-erp/apotek-erp/internal/ledger"
	"github.com/apotek-erp/apotek-erp/internal/shared"
)

type fakeIdem struct {
	keys map[string]bool
}

func newFakeIdem() *fakeIdem { return &fakeIdem{keys: make(map[string]bool)} }

func (f *fakeIdem) CheckAndInsert(_ context.Context, key, _ string) error {
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdem) Delete(_ context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

type fakeCatalog struct {
	byCode map[string]catalog.Item
	nextID int64
}

func (f *fakeCatalog) GetByCode(_ context.Context, _ int64, code string) (catalog.Item, error) {
	it, ok := f.byCode[code]
	if !ok {
		return catalog.Item{}, catalog.ErrItemNotFound
	}
	return it, nil
}

func (f *fakeCatalog) Create(_ context.Context, companyID int64, in catalog.ItemInput) (catalog.Item, error) {
	if _, ok := f.byCode[in.Code]; ok {
		return catalog.Item{}, catalog.ErrDuplicateCode
	}
	f.nextID++
	it := catalog.Item{
		ID:                        f.nextID,
		CompanyID:                 companyID,
		Code:                      in.Code,
		Name:                      in.Name,
		SupplierUnit:              in.SupplierUnit,
		WholesaleUnit:             in.WholesaleUnit,
		RetailUnit:                in.RetailUnit,
		PackSize:                  in.PackSize,
		WholesaleUnitsPerSupplier: in.WholesaleUnitsPerSupplier,
		Active:                    true,
	}
	f.byCode[in.Code] = it
	return it, nil
}

type fakeLedger struct {
	rows []ledger.OpeningBalanceInput
}

func (f *fakeLedger) RecordOpeningBalanceBulk(_ context.Context, rows []ledger.OpeningBalanceInput) (ledger.BulkResult, error) {
	f.rows = append(f.rows, rows...)
	return ledger.BulkResult{Inserted: len(rows)}, nil
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func buildWorkbook(t *testing.T, header []any, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	for i, row := range rows {
		cell := fmt.Sprintf("A%d", i+2)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return buf.Bytes()
}

func openingCatalog(t *testing.T) *fakeCatalog {
	t.Helper()
	return &fakeCatalog{byCode: map[string]catalog.Item{
		"AMX-500": {
			ID: 1, CompanyID: 1, Code: "AMX-500",
			SupplierUnit: "karton", WholesaleUnit: "box", RetailUnit: "strip",
			PackSize:                  decimal.NewFromInt(10),
			WholesaleUnitsPerSupplier: decimal.NewFromInt(20),
		},
	}, nextID: 1}
}

func TestImportOpeningBalancesConvertsSupplierRows(t *testing.T) {
	lg := &fakeLedger{}
	svc := NewService(openingCatalog(t), lg, newFakeIdem())
	wb := buildWorkbook(t,
		[]any{"item_code", "quantity", "unit", "unit_price"},
		[][]any{{"AMX-500", "3", "karton", "100000"}},
	)

	result, err := svc.ImportOpeningBalances(context.Background(), 1, 2, 9, bytes.NewReader(wb))
	require.NoError(t, err)
	require.Equal(t, 1, result.Rows)
	require.Equal(t, 1, result.Inserted)
	require.Len(t, lg.rows, 1)
	// 3 kartons of 20 boxes; 100000 per karton.
	require.True(t, lg.rows[0].Quantity.Equal(dec(t, "60")), "got %s", lg.rows[0].Quantity)
	require.True(t, lg.rows[0].UnitCost.Equal(dec(t, "5000")), "got %s", lg.rows[0].UnitCost)
	require.Equal(t, int64(1), lg.rows[0].ItemID)
	require.Equal(t, int64(2), lg.rows[0].BranchID)
}

func TestImportOpeningBalancesSameFileTwiceConflicts(t *testing.T) {
	lg := &fakeLedger{}
	svc := NewService(openingCatalog(t), lg, newFakeIdem())
	wb := buildWorkbook(t,
		[]any{"item_code", "quantity", "unit", "unit_price"},
		[][]any{{"AMX-500", "3", "karton", "100000"}},
	)

	_, err := svc.ImportOpeningBalances(context.Background(), 1, 2, 9, bytes.NewReader(wb))
	require.NoError(t, err)
	_, err = svc.ImportOpeningBalances(context.Background(), 1, 2, 9, bytes.NewReader(wb))
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Len(t, lg.rows, 1)
}

func TestImportOpeningBalancesUnknownCodeReleasesKey(t *testing.T) {
	lg := &fakeLedger{}
	idem := newFakeIdem()
	svc := NewService(openingCatalog(t), lg, idem)
	wb := buildWorkbook(t,
		[]any{"item_code", "quantity", "unit", "unit_price"},
		[][]any{{"NOPE-1", "3", "karton", "100000"}},
	)

	_, err := svc.ImportOpeningBalances(context.Background(), 1, 2, 9, bytes.NewReader(wb))
	require.ErrorIs(t, err, catalog.ErrItemNotFound)
	require.Empty(t, lg.rows)
	require.Empty(t, idem.keys, "failed import must release its key")
}

func TestImportOpeningBalancesRejectsUnknownUnit(t *testing.T) {
	svc := NewService(openingCatalog(t), &fakeLedger{}, newFakeIdem())
	wb := buildWorkbook(t,
		[]any{"item_code", "quantity", "unit", "unit_price"},
		[][]any{{"AMX-500", "3", "pcs", "100000"}},
	)

	_, err := svc.ImportOpeningBalances(context.Background(), 1, 2, 9, bytes.NewReader(wb))
	require.ErrorIs(t, err, catalog.ErrUnknownUnit)
}

func TestImportOpeningBalancesEmptyFile(t *testing.T) {
	svc := NewService(openingCatalog(t), &fakeLedger{}, newFakeIdem())
	wb := buildWorkbook(t, []any{"item_code", "quantity", "unit", "unit_price"}, nil)

	_, err := svc.ImportOpeningBalances(context.Background(), 1, 2, 9, bytes.NewReader(wb))
	require.ErrorIs(t, err, ErrEmptyFile)
}

func TestImportItemsCreatesAndSkipsDuplicates(t *testing.T) {
	cat := openingCatalog(t)
	svc := NewService(cat, &fakeLedger{}, newFakeIdem())
	wb := buildWorkbook(t,
		[]any{"code", "name", "generic_name", "barcode", "supplier_unit", "wholesale_unit", "retail_unit", "pack_size", "wholesale_units_per_supplier"},
		[][]any{
			{"AMX-500", "Amoxicillin 500", "amoxicillin", "", "karton", "box", "strip", "10", "20"},
			{"PCT-500", "Paracetamol 500", "paracetamol", "", "karton", "box", "strip", "10", "25"},
		},
	)

	result, err := svc.ImportItems(context.Background(), 1, 9, bytes.NewReader(wb))
	require.NoError(t, err)
	require.Equal(t, 2, result.Rows)
	require.Equal(t, 1, result.Created)
	require.Equal(t, 1, result.Skipped)
	require.Contains(t, cat.byCode, "PCT-500")
}
