package stocktake

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/apotek-erp/apotek-erp/internal/ledger"
	"github.com/apotek-erp/apotek-erp/internal/pricing"
)

type memoryRepo struct {
	balances map[int64]decimal.Decimal
	sheets   map[string]Sheet
	lines    map[string][]SheetLine
}

func newMemoryRepo(balances map[int64]decimal.Decimal) *memoryRepo {
	return &memoryRepo{
		balances: balances,
		sheets:   make(map[string]Sheet),
		lines:    make(map[string][]SheetLine),
	}
}

func (m *memoryRepo) BranchBalances(context.Context, int64, int64) (map[int64]decimal.Decimal, error) {
	return m.balances, nil
}

func (m *memoryRepo) CreateSheet(_ context.Context, sheet Sheet, lines []SheetLine) (Sheet, error) {
	m.sheets[sheet.ID] = sheet
	m.lines[sheet.ID] = lines
	return sheet, nil
}

func (m *memoryRepo) GetSheet(_ context.Context, companyID int64, id string) (Sheet, []SheetLine, error) {
	sheet, ok := m.sheets[id]
	if !ok || sheet.CompanyID != companyID {
		return Sheet{}, nil, ErrSheetNotFound
	}
	return sheet, m.lines[id], nil
}

func (m *memoryRepo) RecordCount(_ context.Context, _ int64, sheetID string, itemID int64, counted decimal.Decimal) error {
	sheet, ok := m.sheets[sheetID]
	if !ok || sheet.Status != StatusOpen {
		return ErrLineNotFound
	}
	for i, line := range m.lines[sheetID] {
		if line.ItemID == itemID {
			m.lines[sheetID][i].CountedQty = decimal.NewNullDecimal(counted)
			return nil
		}
	}
	return ErrLineNotFound
}

func (m *memoryRepo) ClaimForPosting(_ context.Context, _ int64, id string) error {
	sheet, ok := m.sheets[id]
	if !ok || sheet.Status != StatusOpen {
		return ErrInvalidState
	}
	sheet.Status = StatusPosted
	m.sheets[id] = sheet
	return nil
}

func (m *memoryRepo) Reopen(_ context.Context, _ int64, id string) error {
	sheet := m.sheets[id]
	sheet.Status = StatusOpen
	m.sheets[id] = sheet
	return nil
}

func (m *memoryRepo) Cancel(_ context.Context, _ int64, id string) error {
	sheet, ok := m.sheets[id]
	if !ok || sheet.Status != StatusOpen {
		return ErrInvalidState
	}
	sheet.Status = StatusCancelled
	m.sheets[id] = sheet
	return nil
}

type fakeLedger struct {
	batches [][]ledger.AppendInput
}

func (f *fakeLedger) AppendBatch(_ context.Context, lines []ledger.AppendInput) ([]ledger.Entry, error) {
	f.batches = append(f.batches, lines)
	return make([]ledger.Entry, len(lines)), nil
}

type fakeCosts struct{ amount decimal.Decimal }

func (f *fakeCosts) BestAvailableCost(context.Context, int64, int64, int64) (pricing.Cost, error) {
	return pricing.Cost{Amount: f.amount, Source: pricing.SourceWeightedAverage}, nil
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestGenerateSheetFreezesBalances(t *testing.T) {
	repo := newMemoryRepo(map[int64]decimal.Decimal{1: dec(t, "10"), 2: dec(t, "4")})
	svc := NewService(repo, &fakeLedger{}, &fakeCosts{})

	sheet, lines, err := svc.GenerateSheet(context.Background(), 1, 2, "monthly")
	require.NoError(t, err)
	require.Equal(t, StatusOpen, sheet.Status)
	require.Len(t, lines, 2)
}

func TestPostAppendsCountedMinusSystem(t *testing.T) {
	repo := newMemoryRepo(map[int64]decimal.Decimal{1: dec(t, "10"), 2: dec(t, "4")})
	lg := &fakeLedger{}
	svc := NewService(repo, lg, &fakeCosts{amount: dec(t, "1500")})

	sheet, _, err := svc.GenerateSheet(context.Background(), 1, 2, "")
	require.NoError(t, err)

	// Found one extra of item 1, two missing of item 2.
	require.NoError(t, svc.RecordCount(context.Background(), 1, sheet.ID, 1, dec(t, "11")))
	require.NoError(t, svc.RecordCount(context.Background(), 1, sheet.ID, 2, dec(t, "2")))

	entries, err := svc.Post(context.Background(), 1, sheet.ID, 9)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byItem := map[int64]ledger.AppendInput{}
	for _, in := range lg.batches[0] {
		byItem[in.ItemID] = in
		require.Equal(t, ledger.TransactionAdjustment, in.Type)
		require.Equal(t, ledger.ReferenceStockTake, in.ReferenceType)
	}
	require.True(t, byItem[1].QuantityDelta.Equal(dec(t, "1")))
	require.True(t, byItem[1].UnitCost.Valid, "positive delta carries resolved cost")
	require.True(t, byItem[1].UnitCost.Decimal.Equal(dec(t, "1500")))
	require.True(t, byItem[2].QuantityDelta.Equal(dec(t, "-2")))
	require.False(t, byItem[2].UnitCost.Valid, "negative delta carries no cost")
}

func TestPostSkipsUncountedLines(t *testing.T) {
	repo := newMemoryRepo(map[int64]decimal.Decimal{1: dec(t, "10"), 2: dec(t, "4")})
	lg := &fakeLedger{}
	svc := NewService(repo, lg, &fakeCosts{})

	sheet, _, err := svc.GenerateSheet(context.Background(), 1, 2, "")
	require.NoError(t, err)
	require.NoError(t, svc.RecordCount(context.Background(), 1, sheet.ID, 1, dec(t, "9")))

	entries, err := svc.Post(context.Background(), 1, sheet.ID, 9)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(1), lg.batches[0][0].ItemID)
}

func TestPostWithNoCountsRejected(t *testing.T) {
	repo := newMemoryRepo(map[int64]decimal.Decimal{1: dec(t, "10")})
	svc := NewService(repo, &fakeLedger{}, &fakeCosts{})

	sheet, _, err := svc.GenerateSheet(context.Background(), 1, 2, "")
	require.NoError(t, err)

	_, err = svc.Post(context.Background(), 1, sheet.ID, 9)
	require.ErrorIs(t, err, ErrNothingCounted)
}

func TestMatchingCountsCloseWithoutLedgerWrites(t *testing.T) {
	repo := newMemoryRepo(map[int64]decimal.Decimal{1: dec(t, "10")})
	lg := &fakeLedger{}
	svc := NewService(repo, lg, &fakeCosts{})

	sheet, _, err := svc.GenerateSheet(context.Background(), 1, 2, "")
	require.NoError(t, err)
	require.NoError(t, svc.RecordCount(context.Background(), 1, sheet.ID, 1, dec(t, "10")))

	entries, err := svc.Post(context.Background(), 1, sheet.ID, 9)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Empty(t, lg.batches)

	stored, _, err := repo.GetSheet(context.Background(), 1, sheet.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, stored.Status)
}
