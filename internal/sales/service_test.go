package sales

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/apotek-erp/apotek-erp/internal/catalog"
	"github.com/apotek-erp/apotek-erp/internal/ledger"
	"github.com/apotek-erp/apotek-erp/internal/pricing"
)

type memoryRepo struct {
	docs     map[string]Document
	lines    map[string][]Line
	costsErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{docs: make(map[string]Document), lines: make(map[string][]Line)}
}

func (m *memoryRepo) Create(_ context.Context, doc Document, lines []Line) (Document, error) {
	for i := range lines {
		lines[i].ID = int64(i + 1)
	}
	m.docs[doc.ID] = doc
	m.lines[doc.ID] = lines
	return doc, nil
}

func (m *memoryRepo) Get(_ context.Context, companyID int64, id string) (Document, []Line, error) {
	doc, ok := m.docs[id]
	if !ok || doc.CompanyID != companyID {
		return Document{}, nil, ErrDocumentNotFound
	}
	lines := make([]Line, len(m.lines[id]))
	copy(lines, m.lines[id])
	return doc, lines, nil
}

func (m *memoryRepo) List(_ context.Context, companyID int64, _ Filter) ([]Document, error) {
	var out []Document
	for _, d := range m.docs {
		if d.CompanyID == companyID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memoryRepo) ClaimForPosting(_ context.Context, companyID int64, id string) error {
	doc, ok := m.docs[id]
	if !ok || doc.Status != StatusDraft {
		return ErrInvalidState
	}
	doc.Status = StatusPosted
	m.docs[id] = doc
	return nil
}

func (m *memoryRepo) Reopen(_ context.Context, companyID int64, id string) error {
	doc := m.docs[id]
	doc.Status = StatusDraft
	m.docs[id] = doc
	return nil
}

func (m *memoryRepo) Cancel(_ context.Context, companyID int64, id string) error {
	doc, ok := m.docs[id]
	if !ok || doc.Status != StatusDraft {
		return ErrInvalidState
	}
	doc.Status = StatusCancelled
	m.docs[id] = doc
	return nil
}

func (m *memoryRepo) RecordLineCosts(_ context.Context, id string, lines []Line) error {
	if m.costsErr != nil {
		return m.costsErr
	}
	m.lines[id] = lines
	return nil
}

type fakeLedger struct {
	batches [][]ledger.AppendInput
	stock   map[int64]decimal.Decimal
}

func (f *fakeLedger) AppendBatch(_ context.Context, lines []ledger.AppendInput) ([]ledger.Entry, error) {
	f.batches = append(f.batches, lines)
	return make([]ledger.Entry, len(lines)), nil
}

func (f *fakeLedger) GetBalance(_ context.Context, _, _, itemID int64) (ledger.Balance, error) {
	stock, ok := f.stock[itemID]
	if !ok {
		return ledger.Balance{}, ledger.ErrEntryNotFound
	}
	return ledger.Balance{ItemID: itemID, CurrentStock: stock}, nil
}

type fakeCatalog struct {
	items map[int64]catalog.Item
}

func (f *fakeCatalog) GetRaw(_ context.Context, _, itemID int64) (catalog.Item, error) {
	it, ok := f.items[itemID]
	if !ok {
		return catalog.Item{}, catalog.ErrItemNotFound
	}
	return it, nil
}

type fakeCosts struct {
	cost pricing.Cost
}

func (f *fakeCosts) BestAvailableCost(context.Context, int64, int64, int64) (pricing.Cost, error) {
	return f.cost, nil
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{items: map[int64]catalog.Item{
		1: {
			ID: 1, CompanyID: 1,
			SupplierUnit: "karton", WholesaleUnit: "box", RetailUnit: "strip",
			PackSize:                  decimal.NewFromInt(10),
			WholesaleUnitsPerSupplier: decimal.NewFromInt(20),
		},
	}}
}

func createInvoice(t *testing.T, svc *Service, lines []LineInput) Document {
	t.Helper()
	doc, err := svc.Create(context.Background(), 1, CreateInput{
		Kind:     KindInvoice,
		BranchID: 2,
		Lines:    lines,
	})
	require.NoError(t, err)
	return doc
}

func TestPostAppendsNegativeDeltas(t *testing.T) {
	repo := newMemoryRepo()
	lg := &fakeLedger{}
	costs := &fakeCosts{cost: pricing.Cost{Amount: dec(t, "5000"), Source: pricing.SourceLastPurchase}}
	svc := NewService(repo, lg, testCatalog(), costs, nil, nil, false)

	doc := createInvoice(t, svc, []LineInput{
		// 30 strips sold, 10 per box.
		{ItemID: 1, Unit: "strip", Quantity: dec(t, "30"), UnitPrice: dec(t, "800")},
	})
	entries, err := svc.Post(context.Background(), 1, doc.ID, 9)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	line := lg.batches[0][0]
	require.True(t, line.QuantityDelta.Equal(dec(t, "-3")), "got %s", line.QuantityDelta)
	require.Equal(t, ledger.TransactionSale, line.Type)
	require.Equal(t, ledger.ReferenceSalesInvoice, line.ReferenceType)

	// COGS captured onto the line.
	_, lines, err := repo.Get(context.Background(), 1, doc.ID)
	require.NoError(t, err)
	require.True(t, lines[0].UnitCost.Valid)
	require.True(t, lines[0].UnitCost.Decimal.Equal(dec(t, "5000")))
	require.Equal(t, "last_purchase", lines[0].CostSource)
}

func TestQuotationNeverPosts(t *testing.T) {
	repo := newMemoryRepo()
	lg := &fakeLedger{}
	svc := NewService(repo, lg, testCatalog(), &fakeCosts{}, nil, nil, false)

	doc, err := svc.Create(context.Background(), 1, CreateInput{
		Kind:     KindQuotation,
		BranchID: 2,
		Lines:    []LineInput{{ItemID: 1, Unit: "box", Quantity: dec(t, "5"), UnitPrice: dec(t, "9000")}},
	})
	require.NoError(t, err)

	_, err = svc.Post(context.Background(), 1, doc.ID, 9)
	require.ErrorIs(t, err, ErrQuotationNotPostable)
	require.Empty(t, lg.batches)
}

func TestStockGuardRejectsOversell(t *testing.T) {
	repo := newMemoryRepo()
	lg := &fakeLedger{stock: map[int64]decimal.Decimal{1: dec(t, "2")}}
	svc := NewService(repo, lg, testCatalog(), &fakeCosts{}, nil, nil, true)

	doc := createInvoice(t, svc, []LineInput{
		{ItemID: 1, Unit: "box", Quantity: dec(t, "5"), UnitPrice: dec(t, "9000")},
	})
	_, err := svc.Post(context.Background(), 1, doc.ID, 9)
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Empty(t, lg.batches)

	stored, _, err := repo.Get(context.Background(), 1, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
}

func TestGuardOffAllowsNegativeStock(t *testing.T) {
	repo := newMemoryRepo()
	lg := &fakeLedger{stock: map[int64]decimal.Decimal{1: dec(t, "2")}}
	svc := NewService(repo, lg, testCatalog(), &fakeCosts{}, nil, nil, false)

	doc := createInvoice(t, svc, []LineInput{
		{ItemID: 1, Unit: "box", Quantity: dec(t, "5"), UnitPrice: dec(t, "9000")},
	})
	_, err := svc.Post(context.Background(), 1, doc.ID, 9)
	require.NoError(t, err)
	require.Len(t, lg.batches, 1)
}

func TestDoublePostRejected(t *testing.T) {
	repo := newMemoryRepo()
	lg := &fakeLedger{}
	svc := NewService(repo, lg, testCatalog(), &fakeCosts{}, nil, nil, false)

	doc := createInvoice(t, svc, []LineInput{
		{ItemID: 1, Unit: "box", Quantity: dec(t, "5"), UnitPrice: dec(t, "9000")},
	})
	_, err := svc.Post(context.Background(), 1, doc.ID, 9)
	require.NoError(t, err)
	_, err = svc.Post(context.Background(), 1, doc.ID, 9)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Len(t, lg.batches, 1)
}

func TestPostSurvivesCostWriteBackFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.costsErr = errors.New("snapshot table unavailable")
	lg := &fakeLedger{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, lg, testCatalog(), &fakeCosts{}, nil, logger, false)

	doc := createInvoice(t, svc, []LineInput{
		{ItemID: 1, Unit: "box", Quantity: dec(t, "5"), UnitPrice: dec(t, "9000")},
	})
	entries, err := svc.Post(context.Background(), 1, doc.ID, 9)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, lg.batches, 1)

	// The ledger batch committed, so the document must stay posted.
	stored, _, err := repo.Get(context.Background(), 1, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, stored.Status)
}
