package procurement

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/apotek-erp/apotek-erp/internal/catalog"
	"github.com/apotek-erp/apotek-erp/internal/ledger"
)

type memoryRepo struct {
	docs  map[string]Document
	lines map[string][]Line
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{docs: make(map[string]Document), lines: make(map[string][]Line)}
}

func (m *memoryRepo) Create(_ context.Context, doc Document, lines []Line) (Document, error) {
	m.docs[doc.ID] = doc
	m.lines[doc.ID] = lines
	return doc, nil
}

func (m *memoryRepo) Get(_ context.Context, companyID int64, id string) (Document, []Line, error) {
	doc, ok := m.docs[id]
	if !ok || doc.CompanyID != companyID {
		return Document{}, nil, ErrDocumentNotFound
	}
	return doc, m.lines[id], nil
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
	if !ok || doc.CompanyID != companyID || doc.Status != StatusDraft {
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

type fakeLedger struct {
	batches [][]ledger.AppendInput
	fail    error
}

func (f *fakeLedger) AppendBatch(_ context.Context, lines []ledger.AppendInput) ([]ledger.Entry, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.batches = append(f.batches, lines)
	entries := make([]ledger.Entry, len(lines))
	return entries, nil
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

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func testCatalog(t *testing.T) *fakeCatalog {
	t.Helper()
	return &fakeCatalog{items: map[int64]catalog.Item{
		1: {
			ID: 1, CompanyID: 1,
			SupplierUnit: "karton", WholesaleUnit: "box", RetailUnit: "strip",
			PackSize:                  decimal.NewFromInt(10),
			WholesaleUnitsPerSupplier: decimal.NewFromInt(20),
		},
	}}
}

func createDraft(t *testing.T, svc *Service, lines []LineInput) Document {
	t.Helper()
	doc, err := svc.Create(context.Background(), 1, CreateInput{
		Kind:       KindPurchaseInvoice,
		BranchID:   2,
		SupplierID: 7,
		Lines:      lines,
	})
	require.NoError(t, err)
	return doc
}

func TestCreateRejectsUnknownUnit(t *testing.T) {
	svc := NewService(newMemoryRepo(), &fakeLedger{}, testCatalog(t), nil)
	_, err := svc.Create(context.Background(), 1, CreateInput{
		Kind: KindPurchaseInvoice, BranchID: 2, SupplierID: 7,
		Lines: []LineInput{{ItemID: 1, Unit: "pcs", Quantity: dec(t, "1"), UnitPrice: dec(t, "10")}},
	})
	require.ErrorIs(t, err, catalog.ErrUnknownUnit)
}

func TestPostConvertsSupplierUnitsToBase(t *testing.T) {
	lg := &fakeLedger{}
	svc := NewService(newMemoryRepo(), lg, testCatalog(t), nil)
	doc := createDraft(t, svc, []LineInput{
		{ItemID: 1, Unit: "karton", Quantity: dec(t, "2"), UnitPrice: dec(t, "100000")},
	})

	entries, err := svc.Post(context.Background(), 1, doc.ID, 9)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, lg.batches, 1)
	line := lg.batches[0][0]
	// 2 kartons of 20 boxes each.
	require.True(t, line.QuantityDelta.Equal(dec(t, "40")), "got %s", line.QuantityDelta)
	// 100000 per karton / 20 boxes.
	require.True(t, line.UnitCost.Decimal.Equal(dec(t, "5000")), "got %s", line.UnitCost.Decimal)
	require.Equal(t, ledger.TransactionPurchase, line.Type)
	require.Equal(t, ledger.ReferencePurchaseInvoice, line.ReferenceType)
	require.Equal(t, doc.ID, line.ReferenceID)
	require.Equal(t, int64(7), line.SupplierID)
}

func TestPostPreservesLineOrder(t *testing.T) {
	lg := &fakeLedger{}
	svc := NewService(newMemoryRepo(), lg, testCatalog(t), nil)
	doc := createDraft(t, svc, []LineInput{
		{ItemID: 1, Unit: "box", Quantity: dec(t, "100"), UnitPrice: dec(t, "4800")},
		{ItemID: 1, Unit: "box", Quantity: dec(t, "120"), UnitPrice: dec(t, "5100")},
	})

	_, err := svc.Post(context.Background(), 1, doc.ID, 9)
	require.NoError(t, err)
	batch := lg.batches[0]
	require.Len(t, batch, 2)
	require.True(t, batch[0].UnitCost.Decimal.Equal(dec(t, "4800")))
	require.True(t, batch[1].UnitCost.Decimal.Equal(dec(t, "5100")))
}

func TestPostTwiceRejected(t *testing.T) {
	lg := &fakeLedger{}
	svc := NewService(newMemoryRepo(), lg, testCatalog(t), nil)
	doc := createDraft(t, svc, []LineInput{
		{ItemID: 1, Unit: "box", Quantity: dec(t, "5"), UnitPrice: dec(t, "1000")},
	})

	_, err := svc.Post(context.Background(), 1, doc.ID, 9)
	require.NoError(t, err)
	_, err = svc.Post(context.Background(), 1, doc.ID, 9)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Len(t, lg.batches, 1)
}

func TestFailedAppendReopensDocument(t *testing.T) {
	repo := newMemoryRepo()
	lg := &fakeLedger{fail: errors.New("db down")}
	svc := NewService(repo, lg, testCatalog(t), nil)
	doc := createDraft(t, svc, []LineInput{
		{ItemID: 1, Unit: "box", Quantity: dec(t, "5"), UnitPrice: dec(t, "1000")},
	})

	_, err := svc.Post(context.Background(), 1, doc.ID, 9)
	require.Error(t, err)
	stored, _, err := repo.Get(context.Background(), 1, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
}

func TestCancelPostedDocumentRejected(t *testing.T) {
	svc := NewService(newMemoryRepo(), &fakeLedger{}, testCatalog(t), nil)
	doc := createDraft(t, svc, []LineInput{
		{ItemID: 1, Unit: "box", Quantity: dec(t, "5"), UnitPrice: dec(t, "1000")},
	})
	_, err := svc.Post(context.Background(), 1, doc.ID, 9)
	require.NoError(t, err)
	require.ErrorIs(t, svc.Cancel(context.Background(), 1, doc.ID, 9), ErrInvalidState)
}

func TestRetailLineScalesPricePerBase(t *testing.T) {
	lg := &fakeLedger{}
	svc := NewService(newMemoryRepo(), lg, testCatalog(t), nil)
	doc := createDraft(t, svc, []LineInput{
		// 30 strips at 600 each; 10 strips per box.
		{ItemID: 1, Unit: "strip", Quantity: dec(t, "30"), UnitPrice: dec(t, "600")},
	})

	_, err := svc.Post(context.Background(), 1, doc.ID, 9)
	require.NoError(t, err)
	line := lg.batches[0][0]
	require.True(t, line.QuantityDelta.Equal(dec(t, "3")), "got %s", line.QuantityDelta)
	require.True(t, line.UnitCost.Decimal.Equal(dec(t, "6000")), "got %s", line.UnitCost.Decimal)
}
