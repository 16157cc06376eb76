package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu        sync.Mutex
	entries   []Entry
	balances  map[string]decimal.Decimal
	snapshots map[string]PurchaseSnapshot
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		balances:  make(map[string]decimal.Decimal),
		snapshots: make(map[string]PurchaseSnapshot),
	}
}

func key(branchID, itemID int64) string {
	return fmt.Sprintf("%d:%d", branchID, itemID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) List(ctx context.Context, companyID int64, filter Filter) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out, nil
}

func (r *memoryRepo) GetBalance(ctx context.Context, companyID, branchID, itemID int64) (Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stock, ok := r.balances[key(branchID, itemID)]
	if !ok {
		return Balance{}, ErrEntryNotFound
	}
	return Balance{CompanyID: companyID, BranchID: branchID, ItemID: itemID, CurrentStock: stock}, nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	tx.repo.entries = append(tx.repo.entries, entry)
	return entry, nil
}

func (tx *memoryTx) HasNonOpeningActivity(ctx context.Context, companyID, branchID, itemID int64) (bool, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for _, e := range tx.repo.entries {
		if e.BranchID == branchID && e.ItemID == itemID && e.Type != TransactionOpeningBalance {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) GetOpeningBalance(ctx context.Context, companyID, branchID, itemID int64) (Entry, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for _, e := range tx.repo.entries {
		if e.BranchID == branchID && e.ItemID == itemID && e.Type == TransactionOpeningBalance {
			return e, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

func (tx *memoryTx) UpdateOpeningBalance(ctx context.Context, entryID int64, qty decimal.Decimal, unitCost decimal.Decimal) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for i, e := range tx.repo.entries {
		if e.ID == entryID && e.Type == TransactionOpeningBalance {
			tx.repo.entries[i].QuantityDelta = qty
			tx.repo.entries[i].UnitCost = decimal.NewNullDecimal(unitCost)
			return nil
		}
	}
	return ErrEntryNotFound
}

func (tx *memoryTx) AddToBalance(ctx context.Context, companyID, branchID, itemID int64, delta decimal.Decimal) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	k := key(branchID, itemID)
	tx.repo.balances[k] = tx.repo.balances[k].Add(delta)
	return nil
}

func (tx *memoryTx) OverwritePurchaseSnapshot(ctx context.Context, snap PurchaseSnapshot) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.snapshots[key(snap.BranchID, snap.ItemID)] = snap
	return nil
}

func (r *memoryRepo) ledgerSum(branchID, itemID int64) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := decimal.Zero
	for _, e := range r.entries {
		if e.BranchID == branchID && e.ItemID == itemID {
			sum = sum.Add(e.QuantityDelta)
		}
	}
	return sum
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func purchase(qty, cost string) AppendInput {
	return AppendInput{
		CompanyID:     1,
		BranchID:      1,
		ItemID:        1,
		Type:          TransactionPurchase,
		QuantityDelta: dec(qty),
		UnitCost:      decimal.NewNullDecimal(dec(cost)),
		ReferenceType: ReferencePurchaseInvoice,
		SupplierID:    7,
	}
}

func TestLedgerSumMatchesBalance(t *testing.T) {
	repo := newMemoryRepo()
	w := NewWriter(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := w.Append(ctx, purchase("10", "2500"))
	require.NoError(t, err)
	_, err = w.Append(ctx, AppendInput{
		CompanyID: 1, BranchID: 1, ItemID: 1,
		Type:          TransactionSale,
		QuantityDelta: dec("-4"),
		ReferenceType: ReferenceSalesInvoice,
	})
	require.NoError(t, err)
	_, err = w.Append(ctx, AppendInput{
		CompanyID: 1, BranchID: 1, ItemID: 1,
		Type:          TransactionAdjustment,
		QuantityDelta: dec("-1"),
		ReferenceType: ReferenceManualAdjustment,
	})
	require.NoError(t, err)

	bal, err := w.GetBalance(ctx, 1, 1, 1)
	require.NoError(t, err)
	require.True(t, bal.CurrentStock.Equal(dec("5")), "got %s", bal.CurrentStock)
	require.True(t, repo.ledgerSum(1, 1).Equal(bal.CurrentStock))
}

func TestPurchaseRequiresUnitCost(t *testing.T) {
	w := NewWriter(newMemoryRepo(), nil, nil, nil)
	in := purchase("10", "2500")
	in.UnitCost = decimal.NullDecimal{}
	_, err := w.Append(context.Background(), in)
	require.ErrorIs(t, err, ErrMissingUnitCost)
}

func TestOpeningBalanceIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	w := NewWriter(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := w.RecordOpeningBalance(ctx, OpeningBalanceInput{CompanyID: 1, BranchID: 1, ItemID: 1, Quantity: dec("100"), UnitCost: dec("40")})
	require.NoError(t, err)
	entry, err := w.RecordOpeningBalance(ctx, OpeningBalanceInput{CompanyID: 1, BranchID: 1, ItemID: 1, Quantity: dec("80"), UnitCost: dec("45")})
	require.NoError(t, err)

	// Exactly one OPENING_BALANCE row, second call's values win.
	count := 0
	for _, e := range repo.entries {
		if e.Type == TransactionOpeningBalance {
			count++
		}
	}
	require.Equal(t, 1, count)
	require.True(t, entry.QuantityDelta.Equal(dec("80")))
	require.True(t, entry.UnitCost.Decimal.Equal(dec("45")))

	bal, err := w.GetBalance(ctx, 1, 1, 1)
	require.NoError(t, err)
	require.True(t, bal.CurrentStock.Equal(dec("80")), "correction applies delta, got %s", bal.CurrentStock)
}

func TestOpeningBalanceRejectedAfterActivity(t *testing.T) {
	repo := newMemoryRepo()
	w := NewWriter(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := w.Append(ctx, purchase("5", "100"))
	require.NoError(t, err)

	_, err = w.RecordOpeningBalance(ctx, OpeningBalanceInput{CompanyID: 1, BranchID: 1, ItemID: 1, Quantity: dec("10"), UnitCost: dec("90")})
	require.ErrorIs(t, err, ErrOpeningBalanceLocked)
}

func TestBatchLastOccurrenceWinsSnapshot(t *testing.T) {
	repo := newMemoryRepo()
	w := NewWriter(repo, nil, nil, nil)

	first := purchase("10", "100")
	second := purchase("5", "120")
	_, err := w.AppendBatch(context.Background(), []AppendInput{first, second})
	require.NoError(t, err)

	snap := repo.snapshots[key(1, 1)]
	require.True(t, snap.LastPurchasePrice.Equal(dec("120")), "last occurrence wins, got %s", snap.LastPurchasePrice)
}

func TestOpeningBalanceBulk(t *testing.T) {
	repo := newMemoryRepo()
	w := NewWriter(repo, nil, nil, nil)
	ctx := context.Background()

	rows := []OpeningBalanceInput{
		{CompanyID: 1, BranchID: 1, ItemID: 1, Quantity: dec("10"), UnitCost: dec("5")},
		{CompanyID: 1, BranchID: 1, ItemID: 2, Quantity: dec("20"), UnitCost: dec("8")},
	}
	res, err := w.RecordOpeningBalanceBulk(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, BulkResult{Inserted: 2}, res)

	// Re-running the same file updates rather than duplicates.
	res, err = w.RecordOpeningBalanceBulk(ctx, rows)
	require.NoError(t, err)
	require.Equal(t, BulkResult{Updated: 2}, res)
	require.Len(t, repo.entries, 2)
}

func TestConcurrentAppendsDoNotLoseUpdates(t *testing.T) {
	repo := newMemoryRepo()
	w := NewWriter(repo, nil, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, qty := range []string{"5", "3"} {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			_, err := w.Append(ctx, purchase(q, "10"))
			require.NoError(t, err)
		}(qty)
	}
	wg.Wait()

	bal, err := w.GetBalance(ctx, 1, 1, 1)
	require.NoError(t, err)
	require.True(t, bal.CurrentStock.Equal(dec("8")), "got %s", bal.CurrentStock)
	require.True(t, repo.ledgerSum(1, 1).Equal(dec("8")))
}
