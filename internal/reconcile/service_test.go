package reconcile

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	balancePairs  []BalancePair
	snapshotPairs []SnapshotPair
	backfilled    int64
}

func (f *fakeRepo) BalancePairs(context.Context, int64) ([]BalancePair, error) {
	return f.balancePairs, nil
}

func (f *fakeRepo) SnapshotPairs(context.Context, int64) ([]SnapshotPair, error) {
	return f.snapshotPairs, nil
}

func (f *fakeRepo) BackfillBalances(context.Context, int64) (int64, error) {
	f.backfilled++
	return 3, nil
}

func (f *fakeRepo) BackfillSnapshots(context.Context, int64) (int64, error) {
	f.backfilled++
	return 2, nil
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestBalancesWithinEpsilonDoNotDrift(t *testing.T) {
	repo := &fakeRepo{balancePairs: []BalancePair{
		{BranchID: 1, ItemID: 1, LedgerStock: dec(t, "10"), CachedStock: dec(t, "10.00005")},
		{BranchID: 1, ItemID: 2, LedgerStock: dec(t, "10"), CachedStock: dec(t, "9")},
	}}
	svc := NewService(repo, nil, nil, decimal.Decimal{})

	total, drift, err := svc.Balances(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, drift, 1)
	require.Equal(t, int64(2), drift[0].ItemID)
	require.Equal(t, "1", drift[0].Diff)
}

func TestMissingBalanceRowAlwaysDrifts(t *testing.T) {
	repo := &fakeRepo{balancePairs: []BalancePair{
		{BranchID: 1, ItemID: 1, LedgerStock: dec(t, "0"), CachedStock: dec(t, "0"), RowMissing: true},
	}}
	svc := NewService(repo, nil, nil, decimal.Decimal{})

	_, drift, err := svc.Balances(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	require.True(t, drift[0].RowMissing)
}

func TestSnapshotDrift(t *testing.T) {
	repo := &fakeRepo{snapshotPairs: []SnapshotPair{
		{BranchID: 1, ItemID: 1, LedgerPrice: dec(t, "100"), CachedPrice: dec(t, "100")},
		{BranchID: 1, ItemID: 2, LedgerPrice: dec(t, "100"), CachedPrice: dec(t, "90")},
	}}
	svc := NewService(repo, nil, nil, decimal.Decimal{})

	total, drift, err := svc.PurchaseSnapshots(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, drift, 1)
	require.Equal(t, "90", drift[0].CachedPrice)
}

func TestRunRecordsReport(t *testing.T) {
	repo := &fakeRepo{
		balancePairs:  []BalancePair{{BranchID: 1, ItemID: 1, LedgerStock: dec(t, "5"), CachedStock: dec(t, "4")}},
		snapshotPairs: []SnapshotPair{},
	}
	svc := NewService(repo, nil, nil, decimal.Decimal{})

	report, err := svc.Run(context.Background(), 9)
	require.NoError(t, err)
	require.Equal(t, int64(9), report.CompanyID)
	require.Len(t, report.Balances, 1)

	stored, ok := svc.LastReport(9)
	require.True(t, ok)
	require.Equal(t, report.RanAt, stored.RanAt)
}

func TestBackfillReturnsCounts(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, nil, nil, decimal.Decimal{})

	res, err := svc.Backfill(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Balances)
	require.Equal(t, int64(2), res.Snapshots)
}
