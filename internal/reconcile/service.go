// Package reconcile detects drift between the inventory ledger and
// its derived tables. It reports; it does not repair rows that exist.
// The only write it ever performs is filling keys that are missing
// entirely.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultEpsilon tolerates decimal representation noise; anything
// beyond it is real drift.
var DefaultEpsilon = decimal.RequireFromString("0.0001")

// BalanceDrift is one key whose cached stock disagrees with the
// ledger sum.
type BalanceDrift struct {
	BranchID    int64  `json:"branch_id"`
	ItemID      int64  `json:"item_id"`
	LedgerStock string `json:"ledger_stock"`
	CachedStock string `json:"cached_stock"`
	Diff        string `json:"diff"`
	RowMissing  bool   `json:"row_missing"`
}

// SnapshotDrift is one key whose purchase snapshot disagrees with the
// latest PURCHASE ledger row.
type SnapshotDrift struct {
	BranchID    int64  `json:"branch_id"`
	ItemID      int64  `json:"item_id"`
	LedgerPrice string `json:"ledger_price"`
	CachedPrice string `json:"cached_price"`
	RowMissing  bool   `json:"row_missing"`
}

// Report is the outcome of one full reconciliation pass.
type Report struct {
	CompanyID      int64           `json:"company_id"`
	RanAt          time.Time       `json:"ran_at"`
	BalancesTotal  int             `json:"balances_checked"`
	Balances       []BalanceDrift  `json:"balance_drift"`
	SnapshotsTotal int             `json:"snapshots_checked"`
	Snapshots      []SnapshotDrift `json:"snapshot_drift"`
}

// BackfillResult counts rows created for keys that had none.
type BackfillResult struct {
	Balances  int64 `json:"balances_created"`
	Snapshots int64 `json:"snapshots_created"`
}

// RepositoryPort abstracts the comparison and backfill queries.
type RepositoryPort interface {
	BalancePairs(ctx context.Context, companyID int64) ([]BalancePair, error)
	SnapshotPairs(ctx context.Context, companyID int64) ([]SnapshotPair, error)
	BackfillBalances(ctx context.Context, companyID int64) (int64, error)
	BackfillSnapshots(ctx context.Context, companyID int64) (int64, error)
}

// MetricsPort publishes the drift gauge.
type MetricsPort interface {
	ReconcileDrift(kind string, count int)
}

// Service runs reconciliation passes.
type Service struct {
	repo    RepositoryPort
	logger  *slog.Logger
	metrics MetricsPort
	epsilon decimal.Decimal

	mu      sync.Mutex
	lastRun map[int64]Report
}

// NewService constructs Service. A non-positive epsilon falls back to
// DefaultEpsilon; metrics may be nil.
func NewService(repo RepositoryPort, logger *slog.Logger, metrics MetricsPort, epsilon decimal.Decimal) *Service {
	if !epsilon.IsPositive() {
		epsilon = DefaultEpsilon
	}
	return &Service{
		repo:    repo,
		logger:  logger,
		metrics: metrics,
		epsilon: epsilon,
		lastRun: make(map[int64]Report),
	}
}

// Balances reports balance drift for one company.
func (s *Service) Balances(ctx context.Context, companyID int64) (int, []BalanceDrift, error) {
	pairs, err := s.repo.BalancePairs(ctx, companyID)
	if err != nil {
		return 0, nil, err
	}
	drift := make([]BalanceDrift, 0)
	for _, p := range pairs {
		diff := p.LedgerStock.Sub(p.CachedStock)
		if diff.Abs().GreaterThan(s.epsilon) || p.RowMissing {
			drift = append(drift, BalanceDrift{
				BranchID:    p.BranchID,
				ItemID:      p.ItemID,
				LedgerStock: p.LedgerStock.String(),
				CachedStock: p.CachedStock.String(),
				Diff:        diff.String(),
				RowMissing:  p.RowMissing,
			})
		}
	}
	return len(pairs), drift, nil
}

// PurchaseSnapshots reports snapshot drift for one company.
func (s *Service) PurchaseSnapshots(ctx context.Context, companyID int64) (int, []SnapshotDrift, error) {
	pairs, err := s.repo.SnapshotPairs(ctx, companyID)
	if err != nil {
		return 0, nil, err
	}
	drift := make([]SnapshotDrift, 0)
	for _, p := range pairs {
		if p.LedgerPrice.Sub(p.CachedPrice).Abs().GreaterThan(s.epsilon) || p.RowMissing {
			drift = append(drift, SnapshotDrift{
				BranchID:    p.BranchID,
				ItemID:      p.ItemID,
				LedgerPrice: p.LedgerPrice.String(),
				CachedPrice: p.CachedPrice.String(),
				RowMissing:  p.RowMissing,
			})
		}
	}
	return len(pairs), drift, nil
}

// Run executes both checks concurrently and records the report.
func (s *Service) Run(ctx context.Context, companyID int64) (Report, error) {
	report := Report{CompanyID: companyID, RanAt: time.Now().UTC()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		total, drift, err := s.Balances(gctx, companyID)
		if err != nil {
			return err
		}
		report.BalancesTotal, report.Balances = total, drift
		return nil
	})
	g.Go(func() error {
		total, drift, err := s.PurchaseSnapshots(gctx, companyID)
		if err != nil {
			return err
		}
		report.SnapshotsTotal, report.Snapshots = total, drift
		return nil
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	if s.metrics != nil {
		s.metrics.ReconcileDrift("balance", len(report.Balances))
		s.metrics.ReconcileDrift("purchase_snapshot", len(report.Snapshots))
	}
	if s.logger != nil {
		s.logger.Info("reconcile run",
			slog.Int64("company_id", companyID),
			slog.Int("balance_drift", len(report.Balances)),
			slog.Int("snapshot_drift", len(report.Snapshots)))
	}
	s.mu.Lock()
	s.lastRun[companyID] = report
	s.mu.Unlock()
	return report, nil
}

// LastReport returns the most recent report for a company, if any.
func (s *Service) LastReport(companyID int64) (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lastRun[companyID]
	return r, ok
}

// Backfill creates missing derived rows. It never overwrites: a key
// that drifts while present stays drifting until an operator decides.
func (s *Service) Backfill(ctx context.Context, companyID int64) (BackfillResult, error) {
	balances, err := s.repo.BackfillBalances(ctx, companyID)
	if err != nil {
		return BackfillResult{}, err
	}
	snapshots, err := s.repo.BackfillSnapshots(ctx, companyID)
	if err != nil {
		return BackfillResult{}, err
	}
	if s.logger != nil {
		s.logger.Info("reconcile backfill",
			slog.Int64("company_id", companyID),
			slog.Int64("balances_created", balances),
			slog.Int64("snapshots_created", snapshots))
	}
	return BackfillResult{Balances: balances, Snapshots: snapshots}, nil
}
