package stocktake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/ledger"
	"github.com/apotek-erp/apotek-erp/internal/pricing"
	"github.com/apotek-erp/apotek-erp/internal/shared"
)

// RepositoryPort abstracts sheet persistence.
type RepositoryPort interface {
	BranchBalances(ctx context.Context, companyID, branchID int64) (map[int64]decimal.Decimal, error)
	CreateSheet(ctx context.Context, sheet Sheet, lines []SheetLine) (Sheet, error)
	GetSheet(ctx context.Context, companyID int64, id string) (Sheet, []SheetLine, error)
	RecordCount(ctx context.Context, companyID int64, sheetID string, itemID int64, counted decimal.Decimal) error
	ClaimForPosting(ctx context.Context, companyID int64, id string) error
	Reopen(ctx context.Context, companyID int64, id string) error
	Cancel(ctx context.Context, companyID int64, id string) error
}

// LedgerPort is the slice of the ledger writer posting needs.
type LedgerPort interface {
	AppendBatch(ctx context.Context, lines []ledger.AppendInput) ([]ledger.Entry, error)
}

// CostResolver values positive adjustment deltas.
type CostResolver interface {
	BestAvailableCost(ctx context.Context, companyID, branchID, itemID int64) (pricing.Cost, error)
}

// Service runs stock takes.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	costs  CostResolver
}

// NewService constructs Service.
func NewService(repo RepositoryPort, lg LedgerPort, costs CostResolver) *Service {
	return &Service{repo: repo, ledger: lg, costs: costs}
}

// GenerateSheet freezes the branch's balances into a new OPEN sheet.
func (s *Service) GenerateSheet(ctx context.Context, companyID, branchID int64, note string) (Sheet, []SheetLine, error) {
	if companyID == 0 || branchID == 0 {
		return Sheet{}, nil, shared.Validationf("company and branch are required")
	}
	balances, err := s.repo.BranchBalances(ctx, companyID, branchID)
	if err != nil {
		return Sheet{}, nil, err
	}
	lines := make([]SheetLine, 0, len(balances))
	for itemID, stock := range balances {
		lines = append(lines, SheetLine{ItemID: itemID, SystemQty: stock})
	}
	sheet, err := s.repo.CreateSheet(ctx, Sheet{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		BranchID:  branchID,
		Number:    fmt.Sprintf("ST-%s-%s", time.Now().UTC().Format("20060102"), uuid.NewString()[:8]),
		Status:    StatusOpen,
		Note:      note,
	}, lines)
	if err != nil {
		return Sheet{}, nil, err
	}
	return sheet, lines, nil
}

// RecordCount stores a counted quantity for one item.
func (s *Service) RecordCount(ctx context.Context, companyID int64, sheetID string, itemID int64, counted decimal.Decimal) error {
	if counted.IsNegative() {
		return shared.Validationf("counted quantity must not be negative")
	}
	return s.repo.RecordCount(ctx, companyID, sheetID, itemID, counted)
}

// Post appends one ADJUSTMENT per counted line whose count differs
// from the frozen system quantity. The delta is counted minus system;
// positive deltas are valued by the cost resolver so found stock
// enters at a sane cost. Uncounted lines are skipped, not zeroed.
func (s *Service) Post(ctx context.Context, companyID int64, sheetID string, actorID int64) ([]ledger.Entry, error) {
	sheet, lines, err := s.repo.GetSheet(ctx, companyID, sheetID)
	if err != nil {
		return nil, err
	}
	var batch []ledger.AppendInput
	for _, line := range lines {
		if !line.CountedQty.Valid {
			continue
		}
		delta := line.CountedQty.Decimal.Sub(line.SystemQty)
		if delta.IsZero() {
			continue
		}
		var cost decimal.NullDecimal
		if delta.IsPositive() {
			resolved, err := s.costs.BestAvailableCost(ctx, companyID, sheet.BranchID, line.ItemID)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", line.ItemID, err)
			}
			cost = decimal.NewNullDecimal(resolved.Amount)
		}
		batch = append(batch, ledger.AppendInput{
			CompanyID:     companyID,
			BranchID:      sheet.BranchID,
			ItemID:        line.ItemID,
			Type:          ledger.TransactionAdjustment,
			QuantityDelta: delta,
			UnitCost:      cost,
			ReferenceType: ledger.ReferenceStockTake,
			ReferenceID:   sheet.ID,
			ActorID:       actorID,
		})
	}
	if len(batch) == 0 {
		counted := false
		for _, line := range lines {
			if line.CountedQty.Valid {
				counted = true
				break
			}
		}
		if !counted {
			return nil, ErrNothingCounted
		}
		// Every counted line matched the system; close the sheet with
		// no ledger writes.
		if err := s.repo.ClaimForPosting(ctx, companyID, sheetID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := s.repo.ClaimForPosting(ctx, companyID, sheetID); err != nil {
		return nil, err
	}
	entries, err := s.ledger.AppendBatch(ctx, batch)
	if err != nil {
		_ = s.repo.Reopen(ctx, companyID, sheetID)
		return nil, err
	}
	return entries, nil
}

// Get loads one sheet with lines.
func (s *Service) Get(ctx context.Context, companyID int64, id string) (Sheet, []SheetLine, error) {
	return s.repo.GetSheet(ctx, companyID, id)
}

// Cancel voids an open sheet.
func (s *Service) Cancel(ctx context.Context, companyID int64, id string) error {
	return s.repo.Cancel(ctx, companyID, id)
}
