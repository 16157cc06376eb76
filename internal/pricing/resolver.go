// Package pricing computes the canonical cost of an item at a branch
// from the inventory ledger. It is the only legitimate source of cost
// figures; stored item price columns are never read.
package pricing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNoCost indicates the rule found no usable cost for the key. It
// is recoverable: BestAvailableCost continues down the fallback chain
// and ultimately returns zero.
var ErrNoCost = errors.New("pricing: no cost data")

// Source identifies which rule produced a cost.
type Source string

const (
	SourceLastPurchase    Source = "last_purchase"
	SourceOpeningBalance  Source = "opening_balance"
	SourceWeightedAverage Source = "weighted_average"
	SourceNone            Source = "none"
)

// Cost is a resolved cost per base unit together with its source.
type Cost struct {
	Amount decimal.Decimal `json:"amount"`
	Source Source          `json:"source"`
}

// RepositoryPort abstracts the ledger aggregation queries. BranchID
// zero widens a query to the whole company. All reads are
// point-in-time: they take no locks and may be stale the moment they
// return, which is acceptable for an advisory display value.
type RepositoryPort interface {
	LastPurchaseCost(ctx context.Context, companyID, branchID, itemID int64) (decimal.Decimal, error)
	OpeningBalanceCost(ctx context.Context, companyID, branchID, itemID int64) (decimal.Decimal, error)
	WeightedAverageCost(ctx context.Context, companyID, branchID, itemID int64) (decimal.Decimal, error)
	LastPurchaseCosts(ctx context.Context, companyID, branchID int64, itemIDs []int64) (map[int64]decimal.Decimal, error)
	OpeningBalanceCosts(ctx context.Context, companyID, branchID int64, itemIDs []int64) (map[int64]decimal.Decimal, error)
	WeightedAverageCosts(ctx context.Context, companyID, branchID int64, itemIDs []int64) (map[int64]decimal.Decimal, error)
}

// Resolver answers "what does this item cost" with a fixed priority:
// last purchase, then opening balance, then weighted average, then
// zero. The order is policy and must not be rearranged: the most
// recent purchase best approximates replacement cost, the weighted
// average is the most stable fallback, and zero guarantees callers
// always get a number.
type Resolver struct {
	repo RepositoryPort
}

// NewResolver builds Resolver.
func NewResolver(repo RepositoryPort) *Resolver {
	return &Resolver{repo: repo}
}

// LastPurchaseCost returns the unit cost of the most recent PURCHASE
// ledger row for the key.
func (r *Resolver) LastPurchaseCost(ctx context.Context, companyID, branchID, itemID int64) (decimal.Decimal, error) {
	return r.repo.LastPurchaseCost(ctx, companyID, branchID, itemID)
}

// OpeningBalanceCost returns the unit cost of the key's
// OPENING_BALANCE row.
func (r *Resolver) OpeningBalanceCost(ctx context.Context, companyID, branchID, itemID int64) (decimal.Decimal, error) {
	return r.repo.OpeningBalanceCost(ctx, companyID, branchID, itemID)
}

// WeightedAverageCost averages cost over stock-increasing ledger rows
// only. A zero positive-quantity denominator yields ErrNoCost, never
// a division error.
func (r *Resolver) WeightedAverageCost(ctx context.Context, companyID, branchID, itemID int64) (decimal.Decimal, error) {
	return r.repo.WeightedAverageCost(ctx, companyID, branchID, itemID)
}

// BestAvailableCost walks the fallback chain for one key.
func (r *Resolver) BestAvailableCost(ctx context.Context, companyID, branchID, itemID int64) (Cost, error) {
	type rule struct {
		src Source
		fn  func(context.Context, int64, int64, int64) (decimal.Decimal, error)
	}
	for _, rl := range []rule{
		{SourceLastPurchase, r.repo.LastPurchaseCost},
		{SourceOpeningBalance, r.repo.OpeningBalanceCost},
		{SourceWeightedAverage, r.repo.WeightedAverageCost},
	} {
		amount, err := rl.fn(ctx, companyID, branchID, itemID)
		if err == nil {
			return Cost{Amount: amount, Source: rl.src}, nil
		}
		if !errors.Is(err, ErrNoCost) {
			return Cost{}, err
		}
	}
	return Cost{Amount: decimal.Zero, Source: SourceNone}, nil
}

// BestAvailableCosts resolves a set of items with three set-wise
// queries instead of per-item round trips.
func (r *Resolver) BestAvailableCosts(ctx context.Context, companyID, branchID int64, itemIDs []int64) (map[int64]Cost, error) {
	out := make(map[int64]Cost, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	last, err := r.repo.LastPurchaseCosts(ctx, companyID, branchID, itemIDs)
	if err != nil {
		return nil, err
	}
	opening, err := r.repo.OpeningBalanceCosts(ctx, companyID, branchID, itemIDs)
	if err != nil {
		return nil, err
	}
	avg, err := r.repo.WeightedAverageCosts(ctx, companyID, branchID, itemIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range itemIDs {
		switch {
		case hasKey(last, id):
			out[id] = Cost{Amount: last[id], Source: SourceLastPurchase}
		case hasKey(opening, id):
			out[id] = Cost{Amount: opening[id], Source: SourceOpeningBalance}
		case hasKey(avg, id):
			out[id] = Cost{Amount: avg[id], Source: SourceWeightedAverage}
		default:
			out[id] = Cost{Amount: decimal.Zero, Source: SourceNone}
		}
	}
	return out, nil
}

func hasKey(m map[int64]decimal.Decimal, id int64) bool {
	_, ok := m[id]
	return ok
}
