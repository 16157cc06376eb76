package search

import (
	"context"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/apotek-erp/apotek-erp/internal/catalog"
	"github.com/apotek-erp/apotek-erp/internal/pricing"
)

// foldTransformer strips diacritics so "paracétamol" matches
// "paracetamol".
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold normalises a query string for matching.
func Fold(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	out, _, err := transform.String(foldTransformer, q)
	if err != nil {
		return q
	}
	return out
}

// Row is one search hit: the sanitized item plus the stock facts the
// snapshot tables hold for it.
type Row struct {
	catalog.ItemView
	CurrentStock     string `json:"current_stock"`
	LastPurchaseDate string `json:"last_purchase_date,omitempty"`
	LastSupplierID   int64  `json:"last_supplier_id,omitempty"`
}

// ItemFinder is the slice of the catalog the search path needs.
type ItemFinder interface {
	List(ctx context.Context, companyID int64, f catalog.Filter) ([]catalog.Item, error)
}

// StockReader reads the derived tables.
type StockReader interface {
	StockFor(ctx context.Context, companyID, branchID int64, itemIDs []int64) (map[int64]StockFacts, error)
}

// CostResolver resolves costs for items whose snapshot is absent.
type CostResolver interface {
	BestAvailableCosts(ctx context.Context, companyID, branchID int64, itemIDs []int64) (map[int64]pricing.Cost, error)
}

// Service assembles search results snapshot-first: current stock and
// last purchase come straight from the derived tables, and only items
// with no snapshot at all pay for a resolver fallback.
type Service struct {
	items ItemFinder
	stock StockReader
	costs CostResolver
	cache *Cache
}

// NewService constructs Service. cache may be nil.
func NewService(items ItemFinder, stock StockReader, costs CostResolver, cache *Cache) *Service {
	return &Service{items: items, stock: stock, costs: costs, cache: cache}
}

// Query describes one search request.
type Query struct {
	Text     string
	BranchID int64
	Limit    int
}

// Search runs the query through the cache; misses load from the
// snapshot tables. Results may trail the ledger by one cache bump,
// never more.
func (s *Service) Search(ctx context.Context, companyID int64, q Query) ([]Row, error) {
	folded := Fold(q.Text)
	key, err := s.cache.BuildKey(ctx, companyID, "q", folded, "b", q.BranchID, "l", q.Limit)
	if err != nil {
		return nil, err
	}
	var rows []Row
	err = s.cache.FetchJSON(ctx, key, &rows, func(ctx context.Context) (any, error) {
		return s.load(ctx, companyID, folded, q)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) load(ctx context.Context, companyID int64, folded string, q Query) ([]Row, error) {
	active := true
	items, err := s.items.List(ctx, companyID, catalog.Filter{
		Search: folded,
		Active: &active,
		Limit:  q.Limit,
	})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	facts, err := s.stock.StockFor(ctx, companyID, q.BranchID, ids)
	if err != nil {
		return nil, err
	}

	// Resolver fallback only for items the snapshot knows nothing
	// about; snapshot hits already carry the last purchase price.
	var missing []int64
	for _, id := range ids {
		if !facts[id].HasSnapshot {
			missing = append(missing, id)
		}
	}
	fallback := map[int64]pricing.Cost{}
	if len(missing) > 0 {
		fallback, err = s.costs.BestAvailableCosts(ctx, companyID, q.BranchID, missing)
		if err != nil {
			return nil, err
		}
	}

	rows := make([]Row, 0, len(items))
	for _, it := range items {
		f := facts[it.ID]
		cost := pricing.Cost{Amount: f.LastPurchasePrice, Source: pricing.SourceLastPurchase}
		if !f.HasSnapshot {
			cost = fallback[it.ID]
		}
		row := Row{
			ItemView:     catalog.Sanitize(it, cost),
			CurrentStock: orZero(f.CurrentStock),
		}
		if f.HasSnapshot {
			row.LastPurchaseDate = f.LastPurchaseDate.Format("2006-01-02")
			row.LastSupplierID = f.LastSupplierID
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func orZero(d decimal.Decimal) string {
	if d.IsZero() {
		return "0"
	}
	return d.String()
}
