package catalog

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/pricing"
	"github.com/apotek-erp/apotek-erp/internal/shared"
)

// RepositoryPort abstracts item persistence for the service.
type RepositoryPort interface {
	Create(ctx context.Context, it Item) (Item, error)
	Update(ctx context.Context, it Item) (Item, error)
	Get(ctx context.Context, companyID, itemID int64) (Item, error)
	GetByCode(ctx context.Context, companyID int64, code string) (Item, error)
	List(ctx context.Context, companyID int64, f Filter) ([]Item, error)
	Count(ctx context.Context, companyID int64, f Filter) (int, error)
}

// CostResolver is the slice of the pricing resolver the catalog needs
// to produce sanitized views.
type CostResolver interface {
	BestAvailableCost(ctx context.Context, companyID, branchID, itemID int64) (pricing.Cost, error)
	BestAvailableCosts(ctx context.Context, companyID, branchID int64, itemIDs []int64) (map[int64]pricing.Cost, error)
}

// Service owns item lifecycle and the sanitized read path.
type Service struct {
	repo  RepositoryPort
	costs CostResolver
	audit AuditPort
}

// AuditPort records mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// NewService constructs Service.
func NewService(repo RepositoryPort, costs CostResolver, audit AuditPort) *Service {
	return &Service{repo: repo, costs: costs, audit: audit}
}

// ItemInput carries the writable attributes of an item. Cost and price
// are intentionally absent: stock valuation lives on the ledger.
type ItemInput struct {
	Code                      string
	Name                      string
	GenericName               string
	Barcode                   string
	SupplierUnit              string
	WholesaleUnit             string
	RetailUnit                string
	PackSize                  decimal.Decimal
	WholesaleUnitsPerSupplier decimal.Decimal
	Active                    bool
	ActorID                   int64
}

func (in ItemInput) validate() error {
	if in.Code == "" {
		return shared.Validationf("code is required")
	}
	if in.Name == "" {
		return shared.Validationf("name is required")
	}
	if in.SupplierUnit == "" || in.WholesaleUnit == "" || in.RetailUnit == "" {
		return shared.Validationf("all three unit tiers are required")
	}
	if !in.PackSize.IsPositive() {
		return shared.Validationf("pack_size must be positive")
	}
	if !in.WholesaleUnitsPerSupplier.IsPositive() {
		return shared.Validationf("wholesale_units_per_supplier must be positive")
	}
	return nil
}

// Create validates and stores a new item.
func (s *Service) Create(ctx context.Context, companyID int64, in ItemInput) (Item, error) {
	if err := in.validate(); err != nil {
		return Item{}, err
	}
	it, err := s.repo.Create(ctx, Item{
		CompanyID:                 companyID,
		Code:                      in.Code,
		Name:                      in.Name,
		GenericName:               in.GenericName,
		Barcode:                   in.Barcode,
		SupplierUnit:              in.SupplierUnit,
		WholesaleUnit:             in.WholesaleUnit,
		RetailUnit:                in.RetailUnit,
		PackSize:                  in.PackSize,
		WholesaleUnitsPerSupplier: in.WholesaleUnitsPerSupplier,
		Active:                    in.Active,
	})
	if err != nil {
		return Item{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "item.create",
			Entity:   "items",
			EntityID: strconv.FormatInt(it.ID, 10),
		})
	}
	return it, nil
}

// Update validates and rewrites an existing item. Code is immutable
// after creation; it anchors ledger history and import idempotency.
func (s *Service) Update(ctx context.Context, companyID, itemID int64, in ItemInput) (Item, error) {
	if err := in.validate(); err != nil {
		return Item{}, err
	}
	current, err := s.repo.Get(ctx, companyID, itemID)
	if err != nil {
		return Item{}, err
	}
	current.Name = in.Name
	current.GenericName = in.GenericName
	current.Barcode = in.Barcode
	current.SupplierUnit = in.SupplierUnit
	current.WholesaleUnit = in.WholesaleUnit
	current.RetailUnit = in.RetailUnit
	current.PackSize = in.PackSize
	current.WholesaleUnitsPerSupplier = in.WholesaleUnitsPerSupplier
	current.Active = in.Active
	it, err := s.repo.Update(ctx, current)
	if err != nil {
		return Item{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "item.update",
			Entity:   "items",
			EntityID: strconv.FormatInt(it.ID, 10),
		})
	}
	return it, nil
}

// Get returns a sanitized view of one item, cost resolved for the
// given branch (zero for company-wide).
func (s *Service) Get(ctx context.Context, companyID, branchID, itemID int64) (ItemView, error) {
	it, err := s.repo.Get(ctx, companyID, itemID)
	if err != nil {
		return ItemView{}, err
	}
	cost, err := s.costs.BestAvailableCost(ctx, companyID, branchID, itemID)
	if err != nil {
		return ItemView{}, err
	}
	return Sanitize(it, cost), nil
}

// GetRaw returns the stored item without a cost lookup, for internal
// callers that only need the unit ratios.
func (s *Service) GetRaw(ctx context.Context, companyID, itemID int64) (Item, error) {
	return s.repo.Get(ctx, companyID, itemID)
}

// GetByCode is GetRaw keyed by item code.
func (s *Service) GetByCode(ctx context.Context, companyID int64, code string) (Item, error) {
	return s.repo.GetByCode(ctx, companyID, code)
}

// List returns sanitized views with one batched cost resolution.
func (s *Service) List(ctx context.Context, companyID, branchID int64, f Filter) ([]ItemView, error) {
	items, err := s.repo.List(ctx, companyID, f)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	costs, err := s.costs.BestAvailableCosts(ctx, companyID, branchID, ids)
	if err != nil {
		return nil, err
	}
	out := make([]ItemView, 0, len(items))
	for _, it := range items {
		out = append(out, Sanitize(it, costs[it.ID]))
	}
	return out, nil
}

// Count returns how many items match the filter, for pagination.
func (s *Service) Count(ctx context.Context, companyID int64, f Filter) (int, error) {
	return s.repo.Count(ctx, companyID, f)
}

// ValidateUnit checks a transaction unit string against the item's
// fixed tiers.
func (s *Service) ValidateUnit(ctx context.Context, companyID, itemID int64, unit string) (UnitTier, error) {
	it, err := s.repo.Get(ctx, companyID, itemID)
	if err != nil {
		return "", err
	}
	tier, ok := it.TierOf(unit)
	if !ok {
		return "", ErrUnknownUnit
	}
	return tier, nil
}
