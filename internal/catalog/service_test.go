package catalog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/apotek-erp/apotek-erp/internal/pricing"
)

type memoryRepo struct {
	nextID int64
	items  map[int64]Item
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, items: make(map[int64]Item)}
}

func (m *memoryRepo) Create(_ context.Context, it Item) (Item, error) {
	for _, ex := range m.items {
		if ex.CompanyID == it.CompanyID && ex.Code == it.Code {
			return Item{}, ErrDuplicateCode
		}
	}
	it.ID = m.nextID
	m.nextID++
	m.items[it.ID] = it
	return it, nil
}

func (m *memoryRepo) Update(_ context.Context, it Item) (Item, error) {
	if _, ok := m.items[it.ID]; !ok {
		return Item{}, ErrItemNotFound
	}
	m.items[it.ID] = it
	return it, nil
}

func (m *memoryRepo) Get(_ context.Context, companyID, itemID int64) (Item, error) {
	it, ok := m.items[itemID]
	if !ok || it.CompanyID != companyID {
		return Item{}, ErrItemNotFound
	}
	return it, nil
}

func (m *memoryRepo) GetByCode(_ context.Context, companyID int64, code string) (Item, error) {
	for _, it := range m.items {
		if it.CompanyID == companyID && it.Code == code {
			return it, nil
		}
	}
	return Item{}, ErrItemNotFound
}

func (m *memoryRepo) List(_ context.Context, companyID int64, _ Filter) ([]Item, error) {
	var out []Item
	for _, it := range m.items {
		if it.CompanyID == companyID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memoryRepo) Count(_ context.Context, companyID int64, _ Filter) (int, error) {
	total := 0
	for _, it := range m.items {
		if it.CompanyID == companyID {
			total++
		}
	}
	return total, nil
}

type fixedCosts struct {
	cost pricing.Cost
}

func (f fixedCosts) BestAvailableCost(context.Context, int64, int64, int64) (pricing.Cost, error) {
	return f.cost, nil
}

func (f fixedCosts) BestAvailableCosts(_ context.Context, _, _ int64, itemIDs []int64) (map[int64]pricing.Cost, error) {
	out := make(map[int64]pricing.Cost, len(itemIDs))
	for _, id := range itemIDs {
		out[id] = f.cost
	}
	return out, nil
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func validInput(t *testing.T) ItemInput {
	return ItemInput{
		Code:                      "AMX-500",
		Name:                      "Amoxicillin 500mg",
		SupplierUnit:              "karton",
		WholesaleUnit:             "box",
		RetailUnit:                "strip",
		PackSize:                  dec(t, "10"),
		WholesaleUnitsPerSupplier: dec(t, "20"),
		Active:                    true,
	}
}

func TestCreateRejectsNonPositivePackSize(t *testing.T) {
	svc := NewService(newMemoryRepo(), fixedCosts{}, nil)
	in := validInput(t)
	in.PackSize = decimal.Zero
	_, err := svc.Create(context.Background(), 1, in)
	require.Error(t, err)
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	svc := NewService(newMemoryRepo(), fixedCosts{}, nil)
	_, err := svc.Create(context.Background(), 1, validInput(t))
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), 1, validInput(t))
	require.ErrorIs(t, err, ErrDuplicateCode)
}

func TestGetOverridesStoredCostWithResolvedCost(t *testing.T) {
	repo := newMemoryRepo()
	resolved := pricing.Cost{Amount: dec(t, "125.5"), Source: pricing.SourceLastPurchase}
	svc := NewService(repo, fixedCosts{cost: resolved}, nil)

	it, err := svc.Create(context.Background(), 1, validInput(t))
	require.NoError(t, err)

	// Poison the stored column the way a legacy migration would.
	it.StoredCost = dec(t, "999999")
	repo.items[it.ID] = it

	view, err := svc.Get(context.Background(), 1, 2, it.ID)
	require.NoError(t, err)
	require.Equal(t, "125.5", view.Cost)
	require.Equal(t, "last_purchase", view.CostSource)
}

func TestSanitizedViewNeverSerializesStoredColumns(t *testing.T) {
	it := Item{
		Code:       "X",
		StoredCost: dec(t, "777"),
	}
	raw, err := json.Marshal(Sanitize(it, zeroCost()))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "777")
	require.NotContains(t, string(raw), "stored_cost")
}

func TestValidateUnitAgainstTiers(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, fixedCosts{}, nil)
	it, err := svc.Create(context.Background(), 1, validInput(t))
	require.NoError(t, err)

	tier, err := svc.ValidateUnit(context.Background(), 1, it.ID, "box")
	require.NoError(t, err)
	require.Equal(t, TierWholesale, tier)

	_, err = svc.ValidateUnit(context.Background(), 1, it.ID, "pcs")
	require.ErrorIs(t, err, ErrUnknownUnit)
}

func TestUpdatePreservesCode(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, fixedCosts{}, nil)
	it, err := svc.Create(context.Background(), 1, validInput(t))
	require.NoError(t, err)

	in := validInput(t)
	in.Code = "CHANGED"
	in.Name = "Renamed"
	updated, err := svc.Update(context.Background(), 1, it.ID, in)
	require.NoError(t, err)
	require.Equal(t, "AMX-500", updated.Code)
	require.Equal(t, "Renamed", updated.Name)
}
