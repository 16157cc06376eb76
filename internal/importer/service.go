// Package importer loads opening balances and item master data from
// Excel workbooks. Each file is guarded by an idempotency key so the
// same upload cannot seed stock twice.
package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/apotek-erp/apotek-erp/internal/catalog"
	"github.com/apotek-erp/apotek-erp/internal/ledger"
	"github.com/apotek-erp/apotek-erp/internal/shared"
	"github.com/apotek-erp/apotek-erp/internal/units"
)

const (
	moduleOpeningBalance = "importer.opening_balance"
	moduleItems          = "importer.items"
)

// ErrEmptyFile indicates a workbook without data rows.
var ErrEmptyFile = errors.New("importer: no data rows in file")

// IdempotencyPort guards one import per file content.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// CatalogPort resolves item codes and creates master rows.
type CatalogPort interface {
	GetByCode(ctx context.Context, companyID int64, code string) (catalog.Item, error)
	Create(ctx context.Context, companyID int64, in catalog.ItemInput) (catalog.Item, error)
}

// LedgerPort is the bulk opening-balance writer.
type LedgerPort interface {
	RecordOpeningBalanceBulk(ctx context.Context, rows []ledger.OpeningBalanceInput) (ledger.BulkResult, error)
}

// Service parses workbooks and drives the bulk writer.
type Service struct {
	catalog CatalogPort
	ledger  LedgerPort
	idem    IdempotencyPort
}

// NewService constructs Service.
func NewService(cat CatalogPort, lg LedgerPort, idem IdempotencyPort) *Service {
	return &Service{catalog: cat, ledger: lg, idem: idem}
}

// OpeningBalanceResult summarises one import run.
type OpeningBalanceResult struct {
	Rows     int    `json:"rows"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	FileKey  string `json:"file_key"`
}

// ImportOpeningBalances reads rows of
//
//	item_code | quantity | unit | unit_price
//
// from the first sheet (header row skipped), converts each row to
// base units via the item's tiers, and applies everything through the
// bulk opening-balance path in one transaction. The idempotency key
// is the file's content hash: re-uploading the identical file is a
// no-op conflict, while a corrected file imports cleanly as an
// opening-balance update.
func (s *Service) ImportOpeningBalances(ctx context.Context, companyID, branchID, actorID int64, r io.Reader) (OpeningBalanceResult, error) {
	if companyID == 0 || branchID == 0 {
		return OpeningBalanceResult{}, shared.Validationf("company and branch are required")
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return OpeningBalanceResult{}, err
	}
	key := contentKey(companyID, branchID, raw)
	if err := s.idem.CheckAndInsert(ctx, key, moduleOpeningBalance); err != nil {
		return OpeningBalanceResult{}, err
	}

	rows, err := dataRows(raw)
	if err != nil {
		_ = s.idem.Delete(ctx, key)
		return OpeningBalanceResult{}, err
	}
	inputs := make([]ledger.OpeningBalanceInput, 0, len(rows))
	for i, row := range rows {
		in, err := s.parseOpeningRow(ctx, companyID, branchID, actorID, row)
		if err != nil {
			_ = s.idem.Delete(ctx, key)
			return OpeningBalanceResult{}, fmt.Errorf("row %d: %w", i+2, err)
		}
		inputs = append(inputs, in)
	}
	result, err := s.ledger.RecordOpeningBalanceBulk(ctx, inputs)
	if err != nil {
		// Roll the key back so a fixed environment can retry the file.
		_ = s.idem.Delete(ctx, key)
		return OpeningBalanceResult{}, err
	}
	return OpeningBalanceResult{
		Rows:     len(inputs),
		Inserted: result.Inserted,
		Updated:  result.Updated,
		FileKey:  key,
	}, nil
}

func (s *Service) parseOpeningRow(ctx context.Context, companyID, branchID, actorID int64, row []string) (ledger.OpeningBalanceInput, error) {
	if len(row) < 4 {
		return ledger.OpeningBalanceInput{}, shared.Validationf("expected item_code, quantity, unit, unit_price")
	}
	code := strings.TrimSpace(row[0])
	if code == "" {
		return ledger.OpeningBalanceInput{}, shared.Validationf("item_code is empty")
	}
	qty, err := decimal.NewFromString(strings.TrimSpace(row[1]))
	if err != nil {
		return ledger.OpeningBalanceInput{}, shared.Validationf("quantity %q is not a decimal", row[1])
	}
	price, err := decimal.NewFromString(strings.TrimSpace(row[3]))
	if err != nil {
		return ledger.OpeningBalanceInput{}, shared.Validationf("unit_price %q is not a decimal", row[3])
	}
	item, err := s.catalog.GetByCode(ctx, companyID, code)
	if err != nil {
		return ledger.OpeningBalanceInput{}, err
	}
	unit := strings.TrimSpace(row[2])
	tier, ok := item.TierOf(unit)
	if !ok {
		return ledger.OpeningBalanceInput{}, fmt.Errorf("unit %q: %w", unit, catalog.ErrUnknownUnit)
	}
	ratio := item.Ratio()
	qtyBase, costBase := qty, price
	switch tier {
	case catalog.TierSupplier:
		qtyBase = units.SupplierToBase(qty, ratio)
		costBase = units.CostPerBase(price, ratio)
	case catalog.TierRetail:
		qtyBase = units.RetailToBase(qty, ratio)
		if !qtyBase.IsZero() {
			costBase = price.Mul(qty).Div(qtyBase)
		}
	}
	return ledger.OpeningBalanceInput{
		CompanyID: companyID,
		BranchID:  branchID,
		ItemID:    item.ID,
		Quantity:  qtyBase,
		UnitCost:  costBase,
		ActorID:   actorID,
	}, nil
}

// ItemImportResult summarises an item master import.
type ItemImportResult struct {
	Rows    int `json:"rows"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// ImportItems reads rows of
//
//	code | name | generic_name | barcode | supplier_unit |
//	wholesale_unit | retail_unit | pack_size | wholesale_units_per_supplier
//
// and creates missing items. Rows whose code already exists are
// skipped, so the same master file can be replayed safely.
func (s *Service) ImportItems(ctx context.Context, companyID, actorID int64, r io.Reader) (ItemImportResult, error) {
	if companyID == 0 {
		return ItemImportResult{}, shared.Validationf("company is required")
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return ItemImportResult{}, err
	}
	key := contentKey(companyID, 0, raw)
	if err := s.idem.CheckAndInsert(ctx, key, moduleItems); err != nil {
		return ItemImportResult{}, err
	}
	rows, err := dataRows(raw)
	if err != nil {
		_ = s.idem.Delete(ctx, key)
		return ItemImportResult{}, err
	}
	result := ItemImportResult{Rows: len(rows)}
	for i, row := range rows {
		if len(row) < 9 {
			_ = s.idem.Delete(ctx, key)
			return ItemImportResult{}, fmt.Errorf("row %d: %w", i+2, shared.Validationf("expected 9 columns"))
		}
		packSize, err := decimal.NewFromString(strings.TrimSpace(row[7]))
		if err != nil {
			_ = s.idem.Delete(ctx, key)
			return ItemImportResult{}, fmt.Errorf("row %d: %w", i+2, shared.Validationf("pack_size %q is not a decimal", row[7]))
		}
		perSupplier, err := decimal.NewFromString(strings.TrimSpace(row[8]))
		if err != nil {
			_ = s.idem.Delete(ctx, key)
			return ItemImportResult{}, fmt.Errorf("row %d: %w", i+2, shared.Validationf("wholesale_units_per_supplier %q is not a decimal", row[8]))
		}
		_, err = s.catalog.Create(ctx, companyID, catalog.ItemInput{
			Code:                      strings.TrimSpace(row[0]),
			Name:                      strings.TrimSpace(row[1]),
			GenericName:               strings.TrimSpace(row[2]),
			Barcode:                   strings.TrimSpace(row[3]),
			SupplierUnit:              strings.TrimSpace(row[4]),
			WholesaleUnit:             strings.TrimSpace(row[5]),
			RetailUnit:                strings.TrimSpace(row[6]),
			PackSize:                  packSize,
			WholesaleUnitsPerSupplier: perSupplier,
			Active:                    true,
			ActorID:                   actorID,
		})
		switch {
		case err == nil:
			result.Created++
		case errors.Is(err, catalog.ErrDuplicateCode):
			result.Skipped++
		default:
			_ = s.idem.Delete(ctx, key)
			return ItemImportResult{}, fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	return result, nil
}

// dataRows opens the workbook and returns the first sheet's rows
// minus the header.
func dataRows(raw []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("importer: open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, ErrEmptyFile
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, ErrEmptyFile
	}
	return rows[1:], nil
}

func contentKey(companyID, branchID int64, raw []byte) string {
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%d:%d:%s", companyID, branchID, hex.EncodeToString(sum[:]))
}
