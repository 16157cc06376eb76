package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/catalog"
	"github.com/apotek-erp/apotek-erp/internal/ledger"
	"github.com/apotek-erp/apotek-erp/internal/pricing"
	"github.com/apotek-erp/apotek-erp/internal/shared"
	"github.com/apotek-erp/apotek-erp/internal/units"
)

// RepositoryPort abstracts document persistence.
type RepositoryPort interface {
	Create(ctx context.Context, doc Document, lines []Line) (Document, error)
	Get(ctx context.Context, companyID int64, id string) (Document, []Line, error)
	List(ctx context.Context, companyID int64, f Filter) ([]Document, error)
	ClaimForPosting(ctx context.Context, companyID int64, id string) error
	Reopen(ctx context.Context, companyID int64, id string) error
	Cancel(ctx context.Context, companyID int64, id string) error
	RecordLineCosts(ctx context.Context, id string, lines []Line) error
}

// LedgerPort is the slice of the ledger writer posting needs.
type LedgerPort interface {
	AppendBatch(ctx context.Context, lines []ledger.AppendInput) ([]ledger.Entry, error)
	GetBalance(ctx context.Context, companyID, branchID, itemID int64) (ledger.Balance, error)
}

// CatalogPort supplies unit ratios and tier validation.
type CatalogPort interface {
	GetRaw(ctx context.Context, companyID, itemID int64) (catalog.Item, error)
}

// CostResolver captures cost of goods at post time.
type CostResolver interface {
	BestAvailableCost(ctx context.Context, companyID, branchID, itemID int64) (pricing.Cost, error)
}

// Service orchestrates the sales document lifecycle.
type Service struct {
	repo    RepositoryPort
	ledger  LedgerPort
	catalog CatalogPort
	costs   CostResolver
	audit   AuditPort
	logger  *slog.Logger

	// guardStock rejects posts that would push stock negative.
	// Pharmacies selling from the floor often post after the fact, so
	// the guard is a tenant choice, off by default.
	guardStock bool
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// NewService constructs Service. audit and logger may be nil.
func NewService(repo RepositoryPort, lg LedgerPort, cat CatalogPort, costs CostResolver, audit AuditPort, logger *slog.Logger, guardStock bool) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: lg, catalog: cat, costs: costs, audit: audit, logger: logger, guardStock: guardStock}
}

// LineInput is one document line as entered.
type LineInput struct {
	ItemID    int64
	Unit      string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// CreateInput describes a new document.
type CreateInput struct {
	Kind       DocumentKind
	BranchID   int64
	CustomerID int64
	Number     string
	Note       string
	DocDate    time.Time
	Lines      []LineInput
	ActorID    int64
}

// Create validates lines against the catalog and stores the document
// as DRAFT.
func (s *Service) Create(ctx context.Context, companyID int64, in CreateInput) (Document, error) {
	if in.Kind != KindInvoice && in.Kind != KindQuotation {
		return Document{}, shared.Validationf("kind must be sales_invoice or quotation")
	}
	if in.BranchID == 0 {
		return Document{}, shared.Validationf("branch is required")
	}
	if len(in.Lines) == 0 {
		return Document{}, ErrEmptyDocument
	}
	lines := make([]Line, 0, len(in.Lines))
	for i, li := range in.Lines {
		if !li.Quantity.IsPositive() {
			return Document{}, shared.Validationf("line %d: quantity must be positive", i+1)
		}
		if li.UnitPrice.IsNegative() {
			return Document{}, shared.Validationf("line %d: unit price must not be negative", i+1)
		}
		item, err := s.catalog.GetRaw(ctx, companyID, li.ItemID)
		if err != nil {
			return Document{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		if _, ok := item.TierOf(li.Unit); !ok {
			return Document{}, fmt.Errorf("line %d: %w", i+1, catalog.ErrUnknownUnit)
		}
		lines = append(lines, Line{
			ItemID:    li.ItemID,
			Unit:      li.Unit,
			Quantity:  li.Quantity,
			UnitPrice: li.UnitPrice,
		})
	}
	docDate := in.DocDate
	if docDate.IsZero() {
		docDate = time.Now().UTC()
	}
	number := in.Number
	if number == "" {
		number = generateNumber(in.Kind)
	}
	doc, err := s.repo.Create(ctx, Document{
		ID:         uuid.NewString(),
		CompanyID:  companyID,
		BranchID:   in.BranchID,
		Kind:       in.Kind,
		Number:     number,
		CustomerID: in.CustomerID,
		Status:     StatusDraft,
		Note:       in.Note,
		DocDate:    docDate,
	}, lines)
	if err != nil {
		return Document{}, err
	}
	s.recordAudit(ctx, in.ActorID, "sales.create", doc)
	return doc, nil
}

// Post appends negative SALE deltas to the ledger, one batch per
// document. Each line's cost of goods is resolved at this moment and
// written back to the line; the invoice keeps the margin it was
// posted with even if costs move later.
func (s *Service) Post(ctx context.Context, companyID int64, id string, actorID int64) ([]ledger.Entry, error) {
	doc, lines, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if doc.Kind == KindQuotation {
		return nil, ErrQuotationNotPostable
	}
	if len(lines) == 0 {
		return nil, ErrEmptyDocument
	}
	batch := make([]ledger.AppendInput, 0, len(lines))
	for i := range lines {
		item, err := s.catalog.GetRaw(ctx, companyID, lines[i].ItemID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		qtyBase, err := quantityInBase(item, lines[i])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if s.guardStock {
			if err := s.checkStock(ctx, companyID, doc.BranchID, lines[i].ItemID, qtyBase); err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
		}
		cost, err := s.costs.BestAvailableCost(ctx, companyID, doc.BranchID, lines[i].ItemID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		lines[i].UnitCost = decimal.NewNullDecimal(cost.Amount)
		lines[i].CostSource = string(cost.Source)
		batch = append(batch, ledger.AppendInput{
			CompanyID:     companyID,
			BranchID:      doc.BranchID,
			ItemID:        lines[i].ItemID,
			Type:          ledger.TransactionSale,
			QuantityDelta: qtyBase.Neg(),
			UnitCost:      decimal.NewNullDecimal(cost.Amount),
			ReferenceType: ledger.ReferenceSalesInvoice,
			ReferenceID:   doc.ID,
			ActorID:       actorID,
		})
	}
	if err := s.repo.ClaimForPosting(ctx, companyID, id); err != nil {
		return nil, err
	}
	entries, err := s.ledger.AppendBatch(ctx, batch)
	if err != nil {
		_ = s.repo.Reopen(ctx, companyID, id)
		return nil, err
	}
	// The ledger rows are committed; the invoice stays POSTED even if
	// the cost write-back fails. Reconciliation against the ledger can
	// recover the margin figures.
	if err := s.repo.RecordLineCosts(ctx, id, lines); err != nil {
		s.logger.Warn("sales post: line cost write-back failed",
			slog.String("document_id", id), slog.Any("error", err))
	}
	s.recordAudit(ctx, actorID, "sales.post", doc)
	return entries, nil
}

func (s *Service) checkStock(ctx context.Context, companyID, branchID, itemID int64, qtyBase decimal.Decimal) error {
	bal, err := s.ledger.GetBalance(ctx, companyID, branchID, itemID)
	if err != nil {
		if errors.Is(err, ledger.ErrEntryNotFound) {
			return ErrInsufficientStock
		}
		return err
	}
	if bal.CurrentStock.LessThan(qtyBase) {
		return ErrInsufficientStock
	}
	return nil
}

// Cancel voids a draft document.
func (s *Service) Cancel(ctx context.Context, companyID int64, id string, actorID int64) error {
	if err := s.repo.Cancel(ctx, companyID, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "sales.cancel", Document{ID: id, CompanyID: companyID})
	return nil
}

// Get loads one document with lines.
func (s *Service) Get(ctx context.Context, companyID int64, id string) (Document, []Line, error) {
	return s.repo.Get(ctx, companyID, id)
}

// List returns documents matching the filter.
func (s *Service) List(ctx context.Context, companyID int64, f Filter) ([]Document, error) {
	return s.repo.List(ctx, companyID, f)
}

func quantityInBase(item catalog.Item, line Line) (decimal.Decimal, error) {
	tier, ok := item.TierOf(line.Unit)
	if !ok {
		return decimal.Decimal{}, catalog.ErrUnknownUnit
	}
	ratio := item.Ratio()
	switch tier {
	case catalog.TierSupplier:
		return units.SupplierToBase(line.Quantity, ratio), nil
	case catalog.TierRetail:
		return units.RetailToBase(line.Quantity, ratio), nil
	default:
		return line.Quantity, nil
	}
}

func generateNumber(kind DocumentKind) string {
	prefix := "SI"
	if kind == KindQuotation {
		prefix = "SQ"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().UTC().Format("20060102"), uuid.NewString()[:8])
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, doc Document) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "sales_documents",
		EntityID: doc.ID,
		Meta:     map[string]any{"number": doc.Number, "kind": string(doc.Kind)},
	})
}
