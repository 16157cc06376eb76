package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/apotek-erp/apotek-erp/internal/catalog"
	"github.com/apotek-erp/apotek-erp/internal/ledger"
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
}

// LedgerPort is the slice of the ledger writer posting needs.
type LedgerPort interface {
	AppendBatch(ctx context.Context, lines []ledger.AppendInput) ([]ledger.Entry, error)
}

// CatalogPort supplies unit ratios and tier validation.
type CatalogPort interface {
	GetRaw(ctx context.Context, companyID, itemID int64) (catalog.Item, error)
}

// Service orchestrates the purchase document lifecycle.
type Service struct {
	repo    RepositoryPort
	ledger  LedgerPort
	catalog CatalogPort
	audit   AuditPort
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// NewService constructs Service. audit may be nil.
func NewService(repo RepositoryPort, lg LedgerPort, cat CatalogPort, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: lg, catalog: cat, audit: audit}
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
	SupplierID int64
	Number     string
	Note       string
	DocDate    time.Time
	Lines      []LineInput
	ActorID    int64
}

// Create validates lines against the catalog and stores the document
// as DRAFT. Nothing reaches the ledger yet.
func (s *Service) Create(ctx context.Context, companyID int64, in CreateInput) (Document, error) {
	if in.Kind != KindPurchaseInvoice && in.Kind != KindGoodsReceipt {
		return Document{}, shared.Validationf("kind must be purchase_invoice or grn")
	}
	if in.BranchID == 0 || in.SupplierID == 0 {
		return Document{}, shared.Validationf("branch and supplier are required")
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
		SupplierID: in.SupplierID,
		Status:     StatusDraft,
		Note:       in.Note,
		DocDate:    docDate,
	}, lines)
	if err != nil {
		return Document{}, err
	}
	s.recordAudit(ctx, in.ActorID, "procurement.create", doc)
	return doc, nil
}

// Post converts every line to base units and appends the whole
// document to the ledger as one batch, in line order. The conditional
// status claim runs first so a document can only ever post once; a
// failed append reopens it.
func (s *Service) Post(ctx context.Context, companyID int64, id string, actorID int64) ([]ledger.Entry, error) {
	doc, lines, err := s.repo.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyDocument
	}
	batch := make([]ledger.AppendInput, 0, len(lines))
	for i, line := range lines {
		item, err := s.catalog.GetRaw(ctx, companyID, line.ItemID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		qtyBase, costBase, err := toBase(item, line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		refType := ledger.ReferencePurchaseInvoice
		if doc.Kind == KindGoodsReceipt {
			refType = ledger.ReferenceGRN
		}
		batch = append(batch, ledger.AppendInput{
			CompanyID:     companyID,
			BranchID:      doc.BranchID,
			ItemID:        line.ItemID,
			Type:          ledger.TransactionPurchase,
			QuantityDelta: qtyBase,
			UnitCost:      decimal.NewNullDecimal(costBase),
			ReferenceType: refType,
			ReferenceID:   doc.ID,
			SupplierID:    doc.SupplierID,
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
	s.recordAudit(ctx, actorID, "procurement.post", doc)
	return entries, nil
}

// Cancel voids a draft document.
func (s *Service) Cancel(ctx context.Context, companyID int64, id string, actorID int64) error {
	if err := s.repo.Cancel(ctx, companyID, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "procurement.cancel", Document{ID: id, CompanyID: companyID})
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

// toBase converts a line's quantity and price into base units using
// the tier the line was entered in.
func toBase(item catalog.Item, line Line) (decimal.Decimal, decimal.Decimal, error) {
	tier, ok := item.TierOf(line.Unit)
	if !ok {
		return decimal.Decimal{}, decimal.Decimal{}, catalog.ErrUnknownUnit
	}
	ratio := item.Ratio()
	switch tier {
	case catalog.TierSupplier:
		return units.SupplierToBase(line.Quantity, ratio), units.CostPerBase(line.UnitPrice, ratio), nil
	case catalog.TierRetail:
		// Total line value divided by base quantity gives price per
		// base, honouring the pack-size floor in units.
		qtyBase := units.RetailToBase(line.Quantity, ratio)
		return qtyBase, line.UnitPrice.Mul(line.Quantity).Div(qtyBase), nil
	default:
		return line.Quantity, line.UnitPrice, nil
	}
}

func generateNumber(kind DocumentKind) string {
	prefix := "PI"
	if kind == KindGoodsReceipt {
		prefix = "GRN"
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
		Entity:   "procurement_documents",
		EntityID: doc.ID,
		Meta:     map[string]any{"number": doc.Number, "kind": string(doc.Kind)},
	})
}
