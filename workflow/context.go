package workflow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fatoora-app/intake_backend/config"
	"github.com/fatoora-app/intake_backend/models"
	"github.com/fatoora-app/intake_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LineItem is the working copy of one product/service entry while the
// workflow is in flight. Derived amounts are recomputed on every edit to
// quantity, price or discount; a line is not valid until they are current.
type LineItem struct {
	Name      string `json:"name"`
	Reference string `json:"reference"`
	Ean       string `json:"ean"`
	Unit      string `json:"unit"`

	Qty         decimal.Decimal `json:"qty"`
	UnitPriceHt decimal.Decimal `json:"unit_price_ht"`
	VatRate     decimal.Decimal `json:"vat_rate"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	VatExempt   bool            `json:"vat_exempt"`

	// Document-currency amounts and their TND equivalents.
	Amounts      utils.LineAmounts `json:"amounts"`
	AmountsLocal utils.LineAmounts `json:"amounts_local"`

	// Detail fields completed before verification; used for create-new drafts.
	PurchaseYear int             `json:"purchase_year"`
	OpeningStock decimal.Decimal `json:"opening_stock"`

	// Stock linkage: an existing product id, or a draft product to create.
	Decision   models.LineDecision `json:"decision"`
	ProductId  int                 `json:"product_id"`
	NewProduct *models.NewProduct  `json:"new_product"`

	// Second, independent price block (sale side) for the
	// invoice-creation-from-request flow.
	SaleUnitHt  *decimal.Decimal `json:"sale_unit_ht"`
	SaleUnitTtc *decimal.Decimal `json:"sale_unit_ttc"`
	SaleMargin  *decimal.Decimal `json:"sale_margin"`
}

// DraftProduct builds the create-new product draft from the line's completed
// fields. The purchase TTC reference cost drives the sale-price derivation.
// The catalog keeps the line's VAT rate even when this document's line is
// exempt: exemption belongs to the document, the rate to the product.
func (l *LineItem) DraftProduct() *models.NewProduct {
	vatRate := new(decimal.Decimal)
	*vatRate = l.VatRate
	purchaseTtc := utils.LineTotal(decimal.NewFromInt(1), l.UnitPriceHt, l.VatRate, decimal.Zero, false).Ttc

	saleHt, saleTtc, margin := l.SaleUnitHt, l.SaleUnitTtc, l.SaleMargin
	switch {
	case saleHt != nil:
		saleHt, saleTtc, margin = utils.DeriveSaleFromHt(*saleHt, vatRate, purchaseTtc)
	case saleTtc != nil:
		saleHt, saleTtc, margin = utils.DeriveSaleFromTtc(*saleTtc, vatRate, purchaseTtc)
	case margin != nil:
		saleHt, saleTtc, margin = utils.DeriveSaleFromMargin(*margin, vatRate, purchaseTtc)
	}

	return &models.NewProduct{
		Name:            l.Name,
		Reference:       l.Reference,
		Ean:             l.Ean,
		Unit:            l.Unit,
		VatRate:         vatRate,
		PurchaseUnitHt:  l.UnitPriceHt,
		PurchaseUnitTtc: purchaseTtc,
		SaleUnitHt:      saleHt,
		SaleUnitTtc:     saleTtc,
		MarginPct:       margin,
		OpeningStock:    l.OpeningStock,
		PurchaseYear:    l.PurchaseYear,
	}
}

// Recompute refreshes HT/VAT/TTC (and TND equivalents when foreign) from the
// line's editable fields. Must run before the line is considered valid again.
func (l *LineItem) Recompute(exchangeRate decimal.Decimal, foreign bool) {
	l.Amounts = utils.LineTotal(l.Qty, l.UnitPriceHt, l.VatRate, l.DiscountPct, l.VatExempt)
	if foreign {
		l.AmountsLocal = utils.LineAmounts{
			Ht:  utils.ConvertToLocal(l.Amounts.Ht, exchangeRate),
			Vat: utils.ConvertToLocal(l.Amounts.Vat, exchangeRate),
			Ttc: utils.ConvertToLocal(l.Amounts.Ttc, exchangeRate),
		}
	} else {
		l.AmountsLocal = l.Amounts
	}
}

// WorkflowContext is the mutable accumulator for one in-progress workflow
// instance. One context, one owner: it is never shared across instances, and
// it is discarded on cancel or folded into a persisted document on commit.
type WorkflowContext struct {
	ID           string              `json:"id"`
	OrgId        string              `json:"org_id"`
	Kind         models.DocumentKind `json:"kind"`
	CreationMode models.CreationMode `json:"creation_mode"`

	SourceRequestId *int             `json:"source_request_id"`
	TargetAmount    *decimal.Decimal `json:"target_amount"`

	// Extracted draft vs confirmed master data.
	Extracted       *models.ExtractionResult `json:"extracted"`
	CounterpartId   int                      `json:"counterpart_id"`
	CounterpartType models.CounterpartType   `json:"counterpart_type"`

	DocumentNumber string    `json:"document_number"`
	DocumentDate   time.Time `json:"document_date"`

	CurrencyCode string          `json:"currency_code"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`

	Lines  []*LineItem   `json:"lines"`
	Totals models.Totals `json:"totals"`

	WithholdingRate decimal.Decimal `json:"withholding_rate"`

	// LinesEdited flips on the first user edit; from then on the recomputed
	// sum of lines is authoritative over extraction-provided totals.
	LinesEdited bool `json:"lines_edited"`

	plan            StepPlan
	stepIndex       int
	totalsConfirmed bool
	committed       bool

	CreatedAt time.Time `json:"created_at"`
}

func (wc *WorkflowContext) IsForeign() bool {
	return wc.CounterpartType == models.CounterpartTypeForeign
}

// vatRateForced reports whether lines carry the statutory foreign-invoice
// rate. That rate comes from policy, never from line edits.
func (wc *WorkflowContext) vatRateForced() bool {
	return wc.IsForeign() && wc.Kind.IsOutgoingStock()
}

// ExtractedLineAt rebuilds a match candidate from the working line at index.
// Matching runs on the line's current identity fields, not on the original
// extraction, so user corrections sharpen the suggestions.
func (wc *WorkflowContext) ExtractedLineAt(index int) (models.ExtractedLine, error) {
	if index < 0 || index >= len(wc.Lines) {
		return models.ExtractedLine{}, fmt.Errorf("line index %d out of range", index)
	}
	l := wc.Lines[index]
	return models.ExtractedLine{
		Name:      l.Name,
		Reference: l.Reference,
		Ean:       l.Ean,
	}, nil
}

func (wc *WorkflowContext) CurrentStep() Step {
	return wc.plan[wc.stepIndex]
}

func (wc *WorkflowContext) Plan() StepPlan {
	out := make(StepPlan, len(wc.plan))
	copy(out, wc.plan)
	return out
}

func (wc *WorkflowContext) Committed() bool {
	return wc.committed
}

// RecomputeAllLines refreshes every line's derived amounts, then the totals.
func (wc *WorkflowContext) RecomputeAllLines() {
	amounts := make([]utils.LineAmounts, 0, len(wc.Lines))
	for _, l := range wc.Lines {
		l.Recompute(wc.ExchangeRate, wc.IsForeign())
		amounts = append(amounts, l.AmountsLocal)
	}
	wc.Totals = models.ComputeTotals(amounts, wc.Kind, wc.CounterpartType, wc.WithholdingRate)
}

// Manager owns the in-flight workflow instances. Instances are independent;
// the map is the only shared state and is guarded here.
type Manager struct {
	mu        sync.Mutex
	instances map[string]*WorkflowContext
}

func NewManager() *Manager {
	return &Manager{instances: make(map[string]*WorkflowContext)}
}

func (m *Manager) register(wc *WorkflowContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[wc.ID] = wc
}

func (m *Manager) Get(id string) (*WorkflowContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wc, ok := m.instances[id]
	if !ok {
		return nil, errors.New("workflow instance not found")
	}
	return wc, nil
}

// Cancel discards the context. No persisted side effects: anything written by
// confirmed steps earlier in the instance (counterpart creation, saved rates)
// belongs to the master catalog, not to this document, and stays. The
// confirmation prompt before discarding local state is the caller's contract.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wc, ok := m.instances[id]
	if !ok {
		return errors.New("workflow instance not found")
	}
	if wc.committed {
		return errors.New("cannot cancel a committed workflow")
	}
	delete(m.instances, id)
	return nil
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, id)
}

func newWorkflowContext(orgId string, kind models.DocumentKind, mode models.CreationMode) *WorkflowContext {
	return &WorkflowContext{
		ID:           uuid.NewString(),
		OrgId:        orgId,
		Kind:         kind,
		CreationMode: mode,
		CurrencyCode: config.LocalCurrencyCode,
		ExchangeRate: decimal.NewFromInt(1),
		plan:         initialStepPlan(),
		stepIndex:    0,
		CreatedAt:    time.Now(),
	}
}
