package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatoora-app/intake_backend/config"
	"github.com/fatoora-app/intake_backend/models"
	"github.com/fatoora-app/intake_backend/utils"
	"github.com/shopspring/decimal"
)

// The engine sequences one document through:
//
//	intake -> counterpart_identification -> [currency_selection] ->
//	line_analysis -> line_detail_completion -> line_verification ->
//	totals_confirmation -> commit
//
// Forward movement requires the current step's validation to pass. Backward
// movement is always allowed except from commit and never discards
// already-validated later data, it only makes it re-editable.

var decimalHundred = decimal.NewFromInt(100)

type StartWorkflowInput struct {
	Kind       models.DocumentKind      `json:"kind" binding:"required"`
	RequestId  *int                     `json:"request_id"`
	Extraction *models.ExtractionResult `json:"extraction"`

	// WithholdingRate overrides the policy default for purchase documents.
	WithholdingRate *decimal.Decimal `json:"withholding_rate"`
}

// Start opens a fresh workflow instance and runs the intake step: the
// extraction draft is loaded, defaulted and copied into the context.
func (m *Manager) Start(ctx context.Context, input StartWorkflowInput) (*WorkflowContext, error) {
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	mode := models.CreationModeManual
	extraction := input.Extraction
	var targetAmount *decimal.Decimal
	var requestId *int

	if input.RequestId != nil {
		request, err := models.GetIntakeRequest(ctx, *input.RequestId)
		if err != nil {
			return nil, err
		}
		if request.Status != models.RequestStatusPending {
			return nil, utils.FieldError{Field: "request_id", Message: "request is not pending"}
		}
		extraction, err = request.Extraction()
		if err != nil {
			return nil, err
		}
		targetAmount = request.TargetAmount
		requestId = &request.ID
		mode = models.CreationModeFromRequest
	} else if extraction != nil {
		mode = models.CreationModeFromExtraction
	}

	wc := newWorkflowContext(orgId, input.Kind, mode)
	wc.SourceRequestId = requestId
	wc.TargetAmount = targetAmount
	wc.Extracted = extraction
	wc.DocumentDate = time.Now()

	// Withholding is a purchase-side levy; invoices never carry it.
	if input.Kind == models.DocumentKindPurchase {
		wc.WithholdingRate = config.GetPolicy().DefaultWithholdingRate
		if input.WithholdingRate != nil {
			if input.WithholdingRate.IsNegative() || input.WithholdingRate.GreaterThan(decimalHundred) {
				return nil, utils.FieldError{Field: "withholding_rate", Message: "withholding rate out of range"}
			}
			wc.WithholdingRate = *input.WithholdingRate
		}
	}
	seedFromExtraction(wc, extraction)

	m.register(wc)
	return wc, nil
}

// seedFromExtraction copies the untrusted draft into working lines, applying
// defaults for absent fields. Nothing extracted is trusted as authoritative
// once the user starts editing.
func seedFromExtraction(wc *WorkflowContext, extraction *models.ExtractionResult) {
	if extraction == nil {
		return
	}
	wc.DocumentNumber = extraction.InvoiceNumber
	if extraction.InvoiceDate != nil {
		wc.DocumentDate = *extraction.InvoiceDate
	}

	defaultVat := config.GetPolicy().DefaultVatRate
	for _, el := range extraction.Lines {
		line := &LineItem{
			Name:        el.Name,
			Reference:   el.Reference,
			Ean:         el.Ean,
			Unit:        el.Unit,
			Qty:         decimal.NewFromInt(1),
			VatRate:     defaultVat,
			DiscountPct: decimal.Zero,
		}
		if el.Qty != nil {
			line.Qty = *el.Qty
		}
		if el.UnitPriceHt != nil {
			line.UnitPriceHt = *el.UnitPriceHt
		}
		if el.VatRate != nil {
			line.VatRate = *el.VatRate
		}
		if el.DiscountPct != nil {
			line.DiscountPct = *el.DiscountPct
		}
		line.Recompute(wc.ExchangeRate, false)
		wc.Lines = append(wc.Lines, line)
	}
}

// ConfirmIntake fixes the document identity and advances.
func (m *Manager) ConfirmIntake(id string, documentNumber string, documentDate *time.Time) (*WorkflowContext, error) {
	wc, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if err := requireStep(wc, StepIntake); err != nil {
		return nil, err
	}
	if documentNumber != "" {
		wc.DocumentNumber = documentNumber
	}
	if documentDate != nil {
		wc.DocumentDate = *documentDate
	}
	wc.stepIndex++
	return wc, nil
}

// CounterpartConfirmation links an existing counterpart or creates a new one.
// Exactly one of the two must be set.
type CounterpartConfirmation struct {
	ExistingId     *int                   `json:"existing_id"`
	NewCounterpart *models.NewCounterpart `json:"new_counterpart"`
}

// ConfirmCounterpart resolves the document's counterpart. This is the branch
// point: the step plan is computed here, once, and is immutable for the rest
// of the instance.
func (m *Manager) ConfirmCounterpart(ctx context.Context, id string, confirmation CounterpartConfirmation) (*WorkflowContext, error) {
	wc, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if err := requireStep(wc, StepCounterpartIdentification); err != nil {
		return nil, err
	}
	if (confirmation.ExistingId == nil) == (confirmation.NewCounterpart == nil) {
		return nil, utils.FieldError{Field: "counterpart", Message: "exactly one of existing_id or new_counterpart must be set"}
	}

	var counterpart *models.Counterpart
	if confirmation.ExistingId != nil {
		counterpart, err = models.GetCounterpart(ctx, *confirmation.ExistingId)
		if err != nil {
			return nil, err
		}
	} else {
		confirmation.NewCounterpart.Role = wc.Kind.CounterpartRole()
		counterpart, err = models.CreateCounterpart(ctx, confirmation.NewCounterpart)
		if err != nil {
			return nil, err
		}
	}

	wc.CounterpartId = counterpart.ID
	wc.CounterpartType = counterpart.Type

	// Freeze the plan. The currency step's skip condition is evaluated here
	// and never again.
	wc.plan = BuildStepPlan(counterpart.Type)
	idx, err := wc.plan.IndexOf(StepCounterpartIdentification)
	if err != nil {
		return nil, err
	}
	wc.stepIndex = idx + 1

	if wc.IsForeign() {
		if wc.Extracted != nil && wc.Extracted.Counterpart != nil && wc.Extracted.Counterpart.CurrencyCode != "" {
			wc.CurrencyCode = wc.Extracted.Counterpart.CurrencyCode
		}
		// Policy asymmetry: foreign purchases are import-exempt; invoices to
		// foreign clients carry the configured rate.
		if wc.Kind.IsOutgoingStock() {
			rate := config.GetPolicy().ForeignInvoiceVatRate
			for _, l := range wc.Lines {
				l.VatRate = rate
			}
		} else {
			for _, l := range wc.Lines {
				l.VatExempt = true
			}
		}
	}
	wc.RecomputeAllLines()
	return wc, nil
}

type CurrencyConfirmation struct {
	CurrencyCode string           `json:"currency_code" binding:"required,currencycode"`
	ExchangeRate *decimal.Decimal `json:"exchange_rate"`
	SaveRate     bool             `json:"save_rate"`
}

// ConfirmCurrency fixes the document currency and exchange rate. Present in
// the plan only for foreign counterparts. The rate is read from the persisted
// store (static fallback when absent) unless explicitly provided.
func (m *Manager) ConfirmCurrency(ctx context.Context, id string, confirmation CurrencyConfirmation) (*WorkflowContext, error) {
	wc, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if err := requireStep(wc, StepCurrencySelection); err != nil {
		return nil, err
	}

	rate := decimal.Zero
	if confirmation.ExchangeRate != nil {
		rate = *confirmation.ExchangeRate
	} else {
		rate, _, err = models.GetExchangeRate(ctx, confirmation.CurrencyCode)
		if err != nil {
			return nil, err
		}
	}
	if !rate.IsPositive() {
		return nil, utils.FieldError{Field: "exchange_rate", Message: "exchange rate must be a decimal > 0"}
	}

	if confirmation.SaveRate {
		_, err = models.SaveExchangeRate(ctx, &models.NewCurrencyExchange{
			FromCurrency: confirmation.CurrencyCode,
			ExchangeRate: rate,
		})
		if err != nil {
			return nil, err
		}
	}

	wc.CurrencyCode = confirmation.CurrencyCode
	wc.ExchangeRate = rate
	wc.RecomputeAllLines()
	wc.stepIndex++
	return wc, nil
}

// LineEdit carries the editable money fields of one line. Every applied edit
// retriggers recomputation of HT/VAT/TTC before the line is valid again.
type LineEdit struct {
	Name         *string          `json:"name"`
	Reference    *string          `json:"reference"`
	Ean          *string          `json:"ean"`
	Unit         *string          `json:"unit"`
	Qty          *decimal.Decimal `json:"qty"`
	UnitPriceHt  *decimal.Decimal `json:"unit_price_ht"`
	VatRate      *decimal.Decimal `json:"vat_rate"`
	DiscountPct  *decimal.Decimal `json:"discount_pct"`
	PurchaseYear *int             `json:"purchase_year"`
	OpeningStock *decimal.Decimal `json:"opening_stock"`
}

func (m *Manager) UpdateLine(id string, index int, edit LineEdit) (*WorkflowContext, error) {
	wc, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if wc.committed {
		return nil, errors.New("workflow already committed")
	}
	if index < 0 || index >= len(wc.Lines) {
		return nil, fmt.Errorf("line index %d out of range", index)
	}

	line := wc.Lines[index]
	if edit.Name != nil {
		line.Name = *edit.Name
	}
	if edit.Reference != nil {
		line.Reference = *edit.Reference
	}
	if edit.Ean != nil {
		line.Ean = *edit.Ean
	}
	if edit.Unit != nil {
		line.Unit = *edit.Unit
	}
	if edit.Qty != nil {
		line.Qty = *edit.Qty
	}
	if edit.UnitPriceHt != nil {
		line.UnitPriceHt = *edit.UnitPriceHt
	}
	// VAT edits on an exempt line or a policy-rated foreign invoice line are
	// ignored, not rejected.
	if edit.VatRate != nil && !line.VatExempt && !wc.vatRateForced() {
		line.VatRate = *edit.VatRate
	}
	if edit.DiscountPct != nil {
		line.DiscountPct = *edit.DiscountPct
	}
	if edit.PurchaseYear != nil {
		line.PurchaseYear = *edit.PurchaseYear
	}
	if edit.OpeningStock != nil {
		line.OpeningStock = *edit.OpeningStock
	}

	wc.LinesEdited = true
	wc.RecomputeAllLines()
	return wc, nil
}

func (m *Manager) AddLine(id string, line LineItem) (*WorkflowContext, error) {
	wc, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if wc.committed {
		return nil, errors.New("workflow already committed")
	}
	if wc.IsForeign() {
		if wc.vatRateForced() {
			line.VatRate = config.GetPolicy().ForeignInvoiceVatRate
		} else {
			line.VatExempt = true
		}
	}
	wc.Lines = append(wc.Lines, &line)
	wc.LinesEdited = true
	wc.RecomputeAllLines()
	return wc, nil
}

func (m *Manager) RemoveLine(id string, index int) (*WorkflowContext, error) {
	wc, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if wc.committed {
		return nil, errors.New("workflow already committed")
	}
	if index < 0 || index >= len(wc.Lines) {
		return nil, fmt.Errorf("line index %d out of range", index)
	}
	wc.Lines = append(wc.Lines[:index], wc.Lines[index+1:]...)
	wc.LinesEdited = true
	wc.RecomputeAllLines()
	return wc, nil
}

// validateLineMoney checks the money ranges of every line. Run at the line
// analysis gate and again at line verification: line edits carry no step gate,
// so anything confirmed earlier may have changed since.
func validateLineMoney(lines []*LineItem) utils.ValidationErrors {
	maxDiscount := config.GetPolicy().MaxDiscountPct
	errs := utils.ValidationErrors{}
	for i, line := range lines {
		if line.Qty.IsNegative() {
			errs = append(errs, utils.FieldError{Field: lineField(i, "qty"), Message: "quantity cannot be negative"})
		}
		if line.UnitPriceHt.IsNegative() {
			errs = append(errs, utils.FieldError{Field: lineField(i, "unit_price_ht"), Message: "unit price cannot be negative"})
		}
		if line.DiscountPct.IsNegative() || line.DiscountPct.GreaterThan(maxDiscount) {
			errs = append(errs, utils.FieldError{Field: lineField(i, "discount_pct"), Message: "discount out of range"})
		}
		if line.VatRate.IsNegative() || line.VatRate.GreaterThan(decimalHundred) {
			errs = append(errs, utils.FieldError{Field: lineField(i, "vat_rate"), Message: "vat rate out of range"})
		}
	}
	return errs
}

// ConfirmLineAnalysis validates the money side of every line and advances.
func (m *Manager) ConfirmLineAnalysis(id string) (*WorkflowContext, error) {
	wc, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if err := requireStep(wc, StepLineAnalysis); err != nil {
		return nil, err
	}
	if len(wc.Lines) == 0 {
		return nil, utils.FieldError{Field: "lines", Message: "at least one line is required"}
	}

	if errs := validateLineMoney(wc.Lines); errs.HasErrors() {
		return nil, errs
	}

	wc.RecomputeAllLines()
	wc.stepIndex++
	return wc, nil
}

// ConfirmLineDetails validates identity fields of every line and advances.
func (m *Manager) ConfirmLineDetails(id string) (*WorkflowContext, error) {
	wc, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if err := requireStep(wc, StepLineDetailCompletion); err != nil {
		return nil, err
	}

	errs := utils.ValidationErrors{}
	for i, line := range wc.Lines {
		if line.Name == "" {
			errs = append(errs, utils.FieldError{Field: lineField(i, "name"), Message: "name is required"})
		}
		if line.Reference == "" {
			errs = append(errs, utils.FieldError{Field: lineField(i, "reference"), Message: "reference is required"})
		}
		if line.Unit == "" {
			errs = append(errs, utils.FieldError{Field: lineField(i, "unit"), Message: "unit is required"})
		}
		if line.PurchaseYear < 2000 || line.PurchaseYear > 2100 {
			errs = append(errs, utils.FieldError{Field: lineField(i, "purchase_year"), Message: "purchase year must be between 2000 and 2100"})
		}
		if line.OpeningStock.IsNegative() {
			errs = append(errs, utils.FieldError{Field: lineField(i, "opening_stock"), Message: "stock cannot be negative"})
		}
		if !utils.IsValidBarcode(line.Ean) {
			errs = append(errs, utils.FieldError{Field: lineField(i, "ean"), Message: "unrecognized barcode format"})
		}
	}
	if errs.HasErrors() {
		return nil, errs
	}
	wc.stepIndex++
	return wc, nil
}

// LineVerification binds one line to the catalog: an existing product id or a
// create-new draft.
type LineVerification struct {
	Index     int                 `json:"index"`
	Decision  models.LineDecision `json:"decision" binding:"required"`
	ProductId int                 `json:"product_id"`

	// Sale price block for create-new drafts; one of the three drives the
	// other two.
	SaleUnitHt  *decimal.Decimal `json:"sale_unit_ht"`
	SaleUnitTtc *decimal.Decimal `json:"sale_unit_ttc"`
	SaleMargin  *decimal.Decimal `json:"sale_margin"`
}

// ConfirmLineVerification applies per-line decisions, validates them fully
// (this is the last gate before money is committed) and advances.
func (m *Manager) ConfirmLineVerification(ctx context.Context, id string, verifications []LineVerification) (*WorkflowContext, error) {
	wc, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if err := requireStep(wc, StepLineVerification); err != nil {
		return nil, err
	}

	for _, v := range verifications {
		if v.Index < 0 || v.Index >= len(wc.Lines) {
			return nil, fmt.Errorf("line index %d out of range", v.Index)
		}
		if !v.Decision.IsValid() {
			return nil, utils.FieldError{Field: lineField(v.Index, "decision"), Message: "invalid decision"}
		}
		line := wc.Lines[v.Index]
		line.Decision = v.Decision
		line.ProductId = v.ProductId
		line.SaleUnitHt = v.SaleUnitHt
		line.SaleUnitTtc = v.SaleUnitTtc
		line.SaleMargin = v.SaleMargin
	}

	// Line edits carry no step gate, so the money confirmed at analysis may
	// have drifted since. Re-check the ranges before touching the catalog.
	if errs := validateLineMoney(wc.Lines); errs.HasErrors() {
		return nil, errs
	}

	// One count query covers every bound product id; the per-line lookup only
	// runs when the batch disagrees, to attribute the failure to its line.
	boundIds := []int{}
	for _, line := range wc.Lines {
		if line.Decision.BindsExistingProduct() && line.ProductId != 0 {
			boundIds = utils.MergeIntSlices(boundIds, []int{line.ProductId})
		}
	}
	boundValid := true
	if len(boundIds) > 0 {
		if err := utils.ValidateResourcesId[models.Product](ctx, wc.OrgId, boundIds); err != nil {
			boundValid = false
		}
	}

	errs := utils.ValidationErrors{}
	for i, line := range wc.Lines {
		switch line.Decision {
		case models.LineDecisionUseExisting, models.LineDecisionSelectOther:
			if line.ProductId == 0 {
				errs = append(errs, utils.FieldError{Field: lineField(i, "product_id"), Message: "a bound product is required"})
				continue
			}
			if boundValid {
				continue
			}
			if err := utils.ValidateResourceId[models.Product](ctx, wc.OrgId, line.ProductId); err != nil {
				errs = append(errs, utils.FieldError{Field: lineField(i, "product_id"), Message: "product not found"})
			}
		case models.LineDecisionCreateNew:
			draft := line.DraftProduct()
			if err := draft.Validate(ctx, wc.OrgId, 0, true); err != nil {
				var ve utils.ValidationErrors
				if errors.As(err, &ve) {
					for _, fe := range ve {
						errs = append(errs, utils.FieldError{Field: lineField(i, fe.Field), Message: fe.Message})
					}
				} else {
					// conflict or external failure: surface as-is
					return nil, err
				}
			}
			line.NewProduct = draft
		default:
			errs = append(errs, utils.FieldError{Field: lineField(i, "decision"), Message: "every line needs a decision"})
		}
	}
	if errs.HasErrors() {
		return nil, errs
	}

	wc.stepIndex++
	return wc, nil
}

// ConfirmTotals recomputes the document totals and checks them against the
// externally-imposed target amount when one exists. The workflow refuses to
// advance on a mismatch beyond 0.001 and surfaces the discrepancy.
func (m *Manager) ConfirmTotals(id string) (*WorkflowContext, error) {
	wc, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if err := requireStep(wc, StepTotalsConfirmation); err != nil {
		return nil, err
	}

	wc.RecomputeAllLines()

	// Before any user edit, an extraction-provided total is authoritative;
	// afterwards the recomputed sum of lines wins.
	if !wc.LinesEdited && wc.Extracted != nil && wc.Extracted.Totals != nil {
		et := wc.Extracted.Totals
		if et.SubtotalHt != nil && et.TotalVat != nil && et.TotalTtc != nil {
			wc.Totals.SubtotalHt = utils.Round3(*et.SubtotalHt)
			wc.Totals.TotalVat = utils.Round3(*et.TotalVat)
			wc.Totals.TotalTtc = utils.Round3(*et.TotalTtc)
			wc.Totals.WithholdingAmount = utils.Round3(utils.WithholdingAmount(wc.Totals.TotalTtc, wc.Totals.WithholdingRate))
			wc.Totals.NetPayable = utils.Round3(utils.NetPayable(wc.Totals.TotalTtc, wc.Totals.StampDuty, wc.Totals.WithholdingAmount))
		}
	}

	if wc.TargetAmount != nil {
		if !utils.WithinTolerance(wc.Totals.NetPayable, *wc.TargetAmount) {
			diff := wc.Totals.NetPayable.Sub(*wc.TargetAmount)
			return nil, utils.FieldError{
				Field:   "net_payable",
				Message: fmt.Sprintf("net payable %s does not match target %s (difference %s)", wc.Totals.NetPayable, wc.TargetAmount, diff),
			}
		}
	}

	wc.totalsConfirmed = true
	wc.stepIndex++
	return wc, nil
}

// Back revisits a prior step. Later data stays in place, re-editable; only
// the totals confirmation is invalidated so it must be re-run.
func (m *Manager) Back(id string, target Step) (*WorkflowContext, error) {
	wc, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if wc.committed {
		return nil, errors.New("cannot go back from a committed workflow")
	}
	targetIdx, err := wc.plan.IndexOf(target)
	if err != nil {
		return nil, err
	}
	if targetIdx >= wc.stepIndex {
		return nil, fmt.Errorf("step %s is not behind the current step", target)
	}
	if target == StepCounterpartIdentification || targetIdx < mustIndex(wc.plan, StepCounterpartIdentification) {
		// Revisiting the branch point reopens the plan decision.
		wc.plan = initialStepPlan()
	}
	wc.stepIndex = targetIdx
	wc.totalsConfirmed = false
	return wc, nil
}

func requireStep(wc *WorkflowContext, step Step) error {
	if wc.committed {
		return errors.New("workflow already committed")
	}
	if wc.CurrentStep() != step {
		return fmt.Errorf("workflow is at step %s, not %s", wc.CurrentStep(), step)
	}
	return nil
}

func lineField(index int, field string) string {
	return fmt.Sprintf("lines[%d].%s", index, field)
}

func mustIndex(plan StepPlan, step Step) int {
	idx, err := plan.IndexOf(step)
	if err != nil {
		return 0
	}
	return idx
}
