package workflow

import (
	"context"
	"strings"
	"testing"

	"github.com/fatoora-app/intake_backend/models"
	"github.com/fatoora-app/intake_backend/utils"
	"github.com/sirupsen/logrus"
)

func testOrgContext() context.Context {
	return utils.SetOrgIdInContext(context.Background(), "org-test")
}

// registerTestContext builds an in-flight instance positioned at the given
// step without touching the database.
func registerTestContext(m *Manager, counterpartType models.CounterpartType, step Step) *WorkflowContext {
	wc := newWorkflowContext("org-test", models.DocumentKindPurchase, models.CreationModeManual)
	wc.CounterpartId = 1
	wc.CounterpartType = counterpartType
	wc.plan = BuildStepPlan(counterpartType)
	idx, err := wc.plan.IndexOf(step)
	if err != nil {
		panic(err)
	}
	wc.stepIndex = idx
	m.register(wc)
	return wc
}

func TestStart_SeedsDefaultsFromExtraction(t *testing.T) {
	m := NewManager()
	qty := dec("3")
	extraction := &models.ExtractionResult{
		InvoiceNumber: "F-2026-001",
		Lines: []models.ExtractedLine{
			{Name: "Clavier", Qty: &qty},
			{Name: "Souris"}, // qty, price, vat all absent
		},
	}
	wc, err := m.Start(testOrgContext(), StartWorkflowInput{
		Kind:       models.DocumentKindPurchase,
		Extraction: extraction,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if wc.CreationMode != models.CreationModeFromExtraction {
		t.Fatalf("creation mode expected from_extraction, got %s", wc.CreationMode)
	}
	if wc.DocumentNumber != "F-2026-001" {
		t.Fatalf("document number not seeded, got %q", wc.DocumentNumber)
	}
	if len(wc.Lines) != 2 {
		t.Fatalf("expected 2 seeded lines, got %d", len(wc.Lines))
	}
	if !wc.Lines[0].Qty.Equal(dec("3")) {
		t.Fatalf("extracted qty expected 3, got %s", wc.Lines[0].Qty)
	}
	// absent fields fall back to defaults: qty 1, policy vat, discount 0
	if !wc.Lines[1].Qty.Equal(dec("1")) {
		t.Fatalf("default qty expected 1, got %s", wc.Lines[1].Qty)
	}
	if !wc.Lines[1].VatRate.Equal(dec("19")) {
		t.Fatalf("default vat expected 19, got %s", wc.Lines[1].VatRate)
	}
	if wc.CurrentStep() != StepIntake {
		t.Fatalf("fresh workflow expected at intake, got %s", wc.CurrentStep())
	}
}

func TestConfirmIntake_AdvancesAndKeepsSeed(t *testing.T) {
	m := NewManager()
	wc, err := m.Start(testOrgContext(), StartWorkflowInput{Kind: models.DocumentKindPurchase})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	got, err := m.ConfirmIntake(wc.ID, "BL-7", nil)
	if err != nil {
		t.Fatalf("ConfirmIntake: %v", err)
	}
	if got.DocumentNumber != "BL-7" {
		t.Fatalf("document number expected BL-7, got %q", got.DocumentNumber)
	}
	if got.CurrentStep() != StepCounterpartIdentification {
		t.Fatalf("expected counterpart_identification, got %s", got.CurrentStep())
	}
}

func TestRequireStep_OutOfOrderRefused(t *testing.T) {
	m := NewManager()
	wc, err := m.Start(testOrgContext(), StartWorkflowInput{Kind: models.DocumentKindPurchase})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.ConfirmLineAnalysis(wc.ID); err == nil {
		t.Fatalf("line analysis before intake confirmation must be refused")
	}
	if _, err := m.ConfirmTotals(wc.ID); err == nil {
		t.Fatalf("totals confirmation at intake must be refused")
	}
}

func TestConfirmLineAnalysis_RejectsBadMoneyFields(t *testing.T) {
	m := NewManager()
	wc := registerTestContext(m, models.CounterpartTypeBusinessLocal, StepLineAnalysis)
	wc.Lines = []*LineItem{
		{Name: "A", Qty: dec("-1"), VatRate: dec("19")},
		{Name: "B", Qty: dec("1"), VatRate: dec("19"), DiscountPct: dec("120")},
	}

	_, err := m.ConfirmLineAnalysis(wc.ID)
	if err == nil {
		t.Fatalf("invalid lines must be refused")
	}
	ve, ok := err.(utils.ValidationErrors)
	if !ok {
		t.Fatalf("expected field-level validation errors, got %T: %v", err, err)
	}
	if len(ve) != 2 {
		t.Fatalf("expected 2 field errors, got %d: %v", len(ve), ve)
	}
	if !strings.HasPrefix(ve[0].Field, "lines[0].") {
		t.Fatalf("field errors must be line indexed, got %q", ve[0].Field)
	}
}

func TestConfirmLineAnalysis_RequiresAtLeastOneLine(t *testing.T) {
	m := NewManager()
	wc := registerTestContext(m, models.CounterpartTypeBusinessLocal, StepLineAnalysis)
	wc.Lines = nil
	if _, err := m.ConfirmLineAnalysis(wc.ID); err == nil {
		t.Fatalf("empty document must be refused")
	}
}

func TestUpdateLine_ExemptLineIgnoresVatEdits(t *testing.T) {
	m := NewManager()
	wc := registerTestContext(m, models.CounterpartTypeForeign, StepLineAnalysis)
	wc.ExchangeRate = dec("3.4")
	wc.Lines = []*LineItem{{Name: "A", Qty: dec("1"), UnitPriceHt: dec("1000"), VatExempt: true}}

	newVat := dec("19")
	got, err := m.UpdateLine(wc.ID, 0, LineEdit{VatRate: &newVat})
	if err != nil {
		t.Fatalf("UpdateLine: %v", err)
	}
	if !got.Lines[0].VatRate.IsZero() {
		t.Fatalf("vat edit on an exempt line must be ignored, got %s", got.Lines[0].VatRate)
	}
	if !got.Lines[0].Amounts.Vat.IsZero() {
		t.Fatalf("foreign line vat amount expected 0, got %s", got.Lines[0].Amounts.Vat)
	}
	// converted amounts at the document rate
	if !got.Lines[0].AmountsLocal.Ttc.Equal(dec("3400")) {
		t.Fatalf("converted ttc expected 3400, got %s", got.Lines[0].AmountsLocal.Ttc)
	}
	if !got.LinesEdited {
		t.Fatalf("edit must mark the lines as edited")
	}
}

func TestConfirmTotals_TargetMismatchRefusedWithDifference(t *testing.T) {
	m := NewManager()
	wc := registerTestContext(m, models.CounterpartTypeBusinessLocal, StepTotalsConfirmation)
	// computed: ht 498.5, vat 0, stamp duty 1 -> net payable 499.500
	wc.Lines = []*LineItem{{Name: "A", Qty: dec("1"), UnitPriceHt: dec("498.5")}}
	wc.LinesEdited = true
	target := dec("500")
	wc.TargetAmount = &target

	_, err := m.ConfirmTotals(wc.ID)
	if err == nil {
		t.Fatalf("totals off target by 0.500 must be refused")
	}
	if !strings.Contains(err.Error(), "does not match target") || !strings.Contains(err.Error(), "0.5") {
		t.Fatalf("error must report the difference, got %q", err.Error())
	}
	if wc.totalsConfirmed {
		t.Fatalf("refused totals must not be marked confirmed")
	}
}

func TestConfirmTotals_WithinToleranceAdvances(t *testing.T) {
	m := NewManager()
	wc := registerTestContext(m, models.CounterpartTypeBusinessLocal, StepTotalsConfirmation)
	wc.Lines = []*LineItem{{Name: "A", Qty: dec("1"), UnitPriceHt: dec("498.5")}}
	wc.LinesEdited = true
	target := dec("499.501") // off by exactly the tolerance
	wc.TargetAmount = &target

	got, err := m.ConfirmTotals(wc.ID)
	if err != nil {
		t.Fatalf("ConfirmTotals: %v", err)
	}
	if !got.totalsConfirmed {
		t.Fatalf("totals must be marked confirmed")
	}
	if got.CurrentStep() != StepCommit {
		t.Fatalf("expected commit step, got %s", got.CurrentStep())
	}
}

func TestConfirmTotals_ExtractionTotalsAuthoritativeUntilFirstEdit(t *testing.T) {
	m := NewManager()
	wc := registerTestContext(m, models.CounterpartTypeBusinessLocal, StepTotalsConfirmation)
	wc.Lines = []*LineItem{{Name: "A", Qty: dec("1"), UnitPriceHt: dec("100")}}

	ht, vat, ttc := dec("105"), dec("0"), dec("105")
	wc.Extracted = &models.ExtractionResult{
		Totals: &models.ExtractedTotals{SubtotalHt: &ht, TotalVat: &vat, TotalTtc: &ttc},
	}

	got, err := m.ConfirmTotals(wc.ID)
	if err != nil {
		t.Fatalf("ConfirmTotals: %v", err)
	}
	if !got.Totals.SubtotalHt.Equal(dec("105")) {
		t.Fatalf("pre-edit extraction totals must win, got subtotal %s", got.Totals.SubtotalHt)
	}

	// After an edit the recomputed sum is authoritative.
	wc2 := registerTestContext(m, models.CounterpartTypeBusinessLocal, StepTotalsConfirmation)
	wc2.Lines = []*LineItem{{Name: "A", Qty: dec("1"), UnitPriceHt: dec("100")}}
	wc2.Extracted = wc.Extracted
	wc2.LinesEdited = true
	got2, err := m.ConfirmTotals(wc2.ID)
	if err != nil {
		t.Fatalf("ConfirmTotals after edit: %v", err)
	}
	if !got2.Totals.SubtotalHt.Equal(dec("100")) {
		t.Fatalf("post-edit recomputed totals must win, got subtotal %s", got2.Totals.SubtotalHt)
	}
}

func TestBack_KeepsDataAndInvalidatesTotals(t *testing.T) {
	m := NewManager()
	wc := registerTestContext(m, models.CounterpartTypeForeign, StepCommit)
	wc.Lines = []*LineItem{{Name: "A", Qty: dec("1"), UnitPriceHt: dec("10"), VatExempt: true}}
	wc.totalsConfirmed = true

	got, err := m.Back(wc.ID, StepLineAnalysis)
	if err != nil {
		t.Fatalf("Back: %v", err)
	}
	if got.CurrentStep() != StepLineAnalysis {
		t.Fatalf("expected line_analysis, got %s", got.CurrentStep())
	}
	if len(got.Lines) != 1 {
		t.Fatalf("later data must survive a backward move")
	}
	if got.totalsConfirmed {
		t.Fatalf("backward move must invalidate the totals confirmation")
	}
	// plan stays frozen when the branch point is not revisited
	if !got.Plan().Contains(StepCurrencySelection) {
		t.Fatalf("plan must stay frozen on a non-branch backward move")
	}
}

func TestBack_ToBranchPointReopensThePlan(t *testing.T) {
	m := NewManager()
	wc := registerTestContext(m, models.CounterpartTypeForeign, StepLineVerification)

	got, err := m.Back(wc.ID, StepCounterpartIdentification)
	if err != nil {
		t.Fatalf("Back: %v", err)
	}
	if got.Plan().Contains(StepCurrencySelection) {
		t.Fatalf("revisiting the branch point must reopen the plan")
	}
	if got.CurrentStep() != StepCounterpartIdentification {
		t.Fatalf("expected counterpart_identification, got %s", got.CurrentStep())
	}
}

func TestBack_ForwardTargetRefused(t *testing.T) {
	m := NewManager()
	wc := registerTestContext(m, models.CounterpartTypeBusinessLocal, StepLineAnalysis)
	if _, err := m.Back(wc.ID, StepTotalsConfirmation); err == nil {
		t.Fatalf("backward navigation to a forward step must be refused")
	}
}

func TestCommit_IsOneShot(t *testing.T) {
	m := NewManager()
	wc := registerTestContext(m, models.CounterpartTypeBusinessLocal, StepCommit)
	wc.totalsConfirmed = true
	wc.committed = true

	logger := logrus.New()
	if _, err := m.Commit(testOrgContext(), logger, wc.ID); err == nil {
		t.Fatalf("second commit must be refused")
	}
	if _, err := m.Back(wc.ID, StepLineAnalysis); err == nil {
		t.Fatalf("backward navigation from a committed workflow must be refused")
	}
	if _, err := m.UpdateLine(wc.ID, 0, LineEdit{}); err == nil {
		t.Fatalf("edits on a committed workflow must be refused")
	}
	if err := m.Cancel(wc.ID); err == nil {
		t.Fatalf("cancel of a committed workflow must be refused")
	}
}

func TestCommit_RequiresConfirmedTotals(t *testing.T) {
	m := NewManager()
	wc := registerTestContext(m, models.CounterpartTypeBusinessLocal, StepCommit)
	wc.totalsConfirmed = false

	if _, err := m.Commit(testOrgContext(), logrus.New(), wc.ID); err == nil {
		t.Fatalf("commit without confirmed totals must be refused")
	}
}

func TestConfirmLineVerification_RevalidatesLineMoney(t *testing.T) {
	m := NewManager()
	wc := registerTestContext(m, models.CounterpartTypeBusinessLocal, StepLineVerification)
	wc.Lines = []*LineItem{{Name: "A", Reference: "R-1", Unit: "pcs", Qty: dec("1"), UnitPriceHt: dec("100"), VatRate: dec("19")}}

	// Line edits carry no step gate, so the rate confirmed at analysis can be
	// spoiled right before verification.
	badVat := dec("-100")
	if _, err := m.UpdateLine(wc.ID, 0, LineEdit{VatRate: &badVat}); err != nil {
		t.Fatalf("UpdateLine: %v", err)
	}

	saleTtc := dec("150")
	_, err := m.ConfirmLineVerification(testOrgContext(), wc.ID, []LineVerification{
		{Index: 0, Decision: models.LineDecisionCreateNew, SaleUnitTtc: &saleTtc},
	})
	if err == nil {
		t.Fatalf("spoiled line money must be refused at verification")
	}
	ve, ok := err.(utils.ValidationErrors)
	if !ok {
		t.Fatalf("expected field-level validation errors, got %T: %v", err, err)
	}
	found := false
	for _, fe := range ve {
		if fe.Field == "lines[0].vat_rate" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a lines[0].vat_rate error, got %v", ve)
	}
}

func TestStart_PurchaseDefaultsWithholdingRate(t *testing.T) {
	m := NewManager()
	wc, err := m.Start(testOrgContext(), StartWorkflowInput{Kind: models.DocumentKindPurchase})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !wc.WithholdingRate.Equal(dec("1.5")) {
		t.Fatalf("purchase withholding rate expected policy default 1.5, got %s", wc.WithholdingRate)
	}

	invoice, err := m.Start(testOrgContext(), StartWorkflowInput{Kind: models.DocumentKindInvoice})
	if err != nil {
		t.Fatalf("Start invoice: %v", err)
	}
	if !invoice.WithholdingRate.IsZero() {
		t.Fatalf("invoice withholding rate expected 0, got %s", invoice.WithholdingRate)
	}
}

func TestStart_WithholdingRateOverride(t *testing.T) {
	m := NewManager()
	override := dec("5")
	wc, err := m.Start(testOrgContext(), StartWorkflowInput{
		Kind:            models.DocumentKindPurchase,
		WithholdingRate: &override,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !wc.WithholdingRate.Equal(dec("5")) {
		t.Fatalf("withholding override expected 5, got %s", wc.WithholdingRate)
	}

	bad := dec("101")
	if _, err := m.Start(testOrgContext(), StartWorkflowInput{
		Kind:            models.DocumentKindPurchase,
		WithholdingRate: &bad,
	}); err == nil {
		t.Fatalf("withholding rate above 100 must be refused")
	}
}

func TestConfirmTotals_WithholdingReducesNetPayable(t *testing.T) {
	m := NewManager()
	wc := registerTestContext(m, models.CounterpartTypeBusinessLocal, StepTotalsConfirmation)
	wc.WithholdingRate = dec("1.5")
	// ht 1000, vat 0, ttc 1000; withholding 15; stamp duty 1
	wc.Lines = []*LineItem{{Name: "A", Qty: dec("1"), UnitPriceHt: dec("1000")}}
	wc.LinesEdited = true

	got, err := m.ConfirmTotals(wc.ID)
	if err != nil {
		t.Fatalf("ConfirmTotals: %v", err)
	}
	if !got.Totals.WithholdingAmount.Equal(dec("15")) {
		t.Fatalf("withholding amount expected 15, got %s", got.Totals.WithholdingAmount)
	}
	if !got.Totals.NetPayable.Equal(dec("986")) {
		t.Fatalf("net payable expected 986, got %s", got.Totals.NetPayable)
	}
}

// registerTestInvoiceContext mirrors registerTestContext for invoice-kind
// documents.
func registerTestInvoiceContext(m *Manager, counterpartType models.CounterpartType, step Step) *WorkflowContext {
	wc := newWorkflowContext("org-test", models.DocumentKindInvoice, models.CreationModeManual)
	wc.CounterpartId = 1
	wc.CounterpartType = counterpartType
	wc.plan = BuildStepPlan(counterpartType)
	idx, err := wc.plan.IndexOf(step)
	if err != nil {
		panic(err)
	}
	wc.stepIndex = idx
	m.register(wc)
	return wc
}

func TestAddLine_ForeignInvoiceCarriesPolicyRate(t *testing.T) {
	m := NewManager()
	wc := registerTestInvoiceContext(m, models.CounterpartTypeForeign, StepLineAnalysis)

	got, err := m.AddLine(wc.ID, LineItem{Name: "Export", Qty: dec("1"), UnitPriceHt: dec("100"), VatRate: dec("7")})
	if err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	if !got.Lines[0].VatRate.Equal(dec("19")) {
		t.Fatalf("foreign invoice line must carry the policy rate 19, got %s", got.Lines[0].VatRate)
	}
	if got.Lines[0].VatExempt {
		t.Fatalf("foreign invoice line must not be exempt")
	}
}

func TestAddLine_ForeignPurchaseIsExempt(t *testing.T) {
	m := NewManager()
	wc := registerTestContext(m, models.CounterpartTypeForeign, StepLineAnalysis)

	got, err := m.AddLine(wc.ID, LineItem{Name: "Import", Qty: dec("1"), UnitPriceHt: dec("100")})
	if err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	if !got.Lines[0].VatExempt {
		t.Fatalf("foreign purchase line must be exempt")
	}
	if !got.Lines[0].Amounts.Vat.IsZero() {
		t.Fatalf("exempt line vat expected 0, got %s", got.Lines[0].Amounts.Vat)
	}
}

func TestUpdateLine_ForeignInvoiceIgnoresVatEdits(t *testing.T) {
	m := NewManager()
	wc := registerTestInvoiceContext(m, models.CounterpartTypeForeign, StepLineAnalysis)
	wc.Lines = []*LineItem{{Name: "Export", Qty: dec("1"), UnitPriceHt: dec("100"), VatRate: dec("19")}}

	newVat := dec("7")
	got, err := m.UpdateLine(wc.ID, 0, LineEdit{VatRate: &newVat})
	if err != nil {
		t.Fatalf("UpdateLine: %v", err)
	}
	if !got.Lines[0].VatRate.Equal(dec("19")) {
		t.Fatalf("policy rate must not drift through edits, got %s", got.Lines[0].VatRate)
	}
}

func TestCancel_DiscardsInstance(t *testing.T) {
	m := NewManager()
	wc, err := m.Start(testOrgContext(), StartWorkflowInput{Kind: models.DocumentKindPurchase})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Cancel(wc.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := m.Get(wc.ID); err == nil {
		t.Fatalf("cancelled instance must be gone")
	}
}

func TestDraftProduct_DerivesSaleBlock(t *testing.T) {
	line := &LineItem{
		Name:         "Clavier",
		Reference:    "KB-100",
		Unit:         "pcs",
		Qty:          dec("1"),
		UnitPriceHt:  dec("100"),
		VatRate:      dec("19"),
		PurchaseYear: 2026,
	}
	margin := dec("25")
	line.SaleMargin = &margin

	draft := line.DraftProduct()
	if draft.VatRate == nil || !draft.VatRate.Equal(dec("19")) {
		t.Fatalf("draft vat rate expected 19, got %v", draft.VatRate)
	}
	// purchase ttc = 119; sale ht = 119 * 1.25 = 148.75; sale ttc = 148.75 * 1.19
	if draft.SaleUnitHt == nil || !draft.SaleUnitHt.Equal(dec("148.75")) {
		t.Fatalf("sale ht expected 148.75, got %v", draft.SaleUnitHt)
	}
	if draft.SaleUnitTtc == nil || !draft.SaleUnitTtc.Round(4).Equal(dec("177.0125")) {
		t.Fatalf("sale ttc expected 177.0125, got %v", draft.SaleUnitTtc)
	}
}

func TestDraftProduct_ExemptLineKeepsVatForCatalog(t *testing.T) {
	// The exemption belongs to the document line; the catalog entry keeps the
	// rate so the product stays sellable domestically.
	line := &LineItem{Name: "Import", Qty: dec("1"), UnitPriceHt: dec("100"), VatRate: dec("19"), VatExempt: true}
	margin := dec("25")
	line.SaleMargin = &margin

	draft := line.DraftProduct()
	if draft.VatRate == nil || !draft.VatRate.Equal(dec("19")) {
		t.Fatalf("exempt line draft must keep its catalog vat rate, got %v", draft.VatRate)
	}
	// purchase ttc reference is the rate-applied domestic cost: 119
	if !draft.PurchaseUnitTtc.Equal(dec("119")) {
		t.Fatalf("purchase ttc expected 119, got %s", draft.PurchaseUnitTtc)
	}
	if draft.SaleUnitHt == nil || !draft.SaleUnitHt.Equal(dec("148.75")) {
		t.Fatalf("sale ht expected 148.75, got %v", draft.SaleUnitHt)
	}
}
