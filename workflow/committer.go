package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/bsm/redislock"
	"github.com/fatoora-app/intake_backend/config"
	"github.com/fatoora-app/intake_backend/models"
	"github.com/fatoora-app/intake_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Commit is the terminal, one-shot step: it folds a fully-verified context
// into a persisted accounting document as one transaction:
//
//  1. document header with the final totals
//  2. one line record per item, original order preserved
//  3. stock reconciliation for every line
//  4. originating request status update
//
// A failure rolls everything back; if the rollback itself fails the distinct
// inconsistent-state error is raised instead of an ordinary failure.
func (m *Manager) Commit(ctx context.Context, logger *logrus.Logger, id string) (*models.AccountingDocument, error) {
	wc, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if wc.committed {
		return nil, errors.New("workflow already committed; start a new instance for a new document")
	}
	if err := requireStep(wc, StepCommit); err != nil {
		return nil, err
	}
	if !wc.totalsConfirmed {
		return nil, errors.New("totals are not confirmed")
	}

	// Best-effort cross-instance serialization per product. The row locks
	// taken inside the transaction are the authoritative guarantee; Redis
	// only fails contenders fast.
	deltas := BuildStockDeltas(wc.Lines, wc.Kind)
	locks := make([]*redislock.Lock, 0, len(deltas))
	defer func() {
		for _, lock := range locks {
			utils.ReleaseResourceLock(ctx, lock)
		}
	}()
	for _, delta := range deltas {
		lock, err := utils.ObtainResourceLock(ctx, "stock-commit", fmt.Sprintf("%s:%d", wc.OrgId, delta.ProductId))
		if err != nil {
			return nil, err
		}
		if lock != nil {
			locks = append(locks, lock)
		}
	}

	var createdBy *int
	if userId, ok := utils.GetUserIdFromContext(ctx); ok {
		createdBy = &userId
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	document, err := commitSteps(tx, logger, wc, createdBy)
	if err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			config.LogError(logger, "committer.go", "Commit", "Rollback", wc.ID, rbErr)
			return nil, utils.InconsistentStateError{Step: "rollback", Cause: err, RollbackErr: rbErr}
		}
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "committer.go", "Commit", "TxCommit", wc.ID, err)
		return nil, err
	}

	wc.committed = true
	return document, nil
}

func commitSteps(tx *gorm.DB, logger *logrus.Logger, wc *WorkflowContext, createdBy *int) (*models.AccountingDocument, error) {

	// Create-new products first: opening stock lands on the product row and
	// its ledger entry references previous_stock=0.
	createdByLine := make(map[int]*models.Product)
	for i, line := range wc.Lines {
		if line.Decision != models.LineDecisionCreateNew {
			continue
		}
		product, err := models.CreateProductTx(tx, wc.OrgId, line.NewProduct)
		if err != nil {
			config.LogError(logger, "committer.go", "commitSteps", "CreateProduct", line.Name, err)
			return nil, err
		}
		createdByLine[i] = product
		line.ProductId = product.ID
	}

	// 1. header
	document := &models.AccountingDocument{
		OrgId:             wc.OrgId,
		Kind:              wc.Kind,
		CounterpartId:     wc.CounterpartId,
		DocumentNumber:    wc.DocumentNumber,
		DocumentDate:      wc.DocumentDate,
		CreationMode:      wc.CreationMode,
		SourceRequestId:   wc.SourceRequestId,
		CreatedByUserId:   createdBy,
		CurrencyCode:      wc.CurrencyCode,
		ExchangeRate:      wc.ExchangeRate,
		SubtotalHt:        wc.Totals.SubtotalHt,
		TotalVat:          wc.Totals.TotalVat,
		TotalTtc:          wc.Totals.TotalTtc,
		StampDuty:         wc.Totals.StampDuty,
		WithholdingRate:   wc.Totals.WithholdingRate,
		WithholdingAmount: wc.Totals.WithholdingAmount,
		NetPayable:        wc.Totals.NetPayable,
		PaymentStatus:     models.PaymentStatusUnpaid,
	}
	if err := tx.Create(document).Error; err != nil {
		config.LogError(logger, "committer.go", "commitSteps", "CreateDocument", wc.ID, err)
		return nil, err
	}

	// 2. lines, original input order preserved via the explicit index
	for i, line := range wc.Lines {
		record := models.DocumentLine{
			DocumentId:   document.ID,
			OrderIndex:   i,
			ProductId:    line.ProductId,
			Name:         line.Name,
			Reference:    line.Reference,
			Unit:         line.Unit,
			Qty:          line.Qty,
			UnitPriceHt:  line.UnitPriceHt,
			VatRate:      line.VatRate,
			DiscountPct:  line.DiscountPct,
			LineHt:       utils.Round3(line.Amounts.Ht),
			LineVat:      utils.Round3(line.Amounts.Vat),
			LineTtc:      utils.Round3(line.Amounts.Ttc),
			LineHtLocal:  utils.Round3(line.AmountsLocal.Ht),
			LineVatLocal: utils.Round3(line.AmountsLocal.Vat),
			LineTtcLocal: utils.Round3(line.AmountsLocal.Ttc),
			SaleUnitHt:   line.SaleUnitHt,
			SaleUnitTtc:  line.SaleUnitTtc,
			SaleMargin:   line.SaleMargin,
		}
		if err := tx.Create(&record).Error; err != nil {
			config.LogError(logger, "committer.go", "commitSteps", "CreateLine", i, err)
			return nil, err
		}
	}

	// 3. stock: opening entries for created products, aggregated net deltas
	// for existing ones
	for i := range wc.Lines {
		if product, ok := createdByLine[i]; ok {
			if err := WriteOpeningStockEntry(tx, logger, wc.OrgId, document.ID, product); err != nil {
				return nil, err
			}
		}
	}
	deltas := BuildStockDeltas(wc.Lines, wc.Kind)
	deltas = withoutCreatedProducts(deltas, createdByLine)
	if err := ApplyStockDeltas(tx, logger, wc.OrgId, document.ID, deltas); err != nil {
		return nil, err
	}

	// 4. originating request back-links
	if wc.SourceRequestId != nil {
		next := models.RequestStatusProcessed
		if wc.Kind == models.DocumentKindInvoice {
			next = models.RequestStatusConverted
		}
		if err := models.MarkRequestProcessedTx(tx, wc.OrgId, *wc.SourceRequestId, next, document.ID, wc.CounterpartId); err != nil {
			config.LogError(logger, "committer.go", "commitSteps", "MarkRequestProcessed", *wc.SourceRequestId, err)
			return nil, err
		}
	}

	return document, nil
}

// withoutCreatedProducts drops deltas for products that were just created in
// this commit: their quantity is already accounted for by the opening entry.
func withoutCreatedProducts(deltas []StockDelta, createdByLine map[int]*models.Product) []StockDelta {
	if len(createdByLine) == 0 {
		return deltas
	}
	created := make(map[int]bool, len(createdByLine))
	for _, p := range createdByLine {
		created[p.ID] = true
	}
	out := deltas[:0]
	for _, d := range deltas {
		if !created[d.ProductId] {
			out = append(out, d)
		}
	}
	return out
}
