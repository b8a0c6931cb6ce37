package workflow

import (
	"sort"

	"github.com/fatoora-app/intake_backend/config"
	"github.com/fatoora-app/intake_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Stock reconciliation: one immutable ledger entry plus one product stock
// update per product per committed document. The ledger entry is written
// first, referencing the previous value, so the ledger is always
// reconstructable by replay.

type StockDelta struct {
	ProductId int                        `json:"product_id"`
	Delta     decimal.Decimal            `json:"delta"`
	Reason    models.StockMovementReason `json:"reason"`
}

// BuildStockDeltas aggregates the document's existing-product lines into one
// net signed delta per product. A product appearing on several lines yields
// exactly one delta, never duplicate or partial writes. Purchases add,
// invoices remove. Create-new lines are excluded: their stock enters through
// the opening-stock entry at product creation.
func BuildStockDeltas(lines []*LineItem, kind models.DocumentKind) []StockDelta {
	reason := models.StockMovementReasonPurchase
	sign := decimal.NewFromInt(1)
	if kind.IsOutgoingStock() {
		reason = models.StockMovementReasonSale
		sign = decimal.NewFromInt(-1)
	}

	byProduct := make(map[int]decimal.Decimal)
	for _, line := range lines {
		if line.Decision == models.LineDecisionCreateNew || line.ProductId == 0 {
			continue
		}
		byProduct[line.ProductId] = byProduct[line.ProductId].Add(line.Qty.Mul(sign))
	}

	// ascending product id: stable output and a consistent lock order
	ids := make([]int, 0, len(byProduct))
	for id := range byProduct {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	deltas := make([]StockDelta, 0, len(ids))
	for _, id := range ids {
		deltas = append(deltas, StockDelta{ProductId: id, Delta: byProduct[id], Reason: reason})
	}
	return deltas
}

// ApplyStockDeltas performs the read-modify-write for every delta inside the
// caller's transaction. The product row is locked (SELECT ... FOR UPDATE) so
// two concurrently-committing documents cannot lose a delta; this is the one
// hard concurrency invariant of the system.
//
// Unlimited-stock products are exempt from all stock mutation: no ledger
// entry, no stock field update, ever.
func ApplyStockDeltas(tx *gorm.DB, logger *logrus.Logger, orgId string, documentId int, deltas []StockDelta) error {
	for _, delta := range deltas {
		var product models.Product
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("org_id = ?", orgId).
			First(&product, delta.ProductId).Error
		if err != nil {
			config.LogError(logger, "stockProcessing.go", "ApplyStockDeltas", "LockProduct", delta.ProductId, err)
			return err
		}
		if product.HasUnlimitedStock() {
			continue
		}

		movement := models.StockMovement{
			OrgId:         orgId,
			ProductId:     product.ID,
			Qty:           delta.Delta,
			PreviousStock: product.CurrentStock,
			NewStock:      product.CurrentStock.Add(delta.Delta),
			Reason:        delta.Reason,
			DocumentId:    &documentId,
		}
		// ledger first, product row second
		if err := tx.Create(&movement).Error; err != nil {
			config.LogError(logger, "stockProcessing.go", "ApplyStockDeltas", "CreateMovement", movement, err)
			return err
		}
		if err := tx.Model(&product).Update("CurrentStock", movement.NewStock).Error; err != nil {
			config.LogError(logger, "stockProcessing.go", "ApplyStockDeltas", "UpdateProductStock", product.ID, err)
			return err
		}
	}
	return nil
}

// WriteOpeningStockEntry records the opening quantity of a product created by
// a create-new line. The product row already carries the opening stock; the
// ledger entry references previous_stock=0. Zero opening stock writes nothing.
func WriteOpeningStockEntry(tx *gorm.DB, logger *logrus.Logger, orgId string, documentId int, product *models.Product) error {
	if product.HasUnlimitedStock() || !product.CurrentStock.IsPositive() {
		return nil
	}
	movement := models.StockMovement{
		OrgId:         orgId,
		ProductId:     product.ID,
		Qty:           product.CurrentStock,
		PreviousStock: decimal.Zero,
		NewStock:      product.CurrentStock,
		Reason:        models.StockMovementReasonOpeningStock,
		DocumentId:    &documentId,
	}
	if err := tx.Create(&movement).Error; err != nil {
		config.LogError(logger, "stockProcessing.go", "WriteOpeningStockEntry", "CreateMovement", movement, err)
		return err
	}
	return nil
}
