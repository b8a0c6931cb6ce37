package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatoora-app/intake_backend/config"
	"github.com/fatoora-app/intake_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockMovement is one immutable ledger entry per quantity change.
// Invariant: NewStock = PreviousStock + Qty. Entries are never mutated or
// deleted; corrections happen through an explicit reversing entry.
type StockMovement struct {
	ID            int                 `gorm:"primary_key" json:"id"`
	OrgId         string              `gorm:"index;not null" json:"org_id" binding:"required"`
	ProductId     int                 `gorm:"index;not null" json:"product_id" binding:"required"`
	Qty           decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"qty"`
	PreviousStock decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"previous_stock"`
	NewStock      decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"new_stock"`
	Reason        StockMovementReason `gorm:"type:enum('purchase','sale','opening_stock','manual_adjustment','reversal');not null" json:"reason"`
	DocumentId    *int                `gorm:"index;default:null" json:"document_id"`
	IsReversal    bool                `gorm:"not null;default:false;index" json:"is_reversal"`
	// ReversesMovementId links a reversing entry to the entry it undoes.
	ReversesMovementId *int      `gorm:"index;default:null" json:"reverses_movement_id"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeSave enforces the ledger's conservation invariant. A row whose
// closing value does not equal previous + delta must never reach the table:
// replay correctness depends on it.
func (m *StockMovement) BeforeSave(tx *gorm.DB) error {
	_ = tx // signature required by gorm; tx may be nil in tests
	if m == nil {
		return nil
	}
	if !m.NewStock.Equal(m.PreviousStock.Add(m.Qty)) {
		return fmt.Errorf("stock movement invariant violated: %s + %s != %s",
			m.PreviousStock.String(), m.Qty.String(), m.NewStock.String())
	}
	return nil
}

// ReplayProductStock reconstructs a product's stock by replaying its ledger
// in write order. Used by the maintenance command to detect drift against
// products.current_stock.
func ReplayProductStock(ctx context.Context, db *gorm.DB, orgId string, productId int) (decimal.Decimal, error) {

	var movements []*StockMovement
	err := db.WithContext(ctx).
		Where("org_id = ? AND product_id = ?", orgId, productId).
		Order("id").
		Find(&movements).Error
	if err != nil {
		return decimal.Zero, err
	}

	stock := decimal.Zero
	for _, m := range movements {
		if !m.PreviousStock.Equal(stock) {
			return decimal.Zero, fmt.Errorf("ledger gap at movement %d: previous_stock=%s, replayed=%s",
				m.ID, m.PreviousStock.String(), stock.String())
		}
		stock = m.NewStock
	}
	return stock, nil
}

// CreateStockReversal writes the reversing entry for an existing movement and
// restores the product's stock field. The only sanctioned correction path.
func CreateStockReversal(ctx context.Context, movementId int) (*StockMovement, error) {

	db := config.GetDB()
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	var reversal *StockMovement
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var original StockMovement
		if err := tx.Where("org_id = ?", orgId).First(&original, movementId).Error; err != nil {
			return utils.ErrorRecordNotFound
		}
		if original.IsReversal {
			return errors.New("cannot reverse a reversal entry")
		}

		var alreadyReversed int64
		if err := tx.Model(&StockMovement{}).
			Where("org_id = ? AND reverses_movement_id = ?", orgId, movementId).
			Count(&alreadyReversed).Error; err != nil {
			return err
		}
		if alreadyReversed > 0 {
			return errors.New("movement already reversed")
		}

		var product Product
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("org_id = ?", orgId).
			First(&product, original.ProductId).Error; err != nil {
			return utils.ErrorRecordNotFound
		}

		delta := original.Qty.Neg()
		reversal = &StockMovement{
			OrgId:              orgId,
			ProductId:          original.ProductId,
			Qty:                delta,
			PreviousStock:      product.CurrentStock,
			NewStock:           product.CurrentStock.Add(delta),
			Reason:             StockMovementReasonReversal,
			DocumentId:         original.DocumentId,
			IsReversal:         true,
			ReversesMovementId: &original.ID,
		}
		if err := tx.Create(reversal).Error; err != nil {
			return err
		}
		return tx.Model(&product).Update("CurrentStock", reversal.NewStock).Error
	})
	if err != nil {
		return nil, err
	}
	return reversal, nil
}
