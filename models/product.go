package models

import (
	"context"
	"errors"
	"time"

	"github.com/fatoora-app/intake_backend/config"
	"github.com/fatoora-app/intake_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	ID          int    `gorm:"primary_key" json:"id"`
	OrgId       string `gorm:"index;not null" json:"org_id" binding:"required"`
	Name        string `gorm:"size:150;not null" json:"name" binding:"required"`
	Reference   string `gorm:"index;size:100" json:"reference"`
	Ean         string `gorm:"index;size:100" json:"ean"`
	Description string `gorm:"type:text" json:"description"`
	Unit        string `gorm:"size:20;not null;default:'piece'" json:"unit"`
	// VatRate is nullable: a product without a VAT rate cannot carry sale prices.
	VatRate          *decimal.Decimal `gorm:"type:decimal(20,4);default:null" json:"vat_rate"`
	PurchaseUnitHt   decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"purchase_unit_ht"`
	PurchaseUnitTtc  decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"purchase_unit_ttc"`
	SaleUnitHt       *decimal.Decimal `gorm:"type:decimal(20,4);default:null" json:"sale_unit_ht"`
	SaleUnitTtc      *decimal.Decimal `gorm:"type:decimal(20,4);default:null" json:"sale_unit_ttc"`
	MarginPct        *decimal.Decimal `gorm:"type:decimal(20,4);default:null" json:"margin_pct"`
	CurrentStock     decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"current_stock"`
	IsUnlimitedStock *bool            `gorm:"not null;default:false" json:"is_unlimited_stock"`
	PurchaseYear     int              `gorm:"default:0" json:"purchase_year"`
	IsActive         *bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name             string           `json:"name" binding:"required"`
	Reference        string           `json:"reference"`
	Ean              string           `json:"ean"`
	Description      string           `json:"description"`
	Unit             string           `json:"unit"`
	VatRate          *decimal.Decimal `json:"vat_rate"`
	PurchaseUnitHt   decimal.Decimal  `json:"purchase_unit_ht"`
	PurchaseUnitTtc  decimal.Decimal  `json:"purchase_unit_ttc"`
	SaleUnitHt       *decimal.Decimal `json:"sale_unit_ht"`
	SaleUnitTtc      *decimal.Decimal `json:"sale_unit_ttc"`
	MarginPct        *decimal.Decimal `json:"margin_pct"`
	OpeningStock     decimal.Decimal  `json:"opening_stock"`
	IsUnlimitedStock *bool            `json:"is_unlimited_stock"`
	PurchaseYear     int              `json:"purchase_year"`
}

func (p Product) HasUnlimitedStock() bool {
	return p.IsUnlimitedStock != nil && *p.IsUnlimitedStock
}

// validate input for both create & update. (id = 0 for create)
//
// requireSalePrice is set for line-verification "create new" products: those
// must be resellable, so a VAT rate and a positive sale price are mandatory.
func (input *NewProduct) Validate(ctx context.Context, orgId string, id int, requireSalePrice bool) error {
	errs := utils.ValidationErrors{}

	if input.Name == "" {
		errs = append(errs, utils.FieldError{Field: "name", Message: "name is required"})
	}
	if !utils.IsValidBarcode(input.Ean) {
		errs = append(errs, utils.FieldError{Field: "ean", Message: "unrecognized barcode format"})
	}
	if input.OpeningStock.IsNegative() {
		errs = append(errs, utils.FieldError{Field: "opening_stock", Message: "opening stock cannot be negative"})
	}
	if input.PurchaseYear != 0 && (input.PurchaseYear < 2000 || input.PurchaseYear > 2100) {
		errs = append(errs, utils.FieldError{Field: "purchase_year", Message: "purchase year must be between 2000 and 2100"})
	}
	if input.VatRate != nil && (input.VatRate.IsNegative() || input.VatRate.GreaterThan(decimal.NewFromInt(100))) {
		errs = append(errs, utils.FieldError{Field: "vat_rate", Message: "vat rate out of range"})
	}

	// A sale price cannot exist without a VAT rate.
	hasSalePrice := input.SaleUnitHt != nil || input.SaleUnitTtc != nil || input.MarginPct != nil
	if hasSalePrice && input.VatRate == nil {
		errs = append(errs, utils.FieldError{Field: "vat_rate", Message: "vat rate is required when a sale price is set"})
	}
	if requireSalePrice {
		if input.VatRate == nil {
			errs = append(errs, utils.FieldError{Field: "vat_rate", Message: "vat rate is required"})
		}
		if input.SaleUnitHt == nil || !input.SaleUnitHt.IsPositive() {
			errs = append(errs, utils.FieldError{Field: "sale_unit_ht", Message: "a positive sale price is required"})
		}
	}

	if errs.HasErrors() {
		return errs
	}

	// Uniqueness: name always, reference and EAN only when provided.
	if err := utils.ValidateUnique[Product](ctx, orgId, "name", input.Name, id); err != nil {
		return err
	}
	if input.Reference != "" {
		if err := utils.ValidateUnique[Product](ctx, orgId, "reference", input.Reference, id); err != nil {
			return err
		}
	}
	if input.Ean != "" {
		if err := utils.ValidateUnique[Product](ctx, orgId, "ean", input.Ean, id); err != nil {
			return err
		}
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {

	db := config.GetDB()
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	if err := input.Validate(ctx, orgId, 0, false); err != nil {
		return nil, err
	}

	product := ProductFromInput(orgId, input)
	err := db.WithContext(ctx).Create(product).Error
	if err != nil {
		return nil, err
	}
	return product, nil
}

// CreateProductTx inserts a product inside the caller's transaction.
// Validation must already have passed. Opening stock is written by the stock
// reconciler, not here; CurrentStock starts at the opening quantity so the
// first ledger entry references previous_stock=0.
func CreateProductTx(tx *gorm.DB, orgId string, input *NewProduct) (*Product, error) {
	product := ProductFromInput(orgId, input)
	if err := tx.Create(product).Error; err != nil {
		return nil, err
	}
	return product, nil
}

func ProductFromInput(orgId string, input *NewProduct) *Product {
	unit := input.Unit
	if unit == "" {
		unit = "piece"
	}
	saleHt, saleTtc, margin := input.SaleUnitHt, input.SaleUnitTtc, input.MarginPct
	if input.VatRate == nil {
		saleHt, saleTtc, margin = nil, nil, nil
	}
	return &Product{
		OrgId:            orgId,
		Name:             input.Name,
		Reference:        input.Reference,
		Ean:              input.Ean,
		Description:      input.Description,
		Unit:             unit,
		VatRate:          input.VatRate,
		PurchaseUnitHt:   input.PurchaseUnitHt,
		PurchaseUnitTtc:  input.PurchaseUnitTtc,
		SaleUnitHt:       saleHt,
		SaleUnitTtc:      saleTtc,
		MarginPct:        margin,
		CurrentStock:     input.OpeningStock,
		IsUnlimitedStock: input.IsUnlimitedStock,
		PurchaseYear:     input.PurchaseYear,
	}
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}
	return utils.FetchModel[Product](ctx, orgId, id)
}

// ListProducts returns the org's product catalog in a stable order.
func ListProducts(ctx context.Context) ([]*Product, error) {
	db := config.GetDB()
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	var results []*Product
	err := db.WithContext(ctx).
		Where("org_id = ?", orgId).
		Order("id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// SearchProductsByName is the manual fuzzy search (substring, case-insensitive).
func SearchProductsByName(ctx context.Context, name string) ([]*Product, error) {
	db := config.GetDB()
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	var results []*Product
	err := db.WithContext(ctx).
		Where("org_id = ? AND name LIKE ?", orgId, "%"+name+"%").
		Order("name").
		Limit(config.SearchLimit).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
