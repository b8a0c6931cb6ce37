package models

import (
	"context"
	"errors"
	"time"

	"github.com/fatoora-app/intake_backend/config"
	"github.com/fatoora-app/intake_backend/utils"
	"github.com/shopspring/decimal"
)

// AccountingDocument is the committed, authoritative record produced by a
// reconciliation workflow. Header amount columns hold the settlement currency
// (TND); lines additionally carry the document-currency amounts when foreign.
type AccountingDocument struct {
	ID                int             `gorm:"primary_key" json:"id"`
	OrgId             string          `gorm:"index;not null" json:"org_id" binding:"required"`
	Kind              DocumentKind    `gorm:"type:enum('purchase','invoice');not null" json:"kind" binding:"required"`
	CounterpartId     int             `gorm:"index;not null" json:"counterpart_id" binding:"required"`
	DocumentNumber    string          `gorm:"size:100" json:"document_number"`
	DocumentDate      time.Time       `gorm:"not null" json:"document_date"`
	CreationMode      CreationMode    `gorm:"type:enum('from_extraction','from_request','manual');default:'manual'" json:"creation_mode"`
	SourceRequestId   *int            `gorm:"index;default:null" json:"source_request_id"`
	CreatedByUserId   *int            `gorm:"index;default:null" json:"created_by_user_id"`
	CurrencyCode      string          `gorm:"size:3;not null;default:'TND'" json:"currency_code"`
	ExchangeRate      decimal.Decimal `gorm:"type:decimal(20,6);default:1" json:"exchange_rate"`
	SubtotalHt        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal_ht"`
	TotalVat          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_vat"`
	TotalTtc          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_ttc"`
	StampDuty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stamp_duty"`
	WithholdingRate   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"withholding_rate"`
	WithholdingAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"withholding_amount"`
	NetPayable        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"net_payable"`
	PaidAmount        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"paid_amount"`
	PaymentStatus     PaymentStatus   `gorm:"type:enum('unpaid','partial','paid');default:'unpaid'" json:"payment_status"`
	Lines             []DocumentLine  `gorm:"foreignkey:DocumentId" json:"lines"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// DocumentLine preserves original input order via OrderIndex. The sale price
// block is the second, independent price block used by the
// invoice-creation-from-request flow.
type DocumentLine struct {
	ID          int             `gorm:"primary_key" json:"id"`
	DocumentId  int             `gorm:"index;not null" json:"document_id" binding:"required"`
	OrderIndex  int             `gorm:"not null" json:"order_index"`
	ProductId   int             `gorm:"index" json:"product_id"`
	Name        string          `gorm:"size:150;not null" json:"name" binding:"required"`
	Reference   string          `gorm:"size:100" json:"reference"`
	Unit        string          `gorm:"size:20" json:"unit"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	UnitPriceHt decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price_ht"`
	VatRate     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"vat_rate"`
	DiscountPct decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_pct"`
	LineHt      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_ht"`
	LineVat     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_vat"`
	LineTtc     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"line_ttc"`
	// TND equivalents; equal to the document-currency amounts for local documents.
	LineHtLocal  decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"line_ht_local"`
	LineVatLocal decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"line_vat_local"`
	LineTtcLocal decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"line_ttc_local"`
	SaleUnitHt   *decimal.Decimal `gorm:"type:decimal(20,4);default:null" json:"sale_unit_ht"`
	SaleUnitTtc  *decimal.Decimal `gorm:"type:decimal(20,4);default:null" json:"sale_unit_ttc"`
	SaleMargin   *decimal.Decimal `gorm:"type:decimal(20,4);default:null" json:"sale_margin"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// Totals is the aggregate of all lines plus statutory adjustments.
// Invariant: NetPayable = TotalTtc + StampDuty - WithholdingAmount.
type Totals struct {
	SubtotalHt        decimal.Decimal `json:"subtotal_ht"`
	TotalVat          decimal.Decimal `json:"total_vat"`
	TotalTtc          decimal.Decimal `json:"total_ttc"`
	StampDuty         decimal.Decimal `json:"stamp_duty"`
	WithholdingRate   decimal.Decimal `json:"withholding_rate"`
	WithholdingAmount decimal.Decimal `json:"withholding_amount"`
	NetPayable        decimal.Decimal `json:"net_payable"`
}

// ComputeTotals aggregates line amounts and applies stamp duty and
// withholding. Pure: sums at full precision, rounds once at the end.
//
// Policy encoded, not derived: foreign counterparts pay no stamp duty, and
// withholding applies to purchase payments only, always on total TTC.
func ComputeTotals(lines []utils.LineAmounts, kind DocumentKind, counterpartType CounterpartType, withholdingRate decimal.Decimal) Totals {
	sum := utils.SumLines(lines)

	stampDuty := decimal.Zero
	if counterpartType.IsLocal() {
		stampDuty = config.GetPolicy().StampDutyAmount
	}

	withholding := decimal.Zero
	rate := decimal.Zero
	if kind == DocumentKindPurchase && withholdingRate.IsPositive() {
		rate = withholdingRate
		withholding = utils.WithholdingAmount(sum.Ttc, withholdingRate)
	}

	return Totals{
		SubtotalHt:        utils.Round3(sum.Ht),
		TotalVat:          utils.Round3(sum.Vat),
		TotalTtc:          utils.Round3(sum.Ttc),
		StampDuty:         stampDuty,
		WithholdingRate:   rate,
		WithholdingAmount: utils.Round3(withholding),
		NetPayable:        utils.Round3(utils.NetPayable(sum.Ttc, stampDuty, withholding)),
	}
}

func GetAccountingDocument(ctx context.Context, id int) (*AccountingDocument, error) {
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}
	return utils.FetchModel[AccountingDocument](ctx, orgId, id, "Lines")
}

func ListAccountingDocuments(ctx context.Context, kind *DocumentKind) ([]*AccountingDocument, error) {
	db := config.GetDB()
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	dbCtx := db.WithContext(ctx).Where("org_id = ?", orgId)
	if kind != nil {
		dbCtx = dbCtx.Where("kind = ?", *kind)
	}
	var results []*AccountingDocument
	err := dbCtx.Order("document_date desc, id desc").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// DerivePaymentStatus classifies a document's paid amount against its net payable.
func DerivePaymentStatus(netPayable, paidAmount decimal.Decimal) PaymentStatus {
	if !paidAmount.IsPositive() {
		return PaymentStatusUnpaid
	}
	if paidAmount.Cmp(netPayable) >= 0 {
		return PaymentStatusPaid
	}
	return PaymentStatusPartial
}
