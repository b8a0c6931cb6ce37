package models

import (
	"context"
	"errors"
	"time"

	"github.com/fatoora-app/intake_backend/config"
	"github.com/fatoora-app/intake_backend/utils"
	"github.com/shopspring/decimal"
)

// PaymentRequest asks for a (partial) settlement of a committed document.
// Withholding is computed on the request's TTC base, never on net payable.
// Status: pending -> awaiting_approval -> approved | rejected. Only approval
// creates a Payment ledger record and touches the parent document.
type PaymentRequest struct {
	ID                 int                  `gorm:"primary_key" json:"id"`
	OrgId              string               `gorm:"index;not null" json:"org_id" binding:"required"`
	DocumentId         int                  `gorm:"index;not null" json:"document_id" binding:"required"`
	RequestedAmount    decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"requested_amount"`
	WithholdingRate    decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"withholding_rate"`
	WithholdingAmount  decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"withholding_amount"`
	NetRequestedAmount decimal.Decimal      `gorm:"type:decimal(20,4);default:0" json:"net_requested_amount"`
	CurrencyCode       string               `gorm:"size:3;not null;default:'TND'" json:"currency_code"`
	Status             PaymentRequestStatus `gorm:"type:enum('pending','awaiting_approval','approved','rejected');default:'pending'" json:"status"`
	Notes              string               `gorm:"size:255" json:"notes"`
	CreatedAt          time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPaymentRequest struct {
	DocumentId      int              `json:"document_id" binding:"required"`
	RequestedAmount decimal.Decimal  `json:"requested_amount" binding:"required"`
	WithholdingRate *decimal.Decimal `json:"withholding_rate"`
	Notes           string           `json:"notes"`
}

// Payment is the real ledger record, created only on approval. It stores the
// exchange rate it was executed at: a later document-rate edit never rewrites
// an executed payment.
type Payment struct {
	ID               int             `gorm:"primary_key" json:"id"`
	OrgId            string          `gorm:"index;not null" json:"org_id" binding:"required"`
	DocumentId       int             `gorm:"index;not null" json:"document_id" binding:"required"`
	PaymentRequestId int             `gorm:"index;not null" json:"payment_request_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	CurrencyCode     string          `gorm:"size:3;not null;default:'TND'" json:"currency_code"`
	ExchangeRate     decimal.Decimal `gorm:"type:decimal(20,6);default:1" json:"exchange_rate"`
	AmountLocal      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount_local"`
	PaymentDate      time.Time       `gorm:"not null" json:"payment_date"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// allowed payment request transitions
var paymentRequestTransitions = map[PaymentRequestStatus][]PaymentRequestStatus{
	PaymentRequestStatusPending:          {PaymentRequestStatusAwaitingApproval},
	PaymentRequestStatusAwaitingApproval: {PaymentRequestStatusApproved, PaymentRequestStatusRejected},
}

func (r PaymentRequest) CanTransitionTo(next PaymentRequestStatus) bool {
	for _, s := range paymentRequestTransitions[r.Status] {
		if s == next {
			return true
		}
	}
	return false
}

func CreatePaymentRequest(ctx context.Context, input *NewPaymentRequest) (*PaymentRequest, error) {

	db := config.GetDB()
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	if !input.RequestedAmount.IsPositive() {
		return nil, utils.FieldError{Field: "requested_amount", Message: "requested amount must be positive"}
	}

	document, err := utils.FetchModel[AccountingDocument](ctx, orgId, input.DocumentId)
	if err != nil {
		return nil, err
	}
	if document.Kind != DocumentKindPurchase {
		return nil, utils.FieldError{Field: "document_id", Message: "payment requests apply to purchase documents only"}
	}

	rate := config.GetPolicy().DefaultWithholdingRate
	if input.WithholdingRate != nil {
		rate = *input.WithholdingRate
	}

	// Withholding base is the requested TTC amount, fixed domain rule.
	withholding := utils.Round3(utils.WithholdingAmount(input.RequestedAmount, rate))

	request := PaymentRequest{
		OrgId:              orgId,
		DocumentId:         input.DocumentId,
		RequestedAmount:    input.RequestedAmount,
		WithholdingRate:    rate,
		WithholdingAmount:  withholding,
		NetRequestedAmount: input.RequestedAmount.Sub(withholding),
		CurrencyCode:       document.CurrencyCode,
		Status:             PaymentRequestStatusPending,
		Notes:              input.Notes,
	}
	err = db.WithContext(ctx).Create(&request).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func GetPaymentRequest(ctx context.Context, id int) (*PaymentRequest, error) {
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}
	return utils.FetchModel[PaymentRequest](ctx, orgId, id)
}

// AttachPaymentResponse moves a pending request to awaiting_approval once the
// counterpart-side payment response arrives.
func AttachPaymentResponse(ctx context.Context, id int) (*PaymentRequest, error) {

	db := config.GetDB()
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	request, err := utils.FetchModel[PaymentRequest](ctx, orgId, id)
	if err != nil {
		return nil, err
	}
	if !request.CanTransitionTo(PaymentRequestStatusAwaitingApproval) {
		return nil, errors.New("payment request is not pending")
	}
	err = db.WithContext(ctx).Model(request).Update("Status", PaymentRequestStatusAwaitingApproval).Error
	if err != nil {
		return nil, err
	}
	return request, nil
}
