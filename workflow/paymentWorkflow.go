package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/fatoora-app/intake_backend/config"
	"github.com/fatoora-app/intake_backend/models"
	"github.com/fatoora-app/intake_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm/clause"
)

// ApprovePaymentRequestInput carries the approval-time execution details. The
// exchange rate is the rate the payment is executed at; when nil the parent
// document's rate is used. A later document-rate change never rewrites an
// executed payment.
type ApprovePaymentRequestInput struct {
	RequestId    int              `json:"request_id" binding:"required"`
	ExchangeRate *decimal.Decimal `json:"exchange_rate"`
	PaymentDate  *time.Time       `json:"payment_date"`
}

// ApprovePaymentRequest executes an awaiting-approval request: it writes the
// payment ledger record and advances the parent document's paid amount and
// payment status, all in one transaction. The request and document rows are
// locked so two concurrent approvals on the same document cannot lose an
// update.
//
// The gross requested amount, not the net-of-withholding amount, accrues to
// paid_amount: withholding is settled with the tax authority, not owed to the
// supplier twice.
func ApprovePaymentRequest(ctx context.Context, logger *logrus.Logger, input *ApprovePaymentRequestInput) (*models.Payment, error) {

	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	var request models.PaymentRequest
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("org_id = ?", orgId).
		First(&request, input.RequestId).Error
	if err != nil {
		config.LogError(logger, "paymentWorkflow.go", "ApprovePaymentRequest", "LockRequest", input.RequestId, err)
		return nil, err
	}
	if !request.CanTransitionTo(models.PaymentRequestStatusApproved) {
		return nil, errors.New("payment request is not awaiting approval")
	}

	var document models.AccountingDocument
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("org_id = ?", orgId).
		First(&document, request.DocumentId).Error
	if err != nil {
		config.LogError(logger, "paymentWorkflow.go", "ApprovePaymentRequest", "LockDocument", request.DocumentId, err)
		return nil, err
	}

	rate := document.ExchangeRate
	if input.ExchangeRate != nil {
		if !input.ExchangeRate.IsPositive() {
			return nil, utils.FieldError{Field: "exchange_rate", Message: "exchange rate must be positive"}
		}
		rate = *input.ExchangeRate
	}
	paymentDate := time.Now()
	if input.PaymentDate != nil {
		paymentDate = *input.PaymentDate
	}

	payment := models.Payment{
		OrgId:            orgId,
		DocumentId:       document.ID,
		PaymentRequestId: request.ID,
		Amount:           request.RequestedAmount,
		CurrencyCode:     request.CurrencyCode,
		ExchangeRate:     rate,
		AmountLocal:      utils.ConvertToLocal(request.RequestedAmount, rate),
		PaymentDate:      paymentDate,
	}
	if err := tx.Create(&payment).Error; err != nil {
		config.LogError(logger, "paymentWorkflow.go", "ApprovePaymentRequest", "CreatePayment", payment, err)
		return nil, err
	}

	if err := tx.Model(&request).Update("Status", models.PaymentRequestStatusApproved).Error; err != nil {
		config.LogError(logger, "paymentWorkflow.go", "ApprovePaymentRequest", "UpdateRequest", request.ID, err)
		return nil, err
	}

	paid := document.PaidAmount.Add(request.RequestedAmount)
	err = tx.Model(&document).Updates(map[string]interface{}{
		"PaidAmount":    paid,
		"PaymentStatus": models.DerivePaymentStatus(document.NetPayable, paid),
	}).Error
	if err != nil {
		config.LogError(logger, "paymentWorkflow.go", "ApprovePaymentRequest", "UpdateDocument", document.ID, err)
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "paymentWorkflow.go", "ApprovePaymentRequest", "TxCommit", request.ID, err)
		return nil, err
	}
	return &payment, nil
}

// RejectPaymentRequest closes an awaiting-approval request without touching
// the parent document.
func RejectPaymentRequest(ctx context.Context, logger *logrus.Logger, requestId int, notes string) (*models.PaymentRequest, error) {

	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	db := config.GetDB()
	request, err := utils.FetchModel[models.PaymentRequest](ctx, orgId, requestId)
	if err != nil {
		return nil, err
	}
	if !request.CanTransitionTo(models.PaymentRequestStatusRejected) {
		return nil, errors.New("payment request is not awaiting approval")
	}

	updates := map[string]interface{}{"Status": models.PaymentRequestStatusRejected}
	if notes != "" {
		updates["Notes"] = notes
	}
	err = db.WithContext(ctx).Model(request).Updates(updates).Error
	if err != nil {
		config.LogError(logger, "paymentWorkflow.go", "RejectPaymentRequest", "UpdateRequest", requestId, err)
		return nil, err
	}
	return request, nil
}
