package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fatoora-app/intake_backend/config"
	"github.com/fatoora-app/intake_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// IntakeRequest is the originating record for a reconciliation workflow: a
// scanned document handed over by the extraction provider, optionally carrying
// an externally-imposed target amount the reconciled totals must hit.
type IntakeRequest struct {
	ID                  int              `gorm:"primary_key" json:"id"`
	OrgId               string           `gorm:"index;not null" json:"org_id" binding:"required"`
	Kind                DocumentKind     `gorm:"type:enum('purchase','invoice');not null" json:"kind" binding:"required"`
	SourceRef           string           `gorm:"size:255" json:"source_ref"`
	Status              RequestStatus    `gorm:"type:enum('pending','processed','rejected','converted');default:'pending'" json:"status"`
	TargetAmount        *decimal.Decimal `gorm:"type:decimal(20,4);default:null" json:"target_amount"`
	ExtractionPayload   []byte           `gorm:"type:json" json:"extraction_payload"`
	GeneratedDocumentId *int             `gorm:"index;default:null" json:"generated_document_id"`
	LinkedCounterpartId *int             `gorm:"index;default:null" json:"linked_counterpart_id"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewIntakeRequest struct {
	Kind         DocumentKind      `json:"kind" binding:"required"`
	SourceRef    string            `json:"source_ref"`
	TargetAmount *decimal.Decimal  `json:"target_amount"`
	Extraction   *ExtractionResult `json:"extraction"`
}

// allowed request status transitions; terminal states have no exits
var requestStatusTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending: {RequestStatusProcessed, RequestStatusRejected, RequestStatusConverted},
}

func (r IntakeRequest) CanTransitionTo(next RequestStatus) bool {
	for _, s := range requestStatusTransitions[r.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// Extraction decodes the stored extraction payload. A request without a
// payload yields an empty draft, never an error.
func (r IntakeRequest) Extraction() (*ExtractionResult, error) {
	if len(r.ExtractionPayload) == 0 {
		return &ExtractionResult{}, nil
	}
	var result ExtractionResult
	if err := json.Unmarshal(r.ExtractionPayload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func CreateIntakeRequest(ctx context.Context, input *NewIntakeRequest) (*IntakeRequest, error) {

	db := config.GetDB()
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	if input.TargetAmount != nil && input.TargetAmount.IsNegative() {
		return nil, utils.FieldError{Field: "target_amount", Message: "target amount cannot be negative"}
	}

	var payload []byte
	if input.Extraction != nil {
		var err error
		payload, err = json.Marshal(input.Extraction)
		if err != nil {
			return nil, err
		}
	}

	request := IntakeRequest{
		OrgId:             orgId,
		Kind:              input.Kind,
		SourceRef:         input.SourceRef,
		Status:            RequestStatusPending,
		TargetAmount:      input.TargetAmount,
		ExtractionPayload: payload,
	}
	err := db.WithContext(ctx).Create(&request).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func GetIntakeRequest(ctx context.Context, id int) (*IntakeRequest, error) {
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}
	return utils.FetchModel[IntakeRequest](ctx, orgId, id)
}

// MarkRequestProcessedTx transitions the originating request inside the
// committer's transaction, attaching the generated document and the resolved
// counterpart back-links.
func MarkRequestProcessedTx(tx *gorm.DB, orgId string, requestId int, next RequestStatus, documentId int, counterpartId int) error {

	var request IntakeRequest
	if err := tx.Where("org_id = ?", orgId).First(&request, requestId).Error; err != nil {
		return utils.ErrorRecordNotFound
	}
	if !request.CanTransitionTo(next) {
		return fmt.Errorf("request %d cannot transition from %s to %s", requestId, request.Status, next)
	}

	updates := map[string]interface{}{
		"Status": next,
	}
	if documentId != 0 {
		updates["GeneratedDocumentId"] = documentId
	}
	if counterpartId != 0 {
		updates["LinkedCounterpartId"] = counterpartId
	}
	return tx.Model(&request).Updates(updates).Error
}

// RejectIntakeRequest closes a pending request without producing a document.
func RejectIntakeRequest(ctx context.Context, id int) (*IntakeRequest, error) {

	db := config.GetDB()
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	request, err := utils.FetchModel[IntakeRequest](ctx, orgId, id)
	if err != nil {
		return nil, err
	}
	if !request.CanTransitionTo(RequestStatusRejected) {
		return nil, fmt.Errorf("request %d cannot transition from %s to %s", id, request.Status, RequestStatusRejected)
	}
	err = db.WithContext(ctx).Model(request).Update("Status", RequestStatusRejected).Error
	if err != nil {
		return nil, err
	}
	return request, nil
}
