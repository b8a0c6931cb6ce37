package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fatoora-app/intake_backend/config"
	"github.com/fatoora-app/intake_backend/utils"
)

// Counterpart is the other party to a document: a supplier on purchases, a
// client on invoices. Immutable once linked to a committed document.
type Counterpart struct {
	ID              int             `gorm:"primary_key" json:"id"`
	OrgId           string          `gorm:"index;not null" json:"org_id" binding:"required"`
	Role            CounterpartRole `gorm:"type:enum('supplier','client');not null" json:"role" binding:"required"`
	Type            CounterpartType `gorm:"type:enum('individual_local','business_local','foreign');not null" json:"type" binding:"required"`
	FirstName       string          `gorm:"size:100" json:"first_name"`
	LastName        string          `gorm:"size:100" json:"last_name"`
	CompanyName     string          `gorm:"size:150" json:"company_name"`
	IdentifierType  *IdentifierType `gorm:"type:enum('tax_id','cin','passport');default:null" json:"identifier_type"`
	IdentifierValue string          `gorm:"index;size:50" json:"identifier_value"`
	Governorate     string          `gorm:"size:50" json:"governorate"`
	Country         string          `gorm:"size:50" json:"country"`
	Email           string          `gorm:"size:100" json:"email"`
	Phone           string          `gorm:"size:20" json:"phone"`
	IsActive        *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCounterpart struct {
	Role            CounterpartRole `json:"role" binding:"required"`
	Type            CounterpartType `json:"type" binding:"required"`
	FirstName       string          `json:"first_name"`
	LastName        string          `json:"last_name"`
	CompanyName     string          `json:"company_name"`
	IdentifierType  *IdentifierType `json:"identifier_type"`
	IdentifierValue string          `json:"identifier_value"`
	Governorate     string          `json:"governorate"`
	Country         string          `json:"country"`
	Email           string          `json:"email"`
	Phone           string          `json:"phone"`
}

// DisplayName is the catalog name used for matching and listing.
func (c Counterpart) DisplayName() string {
	if c.CompanyName != "" {
		return c.CompanyName
	}
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

func (input *NewCounterpart) DisplayName() string {
	if input.CompanyName != "" {
		return input.CompanyName
	}
	return strings.TrimSpace(input.FirstName + " " + input.LastName)
}

// validate input for both create & update. (id = 0 for create)
func (input *NewCounterpart) Validate(ctx context.Context, orgId string, id int) error {
	errs := utils.ValidationErrors{}

	if !input.Type.IsValid() {
		errs = append(errs, utils.FieldError{Field: "type", Message: "invalid counterpart type"})
	}

	switch input.Type {
	case CounterpartTypeIndividualLocal:
		if input.FirstName == "" || input.LastName == "" {
			errs = append(errs, utils.FieldError{Field: "first_name", Message: "first and last name are required for local individuals"})
		}
	case CounterpartTypeBusinessLocal, CounterpartTypeForeign:
		if input.CompanyName == "" {
			errs = append(errs, utils.FieldError{Field: "company_name", Message: "company name is required"})
		}
	}

	if input.Type.IsLocal() {
		if input.IdentifierType == nil || input.IdentifierValue == "" {
			errs = append(errs, utils.FieldError{Field: "identifier_value", Message: "government identifier is required for local counterparts"})
		}
		if input.Governorate == "" {
			errs = append(errs, utils.FieldError{Field: "governorate", Message: "governorate is required for local counterparts"})
		}
	} else {
		if input.Country == "" {
			errs = append(errs, utils.FieldError{Field: "country", Message: "country is required for foreign counterparts"})
		}
	}

	if errs.HasErrors() {
		return errs
	}

	if input.IdentifierValue != "" {
		if err := utils.ValidateUnique[Counterpart](ctx, orgId, "identifier_value", input.IdentifierValue, id); err != nil {
			return err
		}
	}
	return nil
}

func CreateCounterpart(ctx context.Context, input *NewCounterpart) (*Counterpart, error) {

	db := config.GetDB()
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	if err := input.Validate(ctx, orgId, 0); err != nil {
		return nil, err
	}

	counterpart := counterpartFromInput(orgId, input)
	err := db.WithContext(ctx).Create(counterpart).Error
	if err != nil {
		return nil, err
	}
	return counterpart, nil
}

func counterpartFromInput(orgId string, input *NewCounterpart) *Counterpart {
	return &Counterpart{
		OrgId:           orgId,
		Role:            input.Role,
		Type:            input.Type,
		FirstName:       input.FirstName,
		LastName:        input.LastName,
		CompanyName:     input.CompanyName,
		IdentifierType:  input.IdentifierType,
		IdentifierValue: input.IdentifierValue,
		Governorate:     input.Governorate,
		Country:         input.Country,
		Email:           input.Email,
		Phone:           input.Phone,
	}
}

func GetCounterpart(ctx context.Context, id int) (*Counterpart, error) {
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}
	return utils.FetchModel[Counterpart](ctx, orgId, id)
}

// FindCounterpartByIdentifier returns the unique counterpart holding the
// identifier, or RecordNotFound.
func FindCounterpartByIdentifier(ctx context.Context, role CounterpartRole, identifierValue string) (*Counterpart, error) {
	db := config.GetDB()
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	var result Counterpart
	err := db.WithContext(ctx).
		Where("org_id = ? AND role = ? AND identifier_value = ?", orgId, role, identifierValue).
		First(&result).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

// SearchCounterpartsByName lists counterparts whose display name contains the
// query (either direction handled by the matcher on top of this).
func SearchCounterpartsByName(ctx context.Context, role CounterpartRole, name string) ([]*Counterpart, error) {
	db := config.GetDB()
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	var results []*Counterpart
	err := db.WithContext(ctx).
		Where("org_id = ? AND role = ?", orgId, role).
		Where("company_name LIKE ? OR CONCAT(first_name, ' ', last_name) LIKE ?", "%"+name+"%", "%"+name+"%").
		Order("company_name, last_name, first_name").
		Limit(config.SearchLimit).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ListCounterparts returns the org's full master list for a role, in a stable
// order. The matcher ranks over this.
func ListCounterparts(ctx context.Context, role CounterpartRole) ([]*Counterpart, error) {
	db := config.GetDB()
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	var results []*Counterpart
	err := db.WithContext(ctx).
		Where("org_id = ? AND role = ?", orgId, role).
		Order("id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
