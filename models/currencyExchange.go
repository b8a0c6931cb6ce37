package models

import (
	"context"
	"errors"
	"time"

	"github.com/fatoora-app/intake_backend/config"
	"github.com/fatoora-app/intake_backend/utils"
	"github.com/shopspring/decimal"
)

// CurrencyExchange persists the org's document exchange rates, keyed by
// (org, from currency, to currency). The to side is always the settlement
// currency in practice but is stored explicitly.
type CurrencyExchange struct {
	ID           int             `gorm:"primary_key" json:"id"`
	OrgId        string          `gorm:"index;not null" json:"org_id" binding:"required"`
	FromCurrency string          `gorm:"index;size:3;not null" json:"from_currency" binding:"required"`
	ToCurrency   string          `gorm:"index;size:3;not null" json:"to_currency" binding:"required"`
	ExchangeRate decimal.Decimal `gorm:"type:decimal(20,6);default:0" json:"exchange_rate"`
	Notes        string          `gorm:"size:255" json:"notes"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCurrencyExchange struct {
	FromCurrency string          `json:"from_currency" binding:"required,currencycode"`
	ToCurrency   string          `json:"to_currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate" binding:"required"`
	Notes        string          `json:"notes"`
}

func (input *NewCurrencyExchange) validate() error {
	if !input.ExchangeRate.IsPositive() {
		return utils.FieldError{Field: "exchange_rate", Message: "exchange rate must be a decimal > 0"}
	}
	if input.FromCurrency == "" {
		return utils.FieldError{Field: "from_currency", Message: "currency code is required"}
	}
	return nil
}

const exchangeRateCacheTTL = time.Hour

func exchangeRateCacheKey(orgId, fromCurrency string) string {
	return "ExchangeRate:" + orgId + ":" + fromCurrency + ":" + config.LocalCurrencyCode
}

// GetExchangeRate reads the persisted rate for fromCurrency -> TND; when no
// row exists it falls back to the static table. Returned bool reports whether
// the rate came from the persisted store. Persisted rates are cached in Redis
// and invalidated on save.
func GetExchangeRate(ctx context.Context, fromCurrency string) (decimal.Decimal, bool, error) {

	db := config.GetDB()
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return decimal.Zero, false, errors.New("org id is required")
	}

	var cached decimal.Decimal
	if found, err := config.GetRedisObject(exchangeRateCacheKey(orgId, fromCurrency), &cached); err == nil && found {
		return cached, true, nil
	}

	var result CurrencyExchange
	err := db.WithContext(ctx).
		Where("org_id = ? AND from_currency = ? AND to_currency = ?", orgId, fromCurrency, config.LocalCurrencyCode).
		Order("updated_at desc").
		First(&result).Error
	if err == nil {
		_ = config.SetRedisObject(exchangeRateCacheKey(orgId, fromCurrency), result.ExchangeRate, exchangeRateCacheTTL)
		return result.ExchangeRate, true, nil
	}

	if rate, found := config.FallbackExchangeRates[fromCurrency]; found {
		return rate, false, nil
	}
	return decimal.Zero, false, utils.ErrorRecordNotFound
}

// SaveExchangeRate upserts the (org, from, to) rate. This is the explicit
// "save rate" action on the currency step.
func SaveExchangeRate(ctx context.Context, input *NewCurrencyExchange) (*CurrencyExchange, error) {

	db := config.GetDB()
	orgId, ok := utils.GetOrgIdFromContext(ctx)
	if !ok || orgId == "" {
		return nil, errors.New("org id is required")
	}

	if input.ToCurrency == "" {
		input.ToCurrency = config.LocalCurrencyCode
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	defer func() {
		_ = config.DeleteRedisKeys(exchangeRateCacheKey(orgId, input.FromCurrency))
	}()

	var existing CurrencyExchange
	err := db.WithContext(ctx).
		Where("org_id = ? AND from_currency = ? AND to_currency = ?", orgId, input.FromCurrency, input.ToCurrency).
		First(&existing).Error
	if err == nil {
		err = db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
			"ExchangeRate": input.ExchangeRate,
			"Notes":        input.Notes,
		}).Error
		if err != nil {
			return nil, err
		}
		return &existing, nil
	}

	exchange := CurrencyExchange{
		OrgId:        orgId,
		FromCurrency: input.FromCurrency,
		ToCurrency:   input.ToCurrency,
		ExchangeRate: input.ExchangeRate,
		Notes:        input.Notes,
	}
	err = db.WithContext(ctx).Create(&exchange).Error
	if err != nil {
		return nil, err
	}
	return &exchange, nil
}
