package config

import (
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// Statutory policy values for the settlement jurisdiction (TND).
// Everything here is env-overridable so that tax-rule changes do not require
// a code change. Defaults mirror current Tunisian practice.
//
// The VAT asymmetry between foreign purchases (exempt) and foreign invoices
// (domestic rate) is intentional policy, not derived arithmetic, which is why
// it lives in this table and nowhere else.

const LocalCurrencyCode = "TND"

type StatutoryPolicy struct {
	// DefaultVatRate applies when a product has no VAT rate of its own.
	DefaultVatRate decimal.Decimal
	// ForeignInvoiceVatRate is the VAT rate applied to invoice-type documents
	// issued against a foreign counterpart.
	ForeignInvoiceVatRate decimal.Decimal
	// StampDutyAmount is the flat per-document fee, local counterparts only.
	StampDutyAmount decimal.Decimal
	// DefaultWithholdingRate applies to purchase payment requests when the
	// request does not carry its own rate.
	DefaultWithholdingRate decimal.Decimal
	// MaxDiscountPct caps per-line discount input.
	MaxDiscountPct decimal.Decimal
}

var policy StatutoryPolicy

// FallbackExchangeRates is the static table used when no persisted rate exists
// for (org, foreign currency, TND). Keyed by foreign currency code.
var FallbackExchangeRates = map[string]decimal.Decimal{
	"EUR": decimal.NewFromFloat(3.4),
	"USD": decimal.NewFromFloat(3.1),
	"GBP": decimal.NewFromFloat(3.9),
	"CHF": decimal.NewFromFloat(3.5),
	"JPY": decimal.NewFromFloat(0.021),
}

func GetPolicy() StatutoryPolicy {
	return policy
}

func init() {
	policy = StatutoryPolicy{
		DefaultVatRate:         decimalFromEnv("POLICY_DEFAULT_VAT_RATE", "19"),
		ForeignInvoiceVatRate:  decimalFromEnv("POLICY_FOREIGN_INVOICE_VAT_RATE", "19"),
		StampDutyAmount:        decimalFromEnv("POLICY_STAMP_DUTY_AMOUNT", "1.000"),
		DefaultWithholdingRate: decimalFromEnv("POLICY_DEFAULT_WITHHOLDING_RATE", "1.5"),
		MaxDiscountPct:         decimalFromEnv("POLICY_MAX_DISCOUNT_PCT", "100"),
	}
}

func decimalFromEnv(key string, def string) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(def)
	}
	return d
}
