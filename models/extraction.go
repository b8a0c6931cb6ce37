package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExtractionResult is the untrusted draft produced by the external extraction
// provider. Every field may be absent; nothing here is authoritative once the
// user starts editing lines.
type ExtractionResult struct {
	Counterpart   *ExtractedCounterpart `json:"counterpart"`
	Lines         []ExtractedLine       `json:"lines"`
	Totals        *ExtractedTotals      `json:"totals"`
	InvoiceNumber string                `json:"invoice_number"`
	InvoiceDate   *time.Time            `json:"invoice_date"`
	IsDuplicate   bool                  `json:"is_duplicate"`
}

type ExtractedCounterpart struct {
	Name            string `json:"name"`
	IdentifierValue string `json:"identifier_value"`
	Country         string `json:"country"`
	CurrencyCode    string `json:"currency_code"`
}

type ExtractedLine struct {
	Name        string           `json:"name"`
	Reference   string           `json:"reference"`
	Ean         string           `json:"ean"`
	Unit        string           `json:"unit"`
	Qty         *decimal.Decimal `json:"qty"`
	UnitPriceHt *decimal.Decimal `json:"unit_price_ht"`
	VatRate     *decimal.Decimal `json:"vat_rate"`
	DiscountPct *decimal.Decimal `json:"discount_pct"`
}

type ExtractedTotals struct {
	SubtotalHt *decimal.Decimal `json:"subtotal_ht"`
	TotalVat   *decimal.Decimal `json:"total_vat"`
	TotalTtc   *decimal.Decimal `json:"total_ttc"`
}
