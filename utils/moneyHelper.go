package utils

import (
	"github.com/shopspring/decimal"
)

// Money arithmetic for line totals, statutory taxes and sale-price derivation.
// All functions here are pure: computation stays at full decimal precision,
// display rounding (3 dp) happens once at the end: sum first, round last.

var (
	decimalOneHundred = decimal.NewFromInt(100)
	decimalOne        = decimal.NewFromInt(1)
)

// TotalsTolerance is the absolute tolerance used when comparing a recomputed
// total against an externally-imposed target amount.
var TotalsTolerance = decimal.NewFromFloat(0.001)

type LineAmounts struct {
	Ht  decimal.Decimal `json:"ht"`
	Vat decimal.Decimal `json:"vat"`
	Ttc decimal.Decimal `json:"ttc"`
}

// LineTotal computes one line's HT/VAT/TTC.
//
//	ht  = qty * unitHt * (1 - discountPct/100)
//	vat = isExempt ? 0 : ht * vatRate/100
//	ttc = ht + vat
//
// No rounding is applied here; accumulate lines first and round the sums.
func LineTotal(qty, unitHt, vatRate, discountPct decimal.Decimal, isExempt bool) LineAmounts {
	discountFactor := decimalOne.Sub(discountPct.Div(decimalOneHundred))
	ht := qty.Mul(unitHt).Mul(discountFactor)

	var vat decimal.Decimal
	if isExempt {
		vat = decimal.Zero
	} else {
		vat = ht.Mul(vatRate).Div(decimalOneHundred)
	}

	return LineAmounts{
		Ht:  ht,
		Vat: vat,
		Ttc: ht.Add(vat),
	}
}

// SumLines accumulates line amounts without rounding.
func SumLines(lines []LineAmounts) LineAmounts {
	var sum LineAmounts
	for _, l := range lines {
		sum.Ht = sum.Ht.Add(l.Ht)
		sum.Vat = sum.Vat.Add(l.Vat)
		sum.Ttc = sum.Ttc.Add(l.Ttc)
	}
	return sum
}

// Round3 is the presentation rounding for TND amounts (millimes).
func Round3(d decimal.Decimal) decimal.Decimal {
	return d.Round(3)
}

// WithholdingAmount is always computed on total TTC. Fixed domain rule:
// never on subtotal HT, never on net payable.
func WithholdingAmount(totalTtc, withholdingRate decimal.Decimal) decimal.Decimal {
	return totalTtc.Mul(withholdingRate).Div(decimalOneHundred)
}

// NetPayable = total TTC + stamp duty - withholding.
func NetPayable(totalTtc, stampDuty, withholdingAmount decimal.Decimal) decimal.Decimal {
	return totalTtc.Add(stampDuty).Sub(withholdingAmount)
}

// ConvertToLocal converts a foreign-currency amount at the given rate.
func ConvertToLocal(amountForeign, rate decimal.Decimal) decimal.Decimal {
	return amountForeign.Mul(rate)
}

// WithinTolerance reports whether |a-b| <= TotalsTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().Cmp(TotalsTolerance) <= 0
}

/* Bidirectional sale-price derivation (HT <-> TTC <-> margin).

A sale price cannot exist without a usable VAT rate: when vatRate is nil, or
the implied factor 1+rate/100 is not positive, every derived field is nil.
Margin is expressed against the purchase unit TTC reference cost; when that
cost is zero the margin side stays nil. */

// vatFactor returns 1+rate/100 and whether it is usable as a divisor.
// A rate of -100 makes the factor exactly zero; anything at or below that
// has no arithmetic meaning for a price.
func vatFactor(vatRate *decimal.Decimal) (decimal.Decimal, bool) {
	if vatRate == nil {
		return decimal.Zero, false
	}
	factor := decimalOne.Add(vatRate.Div(decimalOneHundred))
	return factor, factor.IsPositive()
}

func DeriveSaleFromHt(priceHt decimal.Decimal, vatRate *decimal.Decimal, purchaseUnitTtc decimal.Decimal) (ht, ttc, marginPct *decimal.Decimal) {
	factor, ok := vatFactor(vatRate)
	if !ok {
		return nil, nil, nil
	}
	t := priceHt.Mul(factor)
	ht = &priceHt
	ttc = &t
	marginPct = marginFromHt(priceHt, purchaseUnitTtc)
	return ht, ttc, marginPct
}

func DeriveSaleFromTtc(priceTtc decimal.Decimal, vatRate *decimal.Decimal, purchaseUnitTtc decimal.Decimal) (ht, ttc, marginPct *decimal.Decimal) {
	factor, ok := vatFactor(vatRate)
	if !ok {
		return nil, nil, nil
	}
	h := priceTtc.Div(factor)
	ht = &h
	ttc = &priceTtc
	marginPct = marginFromHt(h, purchaseUnitTtc)
	return ht, ttc, marginPct
}

func DeriveSaleFromMargin(margin decimal.Decimal, vatRate *decimal.Decimal, purchaseUnitTtc decimal.Decimal) (ht, ttc, marginPct *decimal.Decimal) {
	factor, ok := vatFactor(vatRate)
	if !ok {
		return nil, nil, nil
	}
	h := purchaseUnitTtc.Mul(decimalOne.Add(margin.Div(decimalOneHundred)))
	t := h.Mul(factor)
	ht = &h
	ttc = &t
	marginPct = &margin
	return ht, ttc, marginPct
}

func marginFromHt(priceHt, purchaseUnitTtc decimal.Decimal) *decimal.Decimal {
	if purchaseUnitTtc.IsZero() {
		return nil
	}
	m := priceHt.Sub(purchaseUnitTtc).Div(purchaseUnitTtc).Mul(decimalOneHundred)
	return &m
}
