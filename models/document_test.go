package models

import (
	"testing"

	"github.com/fatoora-app/intake_backend/utils"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeTotals_LocalPurchase(t *testing.T) {
	// One discounted line: ht=270, vat=51.3, ttc=321.3. Stamp duty applies
	// (local), withholding applies (purchase).
	lines := []utils.LineAmounts{
		utils.LineTotal(dec("3"), dec("100"), dec("19"), dec("10"), false),
	}
	totals := ComputeTotals(lines, DocumentKindPurchase, CounterpartTypeBusinessLocal, dec("1.5"))

	if !totals.SubtotalHt.Equal(dec("270")) {
		t.Fatalf("subtotal expected 270.000, got %s", totals.SubtotalHt)
	}
	if !totals.TotalVat.Equal(dec("51.3")) {
		t.Fatalf("vat expected 51.300, got %s", totals.TotalVat)
	}
	if !totals.StampDuty.Equal(dec("1")) {
		t.Fatalf("stamp duty expected 1.000, got %s", totals.StampDuty)
	}
	// withholding = 321.3 * 1.5% = 4.8195 -> 4.820
	if !totals.WithholdingAmount.Equal(dec("4.82")) {
		t.Fatalf("withholding expected 4.820, got %s", totals.WithholdingAmount)
	}
	// net = 321.3 + 1 - 4.8195 = 317.4805 -> 317.481 (rounded from full precision)
	if !totals.NetPayable.Equal(dec("317.481")) {
		t.Fatalf("net payable expected 317.481, got %s", totals.NetPayable)
	}
}

func TestComputeTotals_ForeignDocumentNoVatNoStamp(t *testing.T) {
	// Foreign documents: exempt lines and no stamp duty, whatever the catalog
	// defaults say.
	lines := []utils.LineAmounts{
		utils.LineTotal(dec("1"), dec("1000"), dec("19"), decimal.Zero, true),
	}
	totals := ComputeTotals(lines, DocumentKindPurchase, CounterpartTypeForeign, decimal.Zero)

	if !totals.TotalVat.IsZero() {
		t.Fatalf("foreign vat expected 0, got %s", totals.TotalVat)
	}
	if !totals.StampDuty.IsZero() {
		t.Fatalf("foreign stamp duty expected 0, got %s", totals.StampDuty)
	}
	if !totals.NetPayable.Equal(dec("1000")) {
		t.Fatalf("net payable expected 1000.000, got %s", totals.NetPayable)
	}
}

func TestComputeTotals_InvoiceNeverWithholds(t *testing.T) {
	lines := []utils.LineAmounts{
		utils.LineTotal(dec("1"), dec("1000"), decimal.Zero, decimal.Zero, false),
	}
	totals := ComputeTotals(lines, DocumentKindInvoice, CounterpartTypeBusinessLocal, dec("5"))
	if !totals.WithholdingAmount.IsZero() {
		t.Fatalf("invoice withholding expected 0, got %s", totals.WithholdingAmount)
	}
	if !totals.WithholdingRate.IsZero() {
		t.Fatalf("invoice withholding rate expected 0, got %s", totals.WithholdingRate)
	}
}

func TestDerivePaymentStatus(t *testing.T) {
	cases := []struct {
		net, paid string
		expected  PaymentStatus
	}{
		{"951.000", "0", PaymentStatusUnpaid},
		{"951.000", "100", PaymentStatusPartial},
		{"951.000", "951.000", PaymentStatusPaid},
		{"951.000", "1000", PaymentStatusPaid},
	}
	for _, tc := range cases {
		if got := DerivePaymentStatus(dec(tc.net), dec(tc.paid)); got != tc.expected {
			t.Fatalf("DerivePaymentStatus(%s, %s) expected %s, got %s", tc.net, tc.paid, tc.expected, got)
		}
	}
}
