package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestLineTotal_DiscountedLine(t *testing.T) {
	// qty=3, unitHt=100, vat=19%, discount=10%
	got := LineTotal(dec("3"), dec("100"), dec("19"), dec("10"), false)
	if !Round3(got.Ht).Equal(dec("270")) {
		t.Fatalf("ht expected 270.000, got %s", got.Ht)
	}
	if !Round3(got.Vat).Equal(dec("51.3")) {
		t.Fatalf("vat expected 51.300, got %s", got.Vat)
	}
	if !Round3(got.Ttc).Equal(dec("321.3")) {
		t.Fatalf("ttc expected 321.300, got %s", got.Ttc)
	}
}

func TestLineTotal_ExemptLineHasZeroVat(t *testing.T) {
	got := LineTotal(dec("2"), dec("50"), dec("19"), decimal.Zero, true)
	if !got.Vat.IsZero() {
		t.Fatalf("exempt line vat expected 0, got %s", got.Vat)
	}
	if !got.Ttc.Equal(got.Ht) {
		t.Fatalf("exempt line ttc expected == ht, got ht=%s ttc=%s", got.Ht, got.Ttc)
	}
}

func TestSumLines_SumFirstRoundLast(t *testing.T) {
	// Three thirds of a millime must not round away individually.
	lines := []LineAmounts{}
	for i := 0; i < 3; i++ {
		lines = append(lines, LineTotal(dec("1"), dec("0.3333"), dec("19"), decimal.Zero, false))
	}
	sum := SumLines(lines)
	if !Round3(sum.Ht).Equal(dec("1")) {
		t.Fatalf("summed ht expected 1.000, got %s", Round3(sum.Ht))
	}
}

func TestWithholdingAmount_OnTtc(t *testing.T) {
	got := WithholdingAmount(dec("1000"), dec("5"))
	if !got.Equal(dec("50")) {
		t.Fatalf("withholding expected 50.000, got %s", got)
	}
}

func TestNetPayable(t *testing.T) {
	got := NetPayable(dec("1000"), dec("1"), dec("50"))
	if !got.Equal(dec("951")) {
		t.Fatalf("net payable expected 951.000, got %s", got)
	}
}

func TestConvertToLocal(t *testing.T) {
	got := ConvertToLocal(dec("1000"), dec("3.4"))
	if !got.Equal(dec("3400")) {
		t.Fatalf("converted expected 3400.000, got %s", got)
	}
}

func TestWithinTolerance(t *testing.T) {
	cases := []struct {
		a, b     string
		expected bool
	}{
		{"500.000", "500.000", true},
		{"500.001", "500.000", true},
		{"499.500", "500.000", false},
		{"500.002", "500.000", false},
	}
	for _, tc := range cases {
		if got := WithinTolerance(dec(tc.a), dec(tc.b)); got != tc.expected {
			t.Fatalf("WithinTolerance(%s, %s) expected %v, got %v", tc.a, tc.b, tc.expected, got)
		}
	}
}

func TestDeriveSale_NilVatRateYieldsNothing(t *testing.T) {
	ht, ttc, margin := DeriveSaleFromHt(dec("100"), nil, dec("80"))
	if ht != nil || ttc != nil || margin != nil {
		t.Fatalf("derivation without vat rate expected all nil, got %v %v %v", ht, ttc, margin)
	}
	ht, ttc, margin = DeriveSaleFromMargin(dec("25"), nil, dec("80"))
	if ht != nil || ttc != nil || margin != nil {
		t.Fatalf("margin derivation without vat rate expected all nil")
	}
}

func TestDeriveSale_DegenerateVatRateYieldsNothing(t *testing.T) {
	// -100% makes the price factor exactly zero; the derivation must refuse
	// the whole block instead of dividing by it.
	rate := dec("-100")
	ht, ttc, margin := DeriveSaleFromTtc(dec("50"), &rate, dec("80"))
	if ht != nil || ttc != nil || margin != nil {
		t.Fatalf("derivation with factor zero expected all nil, got %v %v %v", ht, ttc, margin)
	}
	ht, ttc, margin = DeriveSaleFromHt(dec("50"), &rate, dec("80"))
	if ht != nil || ttc != nil || margin != nil {
		t.Fatalf("ht derivation with factor zero expected all nil")
	}
	ht, ttc, margin = DeriveSaleFromMargin(dec("25"), &rate, dec("80"))
	if ht != nil || ttc != nil || margin != nil {
		t.Fatalf("margin derivation with factor zero expected all nil")
	}
}

func TestDeriveSale_RoundTrip(t *testing.T) {
	vat := dec("19")
	purchaseTtc := dec("80")

	ht1, ttc1, margin1 := DeriveSaleFromHt(dec("100"), &vat, purchaseTtc)
	if ht1 == nil || ttc1 == nil || margin1 == nil {
		t.Fatalf("derivation from ht returned nil fields")
	}
	if !Round3(*ttc1).Equal(dec("119")) {
		t.Fatalf("ttc expected 119.000, got %s", ttc1)
	}
	if !Round3(*margin1).Equal(dec("25")) {
		t.Fatalf("margin expected 25.000, got %s", margin1)
	}

	// back through TTC
	ht2, _, _ := DeriveSaleFromTtc(*ttc1, &vat, purchaseTtc)
	if !Round3(*ht2).Equal(dec("100")) {
		t.Fatalf("round trip ht expected 100.000, got %s", ht2)
	}

	// back through margin
	ht3, ttc3, _ := DeriveSaleFromMargin(*margin1, &vat, purchaseTtc)
	if !Round3(*ht3).Equal(dec("100")) || !Round3(*ttc3).Equal(dec("119")) {
		t.Fatalf("margin round trip expected 100/119, got %s/%s", ht3, ttc3)
	}
}

func TestDeriveSale_ZeroPurchaseCostHasNoMargin(t *testing.T) {
	vat := dec("19")
	ht, ttc, margin := DeriveSaleFromHt(dec("100"), &vat, decimal.Zero)
	if ht == nil || ttc == nil {
		t.Fatalf("price sides must derive even without a cost reference")
	}
	if margin != nil {
		t.Fatalf("margin against a zero cost expected nil, got %s", margin)
	}
}
