package models

import (
	"context"
	"testing"

	"github.com/fatoora-app/intake_backend/utils"
	"github.com/shopspring/decimal"
)

func TestNewProductValidate_VatRateOutOfRange(t *testing.T) {
	for _, rate := range []string{"-1", "-100", "101"} {
		r, err := decimal.NewFromString(rate)
		if err != nil {
			t.Fatal(err)
		}
		input := &NewProduct{
			Name:    "Clavier AZERTY",
			VatRate: &r,
		}
		err = input.Validate(context.Background(), "org-test", 0, false)
		if err == nil {
			t.Fatalf("vat rate %s must be refused", rate)
		}
		ve, ok := err.(utils.ValidationErrors)
		if !ok {
			t.Fatalf("expected validation errors, got %T: %v", err, err)
		}
		found := false
		for _, fe := range ve {
			if fe.Field == "vat_rate" {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected a vat_rate error for rate %s, got %v", rate, ve)
		}
	}
}

func TestNewProductValidate_SalePriceNeedsVatRate(t *testing.T) {
	price := decimal.NewFromInt(10)
	input := &NewProduct{
		Name:       "Souris optique",
		SaleUnitHt: &price,
	}
	err := input.Validate(context.Background(), "org-test", 0, false)
	if err == nil {
		t.Fatalf("sale price without vat rate must be refused")
	}
}
