package models

import (
	"context"
	"testing"

	"github.com/fatoora-app/intake_backend/utils"
)

func TestNewCounterpartValidate_LocalRequiresIdentifierAndGovernorate(t *testing.T) {
	input := &NewCounterpart{
		Role:        CounterpartRoleSupplier,
		Type:        CounterpartTypeBusinessLocal,
		CompanyName: "Societe Alpha",
	}
	err := input.Validate(context.Background(), "org-test", 0)
	if err == nil {
		t.Fatalf("local counterpart without identifier must be refused")
	}
	ve, ok := err.(utils.ValidationErrors)
	if !ok {
		t.Fatalf("expected validation errors, got %T: %v", err, err)
	}
	fields := map[string]bool{}
	for _, fe := range ve {
		fields[fe.Field] = true
	}
	if !fields["identifier_value"] || !fields["governorate"] {
		t.Fatalf("expected identifier_value and governorate errors, got %v", ve)
	}
}

func TestNewCounterpartValidate_ForeignRequiresCountry(t *testing.T) {
	input := &NewCounterpart{
		Role:        CounterpartRoleSupplier,
		Type:        CounterpartTypeForeign,
		CompanyName: "Acme GmbH",
	}
	err := input.Validate(context.Background(), "org-test", 0)
	if err == nil {
		t.Fatalf("foreign counterpart without country must be refused")
	}

	input.Country = "Germany"
	if err := input.Validate(context.Background(), "org-test", 0); err != nil {
		t.Fatalf("valid foreign counterpart refused: %v", err)
	}
}

func TestNewCounterpartValidate_IndividualRequiresNames(t *testing.T) {
	input := &NewCounterpart{
		Role:        CounterpartRoleClient,
		Type:        CounterpartTypeIndividualLocal,
		Governorate: "Tunis",
	}
	err := input.Validate(context.Background(), "org-test", 0)
	if err == nil {
		t.Fatalf("individual without names must be refused")
	}
}

func TestCounterpartDisplayName(t *testing.T) {
	business := Counterpart{CompanyName: "Societe Alpha", FirstName: "A", LastName: "B"}
	if business.DisplayName() != "Societe Alpha" {
		t.Fatalf("company name must win, got %q", business.DisplayName())
	}
	individual := Counterpart{FirstName: "Amine", LastName: "Trabelsi"}
	if individual.DisplayName() != "Amine Trabelsi" {
		t.Fatalf("individual display name broken, got %q", individual.DisplayName())
	}
}
