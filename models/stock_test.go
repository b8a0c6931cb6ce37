package models

import (
	"testing"
)

func TestStockMovement_BeforeSaveEnforcesConservation(t *testing.T) {
	ok := StockMovement{
		Qty:           dec("5"),
		PreviousStock: dec("10"),
		NewStock:      dec("15"),
	}
	if err := ok.BeforeSave(nil); err != nil {
		t.Fatalf("valid movement rejected: %v", err)
	}

	bad := StockMovement{
		Qty:           dec("5"),
		PreviousStock: dec("10"),
		NewStock:      dec("14"),
	}
	if err := bad.BeforeSave(nil); err == nil {
		t.Fatalf("movement with broken conservation accepted")
	}
}

func TestStockMovement_BeforeSaveAllowsNegativeDelta(t *testing.T) {
	// Sales may drive stock negative; the ledger records it, it does not block.
	m := StockMovement{
		Qty:           dec("-8"),
		PreviousStock: dec("3"),
		NewStock:      dec("-5"),
	}
	if err := m.BeforeSave(nil); err != nil {
		t.Fatalf("negative-stock movement rejected: %v", err)
	}
}

func TestRequestStatusTransitions(t *testing.T) {
	pending := IntakeRequest{Status: RequestStatusPending}
	if !pending.CanTransitionTo(RequestStatusProcessed) {
		t.Fatalf("pending -> processed must be allowed")
	}
	if !pending.CanTransitionTo(RequestStatusRejected) {
		t.Fatalf("pending -> rejected must be allowed")
	}

	processed := IntakeRequest{Status: RequestStatusProcessed}
	if processed.CanTransitionTo(RequestStatusPending) {
		t.Fatalf("processed -> pending must be refused")
	}
}

func TestPaymentRequestTransitions(t *testing.T) {
	awaiting := PaymentRequest{Status: PaymentRequestStatusAwaitingApproval}
	if !awaiting.CanTransitionTo(PaymentRequestStatusApproved) {
		t.Fatalf("awaiting_approval -> approved must be allowed")
	}
	approved := PaymentRequest{Status: PaymentRequestStatusApproved}
	if approved.CanTransitionTo(PaymentRequestStatusRejected) {
		t.Fatalf("approved is terminal")
	}
}
