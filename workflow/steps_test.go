package workflow

import (
	"testing"

	"github.com/fatoora-app/intake_backend/models"
)

func TestBuildStepPlan_LocalSkipsCurrency(t *testing.T) {
	for _, typ := range []models.CounterpartType{
		models.CounterpartTypeIndividualLocal,
		models.CounterpartTypeBusinessLocal,
	} {
		plan := BuildStepPlan(typ)
		if plan.Contains(StepCurrencySelection) {
			t.Fatalf("%s plan must not contain the currency step", typ)
		}
		if len(plan) != 7 {
			t.Fatalf("%s plan expected 7 steps, got %d", typ, len(plan))
		}
	}
}

func TestBuildStepPlan_ForeignInsertsCurrencyAfterCounterpart(t *testing.T) {
	plan := BuildStepPlan(models.CounterpartTypeForeign)
	if len(plan) != 8 {
		t.Fatalf("foreign plan expected 8 steps, got %d", len(plan))
	}
	cpIdx, err := plan.IndexOf(StepCounterpartIdentification)
	if err != nil {
		t.Fatal(err)
	}
	curIdx, err := plan.IndexOf(StepCurrencySelection)
	if err != nil {
		t.Fatalf("foreign plan must contain the currency step: %v", err)
	}
	if curIdx != cpIdx+1 {
		t.Fatalf("currency step expected right after counterpart identification, got index %d", curIdx)
	}
}

func TestStepPlan_OrderIsStable(t *testing.T) {
	first := BuildStepPlan(models.CounterpartTypeForeign)
	second := BuildStepPlan(models.CounterpartTypeForeign)
	if len(first) != len(second) {
		t.Fatalf("plan length changed between builds")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("plan order changed at %d: %s vs %s", i, first[i], second[i])
		}
	}
	if first[len(first)-1] != StepCommit {
		t.Fatalf("plan must end at commit, got %s", first[len(first)-1])
	}
}
