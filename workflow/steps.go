package workflow

import (
	"fmt"

	"github.com/fatoora-app/intake_backend/models"
)

type Step string

const (
	StepIntake                    Step = "intake"
	StepCounterpartIdentification Step = "counterpart_identification"
	StepCurrencySelection         Step = "currency_selection"
	StepLineAnalysis              Step = "line_analysis"
	StepLineDetailCompletion      Step = "line_detail_completion"
	StepLineVerification          Step = "line_verification"
	StepTotalsConfirmation        Step = "totals_confirmation"
	StepCommit                    Step = "commit"
)

// StepPlan is the ordered step list for one workflow instance. Conditional
// steps are resolved exactly once, when counterpart identification completes,
// and the plan is immutable from then on.
type StepPlan []Step

// plannedStep pairs a step with its inclusion predicate. Declarative on
// purpose: the branch logic lives here, not scattered in control flow.
type plannedStep struct {
	Step Step
	When func(counterpartType models.CounterpartType) bool
}

func always(models.CounterpartType) bool { return true }

func foreignOnly(t models.CounterpartType) bool {
	return t == models.CounterpartTypeForeign
}

var stepTemplate = []plannedStep{
	{StepIntake, always},
	{StepCounterpartIdentification, always},
	{StepCurrencySelection, foreignOnly},
	{StepLineAnalysis, always},
	{StepLineDetailCompletion, always},
	{StepLineVerification, always},
	{StepTotalsConfirmation, always},
	{StepCommit, always},
}

// BuildStepPlan evaluates each predicate once against the resolved counterpart
// type and freezes the result.
func BuildStepPlan(counterpartType models.CounterpartType) StepPlan {
	plan := make(StepPlan, 0, len(stepTemplate))
	for _, ps := range stepTemplate {
		if ps.When(counterpartType) {
			plan = append(plan, ps.Step)
		}
	}
	return plan
}

// initialStepPlan covers the steps before the branch point is known.
func initialStepPlan() StepPlan {
	return StepPlan{StepIntake, StepCounterpartIdentification}
}

func (p StepPlan) IndexOf(step Step) (int, error) {
	for i, s := range p {
		if s == step {
			return i, nil
		}
	}
	return 0, fmt.Errorf("step %s is not part of this workflow", step)
}

func (p StepPlan) Contains(step Step) bool {
	_, err := p.IndexOf(step)
	return err == nil
}
