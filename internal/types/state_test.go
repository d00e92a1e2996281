package types

import "testing"

func TestStepTransitions(t *testing.T) {
	order := []Step{StepInitialized, StepGathering, StepAnalyzing, StepSynthesizing, StepResponding}

	state := &OrchestrationState{CurrentStep: StepInitialized}
	for _, next := range order[1:] {
		if err := state.Advance(next); err != nil {
			t.Fatalf("Advance(%s): %v", next, err)
		}
	}
	if !state.CurrentStep.Terminal() {
		t.Errorf("final step %s not terminal", state.CurrentStep)
	}
}

func TestAdvanceRejectsSkips(t *testing.T) {
	state := &OrchestrationState{CurrentStep: StepInitialized}
	if err := state.Advance(StepSynthesizing); err == nil {
		t.Error("skipping steps accepted")
	}
	if err := state.Advance(StepInitialized); err == nil {
		t.Error("self transition accepted")
	}

	state.CurrentStep = StepResponding
	if err := state.Advance(StepGathering); err == nil {
		t.Error("transition out of terminal step accepted")
	}
}

func TestStepNamesRoundTrip(t *testing.T) {
	for s := StepInitialized; s <= StepResponding; s++ {
		parsed, err := ParseStep(s.String())
		if err != nil {
			t.Fatalf("ParseStep(%q): %v", s.String(), err)
		}
		if parsed != s {
			t.Errorf("round trip %s -> %s", s, parsed)
		}
	}
	if _, err := ParseStep("meditating"); err == nil {
		t.Error("unknown step name accepted")
	}
}

func TestNextStep(t *testing.T) {
	next, err := NextStep(StepGathering)
	if err != nil || next != StepAnalyzing {
		t.Errorf("NextStep(gathering) = %v, %v", next, err)
	}
	if _, err := NextStep(StepResponding); err == nil {
		t.Error("NextStep at terminal accepted")
	}
}
