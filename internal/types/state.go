package types

import "fmt"

// =============================================================================
// ORCHESTRATION STATE MACHINE
// =============================================================================

// Step is one stage of the synthesis pipeline. The zero value is
// StepInitialized; StepResponding is the terminal success state.
type Step int

const (
	StepInitialized Step = iota
	StepGathering
	StepAnalyzing
	StepSynthesizing
	StepResponding
)

// stepNames drives String and ParseStep; keep in sync with the constants.
var stepNames = [...]string{
	StepInitialized:  "initialized",
	StepGathering:    "gathering",
	StepAnalyzing:    "analyzing",
	StepSynthesizing: "synthesizing",
	StepResponding:   "responding",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// ParseStep converts a stored step name back to a Step.
func ParseStep(name string) (Step, error) {
	for i, n := range stepNames {
		if n == name {
			return Step(i), nil
		}
	}
	return 0, &ValidationError{Field: "currentStep", Reason: fmt.Sprintf("unknown step %q", name)}
}

// stepTransitions is the explicit transition table. Each step advances to
// exactly one successor; anything else is a programming error.
var stepTransitions = map[Step]Step{
	StepInitialized:  StepGathering,
	StepGathering:    StepAnalyzing,
	StepAnalyzing:    StepSynthesizing,
	StepSynthesizing: StepResponding,
}

// CanAdvance reports whether from -> to is a legal transition.
func CanAdvance(from, to Step) bool {
	next, ok := stepTransitions[from]
	return ok && next == to
}

// NextStep returns the successor of s, or an error at the terminal state.
func NextStep(s Step) (Step, error) {
	next, ok := stepTransitions[s]
	if !ok {
		return 0, fmt.Errorf("no transition from terminal step %s", s)
	}
	return next, nil
}

// Terminal reports whether s is the terminal success state.
func (s Step) Terminal() bool { return s == StepResponding }

// OrchestrationState is the in-progress record of one query's synthesis
// pipeline. Any step may append to Errors or Warnings without halting;
// DomainStatus tracks per-domain success/failure during gathering.
type OrchestrationState struct {
	ID              string
	SessionID       string
	CurrentStep     Step
	StepProgress    float64
	GatheredContext []QueryResult
	RelatedConcepts []RelatedConcept
	CoreLogic       map[string]CoreLogic // domainID -> active distilled logic
	AnalysisResults map[string][]string  // concept -> related concept labels
	SynthesisData   string
	DomainStatus    map[string]string // domainID -> "ok" | failure reason
	Errors          []string
	Warnings        []string
}

// Advance moves the state to the next step, enforcing the transition table.
func (o *OrchestrationState) Advance(to Step) error {
	if !CanAdvance(o.CurrentStep, to) {
		return fmt.Errorf("illegal orchestration transition %s -> %s", o.CurrentStep, to)
	}
	o.CurrentStep = to
	o.StepProgress = 0
	return nil
}
