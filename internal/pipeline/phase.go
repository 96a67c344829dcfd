package pipeline

// Phase is the orchestrator's position in the utterance lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInitializing
	PhaseReady
	PhasePhonemizingReference
	PhasePhonemizingPrompt
	PhaseGenerating
	PhaseDecoding
	PhasePlaying
	PhaseError
)

var phaseNames = [...]string{
	PhaseIdle:                 "idle",
	PhaseInitializing:         "initializing",
	PhaseReady:                "ready",
	PhasePhonemizingReference: "phonemizing-reference",
	PhasePhonemizingPrompt:    "phonemizing-prompt",
	PhaseGenerating:           "generating",
	PhaseDecoding:             "decoding",
	PhasePlaying:              "playing",
	PhaseError:                "error",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}

	return phaseNames[p]
}

// Busy reports whether an utterance is in progress.
func (p Phase) Busy() bool {
	return p >= PhasePhonemizingPrompt && p <= PhasePlaying
}
