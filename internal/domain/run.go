package domain

// State is a styling run state.
type State string

const (
	StateIdle              State = "idle"
	StateAnalyzing         State = "analyzing"
	StateCompositing       State = "compositing"
	StateStyling           State = "styling"
	StateJudging           State = "judging"
	StateRetrying          State = "retrying"
	StateExhausted         State = "exhausted"
	StateFilteringFallback State = "filtering_fallback"
	StateAccepted          State = "accepted"
	StateFallbackReady     State = "fallback_ready"
	StateAllFailed         State = "all_failed"
	StateFailed            State = "failed"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	switch s {
	case StateAccepted, StateFallbackReady, StateAllFailed, StateFailed:
		return true
	}
	return false
}

// Outcome names which terminal output a run produced.
type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeFinal    Outcome = "final"
	OutcomeFallback Outcome = "fallback"
	OutcomeError    Outcome = "error"
)

// AttemptRecord captures one generate-then-judge iteration.
type AttemptRecord struct {
	Attempt   int        `json:"attempt"`
	Generated StillImage `json:"generated"`
	Cropped   StillImage `json:"cropped"`
	Accepted  bool       `json:"accepted"`
	Feedback  string     `json:"feedback,omitempty"`
}

// Result is the terminal output of a styling run. Exactly one of FinalImage,
// FallbackImages and Error is set once the run has finished.
type Result struct {
	State           State           `json:"state"`
	FinalImage      *StillImage     `json:"final_image,omitempty"`
	FallbackImages  []StillImage    `json:"fallback_images,omitempty"`
	Error           string          `json:"error,omitempty"`
	NeedsCredential bool            `json:"needs_credential,omitempty"`
	Attempts        []AttemptRecord `json:"-"`
	Err             error           `json:"-"`
}

// Outcome reports the terminal output carried by r.
func (r Result) Outcome() Outcome {
	switch {
	case r.FinalImage != nil:
		return OutcomeFinal
	case len(r.FallbackImages) > 0:
		return OutcomeFallback
	case r.Error != "":
		return OutcomeError
	}
	return OutcomeNone
}
