package pipeline

import (
	"fmt"

	"snapcal/internal/models"
)

// Kind is the top-level pipeline state.
type Kind string

const (
	KindIdle       Kind = "idle"
	KindProcessing Kind = "processing"
	KindReady      Kind = "ready"
	KindExtracted  Kind = "extracted"
	KindFailed     Kind = "failed"
)

// State is a snapshot of the pipeline. Stage is set while Processing and on
// Failed (the stage that failed). Transcript survives from Ready onwards,
// including a Failed extraction. Err is set only on Failed.
type State struct {
	Kind       Kind
	Stage      models.Stage
	Transcript models.Transcript
	Err        error
}

func idle() State { return State{Kind: KindIdle} }

func processing(stage models.Stage, transcript models.Transcript) State {
	return State{Kind: KindProcessing, Stage: stage, Transcript: transcript}
}

// String renders the state for logs and the CLI.
func (s State) String() string {
	switch s.Kind {
	case KindProcessing:
		return fmt.Sprintf("processing(%s)", s.Stage)
	case KindFailed:
		return fmt.Sprintf("failed(%s)", models.KindOf(s.Err))
	default:
		return string(s.Kind)
	}
}

// validTransition enforces the allowed pipeline state machine edges. A new
// upload may supersede any state and a reset is always allowed.
func validTransition(from, to State) bool {
	switch {
	case to.Kind == KindIdle:
		return true
	case to.Kind == KindProcessing && to.Stage == models.StageIntake:
		return true
	}

	switch from.Kind {
	case KindProcessing:
		switch from.Stage {
		case models.StageIntake:
			return (to.Kind == KindProcessing && to.Stage == models.StageOCR) || to.Kind == KindFailed
		case models.StageOCR:
			return to.Kind == KindReady || to.Kind == KindFailed
		case models.StageExtraction:
			return to.Kind == KindExtracted || to.Kind == KindFailed
		default:
			return false
		}
	case KindReady:
		return to.Kind == KindProcessing && to.Stage == models.StageExtraction
	case KindFailed:
		// Re-confirm after a failed extraction.
		return to.Kind == KindProcessing && to.Stage == models.StageExtraction && !from.Transcript.IsBlank()
	default:
		return false
	}
}
