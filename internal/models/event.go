package models

import (
	"strings"
	"time"
)

// Transcript is the plain text recognized from one image.
type Transcript string

// IsBlank reports whether the transcript holds nothing but whitespace.
func (t Transcript) IsBlank() bool {
	return strings.TrimSpace(string(t)) == ""
}

// RecordKey identifies a candidate across runs. ID values are only unique within
// one extraction run, so the run token travels with them internally.
type RecordKey struct {
	Run   uint64
	Index int
}

// CandidateEvent is an editable calendar event derived from a transcript.
// It is independent of any specific calendar provider.
type CandidateEvent struct {
	ID          int       // Position in the extraction response, reset every run
	Name        string    // Summary or title, may be empty until the user fills it in
	Description string    // Free-form details
	Start       time.Time // Start of the event
	End         time.Time // End of the event

	// StartParsed and EndParsed are false when the model gave no usable timestamp
	// and the wall-clock time at parse time was substituted.
	StartParsed bool
	EndParsed   bool
}

// HasName reports whether the event carries a non-blank name.
func (e CandidateEvent) HasName() bool {
	return strings.TrimSpace(e.Name) != ""
}

// ValidRange reports whether End is strictly after Start.
func (e CandidateEvent) ValidRange() bool {
	return e.End.After(e.Start)
}

// TimesDetected reports whether both timestamps came from the transcript.
func (e CandidateEvent) TimesDetected() bool {
	return e.StartParsed && e.EndParsed
}
