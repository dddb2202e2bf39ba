package models

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step an error belongs to.
type Stage string

const (
	StageIntake     Stage = "intake"
	StageOCR        Stage = "ocr"
	StageExtraction Stage = "extraction"
	StageSubmission Stage = "submission"
)

// ErrorKind classifies a pipeline failure.
type ErrorKind string

const (
	KindInvalidType       ErrorKind = "invalid_type"
	KindTooLarge          ErrorKind = "too_large"
	KindEngineUnavailable ErrorKind = "engine_unavailable"
	KindDecodeFailure     ErrorKind = "decode_failure"
	KindEmptyResult       ErrorKind = "empty_result"
	KindServiceError      ErrorKind = "service_error"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindMissingName       ErrorKind = "missing_name"
	KindInvalidRange      ErrorKind = "invalid_range"
	KindAuthExpired       ErrorKind = "auth_expired"
)

// StatusTimeout is the Status recorded on a ServiceError caused by a deadline.
const StatusTimeout = -1

// PipelineError is a stage-aware error carrying its taxonomy kind.
type PipelineError struct {
	Stage   Stage
	Kind    ErrorKind
	Status  int // HTTP status for ServiceError, StatusTimeout on deadline, 0 otherwise
	Message string
	Err     error
}

// NewError builds a PipelineError without an underlying cause.
func NewError(stage Stage, kind ErrorKind, msg string) *PipelineError {
	return &PipelineError{Stage: stage, Kind: kind, Message: msg}
}

// Error formats pipeline failures for logs.
func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	if e.Kind == KindServiceError {
		switch {
		case e.Status == StatusTimeout:
			msg += " (timeout)"
		case e.Status > 0:
			msg += fmt.Sprintf(" (status %d)", e.Status)
		}
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another PipelineError of the same kind, so a bare
// &PipelineError{Kind: KindTooLarge} works as a target for errors.Is.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the taxonomy kind of err, or "" when err is not a PipelineError.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// UserMessage renders a short human-readable message for a failure.
func UserMessage(err error) string {
	var pe *PipelineError
	if !errors.As(err, &pe) {
		if err == nil {
			return ""
		}
		return "Something went wrong: " + err.Error()
	}

	switch pe.Kind {
	case KindInvalidType:
		return "Only PNG and JPEG images are supported."
	case KindTooLarge:
		return "File size must be less than 5MB."
	case KindEngineUnavailable:
		return "The text recognition engine is not available."
	case KindDecodeFailure:
		return "The image could not be read."
	case KindEmptyResult:
		return "No text could be extracted from the image."
	case KindMalformedResponse:
		return "The event parser returned a response that could not be understood."
	case KindMissingName:
		return "Please enter an event name."
	case KindInvalidRange:
		return "End time must be after start time."
	case KindAuthExpired:
		return "Authentication expired. Run `snapcal auth` to sign in again."
	case KindServiceError:
		switch {
		case pe.Status == StatusTimeout:
			return "The remote service did not answer in time."
		case pe.Status > 0:
			return fmt.Sprintf("The remote service failed with status %d.", pe.Status)
		}
		return "The remote service could not be reached."
	}
	return pe.Error()
}
