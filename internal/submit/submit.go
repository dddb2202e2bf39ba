package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"snapcal/internal/models"
)

var (
	// ErrUnauthorized is wrapped by backends when the service answers 401.
	ErrUnauthorized = errors.New("calendar service rejected the credential")

	// ErrNoSession is returned by a SessionProvider that holds no credential.
	ErrNoSession = errors.New("no active session")
)

// Remote identifies an event created on the calendar service.
type Remote struct {
	ID   string
	Link string
}

// Backend creates one event on a calendar service.
type Backend interface {
	Insert(ctx context.Context, ev models.CandidateEvent, credential string) (Remote, error)
}

// SessionProvider hands out the current bearer credential. Pipeline code only
// reads it; refreshing is the provider's business.
type SessionProvider interface {
	Token(ctx context.Context) (string, error)
}

// Status is the outcome of one submission.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Result is the per-candidate submission outcome.
type Result struct {
	Status   Status
	RemoteID string
	Link     string
	Err      error // *models.PipelineError when rejected
}

// Accepted reports whether the event was created.
func (r Result) Accepted() bool {
	return r.Status == StatusAccepted
}

// Reason returns the rejection kind, or "" for an accepted result.
func (r Result) Reason() models.ErrorKind {
	return models.KindOf(r.Err)
}

func accepted(remote Remote) Result {
	return Result{Status: StatusAccepted, RemoteID: remote.ID, Link: remote.Link}
}

func rejected(kind models.ErrorKind, msg string, err error) Result {
	return Result{
		Status: StatusRejected,
		Err: &models.PipelineError{
			Stage:   models.StageSubmission,
			Kind:    kind,
			Message: msg,
			Err:     err,
		},
	}
}

// Adapter validates candidates and submits them one at a time. It never touches
// the record store.
type Adapter struct {
	logger  *slog.Logger
	backend Backend
	timeout time.Duration
}

// NewAdapter creates a submission adapter. A zero timeout disables the bound.
func NewAdapter(logger *slog.Logger, backend Backend, timeout time.Duration) *Adapter {
	return &Adapter{logger: logger, backend: backend, timeout: timeout}
}

// Validate runs the local checks that gate a network call.
func Validate(ev models.CandidateEvent) error {
	if !ev.HasName() {
		return models.NewError(models.StageSubmission, models.KindMissingName, "event name is empty")
	}
	if !ev.ValidRange() {
		return models.NewError(models.StageSubmission, models.KindInvalidRange, "end must be after start")
	}
	return nil
}

// Submit sends ev to the calendar service with credential. Local validation runs
// first and never reaches the network. Nothing is retried.
func (a *Adapter) Submit(ctx context.Context, ev models.CandidateEvent, credential string) Result {
	if err := Validate(ev); err != nil {
		return Result{Status: StatusRejected, Err: err}
	}
	if strings.TrimSpace(credential) == "" {
		return rejected(models.KindAuthExpired, "no credential available", ErrNoSession)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	remote, err := a.backend.Insert(ctx, ev, credential)
	switch {
	case errors.Is(err, ErrUnauthorized):
		a.logger.Warn("Calendar credential rejected.", "event", ev.Name)
		return rejected(models.KindAuthExpired, "credential rejected by calendar service", err)
	case errors.Is(err, context.DeadlineExceeded):
		return Result{
			Status: StatusRejected,
			Err: &models.PipelineError{
				Stage:   models.StageSubmission,
				Kind:    models.KindServiceError,
				Status:  models.StatusTimeout,
				Message: "calendar service timed out",
				Err:     err,
			},
		}
	case err != nil:
		a.logger.Error("Failed to create calendar event", "event", ev.Name, "error", err)
		return rejected(models.KindServiceError, "", err)
	case remote.ID == "":
		return rejected(models.KindServiceError, "event creation response did not include an event ID", nil)
	}

	a.logger.Info("Created calendar event.", "event", ev.Name, "remoteID", remote.ID)
	return accepted(remote)
}

// String renders the result for logs.
func (r Result) String() string {
	if r.Accepted() {
		return fmt.Sprintf("accepted id=%s", r.RemoteID)
	}
	return fmt.Sprintf("rejected: %v", r.Err)
}
