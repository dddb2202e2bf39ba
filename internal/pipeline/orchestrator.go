package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"snapcal/internal/intake"
	"snapcal/internal/models"
	"snapcal/internal/store"
	"snapcal/internal/submit"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in the
	// current state.
	ErrInvalidTransition = errors.New("invalid pipeline transition")

	// ErrStaleRun is returned by a stage whose run was superseded by a newer
	// upload while it was in flight. Its result is discarded.
	ErrStaleRun = errors.New("run superseded by a newer upload")

	// ErrUnknownCandidate is returned when submitting an id that is not in the
	// store.
	ErrUnknownCandidate = errors.New("unknown candidate")

	// ErrSubmissionInFlight is returned when the candidate is already being
	// submitted.
	ErrSubmissionInFlight = errors.New("submission already in flight")
)

// TextRecognizer turns an admitted image into a transcript.
type TextRecognizer interface {
	Extract(ctx context.Context, img *intake.RawImage) (models.Transcript, error)
}

// EventExtractor turns a transcript into candidate events.
type EventExtractor interface {
	ExtractEvents(ctx context.Context, transcript models.Transcript) ([]models.CandidateEvent, error)
}

// Submitter sends one candidate to the calendar service.
type Submitter interface {
	Submit(ctx context.Context, ev models.CandidateEvent, credential string) submit.Result
}

// Options wires the stages into an Orchestrator.
type Options struct {
	Gate      *intake.Gate
	OCR       TextRecognizer
	Extractor EventExtractor
	Submitter Submitter
	// Session may be nil, in which case submissions are rejected as
	// AuthExpired without reaching the network.
	Session submit.SessionProvider

	// ExtractionTimeout bounds one extraction call. Zero disables the bound.
	ExtractionTimeout time.Duration

	// OnTransition, when set, is called with every new state. It runs outside
	// the orchestrator lock and may call back into the orchestrator.
	OnTransition func(State)
}

// Orchestrator drives one image through intake, recognition, extraction and
// submission. The lock only guards state; no I/O happens while it is held, so a
// new Upload may supersede an in-flight run.
type Orchestrator struct {
	logger *slog.Logger
	opts   Options
	store  *store.Store

	mu       sync.Mutex
	run      uint64
	runLog   *slog.Logger
	state    State
	inflight map[models.RecordKey]struct{}
}

// New creates an orchestrator in the Idle state.
func New(logger *slog.Logger, opts Options) *Orchestrator {
	if opts.Gate == nil {
		opts.Gate = intake.NewGate()
	}
	return &Orchestrator{
		logger:   logger,
		opts:     opts,
		store:    store.New(),
		runLog:   logger,
		state:    idle(),
		inflight: make(map[models.RecordKey]struct{}),
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Transcript returns the transcript of the current run, if any.
func (o *Orchestrator) Transcript() models.Transcript {
	return o.State().Transcript
}

// Candidates iterates over the candidates still waiting for submission.
func (o *Orchestrator) Candidates() iter.Seq[models.CandidateEvent] {
	return o.store.List()
}

// Len reports how many candidates remain.
func (o *Orchestrator) Len() int {
	return o.store.Len()
}

// Upload starts a new run with src. It returns once the run reaches Ready or
// Failed. A rejected file leaves the previous candidates in the store; an
// admitted one discards them along with the previous transcript. The admitted
// image is released on every path.
func (o *Orchestrator) Upload(ctx context.Context, src intake.Source) error {
	run, log := o.begin(src.Name())

	img, err := o.opts.Gate.Admit(src)
	if err != nil {
		log.Info("Image rejected.", "file", src.Name(), "error", err)
		return o.fail(run, err)
	}
	defer img.Release()

	if err := o.admitted(run); err != nil {
		return err
	}

	transcript, err := o.opts.OCR.Extract(ctx, img)
	if err != nil {
		log.Warn("Text recognition failed.", "error", err)
		return o.fail(run, err)
	}

	log.Info("Transcript ready for review.", "chars", len(transcript))
	return o.transition(run, State{Kind: KindReady, Transcript: transcript})
}

// Confirm runs extraction on the reviewed transcript. It is valid in Ready, and
// in Failed when a transcript survived the failure.
func (o *Orchestrator) Confirm(ctx context.Context) error {
	o.mu.Lock()
	run, log := o.run, o.runLog
	transcript := o.state.Transcript
	o.mu.Unlock()

	if err := o.transition(run, processing(models.StageExtraction, transcript)); err != nil {
		return err
	}

	if o.opts.ExtractionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.ExtractionTimeout)
		defer cancel()
	}

	candidates, err := o.opts.Extractor.ExtractEvents(ctx, transcript)
	if err != nil {
		log.Warn("Event extraction failed.", "error", err)
		return o.fail(run, err)
	}

	o.mu.Lock()
	if o.run != run {
		o.mu.Unlock()
		log.Debug("Discarding stale extraction result.", "count", len(candidates))
		return ErrStaleRun
	}
	from := o.state
	to := State{Kind: KindExtracted, Transcript: transcript}
	if !validTransition(from, to) {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	o.store.Load(run, candidates)
	o.state = to
	o.mu.Unlock()

	log.Info("Candidates extracted.", "count", len(candidates))
	o.notify(to)
	return nil
}

// Edit replaces the candidate with ev.ID. It reports false when the pipeline
// holds no candidates or no record has that id.
func (o *Orchestrator) Edit(ev models.CandidateEvent) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Kind != KindExtracted {
		return false
	}
	return o.store.Update(ev)
}

// Discard drops a candidate without submitting it.
func (o *Orchestrator) Discard(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Kind != KindExtracted {
		return
	}
	o.store.Remove(id)
}

// Submit sends candidate id to the calendar service. An accepted candidate is
// removed from the store; a rejected one stays for the user to fix or retry.
// The pipeline state is unchanged either way.
func (o *Orchestrator) Submit(ctx context.Context, id int) (submit.Result, error) {
	o.mu.Lock()
	state, log := o.state, o.runLog
	if state.Kind != KindExtracted {
		o.mu.Unlock()
		return submit.Result{}, fmt.Errorf("%w: submit in %s", ErrInvalidTransition, state)
	}
	ev, ok := o.store.Get(id)
	key, _ := o.store.Key(id)
	if !ok {
		o.mu.Unlock()
		return submit.Result{}, fmt.Errorf("%w: %d", ErrUnknownCandidate, id)
	}
	if _, busy := o.inflight[key]; busy {
		o.mu.Unlock()
		return submit.Result{}, fmt.Errorf("%w: %d", ErrSubmissionInFlight, id)
	}
	o.inflight[key] = struct{}{}
	o.mu.Unlock()

	credential := o.credential(ctx, log)
	res := o.opts.Submitter.Submit(ctx, ev, credential)

	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, key)
	if !res.Accepted() {
		log.Info("Submission rejected.", "id", id, "reason", res.Reason())
		return res, nil
	}
	if current, ok := o.store.Key(id); ok && current == key {
		o.store.Remove(id)
	} else {
		log.Debug("Candidate changed while submitting, keeping store as is.", "id", id)
	}
	return res, nil
}

// Reset returns to Idle and drops the current run.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.run++
	o.runLog = o.logger
	o.store.Load(o.run, nil)
	o.state = idle()
	o.mu.Unlock()

	o.notify(idle())
}

// begin starts a new run and moves to Processing(intake). In-flight stages of
// the previous run become stale, but its candidates stay until the file is
// admitted.
func (o *Orchestrator) begin(name string) (uint64, *slog.Logger) {
	o.mu.Lock()
	o.run++
	run := o.run
	log := o.logger.With("run", uuid.NewString())
	o.runLog = log
	o.state = processing(models.StageIntake, "")
	o.mu.Unlock()

	log.Debug("Starting run.", "file", name)
	o.notify(processing(models.StageIntake, ""))
	return run, log
}

// admitted discards the previous run's candidates and moves run to
// Processing(ocr).
func (o *Orchestrator) admitted(run uint64) error {
	to := processing(models.StageOCR, "")

	o.mu.Lock()
	if o.run != run {
		o.mu.Unlock()
		return ErrStaleRun
	}
	from := o.state
	if !validTransition(from, to) {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	o.store.Load(run, nil)
	o.state = to
	o.mu.Unlock()

	o.notify(to)
	return nil
}

// transition moves run to the next state, unless run was superseded.
func (o *Orchestrator) transition(run uint64, to State) error {
	o.mu.Lock()
	if o.run != run {
		o.mu.Unlock()
		o.logger.Debug("Discarding stale stage result.", "to", to.String())
		return ErrStaleRun
	}
	from := o.state
	if !validTransition(from, to) {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	o.state = to
	o.mu.Unlock()

	o.notify(to)
	return nil
}

// fail records err as the Failed state of run, keeping the transcript. It
// returns err, or ErrStaleRun when the run was superseded.
func (o *Orchestrator) fail(run uint64, err error) error {
	o.mu.Lock()
	from := o.state
	to := State{Kind: KindFailed, Stage: from.Stage, Transcript: from.Transcript, Err: err}
	o.mu.Unlock()

	if terr := o.transition(run, to); terr != nil {
		return terr
	}
	return err
}

// credential reads the current token, treating any session failure as no
// credential so the submitter reports AuthExpired.
func (o *Orchestrator) credential(ctx context.Context, log *slog.Logger) string {
	if o.opts.Session == nil {
		return ""
	}
	token, err := o.opts.Session.Token(ctx)
	if err != nil {
		if !errors.Is(err, submit.ErrNoSession) {
			log.Warn("Failed to read session credential.", "error", err)
		}
		return ""
	}
	return token
}

func (o *Orchestrator) notify(s State) {
	if o.opts.OnTransition != nil {
		o.opts.OnTransition(s)
	}
}
