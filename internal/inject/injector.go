package inject

import (
	"context"
	"io"
	"log/slog"

	"github.com/roach88/corrharness/internal/logsink"
)

// Target is the running engine as seen by the injector.
// *session.Session implements it.
type Target interface {
	Submit(ctx context.Context, name string, content []byte) error
	Barrier(ctx context.Context) (logsink.Checkpoint, error)
	Checkpoint() logsink.Checkpoint
	Alive() bool
}

// Outcome is what happened to one artifact during a run.
type Outcome string

const (
	OutcomeInjected      Outcome = "injected"
	OutcomeRejected      Outcome = "rejected"
	OutcomeFailed        Outcome = "failed"
	OutcomeBarrierFailed Outcome = "barrier_failed"
	OutcomeSkipped       Outcome = "skipped"
)

// Record is the injection trace entry for one artifact. Log lines between
// Before and After were written while the artifact was being handled.
type Record struct {
	Artifact Artifact           `json:"artifact"`
	Outcome  Outcome            `json:"outcome"`
	Error    string             `json:"error,omitempty"`
	Before   logsink.Checkpoint `json:"before"`
	After    logsink.Checkpoint `json:"after"`
}

// Report is the result of Injector.Run.
type Report struct {
	Records []Record
	Errors  []*InjectionError

	// Halted is set once the engine died or a barrier failed; artifacts
	// after that point are skipped.
	Halted bool
}

// Count returns the number of records with the given outcome.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, rec := range r.Records {
		if rec.Outcome == o {
			n++
		}
	}
	return n
}

// Inject reads a and submits it to t.
func Inject(ctx context.Context, t Target, a Artifact) error {
	content, err := a.Content()
	if err != nil {
		return &InjectionError{Artifact: a, Stage: StageRead, Err: err}
	}
	if err := t.Submit(ctx, a.Name, content); err != nil {
		return &InjectionError{Artifact: a, Stage: StageSubmit, Err: err}
	}
	return nil
}

// Barrier waits until t has processed everything submitted and the sink
// has absorbed the resulting output.
func Barrier(ctx context.Context, t Target, a Artifact) (logsink.Checkpoint, error) {
	cp, err := t.Barrier(ctx)
	if err != nil {
		return t.Checkpoint(), &InjectionError{Artifact: a, Stage: StageBarrier, Err: err}
	}
	return cp, nil
}

// Injector runs the inject/barrier loop.
type Injector struct {
	logger *slog.Logger
}

// NewInjector creates an Injector. A nil logger discards output.
func NewInjector(logger *slog.Logger) *Injector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Injector{logger: logger}
}

// Run injects artifacts strictly in order, with a barrier after each.
//
// A failed submission is recorded and the loop moves on; the barrier is
// still issued so output caused by the failure is attributed to that
// artifact. Once the engine is gone, or a barrier fails, every remaining
// artifact is recorded as skipped.
func (inj *Injector) Run(ctx context.Context, t Target, artifacts []Artifact) Report {
	var rep Report
	for _, a := range artifacts {
		rec := Record{Artifact: a, Before: t.Checkpoint()}

		if !rep.Halted && !t.Alive() {
			inj.logger.Warn("engine gone, skipping remaining artifacts", "artifact", a.Name)
			rep.Halted = true
		}
		if rep.Halted {
			rec.Outcome = OutcomeSkipped
			rec.After = rec.Before
			rep.Records = append(rep.Records, rec)
			continue
		}

		inj.logger.Debug("injecting", "artifact", a.Name, "ordinal", a.Ordinal)
		rec.Outcome = OutcomeInjected
		if err := Inject(ctx, t, a); err != nil {
			ie := err.(*InjectionError)
			rep.Errors = append(rep.Errors, ie)
			rec.Error = ie.Err.Error()
			rec.Outcome = OutcomeFailed
			if ie.Rejected() {
				rec.Outcome = OutcomeRejected
			}
			inj.logger.Warn("injection failed", "artifact", a.Name, "outcome", rec.Outcome, "error", ie.Err)
		}

		if !t.Alive() {
			rec.After = t.Checkpoint()
			rep.Records = append(rep.Records, rec)
			rep.Halted = true
			continue
		}

		cp, err := Barrier(ctx, t, a)
		rec.After = cp
		if err != nil {
			ie := err.(*InjectionError)
			rep.Errors = append(rep.Errors, ie)
			rec.Outcome = OutcomeBarrierFailed
			rec.Error = ie.Err.Error()
			rep.Halted = true
			inj.logger.Warn("barrier failed", "artifact", a.Name, "error", ie.Err)
		} else {
			inj.logger.Info("artifact processed",
				"artifact", a.Name,
				"outcome", rec.Outcome,
				"lines", rec.After.Lines-rec.Before.Lines,
			)
		}
		rep.Records = append(rep.Records, rec)
	}
	return rep
}
