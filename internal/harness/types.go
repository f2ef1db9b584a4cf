package harness

import (
	"fmt"
	"time"

	"github.com/roach88/corrharness/internal/inject"
	"github.com/roach88/corrharness/internal/validate"
)

// Phase is a run state.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseSessionStarting Phase = "session_starting"
	PhaseInjecting       Phase = "injecting"
	PhaseShuttingDown    Phase = "shutting_down"
	PhaseValidating      Phase = "validating"
	PhaseDone            Phase = "done"
	PhaseFailed          Phase = "failed"
)

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Evidence sources that are not artifacts.
const (
	SourceStartup  = "startup"
	SourceShutdown = "shutdown"
)

// Evidence is a matching log line together with the artifact (or
// lifecycle stage) during which it was written.
type Evidence struct {
	Line        int    `json:"line"`
	Text        string `json:"text"`
	Source      string `json:"source"`
	Fingerprint string `json:"fingerprint"`
}

// Result is the outcome of one run.
type Result struct {
	RunID string `json:"run_id"`
	Suite string `json:"suite"`

	// Pass is the overall verdict: the log verdict matched the suite's
	// expectation, no lifecycle step failed and every assertion held.
	Pass bool `json:"pass"`

	// Phase is the terminal phase, PhaseDone or PhaseFailed.
	Phase Phase `json:"phase"`

	// Reason explains PhaseFailed.
	Reason string `json:"reason,omitempty"`

	// Trace lists every phase entered, in order. Injecting entries carry
	// the artifact ordinal, e.g. "injecting(2)".
	Trace []string `json:"trace"`

	Injections []inject.Record  `json:"injections"`
	Validation *validate.Result `json:"validation,omitempty"`
	Evidence   []Evidence       `json:"evidence"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`

	LogPath    string    `json:"log_path"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewResult creates a result in the Idle phase.
func NewResult(runID, suite string) *Result {
	return &Result{
		RunID:      runID,
		Suite:      suite,
		Phase:      PhaseIdle,
		Trace:      []string{string(PhaseIdle)},
		Injections: []inject.Record{},
		Evidence:   []Evidence{},
		Errors:     []string{},
	}
}

// enter records a transition.
func (r *Result) enter(p Phase) {
	r.Phase = p
	r.Trace = append(r.Trace, string(p))
}

// enterInjecting records the transition into Injecting(n).
func (r *Result) enterInjecting(ordinal int) {
	r.Phase = PhaseInjecting
	r.Trace = append(r.Trace, fmt.Sprintf("%s(%d)", PhaseInjecting, ordinal))
}

// fail moves the run to Failed. The first reason wins.
func (r *Result) fail(reason string) {
	if r.Reason == "" {
		r.Reason = reason
	}
	r.Pass = false
	if r.Phase != PhaseFailed {
		r.enter(PhaseFailed)
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// EvidenceFrom returns the evidence attributed to source.
func (r *Result) EvidenceFrom(source string) []Evidence {
	var out []Evidence
	for _, ev := range r.Evidence {
		if ev.Source == source {
			out = append(out, ev)
		}
	}
	return out
}
