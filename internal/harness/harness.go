package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/corrharness/internal/canonical"
	"github.com/roach88/corrharness/internal/inject"
	"github.com/roach88/corrharness/internal/logsink"
	"github.com/roach88/corrharness/internal/session"
	"github.com/roach88/corrharness/internal/validate"
)

// Options configures a Harness.
type Options struct {
	// OutDir is the root for run output. Each run writes to
	// <OutDir>/<suite>/<run-id>/. Defaults to "out".
	OutDir string

	// RunID generates run IDs. Defaults to UUIDv7.
	RunID func() string

	// Validate tunes log validation.
	Validate validate.Options

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Harness executes suites. It holds no per-run state, so one Harness may
// run several suites concurrently.
type Harness struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Harness, filling in defaults.
func New(opts Options) *Harness {
	if opts.OutDir == "" {
		opts.OutDir = "out"
	}
	if opts.RunID == nil {
		opts.RunID = newRunID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Validate == (validate.Options{}) {
		opts.Validate = validate.DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Harness{opts: opts, logger: logger}
}

func newRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// RunDir returns the output directory for a run.
func (h *Harness) RunDir(suite, runID string) string {
	return filepath.Join(h.opts.OutDir, suite, runID)
}

// Run executes a suite:
//
//	Idle → SessionStarting → Injecting(n)… → ShuttingDown → Validating → Done
//
// Any step may end the run in Failed. Once the engine has started, the run
// always passes through ShuttingDown, and the log is validated whenever
// the sink could be closed, so a failed run still reports its evidence.
//
// ctx bounds only engine startup. Cancelling it after the engine is ready
// does not interrupt the run: the remaining artifacts are still injected,
// each bounded by the barrier timeout, and shutdown and validation follow.
//
// The returned error is non-nil only when the run could not begin: an
// invalid suite or an unusable output directory.
func (h *Harness) Run(ctx context.Context, suite *Suite) (*Result, error) {
	if suite == nil {
		return nil, errors.New("run: nil suite")
	}
	sc := *suite
	sc.applyDefaults()
	suite = &sc
	if err := suite.Validate(); err != nil {
		return nil, fmt.Errorf("run: invalid suite: %w", err)
	}

	runID := h.opts.RunID()
	dir := h.RunDir(suite.Name, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("run: create output directory: %w", err)
	}

	res := NewResult(runID, suite.Name)
	res.LogPath = filepath.Join(dir, suite.Log.File)
	res.StartedAt = h.opts.Now()
	log := h.logger.With("suite", suite.Name, "run", runID)
	defer func() {
		res.FinishedAt = h.opts.Now()
		log.Info("run finished", "pass", res.Pass, "phase", res.Phase, "reason", res.Reason)
	}()

	artifacts, err := h.collect(suite)
	if err != nil {
		res.fail(err.Error())
		return res, nil
	}

	cfg, err := suite.ControllerConfig(log)
	if err != nil {
		res.fail(err.Error())
		return res, nil
	}
	ctl, err := session.NewController(cfg)
	if err != nil {
		res.fail(err.Error())
		return res, nil
	}

	res.enter(PhaseSessionStarting)
	log.Info("starting engine", "artifacts", len(artifacts), "log", res.LogPath)
	s, err := ctl.Start(ctx, suite.Engine.Name, res.LogPath)
	if err != nil {
		// Start has already released the process and the sink.
		res.fail(err.Error())
		return res, nil
	}
	ready := s.Checkpoint()

	runCtx := context.WithoutCancel(ctx)
	stop := context.AfterFunc(ctx, func() {
		log.Warn("run cancelled, draining remaining artifacts before shutdown")
	})
	defer stop()

	rep := inject.NewInjector(log).Run(runCtx, s, artifacts)
	res.Injections = rep.Records
	for _, rec := range rep.Records {
		if rec.Outcome != inject.OutcomeSkipped {
			res.enterInjecting(rec.Artifact.Ordinal)
		}
	}
	drained := s.Checkpoint()

	res.enter(PhaseShuttingDown)
	shutdownErr := ctl.Shutdown(runCtx, s)
	if shutdownErr != nil {
		log.Warn("shutdown failed", "error", shutdownErr)
	}

	res.enter(PhaseValidating)
	vres, err := validate.ValidateWithOptions(runCtx, res.LogPath, suite.Signature(), h.opts.Validate)
	if err != nil {
		res.fail(err.Error())
		return res, nil
	}
	res.Validation = &vres
	res.Evidence = attribute(vres.Evidence, rep.Records, ready, drained)

	res.Pass = vres.Passed == (suite.Expect != ExpectFail)
	for _, msg := range EvaluateAssertions(res, suite.Assertions) {
		res.AddError(msg)
	}

	switch {
	case shutdownErr != nil:
		res.fail(shutdownErr.Error())
	case rep.Halted && rep.Count(inject.OutcomeSkipped) > 0:
		res.fail(haltReason(rep, len(artifacts)))
	case suite.StrictInjection && len(rep.Errors) > 0:
		res.fail(fmt.Sprintf("strict injection: %d injection errors, first: %s", len(rep.Errors), rep.Errors[0]))
	default:
		res.enter(PhaseDone)
	}
	return res, nil
}

// collect resolves the prelude and discovers the suite's artifacts.
func (h *Harness) collect(suite *Suite) ([]inject.Artifact, error) {
	prelude, err := inject.Resolve(suite.Artifacts.Prelude, suite.Dir)
	if err != nil {
		return nil, err
	}
	discovered, err := inject.Discover(suite.ArtifactDir(), suite.Artifacts.Suffix)
	if err != nil {
		return nil, err
	}
	return inject.Sequence(prelude, excluding(discovered, prelude)), nil
}

// excluding drops artifacts whose path appears in skip, so a prelude file
// inside the artifact directory is injected once.
func excluding(list, skip []inject.Artifact) []inject.Artifact {
	if len(skip) == 0 {
		return list
	}
	seen := make(map[string]bool, len(skip))
	for _, a := range skip {
		if abs, err := filepath.Abs(a.Path); err == nil {
			seen[abs] = true
		}
	}
	out := make([]inject.Artifact, 0, len(list))
	for _, a := range list {
		if abs, err := filepath.Abs(a.Path); err == nil && seen[abs] {
			continue
		}
		out = append(out, a)
	}
	return out
}

// attribute tags each evidence line with the artifact whose barrier window
// contains it. Lines up to the ready checkpoint belong to startup; lines
// after the drained checkpoint belong to shutdown. A line written between
// two windows goes to the earlier artifact.
func attribute(lines []validate.Line, records []inject.Record, ready, drained logsink.Checkpoint) []Evidence {
	out := make([]Evidence, 0, len(lines))
	for _, l := range lines {
		n := int64(l.Number)
		source := SourceStartup
		switch {
		case n <= ready.Lines:
		case n > drained.Lines:
			source = SourceShutdown
		default:
			for _, rec := range records {
				if rec.Outcome == inject.OutcomeSkipped {
					continue
				}
				if rec.Before.Lines < n {
					source = rec.Artifact.Name
				}
			}
		}
		fp, _ := canonical.EvidenceFingerprint(source, l.Text)
		out = append(out, Evidence{Line: l.Number, Text: l.Text, Source: source, Fingerprint: fp})
	}
	return out
}

func haltReason(rep inject.Report, total int) string {
	reason := fmt.Sprintf("%d of %d artifacts not injected", rep.Count(inject.OutcomeSkipped), total)
	if n := len(rep.Errors); n > 0 {
		reason += ": " + rep.Errors[n-1].Error()
	}
	return reason
}
