package cli

import (
	"context"
	"fmt"

	"github.com/roach88/corrharness/internal/harness"
	"github.com/roach88/corrharness/internal/store"
)

// runRecords converts a run result into history rows.
func runRecords(suite *harness.Suite, res *harness.Result) (store.Run, []store.Injection, []store.Evidence) {
	sig := suite.Signature().String()
	if res.Validation != nil {
		sig = res.Validation.Signature
	}
	run := store.Run{
		ID:         res.RunID,
		Suite:      res.Suite,
		Passed:     res.Pass,
		Phase:      string(res.Phase),
		Reason:     res.Reason,
		LogPath:    res.LogPath,
		Signature:  sig,
		Trace:      res.Trace,
		Failures:   res.Errors,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}

	injections := make([]store.Injection, 0, len(res.Injections))
	for i, rec := range res.Injections {
		injections = append(injections, store.Injection{
			RunID:        res.RunID,
			Seq:          int64(i),
			Artifact:     rec.Artifact.Name,
			Path:         rec.Artifact.Path,
			Digest:       rec.Artifact.Digest,
			Outcome:      string(rec.Outcome),
			Error:        rec.Error,
			BeforeOffset: rec.Before.Offset,
			BeforeLine:   rec.Before.Lines,
			AfterOffset:  rec.After.Offset,
			AfterLine:    rec.After.Lines,
		})
	}

	evidence := make([]store.Evidence, 0, len(res.Evidence))
	for i, ev := range res.Evidence {
		evidence = append(evidence, store.Evidence{
			RunID:       res.RunID,
			Seq:         int64(i),
			Line:        int64(ev.Line),
			Text:        ev.Text,
			Source:      ev.Source,
			Fingerprint: ev.Fingerprint,
		})
	}
	return run, injections, evidence
}

// recordRun appends a result to the history database at dbPath.
// An empty path disables recording. A run interrupted by a signal is still
// recorded, so ctx cancellation is ignored here.
func recordRun(ctx context.Context, dbPath string, suite *harness.Suite, res *harness.Result) error {
	if dbPath == "" {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer st.Close()

	return recordTo(ctx, st, suite, res)
}

func recordTo(ctx context.Context, st *store.Store, suite *harness.Suite, res *harness.Result) error {
	run, injections, evidence := runRecords(suite, res)
	if err := st.RecordResult(ctx, run, injections, evidence); err != nil {
		return fmt.Errorf("record run %s: %w", res.RunID, err)
	}
	return nil
}
