package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// WriteRun inserts a run record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) WriteRun(ctx context.Context, run Run) error {
	if err := writeRun(ctx, s.db, run); err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// WriteInjection inserts one injection trace entry.
// Uses ON CONFLICT DO NOTHING for idempotency.
//
// Note: The run referenced by RunID must exist (foreign key constraint).
func (s *Store) WriteInjection(ctx context.Context, inj Injection) error {
	if err := writeInjection(ctx, s.db, inj); err != nil {
		return fmt.Errorf("write injection: %w", err)
	}
	return nil
}

// WriteEvidence inserts one evidence line.
// Uses ON CONFLICT DO NOTHING for idempotency.
//
// Note: The run referenced by RunID must exist (foreign key constraint).
func (s *Store) WriteEvidence(ctx context.Context, ev Evidence) error {
	if err := writeEvidence(ctx, s.db, ev); err != nil {
		return fmt.Errorf("write evidence: %w", err)
	}
	return nil
}

// RecordResult writes a run with its whole injection trace and evidence in
// one transaction. Either everything is stored or nothing is.
func (s *Store) RecordResult(ctx context.Context, run Run, injections []Injection, evidence []Evidence) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record result: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	ex := tx
	if err := writeRun(ctx, ex, run); err != nil {
		return fmt.Errorf("record result: run: %w", err)
	}
	for _, inj := range injections {
		if inj.RunID == "" {
			inj.RunID = run.ID
		}
		if err := writeInjection(ctx, ex, inj); err != nil {
			return fmt.Errorf("record result: injection %d: %w", inj.Seq, err)
		}
	}
	for _, ev := range evidence {
		if ev.RunID == "" {
			ev.RunID = run.ID
		}
		if err := writeEvidence(ctx, ex, ev); err != nil {
			return fmt.Errorf("record result: evidence %d: %w", ev.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record result: commit: %w", err)
	}
	return nil
}

func writeRun(ctx context.Context, ex execer, run Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	trace, err := marshalStrings(run.Trace)
	if err != nil {
		return err
	}
	failures, err := marshalStrings(run.Failures)
	if err != nil {
		return err
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO runs
		(id, suite, passed, phase, reason, log_path, signature, trace, failures, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Suite,
		boolToInt(run.Passed),
		run.Phase,
		run.Reason,
		run.LogPath,
		run.Signature,
		trace,
		failures,
		toMillis(run.StartedAt),
		toMillis(run.FinishedAt),
	)
	return err
}

func writeInjection(ctx context.Context, ex execer, inj Injection) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO injections
		(run_id, seq, artifact, path, digest, outcome, error, before_offset, before_line, after_offset, after_line)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		inj.RunID,
		inj.Seq,
		inj.Artifact,
		inj.Path,
		inj.Digest,
		inj.Outcome,
		inj.Error,
		inj.BeforeOffset,
		inj.BeforeLine,
		inj.AfterOffset,
		inj.AfterLine,
	)
	return err
}

func writeEvidence(ctx context.Context, ex execer, ev Evidence) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO evidence
		(run_id, seq, line, text, source, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		ev.RunID,
		ev.Seq,
		ev.Line,
		ev.Text,
		ev.Source,
		ev.Fingerprint,
	)
	return err
}
