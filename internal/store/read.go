package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// ListOptions filters ListRuns.
type ListOptions struct {
	// Suite restricts results to one suite; empty means all.
	Suite string

	// Limit caps the number of runs; zero means no limit.
	Limit int
}

const runColumns = `seq, id, suite, passed, phase, reason, log_path, signature, trace, failures, started_at, finished_at`

// ReadRun returns the run with the given ID, or ErrNotFound.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns runs newest first (ORDER BY seq DESC).
//
// Returns an empty slice (not nil) if there are no runs.
func (s *Store) ListRuns(ctx context.Context, opts ListOptions) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if opts.Suite != "" {
		query += ` WHERE suite = ?`
		args = append(args, opts.Suite)
	}
	query += ` ORDER BY seq DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadInjections returns a run's injection trace ordered by seq.
//
// Returns an empty slice (not nil) if no records exist.
func (s *Store) ReadInjections(ctx context.Context, runID string) ([]Injection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, artifact, path, digest, outcome, error,
		       before_offset, before_line, after_offset, after_line
		FROM injections
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query injections: %w", err)
	}
	defer rows.Close()

	injections := []Injection{}
	for rows.Next() {
		var inj Injection
		if err := rows.Scan(
			&inj.RunID, &inj.Seq, &inj.Artifact, &inj.Path, &inj.Digest, &inj.Outcome, &inj.Error,
			&inj.BeforeOffset, &inj.BeforeLine, &inj.AfterOffset, &inj.AfterLine,
		); err != nil {
			return nil, fmt.Errorf("scan injection: %w", err)
		}
		injections = append(injections, inj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate injections: %w", err)
	}
	return injections, nil
}

// ReadEvidence returns a run's evidence lines ordered by seq.
//
// Returns an empty slice (not nil) if no records exist.
func (s *Store) ReadEvidence(ctx context.Context, runID string) ([]Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, line, text, source, fingerprint
		FROM evidence
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query evidence: %w", err)
	}
	defer rows.Close()

	evidence := []Evidence{}
	for rows.Next() {
		var ev Evidence
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Line, &ev.Text, &ev.Source, &ev.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		evidence = append(evidence, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence: %w", err)
	}
	return evidence, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run               Run
		passed            int
		trace, failures   string
		started, finished int64
	)
	if err := sc.Scan(
		&run.Seq, &run.ID, &run.Suite, &passed, &run.Phase, &run.Reason,
		&run.LogPath, &run.Signature, &trace, &failures, &started, &finished,
	); err != nil {
		return Run{}, err
	}

	var err error
	if run.Trace, err = unmarshalStrings(trace); err != nil {
		return Run{}, fmt.Errorf("run %s trace: %w", run.ID, err)
	}
	if run.Failures, err = unmarshalStrings(failures); err != nil {
		return Run{}, fmt.Errorf("run %s failures: %w", run.ID, err)
	}
	run.Passed = passed != 0
	run.StartedAt = fromMillis(started)
	run.FinishedAt = fromMillis(finished)
	return run, nil
}
