package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/corrharness/internal/harness"
	"github.com/roach88/corrharness/internal/store"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	OutDir   string
	Database string
	Update   bool   // rewrite golden snapshots instead of comparing
	Filter   string // glob over suite directory names
	Parallel int

	// RunID overrides run ID generation (for testing).
	RunID func() string
}

// Golden snapshot states reported per suite.
const (
	GoldenMatched  = "matched"
	GoldenUpdated  = "updated"
	GoldenMissing  = "missing"
	GoldenMismatch = "mismatch"
)

// SuiteResult holds the outcome of one suite.
type SuiteResult struct {
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	RunID    string   `json:"run_id,omitempty"`
	Pass     bool     `json:"pass"`
	Phase    string   `json:"phase,omitempty"`
	Evidence int      `json:"evidence"`
	Golden   string   `json:"golden,omitempty"`
	Errors   []string `json:"errors,omitempty"`

	suite  *harness.Suite
	result *harness.Result
}

// TestResult holds the overall test results.
type TestResult struct {
	Suites []SuiteResult `json:"suites"`
	Passed int           `json:"passed"`
	Failed int           `json:"failed"`
	Total  int           `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <suites-dir>",
		Short: "Run every suite in a directory",
		Long: `Run each suite found in the immediate subdirectories of <suites-dir>.

A subdirectory is a suite when it holds suite.yaml, suite.yml or suite.cue.
Suites run in name order, up to --parallel at a time; each run gets its own
run ID and output directory, so concurrent runs never share an engine log.

When a suite directory holds <name>.golden, the run snapshot (verdict,
injection outcomes and evidence) must match it. Use --update to write the
snapshots from the current runs.

Examples:
  corrharness test ./suites
  corrharness test ./suites --filter 'smoke*' --parallel 4
  corrharness test ./suites --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.OutDir, "out", "out", "root directory for run output")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite run history (optional)")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "update golden snapshots")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run suites whose directory name matches this glob")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 1, "number of suites to run concurrently")

	return cmd
}

func runTests(opts *TestOptions, suitesDir string, cmd *cobra.Command) error {
	w := cmd.OutOrStdout()
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	if info, err := os.Stat(suitesDir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("suites directory not found: %s", suitesDir))
	}
	if opts.Filter != "" {
		if _, err := filepath.Match(opts.Filter, ""); err != nil {
			return WrapExitError(ExitCommandError, "invalid --filter pattern", err)
		}
	}
	if opts.Parallel < 1 {
		return NewExitError(ExitCommandError, "--parallel must be at least 1")
	}

	suiteFiles, err := findSuiteFiles(suitesDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list suites", err)
	}

	if len(suiteFiles) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, TestResult{Suites: []SuiteResult{}})
		}
		fmt.Fprintln(w, "No suites found")
		return nil
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	h := harness.New(harness.Options{
		OutDir: opts.OutDir,
		RunID:  opts.RunID,
		Logger: logger,
	})

	results := make([]SuiteResult, len(suiteFiles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallel)
	for i, file := range suiteFiles {
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = SuiteResult{
					Name:   filepath.Base(filepath.Dir(file)),
					Path:   file,
					Errors: []string{"not started: run cancelled"},
				}
				return nil
			}
			results[i] = runOneSuite(gctx, h, file, opts.Update)
			return nil
		})
	}
	_ = g.Wait()

	if opts.Database != "" {
		if err := recordAll(ctx, opts.Database, results); err != nil {
			return WrapExitError(ExitCommandError, "failed to record runs", err)
		}
	}

	result := TestResult{Suites: results, Total: len(results)}
	for _, r := range results {
		if r.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	for _, r := range results {
		writeSuiteText(w, r)
	}
	return outputTestText(cmd, result)
}

// findSuiteFiles returns the suite file of each immediate subdirectory of
// dir whose name matches filter, sorted by directory name.
func findSuiteFiles(dir, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if filter != "" {
			if ok, _ := filepath.Match(filter, e.Name()); !ok {
				continue
			}
		}
		if file := harness.FindSuiteFile(filepath.Join(dir, e.Name())); file != "" {
			files = append(files, file)
		}
	}
	sort.Strings(files)
	return files, nil
}

// runOneSuite loads, runs and golden-checks one suite. Every problem is
// reported in the SuiteResult; none aborts the other suites.
func runOneSuite(ctx context.Context, h *harness.Harness, file string, update bool) SuiteResult {
	sr := SuiteResult{
		Name: filepath.Base(filepath.Dir(file)),
		Path: file,
	}

	suite, err := harness.LoadSuite(file)
	if err != nil {
		sr.Errors = []string{err.Error()}
		return sr
	}
	sr.Name = suite.Name
	sr.suite = suite

	res, err := h.Run(ctx, suite)
	if err != nil {
		sr.Errors = []string{err.Error()}
		return sr
	}
	sr.result = res
	sr.RunID = res.RunID
	sr.Phase = string(res.Phase)
	sr.Evidence = len(res.Evidence)
	sr.Pass = res.Pass
	if !res.Pass {
		sr.Errors = append(sr.Errors, failureSummary(res))
		sr.Errors = append(sr.Errors, res.Errors...)
	}

	goldenPath := harness.GoldenPath(suite)
	err = harness.CompareGolden(goldenPath, res, update)
	switch {
	case update && err == nil:
		sr.Golden = GoldenUpdated
	case err == nil:
		sr.Golden = GoldenMatched
	case !update && errors.Is(err, os.ErrNotExist):
		sr.Golden = GoldenMissing
	case errors.Is(err, harness.ErrGoldenMismatch):
		sr.Golden = GoldenMismatch
		sr.Pass = false
		sr.Errors = append(sr.Errors, "snapshot does not match golden file (run with --update to regenerate)")
	default:
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf("golden file: %v", err))
	}
	return sr
}

// recordAll writes every completed run to the history in suite order,
// including runs finished after a cancellation.
func recordAll(ctx context.Context, dbPath string, results []SuiteResult) error {
	ctx = context.WithoutCancel(ctx)
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer st.Close()

	for _, r := range results {
		if r.result == nil {
			continue
		}
		if err := recordTo(ctx, st, r.suite, r.result); err != nil {
			return err
		}
	}
	return nil
}

func writeSuiteText(w io.Writer, r SuiteResult) {
	if r.result != nil {
		if r.Pass {
			writeResultText(w, r.result)
		} else {
			fmt.Fprintf(w, "✗ %s (run %s)\n", r.Name, r.RunID)
			for _, ev := range r.result.Evidence {
				fmt.Fprintf(w, "  line %d [%s] %s\n", ev.Line, ev.Source, ev.Text)
			}
			for _, e := range r.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		if r.Golden == GoldenUpdated {
			fmt.Fprintln(w, "  golden updated")
		}
		return
	}
	fmt.Fprintf(w, "✗ %s\n", r.Name)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	f := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
	resp := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		resp.Status = "error"
		resp.Error = &CLIError{
			Code:    ErrCodeTestFailed,
			Message: fmt.Sprintf("%d suite(s) failed", result.Failed),
		}
	}
	if err := f.Response(resp); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d suite(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the test summary as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d suite(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All suites passed")
	return nil
}
