package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/corrharness/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	OutDir   string
	Database string

	// RunID overrides run ID generation (for testing).
	// If nil, the harness uses UUIDv7.
	RunID func() string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <suite-file>",
		Short: "Run one suite against the engine",
		Long: `Run a single suite: start the engine, inject every artifact in order,
shut the engine down and scan its log for error lines.

The argument is a suite file (suite.yaml or suite.cue) or a directory
containing one. The engine log and run output go to <out>/<suite>/<run-id>/.
With --db the result is also appended to the run history.

Exit status is 0 when the run passes, 1 when it fails and 2 when the suite
cannot be run at all.

Example:
  corrharness run ./suites/smoke/suite.yaml
  corrharness run --db ./history.db --out ./out ./suites/smoke`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.OutDir, "out", "out", "root directory for run output")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite run history (optional)")

	return cmd
}

func runSuite(opts *RunOptions, path string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	suitePath, err := resolveSuitePath(path)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidSuite, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to find suite", err)
	}
	suite, err := harness.LoadSuite(suitePath)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidSuite, err.Error(), map[string]string{"file": suitePath})
		return WrapExitError(ExitCommandError, "failed to load suite", err)
	}
	formatter.VerboseLog("loaded suite %s from %s", suite.Name, suitePath)

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	h := harness.New(harness.Options{
		OutDir: opts.OutDir,
		RunID:  opts.RunID,
		Logger: logger,
	})
	res, err := h.Run(ctx, suite)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidSuite, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to run suite", err)
	}

	if err := outputRunResult(formatter, res); err != nil {
		return err
	}

	if err := recordRun(ctx, opts.Database, suite, res); err != nil {
		return WrapExitError(ExitCommandError, "failed to record run", err)
	}

	if !res.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("suite %s failed", res.Suite))
	}
	return nil
}

// resolveSuitePath accepts a suite file or a directory holding one.
func resolveSuitePath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("suite not found: %s", path)
	}
	if !info.IsDir() {
		return path, nil
	}
	file := harness.FindSuiteFile(path)
	if file == "" {
		return "", fmt.Errorf("no suite file in %s (looked for %v)", path, harness.SuiteFileNames)
	}
	return file, nil
}

// signalContext derives a context from the command's that is cancelled
// on SIGINT or SIGTERM. A cancelled run still shuts the engine down.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func outputRunResult(f *OutputFormatter, res *harness.Result) error {
	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: res, RunID: res.RunID}
		if !res.Pass {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeRunFailed,
				Message: failureSummary(res),
			}
		}
		return f.Response(resp)
	}
	writeResultText(f.Writer, res)
	return nil
}

// writeResultText prints a run in the human-readable layout shared by run
// and test.
func writeResultText(w io.Writer, res *harness.Result) {
	if res.Pass {
		fmt.Fprintf(w, "✓ %s (run %s, %d artifacts)\n", res.Suite, res.RunID, len(res.Injections))
	} else {
		fmt.Fprintf(w, "✗ %s (run %s): %s\n", res.Suite, res.RunID, failureSummary(res))
	}
	for _, ev := range res.Evidence {
		fmt.Fprintf(w, "  line %d [%s] %s\n", ev.Line, ev.Source, ev.Text)
	}
	if res.Reason != "" {
		fmt.Fprintf(w, "  reason: %s\n", res.Reason)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	if res.LogPath != "" {
		fmt.Fprintf(w, "  log: %s\n", res.LogPath)
	}
}

// failureSummary says in one line why a run did not pass.
func failureSummary(res *harness.Result) string {
	switch {
	case res.Pass:
		return "passed"
	case res.Phase == harness.PhaseFailed:
		return fmt.Sprintf("failed during run: %s", res.Reason)
	case len(res.Errors) > 0:
		return fmt.Sprintf("%d assertion(s) failed", len(res.Errors))
	case len(res.Evidence) == 0:
		return "expected error lines, found none"
	default:
		return fmt.Sprintf("%d error line(s) in log", len(res.Evidence))
	}
}
