package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/corrharness/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	RunID    string // show one run in detail
	Suite    string
	Limit    int
}

// RunDetail is one run with its injection trace and evidence.
type RunDetail struct {
	Run        store.Run         `json:"run"`
	Injections []store.Injection `json:"injections"`
	Evidence   []store.Evidence  `json:"evidence"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long: `List runs recorded with --db, newest first.

With --run, show one run in detail: every artifact in injection order with
its outcome and log window, and every evidence line with the artifact it
was attributed to.

Examples:
  corrharness history --db ./history.db
  corrharness history --db ./history.db --suite smoke --limit 5
  corrharness history --db ./history.db --run 0192f0c4-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite run history (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show a single run")
	cmd.Flags().StringVar(&opts.Suite, "suite", "", "only list runs of this suite")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list (0 for all)")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.RunID != "" {
		run, err := st.ReadRun(ctx, opts.RunID)
		if errors.Is(err, store.ErrNotFound) {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("run not found: %s", opts.RunID), nil)
			return WrapExitError(ExitCommandError, "run not found", err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		injections, err := st.ReadInjections(ctx, run.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read injections", err)
		}
		evidence, err := st.ReadEvidence(ctx, run.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read evidence", err)
		}

		detail := RunDetail{Run: run, Injections: injections, Evidence: evidence}
		if formatter.JSON() {
			return formatter.Response(CLIResponse{Status: "ok", Data: detail, RunID: run.ID})
		}
		writeRunDetail(formatter.Writer, detail)
		return nil
	}

	runs, err := st.ListRuns(ctx, store.ListOptions{Suite: opts.Suite, Limit: opts.Limit})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	if formatter.JSON() {
		return formatter.Response(CLIResponse{Status: "ok", Data: runs})
	}
	w := formatter.Writer
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	for _, run := range runs {
		fmt.Fprintf(w, "%s  %s  %-20s  %-6s  %s\n",
			run.StartedAt.Format(time.RFC3339), run.ID, run.Suite, verdict(run.Passed), run.Phase)
	}
	return nil
}

func writeRunDetail(w io.Writer, d RunDetail) {
	run := d.Run
	fmt.Fprintf(w, "Run: %s\n", run.ID)
	fmt.Fprintf(w, "Suite: %s\n", run.Suite)
	fmt.Fprintf(w, "Result: %s (%s)\n", verdict(run.Passed), run.Phase)
	if run.Reason != "" {
		fmt.Fprintf(w, "Reason: %s\n", run.Reason)
	}
	fmt.Fprintf(w, "Log: %s\n", run.LogPath)
	fmt.Fprintf(w, "Signature: %s\n", run.Signature)
	fmt.Fprintf(w, "Duration: %s\n", run.FinishedAt.Sub(run.StartedAt))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Injections:")
	if len(d.Injections) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, inj := range d.Injections {
		fmt.Fprintf(w, "  [%d] %-24s %-14s lines %d-%d\n",
			inj.Seq, inj.Artifact, inj.Outcome, inj.BeforeLine+1, inj.AfterLine)
		if inj.Error != "" {
			fmt.Fprintf(w, "      %s\n", inj.Error)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Evidence:")
	if len(d.Evidence) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, ev := range d.Evidence {
		fmt.Fprintf(w, "  line %d [%s] %s\n", ev.Line, ev.Source, ev.Text)
	}
	for _, f := range run.Failures {
		fmt.Fprintf(w, "  assertion: %s\n", f)
	}
}

func verdict(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}
