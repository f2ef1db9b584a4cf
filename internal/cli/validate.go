package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/corrharness/internal/validate"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Signature string
	Pattern   string
	Settle    time.Duration
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <log-file>",
		Short: "Scan a closed engine log for error lines",
		Long: `Scan an engine log that is no longer being written and report every
line carrying the error signature.

The log must be closed: a log that still has a live writer, or that keeps
growing during the settle window, is refused rather than scanned.

Examples:
  corrharness validate out/smoke/0192.../correlator.log
  corrharness validate --pattern '\bFATAL\b' engine.log`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Signature, "signature", validate.DefaultSubstring, "substring marking an error line")
	cmd.Flags().StringVar(&opts.Pattern, "pattern", "", "regular expression marking an error line (replaces --signature)")
	cmd.Flags().DurationVar(&opts.Settle, "settle", validate.DefaultSettle, "quiet period required before scanning (0 disables)")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	sig := validate.Signature{Substring: opts.Signature}
	if opts.Pattern != "" {
		sig = validate.Signature{Pattern: opts.Pattern}
	}
	if _, err := sig.Compile(); err != nil {
		_ = formatter.Error(ErrCodePrecondition, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid signature", err)
	}

	formatter.VerboseLog("validating %s with %s (settle %s)", path, sig, opts.Settle)
	res, err := validate.ValidateWithOptions(cmd.Context(), path, sig, validate.Options{Settle: opts.Settle})
	if err != nil {
		_ = formatter.Error(ErrCodePrecondition, err.Error(), map[string]string{"path": path})
		return WrapExitError(ExitCommandError, "cannot validate log", err)
	}

	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: res}
		if !res.Passed {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeEvidence,
				Message: fmt.Sprintf("%d error line(s)", len(res.Evidence)),
			}
		}
		if err := formatter.Response(resp); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		if res.Passed {
			fmt.Fprintf(w, "✓ %s: no lines match %s (%d lines scanned)\n", path, res.Signature, res.Lines)
		} else {
			fmt.Fprintf(w, "✗ %s: %d line(s) match %s\n", path, len(res.Evidence), res.Signature)
			for _, line := range res.Evidence {
				fmt.Fprintf(w, "  line %d: %s\n", line.Number, line.Text)
			}
		}
	}

	if !res.Passed {
		return NewExitError(ExitFailure, fmt.Sprintf("%d error line(s) in %s", len(res.Evidence), path))
	}
	return nil
}
