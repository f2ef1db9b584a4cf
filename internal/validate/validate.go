package validate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/corrharness/internal/logsink"
)

// DefaultSettle is how long a log must stay unchanged before it is judged.
const DefaultSettle = 50 * time.Millisecond

// maxLineBytes bounds a single log line.
const maxLineBytes = 16 << 20

// Options tunes Validate.
type Options struct {
	// Settle is the quiet period required before scanning. Zero skips the
	// growth check.
	Settle time.Duration
}

// DefaultOptions returns the options Validate uses.
func DefaultOptions() Options {
	return Options{Settle: DefaultSettle}
}

// Line is one evidence line.
type Line struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Result is the verdict for one log.
type Result struct {
	Passed    bool   `json:"passed"`
	Evidence  []Line `json:"evidence"`
	Signature string `json:"signature"`
	Lines     int    `json:"lines"`
}

// PreconditionError means the log was not in a state that can be
// validated.
type PreconditionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validate %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("validate %s: %s", e.Path, e.Reason)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// IsPreconditionError reports whether err is or wraps a *PreconditionError.
func IsPreconditionError(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// Validate scans the log at path with DefaultOptions.
func Validate(ctx context.Context, path string, sig Signature) (Result, error) {
	return ValidateWithOptions(ctx, path, sig, DefaultOptions())
}

// ValidateWithOptions checks that the log is closed and quiet, then
// reports every line matching sig. It never modifies the file, so
// repeated calls on an unchanged log return identical results.
func ValidateWithOptions(ctx context.Context, path string, sig Signature, opts Options) (Result, error) {
	m, err := sig.Compile()
	if err != nil {
		return Result{}, err
	}
	if err := checkClosed(ctx, path, opts.Settle); err != nil {
		return Result{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("validate %s: %w", path, err)
	}
	defer f.Close()

	res := Result{Passed: true, Evidence: []Line{}, Signature: m.String()}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		res.Lines++
		text := strings.TrimSuffix(sc.Text(), "\r")
		if m.Match(text) {
			res.Evidence = append(res.Evidence, Line{Number: res.Lines, Text: text})
		}
	}
	if err := sc.Err(); err != nil {
		return Result{}, fmt.Errorf("validate %s: line %d: %w", path, res.Lines+1, err)
	}
	res.Passed = len(res.Evidence) == 0
	return res, nil
}

// checkClosed verifies the sink marker is gone and, when settle > 0, that
// the file neither changes nor grows for that long.
func checkClosed(ctx context.Context, path string, settle time.Duration) error {
	if logsink.IsOpen(path) {
		return &PreconditionError{Path: path, Reason: "log sink still open"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &PreconditionError{Path: path, Reason: "log not found", Err: err}
	}
	if !info.Mode().IsRegular() {
		return &PreconditionError{Path: path, Reason: "log is not a regular file"}
	}
	if settle <= 0 {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("validate %s: watch: %w", path, err)
	}
	defer w.Close()
	if err := w.Add(path); err != nil {
		return fmt.Errorf("validate %s: watch: %w", path, err)
	}

	timer := time.NewTimer(settle)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				return &PreconditionError{Path: path, Reason: "log still being written"}
			}
		case err, ok := <-w.Errors:
			if ok && err != nil {
				return fmt.Errorf("validate %s: watch: %w", path, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			after, err := os.Stat(path)
			if err != nil {
				return &PreconditionError{Path: path, Reason: "log disappeared", Err: err}
			}
			if after.Size() != info.Size() {
				return &PreconditionError{Path: path, Reason: "log still being written"}
			}
			return nil
		}
	}
}
