package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/corrharness/internal/canonical"
)

// ErrGoldenMismatch is returned by CompareGolden when a snapshot differs
// from the stored one.
var ErrGoldenMismatch = errors.New("snapshot differs from golden file")

// Snapshot renders the deterministic part of a result as canonical JSON:
// suite name, verdict, terminal phase, the injection order with outcomes,
// and the attributed evidence. Run IDs, paths and times are left out.
func Snapshot(res *Result) ([]byte, error) {
	injections := make([]any, len(res.Injections))
	for i, rec := range res.Injections {
		injections[i] = map[string]any{
			"artifact": rec.Artifact.Name,
			"outcome":  string(rec.Outcome),
		}
	}

	evidence := make([]any, len(res.Evidence))
	for i, ev := range res.Evidence {
		evidence[i] = map[string]any{
			"line":   ev.Line,
			"source": ev.Source,
			"text":   ev.Text,
		}
	}

	data, err := canonical.Marshal(map[string]any{
		"suite":      res.Suite,
		"pass":       res.Pass,
		"phase":      string(res.Phase),
		"injections": injections,
		"evidence":   evidence,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return data, nil
}

// SnapshotDigest identifies a snapshot.
func SnapshotDigest(snapshot []byte) string {
	return canonical.Digest(canonical.DomainSnapshot, snapshot)
}

// RunWithGolden runs a suite and compares its snapshot against
// testdata/golden/{suite.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, h *Harness, suite *Suite) (*Result, error) {
	t.Helper()

	res, err := h.Run(t.Context(), suite)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, suite.Name, res); err != nil {
		return res, err
	}
	return res, nil
}

// AssertGolden compares an existing result's snapshot against a golden
// file without re-running the suite.
func AssertGolden(t *testing.T, name string, res *Result) error {
	t.Helper()

	data, err := Snapshot(res)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}

// GoldenPath is where the CLI keeps a suite's snapshot.
func GoldenPath(suite *Suite) string {
	return filepath.Join(suite.Dir, suite.Name+".golden")
}

// CompareGolden checks res against the golden file at path. With update
// set, the file is (re)written instead. A missing golden file yields an
// error wrapping os.ErrNotExist.
func CompareGolden(path string, res *Result, update bool) error {
	data, err := Snapshot(res)
	if err != nil {
		return err
	}
	if update {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write golden file: %w", err)
		}
		return nil
	}

	want, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read golden file: %w", err)
	}
	if !bytes.Equal(bytes.TrimSpace(want), data) {
		return fmt.Errorf("%w: %s (got digest %s, want %s)",
			ErrGoldenMismatch, path, SnapshotDigest(data), SnapshotDigest(bytes.TrimSpace(want)))
	}
	return nil
}
