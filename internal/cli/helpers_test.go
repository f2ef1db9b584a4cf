package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/corrharness/internal/harness"
	"github.com/roach88/corrharness/internal/testutil"
)

// writeSuite creates root/name/suite.yaml driving the mock engine in mode,
// with artifacts written beside it. It returns the suite file path.
func writeSuite(t *testing.T, root, name, mode string, artifacts map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	testutil.WriteArtifacts(t, dir, artifacts)

	suite := harness.Suite{
		Name: name,
		Engine: harness.EngineSpec{
			Command: testutil.MockEngine(t, mode),
			Name:    "correlator",
		},
		Timeouts: harness.TimeoutsSpec{
			Start:     "5s",
			Barrier:   "5s",
			Shutdown:  "5s",
			KillGrace: "500ms",
		},
	}
	data, err := yaml.Marshal(suite)
	require.NoError(t, err)

	path := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
