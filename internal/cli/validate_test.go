package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/corrharness/internal/logsink"
	"github.com/roach88/corrharness/internal/validate"
)

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestValidateCleanLog(t *testing.T) {
	path := writeLog(t,
		"1 INFO [correlator] Correlator starting on port 15903",
		"2 INFO [correlator] Injected a.mon",
		"3 INFO [correlator] Correlator stopped",
	)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), "--settle", "0", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "3 lines scanned")
}

func TestValidateReportsEvidence(t *testing.T) {
	path := writeLog(t,
		"1 INFO [correlator] Injected b.mon",
		"2 ERROR [correlator] b.mon - divide by zero",
		"3 INFO [correlator] ERRORS are counted here but do not match",
		"4 ERROR [correlator] b.mon - second failure",
	)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), "--settle", "0", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "2 line(s) match")
	assert.Contains(t, out, "line 2: 2 ERROR [correlator] b.mon - divide by zero")
	assert.Contains(t, out, "line 4:")
	assert.NotContains(t, out, "line 3:")
}

func TestValidatePattern(t *testing.T) {
	path := writeLog(t,
		"1 INFO [correlator] ok",
		"2 FATAL [correlator] out of memory",
	)

	_, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), "--settle", "0", path)
	require.NoError(t, err, "default signature does not match FATAL")

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}),
		"--settle", "0", "--pattern", `\b(ERROR|FATAL)\b`, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "out of memory")
}

func TestValidateInvalidPattern(t *testing.T) {
	path := writeLog(t, "1 INFO ok")

	_, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), "--pattern", "(", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid signature")
}

func TestValidateMissingLog(t *testing.T) {
	_, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), filepath.Join(t.TempDir(), "nope.log"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, validate.IsPreconditionError(err))
}

func TestValidateRefusesOpenLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	sink, err := logsink.Open(path)
	require.NoError(t, err)
	defer sink.Close()

	out, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), "--settle", "0", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodePrecondition, resp.Error.Code)
}

func TestValidateJSONOutput(t *testing.T) {
	path := writeLog(t, "1 ERROR [correlator] boom")

	out, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), "--settle", "0", path)
	require.Error(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   validate.Result `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Passed)
	require.Len(t, resp.Data.Evidence, 1)
	assert.Equal(t, 1, resp.Data.Evidence[0].Number)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeEvidence, resp.Error.Code)
}

func TestValidateDefaultFlags(t *testing.T) {
	cmd := NewValidateCommand(&RootOptions{Format: "text"})

	sig := cmd.Flags().Lookup("signature")
	require.NotNil(t, sig)
	assert.Equal(t, validate.DefaultSubstring, sig.DefValue)

	settle := cmd.Flags().Lookup("settle")
	require.NotNil(t, settle)
	assert.Equal(t, validate.DefaultSettle.String(), settle.DefValue)
}
