package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/corrharness/internal/engine"
	"github.com/roach88/corrharness/internal/logsink"
	"github.com/roach88/corrharness/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newController(t *testing.T, mode string, tweak ...func(*Config)) *Controller {
	t.Helper()
	cfg := Config{
		Command:         testutil.MockEngine(t, mode),
		StartTimeout:    5 * time.Second,
		BarrierTimeout:  5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		KillGrace:       500 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
	}
	for _, f := range tweak {
		f(&cfg)
	}
	c, err := NewController(cfg)
	require.NoError(t, err)
	return c
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNewControllerRequiresCommand(t *testing.T) {
	_, err := NewController(Config{})
	require.Error(t, err)

	_, err = NewController(Config{Command: []string{""}})
	require.Error(t, err)
}

func TestNewControllerDefaults(t *testing.T) {
	c, err := NewController(Config{Command: []string{"engine"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultStartTimeout, c.cfg.StartTimeout)
	assert.Equal(t, DefaultBarrierTimeout, c.cfg.BarrierTimeout)
	assert.Equal(t, DefaultShutdownTimeout, c.cfg.ShutdownTimeout)
	assert.Equal(t, DefaultKillGrace, c.cfg.KillGrace)
	assert.Equal(t, DefaultPollInterval, c.cfg.PollInterval)
	assert.NotNil(t, c.logger)
}

func TestStartAndShutdown(t *testing.T) {
	c := newController(t, testutil.ModeNormal)
	logPath := filepath.Join(t.TempDir(), "correlator.log")

	s, err := c.Start(context.Background(), "correlator", logPath)
	require.NoError(t, err)

	assert.Equal(t, "correlator", s.Name())
	assert.Equal(t, logPath, s.SinkPath())
	assert.Equal(t, StateRunning, s.State())
	assert.True(t, s.Alive())
	assert.True(t, logsink.IsOpen(logPath), "sink marker present while running")
	select {
	case <-s.Ready():
	default:
		t.Fatal("ready channel not closed after Start")
	}

	require.NoError(t, c.Shutdown(context.Background(), s))
	assert.Equal(t, StateTerminated, s.State())
	assert.False(t, s.Alive())
	assert.False(t, logsink.IsOpen(logPath), "sink marker removed after shutdown")
	assert.NoError(t, s.ExitErr())

	log := readLog(t, logPath)
	assert.Contains(t, log, "[correlator] Correlator starting on port")
	assert.Contains(t, log, "Shutdown requested")
	assert.Contains(t, log, "Correlator stopped")
}

func TestShutdownIdempotent(t *testing.T) {
	c := newController(t, testutil.ModeNormal)
	s, err := c.Start(context.Background(), "engine", filepath.Join(t.TempDir(), "e.log"))
	require.NoError(t, err)

	require.NoError(t, c.Shutdown(context.Background(), s))
	assert.NoError(t, c.Shutdown(context.Background(), s))
	assert.NoError(t, c.Shutdown(context.Background(), nil))
}

func TestStartRequiresName(t *testing.T) {
	c := newController(t, testutil.ModeNormal)
	_, err := c.Start(context.Background(), "", filepath.Join(t.TempDir(), "e.log"))
	require.Error(t, err)
	assert.True(t, IsStartupError(err))
}

func TestStartNeverReady(t *testing.T) {
	c := newController(t, testutil.ModeNeverReady, func(cfg *Config) {
		cfg.StartTimeout = 300 * time.Millisecond
	})
	logPath := filepath.Join(t.TempDir(), "e.log")

	_, err := c.Start(context.Background(), "engine", logPath)
	require.Error(t, err)
	assert.True(t, IsStartupError(err))
	assert.True(t, errors.Is(err, ErrStartTimeout), "got %v", err)

	assert.False(t, logsink.IsOpen(logPath), "sink released after failed start")
	assert.Contains(t, readLog(t, logPath), "never listening")
}

func TestStartCrashes(t *testing.T) {
	c := newController(t, testutil.ModeCrashOnStart)
	logPath := filepath.Join(t.TempDir(), "e.log")

	_, err := c.Start(context.Background(), "engine", logPath)
	require.Error(t, err)
	assert.True(t, IsStartupError(err))
	assert.True(t, errors.Is(err, ErrExitedBeforeReady), "got %v", err)
	assert.Contains(t, readLog(t, logPath), "Fatal: cannot initialise engine")
}

func TestStartMissingBinary(t *testing.T) {
	c, err := NewController(Config{Command: []string{filepath.Join(t.TempDir(), "no-such-engine")}})
	require.NoError(t, err)

	logPath := filepath.Join(t.TempDir(), "e.log")
	_, err = c.Start(context.Background(), "engine", logPath)
	require.Error(t, err)

	var se *StartupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "launch engine", se.Reason)
	assert.False(t, logsink.IsOpen(logPath))
}

func TestStartSinkBusy(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "e.log")
	other, err := logsink.Open(logPath)
	require.NoError(t, err)
	defer other.Close()

	c := newController(t, testutil.ModeNormal)
	_, err = c.Start(context.Background(), "engine", logPath)
	require.Error(t, err)
	assert.True(t, IsStartupError(err))
	assert.ErrorIs(t, err, logsink.ErrBusy)
}

func TestSubmitAndBarrier(t *testing.T) {
	c := newController(t, testutil.ModeNormal)
	logPath := filepath.Join(t.TempDir(), "e.log")
	s, err := c.Start(context.Background(), "correlator", logPath)
	require.NoError(t, err)
	defer c.Shutdown(context.Background(), s)

	ctx := context.Background()
	before := s.Checkpoint()

	// The sleep makes processing outlast submission; only the barrier
	// guarantees the trailing line is in the sink.
	require.NoError(t, s.Submit(ctx, "slow.mon", []byte("sleep 100\nlog INFO slow done\nelog WARN on stderr")))
	cp, err := s.Barrier(ctx)
	require.NoError(t, err)
	assert.Greater(t, cp.Offset, before.Offset)
	assert.Greater(t, cp.Lines, before.Lines)

	log := readLog(t, logPath)
	assert.Contains(t, log, "Injected slow.mon")
	assert.Contains(t, log, "slow done")
	assert.Contains(t, log, "on stderr")
	assert.Equal(t, int64(len(log)), cp.Offset)
}

func TestBarrierIsStable(t *testing.T) {
	c := newController(t, testutil.ModeNormal)
	s, err := c.Start(context.Background(), "engine", filepath.Join(t.TempDir(), "e.log"))
	require.NoError(t, err)
	defer c.Shutdown(context.Background(), s)

	ctx := context.Background()
	require.NoError(t, s.Submit(ctx, "a.mon", []byte("log INFO a")))
	first, err := s.Barrier(ctx)
	require.NoError(t, err)
	second, err := s.Barrier(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second, "no output between barriers")
}

func TestSubmitRejected(t *testing.T) {
	c := newController(t, testutil.ModeNormal)
	s, err := c.Start(context.Background(), "engine", filepath.Join(t.TempDir(), "e.log"))
	require.NoError(t, err)
	defer c.Shutdown(context.Background(), s)

	err = s.Submit(context.Background(), "bad.mon", []byte("reject syntax error"))
	require.Error(t, err)
	assert.True(t, engine.IsRejection(err))
	assert.True(t, s.Alive(), "rejection does not end the session")

	_, err = s.Barrier(context.Background())
	assert.NoError(t, err)
}

func TestEngineCrashDuringProcessing(t *testing.T) {
	c := newController(t, testutil.ModeNormal)
	logPath := filepath.Join(t.TempDir(), "e.log")
	s, err := c.Start(context.Background(), "engine", logPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Submit(ctx, "boom.mon", []byte("crash")))
	_, err = s.Barrier(ctx)
	require.Error(t, err)

	<-s.Done()
	assert.False(t, s.Alive())
	assert.Error(t, s.ExitErr())

	err = s.Submit(ctx, "next.mon", []byte("log INFO never"))
	assert.ErrorIs(t, err, ErrNotRunning)

	err = c.Shutdown(ctx, s)
	require.Error(t, err)
	var se *ShutdownError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Forced)
	assert.ErrorIs(t, err, ErrUnexpectedExit)
	assert.Equal(t, StateTerminated, s.State())
	assert.Contains(t, readLog(t, logPath), "Crashing while processing boom.mon")
}

func TestShutdownForced(t *testing.T) {
	c := newController(t, testutil.ModeIgnoreShutdown, func(cfg *Config) {
		cfg.ShutdownTimeout = 300 * time.Millisecond
		cfg.KillGrace = 200 * time.Millisecond
	})
	logPath := filepath.Join(t.TempDir(), "e.log")
	s, err := c.Start(context.Background(), "engine", logPath)
	require.NoError(t, err)

	start := time.Now()
	err = c.Shutdown(context.Background(), s)
	require.Error(t, err)
	assert.True(t, IsShutdownError(err))
	var se *ShutdownError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Forced)
	assert.ErrorIs(t, err, ErrShutdownTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, StateTerminated, s.State())
	assert.False(t, logsink.IsOpen(logPath))
	assert.Contains(t, readLog(t, logPath), "Shutdown requested")
}

func TestOperationsAfterShutdown(t *testing.T) {
	c := newController(t, testutil.ModeNormal)
	s, err := c.Start(context.Background(), "engine", filepath.Join(t.TempDir(), "e.log"))
	require.NoError(t, err)
	require.NoError(t, c.Shutdown(context.Background(), s))

	assert.ErrorIs(t, s.Submit(context.Background(), "a.mon", nil), ErrNotRunning)
	_, err = s.Barrier(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestEnginePlaceholdersAndEnv(t *testing.T) {
	got := expandCommand(
		[]string{"engine", "-n", "{name}", "--listen={addr}", "{port}"},
		commandVars("corr", 9),
	)
	assert.Equal(t, []string{"engine", "-n", "corr", "--listen=127.0.0.1:9", "9"}, got)

	assert.Equal(t, []string{
		"CORRHARNESS_SESSION=corr",
		"CORRHARNESS_CONTROL_ADDR=127.0.0.1:9",
	}, sessionEnv("corr", "127.0.0.1:9"))
}

func TestEngineNeverLearnsSinkPath(t *testing.T) {
	vars := commandVars("corr", 9)
	assert.NotContains(t, vars, "log")

	// An unknown placeholder is passed through literally, so a command
	// template asking for the sink path cannot open a second writer on it.
	got := expandCommand([]string{"engine", "--logfile", "{log}"}, vars)
	assert.Equal(t, []string{"engine", "--logfile", "{log}"}, got)

	for _, kv := range sessionEnv("corr", "127.0.0.1:9") {
		assert.NotContains(t, kv, ".log")
	}
}

func TestFreePort(t *testing.T) {
	port, err := freePort()
	require.NoError(t, err)
	assert.Positive(t, port)
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{
		StateCreated:    "created",
		StateRunning:    "running",
		StateTerminated: "terminated",
	} {
		assert.Equal(t, want, st.String())
	}
	assert.Equal(t, "unknown", State(42).String())
}

func TestStartupOutputInSinkWhenReady(t *testing.T) {
	c := newController(t, testutil.ModeStartupError)
	logPath := filepath.Join(t.TempDir(), "e.log")
	s, err := c.Start(context.Background(), "engine", logPath)
	require.NoError(t, err)
	defer c.Shutdown(context.Background(), s)

	cp := s.Checkpoint()
	assert.Equal(t, int64(2), cp.Lines)
	assert.Contains(t, readLog(t, logPath), "License file not found")
}
