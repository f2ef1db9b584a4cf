package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/corrharness/internal/engine"
	"github.com/roach88/corrharness/internal/logsink"
)

// Default timeouts, used when the corresponding Config field is zero.
const (
	DefaultStartTimeout    = 30 * time.Second
	DefaultBarrierTimeout  = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultKillGrace       = 5 * time.Second
	DefaultPollInterval    = 50 * time.Millisecond
)

// Environment variables set for every engine process.
const (
	EnvSessionName = "CORRHARNESS_SESSION"
	EnvControlAddr = "CORRHARNESS_CONTROL_ADDR"
)

// Config configures a Controller.
type Config struct {
	// Command is the engine argv. The placeholders {name}, {port} and
	// {addr} are replaced in every element. The sink path is never handed
	// to the engine: the sink must stay its only writer.
	Command []string

	// Dir is the engine's working directory; empty means the current one.
	Dir string

	// Env holds extra KEY=VALUE entries appended to the inherited environment.
	Env []string

	StartTimeout    time.Duration
	BarrierTimeout  time.Duration
	ShutdownTimeout time.Duration

	// KillGrace is how long SIGTERM gets before SIGKILL when shutdown is
	// forced. It also bounds how long output copying may outlive the process.
	KillGrace time.Duration

	// PollInterval is the delay between readiness probes.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Controller starts and stops engine sessions.
type Controller struct {
	cfg    Config
	logger *slog.Logger
}

// NewController validates cfg and fills in defaults.
func NewController(cfg Config) (*Controller, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, errors.New("session: engine command is required")
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.BarrierTimeout <= 0 {
		cfg.BarrierTimeout = DefaultBarrierTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{cfg: cfg, logger: logger}, nil
}

// Start launches the engine under the given identity with all of its
// output redirected into sinkPath, and waits for it to become ready.
// When Start returns, everything the engine logged while starting is
// already in the sink.
//
// On failure the process is killed and the sink closed before a
// *StartupError is returned; the log written so far stays on disk.
func (c *Controller) Start(ctx context.Context, name, sinkPath string) (*Session, error) {
	if name == "" {
		return nil, &StartupError{Name: name, Reason: "session name is required"}
	}

	sink, err := logsink.Open(sinkPath)
	if err != nil {
		return nil, &StartupError{Name: name, Reason: "open log sink", Err: err}
	}

	port, err := freePort()
	if err != nil {
		_ = sink.Close()
		return nil, &StartupError{Name: name, Reason: "allocate control port", Err: err}
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	argv := expandCommand(c.cfg.Command, commandVars(name, port))
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = c.cfg.Dir
	cmd.Env = append(os.Environ(), c.cfg.Env...)
	cmd.Env = append(cmd.Env, sessionEnv(name, addr)...)
	cmd.Stdout = sink.Writer(logsink.Stdout)
	cmd.Stderr = sink.Writer(logsink.Stderr)
	cmd.WaitDelay = c.cfg.KillGrace

	s := &Session{
		name:           name,
		sinkPath:       sinkPath,
		addr:           addr,
		cmd:            cmd,
		sink:           sink,
		barrierTimeout: c.cfg.BarrierTimeout,
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
	}
	s.setState(StateCreated)

	if err := cmd.Start(); err != nil {
		_ = sink.Close()
		s.setState(StateTerminated)
		return nil, &StartupError{Name: name, Reason: "launch engine", Err: err}
	}
	go s.wait()

	c.logger.Info("engine launched",
		"session", name,
		"pid", cmd.Process.Pid,
		"addr", addr,
		"log", sinkPath,
	)

	if err := c.awaitReady(ctx, s); err != nil {
		c.abort(s)
		return nil, &StartupError{Name: name, Reason: "wait for readiness", Err: err}
	}

	s.setState(StateRunning)
	close(s.ready)
	c.logger.Info("engine ready", "session", name)
	return s, nil
}

// awaitReady probes the control port until the engine answers a ping,
// the process exits, or the start timeout elapses.
func (c *Controller) awaitReady(ctx context.Context, s *Session) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StartTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		client, err := c.probe(ctx, s.addr)
		if err == nil {
			s.client = client
			return c.drainStartup(ctx, s)
		}
		lastErr = err

		select {
		case <-s.done:
			return fmt.Errorf("%w: %v", ErrExitedBeforeReady, s.waitErr)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w (%s): last probe: %v", ErrStartTimeout, c.cfg.StartTimeout, lastErr)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Controller) probe(ctx context.Context, addr string) (*engine.Client, error) {
	client, err := engine.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	res, err := client.Ping(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	c.logger.Debug("engine answered ping", "addr", addr, "engine", res.Name, "version", res.Version)
	return client, nil
}

// drainStartup waits until everything the engine wrote while starting is
// in the sink, so the first checkpoint separates startup output from
// artifact output.
func (c *Controller) drainStartup(ctx context.Context, s *Session) error {
	res, err := s.client.Flush(ctx)
	if err != nil {
		return fmt.Errorf("flush after ready: %w", err)
	}
	if err := s.sink.WaitAbsorbed(ctx, res.StdoutBytes, res.StderrBytes); err != nil {
		return fmt.Errorf("wait for startup output: %w", err)
	}
	return nil
}

// abort kills a session that never became ready and releases everything.
func (c *Controller) abort(s *Session) {
	if s.client != nil {
		_ = s.client.Close()
	}
	_ = signalProcess(s.cmd.Process, os.Kill)
	<-s.done
	if err := s.sink.Close(); err != nil {
		c.logger.Warn("closing log sink after failed start", "session", s.name, "error", err)
	}
	s.setState(StateTerminated)
	s.shutdown.Store(true)
}

// Shutdown requests graceful termination and waits for the engine to exit.
// If it does not exit within the shutdown timeout it is sent SIGTERM and,
// after the kill grace period, SIGKILL; a *ShutdownError with Forced set is
// returned. Either way the sink is closed and the session is Terminated
// when Shutdown returns.
//
// Shutdown is idempotent and safe in any state: calls after the first, and
// calls on sessions whose engine already died, do not block.
func (c *Controller) Shutdown(ctx context.Context, s *Session) error {
	if s == nil || !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	deadline := time.Now().Add(c.cfg.ShutdownTimeout)
	exitedEarly := false
	select {
	case <-s.done:
		exitedEarly = true
	default:
	}

	if !exitedEarly && s.client != nil {
		rpcCtx, cancel := context.WithDeadline(ctx, deadline)
		if err := s.client.Shutdown(rpcCtx); err != nil {
			c.logger.Warn("shutdown request failed", "session", s.name, "error", err)
		}
		cancel()
	}
	if s.client != nil {
		_ = s.client.Close()
	}

	forced := false
	if !exitedEarly {
		forced = !c.waitExit(ctx, s, deadline)
	}

	if err := s.sink.Close(); err != nil {
		s.setState(StateTerminated)
		return &ShutdownError{Name: s.name, Forced: forced, Err: fmt.Errorf("close log sink: %w", err)}
	}
	s.setState(StateTerminated)

	switch {
	case forced:
		return &ShutdownError{Name: s.name, Forced: true, Err: ErrShutdownTimeout}
	case exitedEarly:
		return &ShutdownError{Name: s.name, Err: fmt.Errorf("%w: %v", ErrUnexpectedExit, s.waitErr)}
	}

	if s.waitErr != nil {
		c.logger.Warn("engine exited with error after shutdown", "session", s.name, "error", s.waitErr)
	}
	c.logger.Info("engine stopped", "session", s.name)
	return nil
}

// waitExit waits for the process until deadline, then escalates
// SIGTERM → grace → SIGKILL. Returns true if the process exited on its own.
func (c *Controller) waitExit(ctx context.Context, s *Session, deadline time.Time) bool {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-s.done:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}

	c.logger.Warn("engine did not exit, terminating", "session", s.name)
	_ = terminateProcess(s.cmd.Process)

	grace := time.NewTimer(c.cfg.KillGrace)
	defer grace.Stop()
	select {
	case <-s.done:
	case <-grace.C:
		c.logger.Warn("engine ignored termination, killing", "session", s.name)
		_ = signalProcess(s.cmd.Process, os.Kill)
		<-s.done
	}
	return false
}

// commandVars returns the placeholder values for the engine argv.
func commandVars(name string, port int) map[string]string {
	return map[string]string{
		"name": name,
		"port": strconv.Itoa(port),
		"addr": net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
	}
}

// sessionEnv returns the variables identifying the session to the engine.
func sessionEnv(name, addr string) []string {
	return []string{
		EnvSessionName + "=" + name,
		EnvControlAddr + "=" + addr,
	}
}

// expandCommand replaces {key} placeholders in every argument.
func expandCommand(argv []string, vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = r.Replace(arg)
	}
	return out
}

// freePort asks the kernel for an unused loopback port.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func signalProcess(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
