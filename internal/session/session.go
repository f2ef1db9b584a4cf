package session

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/corrharness/internal/engine"
	"github.com/roach88/corrharness/internal/logsink"
)

// Session is one running engine instance. Callers hold it as an explicit
// handle; nothing about it is process-global.
type Session struct {
	name     string
	sinkPath string
	addr     string

	state atomic.Int32

	cmd    *exec.Cmd
	sink   *logsink.Sink
	client *engine.Client

	barrierTimeout time.Duration

	ready   chan struct{}
	done    chan struct{}
	waitErr error // written before done is closed

	opMu     sync.Mutex // serializes Submit and Barrier
	shutdown atomic.Bool
}

// Name returns the session identity the engine was started with.
func (s *Session) Name() string { return s.name }

// SinkPath returns the log sink path.
func (s *Session) SinkPath() string { return s.sinkPath }

// Addr returns the engine's control address.
func (s *Session) Addr() string { return s.addr }

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Ready is closed once the engine has answered its readiness probe.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Done is closed once the engine process has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// ExitErr returns the process exit error, or nil while it is running or
// if it exited cleanly.
func (s *Session) ExitErr() error {
	select {
	case <-s.done:
		return s.waitErr
	default:
		return nil
	}
}

// Alive reports whether the session is Running and its process has not
// exited.
func (s *Session) Alive() bool {
	if s.State() != StateRunning {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Checkpoint returns the sink position at this moment.
func (s *Session) Checkpoint() logsink.Checkpoint {
	return s.sink.Checkpoint()
}

// Submit sends one artifact's content to the engine. It returns once the
// engine has accepted or rejected it; processing may still be in progress.
func (s *Session) Submit(ctx context.Context, name string, content []byte) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.checkAlive(); err != nil {
		return err
	}
	return s.client.Inject(ctx, name, content)
}

// Barrier blocks until the engine has processed everything submitted so
// far and the sink has absorbed all output the engine produced up to that
// point. It returns the sink position afterwards, bounded by the
// controller's barrier timeout.
func (s *Session) Barrier(ctx context.Context) (logsink.Checkpoint, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.checkAlive(); err != nil {
		return logsink.Checkpoint{}, err
	}

	if s.barrierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.barrierTimeout)
		defer cancel()
	}

	res, err := s.client.Flush(ctx)
	if err != nil {
		return logsink.Checkpoint{}, fmt.Errorf("flush: %w", err)
	}
	if err := s.sink.WaitAbsorbed(ctx, res.StdoutBytes, res.StderrBytes); err != nil {
		return logsink.Checkpoint{}, fmt.Errorf("wait for log output: %w", err)
	}
	return s.sink.Checkpoint(), nil
}

func (s *Session) checkAlive() error {
	if st := s.State(); st != StateRunning {
		return fmt.Errorf("%w: state %s", ErrNotRunning, st)
	}
	select {
	case <-s.done:
		return fmt.Errorf("%w: engine exited: %v", ErrNotRunning, s.waitErr)
	default:
		return nil
	}
}

// wait reaps the process. Run once in its own goroutine after Start.
func (s *Session) wait() {
	s.waitErr = s.cmd.Wait()
	close(s.done)
}
