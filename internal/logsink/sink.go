// Package logsink owns the durable log file an engine session writes into.
//
// A Sink accepts the engine's stdout and stderr as two line-buffered
// streams and appends whole lines to a single plain-text file, so output
// from the two streams interleaves at line granularity only. While a sink
// is open a sidecar marker file "<path>.open" exists; it is removed when
// the sink closes. Readers in other goroutines or processes use IsOpen to
// refuse validating a log that is still being written.
//
// The marker holds the owning process ID. A marker whose owner is no
// longer running is stale: IsOpen ignores it and Open replaces it.
package logsink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// MarkerSuffix is appended to the sink path to form the open marker.
const MarkerSuffix = ".open"

var (
	// ErrBusy is returned when another live sink holds the marker.
	ErrBusy = errors.New("logsink: sink is held open by another run")

	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("logsink: sink closed")
)

// Stream identifies one of the engine's output streams.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Checkpoint is a position in the sink: committed bytes and whole lines.
type Checkpoint struct {
	Offset int64 `json:"offset"`
	Lines  int64 `json:"lines"`
}

// Sink is an append-only log file fed by the engine's output streams.
type Sink struct {
	path string

	mu       sync.Mutex
	f        *os.File
	closed   bool
	pos      Checkpoint
	partial  [2][]byte
	absorbed [2]int64
	changed  chan struct{}
}

// MarkerPath returns the open-marker path for a sink at path.
func MarkerPath(path string) string {
	return path + MarkerSuffix
}

// IsOpen reports whether a sink at path is currently held open by a live
// process.
func IsOpen(path string) bool {
	return !markerStale(MarkerPath(path))
}

// markerStale reports whether the marker is absent or names a process that
// has exited. A marker without a readable PID counts as live: its owner may
// not have written it yet.
func markerStale(marker string) bool {
	data, err := os.ReadFile(marker)
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	return pid != os.Getpid() && !processAlive(pid)
}

// Open creates the sink's parent directory and marker, then creates or
// truncates the log file. A stale marker is replaced. Returns ErrBusy if a
// live process holds the marker.
func Open(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logsink: create directory: %w", err)
	}

	if err := createMarker(MarkerPath(path)); err != nil {
		if errors.Is(err, ErrBusy) {
			return nil, fmt.Errorf("%w: %s", ErrBusy, path)
		}
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = os.Remove(MarkerPath(path))
		return nil, fmt.Errorf("logsink: open %s: %w", path, err)
	}

	return &Sink{
		path:    path,
		f:       f,
		changed: make(chan struct{}),
	}, nil
}

// createMarker exclusively creates the marker holding this process's PID.
// A stale marker is removed and creation retried once.
func createMarker(marker string) error {
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(marker)
				return fmt.Errorf("logsink: write marker: %w", werr)
			}
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("logsink: create marker: %w", err)
		}
		if attempt > 0 || !markerStale(marker) {
			return ErrBusy
		}
		if err := os.Remove(marker); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("logsink: remove stale marker: %w", err)
		}
	}
}

// Path returns the log file path.
func (s *Sink) Path() string {
	return s.path
}

// Writer returns an io.Writer feeding the given stream.
func (s *Sink) Writer(stream Stream) io.Writer {
	return &streamWriter{sink: s, stream: stream}
}

// Checkpoint returns the current committed position.
func (s *Sink) Checkpoint() Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Absorbed returns the number of bytes accepted from a stream, including
// bytes of a trailing partial line not yet committed.
func (s *Sink) Absorbed(stream Stream) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.absorbed[stream]
}

// WaitAbsorbed blocks until at least stdout and stderr bytes have been
// accepted from the respective streams, or ctx is done. On success any
// trailing partial line is committed as a whole line, so the following
// Checkpoint covers every absorbed byte. Output that later continues such
// a line starts a new one.
func (s *Sink) WaitAbsorbed(ctx context.Context, stdout, stderr int64) error {
	for {
		s.mu.Lock()
		if s.absorbed[Stdout] >= stdout && s.absorbed[Stderr] >= stderr {
			err := s.commitPartials()
			s.mu.Unlock()
			return err
		}
		if s.closed {
			got := s.absorbed
			s.mu.Unlock()
			return fmt.Errorf("%w: absorbed stdout=%d stderr=%d, want %d/%d",
				ErrClosed, got[Stdout], got[Stderr], stdout, stderr)
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sink) write(stream Stream, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	buf := append(s.partial[stream], p...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		if err := s.commit(buf[:i+1]); err != nil {
			s.partial[stream] = nil
			return 0, err
		}
		buf = buf[i+1:]
	}
	s.partial[stream] = append([]byte(nil), buf...)
	s.absorbed[stream] += int64(len(p))
	s.notify()
	return len(p), nil
}

// commit appends one complete line. Caller holds mu.
func (s *Sink) commit(line []byte) error {
	n, err := s.f.Write(line)
	s.pos.Offset += int64(n)
	if err != nil {
		return fmt.Errorf("logsink: write: %w", err)
	}
	s.pos.Lines++
	return nil
}

// commitPartials terminates and commits each stream's pending partial
// line. Caller holds mu.
func (s *Sink) commitPartials() error {
	var errs []error
	for i, rest := range s.partial {
		if len(rest) > 0 {
			errs = append(errs, s.commit(append(rest, '\n')))
			s.partial[i] = nil
		}
	}
	return errors.Join(errs...)
}

// notify wakes WaitAbsorbed callers. Caller holds mu.
func (s *Sink) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Close commits any trailing partial lines, syncs and closes the file and
// removes the open marker. Safe to call multiple times.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	errs := []error{s.commitPartials(), s.f.Sync(), s.f.Close()}
	if err := os.Remove(MarkerPath(s.path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("logsink: remove marker: %w", err))
	}
	s.closed = true
	s.notify()
	return errors.Join(errs...)
}

type streamWriter struct {
	sink   *Sink
	stream Stream
}

func (w *streamWriter) Write(p []byte) (int, error) {
	return w.sink.write(w.stream, p)
}
