// Command mock-engine is a stand-in for an event-processing engine. It
// speaks the harness control protocol and executes a tiny line-oriented
// artifact language:
//
//	log LEVEL text     write "<n> LEVEL [name] text" to stdout
//	elog LEVEL text    same, to stderr
//	sleep MS           delay processing, so injection outruns processing
//	reject reason      refuse the artifact at submission time
//	crash              exit with status 2 while processing
//
// Any other line is accepted and ignored. Behavior outside of artifacts is
// selected with --mode.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/roach88/corrharness/internal/engine"
)

// Modes.
const (
	modeNormal         = "normal"
	modeNeverReady     = "never-ready"
	modeCrashOnStart   = "crash-on-start"
	modeIgnoreShutdown = "ignore-shutdown"
	modeStartupError   = "startup-error"
	modeNoisyShutdown  = "noisy-shutdown"
)

type countingWriter struct {
	mu sync.Mutex
	w  io.Writer
	n  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type job struct {
	name  string
	lines []string
}

type mockEngine struct {
	name   string
	stdout *countingWriter
	stderr *countingWriter

	mu        sync.Mutex
	seq       int
	submitted int64
	processed int64
	idle      *sync.Cond

	jobs chan job
}

func main() {
	name := flag.String("name", "engine", "session name")
	port := flag.Int("port", 0, "control port")
	mode := flag.String("mode", modeNormal, "behavior mode")
	flag.Parse()

	e := &mockEngine{
		name:   *name,
		stdout: &countingWriter{w: os.Stdout},
		stderr: &countingWriter{w: os.Stderr},
		jobs:   make(chan job, 64),
	}
	e.idle = sync.NewCond(&e.mu)

	switch *mode {
	case modeCrashOnStart:
		e.logf(e.stderr, "ERROR", "Fatal: cannot initialise engine")
		os.Exit(3)
	case modeNeverReady:
		e.logf(e.stdout, "INFO", "Starting, but never listening")
		select {}
	case modeIgnoreShutdown:
		signal.Ignore(syscall.SIGTERM)
	}

	e.logf(e.stdout, "INFO", fmt.Sprintf("Correlator starting on port %d", *port))
	if *mode == modeStartupError {
		e.logf(e.stdout, "ERROR", "License file not found")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(*port)))
	if err != nil {
		e.logf(e.stderr, "ERROR", "listen: "+err.Error())
		os.Exit(1)
	}

	go e.process()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutdown := make(chan struct{})
	var shutdownOnce sync.Once

	srv := engine.NewServer()
	srv.Handle(engine.MethodPing, func(context.Context, json.RawMessage) (any, error) {
		return engine.PingResult{Name: e.name, Version: "mock-1"}, nil
	})
	srv.Handle(engine.MethodInject, e.handleInject)
	srv.Handle(engine.MethodFlush, e.handleFlush)
	srv.Handle(engine.MethodShutdown, func(context.Context, json.RawMessage) (any, error) {
		e.logf(e.stdout, "INFO", "Shutdown requested")
		if *mode == modeNoisyShutdown {
			e.logf(e.stdout, "ERROR", "Listener leaked during shutdown")
		}
		if *mode != modeIgnoreShutdown {
			shutdownOnce.Do(func() { close(shutdown) })
		}
		return struct{}{}, nil
	})

	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = srv.Serve(ctx, ln)
	}()

	<-shutdown
	// Let the shutdown response reach the harness before the listener goes.
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-served
	e.logf(e.stdout, "INFO", "Correlator stopped")
	os.Exit(0)
}

func (e *mockEngine) logf(w io.Writer, level, text string) {
	e.mu.Lock()
	e.seq++
	n := e.seq
	e.mu.Unlock()
	fmt.Fprintf(w, "%d %s [%s] %s\n", n, level, e.name, text)
}

func (e *mockEngine) handleInject(_ context.Context, params json.RawMessage) (any, error) {
	var p engine.InjectParams
	if err := engine.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	lines := strings.Split(p.Content, "\n")
	for _, line := range lines {
		if reason, ok := strings.CutPrefix(strings.TrimSpace(line), "reject"); ok {
			e.logf(e.stdout, "WARN", fmt.Sprintf("Rejected %s:%s", p.Name, reason))
			return nil, errors.New("malformed artifact " + p.Name + ":" + reason)
		}
	}
	e.logf(e.stdout, "INFO", "Injected "+p.Name)

	e.mu.Lock()
	e.submitted++
	e.mu.Unlock()
	e.jobs <- job{name: p.Name, lines: lines}
	return struct{}{}, nil
}

func (e *mockEngine) handleFlush(context.Context, json.RawMessage) (any, error) {
	e.mu.Lock()
	for e.processed < e.submitted {
		e.idle.Wait()
	}
	processed := e.processed
	e.mu.Unlock()

	return engine.FlushResult{
		Processed:   processed,
		StdoutBytes: e.stdout.count(),
		StderrBytes: e.stderr.count(),
	}, nil
}

// process runs artifacts one at a time, asynchronously to submission.
func (e *mockEngine) process() {
	for j := range e.jobs {
		for _, raw := range j.lines {
			line := strings.TrimSpace(raw)
			verb, rest, _ := strings.Cut(line, " ")
			switch verb {
			case "log", "elog":
				level, text, _ := strings.Cut(rest, " ")
				w := io.Writer(e.stdout)
				if verb == "elog" {
					w = e.stderr
				}
				e.logf(w, level, text)
			case "sleep":
				ms, _ := strconv.Atoi(rest)
				time.Sleep(time.Duration(ms) * time.Millisecond)
			case "crash":
				e.logf(e.stderr, "FATAL", "Crashing while processing "+j.name)
				os.Exit(2)
			}
		}
		e.mu.Lock()
		e.processed++
		e.idle.Broadcast()
		e.mu.Unlock()
	}
}
