package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

const defaultMaxMessageSize = 16 << 20

// Conn is the client half of a newline-delimited JSON-RPC 2.0 connection.
//
// Outbound requests are serialized by a mutex-protected encoder. ReadLoop
// delivers responses to pending calls; when it exits every pending call is
// released with ErrConnClosed so no caller blocks forever.
type Conn struct {
	mu      sync.Mutex
	enc     *json.Encoder
	nextID  atomic.Int64
	pending map[int64]chan *rpcResponse
	closed  bool

	scanner *bufio.Scanner
	done    chan struct{}
	readErr atomic.Value
}

// NewConn creates a connection reading responses from r and writing
// requests to w. Run ReadLoop in a goroutine before issuing calls.
func NewConn(r io.Reader, w io.Writer) *Conn {
	c := &Conn{
		enc:     json.NewEncoder(w),
		pending: make(map[int64]chan *rpcResponse),
		done:    make(chan struct{}),
	}
	c.scanner = newScanner(r, defaultMaxMessageSize)
	return c
}

func newScanner(r io.Reader, maxSize int) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, min(4096, maxSize)), maxSize)
	return s
}

// Call sends a request and blocks until its response arrives, the
// connection closes, or ctx expires.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	id := c.nextID.Add(1)
	ch := make(chan *rpcResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("engine: %s: %w", method, ErrConnClosed)
	}
	c.pending[id] = ch
	err := c.enc.Encode(&rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("engine: send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		return handleResponse(resp, ok, method, result)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		// The response may have landed just before cancellation.
		select {
		case resp, ok := <-ch:
			return handleResponse(resp, ok, method, result)
		default:
			return ctx.Err()
		}
	}
}

func handleResponse(resp *rpcResponse, ok bool, method string, result any) error {
	if !ok {
		return fmt.Errorf("engine: %s: %w", method, ErrConnClosed)
	}
	if resp.Error != nil {
		return &RPCError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("engine: unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// ReadLoop reads responses until the reader closes. Must be called exactly
// once.
func (c *Conn) ReadLoop() {
	defer close(c.done)
	defer c.drainPending()

	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		// Only responses are expected on the client side.
		if msg.ID == nil || msg.Method != "" {
			continue
		}
		c.deliver(&msg)
	}
	if err := c.scanner.Err(); err != nil {
		c.readErr.Store(err)
	}
}

func (c *Conn) deliver(msg *rpcMessage) {
	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	ch <- &rpcResponse{Result: msg.Result, Error: msg.Error}
}

func (c *Conn) drainPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Done is closed when ReadLoop exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the read error that ended ReadLoop, or nil.
func (c *Conn) Err() error {
	if v := c.readErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}
