package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Client drives one engine over its control connection.
type Client struct {
	nc        net.Conn
	conn      *Conn
	closeOnce sync.Once
}

// Dial connects to the engine's control address. It does not probe
// readiness; call Ping for that.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("engine: dial %s: %w", addr, err)
	}
	c := &Client{nc: nc, conn: NewConn(nc, nc)}
	go c.conn.ReadLoop()
	return c, nil
}

// Ping confirms the engine is accepting control requests.
func (c *Client) Ping(ctx context.Context) (PingResult, error) {
	var res PingResult
	err := c.conn.Call(ctx, MethodPing, struct{}{}, &res)
	return res, err
}

// Inject submits one artifact. A rejected artifact yields an *RPCError for
// which IsRejection is true.
func (c *Client) Inject(ctx context.Context, name string, content []byte) error {
	return c.conn.Call(ctx, MethodInject, InjectParams{Name: name, Content: string(content)}, nil)
}

// Flush blocks until the engine has processed everything submitted on this
// connection so far.
func (c *Client) Flush(ctx context.Context) (FlushResult, error) {
	var res FlushResult
	err := c.conn.Call(ctx, MethodFlush, struct{}{}, &res)
	return res, err
}

// Shutdown requests graceful termination. An engine that closes the
// connection instead of answering is treated as having accepted.
func (c *Client) Shutdown(ctx context.Context) error {
	err := c.conn.Call(ctx, MethodShutdown, struct{}{}, nil)
	if errors.Is(err, ErrConnClosed) {
		return nil
	}
	return err
}

// Done is closed once the control connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// Close tears down the connection and waits for the read loop to exit.
// Safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.nc.Close()
		<-c.conn.Done()
	})
	return err
}
