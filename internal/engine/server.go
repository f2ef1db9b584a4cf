package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
)

// HandlerFunc handles one request. Returning an *RPCError controls the
// error code; any other error is sent as CodeApplicationError.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Server is the engine side of the control protocol. Requests on a single
// connection are handled one at a time in arrival order.
type Server struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewServer creates a server with no handlers.
func NewServer() *Server {
	return &Server{handlers: make(map[string]HandlerFunc)}
}

// Handle registers h for method, replacing any previous handler.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Serve accepts connections until ctx is done or ln fails. It closes ln
// and waits for in-flight connections before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer nc.Close()
			closeOnDone := context.AfterFunc(ctx, func() { _ = nc.Close() })
			defer closeOnDone()
			_ = s.ServeConn(ctx, nc)
		}()
	}
}

// ServeConn handles requests read from rw until it reaches EOF.
func (s *Server) ServeConn(ctx context.Context, rw io.ReadWriter) error {
	enc := json.NewEncoder(rw)
	scanner := newScanner(rw, defaultMaxMessageSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			if err := enc.Encode(errorResponse(nil, CodeParseError, err.Error())); err != nil {
				return err
			}
			continue
		}
		if msg.Method == "" {
			continue
		}

		resp := s.dispatch(ctx, &msg)
		if msg.ID == nil {
			continue // notification
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, msg *rpcMessage) *rpcResponse {
	s.mu.RLock()
	h, ok := s.handlers[msg.Method]
	s.mu.RUnlock()
	if !ok {
		return errorResponse(msg.ID, CodeMethodNotFound, "method not found: "+msg.Method)
	}

	result, err := h(ctx, msg.Params)
	if err != nil {
		var re *RPCError
		if errors.As(err, &re) {
			return errorResponse(msg.ID, re.Code, re.Message)
		}
		return errorResponse(msg.ID, CodeApplicationError, err.Error())
	}
	if result == nil {
		result = struct{}{}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return errorResponse(msg.ID, CodeInternalError, "marshal result: "+err.Error())
	}
	return &rpcResponse{JSONRPC: "2.0", ID: msg.ID, Result: data}
}

func errorResponse(id *int64, code int, message string) *rpcResponse {
	return &rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	}
}

// DecodeParams unmarshals params into v, mapping failures to
// CodeInvalidParams.
func DecodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}
	return nil
}
