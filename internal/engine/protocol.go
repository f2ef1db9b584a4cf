package engine

import "encoding/json"

// JSON-RPC 2.0 method names.
const (
	MethodPing     = "engine.ping"
	MethodInject   = "engine.inject"
	MethodFlush    = "engine.flush"
	MethodShutdown = "engine.shutdown"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError       = -32700
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeApplicationError = -32000
)

// PingResult identifies the engine once it accepts control requests.
type PingResult struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InjectParams carries one artifact's content.
type InjectParams struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// FlushResult is the barrier acknowledgment.
type FlushResult struct {
	// Processed is the total number of artifacts the engine has processed.
	Processed int64 `json:"processed"`

	// StdoutBytes and StderrBytes are the byte counts the engine had written
	// to each stream when the barrier completed. The harness waits until its
	// log sink has absorbed at least this much before treating the barrier
	// as complete.
	StdoutBytes int64 `json:"stdout_bytes"`
	StderrBytes int64 `json:"stderr_bytes"`
}

// --- Wire types ---

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
