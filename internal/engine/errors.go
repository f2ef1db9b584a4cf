package engine

import (
	"errors"
	"fmt"
)

// ErrConnClosed is returned by calls pending or issued after the control
// connection has closed.
var ErrConnClosed = errors.New("engine: control connection closed")

// RPCError is an error response returned by the engine.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("engine: %s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

// IsRejection reports whether err is an application-level error response,
// meaning the engine received the request and refused it.
func IsRejection(err error) bool {
	var re *RPCError
	if errors.As(err, &re) {
		return re.Code == CodeApplicationError
	}
	return false
}
