// Package engine implements the control protocol spoken between the harness
// and an external event-processing engine.
//
// The engine's log output goes to its stdout and stderr, which the session
// controller captures. Control traffic uses a separate loopback TCP
// connection carrying newline-delimited JSON-RPC 2.0:
//
//	engine.ping      readiness probe
//	engine.inject    submit one artifact; an error response means rejected
//	engine.flush     barrier; answers only once everything submitted so far
//	                 has been processed, reporting bytes written to stdout
//	                 and stderr at that moment
//	engine.shutdown  graceful termination request
//
// Requests on one connection are handled strictly in arrival order, so a
// flush issued after an inject can never be answered before the inject has
// been processed.
//
// Client is the harness side. Server is a reference implementation of the
// engine side, used by the mock engine in tests and by engine adapters
// written in Go.
package engine
