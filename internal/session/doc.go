// Package session implements the session controller: it owns the lifecycle
// of one external engine process.
//
// A Session moves Created → Running → Terminated and never backward; only
// the Controller changes its state. Start launches the engine with its
// stdout and stderr captured into a log sink and returns once the engine
// answers a readiness probe on its control port. Shutdown asks the engine to
// exit, forcibly terminates it if it does not, and always finishes by
// closing the sink. Once Shutdown returns no further writes reach the log,
// which is the guarantee log validation depends on.
//
// Readiness and termination are observable through Session.Ready and
// Session.Done.
package session
