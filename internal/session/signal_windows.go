//go:build windows

package session

import "os"

// Windows has no SIGTERM; termination is immediate.
func terminateProcess(proc *os.Process) error {
	return signalProcess(proc, os.Kill)
}
