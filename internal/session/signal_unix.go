//go:build !windows

package session

import (
	"os"
	"syscall"
)

func terminateProcess(proc *os.Process) error {
	return signalProcess(proc, syscall.SIGTERM)
}
