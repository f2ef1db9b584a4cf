//go:build !windows

package logsink

import (
	"errors"
	"os"
	"syscall"
)

// processAlive sends signal 0 to pid. EPERM means the process exists
// but belongs to another user.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
