//go:build windows

package config

import "os"

// isProcessAlive checks whether a process with the given PID exists.
// FindProcess opens a handle on Windows and fails for exited processes.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	p.Release()
	return true
}
