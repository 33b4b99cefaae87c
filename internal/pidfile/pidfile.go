// Package pidfile manages the process marker file used to detect a
// running monitor instance.
package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Write records the current process id at path.
func Write(path string) error {
	return WritePID(path, os.Getpid())
}

// WritePID records an arbitrary process id at path.
func WritePID(path string, pid int) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Read returns the pid stored at path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", path, err)
	}
	return pid, nil
}

// Remove deletes the marker file; missing files are not an error.
func Remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "remove pid file: %v\n", err)
	}
}

// IsRunning reports whether the process named by the marker file is alive.
// A missing, invalid, or stale file counts as not running and is cleaned
// up on the spot.
func IsRunning(path string) (int, bool) {
	pid, err := Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			Remove(path)
		}
		return 0, false
	}
	if !alive(pid) {
		Remove(path)
		return 0, false
	}
	return pid, true
}

// alive probes the pid with signal 0.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
