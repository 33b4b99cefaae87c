//go:build unix

package app

import (
	"fmt"
	"os"
	"syscall"
)

// execSelf replaces the current process image with a fresh copy of the
// same binary, preserving arguments and environment. On success it never
// returns.
func execSelf() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", exe, err)
	}
	return nil
}
