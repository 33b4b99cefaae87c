//go:build !unix

package app

import "os"

// restartExitCode signals the supervising process manager to start a
// fresh instance on platforms without exec semantics.
const restartExitCode = 3

func execSelf() error {
	os.Exit(restartExitCode)
	return nil
}
