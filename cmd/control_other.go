//go:build !unix

package cmd

import "github.com/spf13/cobra"

// addControlCmds is a no-op here. Backgrounding relies on unix signals and
// sessions; elsewhere the monitor runs in the foreground via `run` under
// the platform's service manager.
func addControlCmds(*cobra.Command) {}
