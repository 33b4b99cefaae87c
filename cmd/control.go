//go:build unix

package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nodewatch/nodewatch/internal/pidfile"
)

const stopGracePeriod = 10 * time.Second

// addControlCmds registers the background process controls. They lean on
// unix signals and sessions, so they only exist on unix builds.
func addControlCmds(root *cobra.Command) {
	root.AddCommand(newStartCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newStatusCmd())
}

// newStartCmd launches the monitor as a detached background process.
func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the monitor in the background",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if pid, running := pidfile.IsRunning(cfg.State.PIDPath); running {
				return fmt.Errorf("already running with pid %d", pid)
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			args := []string{"run"}
			if cfgFile != "" {
				args = append(args, "--config", cfgFile)
			}
			child := exec.Command(exe, args...)
			child.Stdout = nil
			child.Stderr = nil
			child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
			if err := child.Start(); err != nil {
				return fmt.Errorf("spawn background process: %w", err)
			}
			// The child writes its own pid file once it is up; releasing it
			// here just avoids holding a zombie slot.
			if err := child.Process.Release(); err != nil {
				return fmt.Errorf("release child: %w", err)
			}
			fmt.Printf("started with pid %d\n", child.Process.Pid)
			return nil
		},
	}
}

// newStopCmd terminates a background monitor, escalating to SIGKILL when
// the grace period passes.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a background monitor",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pid, running := pidfile.IsRunning(cfg.State.PIDPath)
			if !running {
				fmt.Println("not running")
				return nil
			}

			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal pid %d: %w", pid, err)
			}

			deadline := time.Now().Add(stopGracePeriod)
			for time.Now().Before(deadline) {
				if syscall.Kill(pid, 0) != nil {
					pidfile.Remove(cfg.State.PIDPath)
					fmt.Printf("stopped pid %d\n", pid)
					return nil
				}
				time.Sleep(200 * time.Millisecond)
			}

			if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && syscall.Kill(pid, 0) == nil {
				return fmt.Errorf("kill pid %d: %w", pid, err)
			}
			pidfile.Remove(cfg.State.PIDPath)
			fmt.Printf("killed pid %d after grace period\n", pid)
			return nil
		},
	}
}

// newStatusCmd reports whether a background monitor is alive.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the monitor is running",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if pid, running := pidfile.IsRunning(cfg.State.PIDPath); running {
				fmt.Printf("running with pid %d\n", pid)
			} else {
				fmt.Println("not running")
			}
			return nil
		},
	}
}
