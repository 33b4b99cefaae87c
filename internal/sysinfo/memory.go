// Package sysinfo samples process resource usage.
package sysinfo

import (
	"runtime"

	"github.com/prometheus/procfs"
)

// ResidentMemory returns the process resident set size in bytes. It reads
// /proc where available and falls back to the Go runtime's accounting on
// other platforms.
func ResidentMemory() (uint64, error) {
	if fs, err := procfs.NewDefaultFS(); err == nil {
		if proc, err := fs.Self(); err == nil {
			if stat, err := proc.Stat(); err == nil {
				return uint64(stat.ResidentMemory()), nil
			}
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys, nil
}
