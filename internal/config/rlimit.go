//go:build linux || darwin

package config

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// RaiseFileLimits raises the process's open-file soft limit to want, capped
// at the hard limit, and returns the resulting soft limit: a full-scale run
// keeps one TCP socket and several pipes open per worker plus the run log
// and cert store, which can exceed the platform default of 1024. It never
// lowers an existing higher limit.
func RaiseFileLimits(want uint64) (uint64, error) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return 0, fmt.Errorf("getrlimit NOFILE: %w", err)
	}

	if rlimit.Cur >= want {
		return rlimit.Cur, nil
	}

	target := want
	if rlimit.Max != unix.RLIM_INFINITY && target > rlimit.Max {
		target = rlimit.Max
	}

	rlimit.Cur = target
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return 0, fmt.Errorf("setrlimit NOFILE to %d: %w", target, err)
	}
	return target, nil
}

// ProcessDiagnostics reports a process's current RSS and open file
// descriptor count alongside a file-descriptor limit, for judging
// headroom during a long srcupdate/regression run.
type ProcessDiagnostics struct {
	RSSBytes    uint64
	OpenFiles   int32
	NumFDLimit  uint64
}

// ReadProcessDiagnostics samples the resource usage of process pid via
// gopsutil, the same host-stats reporting an agent binary would ship for
// a remote worker, here sampled locally on demand.
func ReadProcessDiagnostics(pid int32, fdLimit uint64) (ProcessDiagnostics, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ProcessDiagnostics{}, fmt.Errorf("open process %d: %w", pid, err)
	}

	mem, err := proc.MemoryInfo()
	if err != nil {
		return ProcessDiagnostics{}, fmt.Errorf("read memory info: %w", err)
	}

	openFiles, err := proc.OpenFiles()
	if err != nil {
		// Not fatal: some platforms/sandboxes restrict /proc/<pid>/fd access.
		return ProcessDiagnostics{RSSBytes: mem.RSS, NumFDLimit: fdLimit}, nil
	}

	return ProcessDiagnostics{
		RSSBytes:   mem.RSS,
		OpenFiles:  int32(len(openFiles)),
		NumFDLimit: fdLimit,
	}, nil
}
