package sandbox

import (
	"golang.org/x/sys/unix"

	"github.com/squadron-dev/squadron/internal/logging"
)

// applyLimits caps a sandbox's shell process best-effort: address-space
// rlimit for memory, scheduler niceness derived from the CPU percent.
// Failures are logged and ignored; the sandbox still runs uncapped.
func applyLimits(pid, cpuPercent, memoryMB int, log *logging.Logger) {
	if memoryMB > 0 {
		bytes := uint64(memoryMB) * 1024 * 1024
		lim := unix.Rlimit{Cur: bytes, Max: bytes}
		if err := unix.Prlimit(pid, unix.RLIMIT_AS, &lim, nil); err != nil {
			log.Debug("memory limit not applied", "pid", pid, "error", err)
		}
	}
	if cpuPercent > 0 && cpuPercent < 100 {
		// No cgroup access here, so approximate the cap by deprioritizing:
		// 50% -> nice 10, 25% -> nice 15.
		nice := (100 - cpuPercent) / 5
		if nice > 19 {
			nice = 19
		}
		if err := unix.Setpriority(unix.PRIO_PROCESS, pid, nice); err != nil {
			log.Debug("cpu priority not applied", "pid", pid, "error", err)
		}
	}
}
