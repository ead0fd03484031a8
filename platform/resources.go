// Package platform provides container-aware resource monitoring, adapted
// from the teacher's internal/single/platform/cgroup_cpu.go CPUMonitor.
// Where the teacher hand-parses /sys/fs/cgroup/*/cpu.stat directly, this
// version delegates to gopsutil/v3, which already normalizes cgroup v1/v2
// and host measurement behind one API, and to automaxprocs, which sets
// GOMAXPROCS from the same cgroup quota at process start so the Go
// scheduler and this monitor agree on the CPU allocation.
package platform

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/adred-codev/neutronium/metrics"
)

// ConfigureGOMAXPROCS sets GOMAXPROCS from the container's CPU quota (via
// automaxprocs) and logs the result. Call this once at process start,
// before building the World or Endpoint.
func ConfigureGOMAXPROCS(logger zerolog.Logger) {
	_, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug().Msgf(format, args...)
	}))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to adjust GOMAXPROCS from cgroup quota")
	}
}

// Monitor samples process CPU and memory usage against the container's
// allocation.
type Monitor struct {
	proc       *process.Process
	allocation float64
}

// NewMonitor builds a Monitor for the current process. allocation is the
// number of CPUs this process is entitled to (e.g. from config.CPULimit);
// pass 0 to fall back to runtime.NumCPU().
func NewMonitor(allocation float64) (*Monitor, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("neutronium: open process handle: %w", err)
	}
	if allocation <= 0 {
		allocation = float64(runtime.NumCPU())
	}
	return &Monitor{proc: p, allocation: allocation}, nil
}

// CPUPercent returns this process's CPU usage as a percentage of its
// allocation: 100.0 means fully saturating the allocated CPUs.
func (m *Monitor) CPUPercent(ctx context.Context) (float64, error) {
	pct, err := m.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return 0, err
	}
	return pct / m.allocation, nil
}

// MemoryUsedBytes returns this process's resident set size.
func (m *Monitor) MemoryUsedBytes() (uint64, error) {
	info, err := m.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

// SystemMemoryLimit returns the host/container's total visible memory, a
// reasonable proxy for the cgroup memory limit when the latter isn't
// separately configured.
func SystemMemoryLimit() (uint64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.Total, nil
}

// HostCPUPercent samples whole-host CPU usage over a short window,
// matching the teacher's host-mode fallback.
func HostCPUPercent() (float64, error) {
	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("neutronium: no CPU data available")
	}
	return percents[0], nil
}

// Guard is a static-threshold admission brake, trimmed from the teacher's
// ResourceGuard down to the one decision the bridge needs: whether to shed
// inbound messages under CPU pressure. It samples on its own ticker rather
// than per-message, so the hot path only ever reads an atomic.
type Guard struct {
	monitor         *Monitor
	logger          zerolog.Logger
	pauseThreshold  float64
	currentCPUx1000 atomic.Int64 // CPU percent * 1000, for lock-free float storage
}

// NewGuard builds a Guard sampling monitor against pauseThreshold (a CPU
// percentage of allocation; see config.CPUPauseThreshold).
func NewGuard(monitor *Monitor, pauseThreshold float64, logger zerolog.Logger) *Guard {
	return &Guard{monitor: monitor, pauseThreshold: pauseThreshold, logger: logger}
}

// Run samples CPU usage every interval until ctx is cancelled, also
// publishing the runtime gauges CollectRuntime doesn't cover (CPU usage and
// the visible memory limit). Meant to run
// in its own goroutine for the process lifetime.
func (g *Guard) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pct, err := g.monitor.CPUPercent(ctx)
			if err != nil {
				g.logger.Warn().Err(err).Msg("failed to sample CPU usage")
				continue
			}
			g.currentCPUx1000.Store(int64(pct * 1000))
			metrics.CPUUsagePercent.Set(pct)
			if limit, err := SystemMemoryLimit(); err == nil {
				metrics.MemoryLimitBytes.Set(float64(limit))
			}
		}
	}
}

// ShouldPauseIngest reports whether the last sampled CPU usage exceeds the
// configured pause threshold, satisfying bridge.ResourceGuard.
func (g *Guard) ShouldPauseIngest() bool {
	return float64(g.currentCPUx1000.Load())/1000 > g.pauseThreshold
}

// CurrentCPUPercent returns the last sampled CPU usage percentage.
func (g *Guard) CurrentCPUPercent() float64 {
	return float64(g.currentCPUx1000.Load()) / 1000
}
