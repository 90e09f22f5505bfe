// Package monitoring polls host and container metrics, evaluates them against
// operator thresholds and emits alerts.
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// Metric names understood by thresholds.
const (
	MetricCPUUsage          = "cpu_usage"
	MetricMemoryUsage       = "memory_usage"
	MetricSwapUsage         = "swap_usage"
	MetricLoadAverage1m     = "load_average_1m"
	MetricContainersRunning = "containers_running"
	MetricContainersTotal   = "containers_total"
)

// KnownMetrics is the set a threshold may reference.
var KnownMetrics = map[string]string{
	MetricCPUUsage:          "%",
	MetricMemoryUsage:       "%",
	MetricSwapUsage:         "%",
	MetricLoadAverage1m:     "",
	MetricContainersRunning: "",
	MetricContainersTotal:   "",
}

const StateRunning = "running"

// Snapshot is one poll's worth of readings.
type Snapshot struct {
	CollectedAt time.Time          `json:"collected_at"`
	Metrics     map[string]float64 `json:"metrics"`
	Containers  map[string]string  `json:"containers"`
}

type MetricsCollector interface {
	Collect(ctx context.Context) (map[string]float64, error)
}

// ContainerLister returns container name -> state ("running", "exited", ...).
type ContainerLister interface {
	Containers(ctx context.Context) (map[string]string, error)
}

// SystemCollector reads /proc. CPU usage is the busy share since the previous
// call, or since boot on the first call.
type SystemCollector struct {
	fs procfs.FS

	mu   sync.Mutex
	prev *procfs.CPUStat
}

func NewSystemCollector(procPath string) (*SystemCollector, error) {
	if procPath == "" {
		procPath = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", procPath, err)
	}
	return &SystemCollector{fs: fs}, nil
}

func (c *SystemCollector) Collect(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64, 4)

	stat, err := c.fs.Stat()
	if err != nil {
		return nil, fmt.Errorf("read stat: %w", err)
	}
	c.mu.Lock()
	var base procfs.CPUStat
	if c.prev != nil {
		base = *c.prev
	}
	cur := stat.CPUTotal
	c.prev = &cur
	c.mu.Unlock()
	out[MetricCPUUsage] = cpuPercent(base, cur)

	mem, err := c.fs.Meminfo()
	if err != nil {
		return nil, fmt.Errorf("read meminfo: %w", err)
	}
	out[MetricMemoryUsage] = usedPercent(mem.MemTotal, mem.MemAvailable)
	out[MetricSwapUsage] = usedPercent(mem.SwapTotal, mem.SwapFree)

	load, err := c.fs.LoadAvg()
	if err != nil {
		return nil, fmt.Errorf("read loadavg: %w", err)
	}
	out[MetricLoadAverage1m] = load.Load1

	return out, ctx.Err()
}

func cpuBusyIdle(s procfs.CPUStat) (busy, idle float64) {
	idle = s.Idle + s.Iowait
	busy = s.User + s.Nice + s.System + s.IRQ + s.SoftIRQ + s.Steal
	return busy, idle
}

func cpuPercent(prev, cur procfs.CPUStat) float64 {
	pb, pi := cpuBusyIdle(prev)
	cb, ci := cpuBusyIdle(cur)
	busy, total := cb-pb, (cb-pb)+(ci-pi)
	if total <= 0 {
		return 0
	}
	return round2(busy / total * 100)
}

func usedPercent(total, free *uint64) float64 {
	if total == nil || free == nil || *total == 0 {
		return 0
	}
	used := float64(*total) - float64(*free)
	if used < 0 {
		used = 0
	}
	return round2(used / float64(*total) * 100)
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
