// Top N processes collector: gathers the most resource-intensive processes.
// Uses gopsutil for cross-platform process listing.
package collector

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/exporter/internal/config"
	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// normalizedStatuses maps raw gopsutil status strings to a consistent set of
// display values used across all platforms.
var normalizedStatuses = map[string]string{
	"running":               "running",
	"sleeping":              "sleeping",
	"idle":                  "idle",
	"stopped":               "stopped",
	"zombie":                "zombie",
	"wait":                  "sleeping",
	"lock":                  "sleeping",
	"sleep":                 "sleeping",
	"disk-sleep":            "sleeping",
	"tracing-stop":          "stopped",
	"dead":                  "zombie",
	"wake-kill":             "sleeping",
	"waking":                "running",
	"parked":                "idle",
	"idle-interrupt":        "idle",
	"suspended":             "stopped",
	"uninterruptible-sleep": "sleeping",
}

// normalizeStatus maps a raw gopsutil status string to a consistent display
// value. If the status is empty or unrecognised, it infers a value from the
// process's CPU usage: CPU > 0 → "running", otherwise "idle".
func normalizeStatus(raw string, cpuPct float64) string {
	if raw != "" {
		key := strings.ToLower(strings.TrimSpace(raw))
		if mapped, ok := normalizedStatuses[key]; ok {
			return mapped
		}
		// Unknown but non-empty is returned lowercased.
		return key
	}

	// Empty status (common on Windows): infer from CPU activity.
	if cpuPct > 0 {
		return "running"
	}
	return "idle"
}

type processInfo struct {
	pid    int32
	name   string
	cpu    float64
	memory float64
	status string
}

// ProcessCollector collects the top N processes by CPU usage.
// Enable pruning on its job so that processes leaving the top N disappear.
type ProcessCollector struct {
	topN int
}

// NewProcessCollector creates a new process collector that returns the top N
// processes sorted by CPU usage descending.
func NewProcessCollector(topN int) *ProcessCollector {
	return &ProcessCollector{topN: topN}
}

func newProcess(cfg config.JobConfig, _ *zap.Logger) (Collector, error) {
	topN := 10
	if cfg.Host != nil && cfg.Host.TopProcesses > 0 {
		topN = cfg.Host.TopProcesses
	}
	return NewProcessCollector(topN), nil
}

// Name returns the collector identifier.
func (c *ProcessCollector) Name() string { return "process" }

// Collect gathers the top N processes sorted by CPU usage descending.
// Individual process errors are skipped to avoid failing the
// entire collection due to a single inaccessible process.
func (c *ProcessCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, targetError(ctx, "process", err)
	}

	infos := make([]processInfo, 0, len(procs))
	for _, p := range procs {
		if ctx.Err() != nil {
			return nil, targetError(ctx, "process", ctx.Err())
		}
		name, _ := p.NameWithContext(ctx)
		cpuPct, _ := p.CPUPercentWithContext(ctx)
		memPct, _ := p.MemoryPercentWithContext(ctx)
		status, _ := p.StatusWithContext(ctx)

		rawStatus := ""
		if len(status) > 0 {
			rawStatus = status[0]
		}

		infos = append(infos, processInfo{
			pid:    p.Pid,
			name:   name,
			cpu:    cpuPct,
			memory: float64(memPct),
			status: normalizeStatus(rawStatus, cpuPct),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].cpu > infos[j].cpu
	})
	if len(infos) > c.topN {
		infos = infos[:c.topN]
	}

	samples := make([]models.Sample, 0, 2*len(infos))
	for _, info := range infos {
		labels := map[string]string{
			"pid":    strconv.Itoa(int(info.pid)),
			"name":   info.name,
			"status": info.status,
		}
		samples = append(samples,
			models.Gauge("host_process_cpu_percent", "CPU usage of a top process in percent.", info.cpu, labels),
			models.Gauge("host_process_memory_percent", "Memory usage of a top process in percent.", info.memory, labels),
		)
	}
	return samples, nil
}

// IsAvailable returns true; process listing is available on all platforms.
func (c *ProcessCollector) IsAvailable() bool { return true }
