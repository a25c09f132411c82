// Package metrics collects host resource utilization for heartbeat
// reporting. CPU and memory come from gopsutil; GPU gauges report zero
// unless a collector is plugged in, since GPU telemetry depends on the
// vendor stack available on the host.
package metrics

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot holds one reading of host resource usage.
// Percentages are 0–100.
type Snapshot struct {
	CPUPercent       float64
	MemoryPercent    float64
	MemoryUsedMB     float64
	GPUPercent       float64
	GPUMemoryPercent float64
	GPUMemoryUsedMB  float64
}

// GPUCollector supplies GPU gauges when the host has a usable vendor API.
type GPUCollector func() (percent, memPercent, memUsedMB float64)

// Collector reads host gauges for the worker heartbeat loop.
type Collector struct {
	gpu GPUCollector
}

// NewCollector creates a Collector. gpu may be nil, in which case GPU
// gauges stay zero.
func NewCollector(gpu GPUCollector) *Collector {
	return &Collector{gpu: gpu}
}

// Collect returns a snapshot of current host resource usage. Gauges that
// cannot be read are left at zero rather than failing the heartbeat.
func (c *Collector) Collect() Snapshot {
	var s Snapshot

	// Interval 0 reports usage since the previous call, non-blocking.
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		s.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vm.UsedPercent
		s.MemoryUsedMB = float64(vm.Used) / (1024 * 1024)
	}

	if c.gpu != nil {
		s.GPUPercent, s.GPUMemoryPercent, s.GPUMemoryUsedMB = c.gpu()
	}
	return s
}
