// Package sysstats samples host resource usage so it can be tracked next to
// training metrics.
package sysstats

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	internalerrors "github.com/Schera-ole/trainkit/internal/errors"
)

// Metric names produced by Collect.
const (
	MemoryUsedPercent = "host_memory_used_percent"
	MemoryFreeBytes   = "host_memory_free_bytes"
	CPUPercent        = "host_cpu_percent"
)

// Names lists every metric name Collect may produce.
var Names = []string{MemoryUsedPercent, MemoryFreeBytes, CPUPercent}

// Sample is one host measurement.
type Sample struct {
	Name  string
	Value float64
}

// Collect reads memory and CPU usage. CPU usage is measured since the
// previous call.
func Collect(ctx context.Context) ([]Sample, error) {
	memory, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting memory stats: %w", err)
	}
	samples := []Sample{
		{Name: MemoryUsedPercent, Value: memory.UsedPercent},
		{Name: MemoryFreeBytes, Value: float64(memory.Free)},
	}

	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("error getting cpu info: %w", err)
	}
	if len(cpuPercents) > 0 {
		samples = append(samples, Sample{Name: CPUPercent, Value: cpuPercents[0]})
	}
	return samples, nil
}

// Updater is the part of a tracker Feed needs.
type Updater interface {
	Update(name string, value float64) error
}

// Feed reports samples to u. Samples whose names u does not track are skipped.
func Feed(u Updater, samples []Sample) error {
	for _, s := range samples {
		if err := u.Update(s.Name, s.Value); err != nil {
			if errors.Is(err, internalerrors.ErrKeyNotFound) {
				continue
			}
			return err
		}
	}
	return nil
}
