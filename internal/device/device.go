// Package device chooses the accelerator a training run uses.
package device

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

const nvidiaGPUDir = "/proc/driver/nvidia/gpus"

// Kind is the device family.
type Kind string

const (
	CPU  Kind = "cpu"
	CUDA Kind = "cuda"
)

// Device identifies the primary device of a run.
type Device struct {
	Kind  Kind
	Index int
}

// String formats the device as "cpu" or "cuda:<index>".
func (d Device) String() string {
	if d.Kind == CUDA {
		return fmt.Sprintf("cuda:%d", d.Index)
	}
	return string(CPU)
}

// Probe reports how many accelerators the machine has.
type Probe interface {
	Count() (int, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func() (int, error)

// Count calls f.
func (f ProbeFunc) Count() (int, error) {
	return f()
}

// Static reports a fixed number of devices.
type Static int

// Count returns n.
func (n Static) Count() (int, error) {
	return int(n), nil
}

// NvidiaProcProbe counts the GPUs the NVIDIA driver lists under /proc.
type NvidiaProcProbe struct {
	// Dir overrides the driver directory, mostly for tests.
	Dir string
}

// Count returns the number of entries in the driver directory. A missing
// directory means no driver and no GPUs.
func (p NvidiaProcProbe) Count() (int, error) {
	dir := p.Dir
	if dir == "" {
		dir = nvidiaGPUDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("list %s: %w", dir, err)
	}
	return len(entries), nil
}

// VisibleDevicesProbe counts the devices named in CUDA_VISIBLE_DEVICES.
type VisibleDevicesProbe struct {
	// LookupEnv reports the value of a variable and whether it is set.
	// Nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Count returns the number of comma separated entries. An empty value or -1
// hides every device.
func (p VisibleDevicesProbe) Count() (int, error) {
	value, _ := p.lookup()
	return countVisible(value), nil
}

func (p VisibleDevicesProbe) lookup() (string, bool) {
	lookupEnv := p.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	return lookupEnv("CUDA_VISIBLE_DEVICES")
}

func countVisible(value string) int {
	n := 0
	for _, id := range strings.Split(value, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		// devices after an invalid id are hidden as well
		if strings.HasPrefix(id, "-") {
			break
		}
		n++
	}
	return n
}

// DefaultProbe honours CUDA_VISIBLE_DEVICES when set and otherwise asks the driver.
func DefaultProbe() Probe {
	return visibleOr(VisibleDevicesProbe{}, NvidiaProcProbe{})
}

// visibleOr counts env when CUDA_VISIBLE_DEVICES is set, even to an empty
// value, and asks fallback otherwise.
func visibleOr(env VisibleDevicesProbe, fallback Probe) Probe {
	return ProbeFunc(func() (int, error) {
		if value, ok := env.lookup(); ok {
			return countVisible(value), nil
		}
		return fallback.Count()
	})
}

// PrepareDevice decides which device a run uses and which device ids take part
// in data-parallel training.
//
// The requested count is clamped to what the probe reports; a warning is
// logged whenever the request cannot be met.
func PrepareDevice(requested int, probe Probe, logger *zap.SugaredLogger) (Device, []int) {
	available, err := probe.Count()
	if err != nil {
		logger.Warnw("Could not count GPUs, assuming none", "error", err)
		available = 0
	}
	if requested < 0 {
		requested = 0
	}

	if requested > 0 && available == 0 {
		logger.Warn("There's no GPU available on this machine, training will be performed on CPU.")
		requested = 0
	}
	if requested > available {
		logger.Warnf("The number of GPUs configured to use is %d, but only %d are available on this machine.",
			requested, available)
		requested = available
	}

	ids := make([]int, requested)
	for i := range ids {
		ids[i] = i
	}
	if requested > 0 {
		return Device{Kind: CUDA, Index: 0}, ids
	}
	return Device{Kind: CPU}, ids
}
