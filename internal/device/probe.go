package device

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"
)

const (
	defaultNvidiaSMI = "nvidia-smi"
	bytesPerMiB      = 1024 * 1024
	smiFieldCount    = 3
)

var smiArgs = []string{
	"--query-gpu=index,name,memory.total",
	"--format=csv,noheader,nounits",
}

// Prober enumerates compute devices.
type Prober interface {
	Accelerators(ctx context.Context) ([]Device, error)
	HostMemory() (uint64, error)
}

// SystemProber asks nvidia-smi for accelerators and gopsutil for host memory.
type SystemProber struct {
	nvidiaSMI string
}

// NewSystemProber creates a prober. An empty path uses nvidia-smi from PATH.
func NewSystemProber(nvidiaSMI string) *SystemProber {
	if nvidiaSMI == "" {
		nvidiaSMI = defaultNvidiaSMI
	}

	return &SystemProber{nvidiaSMI: nvidiaSMI}
}

// Accelerators lists GPUs. A host without the tool has no accelerators, which
// is not an error.
func (p *SystemProber) Accelerators(ctx context.Context) ([]Device, error) {
	binary, err := exec.LookPath(p.nvidiaSMI)
	if err != nil {
		return nil, nil
	}

	// #nosec G204 -- the binary path comes from configuration
	output, err := exec.CommandContext(ctx, binary, smiArgs...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// nvidia-smi exits non-zero when the driver finds no devices.
			return nil, nil
		}

		return nil, fmt.Errorf("nvidia-smi failed: %w", err)
	}

	return ParseNvidiaSMI(string(output))
}

// HostMemory returns total system memory in bytes.
func (p *SystemProber) HostMemory() (uint64, error) {
	stat, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("failed to read host memory: %w", err)
	}

	return stat.Total, nil
}

// ParseNvidiaSMI parses "index, name, memory MiB" csv lines.
func ParseNvidiaSMI(output string) ([]Device, error) {
	var devices []Device

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) < smiFieldCount {
			return nil, fmt.Errorf("unexpected nvidia-smi line %q", line)
		}

		index := strings.TrimSpace(fields[0])
		name := strings.TrimSpace(strings.Join(fields[1:len(fields)-1], ","))

		memoryMiB, err := strconv.ParseUint(strings.TrimSpace(fields[len(fields)-1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected nvidia-smi memory in %q: %w", line, err)
		}

		devices = append(devices, Device{
			ID:          AcceleratorPrefix + index,
			Name:        name,
			MemoryBytes: memoryMiB * bytesPerMiB,
		})
	}

	return devices, nil
}
