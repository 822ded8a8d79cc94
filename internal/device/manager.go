// Package device selects the compute device the conversion engine runs on and
// reinitializes dependent components when it changes.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/book-expert/logger"
)

// Device identifiers.
const (
	CPU               = "cpu"
	Auto              = "auto"
	AcceleratorPrefix = "accel:"
	cpuName           = "Software (CPU)"
)

// Common errors for the device package.
var (
	ErrDeviceInitFailed = errors.New("device initialization failed")
	ErrUnknownDevice    = errors.New("unknown device")
)

// Device is one selectable compute device.
type Device struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MemoryBytes uint64 `json:"memory"`
}

// IsAccelerator reports whether d is a GPU-class device.
func (d Device) IsAccelerator() bool {
	return strings.HasPrefix(d.ID, AcceleratorPrefix)
}

// Config is the detected device state.
type Config struct {
	Current   string   `json:"current"`
	Available []Device `json:"available"`
}

// Reinitializer is a component that caches engine state bound to a device.
// Reinit is called with the device guard held exclusively, so it must not
// call Hold. Returning an error wrapping ErrDeviceInitFailed marks the device
// unusable.
type Reinitializer interface {
	Reinit(ctx context.Context, deviceID string) error
}

// Manager owns the process-wide device selection.
type Manager struct {
	prober Prober
	log    *logger.Logger

	// guard serializes device changes against in-flight conversions.
	guard sync.RWMutex

	mu             sync.Mutex
	detected       bool
	config         Config
	reinitializers []Reinitializer
}

// NewManager creates a manager on the software device. Detection is lazy.
func NewManager(prober Prober, log *logger.Logger) *Manager {
	return &Manager{
		prober: prober,
		log:    log,
		config: Config{Current: CPU},
	}
}

// Register adds a component to reinitialize on device change.
func (m *Manager) Register(reinitializer Reinitializer) {
	m.mu.Lock()
	m.reinitializers = append(m.reinitializers, reinitializer)
	m.mu.Unlock()
}

// Hold takes the shared side of the device guard; conversions hold it for
// their whole duration. The returned func releases it.
func (m *Manager) Hold() func() {
	m.guard.RLock()

	return m.guard.RUnlock
}

// Current returns the active device id.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.config.Current
}

// Detect enumerates devices once. Later calls return the cached result.
func (m *Manager) Detect(ctx context.Context) Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.detected {
		m.config.Available = m.probe(ctx)
		m.detected = true
	}

	return m.snapshot()
}

// Select applies choice ("cpu", "auto" or "accel:<id>"). "auto" re-probes and
// takes the accelerator with the most memory. Selecting the active device is a
// no-op. An unusable device falls back to cpu and returns ErrDeviceInitFailed
// alongside the applied device.
func (m *Manager) Select(ctx context.Context, choice string) (string, error) {
	m.Detect(ctx)

	target, resolveErr := m.resolve(ctx, strings.ToLower(strings.TrimSpace(choice)))
	if resolveErr != nil {
		m.log.Warn("Device %q unusable, falling back to %s: %v", choice, CPU, resolveErr)
	}

	m.guard.Lock()
	defer m.guard.Unlock()

	if target == m.Current() {
		return target, resolveErr
	}

	err := m.apply(ctx, target)
	if err == nil {
		return target, resolveErr
	}

	if !errors.Is(err, ErrDeviceInitFailed) || target == CPU {
		return target, errors.Join(resolveErr, err)
	}

	m.log.Warn("Reinitialization on %s failed, falling back to %s: %v", target, CPU, err)

	fallbackErr := m.apply(ctx, CPU)

	return CPU, errors.Join(err, fallbackErr)
}

// apply switches the current device and reinitializes dependents. The guard
// must be held.
func (m *Manager) apply(ctx context.Context, target string) error {
	m.mu.Lock()
	m.config.Current = target
	reinitializers := append([]Reinitializer(nil), m.reinitializers...)
	m.mu.Unlock()

	m.log.Info("Switching compute device to %s", target)

	var errs []error

	for _, reinitializer := range reinitializers {
		err := reinitializer.Reinit(ctx, target)
		if err != nil {
			m.log.Warn("Reinitialization on %s failed: %v", target, err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (m *Manager) resolve(ctx context.Context, choice string) (string, error) {
	switch {
	case choice == CPU:
		return CPU, nil
	case choice == Auto || choice == "":
		return m.resolveAuto(ctx), nil
	case strings.HasPrefix(choice, AcceleratorPrefix):
		m.mu.Lock()
		defer m.mu.Unlock()

		for _, candidate := range m.config.Available {
			if candidate.ID == choice {
				return choice, nil
			}
		}

		return CPU, fmt.Errorf("%w: %w: %s", ErrDeviceInitFailed, ErrUnknownDevice, choice)
	default:
		return CPU, fmt.Errorf("%w: %w: %s", ErrDeviceInitFailed, ErrUnknownDevice, choice)
	}
}

// resolveAuto re-probes so topology changes since detection are seen.
func (m *Manager) resolveAuto(ctx context.Context) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config.Available = m.probe(ctx)

	best := CPU
	bestMemory := uint64(0)

	for _, candidate := range m.config.Available {
		if candidate.IsAccelerator() && candidate.MemoryBytes > bestMemory {
			best = candidate.ID
			bestMemory = candidate.MemoryBytes
		}
	}

	return best
}

// probe lists accelerators followed by the software device. mu must be held.
func (m *Manager) probe(ctx context.Context) []Device {
	accelerators, err := m.prober.Accelerators(ctx)
	if err != nil {
		m.log.Warn("Accelerator detection failed, using %s only: %v", CPU, err)

		accelerators = nil
	}

	hostMemory, err := m.prober.HostMemory()
	if err != nil {
		m.log.Warn("Host memory detection failed: %v", err)
	}

	return append(accelerators, Device{ID: CPU, Name: cpuName, MemoryBytes: hostMemory})
}

func (m *Manager) snapshot() Config {
	return Config{
		Current:   m.config.Current,
		Available: append([]Device(nil), m.config.Available...),
	}
}
