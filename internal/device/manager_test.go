package device_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gib = 1024 * 1024 * 1024

var errMockInit = errors.New("mock init error")

type mockProber struct {
	mu           sync.Mutex
	accelerators []device.Device
	probes       int
}

func (m *mockProber) Accelerators(_ context.Context) ([]device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.probes++

	return append([]device.Device(nil), m.accelerators...), nil
}

func (m *mockProber) HostMemory() (uint64, error) {
	return 16 * gib, nil
}

func (m *mockProber) set(accelerators ...device.Device) {
	m.mu.Lock()
	m.accelerators = accelerators
	m.mu.Unlock()
}

type recordingReinit struct {
	mu      sync.Mutex
	calls   []string
	failOn  string
	failErr error
}

func (r *recordingReinit) Reinit(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, deviceID)
	if deviceID == r.failOn {
		return r.failErr
	}

	return nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "device-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func twoGPUs() []device.Device {
	return []device.Device{
		{ID: "accel:0", Name: "Small", MemoryBytes: 8 * gib},
		{ID: "accel:1", Name: "Large", MemoryBytes: 24 * gib},
	}
}

func TestDetect_OnceAndIncludesCPU(t *testing.T) {
	t.Parallel()

	prober := &mockProber{}
	prober.set(twoGPUs()...)
	manager := device.NewManager(prober, newTestLogger(t))

	cfg := manager.Detect(context.Background())
	manager.Detect(context.Background())

	assert.Equal(t, 1, prober.probes)
	assert.Equal(t, device.CPU, cfg.Current)
	require.Len(t, cfg.Available, 3)
	assert.Equal(t, device.CPU, cfg.Available[2].ID)
	assert.Equal(t, uint64(16*gib), cfg.Available[2].MemoryBytes)
}

func TestDetect_NoAcceleratorsIsNotAnError(t *testing.T) {
	t.Parallel()

	manager := device.NewManager(&mockProber{}, newTestLogger(t))

	cfg := manager.Detect(context.Background())
	require.Len(t, cfg.Available, 1)
	assert.False(t, cfg.Available[0].IsAccelerator())

	applied, err := manager.Select(context.Background(), device.Auto)
	require.NoError(t, err)
	assert.Equal(t, device.CPU, applied)
}

func TestSelect_AutoPicksMostMemoryAndRepeatIsNoOp(t *testing.T) {
	t.Parallel()

	prober := &mockProber{}
	prober.set(twoGPUs()...)
	manager := device.NewManager(prober, newTestLogger(t))
	reinit := &recordingReinit{}
	manager.Register(reinit)

	applied, err := manager.Select(context.Background(), "auto")
	require.NoError(t, err)
	assert.Equal(t, "accel:1", applied)
	assert.Equal(t, []string{"accel:1"}, reinit.calls)

	applied, err = manager.Select(context.Background(), "accel:1")
	require.NoError(t, err)
	assert.Equal(t, "accel:1", applied)
	assert.Equal(t, []string{"accel:1"}, reinit.calls, "selecting the active device must not reinit")
}

func TestSelect_AutoResolvesAtSelectionTime(t *testing.T) {
	t.Parallel()

	prober := &mockProber{}
	manager := device.NewManager(prober, newTestLogger(t))
	manager.Detect(context.Background())

	prober.set(device.Device{ID: "accel:3", Name: "Hotplugged", MemoryBytes: 12 * gib})

	applied, err := manager.Select(context.Background(), device.Auto)
	require.NoError(t, err)
	assert.Equal(t, "accel:3", applied)
	assert.Equal(t, "accel:3", manager.Current())
}

func TestSelect_UnknownDeviceFallsBackToCPU(t *testing.T) {
	t.Parallel()

	prober := &mockProber{}
	prober.set(twoGPUs()...)
	manager := device.NewManager(prober, newTestLogger(t))

	_, err := manager.Select(context.Background(), "accel:0")
	require.NoError(t, err)

	applied, err := manager.Select(context.Background(), "accel:9")
	require.ErrorIs(t, err, device.ErrDeviceInitFailed)
	require.ErrorIs(t, err, device.ErrUnknownDevice)
	assert.Equal(t, device.CPU, applied)
	assert.Equal(t, device.CPU, manager.Current())
}

func TestSelect_ReinitFailureFallsBackToCPU(t *testing.T) {
	t.Parallel()

	prober := &mockProber{}
	prober.set(twoGPUs()...)
	manager := device.NewManager(prober, newTestLogger(t))

	reinit := &recordingReinit{
		failOn:  "accel:0",
		failErr: fmt.Errorf("%w: %w", device.ErrDeviceInitFailed, errMockInit),
	}
	manager.Register(reinit)

	_, err := manager.Select(context.Background(), "accel:1")
	require.NoError(t, err)

	applied, err := manager.Select(context.Background(), "accel:0")
	require.ErrorIs(t, err, errMockInit)
	assert.Equal(t, device.CPU, applied)
	assert.Equal(t, []string{"accel:1", "accel:0", "cpu"}, reinit.calls)
}

func TestSelect_WaitsForInFlightConversions(t *testing.T) {
	t.Parallel()

	prober := &mockProber{}
	prober.set(twoGPUs()...)
	manager := device.NewManager(prober, newTestLogger(t))

	release := manager.Hold()
	done := make(chan string, 1)

	go func() {
		applied, _ := manager.Select(context.Background(), "accel:0")
		done <- applied
	}()

	select {
	case <-done:
		t.Fatal("device change completed while a conversion held the guard")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	assert.Equal(t, "accel:0", <-done)
}

func TestParseNvidiaSMI(t *testing.T) {
	t.Parallel()

	devices, err := device.ParseNvidiaSMI("0, NVIDIA GeForce RTX 4090, 24564\n1, Tesla T4, 15360\n\n")
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, "accel:0", devices[0].ID)
	assert.Equal(t, "NVIDIA GeForce RTX 4090", devices[0].Name)
	assert.Equal(t, uint64(24564)*1024*1024, devices[0].MemoryBytes)
	assert.True(t, devices[1].IsAccelerator())

	_, err = device.ParseNvidiaSMI("garbage")
	require.Error(t, err)

	devices, err = device.ParseNvidiaSMI("")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestSystemProber_MissingToolMeansNoAccelerators(t *testing.T) {
	t.Parallel()

	prober := device.NewSystemProber("definitely-not-a-real-nvidia-smi")

	accelerators, err := prober.Accelerators(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accelerators)

	memory, err := prober.HostMemory()
	require.NoError(t, err)
	assert.Positive(t, memory)
}
