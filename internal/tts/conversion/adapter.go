package conversion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/device"
	"github.com/book-expert/voice-service/internal/tts/audio"
	"github.com/book-expert/voice-service/internal/tts/models"
	"github.com/book-expert/voice-service/internal/tts/ttsutils"
)

// Common errors for the conversion package.
var (
	ErrConversionUnavailable = errors.New("voice conversion unavailable")
	ErrModelNotFound         = errors.New("conversion model not found")
	ErrConversionFailed      = errors.New("voice conversion failed")
	ErrNoModel               = errors.New("no conversion model specified")
)

// Error message formats.
const (
	errFmtModelNotFound   = "%w: %q (available: %v)"
	errFmtOutputMissing   = "%w: engine produced no output at %s"
	errFmtStageFailed     = "%w: %s: %w"
	logFmtModelFallback   = "Model %q not found, falling back to default model %q"
	logFmtModelLoose      = "Model %q resolved to %q by %s match"
	logFmtConversionStart = "Converting %d bytes on %s: %s"
)

// State is the adapter lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateConverting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateConverting:
		return "converting"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Guard serializes conversions against device changes. Hold returns the
// release func.
type Guard interface {
	Hold() func()
}

// Options configure an Adapter.
type Options struct {
	DefaultModel    string
	DefaultF0Method string
	ScratchDir      string
	Device          string
}

// Result is a finished conversion.
type Result struct {
	Audio []byte
	Model models.Model
	// Warning is set when the requested model was replaced by the default.
	Warning string
}

// Adapter drives the conversion engine through its lifecycle.
type Adapter struct {
	engine     Engine
	repo       *models.Repository
	normalizer *audio.Normalizer
	guard      Guard
	opts       Options
	log        *logger.Logger

	// initMu makes concurrent first callers wait for one engine load.
	initMu sync.Mutex

	mu       sync.Mutex
	state    State
	inFlight int
	device   string
	initErr  error
}

// NewAdapter creates an adapter in the Uninitialized state. guard may be nil
// when there is no device manager.
func NewAdapter(
	engine Engine,
	repo *models.Repository,
	normalizer *audio.Normalizer,
	guard Guard,
	opts Options,
	log *logger.Logger,
) *Adapter {
	if opts.Device == "" {
		opts.Device = device.CPU
	}

	return &Adapter{
		engine:     engine,
		repo:       repo,
		normalizer: normalizer,
		guard:      guard,
		opts:       opts,
		log:        log,
		device:     opts.Device,
	}
}

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state
}

// Available reports whether a conversion may be attempted. An uninitialized
// adapter counts as available because it initializes on first use.
func (a *Adapter) Available() bool {
	return a.engine != nil && a.State() != StateFailed
}

// DefaultF0Method is the method used when a request names none.
func (a *Adapter) DefaultF0Method() string {
	return a.opts.DefaultF0Method
}

// Initialize loads the engine. It is a no-op unless the adapter is
// Uninitialized; a Failed adapter stays failed until Reinit.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()

	a.mu.Lock()

	switch a.state {
	case StateReady, StateConverting:
		a.mu.Unlock()

		return nil
	case StateFailed:
		err := a.initErr
		a.mu.Unlock()

		return fmt.Errorf("%w: %w", ErrConversionUnavailable, err)
	}

	a.state = StateInitializing
	deviceID := a.device
	a.mu.Unlock()

	err := a.load(ctx, deviceID)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		a.state = StateFailed
		a.initErr = err
		a.log.Error("Conversion engine failed to initialize on %s: %v", deviceID, err)

		return fmt.Errorf("%w: %w", ErrConversionUnavailable, err)
	}

	a.state = StateReady
	a.initErr = nil

	return nil
}

func (a *Adapter) load(ctx context.Context, deviceID string) error {
	if a.engine == nil {
		return ErrEngineMissing
	}

	return a.engine.Load(ctx, deviceID)
}

// Reinit resets the adapter for a new device and loads the engine again. The
// device manager calls it with its guard held, so no conversion is running.
func (a *Adapter) Reinit(ctx context.Context, deviceID string) error {
	a.mu.Lock()
	a.state = StateUninitialized
	a.initErr = nil
	a.device = deviceID
	a.mu.Unlock()

	err := a.Initialize(ctx)
	if err != nil && deviceID != device.CPU {
		return fmt.Errorf("%w: %w", device.ErrDeviceInitFailed, err)
	}

	return err
}

// ResolveModel validates name against the repository, falling back to the
// default model when one is configured.
func (a *Adapter) ResolveModel(name string) (models.Model, string, error) {
	model, kind, err := a.repo.Match(name)
	if err != nil {
		return models.Model{}, "", fmt.Errorf("%w: %w", ErrModelNotFound, err)
	}

	if kind != models.MatchNone {
		if kind != models.MatchExact {
			a.log.Info(logFmtModelLoose, name, model.Name, kind)
		}

		return model, "", nil
	}

	if a.opts.DefaultModel != "" {
		fallback, fallbackKind, fallbackErr := a.repo.Match(a.opts.DefaultModel)
		if fallbackErr == nil && fallbackKind != models.MatchNone {
			a.log.Warn(logFmtModelFallback, name, fallback.Name)
			warning := fmt.Sprintf(logFmtModelFallback, name, fallback.Name)

			return fallback, warning, nil
		}
	}

	names, _ := a.repo.Names()

	return models.Model{}, "", fmt.Errorf(errFmtModelNotFound, ErrModelNotFound, name, names)
}

// Convert re-voices audioData. Temp files never outlive the call.
func (a *Adapter) Convert(ctx context.Context, audioData []byte, req ConversionRequest) (*Result, error) {
	if a.guard != nil {
		release := a.guard.Hold()
		defer release()
	}

	err := a.Initialize(ctx)
	if err != nil {
		return nil, err
	}

	model, warning, err := a.ResolveModel(req.ModelName)
	if err != nil {
		return nil, err
	}

	deviceID := a.begin()
	defer a.end()

	a.log.Info(logFmtConversionStart, len(audioData), deviceID, req)

	scratchDir := ttsutils.ScratchDir(a.opts.ScratchDir)

	err = ttsutils.EnsureDir(scratchDir)
	if err != nil {
		return nil, fmt.Errorf(errFmtStageFailed, ErrConversionFailed, "scratch dir", err)
	}

	inputPath := ttsutils.TempName(scratchDir, "vc_in", "wav")
	outputPath := ttsutils.TempName(scratchDir, "vc_out", "wav")

	defer ttsutils.RemoveQuietly(a.log, inputPath, outputPath)

	err = a.normalizer.Normalize(ctx, audioData, inputPath)
	if err != nil {
		return nil, fmt.Errorf(errFmtStageFailed, ErrConversionFailed, "input normalization", err)
	}

	err = a.engine.Convert(ctx, Invocation{
		InputPath:  inputPath,
		ModelPath:  model.ModelPath,
		IndexPath:  model.IndexPath,
		PitchShift: req.PitchShift,
		IndexRatio: req.IndexRatio,
		F0Method:   req.F0Method,
		Device:     deviceID,
		OutputPath: outputPath,
	})
	if err != nil {
		return nil, fmt.Errorf(errFmtStageFailed, ErrConversionFailed, "engine", err)
	}

	converted, err := readOutput(outputPath)
	if err != nil {
		return nil, err
	}

	return &Result{Audio: converted, Model: model, Warning: warning}, nil
}

func (a *Adapter) begin() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.inFlight++
	a.state = StateConverting

	return a.device
}

func (a *Adapter) end() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.inFlight--
	if a.inFlight == 0 && a.state == StateConverting {
		a.state = StateReady
	}
}

func readOutput(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return nil, fmt.Errorf(errFmtOutputMissing, ErrConversionFailed, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(errFmtStageFailed, ErrConversionFailed, "read output", err)
	}

	return data, nil
}
