// Package conversion re-voices synthesized audio through an external voice
// conversion engine. It normalizes loosely-typed model identifiers, validates
// them against the model repository, brings input audio into the layout the
// engine expects, and runs the engine with guaranteed temp-file cleanup.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"
)

// ErrEngineMissing reports that the engine binary cannot be found.
var ErrEngineMissing = errors.New("conversion engine binary not found")

// Invocation is one call into the conversion engine.
type Invocation struct {
	InputPath  string
	ModelPath  string
	IndexPath  string
	PitchShift int
	IndexRatio float64
	F0Method   string
	Device     string
	OutputPath string
}

// Engine is the external voice conversion model.
type Engine interface {
	// Load prepares the engine for a device. It is called on first use and
	// after every device change.
	Load(ctx context.Context, deviceID string) error
	// Convert writes the converted audio to inv.OutputPath.
	Convert(ctx context.Context, inv Invocation) error
}

// SubprocessEngine runs an inference command line per conversion.
type SubprocessEngine struct {
	binary         string
	extraArgs      []string
	memoryFraction float64
	log            *logger.Logger
}

// NewSubprocessEngine creates an engine around binary. memoryFraction caps the
// share of accelerator memory the engine may claim; zero leaves it to the
// engine. extraArgs are appended to every invocation.
func NewSubprocessEngine(
	binary string,
	extraArgs []string,
	memoryFraction float64,
	log *logger.Logger,
) *SubprocessEngine {
	return &SubprocessEngine{
		binary:         binary,
		extraArgs:      extraArgs,
		memoryFraction: memoryFraction,
		log:            log,
	}
}

// Load checks that the binary is runnable.
func (e *SubprocessEngine) Load(_ context.Context, deviceID string) error {
	path, err := exec.LookPath(e.binary)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEngineMissing, e.binary, err)
	}

	e.log.Info("Conversion engine %s ready on %s", path, deviceID)

	return nil
}

// Convert runs the binary and waits for it to exit.
func (e *SubprocessEngine) Convert(ctx context.Context, inv Invocation) error {
	args := []string{
		"--input", inv.InputPath,
		"--model", inv.ModelPath,
		"--pitch", strconv.Itoa(inv.PitchShift),
		"--index-ratio", strconv.FormatFloat(inv.IndexRatio, 'f', 2, 64),
		"--f0-method", inv.F0Method,
		"--device", inv.Device,
		"--output", inv.OutputPath,
	}

	if inv.IndexPath != "" {
		args = append(args, "--index", inv.IndexPath)
	}

	if e.memoryFraction > 0 {
		args = append(args, "--memory-fraction", strconv.FormatFloat(e.memoryFraction, 'f', 2, 64))
	}

	args = append(args, e.extraArgs...)

	// #nosec G204 -- the binary comes from configuration, paths are generated
	cmd := exec.CommandContext(ctx, e.binary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("conversion binary execution failed: %w - output: %s", err, string(output))
	}

	return nil
}
