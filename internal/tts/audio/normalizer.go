package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/tts/ttsutils"
)

const (
	defaultFFmpegPath = "ffmpeg"
	filePermissions   = 0o600
)

// Normalizer turns arbitrary synthesized audio into a mono 16-bit WAV file at
// the conversion engine's sample rate.
type Normalizer struct {
	targetRate int
	ffmpegPath string
	scratchDir string
	log        *logger.Logger
}

// NewNormalizer creates a normalizer. An empty ffmpegPath uses "ffmpeg" from
// PATH; a non-positive rate uses DEFAULT_CONVERSION_SAMPLE_RATE.
func NewNormalizer(targetRate int, ffmpegPath, scratchDir string, log *logger.Logger) *Normalizer {
	if targetRate <= 0 {
		targetRate = DEFAULT_CONVERSION_SAMPLE_RATE
	}

	if ffmpegPath == "" {
		ffmpegPath = defaultFFmpegPath
	}

	return &Normalizer{
		targetRate: targetRate,
		ffmpegPath: ffmpegPath,
		scratchDir: ttsutils.ScratchDir(scratchDir),
		log:        log,
	}
}

// TargetFormat reports the layout written by Normalize.
func (n *Normalizer) TargetFormat() PCMFormat {
	return ConversionInputFormat(n.targetRate)
}

// Normalize writes data to outputPath in the target layout. In-process decoders
// are tried first and ffmpeg is the last resort. Failure of every route yields
// ErrFormatConversionFailed.
func (n *Normalizer) Normalize(ctx context.Context, data []byte, outputPath string) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %w", ErrFormatConversionFailed, ErrNoAudio)
	}

	pcm, decodeErr := Decode(data)
	if decodeErr == nil {
		return n.write(pcm, outputPath)
	}

	if n.log != nil {
		n.log.Warn("In-process decode failed, falling back to %s: %v", n.ffmpegPath, decodeErr)
	}

	ffmpegErr := n.transcode(ctx, data, outputPath)
	if ffmpegErr != nil {
		return fmt.Errorf("%w: %w", ErrFormatConversionFailed, errors.Join(decodeErr, ffmpegErr))
	}

	return nil
}

func (n *Normalizer) write(pcm *PCM, outputPath string) error {
	conformed := Conform(pcm, n.targetRate, DEFAULT_CHANNELS)

	err := os.WriteFile(outputPath, EncodeWAV(conformed), filePermissions)
	if err != nil {
		return fmt.Errorf("%w: failed to write normalized audio: %w", ErrFormatConversionFailed, err)
	}

	return nil
}

func (n *Normalizer) transcode(ctx context.Context, data []byte, outputPath string) error {
	err := ttsutils.EnsureDir(n.scratchDir)
	if err != nil {
		return err
	}

	inputPath := ttsutils.TempName(n.scratchDir, "normalize_in", "bin")

	err = os.WriteFile(inputPath, data, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to stage audio for ffmpeg: %w", err)
	}

	defer ttsutils.RemoveQuietly(n.log, inputPath)

	args := []string{
		"-y", "-loglevel", "error",
		"-i", inputPath,
		"-ac", strconv.Itoa(DEFAULT_CHANNELS),
		"-ar", strconv.Itoa(n.targetRate),
		"-acodec", "pcm_s16le",
		outputPath,
	}

	// #nosec G204 -- the binary path comes from configuration, paths are generated
	cmd := exec.CommandContext(ctx, n.ffmpegPath, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg execution failed: %w - output: %s", err, string(output))
	}

	return nil
}
