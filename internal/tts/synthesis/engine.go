// Package synthesis turns text segments into audio by calling an external speech
// synthesis engine. It owns the engine contract, the HTTP and Wyoming clients,
// the per-language voice catalogue and the bounded-concurrency dispatcher.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
)

// Common errors for the synthesis package.
var (
	ErrSegmentFailed        = errors.New("segment synthesis failed")
	ErrSynthesisExhausted   = errors.New("every segment failed to synthesize")
	ErrEmptyAudio           = errors.New("synthesis engine returned an empty stream")
	ErrSynthesisUnavailable = errors.New("synthesis engine unavailable")
	ErrTextEmpty            = errors.New("text cannot be empty")
	ErrVoiceEmpty           = errors.New("voice cannot be empty")
	ErrFrameTooLarge        = errors.New("wyoming frame too large")
)

// Rate and pitch formatting.
const (
	formatRate       = "%+d%%"
	formatPitch      = "%+dHz"
	percentScale     = 100
	normalSpeed      = 1.0
	errFmtReadStream = "failed to read synthesis stream: %w"
)

// Request is a single call into the synthesis engine.
type Request struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Rate  string `json:"rate"`
	Pitch string `json:"pitch"`
}

// Validate checks the fields every engine needs.
func (r Request) Validate() error {
	if r.Text == "" {
		return ErrTextEmpty
	}

	if r.Voice == "" {
		return ErrVoiceEmpty
	}

	return nil
}

// Engine is the external speech synthesis service. Synthesize returns the audio
// as a stream of chunks; the caller owns and closes it.
type Engine interface {
	Synthesize(ctx context.Context, req Request) (io.ReadCloser, error)
	HealthCheck(ctx context.Context) error
}

// FormatRate renders a speed multiplier as a signed percentage: 1.25 -> "+25%".
func FormatRate(speed float64) string {
	if speed <= 0 {
		speed = normalSpeed
	}

	return fmt.Sprintf(formatRate, int(math.Round((speed-normalSpeed)*percentScale)))
}

// FormatPitch renders a pitch adjustment in Hz: -10 -> "-10Hz".
func FormatPitch(hz int) string {
	return fmt.Sprintf(formatPitch, hz)
}

// Collect runs one request and reads the whole stream. An empty stream is
// reported as ErrEmptyAudio.
func Collect(ctx context.Context, engine Engine, req Request) ([]byte, error) {
	stream, err := engine.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadStream, err)
	}

	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	return data, nil
}
