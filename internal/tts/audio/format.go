// Package audio provides the audio plumbing for the voice pipeline: WAV and MP3
// decoding, PCM reshaping, merging of per-segment clips, and normalization of
// arbitrary input into the PCM layout the conversion engine expects.
package audio

import (
	"bytes"
	"errors"
	"fmt"
)

// Constants for default audio settings.
const (
	DEFAULT_SAMPLE_RATE            = 24000 // Typical neural TTS output rate.
	DEFAULT_CONVERSION_SAMPLE_RATE = 16000 // Rate the conversion engine's feature extractor runs at.
	DEFAULT_BIT_DEPTH              = 16
	DEFAULT_CHANNELS               = 1
)

// Constants for supported bit depths.
const (
	BIT_DEPTH_8  = 8
	BIT_DEPTH_16 = 16
	BIT_DEPTH_24 = 24
	BIT_DEPTH_32 = 32
)

// Constants for validation limits.
const (
	MAX_SAMPLE_RATE = 192000
	MAX_CHANNELS    = 8
)

// Constants for error messages and formats.
const (
	ERR_FMT_SAMPLE_RATE_RANGE = "%w: sample rate must be between 1 and %d Hz"
	ERR_FMT_BIT_DEPTH_VALUES  = "%w: bit depth must be 8, 16, 24, or 32"
	ERR_FMT_CHANNELS_RANGE    = "%w: channels must be between 1 and %d"
)

// Common errors for the audio package.
var (
	ErrInvalidFormat          = errors.New("invalid audio format")
	ErrInvalidWAV             = errors.New("invalid wav data")
	ErrNoAudio                = errors.New("no audio data")
	ErrFormatConversionFailed = errors.New("format conversion failed")
)

// Format represents supported audio container formats.
type Format string

const (
	FORMAT_WAV     Format = "wav"
	FORMAT_MP3     Format = "mp3"
	FORMAT_FLAC    Format = "flac"
	FORMAT_OGG     Format = "ogg"
	FORMAT_UNKNOWN Format = "unknown"
)

// Magic numbers used by DetectFormat.
var (
	magicRIFF = []byte("RIFF")
	magicWAVE = []byte("WAVE")
	magicID3  = []byte("ID3")
	magicOGG  = []byte("OggS")
	magicFLAC = []byte("fLaC")
)

const (
	riffHeaderLength = 12
	mp3SyncByte      = 0xFF
	mp3SyncMask      = 0xE0
)

// PCMFormat describes an interleaved PCM layout.
type PCMFormat struct {
	SampleRate int `json:"sampleRate"`
	BitDepth   int `json:"bitDepth"`
	Channels   int `json:"channels"`
}

// ConversionInputFormat is the mono 16-bit layout handed to the conversion engine.
func ConversionInputFormat(sampleRate int) PCMFormat {
	if sampleRate <= 0 {
		sampleRate = DEFAULT_CONVERSION_SAMPLE_RATE
	}

	return PCMFormat{
		SampleRate: sampleRate,
		BitDepth:   DEFAULT_BIT_DEPTH,
		Channels:   DEFAULT_CHANNELS,
	}
}

// Validate checks that the layout is within reasonable bounds.
func (f PCMFormat) Validate() error {
	sampleRateErr := validateSampleRate(f.SampleRate)
	if sampleRateErr != nil {
		return sampleRateErr
	}

	bitDepthErr := validateBitDepth(f.BitDepth)
	if bitDepthErr != nil {
		return bitDepthErr
	}

	channelsErr := validateChannels(f.Channels)
	if channelsErr != nil {
		return channelsErr
	}

	return nil
}

// DetectFormat sniffs the container format from the leading bytes.
func DetectFormat(data []byte) Format {
	switch {
	case len(data) >= riffHeaderLength &&
		bytes.Equal(data[:4], magicRIFF) && bytes.Equal(data[8:12], magicWAVE):
		return FORMAT_WAV
	case bytes.HasPrefix(data, magicID3):
		return FORMAT_MP3
	case len(data) >= 2 && data[0] == mp3SyncByte && data[1]&mp3SyncMask == mp3SyncMask:
		return FORMAT_MP3
	case bytes.HasPrefix(data, magicOGG):
		return FORMAT_OGG
	case bytes.HasPrefix(data, magicFLAC):
		return FORMAT_FLAC
	default:
		return FORMAT_UNKNOWN
	}
}

//
// Validation Helpers
//

func validateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > MAX_SAMPLE_RATE {
		return fmt.Errorf(
			ERR_FMT_SAMPLE_RATE_RANGE,
			ErrInvalidFormat,
			MAX_SAMPLE_RATE,
		)
	}

	return nil
}

func validateBitDepth(bitDepth int) error {
	switch bitDepth {
	case BIT_DEPTH_8, BIT_DEPTH_16, BIT_DEPTH_24, BIT_DEPTH_32:
		return nil
	default:
		return fmt.Errorf(ERR_FMT_BIT_DEPTH_VALUES, ErrInvalidFormat)
	}
}

func validateChannels(channels int) error {
	if channels <= 0 || channels > MAX_CHANNELS {
		return fmt.Errorf(ERR_FMT_CHANNELS_RANGE, ErrInvalidFormat, MAX_CHANNELS)
	}

	return nil
}
