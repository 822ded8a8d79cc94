package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// mp3Channels is fixed by the decoder: output is always 16-bit stereo.
const mp3Channels = 2

// DecodeMP3 decodes an MP3 stream into 16-bit PCM.
func DecodeMP3(data []byte) (*PCM, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open mp3 stream: %w", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mp3 stream: %w", err)
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: mp3 stream decoded to zero samples", ErrNoAudio)
	}

	samples := make([]int16, len(raw)/2)
	for index := range samples {
		samples[index] = int16(binary.LittleEndian.Uint16(raw[index*2:]))
	}

	return &PCM{
		SampleRate: decoder.SampleRate(),
		Channels:   mp3Channels,
		Samples:    samples,
	}, nil
}

// Decode tries every in-process decoder: WAV first, then MP3.
func Decode(data []byte) (*PCM, error) {
	pcm, wavErr := DecodeWAV(data)
	if wavErr == nil {
		return pcm, nil
	}

	pcm, mp3Err := DecodeMP3(data)
	if mp3Err == nil {
		return pcm, nil
	}

	return nil, fmt.Errorf("no decoder accepted %s input: wav: %w; mp3: %w", DetectFormat(data), wavErr, mp3Err)
}
