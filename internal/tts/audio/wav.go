package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// WAV chunk identifiers and layout constants.
const (
	chunkFmt             = "fmt "
	chunkData            = "data"
	chunkHeaderLength    = 8
	fmtChunkMinLength    = 16
	fmtExtensibleLength  = 40
	subFormatOffset      = 24
	wavHeaderLength      = 44
	riffSizeOffset       = 36
	waveFormatPCM        = 1
	waveFormatFloat      = 3
	waveFormatExtensible = 0xFFFE
	bitsPerByte          = 8
	int24Sign            = 1 << 23
	int24Range           = 1 << 24
	uint8Midpoint        = 128
)

// Error messages.
const (
	errFmtUnsupportedEncoding = "%w: unsupported encoding %d at %d bits"
	errFmtTruncatedChunk      = "%w: truncated %q chunk"
	errFmtMissingChunk        = "%w: missing %q chunk"
)

type wavHeader struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

// DecodeWAV parses a RIFF/WAVE buffer into 16-bit PCM. Integer PCM at 8, 16, 24
// and 32 bits and 32-bit float are accepted, plain or in an extensible fmt
// chunk. Streamed files with a bogus data
// length are read to the end of the buffer.
func DecodeWAV(data []byte) (*PCM, error) {
	if DetectFormat(data) != FORMAT_WAV {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		header  *wavHeader
		payload []byte
	)

	offset := riffHeaderLength
	for offset+chunkHeaderLength <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeaderLength

		if size < 0 || body+size > len(data) {
			if id != chunkData {
				return nil, fmt.Errorf(errFmtTruncatedChunk, ErrInvalidWAV, id)
			}

			size = len(data) - body
		}

		switch id {
		case chunkFmt:
			parsed, err := parseFmtChunk(data[body : body+size])
			if err != nil {
				return nil, err
			}

			header = parsed
		case chunkData:
			payload = data[body : body+size]
		}

		offset = body + size + size%2
	}

	if header == nil {
		return nil, fmt.Errorf(errFmtMissingChunk, ErrInvalidWAV, chunkFmt)
	}

	if payload == nil {
		return nil, fmt.Errorf(errFmtMissingChunk, ErrInvalidWAV, chunkData)
	}

	samples, err := decodeSamples(header, payload)
	if err != nil {
		return nil, err
	}

	pcm := &PCM{
		SampleRate: int(header.sampleRate),
		Channels:   int(header.channels),
		Samples:    samples,
	}

	err = pcm.Format().Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	return pcm, nil
}

func parseFmtChunk(body []byte) (*wavHeader, error) {
	if len(body) < fmtChunkMinLength {
		return nil, fmt.Errorf(errFmtTruncatedChunk, ErrInvalidWAV, chunkFmt)
	}

	header := &wavHeader{
		audioFormat:   binary.LittleEndian.Uint16(body[0:2]),
		channels:      binary.LittleEndian.Uint16(body[2:4]),
		sampleRate:    binary.LittleEndian.Uint32(body[4:8]),
		bitsPerSample: binary.LittleEndian.Uint16(body[14:16]),
	}

	// The real encoding of an extensible file is the first two bytes of its
	// SubFormat GUID.
	if header.audioFormat == waveFormatExtensible {
		if len(body) < fmtExtensibleLength {
			return nil, fmt.Errorf(errFmtTruncatedChunk, ErrInvalidWAV, chunkFmt)
		}

		header.audioFormat = binary.LittleEndian.Uint16(body[subFormatOffset : subFormatOffset+2])
	}

	return header, nil
}

func decodeSamples(header *wavHeader, payload []byte) ([]int16, error) {
	bits := int(header.bitsPerSample)
	isFloat := header.audioFormat == waveFormatFloat

	if header.audioFormat != waveFormatPCM && !isFloat {
		return nil, fmt.Errorf(errFmtUnsupportedEncoding, ErrInvalidWAV, header.audioFormat, bits)
	}

	width := bits / bitsPerByte
	if width == 0 || (isFloat && bits != BIT_DEPTH_32) {
		return nil, fmt.Errorf(errFmtUnsupportedEncoding, ErrInvalidWAV, header.audioFormat, bits)
	}

	count := len(payload) / width
	samples := make([]int16, count)

	for index := range count {
		raw := payload[index*width : (index+1)*width]

		switch {
		case isFloat:
			value := math.Float32frombits(binary.LittleEndian.Uint32(raw))
			samples[index] = clampSample(float64(value) * math.MaxInt16)
		case bits == BIT_DEPTH_8:
			samples[index] = int16(int(raw[0])-uint8Midpoint) << bitsPerByte
		case bits == BIT_DEPTH_16:
			samples[index] = int16(binary.LittleEndian.Uint16(raw))
		case bits == BIT_DEPTH_24:
			value := int(raw[0]) | int(raw[1])<<8 | int(raw[2])<<16
			if value&int24Sign != 0 {
				value -= int24Range
			}

			samples[index] = int16(value >> bitsPerByte)
		case bits == BIT_DEPTH_32:
			samples[index] = int16(int32(binary.LittleEndian.Uint32(raw)) >> 16)
		default:
			return nil, fmt.Errorf(errFmtUnsupportedEncoding, ErrInvalidWAV, header.audioFormat, bits)
		}
	}

	return samples, nil
}

// EncodeWAV wraps PCM in a canonical 44-byte-header WAV container.
func EncodeWAV(pcm *PCM) []byte {
	const bytesPerSample = BIT_DEPTH_16 / bitsPerByte

	dataLen := len(pcm.Samples) * bytesPerSample

	buf := &bytes.Buffer{}
	buf.Grow(wavHeaderLength + dataLen)

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(riffSizeOffset+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString(chunkFmt)
	_ = binary.Write(buf, binary.LittleEndian, uint32(fmtChunkMinLength))
	_ = binary.Write(buf, binary.LittleEndian, uint16(waveFormatPCM))
	_ = binary.Write(buf, binary.LittleEndian, uint16(pcm.Channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(pcm.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(pcm.SampleRate*pcm.Channels*bytesPerSample))
	_ = binary.Write(buf, binary.LittleEndian, uint16(pcm.Channels*bytesPerSample))
	_ = binary.Write(buf, binary.LittleEndian, uint16(BIT_DEPTH_16))

	buf.WriteString(chunkData)
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	_ = binary.Write(buf, binary.LittleEndian, pcm.Samples)

	return buf.Bytes()
}

// WrapPCM16 wraps raw little-endian 16-bit samples (as streamed by Piper-style
// engines) in a WAV container.
func WrapPCM16(raw []byte, sampleRate, channels int) []byte {
	samples := make([]int16, len(raw)/2)

	for index := range samples {
		samples[index] = int16(binary.LittleEndian.Uint16(raw[index*2:]))
	}

	return EncodeWAV(&PCM{SampleRate: sampleRate, Channels: channels, Samples: samples})
}
