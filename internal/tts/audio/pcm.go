package audio

import (
	"math"
	"time"
)

// PCM is decoded, interleaved 16-bit audio.
type PCM struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Frames returns the number of sample frames (samples per channel).
func (p *PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}

	return len(p.Samples) / p.Channels
}

// Duration returns the playback length.
func (p *PCM) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}

	return time.Duration(p.Frames()) * time.Second / time.Duration(p.SampleRate)
}

// Format reports the PCM layout.
func (p *PCM) Format() PCMFormat {
	return PCMFormat{SampleRate: p.SampleRate, BitDepth: BIT_DEPTH_16, Channels: p.Channels}
}

// Silence returns a zeroed clip of the given length in the given layout.
func Silence(duration time.Duration, sampleRate, channels int) *PCM {
	frames := 0
	if duration > 0 && sampleRate > 0 {
		frames = int(int64(duration) * int64(sampleRate) / int64(time.Second))
	}

	return &PCM{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    make([]int16, frames*channels),
	}
}

// ConvertChannels reshapes p to the target channel count. Downmixing averages
// channels; upmixing repeats the mono signal (or the channel average).
func ConvertChannels(p *PCM, channels int) *PCM {
	if channels <= 0 || p.Channels == channels {
		return p
	}

	frames := p.Frames()
	out := make([]int16, frames*channels)

	for frame := range frames {
		sum := 0

		for ch := range p.Channels {
			sum += int(p.Samples[frame*p.Channels+ch])
		}

		mixed := int16(sum / p.Channels)

		for ch := range channels {
			out[frame*channels+ch] = mixed
		}
	}

	return &PCM{SampleRate: p.SampleRate, Channels: channels, Samples: out}
}

// Resample converts p to the target rate with linear interpolation.
func Resample(p *PCM, sampleRate int) *PCM {
	if sampleRate <= 0 || p.SampleRate == sampleRate || p.SampleRate <= 0 {
		return p
	}

	frames := p.Frames()
	if frames == 0 {
		return &PCM{SampleRate: sampleRate, Channels: p.Channels}
	}

	outFrames := int(int64(frames) * int64(sampleRate) / int64(p.SampleRate))
	out := make([]int16, outFrames*p.Channels)
	ratio := float64(p.SampleRate) / float64(sampleRate)

	for frame := range outFrames {
		position := float64(frame) * ratio
		index := int(position)
		frac := position - float64(index)
		next := min(index+1, frames-1)

		for ch := range p.Channels {
			a := float64(p.Samples[index*p.Channels+ch])
			b := float64(p.Samples[next*p.Channels+ch])
			out[frame*p.Channels+ch] = clampSample(a + (b-a)*frac)
		}
	}

	return &PCM{SampleRate: sampleRate, Channels: p.Channels, Samples: out}
}

// Conform reshapes p to the given rate and channel count.
func Conform(p *PCM, sampleRate, channels int) *PCM {
	return Resample(ConvertChannels(p, channels), sampleRate)
}

// Concat joins clips into the layout of the first clip, inserting gap of
// silence between consecutive clips.
func Concat(clips []*PCM, gap time.Duration) *PCM {
	if len(clips) == 0 {
		return nil
	}

	first := clips[0]
	silence := Silence(gap, first.SampleRate, first.Channels)

	total := 0
	for _, clip := range clips {
		total += len(clip.Samples) + len(silence.Samples)
	}

	out := make([]int16, 0, total)

	for index, clip := range clips {
		if index > 0 {
			out = append(out, silence.Samples...)
		}

		conformed := Conform(clip, first.SampleRate, first.Channels)
		out = append(out, conformed.Samples...)
	}

	return &PCM{SampleRate: first.SampleRate, Channels: first.Channels, Samples: out}
}

func clampSample(value float64) int16 {
	rounded := math.Round(value)

	switch {
	case rounded > math.MaxInt16:
		return math.MaxInt16
	case rounded < math.MinInt16:
		return math.MinInt16
	default:
		return int16(rounded)
	}
}
