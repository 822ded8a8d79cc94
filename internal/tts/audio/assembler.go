package audio

import (
	"bytes"
	"time"

	"github.com/book-expert/logger"
)

// DEFAULT_SEGMENT_GAP is the silence inserted between merged segment clips.
const DEFAULT_SEGMENT_GAP = 100 * time.Millisecond

// Assembler merges per-segment clips into one WAV buffer.
type Assembler struct {
	gap time.Duration
	log *logger.Logger
}

// NewAssembler creates an assembler. A negative gap selects DEFAULT_SEGMENT_GAP;
// zero means clips are butted together.
func NewAssembler(gap time.Duration, log *logger.Logger) *Assembler {
	if gap < 0 {
		gap = DEFAULT_SEGMENT_GAP
	}

	return &Assembler{gap: gap, log: log}
}

// Gap returns the configured inter-clip silence.
func (a *Assembler) Gap() time.Duration {
	return a.gap
}

// Merge concatenates clips in order. A single clip is returned unchanged. Clips
// that cannot be decoded are skipped; when none decode the raw bytes are joined
// as a degraded result.
func (a *Assembler) Merge(clips [][]byte) ([]byte, error) {
	nonEmpty := make([][]byte, 0, len(clips))

	for _, clip := range clips {
		if len(clip) > 0 {
			nonEmpty = append(nonEmpty, clip)
		}
	}

	switch len(nonEmpty) {
	case 0:
		return nil, ErrNoAudio
	case 1:
		return nonEmpty[0], nil
	}

	decoded := make([]*PCM, 0, len(nonEmpty))

	for index, clip := range nonEmpty {
		pcm, err := Decode(clip)
		if err != nil {
			a.warn("Skipping clip %d of %d during merge: %v", index+1, len(nonEmpty), err)

			continue
		}

		decoded = append(decoded, pcm)
	}

	if len(decoded) == 0 {
		a.warn("No clip could be decoded, concatenating %d raw buffers", len(nonEmpty))

		return bytes.Join(nonEmpty, nil), nil
	}

	return EncodeWAV(Concat(decoded, a.gap)), nil
}

func (a *Assembler) warn(format string, args ...any) {
	if a.log != nil {
		a.log.Warn(format, args...)
	}
}
