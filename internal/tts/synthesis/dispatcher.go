package synthesis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/tts/audio"
	"github.com/book-expert/voice-service/internal/tts/text"
	"golang.org/x/sync/semaphore"
)

// trivialPunctuationLength is the trimmed length at or below which a
// punctuation segment is skipped.
const trivialPunctuationLength = 2

// Log formats.
const (
	logFmtSegmentFailed    = "Segment %d/%d (%s, voice %s) failed, dropping it: %v"
	logFmtSegmentSkipped   = "Skipping trivial segment %d/%d: %q"
	logFmtSegmentsDispatch = "Dispatching %d of %d segments (concurrency %d)"
	logFmtEngineUnhealthy  = "Synthesis engine health check failed: %v"
	errFmtSegmentFailed    = "%w: segment %d: %w"
)

// Params are the caller's synthesis settings for one dispatch.
type Params struct {
	BaseVoice        string
	Speed            float64
	PitchHz          int
	ConcurrencyLimit int
}

// Dispatcher synthesizes segments through an Engine and merges the results.
type Dispatcher struct {
	engine    Engine
	catalog   *VoiceCatalog
	assembler *audio.Assembler
	log       *logger.Logger
	available atomic.Bool
}

// NewDispatcher wires a dispatcher. The engine is assumed available until a
// health check says otherwise.
func NewDispatcher(
	engine Engine,
	catalog *VoiceCatalog,
	assembler *audio.Assembler,
	log *logger.Logger,
) *Dispatcher {
	dispatcher := &Dispatcher{
		engine:    engine,
		catalog:   catalog,
		assembler: assembler,
		log:       log,
	}
	dispatcher.available.Store(true)

	return dispatcher
}

// Catalog exposes the voice table.
func (d *Dispatcher) Catalog() *VoiceCatalog {
	return d.catalog
}

// Available reports the cached engine availability.
func (d *Dispatcher) Available() bool {
	return d.available.Load()
}

// Reinit re-checks the engine and refreshes the availability flag. It is
// called when the compute device changes.
func (d *Dispatcher) Reinit(ctx context.Context, _ string) error {
	err := d.engine.HealthCheck(ctx)
	if err != nil {
		d.available.Store(false)
		d.log.Warn(logFmtEngineUnhealthy, err)

		return fmt.Errorf("%w: %w", ErrSynthesisUnavailable, err)
	}

	d.available.Store(true)

	return nil
}

// SynthesizeAll turns segments into one audio buffer. A single segment goes
// straight to the engine with the caller's voice. Otherwise each segment gets
// its language's voice, failures drop the segment, and the call fails only when
// nothing was produced. Output order always follows segment order.
func (d *Dispatcher) SynthesizeAll(ctx context.Context, segments []text.Segment, params Params) ([]byte, error) {
	if !d.available.Load() {
		err := d.Reinit(ctx, "")
		if err != nil {
			return nil, err
		}
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrSynthesisExhausted, ErrTextEmpty)
	}

	if len(segments) == 1 {
		data, err := Collect(ctx, d.engine, d.request(segments[0].Text, params.BaseVoice, params))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSynthesisExhausted, err)
		}

		return data, nil
	}

	valid := d.validIndexes(segments)
	results := make([][]byte, len(segments))
	limit := params.ConcurrencyLimit

	d.log.Info(logFmtSegmentsDispatch, len(valid), len(segments), max(limit, 1))

	if limit > 1 && len(valid) > 1 {
		d.runConcurrent(ctx, segments, valid, params, results)
	} else {
		for _, index := range valid {
			results[index] = d.synthesizeSegment(ctx, segments, index, params)
		}
	}

	clips := make([][]byte, 0, len(valid))

	for _, clip := range results {
		if len(clip) > 0 {
			clips = append(clips, clip)
		}
	}

	if len(clips) == 0 {
		return nil, ErrSynthesisExhausted
	}

	return d.assembler.Merge(clips)
}

func (d *Dispatcher) runConcurrent(
	ctx context.Context,
	segments []text.Segment,
	valid []int,
	params Params,
	results [][]byte,
) {
	var waitGroup sync.WaitGroup

	slots := semaphore.NewWeighted(int64(params.ConcurrencyLimit))

	for _, index := range valid {
		err := slots.Acquire(ctx, 1)
		if err != nil {
			d.log.Warn(logFmtSegmentFailed, index+1, len(segments),
				segments[index].Language, params.BaseVoice, err)

			continue
		}

		waitGroup.Add(1)

		go func(index int) {
			defer waitGroup.Done()
			defer slots.Release(1)

			results[index] = d.synthesizeSegment(ctx, segments, index, params)
		}(index)
	}

	waitGroup.Wait()
}

// synthesizeSegment returns nil on failure after logging it.
func (d *Dispatcher) synthesizeSegment(
	ctx context.Context,
	segments []text.Segment,
	index int,
	params Params,
) []byte {
	segment := segments[index]
	voice := d.catalog.VoiceFor(segment.Language, params.BaseVoice)

	data, err := Collect(ctx, d.engine, d.request(segment.Text, voice, params))
	if err != nil {
		d.log.Warn(logFmtSegmentFailed, index+1, len(segments), segment.Language, voice,
			fmt.Errorf(errFmtSegmentFailed, ErrSegmentFailed, index, err))

		return nil
	}

	return data
}

func (d *Dispatcher) validIndexes(segments []text.Segment) []int {
	valid := make([]int, 0, len(segments))

	for index, segment := range segments {
		trimmed := strings.TrimSpace(segment.Text)

		switch {
		case trimmed == "":
			continue
		case segment.Language == text.LanguagePunctuation &&
			utf8.RuneCountInString(trimmed) <= trivialPunctuationLength:
			d.log.Info(logFmtSegmentSkipped, index+1, len(segments), trimmed)

			continue
		}

		valid = append(valid, index)
	}

	return valid
}

func (d *Dispatcher) request(segmentText, voice string, params Params) Request {
	return Request{
		Text:  strings.TrimSpace(segmentText),
		Voice: voice,
		Rate:  FormatRate(params.Speed),
		Pitch: FormatPitch(params.PitchHz),
	}
}
