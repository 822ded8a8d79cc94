// Package pipeline composes segmentation, synthesis, assembly and voice
// conversion into one request/response call with step tracking.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/tts/audio"
	"github.com/book-expert/voice-service/internal/tts/conversion"
	"github.com/book-expert/voice-service/internal/tts/synthesis"
	"github.com/book-expert/voice-service/internal/tts/text"
	"golang.org/x/sync/errgroup"
)

// ErrEmptyText is returned for blank input.
var ErrEmptyText = errors.New("text cannot be empty")

// Synthesizer turns segments into one audio buffer.
type Synthesizer interface {
	SynthesizeAll(ctx context.Context, segments []text.Segment, params synthesis.Params) ([]byte, error)
}

// Converter re-voices audio.
type Converter interface {
	Available() bool
	DefaultF0Method() string
	Convert(ctx context.Context, audioData []byte, req conversion.ConversionRequest) (*conversion.Result, error)
}

// SynthesisParams are the caller's synthesis settings.
type SynthesisParams struct {
	Voice         string  `json:"voice"`
	Speed         float64 `json:"speed"`
	PitchHz       int     `json:"pitch_hz"`
	MultiLanguage bool    `json:"multi_language"`
	Clean         bool    `json:"clean"`
}

// ConversionParams request optional voice conversion. Model may be any value;
// it is normalized before use. A nil IndexRatio takes Settings.IndexRatio.
type ConversionParams struct {
	Enabled    bool     `json:"enabled"`
	Model      any      `json:"model"`
	PitchShift int      `json:"pitch_shift"`
	IndexRatio *float64 `json:"index_ratio,omitempty"`
	F0Method   string   `json:"f0_method"`
	Preset     string   `json:"preset"`
}

// Request is one pipeline call.
type Request struct {
	Text       string            `json:"text"`
	Synthesis  SynthesisParams   `json:"synthesis"`
	Conversion *ConversionParams `json:"conversion,omitempty"`
}

// Settings are the pipeline-level tuning values.
type Settings struct {
	ConcurrencyLimit int
	// BatchSize is how many chunks ProcessLong runs at once.
	BatchSize    int
	MaxChunkSize int
	ChunkPause   time.Duration
	// IndexRatio applies when a request does not set one.
	IndexRatio float64
}

// Pipeline runs requests against its collaborators.
type Pipeline struct {
	cleaner     *text.Cleaner
	segmenter   *text.Segmenter
	synthesizer Synthesizer
	converter   Converter
	settings    Settings
	log         *logger.Logger
}

// New wires a pipeline. converter may be nil when conversion is not deployed.
func New(
	segmenter *text.Segmenter,
	synthesizer Synthesizer,
	converter Converter,
	settings Settings,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		cleaner:     text.NewCleaner(),
		segmenter:   segmenter,
		synthesizer: synthesizer,
		converter:   converter,
		settings:    settings,
		log:         log,
	}
}

// Process synthesizes req.Text and, when asked, converts the result. Only a
// synthesis failure makes the call unsuccessful; conversion problems are
// recorded as steps and the synthesis audio is kept as the final audio.
func (p *Pipeline) Process(ctx context.Context, req Request) *Result {
	result := newResult()

	input := req.Text
	if req.Synthesis.Clean {
		input = p.cleaner.Clean(input)
		result.step(StepCleaned)
	}

	if strings.TrimSpace(input) == "" {
		return result.fail(ErrEmptyText)
	}

	segments := p.segment(input, req.Synthesis.MultiLanguage)
	result.Stats[StatSegments] = len(segments)
	result.Stats[StatLanguages] = languages(segments)

	started := time.Now()

	synthesized, err := p.synthesizer.SynthesizeAll(ctx, segments, synthesis.Params{
		BaseVoice:        req.Synthesis.Voice,
		Speed:            req.Synthesis.Speed,
		PitchHz:          req.Synthesis.PitchHz,
		ConcurrencyLimit: p.settings.ConcurrencyLimit,
	})
	if err != nil {
		p.log.Error("Synthesis failed: %v", err)

		return result.fail(err)
	}

	result.Success = true
	result.SynthesisAudio = synthesized
	result.FinalAudio = synthesized
	result.step(StepSynthesis)
	result.Stats[StatSynthesisBytes] = len(synthesized)
	result.Stats[StatSynthesisMS] = time.Since(started).Milliseconds()

	if req.Conversion != nil && req.Conversion.Enabled {
		p.convert(ctx, req.Conversion, result)
	}

	result.Stats[StatFinalBytes] = len(result.FinalAudio)

	return result
}

func (p *Pipeline) segment(input string, multiLanguage bool) []text.Segment {
	if !multiLanguage {
		return []text.Segment{{Text: input, Language: text.LanguageUnknown}}
	}

	return p.segmenter.Segment(input)
}

func (p *Pipeline) convert(ctx context.Context, params *ConversionParams, result *Result) {
	if _, ok := conversion.NormalizeModelName(params.Model); !ok {
		result.step(StepConversionNoModel)
		result.warn(conversion.ErrNoModel.Error())

		return
	}

	if p.converter == nil || !p.converter.Available() {
		p.conversionFailed(result, conversion.ErrConversionUnavailable)

		return
	}

	indexRatio := p.settings.IndexRatio
	if params.IndexRatio != nil {
		indexRatio = *params.IndexRatio
	}

	req, err := conversion.NewConversionRequest(
		params.Model,
		params.PitchShift,
		indexRatio,
		params.F0Method,
		params.Preset,
		p.converter.DefaultF0Method(),
	)
	if err != nil {
		p.conversionFailed(result, err)

		return
	}

	started := time.Now()

	converted, err := p.converter.Convert(ctx, result.SynthesisAudio, req)
	if err != nil {
		p.conversionFailed(result, err)

		return
	}

	if converted.Warning != "" {
		result.warn(converted.Warning)
	}

	result.ConvertedAudio = converted.Audio
	result.FinalAudio = converted.Audio
	result.step(StepConversion)
	result.Stats[StatConvertedBytes] = len(converted.Audio)
	result.Stats[StatConversionMS] = time.Since(started).Milliseconds()
	result.Stats[StatModel] = converted.Model.Name
}

func (p *Pipeline) conversionFailed(result *Result, err error) {
	p.log.Warn("Conversion failed, keeping synthesis audio: %v", err)

	result.step(StepConversionFailed)
	result.Error = err.Error()
}

// ProcessLong chunks req.Text, runs Process per chunk and joins the chunk
// audio with a pause. Steps are prefixed with the chunk number. Failed chunks
// are skipped; the call fails only when every chunk fails. ConvertedAudio is
// set only when every surviving chunk was converted.
func (p *Pipeline) ProcessLong(ctx context.Context, req Request) *Result {
	chunks := text.Chunk(req.Text, p.settings.MaxChunkSize)
	if len(chunks) <= 1 {
		return p.Process(ctx, req)
	}

	result := newResult()
	result.step(StepChunked)
	result.Stats[StatChunks] = len(chunks)

	chunkResults := p.processChunks(ctx, req, chunks)

	var (
		finals      = make([][]byte, 0, len(chunks))
		synthesized = make([][]byte, 0, len(chunks))
		converted   = make([][]byte, 0, len(chunks))
		failed      int
	)

	var errs []string

	for index, chunkResult := range chunkResults {
		for _, tag := range chunkResult.Steps {
			result.step(fmt.Sprintf("chunk_%d:%s", index+1, tag))
		}

		result.Warnings = append(result.Warnings, chunkResult.Warnings...)

		if chunkResult.Error != "" {
			errs = append(errs, fmt.Sprintf("chunk %d: %s", index+1, chunkResult.Error))
		}

		if !chunkResult.Success {
			failed++

			continue
		}

		finals = append(finals, chunkResult.FinalAudio)
		synthesized = append(synthesized, chunkResult.SynthesisAudio)

		if chunkResult.ConvertedAudio != nil {
			converted = append(converted, chunkResult.ConvertedAudio)
		}
	}

	result.Stats[StatFailedChunks] = failed
	result.Error = strings.Join(errs, "; ")

	if len(finals) == 0 {
		result.Success = false

		return result
	}

	assembler := audio.NewAssembler(p.settings.ChunkPause, p.log)

	joined, err := assembler.Merge(finals)
	if err != nil {
		return result.fail(err)
	}

	result.SynthesisAudio, err = assembler.Merge(synthesized)
	if err != nil {
		return result.fail(err)
	}

	if len(converted) == len(finals) {
		result.ConvertedAudio, err = assembler.Merge(converted)
		if err != nil {
			return result.fail(err)
		}
	}

	result.Success = true
	result.FinalAudio = joined
	result.Stats[StatFinalBytes] = len(joined)

	return result
}

// processChunks runs up to BatchSize chunks at once and returns the results
// in chunk order.
func (p *Pipeline) processChunks(ctx context.Context, req Request, chunks []string) []*Result {
	results := make([]*Result, len(chunks))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(1, p.settings.BatchSize))

	for index, chunk := range chunks {
		chunkReq := req
		chunkReq.Text = chunk

		group.Go(func() error {
			results[index] = p.Process(groupCtx, chunkReq)

			return nil
		})
	}

	_ = group.Wait()

	return results
}

func languages(segments []text.Segment) []string {
	seen := make(map[text.Language]bool, len(segments))
	tags := make([]string, 0, len(segments))

	for _, segment := range segments {
		if !seen[segment.Language] {
			seen[segment.Language] = true
			tags = append(tags, segment.Language.String())
		}
	}

	return tags
}
