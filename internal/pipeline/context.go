package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/device"
	"github.com/book-expert/voice-service/internal/tts/audio"
	"github.com/book-expert/voice-service/internal/tts/conversion"
	"github.com/book-expert/voice-service/internal/tts/models"
	"github.com/book-expert/voice-service/internal/tts/synthesis"
	"github.com/book-expert/voice-service/internal/tts/text"
	"github.com/book-expert/voice-service/internal/tts/ttsutils"
)

const (
	logFmtContextReady = "Pipeline context ready: backend=%s conversion=%t models=%s " +
		"batch=%d concurrency=%d memory_fraction=%.2f"
	logFmtFallbackLanguage = "Unknown segmenter fallback language %q, using %s"
	logFmtWatchFailed      = "Model directory watch not started: %v"
)

// Context is the process-wide state shared by every pipeline call. It is
// built once at startup; device changes go through Reconfigure.
type Context struct {
	Config     *config.Config
	Log        *logger.Logger
	Segmenter  *text.Segmenter
	Dispatcher *synthesis.Dispatcher
	Assembler  *audio.Assembler
	Models     *models.Repository
	Adapter    *conversion.Adapter
	Devices    *device.Manager
	Pipeline   *Pipeline

	cancel context.CancelFunc
}

// Options override the collaborators NewContext would otherwise build from
// configuration. Zero fields use the configured defaults.
type Options struct {
	SynthesisEngine  synthesis.Engine
	ConversionEngine conversion.Engine
	Prober           device.Prober
}

// NewContext builds every component from cfg and registers the components
// that cache engine state with the device manager.
func NewContext(cfg *config.Config, log *logger.Logger, opts Options) (*Context, error) {
	watchCtx, cancel := context.WithCancel(context.Background())

	fallback, ok := text.ParseLanguage(cfg.Segmenter.FallbackLanguage)
	if !ok {
		log.Warn(logFmtFallbackLanguage, cfg.Segmenter.FallbackLanguage, fallback)
	}

	engine := opts.SynthesisEngine
	if engine == nil {
		var err error

		engine, err = newSynthesisEngine(cfg.Synthesis)
		if err != nil {
			cancel()

			return nil, err
		}
	}

	prober := opts.Prober
	if prober == nil {
		prober = device.NewSystemProber(cfg.Device.NvidiaSMI)
	}

	scratchDir := ttsutils.ScratchDir(cfg.Paths.ScratchDir)
	assembler := audio.NewAssembler(time.Duration(cfg.Assembler.GapMS)*time.Millisecond, log)
	dispatcher := synthesis.NewDispatcher(engine, synthesis.NewVoiceCatalog(cfg.Synthesis.Voices), assembler, log)
	repo := models.NewRepository(cfg.Conversion.ModelsDir, log)
	devices := device.NewManager(prober, log)

	var converter Converter

	var adapter *conversion.Adapter

	if cfg.Conversion.Enabled {
		convEngine := opts.ConversionEngine
		if convEngine == nil {
			convEngine = conversion.NewSubprocessEngine(
				cfg.Conversion.Binary,
				cfg.Conversion.ExtraArgs,
				cfg.Performance.MemoryFraction,
				log,
			)
		}

		normalizer := audio.NewNormalizer(cfg.Conversion.SampleRate, cfg.Conversion.FFmpegPath, scratchDir, log)
		adapter = conversion.NewAdapter(convEngine, repo, normalizer, devices, conversion.Options{
			DefaultModel:    cfg.Conversion.DefaultModel,
			DefaultF0Method: cfg.Conversion.F0Method,
			ScratchDir:      scratchDir,
			Device:          devices.Current(),
		}, log)
		converter = adapter

		devices.Register(adapter)

		if cfg.Conversion.WatchModels {
			err := repo.Watch(watchCtx)
			if err != nil {
				log.Warn(logFmtWatchFailed, err)
			}
		}
	}

	devices.Register(dispatcher)

	pipeline := New(text.NewSegmenter(fallback, log), dispatcher, converter, Settings{
		ConcurrencyLimit: cfg.Performance.ConcurrencyLimit,
		BatchSize:        cfg.Performance.BatchSize,
		MaxChunkSize:     cfg.Chunker.MaxChunkSize,
		ChunkPause:       time.Duration(cfg.Chunker.PauseMS) * time.Millisecond,
		IndexRatio:       cfg.Conversion.IndexRatio,
	}, log)

	log.Info(logFmtContextReady, cfg.Synthesis.Backend, cfg.Conversion.Enabled, repo.Dir(),
		cfg.Performance.BatchSize, cfg.Performance.ConcurrencyLimit, cfg.Performance.MemoryFraction)

	return &Context{
		Config:     cfg,
		Log:        log,
		Segmenter:  pipeline.segmenter,
		Dispatcher: dispatcher,
		Assembler:  assembler,
		Models:     repo,
		Adapter:    adapter,
		Devices:    devices,
		Pipeline:   pipeline,
		cancel:     cancel,
	}, nil
}

func newSynthesisEngine(cfg config.SynthesisConfig) (synthesis.Engine, error) {
	switch cfg.Backend {
	case config.BackendHTTP:
		return synthesis.NewHTTPEngine(cfg.ServiceURL, time.Duration(cfg.TimeoutSeconds)*time.Second), nil
	case config.BackendWyoming:
		return synthesis.NewWyomingEngine(cfg.WyomingEndpoint), nil
	default:
		return nil, fmt.Errorf("%w: unknown synthesis backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}

// Reconfigure switches the compute device. Components bound to the old device
// are reinitialized; selecting the active device changes nothing.
func (c *Context) Reconfigure(ctx context.Context, choice string) (string, error) {
	applied, err := c.Devices.Select(ctx, choice)
	if err != nil {
		return applied, fmt.Errorf("failed to select device %q: %w", choice, err)
	}

	return applied, nil
}

// Process runs one request.
func (c *Context) Process(ctx context.Context, req Request) *Result {
	return c.Pipeline.ProcessLong(ctx, req)
}

// Close stops background watchers.
func (c *Context) Close() {
	c.cancel()
}
