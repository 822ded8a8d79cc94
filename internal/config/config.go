// Package config provides the configuration structure for the voice-service.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Synthesis backends.
const (
	BackendHTTP    = "http"
	BackendWyoming = "wyoming"
)

// Defaults applied by ApplyDefaults.
const (
	defaultNATSURL             = "nats://127.0.0.1:4222"
	defaultJobSubject          = "voice.jobs"
	defaultTextBucket          = "VOICE_TEXT"
	defaultAudioBucket         = "VOICE_AUDIO"
	defaultJobTimeoutSeconds   = 300
	defaultServiceURL          = "http://127.0.0.1:8000"
	defaultBaseVoice           = "en-US-AriaNeural"
	defaultSpeed               = 1.0
	defaultSynthTimeoutSeconds = 60
	defaultConverterBinary     = "rvc-infer"
	defaultModelsDir           = "models"
	defaultF0Method            = "rmvpe"
	defaultIndexRatio          = 0.75
	defaultSampleRate          = 16000
	defaultFFmpegPath          = "ffmpeg"
	defaultDevice              = "auto"
	defaultNvidiaSMI           = "nvidia-smi"
	defaultFallbackLanguage    = "unknown"
	defaultGapMS               = 100
	defaultMaxChunkSize        = 500
	defaultPauseMS             = 300
	defaultBatchSize           = 1
	defaultConcurrencyLimit    = 4
	defaultMemoryFraction      = 0.8
	defaultLogsDir             = "logs"
)

var (
	// ErrInvalidConfig is the root of every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Error message formats.
const (
	errFmtNegative      = "%w: %s must not be negative, got %v"
	errFmtOutOfRange    = "%w: %s must be between %v and %v, got %v"
	errFmtUnknownOption = "%w: unknown %s %q"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL               string `toml:"url"`
	JobSubject        string `toml:"job_subject"`
	QueueGroup        string `toml:"queue_group"`
	TextBucket        string `toml:"text_object_store_bucket"`
	AudioBucket       string `toml:"audio_object_store_bucket"`
	JobTimeoutSeconds int    `toml:"job_timeout_seconds"`
}

// SynthesisConfig selects and tunes the external synthesis engine.
type SynthesisConfig struct {
	Backend         string            `toml:"backend"`
	ServiceURL      string            `toml:"service_url"`
	WyomingEndpoint string            `toml:"wyoming_endpoint"`
	BaseVoice       string            `toml:"base_voice"`
	Speed           float64           `toml:"speed"`
	PitchHz         int               `toml:"pitch_hz"`
	TimeoutSeconds  int               `toml:"timeout_seconds"`
	MultiLanguage   bool              `toml:"multi_language"`
	CleanText       bool              `toml:"clean_text"`
	Voices          map[string]string `toml:"voices"`
}

// ConversionConfig configures the voice conversion engine.
type ConversionConfig struct {
	Enabled      bool     `toml:"enabled"`
	Binary       string   `toml:"binary"`
	ExtraArgs    []string `toml:"extra_args"`
	ModelsDir    string   `toml:"models_dir"`
	DefaultModel string   `toml:"default_model"`
	F0Method     string   `toml:"f0_method"`
	IndexRatio   float64  `toml:"index_ratio"`
	SampleRate   int      `toml:"sample_rate"`
	FFmpegPath   string   `toml:"ffmpeg_path"`
	WatchModels  bool     `toml:"watch_models"`
}

// DeviceConfig configures accelerator selection.
type DeviceConfig struct {
	Preferred string `toml:"preferred"`
	NvidiaSMI string `toml:"nvidia_smi"`
}

// SegmenterConfig configures language segmentation.
type SegmenterConfig struct {
	FallbackLanguage string `toml:"fallback_language"`
}

// AssemblerConfig configures clip merging.
type AssemblerConfig struct {
	GapMS int `toml:"gap_ms"`
}

// ChunkerConfig configures long-text chunking.
type ChunkerConfig struct {
	MaxChunkSize int `toml:"max_chunk_size"`
	PauseMS      int `toml:"pause_ms"`
}

// PerformanceConfig is the flat tuning object read once at startup.
type PerformanceConfig struct {
	BatchSize        int     `toml:"batch_size"`
	ConcurrencyLimit int     `toml:"concurrency_limit"`
	MemoryFraction   float64 `toml:"memory_fraction"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	ScratchDir  string `toml:"scratch_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS        NATSConfig        `toml:"nats"`
	Synthesis   SynthesisConfig   `toml:"synthesis"`
	Conversion  ConversionConfig  `toml:"conversion"`
	Device      DeviceConfig      `toml:"device"`
	Segmenter   SegmenterConfig   `toml:"segmenter"`
	Assembler   AssemblerConfig   `toml:"assembler"`
	Chunker     ChunkerConfig     `toml:"chunker"`
	Performance PerformanceConfig `toml:"performance"`
	Paths       PathsConfig       `toml:"paths"`
}

// Load loads the configuration for the voice-service, fills defaults and
// validates the result.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFile decodes the TOML file at path, fills defaults and validates the
// result. It bypasses the configurator's project lookup.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration file %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config

	cfg.ApplyDefaults()

	return &cfg
}

// ApplyDefaults fills zero values. Fields whose zero value is meaningful
// (PitchHz, booleans) are left alone.
func (c *Config) ApplyDefaults() {
	setString(&c.NATS.URL, defaultNATSURL)
	setString(&c.NATS.JobSubject, defaultJobSubject)
	setString(&c.NATS.TextBucket, defaultTextBucket)
	setString(&c.NATS.AudioBucket, defaultAudioBucket)
	setInt(&c.NATS.JobTimeoutSeconds, defaultJobTimeoutSeconds)

	setString(&c.Synthesis.Backend, BackendHTTP)
	setString(&c.Synthesis.ServiceURL, defaultServiceURL)
	setString(&c.Synthesis.BaseVoice, defaultBaseVoice)
	setInt(&c.Synthesis.TimeoutSeconds, defaultSynthTimeoutSeconds)

	if c.Synthesis.Speed == 0 {
		c.Synthesis.Speed = defaultSpeed
	}

	setString(&c.Conversion.Binary, defaultConverterBinary)
	setString(&c.Conversion.ModelsDir, defaultModelsDir)
	setString(&c.Conversion.F0Method, defaultF0Method)
	setString(&c.Conversion.FFmpegPath, defaultFFmpegPath)
	setInt(&c.Conversion.SampleRate, defaultSampleRate)

	if c.Conversion.IndexRatio == 0 {
		c.Conversion.IndexRatio = defaultIndexRatio
	}

	setString(&c.Device.Preferred, defaultDevice)
	setString(&c.Device.NvidiaSMI, defaultNvidiaSMI)

	setString(&c.Segmenter.FallbackLanguage, defaultFallbackLanguage)

	setInt(&c.Assembler.GapMS, defaultGapMS)
	setInt(&c.Chunker.MaxChunkSize, defaultMaxChunkSize)
	setInt(&c.Chunker.PauseMS, defaultPauseMS)

	setInt(&c.Performance.BatchSize, defaultBatchSize)
	setInt(&c.Performance.ConcurrencyLimit, defaultConcurrencyLimit)

	if c.Performance.MemoryFraction == 0 {
		c.Performance.MemoryFraction = defaultMemoryFraction
	}

	setString(&c.Paths.BaseLogsDir, defaultLogsDir)
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	switch c.Synthesis.Backend {
	case BackendHTTP, BackendWyoming:
	default:
		return fmt.Errorf(errFmtUnknownOption, ErrInvalidConfig, "synthesis backend", c.Synthesis.Backend)
	}

	checks := []struct {
		name  string
		value int
	}{
		{"nats.job_timeout_seconds", c.NATS.JobTimeoutSeconds},
		{"synthesis.timeout_seconds", c.Synthesis.TimeoutSeconds},
		{"assembler.gap_ms", c.Assembler.GapMS},
		{"chunker.max_chunk_size", c.Chunker.MaxChunkSize},
		{"chunker.pause_ms", c.Chunker.PauseMS},
		{"performance.batch_size", c.Performance.BatchSize},
		{"performance.concurrency_limit", c.Performance.ConcurrencyLimit},
		{"conversion.sample_rate", c.Conversion.SampleRate},
	}

	for _, check := range checks {
		if check.value < 0 {
			return fmt.Errorf(errFmtNegative, ErrInvalidConfig, check.name, check.value)
		}
	}

	if c.Synthesis.Speed < 0 {
		return fmt.Errorf(errFmtNegative, ErrInvalidConfig, "synthesis.speed", c.Synthesis.Speed)
	}

	if c.Performance.MemoryFraction < 0 || c.Performance.MemoryFraction > 1 {
		return fmt.Errorf(errFmtOutOfRange, ErrInvalidConfig, "performance.memory_fraction", 0, 1,
			c.Performance.MemoryFraction)
	}

	if c.Conversion.IndexRatio < 0 || c.Conversion.IndexRatio > 1 {
		return fmt.Errorf(errFmtOutOfRange, ErrInvalidConfig, "conversion.index_ratio", 0, 1,
			c.Conversion.IndexRatio)
	}

	return nil
}

func setString(field *string, fallback string) {
	if *field == "" {
		*field = fallback
	}
}

func setInt(field *int, fallback int) {
	if *field == 0 {
		*field = fallback
	}
}
