// Package config_test tests the configuration loading for the voice-service.
package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/voice-service/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[nats]
url = "nats://127.0.0.1:4222"
job_subject = "voice.jobs"
queue_group = "voice-workers"
text_object_store_bucket = "TEXT_FILES"
audio_object_store_bucket = "AUDIO_FILES"

[synthesis]
backend = "wyoming"
wyoming_endpoint = "tcp://piper:10200"
base_voice = "en_US-lessac-medium"
speed = 1.25
pitch_hz = -10
multi_language = true

[synthesis.voices]
zh = "zh_CN-huayan-medium"

[conversion]
enabled = true
models_dir = "/srv/models"
default_model = "narrator"
f0_method = "harvest"
index_ratio = 0.5

[segmenter]
fallback_language = "zh"

[performance]
batch_size = 2
concurrency_limit = 8
memory_fraction = 0.6

[paths]
base_logs_dir = "/var/log/voice"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "voice.jobs", cfg.NATS.JobSubject)
	assert.Equal(t, "voice-workers", cfg.NATS.QueueGroup)
	assert.Equal(t, "TEXT_FILES", cfg.NATS.TextBucket)
	assert.Equal(t, config.BackendWyoming, cfg.Synthesis.Backend)
	assert.InEpsilon(t, 1.25, cfg.Synthesis.Speed, 0.001)
	assert.Equal(t, -10, cfg.Synthesis.PitchHz)
	assert.True(t, cfg.Synthesis.MultiLanguage)
	assert.Equal(t, "zh_CN-huayan-medium", cfg.Synthesis.Voices["zh"])
	assert.Equal(t, "narrator", cfg.Conversion.DefaultModel)
	assert.Equal(t, "harvest", cfg.Conversion.F0Method)
	assert.Equal(t, "zh", cfg.Segmenter.FallbackLanguage)
	assert.Equal(t, 8, cfg.Performance.ConcurrencyLimit)
	assert.Equal(t, "/var/log/voice", cfg.Paths.BaseLogsDir)

	// Untouched sections pick up defaults.
	assert.Equal(t, 100, cfg.Assembler.GapMS)
	assert.Equal(t, 500, cfg.Chunker.MaxChunkSize)
	assert.Equal(t, 16000, cfg.Conversion.SampleRate)
	assert.Equal(t, "auto", cfg.Device.Preferred)
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.BackendHTTP, cfg.Synthesis.Backend)
	assert.Equal(t, "rmvpe", cfg.Conversion.F0Method)
	assert.Equal(t, "unknown", cfg.Segmenter.FallbackLanguage)
	assert.InEpsilon(t, 0.8, cfg.Performance.MemoryFraction, 0.001)
}

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{name: "unknown backend", mutate: func(cfg *config.Config) { cfg.Synthesis.Backend = "carrier-pigeon" }},
		{name: "negative concurrency", mutate: func(cfg *config.Config) { cfg.Performance.ConcurrencyLimit = -1 }},
		{name: "negative gap", mutate: func(cfg *config.Config) { cfg.Assembler.GapMS = -5 }},
		{name: "negative chunk size", mutate: func(cfg *config.Config) { cfg.Chunker.MaxChunkSize = -1 }},
		{name: "memory fraction", mutate: func(cfg *config.Config) { cfg.Performance.MemoryFraction = 1.5 }},
		{name: "index ratio", mutate: func(cfg *config.Config) { cfg.Conversion.IndexRatio = -0.1 }},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Default()
			testCase.mutate(cfg)

			require.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "project.toml")
	require.NoError(t, os.WriteFile(path, []byte("[chunker]\nmax_chunk_size = 120\n"), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.Chunker.MaxChunkSize)
	assert.Equal(t, config.BackendHTTP, cfg.Synthesis.Backend)
}

func TestLoadFile_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := config.LoadFile(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)

	invalid := filepath.Join(dir, "invalid.toml")
	require.NoError(t, os.WriteFile(invalid, []byte("[synthesis]\nbackend = \"smoke-signals\"\n"), 0o600))

	_, err = config.LoadFile(invalid)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}
