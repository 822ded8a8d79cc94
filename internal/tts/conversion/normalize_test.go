package conversion_test

import (
	"errors"
	"testing"

	"github.com/book-expert/voice-service/internal/tts/conversion"
	"github.com/stretchr/testify/assert"
)

type modelRef struct {
	Name    string
	Version int
}

type unnamedRef struct {
	ID    int
	Label string
}

func TestNormalizeModelName(t *testing.T) {
	t.Parallel()

	name := "  pointer-model "
	var nilPointer *string

	nested := any("too-deep")
	for range 20 {
		nested = []any{nested}
	}

	tests := []struct {
		name   string
		input  any
		want   string
		wantOK bool
	}{
		{name: "plain string", input: "alice", want: "alice", wantOK: true},
		{name: "padded string", input: "  alice\t", want: "alice", wantOK: true},
		{name: "blank string", input: "   ", wantOK: false},
		{name: "nil", input: nil, wantOK: false},
		{name: "bytes", input: []byte(" gina "), want: "gina", wantOK: true},
		{name: "map with name", input: map[string]any{"name": "bob", "epoch": 200}, want: "bob", wantOK: true},
		{name: "map with Name key", input: map[string]string{"Name": "carol"}, want: "carol", wantOK: true},
		{name: "map without name", input: map[string]any{"voice": "dave", "accent": "uk"}, want: "uk", wantOK: true},
		{name: "map with int keys", input: map[int]string{2: "second", 1: "first"}, want: "first", wantOK: true},
		{name: "empty map", input: map[string]any{}, wantOK: false},
		{name: "struct with name", input: modelRef{Name: "erin", Version: 2}, want: "erin", wantOK: true},
		{name: "struct pointer", input: &modelRef{Name: "frank"}, want: "frank", wantOK: true},
		{name: "struct without name", input: unnamedRef{ID: 7, Label: "x"}, want: "7", wantOK: true},
		{name: "slice", input: []string{"gwen", "hal"}, want: "gwen", wantOK: true},
		{name: "slice of maps", input: []any{map[string]any{"name": "ivy"}}, want: "ivy", wantOK: true},
		{name: "empty slice", input: []any{}, wantOK: false},
		{name: "number", input: 42, want: "42", wantOK: true},
		{name: "error", input: errors.New(" model-from-error "), want: "model-from-error", wantOK: true},
		{name: "pointer to string", input: &name, want: "pointer-model", wantOK: true},
		{name: "nil pointer", input: nilPointer, wantOK: false},
		{name: "func", input: func() {}, wantOK: false},
		{name: "channel", input: make(chan int), wantOK: false},
		{name: "nesting limit", input: nested, wantOK: false},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, ok := conversion.NormalizeModelName(testCase.input)
			assert.Equal(t, testCase.wantOK, ok)
			assert.Equal(t, testCase.want, got)

			if ok {
				again, againOK := conversion.NormalizeModelName(got)
				assert.True(t, againOK)
				assert.Equal(t, got, again, "normalization must be idempotent")
			}
		})
	}
}

func TestNewConversionRequest(t *testing.T) {
	t.Parallel()

	req, err := conversion.NewConversionRequest(map[string]any{"name": " narrator "}, 40, 1.7, "HARVEST", "", "")
	assert.NoError(t, err)
	assert.Equal(t, "narrator", req.ModelName)
	assert.Equal(t, 24, req.PitchShift)
	assert.InDelta(t, 1.0, req.IndexRatio, 0.0001)
	assert.Equal(t, "harvest", req.F0Method)

	req, err = conversion.NewConversionRequest("narrator", -99, -0.5, "dio", "", "crepe")
	assert.NoError(t, err)
	assert.Equal(t, -24, req.PitchShift)
	assert.InDelta(t, 0.0, req.IndexRatio, 0.0001)
	assert.Equal(t, "crepe", req.F0Method)

	req, err = conversion.NewConversionRequest("narrator", 0, 0.5, "", "unknown-f0", "")
	assert.NoError(t, err)
	assert.Equal(t, conversion.DefaultF0Method, req.F0Method)

	_, err = conversion.NewConversionRequest(nil, 0, 0.5, "", "", "")
	assert.ErrorIs(t, err, conversion.ErrNoModel)
}

func TestNewConversionRequest_Presets(t *testing.T) {
	t.Parallel()

	req, err := conversion.NewConversionRequest("m", 0, 0.5, "", "male_to_female", "")
	assert.NoError(t, err)
	assert.Equal(t, 12, req.PitchShift)
	assert.Equal(t, "male_to_female", req.Preset)

	req, err = conversion.NewConversionRequest("m", 0, 0.5, "", "Deeper", "")
	assert.NoError(t, err)
	assert.Equal(t, -5, req.PitchShift)

	req, err = conversion.NewConversionRequest("m", 3, 0.5, "", "female_to_male", "")
	assert.NoError(t, err)
	assert.Equal(t, 3, req.PitchShift, "explicit pitch wins over preset")
}
