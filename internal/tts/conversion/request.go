package conversion

import (
	"fmt"
	"strings"
)

// Parameter bounds.
const (
	MinPitchShift = -24
	MaxPitchShift = 24
	MinIndexRatio = 0.0
	MaxIndexRatio = 1.0
)

// Pitch extraction methods understood by the conversion engine.
const (
	F0PM      = "pm"
	F0Harvest = "harvest"
	F0Crepe   = "crepe"
	F0RMVPE   = "rmvpe"
)

// DefaultF0Method is used when neither caller nor configuration picks one.
const DefaultF0Method = F0RMVPE

var f0Methods = map[string]struct{}{
	F0PM:      {},
	F0Harvest: {},
	F0Crepe:   {},
	F0RMVPE:   {},
}

// Presets supply a pitch shift when the caller leaves it at zero.
var Presets = map[string]int{
	"male_to_female": 12,
	"female_to_male": -12,
	"deeper":         -5,
	"higher":         5,
	"natural":        0,
}

// ConversionRequest carries validated conversion parameters. ModelName is
// always a normalized, non-empty identifier.
type ConversionRequest struct {
	ModelName  string  `json:"modelName"`
	PitchShift int     `json:"pitchShift"`
	IndexRatio float64 `json:"indexRatio"`
	F0Method   string  `json:"f0Method"`
	Preset     string  `json:"preset,omitempty"`
}

// NewConversionRequest normalizes the model identifier and clamps the tuning
// parameters. Unknown f0 methods become defaultF0 (or DefaultF0Method). A model
// value that normalizes to nothing yields ErrNoModel.
func NewConversionRequest(
	model any,
	pitchShift int,
	indexRatio float64,
	f0Method, preset, defaultF0 string,
) (ConversionRequest, error) {
	name, ok := NormalizeModelName(model)
	if !ok {
		return ConversionRequest{}, ErrNoModel
	}

	preset = strings.ToLower(strings.TrimSpace(preset))
	if shift, known := Presets[preset]; known && pitchShift == 0 {
		pitchShift = shift
	}

	return ConversionRequest{
		ModelName:  name,
		PitchShift: max(MinPitchShift, min(MaxPitchShift, pitchShift)),
		IndexRatio: max(MinIndexRatio, min(MaxIndexRatio, indexRatio)),
		F0Method:   resolveF0Method(f0Method, defaultF0),
		Preset:     preset,
	}, nil
}

// String summarizes the request for logs.
func (r ConversionRequest) String() string {
	return fmt.Sprintf("model=%s pitch=%+d index_ratio=%.2f f0=%s",
		r.ModelName, r.PitchShift, r.IndexRatio, r.F0Method)
}

func resolveF0Method(method, fallback string) string {
	method = strings.ToLower(strings.TrimSpace(method))
	if _, ok := f0Methods[method]; ok {
		return method
	}

	fallback = strings.ToLower(strings.TrimSpace(fallback))
	if _, ok := f0Methods[fallback]; ok {
		return fallback
	}

	return DefaultF0Method
}
