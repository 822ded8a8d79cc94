package pipeline

// Step tags recorded on a Result.
const (
	StepCleaned           = "cleaned"
	StepSynthesis         = "synthesis"
	StepConversion        = "conversion"
	StepConversionFailed  = "conversion_failed"
	StepConversionNoModel = "conversion_no_model"
	StepChunked           = "chunked"
)

// Stat keys recorded on a Result.
const (
	StatSegments       = "segments"
	StatLanguages      = "languages"
	StatSynthesisBytes = "synthesis_bytes"
	StatSynthesisMS    = "synthesis_ms"
	StatConvertedBytes = "converted_bytes"
	StatConversionMS   = "conversion_ms"
	StatFinalBytes     = "final_bytes"
	StatModel          = "model"
	StatChunks         = "chunks"
	StatFailedChunks   = "failed_chunks"
)

// Result is the outcome of one pipeline call. Success is true whenever
// synthesis produced audio, whatever happened to conversion.
type Result struct {
	Success        bool           `json:"success"`
	SynthesisAudio []byte         `json:"-"`
	ConvertedAudio []byte         `json:"-"`
	FinalAudio     []byte         `json:"-"`
	Steps          []string       `json:"steps"`
	Stats          map[string]any `json:"stats"`
	Error          string         `json:"error,omitempty"`
	Warnings       []string       `json:"warnings,omitempty"`
}

func newResult() *Result {
	return &Result{
		Steps: make([]string, 0, 4),
		Stats: make(map[string]any),
	}
}

func (r *Result) step(tag string) {
	r.Steps = append(r.Steps, tag)
}

func (r *Result) warn(message string) {
	r.Warnings = append(r.Warnings, message)
}

func (r *Result) fail(err error) *Result {
	r.Success = false
	r.Error = err.Error()

	return r
}
