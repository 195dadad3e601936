package detectlabel

import (
	"time"

	"go.uber.org/atomic"
)

// Stats are counters describing the pipeline's work so far.
type Stats struct {
	Frames               uint64        `json:"frames"`
	Results              uint64        `json:"results"`
	Loads                uint64        `json:"loads"`
	InvalidModelPath     uint64        `json:"invalid_model_path"`
	ModelLoadFailure     uint64        `json:"model_load_failure"`
	PreprocessingFailure uint64        `json:"preprocessing_failure"`
	InferenceFailure     uint64        `json:"inference_failure"`
	ModelLoading         uint64        `json:"model_loading"`
	Panics               uint64        `json:"panics"`
	LastInference        time.Duration `json:"last_inference_ns"`
	ModelURI             string        `json:"model_uri"`
}

type counters struct {
	frames               atomic.Uint64
	results              atomic.Uint64
	loads                atomic.Uint64
	invalidModelPath     atomic.Uint64
	modelLoadFailure     atomic.Uint64
	preprocessingFailure atomic.Uint64
	inferenceFailure     atomic.Uint64
	modelLoading         atomic.Uint64
	panics               atomic.Uint64
	lastInference        atomic.Duration
	modelURI             atomic.String
}

func (c *counters) countError(err error) {
	switch errorKind(err) {
	case "invalid_model_path":
		c.invalidModelPath.Inc()
	case "model_load_failure":
		c.modelLoadFailure.Inc()
	case "preprocessing_failure":
		c.preprocessingFailure.Inc()
	case "inference_failure":
		c.inferenceFailure.Inc()
	case "model_loading":
		c.modelLoading.Inc()
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		Frames:               c.frames.Load(),
		Results:              c.results.Load(),
		Loads:                c.loads.Load(),
		InvalidModelPath:     c.invalidModelPath.Load(),
		ModelLoadFailure:     c.modelLoadFailure.Load(),
		PreprocessingFailure: c.preprocessingFailure.Load(),
		InferenceFailure:     c.inferenceFailure.Load(),
		ModelLoading:         c.modelLoading.Load(),
		Panics:               c.panics.Load(),
		LastInference:        c.lastInference.Load(),
		ModelURI:             c.modelURI.Load(),
	}
}
