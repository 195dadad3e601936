package detectlabel

import (
	"github.com/pkg/errors"

	"go.viam.com/framedetect/ml/inference"
	"go.viam.com/framedetect/rimage"
)

// The ways a frame can fail to produce a result.
var (
	ErrInvalidModelPath     = inference.ErrInvalidModelPath
	ErrModelLoadFailure     = inference.ErrModelLoadFailure
	ErrPreprocessingFailure = rimage.ErrPreprocessingFailure
	ErrInferenceFailure     = inference.ErrInferenceFailure
	// ErrModelLoading is returned to non-blocking callers while a model is being loaded.
	ErrModelLoading = errors.New("model is loading")
	// ErrNoModel is returned by Reload when no model has been loaded yet.
	ErrNoModel = errors.New("no model loaded")
	// ErrClosed is returned once the pipeline has been closed.
	ErrClosed = errors.New("pipeline is closed")
)

// errorKind names the failure class of err for logs and counters.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidModelPath):
		return "invalid_model_path"
	case errors.Is(err, ErrModelLoadFailure):
		return "model_load_failure"
	case errors.Is(err, ErrPreprocessingFailure):
		return "preprocessing_failure"
	case errors.Is(err, ErrInferenceFailure):
		return "inference_failure"
	case errors.Is(err, ErrModelLoading):
		return "model_loading"
	case errors.Is(err, ErrNoModel):
		return "no_model"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "other"
	}
}
