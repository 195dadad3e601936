// Package inference opens detection models on an ML runtime and runs them.
package inference

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"gorgonia.org/tensor"

	"go.viam.com/framedetect/logging"
	"go.viam.com/framedetect/ml"
)

var (
	// ErrInvalidModelPath is returned when a model path is not a file URI.
	ErrInvalidModelPath = errors.New("invalid model path")
	// ErrModelLoadFailure is returned when a model cannot be opened, allocated or validated.
	ErrModelLoadFailure = errors.New("model load failure")
	// ErrInferenceFailure is returned when the runtime fails to run a model.
	ErrInferenceFailure = errors.New("inference failure")
)

// Names of the four detection outputs.
const (
	ScoresTensor     = "scores"
	BoxesTensor      = "boxes"
	CountTensor      = "count"
	CategoriesTensor = "categories"
)

// OutputRoles lists the detection outputs in their default model order.
var OutputRoles = [4]string{ScoresTensor, BoxesTensor, CountTensor, CategoriesTensor}

// Engine is a model opened on a specific runtime.
type Engine interface {
	// Inputs describes the model inputs with image inputs in HWC order.
	Inputs() []ml.TensorInfo
	Outputs() []ml.TensorInfo
	// Invoke copies input into the first input tensor, runs the model and returns every
	// output, in model order, as float32 tensors.
	Invoke(input interface{}) ([]*tensor.Dense, error)
	Close() error
}

// Options are runtime options passed to backends.
type Options struct {
	NumThreads int
	// ONNXLibraryPath is the onnxruntime shared library, used by the .onnx backend.
	ONNXLibraryPath string
	Logger          logging.Logger
}

// OpenFunc opens the model file at path.
type OpenFunc func(ctx context.Context, path string, opts Options) (Engine, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]OpenFunc{}
)

// RegisterBackend registers a runtime for model files with the given extension.
func RegisterBackend(ext string, open OpenFunc) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	ext = strings.ToLower(ext)
	if _, old := backends[ext]; old {
		panic(errors.Errorf("trying to register two model backends for extension %q", ext))
	}
	if open == nil {
		panic(errors.Errorf("cannot register a nil backend for extension %q", ext))
	}
	backends[ext] = open
}

// DeregisterBackend removes the runtime for an extension.
func DeregisterBackend(ext string) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	delete(backends, strings.ToLower(ext))
}

// Backend looks up the runtime registered for the extension of path.
func Backend(path string) (OpenFunc, bool) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	open, ok := backends[strings.ToLower(filepath.Ext(path))]
	return open, ok
}

// ParseModelURI validates a model URI and returns the local file path it names.
// Only file URIs are accepted.
func ParseModelURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidModelPath, "%q: %v", uri, err)
	}
	if u.Scheme != "file" {
		return "", errors.Wrapf(ErrInvalidModelPath, "%q: model path must be a file URI", uri)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", errors.Wrapf(ErrInvalidModelPath, "%q: remote host %q", uri, u.Host)
	}
	if u.Path == "" {
		return "", errors.Wrapf(ErrInvalidModelPath, "%q: empty path", uri)
	}
	return filepath.FromSlash(u.Path), nil
}

// Architecture is the fixed model shape the pipeline expects.
type Architecture struct {
	InputSize          int
	DetectionsCapacity int
	// OutputOrder maps each of OutputRoles to a model output index.
	OutputOrder [4]int
}

// DefaultArchitecture is a 512x512 RGB input with 25 detection slots.
func DefaultArchitecture() Architecture {
	return Architecture{InputSize: 512, DetectionsCapacity: 25, OutputOrder: [4]int{0, 1, 2, 3}}
}

// Info describes a loaded model.
type Info struct {
	URI     string
	Path    string
	Size    int64
	Input   ml.TensorInfo
	Outputs map[string]ml.TensorInfo
}

// Model is a validated detection model ready for inference.
type Model struct {
	info   Info
	arch   Architecture
	engine Engine
}

// Info returns the model's description.
func (m *Model) Info() Info {
	return m.info
}

// Architecture returns the shape the model was validated against.
func (m *Model) Architecture() Architecture {
	return m.arch
}

// Infer runs the model on an input buffer ([]uint8, []int8 or []float32) and returns the four
// detection outputs keyed by role.
func (m *Model) Infer(ctx context.Context, input interface{}) (ml.Tensors, error) {
	_, span := trace.StartSpan(ctx, "ml::inference::Infer")
	defer span.End()

	outs, err := m.engine.Invoke(input)
	if err != nil {
		return nil, errors.Wrap(ErrInferenceFailure, err.Error())
	}
	results := ml.Tensors{}
	for i, role := range OutputRoles {
		idx := m.arch.OutputOrder[i]
		if idx >= len(outs) {
			return nil, errors.Wrapf(ErrInferenceFailure, "model returned %d outputs, %s expected at %d", len(outs), role, idx)
		}
		results[role] = outs[idx]
	}
	return results, nil
}

// Close releases the runtime resources of the model.
func (m *Model) Close() error {
	return m.engine.Close()
}

// Loader opens and validates models.
type Loader struct {
	arch   Architecture
	opts   Options
	logger logging.Logger
}

// NewLoader returns a loader validating models against arch.
func NewLoader(arch Architecture, opts Options) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger("inference")
		opts.Logger = logger
	}
	return &Loader{arch: arch, opts: opts, logger: logger}
}

// Load opens the model named by uri. Every failure after URI validation is an ErrModelLoadFailure.
func (l *Loader) Load(ctx context.Context, uri string) (*Model, error) {
	ctx, span := trace.StartSpan(ctx, "ml::inference::Load")
	defer span.End()

	path, err := ParseModelURI(uri)
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoadFailure, "file not found at %s", path)
	}
	if stat.IsDir() {
		return nil, errors.Wrapf(ErrModelLoadFailure, "%s is a directory", path)
	}
	open, ok := Backend(path)
	if !ok {
		return nil, errors.Wrapf(ErrModelLoadFailure, "no runtime for model files of type %q", filepath.Ext(path))
	}
	engine, err := open(ctx, path, l.opts)
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoadFailure, "could not open %s: %v", path, err)
	}
	info, err := l.validate(engine)
	if err != nil {
		return nil, multierr.Combine(errors.Wrapf(ErrModelLoadFailure, "%s: %v", path, err), engine.Close())
	}
	info.URI = uri
	info.Path = path
	info.Size = stat.Size()
	l.logger.Debugw("loaded model", "path", path, "input", info.Input.String())
	return &Model{info: info, arch: l.arch, engine: engine}, nil
}

func (l *Loader) validate(engine Engine) (Info, error) {
	ins := engine.Inputs()
	outs := engine.Outputs()
	if len(ins) != 1 {
		return Info{}, errors.Errorf("expected 1 input tensor, model has %d", len(ins))
	}
	in := ins[0]
	side := l.arch.InputSize
	// Frames are packed HWC; engines with planar inputs report them transposed.
	if !in.ShapeEquals(side, side, 3) {
		return Info{}, errors.Errorf("input %s does not match %dx%dx3", in, side, side)
	}
	if in.DataType == ml.UnknownType {
		return Info{}, errors.Errorf("input %s has an unsupported data type", in)
	}
	if len(outs) < len(OutputRoles) {
		return Info{}, errors.Errorf("expected %d output tensors, model has %d", len(OutputRoles), len(outs))
	}
	n := l.arch.DetectionsCapacity
	expected := map[string][]int{
		ScoresTensor:     {n},
		BoxesTensor:      {n, 4},
		CountTensor:      {1},
		CategoriesTensor: {n},
	}
	info := Info{Input: in, Outputs: map[string]ml.TensorInfo{}}
	for i, role := range OutputRoles {
		idx := l.arch.OutputOrder[i]
		if idx < 0 || idx >= len(outs) {
			return Info{}, errors.Errorf("%s output index %d out of range", role, idx)
		}
		out := outs[idx]
		if !out.ShapeEquals(expected[role]...) {
			return Info{}, errors.Errorf("%s output %s does not match shape %v", role, out, expected[role])
		}
		info.Outputs[role] = out
	}
	return info, nil
}
