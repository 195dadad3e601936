// Package detectlabel runs camera frames through an object detection model: it loads the model
// named by each frame, converts and packs the frame, runs inference and decodes the boxes.
package detectlabel

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/framedetect/logging"
	"go.viam.com/framedetect/ml/inference"
	"go.viam.com/framedetect/rimage"
	"go.viam.com/framedetect/utils"
	"go.viam.com/framedetect/vision/objectdetection"
)

// ModelLoader opens models by URI.
type ModelLoader interface {
	Load(ctx context.Context, uri string) (*inference.Model, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithModelLoader replaces the default runtime-backed loader.
func WithModelLoader(loader ModelLoader) Option {
	return func(p *Pipeline) {
		p.loader = loader
	}
}

// WithClock replaces the clock used to time inference.
func WithClock(clk clock.Clock) Option {
	return func(p *Pipeline) {
		p.clock = clk
	}
}

// Pipeline owns one model handle and the buffers used to feed it. A single mutex covers loading
// and inference, so a model is never swapped or freed while a frame is using it.
type Pipeline struct {
	mu     sync.Mutex
	conf   *Config
	logger logging.Logger
	loader ModelLoader
	clock  clock.Clock
	pre    *rimage.Preprocessor
	labels []string

	model  *inference.Model
	uri    string
	closed bool

	loading atomic.Bool
	stats   counters

	workers *utils.Workers
}

// New builds a pipeline and, when conf names a model, loads it.
func New(ctx context.Context, conf *Config, logger logging.Logger, opts ...Option) (*Pipeline, error) {
	ctx, span := trace.StartSpan(ctx, "service::detectlabel::New")
	defer span.End()

	if conf == nil {
		conf = &Config{}
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid detector config")
	}
	if logger == nil {
		logger = logging.NewLogger("detectlabel")
	}
	p := &Pipeline{
		conf:    conf,
		logger:  logger,
		clock:   clock.New(),
		pre:     rimage.NewPreprocessor(rimage.ResizeMethod(conf.ResizeMethod), conf.normalization()),
		workers: utils.NewWorkers(context.Background()),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.loader == nil {
		p.loader = inference.NewLoader(conf.architecture(), inference.Options{
			NumThreads:      conf.NumThreads,
			ONNXLibraryPath: conf.ONNXLibraryPath,
			Logger:          logger.Sublogger("inference"),
		})
	}
	if conf.LabelPath != "" {
		labels, err := objectdetection.LoadLabels(conf.LabelPath)
		if err != nil {
			return nil, err
		}
		p.labels = labels
	}
	if conf.ModelPath != "" {
		if err := p.Load(ctx, conf.ModelPath); err != nil {
			return nil, err
		}
		if conf.WatchModel {
			if err := p.WatchModel(ctx); err != nil {
				return nil, multierr.Combine(err, p.Close(ctx))
			}
		}
	}
	return p, nil
}

// Labels returns the category names from the configured label file, if any.
func (p *Pipeline) Labels() []string {
	return p.labels
}

// ModelURI returns the URI of the loaded model, or the empty string.
func (p *Pipeline) ModelURI() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uri
}

// ModelInfo describes the loaded model.
func (p *Pipeline) ModelInfo() (inference.Info, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return inference.Info{}, false
	}
	return p.model.Info(), true
}

// Load makes uri the pipeline's model. Loading the URI that is already loaded does nothing. On
// failure the previously loaded model stays in place.
func (p *Pipeline) Load(ctx context.Context, uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.loadLocked(ctx, uri, false)
}

// Reload reopens the current model file, keeping the old model if that fails. It returns
// ErrNoModel when nothing has been loaded.
func (p *Pipeline) Reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.model == nil {
		return ErrNoModel
	}
	return p.loadLocked(ctx, p.uri, true)
}

// loadLocked must be called with p.mu held.
func (p *Pipeline) loadLocked(ctx context.Context, uri string, force bool) error {
	if !force && p.model != nil && uri == p.uri {
		return nil
	}
	ctx, span := trace.StartSpan(ctx, "service::detectlabel::Load")
	defer span.End()

	p.loading.Store(true)
	defer p.loading.Store(false)

	model, err := p.loader.Load(ctx, uri)
	if err != nil {
		p.logger.Warnw("could not load model", "uri", uri, "error", err, "kept", p.uri)
		return err
	}
	old := p.model
	p.model, p.uri = model, uri
	p.stats.loads.Inc()
	p.stats.modelURI.Store(uri)
	info := model.Info()
	p.logger.Infow("loaded model", "uri", uri, "input", info.Input.String(), "size", info.Size)
	if old != nil {
		if err := old.Close(); err != nil {
			p.logger.Warnw("error closing previous model", "error", err)
		}
	}
	return nil
}

// Detect runs one frame through the model named by uri, loading it first if needed.
func (p *Pipeline) Detect(ctx context.Context, frame *rimage.Frame, uri string) (*objectdetection.DetectionResult, error) {
	ctx, span := trace.StartSpan(ctx, "service::detectlabel::Detect")
	defer span.End()

	p.stats.frames.Inc()
	res, err := p.detect(ctx, frame, uri)
	if err != nil {
		p.stats.countError(err)
		return nil, err
	}
	p.stats.results.Inc()
	return res, nil
}

func (p *Pipeline) detect(ctx context.Context, frame *rimage.Frame, uri string) (*objectdetection.DetectionResult, error) {
	if !*p.conf.BlockDuringLoad && p.loading.Load() {
		return nil, ErrModelLoading
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	if err := p.loadLocked(ctx, uri, false); err != nil {
		return nil, err
	}
	input, err := p.pre.Process(ctx, frame, p.model.Info().Input)
	if err != nil {
		return nil, err
	}
	start := p.clock.Now()
	out, err := p.model.Infer(ctx, input.Buffer())
	if err != nil {
		return nil, err
	}
	elapsed := p.clock.Since(start)
	p.stats.lastInference.Store(elapsed)
	res, err := objectdetection.FromTensors(out, p.model.Architecture().DetectionsCapacity)
	if err != nil {
		return nil, errors.Wrap(ErrInferenceFailure, err.Error())
	}
	p.logger.CDebugw(ctx, "detected", "uri", uri, "format", frame.Format.String(), "rotation", frame.Rotation,
		"inference", elapsed, "count", res.DetectionCount)
	return res, nil
}

// DetectLabel is the host-facing entry point. It never fails: any error, or a panic from the
// runtime, turns into a nil result for this frame.
func (p *Pipeline) DetectLabel(ctx context.Context, frame *rimage.Frame, uri string) (res *objectdetection.DetectionResult) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.panics.Inc()
			p.logger.Errorw("recovered from panic while detecting", "panic", r)
			res = nil
		}
	}()
	res, err := p.Detect(ctx, frame, uri)
	if err != nil {
		p.logger.CDebugw(ctx, "skipping frame", "kind", errorKind(err), "error", err)
		return nil
	}
	return res
}

// Stats returns a snapshot of the pipeline's counters.
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

// Close stops the model watcher and releases the model.
func (p *Pipeline) Close(ctx context.Context) error {
	p.workers.Stop()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model, p.uri = nil, ""
	return err
}
