package detectlabel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/framedetect/logging"
	"go.viam.com/framedetect/registry"
	"go.viam.com/framedetect/rimage"
	"go.viam.com/framedetect/vision/objectdetection"
)

func newTestPipeline(t *testing.T, conf *Config) *Pipeline {
	t.Helper()
	backend.reset()
	p, err := New(context.Background(), conf, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, p.Close(context.Background()), test.ShouldBeNil)
	})
	return p
}

func TestDetect(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, testConfig())
	_, uri := writeModel(t, t.TempDir(), "detect.fake", "model")

	res, err := p.Detect(ctx, testFrame(), uri)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Scores, test.ShouldHaveLength, testCapacity)
	test.That(t, res.BoundingBoxes, test.ShouldHaveLength, testCapacity)
	test.That(t, res.Categories, test.ShouldHaveLength, testCapacity)
	test.That(t, res.DetectionCount, test.ShouldEqual, 3)
	test.That(t, res.BoundingBoxes[0], test.ShouldResemble, objectdetection.ConvertBox([4]float32{0.1, 0.2, 0.5, 0.6}))
	test.That(t, res.BoundingBoxes[0].X, test.ShouldEqual, float32(0.2))
	test.That(t, res.BoundingBoxes[0].Y, test.ShouldEqual, float32(0.1))

	stats := p.Stats()
	test.That(t, stats.Frames, test.ShouldEqual, uint64(1))
	test.That(t, stats.Results, test.ShouldEqual, uint64(1))
	test.That(t, stats.Loads, test.ShouldEqual, uint64(1))
	test.That(t, stats.ModelURI, test.ShouldEqual, uri)
	test.That(t, p.ModelURI(), test.ShouldEqual, uri)
}

func TestLoadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, testConfig())
	path, uri := writeModel(t, t.TempDir(), "same.fake", "model")

	test.That(t, p.Load(ctx, uri), test.ShouldBeNil)
	test.That(t, p.Load(ctx, uri), test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		test.That(t, p.DetectLabel(ctx, testFrame(), uri), test.ShouldNotBeNil)
	}
	test.That(t, backend.openCount(path), test.ShouldEqual, 1)
	test.That(t, p.Stats().Loads, test.ShouldEqual, uint64(1))
}

func TestSwitchModel(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, testConfig())
	dir := t.TempDir()
	_, first := writeModel(t, dir, "first.fake", "model")
	_, second := writeModel(t, dir, "second.fake", "model")

	test.That(t, p.DetectLabel(ctx, testFrame(), first), test.ShouldNotBeNil)
	test.That(t, p.DetectLabel(ctx, testFrame(), second), test.ShouldNotBeNil)
	test.That(t, p.ModelURI(), test.ShouldEqual, second)
	test.That(t, backend.engines, test.ShouldHaveLength, 2)
	test.That(t, backend.engines[0].closed.Load(), test.ShouldBeTrue)
	test.That(t, backend.engines[1].closed.Load(), test.ShouldBeFalse)
}

func TestFailedLoadKeepsPreviousModel(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, testConfig())
	dir := t.TempDir()
	_, good := writeModel(t, dir, "good.fake", "model")
	_, corrupt := writeModel(t, dir, "corrupt.fake", "corrupt")
	test.That(t, p.Load(ctx, good), test.ShouldBeNil)

	for _, tc := range []struct {
		uri string
		err error
	}{
		{"http://model.tflite", ErrInvalidModelPath},
		{"/plain/path/model.fake", ErrInvalidModelPath},
		{corrupt, ErrModelLoadFailure},
		{"file:///missing/model.fake", ErrModelLoadFailure},
	} {
		err := p.Load(ctx, tc.uri)
		test.That(t, errors.Is(err, tc.err), test.ShouldBeTrue)

		_, err = p.Detect(ctx, testFrame(), tc.uri)
		test.That(t, errors.Is(err, tc.err), test.ShouldBeTrue)
		test.That(t, p.DetectLabel(ctx, testFrame(), tc.uri), test.ShouldBeNil)

		test.That(t, p.ModelURI(), test.ShouldEqual, good)
		test.That(t, p.DetectLabel(ctx, testFrame(), good), test.ShouldNotBeNil)
	}
	test.That(t, backend.engines, test.ShouldHaveLength, 1)
	test.That(t, backend.engines[0].closed.Load(), test.ShouldBeFalse)

	stats := p.Stats()
	test.That(t, stats.InvalidModelPath, test.ShouldEqual, uint64(4))
	test.That(t, stats.ModelLoadFailure, test.ShouldEqual, uint64(4))
}

func TestEmptyFrameSkipsInference(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, testConfig())
	_, uri := writeModel(t, t.TempDir(), "model.fake", "model")

	for _, frame := range []*rimage.Frame{
		{Format: rimage.FormatNV21, Width: 0, Height: 0},
		{Format: rimage.FormatBGRA, Width: 640, Height: 0, Planes: [][]byte{{}}},
		nil,
	} {
		_, err := p.Detect(ctx, frame, uri)
		test.That(t, errors.Is(err, ErrPreprocessingFailure), test.ShouldBeTrue)
		test.That(t, p.DetectLabel(ctx, frame, uri), test.ShouldBeNil)
	}
	test.That(t, backend.invocations.Load(), test.ShouldEqual, int64(0))
	test.That(t, p.Stats().PreprocessingFailure, test.ShouldEqual, uint64(6))
}

func TestInferenceFailure(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, testConfig())
	_, uri := writeModel(t, t.TempDir(), "model.fake", "model")

	backend.failRun.Store(true)
	_, err := p.Detect(ctx, testFrame(), uri)
	test.That(t, errors.Is(err, ErrInferenceFailure), test.ShouldBeTrue)

	backend.failRun.Store(false)
	test.That(t, p.DetectLabel(ctx, testFrame(), uri), test.ShouldNotBeNil)
}

func TestDetectLabelRecoversPanics(t *testing.T) {
	ctx := context.Background()
	logger, logs := logging.NewObservedTestLogger(t)
	backend.reset()
	p, err := New(ctx, testConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, p.Close(ctx), test.ShouldBeNil)
	}()
	_, uri := writeModel(t, t.TempDir(), "model.fake", "model")

	backend.panicOnRun.Store(true)
	test.That(t, p.DetectLabel(ctx, testFrame(), uri), test.ShouldBeNil)
	test.That(t, p.Stats().Panics, test.ShouldEqual, uint64(1))
	test.That(t, logs.FilterMessageSnippet("recovered from panic").Len(), test.ShouldEqual, 1)

	// the lock was released
	backend.panicOnRun.Store(false)
	test.That(t, p.DetectLabel(ctx, testFrame(), uri), test.ShouldNotBeNil)
}

func startSlowLoad(t *testing.T, p *Pipeline, uri string) (chan *objectdetection.DetectionResult, chan struct{}) {
	t.Helper()
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	backend.mu.Lock()
	backend.gate, backend.entered = gate, entered
	backend.mu.Unlock()

	first := make(chan *objectdetection.DetectionResult, 1)
	go func() {
		first <- p.DetectLabel(context.Background(), testFrame(), uri)
	}()
	<-entered
	return first, gate
}

func TestConcurrentCallersBlockDuringLoad(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	_, uri := writeModel(t, t.TempDir(), "slow.fake", "model")
	first, gate := startSlowLoad(t, p, uri)

	const callers = 16
	results := make(chan *objectdetection.DetectionResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- p.DetectLabel(context.Background(), testFrame(), uri)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	test.That(t, len(results), test.ShouldEqual, 0)

	close(gate)
	wg.Wait()
	close(results)
	test.That(t, <-first, test.ShouldNotBeNil)
	for res := range results {
		test.That(t, res, test.ShouldNotBeNil)
		test.That(t, res.Scores, test.ShouldHaveLength, testCapacity)
	}
	test.That(t, p.Stats().Loads, test.ShouldEqual, uint64(1))
	test.That(t, backend.invocations.Load(), test.ShouldEqual, int64(callers+1))
}

func TestConcurrentCallersSkipDuringLoad(t *testing.T) {
	conf := testConfig()
	block := false
	conf.BlockDuringLoad = &block
	p := newTestPipeline(t, conf)
	_, uri := writeModel(t, t.TempDir(), "slow.fake", "model")
	first, gate := startSlowLoad(t, p, uri)

	const callers = 16
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Detect(context.Background(), testFrame(), uri)
			errs <- err
		}()
	}
	wg.Wait()
	close(gate)
	close(errs)
	for err := range errs {
		test.That(t, errors.Is(err, ErrModelLoading), test.ShouldBeTrue)
	}

	test.That(t, <-first, test.ShouldNotBeNil)
	test.That(t, p.Stats().ModelLoading, test.ShouldEqual, uint64(callers))
	test.That(t, p.DetectLabel(context.Background(), testFrame(), uri), test.ShouldNotBeNil)
}

func TestNewLoadsConfiguredModel(t *testing.T) {
	backend.reset()
	path, uri := writeModel(t, t.TempDir(), "configured.fake", "model")
	conf := testConfig()
	conf.ModelPath = uri
	p, err := New(context.Background(), conf, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, backend.openCount(path), test.ShouldEqual, 1)
	info, ok := p.ModelInfo()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, info.Path, test.ShouldEqual, path)

	test.That(t, p.Close(context.Background()), test.ShouldBeNil)
	test.That(t, backend.engines[0].closed.Load(), test.ShouldBeTrue)
	_, err = p.Detect(context.Background(), testFrame(), uri)
	test.That(t, errors.Is(err, ErrClosed), test.ShouldBeTrue)
	test.That(t, p.Close(context.Background()), test.ShouldBeNil)

	_, corrupt := writeModel(t, t.TempDir(), "configured.fake", "corrupt")
	conf = testConfig()
	conf.ModelPath = corrupt
	_, err = New(context.Background(), conf, logging.NewTestLogger(t))
	test.That(t, errors.Is(err, ErrModelLoadFailure), test.ShouldBeTrue)
}

func TestRegister(t *testing.T) {
	p := newTestPipeline(t, testConfig())
	_, uri := writeModel(t, t.TempDir(), "model.fake", "model")
	Register(p)
	defer Deregister()

	out, err := registry.Call(context.Background(), "detectLabel", testFrame(), uri)
	test.That(t, err, test.ShouldBeNil)
	value, ok := out.(map[string]interface{})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, value["detectionCount"], test.ShouldEqual, 3)
	test.That(t, value["scores"], test.ShouldHaveLength, testCapacity)
	test.That(t, value["boundingBoxes"], test.ShouldHaveLength, testCapacity)

	out, err = registry.Call(context.Background(), "detectLabel", testFrame(), "http://model.tflite")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldBeNil)

	_, err = registry.Call(context.Background(), "detectLabel", testFrame())
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDebugModeLogsDetections(t *testing.T) {
	ctx := context.Background()
	backend.reset()
	logger, logs := logging.NewObservedTestLogger(t)
	logger.SetLevel(logging.INFO)
	p, err := New(ctx, testConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, p.Close(ctx), test.ShouldBeNil)
	}()
	_, uri := writeModel(t, t.TempDir(), "debug.fake", "model")

	_, err = p.Detect(ctx, testFrame(), uri)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessage("detected").Len(), test.ShouldEqual, 0)

	_, err = p.Detect(logging.EnableDebugMode(ctx, "frame"), testFrame(), uri)
	test.That(t, err, test.ShouldBeNil)
	detected := logs.FilterMessage("detected").All()
	test.That(t, detected, test.ShouldHaveLength, 1)
	test.That(t, detected[0].ContextMap()["debug_key"], test.ShouldEqual, "frame")
	test.That(t, detected[0].ContextMap()["count"], test.ShouldEqual, int64(3))
}

func TestInferenceTiming(t *testing.T) {
	ctx := context.Background()
	backend.reset()
	mock := clock.NewMock()
	backend.mu.Lock()
	backend.clock = mock
	backend.mu.Unlock()

	p, err := New(ctx, testConfig(), logging.NewTestLogger(t), WithClock(mock))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, p.Close(ctx), test.ShouldBeNil)
	}()
	_, uri := writeModel(t, t.TempDir(), "timed.fake", "model")

	test.That(t, p.Stats().LastInference, test.ShouldEqual, time.Duration(0))
	_, err = p.Detect(ctx, testFrame(), uri)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Stats().LastInference, test.ShouldEqual, invokeTime)
}
