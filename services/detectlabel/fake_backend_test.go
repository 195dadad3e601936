package detectlabel

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"gorgonia.org/tensor"

	"go.viam.com/framedetect/ml"
	"go.viam.com/framedetect/ml/inference"
	"go.viam.com/framedetect/rimage"
	"go.viam.com/framedetect/testutils"
)

const (
	testSide     = 8
	testCapacity = 25
	invokeTime   = 40 * time.Millisecond
)

// fakeBackend stands in for a model runtime. Files whose content is "corrupt" fail to open.
type fakeBackend struct {
	mu      sync.Mutex
	opens   map[string]int
	engines []*fakeEngine
	// when gate is set, open signals entered and waits for gate to close
	gate    chan struct{}
	entered chan struct{}
	// when clock is set, every invocation advances it by invokeTime
	clock *clock.Mock

	invocations atomic.Int64
	panicOnRun  atomic.Bool
	failRun     atomic.Bool
}

var backend = &fakeBackend{opens: map[string]int{}}

func init() {
	inference.RegisterBackend(".fake", backend.open)
}

func (b *fakeBackend) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens = map[string]int{}
	b.engines = nil
	b.gate = nil
	b.entered = nil
	b.clock = nil
	b.invocations.Store(0)
	b.panicOnRun.Store(false)
	b.failRun.Store(false)
}

func (b *fakeBackend) openCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[path]
}

func (b *fakeBackend) open(_ context.Context, path string, _ inference.Options) (inference.Engine, error) {
	b.mu.Lock()
	gate, entered := b.gate, b.entered
	b.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if string(content) == "corrupt" {
		return nil, errors.New("not a flatbuffer")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens[path]++
	e := &fakeEngine{backend: b}
	b.engines = append(b.engines, e)
	return e, nil
}

type fakeEngine struct {
	backend *fakeBackend
	closed  atomic.Bool
}

func (e *fakeEngine) Inputs() []ml.TensorInfo {
	return []ml.TensorInfo{{Name: "image", DataType: ml.UInt8, Shape: []int{1, testSide, testSide, 3}}}
}

func (e *fakeEngine) Outputs() []ml.TensorInfo {
	return []ml.TensorInfo{
		{Name: "scores", DataType: ml.Float32, Shape: []int{1, testCapacity}},
		{Name: "boxes", DataType: ml.Float32, Shape: []int{1, testCapacity, 4}},
		{Name: "count", DataType: ml.Float32, Shape: []int{1}},
		{Name: "classes", DataType: ml.Float32, Shape: []int{1, testCapacity}},
	}
}

func (e *fakeEngine) Invoke(input interface{}) ([]*tensor.Dense, error) {
	e.backend.invocations.Inc()
	e.backend.mu.Lock()
	clk := e.backend.clock
	e.backend.mu.Unlock()
	if clk != nil {
		clk.Add(invokeTime)
	}
	if e.closed.Load() {
		panic("invoked a closed engine")
	}
	if e.backend.panicOnRun.Load() {
		panic("segfault in runtime")
	}
	if e.backend.failRun.Load() {
		return nil, errors.New("invoke failed")
	}
	if buf, ok := input.([]uint8); !ok || len(buf) != testSide*testSide*3 {
		return nil, errors.Errorf("bad input %T", input)
	}
	scores := make([]float32, testCapacity)
	boxes := make([]float32, 4*testCapacity)
	categories := make([]float32, testCapacity)
	for i := range scores {
		scores[i] = 0.9 - float32(i)*0.01
		copy(boxes[4*i:], []float32{0.1, 0.2, 0.5, 0.6})
		categories[i] = float32(i % 2)
	}
	return []*tensor.Dense{
		ml.NewFloat32Tensor(scores, 1, testCapacity),
		ml.NewFloat32Tensor(boxes, 1, testCapacity, 4),
		ml.NewFloat32Tensor([]float32{3.6}, 1),
		ml.NewFloat32Tensor(categories, 1, testCapacity),
	}, nil
}

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

// writeModel writes a model file and returns its path and file URI.
func writeModel(t *testing.T, dir, name, content string) (string, string) {
	t.Helper()
	path := testutils.WriteFile(t, dir, name, content)
	return path, testutils.FileURI(path)
}

func testFrame() *rimage.Frame {
	const w, h = 16, 12
	return &rimage.Frame{
		Format: rimage.FormatNV21,
		Width:  w,
		Height: h,
		Planes: [][]byte{make([]byte, w*h), make([]byte, w*h/2)},
	}
}

func testConfig() *Config {
	return &Config{InputSize: testSide}
}
