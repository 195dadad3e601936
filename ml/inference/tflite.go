//go:build !no_cgo

package inference

import (
	"context"
	"runtime"

	tflite "github.com/mattn/go-tflite"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"gorgonia.org/tensor"

	"go.viam.com/framedetect/logging"
	"go.viam.com/framedetect/ml"
)

func init() {
	RegisterBackend(".tflite", defaultTFLiteLoader().open)
}

// tfliteLoader holds the constructors used to build an interpreter so they can be swapped in tests.
type tfliteLoader struct {
	modelLoader       func(path string) *tflite.Model
	optionsLoader     func() *tflite.InterpreterOptions
	interpreterLoader func(model *tflite.Model, options *tflite.InterpreterOptions) *tflite.Interpreter
}

func defaultTFLiteLoader() *tfliteLoader {
	return &tfliteLoader{
		modelLoader:       tflite.NewModelFromFile,
		optionsLoader:     tflite.NewInterpreterOptions,
		interpreterLoader: tflite.NewInterpreter,
	}
}

type tfliteEngine struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	inputs      []ml.TensorInfo
	outputs     []ml.TensorInfo
}

func (l *tfliteLoader) open(ctx context.Context, path string, opts Options) (Engine, error) {
	_, span := trace.StartSpan(ctx, "ml::inference::tflite::open")
	defer span.End()

	model := l.modelLoader(path)
	if model == nil {
		return nil, errors.Errorf("failed to load tflite model from %s", path)
	}
	options := l.optionsLoader()
	if options == nil {
		model.Delete()
		return nil, errors.New("interpreter options failed to be created")
	}
	numThreads := opts.NumThreads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	options.SetNumThread(numThreads)
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}
	options.SetErrorReporter(func(msg string, _ interface{}) {
		logger.Warnw("tflite", "msg", msg)
	}, nil)

	interpreter := l.interpreterLoader(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.New("failed to create interpreter")
	}
	e := &tfliteEngine{model: model, options: options, interpreter: interpreter}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		//nolint:errcheck
		e.Close()
		return nil, errors.New("failed to allocate tensors")
	}
	for i := 0; i < interpreter.GetInputTensorCount(); i++ {
		e.inputs = append(e.inputs, tfliteTensorInfo(interpreter.GetInputTensor(i)))
	}
	for i := 0; i < interpreter.GetOutputTensorCount(); i++ {
		e.outputs = append(e.outputs, tfliteTensorInfo(interpreter.GetOutputTensor(i)))
	}
	return e, nil
}

func tfliteTensorInfo(t *tflite.Tensor) ml.TensorInfo {
	shape := make([]int, t.NumDims())
	for i := range shape {
		shape[i] = t.Dim(i)
	}
	qp := t.QuantizationParams()
	info := ml.TensorInfo{
		Name:  t.Name(),
		Shape: shape,
		Quant: ml.QuantParams{Scale: qp.Scale, ZeroPoint: qp.ZeroPoint},
	}
	switch t.Type() {
	case tflite.UInt8:
		info.DataType = ml.UInt8
	case tflite.Int8:
		info.DataType = ml.Int8
	case tflite.Float32:
		info.DataType = ml.Float32
	default:
		info.DataType = ml.UnknownType
	}
	return info
}

func (e *tfliteEngine) Inputs() []ml.TensorInfo {
	return e.inputs
}

func (e *tfliteEngine) Outputs() []ml.TensorInfo {
	return e.outputs
}

func (e *tfliteEngine) Invoke(input interface{}) ([]*tensor.Dense, error) {
	in := e.interpreter.GetInputTensor(0)
	if status := in.CopyFromBuffer(input); status != tflite.OK {
		return nil, errors.Errorf("copying %T to input tensor failed", input)
	}
	if status := e.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.New("invoke failed")
	}
	outs := make([]*tensor.Dense, 0, len(e.outputs))
	for i, info := range e.outputs {
		data, err := readTFLiteOutput(e.interpreter.GetOutputTensor(i), info)
		if err != nil {
			return nil, errors.Wrapf(err, "output %d", i)
		}
		outs = append(outs, ml.NewFloat32Tensor(data, info.Shape...))
	}
	return outs, nil
}

// readTFLiteOutput copies an output tensor out of runtime memory, dequantizing integer outputs.
func readTFLiteOutput(t *tflite.Tensor, info ml.TensorInfo) ([]float32, error) {
	n := info.Size()
	switch info.DataType {
	case ml.Float32:
		buf := make([]float32, n)
		if status := t.CopyToBuffer(buf); status != tflite.OK {
			return nil, errors.New("copying float32 output failed")
		}
		return buf, nil
	case ml.UInt8:
		buf := make([]uint8, n)
		if status := t.CopyToBuffer(buf); status != tflite.OK {
			return nil, errors.New("copying uint8 output failed")
		}
		return info.Quant.DequantizeUint8(buf), nil
	case ml.Int8:
		buf := make([]int8, n)
		if status := t.CopyToBuffer(buf); status != tflite.OK {
			return nil, errors.New("copying int8 output failed")
		}
		return info.Quant.DequantizeInt8(buf), nil
	case ml.UnknownType:
		fallthrough
	default:
		return nil, errors.Errorf("unsupported output type %s", t.Type())
	}
}

// Close deletes the interpreter, its options and the model.
func (e *tfliteEngine) Close() error {
	if e.interpreter != nil {
		e.interpreter.Delete()
		e.interpreter = nil
	}
	if e.options != nil {
		e.options.Delete()
		e.options = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
	return nil
}
