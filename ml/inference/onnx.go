//go:build !no_cgo

package inference

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"gorgonia.org/tensor"

	"go.viam.com/framedetect/ml"
	"go.viam.com/framedetect/utils"
)

func init() {
	RegisterBackend(".onnx", openONNX)
}

var ortEnvMu sync.Mutex

func initONNXEnvironment(libPath string) error {
	ortEnvMu.Lock()
	defer ortEnvMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	return ort.InitializeEnvironment()
}

type onnxEngine struct {
	session *ort.AdvancedSession
	inputF  *ort.Tensor[float32]
	inputU  *ort.Tensor[uint8]
	outputs []*ort.Tensor[float32]
	inInfo  ml.TensorInfo
	outInfo []ml.TensorInfo
	nchw    bool
}

func onnxTensorInfo(io ort.InputOutputInfo) (ml.TensorInfo, error) {
	info := ml.TensorInfo{Name: io.Name, Shape: make([]int, len(io.Dimensions))}
	for i, d := range io.Dimensions {
		switch {
		case d > 0:
			info.Shape[i] = int(d)
		case i == 0:
			info.Shape[i] = 1
		default:
			return ml.TensorInfo{}, errors.Errorf("tensor %q has dynamic dimension %d", io.Name, i)
		}
	}
	switch io.DataType {
	case ort.TensorElementDataTypeFloat:
		info.DataType = ml.Float32
	case ort.TensorElementDataTypeUint8:
		info.DataType = ml.UInt8
	default:
		info.DataType = ml.UnknownType
	}
	return info, nil
}

func toShape(dims []int) ort.Shape {
	s := make([]int64, len(dims))
	for i, d := range dims {
		s[i] = int64(d)
	}
	return ort.NewShape(s...)
}

func openONNX(ctx context.Context, path string, opts Options) (Engine, error) {
	_, span := trace.StartSpan(ctx, "ml::inference::onnx::open")
	defer span.End()

	if err := initONNXEnvironment(opts.ONNXLibraryPath); err != nil {
		return nil, errors.Wrap(err, "could not initialize onnxruntime")
	}
	ins, outs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, err
	}
	if len(ins) != 1 {
		return nil, errors.Errorf("expected 1 input tensor, model has %d", len(ins))
	}

	e := &onnxEngine{}
	if e.inInfo, err = onnxTensorInfo(ins[0]); err != nil {
		return nil, err
	}
	e.nchw = len(e.inInfo.Shape) == 4 && e.inInfo.Shape[1] == 3
	var inputs []ort.ArbitraryTensor
	switch e.inInfo.DataType {
	case ml.Float32:
		e.inputF, err = ort.NewEmptyTensor[float32](toShape(e.inInfo.Shape))
		inputs = append(inputs, e.inputF)
	case ml.UInt8:
		e.inputU, err = ort.NewEmptyTensor[uint8](toShape(e.inInfo.Shape))
		inputs = append(inputs, e.inputU)
	case ml.Int8, ml.UnknownType:
		fallthrough
	default:
		return nil, errors.Errorf("unsupported onnx input type %d", ins[0].DataType)
	}
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	var outputs []ort.ArbitraryTensor
	outNames := make([]string, 0, len(outs))
	for _, o := range outs {
		info, err := onnxTensorInfo(o)
		if err == nil && info.DataType != ml.Float32 {
			err = errors.Errorf("onnx output %q must be float32", o.Name)
		}
		if err != nil {
			return nil, multierr.Combine(err, e.Close())
		}
		t, err := ort.NewEmptyTensor[float32](toShape(info.Shape))
		if err != nil {
			return nil, multierr.Combine(errors.Wrap(err, "error creating output tensor"), e.Close())
		}
		e.outInfo = append(e.outInfo, info)
		e.outputs = append(e.outputs, t)
		outputs = append(outputs, t)
		outNames = append(outNames, o.Name)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "error creating session options"), e.Close())
	}
	//nolint:errcheck
	defer options.Destroy()
	numThreads := opts.NumThreads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(numThreads); err != nil {
		return nil, multierr.Combine(err, e.Close())
	}

	e.session, err = ort.NewAdvancedSession(path, []string{ins[0].Name}, outNames, inputs, outputs, options)
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "error creating session"), e.Close())
	}
	return e, nil
}

// Inputs reports the input in HWC order regardless of the model's layout.
func (e *onnxEngine) Inputs() []ml.TensorInfo {
	info := e.inInfo
	if e.nchw {
		s := info.Shape
		info.Shape = []int{s[0], s[2], s[3], s[1]}
	}
	return []ml.TensorInfo{info}
}

func (e *onnxEngine) Outputs() []ml.TensorInfo {
	return e.outInfo
}

func (e *onnxEngine) Invoke(input interface{}) ([]*tensor.Dense, error) {
	var err error
	if e.inputF != nil {
		var in []float32
		if in, err = utils.AssertType[[]float32](input); err == nil {
			err = fillInput(e.inputF.GetData(), in, e.nchw)
		}
	} else {
		var in []uint8
		if in, err = utils.AssertType[[]uint8](input); err == nil {
			err = fillInput(e.inputU.GetData(), in, e.nchw)
		}
	}
	if err != nil {
		return nil, err
	}
	if err := e.session.Run(); err != nil {
		return nil, err
	}
	outs := make([]*tensor.Dense, 0, len(e.outputs))
	for i, t := range e.outputs {
		data := make([]float32, len(t.GetData()))
		copy(data, t.GetData())
		outs = append(outs, ml.NewFloat32Tensor(data, e.outInfo[i].Shape...))
	}
	return outs, nil
}

// fillInput copies an HWC RGB buffer into dst, transposing to CHW when needed.
func fillInput[T float32 | uint8](dst, src []T, nchw bool) error {
	if len(dst) != len(src) {
		return errors.Errorf("input has %d elements, model expects %d", len(src), len(dst))
	}
	if !nchw {
		copy(dst, src)
		return nil
	}
	plane := len(src) / 3
	for i := 0; i < plane; i++ {
		dst[i] = src[i*3]
		dst[plane+i] = src[i*3+1]
		dst[2*plane+i] = src[i*3+2]
	}
	return nil
}

func (e *onnxEngine) Close() error {
	var err error
	if e.session != nil {
		err = multierr.Combine(err, e.session.Destroy())
		e.session = nil
	}
	if e.inputF != nil {
		err = multierr.Combine(err, e.inputF.Destroy())
		e.inputF = nil
	}
	if e.inputU != nil {
		err = multierr.Combine(err, e.inputU.Destroy())
		e.inputU = nil
	}
	for _, t := range e.outputs {
		err = multierr.Combine(err, t.Destroy())
	}
	e.outputs = nil
	return err
}
