package rimage

import (
	"image"

	"github.com/pkg/errors"

	"go.viam.com/framedetect/ml"
)

// Normalization maps a pixel byte v to the real value (v - Mean) / Std fed to the model.
// Integer inputs only use it when Quantize is set; otherwise they get the pixel bytes.
type Normalization struct {
	Mean     float32 `json:"mean"`
	Std      float32 `json:"std"`
	Quantize bool    `json:"quantize"`
}

// DefaultNormalization scales bytes to [0, 1].
func DefaultNormalization() Normalization {
	return Normalization{Mean: 0, Std: 255}
}

func (n Normalization) apply(v uint8) float32 {
	std := n.Std
	if std == 0 {
		std = 1
	}
	return (float32(v) - n.Mean) / std
}

// Tensor is a packed HWC RGB model input. Exactly one of the backing slices is set, matching
// Info.DataType.
type Tensor struct {
	Info    ml.TensorInfo
	UInt8   []uint8
	Int8    []int8
	Float32 []float32
}

// NewTensor allocates a tensor for the given model input.
func NewTensor(info ml.TensorInfo) (*Tensor, error) {
	n := info.Size()
	if n <= 0 || n%3 != 0 {
		return nil, errors.Wrapf(ErrPreprocessingFailure, "cannot pack RGB into input %s", info)
	}
	t := &Tensor{Info: info}
	switch info.DataType {
	case ml.UInt8:
		t.UInt8 = make([]uint8, n)
	case ml.Int8:
		t.Int8 = make([]int8, n)
	case ml.Float32:
		t.Float32 = make([]float32, n)
	case ml.UnknownType:
		fallthrough
	default:
		return nil, errors.Wrapf(ErrPreprocessingFailure, "unsupported input type %s", info.DataType)
	}
	return t, nil
}

// Buffer returns the backing slice to hand to the runtime.
func (t *Tensor) Buffer() interface{} {
	switch t.Info.DataType {
	case ml.UInt8:
		return t.UInt8
	case ml.Int8:
		return t.Int8
	case ml.Float32:
		return t.Float32
	case ml.UnknownType:
		fallthrough
	default:
		return nil
	}
}

// Fill packs img into the tensor. img must have exactly as many pixels as the tensor.
//
// Float inputs get the normalized value. Integer inputs get the raw bytes, shifted by -128 for
// int8, unless norm.Quantize is set and the tensor has quantization parameters: then they get the
// normalized value quantized with those parameters.
func (t *Tensor) Fill(img *image.RGBA, norm Normalization) error {
	b := img.Bounds()
	if b.Dx()*b.Dy()*3 != t.Info.Size() {
		return errors.Wrapf(ErrPreprocessingFailure, "image %dx%d does not fit input %s", b.Dx(), b.Dy(), t.Info)
	}
	qp := t.Info.Quant
	requantize := norm.Quantize && qp.IsQuantized()
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			for c := 0; c < 3; c++ {
				v := row[4*x+c]
				switch t.Info.DataType {
				case ml.Float32:
					t.Float32[i] = norm.apply(v)
				case ml.UInt8:
					if requantize {
						t.UInt8[i] = uint8(qp.Quantize(norm.apply(v), ml.UInt8))
					} else {
						t.UInt8[i] = v
					}
				case ml.Int8:
					if requantize {
						t.Int8[i] = int8(qp.Quantize(norm.apply(v), ml.Int8))
					} else {
						t.Int8[i] = int8(int(v) - 128)
					}
				case ml.UnknownType:
				}
				i++
			}
		}
	}
	return nil
}

// Pack allocates a tensor for info and fills it from img.
func Pack(img *image.RGBA, info ml.TensorInfo, norm Normalization) (*Tensor, error) {
	t, err := NewTensor(info)
	if err != nil {
		return nil, err
	}
	if err := t.Fill(img, norm); err != nil {
		return nil, err
	}
	return t, nil
}
