package rimage

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/framedetect/ml"
)

// Preprocessor turns raw frames into model inputs, reusing its intermediate buffers.
// It is not safe for concurrent use.
type Preprocessor struct {
	converter ColorConverter
	resizer   Resizer
	norm      Normalization
	tensor    *Tensor
}

// NewPreprocessor returns a preprocessor using the given resize method and normalization.
func NewPreprocessor(method ResizeMethod, norm Normalization) *Preprocessor {
	return &Preprocessor{resizer: Resizer{Method: method}, norm: norm}
}

// inputSize returns the height and width of an HWC input.
func inputSize(info ml.TensorInfo) (int, int, error) {
	s := info.Shape
	if len(s) < 3 || s[len(s)-1] != 3 {
		return 0, 0, errors.Wrapf(ErrPreprocessingFailure, "input %s is not HWC RGB", info)
	}
	return s[len(s)-3], s[len(s)-2], nil
}

// Process converts, rotates, resizes and packs a frame for a model input. The returned tensor is
// reused by the next call.
func (p *Preprocessor) Process(ctx context.Context, f *Frame, info ml.TensorInfo) (*Tensor, error) {
	_, span := trace.StartSpan(ctx, "rimage::Preprocessor::Process")
	defer span.End()

	height, width, err := inputSize(info)
	if err != nil {
		return nil, err
	}
	rgb, err := p.converter.Convert(f)
	if err != nil {
		return nil, err
	}
	upright, err := Rotate(rgb, f.Rotation)
	if err != nil {
		return nil, err
	}
	scaled, err := p.resizer.Resize(upright, width, height)
	if err != nil {
		return nil, err
	}
	if p.tensor == nil || !sameTensor(p.tensor.Info, info) {
		if p.tensor, err = NewTensor(info); err != nil {
			return nil, err
		}
	}
	if err := p.tensor.Fill(scaled, p.norm); err != nil {
		return nil, err
	}
	return p.tensor, nil
}

func sameTensor(a, b ml.TensorInfo) bool {
	return a.DataType == b.DataType && a.Quant == b.Quant && a.Size() == b.Size()
}
