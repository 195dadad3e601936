// Package inject provides inference engines whose methods can be swapped out in tests.
package inject

import (
	"gorgonia.org/tensor"

	"go.viam.com/framedetect/ml"
	"go.viam.com/framedetect/ml/inference"
)

// Engine is an injected inference engine.
type Engine struct {
	inference.Engine
	InputsFunc  func() []ml.TensorInfo
	OutputsFunc func() []ml.TensorInfo
	InvokeFunc  func(input interface{}) ([]*tensor.Dense, error)
	CloseFunc   func() error
}

// Inputs calls the injected Inputs or the real version.
func (e *Engine) Inputs() []ml.TensorInfo {
	if e.InputsFunc == nil {
		return e.Engine.Inputs()
	}
	return e.InputsFunc()
}

// Outputs calls the injected Outputs or the real version.
func (e *Engine) Outputs() []ml.TensorInfo {
	if e.OutputsFunc == nil {
		return e.Engine.Outputs()
	}
	return e.OutputsFunc()
}

// Invoke calls the injected Invoke or the real version.
func (e *Engine) Invoke(input interface{}) ([]*tensor.Dense, error) {
	if e.InvokeFunc == nil {
		return e.Engine.Invoke(input)
	}
	return e.InvokeFunc(input)
}

// Close calls the injected Close or the real version.
func (e *Engine) Close() error {
	if e.CloseFunc == nil {
		if e.Engine == nil {
			return nil
		}
		return e.Engine.Close()
	}
	return e.CloseFunc()
}

// DetectorEngine returns an engine with one side x side x 3 input of type dt and the four
// detector outputs for capacity slots. Invoke must still be injected.
func DetectorEngine(dt ml.DataType, side, capacity int) *Engine {
	return &Engine{
		InputsFunc: func() []ml.TensorInfo {
			return []ml.TensorInfo{{Name: "image", DataType: dt, Shape: []int{1, side, side, 3}}}
		},
		OutputsFunc: func() []ml.TensorInfo {
			return []ml.TensorInfo{
				{Name: "scores", DataType: ml.Float32, Shape: []int{1, capacity}},
				{Name: "boxes", DataType: ml.Float32, Shape: []int{1, capacity, 4}},
				{Name: "count", DataType: ml.Float32, Shape: []int{1}},
				{Name: "classes", DataType: ml.Float32, Shape: []int{1, capacity}},
			}
		},
	}
}
