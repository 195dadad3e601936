// Package ml provides some fundamental machine learning primitives.
package ml

import (
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"gorgonia.org/tensor"
)

// Tensors are a map of tensors keyed by the name the model gives them.
type Tensors map[string]*tensor.Dense

// Names returns the sorted names of the tensors.
func (t Tensors) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Float32s returns the backing data of the named tensor as a flat []float32.
func (t Tensors) Float32s(name string) ([]float32, error) {
	data, ok := t[name]
	if !ok || data == nil {
		return nil, errors.Errorf("no tensor named %q among output tensors %v", name, t.Names())
	}
	return ConvertToFloat32Slice(data.Data())
}

// NewFloat32Tensor wraps a float32 slice in a dense tensor of the given shape.
func NewFloat32Tensor(data []float32, shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// number interface for converting between numbers.
type number interface {
	constraints.Integer | constraints.Float
}

// convertNumberSlice converts any number slice into another number slice.
func convertNumberSlice[T1, T2 number](t1 []T1) []T2 {
	t2 := make([]T2, len(t1))
	for i := range t1 {
		t2[i] = T2(t1[i])
	}
	return t2
}

// ConvertToFloat32Slice converts any numeric slice, or a single number, to a []float32.
func ConvertToFloat32Slice(slice interface{}) ([]float32, error) {
	switch v := slice.(type) {
	case []float32:
		return v, nil
	case float32:
		return []float32{v}, nil
	case []float64:
		return convertNumberSlice[float64, float32](v), nil
	case float64:
		return []float32{float32(v)}, nil
	case []int:
		return convertNumberSlice[int, float32](v), nil
	case []int8:
		return convertNumberSlice[int8, float32](v), nil
	case []int16:
		return convertNumberSlice[int16, float32](v), nil
	case []int32:
		return convertNumberSlice[int32, float32](v), nil
	case []int64:
		return convertNumberSlice[int64, float32](v), nil
	case []uint8:
		return convertNumberSlice[uint8, float32](v), nil
	case []uint16:
		return convertNumberSlice[uint16, float32](v), nil
	case []uint32:
		return convertNumberSlice[uint32, float32](v), nil
	case []uint64:
		return convertNumberSlice[uint64, float32](v), nil
	default:
		return nil, errors.Errorf("dont know how to convert slice of %T into a []float32", slice)
	}
}

// ConvertToFloat64Slice converts any numeric slice to a []float64.
func ConvertToFloat64Slice(slice interface{}) ([]float64, error) {
	if v, ok := slice.([]float64); ok {
		return v, nil
	}
	f32, err := ConvertToFloat32Slice(slice)
	if err != nil {
		return nil, err
	}
	return convertNumberSlice[float32, float64](f32), nil
}
