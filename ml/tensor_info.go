package ml

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// DataType is the element type of a model tensor.
type DataType int

// The element types a detection model may declare.
const (
	UnknownType DataType = iota
	UInt8
	Int8
	Float32
)

func (dt DataType) String() string {
	switch dt {
	case UInt8:
		return "uint8"
	case Int8:
		return "int8"
	case Float32:
		return "float32"
	case UnknownType:
		fallthrough
	default:
		return "unknown"
	}
}

// DataTypeFromString parses the name of an element type.
func DataTypeFromString(s string) (DataType, error) {
	switch s {
	case "uint8":
		return UInt8, nil
	case "int8":
		return Int8, nil
	case "float32":
		return Float32, nil
	default:
		return UnknownType, errors.Errorf("unknown tensor data type %q", s)
	}
}

// TensorInfo describes a single model input or output.
type TensorInfo struct {
	Name     string      `json:"name"`
	DataType DataType    `json:"data_type"`
	Shape    []int       `json:"shape"`
	Quant    QuantParams `json:"quant"`
}

// Size is the number of elements in the tensor.
func (ti TensorInfo) Size() int {
	if len(ti.Shape) == 0 {
		return 0
	}
	return lo.Reduce(ti.Shape, func(acc, d, _ int) int { return acc * d }, 1)
}

// ShapeEquals reports whether the tensor shape matches dims, ignoring leading batch dimensions of 1.
func (ti TensorInfo) ShapeEquals(dims ...int) bool {
	shape := ti.Shape
	for len(shape) > len(dims) && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != len(dims) {
		return false
	}
	for i := range dims {
		if shape[i] != dims[i] {
			return false
		}
	}
	return true
}

func (ti TensorInfo) String() string {
	return fmt.Sprintf("%s %s%v", ti.Name, ti.DataType, ti.Shape)
}
