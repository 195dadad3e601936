package ml

import (
	"math"

	"go.viam.com/framedetect/utils"
)

// QuantParams are the affine quantization parameters of a tensor: real = scale * (q - zeroPoint).
// A zero scale means the tensor is not quantized.
type QuantParams struct {
	Scale     float64 `json:"scale"`
	ZeroPoint int     `json:"zero_point"`
}

// IsQuantized reports whether the parameters describe a quantized tensor.
func (qp QuantParams) IsQuantized() bool {
	return qp.Scale != 0
}

// Quantize maps a real value to the integer domain of dt, rounding half away from zero and
// clamping to the type's range.
func (qp QuantParams) Quantize(real float32, dt DataType) int {
	lo, hi := dataTypeRange(dt)
	if !qp.IsQuantized() {
		return utils.Clamp(int(math.Round(float64(real))), lo, hi)
	}
	q := int(math.Round(float64(real)/qp.Scale)) + qp.ZeroPoint
	return utils.Clamp(q, lo, hi)
}

// Dequantize maps a quantized value back to its real value.
func (qp QuantParams) Dequantize(q int) float32 {
	if !qp.IsQuantized() {
		return float32(q)
	}
	return float32(qp.Scale * float64(q-qp.ZeroPoint))
}

// DequantizeUint8 dequantizes a whole uint8 buffer.
func (qp QuantParams) DequantizeUint8(data []uint8) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = qp.Dequantize(int(v))
	}
	return out
}

// DequantizeInt8 dequantizes a whole int8 buffer.
func (qp QuantParams) DequantizeInt8(data []int8) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = qp.Dequantize(int(v))
	}
	return out
}

func dataTypeRange(dt DataType) (int, int) {
	switch dt {
	case Int8:
		return math.MinInt8, math.MaxInt8
	case UInt8:
		return 0, math.MaxUint8
	case Float32, UnknownType:
		fallthrough
	default:
		return math.MinInt32, math.MaxInt32
	}
}
