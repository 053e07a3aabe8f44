// Package tensor provides the dense tensor substrate used by the attention core.
//
// Tensors are row-major and store their elements as float32. A tensor's DataType
// records the precision its values are rounded to: Float16 and BFloat16 tensors
// hold only values representable in that format. Arithmetic runs in float64 and
// rounds the result to the output precision.
package tensor

import (
	"strings"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DataType represents runtime precision information for tensors.
type DataType int

// Supported data types for tensors.
const (
	Float32 DataType = iota
	Float16
	BFloat16
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float16, BFloat16:
		return 2
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	default:
		return "unknown"
	}
}

// Round converts v to the nearest value representable in dt.
func (dt DataType) Round(v float64) float32 {
	switch dt {
	case Float16:
		return float16.Fromfloat32(float32(v)).Float32()
	case BFloat16:
		return bfloat16.FromFloat32(float32(v)).Float32()
	default:
		return float32(v)
	}
}

// Promote returns the data type able to hold values of both a and b.
// Mixing the two 16-bit formats promotes to Float32.
func Promote(a, b DataType) DataType {
	if a == b {
		return a
	}
	return Float32
}

// ParseDataType parses names such as "float32", "f16" or "bf16".
func ParseDataType(name string) (DataType, error) {
	switch strings.ToLower(name) {
	case "float32", "f32", "fp32":
		return Float32, nil
	case "float16", "f16", "fp16", "half":
		return Float16, nil
	case "bfloat16", "bf16":
		return BFloat16, nil
	}
	return Float32, errors.Errorf("unknown data type %q", name)
}
