package tensor

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Tensor is a dense, row-major multi-dimensional array.
//
// Operations never modify their receiver; they return new tensors. The only
// mutable access is through Data, used by parameter loading and in-place
// initialisation.
//
// Example:
//
//	t := tensor.Zeros(tensor.Shape{3, 4})
//	u := t.MulScalar(2).Reshape(4, 3)
type Tensor struct {
	shape Shape
	dtype DataType
	data  []float32
}

// New creates a zero-filled tensor with the given shape and data type.
func New(shape Shape, dtype DataType) *Tensor {
	if err := shape.Validate(); err != nil {
		exceptions.Panicf("tensor.New: %v", err)
	}
	return &Tensor{
		shape: shape.Clone(),
		dtype: dtype,
		data:  make([]float32, shape.NumElements()),
	}
}

// FromSlice creates a Float32 tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice(data []float32, shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.NumElements() != len(data) {
		return nil, errors.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	t := New(shape, Float32)
	copy(t.data, data)
	return t, nil
}

// FromValues creates a Float32 tensor from any integer or float slice.
// Useful for masks and token ids held as ints.
func FromValues[T constraints.Integer | constraints.Float](values []T, shape Shape) (*Tensor, error) {
	data := make([]float32, len(values))
	for i, v := range values {
		data[i] = float32(v)
	}
	return FromSlice(data, shape)
}

// MustFromSlice is like FromSlice but panics on error.
func MustFromSlice(data []float32, shape Shape) *Tensor {
	t, err := FromSlice(data, shape)
	if err != nil {
		exceptions.Panicf("tensor.MustFromSlice: %v", err)
	}
	return t
}

// Zeros creates a Float32 tensor filled with zeros.
func Zeros(shape Shape) *Tensor {
	return New(shape, Float32)
}

// Ones creates a Float32 tensor filled with ones.
func Ones(shape Shape) *Tensor {
	return Full(shape, 1)
}

// Full creates a Float32 tensor filled with value.
func Full(shape Shape, value float32) *Tensor {
	t := New(shape, Float32)
	for i := range t.data {
		t.data[i] = value
	}
	return t
}

// Arange creates the 1-D tensor [start, start+1, ..., end-1].
func Arange(start, end int) *Tensor {
	if end <= start {
		exceptions.Panicf("tensor.Arange: empty range [%d, %d)", start, end)
	}
	t := New(Shape{end - start}, Float32)
	for i := range t.data {
		t.data[i] = float32(start + i)
	}
	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape.Clone()
}

// Dim returns the size of one axis; negative axes count from the end.
func (t *Tensor) Dim(axis int) int {
	a := t.shape.Axis(axis)
	if a < 0 {
		exceptions.Panicf("tensor.Dim: axis %d out of range for shape %v", axis, t.shape)
	}
	return t.shape[a]
}

// DType returns the tensor's data type.
func (t *Tensor) DType() DataType {
	return t.dtype
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// Data returns the underlying storage. Writes are visible to the tensor.
func (t *Tensor) Data() []float32 {
	return t.data
}

// Float64s returns a float64 copy of the elements.
func (t *Tensor) Float64s() []float64 {
	out := make([]float64, len(t.data))
	for i, v := range t.data {
		out[i] = float64(v)
	}
	return out
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{shape: t.shape.Clone(), dtype: t.dtype, data: make([]float32, len(t.data))}
	copy(c.data, t.data)
	return c
}

// offset converts a multi-index into a flat offset.
func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		exceptions.Panicf("tensor: index %v has rank %d, tensor has shape %v", idx, len(idx), t.shape)
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			exceptions.Panicf("tensor: index %v out of range for shape %v", idx, t.shape)
		}
		off = off*t.shape[i] + v
	}
	return off
}

// At returns the element at the given multi-index.
func (t *Tensor) At(idx ...int) float32 {
	return t.data[t.offset(idx)]
}

// SetAt stores v at the given multi-index, rounded to the tensor's data type.
func (t *Tensor) SetAt(v float32, idx ...int) {
	t.data[t.offset(idx)] = t.dtype.Round(float64(v))
}

// CopyFrom copies src's elements into t. Shapes must match; values are rounded
// to t's data type.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.shape.Equal(src.shape) {
		return errors.Errorf("cannot copy tensor of shape %v into shape %v", src.shape, t.shape)
	}
	for i, v := range src.data {
		t.data[i] = t.dtype.Round(float64(v))
	}
	return nil
}

// String renders shape and dtype, plus values for small tensors.
func (t *Tensor) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor(%s%v", t.dtype, []int(t.shape))
	if len(t.data) <= 16 {
		fmt.Fprintf(&sb, " %v", t.data)
	}
	sb.WriteString(")")
	return sb.String()
}
