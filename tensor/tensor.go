// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"math/rand/v2"

	"github.com/born-ml/multimodal/internal/tensor"
)

// Tensor is a dense row-major tensor.
type Tensor = tensor.Tensor

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// DataType is the precision a tensor's values are rounded to.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32  DataType = tensor.Float32
	Float16  DataType = tensor.Float16
	BFloat16 DataType = tensor.BFloat16
)

// ParseDataType resolves names such as "float32", "fp16" or "bf16".
func ParseDataType(name string) (DataType, error) {
	return tensor.ParseDataType(name)
}

// New creates a zero tensor of the given shape and precision.
func New(shape Shape, dtype DataType) *Tensor {
	return tensor.New(shape, dtype)
}

// FromSlice creates a Float32 tensor over a copy of data.
func FromSlice(data []float32, shape Shape) (*Tensor, error) {
	return tensor.FromSlice(data, shape)
}

// Zeros creates a Float32 tensor filled with zeros.
func Zeros(shape Shape) *Tensor {
	return tensor.Zeros(shape)
}

// Ones creates a Float32 tensor filled with ones.
func Ones(shape Shape) *Tensor {
	return tensor.Ones(shape)
}

// Full creates a Float32 tensor filled with value.
func Full(shape Shape, value float32) *Tensor {
	return tensor.Full(shape, value)
}

// NewSource returns a deterministic random source for seed.
func NewSource(seed uint64) rand.Source {
	return tensor.NewSource(seed)
}

// Randn creates a tensor of standard normal samples.
func Randn(shape Shape, src rand.Source) *Tensor {
	return tensor.Randn(shape, src)
}

// Add returns a+b with broadcasting.
func Add(a, b *Tensor) *Tensor {
	return tensor.Add(a, b)
}

// Mul returns a*b elementwise with broadcasting.
func Mul(a, b *Tensor) *Tensor {
	return tensor.Mul(a, b)
}

// MatMul multiplies two rank-2 tensors.
func MatMul(a, b *Tensor) *Tensor {
	return tensor.MatMul(a, b)
}

// AllClose reports whether a and b have equal shapes and elements within tol.
func AllClose(a, b *Tensor, tol float64) bool {
	return tensor.AllClose(a, b, tol)
}
