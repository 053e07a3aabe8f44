// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense tensors consumed by the attention layers.
//
// # Overview
//
// Tensors are row-major arrays of float32 storage tagged with a precision:
//   - Float32: full precision
//   - Float16: IEEE half precision
//   - BFloat16: brain floating point
//
// Reduced-precision tensors only ever hold values representable in their
// format. Arithmetic runs in float64 and is rounded to the result precision.
//
// # Basic Usage
//
//	x := tensor.Randn(tensor.Shape{2, 8, 64}, tensor.NewSource(0))
//	half := x.Cast(tensor.BFloat16)
//	y := tensor.Add(x, tensor.Ones(tensor.Shape{64}))  // broadcasting
//
// Shape-contract violations panic with a stack-carrying error; use
// github.com/gomlx/exceptions.TryCatch to turn them into errors.
package tensor
