package tensor

import (
	"math"

	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/mat"
)

// Cast returns a copy of t rounded to dtype.
func (t *Tensor) Cast(dtype DataType) *Tensor {
	out := New(t.shape, dtype)
	for i, v := range t.data {
		out.data[i] = dtype.Round(float64(v))
	}
	return out
}

// Reshape returns a copy of t with a new shape. One dimension may be -1,
// in which case it is inferred from the element count.
func (t *Tensor) Reshape(dims ...int) *Tensor {
	shape := make(Shape, len(dims))
	copy(shape, dims)
	infer := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == -1 && infer < 0:
			infer = i
		case d <= 0:
			exceptions.Panicf("tensor.Reshape: invalid dimension %d in %v", d, dims)
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			exceptions.Panicf("tensor.Reshape: cannot infer dimension for %v from %d elements", dims, len(t.data))
		}
		shape[infer] = len(t.data) / known
	}
	if shape.NumElements() != len(t.data) {
		exceptions.Panicf("tensor.Reshape: shape %v incompatible with %v", dims, t.shape)
	}
	out := &Tensor{shape: shape, dtype: t.dtype, data: make([]float32, len(t.data))}
	copy(out.data, t.data)
	return out
}

// Unsqueeze inserts a size-1 axis at position axis (negative counts from the end
// of the result).
func (t *Tensor) Unsqueeze(axis int) *Tensor {
	rank := len(t.shape) + 1
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		exceptions.Panicf("tensor.Unsqueeze: axis out of range for shape %v", t.shape)
	}
	dims := make([]int, 0, rank)
	dims = append(dims, t.shape[:axis]...)
	dims = append(dims, 1)
	dims = append(dims, t.shape[axis:]...)
	return t.Reshape(dims...)
}

// Transpose permutes the axes of t. With no arguments the axes are reversed.
func (t *Tensor) Transpose(perm ...int) *Tensor {
	rank := len(t.shape)
	if len(perm) == 0 {
		perm = make([]int, rank)
		for i := range perm {
			perm[i] = rank - 1 - i
		}
	}
	if len(perm) != rank {
		exceptions.Panicf("tensor.Transpose: permutation %v does not match rank %d", perm, rank)
	}
	seen := make([]bool, rank)
	newShape := make(Shape, rank)
	for i, p := range perm {
		if p < 0 || p >= rank || seen[p] {
			exceptions.Panicf("tensor.Transpose: invalid permutation %v", perm)
		}
		seen[p] = true
		newShape[i] = t.shape[p]
	}

	srcStrides := t.shape.ComputeStrides()
	strides := make([]int, rank)
	for i, p := range perm {
		strides[i] = srcStrides[p]
	}
	out := New(newShape, t.dtype)
	forEachIndex(newShape, func(flat int, idx []int) {
		off := 0
		for i, v := range idx {
			off += v * strides[i]
		}
		out.data[flat] = t.data[off]
	})
	return out
}

// BroadcastTo expands t to shape following broadcasting rules.
func (t *Tensor) BroadcastTo(shape Shape) *Tensor {
	result, _, err := BroadcastShapes(t.shape, shape)
	if err != nil || !result.Equal(shape) {
		exceptions.Panicf("tensor.BroadcastTo: cannot broadcast %v to %v", t.shape, shape)
	}
	strides := t.shape.broadcastStrides(shape)
	out := New(shape, t.dtype)
	forEachIndex(shape, func(flat int, idx []int) {
		off := 0
		for i, v := range idx {
			off += v * strides[i]
		}
		out.data[flat] = t.data[off]
	})
	return out
}

// binary applies op elementwise with broadcasting; the result dtype is the
// promotion of both operands.
func binary(name string, a, b *Tensor, op func(x, y float64) float64) *Tensor {
	shape, _, err := BroadcastShapes(a.shape, b.shape)
	if err != nil {
		exceptions.Panicf("tensor.%s: %v", name, err)
	}
	dtype := Promote(a.dtype, b.dtype)
	out := New(shape, dtype)
	if a.shape.Equal(b.shape) {
		for i := range out.data {
			out.data[i] = dtype.Round(op(float64(a.data[i]), float64(b.data[i])))
		}
		return out
	}
	as := a.shape.broadcastStrides(shape)
	bs := b.shape.broadcastStrides(shape)
	forEachIndex(shape, func(flat int, idx []int) {
		ao, bo := 0, 0
		for i, v := range idx {
			ao += v * as[i]
			bo += v * bs[i]
		}
		out.data[flat] = dtype.Round(op(float64(a.data[ao]), float64(b.data[bo])))
	})
	return out
}

// Combine applies op elementwise to a and b with broadcasting.
func Combine(a, b *Tensor, op func(x, y float64) float64) *Tensor {
	return binary("Combine", a, b, op)
}

// Add returns a + b with broadcasting.
func Add(a, b *Tensor) *Tensor {
	return binary("Add", a, b, func(x, y float64) float64 { return x + y })
}

// Mul returns the elementwise product a * b with broadcasting.
func Mul(a, b *Tensor) *Tensor {
	return binary("Mul", a, b, func(x, y float64) float64 { return x * y })
}

// Map applies fn to every element, keeping the data type.
func (t *Tensor) Map(fn func(float64) float64) *Tensor {
	out := New(t.shape, t.dtype)
	for i, v := range t.data {
		out.data[i] = t.dtype.Round(fn(float64(v)))
	}
	return out
}

// MulScalar multiplies every element by s.
func (t *Tensor) MulScalar(s float64) *Tensor {
	return t.Map(func(v float64) float64 { return v * s })
}

// Softmax normalizes along the last axis using the max-subtraction trick.
// A row whose entries are all -Inf yields zeros.
func (t *Tensor) Softmax() *Tensor {
	if len(t.shape) == 0 {
		exceptions.Panicf("tensor.Softmax: scalar input")
	}
	n := t.shape[len(t.shape)-1]
	out := New(t.shape, t.dtype)
	row := make([]float64, n)
	for start := 0; start < len(t.data); start += n {
		SoftmaxRow(row, t.data[start:start+n])
		for j, v := range row {
			out.data[start+j] = t.dtype.Round(v)
		}
	}
	return out
}

// SoftmaxRow writes the softmax of src into dst in float64.
func SoftmaxRow[T float32 | float64](dst []float64, src []T) {
	maxVal := math.Inf(-1)
	for _, v := range src {
		maxVal = math.Max(maxVal, float64(v))
	}
	if math.IsInf(maxVal, -1) {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	var sum float64
	for i, v := range src {
		e := math.Exp(float64(v) - maxVal)
		dst[i] = e
		sum += e
	}
	for i := range dst {
		dst[i] /= sum
	}
}

// Sum returns the sum of all elements in float64.
func (t *Tensor) Sum() float64 {
	var s float64
	for _, v := range t.data {
		s += float64(v)
	}
	return s
}

// MinMax returns the smallest and largest element.
func (t *Tensor) MinMax() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range t.data {
		lo = math.Min(lo, float64(v))
		hi = math.Max(hi, float64(v))
	}
	return lo, hi
}

// toDense converts a rank-2 tensor into a gonum matrix.
func (t *Tensor) toDense() *mat.Dense {
	if len(t.shape) != 2 {
		exceptions.Panicf("tensor: expected rank-2 tensor, got shape %v", t.shape)
	}
	return mat.NewDense(t.shape[0], t.shape[1], t.Float64s())
}

func fromDense(m *mat.Dense, dtype DataType) *Tensor {
	r, c := m.Dims()
	out := New(Shape{r, c}, dtype)
	raw := m.RawMatrix()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.data[i*c+j] = dtype.Round(raw.Data[i*raw.Stride+j])
		}
	}
	return out
}

// MatMul returns the matrix product a·b of two rank-2 tensors.
func MatMul(a, b *Tensor) *Tensor {
	if a.Rank() != 2 || b.Rank() != 2 || a.shape[1] != b.shape[0] {
		exceptions.Panicf("tensor.MatMul: incompatible shapes %v and %v", a.shape, b.shape)
	}
	var c mat.Dense
	c.Mul(a.toDense(), b.toDense())
	return fromDense(&c, Promote(a.dtype, b.dtype))
}

// MatMulTransposed returns a·bᵀ, the layout used by linear layers whose
// weights are stored as [out, in].
func MatMulTransposed(a, b *Tensor) *Tensor {
	if a.Rank() != 2 || b.Rank() != 2 || a.shape[1] != b.shape[1] {
		exceptions.Panicf("tensor.MatMulTransposed: incompatible shapes %v and %v", a.shape, b.shape)
	}
	var c mat.Dense
	c.Mul(a.toDense(), b.toDense().T())
	return fromDense(&c, Promote(a.dtype, b.dtype))
}

// AllClose reports whether a and b have the same shape and all elements
// differ by at most tol.
func AllClose(a, b *Tensor, tol float64) bool {
	if !a.shape.Equal(b.shape) {
		return false
	}
	for i := range a.data {
		if math.Abs(float64(a.data[i])-float64(b.data[i])) > tol {
			return false
		}
	}
	return true
}

// forEachIndex calls fn for every multi-index of shape in row-major order.
// The idx slice is reused between calls.
func forEachIndex(shape Shape, fn func(flat int, idx []int)) {
	n := shape.NumElements()
	idx := make([]int, len(shape))
	for flat := 0; flat < n; flat++ {
		fn(flat, idx)
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < shape[i] {
				break
			}
			idx[i] = 0
		}
	}
}
