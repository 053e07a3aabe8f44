package nn

import (
	"github.com/gomlx/exceptions"

	"github.com/born-ml/multimodal/internal/tensor"
)

// ApplyRotary rotates adjacent channel pairs of x by the angles in cache.
//
// Shapes:
//   - x: [batch, length, heads, head_dim]
//   - cache: [length, n], [1, length, n] or [batch, length, n], interleaved
//     cos/sin, with n even and n ≤ head_dim
//
// For each pair (a, b) among the first n channels:
//
//	a' = a·cos − b·sin
//	b' = a·sin + b·cos
//
// Channels beyond n pass through unchanged. The rotation is computed in wide
// precision and the result is cast back to x's data type.
func ApplyRotary(x, cache *tensor.Tensor) *tensor.Tensor {
	return rotate(x, cache, 1)
}

// ApplyRotaryInverse undoes ApplyRotary with the same cache (rotation by the
// negated angle).
func ApplyRotaryInverse(x, cache *tensor.Tensor) *tensor.Tensor {
	return rotate(x, cache, -1)
}

func rotate(x, cache *tensor.Tensor, sign float64) *tensor.Tensor {
	if x.Rank() != 4 {
		exceptions.Panicf("ApplyRotary: expected x of rank 4 [batch, length, heads, head_dim], got %v", x.Shape())
	}
	batch, length, heads, depth := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)

	perBatch := false
	switch {
	case cache.Rank() == 2 && cache.Dim(0) == length:
	case cache.Rank() == 3 && cache.Dim(1) == length && cache.Dim(0) == 1:
	case cache.Rank() == 3 && cache.Dim(1) == length && cache.Dim(0) == batch:
		perBatch = true
	default:
		exceptions.Panicf("ApplyRotary: cache shape %v does not broadcast to x shape %v", cache.Shape(), x.Shape())
	}
	n := cache.Dim(-1)
	if n%2 != 0 || n > depth {
		exceptions.Panicf("ApplyRotary: rotary channels %d must be even and ≤ head_dim %d", n, depth)
	}

	dtype := x.DType()
	out := tensor.New(x.Shape(), dtype)
	src, dst, cs := x.Data(), out.Data(), cache.Data()
	for b := 0; b < batch; b++ {
		for l := 0; l < length; l++ {
			row := l
			if perBatch {
				row = b*length + l
			}
			phase := cs[row*n : (row+1)*n]
			for h := 0; h < heads; h++ {
				off := ((b*length+l)*heads + h) * depth
				in, o := src[off:off+depth], dst[off:off+depth]
				for p := 0; p < n; p += 2 {
					c, s := float64(phase[p]), sign*float64(phase[p+1])
					a, bb := float64(in[p]), float64(in[p+1])
					o[p] = dtype.Round(a*c - bb*s)
					o[p+1] = dtype.Round(a*s + bb*c)
				}
				copy(o[n:], in[n:])
			}
		}
	}
	return out
}
