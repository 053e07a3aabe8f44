package nn

import (
	"math"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/multimodal/internal/tensor"
)

// DefaultRMSNormEps is the epsilon used by the attention q/k normalization.
const DefaultRMSNormEps = 1e-6

// RMSNorm applies Root Mean Square Normalization along the last dimension.
//
// Formula: Y = X / sqrt(mean(X^2) + eps) * scale
//
// The statistics are computed in wide precision. The normalized values and the
// scale are each rounded to the input's data type before multiplying, so a
// reduced-precision input yields a reduced-precision output.
//
// Applied to [batch, length, heads, head_dim] tensors, a single scale vector of
// size head_dim is shared by all heads.
//
// Example:
//
//	norm := nn.NewRMSNorm("query_norm", 64, nn.DefaultRMSNormEps)
//	q = norm.Forward(q) // [..., 64] -> [..., 64]
type RMSNorm struct {
	Scale   *Parameter // learnable scale [size], initialised to ones
	Epsilon float64    // numerical stability constant
}

// NewRMSNorm creates a new RMSNorm layer. The scale parameter is named
// "<name>/scale".
func NewRMSNorm(name string, size int, epsilon float64) *RMSNorm {
	return &RMSNorm{
		Scale:   NewParameter(name+"/scale", tensor.Ones(tensor.Shape{size})),
		Epsilon: epsilon,
	}
}

// Forward applies RMSNorm to x.
func (r *RMSNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	scale := r.Scale.Tensor().Data()
	d := len(scale)
	if x.Rank() == 0 || x.Dim(-1) != d {
		exceptions.Panicf("RMSNorm: expected last dimension %d, got shape %v", d, x.Shape())
	}
	dtype := x.DType()
	out := tensor.New(x.Shape(), dtype)
	src, dst := x.Data(), out.Data()
	for start := 0; start < len(src); start += d {
		row := src[start : start+d]
		var ms float64
		for _, v := range row {
			ms += float64(v) * float64(v)
		}
		inv := 1 / math.Sqrt(ms/float64(d)+r.Epsilon)
		for j, v := range row {
			normed := float64(dtype.Round(float64(v) * inv))
			s := float64(dtype.Round(float64(scale[j])))
			dst[start+j] = dtype.Round(normed * s)
		}
	}
	return out
}

// Parameters returns the scale parameter.
func (r *RMSNorm) Parameters() []*Parameter {
	return []*Parameter{r.Scale}
}
