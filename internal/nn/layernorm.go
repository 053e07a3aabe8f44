package nn

import (
	"math"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/multimodal/internal/tensor"
)

// LayerNorm applies Layer Normalization over the last dimension.
//
// Formula: Y = (X - mean) / sqrt(var + eps) * gamma + beta
//
// Mean and variance are computed in wide precision and the result is cast back
// to the input's data type, which keeps half-precision activations stable.
//
// Example:
//
//	ln := nn.NewLayerNorm("pre_attention_norm", 768, 1e-5)
//	output := ln.Forward(input) // [..., 768] -> [..., 768]
type LayerNorm struct {
	Gamma   *Parameter // scale [d], initialised to ones
	Beta    *Parameter // shift [d], initialised to zeros
	Epsilon float64
}

// NewLayerNorm creates a new LayerNorm layer.
func NewLayerNorm(name string, normalizedShape int, epsilon float64) *LayerNorm {
	return &LayerNorm{
		Gamma:   NewParameter(name+"/scale", tensor.Ones(tensor.Shape{normalizedShape})),
		Beta:    NewParameter(name+"/bias", tensor.Zeros(tensor.Shape{normalizedShape})),
		Epsilon: epsilon,
	}
}

// Forward applies layer normalization.
func (l *LayerNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	gamma := l.Gamma.Tensor().Data()
	beta := l.Beta.Tensor().Data()
	d := len(gamma)
	if x.Rank() == 0 || x.Dim(-1) != d {
		exceptions.Panicf("LayerNorm: expected last dimension %d, got shape %v", d, x.Shape())
	}
	dtype := x.DType()
	out := tensor.New(x.Shape(), dtype)
	src, dst := x.Data(), out.Data()
	for start := 0; start < len(src); start += d {
		row := src[start : start+d]
		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(d)
		var variance float64
		for _, v := range row {
			diff := float64(v) - mean
			variance += diff * diff
		}
		variance /= float64(d)
		inv := 1 / math.Sqrt(variance+l.Epsilon)
		for j, v := range row {
			dst[start+j] = dtype.Round((float64(v)-mean)*inv*float64(gamma[j]) + float64(beta[j]))
		}
	}
	return out
}

// Parameters returns [gamma, beta].
func (l *LayerNorm) Parameters() []*Parameter {
	return []*Parameter{l.Gamma, l.Beta}
}
