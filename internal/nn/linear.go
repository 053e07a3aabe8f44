package nn

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/multimodal/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input tensor with shape [..., in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the optional bias vector with shape [out_features]
//   - y is the output tensor with shape [..., out_features]
//
// Weights are initialized with Kaiming normal (fan-in, linear gain); biases
// are initialized to zeros.
//
// Example:
//
//	layer := nn.NewLinear("query", 64, 64, true, tensor.NewSource(0))
//	output := layer.Forward(input) // [batch, length, 64]
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter // [out_features, in_features]
	bias        *Parameter // [out_features], nil when disabled
}

// NewLinear creates a new Linear layer. The name prefixes parameter names
// ("<name>/kernel", "<name>/bias").
func NewLinear(name string, inFeatures, outFeatures int, useBias bool, src rand.Source) *Linear {
	return NewLinearWithInit(name, inFeatures, outFeatures, useBias, KaimingNormalInit, src)
}

// NewLinearWithInit is NewLinear with an explicit kernel initializer.
func NewLinearWithInit(name string, inFeatures, outFeatures int, useBias bool, kernelInit KernelInit, src rand.Source) *Linear {
	weight := kernelInit.kernel(inFeatures, outFeatures, src)
	l := &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter(name+"/kernel", weight),
	}
	if useBias {
		l.bias = NewParameter(name+"/bias", tensor.Zeros(tensor.Shape{outFeatures}))
	}
	return l
}

// Forward applies the layer to the last axis of input.
func (l *Linear) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := input.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != l.inFeatures {
		exceptions.Panicf("Linear: expected last dimension %d, got shape %v", l.inFeatures, shape)
	}
	flat := input.Reshape(-1, l.inFeatures)
	out := tensor.MatMulTransposed(flat, l.weight.Tensor())
	if l.bias != nil {
		out = tensor.Add(out, l.bias.Tensor())
	}
	outShape := shape.Clone()
	outShape[len(outShape)-1] = l.outFeatures
	return out.Reshape(outShape...).Cast(input.DType())
}

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter {
	return l.weight
}

// Bias returns the bias parameter, or nil if the layer has no bias.
func (l *Linear) Bias() *Parameter {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *Linear) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear) OutFeatures() int {
	return l.outFeatures
}

// Parameters returns the weight and, if present, the bias.
func (l *Linear) Parameters() []*Parameter {
	if l.bias == nil {
		return []*Parameter{l.weight}
	}
	return []*Parameter{l.weight, l.bias}
}
