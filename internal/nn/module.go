// Package nn implements the attention core of a multimodal transformer.
//
// This package provides:
//   - Rotary position encodings: coordinates, 1-D/2-D caches, the rotary applicator
//   - Mask and bias composition for attention logits
//   - The scaled dot-product attention kernel with its numeric-stability knobs
//   - MultiHeadAttention, the projection/normalization/rotary/kernel orchestrator
//   - MLPBlock, the gated feed-forward block
//   - Supporting layers: Linear, RMSNorm, LayerNorm, Dropout, DropPath, Embedding
//
// Layers are plain structs configured through XxxConfig values validated once at
// construction. Shape-contract violations panic through gomlx/exceptions;
// configuration problems are returned as errors.
package nn

import (
	"github.com/born-ml/multimodal/internal/tensor"
)

// Module is the base interface for all components that own parameters.
type Module interface {
	// Parameters returns all learned parameters of this module, including
	// those of nested modules, in a stable order.
	Parameters() []*Parameter
}

// Layer is a Module with a single-input forward pass.
type Layer interface {
	Module
	Forward(input *tensor.Tensor) *tensor.Tensor
}

var (
	_ Layer = (*Linear)(nil)
	_ Layer = (*RMSNorm)(nil)
	_ Layer = (*LayerNorm)(nil)
	_ Layer = (*Dropout)(nil)
	_ Layer = (*DropPath)(nil)
	_ Layer = (*MLPBlock)(nil)
)

// CountParameters returns the total number of scalar parameters of m.
func CountParameters(m Module) int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Tensor().NumElements()
	}
	return n
}

// ParameterBytes returns the storage size of m's parameters at their data type.
func ParameterBytes(m Module) uint64 {
	var n uint64
	for _, p := range m.Parameters() {
		t := p.Tensor()
		n += uint64(t.NumElements() * t.DType().Size())
	}
	return n
}
