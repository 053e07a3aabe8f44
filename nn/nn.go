// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/multimodal/internal/nn"
	"github.com/born-ml/multimodal/internal/tensor"
)

// Module is implemented by every component holding learned parameters.
type Module = nn.Module

// Parameter is a named learned tensor.
type Parameter = nn.Parameter

// ParamSource supplies named tensors from a checkpoint.
type ParamSource = nn.ParamSource

// Errors returned by constructors.
var (
	ErrUnsupportedPosEmb = nn.ErrUnsupportedPosEmb
	ErrUnknownActivation = nn.ErrUnknownActivation
	ErrInvalidConfig     = nn.ErrInvalidConfig
)

// CountParameters returns the number of scalar parameters of m.
func CountParameters(m Module) int {
	return nn.CountParameters(m)
}

// Attention

// MaskBias is the additive bias of forbidden attention positions.
const MaskBias = nn.MaskBias

// AttentionOptions configures DotProductAttention.
type AttentionOptions = nn.AttentionOptions

// DotProductAttention computes softmax(q·kᵀ + bias)·v over
// [batch..., length, heads, depth] inputs.
func DotProductAttention(q, k, v, bias *tensor.Tensor, opts AttentionOptions) *tensor.Tensor {
	return nn.DotProductAttention(q, k, v, bias, opts)
}

// MultiHeadAttentionConfig configures a MultiHeadAttention module.
type MultiHeadAttentionConfig = nn.MultiHeadAttentionConfig

// MultiHeadAttention is projected multi-head attention with optional rotary
// encoding, q/k normalization and scaled-cosine logits.
type MultiHeadAttention = nn.MultiHeadAttention

// AttentionInputs carries the optional per-call inputs of MultiHeadAttention.
type AttentionInputs = nn.AttentionInputs

// DefaultMultiHeadAttentionConfig returns the default configuration.
func DefaultMultiHeadAttentionConfig(embedDim, numHeads int) MultiHeadAttentionConfig {
	return nn.DefaultMultiHeadAttentionConfig(embedDim, numHeads)
}

// NewMultiHeadAttention validates cfg and initializes the module.
func NewMultiHeadAttention(cfg MultiHeadAttentionConfig) (*MultiHeadAttention, error) {
	return nn.NewMultiHeadAttention(cfg)
}

// Masks

// MakeAttentionMask builds a 0/1 mask [batch, 1, len_q, len_k] from
// per-token indicators.
func MakeAttentionMask(q, k *tensor.Tensor) *tensor.Tensor {
	return nn.MakeAttentionMask(q, k, nil)
}

// MakeCausalMask builds a lower-triangular mask [batch, 1, length, length].
func MakeCausalMask(batch, length int) *tensor.Tensor {
	return nn.MakeCausalMask(batch, length)
}

// CombineBiases sums the non-nil biases with broadcasting.
func CombineBiases(biases ...*tensor.Tensor) *tensor.Tensor {
	return nn.CombineBiases(biases...)
}

// MaskToBias converts a 0/1 mask into an additive bias.
func MaskToBias(mask *tensor.Tensor, dtype tensor.DataType) *tensor.Tensor {
	return nn.MaskToBias(mask, dtype)
}

// Rotary position encoding

// DefaultRopeBase is the default rotary frequency base.
const DefaultRopeBase = nn.DefaultRopeBase

// PosEmbType tags a position-embedding scheme.
type PosEmbType = nn.PosEmbType

// PosEmbLlamaRope is the rotary position embedding.
const PosEmbLlamaRope = nn.PosEmbLlamaRope

// BuildRopeCache1D returns the rotary cache [length, channels] for positions 0..length-1.
func BuildRopeCache1D(length, channels int, base float64) *tensor.Tensor {
	return nn.BuildRopeCache1D(length, channels, base)
}

// BuildRopeCache2D returns the rotary cache [h*w, channels] of an h×w grid.
func BuildRopeCache2D(h, w, channels int, base, resolution float64) *tensor.Tensor {
	return nn.BuildRopeCache2D(h, w, channels, base, resolution)
}

// ApplyRotary rotates channel pairs of x [batch, length, heads, depth] by cache.
func ApplyRotary(x, cache *tensor.Tensor) *tensor.Tensor {
	return nn.ApplyRotary(x, cache)
}

// Feed-forward

// MLPBlockConfig configures an MLPBlock.
type MLPBlockConfig = nn.MLPBlockConfig

// MLPBlock is a gated feed-forward block.
type MLPBlock = nn.MLPBlock

// DefaultMLPBlockConfig returns a single-branch ReLU block.
func DefaultMLPBlockConfig(embedDim, intermediateDim int) MLPBlockConfig {
	return nn.DefaultMLPBlockConfig(embedDim, intermediateDim)
}

// NewMLPBlock validates cfg and initializes the block.
func NewMLPBlock(cfg MLPBlockConfig) (*MLPBlock, error) {
	return nn.NewMLPBlock(cfg)
}

// Layers

// Linear is a dense layer.
type Linear = nn.Linear

// RMSNorm is root-mean-square normalization.
type RMSNorm = nn.RMSNorm

// Embedding is a lookup table.
type Embedding = nn.Embedding

// Dropout is inverted dropout with optional broadcast axes.
type Dropout = nn.Dropout
