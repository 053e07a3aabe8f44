// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the attention and feed-forward building blocks of a
// multimodal transformer.
//
// # Overview
//
// This package contains:
//   - Attention: DotProductAttention, MultiHeadAttention
//   - Rotary position encoding: BuildRopeCache1D, BuildRopeCache2D, ApplyRotary
//   - Masks: MakeAttentionMask, MakeCausalMask, CombineBiases, MaskToBias
//   - Feed-forward: MLPBlock with one or more gated branches
//   - Layers: Linear, RMSNorm, LayerNorm, Dropout, Embedding
//
// # Basic Usage
//
//	cfg := nn.DefaultMultiHeadAttentionConfig(512, 8)
//	mha, err := nn.NewMultiHeadAttention(cfg)
//	if err != nil {
//	    return err
//	}
//	rope := nn.BuildRopeCache1D(seqLen, cfg.HeadDim, nn.DefaultRopeBase)
//	out := mha.Forward(x, x, nn.AttentionInputs{
//	    Mask:    nn.MakeCausalMask(batch, seqLen),
//	    QRotary: rope,
//	    KRotary: rope,
//	})
//
// Modules start in evaluation mode; call SetTraining(true) to enable dropout.
// Configuration errors are returned from constructors, while shape-contract
// violations panic.
package nn
