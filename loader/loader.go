// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package loader reads and writes attention checkpoints in safetensors
// format.
//
// This package wraps the internal loader and exports the checkpoint sources
// accepted by the LoadWeights methods of the nn package.
//
// Example usage:
//
//	import (
//	    "github.com/born-ml/multimodal/loader"
//	    "github.com/born-ml/multimodal/nn"
//	)
//
//	r, err := loader.OpenSafeTensors("weights.safetensors")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	mha, _ := nn.NewMultiHeadAttention(nn.DefaultMultiHeadAttentionConfig(512, 8))
//	if err := mha.LoadWeights(r, "encoder/layers_0/attention/"); err != nil {
//	    log.Fatal(err)
//	}
package loader

import (
	"github.com/born-ml/multimodal/internal/loader"
	"github.com/born-ml/multimodal/internal/tensor"
)

// SafeTensorsReader serves tensors from a .safetensors file.
type SafeTensorsReader = loader.SafeTensorsReader

// MapSource is an in-memory checkpoint.
type MapSource = loader.MapSource

// Errors reported by checkpoint sources.
var (
	ErrTensorNotFound   = loader.ErrTensorNotFound
	ErrUnsupportedDType = loader.ErrUnsupportedDType
	ErrChecksumMismatch = loader.ErrChecksumMismatch
	ErrOffsetOverlap    = loader.ErrOffsetOverlap
)

// OpenSafeTensors opens a .safetensors file and validates its header.
func OpenSafeTensors(path string) (*SafeTensorsReader, error) {
	return loader.OpenSafeTensors(path)
}

// WriteSafeTensors writes tensors and string metadata to path.
func WriteSafeTensors(path string, tensors map[string]*tensor.Tensor, metadata map[string]string) error {
	return loader.WriteSafeTensors(path, tensors, metadata)
}
