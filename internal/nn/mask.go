package nn

import (
	"github.com/gomlx/exceptions"

	"github.com/born-ml/multimodal/internal/tensor"
)

// MaskBias is the additive bias applied to forbidden attention positions.
const MaskBias = -1e10

// PairwiseFunc combines a query-side and a key-side indicator value.
type PairwiseFunc func(q, k float64) float64

// Ready-made pairwise functions for MakeAttentionMask.
var (
	// PairwiseMul attends where both sides are set (padding masks).
	PairwiseMul PairwiseFunc = func(q, k float64) float64 { return q * k }
	// PairwiseEqual attends within equal ids (segment masks).
	PairwiseEqual PairwiseFunc = func(q, k float64) float64 { return boolTo01(q == k) }
	// PairwiseGreaterEqual attends to keys at or before the query (causal
	// masks built from positions).
	PairwiseGreaterEqual PairwiseFunc = func(q, k float64) float64 { return boolTo01(q >= k) }
)

func boolTo01(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// MakeAttentionMask outer-combines per-position indicators into a pairwise mask.
//
// Shapes:
//   - q: [batch..., len_q]
//   - k: [batch..., len_k]
//   - result: [batch..., 1, len_q, len_k]
//
// A nil fn selects PairwiseMul.
//
// Example:
//
//	pad := tensor.MustFromSlice([]float32{1, 1, 0}, tensor.Shape{1, 3})
//	mask := nn.MakeAttentionMask(pad, pad, nil) // [1, 1, 3, 3]
func MakeAttentionMask(q, k *tensor.Tensor, fn PairwiseFunc) *tensor.Tensor {
	return MakeAttentionMaskExtra(q, k, fn, 0)
}

// MakeAttentionMaskExtra is MakeAttentionMask with extraBatchDims leading
// singleton axes prepended to the result.
func MakeAttentionMaskExtra(q, k *tensor.Tensor, fn PairwiseFunc, extraBatchDims int) *tensor.Tensor {
	if q.Rank() < 1 || k.Rank() < 1 {
		exceptions.Panicf("MakeAttentionMask: indicators must have rank ≥ 1, got %v and %v", q.Shape(), k.Shape())
	}
	if extraBatchDims < 0 {
		exceptions.Panicf("MakeAttentionMask: negative extraBatchDims %d", extraBatchDims)
	}
	if fn == nil {
		fn = PairwiseMul
	}
	mask := tensor.Combine(q.Unsqueeze(-1), k.Unsqueeze(-2), fn)
	mask = mask.Unsqueeze(-3)
	if extraBatchDims == 0 {
		return mask
	}
	dims := make([]int, 0, extraBatchDims+mask.Rank())
	for i := 0; i < extraBatchDims; i++ {
		dims = append(dims, 1)
	}
	dims = append(dims, mask.Shape()...)
	return mask.Reshape(dims...)
}

// MakeCausalMask returns the [batch, 1, length, length] lower-triangular mask
// where query i may attend to keys 0 … i.
func MakeCausalMask(batch, length int) *tensor.Tensor {
	pos := tensor.Arange(0, length).Unsqueeze(0).BroadcastTo(tensor.Shape{batch, length})
	return MakeAttentionMask(pos, pos, PairwiseGreaterEqual)
}

// CombineBiases sums attention biases. Nil entries are skipped; the result is
// nil if none remain and the single remaining bias is returned unchanged.
// All biases must share rank; their shapes are broadcast.
func CombineBiases(biases ...*tensor.Tensor) *tensor.Tensor {
	var present []*tensor.Tensor
	for _, b := range biases {
		if b != nil {
			present = append(present, b)
		}
	}
	if len(present) == 0 {
		return nil
	}
	rank := present[0].Rank()
	for _, b := range present[1:] {
		if b.Rank() != rank {
			ranks := make([]int, len(present))
			for i, p := range present {
				ranks[i] = p.Rank()
			}
			exceptions.Panicf("CombineBiases: biases must have the same number of dimensions: %v", ranks)
		}
	}
	result := present[0]
	for _, b := range present[1:] {
		result = tensor.Add(result, b)
	}
	return result
}

// MaskToBias converts a 0/1 mask to an additive bias of the given data type:
// 0 where the mask is positive and MaskBias elsewhere. A rank-3 mask
// [batch, len_q, len_k] gains a singleton head axis.
func MaskToBias(mask *tensor.Tensor, dtype tensor.DataType) *tensor.Tensor {
	if mask == nil {
		return nil
	}
	if mask.Rank() == 3 {
		mask = mask.Unsqueeze(1)
	}
	return mask.Map(func(v float64) float64 {
		if v > 0 {
			return 0
		}
		return MaskBias
	}).Cast(dtype)
}
