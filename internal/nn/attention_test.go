package nn

import (
	"math"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/multimodal/internal/tensor"
)

func randQKV(seed uint64, b, lq, lk, h, d int) (q, k, v *tensor.Tensor) {
	src := tensor.NewSource(seed)
	q = tensor.Randn(tensor.Shape{b, lq, h, d}, src)
	k = tensor.Randn(tensor.Shape{b, lk, h, d}, src)
	v = tensor.Randn(tensor.Shape{b, lk, h, d}, src)
	return q, k, v
}

func assertRowsSumToOne(t *testing.T, weights *tensor.Tensor) {
	t.Helper()
	lk := weights.Dim(-1)
	data := weights.Data()
	for start := 0; start < len(data); start += lk {
		sum := 0.0
		for _, w := range data[start : start+lk] {
			sum += float64(w)
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}
}

func TestDotProductAttentionShapes(t *testing.T) {
	q, k, _ := randQKV(1, 2, 3, 5, 4, 8)
	v := tensor.Randn(tensor.Shape{2, 5, 4, 6}, tensor.NewSource(2))
	out, weights := DotProductAttentionWithWeights(q, k, v, nil, AttentionOptions{DepthNormalize: true})
	assert.Equal(t, tensor.Shape{2, 3, 4, 6}, out.Shape())
	assert.Equal(t, tensor.Shape{2, 4, 3, 5}, weights.Shape())
	assertRowsSumToOne(t, weights)
}

func TestDotProductAttentionWeightsSumToOne(t *testing.T) {
	tests := []struct {
		name string
		opts AttentionOptions
	}{
		{"plain", AttentionOptions{}},
		{"depth normalized", AttentionOptions{DepthNormalize: true}},
		{"clipped", AttentionOptions{DepthNormalize: true, ClipLogit: 0.5}},
		{"cosine", AttentionOptions{LogitScale: tensor.Full(tensor.Shape{2}, float32(math.Log(10)))}},
		{"float32 logits", AttentionOptions{Float32Logits: true, DepthNormalize: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, k, v := randQKV(3, 2, 4, 4, 2, 8)
			_, weights := DotProductAttentionWithWeights(q, k, v, nil, tt.opts)
			assertRowsSumToOne(t, weights)
		})
	}
}

func TestDotProductAttentionMatchesReference(t *testing.T) {
	q, k, v := randQKV(4, 1, 2, 3, 1, 4)
	out := DotProductAttention(q, k, v, nil, AttentionOptions{DepthNormalize: true})

	scale := 0.5 // 4^-0.5
	for i := 0; i < 2; i++ {
		logits := make([]float64, 3)
		for j := 0; j < 3; j++ {
			for d := 0; d < 4; d++ {
				logits[j] += float64(q.At(0, i, 0, d)) * scale * float64(k.At(0, j, 0, d))
			}
		}
		probs := make([]float64, 3)
		tensor.SoftmaxRow(probs, logits)
		for d := 0; d < 4; d++ {
			want := 0.0
			for j := 0; j < 3; j++ {
				want += probs[j] * float64(v.At(0, j, 0, d))
			}
			assert.InDelta(t, want, out.At(0, i, 0, d), 1e-5)
		}
	}
}

func TestDotProductAttentionCausalScenario(t *testing.T) {
	// batch=2, len=3, heads=2, head_dim=4 with a causal mask: query 0 sees only key 0.
	q, k, v := randQKV(5, 2, 3, 3, 2, 4)
	bias := MaskToBias(MakeCausalMask(2, 3), tensor.Float32)
	out, weights := DotProductAttentionWithWeights(q, k, v, bias, AttentionOptions{DepthNormalize: true})

	for b := 0; b < 2; b++ {
		for h := 0; h < 2; h++ {
			assert.InDelta(t, 1.0, weights.At(b, h, 0, 0), 1e-6)
			assert.InDelta(t, 0.0, weights.At(b, h, 0, 1), 1e-6)
			assert.InDelta(t, 0.0, weights.At(b, h, 0, 2), 1e-6)
			assert.InDelta(t, 0.0, weights.At(b, h, 1, 2), 1e-6)
			for d := 0; d < 4; d++ {
				assert.InDelta(t, v.At(b, 0, h, d), out.At(b, 0, h, d), 1e-6)
			}
		}
	}
}

func TestAllOnesMaskMatchesUnmasked(t *testing.T) {
	q, k, v := randQKV(6, 2, 3, 4, 2, 4)
	ones := tensor.Ones(tensor.Shape{2, 3})
	onesK := tensor.Ones(tensor.Shape{2, 4})
	bias := MaskToBias(MakeAttentionMask(ones, onesK, nil), tensor.Float32)

	masked := DotProductAttention(q, k, v, bias, AttentionOptions{DepthNormalize: true})
	plain := DotProductAttention(q, k, v, nil, AttentionOptions{DepthNormalize: true})
	assert.True(t, tensor.AllClose(masked, plain, 1e-6))
}

func TestZeroKeyIndicatorGetsNoWeight(t *testing.T) {
	q, k, v := randQKV(7, 1, 3, 4, 2, 4)
	qInd := tensor.Ones(tensor.Shape{1, 3})
	kInd := tensor.MustFromSlice([]float32{1, 0, 1, 1}, tensor.Shape{1, 4})
	bias := MaskToBias(MakeAttentionMask(qInd, kInd, nil), tensor.Float32)

	_, weights := DotProductAttentionWithWeights(q, k, v, bias, AttentionOptions{DepthNormalize: true})
	for h := 0; h < 2; h++ {
		for i := 0; i < 3; i++ {
			assert.InDelta(t, 0.0, weights.At(0, h, i, 1), 1e-7)
		}
	}
	assertRowsSumToOne(t, weights)
}

func TestCosineSelfSimilarityIsOne(t *testing.T) {
	q, _, _ := randQKV(8, 1, 3, 3, 2, 4)
	d := checkAttentionInputs(q, q, q)
	// A zero log-scale leaves the similarity unscaled.
	logits := attentionLogits(q, q, d, AttentionOptions{LogitScale: tensor.Zeros(tensor.Shape{2}), Float32Logits: true})
	for h := 0; h < 2; h++ {
		for i := 0; i < 3; i++ {
			assert.InDelta(t, 1.0, logits.At(0, h, i, i), 1e-6)
		}
	}

	scaled := attentionLogits(q, q, d, AttentionOptions{LogitScale: tensor.Full(tensor.Shape{1, 2, 1, 1}, 1), Float32Logits: true})
	assert.InDelta(t, math.E, scaled.At(0, 1, 2, 2), 1e-5)
}

func TestLogitScaleClamp(t *testing.T) {
	q, _, _ := randQKV(9, 1, 2, 2, 1, 4)
	d := checkAttentionInputs(q, q, q)
	huge := tensor.Full(tensor.Shape{1}, 50)

	clamped := attentionLogits(q, q, d, AttentionOptions{LogitScale: huge})
	assert.InDelta(t, 100.0, clamped.At(0, 0, 0, 0), 1e-3)

	unclamped := attentionLogits(q, q, d, AttentionOptions{LogitScale: huge, LogitScaleMax: math.Inf(1)})
	assert.InDelta(t, math.Exp(50), unclamped.At(0, 0, 0, 0), math.Exp(50)*1e-5)

	capped := attentionLogits(q, q, d, AttentionOptions{LogitScale: huge, LogitScaleMax: 1})
	assert.InDelta(t, math.E, capped.At(0, 0, 0, 0), 1e-5)
}

func TestClipLogit(t *testing.T) {
	q := tensor.Full(tensor.Shape{1, 1, 1, 4}, 10)
	d := checkAttentionInputs(q, q, q)
	logits := attentionLogits(q, q, d, AttentionOptions{ClipLogit: 5})
	assert.Equal(t, float32(5), logits.At(0, 0, 0, 0))

	normalized := attentionLogits(q, q, d, AttentionOptions{DepthNormalize: true})
	assert.InDelta(t, 200.0, normalized.At(0, 0, 0, 0), 1e-4)
}

func TestAttentionReducedPrecision(t *testing.T) {
	q, k, v := randQKV(10, 1, 3, 3, 2, 4)
	qh, kh, vh := q.Cast(tensor.BFloat16), k.Cast(tensor.BFloat16), v.Cast(tensor.BFloat16)

	out, weights := DotProductAttentionWithWeights(qh, kh, vh, nil, AttentionOptions{Float32Logits: true, DepthNormalize: true})
	assert.Equal(t, tensor.BFloat16, out.DType())
	assert.Equal(t, tensor.BFloat16, weights.DType())

	ref := DotProductAttention(qh.Cast(tensor.Float32), kh.Cast(tensor.Float32), vh.Cast(tensor.Float32), nil, AttentionOptions{DepthNormalize: true})
	assert.True(t, tensor.AllClose(out.Cast(tensor.Float32), ref, 0.1))
}

func TestAttentionDropoutOnWeights(t *testing.T) {
	q, k, v := randQKV(11, 1, 4, 4, 2, 4)
	drop := NewDropout(0.5, []int{-2}, tensor.NewSource(1))

	_, evalWeights := DotProductAttentionWithWeights(q, k, v, nil, AttentionOptions{Dropout: drop})
	assertRowsSumToOne(t, evalWeights)

	_, weights := DotProductAttentionWithWeights(q, k, v, nil, AttentionOptions{Dropout: drop, Training: true})
	// Broadcast over queries: a dropped key is dropped for every query of the head.
	for h := 0; h < 2; h++ {
		for j := 0; j < 4; j++ {
			zero := weights.At(0, h, 0, j) == 0
			for i := 1; i < 4; i++ {
				assert.Equal(t, zero, weights.At(0, h, i, j) == 0)
			}
		}
	}
}

func TestAttentionContractViolations(t *testing.T) {
	q, k, v := randQKV(12, 2, 3, 4, 2, 4)
	tests := []struct {
		name    string
		q, k, v *tensor.Tensor
		bias    *tensor.Tensor
	}{
		{"rank", q.Reshape(2, 3, 8), k, v, nil},
		{"batch", q, k.Reshape(1, 8, 2, 4), v, nil},
		{"heads", q.Reshape(2, 3, 4, 2), k, v, nil},
		{"kv length", q, k, tensor.Zeros(tensor.Shape{2, 5, 2, 4}), nil},
		{"depth", q, k.Reshape(2, 4, 1, 8), v.Reshape(2, 4, 1, 8), nil},
		{"bias", q, k, v, tensor.Zeros(tensor.Shape{2, 2, 3, 5})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exceptions.TryCatch[error](func() {
				DotProductAttention(tt.q, tt.k, tt.v, tt.bias, AttentionOptions{})
			})
			assert.Error(t, err)
		})
	}
}

func TestAttentionExtraBatchDims(t *testing.T) {
	q, k, v := randQKV(13, 6, 2, 2, 1, 4)
	flat := DotProductAttention(q, k, v, nil, AttentionOptions{DepthNormalize: true})
	nested := DotProductAttention(q.Reshape(2, 3, 2, 1, 4), k.Reshape(2, 3, 2, 1, 4), v.Reshape(2, 3, 2, 1, 4), nil, AttentionOptions{DepthNormalize: true})
	require.Equal(t, tensor.Shape{2, 3, 2, 1, 4}, nested.Shape())
	assert.True(t, tensor.AllClose(flat, nested.Reshape(6, 2, 1, 4), 0))
}
