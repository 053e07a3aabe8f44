package nn

import (
	"math"

	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/multimodal/internal/parallel"
	"github.com/born-ml/multimodal/internal/tensor"
)

// DefaultLogitScaleMax caps the learned cosine-attention log-scale, so the
// multiplier exp(scale) never exceeds 100.
var DefaultLogitScaleMax = math.Log(100)

// cosineEps bounds the L2 norm from below when normalizing query/key vectors.
const cosineEps = 1e-12

// AttentionOptions holds the optional behaviors of DotProductAttention.
type AttentionOptions struct {
	// Dropout is applied to the attention weights when Training is set.
	Dropout  *Dropout
	Training bool

	// Float32Logits computes logits and softmax at float32 precision even for
	// reduced-precision inputs. Otherwise they use the query's data type.
	Float32Logits bool

	// DepthNormalize rescales queries by head_dim^-0.5 (plain path only).
	DepthNormalize bool

	// ClipLogit clips logits to [-ClipLogit, ClipLogit] when positive (plain path only).
	ClipLogit float64

	// LogitScale selects scaled-cosine attention when set: one learned
	// log-scale per head, shaped [heads] or [1, heads, 1, 1].
	LogitScale *tensor.Tensor

	// LogitScaleMax clamps LogitScale before exponentiation.
	// Zero is the unset value and selects DefaultLogitScaleMax, so a cap of
	// exactly zero cannot be expressed. +Inf disables the clamp.
	LogitScaleMax float64
}

// attnDims describes q/k/v with their batch prefix flattened.
type attnDims struct {
	prefix          tensor.Shape // leading batch dims
	batch           int          // product of prefix
	lq, lk, heads   int
	depth, valDepth int
}

func checkAttentionInputs(q, k, v *tensor.Tensor) attnDims {
	if q.Rank() != k.Rank() || q.Rank() != v.Rank() {
		exceptions.Panicf("attention: q, k, v must have the same number of dimensions, got %v, %v, %v", q.Shape(), k.Shape(), v.Shape())
	}
	if q.Rank() < 3 {
		exceptions.Panicf("attention: expected [batch..., length, heads, depth], got %v", q.Shape())
	}
	qs, ks, vs := q.Shape(), k.Shape(), v.Shape()
	r := len(qs)
	prefix := qs[:r-3]
	if !prefix.Equal(ks[:r-3]) || !prefix.Equal(vs[:r-3]) {
		exceptions.Panicf("attention: q, k, v batch dims must match, got %v, %v, %v", qs, ks, vs)
	}
	if qs[r-2] != ks[r-2] || qs[r-2] != vs[r-2] {
		exceptions.Panicf("attention: q, k, v num_heads must match, got %v, %v, %v", qs, ks, vs)
	}
	if ks[r-3] != vs[r-3] {
		exceptions.Panicf("attention: k, v lengths must match, got %v, %v", ks, vs)
	}
	if qs[r-1] != ks[r-1] {
		exceptions.Panicf("attention: q, k depths must match, got %v, %v", qs, ks)
	}
	return attnDims{
		prefix:   prefix.Clone(),
		batch:    prefix.NumElements(),
		lq:       qs[r-3],
		lk:       ks[r-3],
		heads:    qs[r-2],
		depth:    qs[r-1],
		valDepth: vs[r-1],
	}
}

// weightsShape is [batch..., heads, lq, lk].
func (d attnDims) weightsShape() tensor.Shape {
	return append(d.prefix.Clone(), d.heads, d.lq, d.lk)
}

// gatherHead copies the rows of head h in batch b of a [B, L, H, D] buffer.
func gatherHead(data []float32, b, h, length, heads, depth int) [][]float64 {
	rows := make([][]float64, length)
	for i := range rows {
		off := ((b*length+i)*heads + h) * depth
		row := make([]float64, depth)
		for j, v := range data[off : off+depth] {
			row[j] = float64(v)
		}
		rows[i] = row
	}
	return rows
}

// headLogitScales returns exp(min(scale_h, max)) per head.
func headLogitScales(opts AttentionOptions, heads int) []float64 {
	ls := opts.LogitScale
	if ls.NumElements() != heads {
		exceptions.Panicf("attention: logit scale %v does not have one entry per head (%d)", ls.Shape(), heads)
	}
	limit := opts.LogitScaleMax
	if limit == 0 {
		limit = DefaultLogitScaleMax
	}
	scales := make([]float64, heads)
	for h, s := range ls.Data() {
		scales[h] = math.Exp(math.Min(float64(s), limit))
	}
	return scales
}

// attentionLogits computes the pre-bias logits [batch..., heads, lq, lk] at
// the logits precision.
func attentionLogits(q, k *tensor.Tensor, d attnDims, opts AttentionOptions) *tensor.Tensor {
	logitsType := q.DType()
	if opts.Float32Logits {
		logitsType = tensor.Float32
	}
	var scales []float64
	if opts.LogitScale != nil {
		scales = headLogitScales(opts, d.heads)
	}
	depthScale := math.Pow(float64(d.depth), -0.5)

	logits := tensor.New(d.weightsShape(), logitsType)
	out := logits.Data()
	qd, kd := q.Data(), k.Data()
	parallel.ForBatch(d.batch, d.heads, func(b, h int) {
		qRows := gatherHead(qd, b, h, d.lq, d.heads, d.depth)
		kRows := gatherHead(kd, b, h, d.lk, d.heads, d.depth)
		switch {
		case scales != nil:
			for _, rows := range [][][]float64{qRows, kRows} {
				for _, row := range rows {
					norm := math.Max(floats.Norm(row, 2), cosineEps)
					for j := range row {
						row[j] = float64(logitsType.Round(row[j] / norm))
					}
				}
			}
		case opts.DepthNormalize:
			for _, row := range qRows {
				for j := range row {
					row[j] = float64(logitsType.Round(row[j] * depthScale))
				}
			}
		}

		base := (b*d.heads + h) * d.lq * d.lk
		for i, qr := range qRows {
			for j, kr := range kRows {
				x := float64(logitsType.Round(floats.Dot(qr, kr)))
				switch {
				case scales != nil:
					x *= scales[h]
				case opts.ClipLogit > 0:
					x = math.Min(math.Max(x, -opts.ClipLogit), opts.ClipLogit)
				}
				out[base+i*d.lk+j] = logitsType.Round(x)
			}
		}
	}, parallel.DefaultConfig())
	return logits
}

// DotProductAttention computes multi-head scaled dot-product attention.
//
// Shapes:
//   - q: [batch..., len_q, heads, depth]
//   - k: [batch..., len_k, heads, depth]
//   - v: [batch..., len_k, heads, v_depth]
//   - bias: nil or broadcastable to [batch..., heads, len_q, len_k]
//   - result: [batch..., len_q, heads, v_depth]
//
// With opts.LogitScale set, logits are cosine similarities of L2-normalized
// queries and keys times exp(min(scale, max)); depth normalization and clipping
// are skipped. Otherwise logits are dot products of (optionally depth
// normalized) queries and keys, optionally clipped. The bias is cast to the
// logits precision and added, a stable softmax runs over keys, the weights are
// cast back to the query's data type and, when training, passed through
// dropout before mixing values.
//
// Mismatched shapes are contract violations and panic.
func DotProductAttention(q, k, v, bias *tensor.Tensor, opts AttentionOptions) *tensor.Tensor {
	out, _ := DotProductAttentionWithWeights(q, k, v, bias, opts)
	return out
}

// DotProductAttentionWithWeights is DotProductAttention that also returns the
// attention weights [batch..., heads, len_q, len_k] (after dropout).
func DotProductAttentionWithWeights(q, k, v, bias *tensor.Tensor, opts AttentionOptions) (*tensor.Tensor, *tensor.Tensor) {
	d := checkAttentionInputs(q, k, v)
	dtype := q.DType()

	logits := attentionLogits(q, k, d, opts)
	logitsType := logits.DType()
	if bias != nil {
		full := d.weightsShape()
		if _, _, err := tensor.BroadcastShapes(bias.Shape(), full); err != nil || bias.Rank() > len(full) {
			exceptions.Panicf("attention: bias shape %v does not broadcast to %v", bias.Shape(), full)
		}
		logits = tensor.Add(logits, bias.Cast(logitsType).BroadcastTo(full))
	}

	weights := tensor.New(logits.Shape(), dtype)
	wd, ld := weights.Data(), logits.Data()
	row := make([]float64, d.lk)
	for start := 0; start < len(ld); start += d.lk {
		tensor.SoftmaxRow(row, ld[start:start+d.lk])
		for j, p := range row {
			wd[start+j] = dtype.Round(float64(logitsType.Round(p)))
		}
	}
	if opts.Dropout != nil {
		weights = opts.Dropout.Apply(weights, opts.Training)
	}

	outType := tensor.Promote(dtype, v.DType())
	outShape := append(d.prefix.Clone(), d.lq, d.heads, d.valDepth)
	out := tensor.New(outShape, outType)
	od, vd, wd := out.Data(), v.Data(), weights.Data()
	parallel.ForBatch(d.batch, d.heads, func(b, h int) {
		vRows := gatherHead(vd, b, h, d.lk, d.heads, d.valDepth)
		acc := make([]float64, d.valDepth)
		base := (b*d.heads + h) * d.lq * d.lk
		for i := 0; i < d.lq; i++ {
			for j := range acc {
				acc[j] = 0
			}
			for j, vr := range vRows {
				if w := float64(wd[base+i*d.lk+j]); w != 0 {
					floats.AddScaled(acc, w, vr)
				}
			}
			off := ((b*d.lq+i)*d.heads + h) * d.valDepth
			for j, x := range acc {
				od[off+j] = outType.Round(x)
			}
		}
	}, parallel.DefaultConfig())
	return out, weights
}
