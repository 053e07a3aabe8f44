package nn

import (
	"math"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/born-ml/multimodal/internal/tensor"
)

// MultiHeadAttentionConfig configures a MultiHeadAttention module.
type MultiHeadAttentionConfig struct {
	EmbedDim int // Input/output feature size; must equal NumHeads*HeadDim.
	NumHeads int // Number of attention heads.
	HeadDim  int // Per-head feature size.

	UseBias bool // Bias terms on the q/k/v/out projections.

	DropoutRate          float64 // Attention-weight dropout.
	DropoutBroadcastDims []int   // Axes sharing one dropout decision (default [-2]).

	Float32Logits  bool    // Logits and softmax at float32 precision (default true).
	QKNorm         bool    // RMS-normalize queries and keys per head (default true).
	UseHeadScale   bool    // Learned per-head output scale.
	DepthNormalize bool    // Scale queries by HeadDim^-0.5 (default true).
	ClipLogit      float64 // Symmetric logit clip bound; 0 disables.
	ScaledCosine   bool    // Scaled-cosine attention with a learned per-head log-scale.
	// LogitScaleMax clamps the learned log-scale before exponentiation. Zero
	// is the unset value and selects DefaultLogitScaleMax, so a cap of exactly
	// zero (scale at most 1) cannot be expressed; use +Inf to disable the clamp.
	LogitScaleMax float64

	Seed uint64 // Seed for initialisation and dropout.
}

// DefaultMultiHeadAttentionConfig returns the default configuration for the
// given embedding size and head count.
func DefaultMultiHeadAttentionConfig(embedDim, numHeads int) MultiHeadAttentionConfig {
	headDim := 0
	if numHeads > 0 {
		headDim = embedDim / numHeads
	}
	return MultiHeadAttentionConfig{
		EmbedDim:             embedDim,
		NumHeads:             numHeads,
		HeadDim:              headDim,
		DropoutBroadcastDims: []int{-2},
		Float32Logits:        true,
		QKNorm:               true,
		DepthNormalize:       true,
	}
}

// Validate checks the configuration.
func (c MultiHeadAttentionConfig) Validate() error {
	if c.NumHeads <= 0 || c.HeadDim <= 0 {
		return invalidf("num heads (%d) and head dim (%d) must be positive", c.NumHeads, c.HeadDim)
	}
	if c.EmbedDim != c.NumHeads*c.HeadDim {
		return invalidf("embed dim %d must equal num heads %d × head dim %d", c.EmbedDim, c.NumHeads, c.HeadDim)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return invalidf("attention dropout rate must be in [0, 1), got %g", c.DropoutRate)
	}
	if c.ClipLogit < 0 {
		return invalidf("clip logit must be non-negative, got %g", c.ClipLogit)
	}
	if c.LogitScaleMax < 0 {
		return invalidf("logit scale max must be non-negative, got %g", c.LogitScaleMax)
	}
	return nil
}

// AttentionInputs carries the optional per-call inputs of
// MultiHeadAttention.Forward. Every field may be nil.
type AttentionInputs struct {
	Mask        *tensor.Tensor // 0/1 [batch, len_q, len_k] or [batch, 1|heads, len_q, len_k]
	Bias        *tensor.Tensor // additive [batch, 1|heads, len_q, len_k]
	AbsBias     *tensor.Tensor // additive absolute-position bias, same layout as Bias
	QRotary     *tensor.Tensor // rotary cache for queries, [len_q, n] or [batch, len_q, n]
	KRotary     *tensor.Tensor // rotary cache for keys, [len_k, n] or [batch, len_k, n]
	PatternMask *tensor.Tensor // 0/1 structural visibility mask, same layout as Mask
}

// MultiHeadAttention implements multi-head dot-product attention with
// optional q/k normalization, rotary phases and scaled-cosine logits.
//
// Architecture:
//
//	q, k, v = W_q·x_q, W_k·x_kv, W_v·x_kv        (split into heads)
//	q, k    = RMSNorm(q), RMSNorm(k)              (QKNorm)
//	q, k    = rotary(q, QRotary), rotary(k, KRotary)
//	bias    = mask bias + pattern bias + Bias + AbsBias
//	x       = DotProductAttention(q, k, v, bias) · head_scale
//	out     = W_o·x
//
// Example:
//
//	cfg := nn.DefaultMultiHeadAttentionConfig(512, 8)
//	mha, err := nn.NewMultiHeadAttention(cfg)
//	rope := nn.BuildRopeCache1D(seqLen, cfg.HeadDim, 0)
//	out := mha.Forward(x, x, nn.AttentionInputs{QRotary: rope, KRotary: rope})
type MultiHeadAttention struct {
	Query, Key, Value, Out *Linear

	QueryNorm, KeyNorm *RMSNorm   // nil unless QKNorm
	LogitScale         *Parameter // [heads], nil unless ScaledCosine
	HeadScale          *Parameter // [heads], nil unless UseHeadScale

	cfg     MultiHeadAttentionConfig
	dropout *Dropout
}

// NewMultiHeadAttention creates a multi-head attention module. Projection
// weights use Kaiming normal fan-in initialisation and biases start at zero.
func NewMultiHeadAttention(cfg MultiHeadAttentionConfig) (*MultiHeadAttention, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src := tensor.NewSource(cfg.Seed)
	e := cfg.EmbedDim
	m := &MultiHeadAttention{
		Query:   NewLinear("query", e, e, cfg.UseBias, src),
		Key:     NewLinear("key", e, e, cfg.UseBias, src),
		Value:   NewLinear("value", e, e, cfg.UseBias, src),
		Out:     NewLinear("out", e, e, cfg.UseBias, src),
		cfg:     cfg,
		dropout: NewDropout(cfg.DropoutRate, cfg.DropoutBroadcastDims, src),
	}
	if cfg.QKNorm {
		m.QueryNorm = NewRMSNorm("query_norm", cfg.HeadDim, DefaultRMSNormEps)
		m.KeyNorm = NewRMSNorm("key_norm", cfg.HeadDim, DefaultRMSNormEps)
	}
	if cfg.ScaledCosine {
		m.LogitScale = NewParameter("logit_scale", tensor.Full(tensor.Shape{cfg.NumHeads}, float32(math.Log(10))))
	}
	if cfg.UseHeadScale {
		m.HeadScale = NewParameter("head_scale", tensor.Ones(tensor.Shape{cfg.NumHeads}))
	}
	klog.V(1).Infof("MultiHeadAttention: embed=%d heads=%d head_dim=%d qk_norm=%v cosine=%v params=%d",
		e, cfg.NumHeads, cfg.HeadDim, cfg.QKNorm, cfg.ScaledCosine, CountParameters(m))
	return m, nil
}

// Config returns the module configuration.
func (m *MultiHeadAttention) Config() MultiHeadAttentionConfig {
	return m.cfg
}

// SetTraining enables or disables attention dropout.
func (m *MultiHeadAttention) SetTraining(training bool) {
	m.dropout.SetTraining(training)
}

// Forward applies attention of qIn [batch, len_q, embed] over
// kvIn [batch, len_k, embed] and returns [batch, len_q, embed].
func (m *MultiHeadAttention) Forward(qIn, kvIn *tensor.Tensor, in AttentionInputs) *tensor.Tensor {
	out, _ := m.ForwardWithWeights(qIn, kvIn, in)
	return out
}

// ForwardWithWeights is Forward that also returns the attention weights
// [batch, heads, len_q, len_k].
func (m *MultiHeadAttention) ForwardWithWeights(qIn, kvIn *tensor.Tensor, in AttentionInputs) (*tensor.Tensor, *tensor.Tensor) {
	e := m.cfg.EmbedDim
	if qIn.Rank() != 3 || kvIn.Rank() != 3 || qIn.Dim(-1) != e || kvIn.Dim(-1) != e {
		exceptions.Panicf("MultiHeadAttention: expected inputs [batch, length, %d], got %v and %v", e, qIn.Shape(), kvIn.Shape())
	}
	if qIn.Dim(0) != kvIn.Dim(0) {
		exceptions.Panicf("MultiHeadAttention: batch mismatch between %v and %v", qIn.Shape(), kvIn.Shape())
	}
	batch, lq, lk := qIn.Dim(0), qIn.Dim(1), kvIn.Dim(1)
	h, hd := m.cfg.NumHeads, m.cfg.HeadDim

	q := m.Query.Forward(qIn).Reshape(batch, lq, h, hd)
	k := m.Key.Forward(kvIn).Reshape(batch, lk, h, hd)
	v := m.Value.Forward(kvIn).Reshape(batch, lk, h, hd)

	if m.cfg.QKNorm {
		q = m.QueryNorm.Forward(q)
		k = m.KeyNorm.Forward(k)
	}
	if in.QRotary != nil {
		q = ApplyRotary(q, in.QRotary)
	}
	if in.KRotary != nil {
		k = ApplyRotary(k, in.KRotary)
	}

	bias := CombineBiases(
		MaskToBias(in.Mask, q.DType()),
		MaskToBias(in.PatternMask, q.DType()),
		in.Bias,
		in.AbsBias,
	)

	opts := AttentionOptions{
		Dropout:        m.dropout,
		Training:       m.dropout.Training(),
		Float32Logits:  m.cfg.Float32Logits,
		DepthNormalize: m.cfg.DepthNormalize,
		ClipLogit:      m.cfg.ClipLogit,
		LogitScaleMax:  m.cfg.LogitScaleMax,
	}
	if m.cfg.ScaledCosine {
		opts.LogitScale = m.LogitScale.Tensor()
	}
	x, weights := DotProductAttentionWithWeights(q, k, v, bias, opts)

	if m.cfg.UseHeadScale {
		scale := m.HeadScale.Tensor().Reshape(1, 1, h, 1)
		x = tensor.Mul(x, scale).Cast(x.DType())
	}
	return m.Out.Forward(x.Reshape(batch, lq, e)), weights
}

func (m *MultiHeadAttention) bindings() []weightBinding {
	var bs []weightBinding
	bs = append(bs, linearBindings("query", m.Query)...)
	bs = append(bs, linearBindings("key", m.Key)...)
	bs = append(bs, linearBindings("value", m.Value)...)
	bs = append(bs, linearBindings("out", m.Out)...)
	if m.QueryNorm != nil {
		bs = append(bs,
			weightBinding{key: "query_norm/scale", param: m.QueryNorm.Scale},
			weightBinding{key: "key_norm/scale", param: m.KeyNorm.Scale})
	}
	if m.LogitScale != nil {
		bs = append(bs, weightBinding{key: "logit_scale", param: m.LogitScale})
	}
	if m.HeadScale != nil {
		bs = append(bs, weightBinding{key: "head_scale", param: m.HeadScale})
	}
	return bs
}

// LoadWeights copies parameters from src. Keys are prefix followed by:
//
//	query/kernel, key/kernel, value/kernel, out/kernel   [in, out], transposed on load
//	query/bias, key/bias, value/bias, out/bias           if UseBias
//	query_norm/scale, key_norm/scale                     if QKNorm
//	logit_scale                                          if ScaledCosine
//	head_scale                                           if UseHeadScale
//
// All keys are validated before any parameter changes.
func (m *MultiHeadAttention) LoadWeights(src ParamSource, prefix string) error {
	return loadBindings(src, prefix, m.bindings())
}

// StateDict returns the parameters under the same keys LoadWeights reads.
func (m *MultiHeadAttention) StateDict(prefix string) map[string]*tensor.Tensor {
	return exportBindings(prefix, m.bindings())
}

// Parameters returns all learned parameters.
func (m *MultiHeadAttention) Parameters() []*Parameter {
	params := make([]*Parameter, 0, 12)
	for _, b := range m.bindings() {
		params = append(params, b.param)
	}
	return params
}
