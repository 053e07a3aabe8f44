package nn

import (
	"math"
	"strings"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/multimodal/internal/tensor"
)

func TestParseActivation(t *testing.T) {
	tests := []struct {
		name string
		want Activation
	}{
		{"linear", ActLinear},
		{"identity", ActLinear},
		{"relu", ActReLU},
		{"gelu", ActGELU},
		{"gelu_new", ActGELUTanh},
		{"SiLU", ActSiLU},
		{"swish", ActSiLU},
		{"sigmoid", ActSigmoid},
		{"tanh", ActTanh},
		{"quick_gelu", ActQuickGELU},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseActivation(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err := ParseActivation("softplus")
	assert.ErrorIs(t, err, ErrUnknownActivation)
}

func TestActivationValues(t *testing.T) {
	assert.Equal(t, 0.0, ActReLU.Func()(-2))
	assert.InDelta(t, 0.8413447, ActGELU.Func()(1), 1e-6)
	assert.InDelta(t, 0.8411920, ActGELUTanh.Func()(1), 1e-6)
	assert.InDelta(t, 0.7310586, ActSiLU.Func()(1), 1e-6)
	assert.InDelta(t, 1/(1+math.Exp(-1.702)), ActQuickGELU.Func()(1), 1e-9)
	assert.InDelta(t, math.Tanh(0.3), ActTanh.Func()(0.3), 1e-12)

	x := tensor.MustFromSlice([]float32{-1, 2}, tensor.Shape{2})
	assert.Same(t, x, ActLinear.Apply(x))
	assert.Equal(t, []float32{0, 2}, ActReLU.Apply(x).Data())

	err := exceptions.TryCatch[error](func() { Activation(42).Func() })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown activation 42")
}

func TestRMSNorm(t *testing.T) {
	norm := NewRMSNorm("norm", 4, DefaultRMSNormEps)
	x := tensor.MustFromSlice([]float32{1, 2, 3, 4, -2, 0, 2, 0}, tensor.Shape{2, 4})
	y := norm.Forward(x)

	rms := math.Sqrt((1 + 4 + 9 + 16) / 4.0)
	assert.InDelta(t, 1/rms, y.At(0, 0), 1e-5)
	assert.InDelta(t, 4/rms, y.At(0, 3), 1e-5)
	assert.InDelta(t, -math.Sqrt2, y.At(1, 0), 1e-5)

	copy(norm.Scale.Tensor().Data(), []float32{2, 2, 2, 2})
	assert.InDelta(t, 2/rms, norm.Forward(x).At(0, 0), 1e-5)

	half := norm.Forward(x.Cast(tensor.Float16))
	assert.Equal(t, tensor.Float16, half.DType())
	assert.Panics(t, func() { norm.Forward(tensor.Zeros(tensor.Shape{2, 3})) })
}

func TestRMSNormSharedAcrossHeads(t *testing.T) {
	norm := NewRMSNorm("query_norm", 2, DefaultRMSNormEps)
	copy(norm.Scale.Tensor().Data(), []float32{1, 3})
	x := tensor.Ones(tensor.Shape{1, 1, 3, 2})
	y := norm.Forward(x)
	for h := 0; h < 3; h++ {
		assert.InDelta(t, 1, y.At(0, 0, h, 0), 1e-5)
		assert.InDelta(t, 3, y.At(0, 0, h, 1), 1e-5)
	}
}

func TestLayerNorm(t *testing.T) {
	ln := NewLayerNorm("ln", 3, 1e-5)
	x := tensor.MustFromSlice([]float32{1, 2, 3}, tensor.Shape{1, 3})
	y := ln.Forward(x)
	assert.InDelta(t, 0, y.Sum(), 1e-5)
	assert.InDelta(t, -1.2247, y.At(0, 0), 1e-3)
	assert.Len(t, ln.Parameters(), 2)
}

func TestDropout(t *testing.T) {
	x := tensor.Ones(tensor.Shape{4, 8, 16})
	drop := NewDropout(0.25, nil, tensor.NewSource(1))
	assert.Same(t, x, drop.Forward(x), "evaluation mode is the identity")

	drop.SetTraining(true)
	y := drop.Forward(x)
	kept := 0
	for _, v := range y.Data() {
		if v != 0 {
			kept++
			assert.InDelta(t, 1/0.75, v, 1e-6)
		}
	}
	assert.InDelta(t, 0.75, float64(kept)/512, 0.08)
}

func TestDropoutBroadcastDims(t *testing.T) {
	x := tensor.Ones(tensor.Shape{2, 6, 5})
	drop := NewDropout(0.5, []int{-2}, tensor.NewSource(3))
	drop.SetTraining(true)
	y := drop.Forward(x)
	for b := 0; b < 2; b++ {
		for c := 0; c < 5; c++ {
			first := y.At(b, 0, c)
			for l := 1; l < 6; l++ {
				assert.Equal(t, first, y.At(b, l, c))
			}
		}
	}
	assert.Panics(t, func() { NewDropout(0.5, []int{-4}, tensor.NewSource(0)).Apply(x, true) })
}

func TestDropPath(t *testing.T) {
	x := tensor.Ones(tensor.Shape{64, 3})
	dp := NewDropPath(0.5, true, tensor.NewSource(5))
	assert.Same(t, x, dp.Forward(x))

	dp.SetTraining(true)
	y := dp.Forward(x)
	for b := 0; b < 64; b++ {
		v := y.At(b, 0)
		assert.True(t, v == 0 || v == 2)
		assert.Equal(t, v, y.At(b, 2), "a sample is dropped as a whole")
	}
}

func TestLinear(t *testing.T) {
	l := NewLinear("proj", 3, 2, true, tensor.NewSource(1))
	require.NoError(t, l.Weight().Set(tensor.MustFromSlice([]float32{1, 0, 0, 0, 1, 1}, tensor.Shape{2, 3})))
	require.NoError(t, l.Bias().Set(tensor.MustFromSlice([]float32{0.5, -1}, tensor.Shape{2})))

	x := tensor.MustFromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{1, 2, 3})
	y := l.Forward(x)
	assert.Equal(t, tensor.Shape{1, 2, 2}, y.Shape())
	assert.Equal(t, []float32{1.5, 4, 4.5, 10}, y.Data())

	assert.Error(t, l.Weight().Set(tensor.Zeros(tensor.Shape{3, 2})))
	assert.Equal(t, "proj/kernel", l.Weight().Name())
	assert.Equal(t, 3, l.InFeatures())
	assert.Equal(t, 2, l.OutFeatures())
	assert.Panics(t, func() { l.Forward(tensor.Zeros(tensor.Shape{2, 4})) })
}

func TestKernelInit(t *testing.T) {
	for _, tag := range []string{"", "kaiming_normal", "Xavier_Uniform"} {
		k, err := ParseKernelInit(tag)
		require.NoError(t, err, tag)
		assert.Equal(t, strings.ToLower(tag) == "xavier_uniform", k == XavierUniformInit, tag)
	}
	_, err := ParseKernelInit("he_uniform")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, "xavier_uniform", XavierUniformInit.String())

	bound := math.Sqrt(6.0 / (30 + 20))
	xavier := NewLinearWithInit("x", 30, 20, false, XavierUniformInit, tensor.NewSource(2))
	lo, hi := xavier.Weight().Tensor().MinMax()
	assert.GreaterOrEqual(t, lo, -bound-1e-6)
	assert.LessOrEqual(t, hi, bound+1e-6)

	kaiming := NewLinear("x", 30, 20, false, tensor.NewSource(2))
	assert.False(t, tensor.AllClose(kaiming.Weight().Tensor(), xavier.Weight().Tensor(), 1e-6))
	assert.Panics(t, func() { NewLinearWithInit("x", 2, 2, false, KernelInit(9), tensor.NewSource(0)) })
}

func TestLayersPreserveShape(t *testing.T) {
	mlp, err := NewMLPBlock(DefaultMLPBlockConfig(4, 8))
	require.NoError(t, err)
	layers := map[string]Layer{
		"linear":    NewLinear("proj", 4, 4, true, tensor.NewSource(0)),
		"rmsnorm":   NewRMSNorm("norm", 4, 1e-6),
		"layernorm": NewLayerNorm("norm", 4, 1e-6),
		"dropout":   NewDropout(0.5, nil, tensor.NewSource(0)),
		"droppath":  NewDropPath(0.5, true, tensor.NewSource(0)),
		"mlp":       mlp,
	}
	x := tensor.Randn(tensor.Shape{2, 3, 4}, tensor.NewSource(1))
	for name, l := range layers {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, x.Shape(), l.Forward(x).Shape())
			assert.GreaterOrEqual(t, CountParameters(l), 0)
		})
	}
}

func TestEmbeddingLookup(t *testing.T) {
	w := tensor.Arange(0, 8).Reshape(4, 2)
	e := NewEmbeddingWithWeight("shared", w)
	y := e.Lookup([][]int{{3, 0}, {1, 1}})
	assert.Equal(t, tensor.Shape{2, 2, 2}, y.Shape())
	assert.Equal(t, []float32{6, 7, 0, 1, 2, 3, 2, 3}, y.Data())
	assert.Panics(t, func() { e.Lookup([][]int{{4}}) })
	assert.Panics(t, func() { e.Lookup([][]int{{1, 2}, {1}}) })
}
