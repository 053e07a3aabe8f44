package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/multimodal/internal/tensor"
)

func TestMakeAttentionMask(t *testing.T) {
	q := tensor.MustFromSlice([]float32{1, 1, 0}, tensor.Shape{1, 3})
	k := tensor.MustFromSlice([]float32{1, 0}, tensor.Shape{1, 2})
	mask := MakeAttentionMask(q, k, nil)
	require.Equal(t, tensor.Shape{1, 1, 3, 2}, mask.Shape())
	assert.Equal(t, []float32{1, 0, 1, 0, 0, 0}, mask.Data())

	extra := MakeAttentionMaskExtra(q, k, nil, 2)
	assert.Equal(t, tensor.Shape{1, 1, 1, 1, 3, 2}, extra.Shape())
}

func TestMakeAttentionMaskSegments(t *testing.T) {
	seg := tensor.MustFromSlice([]float32{1, 1, 2}, tensor.Shape{1, 3})
	mask := MakeAttentionMask(seg, seg, PairwiseEqual)
	assert.Equal(t, []float32{1, 1, 0, 1, 1, 0, 0, 0, 1}, mask.Data())
}

func TestMakeCausalMask(t *testing.T) {
	mask := MakeCausalMask(2, 3)
	require.Equal(t, tensor.Shape{2, 1, 3, 3}, mask.Shape())
	want := []float32{1, 0, 0, 1, 1, 0, 1, 1, 1}
	assert.Equal(t, want, mask.Data()[:9])
	assert.Equal(t, want, mask.Data()[9:])
}

func TestCombineBiases(t *testing.T) {
	a := tensor.MustFromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	b := tensor.MustFromSlice([]float32{10, 20}, tensor.Shape{1, 2, 1, 1})
	c := tensor.MustFromSlice([]float32{-1, -1, -1, -1}, tensor.Shape{1, 1, 2, 2})

	t.Run("none", func(t *testing.T) {
		assert.Nil(t, CombineBiases())
		assert.Nil(t, CombineBiases(nil, nil))
	})
	t.Run("single unchanged", func(t *testing.T) {
		assert.Same(t, a, CombineBiases(nil, a, nil))
	})
	t.Run("sum with broadcast", func(t *testing.T) {
		sum := CombineBiases(a, b, nil, c)
		require.Equal(t, tensor.Shape{1, 2, 2, 2}, sum.Shape())
		assert.Equal(t, []float32{10, 11, 12, 13, 20, 21, 22, 23}, sum.Data())
	})
	t.Run("commutative and associative", func(t *testing.T) {
		x := CombineBiases(a, b, c)
		y := CombineBiases(c, CombineBiases(b, a))
		assert.True(t, tensor.AllClose(x, y, 0))
	})
	t.Run("rank mismatch panics", func(t *testing.T) {
		assert.Panics(t, func() { CombineBiases(a, tensor.Zeros(tensor.Shape{2, 2})) })
	})
}

func TestMaskToBias(t *testing.T) {
	mask := tensor.MustFromSlice([]float32{1, 0, 0, 1}, tensor.Shape{1, 2, 2})
	bias := MaskToBias(mask, tensor.Float32)
	require.Equal(t, tensor.Shape{1, 1, 2, 2}, bias.Shape())
	assert.Equal(t, []float32{0, MaskBias, MaskBias, 0}, bias.Data())
	assert.Nil(t, MaskToBias(nil, tensor.Float32))
}
