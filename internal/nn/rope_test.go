package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/multimodal/internal/tensor"
)

func TestRotaryCoordinates(t *testing.T) {
	tests := []struct {
		name   string
		length int
		mode   CoordinateMode
		want   []float64
	}{
		{"centered odd", 5, CoordCentered, []float64{-2, -1, 1, 2, 3}},
		{"centered even", 4, CoordCentered, []float64{-2, -1, 1, 2}},
		{"centered single", 1, CoordCentered, []float64{1}},
		{"llama", 3, CoordLlama, []float64{0, 1, 2}},
		{"origin", 3, CoordOrigin, []float64{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RotaryCoordinates(tt.length, tt.mode)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, RotaryCoordinates(tt.length, CoordCentered), 0.0)
		})
	}
	assert.Panics(t, func() { RotaryCoordinates(0, CoordLlama) })
}

func TestRotaryCoordinates2D(t *testing.T) {
	t.Run("llama", func(t *testing.T) {
		coords := RotaryCoordinates2D(2, 3, true, 2)
		require.Len(t, coords, 6)
		// ij order: height varies slowest.
		assert.Equal(t, [2]float64{0, 0}, coords[0])
		assert.Equal(t, [2]float64{0, 4}, coords[2])
		assert.Equal(t, [2]float64{2, 2}, coords[4])
	})
	t.Run("centered", func(t *testing.T) {
		coords := RotaryCoordinates2D(2, 2, false, 1)
		scale := 1.0 / 3
		assert.InDelta(t, -scale, coords[0][0], 1e-12)
		assert.InDelta(t, -scale, coords[0][1], 1e-12)
		assert.InDelta(t, scale, coords[3][0], 1e-12)
		assert.InDelta(t, scale, coords[3][1], 1e-12)
	})
}

func TestBuildRopeCache1D(t *testing.T) {
	for _, n := range []int{2, 4, 8, 64} {
		for _, length := range []int{1, 7, 128} {
			cache := BuildRopeCache1D(length, n, 0)
			require.Equal(t, tensor.Shape{length, n}, cache.Shape())
			lo, hi := cache.MinMax()
			assert.GreaterOrEqual(t, lo, -1.0)
			assert.LessOrEqual(t, hi, 1.0)
			for p := 0; p < n; p += 2 {
				assert.Equal(t, float32(1), cache.At(0, p), "cos at origin")
				assert.Equal(t, float32(0), cache.At(0, p+1), "sin at origin")
			}
		}
	}

	cache := BuildRopeCache1D(4, 4, 10000)
	// θ_1 = 10000^(-2/4) = 0.01.
	assert.InDelta(t, math.Cos(3), cache.At(3, 0), 1e-6)
	assert.InDelta(t, math.Sin(3), cache.At(3, 1), 1e-6)
	assert.InDelta(t, math.Cos(0.03), cache.At(3, 2), 1e-6)
	assert.InDelta(t, math.Sin(0.03), cache.At(3, 3), 1e-6)

	assert.Panics(t, func() { BuildRopeCache1D(4, 3, 0) })
}

func TestBuildRopeCache1DFromCoords(t *testing.T) {
	coords := RotaryCoordinates(4, CoordCentered)
	cache := BuildRopeCache1DFromCoords(coords, 2, 0)
	assert.InDelta(t, math.Cos(-2), cache.At(0, 0), 1e-6)
	assert.InDelta(t, math.Sin(-2), cache.At(0, 1), 1e-6)
	assert.InDelta(t, math.Sin(1), cache.At(2, 1), 1e-6)
}

func TestBuildRopeCache2D(t *testing.T) {
	cache := BuildRopeCache2D(2, 3, 8, 0, 1)
	require.Equal(t, tensor.Shape{6, 8}, cache.Shape())

	// Row 5 is grid cell (1, 2). Frequencies per axis: 1 and 0.01.
	wantAngles := []float64{1, 0.01, 2, 0.02}
	for i, a := range wantAngles {
		assert.InDelta(t, math.Cos(a), cache.At(5, 2*i), 1e-6)
		assert.InDelta(t, math.Sin(a), cache.At(5, 2*i+1), 1e-6)
	}
	assert.Panics(t, func() { BuildRopeCache2D(2, 2, 6, 0, 1) })
}

func TestPositionEmbedding(t *testing.T) {
	kind, err := ParsePosEmbType("llama_rope")
	require.NoError(t, err)

	cache, err := PositionEmbedding1D(kind, 16, 8)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{16, 8}, cache.Shape())

	grid, err := PositionEmbedding2D(kind, [2]int{64, 32}, [2]int{16, 16}, 8, 1)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{8, 8}, grid.Shape())

	_, err = ParsePosEmbType("sinusoidal")
	assert.ErrorIs(t, err, ErrUnsupportedPosEmb)
	_, err = ParsePosEmbType(" llama_rope")
	assert.ErrorIs(t, err, ErrUnsupportedPosEmb)
	_, err = PositionEmbedding1D("learned", 16, 8)
	assert.ErrorIs(t, err, ErrUnsupportedPosEmb)
	_, err = PositionEmbedding1D(kind, 16, 7)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = PositionEmbedding2D(kind, [2]int{64, 32}, [2]int{16, 16}, 6, 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestApplyRotaryRoundTrip(t *testing.T) {
	src := tensor.NewSource(11)
	x := tensor.Randn(tensor.Shape{2, 5, 3, 8}, src)

	for _, n := range []int{8, 4} {
		cache := BuildRopeCache1D(5, n, 0)
		rotated := ApplyRotary(x, cache)
		assert.False(t, tensor.AllClose(rotated, x, 1e-3), "rotation should change the input")
		back := ApplyRotaryInverse(rotated, cache)
		assert.True(t, tensor.AllClose(back, x, 1e-5))
	}
}

func TestApplyRotaryPartialPassThrough(t *testing.T) {
	x := tensor.Randn(tensor.Shape{1, 4, 2, 6}, tensor.NewSource(3))
	cache := BuildRopeCache1D(4, 2, 0)
	y := ApplyRotary(x, cache)
	for l := 0; l < 4; l++ {
		for h := 0; h < 2; h++ {
			for d := 2; d < 6; d++ {
				assert.Equal(t, x.At(0, l, h, d), y.At(0, l, h, d))
			}
		}
	}
}

func TestApplyRotaryPreservesNormAndDType(t *testing.T) {
	x := tensor.Randn(tensor.Shape{1, 3, 1, 4}, tensor.NewSource(5))
	cache := BuildRopeCache1D(3, 4, 0)
	y := ApplyRotary(x, cache)
	for l := 0; l < 3; l++ {
		for p := 0; p < 4; p += 2 {
			a, b := float64(x.At(0, l, 0, p)), float64(x.At(0, l, 0, p+1))
			c, d := float64(y.At(0, l, 0, p)), float64(y.At(0, l, 0, p+1))
			assert.InDelta(t, math.Hypot(a, b), math.Hypot(c, d), 1e-5)
		}
	}

	h := ApplyRotary(x.Cast(tensor.BFloat16), cache)
	assert.Equal(t, tensor.BFloat16, h.DType())
}

func TestApplyRotaryPerBatchCache(t *testing.T) {
	x := tensor.Randn(tensor.Shape{2, 3, 1, 4}, tensor.NewSource(9))
	shared := BuildRopeCache1D(3, 4, 0)
	batched := tensor.Add(shared.Unsqueeze(0), tensor.Zeros(tensor.Shape{2, 3, 4}))
	assert.True(t, tensor.AllClose(ApplyRotary(x, shared), ApplyRotary(x, batched), 0))

	assert.Panics(t, func() { ApplyRotary(x, BuildRopeCache1D(4, 4, 0)) })
	assert.Panics(t, func() { ApplyRotary(x, BuildRopeCache1D(3, 6, 0)) })
}
