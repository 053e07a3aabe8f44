package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSlice(t *testing.T) {
	x, err := FromSlice([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 3}, x.Shape())
	assert.Equal(t, Float32, x.DType())
	assert.Equal(t, float32(6), x.At(1, 2))

	_, err = FromSlice([]float32{1, 2, 3}, Shape{2, 2})
	assert.Error(t, err)

	_, err = FromSlice(nil, Shape{0, 2})
	assert.Error(t, err)
}

func TestFromValues(t *testing.T) {
	x, err := FromValues([]int{1, 0, 1}, Shape{1, 3})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 1}, x.Data())
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Shape
		want    Shape
		wantErr bool
	}{
		{"same", Shape{3, 5}, Shape{3, 5}, Shape{3, 5}, false},
		{"column", Shape{3, 1}, Shape{3, 5}, Shape{3, 5}, false},
		{"rank expand", Shape{5}, Shape{2, 3, 5}, Shape{2, 3, 5}, false},
		{"head axis", Shape{2, 1, 3, 3}, Shape{1, 4, 1, 3}, Shape{2, 4, 3, 3}, false},
		{"incompatible", Shape{3, 4}, Shape{3, 5}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := BroadcastShapes(tt.a, tt.b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReshapeInfer(t *testing.T) {
	x := Arange(0, 12)
	y := x.Reshape(3, -1)
	assert.Equal(t, Shape{3, 4}, y.Shape())
	assert.Equal(t, float32(7), y.At(1, 3))
	assert.Panics(t, func() { x.Reshape(5, -1) })
}

func TestUnsqueeze(t *testing.T) {
	x := Zeros(Shape{2, 3})
	assert.Equal(t, Shape{2, 1, 3}, x.Unsqueeze(1).Shape())
	assert.Equal(t, Shape{2, 3, 1}, x.Unsqueeze(-1).Shape())
	assert.Equal(t, Shape{1, 2, 3}, x.Unsqueeze(0).Shape())
}

func TestTranspose(t *testing.T) {
	x := Arange(0, 6).Reshape(2, 3)
	y := x.Transpose()
	assert.Equal(t, Shape{3, 2}, y.Shape())
	assert.Equal(t, []float32{0, 3, 1, 4, 2, 5}, y.Data())

	z := Arange(0, 24).Reshape(2, 3, 4).Transpose(1, 0, 2)
	assert.Equal(t, Shape{3, 2, 4}, z.Shape())
	assert.Equal(t, float32(13), z.At(0, 1, 1))
}

func TestBroadcastAdd(t *testing.T) {
	a := MustFromSlice([]float32{1, 2, 3}, Shape{1, 3})
	b := MustFromSlice([]float32{10, 20}, Shape{2, 1})
	c := Add(a, b)
	assert.Equal(t, Shape{2, 3}, c.Shape())
	assert.Equal(t, []float32{11, 12, 13, 21, 22, 23}, c.Data())

	assert.Panics(t, func() { Add(Zeros(Shape{2, 3}), Zeros(Shape{3, 2})) })
}

func TestCastRounds(t *testing.T) {
	x := MustFromSlice([]float32{1.0009765625 + 1e-4, 3.14159}, Shape{2})
	h := x.Cast(Float16)
	assert.Equal(t, Float16, h.DType())
	assert.InDelta(t, 1.0009765625, h.Data()[0], 1e-7)

	b := x.Cast(BFloat16)
	assert.Equal(t, BFloat16, b.DType())
	assert.InDelta(t, 3.140625, b.Data()[1], 1e-7)

	// Mixed 16-bit operands promote to float32.
	assert.Equal(t, Float32, Add(h, b).DType())
	assert.Equal(t, Float16, Add(h, h).DType())
}

func TestSoftmax(t *testing.T) {
	x := MustFromSlice([]float32{1, 2, 3, 1000, 1000, 1000}, Shape{2, 3})
	s := x.Softmax()
	for row := 0; row < 2; row++ {
		sum := 0.0
		for col := 0; col < 3; col++ {
			sum += float64(s.At(row, col))
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
	}
	assert.InDelta(t, 1.0/3, s.At(1, 0), 1e-6)

	neg := MustFromSlice([]float32{float32(math.Inf(-1)), float32(math.Inf(-1))}, Shape{1, 2}).Softmax()
	assert.Equal(t, []float32{0, 0}, neg.Data())
}

func TestMatMul(t *testing.T) {
	a := MustFromSlice([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	b := MustFromSlice([]float32{7, 8, 9, 10, 11, 12}, Shape{3, 2})
	c := MatMul(a, b)
	assert.Equal(t, []float32{58, 64, 139, 154}, c.Data())

	ct := MatMulTransposed(a, b.Transpose())
	assert.True(t, AllClose(c, ct, 0))
	assert.Panics(t, func() { MatMul(a, a) })
}

func TestNormalDeterministic(t *testing.T) {
	a := Normal(Shape{64}, 0, 0.5, NewSource(7))
	b := Normal(Shape{64}, 0, 0.5, NewSource(7))
	assert.True(t, AllClose(a, b, 0))

	big := Normal(Shape{4096}, 0, 0.5, NewSource(1))
	mean := big.Sum() / 4096
	assert.InDelta(t, 0, mean, 0.05)
}

func TestBernoulli(t *testing.T) {
	x := Bernoulli(Shape{1000}, 0.7, NewSource(3))
	for _, v := range x.Data() {
		assert.True(t, v == 0 || v == 1)
	}
	assert.InDelta(t, 700, x.Sum(), 60)
}
