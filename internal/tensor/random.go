package tensor

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// NewSource returns a deterministic random source for the given seed.
func NewSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// Normal creates a Float32 tensor with elements drawn from N(mean, std²).
func Normal(shape Shape, mean, std float64, src rand.Source) *Tensor {
	dist := distuv.Normal{Mu: mean, Sigma: std, Src: src}
	t := New(shape, Float32)
	for i := range t.data {
		t.data[i] = float32(dist.Rand())
	}
	return t
}

// Randn creates a Float32 tensor with standard normal elements.
func Randn(shape Shape, src rand.Source) *Tensor {
	return Normal(shape, 0, 1, src)
}

// Uniform creates a Float32 tensor with elements drawn from U[lo, hi).
func Uniform(shape Shape, lo, hi float64, src rand.Source) *Tensor {
	dist := distuv.Uniform{Min: lo, Max: hi, Src: src}
	t := New(shape, Float32)
	for i := range t.data {
		t.data[i] = float32(dist.Rand())
	}
	return t
}

// Bernoulli creates a Float32 tensor of 0/1 values with P(1) = p.
func Bernoulli(shape Shape, p float64, src rand.Source) *Tensor {
	dist := distuv.Bernoulli{P: p, Src: src}
	t := New(shape, Float32)
	for i := range t.data {
		t.data[i] = float32(dist.Rand())
	}
	return t
}
