package nn

import (
	"math/rand/v2"
	"sync"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/multimodal/internal/tensor"
)

// Dropout randomly zeros elements with probability Rate while training, scaling
// the survivors by 1/(1-Rate) (inverted dropout). In evaluation mode it is the
// identity.
//
// BroadcastDims lists axes (negative counts from the end) along which a single
// keep/drop decision is shared. Attention uses [-2], so every query row of a
// head sees the same dropped keys.
//
// Example:
//
//	drop := nn.NewDropout(0.1, []int{-2}, tensor.NewSource(0))
//	drop.SetTraining(true)
//	w = drop.Forward(w)
type Dropout struct {
	Rate          float64
	BroadcastDims []int

	training bool
	mu       sync.Mutex
	src      rand.Source
}

// NewDropout creates a dropout layer, initially in evaluation mode.
func NewDropout(rate float64, broadcastDims []int, src rand.Source) *Dropout {
	if rate < 0 || rate > 1 {
		exceptions.Panicf("Dropout: rate must be in [0, 1], got %g", rate)
	}
	dims := make([]int, len(broadcastDims))
	copy(dims, broadcastDims)
	return &Dropout{Rate: rate, BroadcastDims: dims, src: src}
}

// SetTraining switches between training (stochastic) and evaluation mode.
func (d *Dropout) SetTraining(training bool) {
	d.training = training
}

// Training reports whether the layer is in training mode.
func (d *Dropout) Training() bool {
	return d.training
}

// Forward applies dropout to x according to the layer's mode.
func (d *Dropout) Forward(x *tensor.Tensor) *tensor.Tensor {
	return d.Apply(x, d.training)
}

// Apply applies dropout to x if training is set, regardless of the layer's mode.
func (d *Dropout) Apply(x *tensor.Tensor, training bool) *tensor.Tensor {
	if !training || d.Rate == 0 {
		return x
	}
	if d.Rate >= 1 {
		return tensor.New(x.Shape(), x.DType())
	}
	keep := 1 - d.Rate
	maskShape := x.Shape()
	for _, dim := range d.BroadcastDims {
		axis := maskShape.Axis(dim)
		if axis < 0 {
			exceptions.Panicf("Dropout: broadcast dim %d out of range for shape %v", dim, x.Shape())
		}
		maskShape[axis] = 1
	}

	d.mu.Lock()
	mask := tensor.Bernoulli(maskShape, keep, d.src)
	d.mu.Unlock()

	return tensor.Mul(x, mask.MulScalar(1/keep)).Cast(x.DType())
}

// Parameters returns nil; dropout has no learned state.
func (d *Dropout) Parameters() []*Parameter {
	return nil
}

// DropPath drops whole samples (stochastic depth) on a residual branch.
// Each batch element is kept with probability 1-Rate; kept samples are scaled
// by 1/(1-Rate) when ScaleByKeep is set.
type DropPath struct {
	Rate        float64
	ScaleByKeep bool

	training bool
	mu       sync.Mutex
	src      rand.Source
}

// NewDropPath creates a stochastic-depth layer, initially in evaluation mode.
func NewDropPath(rate float64, scaleByKeep bool, src rand.Source) *DropPath {
	if rate < 0 || rate > 1 {
		exceptions.Panicf("DropPath: rate must be in [0, 1], got %g", rate)
	}
	return &DropPath{Rate: rate, ScaleByKeep: scaleByKeep, src: src}
}

// SetTraining switches between training and evaluation mode.
func (d *DropPath) SetTraining(training bool) {
	d.training = training
}

// Forward applies per-sample dropping along axis 0.
func (d *DropPath) Forward(x *tensor.Tensor) *tensor.Tensor {
	if !d.training || d.Rate == 0 {
		return x
	}
	keep := 1 - d.Rate
	maskShape := make(tensor.Shape, x.Rank())
	for i := range maskShape {
		maskShape[i] = 1
	}
	maskShape[0] = x.Dim(0)

	d.mu.Lock()
	mask := tensor.Bernoulli(maskShape, keep, d.src)
	d.mu.Unlock()

	if keep > 0 && d.ScaleByKeep {
		mask = mask.MulScalar(1 / keep)
	}
	return tensor.Mul(x, mask).Cast(x.DType())
}

// Parameters returns nil.
func (d *DropPath) Parameters() []*Parameter {
	return nil
}
