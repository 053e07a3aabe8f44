package nn

import (
	"math"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/multimodal/internal/tensor"
)

// DefaultRopeBase is the default base frequency of rotary caches.
const DefaultRopeBase = 10000.0

// PosEmbType tags a position-embedding scheme. Only the llama-style rotary
// family is supported.
type PosEmbType string

// PosEmbLlamaRope is llama-style rotary position embedding.
const PosEmbLlamaRope PosEmbType = "llama_rope"

// ParsePosEmbType validates a position-embedding tag. Tags match exactly,
// so a validated string can be converted to PosEmbType directly.
func ParsePosEmbType(name string) (PosEmbType, error) {
	if PosEmbType(name) == PosEmbLlamaRope {
		return PosEmbLlamaRope, nil
	}
	return "", errors.Wrapf(ErrUnsupportedPosEmb, "%q", name)
}

// ropeFrequencies returns the n/2 rotation frequencies θ_i = base^(-2i/n).
func ropeFrequencies(n int, base float64) []float64 {
	if base <= 0 {
		base = DefaultRopeBase
	}
	freqs := make([]float64, n/2)
	for i := range freqs {
		freqs[i] = math.Pow(base, -2*float64(i)/float64(n))
	}
	return freqs
}

// interleaveCache writes cos/sin pairs of the given angles ([rows, n/2],
// row-major) into a [rows, n] tensor.
func interleaveCache(rows, n int, angles []float64) *tensor.Tensor {
	cache := tensor.New(tensor.Shape{rows, n}, tensor.Float32)
	data := cache.Data()
	for i, a := range angles {
		data[2*i] = float32(math.Cos(a))
		data[2*i+1] = float32(math.Sin(a))
	}
	return cache
}

// BuildRopeCache1D builds the [length, channels] rotary cache for positions
// 0 … length-1 with interleaved cos/sin values.
//
// Parameters:
//   - length: Sequence length
//   - channels: Rotary channel count (must be even)
//   - base: Base frequency (≤ 0 selects DefaultRopeBase)
//
// Example:
//
//	cache := nn.BuildRopeCache1D(512, 64, 0)
//	// cache.At(0, 0) == 1 (cos 0), cache.At(0, 1) == 0 (sin 0)
func BuildRopeCache1D(length, channels int, base float64) *tensor.Tensor {
	return BuildRopeCache1DFromCoords(RotaryCoordinates(length, CoordLlama), channels, base)
}

// BuildRopeCache1DFromCoords builds a rotary cache for arbitrary coordinates,
// e.g. those of RotaryCoordinates in centered mode.
func BuildRopeCache1DFromCoords(coords []float64, channels int, base float64) *tensor.Tensor {
	if channels <= 0 || channels%2 != 0 {
		exceptions.Panicf("BuildRopeCache1D: channels must be positive and even, got %d", channels)
	}
	if len(coords) == 0 {
		exceptions.Panicf("BuildRopeCache1D: no coordinates")
	}
	freqs := ropeFrequencies(channels, base)
	half := len(freqs)
	angles := make([]float64, len(coords)*half)
	for p, c := range coords {
		for i, f := range freqs {
			angles[p*half+i] = c * f
		}
	}
	return interleaveCache(len(coords), channels, angles)
}

// BuildRopeCache2D builds the [h*w, channels] rotary cache of an h×w grid.
//
// Half of the channels encode the height coordinate and half the width
// coordinate: per-axis angles ([h*w, channels/4] each) are concatenated
// along the channel axis before cos/sin interleaving. Coordinates are in
// llama mode scaled by resolution.
//
// Panics unless channels is a positive multiple of 4.
func BuildRopeCache2D(h, w, channels int, base, resolution float64) *tensor.Tensor {
	if channels <= 0 || channels%4 != 0 {
		exceptions.Panicf("BuildRopeCache2D: channels must be a positive multiple of 4, got %d", channels)
	}
	coords := RotaryCoordinates2D(h, w, true, resolution)
	freqs := ropeFrequencies(channels/2, base)
	quarter := len(freqs)
	half := 2 * quarter
	angles := make([]float64, len(coords)*half)
	for p, c := range coords {
		row := angles[p*half : (p+1)*half]
		for i, f := range freqs {
			row[i] = c[0] * f
			row[quarter+i] = c[1] * f
		}
	}
	return interleaveCache(len(coords), channels, angles)
}

// PositionEmbedding1D builds the position embedding of a 1-D modality.
//
// Only PosEmbLlamaRope is supported; other tags yield ErrUnsupportedPosEmb.
func PositionEmbedding1D(kind PosEmbType, length, headDim int) (*tensor.Tensor, error) {
	if kind != PosEmbLlamaRope {
		return nil, errors.Wrapf(ErrUnsupportedPosEmb, "%q", kind)
	}
	if length <= 0 {
		return nil, invalidf("position embedding length must be positive, got %d", length)
	}
	if headDim <= 0 || headDim%2 != 0 {
		return nil, invalidf("rotary head dim must be positive and even, got %d", headDim)
	}
	cache := BuildRopeCache1D(length, headDim, DefaultRopeBase)
	klog.V(2).Infof("built 1-D rotary cache %v (%s)", cache.Shape(), humanize.Bytes(uint64(cache.NumElements()*4)))
	return cache, nil
}

// PositionEmbedding2D builds the position embedding of an image-like modality
// of inputSize pixels split into patchSize patches.
//
// Only PosEmbLlamaRope is supported; other tags yield ErrUnsupportedPosEmb.
func PositionEmbedding2D(kind PosEmbType, inputSize, patchSize [2]int, headDim int, resolution float64) (*tensor.Tensor, error) {
	if kind != PosEmbLlamaRope {
		return nil, errors.Wrapf(ErrUnsupportedPosEmb, "%q", kind)
	}
	if patchSize[0] <= 0 || patchSize[1] <= 0 {
		return nil, invalidf("patch size must be positive, got %v", patchSize)
	}
	h, w := inputSize[0]/patchSize[0], inputSize[1]/patchSize[1]
	if h <= 0 || w <= 0 {
		return nil, invalidf("input size %v is smaller than patch size %v", inputSize, patchSize)
	}
	if headDim <= 0 || headDim%4 != 0 {
		return nil, invalidf("2-D rotary head dim must be a positive multiple of 4, got %d", headDim)
	}
	if resolution <= 0 {
		resolution = 1
	}
	cache := BuildRopeCache2D(h, w, headDim, DefaultRopeBase, resolution)
	klog.V(2).Infof("built 2-D rotary cache %dx%d -> %v (%s)", h, w, cache.Shape(), humanize.Bytes(uint64(cache.NumElements()*4)))
	return cache, nil
}
