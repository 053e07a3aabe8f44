package nn

import (
	"github.com/gomlx/exceptions"
)

// CoordinateMode selects how 1-D rotary coordinates are laid out.
//
// The llama and origin modes differ only by an offset of one, and 2-D grids
// use different scale bases for them. Both are kept as distinct modes so
// checkpoints trained with either keep their exact numerics.
type CoordinateMode int

const (
	// CoordCentered splits the sequence around zero: [-⌊L/2⌋ … -1, 1 … L-⌊L/2⌋].
	// Zero is skipped so the origin never coincides with a real position.
	CoordCentered CoordinateMode = iota
	// CoordLlama counts from zero: [0 … L-1].
	CoordLlama
	// CoordOrigin counts from one: [1 … L].
	CoordOrigin
)

// String returns the mode name.
func (m CoordinateMode) String() string {
	switch m {
	case CoordCentered:
		return "centered"
	case CoordLlama:
		return "llama"
	case CoordOrigin:
		return "origin"
	default:
		return "unknown"
	}
}

// RotaryCoordinates returns the length coordinates of a 1-D sequence.
//
// Example:
//
//	nn.RotaryCoordinates(5, nn.CoordCentered) // [-2 -1 1 2 3]
//	nn.RotaryCoordinates(3, nn.CoordLlama)    // [0 1 2]
//	nn.RotaryCoordinates(3, nn.CoordOrigin)   // [1 2 3]
func RotaryCoordinates(length int, mode CoordinateMode) []float64 {
	if length <= 0 {
		exceptions.Panicf("RotaryCoordinates: length must be positive, got %d", length)
	}
	coords := make([]float64, length)
	switch mode {
	case CoordCentered:
		half := length / 2
		for i := 0; i < half; i++ {
			coords[i] = float64(i - half)
		}
		for i := half; i < length; i++ {
			coords[i] = float64(i - half + 1)
		}
	case CoordLlama, CoordOrigin:
		offset := 0.0
		if mode == CoordOrigin {
			offset = 1
		}
		for i := range coords {
			coords[i] = offset + float64(i)
		}
	default:
		exceptions.Panicf("RotaryCoordinates: unknown mode %d", mode)
	}
	return coords
}

// RotaryCoordinates2D returns the (height, width) coordinates of an h×w grid,
// flattened row-major to h*w pairs.
//
// In llama mode both axes use CoordLlama with scale resolution. Otherwise both
// axes use CoordCentered scaled by resolution/(max(h, w)+1), as if the grid
// were a crop of a unit box.
func RotaryCoordinates2D(h, w int, llama bool, resolution float64) [][2]float64 {
	scale := resolution
	mode := CoordLlama
	if !llama {
		scale = resolution / (float64(max(h, w)) + 1)
		mode = CoordCentered
	}
	hc := RotaryCoordinates(h, mode)
	wc := RotaryCoordinates(w, mode)

	coords := make([][2]float64, 0, h*w)
	for _, y := range hc {
		for _, x := range wc {
			coords = append(coords, [2]float64{scale * y, scale * x})
		}
	}
	return coords
}
