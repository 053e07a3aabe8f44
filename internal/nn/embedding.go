package nn

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/multimodal/internal/tensor"
)

// Embedding is a lookup table that maps discrete indices to dense vectors.
//
// Architecture:
//   - Weight: [NumEmbed, EmbedDim] learnable parameter
//   - Forward: indices [batch][seq] -> embeddings [batch, seq, EmbedDim]
//
// Example:
//
//	embed := nn.NewEmbedding("shared_embedding", 32000, 256, 1.0, tensor.NewSource(0))
//	x := embed.Lookup([][]int{{1, 2, 3}}) // [1, 3, 256]
type Embedding struct {
	Weight   *Parameter // Embedding weight matrix [NumEmbed, EmbedDim]
	NumEmbed int        // Number of embeddings (vocabulary size)
	EmbedDim int        // Embedding dimension (vector size)
}

// NewEmbedding creates a new Embedding layer with weights drawn from N(0, std²).
// The weight parameter is named "<name>/embedding".
func NewEmbedding(name string, numEmbeddings, embeddingDim int, std float64, src rand.Source) *Embedding {
	weight := tensor.Normal(tensor.Shape{numEmbeddings, embeddingDim}, 0, std, src)
	return NewEmbeddingWithWeight(name, weight)
}

// NewEmbeddingWithWeight creates an Embedding layer with pre-initialized weights.
func NewEmbeddingWithWeight(name string, weight *tensor.Tensor) *Embedding {
	shape := weight.Shape()
	if len(shape) != 2 {
		exceptions.Panicf("embedding weight must be 2D, got shape %v", shape)
	}
	return &Embedding{
		Weight:   NewParameter(name+"/embedding", weight),
		NumEmbed: shape[0],
		EmbedDim: shape[1],
	}
}

// Lookup gathers one row per index. All rows of ids must share a length.
//
// Panics if any index is out of bounds [0, NumEmbed).
func (e *Embedding) Lookup(ids [][]int) *tensor.Tensor {
	if len(ids) == 0 || len(ids[0]) == 0 {
		exceptions.Panicf("Embedding.Lookup: empty index batch")
	}
	length := len(ids[0])
	w := e.Weight.Tensor()
	out := tensor.New(tensor.Shape{len(ids), length, e.EmbedDim}, w.DType())
	src, dst := w.Data(), out.Data()
	for b, row := range ids {
		if len(row) != length {
			exceptions.Panicf("Embedding.Lookup: row %d has length %d, expected %d", b, len(row), length)
		}
		for l, id := range row {
			if id < 0 || id >= e.NumEmbed {
				exceptions.Panicf("Embedding.Lookup: index %d out of range [0, %d)", id, e.NumEmbed)
			}
			off := (b*length + l) * e.EmbedDim
			copy(dst[off:off+e.EmbedDim], src[id*e.EmbedDim:(id+1)*e.EmbedDim])
		}
	}
	return out
}

// Parameters returns the list of trainable parameters.
func (e *Embedding) Parameters() []*Parameter {
	return []*Parameter{e.Weight}
}
