package seq

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/multimodal/internal/nn"
	"github.com/born-ml/multimodal/internal/tensor"
)

// modalityEmbeddingStd is the init std of the learned modality vector.
const modalityEmbeddingStd = 0.02

// DefaultPatternHeads is the head count of the all-visible pattern mask
// attached to text sequences.
const DefaultPatternHeads = 4

// TextEmbedderConfig configures a TextEmbedder.
type TextEmbedderConfig struct {
	PosEmb        nn.PosEmbType // position-embedding tag, "llama_rope"
	MaxTextLength int           // rows of the rotary cache
	EmbedDim      int           // token embedding width
	HeadDim       int           // rotary channels per head
	PatternHeads  int           // heads of the attention-pattern mask
	Seed          uint64        // seed of the modality embedding init
}

// DefaultTextEmbedderConfig returns a config for 512-token text with the
// given embedding and head widths.
func DefaultTextEmbedderConfig(embedDim, headDim int) TextEmbedderConfig {
	return TextEmbedderConfig{
		PosEmb:        nn.PosEmbLlamaRope,
		MaxTextLength: 512,
		EmbedDim:      embedDim,
		HeadDim:       headDim,
		PatternHeads:  DefaultPatternHeads,
	}
}

// Validate checks the config.
func (c TextEmbedderConfig) Validate() error {
	if c.EmbedDim <= 0 {
		return errors.Wrapf(nn.ErrInvalidConfig, "embed dim must be positive, got %d", c.EmbedDim)
	}
	if c.MaxTextLength <= 0 {
		return errors.Wrapf(nn.ErrInvalidConfig, "max text length must be positive, got %d", c.MaxTextLength)
	}
	if c.PatternHeads <= 0 {
		return errors.Wrapf(nn.ErrInvalidConfig, "pattern heads must be positive, got %d", c.PatternHeads)
	}
	return nil
}

// TextInputs carries the optional per-call inputs of TextEmbedder.Forward.
type TextInputs struct {
	Mask        *tensor.Tensor // [B, L] validity; nil means every token is valid
	PositionIDs [][]int        // [B][L] rows of the rotary cache; nil means 0..L-1
	SegmentIDs  *tensor.Tensor // [B, L] subsegment ids, optional
	Targets     *tensor.Tensor // [B, L] target labels, optional
	CurIndex    *int           // decoding step; every token takes this position
}

// TextEmbedder embeds token ids into a text Sequence: shared token
// embeddings plus a learned modality vector, with rotary rows gathered from
// a 1-D cache.
type TextEmbedder struct {
	cfg   TextEmbedderConfig
	cache *tensor.Tensor // [MaxTextLength, HeadDim]

	ModalityEmbedding *nn.Parameter // [EmbedDim]
}

// NewTextEmbedder builds the rotary cache and initializes the modality
// embedding from N(0, 0.02²).
func NewTextEmbedder(cfg TextEmbedderConfig) (*TextEmbedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache, err := nn.PositionEmbedding1D(cfg.PosEmb, cfg.MaxTextLength, cfg.HeadDim)
	if err != nil {
		return nil, errors.Wrap(err, "text position embedding")
	}
	emb := tensor.Normal(tensor.Shape{cfg.EmbedDim}, 0, modalityEmbeddingStd, tensor.NewSource(cfg.Seed))
	klog.V(1).Infof("text embedder: %d positions, embed dim %d", cfg.MaxTextLength, cfg.EmbedDim)
	return &TextEmbedder{
		cfg:               cfg,
		cache:             cache,
		ModalityEmbedding: nn.NewParameter("modality_embedding", emb),
	}, nil
}

// Config returns the embedder's config.
func (e *TextEmbedder) Config() TextEmbedderConfig {
	return e.cfg
}

// Cache returns the rotary cache [MaxTextLength, HeadDim].
func (e *TextEmbedder) Cache() *tensor.Tensor {
	return e.cache
}

// Forward embeds tokens [B][L] with the shared embedding table.
//
// The returned sequence carries an all-ones pattern mask [B, PatternHeads,
// L, L] and uses the validity mask as its loss mask.
//
// Panics if token rows differ in length, a position id falls outside the
// cache, or the shared embedding width differs from EmbedDim.
func (e *TextEmbedder) Forward(tokens [][]int, shared *nn.Embedding, in TextInputs) *Sequence {
	if shared.EmbedDim != e.cfg.EmbedDim {
		exceptions.Panicf("TextEmbedder: shared embedding width %d, expected %d", shared.EmbedDim, e.cfg.EmbedDim)
	}
	x := shared.Lookup(tokens)
	b, l := x.Dim(0), x.Dim(1)
	x = tensor.Add(x, e.ModalityEmbedding.Tensor().Cast(x.DType()))

	posEmb := e.gatherPositions(b, l, in)

	mask := in.Mask
	if mask == nil {
		mask = tensor.Ones(tensor.Shape{b, l})
	}
	pattern := tensor.Ones(tensor.Shape{b, e.cfg.PatternHeads, l, l}).Cast(x.DType())

	return New(x, posEmb, ModalityText, mask,
		WithPatternMask(pattern),
		WithSubsegments(in.SegmentIDs),
		WithTargetTokens(in.Targets),
		WithLossMask(mask),
	)
}

// gatherPositions returns the cache rows for each token, [B, L, HeadDim].
func (e *TextEmbedder) gatherPositions(b, l int, in TextInputs) *tensor.Tensor {
	n := e.cache.Dim(1)
	rows := e.cache.Data()
	out := tensor.New(tensor.Shape{b, l, n}, e.cache.DType())
	dst := out.Data()
	for bi := 0; bi < b; bi++ {
		for li := 0; li < l; li++ {
			pos := li
			switch {
			case in.PositionIDs != nil:
				if len(in.PositionIDs) != b || len(in.PositionIDs[bi]) != l {
					exceptions.Panicf("TextEmbedder: position ids must be [%d][%d]", b, l)
				}
				pos = in.PositionIDs[bi][li]
			case in.CurIndex != nil:
				pos = *in.CurIndex
			}
			if pos < 0 || pos >= e.cfg.MaxTextLength {
				exceptions.Panicf("TextEmbedder: position %d outside cache of %d rows", pos, e.cfg.MaxTextLength)
			}
			off := (bi*l + li) * n
			copy(dst[off:off+n], rows[pos*n:(pos+1)*n])
		}
	}
	return out
}

// LoadWeights loads "{prefix}modality_embedding" from src.
func (e *TextEmbedder) LoadWeights(src nn.ParamSource, prefix string) error {
	key := prefix + "modality_embedding"
	t, err := src.Lookup(key)
	if err != nil {
		return errors.Wrapf(err, "loading %q", key)
	}
	return errors.Wrapf(e.ModalityEmbedding.Set(t), "loading %q", key)
}

// StateDict returns the learned parameters keyed as LoadWeights expects.
func (e *TextEmbedder) StateDict(prefix string) map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{prefix + "modality_embedding": e.ModalityEmbedding.Tensor().Clone()}
}

// Parameters returns the learned modality embedding.
func (e *TextEmbedder) Parameters() []*nn.Parameter {
	return []*nn.Parameter{e.ModalityEmbedding}
}
