// Package seq holds the sequence wrapper exchanged between modality
// embedders and the transformer backbone, and the text embedder that
// produces it for token inputs.
package seq

import (
	"fmt"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/multimodal/internal/tensor"
)

// Modality identifies the kind of input a sequence was embedded from.
type Modality int

// Known modalities. The integer values are part of checkpoint layouts.
const (
	ModalityText Modality = iota
	ModalityImage
	ModalityAudio
)

// String returns the lower-case modality name.
func (m Modality) String() string {
	switch m {
	case ModalityText:
		return "text"
	case ModalityImage:
		return "image"
	case ModalityAudio:
		return "audio"
	}
	return fmt.Sprintf("modality(%d)", int(m))
}

// Sequence bundles embedded features with everything the backbone needs to
// attend over them. A Sequence is immutable: With and WithFeatures return
// modified copies and the getters return the stored tensors, which callers
// must not mutate.
type Sequence struct {
	features     *tensor.Tensor // [B, L, C]
	posEmb       *tensor.Tensor // [B, L, n] rotary cache rows
	modality     Modality
	mask         *tensor.Tensor // [B, L]
	patternMask  *tensor.Tensor // [B, H, L, L], optional
	subsegments  *tensor.Tensor // [B, L], optional
	targetTokens *tensor.Tensor // [B, L], optional
	lossMask     *tensor.Tensor // [B, L], optional
}

// Option sets an optional field of a Sequence.
type Option func(*Sequence)

// WithPatternMask sets the pairwise attention-pattern mask [B, H, L, L].
func WithPatternMask(m *tensor.Tensor) Option {
	return func(s *Sequence) { s.patternMask = m }
}

// WithSubsegments sets per-token subsegment ids [B, L].
func WithSubsegments(ids *tensor.Tensor) Option {
	return func(s *Sequence) { s.subsegments = ids }
}

// WithTargetTokens sets the target token labels [B, L].
func WithTargetTokens(t *tensor.Tensor) Option {
	return func(s *Sequence) { s.targetTokens = t }
}

// WithLossMask sets the mask of positions contributing to the loss [B, L].
func WithLossMask(m *tensor.Tensor) Option {
	return func(s *Sequence) { s.lossMask = m }
}

// New builds a Sequence. features is [B, L, C]; posEmb, if non-nil, is
// [B, L, n]; mask is [B, L].
//
// Panics if the shapes disagree on batch or length.
func New(features, posEmb *tensor.Tensor, modality Modality, mask *tensor.Tensor, opts ...Option) *Sequence {
	s := &Sequence{
		features: features,
		posEmb:   posEmb,
		modality: modality,
		mask:     mask,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.check()
	return s
}

func (s *Sequence) check() {
	if s.features == nil || s.features.Rank() != 3 {
		exceptions.Panicf("seq.New: features must be [batch, length, channels], got %v", shapeOf(s.features))
	}
	b, l := s.features.Dim(0), s.features.Dim(1)
	if s.posEmb != nil && (s.posEmb.Rank() != 3 || s.posEmb.Dim(0) != b || s.posEmb.Dim(1) != l) {
		exceptions.Panicf("seq.New: position embedding %v does not match features %v", s.posEmb.Shape(), s.features.Shape())
	}
	for name, t := range map[string]*tensor.Tensor{
		"mask":          s.mask,
		"subsegments":   s.subsegments,
		"target tokens": s.targetTokens,
		"loss mask":     s.lossMask,
	} {
		if t != nil && !t.Shape().Equal(tensor.Shape{b, l}) {
			exceptions.Panicf("seq.New: %s must be [%d, %d], got %v", name, b, l, t.Shape())
		}
	}
	if p := s.patternMask; p != nil && (p.Rank() != 4 || p.Dim(0) != b || p.Dim(2) != l || p.Dim(3) != l) {
		exceptions.Panicf("seq.New: pattern mask must be [%d, heads, %d, %d], got %v", b, l, l, p.Shape())
	}
}

func shapeOf(t *tensor.Tensor) any {
	if t == nil {
		return "nil"
	}
	return t.Shape()
}

// With returns a copy of s with opts applied.
func (s *Sequence) With(opts ...Option) *Sequence {
	c := *s
	for _, opt := range opts {
		opt(&c)
	}
	c.check()
	return &c
}

// WithFeatures returns a copy of s carrying new features of the same batch
// and length, e.g. the output of a transformer layer.
func (s *Sequence) WithFeatures(features *tensor.Tensor) *Sequence {
	c := *s
	c.features = features
	c.check()
	return &c
}

// Features returns the embedded features [B, L, C].
func (s *Sequence) Features() *tensor.Tensor { return s.features }

// PositionEmbedding returns the per-token rotary rows [B, L, n], or nil.
func (s *Sequence) PositionEmbedding() *tensor.Tensor { return s.posEmb }

// Modality returns the modality tag.
func (s *Sequence) Modality() Modality { return s.modality }

// Mask returns the validity mask [B, L].
func (s *Sequence) Mask() *tensor.Tensor { return s.mask }

// PatternMask returns the attention-pattern mask, or nil.
func (s *Sequence) PatternMask() *tensor.Tensor { return s.patternMask }

// Subsegments returns the subsegment ids, or nil.
func (s *Sequence) Subsegments() *tensor.Tensor { return s.subsegments }

// TargetTokens returns the target labels, or nil.
func (s *Sequence) TargetTokens() *tensor.Tensor { return s.targetTokens }

// LossMask returns the loss mask, or nil.
func (s *Sequence) LossMask() *tensor.Tensor { return s.lossMask }

// BatchSize returns B.
func (s *Sequence) BatchSize() int { return s.features.Dim(0) }

// Len returns L.
func (s *Sequence) Len() int { return s.features.Dim(1) }
