// Package config loads model configurations from YAML.
//
// A ModelConfig describes one attention layer stack: widths, head layout,
// feed-forward activations, dropout and the numeric-stability switches of
// the attention kernel. It converts into the per-component configs of the nn
// and seq packages.
//
// Fields omitted from a YAML document keep the values of Default.
package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/born-ml/multimodal/internal/nn"
	"github.com/born-ml/multimodal/internal/seq"
	"github.com/born-ml/multimodal/internal/tensor"
)

// ModelConfig is the YAML-facing model description.
type ModelConfig struct {
	EmbedDim int `yaml:"emb_dim"`
	NumHeads int `yaml:"num_heads"`
	HeadDim  int `yaml:"head_dim"`
	MLPDim   int `yaml:"mlp_dim"`

	MLPActivations       []string `yaml:"mlp_activations"`
	DropoutRate          float64  `yaml:"dropout_rate"`
	AttnDropoutRate      float64  `yaml:"attn_dropout_rate"`
	DropoutBroadcastDims []int    `yaml:"dropout_broadcast_dims"`
	UseBias              bool     `yaml:"use_bias"`
	MLPKernelInit        string   `yaml:"mlp_kernel_init"` // kaiming_normal or xavier_uniform

	Float32AttentionLogits bool    `yaml:"float32_attention_logits"`
	QKNorm                 bool    `yaml:"qk_norm"`
	ScaledCosine           bool    `yaml:"scaled_cosine"`
	UseHeadScale           bool    `yaml:"use_head_scale"`
	DepthNormalize         bool    `yaml:"depth_normalize"`
	ClipLogit              float64 `yaml:"clip_logit"`
	LogitScaleMax          float64 `yaml:"logit_scale_max"` // cap of the cosine log-scale, must be positive

	TextPosEmb    string  `yaml:"text_pos_emb"`
	MaxTextLength int     `yaml:"max_text_length"`
	ImagePosEmb   string  `yaml:"image_pos_emb"`
	ImageSize     []int   `yaml:"image_size"` // [height, width] in pixels
	PatchSize     []int   `yaml:"patch_size"` // [height, width] in pixels
	Resolution    float64 `yaml:"resolution"` // scale of 2-D rotary coordinates

	DType string `yaml:"dtype"`
	Seed  uint64 `yaml:"seed"`
}

// Default returns a small model: 512-wide, 8 heads of 64, a gated SiLU MLP.
func Default() ModelConfig {
	return ModelConfig{
		EmbedDim:               512,
		NumHeads:               8,
		HeadDim:                64,
		MLPDim:                 1536,
		MLPActivations:         []string{"silu", "linear"},
		DropoutRate:            0.0,
		AttnDropoutRate:        0.0,
		DropoutBroadcastDims:   []int{-2},
		MLPKernelInit:          nn.KaimingNormalInit.String(),
		Float32AttentionLogits: true,
		QKNorm:                 true,
		DepthNormalize:         true,
		LogitScaleMax:          nn.DefaultLogitScaleMax,
		TextPosEmb:             string(nn.PosEmbLlamaRope),
		MaxTextLength:          512,
		ImagePosEmb:            string(nn.PosEmbLlamaRope),
		ImageSize:              []int{384, 384},
		PatchSize:              []int{16, 16},
		Resolution:             1,
		DType:                  "float32",
	}
}

// Parse decodes a YAML document over Default. Unknown keys are an error.
func Parse(data []byte) (ModelConfig, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return ModelConfig{}, errors.Wrap(err, "decoding model config")
	}
	if err := cfg.Validate(); err != nil {
		return ModelConfig{}, err
	}
	return cfg, nil
}

// Load reads and parses the YAML file at path.
func Load(path string) (ModelConfig, error) {
	//nolint:gosec // G304: config path is user input by design.
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelConfig{}, errors.Wrap(err, "reading model config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return ModelConfig{}, errors.Wrapf(err, "loading %s", path)
	}
	klog.V(1).Infof("loaded model config %s: emb_dim=%d heads=%d×%d", path, cfg.EmbedDim, cfg.NumHeads, cfg.HeadDim)
	return cfg, nil
}

// Validate checks the config and every component config derived from it.
func (c ModelConfig) Validate() error {
	if _, err := c.DataType(); err != nil {
		return err
	}
	if len(c.ImageSize) != 2 || len(c.PatchSize) != 2 {
		return errors.Wrapf(nn.ErrInvalidConfig, "image_size and patch_size need 2 entries, got %v and %v", c.ImageSize, c.PatchSize)
	}
	if !(c.LogitScaleMax > 0) {
		return errors.Wrapf(nn.ErrInvalidConfig, "logit_scale_max must be positive, got %g", c.LogitScaleMax)
	}
	if err := c.Attention().Validate(); err != nil {
		return errors.Wrap(err, "attention")
	}
	if _, err := nn.ParseKernelInit(c.MLPKernelInit); err != nil {
		return errors.Wrap(err, "mlp_kernel_init")
	}
	if err := c.MLP().Validate(); err != nil {
		return errors.Wrap(err, "mlp")
	}
	if err := c.TextEmbedder().Validate(); err != nil {
		return errors.Wrap(err, "text embedder")
	}
	if _, err := nn.ParsePosEmbType(c.TextPosEmb); err != nil {
		return errors.Wrap(err, "text_pos_emb")
	}
	if _, err := nn.ParsePosEmbType(c.ImagePosEmb); err != nil {
		return errors.Wrap(err, "image_pos_emb")
	}
	return nil
}

// DataType returns the parsed dtype.
func (c ModelConfig) DataType() (tensor.DataType, error) {
	dt, err := tensor.ParseDataType(c.DType)
	if err != nil {
		return dt, errors.Wrap(nn.ErrInvalidConfig, err.Error())
	}
	return dt, nil
}

// Attention returns the multi-head attention config.
func (c ModelConfig) Attention() nn.MultiHeadAttentionConfig {
	return nn.MultiHeadAttentionConfig{
		EmbedDim:             c.EmbedDim,
		NumHeads:             c.NumHeads,
		HeadDim:              c.HeadDim,
		UseBias:              c.UseBias,
		DropoutRate:          c.AttnDropoutRate,
		DropoutBroadcastDims: c.DropoutBroadcastDims,
		Float32Logits:        c.Float32AttentionLogits,
		QKNorm:               c.QKNorm,
		UseHeadScale:         c.UseHeadScale,
		DepthNormalize:       c.DepthNormalize,
		ClipLogit:            c.ClipLogit,
		ScaledCosine:         c.ScaledCosine,
		LogitScaleMax:        c.LogitScaleMax,
		Seed:                 c.Seed,
	}
}

// MLP returns the feed-forward block config.
func (c ModelConfig) MLP() nn.MLPBlockConfig {
	kernelInit, err := nn.ParseKernelInit(c.MLPKernelInit)
	if err != nil {
		kernelInit = -1 // rejected by MLPBlockConfig.Validate
	}
	return nn.MLPBlockConfig{
		EmbedDim:             c.EmbedDim,
		IntermediateDim:      c.MLPDim,
		Activations:          c.MLPActivations,
		DropoutRate:          c.DropoutRate,
		DropoutBroadcastDims: c.DropoutBroadcastDims,
		UseBias:              c.UseBias,
		KernelInit:           kernelInit,
		Seed:                 c.Seed + 1,
	}
}

// TextEmbedder returns the text embedder config.
func (c ModelConfig) TextEmbedder() seq.TextEmbedderConfig {
	return seq.TextEmbedderConfig{
		PosEmb:        nn.PosEmbType(c.TextPosEmb),
		MaxTextLength: c.MaxTextLength,
		EmbedDim:      c.EmbedDim,
		HeadDim:       c.HeadDim,
		PatternHeads:  seq.DefaultPatternHeads,
		Seed:          c.Seed + 2,
	}
}

// ImagePositionEmbedding builds the 2-D rotary cache of the image grid.
func (c ModelConfig) ImagePositionEmbedding() (*tensor.Tensor, error) {
	return nn.PositionEmbedding2D(nn.PosEmbType(c.ImagePosEmb),
		[2]int{c.ImageSize[0], c.ImageSize[1]}, [2]int{c.PatchSize[0], c.PatchSize[1]},
		c.HeadDim, c.Resolution)
}

// Marshal encodes c as YAML.
func (c ModelConfig) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	return data, errors.Wrap(err, "encoding model config")
}
