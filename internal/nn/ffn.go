package nn

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/born-ml/multimodal/internal/tensor"
)

// MLPBlockConfig configures an MLPBlock.
type MLPBlockConfig struct {
	EmbedDim        int      // Input/output dimension.
	IntermediateDim int      // Hidden dimension shared by all branches.
	Activations     []string // One activation tag per branch, e.g. ["silu", "linear"].

	DropoutRate          float64 // Dropout after the branch product.
	DropoutBroadcastDims []int   // Axes sharing one dropout decision (default [-2]).

	UseBias    bool
	KernelInit KernelInit // Initializer of the wi/wo kernels (default Kaiming normal).
	Seed       uint64
}

// DefaultMLPBlockConfig returns a single-branch ReLU block with 0.1 dropout.
func DefaultMLPBlockConfig(embedDim, intermediateDim int) MLPBlockConfig {
	return MLPBlockConfig{
		EmbedDim:             embedDim,
		IntermediateDim:      intermediateDim,
		Activations:          []string{"relu"},
		DropoutRate:          0.1,
		DropoutBroadcastDims: []int{-2},
	}
}

// Validate checks the configuration and resolves the activation tags.
func (c MLPBlockConfig) Validate() error {
	_, err := c.resolve()
	return err
}

func (c MLPBlockConfig) resolve() ([]Activation, error) {
	if c.EmbedDim <= 0 || c.IntermediateDim <= 0 {
		return nil, invalidf("MLP dims must be positive, got embed=%d intermediate=%d", c.EmbedDim, c.IntermediateDim)
	}
	if err := c.KernelInit.validate(); err != nil {
		return nil, err
	}
	if len(c.Activations) == 0 {
		return nil, invalidf("MLP needs at least one activation")
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return nil, invalidf("MLP dropout rate must be in [0, 1), got %g", c.DropoutRate)
	}
	acts := make([]Activation, len(c.Activations))
	for i, name := range c.Activations {
		a, err := ParseActivation(name)
		if err != nil {
			return nil, err
		}
		acts[i] = a
	}
	return acts, nil
}

// MLPBlock is the gated transformer feed-forward block.
//
// Architecture, for k activations:
//
//	h_i = act_i(W_i·x)          i = 0 … k-1
//	out = W_o·dropout(h_0 ⊙ … ⊙ h_{k-1})
//
// With a single activation this is a plain two-layer MLP; with ["silu",
// "linear"] it is SwiGLU.
//
// Example:
//
//	cfg := nn.DefaultMLPBlockConfig(512, 2048)
//	cfg.Activations = []string{"gelu", "linear"}
//	mlp, err := nn.NewMLPBlock(cfg)
//	y := mlp.Forward(x) // [batch, length, 512]
type MLPBlock struct {
	Wi []*Linear // one input projection per branch
	Wo *Linear

	acts    []Activation
	dropout *Dropout
	cfg     MLPBlockConfig
}

// branchName is "wi" for a single branch and "wi_<i>" otherwise.
func branchName(i, k int) string {
	if k == 1 {
		return "wi"
	}
	return fmt.Sprintf("wi_%d", i)
}

// NewMLPBlock creates an MLPBlock. Unknown activation tags yield
// ErrUnknownActivation.
func NewMLPBlock(cfg MLPBlockConfig) (*MLPBlock, error) {
	acts, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	src := tensor.NewSource(cfg.Seed)
	m := &MLPBlock{
		acts:    acts,
		cfg:     cfg,
		dropout: NewDropout(cfg.DropoutRate, cfg.DropoutBroadcastDims, src),
	}
	for i := range acts {
		m.Wi = append(m.Wi, NewLinearWithInit(branchName(i, len(acts)), cfg.EmbedDim, cfg.IntermediateDim, cfg.UseBias, cfg.KernelInit, src))
	}
	m.Wo = NewLinearWithInit("wo", cfg.IntermediateDim, cfg.EmbedDim, cfg.UseBias, cfg.KernelInit, src)
	klog.V(1).Infof("MLPBlock: %d -> %d activations=%v init=%s", cfg.EmbedDim, cfg.IntermediateDim, acts, cfg.KernelInit)
	return m, nil
}

// Activations returns the resolved branch activations.
func (m *MLPBlock) Activations() []Activation {
	return append([]Activation(nil), m.acts...)
}

// SetTraining enables or disables dropout.
func (m *MLPBlock) SetTraining(training bool) {
	m.dropout.SetTraining(training)
}

// Forward applies the block to x [..., embed].
func (m *MLPBlock) Forward(x *tensor.Tensor) *tensor.Tensor {
	var gated *tensor.Tensor
	for i, wi := range m.Wi {
		h := m.acts[i].Apply(wi.Forward(x))
		if gated == nil {
			gated = h
		} else {
			gated = tensor.Mul(gated, h).Cast(x.DType())
		}
	}
	return m.Wo.Forward(m.dropout.Forward(gated))
}

func (m *MLPBlock) bindings() []weightBinding {
	var bs []weightBinding
	for i, wi := range m.Wi {
		bs = append(bs, linearBindings(branchName(i, len(m.Wi)), wi)...)
	}
	return append(bs, linearBindings("wo", m.Wo)...)
}

// LoadWeights copies parameters from src. Keys are prefix followed by
// wi/kernel (single branch) or wi_<i>/kernel, then wo/kernel; "/bias"
// variants when UseBias. Kernels are stored [in, out].
func (m *MLPBlock) LoadWeights(src ParamSource, prefix string) error {
	return loadBindings(src, prefix, m.bindings())
}

// StateDict returns the parameters under the same keys LoadWeights reads.
func (m *MLPBlock) StateDict(prefix string) map[string]*tensor.Tensor {
	return exportBindings(prefix, m.bindings())
}

// Parameters returns all learned parameters.
func (m *MLPBlock) Parameters() []*Parameter {
	var params []*Parameter
	for _, b := range m.bindings() {
		params = append(params, b.param)
	}
	return params
}
