package nn

import (
	"math"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/born-ml/multimodal/internal/tensor"
)

// Activation enumerates the elementwise nonlinearities a feed-forward branch
// may apply. The set is closed; ParseActivation maps checkpoint tags onto it.
type Activation int

// Supported activations.
const (
	ActLinear    Activation = iota // identity
	ActReLU                        // max(0, x)
	ActGELU                        // exact GELU, x·Φ(x)
	ActGELUTanh                    // tanh approximation of GELU
	ActSiLU                        // x·σ(x), a.k.a. swish
	ActSigmoid                     // σ(x)
	ActTanh                        // tanh(x)
	ActQuickGELU                   // x·σ(1.702x)
)

var activationNames = map[Activation]string{
	ActLinear:    "linear",
	ActReLU:      "relu",
	ActGELU:      "gelu",
	ActGELUTanh:  "gelu_tanh",
	ActSiLU:      "silu",
	ActSigmoid:   "sigmoid",
	ActTanh:      "tanh",
	ActQuickGELU: "quick_gelu",
}

// String returns the canonical tag of the activation.
func (a Activation) String() string {
	if name, ok := activationNames[a]; ok {
		return name
	}
	return "unknown"
}

// ParseActivation resolves an activation tag. Aliases "identity", "swish",
// "gelu_new" and "quickgelu" are accepted. Unknown tags yield ErrUnknownActivation.
func ParseActivation(name string) (Activation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "linear", "identity":
		return ActLinear, nil
	case "relu":
		return ActReLU, nil
	case "gelu":
		return ActGELU, nil
	case "gelu_tanh", "gelu_new", "gelu_approximate":
		return ActGELUTanh, nil
	case "silu", "swish":
		return ActSiLU, nil
	case "sigmoid":
		return ActSigmoid, nil
	case "tanh":
		return ActTanh, nil
	case "quick_gelu", "quickgelu":
		return ActQuickGELU, nil
	}
	return ActLinear, errors.Wrapf(ErrUnknownActivation, "%q", name)
}

// ActivationFunc is a scalar elementwise function.
type ActivationFunc func(x float64) float64

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Func returns the scalar function implementing a.
func (a Activation) Func() ActivationFunc {
	switch a {
	case ActLinear:
		return func(x float64) float64 { return x }
	case ActReLU:
		return func(x float64) float64 { return math.Max(0, x) }
	case ActGELU:
		return func(x float64) float64 { return 0.5 * x * (1 + math.Erf(x/math.Sqrt2)) }
	case ActGELUTanh:
		c := math.Sqrt(2 / math.Pi)
		return func(x float64) float64 { return 0.5 * x * (1 + math.Tanh(c*(x+0.044715*x*x*x))) }
	case ActSiLU:
		return func(x float64) float64 { return x * sigmoid(x) }
	case ActSigmoid:
		return sigmoid
	case ActTanh:
		return math.Tanh
	case ActQuickGELU:
		return func(x float64) float64 { return x * sigmoid(1.702*x) }
	}
	exceptions.Panicf("activation: unknown activation %d", int(a))
	return nil
}

// Apply runs a over every element of x. ActLinear returns x itself.
func (a Activation) Apply(x *tensor.Tensor) *tensor.Tensor {
	if a == ActLinear {
		return x
	}
	return x.Map(a.Func())
}
