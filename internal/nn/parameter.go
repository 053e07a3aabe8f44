package nn

import (
	"github.com/born-ml/multimodal/internal/tensor"
)

// Parameter is a named, learned tensor owned by a module.
//
// Modules never replace a parameter's tensor during a forward pass; values
// change only through Set (used by weight loading) or by writing to
// Tensor().Data() from an external optimizer.
//
// Example:
//
//	weight := nn.NewParameter("query/kernel", tensor.Zeros(tensor.Shape{8, 8}))
//	w := weight.Tensor()
type Parameter struct {
	name   string         // Checkpoint-style name, e.g. "query/kernel".
	tensor *tensor.Tensor // The parameter values.
}

// NewParameter creates a new parameter.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// Shape returns the parameter shape.
func (p *Parameter) Shape() tensor.Shape {
	return p.tensor.Shape()
}

// Set copies src into the parameter. The shapes must match.
func (p *Parameter) Set(src *tensor.Tensor) error {
	return p.tensor.CopyFrom(src)
}
