package loader

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/born-ml/multimodal/internal/tensor"
)

var (
	// ErrTensorNotFound is returned when a checkpoint has no tensor of the requested name.
	ErrTensorNotFound = errors.New("tensor not found")

	// ErrUnsupportedDType is returned for safetensors element types other than F16, BF16, F32 and F64.
	ErrUnsupportedDType = errors.New("unsupported dtype")
)

// MapSource is an in-memory checkpoint, typically the result of a module's
// StateDict or of merging several of them.
type MapSource map[string]*tensor.Tensor

// Lookup returns the tensor stored under name.
func (m MapSource) Lookup(name string) (*tensor.Tensor, error) {
	t, ok := m[name]
	if !ok {
		return nil, errors.Wrapf(ErrTensorNotFound, "%q", name)
	}
	return t, nil
}

// Merge copies every entry of others into m, later maps overriding earlier ones.
func (m MapSource) Merge(others ...map[string]*tensor.Tensor) MapSource {
	for _, o := range others {
		for k, v := range o {
			m[k] = v
		}
	}
	return m
}

// Names returns the keys in sorted order.
func (m MapSource) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
