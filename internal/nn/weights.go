package nn

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/multimodal/internal/tensor"
)

// ParamSource supplies named tensors from an external checkpoint.
//
// Names use the checkpoint's slash-separated layout, e.g.
// "encoder/layers_0/attention/query/kernel". Dense kernels are stored
// [in, out] and are transposed on load.
type ParamSource interface {
	Lookup(name string) (*tensor.Tensor, error)
}

// weightBinding ties a checkpoint key to a parameter.
type weightBinding struct {
	key    string     // key relative to the module prefix
	param  *Parameter // destination
	kernel bool       // stored [in, out], transposed relative to param
}

func linearBindings(name string, l *Linear) []weightBinding {
	bs := []weightBinding{{key: name + "/kernel", param: l.Weight(), kernel: true}}
	if l.Bias() != nil {
		bs = append(bs, weightBinding{key: name + "/bias", param: l.Bias()})
	}
	return bs
}

// loadBindings validates every binding against src before copying any of
// them, so a failed load leaves the module unchanged.
func loadBindings(src ParamSource, prefix string, bindings []weightBinding) error {
	staged := make([]*tensor.Tensor, len(bindings))
	for i, b := range bindings {
		key := prefix + b.key
		t, err := src.Lookup(key)
		if err != nil {
			return errors.Wrapf(err, "loading %q", key)
		}
		if b.kernel {
			if t.Rank() != 2 {
				return errors.Errorf("loading %q: kernel must be rank 2, got shape %v", key, t.Shape())
			}
			t = t.Transpose()
		}
		if want := b.param.Shape(); !t.Shape().Equal(want) {
			return errors.Errorf("loading %q: shape %v does not match parameter shape %v", key, t.Shape(), want)
		}
		staged[i] = t
	}
	for i, b := range bindings {
		if err := b.param.Set(staged[i]); err != nil {
			return errors.Wrapf(err, "setting %q", prefix+b.key)
		}
	}
	klog.V(1).Infof("loaded %d tensors under %q", len(bindings), prefix)
	return nil
}

// exportBindings returns the parameters in checkpoint layout keyed by
// prefixed names, the inverse of loadBindings.
func exportBindings(prefix string, bindings []weightBinding) map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor, len(bindings))
	for _, b := range bindings {
		t := b.param.Tensor().Clone()
		if b.kernel {
			t = t.Transpose()
		}
		out[prefix+b.key] = t
	}
	return out
}
