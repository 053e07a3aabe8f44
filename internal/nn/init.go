package nn

import (
	"math"
	"math/rand/v2"
	"strings"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/multimodal/internal/tensor"
)

// KernelInit selects the initializer of Linear kernels.
type KernelInit int

// Supported kernel initializers. The zero value is KaimingNormalInit.
const (
	KaimingNormalInit KernelInit = iota // N(0, 1/fan_in)
	XavierUniformInit                   // U(±sqrt(6/(fan_in+fan_out)))
)

var kernelInitNames = map[KernelInit]string{
	KaimingNormalInit: "kaiming_normal",
	XavierUniformInit: "xavier_uniform",
}

// String returns the config tag of k.
func (k KernelInit) String() string {
	if name, ok := kernelInitNames[k]; ok {
		return name
	}
	return "kernel_init(?)"
}

// ParseKernelInit maps a config tag onto a KernelInit. The empty tag selects
// KaimingNormalInit.
func ParseKernelInit(name string) (KernelInit, error) {
	name = strings.ToLower(name)
	if name == "" {
		return KaimingNormalInit, nil
	}
	for k, n := range kernelInitNames {
		if n == name {
			return k, nil
		}
	}
	return 0, invalidf("unknown kernel init %q", name)
}

// validate rejects values outside the enum.
func (k KernelInit) validate() error {
	if _, ok := kernelInitNames[k]; !ok {
		return invalidf("unknown kernel init %d", int(k))
	}
	return nil
}

// kernel draws an [out, in] weight matrix.
func (k KernelInit) kernel(inFeatures, outFeatures int, src rand.Source) *tensor.Tensor {
	shape := tensor.Shape{outFeatures, inFeatures}
	switch k {
	case KaimingNormalInit:
		return KaimingNormal(inFeatures, 1.0, shape, src)
	case XavierUniformInit:
		return Xavier(inFeatures, outFeatures, shape, src)
	}
	exceptions.Panicf("unknown kernel init %d", int(k))
	return nil
}

// KaimingNormal initializes weights from N(0, gain²/fan_in).
//
// With the linear gain (1.0) this gives std = 1/sqrt(fan_in), the fan-in
// scaled Gaussian used for the attention projections.
//
// Parameters:
//   - fanIn: Number of input units
//   - gain: Nonlinearity gain (1 for linear, sqrt(2) for ReLU)
//   - shape: Shape of the weight tensor
//   - src: Random source
//
// Returns a tensor initialized with the Kaiming normal distribution.
func KaimingNormal(fanIn int, gain float64, shape tensor.Shape, src rand.Source) *tensor.Tensor {
	std := gain / math.Sqrt(float64(fanIn))
	return tensor.Normal(shape, 0, std, src)
}

// Xavier (Glorot) initialization for weights.
//
// Initializes weights with values drawn from a uniform distribution:
// U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
func Xavier(fanIn, fanOut int, shape tensor.Shape, src rand.Source) *tensor.Tensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	return tensor.Uniform(shape, -bound, bound, src)
}
