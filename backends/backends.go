// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface of the primitive compute library used by the latent
// diffusion building blocks: linear maps, convolutions, group normalization, activations and the
// tensor plumbing around them. It also holds the registry of optional fused attention
// implementations (see FusedAttention).
//
// A backend is registered with Register during package initialization, and selected by name with
// the LDM_BACKEND environment variable, or the first registered one is used. Import
// "github.com/gomlx/ldm/backends/default" to register the default backends.
//
// Errors returned by backends wrap one of the sentinel errors ErrShapeMismatch, ErrInvalidConfig
// or ErrNotImplemented, so callers can use errors.Is to tell them apart.
package backends

import (
	"os"
	"slices"
	"strings"

	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/pkg/errors"
)

var (
	// ErrNotImplemented indicates an operation, or one of its call paths (e.g. a dtype), is declared
	// but not implemented. It is never a reason to fall back to another implementation.
	ErrNotImplemented = errors.New("not implemented")

	// ErrInvalidConfig indicates a configuration error, detected when constructing a component.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrShapeMismatch indicates the tensors given to an operation don't have compatible shapes.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// Backend is the API that needs to be implemented by a compute backend.
//
// All operations are synchronous, return new tensors and never modify their inputs -- the only
// exception is InPlaceMul, which documents the mutation of its first operand.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "go" for the pure Go reference backend.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Capabilities returns what is supported by the backend.
	Capabilities() Capabilities

	// PrimitiveOps are the operations the layers are built on.
	PrimitiveOps

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// PrimitiveOps lists the primitive operations a backend must implement.
//
// Half precision dtypes (Float16, BFloat16) are computed in Float32 and rounded back to the
// operand's dtype.
type PrimitiveOps interface {
	// Linear computes x·weightᵀ + bias, contracting the last axis of x.
	//   - x: [..., inFeatures]
	//   - weight: [outFeatures, inFeatures]
	//   - bias: [outFeatures], can be nil.
	// Output: [..., outFeatures].
	Linear(x, weight, bias *tensors.Tensor) (*tensors.Tensor, error)

	// MatMul computes the batched matrix multiplication lhs·rhs (or lhs·rhsᵀ if transposeRHS is set).
	//   - lhs: [batch..., M, K]
	//   - rhs: [batch..., K, N] or, if transposeRHS, [batch..., N, K]
	// The batch axes must match. Output: [batch..., M, N].
	MatMul(lhs, rhs *tensors.Tensor, transposeRHS bool) (*tensors.Tensor, error)

	// Conv2D computes a 2D convolution with stride 1 and the given zero padding on each side of the
	// spatial axes.
	//   - x: [batch, inChannels, height, width]
	//   - kernel: [outChannels, inChannels, kernelHeight, kernelWidth]
	//   - bias: [outChannels], can be nil.
	// Output: [batch, outChannels, height+2·padding-kernelHeight+1, width+2·padding-kernelWidth+1].
	Conv2D(x, kernel, bias *tensors.Tensor, padding int) (*tensors.Tensor, error)

	// GroupNorm normalizes x [batch, channels, spatial...] over groups of channels (and all the
	// spatial axes), and then applies the per-channel affine transformation gamma·x+beta.
	// gamma and beta are shaped [channels], and can be nil.
	GroupNorm(x, gamma, beta *tensors.Tensor, numGroups int, epsilon float64) (*tensors.Tensor, error)

	// Gelu computes the exact Gaussian Error Linear Unit: x·Φ(x), with Φ the standard normal CDF.
	Gelu(x *tensors.Tensor) (*tensors.Tensor, error)

	// Softmax normalizes x along the given axis. Negative axes count from the end.
	Softmax(x *tensors.Tensor, axis int) (*tensors.Tensor, error)

	// Add returns lhs+rhs. Both must have the same rank, and axes of dimension 1 are broadcast.
	Add(lhs, rhs *tensors.Tensor) (*tensors.Tensor, error)

	// Mul returns lhs·rhs (element-wise). Broadcasting is the same as Add.
	Mul(lhs, rhs *tensors.Tensor) (*tensors.Tensor, error)

	// InPlaceMul multiplies other into dst element-wise, changing dst contents.
	// Both must have the same shape. Only use it on tensors owned by the caller.
	InPlaceMul(dst, other *tensors.Tensor) error

	// Scale returns x·scale.
	Scale(x *tensors.Tensor, scale float64) (*tensors.Tensor, error)

	// Transpose permutes the axes of x: output axis i is the operand axis permutation[i].
	Transpose(x *tensors.Tensor, permutation ...int) (*tensors.Tensor, error)

	// Split splits x into numParts tensors of equal size along the given axis.
	Split(x *tensors.Tensor, axis, numParts int) ([]*tensors.Tensor, error)
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	registrationOrder      []string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if _, found := registeredConstructors[name]; !found {
		registrationOrder = append(registrationOrder, name)
	}
	registeredConstructors[name] = constructor
}

// List returns the names of the registered backends, in order of registration.
func List() []string {
	return slices.Clone(registrationOrder)
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// LDM_BACKEND is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific.
const LDM_BACKEND = "LDM_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment LDM_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
func New() (Backend, error) {
	config, found := os.LookupEnv(LDM_BACKEND)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configuration string formatted as "<backend_name>:<backend_configuration>".
// If the name is empty, the first registered backend is used.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.Errorf(`no registered backends -- maybe import the default ones with import _ "github.com/gomlx/ldm/backends/default"?`)
	}
	backendName := config
	var backendConfig string
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	if backendName == "" {
		backendName = registrationOrder[0]
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Wrapf(ErrInvalidConfig, "can't find backend %q for configuration %q given (registered: %v)",
			backendName, config, registrationOrder)
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create backend %q", backendName)
	}
	return backend, nil
}
