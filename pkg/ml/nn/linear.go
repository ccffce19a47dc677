// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nn

import (
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/initializer"
	"github.com/pkg/errors"
)

// Linear performs a linear transformation: y = x @ weight^T + bias.
//
// weight has shape [outFeatures, inFeatures]. bias is optional (nil means no bias), shaped [outFeatures].
type Linear struct {
	backend      backends.Backend
	weight, bias *tensors.Tensor
}

// NewLinear creates a Linear layer. The weight is created with init (DefaultInitializer if nil), and
// the bias, if useBias is set, with zeros.
func NewLinear(backend backends.Backend, dtype dtypes.DType, inFeatures, outFeatures int, useBias bool,
	init initializer.Initializer) (*Linear, error) {
	if err := checkConfig("Linear", dtype, inFeatures, outFeatures); err != nil {
		return nil, err
	}
	weight, err := newWeight("Linear", init, dtype, outFeatures, inFeatures)
	if err != nil {
		return nil, err
	}
	l := &Linear{backend: backend, weight: weight}
	if useBias {
		l.bias = tensors.Zeros(dtype, outFeatures)
	}
	return l, nil
}

// InFeatures returns the size of the contracted (last) axis of the input.
func (l *Linear) InFeatures() int { return l.weight.Dim(1) }

// OutFeatures returns the size of the last axis of the output.
func (l *Linear) OutFeatures() int { return l.weight.Dim(0) }

// Weights returns the current weight and bias (nil if the layer has no bias).
func (l *Linear) Weights() (weight, bias *tensors.Tensor) { return l.weight, l.bias }

// SetWeights replaces the weight and bias. They must have the same shapes as the current ones.
func (l *Linear) SetWeights(weight, bias *tensors.Tensor) error {
	if err := checkWeight("Linear", "weight", l.weight, weight); err != nil {
		return err
	}
	if err := checkWeight("Linear", "bias", l.bias, bias); err != nil {
		return err
	}
	l.weight, l.bias = weight, bias
	return nil
}

// Compute applies the layer to x shaped [..., inFeatures], returning [..., outFeatures].
func (l *Linear) Compute(x *tensors.Tensor) (*tensors.Tensor, error) {
	y, err := l.backend.Linear(x, l.weight, l.bias)
	if err != nil {
		return nil, errors.WithMessage(err, "nn.Linear")
	}
	return y, nil
}
