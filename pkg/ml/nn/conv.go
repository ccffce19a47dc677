// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nn

import (
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/initializer"
	"github.com/pkg/errors"
)

// Conv2D is a 2D convolution with stride 1 over inputs shaped [batch, channels, height, width].
type Conv2D struct {
	backend      backends.Backend
	kernel, bias *tensors.Tensor
	padding      int
}

// NewConv2D creates a Conv2D layer with a square kernelSize kernel and the given zero padding.
// The bias is always present, initialized to zeros.
func NewConv2D(backend backends.Backend, dtype dtypes.DType, inChannels, outChannels, kernelSize, padding int,
	init initializer.Initializer) (*Conv2D, error) {
	if err := checkConfig("Conv2D", dtype, inChannels, outChannels, kernelSize); err != nil {
		return nil, err
	}
	if padding < 0 {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "Conv2D: negative padding %d", padding)
	}
	kernel, err := newWeight("Conv2D", init, dtype, outChannels, inChannels, kernelSize, kernelSize)
	if err != nil {
		return nil, err
	}
	return &Conv2D{
		backend: backend,
		kernel:  kernel,
		bias:    tensors.Zeros(dtype, outChannels),
		padding: padding,
	}, nil
}

// InChannels of the input.
func (c *Conv2D) InChannels() int { return c.kernel.Dim(1) }

// OutChannels of the output.
func (c *Conv2D) OutChannels() int { return c.kernel.Dim(0) }

// Weights returns the kernel, shaped [outChannels, inChannels, kernelSize, kernelSize], and the bias.
func (c *Conv2D) Weights() (kernel, bias *tensors.Tensor) { return c.kernel, c.bias }

// SetWeights replaces the kernel and bias. They must have the same shapes as the current ones.
func (c *Conv2D) SetWeights(kernel, bias *tensors.Tensor) error {
	if err := checkWeight("Conv2D", "kernel", c.kernel, kernel); err != nil {
		return err
	}
	if err := checkWeight("Conv2D", "bias", c.bias, bias); err != nil {
		return err
	}
	c.kernel, c.bias = kernel, bias
	return nil
}

// Compute applies the convolution.
func (c *Conv2D) Compute(x *tensors.Tensor) (*tensors.Tensor, error) {
	y, err := c.backend.Conv2D(x, c.kernel, c.bias, c.padding)
	if err != nil {
		return nil, errors.WithMessage(err, "nn.Conv2D")
	}
	return y, nil
}
