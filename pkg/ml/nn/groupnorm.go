// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nn

import (
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/initializer"
	"github.com/pkg/errors"
)

// DefaultGroupNormEpsilon is added to the variance before normalizing.
const DefaultGroupNormEpsilon = 1e-6

// GroupNorm normalizes inputs shaped [batch, channels, spatial...] over groups of channels, followed
// by a learned per-channel scale (gamma, initialized to 1) and offset (beta, initialized to 0).
type GroupNorm struct {
	backend     backends.Backend
	gamma, beta *tensors.Tensor
	numGroups   int
	epsilon     float64
}

// NewGroupNorm creates a GroupNorm layer. numChannels must be divisible by numGroups.
// If epsilon is 0, DefaultGroupNormEpsilon is used.
func NewGroupNorm(backend backends.Backend, dtype dtypes.DType, numChannels, numGroups int, epsilon float64) (*GroupNorm, error) {
	if err := checkConfig("GroupNorm", dtype, numChannels, numGroups); err != nil {
		return nil, err
	}
	if numChannels%numGroups != 0 {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "GroupNorm: %d channels not divisible in %d groups",
			numChannels, numGroups)
	}
	if epsilon < 0 {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "GroupNorm: negative epsilon %g", epsilon)
	}
	if epsilon == 0 {
		epsilon = DefaultGroupNormEpsilon
	}
	shape := shapes.Make(dtype, numChannels)
	return &GroupNorm{
		backend:   backend,
		gamma:     initializer.One(shape),
		beta:      initializer.Zero(shape),
		numGroups: numGroups,
		epsilon:   epsilon,
	}, nil
}

// NumGroups the channels are split into.
func (n *GroupNorm) NumGroups() int { return n.numGroups }

// SetWeights replaces gamma and beta, both shaped [numChannels].
func (n *GroupNorm) SetWeights(gamma, beta *tensors.Tensor) error {
	if err := checkWeight("GroupNorm", "gamma", n.gamma, gamma); err != nil {
		return err
	}
	if err := checkWeight("GroupNorm", "beta", n.beta, beta); err != nil {
		return err
	}
	n.gamma, n.beta = gamma, beta
	return nil
}

// Compute normalizes x.
func (n *GroupNorm) Compute(x *tensors.Tensor) (*tensors.Tensor, error) {
	y, err := n.backend.GroupNorm(x, n.gamma, n.beta, n.numGroups, n.epsilon)
	if err != nil {
		return nil, errors.WithMessage(err, "nn.GroupNorm")
	}
	return y, nil
}

// GroupNormConv2D is a GroupNorm followed by a 1x1 Conv2D: the input projection of the spatial
// transformer.
type GroupNormConv2D struct {
	Norm *GroupNorm
	Conv *Conv2D
}

// NewGroupNormConv2D creates the GroupNorm (over inChannels) and the 1x1 convolution from inChannels
// to outChannels, whose kernel is created with init.
func NewGroupNormConv2D(backend backends.Backend, dtype dtypes.DType, numGroups, inChannels, outChannels int,
	init initializer.Initializer) (*GroupNormConv2D, error) {
	norm, err := NewGroupNorm(backend, dtype, inChannels, numGroups, 0)
	if err != nil {
		return nil, err
	}
	conv, err := NewConv2D(backend, dtype, inChannels, outChannels, 1, 0, init)
	if err != nil {
		return nil, err
	}
	return &GroupNormConv2D{Norm: norm, Conv: conv}, nil
}

// Compute normalizes x and projects it to the output channels.
func (l *GroupNormConv2D) Compute(x *tensors.Tensor) (*tensors.Tensor, error) {
	normalized, err := l.Norm.Compute(x)
	if err != nil {
		return nil, err
	}
	return l.Conv.Compute(normalized)
}
