// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fnn implements the position-wise feed-forward block of the transformer: it expands the
// features to an inner width Mult·Dim, applies a non-linearity and projects back to DimOut.
//
// E.g: the gated (GEGLU) block used by the transformer blocks, mapping 320 features to 320 features:
//
//	ff, err := fnn.New(backend, fnn.DefaultConfig(320))
//	if err != nil { ... }
//	y, err := ff.Compute(x) // x: [batch, seqLen, 320]
package fnn

import (
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/initializer"
	"github.com/gomlx/ldm/pkg/ml/layers/activations"
	"github.com/gomlx/ldm/pkg/ml/nn"
	"github.com/pkg/errors"
)

// DefaultMult is the expansion factor of the inner width.
const DefaultMult = 4

// Config of a feed-forward Block.
type Config struct {
	// Dim is the number of input features.
	Dim int

	// DimOut is the number of output features. If 0, it is Dim.
	DimOut int

	// Mult is the expansion factor: the inner width is Mult·Dim. If 0, DefaultMult.
	Mult int

	// Gated selects the GEGLU expansion: it projects to 2·inner, and multiplies the value half by
	// Gelu(gate half). Otherwise the expansion is a Linear layer followed by Activation.
	Gated bool

	// Activation of the non-gated expansion. Defaults to TypeGelu if TypeNone.
	Activation activations.Type

	// DType of the weights. If not set, Float32.
	DType dtypes.DType

	// Initializer for the weights. If nil, nn.DefaultInitializer.
	Initializer initializer.Initializer
}

// DefaultConfig returns the configuration of the gated block with the default expansion.
func DefaultConfig(dim int) Config {
	return Config{Dim: dim, Mult: DefaultMult, Gated: true, Activation: activations.TypeGelu, DType: dtypes.Float32}
}

// Block is a feed-forward block. Create it with New.
type Block struct {
	backend backends.Backend
	config  Config

	// Either geglu (gated) or expand (with activation) is set.
	geglu  *activations.GEGLU
	expand *nn.Linear

	project *nn.Linear
}

// New creates a feed-forward Block. Invalid configurations return an error wrapping backends.ErrInvalidConfig.
func New(backend backends.Backend, config Config) (*Block, error) {
	if config.DimOut == 0 {
		config.DimOut = config.Dim
	}
	if config.Mult == 0 {
		config.Mult = DefaultMult
	}
	if config.Activation == activations.TypeNone {
		config.Activation = activations.TypeGelu
	}
	if config.DType == dtypes.InvalidDType {
		config.DType = dtypes.Float32
	}
	if config.Dim <= 0 || config.DimOut <= 0 || config.Mult <= 0 {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "fnn.New: Dim (%d), DimOut (%d) and Mult (%d) must be positive",
			config.Dim, config.DimOut, config.Mult)
	}
	inner := config.Mult * config.Dim

	b := &Block{backend: backend, config: config}
	var err error
	if config.Gated {
		b.geglu, err = activations.NewGEGLU(backend, config.DType, config.Dim, inner, config.Initializer)
	} else {
		b.expand, err = nn.NewLinear(backend, config.DType, config.Dim, inner, true, config.Initializer)
	}
	if err != nil {
		return nil, errors.WithMessage(err, "fnn.New")
	}
	if b.project, err = nn.NewLinear(backend, config.DType, inner, config.DimOut, true, config.Initializer); err != nil {
		return nil, errors.WithMessage(err, "fnn.New")
	}
	return b, nil
}

// Config returns the configuration with the defaults filled in.
func (b *Block) Config() Config { return b.config }

// InnerDim is the width of the expansion.
func (b *Block) InnerDim() int { return b.config.Mult * b.config.Dim }

// Compute maps x shaped [..., Dim] to [..., DimOut]. x is not modified.
func (b *Block) Compute(x *tensors.Tensor) (*tensors.Tensor, error) {
	var hidden *tensors.Tensor
	var err error
	if b.geglu != nil {
		hidden, err = b.geglu.Compute(x)
	} else {
		hidden, err = b.expand.Compute(x)
		if err == nil {
			hidden, err = activations.Apply(b.backend, b.config.Activation, hidden)
		}
	}
	if err != nil {
		return nil, errors.WithMessage(err, "fnn")
	}
	return b.project.Compute(hidden)
}
