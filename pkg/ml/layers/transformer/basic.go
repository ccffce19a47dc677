// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package transformer implements the transformer block (Basic) and the spatial transformer (Spatial) of
// a latent diffusion model.
//
// Basic runs self-attention, cross-attention over an optional context sequence and a gated feed-forward
// block. Spatial bridges a [batch, channels, height, width] feature map to a token sequence, runs a stack
// of Basic blocks and bridges back, adding the input as a residual.
package transformer

import (
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/initializer"
	"github.com/gomlx/ldm/pkg/ml/layers/attention"
	"github.com/gomlx/ldm/pkg/ml/layers/fnn"
	"github.com/pkg/errors"
)

// BasicConfig of a Basic transformer block.
type BasicConfig struct {
	// Dim is the number of features of the sequence.
	Dim int

	// NumHeads and HeadDim of both attention stages.
	NumHeads, HeadDim int

	// ContextDim is the number of features of the context sequence of the cross-attention.
	// If 0, the context must have Dim features. A nil context (cross-attention falls back to
	// self-attention) only works if ContextDim is 0 or Dim.
	ContextDim int

	// Residual adds the input of each of the three stages to its output.
	// By default (false) the stages are chained without residual connections, and the residual is
	// only added at the Spatial transformer boundary.
	Residual bool

	// DType of the weights. If not set, Float32.
	DType dtypes.DType

	// Initializer for the weights. If nil, nn.DefaultInitializer.
	Initializer initializer.Initializer

	// Strategy of the attention stages. If nil, attention.DefaultStrategy.
	Strategy attention.Strategy
}

// Basic transformer block: self-attention, cross-attention and a gated feed-forward block.
type Basic struct {
	backend backends.Backend
	config  BasicConfig
	attn1   *attention.Core
	attn2   *attention.Core
	ff      *fnn.Block
}

// NewBasic creates a Basic transformer block. Invalid configurations return an error wrapping
// backends.ErrInvalidConfig.
func NewBasic(backend backends.Backend, config BasicConfig) (*Basic, error) {
	if config.DType == dtypes.InvalidDType {
		config.DType = dtypes.Float32
	}
	if config.ContextDim < 0 {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "transformer.NewBasic: negative ContextDim %d", config.ContextDim)
	}
	attentionConfig := attention.Config{
		QueryDim:    config.Dim,
		NumHeads:    config.NumHeads,
		HeadDim:     config.HeadDim,
		DType:       config.DType,
		Initializer: config.Initializer,
		Strategy:    config.Strategy,
	}
	b := &Basic{backend: backend, config: config}
	var err error
	if b.attn1, err = attention.New(backend, attentionConfig); err != nil {
		return nil, errors.WithMessage(err, "transformer.NewBasic: self-attention")
	}
	attentionConfig.ContextDim = config.ContextDim
	if b.attn2, err = attention.New(backend, attentionConfig); err != nil {
		return nil, errors.WithMessage(err, "transformer.NewBasic: cross-attention")
	}
	ffConfig := fnn.DefaultConfig(config.Dim)
	ffConfig.DType = config.DType
	ffConfig.Initializer = config.Initializer
	if b.ff, err = fnn.New(backend, ffConfig); err != nil {
		return nil, errors.WithMessage(err, "transformer.NewBasic: feed-forward")
	}
	return b, nil
}

// Config returns the configuration, with the defaults filled in.
func (b *Basic) Config() BasicConfig { return b.config }

// SelfAttention stage.
func (b *Basic) SelfAttention() *attention.Core { return b.attn1 }

// CrossAttention stage.
func (b *Basic) CrossAttention() *attention.Core { return b.attn2 }

// FeedForward stage.
func (b *Basic) FeedForward() *fnn.Block { return b.ff }

// Compute the block over x shaped [batch, seqLen, Dim], returning the same shape.
//
// context, shaped [batch, contextLen, ContextDim], is attended by the cross-attention stage, with the
// optional additive contextBias (see attention.Core.Compute). If context is nil, the cross-attention
// stage is a second self-attention: this requires ContextDim to be 0 or Dim, otherwise an error
// wrapping backends.ErrShapeMismatch is returned.
func (b *Basic) Compute(x, context, contextBias *tensors.Tensor) (*tensors.Tensor, error) {
	stages := []struct {
		name string
		fn   func(x *tensors.Tensor) (*tensors.Tensor, error)
	}{
		{"self-attention", b.attn1.SelfAttention},
		{"cross-attention", func(x *tensors.Tensor) (*tensors.Tensor, error) {
			return b.attn2.CrossAttention(x, context, contextBias)
		}},
		{"feed-forward", b.ff.Compute},
	}
	for _, stage := range stages {
		y, err := stage.fn(x)
		if err != nil {
			return nil, errors.WithMessagef(err, "transformer block %s", stage.name)
		}
		if b.config.Residual {
			if y, err = b.backend.Add(x, y); err != nil {
				return nil, errors.WithMessagef(err, "transformer block %s residual", stage.name)
			}
		}
		x = y
	}
	return x, nil
}
