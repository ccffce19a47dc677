// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transformer

import (
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/initializer"
	"github.com/gomlx/ldm/pkg/ml/layers/attention"
	"github.com/gomlx/ldm/pkg/ml/nn"
	"github.com/pkg/errors"
)

// SpatialConfig of a Spatial transformer.
type SpatialConfig struct {
	// InChannels of the feature map.
	InChannels int

	// NumHeads and HeadDim of the transformer blocks: their sequences have NumHeads·HeadDim features.
	NumHeads, HeadDim int

	// Depth is the number of transformer blocks. It can be 0.
	Depth int

	// NumGroups of the group normalization of the input. It must divide InChannels.
	NumGroups int

	// ContextDim of the context sequence given to the cross-attention of the blocks. See BasicConfig.ContextDim.
	ContextDim int

	// Residual is passed to the blocks. See BasicConfig.Residual.
	Residual bool

	// DType of the weights. If not set, Float32.
	DType dtypes.DType

	// Initializer for the weights. If nil, nn.DefaultInitializer.
	Initializer initializer.Initializer

	// Strategy of the attention. If nil, attention.DefaultStrategy.
	Strategy attention.Strategy
}

// Spatial transformer: applies a stack of Basic blocks to the positions of a feature map.
type Spatial struct {
	backend backends.Backend
	config  SpatialConfig
	projIn  *nn.GroupNormConv2D
	blocks  []*Basic
	projOut *nn.Conv2D
}

// NewSpatial creates a Spatial transformer. Invalid configurations return an error wrapping
// backends.ErrInvalidConfig.
func NewSpatial(backend backends.Backend, config SpatialConfig) (*Spatial, error) {
	if config.DType == dtypes.InvalidDType {
		config.DType = dtypes.Float32
	}
	if config.InChannels <= 0 || config.NumGroups <= 0 || config.InChannels%config.NumGroups != 0 {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "transformer.NewSpatial: %d channels not divisible in %d groups",
			config.InChannels, config.NumGroups)
	}
	if config.Depth < 0 {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "transformer.NewSpatial: negative Depth %d", config.Depth)
	}
	if config.NumHeads <= 0 || config.HeadDim <= 0 {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "transformer.NewSpatial: NumHeads (%d) and HeadDim (%d) must be positive",
			config.NumHeads, config.HeadDim)
	}
	inner := config.NumHeads * config.HeadDim

	s := &Spatial{backend: backend, config: config}
	var err error
	s.projIn, err = nn.NewGroupNormConv2D(backend, config.DType, config.NumGroups, config.InChannels, inner, config.Initializer)
	if err != nil {
		return nil, errors.WithMessage(err, "transformer.NewSpatial: input projection")
	}
	for range config.Depth {
		block, err := NewBasic(backend, BasicConfig{
			Dim:         inner,
			NumHeads:    config.NumHeads,
			HeadDim:     config.HeadDim,
			ContextDim:  config.ContextDim,
			Residual:    config.Residual,
			DType:       config.DType,
			Initializer: config.Initializer,
			Strategy:    config.Strategy,
		})
		if err != nil {
			return nil, errors.WithMessage(err, "transformer.NewSpatial")
		}
		s.blocks = append(s.blocks, block)
	}
	s.projOut, err = nn.NewConv2D(backend, config.DType, inner, config.InChannels, 1, 0, config.Initializer)
	if err != nil {
		return nil, errors.WithMessage(err, "transformer.NewSpatial: output projection")
	}
	return s, nil
}

// Config returns the configuration, with the defaults filled in.
func (s *Spatial) Config() SpatialConfig { return s.config }

// InnerDim is the number of features of the sequence processed by the blocks: NumHeads·HeadDim.
func (s *Spatial) InnerDim() int { return s.config.NumHeads * s.config.HeadDim }

// ProjIn is the input projection: group normalization and 1x1 convolution to InnerDim channels.
func (s *Spatial) ProjIn() *nn.GroupNormConv2D { return s.projIn }

// ProjOut is the output projection: 1x1 convolution back to InChannels.
func (s *Spatial) ProjOut() *nn.Conv2D { return s.projOut }

// Blocks returns the transformer blocks, Depth of them.
func (s *Spatial) Blocks() []*Basic { return s.blocks }

// Compute the transformer over x shaped [batch, InChannels, height, width], returning the same shape.
//
// All the blocks receive the same context and contextBias, see Basic.Compute. A nil context requires
// ContextDim to be 0 or NumHeads·HeadDim.
func (s *Spatial) Compute(x, context, contextBias *tensors.Tensor) (*tensors.Tensor, error) {
	if x == nil || !x.Ok() || x.Rank() != 4 || x.Dim(1) != s.config.InChannels {
		return nil, errors.Wrapf(backends.ErrShapeMismatch, "spatial transformer: x must be shaped [batch, %d, height, width], got %s",
			s.config.InChannels, shapeString(x))
	}
	residual := x
	projected, err := s.projIn.Compute(x)
	if err != nil {
		return nil, errors.WithMessage(err, "spatial transformer")
	}
	seq, height, width, err := ToSequence(s.backend, projected)
	if err != nil {
		return nil, err
	}
	for ii, block := range s.blocks {
		if seq, err = block.Compute(seq, context, contextBias); err != nil {
			return nil, errors.WithMessagef(err, "spatial transformer block #%d", ii)
		}
	}
	features, err := FromSequence(s.backend, seq, height, width)
	if err != nil {
		return nil, err
	}
	output, err := s.projOut.Compute(features)
	if err != nil {
		return nil, errors.WithMessage(err, "spatial transformer")
	}
	return s.backend.Add(residual, output)
}

// ToSequence converts x shaped [batch, channels, height, width] to a sequence shaped
// [batch, height·width, channels], and returns the spatial dimensions needed to convert it back.
func ToSequence(backend backends.Backend, x *tensors.Tensor) (seq *tensors.Tensor, height, width int, err error) {
	if x == nil || !x.Ok() || x.Rank() != 4 {
		err = errors.Wrapf(backends.ErrShapeMismatch, "ToSequence: x must be shaped [batch, channels, height, width], got %s", shapeString(x))
		return
	}
	height, width = x.Dim(2), x.Dim(3)
	flat, err := x.Reshape(x.Dim(0), x.Dim(1), height*width)
	if err != nil {
		err = errors.Wrap(backends.ErrShapeMismatch, err.Error())
		return
	}
	seq, err = backend.Transpose(flat, 0, 2, 1)
	return
}

// FromSequence is the inverse of ToSequence: it converts seq shaped [batch, height·width, channels] to
// [batch, channels, height, width].
func FromSequence(backend backends.Backend, seq *tensors.Tensor, height, width int) (*tensors.Tensor, error) {
	if seq == nil || !seq.Ok() || seq.Rank() != 3 || height <= 0 || width <= 0 || seq.Dim(1) != height*width {
		return nil, errors.Wrapf(backends.ErrShapeMismatch, "FromSequence: seq shaped %s is not a sequence of %dx%d positions",
			shapeString(seq), height, width)
	}
	transposed, err := backend.Transpose(seq, 0, 2, 1)
	if err != nil {
		return nil, err
	}
	x, err := transposed.Reshape(seq.Dim(0), seq.Dim(2), height, width)
	if err != nil {
		return nil, errors.Wrap(backends.ErrShapeMismatch, err.Error())
	}
	return x, nil
}

func shapeString(t *tensors.Tensor) string {
	if t == nil {
		return "nil"
	}
	return t.Shape().String()
}
