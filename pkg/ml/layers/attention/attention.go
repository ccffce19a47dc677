// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package attention implements the multi-head scaled dot-product attention used by the transformer
// blocks, for both self-attention and cross-attention over a context sequence.
//
// The attention proper (scores, softmax and weighted sum over the values) is computed by a Strategy:
// either Reference, composed of backend primitives, or Fused, delegating to a
// backends.FusedAttention. See DefaultStrategy for how it is selected.
package attention

import (
	"math"

	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/backends/shapeinference"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/initializer"
	"github.com/gomlx/ldm/pkg/ml/nn"
	"github.com/pkg/errors"
)

// Config of a Core. It is copied at construction and never changed afterward.
type Config struct {
	// QueryDim is the number of features of the query sequence.
	QueryDim int

	// ContextDim is the number of features of the key/value (context) sequence. If 0, it is QueryDim.
	// Self-attention (a nil key/value sequence) is only possible when ContextDim equals QueryDim.
	ContextDim int

	// NumHeads and HeadDim define the inner dimension NumHeads·HeadDim the query, key and value are
	// projected to.
	NumHeads, HeadDim int

	// OutputDim is the number of output features. If 0, it is QueryDim.
	OutputDim int

	// UseBias adds a bias to the query, key and value projections. The output projection always has a bias.
	UseBias bool

	// DType of the weights. If not set, Float32.
	DType dtypes.DType

	// Initializer for the projection weights. If nil, nn.DefaultInitializer.
	Initializer initializer.Initializer

	// Strategy computing the attention. If nil, DefaultStrategy.
	Strategy Strategy
}

// DefaultConfig returns the configuration of a self-attention Core.
func DefaultConfig(queryDim, numHeads, headDim int) Config {
	return Config{
		QueryDim: queryDim,
		NumHeads: numHeads,
		HeadDim:  headDim,
		DType:    dtypes.Float32,
	}
}

// Core is a multi-head attention layer: it projects the query and the key/value sequences to the inner
// dimension, splits it in heads, attends and projects the merged heads to the output.
type Core struct {
	backend              backends.Backend
	config               Config
	toQ, toK, toV, toOut *nn.Linear
	scale                float64
}

// New creates a Core. Invalid configurations return an error wrapping backends.ErrInvalidConfig.
func New(backend backends.Backend, config Config) (*Core, error) {
	if backend == nil {
		return nil, errors.Wrap(backends.ErrInvalidConfig, "attention.New: nil backend")
	}
	if config.DType == dtypes.InvalidDType {
		config.DType = dtypes.Float32
	}
	if config.ContextDim == 0 {
		config.ContextDim = config.QueryDim
	}
	if config.OutputDim == 0 {
		config.OutputDim = config.QueryDim
	}
	if config.QueryDim <= 0 || config.ContextDim <= 0 || config.OutputDim <= 0 {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "attention.New: dimensions must be positive, got query=%d, context=%d, output=%d",
			config.QueryDim, config.ContextDim, config.OutputDim)
	}
	if config.NumHeads <= 0 || config.HeadDim <= 0 {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "attention.New: NumHeads (%d) and HeadDim (%d) must be positive",
			config.NumHeads, config.HeadDim)
	}
	if config.HeadDim > math.MaxInt32/config.NumHeads {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "attention.New: inner dimension %d·%d is too large",
			config.NumHeads, config.HeadDim)
	}
	inner := config.NumHeads * config.HeadDim

	c := &Core{
		backend: backend,
		config:  config,
		scale:   1.0 / math.Sqrt(float64(config.HeadDim)),
	}
	var err error
	if c.toQ, err = nn.NewLinear(backend, config.DType, config.QueryDim, inner, config.UseBias, config.Initializer); err != nil {
		return nil, errors.WithMessage(err, "attention.New: query projection")
	}
	if c.toK, err = nn.NewLinear(backend, config.DType, config.ContextDim, inner, config.UseBias, config.Initializer); err != nil {
		return nil, errors.WithMessage(err, "attention.New: key projection")
	}
	if c.toV, err = nn.NewLinear(backend, config.DType, config.ContextDim, inner, config.UseBias, config.Initializer); err != nil {
		return nil, errors.WithMessage(err, "attention.New: value projection")
	}
	if c.toOut, err = nn.NewLinear(backend, config.DType, inner, config.OutputDim, true, config.Initializer); err != nil {
		return nil, errors.WithMessage(err, "attention.New: output projection")
	}
	return c, nil
}

// Config returns the configuration, with the defaults filled in. The Strategy field is the configured one,
// possibly nil.
func (c *Core) Config() Config { return c.config }

// Strategy used to compute the attention.
func (c *Core) Strategy() Strategy {
	if c.config.Strategy != nil {
		return c.config.Strategy
	}
	return DefaultStrategy()
}

// WithStrategy returns a shallow copy of the Core, sharing the weights, that uses the given strategy.
func (c *Core) WithStrategy(strategy Strategy) *Core {
	c2 := *c
	c2.config.Strategy = strategy
	return &c2
}

// Projections returns the query, key, value and output projections.
func (c *Core) Projections() (toQ, toK, toV, toOut *nn.Linear) {
	return c.toQ, c.toK, c.toV, c.toOut
}

// Scale applied to the scores: HeadDim^-0.5.
func (c *Core) Scale() float64 { return c.scale }

// SelfAttention attends x over itself.
func (c *Core) SelfAttention(x *tensors.Tensor) (*tensors.Tensor, error) {
	return c.Compute(x, nil, nil)
}

// CrossAttention attends x over the context sequence, with an optional additive bias on the scores.
// If context is nil, it is the self-attention of x: this requires ContextDim to equal QueryDim (or be
// left 0), otherwise it returns an error wrapping backends.ErrShapeMismatch.
func (c *Core) CrossAttention(x, context, bias *tensors.Tensor) (*tensors.Tensor, error) {
	return c.Compute(x, context, bias)
}

// Compute the attention of query over keyValue.
//
//   - query: [batch, querySeqLen, QueryDim]
//   - keyValue: [batch, keySeqLen, ContextDim], or nil for self-attention (in which case QueryDim must
//     equal ContextDim).
//   - bias: nil, or an additive bias to the scores before the softmax, broadcastable to
//     [batch, NumHeads, querySeqLen, keySeqLen]. Use it to mask (-inf) or re-weight context tokens.
//
// It returns [batch, querySeqLen, OutputDim]. Shape mismatches return an error wrapping
// backends.ErrShapeMismatch.
func (c *Core) Compute(query, keyValue, bias *tensors.Tensor) (*tensors.Tensor, error) {
	q, k, v, err := c.projectHeads(query, keyValue, bias)
	if err != nil {
		return nil, err
	}
	strategy := c.Strategy()
	attended, err := strategy.Attend(c.backend, q, k, v, bias, c.scale)
	if err != nil {
		return nil, errors.WithMessagef(err, "attention (strategy %s)", strategy.Name())
	}
	merged, err := MergeHeads(c.backend, attended)
	if err != nil {
		return nil, err
	}
	return c.toOut.Compute(merged)
}

// Coefficients returns the attention weights, shaped [batch, NumHeads, querySeqLen, keySeqLen], for the
// same arguments as Compute. Each row over the keys sums to 1.
//
// They are always computed with the backend primitives, regardless of the Strategy.
func (c *Core) Coefficients(query, keyValue, bias *tensors.Tensor) (*tensors.Tensor, error) {
	q, k, _, err := c.projectHeads(query, keyValue, bias)
	if err != nil {
		return nil, err
	}
	return coefficients(c.backend, q, k, bias, c.scale)
}

// projectHeads validates the inputs and returns the head-split query, key and value projections.
func (c *Core) projectHeads(query, keyValue, bias *tensors.Tensor) (q, k, v *tensors.Tensor, err error) {
	if keyValue == nil {
		keyValue = query
	}
	if err = c.checkSequence("query", query, c.config.QueryDim); err != nil {
		return
	}
	if err = c.checkSequence("keyValue", keyValue, c.config.ContextDim); err != nil {
		return
	}
	if query.Dim(0) != keyValue.Dim(0) {
		err = errors.Wrapf(backends.ErrShapeMismatch, "attention: query %s and keyValue %s batch sizes differ",
			query.Shape(), keyValue.Shape())
		return
	}

	heads := c.config.NumHeads
	project := func(proj *nn.Linear, x *tensors.Tensor) (*tensors.Tensor, error) {
		projected, err := proj.Compute(x)
		if err != nil {
			return nil, err
		}
		return SplitHeads(c.backend, projected, heads)
	}
	if q, err = project(c.toQ, query); err != nil {
		return
	}
	if k, err = project(c.toK, keyValue); err != nil {
		return
	}
	if v, err = project(c.toV, keyValue); err != nil {
		return
	}

	biasShape := shapes.Invalid()
	if bias != nil {
		if !bias.Ok() {
			err = errors.Wrap(backends.ErrShapeMismatch, "attention: invalid bias tensor")
			return
		}
		biasShape = bias.Shape()
	}
	if _, err = shapeinference.ScaledDotProductAttentionOp(q.Shape(), k.Shape(), v.Shape(), biasShape); err != nil {
		err = errors.WithMessage(err, "attention: bias")
	}
	return
}

func (c *Core) checkSequence(name string, x *tensors.Tensor, features int) error {
	if x == nil || !x.Ok() || x.Rank() != 3 || x.Dim(2) != features {
		return errors.Wrapf(backends.ErrShapeMismatch, "attention: %s must be shaped [batch, seqLen, %d], got %s",
			name, features, shapeString(x))
	}
	return nil
}
