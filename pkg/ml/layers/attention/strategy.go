// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package attention

import (
	"sync"

	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Strategy computes the scaled dot-product attention softmax(query·keyᵀ·scale + bias)·value on
// head-split tensors:
//   - query: [batch, numHeads, querySeqLen, headDim]
//   - key, value: [batch, numHeads, keySeqLen, headDim]
//   - bias: nil or broadcastable to [batch, numHeads, querySeqLen, keySeqLen].
//
// The operands are validated by Core before calling the strategy.
type Strategy interface {
	// Name of the strategy, for logging.
	Name() string

	// Attend computes the attention, returning a tensor shaped like query.
	Attend(backend backends.Backend, query, key, value, bias *tensors.Tensor, scale float64) (*tensors.Tensor, error)
}

// Reference is the strategy that decomposes the attention into the backend primitives: it materializes
// the full [batch, numHeads, querySeqLen, keySeqLen] scores.
var Reference Strategy = referenceStrategy{}

type referenceStrategy struct{}

func (referenceStrategy) Name() string { return "reference" }

func (referenceStrategy) Attend(backend backends.Backend, query, key, value, bias *tensors.Tensor, scale float64) (*tensors.Tensor, error) {
	coefficients, err := coefficients(backend, query, key, bias, scale)
	if err != nil {
		return nil, err
	}
	return backend.MatMul(coefficients, value, false)
}

// coefficients returns softmax(query·keyᵀ·scale + bias) over the keys axis.
func coefficients(backend backends.Backend, query, key, bias *tensors.Tensor, scale float64) (*tensors.Tensor, error) {
	scores, err := backend.MatMul(query, key, true)
	if err != nil {
		return nil, err
	}
	if scores, err = backend.Scale(scores, scale); err != nil {
		return nil, err
	}
	if bias != nil {
		if scores, err = backend.Add(scores, bias); err != nil {
			return nil, err
		}
	}
	return backend.Softmax(scores, -1)
}

// Fused returns the strategy that delegates to a fused attention implementation.
//
// Errors from the implementation, including those wrapping backends.ErrNotImplemented, are returned
// as is: the fused strategy never falls back to Reference.
func Fused(fused backends.FusedAttention) Strategy {
	return fusedStrategy{fused: fused}
}

type fusedStrategy struct {
	fused backends.FusedAttention
}

func (s fusedStrategy) Name() string { return "fused:" + s.fused.Name() }

func (s fusedStrategy) Attend(_ backends.Backend, query, key, value, bias *tensors.Tensor, scale float64) (*tensors.Tensor, error) {
	output, err := s.fused.FusedScaledDotProductAttention(query, key, value, bias, scale)
	if err != nil {
		return nil, errors.WithMessagef(err, "fused attention %q", s.fused.Name())
	}
	return output, nil
}

var (
	defaultStrategyOnce sync.Once
	defaultStrategy     Strategy
)

// DefaultStrategy returns the strategy used by a Core whose Config.Strategy is nil.
//
// It is resolved once per process: Fused with backends.DefaultFusedAttention if an implementation is
// available, otherwise Reference.
func DefaultStrategy() Strategy {
	defaultStrategyOnce.Do(func() {
		if fused := backends.DefaultFusedAttention(); fused != nil {
			defaultStrategy = Fused(fused)
		} else {
			defaultStrategy = Reference
			klog.V(1).Infof("no fused attention available, attention uses the reference strategy")
		}
		klog.V(1).Infof("attention strategy: %s", defaultStrategy.Name())
	})
	return defaultStrategy
}
