// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package attention

import (
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/pkg/errors"
)

// SplitHeads partitions the features axis of x shaped [batch, seqLen, numHeads·headDim] into heads,
// and returns them shaped [batch, numHeads, seqLen, headDim].
//
// MergeHeads is its exact inverse.
func SplitHeads(backend backends.Backend, x *tensors.Tensor, numHeads int) (*tensors.Tensor, error) {
	if x == nil || !x.Ok() || x.Rank() != 3 {
		return nil, errors.Wrapf(backends.ErrShapeMismatch, "SplitHeads requires x shaped [batch, seqLen, features], got %s", shapeString(x))
	}
	features := x.Dim(2)
	if numHeads <= 0 || features%numHeads != 0 {
		return nil, errors.Wrapf(backends.ErrShapeMismatch, "SplitHeads: %d features can't be split in %d heads", features, numHeads)
	}
	reshaped, err := x.Reshape(x.Dim(0), x.Dim(1), numHeads, features/numHeads)
	if err != nil {
		return nil, errors.Wrap(backends.ErrShapeMismatch, err.Error())
	}
	return backend.Transpose(reshaped, 0, 2, 1, 3)
}

// MergeHeads is the inverse of SplitHeads: it takes x shaped [batch, numHeads, seqLen, headDim] and
// returns [batch, seqLen, numHeads·headDim].
func MergeHeads(backend backends.Backend, x *tensors.Tensor) (*tensors.Tensor, error) {
	if x == nil || !x.Ok() || x.Rank() != 4 {
		return nil, errors.Wrapf(backends.ErrShapeMismatch, "MergeHeads requires x shaped [batch, numHeads, seqLen, headDim], got %s", shapeString(x))
	}
	transposed, err := backend.Transpose(x, 0, 2, 1, 3)
	if err != nil {
		return nil, err
	}
	merged, err := transposed.Reshape(x.Dim(0), x.Dim(2), x.Dim(1)*x.Dim(3))
	if err != nil {
		return nil, errors.Wrap(backends.ErrShapeMismatch, err.Error())
	}
	return merged, nil
}

func shapeString(t *tensors.Tensor) string {
	if t == nil {
		return "nil"
	}
	return t.Shape().String()
}
