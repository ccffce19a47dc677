// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package nn implements the primitive layers the building blocks are assembled from: Linear,
// Conv2D, GroupNorm and GroupNormConv2D.
//
// Each layer owns its weights, created at construction with an initializer.Initializer, and
// delegates the computation to a backends.Backend. The weights can be replaced with SetWeights.
package nn

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/initializer"
	"github.com/gomlx/ldm/pkg/ml/random"
	"github.com/pkg/errors"
)

// DefaultInitializer returns the initializer used for weights when none is given: XavierUniform
// drawing from the process-wide random.Default.
func DefaultInitializer() initializer.Initializer {
	return initializer.XavierUniform(random.Default())
}

// checkConfig validates the dtype and that all the given dimensions are positive.
func checkConfig(layer string, dtype dtypes.DType, dims ...int) error {
	if !dtype.IsSupported() {
		return errors.Wrapf(backends.ErrInvalidConfig, "%s: unsupported dtype %s", layer, dtype)
	}
	for _, dim := range dims {
		if dim <= 0 {
			return errors.Wrapf(backends.ErrInvalidConfig, "%s: dimensions must be positive, got %v", layer, dims)
		}
	}
	return nil
}

// newWeight creates a weight with the initializer, converting panics (e.g. Identity with a
// non-square shape) to configuration errors.
func newWeight(layer string, init initializer.Initializer, dtype dtypes.DType, dims ...int) (weight *tensors.Tensor, err error) {
	if init == nil {
		init = DefaultInitializer()
	}
	err = exceptions.TryCatch[error](func() {
		weight = init(shapes.Make(dtype, dims...))
	})
	if err != nil {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "%s: failed to initialize weight: %v", layer, err)
	}
	return weight, nil
}

// checkWeight verifies that a replacement weight matches the shape of the current one.
func checkWeight(layer, name string, current, replacement *tensors.Tensor) error {
	if current == nil && replacement == nil {
		return nil
	}
	if current == nil || replacement == nil || !current.Shape().Equal(replacement.Shape()) {
		return errors.Wrapf(backends.ErrShapeMismatch, "%s: %s must be shaped %s, got %s",
			layer, name, shapeString(current), shapeString(replacement))
	}
	return nil
}

func shapeString(t *tensors.Tensor) string {
	if t == nil {
		return "nil"
	}
	return t.Shape().String()
}
