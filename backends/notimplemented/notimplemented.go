// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package notimplemented implements a backends.FusedAttention whose every call returns an error wrapping
// backends.ErrNotImplemented.
//
// Importing it registers the implementation under the name "notimplemented": it declares the fused
// attention capability present, while the call path is disabled. This can help bootstrap a new fused
// implementation, and test that callers surface the error instead of falling back.
package notimplemented

import (
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Name of the fused attention implementation.
const Name = "notimplemented"

// NotImplementedError is returned by every method.
//
// It doesn't contain a stack, attach a stack to with with errors.Wrapf(ErrNotImplemented, "...") when using it.
var NotImplementedError = backends.ErrNotImplemented

func init() {
	backends.RegisterFusedAttention(Name, func() (backends.FusedAttention, error) {
		return FusedAttention{}, nil
	})
}

// FusedAttention is a dummy fused attention implementation.
type FusedAttention struct{}

var _ backends.FusedAttention = FusedAttention{}

// Name implements backends.FusedAttention.
func (FusedAttention) Name() string { return Name }

// FusedScaledDotProductAttention returns NotImplementedError.
func (FusedAttention) FusedScaledDotProductAttention(query, key, value, bias *tensors.Tensor, scale float64) (*tensors.Tensor, error) {
	return nil, errors.Wrapf(NotImplementedError, "in FusedScaledDotProductAttention()")
}
