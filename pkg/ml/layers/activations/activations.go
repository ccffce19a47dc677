// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package activations implements the activations used by the building blocks, including the gated
// GEGLU projection, and a generic Apply method to apply an activation by its type.
package activations

import (
	"strings"

	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/initializer"
	"github.com/gomlx/ldm/pkg/ml/nn"
	"github.com/pkg/errors"
)

// Type is an enum for the supported activation functions.
type Type int

const (
	TypeNone Type = iota
	TypeGelu
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeGelu:
		return "gelu"
	}
	return "Type(?)"
}

// FromName converts an activation name (case-insensitive) to its Type.
func FromName(name string) (Type, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return TypeNone, nil
	case "gelu":
		return TypeGelu, nil
	}
	return TypeNone, errors.Wrapf(backends.ErrInvalidConfig, "unknown activation %q", name)
}

// Apply the activation to x. TypeNone returns x itself.
func Apply(backend backends.Backend, activation Type, x *tensors.Tensor) (*tensors.Tensor, error) {
	switch activation {
	case TypeNone:
		return x, nil
	case TypeGelu:
		return Gelu(backend, x)
	}
	return nil, errors.Wrapf(backends.ErrInvalidConfig, "activations.Apply: unknown activation %s", activation)
}

// Gelu activation function: x·Φ(x), with Φ the standard normal cumulative distribution function.
func Gelu(backend backends.Backend, x *tensors.Tensor) (*tensors.Tensor, error) {
	return backend.Gelu(x)
}

// GEGLU is a gated linear unit with a Gelu gate: the input is projected to twice the output width
// and split in halves (value, gate); the result is Gelu(gate)·value.
type GEGLU struct {
	backend backends.Backend
	proj    *nn.Linear
}

// NewGEGLU creates the GEGLU projection from dimIn to dimOut features. The projection has a bias.
func NewGEGLU(backend backends.Backend, dtype dtypes.DType, dimIn, dimOut int, init initializer.Initializer) (*GEGLU, error) {
	if dimOut <= 0 {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "GEGLU: dimOut must be positive, got %d", dimOut)
	}
	proj, err := nn.NewLinear(backend, dtype, dimIn, 2*dimOut, true, init)
	if err != nil {
		return nil, errors.WithMessage(err, "GEGLU")
	}
	return &GEGLU{backend: backend, proj: proj}, nil
}

// Proj returns the projection to [value, gate].
func (g *GEGLU) Proj() *nn.Linear { return g.proj }

// DimOut is the number of output features.
func (g *GEGLU) DimOut() int { return g.proj.OutFeatures() / 2 }

// Compute x shaped [..., dimIn] to [..., dimOut].
//
// The value half is multiplied in place into the buffer holding Gelu(gate): that buffer is freshly
// produced here and returned, so neither x nor any tensor held by the caller is modified.
func (g *GEGLU) Compute(x *tensors.Tensor) (*tensors.Tensor, error) {
	projected, err := g.proj.Compute(x)
	if err != nil {
		return nil, errors.WithMessage(err, "GEGLU")
	}
	halves, err := g.backend.Split(projected, -1, 2)
	if err != nil {
		return nil, errors.WithMessage(err, "GEGLU")
	}
	value, gate := halves[0], halves[1]
	activated, err := Gelu(g.backend, gate)
	if err != nil {
		return nil, errors.WithMessage(err, "GEGLU")
	}
	if err = g.backend.InPlaceMul(activated, value); err != nil {
		return nil, errors.WithMessage(err, "GEGLU")
	}
	return activated, nil
}
