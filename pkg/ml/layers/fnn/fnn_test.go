// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fnn

import (
	"math"
	"testing"

	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/backends/simplego"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/initializer"
	"github.com/gomlx/ldm/pkg/ml/random"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var backend = must.M1(simplego.New(""))

func TestGatedOutputWidth(t *testing.T) {
	config := DefaultConfig(8)
	config.DimOut = 5
	ff, err := New(backend, config)
	require.NoError(t, err)
	assert.Equal(t, 32, ff.InnerDim())

	rng := random.NewWithSeed(1)
	for _, tokens := range []int{1, 4, 9} {
		x := rng.Normal(shapes.Make(dtypes.Float32, 2, tokens, 8))
		before := x.Clone()
		y, err := ff.Compute(x)
		require.NoError(t, err)
		assert.Equal(t, []int{2, tokens, 5}, y.Shape().Dimensions)
		assert.True(t, x.Equal(before), "input must not be modified")
	}
}

func TestPlain(t *testing.T) {
	// With Mult=1 and identity weights, the plain block is Gelu(x).
	ff, err := New(backend, Config{Dim: 3, Mult: 1, DType: dtypes.Float64, Initializer: initializer.Identity})
	require.NoError(t, err)
	assert.False(t, ff.Config().Gated)
	assert.Equal(t, 3, ff.Config().DimOut)

	y, err := ff.Compute(tensors.FromValue([][]float64{{-1, 0, 2}}))
	require.NoError(t, err)
	gelu := func(x float64) float64 { return x * 0.5 * (1 + math.Erf(x/math.Sqrt2)) }
	assert.InDeltaSlice(t, []float64{gelu(-1), 0, gelu(2)}, y.Float64s(), 1e-12)
}

func TestErrors(t *testing.T) {
	for _, config := range []Config{{Dim: 0}, {Dim: 4, DimOut: -1}, {Dim: 4, Mult: -2}} {
		_, err := New(backend, config)
		assert.True(t, errors.Is(err, backends.ErrInvalidConfig), "config %+v: got %v", config, err)
	}
	ff := must.M1(New(backend, DefaultConfig(4)))
	_, err := ff.Compute(tensors.Zeros(dtypes.Float32, 1, 2, 3))
	assert.True(t, errors.Is(err, backends.ErrShapeMismatch), "got %v", err)
}
