// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nn

import (
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
	"gonum.org/v1/gonum/stat"
)

var backend = must.M1(simplego.New(""))

func TestLinear(t *testing.T) {
	l, err := NewLinear(backend, dtypes.Float32, 2, 3, true, initializer.Zero)
	require.NoError(t, err)
	assert.Equal(t, 2, l.InFeatures())
	assert.Equal(t, 3, l.OutFeatures())
	require.NoError(t, l.SetWeights(
		tensors.FromValue([][]float32{{1, 0}, {0, 1}, {1, 1}}),
		tensors.FromValue([]float32{0, 0, 10})))

	x := tensors.FromValue([][][]float32{{{1, 2}, {3, 4}}})
	y, err := l.Compute(x)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, y.Shape().Dimensions)
	assert.Equal(t, []float64{1, 2, 13, 3, 4, 17}, y.Float64s())

	_, err = l.Compute(tensors.Zeros(dtypes.Float32, 1, 5))
	require.True(t, errors.Is(err, backends.ErrShapeMismatch), "got %v", err)
	err = l.SetWeights(tensors.Zeros(dtypes.Float32, 2, 2), nil)
	require.True(t, errors.Is(err, backends.ErrShapeMismatch), "got %v", err)
}

func TestConfigErrors(t *testing.T) {
	_, err := NewLinear(backend, dtypes.Float32, 0, 3, false, nil)
	assert.True(t, errors.Is(err, backends.ErrInvalidConfig), "got %v", err)
	_, err = NewLinear(backend, dtypes.InvalidDType, 2, 3, false, nil)
	assert.True(t, errors.Is(err, backends.ErrInvalidConfig), "got %v", err)
	_, err = NewLinear(backend, dtypes.Float32, 2, 3, false, initializer.Identity)
	assert.True(t, errors.Is(err, backends.ErrInvalidConfig), "got %v", err)
	_, err = NewConv2D(backend, dtypes.Float32, 2, 3, 3, -1, nil)
	assert.True(t, errors.Is(err, backends.ErrInvalidConfig), "got %v", err)
	_, err = NewGroupNorm(backend, dtypes.Float32, 6, 4, 0)
	assert.True(t, errors.Is(err, backends.ErrInvalidConfig), "got %v", err)
}

func TestConv2D(t *testing.T) {
	conv, err := NewConv2D(backend, dtypes.Float64, 3, 3, 1, 0, initializer.Identity)
	require.NoError(t, err)
	x := random.NewWithSeed(1).Normal(shapes.Make(dtypes.Float64, 2, 3, 4, 5))
	y, err := conv.Compute(x)
	require.NoError(t, err)
	assert.True(t, x.Equal(y))

	// 3x3 kernel with padding 1 preserves the spatial dimensions.
	conv, err = NewConv2D(backend, dtypes.Float64, 3, 2, 3, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, conv.InChannels())
	assert.Equal(t, 2, conv.OutChannels())
	y, err = conv.Compute(x)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 4, 5}, y.Shape().Dimensions)
}

func TestGroupNormConv2D(t *testing.T) {
	layer, err := NewGroupNormConv2D(backend, dtypes.Float64, 2, 4, 4, initializer.Identity)
	require.NoError(t, err)
	assert.Equal(t, 2, layer.Norm.NumGroups())

	x := random.NewWithSeed(2).Normal(shapes.Make(dtypes.Float64, 1, 4, 8, 8))
	x = must.M1(backend.Scale(x, 3))
	y, err := layer.Compute(x)
	require.NoError(t, err)

	// Each group of 2 channels x 64 positions has mean 0 and variance 1.
	values := y.Float64s()
	for group := range 2 {
		groupValues := values[group*128 : (group+1)*128]
		mean, variance := stat.PopMeanVariance(groupValues, nil)
		assert.InDelta(t, 0.0, mean, 1e-9)
		assert.InDelta(t, 1.0, variance, 1e-4)
	}

	require.NoError(t, layer.Norm.SetWeights(
		tensors.FromValue([]float64{2, 2, 2, 2}), tensors.FromValue([]float64{1, 1, 1, 1})))
	y, err = layer.Compute(x)
	require.NoError(t, err)
	mean, variance := stat.PopMeanVariance(y.Float64s(), nil)
	assert.InDelta(t, 1.0, mean, 1e-9)
	assert.InDelta(t, 4.0, variance, 1e-3)
}
