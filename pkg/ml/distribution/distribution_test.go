// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distribution

import (
	"math"
	"testing"

	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/random"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestClamp(t *testing.T) {
	mean := tensors.FromValue([]float64{0, 0, 0, 0})
	d, err := NewDiagonalGaussian(mean, tensors.FromValue([]float64{-100, -30, 20, 1000}))
	require.NoError(t, err)
	assert.Equal(t, []float64{-30, -30, 20, 20}, d.LogVariance().Float64s())
	assert.InDeltaSlice(t, []float64{math.Exp(-15), math.Exp(-15), math.Exp(10), math.Exp(10)}, d.Std().Float64s(), 1e-9)
	assert.InDeltaSlice(t, []float64{math.Exp(-30), math.Exp(-30), math.Exp(20), math.Exp(20)}, d.Variance().Float64s(), 1e-3)

	// Out of range log-variances behave exactly as the boundary values.
	boundary, err := NewDiagonalGaussian(mean, tensors.FromValue([]float64{-30, -30, 20, 20}))
	require.NoError(t, err)
	assert.True(t, boundary.Std().Equal(d.Std()))
	a, err := d.Sample(random.NewWithSeed(9))
	require.NoError(t, err)
	b, err := boundary.Sample(random.NewWithSeed(9))
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestVariance(t *testing.T) {
	for _, dtype := range []dtypes.DType{dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64} {
		mean := tensors.Zeros(dtype, 3)
		logVar := tensors.FromValue([]float64{0, math.Log(4), 50}).AsType(dtype)
		d, err := NewDiagonalGaussian(mean, logVar)
		require.NoError(t, err)
		variance := d.Variance()
		assert.Equal(t, dtype, variance.DType())
		assert.Equal(t, mean.Device(), variance.Device())
		assert.Same(t, variance, d.Variance())
		got := variance.Float64s()
		assert.InDelta(t, 1.0, got[0], 1e-9, "dtype=%s", dtype)
		assert.InDelta(t, 4.0, got[1], 0.05, "dtype=%s", dtype)
		if dtype != dtypes.Float16 {
			// exp(20) overflows Float16.
			assert.InEpsilon(t, math.Exp(MaxLogVariance), got[2], 0.01, "dtype=%s", dtype)
		}
	}
}

func TestMoments(t *testing.T) {
	const n = 20000
	mean := tensors.FromValue([]float32{1.5, -2})
	logVar := tensors.FromValue([]float32{0, float32(math.Log(4))})
	d, err := NewDiagonalGaussian(mean, logVar)
	require.NoError(t, err)
	assert.Same(t, mean, d.Mode())
	assert.Same(t, mean, d.Mean())

	rng := random.NewWithSeed(11)
	samples := [2][]float64{make([]float64, n), make([]float64, n)}
	for ii := range n {
		s, err := d.Sample(rng)
		require.NoError(t, err)
		require.Equal(t, dtypes.Float32, s.DType())
		values := s.Float64s()
		samples[0][ii], samples[1][ii] = values[0], values[1]
	}
	for ii, wantMean := range []float64{1.5, -2} {
		gotMean, gotVariance := stat.MeanVariance(samples[ii], nil)
		wantVariance := math.Exp(logVar.Float64s()[ii])
		assert.InDelta(t, wantMean, gotMean, 0.05, "element %d", ii)
		assert.InDelta(t, wantVariance, gotVariance, 0.1*wantVariance, "element %d", ii)
	}
}

func TestSampleDefaultSource(t *testing.T) {
	mean := tensors.FromValue([][]float64{{1, 2}, {3, 4}})
	d, err := NewDiagonalGaussian(mean, tensors.FromValue([][]float64{{-30, -30}, {-30, -30}}))
	require.NoError(t, err)
	s, err := d.Sample(nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, s.Shape().Dimensions)
	// Standard deviation is exp(-15) ~ 3e-7.
	assert.InDeltaSlice(t, []float64{1, 2, 3, 4}, s.Float64s(), 1e-5)
}

func TestShapeMismatch(t *testing.T) {
	_, err := NewDiagonalGaussian(tensors.Zeros(dtypes.Float32, 2, 3), tensors.Zeros(dtypes.Float32, 3, 2))
	assert.True(t, errors.Is(err, backends.ErrShapeMismatch))
	_, err = NewDiagonalGaussian(tensors.Zeros(dtypes.Float32, 2), tensors.Zeros(dtypes.Float64, 2))
	assert.True(t, errors.Is(err, backends.ErrShapeMismatch))
	_, err = NewDiagonalGaussian(nil, tensors.Zeros(dtypes.Float32, 2))
	assert.True(t, errors.Is(err, backends.ErrShapeMismatch))
}
