// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"
	"testing"

	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromShape(t *testing.T) {
	for _, dtype := range []dtypes.DType{dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64} {
		tensor := FromShape(shapes.Make(dtype, 2, 3))
		require.True(t, tensor.Ok())
		assert.Equal(t, dtype, tensor.DType())
		assert.Equal(t, 6, tensor.Size())
		assert.Equal(t, CPU, tensor.Device())
		assert.Equal(t, make([]float64, 6), tensor.Float64s())
	}
	require.Panics(t, func() { FromShape(shapes.Invalid()) })
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	tensor := FromFlatDataAndDimensions(data, 2, 3)
	data[0] = 100 // Tensor must hold a copy.
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, MustCopyFlatData[float32](tensor))
	require.Panics(t, func() { FromFlatDataAndDimensions(data, 4) })

	_, err := CopyFlatData[float64](tensor)
	require.Error(t, err)

	scalar := FromScalar(float64(7))
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 7.0, ToScalar[float64](scalar))

	filled := FromScalarAndDimensions(float16.Fromfloat32(0.5), 3)
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, filled.Float64s())
}

func TestFromValue(t *testing.T) {
	tensor := FromValue([][]float64{{1, 2}, {3, 4}, {5, 6}})
	assert.Equal(t, []int{3, 2}, tensor.Shape().Dimensions)
	assert.Equal(t, dtypes.Float64, tensor.DType())
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, tensor.Float64s())

	scalar := FromValue(float32(3))
	assert.True(t, scalar.IsScalar())

	require.Panics(t, func() { FromValue([][]float32{{1, 2}, {3}}) })
	require.Panics(t, func() { FromValue([]int{1, 2}) })
}

func TestAsType(t *testing.T) {
	tensor := FromValue([]float32{0.5, -1.25, 3})
	for _, dtype := range []dtypes.DType{dtypes.Float16, dtypes.BFloat16, dtypes.Float64} {
		converted := tensor.AsType(dtype)
		assert.Equal(t, dtype, converted.DType())
		assert.Equal(t, []float64{0.5, -1.25, 3}, converted.Float64s(), "dtype=%s", dtype)
		assert.True(t, converted.AsType(dtypes.Float32).Equal(tensor))
	}
	assert.Same(t, tensor, tensor.AsType(dtypes.Float32))

	// BFloat16 keeps 8 bits of mantissa.
	rounded := FromValue([]float32{1 + 1.0/512}).AsType(dtypes.BFloat16)
	assert.Equal(t, []bfloat16.BFloat16{bfloat16.FromFloat32(1)}, MustCopyFlatData[bfloat16.BFloat16](rounded))
}

func TestComputeRoundTrip(t *testing.T) {
	tensor := FromValue([][]float16.Float16{{float16.Fromfloat32(1), float16.Fromfloat32(2)}})
	values := ToCompute[float32](tensor)
	assert.Equal(t, []float32{1, 2}, values)
	for ii := range values {
		values[ii] *= 2
	}
	back, err := FromCompute(tensor.DType(), tensor.Device(), values, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float16, back.DType())
	assert.Equal(t, []float64{2, 4}, back.Float64s())

	_, err = FromCompute(dtypes.Float32, CPU, values, 3)
	require.Error(t, err)
}

func TestReshapeAndClone(t *testing.T) {
	tensor := FromValue([]float32{1, 2, 3, 4, 5, 6})
	reshaped, err := tensor.Reshape(2, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, reshaped.Shape().Dimensions)
	_, err = tensor.Reshape(4, 2)
	require.Error(t, err)
	_, err = tensor.Reshape(6, 0)
	require.Error(t, err)

	clone := tensor.Clone()
	MustMutableFlatData(clone, func(flat []float32) { flat[0] = -1 })
	assert.Equal(t, 1.0, tensor.Float64s()[0])
	assert.False(t, clone.Equal(tensor))
}

func TestDevice(t *testing.T) {
	gpu := Device{Platform: "cuda", Num: 1}
	tensor := FromValue([]float64{1})
	moved := tensor.OnDevice(gpu)
	assert.Equal(t, gpu, moved.Device())
	assert.Equal(t, CPU, tensor.Device())
	assert.False(t, tensor.Equal(moved))
	assert.Equal(t, "cuda:1", gpu.String())
}

func TestInDelta(t *testing.T) {
	a := FromValue([]float64{1, math.NaN(), math.Inf(1)})
	b := FromValue([]float64{1.001, math.NaN(), math.Inf(1)})
	assert.True(t, a.InDelta(b, 0.01))
	assert.False(t, a.InDelta(b, 0.0001))
}

func TestSummary(t *testing.T) {
	tensor := FromValue([][]float32{{1, 2}, {3, 4}})
	want := "(Float32)[2 2]@cpu:0 (16 B):\n{{1, 2},\n {3, 4}}"
	assert.Equal(t, want, tensor.String())

	long := FromShape(shapes.Make(dtypes.Float64, 10))
	assert.Contains(t, long.String(), "{0, 0, 0, ..., 0, 0, 0}")

	scalar := FromScalar(float32(1.5))
	assert.Equal(t, "(Float32)@cpu:0 (4 B): 1.5", scalar.String())
}
