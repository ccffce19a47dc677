// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import (
	"math"
	"testing"

	"github.com/gomlx/ldm/pkg/core/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestMapOfNames(t *testing.T) {
	for _, name := range []string{"Float16", "float16", "F16", "f16"} {
		assert.Equal(t, Float16, MapOfNames[name], "name %q", name)
	}
	for _, name := range []string{"BFloat16", "bfloat16", "BF16", "bf16"} {
		assert.Equal(t, BFloat16, MapOfNames[name], "name %q", name)
	}
	dtype, err := FromName("FLOAT32")
	require.NoError(t, err)
	assert.Equal(t, Float32, dtype)
	_, err = FromName("int8")
	require.Error(t, err)
}

func TestFromGenericsType(t *testing.T) {
	assert.Equal(t, Float64, FromGenericsType[float64]())
	assert.Equal(t, Float32, FromGenericsType[float32]())
	assert.Equal(t, Float16, FromGenericsType[float16.Float16]())
	assert.Equal(t, BFloat16, FromGenericsType[bfloat16.BFloat16]())
	assert.Equal(t, Float32, FromAny(float32(1)))
	assert.Equal(t, InvalidDType, FromAny(int32(1)))
}

func TestSizesAndCompute(t *testing.T) {
	assert.Equal(t, 2, Float16.Size())
	assert.Equal(t, 2, BFloat16.Size())
	assert.Equal(t, 4, Float32.Size())
	assert.Equal(t, 8, Float64.Size())
	assert.Equal(t, Float32, BFloat16.ComputeDType())
	assert.Equal(t, Float64, Float64.ComputeDType())
	assert.True(t, Float16.IsHalf())
	assert.False(t, InvalidDType.IsSupported())
	require.Panics(t, func() { _ = InvalidDType.GoType() })
}

func TestConversions(t *testing.T) {
	assert.Equal(t, 1.5, ToFloat64(FromFloat64[float16.Float16](1.5)))
	assert.Equal(t, -2.0, ToFloat64(FromFloat64[bfloat16.BFloat16](-2)))
	assert.Equal(t, float32(0.25), FromFloat64[float32](0.25))
	assert.True(t, math.IsInf(ToFloat64(bfloat16.Inf(-1)), -1))
	// BFloat16 has 8 bits of precision: 1+2^-9 rounds back to 1.
	assert.Equal(t, 1.0, ToFloat64(bfloat16.FromFloat64(1+0x1p-9)))
}
