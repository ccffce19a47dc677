// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

func convertFlat[From, To dtypes.Supported](from []From) []To {
	if same, ok := any(from).([]To); ok {
		return slices.Clone(same)
	}
	to := make([]To, len(from))
	for ii, v := range from {
		to[ii] = dtypes.FromFloat64[To](dtypes.ToFloat64(v))
	}
	return to
}

func convertAny[To dtypes.Supported](flat any) []To {
	switch from := flat.(type) {
	case []float32:
		return convertFlat[float32, To](from)
	case []float64:
		return convertFlat[float64, To](from)
	case []float16.Float16:
		return convertFlat[float16.Float16, To](from)
	case []bfloat16.BFloat16:
		return convertFlat[bfloat16.BFloat16, To](from)
	}
	exceptions.Panicf("unsupported flat data type %T", flat)
	return nil
}

// ToCompute returns a copy of the tensor's values converted to T, one of the kernels'
// compute types (float32 or float64). Half precision values are promoted exactly.
func ToCompute[T dtypes.GoFloat](t *Tensor) []T {
	t.AssertValid()
	return convertAny[T](t.flat)
}

// FromCompute builds a tensor of the given dtype and device from values computed as T,
// rounding to the nearest representable value if dtype is narrower than T.
//
// The flat slice is owned by the returned tensor when dtype matches T.
func FromCompute[T dtypes.GoFloat](dtype dtypes.DType, device Device, flat []T, dimensions ...int) (*Tensor, error) {
	var shape shapes.Shape
	err := exceptions.TryCatch[error](func() { shape = shapes.Make(dtype, dimensions...) })
	if err != nil {
		return nil, err
	}
	if len(flat) != shape.Size() {
		return nil, errors.Errorf("FromCompute: %d values given for shape %s", len(flat), shape)
	}
	var data any
	switch dtype {
	case dtypes.FromGenericsType[T]():
		data = flat
	case dtypes.Float32:
		data = convertFlat[T, float32](flat)
	case dtypes.Float64:
		data = convertFlat[T, float64](flat)
	case dtypes.Float16:
		data = convertFlat[T, float16.Float16](flat)
	case dtypes.BFloat16:
		data = convertFlat[T, bfloat16.BFloat16](flat)
	default:
		return nil, errors.Errorf("FromCompute: unsupported dtype %s", dtype)
	}
	return FromFlat(shape, device, data)
}

// AsType returns a copy of the tensor converted to the given dtype, on the same device.
// If the tensor already has the dtype, it is returned unchanged.
func (t *Tensor) AsType(dtype dtypes.DType) *Tensor {
	t.AssertValid()
	if t.shape.DType == dtype {
		return t
	}
	var data any
	switch dtype {
	case dtypes.Float32:
		data = convertAny[float32](t.flat)
	case dtypes.Float64:
		data = convertAny[float64](t.flat)
	case dtypes.Float16:
		data = convertAny[float16.Float16](t.flat)
	case dtypes.BFloat16:
		data = convertAny[bfloat16.BFloat16](t.flat)
	default:
		exceptions.Panicf("Tensor.AsType(%s): unsupported dtype", dtype)
	}
	return &Tensor{shape: t.shape.WithDType(dtype), device: t.device, flat: data}
}

// Float64s returns a copy of the values as float64, for inspection and tests.
func (t *Tensor) Float64s() []float64 {
	return ToCompute[float64](t)
}

// Equal returns whether both tensors have the same shape, device and values.
func (t *Tensor) Equal(other *Tensor) bool {
	return t.InDelta(other, 0)
}

// InDelta returns whether both tensors have the same shape and device, and all values
// are within delta of each other. NaNs are considered equal to each other.
func (t *Tensor) InDelta(other *Tensor, delta float64) bool {
	if !t.Ok() || !other.Ok() {
		return false
	}
	if !t.shape.Equal(other.shape) || t.device != other.device {
		return false
	}
	values0, values1 := t.Float64s(), other.Float64s()
	for ii, v0 := range values0 {
		v1 := values1[ii]
		if math.IsNaN(v0) || math.IsNaN(v1) {
			if math.IsNaN(v0) != math.IsNaN(v1) {
				return false
			}
			continue
		}
		if v0 == v1 {
			// Also covers infinities.
			continue
		}
		if math.Abs(v0-v1) > delta {
			return false
		}
	}
	return true
}
