// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the floating point data types supported by the
// latent diffusion building blocks, converters to/from Go native types and the generic
// constraints used by the compute kernels.
//
// Float16 uses github.com/x448/float16, and BFloat16 uses the small implementation in the
// bfloat16 sub-package.
package dtypes

import (
	"maps"
	"math"
	"reflect"
	"slices"
	"strings"

	"github.com/gomlx/ldm/pkg/core/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// panicf panics with the formatted description.
//
// It is only used for "bugs in the code" -- when parameters don't follow the documented contract.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

func init() {
	// Add a mapping to the lower-case version of dtypes.
	keys := slices.Collect(maps.Keys(MapOfNames))
	for _, key := range keys {
		lowerKey := strings.ToLower(key)
		if _, found := MapOfNames[lowerKey]; found {
			continue
		}
		MapOfNames[lowerKey] = MapOfNames[key]
	}
}

// Supported lists the Go types that can be stored in a tensor.
type Supported interface {
	float16.Float16 | bfloat16.BFloat16 | float32 | float64
}

// GoFloat is the constraint used by the compute kernels: half precision types are
// promoted to float32 before computation.
type GoFloat interface {
	float32 | float64
}

// FromGenericsType returns the DType enum for the given type that this package knows about.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case float64:
		return Float64
	case float32:
		return Float32
	case float16.Float16:
		return Float16
	case bfloat16.BFloat16:
		return BFloat16
	}
	return InvalidDType
}

// Pre-generate constant reflect.TypeOf for convenience.
var (
	float32Type  = reflect.TypeOf(float32(0))
	float64Type  = reflect.TypeOf(float64(0))
	float16Type  = reflect.TypeOf(float16.Float16(0))
	bfloat16Type = reflect.TypeOf(bfloat16.BFloat16(0))
)

// FromGoType returns the DType for the given "reflect.Type", or InvalidDType if not supported.
func FromGoType(t reflect.Type) DType {
	switch t {
	case float16Type:
		return Float16
	case bfloat16Type:
		return BFloat16
	case float32Type:
		return Float32
	case float64Type:
		return Float64
	}
	return InvalidDType
}

// FromAny introspects the underlying type of any and returns the corresponding DType.
func FromAny(value any) DType {
	return FromGoType(reflect.TypeOf(value))
}

// FromName parses a dtype name (case-insensitive, aliases accepted).
func FromName(name string) (DType, error) {
	dtype, found := MapOfNames[name]
	if !found {
		dtype, found = MapOfNames[strings.ToLower(name)]
	}
	if !found || dtype == InvalidDType {
		return InvalidDType, errors.Errorf("unknown dtype %q", name)
	}
	return dtype, nil
}

// IsSupported returns whether the dtype can be stored in a tensor.
func (dtype DType) IsSupported() bool {
	switch dtype {
	case Float16, BFloat16, Float32, Float64:
		return true
	}
	return false
}

// IsHalf returns whether the dtype is one of the 16 bits formats, which the kernels
// promote to Float32 for computation.
func (dtype DType) IsHalf() bool {
	return dtype == Float16 || dtype == BFloat16
}

// ComputeDType returns the dtype used by the kernels to compute values of this dtype.
func (dtype DType) ComputeDType() DType {
	if dtype.IsHalf() {
		return Float32
	}
	return dtype
}

// GoType returns the Go `reflect.Type` corresponding to the tensor DType.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Float16:
		return float16Type
	case BFloat16:
		return bfloat16Type
	case Float32:
		return float32Type
	case Float64:
		return float64Type
	default:
		panicf("unknown dtype %q (%d) in DType.GoType", dtype, dtype)
		panic(nil)
	}
}

// Size returns the number of bytes for the given DType.
func (dtype DType) Size() int {
	return int(dtype.GoType().Size())
}

// Memory returns the number of bytes for the given DType.
// It's an alias to Size, converted to uintptr.
func (dtype DType) Memory() uintptr {
	return uintptr(dtype.Size())
}

// Epsilon returns the difference between 1.0 and the next representable value, usable
// as a default comparison tolerance.
func (dtype DType) Epsilon() float64 {
	switch dtype {
	case Float16:
		return 0x1p-10
	case BFloat16:
		return 0x1p-7
	case Float32:
		return 0x1p-23
	case Float64:
		return 0x1p-52
	}
	return math.NaN()
}

// ToFloat64 converts one value of any supported type to float64.
func ToFloat64[T Supported](v T) float64 {
	switch x := any(v).(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case float16.Float16:
		return float64(x.Float32())
	case bfloat16.BFloat16:
		return float64(x.Float32())
	}
	return math.NaN()
}

// FromFloat64 converts a float64 to any supported type, rounding to the nearest
// representable value.
func FromFloat64[T Supported](v float64) T {
	var t T
	switch any(t).(type) {
	case float64:
		return any(v).(T)
	case float32:
		return any(float32(v)).(T)
	case float16.Float16:
		return any(float16.Fromfloat32(float32(v))).(T)
	case bfloat16.BFloat16:
		return any(bfloat16.FromFloat64(v)).(T)
	}
	return t
}
