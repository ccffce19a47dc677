// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

// DType enumerates the element types a tensor can hold.
//
// Only floating point types are supported: every building block in this module is a
// floating point computation, and integer inputs (e.g. time-step indices) are converted
// by the caller.
type DType int32

const (
	// InvalidDType is the zero value, used to flag uninitialized shapes.
	InvalidDType DType = 0

	// Float16 is the IEEE 754 half precision format (github.com/x448/float16).
	Float16 DType = 10

	// Float32 is the IEEE 754 single precision format.
	Float32 DType = 11

	// Float64 is the IEEE 754 double precision format.
	Float64 DType = 12

	// BFloat16 is the truncated 16 bits "brain float" format: 1 sign bit, 8 bits for the exponent
	// and 7 bits for the mantissa.
	BFloat16 DType = 16
)

// Aliases.
const (
	F16  = Float16
	F32  = Float32
	F64  = Float64
	BF16 = BFloat16
)

// MapOfNames maps names (and lower-case aliases, added in init) to DType.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"Float16":      Float16,
	"F16":          Float16,
	"Float32":      Float32,
	"F32":          Float32,
	"Float64":      Float64,
	"F64":          Float64,
	"BFloat16":     BFloat16,
	"BF16":         BFloat16,
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	switch dtype {
	case InvalidDType:
		return "InvalidDType"
	case Float16:
		return "Float16"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case BFloat16:
		return "BFloat16"
	default:
		return "DType(?)"
	}
}
