// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// OpType is an enum of all generic operations that can be supported by a Backend.
type OpType int

const (
	OpTypeInvalid OpType = iota
	OpTypeLinear
	OpTypeMatMul
	OpTypeConv2D
	OpTypeGroupNorm
	OpTypeGelu
	OpTypeSoftmax
	OpTypeAdd
	OpTypeMul
	OpTypeInPlaceMul
	OpTypeScale
	OpTypeTranspose
	OpTypeSplit

	// OpTypeFusedScaledDotProductAttention is provided by FusedAttention implementations, not by Backend.
	OpTypeFusedScaledDotProductAttention

	// OpTypeLast should always be kept the last, it is used as a counter/marker for OpType.
	OpTypeLast
)

var opTypeNames = [...]string{
	OpTypeInvalid:                        "Invalid",
	OpTypeLinear:                         "Linear",
	OpTypeMatMul:                         "MatMul",
	OpTypeConv2D:                         "Conv2D",
	OpTypeGroupNorm:                      "GroupNorm",
	OpTypeGelu:                           "Gelu",
	OpTypeSoftmax:                        "Softmax",
	OpTypeAdd:                            "Add",
	OpTypeMul:                            "Mul",
	OpTypeInPlaceMul:                     "InPlaceMul",
	OpTypeScale:                          "Scale",
	OpTypeTranspose:                      "Transpose",
	OpTypeSplit:                          "Split",
	OpTypeFusedScaledDotProductAttention: "FusedScaledDotProductAttention",
}

// String implements fmt.Stringer.
func (op OpType) String() string {
	if op < 0 || op >= OpTypeLast {
		return "OpType(?)"
	}
	return opTypeNames[op]
}
