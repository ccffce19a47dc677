// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapeinference calculates the shape resulting from operations and validates its inputs.
//
// It is shared by the backends to validate their operands and plan their output buffers. All errors
// returned wrap backends.ErrShapeMismatch.
//
// It defines a BinaryOp function for shape inference for the element-wise binary operations, using
// broadcasting of axes with dimension 1.
package shapeinference

import (
	"slices"

	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/pkg/errors"
)

func mismatchf(format string, args ...any) error {
	return errors.Wrapf(backends.ErrShapeMismatch, format, args...)
}

// checkOperand checks that the shape is valid and of a supported dtype.
func checkOperand(opType backends.OpType, name string, shape shapes.Shape) error {
	if !shape.Ok() || !shape.DType.IsSupported() {
		return mismatchf("invalid shape %s for %s operand %q", shape, opType, name)
	}
	return nil
}

// checkSameDType checks that all shapes have the same dtype as the first.
func checkSameDType(opType backends.OpType, first shapes.Shape, others ...shapes.Shape) error {
	for _, other := range others {
		if other.DType != first.DType {
			return mismatchf("data types (DType) for %s must match, got %s and %s", opType, first, other)
		}
	}
	return nil
}

// NormalizeAxis converts a negative axis to its positive counterpart, and checks it is in range for the rank.
func NormalizeAxis(opType backends.OpType, shape shapes.Shape, axis int) (int, error) {
	adjusted := axis
	if adjusted < 0 {
		adjusted += shape.Rank()
	}
	if adjusted < 0 || adjusted >= shape.Rank() {
		return 0, mismatchf("axis %d out of range for %s of operand %s", axis, opType, shape)
	}
	return adjusted, nil
}

// BinaryOp returns the expected output shape for element-wise binary operations (Add, Mul), where the
// operands have the same rank and axes of dimension 1 are broadcast.
func BinaryOp(opType backends.OpType, lhsShape, rhsShape shapes.Shape) (output shapes.Shape, err error) {
	if err = checkOperand(opType, "lhs", lhsShape); err != nil {
		return
	}
	if err = checkOperand(opType, "rhs", rhsShape); err != nil {
		return
	}
	if err = checkSameDType(opType, lhsShape, rhsShape); err != nil {
		return
	}
	if lhsShape.Rank() != rhsShape.Rank() {
		err = mismatchf("operands rank must match for %s, got shapes %s and %s", opType, lhsShape, rhsShape)
		return
	}
	output = lhsShape.Clone()
	for axis := range output.Rank() {
		lhsDim := lhsShape.Dimensions[axis]
		rhsDim := rhsShape.Dimensions[axis]
		if lhsDim != 1 && rhsDim != 1 && lhsDim != rhsDim {
			err = mismatchf("dimension of axis #%d doesn't match and cannot be broadcast for %s, got shapes %s and %s",
				axis, opType, lhsShape, rhsShape)
			return shapes.Invalid(), err
		}
		output.Dimensions[axis] = max(lhsDim, rhsDim)
	}
	return
}

// TransposeOp all axes of the operand.
// There must be one value in permutations for each axis in the operand.
// The output will have: output.Shape.Dimension[ii] = operand.Shape.Dimension[permutations[i]].
func TransposeOp(operand shapes.Shape, permutations []int) (output shapes.Shape, err error) {
	if err = checkOperand(backends.OpTypeTranspose, "x", operand); err != nil {
		return
	}
	rank := operand.Rank()
	if len(permutations) != rank {
		err = mismatchf("Transpose() requires all axes permutations to be defined, operand has shape %s, but %d permutations were given",
			operand, len(permutations))
		return
	}

	// Check permutation axes are within range and unique.
	axesSet := slices.Clone(permutations)
	slices.Sort(axesSet)
	for ii, srcAxis := range axesSet {
		if srcAxis < 0 || srcAxis >= rank {
			err = mismatchf("invalid permutation axis %d given to Transpose(%s), it must be within the range of its rank",
				srcAxis, operand)
			return
		}
		if ii > 0 && srcAxis == axesSet[ii-1] {
			err = mismatchf("invalid permutations given to Transpose(%s, %v), there cannot be any repeated axis, each must appear exactly once",
				operand, permutations)
			return
		}
	}

	output = operand.Clone()
	for axis := range output.Dimensions {
		srcAxis := permutations[axis]
		output.Dimensions[axis] = operand.Dimensions[srcAxis]
	}
	return
}

// LinearOp validates x [..., in], weight [out, in] and optional bias [out], and returns the output shape [..., out].
// A bias shape is only checked if it is valid (use shapes.Invalid() for no bias).
func LinearOp(x, weight, bias shapes.Shape) (output shapes.Shape, err error) {
	op := backends.OpTypeLinear
	if err = checkOperand(op, "x", x); err != nil {
		return
	}
	if err = checkOperand(op, "weight", weight); err != nil {
		return
	}
	if err = checkSameDType(op, x, weight); err != nil {
		return
	}
	if x.Rank() < 1 || weight.Rank() != 2 {
		err = mismatchf("Linear requires x with rank >= 1 and a rank-2 weight, got x=%s, weight=%s", x, weight)
		return
	}
	outFeatures, inFeatures := weight.Dimensions[0], weight.Dimensions[1]
	if x.Dim(-1) != inFeatures {
		err = mismatchf("Linear: x features %d don't match weight input features %d (x=%s, weight=%s)",
			x.Dim(-1), inFeatures, x, weight)
		return
	}
	if bias.Ok() {
		if err = checkSameDType(op, x, bias); err != nil {
			return
		}
		if err = bias.CheckDims(outFeatures); err != nil {
			err = mismatchf("Linear: bias must be shaped [%d]: %v", outFeatures, err)
			return
		}
	}
	output = x.Clone()
	output.Dimensions[x.Rank()-1] = outFeatures
	return
}

// MatMulOp validates the operands of a batched matrix multiplication, and returns the output shape.
// See backends.PrimitiveOps.MatMul.
func MatMulOp(lhs, rhs shapes.Shape, transposeRHS bool) (output shapes.Shape, err error) {
	op := backends.OpTypeMatMul
	if err = checkOperand(op, "lhs", lhs); err != nil {
		return
	}
	if err = checkOperand(op, "rhs", rhs); err != nil {
		return
	}
	if err = checkSameDType(op, lhs, rhs); err != nil {
		return
	}
	rank := lhs.Rank()
	if rank < 2 || rhs.Rank() != rank {
		err = mismatchf("MatMul requires operands of the same rank >= 2, got %s and %s", lhs, rhs)
		return
	}
	if !slices.Equal(lhs.Dimensions[:rank-2], rhs.Dimensions[:rank-2]) {
		err = mismatchf("MatMul batch axes don't match: %s and %s", lhs, rhs)
		return
	}
	m, k := lhs.Dim(-2), lhs.Dim(-1)
	rhsK, n := rhs.Dim(-2), rhs.Dim(-1)
	if transposeRHS {
		rhsK, n = n, rhsK
	}
	if k != rhsK {
		err = mismatchf("MatMul contracting dimensions don't match: %s and %s (transposeRHS=%v)", lhs, rhs, transposeRHS)
		return
	}
	output = lhs.Clone()
	output.Dimensions[rank-2] = m
	output.Dimensions[rank-1] = n
	return
}

// Conv2DOp validates the operands of a 2D convolution with stride 1, and returns the output shape.
// See backends.PrimitiveOps.Conv2D.
func Conv2DOp(x, kernel, bias shapes.Shape, padding int) (output shapes.Shape, err error) {
	op := backends.OpTypeConv2D
	if err = checkOperand(op, "x", x); err != nil {
		return
	}
	if err = checkOperand(op, "kernel", kernel); err != nil {
		return
	}
	if err = checkSameDType(op, x, kernel); err != nil {
		return
	}
	if x.Rank() != 4 || kernel.Rank() != 4 {
		err = mismatchf("Conv2D requires x [batch, channels, height, width] and kernel [out, in, kh, kw], got x=%s, kernel=%s",
			x, kernel)
		return
	}
	if padding < 0 {
		err = mismatchf("Conv2D padding must be >= 0, got %d", padding)
		return
	}
	outChannels, inChannels := kernel.Dimensions[0], kernel.Dimensions[1]
	if x.Dimensions[1] != inChannels {
		err = mismatchf("Conv2D: x has %d channels, kernel expects %d (x=%s, kernel=%s)", x.Dimensions[1], inChannels, x, kernel)
		return
	}
	outH := x.Dimensions[2] + 2*padding - kernel.Dimensions[2] + 1
	outW := x.Dimensions[3] + 2*padding - kernel.Dimensions[3] + 1
	if outH <= 0 || outW <= 0 {
		err = mismatchf("Conv2D: kernel %s larger than padded input %s (padding=%d)", kernel, x, padding)
		return
	}
	if bias.Ok() {
		if err = checkSameDType(op, x, bias); err != nil {
			return
		}
		if err = bias.CheckDims(outChannels); err != nil {
			err = mismatchf("Conv2D: bias must be shaped [%d]: %v", outChannels, err)
			return
		}
	}
	output = shapes.Make(x.DType, x.Dimensions[0], outChannels, outH, outW)
	return
}

// GroupNormOp validates the operands of a group normalization, and returns the output shape (the same as x).
func GroupNormOp(x, gamma, beta shapes.Shape, numGroups int) (output shapes.Shape, err error) {
	op := backends.OpTypeGroupNorm
	if err = checkOperand(op, "x", x); err != nil {
		return
	}
	if x.Rank() < 2 {
		err = mismatchf("GroupNorm requires x shaped [batch, channels, spatial...], got %s", x)
		return
	}
	channels := x.Dimensions[1]
	if numGroups <= 0 || channels%numGroups != 0 {
		err = mismatchf("GroupNorm: %d channels (x=%s) not divisible in %d groups", channels, x, numGroups)
		return
	}
	for _, param := range []shapes.Shape{gamma, beta} {
		if !param.Ok() {
			continue
		}
		if err = checkSameDType(op, x, param); err != nil {
			return
		}
		if err = param.CheckDims(channels); err != nil {
			err = mismatchf("GroupNorm: gamma/beta must be shaped [%d]: %v", channels, err)
			return
		}
	}
	return x.Clone(), nil
}

// SplitOp validates the split of operand in numParts along the axis, and returns the shape of each part.
func SplitOp(operand shapes.Shape, axis, numParts int) (output shapes.Shape, err error) {
	op := backends.OpTypeSplit
	if err = checkOperand(op, "x", operand); err != nil {
		return
	}
	if axis, err = NormalizeAxis(op, operand, axis); err != nil {
		return
	}
	if numParts <= 0 || operand.Dimensions[axis]%numParts != 0 {
		err = mismatchf("Split: axis %d of %s cannot be split in %d parts", axis, operand, numParts)
		return
	}
	output = operand.Clone()
	output.Dimensions[axis] /= numParts
	return
}

// ScaledDotProductAttentionOp validates the operands of a (fused) scaled dot-product attention, and returns
// the output shape (the same as query). See backends.FusedAttention.
func ScaledDotProductAttentionOp(query, key, value, bias shapes.Shape) (output shapes.Shape, err error) {
	op := backends.OpTypeFusedScaledDotProductAttention
	for _, operand := range []struct {
		name  string
		shape shapes.Shape
	}{{"query", query}, {"key", key}, {"value", value}} {
		if err = checkOperand(op, operand.name, operand.shape); err != nil {
			return
		}
		if operand.shape.Rank() != 4 {
			err = mismatchf("%s: %s must be shaped [batch, heads, seqLen, headDim], got %s", op, operand.name, operand.shape)
			return
		}
	}
	if err = checkSameDType(op, query, key, value); err != nil {
		return
	}
	if !key.Equal(value) {
		err = mismatchf("%s: key %s and value %s must have the same shape", op, key, value)
		return
	}
	if query.Dim(0) != key.Dim(0) || query.Dim(1) != key.Dim(1) || query.Dim(3) != key.Dim(3) {
		err = mismatchf("%s: query %s and key %s must match on batch, heads and headDim axes", op, query, key)
		return
	}
	if bias.Ok() {
		if err = checkSameDType(op, query, bias); err != nil {
			return
		}
		scores := shapes.Make(query.DType, query.Dim(0), query.Dim(1), query.Dim(2), key.Dim(2))
		if err = CheckBroadcastable(op, bias, scores); err != nil {
			return
		}
	}
	return query.Clone(), nil
}

// CheckBroadcastable checks that operand can be broadcast to target: same rank, and each axis either
// matches or has dimension 1.
func CheckBroadcastable(opType backends.OpType, operand, target shapes.Shape) error {
	if operand.Rank() != target.Rank() {
		return mismatchf("%s: %s cannot be broadcast to %s, ranks differ", opType, operand, target)
	}
	for axis, dim := range operand.Dimensions {
		if dim != 1 && dim != target.Dimensions[axis] {
			return mismatchf("%s: %s cannot be broadcast to %s, axis %d doesn't match", opType, operand, target, axis)
		}
	}
	return nil
}
