// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/backends/shapeinference"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Transpose and Split only move data around, so they work on the storage type directly, without
// promoting half precision values.

// Transpose implements backends.PrimitiveOps.
func (b *Backend) Transpose(x *tensors.Tensor, permutation ...int) (*tensors.Tensor, error) {
	op := backends.OpTypeTranspose
	outputShape, err := shapeinference.TransposeOp(shapeOf(x), permutation)
	if err != nil {
		return nil, err
	}
	if _, err = checkDType(op, x); err != nil {
		return nil, err
	}
	return tryOp(op, func() (*tensors.Tensor, error) {
		var flat any
		switch xFlat := x.Flat().(type) {
		case []float32:
			flat = transpose(xFlat, x.Shape(), outputShape, permutation)
		case []float64:
			flat = transpose(xFlat, x.Shape(), outputShape, permutation)
		case []float16.Float16:
			flat = transpose(xFlat, x.Shape(), outputShape, permutation)
		case []bfloat16.BFloat16:
			flat = transpose(xFlat, x.Shape(), outputShape, permutation)
		default:
			return nil, errors.Errorf("Transpose: unexpected flat type %T", xFlat)
		}
		return tensors.FromFlat(outputShape, x.Device(), flat)
	})
}

func transpose[T dtypes.Supported](input []T, inputShape, outputShape shapes.Shape, permutation []int) []T {
	output := make([]T, len(input))
	rank := inputShape.Rank()
	if rank == 0 {
		copy(output, input)
		return output
	}
	inputStrides := inputShape.Strides()
	// srcStrides[axis] is the input stride when moving along the output axis.
	srcStrides := make([]int, rank)
	for axis, srcAxis := range permutation {
		srcStrides[axis] = inputStrides[srcAxis]
	}
	counter := make([]int, rank)
	srcIdx := 0
	for outIdx := range output {
		output[outIdx] = input[srcIdx]
		for axis := rank - 1; axis >= 0; axis-- {
			counter[axis]++
			srcIdx += srcStrides[axis]
			if counter[axis] < outputShape.Dimensions[axis] {
				break
			}
			srcIdx -= srcStrides[axis] * counter[axis]
			counter[axis] = 0
		}
	}
	return output
}

// Split implements backends.PrimitiveOps.
func (b *Backend) Split(x *tensors.Tensor, axis, numParts int) ([]*tensors.Tensor, error) {
	op := backends.OpTypeSplit
	partShape, err := shapeinference.SplitOp(shapeOf(x), axis, numParts)
	if err != nil {
		return nil, err
	}
	if _, err = checkDType(op, x); err != nil {
		return nil, err
	}
	axis, _ = shapeinference.NormalizeAxis(op, x.Shape(), axis)
	var flats []any
	switch xFlat := x.Flat().(type) {
	case []float32:
		flats = split(xFlat, x.Shape(), axis, numParts)
	case []float64:
		flats = split(xFlat, x.Shape(), axis, numParts)
	case []float16.Float16:
		flats = split(xFlat, x.Shape(), axis, numParts)
	case []bfloat16.BFloat16:
		flats = split(xFlat, x.Shape(), axis, numParts)
	default:
		return nil, errors.Errorf("Split: unexpected flat type %T", xFlat)
	}
	parts := make([]*tensors.Tensor, numParts)
	for ii, flat := range flats {
		parts[ii], err = tensors.FromFlat(partShape, x.Device(), flat)
		if err != nil {
			return nil, err
		}
	}
	return parts, nil
}

func split[T dtypes.Supported](input []T, shape shapes.Shape, axis, numParts int) []any {
	outerSize, axisSize, innerSize := computeAxisStrides(shape, axis)
	partBlock := axisSize / numParts * innerSize
	parts := make([]any, numParts)
	for p := range numParts {
		part := make([]T, 0, outerSize*partBlock)
		for outer := range outerSize {
			start := outer*axisSize*innerSize + p*partBlock
			part = append(part, input[start:start+partBlock]...)
		}
		parts[p] = part
	}
	return parts
}
