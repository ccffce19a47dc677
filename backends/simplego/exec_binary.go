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

// Add implements backends.PrimitiveOps.
func (b *Backend) Add(lhs, rhs *tensors.Tensor) (*tensors.Tensor, error) {
	return b.binaryOp(backends.OpTypeAdd, lhs, rhs)
}

// Mul implements backends.PrimitiveOps.
func (b *Backend) Mul(lhs, rhs *tensors.Tensor) (*tensors.Tensor, error) {
	return b.binaryOp(backends.OpTypeMul, lhs, rhs)
}

func (b *Backend) binaryOp(op backends.OpType, lhs, rhs *tensors.Tensor) (*tensors.Tensor, error) {
	outputShape, err := shapeinference.BinaryOp(op, shapeOf(lhs), shapeOf(rhs))
	if err != nil {
		return nil, err
	}
	dtype, err := checkDType(op, lhs)
	if err != nil {
		return nil, err
	}
	return tryOp(op, func() (*tensors.Tensor, error) {
		switch dtype {
		case dtypes.Float32:
			return binary[float32](op, lhs, rhs, outputShape)
		default:
			return binary[float64](op, lhs, rhs, outputShape)
		}
	})
}

func binaryFn[T dtypes.GoFloat](op backends.OpType) func(a, b T) T {
	if op == backends.OpTypeMul {
		return func(a, b T) T { return a * b }
	}
	return func(a, b T) T { return a + b }
}

func binary[T dtypes.GoFloat](op backends.OpType, lhs, rhs *tensors.Tensor, outputShape shapes.Shape) (*tensors.Tensor, error) {
	lhsFlat := tensors.ToCompute[T](lhs)
	rhsFlat := tensors.ToCompute[T](rhs)
	fn := binaryFn[T](op)

	// Fast path: same shapes.
	if lhs.Shape().Equal(rhs.Shape()) {
		for i, v := range lhsFlat {
			lhsFlat[i] = fn(v, rhsFlat[i])
		}
		return tensors.FromCompute(lhs.DType(), lhs.Device(), lhsFlat, outputShape.Dimensions...)
	}

	// Broadcasting: axes of dimension 1 get stride 0.
	rank := outputShape.Rank()
	lhsStrides := broadcastStrides(lhs.Shape())
	rhsStrides := broadcastStrides(rhs.Shape())
	output := make([]T, outputShape.Size())
	counter := make([]int, rank)
	var lhsIdx, rhsIdx int
	for outIdx := range output {
		output[outIdx] = fn(lhsFlat[lhsIdx], rhsFlat[rhsIdx])
		// Increment the multi-dimensional counter, from the last axis.
		for axis := rank - 1; axis >= 0; axis-- {
			counter[axis]++
			lhsIdx += lhsStrides[axis]
			rhsIdx += rhsStrides[axis]
			if counter[axis] < outputShape.Dimensions[axis] {
				break
			}
			lhsIdx -= lhsStrides[axis] * counter[axis]
			rhsIdx -= rhsStrides[axis] * counter[axis]
			counter[axis] = 0
		}
	}
	return tensors.FromCompute(lhs.DType(), lhs.Device(), output, outputShape.Dimensions...)
}

// broadcastStrides returns the row-major strides of the shape, with 0 for axes of dimension 1.
func broadcastStrides(shape shapes.Shape) []int {
	strides := shape.Strides()
	for axis, dim := range shape.Dimensions {
		if dim == 1 {
			strides[axis] = 0
		}
	}
	return strides
}

// InPlaceMul implements backends.PrimitiveOps. dst contents are replaced by dst·other.
func (b *Backend) InPlaceMul(dst, other *tensors.Tensor) error {
	op := backends.OpTypeInPlaceMul
	if _, err := checkOperand(op, dst); err != nil {
		return err
	}
	if !other.Ok() || !dst.Shape().Equal(other.Shape()) {
		return errors.Wrapf(backends.ErrShapeMismatch, "%s: dst %s and other %s must have the same shape", op, dst.Shape(), shapeOf(other))
	}
	switch dst.DType() {
	case dtypes.Float32:
		return inPlaceMul[float32](dst, other)
	case dtypes.Float64:
		return inPlaceMul[float64](dst, other)
	case dtypes.Float16:
		return inPlaceMul[float16.Float16](dst, other)
	default:
		return inPlaceMul[bfloat16.BFloat16](dst, other)
	}
}

func inPlaceMul[T dtypes.Supported](dst, other *tensors.Tensor) error {
	return tensors.ConstFlatData(other, func(otherFlat []T) {
		tensors.MustMutableFlatData(dst, func(dstFlat []T) {
			switch d := any(dstFlat).(type) {
			case []float32:
				o := any(otherFlat).([]float32)
				for i := range d {
					d[i] *= o[i]
				}
			case []float64:
				o := any(otherFlat).([]float64)
				for i := range d {
					d[i] *= o[i]
				}
			default:
				for i, v := range dstFlat {
					dstFlat[i] = dtypes.FromFloat64[T](dtypes.ToFloat64(v) * dtypes.ToFloat64(otherFlat[i]))
				}
			}
		})
	})
}
