// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/backends/shapeinference"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/pkg/errors"
)

// minParallelizeChunk is the minimum number of elements to parallelize over.
const minParallelizeChunk = 4096

func checkOperand(op backends.OpType, x *tensors.Tensor) (dtypes.DType, error) {
	if !x.Ok() {
		return dtypes.InvalidDType, errors.Wrapf(backends.ErrShapeMismatch, "%s: invalid operand", op)
	}
	return checkDType(op, x)
}

// Gelu implements backends.PrimitiveOps: x * 0.5 * (1 + erf(x / sqrt(2)))
func (b *Backend) Gelu(x *tensors.Tensor) (*tensors.Tensor, error) {
	op := backends.OpTypeGelu
	dtype, err := checkOperand(op, x)
	if err != nil {
		return nil, err
	}
	return tryOp(op, func() (*tensors.Tensor, error) {
		switch dtype {
		case dtypes.Float32:
			return gelu[float32](b, x)
		default:
			return gelu[float64](b, x)
		}
	})
}

func gelu[T dtypes.GoFloat](b *Backend, x *tensors.Tensor) (*tensors.Tensor, error) {
	data := tensors.ToCompute[T](x)
	numChunks := (len(data) + minParallelizeChunk - 1) / minParallelizeChunk
	b.workers.ParallelFor(numChunks, 1, func(chunk int) {
		start := chunk * minParallelizeChunk
		geluChunk(data[start:min(start+minParallelizeChunk, len(data))])
	})
	return tensors.FromCompute(x.DType(), x.Device(), data, x.Shape().Dimensions...)
}

func geluChunk[T dtypes.GoFloat](values []T) {
	sqrt2Inv := 1.0 / math.Sqrt(2.0)
	for i, x := range values {
		values[i] = T(float64(x) * 0.5 * (1.0 + math.Erf(float64(x)*sqrt2Inv)))
	}
}

// Softmax implements backends.PrimitiveOps.
// Three passes over the axis: find max, compute exp(x-max) and sum, then normalize.
func (b *Backend) Softmax(x *tensors.Tensor, axis int) (*tensors.Tensor, error) {
	op := backends.OpTypeSoftmax
	dtype, err := checkOperand(op, x)
	if err != nil {
		return nil, err
	}
	axis, err = shapeinference.NormalizeAxis(op, x.Shape(), axis)
	if err != nil {
		return nil, err
	}
	return tryOp(op, func() (*tensors.Tensor, error) {
		switch dtype {
		case dtypes.Float32:
			data := tensors.ToCompute[float32](x)
			softmax(data, axis, x.Shape())
			return tensors.FromCompute(x.DType(), x.Device(), data, x.Shape().Dimensions...)
		default:
			data := tensors.ToCompute[float64](x)
			softmax(data, axis, x.Shape())
			return tensors.FromCompute(x.DType(), x.Device(), data, x.Shape().Dimensions...)
		}
	})
}

// computeAxisStrides returns the outer size, axis size, and inner size for iterating
// over an axis of the given shape.
func computeAxisStrides(shape shapes.Shape, axis int) (outerSize, axisSize, innerSize int) {
	dims := shape.Dimensions
	outerSize = 1
	for i := range axis {
		outerSize *= dims[i]
	}
	axisSize = dims[axis]
	innerSize = 1
	for i := axis + 1; i < len(dims); i++ {
		innerSize *= dims[i]
	}
	return
}

// softmax normalizes data in place along the axis.
func softmax[T dtypes.GoFloat](data []T, axis int, shape shapes.Shape) {
	outerSize, axisSize, innerSize := computeAxisStrides(shape, axis)
	for outer := range outerSize {
		for inner := range innerSize {
			baseIdx := outer*axisSize*innerSize + inner

			// Pass 1: Find max.
			maxVal := T(math.Inf(-1))
			for i := range axisSize {
				idx := baseIdx + i*innerSize
				if data[idx] > maxVal {
					maxVal = data[idx]
				}
			}

			// Pass 2: Exp and sum.
			var sum T
			for i := range axisSize {
				idx := baseIdx + i*innerSize
				data[idx] = T(math.Exp(float64(data[idx] - maxVal)))
				sum += data[idx]
			}

			// Pass 3: Normalize.
			invSum := 1.0 / sum
			for i := range axisSize {
				idx := baseIdx + i*innerSize
				data[idx] *= invSum
			}
		}
	}
}

// Scale implements backends.PrimitiveOps.
func (b *Backend) Scale(x *tensors.Tensor, scale float64) (*tensors.Tensor, error) {
	op := backends.OpTypeScale
	dtype, err := checkOperand(op, x)
	if err != nil {
		return nil, err
	}
	return tryOp(op, func() (*tensors.Tensor, error) {
		switch dtype {
		case dtypes.Float32:
			return scaleOp(x, float32(scale))
		default:
			return scaleOp(x, scale)
		}
	})
}

func scaleOp[T dtypes.GoFloat](x *tensors.Tensor, scale T) (*tensors.Tensor, error) {
	data := tensors.ToCompute[T](x)
	for i := range data {
		data[i] *= scale
	}
	return tensors.FromCompute(x.DType(), x.Device(), data, x.Shape().Dimensions...)
}
