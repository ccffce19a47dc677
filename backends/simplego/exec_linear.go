// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/backends/shapeinference"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/gomlx/ldm/pkg/core/tensors"
)

// Linear implements backends.PrimitiveOps.
func (b *Backend) Linear(x, weight, bias *tensors.Tensor) (*tensors.Tensor, error) {
	op := backends.OpTypeLinear
	outputShape, err := shapeinference.LinearOp(shapeOf(x), shapeOf(weight), shapeOf(bias))
	if err != nil {
		return nil, err
	}
	dtype, err := checkDType(op, x)
	if err != nil {
		return nil, err
	}
	return tryOp(op, func() (*tensors.Tensor, error) {
		switch dtype {
		case dtypes.Float32:
			return linear[float32](x, weight, bias, outputShape)
		default:
			return linear[float64](x, weight, bias, outputShape)
		}
	})
}

func linear[T dtypes.GoFloat](x, weight, bias *tensors.Tensor, outputShape shapes.Shape) (*tensors.Tensor, error) {
	inFeatures := x.Dim(-1)
	outFeatures := weight.Dim(0)
	numRows := x.Size() / inFeatures
	xFlat := tensors.ToCompute[T](x)
	wFlat := tensors.ToCompute[T](weight)
	output := make([]T, numRows*outFeatures)
	gemm(false, true, numRows, outFeatures, inFeatures, xFlat, wFlat, 0, output)
	if bias != nil {
		addBias(output, tensors.ToCompute[T](bias))
	}
	return tensors.FromCompute(x.DType(), x.Device(), output, outputShape.Dimensions...)
}

// addBias adds bias to each row of output.
func addBias[T dtypes.GoFloat](output, bias []T) {
	n := len(bias)
	for i := range output {
		output[i] += bias[i%n]
	}
}

// MatMul implements backends.PrimitiveOps.
func (b *Backend) MatMul(lhs, rhs *tensors.Tensor, transposeRHS bool) (*tensors.Tensor, error) {
	op := backends.OpTypeMatMul
	outputShape, err := shapeinference.MatMulOp(shapeOf(lhs), shapeOf(rhs), transposeRHS)
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
			return matMul[float32](b, lhs, rhs, transposeRHS, outputShape)
		default:
			return matMul[float64](b, lhs, rhs, transposeRHS, outputShape)
		}
	})
}

func matMul[T dtypes.GoFloat](b *Backend, lhs, rhs *tensors.Tensor, transposeRHS bool, outputShape shapes.Shape) (*tensors.Tensor, error) {
	m, k := lhs.Dim(-2), lhs.Dim(-1)
	n := outputShape.Dim(-1)
	batchSize := lhs.Size() / (m * k)
	lhsFlat := tensors.ToCompute[T](lhs)
	rhsFlat := tensors.ToCompute[T](rhs)
	output := make([]T, batchSize*m*n)
	b.workers.ParallelFor(batchSize, 1, func(batchIdx int) {
		gemm(false, transposeRHS, m, n, k,
			lhsFlat[batchIdx*m*k:(batchIdx+1)*m*k],
			rhsFlat[batchIdx*k*n:(batchIdx+1)*k*n],
			0, output[batchIdx*m*n:(batchIdx+1)*m*n])
	})
	return tensors.FromCompute(lhs.DType(), lhs.Device(), output, outputShape.Dimensions...)
}
