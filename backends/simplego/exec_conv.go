// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/backends/shapeinference"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/gomlx/ldm/pkg/core/tensors"
)

// Conv2D implements backends.PrimitiveOps.
//
// The convolution is computed per example as a matrix multiplication of the kernel [out, in·kh·kw]
// with the "im2col" expansion of the input [in·kh·kw, outH·outW]. 1x1 convolutions without
// padding skip the expansion.
func (b *Backend) Conv2D(x, kernel, bias *tensors.Tensor, padding int) (*tensors.Tensor, error) {
	op := backends.OpTypeConv2D
	outputShape, err := shapeinference.Conv2DOp(shapeOf(x), shapeOf(kernel), shapeOf(bias), padding)
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
			return conv2D[float32](b, x, kernel, bias, padding, outputShape)
		default:
			return conv2D[float64](b, x, kernel, bias, padding, outputShape)
		}
	})
}

func conv2D[T dtypes.GoFloat](b *Backend, x, kernel, bias *tensors.Tensor, padding int, outputShape shapes.Shape) (*tensors.Tensor, error) {
	batchSize, inChannels, height, width := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	outChannels, kh, kw := kernel.Dim(0), kernel.Dim(2), kernel.Dim(3)
	outH, outW := outputShape.Dim(2), outputShape.Dim(3)
	xFlat := tensors.ToCompute[T](x)
	kFlat := tensors.ToCompute[T](kernel)
	var biasFlat []T
	if bias != nil {
		biasFlat = tensors.ToCompute[T](bias)
	}

	inSize := inChannels * height * width
	outSize := outChannels * outH * outW
	colRows := inChannels * kh * kw
	colCols := outH * outW
	isPointwise := kh == 1 && kw == 1 && padding == 0
	output := make([]T, batchSize*outSize)
	b.workers.ParallelFor(batchSize, 1, func(batchIdx int) {
		input := xFlat[batchIdx*inSize : (batchIdx+1)*inSize]
		col := input
		if !isPointwise {
			col = im2col(input, inChannels, height, width, kh, kw, padding, outH, outW)
		}
		out := output[batchIdx*outSize : (batchIdx+1)*outSize]
		gemm(false, false, outChannels, colCols, colRows, kFlat, col, 0, out)
		if biasFlat != nil {
			for c, biasValue := range biasFlat {
				row := out[c*colCols : (c+1)*colCols]
				for i := range row {
					row[i] += biasValue
				}
			}
		}
	})
	return tensors.FromCompute(x.DType(), x.Device(), output, outputShape.Dimensions...)
}

// im2col expands input [channels, height, width] into [channels·kh·kw, outH·outW], with zero padding.
func im2col[T dtypes.GoFloat](input []T, channels, height, width, kh, kw, padding, outH, outW int) []T {
	col := make([]T, channels*kh*kw*outH*outW)
	colIdx := 0
	for c := range channels {
		for ky := range kh {
			for kx := range kw {
				for oy := range outH {
					y := oy + ky - padding
					for ox := range outW {
						xPos := ox + kx - padding
						if y >= 0 && y < height && xPos >= 0 && xPos < width {
							col[colIdx] = input[(c*height+y)*width+xPos]
						}
						colIdx++
					}
				}
			}
		}
	}
	return col
}
