// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/backends/shapeinference"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/tensors"
)

// GroupNorm implements backends.PrimitiveOps.
// For each example and group: y = (x - mean) / sqrt(var + epsilon) * gamma + beta,
// with mean and (biased) variance taken over the group's channels and all spatial positions.
func (b *Backend) GroupNorm(x, gamma, beta *tensors.Tensor, numGroups int, epsilon float64) (*tensors.Tensor, error) {
	op := backends.OpTypeGroupNorm
	if _, err := shapeinference.GroupNormOp(shapeOf(x), shapeOf(gamma), shapeOf(beta), numGroups); err != nil {
		return nil, err
	}
	dtype, err := checkDType(op, x)
	if err != nil {
		return nil, err
	}
	return tryOp(op, func() (*tensors.Tensor, error) {
		switch dtype {
		case dtypes.Float32:
			return groupNorm[float32](b, x, gamma, beta, numGroups, epsilon)
		default:
			return groupNorm[float64](b, x, gamma, beta, numGroups, epsilon)
		}
	})
}

func groupNorm[T dtypes.GoFloat](b *Backend, x, gamma, beta *tensors.Tensor, numGroups int, epsilon float64) (*tensors.Tensor, error) {
	batchSize, channels := x.Dim(0), x.Dim(1)
	spatialSize := x.Size() / (batchSize * channels)
	channelsPerGroup := channels / numGroups
	groupSize := channelsPerGroup * spatialSize
	data := tensors.ToCompute[T](x)
	var gammaFlat, betaFlat []T
	if gamma != nil {
		gammaFlat = tensors.ToCompute[T](gamma)
	}
	if beta != nil {
		betaFlat = tensors.ToCompute[T](beta)
	}

	// Groups are contiguous in the [batch, channels, spatial...] layout.
	b.workers.ParallelFor(batchSize*numGroups, 1, func(groupIdx int) {
		group := data[groupIdx*groupSize : (groupIdx+1)*groupSize]
		var sum float64
		for _, v := range group {
			sum += float64(v)
		}
		mean := sum / float64(groupSize)
		var sumSq float64
		for _, v := range group {
			d := float64(v) - mean
			sumSq += d * d
		}
		invStd := 1.0 / math.Sqrt(sumSq/float64(groupSize)+epsilon)
		firstChannel := (groupIdx % numGroups) * channelsPerGroup
		for c := range channelsPerGroup {
			scale, offset := invStd, 0.0
			if gammaFlat != nil {
				scale *= float64(gammaFlat[firstChannel+c])
			}
			if betaFlat != nil {
				offset = float64(betaFlat[firstChannel+c])
			}
			values := group[c*spatialSize : (c+1)*spatialSize]
			for i, v := range values {
				values[i] = T((float64(v)-mean)*scale + offset)
			}
		}
	})
	return tensors.FromCompute(x.DType(), x.Device(), data, x.Shape().Dimensions...)
}
