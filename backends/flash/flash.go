// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package flash implements a fused scaled dot-product attention that streams over blocks of keys with
// an "online softmax": it keeps a running maximum and sum per query row, and never materializes the
// full [querySeqLen, keySeqLen] scores matrix.
//
// Importing the package registers it as a backends.FusedAttention named "flash":
//
//	import _ "github.com/gomlx/ldm/backends/flash"
//
// Float32 and Float64 are supported. The Float16 and BFloat16 call paths are declared but not
// integrated yet: they return an error wrapping backends.ErrNotImplemented.
package flash

import (
	"math"
	"runtime"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/backends/shapeinference"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Name of the fused attention implementation, to be used in LDM_FUSED_ATTENTION.
const Name = "flash"

// DefaultBlockSize is the default number of keys processed per block.
const DefaultBlockSize = 64

func init() {
	backends.RegisterFusedAttention(Name, func() (backends.FusedAttention, error) {
		return New(DefaultBlockSize)
	})
}

// Attention implements backends.FusedAttention.
type Attention struct {
	blockSize      int
	maxParallelism int
}

var _ backends.FusedAttention = (*Attention)(nil)

// New creates a fused attention that processes blockSize keys at a time.
func New(blockSize int) (*Attention, error) {
	if blockSize <= 0 {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "flash: block size must be > 0, got %d", blockSize)
	}
	return &Attention{blockSize: blockSize, maxParallelism: runtime.NumCPU()}, nil
}

// Name implements backends.FusedAttention.
func (a *Attention) Name() string { return Name }

// BlockSize returns the number of keys processed per block.
func (a *Attention) BlockSize() int { return a.blockSize }

// FusedScaledDotProductAttention implements backends.FusedAttention.
func (a *Attention) FusedScaledDotProductAttention(query, key, value, bias *tensors.Tensor, scale float64) (*tensors.Tensor, error) {
	biasShape := shapes.Invalid()
	if bias != nil {
		biasShape = bias.Shape()
	}
	for _, t := range []*tensors.Tensor{query, key, value} {
		if !t.Ok() {
			return nil, errors.Wrapf(backends.ErrShapeMismatch, "flash: query, key and value must be valid tensors")
		}
	}
	outputShape, err := shapeinference.ScaledDotProductAttentionOp(query.Shape(), key.Shape(), value.Shape(), biasShape)
	if err != nil {
		return nil, err
	}

	var output *tensors.Tensor
	panicErr := exceptions.TryCatch[error](func() {
		switch query.DType() {
		case dtypes.Float32:
			output, err = sdpa[float32](a, query, key, value, bias, scale, outputShape)
		case dtypes.Float64:
			output, err = sdpa[float64](a, query, key, value, bias, scale, outputShape)
		case dtypes.Float16, dtypes.BFloat16:
			err = errors.Wrapf(backends.ErrNotImplemented, "flash: %s attention is not integrated", query.DType())
		default:
			err = errors.Wrapf(backends.ErrNotImplemented, "flash: unsupported dtype %s", query.DType())
		}
	})
	if panicErr != nil {
		return nil, errors.WithMessage(panicErr, "flash: failed computing attention")
	}
	return output, err
}

// biasStrides returns the strides of each axis of a rank-4 bias. Axes of dimension 1 are broadcast (stride 0).
func biasStrides(dims []int) (strides [4]int) {
	stride := 1
	for axis := 3; axis >= 0; axis-- {
		if dims[axis] > 1 {
			strides[axis] = stride
		}
		stride *= dims[axis]
	}
	return
}

func sdpa[T dtypes.GoFloat](a *Attention, query, key, value, bias *tensors.Tensor, scale float64, outputShape shapes.Shape) (*tensors.Tensor, error) {
	q := tensors.ToCompute[T](query)
	k := tensors.ToCompute[T](key)
	v := tensors.ToCompute[T](value)
	var biasData []T
	var strides [4]int
	if bias != nil {
		biasData = tensors.ToCompute[T](bias)
		strides = biasStrides(bias.Shape().Dimensions)
	}

	batchSize, numHeads := query.Dim(0), query.Dim(1)
	querySeqLen, headDim := query.Dim(2), query.Dim(3)
	keySeqLen := key.Dim(2)
	headSize := querySeqLen * headDim
	kvHeadSize := keySeqLen * headDim
	output := make([]T, len(q))

	var g errgroup.Group
	g.SetLimit(a.maxParallelism)
	for batchIdx := range batchSize {
		for headIdx := range numHeads {
			g.Go(func() error {
				qOffset := (batchIdx*numHeads + headIdx) * headSize
				kvOffset := (batchIdx*numHeads + headIdx) * kvHeadSize
				head := headProblem[T]{
					q:         q[qOffset : qOffset+headSize],
					k:         k[kvOffset : kvOffset+kvHeadSize],
					v:         v[kvOffset : kvOffset+kvHeadSize],
					output:    output[qOffset : qOffset+headSize],
					keySeqLen: keySeqLen,
					headDim:   headDim,
					scale:     T(scale),
				}
				if biasData != nil {
					head.bias = biasData[batchIdx*strides[0]+headIdx*strides[1]:]
					head.biasQueryStride, head.biasKeyStride = strides[2], strides[3]
				}
				head.run(a.blockSize)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tensors.FromCompute(query.DType(), query.Device(), output, outputShape.Dimensions...)
}

// headProblem holds the slices for the attention of one (batch, head) pair.
//
// The bias of query i and key j is bias[i*biasQueryStride + j*biasKeyStride]: a stride of 0 broadcasts the axis.
type headProblem[T dtypes.GoFloat] struct {
	q, k, v, bias, output          []T
	keySeqLen, headDim             int
	biasQueryStride, biasKeyStride int
	scale                          T
}

// run computes the attention of each query row, one block of keys at a time:
//
//	new_max = max(running_max, max(block_scores))
//	correction = exp(running_max - new_max)
//	running_sum = correction * running_sum + sum(exp(block_scores - new_max))
//	acc = correction * acc + exp(block_scores - new_max) · block_values
//
// After all blocks: output = acc / running_sum.
func (p *headProblem[T]) run(blockSize int) {
	headDim := p.headDim
	scores := make([]T, min(blockSize, p.keySeqLen))
	acc := make([]T, headDim)
	negInf := T(math.Inf(-1))
	for i := range len(p.q) / headDim {
		qRow := p.q[i*headDim : (i+1)*headDim]
		runningMax, runningSum := negInf, T(0)
		clear(acc)
		for start := 0; start < p.keySeqLen; start += blockSize {
			end := min(start+blockSize, p.keySeqLen)
			block := scores[:end-start]
			blockMax := negInf
			for j := start; j < end; j++ {
				kRow := p.k[j*headDim : (j+1)*headDim]
				var dot T
				for d, qValue := range qRow {
					dot += qValue * kRow[d]
				}
				s := dot * p.scale
				if p.bias != nil {
					s += p.bias[i*p.biasQueryStride+j*p.biasKeyStride]
				}
				block[j-start] = s
				blockMax = max(blockMax, s)
			}
			newMax := max(runningMax, blockMax)
			if math.IsInf(float64(newMax), -1) {
				// Every key so far is masked out.
				continue
			}
			correction := T(math.Exp(float64(runningMax - newMax)))
			runningSum *= correction
			for d := range acc {
				acc[d] *= correction
			}
			for j, s := range block {
				weight := T(math.Exp(float64(s - newMax)))
				runningSum += weight
				vRow := p.v[(start+j)*headDim : (start+j+1)*headDim]
				for d, vValue := range vRow {
					acc[d] += weight * vValue
				}
			}
			runningMax = newMax
		}
		outRow := p.output[i*headDim : (i+1)*headDim]
		for d, value := range acc {
			outRow[d] = value / runningSum
		}
	}
}
