// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package flash

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomTensor(rng *rand.Rand, dims ...int) *tensors.Tensor {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	values := make([]float64, size)
	for i := range values {
		values[i] = rng.NormFloat64()
	}
	return must.M1(tensors.FromCompute(dtypes.Float64, tensors.CPU, values, dims...))
}

// naiveAttention materializes the scores, with bias shaped [batch|1, heads|1, querySeqLen|1, keySeqLen|1].
func naiveAttention(q, k, v, bias *tensors.Tensor, scale float64) []float64 {
	batchSize, numHeads, qLen, headDim := q.Dim(0), q.Dim(1), q.Dim(2), q.Dim(3)
	kLen := k.Dim(2)
	qs, ks, vs := q.Float64s(), k.Float64s(), v.Float64s()
	var bs []float64
	if bias != nil {
		bs = bias.Float64s()
	}
	out := make([]float64, len(qs))
	for b := range batchSize {
		for h := range numHeads {
			qBase := (b*numHeads + h) * qLen * headDim
			kBase := (b*numHeads + h) * kLen * headDim
			for i := range qLen {
				scores := make([]float64, kLen)
				maxScore := math.Inf(-1)
				for j := range kLen {
					var dot float64
					for d := range headDim {
						dot += qs[qBase+i*headDim+d] * ks[kBase+j*headDim+d]
					}
					scores[j] = dot * scale
					if bs != nil {
						idx := []int{b, h, i, j}
						flatIdx := 0
						for axis, dim := range bias.Shape().Dimensions {
							if dim == 1 {
								idx[axis] = 0
							}
							flatIdx = flatIdx*dim + idx[axis]
						}
						scores[j] += bs[flatIdx]
					}
					maxScore = max(maxScore, scores[j])
				}
				var sum float64
				for j := range scores {
					scores[j] = math.Exp(scores[j] - maxScore)
					sum += scores[j]
				}
				for d := range headDim {
					var acc float64
					for j := range kLen {
						acc += scores[j] / sum * vs[kBase+j*headDim+d]
					}
					out[qBase+i*headDim+d] = acc
				}
			}
		}
	}
	return out
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, backends.ListFusedAttention(), Name)
	fused, err := backends.NewFusedAttention(Name)
	require.NoError(t, err)
	assert.Equal(t, Name, fused.Name())
	assert.Equal(t, DefaultBlockSize, fused.(*Attention).BlockSize())

	_, err = New(0)
	require.ErrorIs(t, err, backends.ErrInvalidConfig)
}

func TestFusedScaledDotProductAttention(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 0))
	q := randomTensor(rng, 2, 3, 5, 4)
	k := randomTensor(rng, 2, 3, 11, 4)
	v := randomTensor(rng, 2, 3, 11, 4)
	scale := 1 / math.Sqrt(4)
	want := naiveAttention(q, k, v, nil, scale)

	for _, blockSize := range []int{1, 3, 11, 64} {
		fused := must.M1(New(blockSize))
		got, err := fused.FusedScaledDotProductAttention(q, k, v, nil, scale)
		require.NoError(t, err)
		require.True(t, got.Shape().Equal(q.Shape()))
		if diff := cmp.Diff(want, got.Float64s(), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Fatalf("blockSize=%d: (-want +got):\n%s", blockSize, diff)
		}
	}

	// Float32 within float32 tolerance.
	fused := must.M1(New(4))
	got, err := fused.FusedScaledDotProductAttention(q.AsType(dtypes.Float32), k.AsType(dtypes.Float32), v.AsType(dtypes.Float32), nil, scale)
	require.NoError(t, err)
	require.Equal(t, dtypes.Float32, got.DType())
	if diff := cmp.Diff(want, got.Float64s(), cmpopts.EquateApprox(0, 1e-5)); diff != "" {
		t.Fatalf("float32: (-want +got):\n%s", diff)
	}
}

func TestBias(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 1))
	q := randomTensor(rng, 2, 3, 5, 4)
	k := randomTensor(rng, 2, 3, 6, 4)
	v := randomTensor(rng, 2, 3, 6, 4)
	fused := must.M1(New(4))
	for _, biasDims := range [][]int{
		{2, 3, 5, 6}, {1, 3, 5, 6}, {2, 1, 5, 6}, {1, 1, 5, 6},
		{2, 3, 1, 6}, {1, 1, 5, 1}, {2, 1, 1, 6}, {1, 1, 1, 1},
	} {
		bias := randomTensor(rng, biasDims...)
		want := naiveAttention(q, k, v, bias, 0.5)
		got, err := fused.FusedScaledDotProductAttention(q, k, v, bias, 0.5)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got.Float64s(), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Fatalf("bias %v: (-want +got):\n%s", biasDims, diff)
		}
	}

	// Masking all but the last key: the output equals that key's value.
	mask := tensors.FromScalarAndDimensions(math.Inf(-1), 1, 1, 5, 6)
	tensors.MustMutableFlatData(mask, func(flat []float64) {
		for i := range 5 {
			flat[i*6+5] = 0
		}
	})
	got, err := fused.FusedScaledDotProductAttention(q, k, v, mask, 0.5)
	require.NoError(t, err)
	gotValues, vValues := got.Float64s(), v.Float64s()
	for bh := range 6 {
		for i := range 5 {
			for d := range 4 {
				require.InDelta(t, vValues[(bh*6+5)*4+d], gotValues[(bh*5+i)*4+d], 1e-12)
			}
		}
	}

	// Key padding mask broadcast over the query axis: the last two keys are ignored.
	padding := tensors.FromScalarAndDimensions(0.0, 2, 1, 1, 6)
	tensors.MustMutableFlatData(padding, func(flat []float64) {
		for b := range 2 {
			flat[b*6+4], flat[b*6+5] = math.Inf(-1), math.Inf(-1)
		}
	})
	got, err = fused.FusedScaledDotProductAttention(q, k, v, padding, 0.5)
	require.NoError(t, err)
	kTrimmed := randomTensor(rng, 2, 3, 4, 4)
	vTrimmed := randomTensor(rng, 2, 3, 4, 4)
	kFlat, vFlat := k.Float64s(), v.Float64s()
	tensors.MustMutableFlatData(kTrimmed, func(flat []float64) {
		for bh := range 6 {
			copy(flat[bh*16:(bh+1)*16], kFlat[bh*24:bh*24+16])
		}
	})
	tensors.MustMutableFlatData(vTrimmed, func(flat []float64) {
		for bh := range 6 {
			copy(flat[bh*16:(bh+1)*16], vFlat[bh*24:bh*24+16])
		}
	})
	want := naiveAttention(q, kTrimmed, vTrimmed, nil, 0.5)
	if diff := cmp.Diff(want, got.Float64s(), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("padding mask: (-want +got):\n%s", diff)
	}

	_, err = fused.FusedScaledDotProductAttention(q, k, v, randomTensor(rng, 2, 3, 5, 5), 0.5)
	require.ErrorIs(t, err, backends.ErrShapeMismatch)
}

func TestHalfPrecisionNotImplemented(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 2))
	fused := must.M1(New(DefaultBlockSize))
	for _, dtype := range []dtypes.DType{dtypes.Float16, dtypes.BFloat16} {
		q := randomTensor(rng, 1, 2, 3, 4).AsType(dtype)
		_, err := fused.FusedScaledDotProductAttention(q, q, q, nil, 0.5)
		require.ErrorIs(t, err, backends.ErrNotImplemented, "dtype=%s", dtype)
	}
}
