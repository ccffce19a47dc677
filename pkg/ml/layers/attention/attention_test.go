// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package attention

import (
	"fmt"
	"math"
	"testing"

	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/backends/flash"
	"github.com/gomlx/ldm/backends/notimplemented"
	"github.com/gomlx/ldm/backends/simplego"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/initializer"
	"github.com/gomlx/ldm/pkg/ml/random"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var backend = must.M1(simplego.New(""))

func newCore(t *testing.T, config Config) *Core {
	if config.Strategy == nil {
		config.Strategy = Reference
	}
	if config.Initializer == nil {
		config.Initializer = initializer.XavierUniform(random.NewWithSeed(17))
	}
	core, err := New(backend, config)
	require.NoError(t, err)
	return core
}

func TestOutputShape(t *testing.T) {
	rng := random.NewWithSeed(1)
	for _, heads := range []struct{ numHeads, headDim int }{{1, 8}, {2, 4}, {4, 3}} {
		t.Run(fmt.Sprintf("heads=%d,dim=%d", heads.numHeads, heads.headDim), func(t *testing.T) {
			core := newCore(t, Config{QueryDim: 6, ContextDim: 5, NumHeads: heads.numHeads, HeadDim: heads.headDim})
			query := rng.Normal(shapes.Make(dtypes.Float32, 2, 7, 6))
			for _, keyLen := range []int{1, 3, 11} {
				context := rng.Normal(shapes.Make(dtypes.Float32, 2, keyLen, 5))
				output, err := core.Compute(query, context, nil)
				require.NoError(t, err)
				assert.Equal(t, []int{2, 7, 6}, output.Shape().Dimensions)
			}
		})
	}

	core := newCore(t, Config{QueryDim: 6, NumHeads: 2, HeadDim: 4, OutputDim: 10})
	output, err := core.SelfAttention(rng.Normal(shapes.Make(dtypes.Float32, 3, 4, 6)))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 10}, output.Shape().Dimensions)
}

func TestCrossAttentionFallback(t *testing.T) {
	core := newCore(t, Config{QueryDim: 8, NumHeads: 2, HeadDim: 4, UseBias: true})
	x := random.NewWithSeed(2).Normal(shapes.Make(dtypes.Float32, 2, 5, 8))
	self, err := core.SelfAttention(x)
	require.NoError(t, err)
	cross, err := core.CrossAttention(x, nil, nil)
	require.NoError(t, err)
	assert.True(t, self.Equal(cross))
	explicit, err := core.CrossAttention(x, x, nil)
	require.NoError(t, err)
	assert.True(t, self.Equal(explicit))

	// Without a context, the key/value projections take QueryDim features.
	core = newCore(t, Config{QueryDim: 8, ContextDim: 3, NumHeads: 2, HeadDim: 4})
	_, err = core.CrossAttention(x, nil, nil)
	assert.True(t, errors.Is(err, backends.ErrShapeMismatch), "got %v", err)
}

func TestSplitMergeHeads(t *testing.T) {
	x := tensors.FromValue([][][]float32{{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10, 11, 12}}})
	split, err := SplitHeads(backend, x, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 2}, split.Shape().Dimensions)
	assert.Equal(t, []float64{1, 2, 5, 6, 9, 10, 3, 4, 7, 8, 11, 12}, split.Float64s())
	merged, err := MergeHeads(backend, split)
	require.NoError(t, err)
	assert.True(t, x.Equal(merged))

	rng := random.NewWithSeed(3)
	for _, numHeads := range []int{1, 2, 3, 6} {
		x := rng.Normal(shapes.Make(dtypes.Float16, 2, 5, 12))
		split := must.M1(SplitHeads(backend, x, numHeads))
		assert.Equal(t, []int{2, numHeads, 5, 12 / numHeads}, split.Shape().Dimensions)
		assert.True(t, x.Equal(must.M1(MergeHeads(backend, split))), "numHeads=%d", numHeads)
	}

	_, err = SplitHeads(backend, x, 3)
	assert.True(t, errors.Is(err, backends.ErrShapeMismatch))
	_, err = MergeHeads(backend, x)
	assert.True(t, errors.Is(err, backends.ErrShapeMismatch))
}

func TestAgainstManualComputation(t *testing.T) {
	// With identity projections and a single head, the attention is softmax(x·xᵀ/√d)·x.
	core := newCore(t, Config{QueryDim: 2, NumHeads: 1, HeadDim: 2, DType: dtypes.Float64, Initializer: initializer.Identity})
	x := [][]float64{{1, 0}, {0, 2}, {1, 1}}
	output, err := core.SelfAttention(tensors.FromValue([][][]float64{x}))
	require.NoError(t, err)

	var want []float64
	for _, q := range x {
		weights := make([]float64, len(x))
		var sum float64
		for j, k := range x {
			weights[j] = math.Exp((q[0]*k[0] + q[1]*k[1]) / math.Sqrt2)
			sum += weights[j]
		}
		row := make([]float64, 2)
		for j, v := range x {
			row[0] += weights[j] / sum * v[0]
			row[1] += weights[j] / sum * v[1]
		}
		want = append(want, row...)
	}
	assert.Empty(t, cmp.Diff(want, output.Float64s(), cmpopts.EquateApprox(0, 1e-12)))
	assert.InDelta(t, 1/math.Sqrt2, core.Scale(), 1e-15)
}

func TestCoefficients(t *testing.T) {
	core := newCore(t, Config{QueryDim: 4, ContextDim: 6, NumHeads: 2, HeadDim: 2})
	rng := random.NewWithSeed(4)
	x := rng.Normal(shapes.Make(dtypes.Float32, 2, 3, 4))
	context := rng.Normal(shapes.Make(dtypes.Float32, 2, 5, 6))
	coefficients, err := core.Coefficients(x, context, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 3, 5}, coefficients.Shape().Dimensions)
	values := coefficients.Float64s()
	for row := 0; row < len(values); row += 5 {
		var sum float64
		for _, v := range values[row : row+5] {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}

	// Mask out the last context token for every query.
	mask := make([]float32, 5)
	mask[4] = float32(math.Inf(-1))
	bias := must.M1(tensors.FromFlat(shapes.Make(dtypes.Float32, 1, 1, 1, 5), tensors.CPU, mask))
	coefficients, err = core.Coefficients(x, context, bias)
	require.NoError(t, err)
	values = coefficients.Float64s()
	for row := 0; row < len(values); row += 5 {
		assert.Equal(t, 0.0, values[row+4])
	}

	_, err = core.Coefficients(x, context, tensors.Zeros(dtypes.Float32, 2, 2, 3, 4))
	assert.True(t, errors.Is(err, backends.ErrShapeMismatch), "got %v", err)
}

func TestFusedEquivalence(t *testing.T) {
	fused, err := flash.New(2)
	require.NoError(t, err)
	rng := random.NewWithSeed(5)
	for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Float64} {
		core := newCore(t, Config{QueryDim: 8, ContextDim: 6, NumHeads: 2, HeadDim: 4, DType: dtype, UseBias: true})
		fusedCore := core.WithStrategy(Fused(fused))
		assert.Equal(t, "fused:flash", fusedCore.Strategy().Name())
		x := rng.Normal(shapes.Make(dtype, 2, 5, 8))
		context := rng.Normal(shapes.Make(dtype, 2, 7, 6))

		// Bias broadcast over any axis: per query, per key (padding mask) or a single scalar.
		for _, biasDims := range [][]int{nil, {2, 1, 5, 7}, {2, 2, 1, 7}, {1, 1, 5, 1}, {2, 1, 1, 7}, {1, 1, 1, 1}} {
			var bias *tensors.Tensor
			if biasDims != nil {
				bias = rng.Normal(shapes.Make(dtype, biasDims...))
			}
			reference, err := core.CrossAttention(x, context, bias)
			require.NoError(t, err)
			got, err := fusedCore.CrossAttention(x, context, bias)
			require.NoError(t, err, "dtype=%s, bias=%v", dtype, biasDims)
			assert.True(t, reference.InDelta(got, 1e-5), "dtype=%s, bias=%v", dtype, biasDims)
		}

		// Key padding mask: the last 3 context tokens of the second example are ignored.
		mask := tensors.Zeros(dtypes.Float64, 2, 1, 1, 7)
		tensors.MustMutableFlatData(mask, func(flat []float64) {
			for j := 4; j < 7; j++ {
				flat[7+j] = math.Inf(-1)
			}
		})
		mask = mask.AsType(dtype)
		reference, err := core.CrossAttention(x, context, mask)
		require.NoError(t, err)
		got, err := fusedCore.CrossAttention(x, context, mask)
		require.NoError(t, err)
		assert.True(t, reference.InDelta(got, 1e-5), "dtype=%s, padding mask", dtype)
	}
}

func TestFusedNotImplementedIsSurfaced(t *testing.T) {
	rng := random.NewWithSeed(6)
	for _, dtype := range []dtypes.DType{dtypes.Float16, dtypes.BFloat16} {
		core := newCore(t, Config{QueryDim: 4, NumHeads: 2, HeadDim: 2, DType: dtype})
		x := rng.Normal(shapes.Make(dtype, 1, 3, 4))

		// The reference strategy handles half precision.
		output, err := core.SelfAttention(x)
		require.NoError(t, err)
		assert.Equal(t, dtype, output.DType())

		// The flash implementation is present, but its half precision path is not: no fallback.
		output, err = core.WithStrategy(Fused(must.M1(flash.New(flash.DefaultBlockSize)))).SelfAttention(x)
		require.Error(t, err)
		assert.Nil(t, output)
		assert.True(t, errors.Is(err, backends.ErrNotImplemented), "got %v", err)
	}

	core := newCore(t, Config{QueryDim: 4, NumHeads: 2, HeadDim: 2})
	_, err := core.WithStrategy(Fused(notimplemented.FusedAttention{})).SelfAttention(
		rng.Normal(shapes.Make(dtypes.Float32, 1, 3, 4)))
	assert.True(t, errors.Is(err, backends.ErrNotImplemented), "got %v", err)
}

func TestDefaultStrategy(t *testing.T) {
	strategy := DefaultStrategy()
	require.NotNil(t, strategy)
	assert.Same(t, strategy, DefaultStrategy())
	if fused := backends.DefaultFusedAttention(); fused != nil {
		assert.Equal(t, "fused:"+fused.Name(), strategy.Name())
	} else {
		assert.Equal(t, Reference, strategy)
	}

	core, err := New(backend, DefaultConfig(4, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, strategy, core.Strategy())
}

func TestConfigErrors(t *testing.T) {
	for _, config := range []Config{
		{QueryDim: 0, NumHeads: 1, HeadDim: 1},
		{QueryDim: 4, NumHeads: 0, HeadDim: 4},
		{QueryDim: 4, NumHeads: 2, HeadDim: -1},
		{QueryDim: 4, ContextDim: -3, NumHeads: 2, HeadDim: 2},
		{QueryDim: 4, NumHeads: 1 << 20, HeadDim: 1 << 20},
		{QueryDim: 4, NumHeads: 2, HeadDim: 2, DType: dtypes.DType(99)},
	} {
		_, err := New(backend, config)
		assert.True(t, errors.Is(err, backends.ErrInvalidConfig), "config %+v: got %v", config, err)
	}
	_, err := New(nil, DefaultConfig(4, 2, 2))
	assert.True(t, errors.Is(err, backends.ErrInvalidConfig))
}

func TestCallShapeErrors(t *testing.T) {
	core := newCore(t, Config{QueryDim: 4, ContextDim: 3, NumHeads: 2, HeadDim: 2})
	x := tensors.Zeros(dtypes.Float32, 2, 3, 4)
	for _, args := range []struct{ query, keyValue *tensors.Tensor }{
		{tensors.Zeros(dtypes.Float32, 2, 3, 5), tensors.Zeros(dtypes.Float32, 2, 3, 3)},
		{x, tensors.Zeros(dtypes.Float32, 2, 3, 4)},
		{x, tensors.Zeros(dtypes.Float32, 1, 3, 3)},
		{tensors.Zeros(dtypes.Float32, 3, 4), tensors.Zeros(dtypes.Float32, 2, 3, 3)},
		{nil, tensors.Zeros(dtypes.Float32, 2, 3, 3)},
		{x, nil}, // Self-attention needs ContextDim == QueryDim.
	} {
		_, err := core.Compute(args.query, args.keyValue, nil)
		assert.True(t, errors.Is(err, backends.ErrShapeMismatch), "got %v", err)
	}
}
