// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
)

// gemm computes c = op(a)·op(b) + beta·c for row-major matrices, where op(a) is [m, k], op(b) is [k, n]
// and c is [m, n]. If transA (transB) is set, a (b) is stored transposed, as [k, m] ([n, k]).
func gemm[T dtypes.GoFloat](transA, transB bool, m, n, k int, a, b []T, beta T, c []T) {
	tA, aRows, aCols := blas.NoTrans, m, k
	if transA {
		tA, aRows, aCols = blas.Trans, k, m
	}
	tB, bRows, bCols := blas.NoTrans, k, n
	if transB {
		tB, bRows, bCols = blas.Trans, n, k
	}
	switch cFlat := any(c).(type) {
	case []float32:
		blas32.Gemm(tA, tB, 1,
			blas32.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: any(a).([]float32)},
			blas32.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: any(b).([]float32)},
			float32(beta),
			blas32.General{Rows: m, Cols: n, Stride: n, Data: cFlat})
	case []float64:
		blas64.Gemm(tA, tB, 1,
			blas64.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: any(a).([]float64)},
			blas64.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: any(b).([]float64)},
			float64(beta),
			blas64.General{Rows: m, Cols: n, Stride: n, Data: cFlat})
	}
}
