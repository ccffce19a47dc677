// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializer holds the weight initializers used by the layers.
//
// Weights follow the [outFeatures, inFeatures, kernel...] layout of the backends' Linear and
// Conv2D operations, and initializers compute fan-in and fan-out accordingly.
package initializer

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/random"
	"gonum.org/v1/gonum/floats"
)

// Initializer creates the initial value of a weight with the given shape.
type Initializer func(shape shapes.Shape) *tensors.Tensor

var (
	// Zero initializes weights with zero.
	Zero Initializer = func(shape shapes.Shape) *tensors.Tensor {
		return tensors.FromShape(shape)
	}

	// One initializes weights with one.
	One Initializer = func(shape shapes.Shape) *tensors.Tensor {
		return fill(shape, 1)
	}
)

func fill(shape shapes.Shape, value float64) *tensors.Tensor {
	values := make([]float64, shape.Size())
	for ii := range values {
		values[ii] = value
	}
	return fromFloat64s(shape, values)
}

func fromFloat64s(shape shapes.Shape, values []float64) *tensors.Tensor {
	t, err := tensors.FromCompute(shape.DType, tensors.CPU, values, shape.Dimensions...)
	if err != nil {
		exceptions.Panicf("initializer: %+v", err)
	}
	return t
}

// affine returns source·scale + shift, in the dtype of the shape.
func affine(source *tensors.Tensor, scale, shift float64) *tensors.Tensor {
	values := source.Float64s()
	floats.Scale(scale, values)
	floats.AddConst(shift, values)
	return fromFloat64s(source.Shape(), values)
}

// Normal returns an initializer that generates random normal values with the given standard deviation
// and mean set to 0.
func Normal(rng random.Source, stddev float64) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		return affine(rng.Normal(shape), stddev, 0)
	}
}

// Uniform returns an initializer that generates random uniform values from [min, max).
func Uniform(rng random.Source, minValue, maxValue float64) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		return affine(rng.Uniform(shape), maxValue-minValue, minValue)
	}
}

// XavierUniform returns an initializer that generates random values with a uniform distribution with a range
// defined by +/- sqrt(6 / (fanIn+fanOut)).
//
// It initializes biases (anything with rank <= 1) to zeros.
func XavierUniform(rng random.Source) Initializer {
	return func(shape shapes.Shape) *tensors.Tensor {
		if shape.Rank() <= 1 {
			return Zero(shape)
		}
		fanIn, fanOut := computeFanInFanOut(shape)
		limit := math.Sqrt(6.0 / max(1.0, float64(fanIn+fanOut)))
		return affine(rng.Uniform(shape), 2*limit, -limit)
	}
}

// computeFanInFanOut of a weight shaped [outFeatures, inFeatures, kernel...].
func computeFanInFanOut(shape shapes.Shape) (fanIn, fanOut int) {
	rank := shape.Rank()
	if rank < 2 {
		return 1, 1
	}
	receptiveFieldSize := 1
	for _, dim := range shape.Dimensions[2:] {
		receptiveFieldSize *= dim
	}
	fanIn = shape.Dimensions[1] * receptiveFieldSize
	fanOut = shape.Dimensions[0] * receptiveFieldSize
	return
}

// Identity initializes a weight shaped [n, n] or [n, n, 1, 1] (a 1x1 convolution kernel) so that the
// layer maps its input to itself. Use it with Zero biases.
//
// It panics for any other shape.
var Identity Initializer = func(shape shapes.Shape) *tensors.Tensor {
	rank := shape.Rank()
	if rank < 2 || shape.Dimensions[0] != shape.Dimensions[1] {
		exceptions.Panicf("initializer.Identity requires a square weight, got %s", shape)
	}
	for _, dim := range shape.Dimensions[2:] {
		if dim != 1 {
			exceptions.Panicf("initializer.Identity requires 1x1 kernels, got %s", shape)
		}
	}
	n := shape.Dimensions[0]
	values := make([]float64, shape.Size())
	for ii := range n {
		values[ii*n+ii] = 1
	}
	return fromFloat64s(shape, values)
}
