// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package random provides the pseudo-random tensor generators used to initialize weights and
// to sample latent distributions.
//
// A Random is seeded explicitly for reproducible results (NewWithSeed), or from the process
// randomness (New). Default returns a process-wide generator.
package random

import (
	"math/rand/v2"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"gonum.org/v1/gonum/stat/distuv"
)

// Source of random tensors.
type Source interface {
	// Uniform returns a tensor with values sampled uniformly from [0, 1).
	Uniform(shape shapes.Shape) *tensors.Tensor

	// Normal returns a tensor with values sampled from a normal distribution with mean 0 and
	// standard deviation 1.
	Normal(shape shapes.Shape) *tensors.Tensor
}

// Random is a Source backed by a PCG generator. It is safe for concurrent use.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

var _ Source = (*Random)(nil)

// New creates a new Random seeded from the process randomness.
func New() *Random {
	return newFromPCG(rand.Uint64(), rand.Uint64())
}

// NewWithSeed creates a new Random with the given seed: the same seed always generates the same
// sequence of values.
func NewWithSeed(seed int64) *Random {
	return newFromPCG(uint64(seed), 0x9e3779b97f4a7c15)
}

func newFromPCG(seed1, seed2 uint64) *Random {
	return &Random{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

var (
	defaultOnce   sync.Once
	defaultRandom *Random
)

// Default returns the process-wide Random, seeded from the process randomness on first use.
func Default() *Random {
	defaultOnce.Do(func() { defaultRandom = New() })
	return defaultRandom
}

// Split returns a new Random, seeded from this one. Its sequence is independent of the
// values drawn from r afterwards.
func (r *Random) Split() *Random {
	r.mu.Lock()
	defer r.mu.Unlock()
	return newFromPCG(r.rng.Uint64(), r.rng.Uint64())
}

// Uniform implements Source.
func (r *Random) Uniform(shape shapes.Shape) *tensors.Tensor {
	return r.generate(shape, distuv.Uniform{Min: 0, Max: 1, Src: r.rng})
}

// Normal implements Source.
func (r *Random) Normal(shape shapes.Shape) *tensors.Tensor {
	return r.generate(shape, distuv.Normal{Mu: 0, Sigma: 1, Src: r.rng})
}

// generate samples shape.Size() values from dist, in float64, and converts them to shape.DType.
func (r *Random) generate(shape shapes.Shape, dist distuv.Rander) *tensors.Tensor {
	if !shape.DType.IsSupported() {
		exceptions.Panicf("random: unsupported dtype for shape %s", shape)
	}
	values := make([]float64, shape.Size())
	r.mu.Lock()
	for ii := range values {
		values[ii] = dist.Rand()
	}
	r.mu.Unlock()
	t, err := tensors.FromCompute(shape.DType, tensors.CPU, values, shape.Dimensions...)
	if err != nil {
		panic(err)
	}
	return t
}
