// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package distribution implements the latent distributions produced by the encoder of a latent
// diffusion model.
package distribution

import (
	"math"

	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/gomlx/ldm/pkg/ml/random"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

const (
	// MinLogVariance and MaxLogVariance bound the log-variance given to NewDiagonalGaussian.
	MinLogVariance = -30.0
	MaxLogVariance = 20.0
)

// DiagonalGaussian is a multivariate normal distribution with diagonal covariance: each element is
// independent, with its own mean and standard deviation.
type DiagonalGaussian struct {
	mean, logVar, std, variance *tensors.Tensor
}

// NewDiagonalGaussian creates the distribution from its mean and log-variance, which must have the same
// shape. The log-variance is clamped to [MinLogVariance, MaxLogVariance].
//
// The tensors are not modified: the distribution keeps the mean and its own copy of the clamped
// log-variance.
func NewDiagonalGaussian(mean, logVar *tensors.Tensor) (*DiagonalGaussian, error) {
	if mean == nil || logVar == nil || !mean.Ok() || !logVar.Ok() {
		return nil, errors.Wrap(backends.ErrShapeMismatch, "NewDiagonalGaussian: mean and logVar must be valid tensors")
	}
	if !mean.Shape().Equal(logVar.Shape()) {
		return nil, errors.Wrapf(backends.ErrShapeMismatch, "NewDiagonalGaussian: mean %s and logVar %s must have the same shape",
			mean.Shape(), logVar.Shape())
	}
	if mean.Device() != logVar.Device() {
		return nil, errors.Wrapf(backends.ErrShapeMismatch, "NewDiagonalGaussian: mean on %s and logVar on %s",
			mean.Device(), logVar.Device())
	}
	clamped := logVar.Float64s()
	std := make([]float64, len(clamped))
	variance := make([]float64, len(clamped))
	for ii, v := range clamped {
		v = min(max(v, MinLogVariance), MaxLogVariance)
		clamped[ii] = v
		std[ii] = math.Exp(v / 2)
		variance[ii] = math.Exp(v)
	}
	d := &DiagonalGaussian{mean: mean}
	var err error
	if d.logVar, err = tensors.FromCompute(mean.DType(), mean.Device(), clamped, mean.Shape().Dimensions...); err != nil {
		return nil, err
	}
	if d.std, err = tensors.FromCompute(mean.DType(), mean.Device(), std, mean.Shape().Dimensions...); err != nil {
		return nil, err
	}
	if d.variance, err = tensors.FromCompute(mean.DType(), mean.Device(), variance, mean.Shape().Dimensions...); err != nil {
		return nil, err
	}
	return d, nil
}

// Mode of the distribution, its mean.
func (d *DiagonalGaussian) Mode() *tensors.Tensor { return d.mean }

// Mean of the distribution.
func (d *DiagonalGaussian) Mean() *tensors.Tensor { return d.mean }

// LogVariance returns the clamped log-variance.
func (d *DiagonalGaussian) LogVariance() *tensors.Tensor { return d.logVar }

// Std returns the standard deviation, exp(LogVariance/2).
func (d *DiagonalGaussian) Std() *tensors.Tensor { return d.std }

// Variance returns exp(LogVariance).
func (d *DiagonalGaussian) Variance() *tensors.Tensor { return d.variance }

// Sample draws a value of the distribution with the reparameterization mean + std·noise, where noise is
// sampled from the standard normal distribution by src. If src is nil, random.Default is used.
//
// The sample has the shape, dtype and device of the mean.
func (d *DiagonalGaussian) Sample(src random.Source) (*tensors.Tensor, error) {
	if src == nil {
		src = random.Default()
	}
	noise := src.Normal(d.mean.Shape()).Float64s()
	floats.Mul(noise, d.std.Float64s())
	floats.Add(noise, d.mean.Float64s())
	return tensors.FromCompute(d.mean.DType(), d.mean.Device(), noise, d.mean.Shape().Dimensions...)
}
