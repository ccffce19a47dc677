// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package timesteps implements the sinusoidal embedding of the diffusion time steps.
//
// Each step s is mapped to the vector amplitude·sin(s·frequency + phase), where the first half of the
// channels uses phase 0 (sine) and the second half phase π/2 (cosine), over geometrically spaced
// frequencies from 1 down to about 1/MaxPeriod.
//
// The basis is rounded to the precision of the steps dtype (and cached per dtype and device), but the
// product s·frequency and the sine are evaluated in float64 and only the result is rounded. For
// Float16 and BFloat16 this is more accurate than a computation carried out in half precision, so
// results differ slightly from half precision implementations, mostly for large steps.
package timesteps

import (
	"math"
	"sync"

	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// DefaultMaxPeriod controls the lowest frequency of the embedding.
const DefaultMaxPeriod = 10_000

// Config of an Embedding.
type Config struct {
	// NumChannels of the embedding, it must be even.
	NumChannels int

	// FlipSinToCos swaps the halves of the embedding, putting the cosine channels first.
	FlipSinToCos bool

	// DownscaleFreqShift shifts the denominator of the frequency exponents: -ln(MaxPeriod)·i/(NumChannels/2 - DownscaleFreqShift).
	DownscaleFreqShift float64

	// Scale is the amplitude of all channels. The zero value means 1, so an amplitude of exactly 0
	// can't be configured: use a tiny value instead.
	Scale float64

	// MaxPeriod of the lowest frequency. If 0, DefaultMaxPeriod.
	MaxPeriod float64
}

// DefaultConfig returns the configuration with Scale 1, MaxPeriod DefaultMaxPeriod and no flip or shift.
func DefaultConfig(numChannels int) Config {
	return Config{NumChannels: numChannels, Scale: 1, MaxPeriod: DefaultMaxPeriod}
}

// cacheKey identifies a cast of the basis.
type cacheKey struct {
	dtype  dtypes.DType
	device tensors.Device
}

// basisCast holds the basis converted to the precision of a dtype.
type basisCast struct {
	frequency, phase, amplitude []float64
}

// Embedding of time steps. It is safe for concurrent use.
type Embedding struct {
	config Config

	// frequency, phase and amplitude are computed once in New, in float64.
	frequency, phase, amplitude []float64

	mu    sync.RWMutex
	cache map[cacheKey]*basisCast
}

// New creates an Embedding and computes its basis. An odd or non-positive NumChannels returns an error
// wrapping backends.ErrInvalidConfig.
func New(config Config) (*Embedding, error) {
	if config.NumChannels <= 0 || config.NumChannels%2 != 0 {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "timesteps.New: NumChannels must be even and positive, got %d",
			config.NumChannels)
	}
	if config.Scale == 0 {
		config.Scale = 1
	}
	if config.MaxPeriod == 0 {
		config.MaxPeriod = DefaultMaxPeriod
	}
	if config.MaxPeriod <= 0 {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "timesteps.New: MaxPeriod must be positive, got %g", config.MaxPeriod)
	}
	halfDim := config.NumChannels / 2
	denominator := float64(halfDim) - config.DownscaleFreqShift
	if denominator == 0 {
		return nil, errors.Wrapf(backends.ErrInvalidConfig, "timesteps.New: DownscaleFreqShift %g equals NumChannels/2",
			config.DownscaleFreqShift)
	}

	e := &Embedding{
		config:    config,
		frequency: make([]float64, config.NumChannels),
		phase:     make([]float64, config.NumChannels),
		amplitude: make([]float64, config.NumChannels),
		cache:     make(map[cacheKey]*basisCast),
	}
	logMaxPeriod := math.Log(config.MaxPeriod)
	for ii := range halfDim {
		frequency := math.Exp(-logMaxPeriod * float64(ii) / denominator)
		e.frequency[ii], e.frequency[halfDim+ii] = frequency, frequency
		e.phase[halfDim+ii] = math.Pi / 2
	}
	floats.AddConst(config.Scale, e.amplitude)
	if config.FlipSinToCos {
		for _, basis := range [][]float64{e.frequency, e.phase, e.amplitude} {
			swapHalves(basis)
		}
	}
	return e, nil
}

// swapHalves exchanges the first and second halves of values, in place.
func swapHalves(values []float64) {
	half := len(values) / 2
	for ii := range half {
		values[ii], values[half+ii] = values[half+ii], values[ii]
	}
}

// Config returns the configuration.
func (e *Embedding) Config() Config { return e.config }

// Basis returns copies of the frequency, phase and amplitude vectors, each with NumChannels values.
func (e *Embedding) Basis() (frequency, phase, amplitude []float64) {
	return append([]float64(nil), e.frequency...), append([]float64(nil), e.phase...), append([]float64(nil), e.amplitude...)
}

// castBasis returns the basis in the precision of dtype for device, converting and caching it on first use.
func (e *Embedding) castBasis(dtype dtypes.DType, device tensors.Device) (*basisCast, error) {
	key := cacheKey{dtype: dtype, device: device}
	e.mu.RLock()
	cast, found := e.cache[key]
	e.mu.RUnlock()
	if found {
		return cast, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cast, found = e.cache[key]; found {
		return cast, nil
	}
	cast = &basisCast{}
	for _, pair := range []struct {
		from []float64
		to   *[]float64
	}{{e.frequency, &cast.frequency}, {e.phase, &cast.phase}, {e.amplitude, &cast.amplitude}} {
		t, err := tensors.FromCompute(dtype, device, append([]float64(nil), pair.from...), len(pair.from))
		if err != nil {
			return nil, err
		}
		*pair.to = t.Float64s()
	}
	e.cache[key] = cast
	klog.V(1).Infof("timesteps: cached %d channels basis for %s on %s", e.config.NumChannels, dtype, device)
	return cast, nil
}

// CachedKeys returns the number of (dtype, device) casts of the basis currently cached.
func (e *Embedding) CachedKeys() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// Compute the embedding of steps, shaped [batch] (or a scalar, taken as batch 1), returning
// [batch, NumChannels] with the dtype and device of steps.
func (e *Embedding) Compute(steps *tensors.Tensor) (*tensors.Tensor, error) {
	if steps == nil || !steps.Ok() || steps.Rank() > 1 {
		shape := "nil"
		if steps != nil {
			shape = steps.Shape().String()
		}
		return nil, errors.Wrapf(backends.ErrShapeMismatch, "timesteps: steps must be shaped [batch], got %s", shape)
	}
	cast, err := e.castBasis(steps.DType(), steps.Device())
	if err != nil {
		return nil, err
	}
	values := steps.Float64s()
	numChannels := e.config.NumChannels
	output := make([]float64, len(values)*numChannels)
	for row, step := range values {
		embedding := output[row*numChannels : (row+1)*numChannels]
		for ii := range embedding {
			embedding[ii] = cast.amplitude[ii] * math.Sin(step*cast.frequency[ii]+cast.phase[ii])
		}
	}
	return tensors.FromCompute(steps.DType(), steps.Device(), output, len(values), numChannels)
}
