// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, and not very fast, but very portable backend.
//
// Float32 and Float64 are computed natively, Float16 and BFloat16 are promoted to Float32 and rounded
// back. Matrix multiplications use gonum's BLAS, and independent work (e.g. batch examples) is
// distributed over a pool of goroutines.
package simplego

import (
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/internal/workerspool"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/pkg/errors"
)

// BackendName to be used in LDM_BACKEND to specify this backend.
const BackendName = "go"

// Registers New() as the default constructor for "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo Backend.
//
// The config is a comma-separated list of options. Only "parallelism=<n>" is supported: it sets
// the soft target of parallel workers, 0 disables parallelism and -1 makes it unlimited.
// By default, it is runtime.NumCPU().
func New(config string) (backends.Backend, error) {
	b := newBackend()
	for _, option := range strings.Split(config, ",") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		key, value, _ := strings.Cut(option, "=")
		switch key {
		case "parallelism":
			parallelism, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(backends.ErrInvalidConfig, "backend %q: invalid parallelism %q", BackendName, value)
			}
			b.workers.SetMaxParallelism(parallelism)
		default:
			return nil, errors.Wrapf(backends.ErrInvalidConfig, "backend %q: unknown configuration option %q", BackendName, option)
		}
	}
	return b, nil
}

func newBackend() *Backend {
	return &Backend{workers: workerspool.New()}
}

// Backend implements the backends.Backend interface.
type Backend struct {
	workers *workerspool.Pool
}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// String implement fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Simple Go Portable Backend"
}

// Capabilities returns information about what is supported by this backend.
func (b *Backend) Capabilities() backends.Capabilities {
	return Capabilities
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {}

// shapeOf returns the shape of an optional tensor, or shapes.Invalid() if it is nil.
func shapeOf(t *tensors.Tensor) shapes.Shape {
	if t == nil {
		return shapes.Invalid()
	}
	return t.Shape()
}

// checkDType returns the dtype used to compute the operation, or an error if it is not supported.
func checkDType(opType backends.OpType, x *tensors.Tensor) (dtypes.DType, error) {
	dtype := x.DType()
	if !Capabilities.DTypes[dtype] {
		return dtypes.InvalidDType, errors.Wrapf(backends.ErrNotImplemented, "%s: dtype %s not supported by backend %q",
			opType, dtype, BackendName)
	}
	return dtype.ComputeDType(), nil
}

// tryOp runs the op, converting panics (bugs in the kernel) to errors.
func tryOp(opType backends.OpType, fn func() (*tensors.Tensor, error)) (output *tensors.Tensor, err error) {
	panicErr := exceptions.TryCatch[error](func() { output, err = fn() })
	if panicErr != nil {
		return nil, errors.WithMessagef(panicErr, "backend %q failed in %s", BackendName, opType)
	}
	return
}
