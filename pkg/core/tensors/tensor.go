// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a dense representation of a multidimensional array.
//
// Tensors are defined by their shape (a data type and its axes' dimensions), the device they are
// tagged to and their actual content, stored as a flat (1D) row-major slice of the Go type of
// the dtype: []float32, []float64, []float16.Float16 or []bfloat16.BFloat16.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromValue(value any): converts a scalar or an arbitrarily nested regular slice of a supported type.
//
// Tensors are treated as values: operations return new tensors, and the inputs are never changed.
// The only way to change the contents of a tensor is MutableFlatData, which is reserved for
// the code that just created the tensor (kernels filling their outputs).
package tensors

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Device tags where a tensor's data is meant to live. The compute backends in this module
// all run on the host, but caches (e.g. the time-step embedding basis) are keyed by it.
type Device struct {
	// Platform name, e.g. "cpu".
	Platform string

	// Num is the device number within the platform.
	Num int
}

// CPU is the default device of all tensors.
var CPU = Device{Platform: "cpu"}

// String implements fmt.Stringer.
func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Platform, d.Num)
}

// Tensor represents a multidimensional array, defined by its shape (dtypes.DType and axes' dimensions),
// the Device it is tagged to, and its content stored as a flat (1D) slice of values.
type Tensor struct {
	shape  shapes.Shape
	device Device

	// flat is a slice of the Go type of shape.DType, with shape.Size() elements.
	flat any
}

// FromShape returns a Tensor with the given shape, on the CPU device, filled with zeros.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.DType.IsSupported() {
		exceptions.Panicf("tensors.FromShape(%s): unsupported dtype", shape)
	}
	return &Tensor{
		shape:  shape.Clone(),
		device: CPU,
		flat:   reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size()).Interface(),
	}
}

// Zeros is an alias to FromShape(shapes.Make(dtype, dimensions...)).
func Zeros(dtype dtypes.DType, dimensions ...int) *Tensor {
	return FromShape(shapes.Make(dtype, dimensions...))
}

// FromScalar returns a scalar tensor with the given value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromFlatDataAndDimensions([]T{value})
}

// FromScalarAndDimensions returns a Tensor with the given dimensions, filled with the scalar value given.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	t := FromShape(shapes.Make(dtypes.FromGenericsType[T](), dimensions...))
	flat := t.flat.([]T)
	for ii := range flat {
		flat[ii] = value
	}
	return t
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with a copy of
// the flattened values given in `data`.
//
// It panics if len(data) doesn't match the size of the shape.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(len(data)=%d, dimensions=%v): data size doesn't match shape size %d",
			len(data), dimensions, shape.Size())
	}
	return &Tensor{shape: shape, device: CPU, flat: slices.Clone(data)}
}

// FromFlat creates a tensor of the given shape taking ownership of flat, which must be a slice of
// the Go type of shape.DType with shape.Size() elements. Used by kernels to wrap their outputs.
func FromFlat(shape shapes.Shape, device Device, flat any) (*Tensor, error) {
	if !shape.DType.IsSupported() {
		return nil, errors.Errorf("tensors.FromFlat: unsupported shape %s", shape)
	}
	v := reflect.ValueOf(flat)
	if v.Kind() != reflect.Slice || v.Type().Elem() != shape.DType.GoType() {
		return nil, errors.Errorf("tensors.FromFlat: flat data of type %T doesn't match shape %s", flat, shape)
	}
	if v.Len() != shape.Size() {
		return nil, errors.Errorf("tensors.FromFlat: flat data has %d elements, shape %s requires %d", v.Len(), shape, shape.Size())
	}
	return &Tensor{shape: shape.Clone(), device: device, flat: flat}, nil
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
// It is a shortcut to `Tensor.Shape().DType`.
func (t *Tensor) DType() dtypes.DType {
	if t == nil {
		return dtypes.InvalidDType
	}
	return t.shape.DType
}

// Device the tensor is tagged to.
func (t *Tensor) Device() Device { return t.device }

// Rank returns the rank of the tensor's shape.
// It is a shortcut to `Tensor.Shape().Rank()`.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Dim returns the dimension of the given axis, negative axes count from the end.
func (t *Tensor) Dim(axis int) int { return t.shape.Dim(axis) }

// IsScalar returns whether the tensor represents a scalar value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor. An alias to Tensor.Shape().Memory().
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the Tensor is in a valid state.
func (t *Tensor) Ok() bool {
	return t != nil && t.shape.Ok() && t.flat != nil
}

// AssertValid panics if the tensor is nil or invalid.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("tensor is nil")
	}
	if !t.Ok() {
		exceptions.Panicf("tensor is invalid (shape=%s)", t.shape)
	}
}

// OnDevice returns a copy of the tensor tagged with the given device.
// If the tensor is already on the device, it is returned as is.
func (t *Tensor) OnDevice(device Device) *Tensor {
	if t.device == device {
		return t
	}
	t2 := t.Clone()
	t2.device = device
	return t2
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	t.AssertValid()
	v := reflect.ValueOf(t.flat)
	flat := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
	reflect.Copy(flat, v)
	return &Tensor{shape: t.shape.Clone(), device: t.device, flat: flat.Interface()}
}

// Reshape returns a copy of the tensor with the new dimensions. The total size must be unchanged.
func (t *Tensor) Reshape(dimensions ...int) (*Tensor, error) {
	t.AssertValid()
	var newShape shapes.Shape
	err := exceptions.TryCatch[error](func() { newShape = shapes.Make(t.shape.DType, dimensions...) })
	if err != nil {
		return nil, err
	}
	if newShape.Size() != t.shape.Size() {
		return nil, errors.Errorf("cannot reshape %s to dimensions %v: sizes differ", t.shape, dimensions)
	}
	t2 := t.Clone()
	t2.shape = newShape
	return t2, nil
}

// ConstFlatData calls accessFn with the flat data of the tensor, as a slice of the Go type of its dtype.
// The contents must not be changed.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if !t.Ok() {
		return errors.New("ConstFlatData called on an invalid tensor")
	}
	flat, ok := t.flat.([]T)
	if !ok {
		var zero T
		return errors.Errorf("ConstFlatData[%T] called on a tensor of dtype %s", zero, t.shape.DType)
	}
	accessFn(flat)
	return nil
}

// MustConstFlatData is like ConstFlatData, but panics on errors.
func MustConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if err := ConstFlatData(t, accessFn); err != nil {
		panic(err)
	}
}

// MutableFlatData calls accessFn with the flat data of the tensor, which can be changed in place.
//
// Only use it on tensors owned by the caller: tensors passed as inputs to layers must not be mutated.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	return ConstFlatData(t, accessFn)
}

// MustMutableFlatData is like MutableFlatData, but panics on errors.
func MustMutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	MustConstFlatData(t, accessFn)
}

// CopyFlatData returns a copy of the flat data of the tensor.
func CopyFlatData[T dtypes.Supported](t *Tensor) ([]T, error) {
	var out []T
	err := ConstFlatData(t, func(flat []T) { out = slices.Clone(flat) })
	return out, err
}

// MustCopyFlatData is like CopyFlatData, but panics on errors.
func MustCopyFlatData[T dtypes.Supported](t *Tensor) []T {
	out, err := CopyFlatData[T](t)
	if err != nil {
		panic(err)
	}
	return out
}

// ToScalar returns the scalar value of a tensor of size 1.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	var value T
	MustConstFlatData(t, func(flat []T) {
		if len(flat) != 1 {
			exceptions.Panicf("ToScalar called on tensor of shape %s", t.shape)
		}
		value = flat[0]
	})
	return value
}

// Flat returns the underlying flat slice, typed as `any`. It must not be modified.
func (t *Tensor) Flat() any { return t.flat }

// FromValue converts a scalar or a regular multidimensional slice (e.g. [][]float32) of a supported type to a Tensor.
//
// It panics if value is not regular (all sub-slices of the same level must have the same length) or
// its base type is not supported.
func FromValue(value any) *Tensor {
	if t, ok := value.(*Tensor); ok {
		return t
	}
	v := reflect.ValueOf(value)
	var dimensions []int
	baseT := v.Type()
	for baseT.Kind() == reflect.Slice {
		baseT = baseT.Elem()
	}
	dtype := dtypes.FromGoType(baseT)
	if dtype == dtypes.InvalidDType {
		exceptions.Panicf("tensors.FromValue(%T): unsupported type", value)
	}
	for probe := v; probe.Kind() == reflect.Slice; probe = probe.Index(0) {
		if probe.Len() == 0 {
			exceptions.Panicf("tensors.FromValue(%T): zero-length slices not supported", value)
		}
		dimensions = append(dimensions, probe.Len())
	}
	t := FromShape(shapes.Make(dtype, dimensions...))
	flat := reflect.ValueOf(t.flat)
	pos := 0
	var copyRecursive func(v reflect.Value, level int)
	copyRecursive = func(v reflect.Value, level int) {
		if level == len(dimensions) {
			flat.Index(pos).Set(v)
			pos++
			return
		}
		if v.Len() != dimensions[level] {
			exceptions.Panicf("tensors.FromValue(%T): irregular slice, axis %d has lengths %d and %d",
				value, level, dimensions[level], v.Len())
		}
		for ii := range v.Len() {
			copyRecursive(v.Index(ii), level+1)
		}
	}
	copyRecursive(v, 0)
	return t
}
