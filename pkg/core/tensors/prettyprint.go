// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Summary returns a multi-line summary of the Tensor's content.
// Inspired by numpy output: rows longer than 6 elements, and more than 6 rows, are elided.
func (t *Tensor) Summary(precision int) string {
	if !t.Ok() {
		return "<invalid tensor>"
	}
	var buf bytes.Buffer
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&buf, format, args...) }
	w("%s@%s (%s)", t.shape, t.device, humanize.IBytes(uint64(t.Memory())))

	values := t.Float64s()
	wValue := func(idx int) { w("%.*g", precision, values[idx]) }
	dims := t.shape.Dimensions
	if len(dims) == 0 {
		w(": ")
		wValue(0)
		return buf.String()
	}
	w(":\n")

	var printElements func(index, indent int, dims []int)
	printElements = func(index, indent int, dims []int) {
		if len(dims) == 1 {
			w("{")
			if dims[0] > 6 {
				for i := range 3 {
					if i > 0 {
						w(", ")
					}
					wValue(index + i)
				}
				w(", ..., ")
				for i := dims[0] - 3; i < dims[0]; i++ {
					if i > dims[0]-3 {
						w(", ")
					}
					wValue(index + i)
				}
			} else {
				for i := range dims[0] {
					if i > 0 {
						w(", ")
					}
					wValue(index + i)
				}
			}
			w("}")
			return
		}

		stride := 1
		for _, dim := range dims[1:] {
			stride *= dim
		}
		indentStr := strings.Repeat(" ", indent+1)
		w("{")
		numRows := dims[0]
		if numRows > 6 {
			for ii := range 3 {
				if ii > 0 {
					w(",\n%s", indentStr)
				}
				printElements(index+ii*stride, indent+1, dims[1:])
			}
			w(",\n%s...", indentStr)
			for ii := numRows - 3; ii < numRows; ii++ {
				w(",\n%s", indentStr)
				printElements(index+ii*stride, indent+1, dims[1:])
			}
		} else {
			for ii := range numRows {
				if ii > 0 {
					w(",\n%s", indentStr)
				}
				printElements(index+ii*stride, indent+1, dims[1:])
			}
		}
		w("}")
	}
	printElements(0, 0, dims)
	return buf.String()
}

// String implements fmt.Stringer, with a Summary with 4 digits of precision.
func (t *Tensor) String() string {
	return t.Summary(4)
}
