// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/ldm/backends"
	"github.com/gomlx/ldm/pkg/core/dtypes"
)

// Capabilities of the SimpleGo backends: the set of supported operations and data types.
var Capabilities = backends.Capabilities{
	Operations: map[backends.OpType]bool{
		backends.OpTypeLinear:     true,
		backends.OpTypeMatMul:     true,
		backends.OpTypeConv2D:     true,
		backends.OpTypeGroupNorm:  true,
		backends.OpTypeGelu:       true,
		backends.OpTypeSoftmax:    true,
		backends.OpTypeAdd:        true,
		backends.OpTypeMul:        true,
		backends.OpTypeInPlaceMul: true,
		backends.OpTypeScale:      true,
		backends.OpTypeTranspose:  true,
		backends.OpTypeSplit:      true,
	},

	DTypes: map[dtypes.DType]bool{
		dtypes.Float16:  true,
		dtypes.BFloat16: true,
		dtypes.Float32:  true,
		dtypes.Float64:  true,
	},
}
