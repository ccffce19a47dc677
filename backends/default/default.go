// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes the default backends, namely SimpleGo and the "flash" fused attention.
//
// To use it simply include:
//
//	import _ "github.com/gomlx/ldm/backends/default"
//
// If you add the tag `noflash` it will not include the fused attention, and attention layers will use
// the reference computation.
package _default

import (
	_ "github.com/gomlx/ldm/backends/simplego"
)
