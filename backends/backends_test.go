// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"testing"

	"github.com/gomlx/ldm/pkg/core/dtypes"
	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFused struct{ name string }

func (f fakeFused) Name() string { return f.name }

func (f fakeFused) FusedScaledDotProductAttention(query, _, _, _ *tensors.Tensor, _ float64) (*tensors.Tensor, error) {
	return query, nil
}

func TestFusedAttentionRegistry(t *testing.T) {
	RegisterFusedAttention("fake0", func() (FusedAttention, error) { return fakeFused{"fake0"}, nil })
	RegisterFusedAttention("broken", func() (FusedAttention, error) { return nil, errors.New("failed to load") })
	RegisterFusedAttention("fake1", func() (FusedAttention, error) { return fakeFused{"fake1"}, nil })
	// Re-registering keeps the original order.
	RegisterFusedAttention("fake0", func() (FusedAttention, error) { return fakeFused{"fake0"}, nil })
	assert.Equal(t, []string{"fake0", "broken", "fake1"}, ListFusedAttention())

	// Default is the first registered.
	fused := resolveFusedAttention("")
	require.NotNil(t, fused)
	assert.Equal(t, "fake0", fused.Name())

	fused = resolveFusedAttention("fake1")
	require.NotNil(t, fused)
	assert.Equal(t, "fake1", fused.Name())

	// Disabled, unknown or failing to load: capability absent.
	assert.Nil(t, resolveFusedAttention(NoFusedAttention))
	assert.Nil(t, resolveFusedAttention("unknown"))
	assert.Nil(t, resolveFusedAttention("broken"))

	_, err := NewFusedAttention("unknown")
	require.ErrorIs(t, err, ErrInvalidConfig)

	// DefaultFusedAttention is resolved only once.
	first := DefaultFusedAttention()
	assert.Equal(t, first, DefaultFusedAttention())
}

func TestNewWithConfig(t *testing.T) {
	_, err := NewWithConfig("nonexistent:foo")
	require.Error(t, err)

	var gotConfig string
	Register("fake", func(config string) (Backend, error) {
		gotConfig = config
		return nil, errors.New("fake backend can't be created")
	})
	assert.Contains(t, List(), "fake")
	_, err = NewWithConfig("fake:a=1")
	require.Error(t, err)
	assert.Equal(t, "a=1", gotConfig)
	_, err = NewWithConfig("nonexistent")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCapabilities(t *testing.T) {
	c := Capabilities{
		Operations: map[OpType]bool{OpTypeSoftmax: true, OpTypeLinear: true, OpTypeGelu: false},
		DTypes:     map[dtypes.DType]bool{dtypes.Float64: true, dtypes.Float32: true},
	}
	c2 := c.Clone()
	c2.Operations[OpTypeGelu] = true
	assert.False(t, c.Operations[OpTypeGelu])
	assert.Equal(t, []OpType{OpTypeLinear, OpTypeSoftmax}, c.SupportedOperations())
	assert.Equal(t, []dtypes.DType{dtypes.Float32, dtypes.Float64}, c.SupportedDTypes())
	assert.Equal(t, "Softmax", OpTypeSoftmax.String())
	assert.Equal(t, "OpType(?)", OpTypeLast.String())
}
