// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"os"
	"slices"
	"sync"

	"github.com/gomlx/ldm/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FusedAttention is an optional, alternate implementation of the scaled dot-product attention
// that fuses the score, softmax and weighted-sum computations.
//
// Implementations register themselves with RegisterFusedAttention at package initialization:
// importing the package is what makes the capability present.
//
// An implementation that doesn't support some call path (e.g. a dtype) must return an error
// wrapping ErrNotImplemented. Callers must surface that error, and never fall back: falling back
// to the reference computation is reserved for when no fused implementation is present.
type FusedAttention interface {
	// Name of the implementation.
	Name() string

	// FusedScaledDotProductAttention computes softmax(query·keyᵀ·scale + bias)·value per head.
	//   - query: [batch, numHeads, querySeqLen, headDim]
	//   - key, value: [batch, numHeads, keySeqLen, headDim]
	//   - bias: additive bias, can be nil, broadcastable to [batch, numHeads, querySeqLen, keySeqLen]:
	//     it must be rank 4, and any of its axes can be 1.
	// Output: [batch, numHeads, querySeqLen, headDim], same dtype as query.
	FusedScaledDotProductAttention(query, key, value, bias *tensors.Tensor, scale float64) (*tensors.Tensor, error)
}

// FusedAttentionConstructor creates a FusedAttention. An error means the capability failed to load,
// and it is treated as absent.
type FusedAttentionConstructor func() (FusedAttention, error)

// LDM_FUSED_ATTENTION is the environment variable naming the fused attention implementation to use.
// The value "none" disables fused attention. If not set, the first registered implementation is used.
const LDM_FUSED_ATTENTION = "LDM_FUSED_ATTENTION"

// NoFusedAttention is the LDM_FUSED_ATTENTION value that disables fused attention.
const NoFusedAttention = "none"

var (
	fusedMu                    sync.Mutex
	fusedConstructors          = make(map[string]FusedAttentionConstructor)
	fusedRegistrationOrder     []string
	defaultFusedOnce           sync.Once
	defaultFusedImplementation FusedAttention
)

// RegisterFusedAttention registers a fused attention implementation. Call it during package initialization.
func RegisterFusedAttention(name string, constructor FusedAttentionConstructor) {
	fusedMu.Lock()
	defer fusedMu.Unlock()
	if _, found := fusedConstructors[name]; !found {
		fusedRegistrationOrder = append(fusedRegistrationOrder, name)
	}
	fusedConstructors[name] = constructor
}

// ListFusedAttention returns the names of the registered fused attention implementations, in order of registration.
func ListFusedAttention() []string {
	fusedMu.Lock()
	defer fusedMu.Unlock()
	return slices.Clone(fusedRegistrationOrder)
}

// NewFusedAttention creates the fused attention implementation registered with the given name.
func NewFusedAttention(name string) (FusedAttention, error) {
	fusedMu.Lock()
	constructor, found := fusedConstructors[name]
	fusedMu.Unlock()
	if !found {
		return nil, errors.Wrapf(ErrInvalidConfig, "fused attention %q not registered (registered: %v)", name, ListFusedAttention())
	}
	return constructor()
}

// DefaultFusedAttention returns the process-wide fused attention implementation, or nil if none is available.
//
// It is resolved once, on the first call, from LDM_FUSED_ATTENTION and the registered implementations.
// The result is read-only afterwards, and safe to share across goroutines.
func DefaultFusedAttention() FusedAttention {
	defaultFusedOnce.Do(func() {
		config, _ := os.LookupEnv(LDM_FUSED_ATTENTION)
		defaultFusedImplementation = resolveFusedAttention(config)
	})
	return defaultFusedImplementation
}

// resolveFusedAttention selects the fused attention given the configuration. Failures are logged, and
// resolve to nil (capability absent).
func resolveFusedAttention(config string) FusedAttention {
	if config == NoFusedAttention {
		klog.V(1).Infof("fused attention disabled by %s=%q", LDM_FUSED_ATTENTION, config)
		return nil
	}
	names := ListFusedAttention()
	name := config
	if name == "" {
		if len(names) == 0 {
			klog.V(1).Infof("no fused attention registered")
			return nil
		}
		name = names[0]
	}
	fused, err := NewFusedAttention(name)
	if err != nil {
		klog.Warningf("fused attention %q not available, using reference attention: %v", name, err)
		return nil
	}
	klog.V(1).Infof("using fused attention %q", fused.Name())
	return fused
}
