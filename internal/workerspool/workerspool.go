// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements a bounded pool of goroutines, used by the compute kernels to
// parallelize independent work (e.g. one task per (batch, head) pair).
package workerspool

import (
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of goroutines running kernel work.
//
// Work that doesn't find a free slot runs inline in the calling goroutine, so nested calls to
// ParallelFor (a kernel calling another kernel) never block waiting for each other.
type Pool struct {
	// maxParallelism is the limit of extra goroutines. 0 disables parallelism, and < 0 is unlimited.
	maxParallelism int
	slots          *semaphore.Weighted
}

// New returns a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{}
	w.SetMaxParallelism(runtime.NumCPU())
	return w
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// MaxParallelism returns the limit of goroutines started by the pool.
// 0 means parallelism is disabled, and -1 means it is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// Only change it before any work starts: the behavior of concurrent calls is undefined.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
	w.slots = nil
	if maxParallelism > 0 {
		w.slots = semaphore.NewWeighted(int64(maxParallelism))
	}
}

// tryAcquire a slot to start a goroutine.
func (w *Pool) tryAcquire() bool {
	if w.maxParallelism < 0 {
		return true
	}
	return w.slots.TryAcquire(1)
}

func (w *Pool) release() {
	if w.slots != nil {
		w.slots.Release(1)
	}
}

// ParallelFor calls fn(i) for i in [0, n), distributing the calls in the pool, and waits for all to finish.
// Calls for consecutive i are grouped in chunks of at least minChunk, to amortize the goroutine cost.
//
// If parallelism is disabled, or there is only one chunk, the calls are made inline, in order.
//
// A panic in fn is re-raised in the calling goroutine, after all the chunks have finished.
func (w *Pool) ParallelFor(n, minChunk int, fn func(i int)) {
	if n <= 0 {
		return
	}
	minChunk = max(minChunk, 1)
	runChunk := func(start, end int) {
		for i := start; i < end; i++ {
			fn(i)
		}
	}
	if !w.IsEnabled() || n <= minChunk {
		runChunk(0, n)
		return
	}

	var (
		wg         sync.WaitGroup
		panicMu    sync.Mutex
		panicValue any
		panicked   bool
	)
	guardedChunk := func(start, end int) {
		defer func() {
			if r := recover(); r != nil {
				panicMu.Lock()
				if !panicked {
					panicked, panicValue = true, r
				}
				panicMu.Unlock()
			}
		}()
		runChunk(start, end)
	}
	for start := 0; start < n; start += minChunk {
		end := min(start+minChunk, n)
		if !w.tryAcquire() {
			guardedChunk(start, end)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer w.release()
			guardedChunk(start, end)
		}()
	}
	wg.Wait()
	if panicked {
		panic(panicValue)
	}
}
