// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import (
	"sync"
	"sync/atomic"
	"testing"
)

// TestDelayedFreeBufferPushPop is a scaled-down form of spec scenario (f):
// four goroutines concurrently push 2,000 toggle items each, then one
// goroutine pops and frees them all; entries[i] toggling 0<->1 under
// free_fn must end at 0 for every i.
func TestDelayedFreeBufferPushPop(t *testing.T) {
	var buf delayedFreeBuffer

	const numGoroutines = 4
	const perGoroutine = 2000
	entries := make([]int32, numGoroutines*perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				idx := base + i
				atomic.AddInt32(&entries[idx], 1)
				buf.push(delayedFreeItem{
					p: uintptr(idx + 1),
					freeFn: func(p uintptr) {
						atomic.AddInt32(&entries[p-1], -1)
					},
				})
			}
		}(g * perGoroutine)
	}
	wg.Wait()

	for {
		item, ok := buf.pop()
		if !ok {
			break
		}
		item.freeFn(item.p)
	}

	for i, v := range entries {
		if v != 0 {
			t.Fatalf("entries[%d] = %d, want 0", i, v)
		}
	}
}

// TestDelayedFreeBufferGrowsAcrossChunks ensures a chunk list's tail
// extension is visible to every subsequent push once a chunk fills —
// the OQ-5 acquire/release pairing on delayedFreeChunk.next.
func TestDelayedFreeBufferGrowsAcrossChunks(t *testing.T) {
	var buf delayedFreeBuffer

	const n = delayedFreeChunkCells*2 + 17
	for i := 0; i < n; i++ {
		buf.push(delayedFreeItem{p: uintptr(i + 1), freeFn: func(uintptr) {}})
	}

	seen := make(map[uintptr]bool)
	for i := 0; i < n; i++ {
		item, ok := buf.pop()
		if !ok {
			t.Fatalf("pop %d: buffer drained early", i)
		}
		seen[item.p] = true
	}
	if len(seen) != n {
		t.Fatalf("saw %d distinct items, want %d", len(seen), n)
	}
}
