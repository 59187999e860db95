// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lfalloc provides a lock-free, fixed-size-class memory allocator
// and a lock-free FIFO queue built on the same hazard-pointer safe memory
// reclamation (SMR) scheme.
//
// The allocator is a descriptor-based slab design: each [SizeClass] packs
// one slot size into 16 KiB superblocks, and each [Heap] is a front end
// onto a size class, shared by the goroutines allocating from it, stealing
// small batches of slots ("credits")
// from an active superblock before falling back to a shared queue of
// partial superblocks. This is the same design Mono's SGen GC uses for its
// small-object allocator, adapted here to Go's garbage-collected pointers
// and its lack of pthread-style thread-local storage.
//
// # Registering a caller
//
// Every goroutine that calls into this package's lock-free data
// structures — allocating, freeing, or operating a queue — needs a
// [ThreadHandle], obtained once and reused for that goroutine's lifetime:
//
//	t := lfalloc.RegisterThread()
//	defer t.Unregister()
//
// The handle indexes a row of hazard-pointer slots. Go has no equivalent
// of the original design's implicit per-thread identity (goroutines are
// not OS threads and migrate between them at the runtime's discretion),
// so identity here is an explicit value the caller threads through every
// call rather than something the package infers.
//
// # Allocating
//
//	sc, err := lfalloc.NewSizeClass(64)
//	if err != nil {
//	    // slotSize exceeds what a superblock can express
//	}
//	h := lfalloc.NewHeap(sc)
//
//	t := lfalloc.RegisterThread()
//	defer t.Unregister()
//
//	addr := h.Alloc(t)
//	// ... use the slot at addr ...
//	lfalloc.Free(t, addr)
//
// Alloc never returns a zero address for a slot size within
// [MaxSmallSize]; it retries internally (active descriptor, then the
// shared partial queue, then a freshly mapped superblock) rather than
// surfacing transient contention to the caller.
//
// # Memory safety
//
// Concurrent lock-free structures in this package never free memory a
// concurrent reader might still be dereferencing. Retired descriptors and
// queue dummies pass through hazard.go's SMR machinery: a retiring
// goroutine checks every other registered goroutine's published hazard
// pointers and, if one still matches, parks the retiring object in a
// delayed-free buffer (delayedfree.go) instead of recycling it
// immediately. This mirrors the hazard-pointer scheme in
// original_source/hazard.c, reworked as an explicit free function plus a
// chunked delayed-free buffer instead of a fixed per-process array.
//
// # Deferred superblock reclaim
//
// An empty superblock's munmap is normally not performed on the Free() call
// that discovers the emptiness; it is queued (reclaim.go) instead. Only
// when that bounded queue is full does Free unmap the superblock itself,
// synchronously. Call [DrainReclaimed] periodically, or once
// at shutdown after [StopReclaiming], to actually release that memory
// back to the OS.
//
// # Diagnostics
//
// [CheckConsistency] walks a Heap's active descriptor, cached partial
// descriptor, and shared partial queue, and reports any invariant
// violation it finds. It is a diagnostic tool for tests and quiescent
// periods, not something to call alongside live allocation traffic — it
// drains the shared partial queue to inspect it.
package lfalloc
