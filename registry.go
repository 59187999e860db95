// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// ThreadHandle is a registered caller's dense small-id, the index into
// the hazard-pointer table (hazard.go) that every Alloc/Free/queue
// operation publishes into. Register one per goroutine that will call
// into this package and reuse it for that goroutine's whole lifetime —
// Go has no native thread-local storage, so unlike the original design's
// implicit per-pthread identity, the id here is an explicit value the
// caller threads through its own calls (spec §6 "Thread registry
// (consumed)"; see DESIGN.md's Open Question on this departure).
type ThreadHandle struct {
	id int
}

// ID returns the small-id backing this handle.
func (t *ThreadHandle) ID() int { return t.id }

// RegisterThread takes a small-id in [0, maxThreads) from the free-id pool
// and returns a handle indexing that row of hazard slots. It is not
// idempotent: every call hands out a fresh id not held by any other live
// handle; pass the same *ThreadHandle to every Alloc/Free call from that
// goroutine rather than calling RegisterThread per-op. The pool is FIFO,
// so an id released by Unregister is handed out again only after every id
// queued ahead of it; the lowest free id is not preferred.
//
// Grounded on original_source/hazard.c's mono_thread_hazardous_init /
// thread-local small-id assignment, reworked as an explicit free-id pool
// (registry.go) built on the teacher's compact indirect MPMC queue
// instead of pthread TLS.
func RegisterThread() *ThreadHandle {
	id, err := threadIDPool.dequeue()
	if err != nil {
		panic("lfalloc: thread registry exhausted (MAX_THREADS reached)")
	}
	bumpHighestRegistered(int(id))
	return &ThreadHandle{id: int(id)}
}

// Unregister returns the handle's small-id to the free pool. The caller
// must not use the handle again afterward, and must ensure no hazard slot
// in its row is still published.
func (t *ThreadHandle) Unregister() {
	threadIDPool.enqueue(uintptr(t.id))
}

// bumpHighestRegistered advances highest_registered_id to at least id,
// with a release fence, per spec §4.2's scan-algorithm requirement that
// the hint only ever grows and is visible to scanners via acquire loads.
func bumpHighestRegistered(id int) {
	for {
		cur := globalHazards.highest.LoadAcquire()
		if int64(id) <= cur {
			return
		}
		if globalHazards.highest.CompareAndSwapAcqRel(cur, int64(id)) {
			return
		}
	}
}

// threadIDPool is the process-wide free-small-id pool, pre-seeded with
// every id in [0, maxThreads).
var threadIDPool = newIDPool(maxThreads)

// idPool hands out and reclaims small-ids through a bounded compact
// indirect queue — the same algorithm the teacher uses for its general
// MPMCCompactIndirect, here dedicated to one element type (a small-id)
// rather than exposed as a generic uintptr queue.
type idPool struct {
	q *mpmcCompactIndirect
}

func newIDPool(n int) *idPool {
	q := newMPMCCompactIndirect(n)
	for i := 0; i < n; i++ {
		if err := q.enqueue(uintptr(i)); err != nil {
			panic("lfalloc: idPool pre-seed failed")
		}
	}
	return &idPool{q: q}
}

func (p *idPool) dequeue() (uintptr, error) { return p.q.dequeue() }
func (p *idPool) enqueue(id uintptr) error  { return p.q.enqueue(id) }

// emptyFlag marks a compact-queue slot as empty; the remaining 63 bits
// store the round number. Grounded on the teacher's MPMCCompactIndirect.
const emptyFlag = 1 << 63

// mpmcCompactIndirect is a compact MPMC queue for uintptr values.
//
// Uses round-based empty detection: empty slots store (emptyFlag |
// round), filled slots store the value directly. This achieves 8 bytes
// per slot while allowing any 63-bit value (including zero) to be
// enqueued — exactly what a dense small-id pool needs, since 0 is a
// perfectly good small-id.
type mpmcCompactIndirect struct {
	_        pad
	tail     atomix.Uint64
	_        pad
	head     atomix.Uint64
	_        pad
	buffer   []atomix.Uintptr
	mask     uint64
	capacity uint64
	order    uint64 // log2(capacity) for round calculation
}

// newMPMCCompactIndirect creates a new compact MPMC queue. Capacity
// rounds up to the next power of 2.
func newMPMCCompactIndirect(capacity int) *mpmcCompactIndirect {
	if capacity < 2 {
		panic("lfalloc: capacity must be >= 2")
	}

	n := uint64(roundToPow2(capacity))
	order := uint64(0)
	for (1 << order) < n {
		order++
	}

	q := &mpmcCompactIndirect{
		buffer:   make([]atomix.Uintptr, n),
		mask:     n - 1,
		capacity: n,
		order:    order,
	}

	for i := range q.buffer {
		q.buffer[i].StoreRelaxed(emptyFlag | 0)
	}

	return q
}

// enqueue adds a value to the queue. Returns ErrWouldBlock if full.
// Values must fit in 63 bits (high bit must be 0).
func (q *mpmcCompactIndirect) enqueue(elem uintptr) error {
	if elem&emptyFlag != 0 {
		panic("lfalloc: value exceeds 63 bits")
	}

	sw := spin.Wait{}
	for {
		tail := q.tail.LoadAcquire()
		head := q.head.LoadAcquire()
		if tail != q.tail.LoadAcquire() {
			continue
		}
		if tail >= head+q.capacity {
			return ErrWouldBlock
		}

		idx := tail & q.mask
		round := (tail >> q.order) & (emptyFlag - 1)
		expected := emptyFlag | uintptr(round)

		if q.buffer[idx].CompareAndSwapAcqRel(expected, elem) {
			q.tail.CompareAndSwapAcqRel(tail, tail+1)
			return nil
		}
		q.tail.CompareAndSwapAcqRel(tail, tail+1)
		sw.Once()
	}
}

// dequeue removes and returns a value. Returns (0, ErrWouldBlock) if empty.
func (q *mpmcCompactIndirect) dequeue() (uintptr, error) {
	sw := spin.Wait{}
	for {
		head := q.head.LoadAcquire()
		tail := q.tail.LoadAcquire()

		idx := head & q.mask
		elem := q.buffer[idx].LoadAcquire()
		if head != q.head.LoadAcquire() {
			continue
		}
		if head >= tail {
			return 0, ErrWouldBlock
		}
		nextRound := ((head >> q.order) + 1) & (emptyFlag - 1)
		nextEmpty := emptyFlag | uintptr(nextRound)
		if elem == nextEmpty {
			q.head.CompareAndSwapAcqRel(head, head+1)
			continue
		}
		if elem&emptyFlag != 0 {
			sw.Once()
			continue
		}
		if q.buffer[idx].CompareAndSwapAcqRel(elem, nextEmpty) {
			q.head.CompareAndSwapAcqRel(head, head+1)
			return elem, nil
		}

		q.head.CompareAndSwapAcqRel(head, head+1)
		sw.Once()
	}
}

// cap returns the queue capacity.
func (q *mpmcCompactIndirect) cap() int {
	return int(q.capacity)
}
