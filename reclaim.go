// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// unmapRequest is one pending superblock munmap, queued so that the
// EMPTY-transition hot path (alloc.go's Free) doesn't pay for a syscall
// while holding no lock but plenty of contention on the anchor it just
// won. Grounded on the FAA-based SCQ bounded queue the rest of this
// package's lock-free data structures are not — MPMC[T] below is kept
// nearly verbatim from the teacher's generic implementation, retyped to
// this one element.
type unmapRequest struct {
	addr uintptr
	size uintptr
}

// reclaimCapacity bounds how many pending unmaps the queue holds before
// Free falls back to a synchronous osFree on the calling goroutine.
const reclaimCapacity = 4096

var reclaimQueue = newMPMC[unmapRequest](reclaimCapacity)

// reclaimSB queues sb's superblock for asynchronous unmapping, falling
// back to a synchronous free if the queue is momentarily full. This
// replaces original_source/alloc.c:free_sb's direct
// mono_sgen_free_os_memory call on the Free() hot path; see SPEC_FULL.md
// §4 "Deferred-unmap queue".
func reclaimSB(sb uintptr) {
	req := unmapRequest{addr: sbHeaderForAddr(sb), size: sbSize}
	if err := reclaimQueue.Enqueue(&req); err != nil {
		freeSB(sb)
	}
}

// DrainReclaimed processes every currently queued deferred unmap. Call it
// periodically from a background goroutine (or once, at shutdown, after
// calling StopReclaiming) — the allocator itself never calls this, since
// doing the unmap work is explicitly not on any allocation/free hot path.
func DrainReclaimed() {
	for {
		req, err := reclaimQueue.Dequeue()
		if err != nil {
			return
		}
		_ = osFree(req.addr, req.size)
	}
}

// StopReclaiming marks the reclaim queue as draining: no more superblocks
// should be queued after this is called, and DrainReclaimed will empty it
// without the livelock-prevention threshold holding consumers back.
func StopReclaiming() {
	reclaimQueue.Drain()
}

// mpmc is an FAA-based multi-producer multi-consumer bounded queue.
//
// Based on the SCQ (Scalable Circular Queue) algorithm by Nikolaev (DISC 2019).
// Uses Fetch-And-Add to blindly increment position counters, requiring 2n
// physical slots for capacity n. This approach scales better under high
// contention compared to CAS-based alternatives — the property that
// matters here, since every freeing goroutine in the process feeds this
// one queue.
//
// Cycle-based slot validation provides ABA safety: each slot tracks which
// "cycle" (round) it belongs to via cycle = position / capacity.
type mpmc[T any] struct {
	_         pad
	tail      atomix.Uint64 // Producer index (FAA)
	_         pad
	head      atomix.Uint64 // Consumer index (FAA)
	_         pad
	threshold atomix.Int64 // Livelock prevention for dequeue
	_         pad
	draining  atomix.Bool // Drain mode: skip threshold check
	_         pad
	buffer    []mpmcSlot[T]
	capacity  uint64 // n (usable capacity)
	size      uint64 // 2n (physical slots)
	mask      uint64 // 2n - 1
}

type mpmcSlot[T any] struct {
	cycle atomix.Uint64 // Round number for this slot
	data  T
	_     padShort // Pad to cache line
}

// newMPMC creates a new FAA-based MPMC queue. Capacity rounds up to the
// next power of 2; physical slot count is 2n for capacity n (SCQ
// requirement).
func newMPMC[T any](capacity int) *mpmc[T] {
	if capacity < 2 {
		panic("lfalloc: capacity must be >= 2")
	}

	n := uint64(roundToPow2(capacity))
	size := n * 2

	q := &mpmc[T]{
		buffer:   make([]mpmcSlot[T], size),
		capacity: n,
		size:     size,
		mask:     size - 1,
	}

	q.threshold.StoreRelaxed(3*int64(n) - 1)

	for i := uint64(0); i < size; i++ {
		q.buffer[i].cycle.StoreRelaxed(i / n)
	}

	return q
}

// Enqueue adds an element to the queue. Returns ErrWouldBlock if full.
func (q *mpmc[T]) Enqueue(elem *T) error {
	sw := spin.Wait{}
	for {
		tail := q.tail.LoadAcquire()
		head := q.head.LoadAcquire()
		if tail >= head+q.capacity {
			return ErrWouldBlock
		}

		myTail := q.tail.AddAcqRel(1) - 1

		slot := &q.buffer[myTail&q.mask]
		expectedCycle := myTail / q.capacity

		slotCycle := slot.cycle.LoadAcquire()

		if slotCycle == expectedCycle {
			slot.data = *elem
			slot.cycle.StoreRelease(expectedCycle + 1)
			q.threshold.StoreRelaxed(3*int64(q.capacity) - 1)
			return nil
		}

		if int64(slotCycle) < int64(expectedCycle) {
			return ErrWouldBlock
		}

		sw.Once()
	}
}

// Drain signals that no more enqueues will occur, so Dequeue can skip the
// livelock-prevention threshold check.
func (q *mpmc[T]) Drain() {
	q.draining.StoreRelease(true)
}

// Dequeue removes and returns an element. Returns ErrWouldBlock if empty.
func (q *mpmc[T]) Dequeue() (T, error) {
	if !q.draining.LoadAcquire() && q.threshold.LoadRelaxed() < 0 {
		var zero T
		return zero, ErrWouldBlock
	}

	sw := spin.Wait{}
	for {
		myHead := q.head.AddAcqRel(1) - 1

		slot := &q.buffer[myHead&q.mask]
		expectedCycle := myHead/q.capacity + 1
		slotCycle := slot.cycle.LoadAcquire()

		if slotCycle == expectedCycle {
			elem := slot.data
			var zero T
			slot.data = zero
			nextEnqCycle := (myHead + q.size) / q.capacity
			slot.cycle.StoreRelease(nextEnqCycle)
			return elem, nil
		}

		if int64(slotCycle) < int64(expectedCycle) {
			nextEnqCycle := (myHead + q.size) / q.capacity
			slot.cycle.CompareAndSwapAcqRel(slotCycle, nextEnqCycle)

			tail := q.tail.LoadAcquire()
			if tail <= myHead+1 {
				q.catchup(tail, myHead+1)
				q.threshold.AddAcqRel(-1)
				var zero T
				return zero, ErrWouldBlock
			}
			if q.threshold.AddAcqRel(-1) <= 0 && !q.draining.LoadAcquire() {
				var zero T
				return zero, ErrWouldBlock
			}
		}
		sw.Once()
	}
}

func (q *mpmc[T]) catchup(tail, head uint64) {
	for tail < head {
		if q.tail.CompareAndSwapRelaxed(tail, head) {
			break
		}
		tail = q.tail.LoadRelaxed()
		head = q.head.LoadRelaxed()
	}
}

// Cap returns the queue capacity.
func (q *mpmc[T]) Cap() int {
	return int(q.capacity)
}
