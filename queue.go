// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import "code.hybscloud.com/atomix"

// Sentinel values for a dequeued node's q.next field. Any reserved
// non-zero, non-pointer-shaped constant works since descriptor addresses
// are never this small; 0 plays the role of the original's END_MARKER
// (end of list) and needs no separate name.
const (
	qNextFree    = uintptr(1) // FREE_NEXT: not currently linked into any queue
	qNextInvalid = uintptr(2) // INVALID: dequeued, not yet reclaimed
)

// descQueue is the lock-free FIFO queue a size class uses to hold partial
// descriptors (spec §4.1). It is the Michael–Scott algorithm with two
// departures from the textbook version, both required because queue
// nodes here are caller-owned (the *descriptor itself, not a node the
// queue allocates): ABA is ruled out with hazard pointers instead of an
// in-band counter, and the dummy is never returned to a caller — when it
// would be dequeued, a fresh dummy is swapped in from a small pool and
// the stale one is retired through SMR instead of freed.
//
// Grounded on original_source/queue.c (mono_lock_free_queue_*), extended
// per spec §4.1 with the dummy pool described there in place of the
// original's single self-re-enqueuing dummy.
type descQueue struct {
	head atomix.Uintptr // *descriptor
	tail atomix.Uintptr // *descriptor
	pool dummyPool
}

const dummyPoolSize = 8

// dummyPool hands out a small fixed set of placeholder descriptors used
// only as queue dummies — never returned from Dequeue, never carrying a
// live superblock.
type dummyPool struct {
	nodes [dummyPoolSize]descriptor
	taken [dummyPoolSize]atomix.Bool
}

func (p *dummyPool) claim() *descriptor {
	for {
		for i := range p.taken {
			if !p.taken[i].LoadAcquire() {
				if p.taken[i].CompareAndSwapAcqRel(false, true) {
					p.nodes[i].qNext.StoreRelease(qNextFree)
					return &p.nodes[i]
				}
			}
		}
	}
}

func (p *dummyPool) release(d *descriptor) {
	for i := range p.nodes {
		if &p.nodes[i] == d {
			p.taken[i].StoreRelease(false)
			return
		}
	}
}

func (p *dummyPool) owns(d *descriptor) bool {
	for i := range p.nodes {
		if &p.nodes[i] == d {
			return true
		}
	}
	return false
}

// newDescQueue initializes a queue with its first dummy already installed
// (spec §4.1 init).
func newDescQueue() *descQueue {
	q := &descQueue{}
	dummy := q.pool.claim()
	dummy.qNext.StoreRelease(0)
	addr := addrOf(dummy)
	q.head.StoreRelease(addr)
	q.tail.StoreRelease(addr)
	return q
}

// enqueue appends d to the tail of the queue. d must not currently be
// linked into any queue. Never blocks, never fails (spec §4.1 enqueue).
// id is the calling thread's registered small-id.
func (q *descQueue) enqueue(id int, d *descriptor) {
	row := hazardRowFor(id)
	if RaceEnabled {
		assertEqual(d.qNext.LoadAcquire(), qNextFree, "descQueue.enqueue: node already in a queue")
	}
	d.qNext.StoreRelease(0)

	var tailAddr uintptr
	for {
		tailAddr = hpLoad(&q.tail, row, 0)
		tail := (*descriptor)(unsafePointerFromUintptr(tailAddr))
		next := tail.qNext.LoadAcquire()

		if tailAddr != q.tail.LoadAcquire() {
			continue
		}
		if next == 0 {
			if tail.qNext.CompareAndSwapAcqRel(0, addrOf(d)) {
				break
			}
		} else {
			q.tail.CompareAndSwapAcqRel(tailAddr, next)
		}
	}
	q.tail.CompareAndSwapAcqRel(tailAddr, addrOf(d))
	hpClear(row, 0)
}

// dequeue removes and returns the head of the queue, or (nil, false) if
// empty. The returned descriptor is hazardous: the caller must not retire
// it without going through SMR (spec §4.1 dequeue). The queue's own dummy
// is never returned to the caller. id is the calling thread's registered
// small-id.
func (q *descQueue) dequeue(id int) (*descriptor, bool) {
	row := hazardRowFor(id)

retry:
	for {
		headAddr := hpLoad(&q.head, row, 0)
		tailAddr := q.tail.LoadAcquire()
		head := (*descriptor)(unsafePointerFromUintptr(headAddr))
		next := head.qNext.LoadAcquire()

		if headAddr != q.head.LoadAcquire() {
			continue
		}
		if headAddr == tailAddr {
			if next == 0 {
				hpClear(row, 0)
				return nil, false
			}
			q.tail.CompareAndSwapAcqRel(tailAddr, next)
		} else {
			if q.head.CompareAndSwapAcqRel(headAddr, next) {
				hpClear(row, 0)
				head.qNext.StoreRelease(qNextInvalid)

				if q.pool.owns(head) {
					fresh := q.pool.claim()
					fresh.qNext.StoreRelease(qNextFree)
					q.enqueue(id, fresh)
					hazardousFreeOrQueue(addrOf(head), func(addr uintptr) {
						q.pool.release((*descriptor)(unsafePointerFromUintptr(addr)))
					})
					goto retry
				}
				return head, true
			}
		}
		hpClear(row, 0)
	}
}

func assertEqual(got, want uintptr, msg string) {
	if got != want {
		panic(msg)
	}
}
