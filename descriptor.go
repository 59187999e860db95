// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import "code.hybscloud.com/atomix"

// descriptor owns one superblock's worth of fixed-size slots. Its Anchor
// word is the single CAS point for every slot-list mutation (spec §9).
// Grounded on original_source/alloc.c's struct _Descriptor. Unlike the
// original, a descriptor here is an ordinary heap-allocated Go object
// rather than a slab carved out of raw OS memory — the GC already tracks
// object lifetime for us, so batching only needs to amortize the
// descAvail CAS, not an mmap call.
type descriptor struct {
	heap     *heap
	anchor   atomix.Uint64 // packed anchor, see anchor.go
	slotSize uintptr
	maxCount uint32
	sb       uintptr // superblock payload address
	next     atomix.Uintptr
	inUse    atomix.Bool

	// qNext links this descriptor into its size class's partial queue
	// (queue.go). Distinct from next (the free-list link) because a
	// descriptor can be linked into the free list and, after reuse,
	// into the partial queue at different points in its life, but never
	// both at once — the two fields are never valid simultaneously, so
	// they could share storage, but keeping them separate avoids having
	// to reason about that.
	qNext atomix.Uintptr
}

// numDescBatch is how many descriptors one desc_avail refill carves up,
// amortizing the CAS that installs them (original_source/alloc.c
// NUM_DESC_BATCH).
const numDescBatch = 64

// descAvail is the global Treiber-stack head of retired descriptors
// awaiting reuse (original_source/alloc.c's desc_avail).
var descAvail atomix.Uintptr

// descAlloc pops a descriptor off the free list, batch-allocating a fresh
// set of them when the list is empty. Grounded on
// original_source/alloc.c:desc_alloc, using the hazardous-load idiom
// (hazard.go) in place of mono_thread_hazardous_load. id is the calling
// thread's registered small-id (ThreadHandle.id), supplying the hazard row
// to publish into.
func descAlloc(id int) *descriptor {
	row := hazardRowFor(id)

	for {
		addr := hpLoad(&descAvail, row, 1)
		var d *descriptor
		var success bool

		if addr != 0 {
			d = (*descriptor)(unsafePointerFromUintptr(addr))
			next := d.next.LoadAcquire()
			success = descAvail.CompareAndSwapAcqRel(addr, next)
		} else {
			batch := newDescriptorBatch()
			success = descAvail.CompareAndSwapAcqRel(0, batch.next.LoadAcquire())
			if success {
				d = batch
			}
		}

		hpClear(row, 1)

		if success {
			d.inUse.StoreRelease(true)
			return d
		}
		// Lost the race (either on the existing list or on installing a
		// fresh batch); any batch just allocated is dropped unused, but it
		// is not reclaimed by the GC: its links went through addrOf, which
		// registers each linked descriptor as a permanent keep-alive root.
	}
}

func newDescriptorBatch() *descriptor {
	descs := make([]descriptor, numDescBatch)
	for i := 0; i < numDescBatch-1; i++ {
		descs[i].next.StoreRelease(addrOf(&descs[i+1]))
	}
	return &descs[0]
}

// descEnqueueAvail pushes a retired, now-unused descriptor back onto the
// free list. Grounded on original_source/alloc.c:desc_enqueue_avail.
// Passed as the free function to hazardousFreeOrQueue.
func descEnqueueAvail(addr uintptr) {
	d := (*descriptor)(unsafePointerFromUintptr(addr))
	for {
		oldHead := descAvail.LoadAcquire()
		d.next.StoreRelease(oldHead)
		if descAvail.CompareAndSwapAcqRel(oldHead, addr) {
			return
		}
	}
}

// descRetire marks desc unused and schedules it for reuse once no hazard
// pointer protects it. Grounded on original_source/alloc.c:desc_retire.
func descRetire(d *descriptor) {
	d.inUse.StoreRelease(false)
	hazardousFreeOrQueue(addrOf(d), descEnqueueAvail)
}
