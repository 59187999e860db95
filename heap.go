// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import "code.hybscloud.com/atomix"

// maxCredits is the largest number of slots a thread can claim from an
// active descriptor in one CAS, encoded in the low bits of heap.active
// (original_source/alloc.c MAX_CREDITS).
const maxCredits = 0x3f

// heap is one size class's allocation front end: the currently active
// descriptor (with stolen credits packed into its low bits) plus at most
// one partial descriptor held ready to avoid a queue round-trip.
// Grounded on original_source/alloc.c's struct _ProcHeap.
type heap struct {
	active  atomix.Uintptr // descriptor* | credits, see activePtr/activeCredits
	partial atomix.Uintptr // descriptor*, may be 0
	sc      *sizeClass
}

// activePtr masks off the credit bits to recover the descriptor pointer.
func activePtr(a uintptr) *descriptor {
	return (*descriptor)(unsafePointerFromUintptr(a &^ uintptr(maxCredits)))
}

// activeCredits extracts the credit count packed into a's low bits.
func activeCredits(a uintptr) uint32 {
	return uint32(a & maxCredits)
}

// activeMake packs a descriptor pointer and a credit count into one
// tagged uintptr.
func activeMake(d *descriptor, credits uint32) uintptr {
	return addrOf(d) | uintptr(credits&maxCredits)
}

// listGetPartial dequeues the next non-empty descriptor from the size
// class's shared partial queue, retiring any empty ones it encounters
// along the way. Grounded on original_source/alloc.c:list_get_partial.
func listGetPartial(id int, sc *sizeClass) *descriptor {
	for {
		d, ok := sc.partial.dequeue(id)
		if !ok {
			return nil
		}
		if loadAnchor(&d.anchor).state != stateEmpty {
			return d
		}
		descRetire(d)
	}
}

// listPutPartial enqueues desc onto its heap's size class partial queue,
// first resetting its queue link to qNextFree (a descriptor arrives here
// either fresh from a batch or after an earlier dequeue left it
// qNextInvalid). Grounded on original_source/alloc.c:list_put_partial.
func listPutPartial(id int, d *descriptor) {
	d.qNext.StoreRelease(qNextFree)
	d.heap.sc.partial.enqueue(id, d)
}

// listRemoveEmptyDesc scans the partial queue for empty descriptors and
// retires them, stopping once it has seen two non-empty ones (the same
// heuristic bound as the original, which only needs to make progress, not
// find every empty descriptor in one pass).
// Grounded on original_source/alloc.c:list_remove_empty_desc.
func listRemoveEmptyDesc(id int, sc *sizeClass) {
	numNonEmpty := 0
	for {
		d, ok := sc.partial.dequeue(id)
		if !ok {
			return
		}
		if loadAnchor(&d.anchor).state == stateEmpty {
			descRetire(d)
		} else {
			d.qNext.StoreRelease(qNextFree)
			sc.partial.enqueue(id, d)
			numNonEmpty++
			if numNonEmpty >= 2 {
				return
			}
		}
	}
}

// heapGetPartial claims the heap's single cached partial descriptor, or
// falls back to the size class's shared queue. Grounded on
// original_source/alloc.c:heap_get_partial.
func heapGetPartial(id int, h *heap) *descriptor {
	for {
		addr := h.partial.LoadAcquire()
		if addr == 0 {
			return listGetPartial(id, h.sc)
		}
		if h.partial.CompareAndSwapAcqRel(addr, 0) {
			return (*descriptor)(unsafePointerFromUintptr(addr))
		}
	}
}

// heapPutPartial installs desc as the heap's cached partial descriptor,
// demoting whatever was cached before it onto the shared queue. Grounded
// on original_source/alloc.c:heap_put_partial.
func heapPutPartial(id int, d *descriptor) {
	h := d.heap
	var prev uintptr
	for {
		prev = h.partial.LoadAcquire()
		if h.partial.CompareAndSwapAcqRel(prev, addrOf(d)) {
			break
		}
	}
	if prev != 0 {
		listPutPartial(id, (*descriptor)(unsafePointerFromUintptr(prev)))
	}
}

// removeEmptyDesc retires desc if it is still the heap's cached partial,
// otherwise defers to the shared queue's own empty-descriptor sweep.
// Grounded on original_source/alloc.c:remove_empty_desc.
func removeEmptyDesc(id int, h *heap, d *descriptor) {
	if h.partial.CompareAndSwapAcqRel(addrOf(d), 0) {
		descRetire(d)
	} else {
		listRemoveEmptyDesc(id, h.sc)
	}
}

// updateActive installs desc (with moreCredits-1 credits) as the heap's
// active descriptor if none is currently active; otherwise it returns the
// surplus credits to desc's anchor and demotes it to partial. Grounded on
// original_source/alloc.c:update_active.
func updateActive(id int, h *heap, d *descriptor, moreCredits uint32) {
	newActive := activeMake(d, moreCredits-1)
	if h.active.CompareAndSwapAcqRel(0, newActive) {
		return
	}

	for {
		oldA := loadAnchor(&d.anchor)
		newA := oldA
		newA.count += moreCredits
		newA.state = statePartial
		newA.tag = oldA.tag + 1
		if casAnchor(&d.anchor, oldA, newA) {
			break
		}
	}

	heapPutPartial(id, d)
}
