// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

// Heap is one allocation front end for a single size class (spec §1
// Non-goals: each instance serves exactly one size class). Construct one
// with NewHeap and share it across every goroutine allocating that size.
type Heap struct {
	h  *heap
	sc *sizeClass
}

// NewSizeClass builds the slot-size metadata and shared partial queue a
// Heap needs. slotSize must be in [16, MaxSmallSize]: smaller sizes would
// put more than 1024 slots in a superblock. Grounded on
// original_source/alloc.c's init_heap (TEST_SIZE/test_sc setup).
func NewSizeClass(slotSize uintptr) (*SizeClass, error) {
	sc, err := newSizeClass(slotSize)
	if err != nil {
		return nil, err
	}
	return &SizeClass{sc: sc}, nil
}

// SizeClass is the public handle for a slot size shared by every Heap
// built on top of it.
type SizeClass struct {
	sc *sizeClass
}

// SlotSize returns the fixed slot size this class serves.
func (s *SizeClass) SlotSize() uintptr { return s.sc.slotSize }

// NewHeap builds a Heap bound to sc. Grounded on
// original_source/alloc.c's find_heap.
func NewHeap(sc *SizeClass) *Heap {
	return &Heap{h: newHeap(sc.sc), sc: sc.sc}
}

// MaxSmallSize is the largest request size the slab path serves; larger
// requests should go straight to the OS provider (spec §6).
const MaxSmallSize = maxSmallSize

// Alloc carves one slot out of the heap, retrying internally until it
// succeeds — it never returns an error for sizes within the size class
// (spec §6: "never returns null for sizes ≤ MAX_SMALL_SIZE"). t is the
// calling goroutine's registered handle (see RegisterThread); every
// hazardous load this call performs publishes into that handle's row.
//
// Grounded on original_source/alloc.c:mono_lock_free_alloc, collapsing
// its OS-passthrough branch for oversize requests into the caller's
// responsibility (callers route those to osAlloc themselves — a Heap is
// already bound to one size class's slot size, so there is nothing to
// branch on here).
func (heapHandle *Heap) Alloc(t *ThreadHandle) uintptr {
	h := heapHandle.h
	id := t.id
	for {
		if addr := allocFromActive(id, h); addr != 0 {
			return addr
		}
		if addr := allocFromPartial(id, h); addr != 0 {
			return addr
		}
		if addr := allocFromNewSB(id, h); addr != 0 {
			return addr
		}
	}
}

// allocFromActive is the alloc fast path (spec §4.4.1): steal a credit
// from heap.active, or claim the whole descriptor if the credits are
// exhausted, then carve a slot from its intra-SB free list.
func allocFromActive(id int, h *heap) uintptr {
	var oldActive, newActive uintptr
	var oldCredits uint32
	for {
		oldActive = h.active.LoadAcquire()
		if oldActive == 0 {
			return 0
		}
		oldCredits = activeCredits(oldActive)
		if oldCredits == 0 {
			newActive = 0
		} else {
			newActive = activeMake(activePtr(oldActive), oldCredits-1)
		}
		if h.active.CompareAndSwapAcqRel(oldActive, newActive) {
			break
		}
	}

	d := activePtr(oldActive)

	var moreCredits uint32
	var addr uintptr
	for {
		oldA := loadAnchor(&d.anchor)
		newA := oldA

		addr = d.sb + uintptr(oldA.avail)*d.slotSize
		next := slotNext(addr)
		if uintptr(next) >= sbUsableSize/d.slotSize {
			continue
		}
		newA.avail = next
		newA.tag = oldA.tag + 1

		if oldCredits == 0 {
			if oldA.count == 0 {
				newA.state = stateFull
			} else {
				moreCredits = oldA.count
				if moreCredits > maxCredits {
					moreCredits = maxCredits
				}
				newA.count -= moreCredits
			}
		}
		if casAnchor(&d.anchor, oldA, newA) {
			if oldCredits == 0 && oldA.count > 0 {
				updateActive(id, h, d, moreCredits)
			}
			return addr
		}
	}
}

// allocFromPartial is spec §4.4.2: claim a partial descriptor (from the
// heap's single cached slot, else the size class's shared queue), take as
// many credits as it can give up, and carve a slot.
func allocFromPartial(id int, h *heap) uintptr {
retry:
	d := heapGetPartial(id, h)
	if d == nil {
		return 0
	}
	d.heap = h

	var moreCredits uint32
	for {
		oldA := loadAnchor(&d.anchor)
		if oldA.state == stateEmpty {
			descRetire(d)
			goto retry
		}
		newA := oldA
		moreCredits = oldA.count - 1
		if moreCredits > maxCredits {
			moreCredits = maxCredits
		}
		newA.count -= moreCredits + 1
		if moreCredits > 0 {
			newA.state = stateActive
		} else {
			newA.state = stateFull
		}
		newA.tag = oldA.tag + 1
		if casAnchor(&d.anchor, oldA, newA) {
			break
		}
	}

	var addr uintptr
	for {
		oldA := loadAnchor(&d.anchor)
		newA := oldA

		addr = d.sb + uintptr(oldA.avail)*d.slotSize
		next := slotNext(addr)
		if uintptr(next) >= sbUsableSize/d.slotSize {
			// Another thread may have carved and overwritten this slot
			// between our snapshot and this read; the anchor's tag, not
			// this read, linearises the decision (spec §9 "Slot
			// poisoning under ABA"). Retry the anchor CAS loop.
			continue
		}
		newA.avail = next
		newA.tag = oldA.tag + 1
		if casAnchor(&d.anchor, oldA, newA) {
			break
		}
	}

	if moreCredits > 0 {
		updateActive(id, h, d, moreCredits)
	}
	return addr
}

// allocFromNewSB is spec §4.4.3: acquire a fresh descriptor and
// superblock, thread the intra-SB free list, and try to install the
// result as the heap's active descriptor.
func allocFromNewSB(id int, h *heap) uintptr {
	d := descAlloc(id)
	d.sb = allocSB(d)

	slotSize := h.sc.slotSize
	d.slotSize = slotSize
	count := sbUsableSize / slotSize

	for i := uintptr(1); i < count-1; i++ {
		setSlotNext(d.sb+i*slotSize, uint32(i+1))
	}

	d.heap = h
	d.maxCount = uint32(count)

	credits := count - 1
	if credits > maxCredits {
		credits = maxCredits
	}
	credits--

	newActive := activeMake(d, uint32(credits))

	d.anchor.StoreRelease(anchor{
		avail: 1,
		count: uint32((count - 1) - (credits + 1)),
		state: stateActive,
		tag:   0,
	}.pack())

	if h.active.CompareAndSwapAcqRel(0, newActive) {
		return d.sb
	}

	freeSB(d.sb)
	a := loadAnchor(&d.anchor)
	a.state = stateEmpty
	d.anchor.StoreRelease(a.pack())
	descRetire(d)
	return 0
}

// Free returns a previously allocated slot to its descriptor, retiring the
// descriptor (and its superblock) if this was the descriptor's last
// outstanding slot. t is the calling goroutine's registered handle.
//
// Grounded on original_source/alloc.c:mono_lock_free_free. The descriptor
// is recovered from the superblock header back-pointer — no size argument
// is needed, matching the original's DESCRIPTOR_FOR_ADDR lookup.
func Free(t *ThreadHandle, ptr uintptr) {
	id := t.id
	d := descriptorForAddr(ptr)
	sb := d.sb

	var newA anchor
	var h *heap
	for {
		oldA := loadAnchor(&d.anchor)
		newA = oldA

		setSlotNext(ptr, uint32(oldA.avail))
		newA.avail = uint32((ptr - sb) / d.slotSize)

		if oldA.state == stateFull {
			newA.state = statePartial
		}

		newA.count++
		if newA.count == d.maxCount {
			h = d.heap
			newA.state = stateEmpty
		}
		newA.tag = oldA.tag + 1

		oldState := oldA.state
		if casAnchor(&d.anchor, oldA, newA) {
			if newA.state == stateEmpty {
				reclaimSB(sb)
				removeEmptyDesc(id, h, d)
			} else if oldState == stateFull {
				heapPutPartial(id, d)
			}
			return
		}
	}
}
