// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

// sizeClass is a slot size paired with the lock-free FIFO queue of
// partial descriptors shared by every heap allocating that size.
// Grounded on original_source/alloc.c's struct SizeClass.
type sizeClass struct {
	partial  *descQueue
	slotSize uintptr
}

// newSizeClass validates slotSize against the bounds a superblock can
// express (spec §6 sizing constants) and initializes its partial queue.
func newSizeClass(slotSize uintptr) (*sizeClass, error) {
	if slotSize == 0 || slotSize > maxSmallSize {
		return nil, errInvalidSlotSize
	}
	count := sbUsableSize / slotSize
	if count > maxSlotsPerSB {
		return nil, errInvalidSlotSize
	}
	return &sizeClass{
		slotSize: slotSize,
		partial:  newDescQueue(),
	}, nil
}

// newHeap builds one allocation front end for sc. Grounded on
// original_source/alloc.c's init_heap / find_heap (collapsed here into
// explicit construction — the allocator public surface, alloc.go, hands
// the caller one *Heap per size class rather than looking one up from a
// global table, since each instance here serves exactly one size class
// per spec §1 "Non-goals: multiple size classes in one allocator
// instance").
func newHeap(sc *sizeClass) *heap {
	return &heap{sc: sc}
}
