// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import "testing"

// TestDescAllocFreeListDisjoint covers property 4: a descriptor just
// handed out by descAlloc must not still be reachable from the global
// free list.
func TestDescAllocFreeListDisjoint(t *testing.T) {
	th := RegisterThread()
	defer th.Unregister()

	d := descAlloc(th.id)

	for addr := descAvail.LoadAcquire(); addr != 0; {
		cur := (*descriptor)(unsafePointerFromUintptr(addr))
		if cur == d {
			t.Fatal("descriptor handed out by descAlloc is still on the free list")
		}
		addr = cur.next.LoadAcquire()
	}

	descRetire(d)
}

// TestFreeListAcyclicity covers property 5: walking a fresh superblock's
// free list from anchor.avail visits count distinct slot indices, all
// within [0, maxCount).
func TestFreeListAcyclicity(t *testing.T) {
	sc, err := newSizeClass(64)
	if err != nil {
		t.Fatalf("newSizeClass: %v", err)
	}
	h := newHeap(sc)
	th := RegisterThread()
	defer th.Unregister()

	if addr := allocFromNewSB(th.id, h); addr == 0 {
		t.Fatal("allocFromNewSB returned 0")
	}

	activeAddr := h.active.LoadAcquire()
	if activeAddr == 0 {
		t.Fatal("no active descriptor after allocFromNewSB")
	}
	d := activePtr(activeAddr)

	a := loadAnchor(&d.anchor)
	maxCount := int(sbUsableSize / d.slotSize)

	visited := make(map[uint32]bool)
	index := a.avail
	for i := uint32(0); i < a.count; i++ {
		if int(index) >= maxCount {
			t.Fatalf("free-list index %d out of range [0, %d)", index, maxCount)
		}
		if visited[index] {
			t.Fatalf("free-list index %d visited twice (cycle)", index)
		}
		visited[index] = true
		addr := d.sb + uintptr(index)*d.slotSize
		index = slotNext(addr)
	}
}
