// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import "fmt"

// DescriptorReport describes one descriptor's state as found by
// CheckConsistency. Grounded on original_source/alloc.c's
// descriptor_check_consistency, reworked to accumulate findings into a
// value the caller can inspect and test against instead of asserting or
// printing directly.
type DescriptorReport struct {
	Addr     uintptr
	State    string
	Count    int
	MaxCount int
	Issues   []string
}

// Consistent reports whether this descriptor's report carries no issues.
func (r DescriptorReport) Consistent() bool { return len(r.Issues) == 0 }

// HeapReport describes one Heap's state as found by CheckConsistency.
// Grounded on original_source/alloc.c's heap_check_consistency. Unlike
// the original, draining the shared partial queue to inspect it does
// remove those descriptors from service for the call's duration — this
// is a diagnostic operation, meant for quiescent periods (tests,
// shutdown), not for use alongside live Alloc/Free traffic.
type HeapReport struct {
	Active  *DescriptorReport
	Partial *DescriptorReport
	Queued  []DescriptorReport
}

// Consistent reports whether every descriptor this report examined came
// back free of issues.
func (r HeapReport) Consistent() bool {
	if r.Active != nil && !r.Active.Consistent() {
		return false
	}
	if r.Partial != nil && !r.Partial.Consistent() {
		return false
	}
	for _, d := range r.Queued {
		if !d.Consistent() {
			return false
		}
	}
	return true
}

// checkDescriptorConsistency walks d's intra-superblock free list and
// validates it against d's anchor, the way
// original_source/alloc.c:descriptor_check_consistency does with its
// linked[] bitmap, but collecting findings instead of asserting.
func checkDescriptorConsistency(d *descriptor, moreCredits uint32) DescriptorReport {
	a := loadAnchor(&d.anchor)
	maxCount := int(sbUsableSize / d.slotSize)
	count := int(a.count) + int(moreCredits)

	r := DescriptorReport{
		Addr:     d.sb,
		State:    a.state.String(),
		Count:    count,
		MaxCount: maxCount,
	}

	if d.heap != nil && d.slotSize != d.heap.sc.slotSize {
		r.Issues = append(r.Issues, "slot size doesn't match size class")
	}

	switch a.state {
	case stateActive:
		if count > maxCount {
			r.Issues = append(r.Issues, fmt.Sprintf("count too high: is %d but max is %d", count, maxCount))
		}
	case stateFull:
		if count != 0 {
			r.Issues = append(r.Issues, fmt.Sprintf("count is not zero: %d", count))
		}
	case statePartial:
		if count >= maxCount {
			r.Issues = append(r.Issues, fmt.Sprintf("count too high: is %d but must be below %d", count, maxCount))
		}
	case stateEmpty:
		if count != maxCount {
			r.Issues = append(r.Issues, fmt.Sprintf("count is wrong: is %d but should be %d", count, maxCount))
		}
	default:
		r.Issues = append(r.Issues, "invalid state")
	}

	linked := make([]bool, maxCount)
	index := int(a.avail)
	last := -1
	for i := 0; i < count; i++ {
		if index < 0 || index >= maxCount {
			r.Issues = append(r.Issues, fmt.Sprintf(
				"index %d for %dth available slot, linked from %d, not in range [0..%d)",
				index, i, last, maxCount))
			break
		}
		if linked[index] {
			r.Issues = append(r.Issues, fmt.Sprintf("%dth available slot %d linked twice", i, index))
			break
		}
		linked[index] = true
		last = index
		addr := d.sb + uintptr(index)*d.slotSize
		index = int(slotNext(addr))
	}

	return r
}

// CheckConsistency walks heapHandle's active descriptor, its cached
// partial descriptor, and every descriptor currently queued on its size
// class's shared partial queue, reporting any invariant violation found
// in each. t supplies the hazard row the queue drain publishes into.
//
// Grounded on original_source/alloc.c:heap_check_consistency, with the
// original's final "heap consistent" print + exit(0) replaced by a
// returned HeapReport the caller decides what to do with — a debug tool
// that calls exit() out from under its caller has no place in a library
// (see DESIGN.md).
func CheckConsistency(t *ThreadHandle, heapHandle *Heap) HeapReport {
	h := heapHandle.h
	id := t.id
	var report HeapReport

	if activeAddr := h.active.LoadAcquire(); activeAddr != 0 {
		active := activePtr(activeAddr)
		credits := activeCredits(activeAddr)
		r := checkDescriptorConsistency(active, credits+1)
		if loadAnchor(&active.anchor).state != stateActive {
			r.Issues = append(r.Issues, "active descriptor not in ACTIVE state")
		}
		report.Active = &r
	}

	if partialAddr := h.partial.LoadAcquire(); partialAddr != 0 {
		partial := (*descriptor)(unsafePointerFromUintptr(partialAddr))
		r := checkDescriptorConsistency(partial, 0)
		if loadAnchor(&partial.anchor).state != statePartial {
			r.Issues = append(r.Issues, "cached partial descriptor not in PARTIAL state")
		}
		report.Partial = &r
	}

	var drained []*descriptor
	for {
		d, ok := h.sc.partial.dequeue(id)
		if !ok {
			break
		}
		drained = append(drained, d)
		st := loadAnchor(&d.anchor).state
		r := checkDescriptorConsistency(d, 0)
		if st != statePartial && st != stateEmpty {
			r.Issues = append(r.Issues, "queued descriptor neither PARTIAL nor EMPTY")
		}
		report.Queued = append(report.Queued, r)
	}

	// Put every inspected descriptor back on the shared queue.
	for _, d := range drained {
		d.qNext.StoreRelease(qNextFree)
		h.sc.partial.enqueue(id, d)
	}

	return report
}
