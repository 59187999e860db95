// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import (
	"fmt"
	"unsafe"

	"code.hybscloud.com/atomix"
)

// hazardPointerCount (K) is the number of hazard slots reserved per
// thread, fixed at 3 (spec §9, OQ-4). Slot 0 holds the MS-queue's
// hazardous head or tail load (one at a time), slot 1 the descriptor
// free-list head load; slot 2 is not used by this package.
const hazardPointerCount = 3

// maxThreads bounds the hazard table and the thread-registry small-id
// space (spec §6's MAX_THREADS).
const maxThreads = 16384

// hazardRow is one thread's row of published hazard pointers.
type hazardRow struct {
	slots [hazardPointerCount]atomix.Uintptr
}

// hazardTable is the process-wide SMR table: one row per registered
// thread, grown page-by-page as higher small-ids register (spec §4.2
// "Hazard-slot table growth").
type hazardTable struct {
	base          uintptr // reserved (PROT_NONE) base address, set once
	reservedBytes uintptr
	mappedRows    atomix.Uint64 // rows currently RW-mapped
	highest       atomix.Int64  // highest_registered_id, -1 if none
	rowSize       uintptr

	delayed delayedFreeBuffer
}

var globalHazards = newHazardTable()

func newHazardTable() *hazardTable {
	t := &hazardTable{rowSize: unsafe.Sizeof(hazardRow{})}
	t.highest.StoreRelaxed(-1)
	reserve := t.rowSize * uintptr(maxThreads)
	addr, err := osAlloc(reserve, false)
	if err != nil {
		panic(&ErrOutOfMemory{Op: "hazard-table-reserve", Size: reserve, Err: err})
	}
	t.base = addr
	t.reservedBytes = reserve
	return t
}

// row returns the hazard row for small-id id, growing (promoting pages to
// RW) if necessary. The caller must have already registered id.
func (t *hazardTable) row(id int) *hazardRow {
	t.ensureMapped(id)
	return (*hazardRow)(unsafe.Pointer(t.base + uintptr(id)*t.rowSize))
}

func (t *hazardTable) ensureMapped(id int) {
	ps := pageSize()
	rowsPerPage := ps / t.rowSize
	if rowsPerPage == 0 {
		rowsPerPage = 1
	}
	neededRows := (uint64(id)/uint64(rowsPerPage) + 1) * uint64(rowsPerPage)

	for {
		mapped := t.mappedRows.LoadAcquire()
		if neededRows <= mapped {
			return
		}
		newBytes := neededRows * uint64(t.rowSize)
		newBytes = (newBytes + uint64(ps) - 1) &^ (uint64(ps) - 1)
		if err := osMprotect(t.base, uintptr(newBytes), protReadWrite); err != nil {
			panic(&ErrOutOfMemory{Op: "hazard-table-promote", Size: uintptr(newBytes), Err: err})
		}
		if t.mappedRows.CompareAndSwapAcqRel(mapped, neededRows) {
			return
		}
	}
}

// debugPrintf is the one logging hook this module carries (SPEC_FULL
// §2.2). Tests may set it to capture the degraded-recovery diagnostic;
// production leaves it nil.
var debugPrintf func(format string, args ...any)

func logDegraded(format string, args ...any) {
	if debugPrintf != nil {
		debugPrintf(format, args...)
		return
	}
	fmt.Printf(format+"\n", args...)
}

var emergencyRow hazardRow

// hazardRowFor returns the hazard row for a registered thread, or a
// process-wide emergency row (with a diagnostic) for an unregistered one —
// the "thread not registered" degraded path of spec §7.
func hazardRowFor(id int) *hazardRow {
	if id < 0 {
		logDegraded("lfalloc: hazardous operation from an unregistered thread; using emergency row")
		return &emergencyRow
	}
	return globalHazards.row(id)
}

// hpSet publishes v into the calling thread's hazard slot i, with a
// release barrier (spec §4.2 hp_set).
func hpSet(row *hazardRow, i int, v uintptr) {
	row.slots[i].StoreRelease(v)
}

// hpClear retracts the calling thread's hazard slot i.
func hpClear(row *hazardRow, i int) {
	row.slots[i].StoreRelease(0)
}

// hpLoad performs the canonical hazardous-load idiom (spec §4.2 hp_load,
// §5 "hazardous-load idiom is mandatory"): publish the pointer, then
// re-read *pp to confirm it hasn't changed, retrying until it's stable.
func hpLoad(pp *atomix.Uintptr, row *hazardRow, i int) uintptr {
	for {
		p := pp.LoadAcquire()
		hpSet(row, i, p)
		if pp.LoadAcquire() != p {
			continue
		}
		return p
	}
}

// isPointerHazardous scans every registered row's K slots for p. Grounded
// on original_source/hazard-pointer.c:is_pointer_hazardous.
func isPointerHazardous(p uintptr) bool {
	if p == 0 {
		return false
	}
	highest := globalHazards.highest.LoadAcquire()
	for i := int64(0); i <= highest; i++ {
		row := globalHazards.row(int(i))
		for j := 0; j < hazardPointerCount; j++ {
			if row.slots[j].LoadAcquire() == p {
				return true
			}
		}
	}
	return false
}

// hazardousFreeOrQueue frees p via freeFn immediately if no hazard slot
// currently protects it, else defers the free until a later scan finds it
// safe (spec §4.2 hazardous_free_or_queue).
func hazardousFreeOrQueue(p uintptr, freeFn func(uintptr)) {
	for i := 0; i < 3; i++ {
		if !tryFreeOneDelayed() {
			break
		}
	}

	if isPointerHazardous(p) {
		globalHazards.delayed.push(delayedFreeItem{p: p, freeFn: freeFn})
		return
	}
	freeFn(p)
}

// tryFreeAll drains the delayed-free buffer, freeing every item no longer
// hazardous and pushing the still-hazardous ones back (spec §4.2
// try_free_all).
func tryFreeAll() {
	var keep []delayedFreeItem
	for {
		item, ok := globalHazards.delayed.pop()
		if !ok {
			break
		}
		if isPointerHazardous(item.p) {
			keep = append(keep, item)
			continue
		}
		item.freeFn(item.p)
	}
	for _, item := range keep {
		globalHazards.delayed.push(item)
	}
}

func tryFreeOneDelayed() bool {
	item, ok := globalHazards.delayed.pop()
	if !ok {
		return false
	}
	if isPointerHazardous(item.p) {
		globalHazards.delayed.push(item)
		return false
	}
	item.freeFn(item.p)
	return true
}
