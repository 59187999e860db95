// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// cellState is a delayed-free cell's position in its own tiny state
// machine, independent of the anchor/descriptor state machine above it.
// Grounded on original_source/delayed-free.c's STATE_FREE/STATE_USED/
// STATE_BUSY.
type cellState uint32

const (
	cellFree cellState = iota
	cellUsed
	cellBusy
)

type delayedFreeItem struct {
	p      uintptr
	freeFn func(uintptr)
}

// delayedFreeCell is one entry slot, addressed by index rather than found
// by scanning — see delayedFreeBuffer. Grounded on delayed-free.c's Entry.
type delayedFreeCell struct {
	state  atomix.Uint32
	p      atomix.Uintptr
	freeFn func(uintptr)
}

// delayedFreeChunk is one fixed-size slab of cells. Chunks are linked so
// the buffer can grow without ever moving existing cells (no cell's
// address, once handed out, may change — other goroutines may be
// spinning on it). Grounded on delayed-free.c's Chunk.
type delayedFreeChunk struct {
	cells []delayedFreeCell
	next  atomix.Uintptr // *delayedFreeChunk, 0 if none
}

const delayedFreeChunkCells = 512

// delayedFreeBuffer is an unbounded lock-free set of pending frees whose
// target pointer was still hazardous at enqueue time (spec §4.2's
// delayed-free buffer referenced by hazardousFreeOrQueue/tryFreeAll).
//
// Grounded on original_source/delayed-free.c: numUsed is the original's
// num_used_entries, the count of claimed entries; push raises it and pop
// lowers it. push claims the
// next slot with a fetch-add (InterlockedIncrement), pop claims the top
// slot with a CAS-decrement loop (the original's do/while on
// InterlockedCompareExchange) — neither ever scans the chunk list for a
// free or used cell; getEntry resolves an index straight to its cell,
// growing the chunk list on demand.
type delayedFreeBuffer struct {
	head    atomix.Uintptr // *delayedFreeChunk
	numUsed atomix.Int32
}

func (b *delayedFreeBuffer) firstChunk() *delayedFreeChunk {
	for {
		h := b.head.LoadAcquire()
		if h != 0 {
			return (*delayedFreeChunk)(unsafePointerFromUintptr(h))
		}
		c := &delayedFreeChunk{cells: make([]delayedFreeCell, delayedFreeChunkCells)}
		addr := addrOf(c)
		if b.head.CompareAndSwapAcqRel(0, addr) {
			return c
		}
	}
}

func (b *delayedFreeBuffer) growChunk(c *delayedFreeChunk) *delayedFreeChunk {
	for {
		n := c.next.LoadAcquire()
		if n != 0 {
			return (*delayedFreeChunk)(unsafePointerFromUintptr(n))
		}
		nc := &delayedFreeChunk{cells: make([]delayedFreeCell, delayedFreeChunkCells)}
		addr := addrOf(nc)
		if c.next.CompareAndSwapAcqRel(0, addr) {
			return nc
		}
	}
}

// getEntry resolves a global entry index to its cell, walking (and, if
// necessary, extending) the chunk list. Grounded on delayed-free.c's
// get_entry.
func (b *delayedFreeBuffer) getEntry(index int) *delayedFreeCell {
	c := b.firstChunk()
	for index >= len(c.cells) {
		index -= len(c.cells)
		c = b.growChunk(c)
	}
	return &c.cells[index]
}

// push claims the next index via fetch-add and installs item there,
// spin-waiting only in the (normally instantaneous) case that a
// concurrent pop is still vacating that same cell. Grounded on
// delayed-free.c:mono_delayed_free_push.
func (b *delayedFreeBuffer) push(item delayedFreeItem) {
	index := int(b.numUsed.AddAcqRel(1)) - 1
	cell := b.getEntry(index)

	sw := spin.Wait{}
	for !cell.state.CompareAndSwapAcqRel(uint32(cellFree), uint32(cellBusy)) {
		sw.Once()
	}

	cell.p.StoreRelease(item.p)
	cell.freeFn = item.freeFn
	cell.state.StoreRelease(uint32(cellUsed))
}

// pop claims the top index via a CAS-decrement loop and returns its item,
// or (zero, false) if the buffer is empty. Grounded on
// delayed-free.c:mono_delayed_free_pop.
func (b *delayedFreeBuffer) pop() (delayedFreeItem, bool) {
	var index int32
	for {
		cur := b.numUsed.LoadAcquire()
		if cur == 0 {
			return delayedFreeItem{}, false
		}
		if b.numUsed.CompareAndSwapAcqRel(cur, cur-1) {
			index = cur - 1
			break
		}
	}

	cell := b.getEntry(int(index))

	sw := spin.Wait{}
	for !cell.state.CompareAndSwapAcqRel(uint32(cellUsed), uint32(cellBusy)) {
		sw.Once()
	}

	item := delayedFreeItem{p: cell.p.LoadAcquire(), freeFn: cell.freeFn}
	cell.state.StoreRelease(uint32(cellFree))
	return item, true
}
