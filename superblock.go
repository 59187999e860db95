// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

// Superblock layout. Grounded on original_source/alloc.c's SB_SIZE /
// SB_HEADER_SIZE / SB_HEADER_FOR_ADDR / DESCRIPTOR_FOR_ADDR macros: every
// superblock is sbSize-aligned and its first sbHeaderSize bytes store a
// back-pointer to the owning descriptor, so any slot address can find its
// descriptor with a mask-and-dereference instead of a lookup table.
//
// sbSize and sbHeaderSize are the literal sizing constants spec.md §6
// names (SB_SIZE = 16384 bytes, a 16-byte reserved header) — not the
// original C test program's scaled-down 4096/8 values, which exist there
// only to make its single-threaded smoke test fit one page.
const (
	sbSize       = 16384
	sbHeaderSize = 16
	sbUsableSize = sbSize - sbHeaderSize

	// maxSmallSize is the largest slot size the slab path serves (spec
	// §4.1's "requests above the largest size class"); newSizeClass
	// rejects bigger slot sizes, and this package has no fallback that
	// serves them from the OS provider.
	maxSmallSize = 8192 - 8
)

// sbHeaderForAddr masks any address within a superblock down to its
// header (first) address.
func sbHeaderForAddr(addr uintptr) uintptr {
	return addr &^ (sbSize - 1)
}

// descriptorForAddr dereferences the back-pointer stored at a
// superblock's header to recover its owning descriptor.
func descriptorForAddr(addr uintptr) *descriptor {
	header := sbHeaderForAddr(addr)
	return *(**descriptor)(unsafePointerFromUintptr(header))
}

// setDescriptorForAddr installs the back-pointer at a freshly allocated
// superblock's header.
func setDescriptorForAddr(header uintptr, d *descriptor) {
	*(**descriptor)(unsafePointerFromUintptr(header)) = d
	keepAlive(d)
}

// allocSB reserves one page-aligned superblock and stamps its header with
// a back-pointer to d. Grounded on original_source/alloc.c:alloc_sb.
func allocSB(d *descriptor) uintptr {
	header, err := osAllocAligned(sbSize, sbSize, true)
	if err != nil {
		panic(&ErrOutOfMemory{Op: "superblock-alloc", Size: sbSize, Err: err})
	}
	setDescriptorForAddr(header, d)
	return header + sbHeaderSize
}

// freeSB releases a superblock back to the OS synchronously. Grounded on
// original_source/alloc.c:free_sb. Callers on the EMPTY-transition hot
// path should prefer queueing the address via reclaim.go's deferred-unmap
// queue instead of calling this directly; see reclaimSB.
func freeSB(sb uintptr) {
	header := sbHeaderForAddr(sb)
	if err := osFree(header, sbSize); err != nil {
		panic(&ErrOutOfMemory{Op: "superblock-free", Size: sbSize, Err: err})
	}
}

// slotNext reads the intra-slot free-list link stored in the first 4
// bytes of a free slot.
func slotNext(addr uintptr) uint32 {
	return *(*uint32)(unsafePointerFromUintptr(addr))
}

// setSlotNext writes the intra-slot free-list link.
func setSlotNext(addr uintptr, next uint32) {
	*(*uint32)(unsafePointerFromUintptr(addr)) = next
}
