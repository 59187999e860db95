// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import (
	"sync"
	"unsafe"
)

// unsafePointerFromUintptr and addrOf convert between a raw address and a
// typed Go pointer at the boundaries where the allocator stores Go object
// addresses in atomix.Uintptr words (descriptor free-list links,
// delayed-free chunk links, SB back-pointers). Kept as named helpers
// rather than inlined casts so every such boundary greps as one name.
func unsafePointerFromUintptr(p uintptr) unsafe.Pointer {
	return unsafe.Pointer(p) //nolint:govet
}

// addrOf returns the address of a Go pointer as a uintptr, suitable for
// storing in an atomix.Uintptr word, and registers the pointer with the
// GC keep-alive root so the collector never reclaims it while only a
// uintptr — invisible to the GC — still references it.
func addrOf[T any](p *T) uintptr {
	keepAlive(p)
	return uintptr(unsafe.Pointer(p))
}

// keepAliveRoots anchors every Go object whose address has ever been
// stored in an atomix.Uintptr word (Treiber-stack and free-list links
// throughout this package). Registration happens once per object at
// creation, off the hot path; the mutex here is bookkeeping only, never
// held across a CAS loop.
var (
	keepAliveMu    sync.Mutex
	keepAliveRoots []any
)

func keepAlive(p any) {
	keepAliveMu.Lock()
	keepAliveRoots = append(keepAliveRoots, p)
	keepAliveMu.Unlock()
}
