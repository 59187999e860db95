// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfalloc

import "fmt"

// osProt is a page protection mode, independent of the host OS's own
// constants (osmem_unix.go / osmem_windows.go translate it).
type osProt int

const (
	protNone osProt = iota
	protRead
	protReadWrite
)

// ErrOutOfMemory wraps a failure from the OS page provider. It is not a
// semantic/control-flow error (unlike ErrWouldBlock) — it represents a
// genuine resource exhaustion and is fatal: the superblock and hazard-table
// paths that call the OS provider (superblock.go, hazard.go) panic with it,
// and the panic propagates out of the public Alloc/Free call.
type ErrOutOfMemory struct {
	Op   string
	Size uintptr
	Err  error
}

func (e *ErrOutOfMemory) Error() string {
	return fmt.Sprintf("lfalloc: %s(%d bytes): %v", e.Op, e.Size, e.Err)
}

func (e *ErrOutOfMemory) Unwrap() error { return e.Err }

// osAlloc reserves size bytes, rounded up to a whole number of pages, from
// the OS. If activate is true the pages are mapped read-write; otherwise
// they are reserved PROT_NONE (promoted later page-by-page, used by the
// hazard table — see hazard.go).
func osAlloc(size uintptr, activate bool) (uintptr, error) {
	ps := pageSize()
	size = (size + ps - 1) &^ (ps - 1)
	prot := protNone
	if activate {
		prot = protReadWrite
	}
	addr, err := osMmap(size, prot)
	if err != nil {
		return 0, &ErrOutOfMemory{Op: "alloc", Size: size, Err: err}
	}
	return addr, nil
}

// osAllocAligned reserves size bytes aligned to alignment (a power of two)
// by over-allocating and trimming, matching the original allocator's
// mono_sgen_alloc_os_memory_aligned.
func osAllocAligned(size, alignment uintptr, activate bool) (uintptr, error) {
	raw, err := osAlloc(size+alignment, activate)
	if err != nil {
		return 0, err
	}

	aligned := (raw + alignment - 1) &^ (alignment - 1)

	if aligned > raw {
		if err := osFree(raw, aligned-raw); err != nil {
			return 0, &ErrOutOfMemory{Op: "trim-head", Size: aligned - raw, Err: err}
		}
	}
	tailStart := aligned + size
	rawEnd := raw + size + alignment
	if tailStart < rawEnd {
		if err := osFree(tailStart, rawEnd-tailStart); err != nil {
			return 0, &ErrOutOfMemory{Op: "trim-tail", Size: rawEnd - tailStart, Err: err}
		}
	}

	return aligned, nil
}

// osFree returns size bytes at addr (previously obtained from osAlloc or
// osAllocAligned) to the OS.
func osFree(addr, size uintptr) error {
	ps := pageSize()
	size = (size + ps - 1) &^ (ps - 1)
	return osMunmap(addr, size)
}

// osMprotect changes the protection of an already-reserved range. Used by
// the hazard table to promote pages from PROT_NONE to read-write as more
// threads register (hazard.go).
func osMprotect(addr, size uintptr, prot osProt) error {
	return osMprotectImpl(addr, size, prot)
}
