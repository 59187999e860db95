// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.
//
// Modifications (c) 2026, adapted for the lock-free slab allocator.

//go:build darwin || dragonfly || freebsd || linux || openbsd || solaris || netbsd

package lfalloc

import (
	"syscall"
	"unsafe"
)

func pageSize() uintptr {
	return uintptr(syscall.Getpagesize())
}

func osMmap(size uintptr, prot osProt) (uintptr, error) {
	flags := syscall.MAP_ANON | syscall.MAP_PRIVATE
	sysProt := mmapProt(prot)
	b, err := syscall.Mmap(-1, 0, int(size), sysProt, flags)
	if err != nil {
		return 0, err
	}
	return uintptr(unsafe.Pointer(&b[0])), nil
}

func osMunmap(addr, size uintptr) error {
	_, _, errno := syscall.Syscall(syscall.SYS_MUNMAP, addr, size, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func osMprotectImpl(addr, size uintptr, prot osProt) error {
	_, _, errno := syscall.Syscall(syscall.SYS_MPROTECT, addr, size, uintptr(mmapProt(prot)))
	if errno != 0 {
		return errno
	}
	return nil
}

func mmapProt(prot osProt) int {
	switch prot {
	case protReadWrite:
		return syscall.PROT_READ | syscall.PROT_WRITE
	case protRead:
		return syscall.PROT_READ
	default:
		return syscall.PROT_NONE
	}
}
