//go:build windows

package lfalloc

import "golang.org/x/sys/windows"

func pageSize() uintptr {
	var si windows.SystemInfo
	windows.GetSystemInfo(&si)
	return uintptr(si.PageSize)
}

func osMmap(size uintptr, prot osProt) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, size, windows.MEM_COMMIT|windows.MEM_RESERVE, winProt(prot))
	if err != nil {
		return 0, err
	}
	return addr, nil
}

func osMunmap(addr, _ uintptr) error {
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

func osMprotectImpl(addr, size uintptr, prot osProt) error {
	var old uint32
	return windows.VirtualProtect(addr, size, winProt(prot), &old)
}

func winProt(prot osProt) uint32 {
	switch prot {
	case protReadWrite:
		return windows.PAGE_READWRITE
	case protRead:
		return windows.PAGE_READONLY
	default:
		return windows.PAGE_NOACCESS
	}
}
