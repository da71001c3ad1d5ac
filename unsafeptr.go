package main

import "unsafe"

// ptrOf turns a Go value's address into an unsafe.Pointer, used to
// recover selfMarker's runtime address for comparison against addresses
// read out of /proc/self/maps.
func ptrOf(p *byte) unsafe.Pointer {
	return unsafe.Pointer(p)
}

// addrToSlice reinterprets a live, already-mapped [addr, addr+n) span of
// this process's own address space as a byte slice. The caller must only
// use this on ranges known to be mapped and readable (an object's own
// executable segments), since this conversion bypasses every bounds
// check Go would otherwise give a slice.
func addrToSlice(addr uintptr, n int) []byte {
	if n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}
