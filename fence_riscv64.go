//go:build riscv64

package main

// fenceI executes the RISC-V fence.i instruction on the calling hart,
// synchronizing its instruction cache with memory writes this process
// just made to executable pages. No portable stdlib call
// exists for this - Go's runtime never needs it, since it never
// rewrites its own already-running machine code - so this is the one
// place this repo drops to raw assembly rather than a library call.
func fenceI()
