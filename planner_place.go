package main

import (
	"fmt"

	"github.com/xyproto/sysgate/internal/riscvdis"
)

// jumpEndOffset returns the byte offset, from the start of a patch's
// class sequence, of the first instruction after its entry-bound jump:
// the address the jump's link register holds when the shared entry is
// reached, and therefore the address the dispatcher later jumps back
// to. GW links after its auipc+jalr pair, MID and SML after their jal.
func jumpEndOffset(class int) (int, error) {
	switch class {
	case TypeGW:
		return 4 + 4 + 8, nil // addi + sd + auipc/jalr pair
	case TypeMID:
		return 4 + 4 + 4, nil // addi + sd + jal
	case TypeSML:
		return 4, nil // jal
	}
	return 0, fmt.Errorf("patch was never classified")
}

// placePatch computes DstJmpPatch and ReturnAddress for an
// already-classified patch, preferring to end the overwritten region
// exactly at the ecall (the ecall becomes the last byte overwritten)
// and falling back to the window's left edge when the prefix alone is
// too small for the class size. Once the final overwritten byte range
// is known, PatchStartIdx/PatchEndIdx are narrowed to the instructions
// that range actually displaces, since only those may be copied into
// the relocation buffer: relocating an instruction that survives in
// the text would execute it twice.
func placePatch(p *PatchDescriptor) error {
	instrs := p.SurroundingInstrs
	ecallIdx := p.EcallIdx
	ecallAddr := instrs[ecallIdx].Addr
	ecallLen := uint64(instrs[ecallIdx].Length)
	ecallEnd := ecallAddr + ecallLen

	size := uint64(p.PatchSizeBytes)
	leftEdge := instrs[p.PatchStartIdx].Addr
	rightEdge := instrs[p.PatchEndIdx].Addr + uint64(instrs[p.PatchEndIdx].Length)
	prefixAvail := ecallAddr - leftEdge

	var dst uint64
	if prefixAvail >= size-ecallLen {
		dst = ecallEnd - size
	} else {
		dst = leftEdge
		if dst+size > rightEdge {
			return fmt.Errorf("classified span at %#x does not fit the available window", p.SyscallAddr)
		}
	}

	// A patch edge that falls between two instruction boundaries would
	// leave half an instruction live in the text. Both edges can only be
	// off by 2 (instructions are 2 or 4 bytes), so widening by one
	// compressed NOP on the misaligned side restores alignment.
	if !boundaryKnown(instrs, dst) {
		p.StartWithCNop = true
		dst -= 2
		p.PatchSizeBytes += 2
		size += 2
	}
	if !boundaryKnown(instrs, dst+size) {
		p.EndWithCNop = true
		p.PatchSizeBytes += 2
		size += 2
	}

	p.DstJmpPatch = uintptr(dst)
	narrowToDisplaced(p, dst, size)

	jumpEnd, err := jumpEndOffset(p.Class())
	if err != nil {
		return fmt.Errorf("placing site at %#x: %v", p.SyscallAddr, err)
	}
	if p.StartWithCNop {
		jumpEnd += 2
	}
	p.ReturnAddress = uintptr(dst) + uintptr(jumpEnd)

	p.IsRAUsedBefore = anyRAUsed(instrs, p.PatchStartIdx, ecallIdx-1)
	p.IsRAUsedAfter = anyRAUsed(instrs, ecallIdx+1, p.PatchEndIdx)
	return nil
}

// narrowToDisplaced shrinks [PatchStartIdx, PatchEndIdx] to the
// instructions wholly covered by the overwritten range [dst, dst+size).
// Both edges land on instruction boundaries by this point, so every
// window instruction is either fully inside or fully outside the range.
func narrowToDisplaced(p *PatchDescriptor, dst, size uint64) {
	for p.PatchStartIdx < p.EcallIdx {
		in := p.SurroundingInstrs[p.PatchStartIdx]
		if in.Addr >= dst {
			break
		}
		p.PatchStartIdx++
	}
	for p.PatchEndIdx > p.EcallIdx {
		in := p.SurroundingInstrs[p.PatchEndIdx]
		if in.Addr+uint64(in.Length) <= dst+size {
			break
		}
		p.PatchEndIdx--
	}
}

// boundaryKnown reports whether addr coincides with the start address of
// some instruction in instrs, or with the first byte past the window's
// last instruction - the two shapes a patch edge is allowed to land on
// without needing a compressed-NOP pad.
func boundaryKnown(instrs []riscvdis.Instr, addr uint64) bool {
	for _, in := range instrs {
		if in.Addr == addr {
			return true
		}
		if in.Addr+uint64(in.Length) == addr {
			return true
		}
	}
	return false
}

// anyRAUsed reports whether any instruction in instrs[lo:hi+1] reads or
// writes ra. An empty or inverted range (lo > hi) reports false.
func anyRAUsed(instrs []riscvdis.Instr, lo, hi int) bool {
	for i := lo; i <= hi && i >= 0 && i < len(instrs); i++ {
		if instrs[i].IsRAUsed {
			return true
		}
	}
	return false
}

// verifyPatchLayout checks, across every object, the placement
// post-conditions the dispatcher depends on: every overwritten range
// lies inside its object's text, no two overwritten ranges overlap, and
// every ReturnAddress is process-globally unique (it is the key
// detectCurPatch resolves a firing patch by). A violation means the
// planner produced a layout that would corrupt live code, so the caller
// aborts rather than activating any of it.
func verifyPatchLayout(objs []*ObjectDescriptor) error {
	type span struct {
		lo, hi uintptr
		site   uintptr
	}
	var spans []span
	seenReturn := make(map[uintptr]uintptr)

	for _, obj := range objs {
		for _, p := range obj.Patches {
			lo := p.DstJmpPatch
			hi := p.DstJmpPatch + uintptr(p.PatchSizeBytes)
			if lo < obj.TextStart || hi > obj.TextEnd {
				return fmt.Errorf("patch at %#x overwrites [%#x,%#x) outside text [%#x,%#x) of %s",
					p.SyscallAddr, lo, hi, obj.TextStart, obj.TextEnd, obj.Path)
			}
			if prev, dup := seenReturn[p.ReturnAddress]; dup {
				return fmt.Errorf("patches at %#x and %#x share return address %#x",
					prev, p.SyscallAddr, p.ReturnAddress)
			}
			seenReturn[p.ReturnAddress] = p.SyscallAddr
			spans = append(spans, span{lo, hi, p.SyscallAddr})
		}
	}

	for i, a := range spans {
		for _, b := range spans[i+1:] {
			if a.lo < b.hi && b.lo < a.hi {
				return fmt.Errorf("patches at %#x and %#x overwrite overlapping ranges", a.site, b.site)
			}
		}
	}
	return nil
}
