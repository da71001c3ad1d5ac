package main

import (
	"fmt"

	"github.com/xyproto/sysgate/internal/riscvdis"
)

// relocationWriter assembles every patch's displaced instructions and
// glue into one byte stream destined for the process-wide executable
// scratch buffer. base is the runtime address that buffer is mapped
// at, so each block's RelocationAddr can be recorded while emitting.
type relocationWriter struct {
	buf   *asmBuf
	base  uintptr // runtime address the buffer will be mapped at once placed
	entry uintptr // the assembly entry's address, the glue's jump-back target
}

func newRelocationWriter(base, entry uintptr) *relocationWriter {
	return &relocationWriter{buf: &asmBuf{}, base: base, entry: entry}
}

// buildRelocations emits, for every patch across every object, the
// displaced-instruction-plus-glue sequence the assembly entry executes
// on the patch's behalf, and records each patch's RelocationAddr.
func buildRelocations(objs []*ObjectDescriptor, w *relocationWriter) error {
	for _, obj := range objs {
		for _, p := range obj.Patches {
			if err := emitPatchRelocation(w, p); err != nil {
				return fmt.Errorf("relocating site at %#x: %v", p.SyscallAddr, err)
			}
		}
	}
	return nil
}

// emitPatchRelocation writes one patch's displaced-instruction-plus-glue
// sequence into w.buf: the displaced prefix, a return to the entry, the
// displaced suffix with its own return, then the finalisation block.
func emitPatchRelocation(w *relocationWriter, p *PatchDescriptor) error {
	p.RelocationAddr = w.base + uintptr(w.buf.len())

	instrs := p.SurroundingInstrs
	prefix := instrs[p.PatchStartIdx:p.EcallIdx]
	suffix := instrs[p.EcallIdx+1 : p.PatchEndIdx+1]

	if len(prefix) > 0 {
		emitRASwap(w.buf, p.IsRAUsedBefore)
		copyDisplaced(w.buf, prefix)
		if p.IsRAUsedBefore {
			emitRASwapInverse(w.buf)
		}
		emitReturnToEntry(w.buf)
	}

	if len(suffix) > 0 {
		emitRASwap(w.buf, p.IsRAUsedAfter)
		copyDisplaced(w.buf, suffix)
		if p.IsRAUsedAfter {
			emitRASwapInverse(w.buf)
		}
		emitReturnToEntry(w.buf)
	}

	emitFinalisation(w.buf, p)
	return nil
}

// emitRASwap: when the displaced block about to be copied reads or
// writes ra, the caller's live ra is parked in asm_ra_temp and the
// dispatcher's own stashed asm_ra_orig is loaded into ra so the
// displaced instructions see the ra they originally executed with.
func emitRASwap(buf *asmBuf, needed bool) {
	if !needed {
		return
	}
	buf.sd(regTP, regRA, asmRaTempOffset)
	buf.ld(regRA, regTP, asmRaOrigOffset)
}

// emitRASwapInverse is the inverse of emitRASwap, run after the
// displaced block so the dispatcher regains ownership of ra for the
// jalr back to the entry.
func emitRASwapInverse(buf *asmBuf) {
	buf.sd(regTP, regRA, asmRaOrigOffset)
	buf.ld(regRA, regTP, asmRaTempOffset)
}

// copyDisplaced appends the raw bytes of each displaced instruction
// unchanged; none of them may be IP-relative or an absolute jump other
// than a return (copiableBefore/copiableAfter already guarantee this),
// so copying the encoded bytes verbatim preserves their behaviour at
// the new address.
func copyDisplaced(buf *asmBuf, instrs []riscvdis.Instr) {
	for _, in := range instrs {
		if in.Length == 2 {
			buf.half(uint16(in.Raw))
		} else {
			buf.word(in.Raw)
		}
	}
}

// emitReturnToEntry: jalr ra, ra, 0 jumps to whatever address ra
// currently holds (the assembly entry's own address, arranged when the
// entry hands control to a relocation block) and overwrites ra with
// this instruction's own successor address, which is how the entry
// later resumes the block exactly where it left off.
func emitReturnToEntry(buf *asmBuf) {
	buf.jalr(regRA, regRA, 0)
}

// emitFinalisation emits the class-specific sequence that restores ra
// (unless the class's own return register already is ra), loads the
// jump-back target the entry stashed at [sp, 16], reshapes the stack
// for MID/SML, and jumps back into the patched text.
func emitFinalisation(buf *asmBuf, p *PatchDescriptor) {
	retReg := p.ReturnRegister

	if retReg != regRA {
		buf.ld(regRA, regSP, 0)
	}
	buf.ld(retReg, regSP, 16)

	switch p.Class() {
	case TypeMID:
		buf.ld(regA7, regSP, 0)
		buf.sd(regSP, regA7, 8)
	case TypeSML:
		buf.addi(regSP, regSP, 48)
	}

	buf.jalr(regZero, retReg, 0)
}
