package main

import "fmt"

// trampolineSize is the fixed byte size of the per-object trampoline
// written by writeTrampoline: sd ra,32(sp) (4) + auipc+jalr (8).
const trampolineSize = 12

// activateObject arms one object: it writes the trampoline if needed,
// flips the covering text pages to R+W+X, writes every patch's
// class-specific byte sequence, flushes the instruction cache, and
// restores the pages to R+X.
func activateObject(obj *ObjectDescriptor, entry uintptr) error {
	return withWritableText(obj.TextStart, obj.TextEnd, func() error {
		if obj.UsesTrampoline {
			writeTrampoline(obj.TrampolineAddr, entry)
		}
		for _, p := range obj.Patches {
			if err := writePatch(p, obj, entry); err != nil {
				return fmt.Errorf("activating patch at %#x: %v", p.SyscallAddr, err)
			}
		}
		flushIcache(obj.TextStart, obj.TextEnd)
		return nil
	})
}

// writeTrampoline emits the long-reach relay a GW patch jumps through
// when its object lies beyond direct auipc+jalr reach of the shared
// assembly entry: spill ra to the dispatcher's reserved stack slot,
// then an absolute jump to entry.
func writeTrampoline(at, entry uintptr) {
	a := &asmBuf{}
	a.sd(regSP, regRA, 32)
	emitAbsJump(a, at+uintptr(a.len()), entry, regRA)
	copy(addrToSlice(at, a.len()), a.bytes())
}

// jumpTarget returns either an object's own trampoline or the shared
// assembly entry, whichever a GW patch in that object should jump
// through.
func jumpTarget(obj *ObjectDescriptor, entry uintptr) uintptr {
	if obj.UsesTrampoline {
		return obj.TrampolineAddr
	}
	return entry
}

// emitAbsJump writes an auipc+jalr pair at site that reaches target,
// linking through link. auipc's own 20-bit upper immediate plus
// jalr's 12-bit signed offset together span the full ±2GiB auipc+jalr
// idiom RISC-V programs use in place of a true absolute jump.
func emitAbsJump(a *asmBuf, site, target uintptr, link int) {
	delta := int64(target) - int64(site)
	hi := int32(delta+0x800) >> 12
	lo := int32(delta) - (hi << 12)
	a.auipc(link, uint32(hi)<<12)
	a.jalr(link, link, lo)
}

// writePatch writes one patch's class-specific byte sequence over
// [p.DstJmpPatch, p.DstJmpPatch+p.PatchSizeBytes) in obj's live text.
func writePatch(p *PatchDescriptor, obj *ObjectDescriptor, entry uintptr) error {
	a := &asmBuf{}
	if p.StartWithCNop {
		a.cNop()
	}

	switch p.Class() {
	case TypeGW:
		a.addi(regSP, regSP, -48)
		a.sd(regSP, p.ReturnRegister, 0)
		target := jumpTarget(obj, entry)
		emitAbsJump(a, p.DstJmpPatch+uintptr(a.len()), target, p.ReturnRegister)
		a.ld(p.ReturnRegister, regSP, 0)
		a.addi(regSP, regSP, 48)
	case TypeMID:
		a.addi(regSP, regSP, -48)
		a.sd(regSP, p.ReturnRegister, 8)
		a.jal(p.ReturnRegister, jalOffset(p.DstJmpPatch+uintptr(a.len()), gatewayEntry(p.Gateway)+ModifySPInsSize))
		a.ld(p.ReturnRegister, regSP, 8)
		a.addi(regSP, regSP, 48)
	case TypeSML:
		a.jal(regA7, jalOffset(p.DstJmpPatch+uintptr(a.len()), gatewayEntry(p.Gateway)))
		if p.ReturnRegister == regA7 {
			emitSMLReload(a, p.RecoveredSyscallNum)
		}
	default:
		return fmt.Errorf("writePatch: patch at %#x was never classified", p.SyscallAddr)
	}

	if p.EndWithCNop {
		a.cNop()
	}
	if a.len() != p.PatchSizeBytes {
		return fmt.Errorf("writePatch: emitted %d bytes, planner sized %d", a.len(), p.PatchSizeBytes)
	}

	copy(addrToSlice(p.DstJmpPatch, a.len()), a.bytes())
	return nil
}

// emitSMLReload emits the SML trailer: the patch's jal clobbered a7
// for use as its link register, so once the dispatcher returns, a7
// must be restored to the syscall number the surrounding code expects
// it to still hold. Smallest encoding wins: c.li when
// compressedISAEnabled and the value is a signed 6-bit immediate,
// addi otherwise.
func emitSMLReload(a *asmBuf, syscallNum int) {
	if compressedISAEnabled && syscallNum >= 0 && syscallNum <= 31 {
		a.cLi(regA7, int32(syscallNum))
		return
	}
	a.addi(regA7, regZero, int32(syscallNum))
}

// gatewayEntry is the address of a GW patch's first real instruction,
// past any leading alignment NOP, where a MID/SML jal must land.
func gatewayEntry(gw *PatchDescriptor) uintptr {
	if gw.StartWithCNop {
		return gw.DstJmpPatch + 2
	}
	return gw.DstJmpPatch
}

// jalOffset computes the signed PC-relative displacement for a jal
// from site to target; gateway resolution already verified this fits
// jal's ±1MiB reach.
func jalOffset(site, target uintptr) int32 {
	return int32(int64(target) - int64(site))
}

// flushIcache synchronizes the instruction cache with the bytes just
// written: execute a fence.i on the hart this activation runs on.
// fence.i takes no operands and affects only the executing hart; for
// other harts, the kernel's IPI-based remote fence on mprotect of
// executable pages covers the gap, and activation runs before any
// second thread exists anyway.
func flushIcache(start, end uintptr) {
	fenceI()
}
