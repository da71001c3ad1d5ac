package main

import (
	"github.com/xyproto/sysgate/internal/riscvdis"
)

// textScanObject disassembles obj's mapped text linearly and, for
// every ecall it finds, appends a PatchDescriptor carrying a
// fixed-width window of the surrounding instructions plus whatever
// statically known a7 value reached that point.
//
// The object's text is already mapped into this process (the
// interceptor runs in-process), so the scan reads it directly through
// an unsafe slice rather than re-reading the on-disk file: the bytes
// worth scanning are the live, resident ones.
func textScanObject(obj *ObjectDescriptor) error {
	if obj.TextEnd <= obj.TextStart {
		return nil
	}
	text := textBytes(obj.TextStart, obj.TextEnd)

	instrs := decodeAll(obj.TextStart, text)
	targets := jumpTargetSet(instrs)
	obj.JumpTargets = targets

	a7Known := false
	var a7Value int64

	for i, in := range instrs {
		if targets[in.Addr] {
			// A jump can land between an a7 load and its ecall; the
			// value in a7 at that point is no longer known statically.
			a7Known = false
		}

		if in.IsSyscall {
			obj.Patches = append(obj.Patches, buildPatchDescriptor(instrs, i, a7Known, a7Value))
		}

		if in.IsLoadImm && in.Reg == regA7 {
			a7Known = true
			a7Value = in.ImmValue
		} else if in.Reg == regA7 {
			// a7 was written by something other than a recognized
			// load-immediate: its value is no longer statically known.
			a7Known = false
		}
	}

	return nil
}

// decodeAll disassembles every instruction in text linearly, one call
// per instruction.
func decodeAll(base uintptr, text []byte) []riscvdis.Instr {
	var out []riscvdis.Instr
	addr := base
	for i := 0; i < len(text); {
		in := riscvdis.Decode(uint64(addr), text[i:])
		out = append(out, in)
		i += in.Length
		addr += uintptr(in.Length)
	}
	return out
}

// jumpTargetSet records every address reachable from a jal,
// conditional branch, c.j, or c.beqz/c.bnez inside this span, so the
// planner can tell, instruction by instruction, whether control can
// arrive there other than by falling through.
func jumpTargetSet(instrs []riscvdis.Instr) map[uint64]bool {
	targets := make(map[uint64]bool)
	for _, in := range instrs {
		if in.HasIPRelativeOpr && (in.IsAbsJump || in.IsBranch) {
			targets[in.Addr+uint64(in.ImmValue)] = true
		}
	}
	return targets
}

// buildPatchDescriptor slices the fixed-width window centred on
// instrs[ecallIdx] (clamped at either end of the object's text) into a
// new PatchDescriptor.
func buildPatchDescriptor(instrs []riscvdis.Instr, ecallIdx int, a7Known bool, a7Value int64) *PatchDescriptor {
	start := ecallIdx - SyscallIdx
	if start < 0 {
		start = 0
	}
	end := ecallIdx + SyscallIdx + 1
	if end > len(instrs) {
		end = len(instrs)
	}

	span := make([]riscvdis.Instr, end-start)
	copy(span, instrs[start:end])
	localIdx := ecallIdx - start

	p := &PatchDescriptor{
		SurroundingInstrs: span,
		EcallIdx:          localIdx,
		SyscallAddr:       uintptr(instrs[ecallIdx].Addr),
		SyscallNum:        UnknownSyscall,
		ReturnRegister:    regRA,
	}
	if a7Known {
		p.SyscallNum = int(a7Value)
	}
	return p
}

// textBytes reinterprets the live mapping [start, end) as a read-only
// byte slice. Safe because the mapping is already present and
// executable in this process's own address space; the scanner never
// writes through this slice.
func textBytes(start, end uintptr) []byte {
	return addrToSlice(start, int(end-start))
}
