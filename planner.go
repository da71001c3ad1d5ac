package main

import (
	"fmt"

	"github.com/xyproto/sysgate/internal/riscvdis"
)

// compressedISAEnabled gates the choice of a 2-byte c.li for the SML a7
// reload (smlReload, emitSMLReload); placePatch's c.nop alignment
// padding does not consult it. The
// kernel advertises this per-hart via riscv_hwprobe, which needs its own
// raw syscall plumbing this repo does not otherwise carry; assuming the
// extension present is safe on every mainstream RISC-V64 Linux
// distribution this library targets (see DESIGN.md's Open Questions).
const compressedISAEnabled = true

// planObject runs the patch planner over every site textScanObject
// found in obj, in address order, then computes placement for each, and
// finally resolves the MID/SML-to-GW pairings.
func planObject(obj *ObjectDescriptor) error {
	for _, p := range obj.Patches {
		if err := planPatch(p, obj.JumpTargets); err != nil {
			return fmt.Errorf("planning site at %#x: %v", p.SyscallAddr, err)
		}
	}
	for _, p := range obj.Patches {
		if err := placePatch(p); err != nil {
			return fmt.Errorf("placing site at %#x: %v", p.SyscallAddr, err)
		}
	}
	return resolveGateways(obj)
}

// planPatch runs Stage A (window trimming) and Stage B (class choice) for
// one site.
func planPatch(p *PatchDescriptor, targets map[uint64]bool) error {
	start, end, secondEcallIdx := trimWindow(p, targets)
	if secondEcallIdx >= 0 {
		return planTwoEcalls(p, start, secondEcallIdx)
	}

	p.PatchStartIdx = start
	p.PatchEndIdx = end
	return classifyPatch(p, start, end)
}

// copiableBefore reports whether in may be relocated into the prefix of
// a patch's displaced-instruction block. Anything the decoder could not
// classify is treated as uncopiable.
func copiableBefore(in riscvdis.Instr) bool {
	return !in.Unknown && !in.HasIPRelativeOpr && !in.IsAbsJump && !in.IsSyscall
}

// copiableAfter reports whether in may be relocated into the suffix.
// Absolute jumps are allowed only when they are a plain return, since a
// ret does not depend on the address it executes from.
func copiableAfter(in riscvdis.Instr) bool {
	if in.Unknown || in.IsSyscall || in.HasIPRelativeOpr {
		return false
	}
	return !in.IsAbsJump || in.IsReturn
}

// trimWindow finds the maximal contiguous span of p.SurroundingInstrs
// centred on the ecall at p.EcallIdx such that no instruction in it
// is a jump target (except the leftmost), the prefix is all
// copiableBefore, and the suffix is all copiableAfter. If a second ecall
// is reached while extending the suffix, trimming stops and
// secondEcallIdx reports its index so the caller can fall back to the
// two-ecalls helper; secondEcallIdx is -1 when no second ecall was seen.
func trimWindow(p *PatchDescriptor, targets map[uint64]bool) (start, end, secondEcallIdx int) {
	instrs := p.SurroundingInstrs
	ecallIdx := p.EcallIdx
	secondEcallIdx = -1

	// When control can land on the ecall itself, only the ecall may be
	// the span's leftmost instruction, so no prefix is kept at all.
	start = ecallIdx
	if !targets[instrs[ecallIdx].Addr] {
		for i := ecallIdx - 1; i >= 0; i-- {
			in := instrs[i]
			if !copiableBefore(in) {
				break
			}
			if targets[in.Addr] {
				start = i
				break
			}
			start = i
		}
	}

	end = ecallIdx
	for j := ecallIdx + 1; j < len(instrs); j++ {
		in := instrs[j]
		if in.IsSyscall {
			secondEcallIdx = j
			break
		}
		if !copiableAfter(in) {
			break
		}
		if targets[in.Addr] {
			break
		}
		end = j
	}

	return start, end, secondEcallIdx
}

// spanBytes sums the encoded length of instrs[start:end+1].
func spanBytes(instrs []riscvdis.Instr, start, end int) int {
	total := 0
	for i := start; i <= end; i++ {
		total += instrs[i].Length
	}
	return total
}
