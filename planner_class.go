package main

import "fmt"

// classifyPatch implements Stage B: the trimmed span's total byte size
// picks the patch's class, record its return register and (for SML) the
// a7-reload it will need.
func classifyPatch(p *PatchDescriptor, start, end int) error {
	instrs := p.SurroundingInstrs
	total := spanBytes(instrs, start, end)
	ecallIdx := p.EcallIdx

	suffixReg := 0
	if ecallIdx+1 < len(instrs) {
		suffixReg = int(instrs[ecallIdx+1].Reg)
	}

	switch {
	case total >= TypeGWSize:
		p.RecoveredSyscallNum = p.SyscallNum
		p.SyscallNum = TypeGW
		p.ReturnRegister = regRA
		p.PatchSizeBytes = TypeGWSize
		return nil

	case total >= TypeMIDSize:
		p.RecoveredSyscallNum = p.SyscallNum
		p.SyscallNum = TypeMID
		p.ReturnRegister = regRA
		p.PatchSizeBytes = TypeMIDSize
		return nil

	default:
		known := p.SyscallNum >= 0
		reload, reloadSize := smlReload(p.SyscallNum, suffixReg)
		needed := TypeSMLSize + reloadSize
		if !known || total < needed {
			return fmt.Errorf("site too small to patch in any class (have %d bytes, syscall_num known=%v)", total, known)
		}
		p.RecoveredSyscallNum = p.SyscallNum
		p.PatchSizeBytes = needed
		if reload {
			p.ReturnRegister = regA7
		} else {
			p.ReturnRegister = suffixReg
		}
		p.SyscallNum = TypeSML
		return nil
	}
}

// smlReload decides whether an SML patch needs to reload a7 after its
// jal, and if so whether a 2-byte c.li or a 4-byte addi is required.
func smlReload(syscallNum, suffixReg int) (needed bool, size int) {
	if suffixReg != 0 {
		return false, 0
	}
	if syscallNum >= 0 && syscallNum <= 31 && compressedISAEnabled {
		return true, typeSMLReloadCLI
	}
	return true, typeSMLReloadAddi
}

// planTwoEcalls implements the two-ecalls helper: when a second ecall
// lies inside the window, it searches for the best span before the
// first ecall, in the priority order the spec names, falling back to
// widening toward the second ecall only as a last resort.
func planTwoEcalls(p *PatchDescriptor, start, secondEcallIdx int) error {
	instrs := p.SurroundingInstrs
	ecallIdx := p.EcallIdx

	tryClassify := func(end int) error {
		p.PatchStartIdx = start
		p.PatchEndIdx = end
		return classifyPatch(p, start, end)
	}

	// 1. A MID-sized span using only the prefix before the first ecall.
	if spanBytes(instrs, start, ecallIdx) >= TypeMIDSize {
		return tryClassify(ecallIdx)
	}

	// 2. An SML-patchable span using only that same prefix.
	if p.SyscallNum >= 0 && spanBytes(instrs, start, ecallIdx) >= TypeSMLSize {
		if err := tryClassify(ecallIdx); err == nil {
			return nil
		}
	}

	// 3. When the number is unknown, widen past the first ecall looking
	// for any MID-sized span that still fits before the second ecall.
	if p.SyscallNum < 0 {
		for end := ecallIdx; end < secondEcallIdx; end++ {
			if spanBytes(instrs, start, end) >= TypeMIDSize {
				return tryClassify(end)
			}
		}
	}

	// 4. An SML span anywhere up to the second ecall.
	for end := ecallIdx; end < secondEcallIdx; end++ {
		if spanBytes(instrs, start, end) >= TypeSMLSize {
			if err := tryClassify(end); err == nil {
				return nil
			}
		}
	}

	return fmt.Errorf("two-ecall site at %#x yields a zero-byte span", p.SyscallAddr)
}
