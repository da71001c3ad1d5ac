package main

// entryRegs mirrors the assembly entry's saved register block: the six
// syscall arguments, the value of a7 at entry, and the three
// return-address candidates detectCurPatch matches against. This struct
// is the shape dispatchEntry expects on the Go side of the call; the
// stub's save/restore sequence and exact stack layout stay on the
// assembly side of the boundary. entry_riscv64.s in this repository is
// only an address-bearing leaf that returns at once: it neither builds
// this block nor calls dispatchEntry.
type entryRegs struct {
	Nr                     uintptr
	A0, A1, A2, A3, A4, A5 uintptr
	Candidates             [3]uintptr
}

// dispatchEntry is the Go function the assembly entry calls into once
// it has captured the caller's registers. It runs detectCurPatch to
// learn which patch fired - aborting if none match, since that can
// only mean the descriptor table itself is corrupt - then
// interceptRoutine, and hands back the (a0, a1) pair the entry acts
// on. An SML patch links its entry-bound jal through a7, destroying
// the syscall number the caller had loaded there, so for SML the
// number is recovered from the descriptor instead of from the saved
// register block; SML sites without a statically known number are
// refused at plan time for exactly this reason.
func dispatchEntry(regs *entryRegs) (uintptr, uintptr) {
	class, _, ok := detectCurPatch(regs.Candidates)
	if !ok {
		abort("dispatcher: no patch matches return-address candidates %#v", regs.Candidates)
	}
	retAddr := regs.Candidates[classSlot(class)]

	nr := regs.Nr
	if class == TypeSML {
		patch := getCurPatch(retAddr)
		if patch == nil {
			abort("dispatcher: matched return address %#x has no registered patch", retAddr)
		}
		nr = uintptr(patch.RecoveredSyscallNum)
	}

	return interceptRoutine(nr, regs.A0, regs.A1, regs.A2, regs.A3, regs.A4, regs.A5, retAddr)
}

// classSlot maps a classified patch back to the stack slot its own
// class is wired to, the inverse of the GW/MID/SML ->
// slot2/slot0/slot1 assignment matchSlot checks.
func classSlot(class int) int {
	switch class {
	case TypeGW:
		return slotGW
	case TypeMID:
		return slotMID
	case TypeSML:
		return slotSML
	}
	return 0
}
