package main

import (
	"testing"

	"github.com/xyproto/sysgate/internal/riscvdis"
)

// filler builds a plain, non-load-immediate "addi rd, rd, 1" at addr,
// filler that is always copiable before and after.
func filler(addr uint64) riscvdis.Instr {
	return riscvdis.Instr{Addr: addr, Length: 4, Reg: 5, IsRAUsed: false}
}

func ecall(addr uint64) riscvdis.Instr {
	return riscvdis.Instr{Addr: addr, Length: 4, IsSyscall: true}
}

// noRegFiller is copiable on either side of an ecall and, unlike filler,
// writes no destination register - used to simulate a syscall site with
// no return-register candidate right after the ecall.
func noRegFiller(addr uint64) riscvdis.Instr {
	return riscvdis.Instr{Addr: addr, Length: 4}
}

func liA7Instr(addr uint64, imm int64) riscvdis.Instr {
	return riscvdis.Instr{Addr: addr, Length: 4, Reg: regA7, IsLoadImm: true, ImmValue: imm}
}

func windowAround(instrs []riscvdis.Instr, ecallIdx int, syscallNum int) *PatchDescriptor {
	return &PatchDescriptor{
		SurroundingInstrs: instrs,
		EcallIdx:          ecallIdx,
		SyscallAddr:       uintptr(instrs[ecallIdx].Addr),
		SyscallNum:        syscallNum,
		ReturnRegister:    regRA,
	}
}

func TestTrimWindowFullContiguousSpan(t *testing.T) {
	instrs := []riscvdis.Instr{
		filler(0x1000), filler(0x1004), filler(0x1008), filler(0x100c),
		ecall(0x1010),
		filler(0x1014), filler(0x1018), filler(0x101c), filler(0x1020),
	}
	p := windowAround(instrs, 4, 64)
	start, end, second := trimWindow(p, map[uint64]bool{})
	if second != -1 {
		t.Fatalf("expected no second ecall, got index %d", second)
	}
	if start != 0 || end != 8 {
		t.Fatalf("expected full span [0,8], got [%d,%d]", start, end)
	}
}

func TestTrimWindowStopsAtJumpTarget(t *testing.T) {
	instrs := []riscvdis.Instr{
		filler(0x1000), filler(0x1004), filler(0x1008), filler(0x100c),
		ecall(0x1010),
		filler(0x1014), filler(0x1018), filler(0x101c), filler(0x1020),
	}
	// 0x100c (index 3) is a jump target: it may be the leftmost
	// instruction of the trimmed span, but nothing before it may be kept.
	targets := map[uint64]bool{0x100c: true}
	p := windowAround(instrs, 4, 64)
	start, _, _ := trimWindow(p, targets)
	if start != 3 {
		t.Fatalf("expected trimming to stop at the jump target index 3, got %d", start)
	}
}

func TestTrimWindowRejectsIPRelativeBeforeEcall(t *testing.T) {
	instrs := []riscvdis.Instr{
		filler(0x1000), filler(0x1004),
		{Addr: 0x1008, Length: 4, HasIPRelativeOpr: true}, // auipc
		filler(0x100c),
		ecall(0x1010),
	}
	p := windowAround(instrs, 4, 64)
	start, _, _ := trimWindow(p, map[uint64]bool{})
	if start != 3 {
		t.Fatalf("expected span to start right after the auipc at index 2, got start=%d", start)
	}
}

func TestClassifyPatchChoosesGW(t *testing.T) {
	instrs := make([]riscvdis.Instr, 0, 9)
	for i := 0; i < 9; i++ {
		addr := uint64(0x1000 + i*4)
		if i == 4 {
			instrs = append(instrs, ecall(addr))
		} else {
			instrs = append(instrs, filler(addr))
		}
	}
	p := windowAround(instrs, 4, 64)
	if err := classifyPatch(p, 0, 8); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Class() != TypeGW {
		t.Fatalf("expected GW (36 bytes available >= %d), got %s", TypeGWSize, p.ClassName())
	}
	if p.ReturnRegister != regRA {
		t.Fatalf("expected GW return register to be ra")
	}
}

func TestClassifyPatchChoosesSMLWithReload(t *testing.T) {
	// The ecall plus one trailing no-op-ish instruction give 8 bytes: not
	// enough for MID (20) but enough for a bare jal (4) plus a c.li
	// reload (2), with no suffix register candidate, so a reload is
	// required and the syscall number must be statically known.
	instrs := []riscvdis.Instr{ecall(0x2000), noRegFiller(0x2004)}
	p := windowAround(instrs, 0, 5) // syscall 5 -> fits in c.li's 6-bit range
	if err := classifyPatch(p, 0, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Class() != TypeSML {
		t.Fatalf("expected SML, got %s", p.ClassName())
	}
	if p.ReturnRegister != regA7 {
		t.Fatalf("expected a7 as the jump-back register when no suffix register was captured")
	}
	if p.PatchSizeBytes != TypeSMLSize+typeSMLReloadCLI {
		t.Fatalf("expected SML size %d (jal + c.li), got %d", TypeSMLSize+typeSMLReloadCLI, p.PatchSizeBytes)
	}
}

func TestClassifyPatchUnpatchableWhenSyscallUnknown(t *testing.T) {
	instrs := []riscvdis.Instr{ecall(0x2000)}
	p := windowAround(instrs, 0, UnknownSyscall)
	if err := classifyPatch(p, 0, 0); err == nil {
		t.Fatalf("expected an error when the syscall number is unknown and the span is too small for MID/GW")
	}
}

func TestPlacePatchPrefersEndingAtEcall(t *testing.T) {
	// 4 prefix fillers (16 bytes) + ecall (4 bytes) = 20 bytes: exactly
	// TYPE_MID_SIZE, with just enough prefix room to end the patch at the
	// ecall instead of falling back to the window's left edge.
	instrs := []riscvdis.Instr{
		filler(0x1000), filler(0x1004), filler(0x1008), filler(0x100c),
		ecall(0x1010),
	}
	p := windowAround(instrs, 4, 64)
	p.PatchStartIdx, p.PatchEndIdx = 0, 4
	if err := classifyPatch(p, 0, 4); err != nil {
		t.Fatalf("classify: %v", err)
	}
	if p.Class() != TypeMID {
		t.Fatalf("expected MID classification for a 20-byte span, got %s", p.ClassName())
	}
	if err := placePatch(p); err != nil {
		t.Fatalf("place: %v", err)
	}
	ecallAddr := uint64(instrs[4].Addr)
	wantDst := ecallAddr + 4 - uint64(p.PatchSizeBytes)
	if uint64(p.DstJmpPatch) != wantDst {
		t.Fatalf("expected dst_jmp_patch %#x (ecall as last overwritten byte), got %#x", wantDst, p.DstJmpPatch)
	}
	// A MID patch links through its jal, so the value the entry sees -
	// and the address the dispatcher later jumps back to - is the byte
	// right after that jal: addi (4) + sd (4) + jal (4) into the patch.
	if p.ReturnAddress != p.DstJmpPatch+12 {
		t.Fatalf("expected return_address right after the patch's jal, got %#x (dst %#x)", p.ReturnAddress, p.DstJmpPatch)
	}
}

func TestResolveGatewaysPairsMIDWithNearestGW(t *testing.T) {
	gw := &PatchDescriptor{SyscallNum: TypeGW, DstJmpPatch: 0x10000}
	farGw := &PatchDescriptor{SyscallNum: TypeGW, DstJmpPatch: 0x10000 + 2*JALMidReach}
	mid := &PatchDescriptor{SyscallNum: TypeMID, DstJmpPatch: 0x10100}

	obj := &ObjectDescriptor{Patches: []*PatchDescriptor{gw, farGw, mid}}
	if err := resolveGateways(obj); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mid.Gateway != gw {
		t.Fatalf("expected mid to pair with the near gateway, not the far one")
	}
	if mid.DstJmpPatch != 0x10100 {
		t.Fatalf("resolveGateways must leave dst_jmp_patch at the real syscall site, got %#x", mid.DstJmpPatch)
	}
}

func TestResolveGatewaysFailsWhenNoneInReach(t *testing.T) {
	gw := &PatchDescriptor{SyscallNum: TypeGW, DstJmpPatch: 0x10000}
	sml := &PatchDescriptor{SyscallNum: TypeSML, DstJmpPatch: 0x10000 + 2*JALMidReach}

	obj := &ObjectDescriptor{Patches: []*PatchDescriptor{gw, sml}}
	if err := resolveGateways(obj); err == nil {
		t.Fatalf("expected an error when no gateway is within reach")
	}
}

func TestPlanTwoEcallsUsesFirstEcallAsPrefixBound(t *testing.T) {
	// 4 prefix fillers (16 bytes) + first ecall (4 bytes) = 20 bytes,
	// exactly TYPE_MID_SIZE: planTwoEcalls must classify using the
	// prefix-before-the-first-ecall span (case 1), not fall through to
	// widening past it.
	instrs := []riscvdis.Instr{
		filler(0x1000), filler(0x1004), filler(0x1008), filler(0x100c),
		ecall(0x1010),
		filler(0x1014),
		ecall(0x1018),
	}
	p := windowAround(instrs, 4, 64)
	if err := planTwoEcalls(p, 0, 6); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Class() != TypeMID {
		t.Fatalf("expected MID, got %s", p.ClassName())
	}
	if p.PatchEndIdx != 4 {
		t.Fatalf("expected the patch to end at the first ecall (idx 4), got %d", p.PatchEndIdx)
	}
}

func TestPlanTwoEcallsIgnoresStalePatchStartIdx(t *testing.T) {
	// A stale PatchStartIdx left over from a previous call (or its zero
	// value) must never be mistaken for the first ecall's index: that
	// bug collapses every span bound in planTwoEcalls to start..0.
	instrs := []riscvdis.Instr{
		filler(0x1000), filler(0x1004), filler(0x1008), filler(0x100c),
		ecall(0x1010),
		filler(0x1014),
		ecall(0x1018),
	}
	p := windowAround(instrs, 4, 64)
	p.PatchStartIdx = 0 // zero value / stale leftover, must be ignored
	if err := planTwoEcalls(p, 0, 6); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.PatchEndIdx != 4 {
		t.Fatalf("planTwoEcalls must key off EcallIdx, not PatchStartIdx; got end=%d", p.PatchEndIdx)
	}
}

func TestPlacePatchNarrowsDisplacedRangeToOverwrittenBytes(t *testing.T) {
	// Plenty of prefix room: the patch ends at the ecall and the suffix
	// instructions survive untouched in the text. They must therefore be
	// dropped from [PatchStartIdx, PatchEndIdx], or the relocation block
	// would execute them a second time on the way back.
	instrs := []riscvdis.Instr{
		filler(0x1000), filler(0x1004), filler(0x1008), filler(0x100c),
		filler(0x1010), filler(0x1014),
		ecall(0x1018),
		filler(0x101c), filler(0x1020),
	}
	p := windowAround(instrs, 6, 64)
	p.PatchStartIdx, p.PatchEndIdx = 0, 8
	if err := classifyPatch(p, 0, 8); err != nil {
		t.Fatalf("classify: %v", err)
	}
	if p.Class() != TypeGW {
		t.Fatalf("expected GW for a 36-byte span, got %s", p.ClassName())
	}
	if err := placePatch(p); err != nil {
		t.Fatalf("place: %v", err)
	}
	if got := uint64(p.DstJmpPatch); got != 0x101c-TypeGWSize {
		t.Fatalf("expected the patch to end at the ecall, dst=%#x", got)
	}
	if p.PatchEndIdx != p.EcallIdx {
		t.Fatalf("suffix instructions outside the overwritten range must not count as displaced, end=%d", p.PatchEndIdx)
	}
	if p.PatchStartIdx != 1 {
		t.Fatalf("expected the displaced prefix to start at the first fully overwritten instruction, start=%d", p.PatchStartIdx)
	}
	if p.IsRAUsedAfter {
		t.Fatalf("no displaced suffix, so IsRAUsedAfter must be false")
	}
}

func TestVerifyPatchLayoutRejectsOverlap(t *testing.T) {
	obj := &ObjectDescriptor{
		TextStart: 0x1000, TextEnd: 0x2000,
		Patches: []*PatchDescriptor{
			{SyscallAddr: 0x1100, DstJmpPatch: 0x1100, PatchSizeBytes: 24, ReturnAddress: 0x1110},
			{SyscallAddr: 0x1110, DstJmpPatch: 0x1110, PatchSizeBytes: 24, ReturnAddress: 0x1120},
		},
	}
	if err := verifyPatchLayout([]*ObjectDescriptor{obj}); err == nil {
		t.Fatalf("expected overlapping overwritten ranges to be refused")
	}
}

func TestVerifyPatchLayoutRejectsDuplicateReturnAddress(t *testing.T) {
	obj := &ObjectDescriptor{
		TextStart: 0x1000, TextEnd: 0x2000,
		Patches: []*PatchDescriptor{
			{SyscallAddr: 0x1100, DstJmpPatch: 0x1100, PatchSizeBytes: 24, ReturnAddress: 0x1110},
			{SyscallAddr: 0x1200, DstJmpPatch: 0x1200, PatchSizeBytes: 24, ReturnAddress: 0x1110},
		},
	}
	if err := verifyPatchLayout([]*ObjectDescriptor{obj}); err == nil {
		t.Fatalf("expected a shared return address to be refused")
	}
}

func TestVerifyPatchLayoutRejectsOutOfBounds(t *testing.T) {
	obj := &ObjectDescriptor{
		TextStart: 0x1000, TextEnd: 0x1010,
		Patches: []*PatchDescriptor{
			{SyscallAddr: 0x1008, DstJmpPatch: 0x1008, PatchSizeBytes: 24, ReturnAddress: 0x1014},
		},
	}
	if err := verifyPatchLayout([]*ObjectDescriptor{obj}); err == nil {
		t.Fatalf("expected a patch extending past text_end to be refused")
	}
}

func TestVerifyPatchLayoutAcceptsDisjointPatches(t *testing.T) {
	obj := &ObjectDescriptor{
		TextStart: 0x1000, TextEnd: 0x2000,
		Patches: []*PatchDescriptor{
			{SyscallAddr: 0x1100, DstJmpPatch: 0x1100, PatchSizeBytes: 24, ReturnAddress: 0x1110},
			{SyscallAddr: 0x1200, DstJmpPatch: 0x1200, PatchSizeBytes: 20, ReturnAddress: 0x120c},
		},
	}
	if err := verifyPatchLayout([]*ObjectDescriptor{obj}); err != nil {
		t.Fatalf("disjoint in-bounds patches must pass: %v", err)
	}
}
