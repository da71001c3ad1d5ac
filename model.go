package main

import "github.com/xyproto/sysgate/internal/riscvdis"

// Patch classes a syscall site can be rewritten into. Stored in
// PatchDescriptor.SyscallNum once the planner has classified the site
// (see Stage B in planner_class.go); before classification SyscallNum
// either holds the statically recovered syscall number or UnknownSyscall.
const (
	UnknownSyscall = -1

	TypeGW  = -2 // gateway: full register save + 2GiB-reach indirect jump
	TypeMID = -3 // jal into a nearby gateway
	TypeSML = -4 // bare jal into a gateway, optional a7 reload
)

// Byte sizes of the three patch shapes, as written by the activator
// (see activator.go). These are the thresholds Stage B of the planner
// uses to classify a trimmed span.
const (
	// TypeGWSize: addi sp,sp,-48 (4) + sd ret,0(sp) (4) + auipc+jalr (8) +
	// ld ret,0(sp) (4) + addi sp,sp,48 (4).
	TypeGWSize = 24

	// TypeMIDSize: addi sp,sp,-48 (4) + sd ret,8(sp) (4) + jal ret,gw (4) +
	// ld ret,8(sp) (4) + addi sp,sp,48 (4).
	TypeMIDSize = 20

	// TypeSMLSize: jal a7,gw (4). A trailing a7 reload (c.li, 2 bytes, or
	// addi, 4 bytes) is added only when no return register was captured.
	TypeSMLSize       = 4
	typeSMLReloadCLI  = 2
	typeSMLReloadAddi = 4

	// ModifySPInsSize is the size of the addi sp,sp,-48 a MID patch must
	// skip when it lands inside a GW's prologue during gateway resolution.
	ModifySPInsSize = 4
)

// JALMidReach bounds how far a MID/SML patch's jal may reach to find its
// gateway. jal's encoding supports a full +-1MiB displacement; half of
// that is kept as a safety margin against placement rounding.
const JALMidReach = 1 << 19

// SyscallIdx is the index of the ecall instruction within a
// PatchDescriptor's SurroundingInstrs window.
const SyscallIdx = 4

// WindowSize is the total number of instruction slots either side of
// (and including) the ecall captured before trimming begins.
const WindowSize = 2*SyscallIdx + 1

// Sentinel (a0, a1) pair values the dispatcher returns to the assembly
// entry to request a path it cannot itself complete.
const (
	UnhSyscall = -0x1000
	UnhGeneric = -0x1001
	UnhClone   = -0x1002
)

// RISC-V register numbers used by name outside the decoder (return
// register bookkeeping, glue assembly).
const (
	regZero = 0
	regRA   = 1
	regSP   = 2
	regTP   = 4
	regA7   = 17
)

// TLS-surplus byte offsets (relative to the thread pointer, register
// tp) of the two words the relocation writer uses to save and restore
// a patched window's ra across the dispatcher call. Modern
// glibc reserves a small "static TLS surplus" region per thread for
// exactly this kind of late-binding, non-dlopen'd thread-local word;
// negative offsets land inside it without this library needing its own
// TLS block registered at link time.
const (
	asmRaOrigOffset int32 = -8
	asmRaTempOffset int32 = -16
)

// ObjectDescriptor describes one shared object selected for patching.
type ObjectDescriptor struct {
	Path      string
	BaseAddr  uintptr
	TextStart uintptr
	TextEnd   uintptr
	Patches   []*PatchDescriptor

	// JumpTargets is the object-wide jump-target set built in textscan.go:
	// every address reached by a jal/branch/c.j/c.beqz/c.bnez inside this
	// object's text. The planner consults it in Stage A to refuse a span
	// that would straddle a jump landing.
	JumpTargets map[uint64]bool

	// TrampolineAddr is the start of a separately mmapped page
	// (allocTrampolinePage) holding the object's trampoline, used when the
	// object lies beyond the 2GiB reach of the shared dispatcher entry. It
	// is not inside the object's own text, and where that page lands
	// relative to the object is not controlled. Zero when UsesTrampoline
	// is false.
	TrampolineAddr uintptr
	UsesTrampoline bool
}

// PatchDescriptor describes one ecall site and, after planning, the
// patch that will replace it.
type PatchDescriptor struct {
	SyscallAddr uintptr

	// SurroundingInstrs is the window of decoded instructions captured by
	// the text scanner, clamped to the object's own bounds; EcallIdx is
	// the index of the ecall itself within it (SyscallIdx when the window
	// was not clamped at either edge). Stage A of the planner narrows
	// [PatchStartIdx, PatchEndIdx] in place to the maximal copiable span.
	SurroundingInstrs []riscvdis.Instr
	EcallIdx          int
	PatchStartIdx     int
	PatchEndIdx       int

	// SyscallNum is the statically known syscall number, or one of the
	// TypeGW/TypeMID/TypeSML tags once classified, or UnknownSyscall.
	SyscallNum int

	// RecoveredSyscallNum preserves the statically known syscall number
	// (or UnknownSyscall) across classification, since SyscallNum itself
	// is overwritten with the TypeGW/TypeMID/TypeSML tag once Stage B
	// runs and the activator's SML reload still needs the real number.
	RecoveredSyscallNum int

	// ReturnRegister holds the jump-back target register: regRA by
	// default, regA7 for SML when no other candidate was captured.
	ReturnRegister int

	DstJmpPatch    uintptr
	PatchSizeBytes int
	ReturnAddress  uintptr
	RelocationAddr uintptr

	IsRAUsedBefore bool
	IsRAUsedAfter  bool

	StartWithCNop bool
	EndWithCNop   bool

	// Gateway is the GW patch this MID/SML patch's jal targets. Nil for
	// GW patches and for patches not yet resolved.
	Gateway *PatchDescriptor

	// Owner is the object this patch belongs to, set once by
	// registerPatches (dispatcher.go, called from startup in intercept.go)
	// after every object has been
	// activated. The dispatcher (dispatcher.go, log.go) uses it to
	// resolve a firing patch back to an object path and text offset for
	// the raw syscall log.
	Owner *ObjectDescriptor
}

// Class reports the patch's shape once SyscallNum holds one of the
// class sentinels; zero before classification.
func (p *PatchDescriptor) Class() int {
	switch p.SyscallNum {
	case TypeGW, TypeMID, TypeSML:
		return p.SyscallNum
	default:
		return 0
	}
}

// ClassName renders a classified patch's shape for logging/errors.
func (p *PatchDescriptor) ClassName() string {
	switch p.Class() {
	case TypeGW:
		return "GW"
	case TypeMID:
		return "MID"
	case TypeSML:
		return "SML"
	default:
		return "unclassified"
	}
}
