// Package riscvdis decodes individual RV64GC (base integer plus the
// compressed extension) instructions into the flat attribute set the
// syscall-site scanner and patch planner need. It knows nothing about
// control flow, basic blocks, or symbol names - each call decodes
// exactly one instruction at one address.
package riscvdis

// Instr is one decoded instruction and the subset of its semantics that
// the syscall-site scanner and patch planner need to make placement
// decisions. Fields not relevant to an instruction keep their zero
// value (Reg 0 means "no register is written", IsLoadImm false means
// "this instruction does not by itself load a known constant into Reg").
type Instr struct {
	Addr   uint64
	Length int // 2 for a compressed instruction, 4 otherwise
	Raw    uint32

	// Unknown is set when the 16 or 32 bit word did not match any
	// encoding this decoder recognizes. Unknown instructions are treated
	// conservatively everywhere upstream: never copiable, always an
	// implicit boundary.
	Unknown bool

	IsSyscall        bool // ecall
	IsAbsJump        bool // jal or jalr (including the c.j/c.jr/c.jalr forms)
	HasIPRelativeOpr bool // auipc, jal, or a conditional branch
	IsRAUsed         bool // reads or writes x1 (ra)

	// Reg is the destination register written by this instruction, or 0
	// (x0/zero, which by definition is never a meaningful destination)
	// when the instruction writes no general-purpose register.
	Reg uint32

	// IsLoadImm and ImmValue describe instructions that load a known
	// constant into Reg in one step (c.li, addi rd, zero, imm). The text
	// scanner uses this to recover a statically known a7 value; the
	// decoder itself does not track cross-instruction state.
	//
	// For jal/c.j (HasIPRelativeOpr && IsAbsJump) and for conditional
	// branches (IsBranch), ImmValue instead holds the signed, byte-granular
	// PC-relative displacement, reused rather than adding a second field
	// since a given instruction is never both a load-immediate and a jump.
	IsLoadImm bool
	ImmValue  int64

	// IsBranch marks conditional branches (beq/bne/... and their
	// compressed forms), which are IP-relative but, unlike jal/jalr,
	// are not considered "absolute" jumps.
	IsBranch bool

	// IsReturn marks the ret pseudo-instruction (jalr x0, 0(x1)) and its
	// compressed form c.jr ra. Returns are absolute jumps but are
	// explicitly permitted after a patched ecall.
	IsReturn bool
}
