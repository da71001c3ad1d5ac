package riscvdis

import "testing"

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func TestDecodeEcall(t *testing.T) {
	in := Decode(0x1000, le32(0x00000073))
	if !in.IsSyscall {
		t.Fatalf("expected ecall to decode as syscall, got %+v", in)
	}
	if in.Length != 4 {
		t.Fatalf("expected length 4, got %d", in.Length)
	}
}

func TestDecodeJAL(t *testing.T) {
	// jal ra, 0 -> opcode 0x6f, rd=1(ra), imm=0
	word := uint32(0x6f) | (1 << 7)
	in := Decode(0x2000, le32(word))
	if !in.IsAbsJump || !in.HasIPRelativeOpr {
		t.Fatalf("expected jal to be an abs jump with ip-relative operand, got %+v", in)
	}
	if !in.IsRAUsed {
		t.Fatalf("expected jal ra to mark ra used")
	}
	if in.Reg != 1 {
		t.Fatalf("expected jal to report reg=1 (ra), got %d", in.Reg)
	}
}

func TestDecodeJALRReturn(t *testing.T) {
	// jalr x0, 0(ra) == ret
	word := uint32(0x67) | (1 << 15) // rs1=ra, rd=0, imm=0, funct3=0
	in := Decode(0x3000, le32(word))
	if !in.IsReturn {
		t.Fatalf("expected jalr x0,0(ra) to decode as a return, got %+v", in)
	}
	if !in.IsAbsJump {
		t.Fatalf("expected return to still be an abs jump")
	}
}

func TestDecodeAddiLoadImm(t *testing.T) {
	// addi a7, zero, 64  (li a7, 64), a7 = x17
	var imm uint32 = 64
	word := uint32(0x13) | (17 << 7) | (imm << 20)
	in := Decode(0x4000, le32(word))
	if !in.IsLoadImm || in.ImmValue != 64 {
		t.Fatalf("expected li a7,64 to decode as load-imm 64, got %+v", in)
	}
	if in.Reg != 17 {
		t.Fatalf("expected reg 17 (a7), got %d", in.Reg)
	}
}

func TestDecodeAddiClobbersA7WithoutLoadImm(t *testing.T) {
	// addi a7, a7, 1 -- not a load-immediate (rs1 != zero)
	word := uint32(0x13) | (17 << 7) | (17 << 15) | (1 << 20)
	in := Decode(0x4004, le32(word))
	if in.IsLoadImm {
		t.Fatalf("addi with nonzero rs1 must not be treated as a load-immediate")
	}
	if in.Reg != 17 {
		t.Fatalf("expected reg 17 (a7) written, got %d", in.Reg)
	}
}

func TestDecodeBranchIsNotAbsJump(t *testing.T) {
	// beq x0, x0, 0
	word := uint32(0x63)
	in := Decode(0x5000, le32(word))
	if !in.IsBranch || !in.HasIPRelativeOpr {
		t.Fatalf("expected beq to be an ip-relative branch, got %+v", in)
	}
	if in.IsAbsJump {
		t.Fatalf("branch must not be classified as an absolute jump")
	}
}

func TestDecodeAUIPCIsIPRelative(t *testing.T) {
	word := uint32(0x17) | (10 << 7) // auipc a0, 0
	in := Decode(0x6000, le32(word))
	if !in.HasIPRelativeOpr {
		t.Fatalf("expected auipc to be flagged ip-relative")
	}
	if in.IsAbsJump {
		t.Fatalf("auipc must not be an abs jump")
	}
}

func TestDecodeCompressedLI(t *testing.T) {
	// c.li a0, 5: quadrant=01, funct3=010, rd=a0(10), imm bits
	word := uint16(0x01) | (0x2 << 13) | (10 << 7) | (5 << 2)
	in := Decode(0x7000, []byte{byte(word), byte(word >> 8)})
	if in.Length != 2 {
		t.Fatalf("expected compressed instruction length 2, got %d", in.Length)
	}
	if !in.IsLoadImm || in.ImmValue != 5 {
		t.Fatalf("expected c.li a0,5 to decode as load-imm 5, got %+v", in)
	}
}

func TestDecodeCompressedJR(t *testing.T) {
	// c.jr ra: quadrant=10, funct4=1000 (bits 15:12), rd/rs1=ra(1), rs2=0 -> 0x8082
	word := uint16(0x02) | (0x8 << 12) | (1 << 7)
	in := Decode(0x8000, []byte{byte(word), byte(word >> 8)})
	if !in.IsAbsJump {
		t.Fatalf("expected c.jr to be an abs jump, got %+v", in)
	}
	if !in.IsReturn {
		t.Fatalf("expected c.jr ra to be treated as a return")
	}
}

func TestDecodeUnknownWord(t *testing.T) {
	// opcode bits all 1 in low 7 (0x7f is not an allocated base opcode)
	in := Decode(0x9000, le32(0x7f))
	if !in.Unknown {
		t.Fatalf("expected unrecognized opcode to be marked unknown")
	}
}
