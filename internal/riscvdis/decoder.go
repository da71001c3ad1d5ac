package riscvdis

// Decode decodes the instruction whose first two bytes of a little-endian
// RV64GC instruction stream start at raw[0]. raw must have at least 2
// bytes; if the low two bits of raw[0] indicate a 32-bit instruction it
// must have at least 4. The returned Instr.Length tells the caller how
// many bytes to advance.
func Decode(addr uint64, raw []byte) Instr {
	if len(raw) < 2 {
		return Instr{Addr: addr, Length: 2, Unknown: true}
	}
	lo16 := uint32(raw[0]) | uint32(raw[1])<<8
	if lo16&0x3 != 0x3 {
		return decodeCompressed(addr, lo16)
	}
	if len(raw) < 4 {
		return Instr{Addr: addr, Length: 4, Unknown: true}
	}
	word := lo16 | uint32(raw[2])<<16 | uint32(raw[3])<<24
	return decode32(addr, word)
}

func raUsed(regs ...uint32) bool {
	for _, r := range regs {
		if r == 1 {
			return true
		}
	}
	return false
}

func decode32(addr uint64, word uint32) Instr {
	opcode := word & 0x7f
	rd := (word >> 7) & 0x1f
	funct3 := (word >> 12) & 0x7
	rs1 := (word >> 15) & 0x1f
	rs2 := (word >> 20) & 0x1f

	in := Instr{Addr: addr, Length: 4, Raw: word}

	switch opcode {
	case 0x73: // SYSTEM
		imm12 := word >> 20
		if funct3 == 0 && rd == 0 && rs1 == 0 && imm12 == 0 {
			in.IsSyscall = true
			return in
		}
		// EBREAK, CSR*, etc: not a jump; a CSR instruction's rd is still
		// recorded as the register it writes.
		in.Reg = rd
		in.IsRAUsed = raUsed(rd, rs1)
		return in

	case 0x6f: // JAL
		in.IsAbsJump = true
		in.HasIPRelativeOpr = true
		in.Reg = rd
		in.IsRAUsed = raUsed(rd)
		in.ImmValue = jImm(word)
		return in

	case 0x67: // JALR
		in.IsAbsJump = true
		in.Reg = rd
		in.IsRAUsed = raUsed(rd, rs1)
		if rd == 0 && rs1 == 1 && signExtend(word>>20, 12) == 0 {
			in.IsReturn = true
		}
		return in

	case 0x63: // BRANCH
		in.IsBranch = true
		in.HasIPRelativeOpr = true
		in.IsRAUsed = raUsed(rs1, rs2)
		in.ImmValue = bImm(word)
		return in

	case 0x17: // AUIPC
		in.HasIPRelativeOpr = true
		in.Reg = rd
		in.IsRAUsed = raUsed(rd)
		return in

	case 0x37: // LUI
		in.Reg = rd
		in.IsRAUsed = raUsed(rd)
		return in

	case 0x03: // LOAD
		in.Reg = rd
		in.IsRAUsed = raUsed(rd, rs1)
		return in

	case 0x23: // STORE
		in.IsRAUsed = raUsed(rs1, rs2)
		return in

	case 0x13, 0x1b: // OP-IMM, OP-IMM-32
		in.Reg = rd
		in.IsRAUsed = raUsed(rd, rs1)
		if funct3 == 0 && opcode == 0x13 { // ADDI
			if rs1 == 0 {
				in.IsLoadImm = true
				in.ImmValue = signExtend(word>>20, 12)
			}
		}
		return in

	case 0x33, 0x3b: // OP, OP-32 (includes M-extension MUL/DIV/REM)
		in.Reg = rd
		in.IsRAUsed = raUsed(rd, rs1, rs2)
		return in

	case 0x2f: // AMO
		in.Reg = rd
		in.IsRAUsed = raUsed(rd, rs1, rs2)
		return in

	case 0x0f: // MISC-MEM (FENCE, FENCE.I)
		return in

	default:
		in.Unknown = true
		return in
	}
}

func signExtend(val uint32, bits uint) int64 {
	shift := 32 - bits
	return int64(int32(val<<shift)) >> shift
}

// jImm decodes a J-type (jal) PC-relative displacement.
func jImm(word uint32) int64 {
	imm20 := (word >> 31) & 0x1
	imm10_1 := (word >> 21) & 0x3ff
	imm11 := (word >> 20) & 0x1
	imm19_12 := (word >> 12) & 0xff
	v := (imm20 << 20) | (imm19_12 << 12) | (imm11 << 11) | (imm10_1 << 1)
	return signExtend(v, 21)
}

// bImm decodes a B-type (branch) PC-relative displacement.
func bImm(word uint32) int64 {
	imm12 := (word >> 31) & 0x1
	imm10_5 := (word >> 25) & 0x3f
	imm4_1 := (word >> 8) & 0xf
	imm11 := (word >> 7) & 0x1
	v := (imm12 << 12) | (imm11 << 11) | (imm10_5 << 5) | (imm4_1 << 1)
	return signExtend(v, 13)
}

// cjImm decodes a CJ-type (c.j) PC-relative displacement.
func cjImm(word uint32) int64 {
	bit := func(n uint) uint32 { return (word >> n) & 1 }
	v := bit(12)<<11 | bit(8)<<10 | bit(10)<<9 | bit(9)<<8 | bit(6)<<7 |
		bit(7)<<6 | bit(2)<<5 | bit(11)<<4 | bit(5)<<3 | bit(4)<<2 | bit(3)<<1
	return signExtend(v, 12)
}

// cbImm decodes a CB-type (c.beqz/c.bnez) PC-relative displacement.
func cbImm(word uint32) int64 {
	bit := func(n uint) uint32 { return (word >> n) & 1 }
	v := bit(12)<<8 | bit(6)<<7 | bit(5)<<6 | bit(2)<<5 | bit(11)<<4 | bit(10)<<3 | bit(4)<<2 | bit(3)<<1
	return signExtend(v, 9)
}

// compressed register fields (x8..x15) used by the C0/C1 "short" forms.
func cReg(field uint32) uint32 { return field + 8 }

func decodeCompressed(addr uint64, word uint32) Instr {
	in := Instr{Addr: addr, Length: 2, Raw: word}
	quadrant := word & 0x3
	funct3 := (word >> 13) & 0x7

	switch quadrant {
	case 0x0:
		rdp := cReg((word >> 2) & 0x7)
		switch funct3 {
		case 0x2: // C.LW
			in.Reg = rdp
			return in
		case 0x3: // C.LD
			in.Reg = rdp
			return in
		case 0x6, 0x7: // C.SW, C.SD
			return in
		case 0x0: // C.ADDI4SPN
			in.Reg = rdp
			return in
		default:
			in.Unknown = true
			return in
		}

	case 0x1:
		rd := (word >> 7) & 0x1f
		switch funct3 {
		case 0x0: // C.ADDI / C.NOP
			in.Reg = rd
			in.IsRAUsed = raUsed(rd)
			return in
		case 0x1: // C.ADDIW (RV64)
			in.Reg = rd
			in.IsRAUsed = raUsed(rd)
			return in
		case 0x2: // C.LI
			in.Reg = rd
			in.IsRAUsed = raUsed(rd)
			in.IsLoadImm = rd != 0
			imm := ((word >> 12) & 0x1) << 5
			imm |= (word >> 2) & 0x1f
			in.ImmValue = signExtend(imm, 6)
			return in
		case 0x3: // C.ADDI16SP / C.LUI
			in.Reg = rd
			in.IsRAUsed = raUsed(rd)
			return in
		case 0x4: // MISC-ALU on x8..x15
			rdp := cReg((word >> 7) & 0x7)
			in.Reg = rdp
			return in
		case 0x5: // C.J
			in.IsAbsJump = true
			in.HasIPRelativeOpr = true
			in.ImmValue = cjImm(word)
			return in
		case 0x6, 0x7: // C.BEQZ, C.BNEZ
			in.IsBranch = true
			in.HasIPRelativeOpr = true
			in.ImmValue = cbImm(word)
			return in
		default:
			in.Unknown = true
			return in
		}

	case 0x2:
		rd := (word >> 7) & 0x1f
		switch funct3 {
		case 0x0: // C.SLLI
			in.Reg = rd
			in.IsRAUsed = raUsed(rd)
			return in
		case 0x2, 0x3: // C.LWSP, C.LDSP
			in.Reg = rd
			in.IsRAUsed = raUsed(rd)
			return in
		case 0x4: // CR format: C.JR/C.MV/C.EBREAK/C.JALR/C.ADD
			funct4 := (word >> 12) & 0xf
			rs2 := (word >> 2) & 0x1f
			switch {
			case funct4 == 0x8 && rs2 == 0: // C.JR
				in.IsAbsJump = true
				in.IsRAUsed = raUsed(rd) // rd field holds rs1 here
				if rd == 1 {
					in.IsReturn = true
				}
				return in
			case funct4 == 0x8: // C.MV
				in.Reg = rd
				in.IsRAUsed = raUsed(rd, rs2)
				return in
			case funct4 == 0x9 && rs2 == 0 && rd == 0: // C.EBREAK
				return in
			case funct4 == 0x9 && rs2 == 0: // C.JALR
				in.IsAbsJump = true
				in.Reg = 1
				in.IsRAUsed = true
				return in
			default: // C.ADD
				in.Reg = rd
				in.IsRAUsed = raUsed(rd, rs2)
				return in
			}
		case 0x6, 0x7: // C.SWSP, C.SDSP
			rs2 := (word >> 2) & 0x1f
			in.IsRAUsed = raUsed(rs2)
			return in
		default:
			in.Unknown = true
			return in
		}
	}

	in.Unknown = true
	return in
}
