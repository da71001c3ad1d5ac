package main

// asmBuf accumulates raw RISC-V64 machine code into a byte buffer.
// The relocation writer and activator assemble glue code destined for
// live mapped text, so the bytes go straight into a []byte with no
// ELF section or symbol table to route them through.
type asmBuf struct {
	b []byte
}

func (a *asmBuf) word(w uint32) {
	a.b = append(a.b, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
}

func (a *asmBuf) half(w uint16) {
	a.b = append(a.b, byte(w), byte(w>>8))
}

func (a *asmBuf) bytes() []byte {
	return a.b
}

func (a *asmBuf) len() int {
	return len(a.b)
}

// R-type: opcode[6:0] | rd[11:7] | funct3[14:12] | rs1[19:15] | rs2[24:20] | funct7[31:25]
func rType(opcode, funct3, funct7, rd, rs1, rs2 uint32) uint32 {
	return opcode | (rd << 7) | (funct3 << 12) | (rs1 << 15) | (rs2 << 20) | (funct7 << 25)
}

// I-type: opcode[6:0] | rd[11:7] | funct3[14:12] | rs1[19:15] | imm[31:20]
func iType(opcode, funct3, rd, rs1 uint32, imm int32) uint32 {
	return opcode | (rd << 7) | (funct3 << 12) | (rs1 << 15) | (uint32(imm&0xfff) << 20)
}

// S-type: opcode[6:0] | imm[11:7] | funct3[14:12] | rs1[19:15] | rs2[24:20] | imm[31:25]
func sType(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	imm40 := uint32(imm & 0x1f)
	imm115 := uint32((imm >> 5) & 0x7f)
	return opcode | (imm40 << 7) | (funct3 << 12) | (rs1 << 15) | (rs2 << 20) | (imm115 << 25)
}

// U-type: opcode[6:0] | rd[11:7] | imm[31:12]
func uType(opcode, rd, imm uint32) uint32 {
	return opcode | (rd << 7) | (imm & 0xfffff000)
}

// J-type: opcode[6:0] | rd[11:7] | imm[19:12|11|10:1|20]
func jType(opcode, rd uint32, imm int32) uint32 {
	imm1912 := uint32((imm >> 12) & 0xff)
	imm11 := uint32((imm >> 11) & 0x1)
	imm101 := uint32((imm >> 1) & 0x3ff)
	imm20 := uint32((imm >> 20) & 0x1)
	return opcode | (rd << 7) | (imm1912 << 12) | (imm11 << 20) | (imm101 << 21) | (imm20 << 31)
}

func (a *asmBuf) addi(rd, rs1 int, imm int32) {
	a.word(iType(0x13, 0x0, uint32(rd), uint32(rs1), imm))
}

func (a *asmBuf) ld(rd, rs1 int, offset int32) {
	a.word(iType(0x03, 0x3, uint32(rd), uint32(rs1), offset))
}

func (a *asmBuf) sd(rs1, rs2 int, offset int32) {
	a.word(sType(0x23, 0x3, uint32(rs1), uint32(rs2), offset))
}

func (a *asmBuf) jal(rd int, imm int32) {
	a.word(jType(0x6f, uint32(rd), imm))
}

func (a *asmBuf) jalr(rd, rs1 int, offset int32) {
	a.word(iType(0x67, 0x0, uint32(rd), uint32(rs1), offset))
}

func (a *asmBuf) auipc(rd int, imm uint32) {
	a.word(uType(0x17, uint32(rd), imm))
}

// cNop emits the 2-byte compressed NOP (c.addi x0, 0), used for
// alignment padding when a patch's edge does not land on a known
// instruction boundary.
func (a *asmBuf) cNop() {
	a.half(0x0001)
}

// cLi emits the 2-byte compressed load-immediate c.li rd, imm (CI
// format, quadrant 01, funct3 010). imm must fit signed 6 bits; the
// SML reload path falls back to a 4-byte addi when it doesn't.
func (a *asmBuf) cLi(rd int, imm int32) {
	u := uint16(imm) & 0x3f
	word := uint16(0x4001) | (uint16(rd&0x1f) << 7) | ((u & 0x1f) << 2) | ((u >> 5) << 12)
	a.half(word)
}

func (a *asmBuf) ecall() {
	a.word(iType(0x73, 0x0, 0, 0, 0))
}
