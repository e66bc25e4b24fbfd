package vm

import (
	"encoding/binary"

	"lvm/internal/bytecode"
)

// asm is a minimal linear bytecode assembler used only by this package's
// tests, mirroring how pvm_test.go builds raw instruction streams by hand
// rather than pulling in a real assembler.
type asm struct {
	buf []byte
}

func (a *asm) op(o bytecode.Opcode) *asm {
	a.buf = append(a.buf, o)
	return a
}

func (a *asm) reg(r uint8) *asm {
	a.buf = append(a.buf, r)
	return a
}

func (a *asm) imm1(v uint8) *asm {
	a.buf = append(a.buf, v)
	return a
}

func (a *asm) imm2(v uint16) *asm {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	a.buf = append(a.buf, b[:]...)
	return a
}

func (a *asm) imm4(v uint32) *asm {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	a.buf = append(a.buf, b[:]...)
	return a
}

func (a *asm) imm8(v uint64) *asm {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	a.buf = append(a.buf, b[:]...)
	return a
}

func (a *asm) bytes() []byte { return a.buf }

func (a *asm) pos() uint64 { return uint64(len(a.buf)) }

// reserveImm8 emits 8 placeholder bytes and returns their offset, for a
// forward-reference address patched in later with patchImm8.
func (a *asm) reserveImm8() int {
	pos := len(a.buf)
	a.buf = append(a.buf, make([]byte, 8)...)
	return pos
}

func (a *asm) patchImm8(pos int, v uint64) {
	binary.LittleEndian.PutUint64(a.buf[pos:pos+8], v)
}
