package vm

import (
	"math"

	"lvm/internal/bytecode"
)

// compareResult is the FLAGS-shaped outcome of a CMP/ATOMIC_CMP evaluation
// (§3): ZERO is equality, CARRY is signed-less-than, UNSIGNED is
// unsigned-less-than.
type compareResult struct {
	zero, carry, unsigned bool
}

// compareTyped implements CMP's per-type-tag comparison (§4.2). Integer
// types are masked to their width before both a signed and an unsigned
// comparison; float types compare as IEEE-754 and, per §3, report ZERO=0
// with CARRY and UNSIGNED both carrying the less-than bit.
func compareTyped(tag byte, a, b uint64) compareResult {
	switch tag {
	case bytecode.FloatType:
		fa := math.Float32frombits(uint32(a))
		fb := math.Float32frombits(uint32(b))
		lt := fa < fb
		return compareResult{zero: false, carry: lt, unsigned: lt}
	case bytecode.DoubleType:
		da := math.Float64frombits(a)
		db := math.Float64frombits(b)
		lt := da < db
		return compareResult{zero: false, carry: lt, unsigned: lt}
	default:
		width := intTypeWidth(tag)
		ua, ub := maskWidth(a, width), maskWidth(b, width)
		sa, sb := signExtend(ua, width), signExtend(ub, width)
		return compareResult{
			zero:     ua == ub,
			carry:    sa < sb,
			unsigned: ua < ub,
		}
	}
}

func intTypeWidth(tag byte) int {
	switch tag {
	case bytecode.ByteType:
		return 1
	case bytecode.ShortType:
		return 2
	case bytecode.IntType:
		return 4
	default:
		return 8
	}
}

// typeTagWidth is intTypeWidth extended to the two floating tags, used
// where a byte width (not a signed/unsigned compare) is what's needed.
func typeTagWidth(tag byte) int {
	if tag == bytecode.FloatType {
		return 4
	}
	return intTypeWidth(tag)
}

func maskWidth(v uint64, width int) uint64 {
	if width >= 8 {
		return v
	}
	return v & ((uint64(1) << (uint(width) * 8)) - 1)
}

func signExtend(v uint64, width int) int64 {
	if width >= 8 {
		return int64(v)
	}
	shift := uint(64 - width*8)
	return int64(v<<shift) >> shift
}

// predicate evaluates the FLAGS test that a MOV_x/Jx opcode family member
// names (§4.2: the conditional MOV and jump families share this mapping).
func predicate(op bytecode.Opcode, r compareResult) bool {
	switch op {
	case bytecode.MOV_E, bytecode.JE:
		return r.zero
	case bytecode.MOV_NE, bytecode.JNE:
		return !r.zero
	case bytecode.MOV_L, bytecode.JL:
		return r.carry
	case bytecode.MOV_LE, bytecode.JLE:
		return r.carry || r.zero
	case bytecode.MOV_G, bytecode.JG:
		return !r.carry && !r.zero
	case bytecode.MOV_GE, bytecode.JGE:
		return !r.carry
	case bytecode.MOV_UL, bytecode.JUL:
		return r.unsigned
	case bytecode.MOV_ULE, bytecode.JULE:
		return r.unsigned || r.zero
	case bytecode.MOV_UG, bytecode.JUG:
		return !r.unsigned && !r.zero
	case bytecode.MOV_UGE, bytecode.JUGE:
		return !r.unsigned
	default:
		return false
	}
}

// flagsResult reconstructs a compareResult from the current FLAGS register,
// used by conditional MOV/jump which test the flags CMP already set rather
// than re-comparing operands.
func (u *ExecutionUnit) flagsResult() compareResult {
	return compareResult{
		zero:     u.regs.flagsSet(bytecode.ZeroMask),
		carry:    u.regs.flagsSet(bytecode.CarryMask),
		unsigned: u.regs.flagsSet(bytecode.UnsignedMask),
	}
}

func (u *ExecutionUnit) applyCompare(r compareResult) {
	u.regs.setFlag(bytecode.ZeroMask, r.zero)
	u.regs.setFlag(bytecode.CarryMask, r.carry)
	u.regs.setFlag(bytecode.UnsignedMask, r.unsigned)
}

func (u *ExecutionUnit) execCmp() error {
	tag, err := u.fetchReg()
	if err != nil {
		return err
	}
	r1, err := u.fetchReg()
	if err != nil {
		return err
	}
	r2, err := u.fetchReg()
	if err != nil {
		return err
	}
	u.applyCompare(compareTyped(tag, u.regs[r1], u.regs[r2]))
	return nil
}

// execAtomicCmp is CMP's atomic sibling (§4.2): the first operand is loaded
// from memory under the Linear Memory lock instead of from a register, so a
// concurrent writer cannot change it between the load and the compare.
func (u *ExecutionUnit) execAtomicCmp() error {
	tag, err := u.fetchReg()
	if err != nil {
		return err
	}
	raddr, err := u.fetchReg()
	if err != nil {
		return err
	}
	r2, err := u.fetchReg()
	if err != nil {
		return err
	}

	u.owner.Mem.Lock()
	defer u.owner.Mem.Unlock()

	a, err := u.loadWidth(u.regs[raddr], typeTagWidth(tag))
	if err != nil {
		return err
	}
	u.applyCompare(compareTyped(tag, a, u.regs[r2]))
	return nil
}

func (u *ExecutionUnit) execCondMov(op bytecode.Opcode) error {
	rs, err := u.fetchReg()
	if err != nil {
		return err
	}
	rd, err := u.fetchReg()
	if err != nil {
		return err
	}
	if predicate(op, u.flagsResult()) {
		u.regs[rd] = u.regs[rs]
	}
	return nil
}

func (u *ExecutionUnit) execCondJump(op bytecode.Opcode) error {
	r, err := u.fetchReg()
	if err != nil {
		return err
	}
	if predicate(op, u.flagsResult()) {
		u.regs[bytecode.PC] = u.regs[r]
	}
	return nil
}

func (u *ExecutionUnit) execJump() error {
	r, err := u.fetchReg()
	if err != nil {
		return err
	}
	u.regs[bytecode.PC] = u.regs[r]
	return nil
}

func (u *ExecutionUnit) execJumpImmediate() error {
	addr, err := u.fetchI8()
	if err != nil {
		return err
	}
	u.regs[bytecode.PC] = addr
	return nil
}

func (u *ExecutionUnit) execJumpIf(onTrue bool) error {
	rcond, err := u.fetchReg()
	if err != nil {
		return err
	}
	rtarget, err := u.fetchReg()
	if err != nil {
		return err
	}
	truthy := u.regs[rcond] != 0
	if truthy == onTrue {
		u.regs[bytecode.PC] = u.regs[rtarget]
	}
	return nil
}

// execCAS implements the register-only compare-and-swap of §4.2/§8: if
// R1==R2, R1 takes R3 and ZERO is set; otherwise R2 takes R1's old value and
// ZERO is cleared. Unlike the ATOMIC_ family this does not touch memory —
// it is a primitive threads use to build their own memory CAS loops out of
// LOAD/ATOMIC_CMP/CAS/STORE.
func (u *ExecutionUnit) execCAS() error {
	r1, err := u.fetchReg()
	if err != nil {
		return err
	}
	r2, err := u.fetchReg()
	if err != nil {
		return err
	}
	r3, err := u.fetchReg()
	if err != nil {
		return err
	}
	if u.regs[r1] == u.regs[r2] {
		u.regs[r1] = u.regs[r3]
		u.regs.setFlag(bytecode.ZeroMask, true)
	} else {
		old := u.regs[r1]
		u.regs[r2] = old
		u.regs.setFlag(bytecode.ZeroMask, false)
	}
	return nil
}
