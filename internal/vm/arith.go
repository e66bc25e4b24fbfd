package vm

import (
	"math"

	"lvm/internal/bytecode"
	"lvm/internal/vmerr"
)

// applyIntBinary implements one integer arithmetic/bitwise opcode (§4.2's
// Integer arith family) with 64-bit wraparound; the same switch serves both
// the plain register form and the ATOMIC_ memory form since the two share
// identical operator semantics and differ only in where their operands live.
func applyIntBinary(op bytecode.Opcode, a, b uint64) (uint64, error) {
	switch op {
	case bytecode.ADD, bytecode.ATOMIC_ADD:
		return a + b, nil
	case bytecode.SUB, bytecode.ATOMIC_SUB:
		return a - b, nil
	case bytecode.MUL, bytecode.ATOMIC_MUL:
		return a * b, nil
	case bytecode.DIV, bytecode.ATOMIC_DIV:
		if b == 0 {
			return 0, vmerr.New(vmerr.DivisionByZero, "DIV by zero")
		}
		return uint64(int64(a) / int64(b)), nil
	case bytecode.MOD, bytecode.ATOMIC_MOD:
		if b == 0 {
			return 0, vmerr.New(vmerr.DivisionByZero, "MOD by zero")
		}
		return uint64(int64(a) % int64(b)), nil
	case bytecode.AND, bytecode.ATOMIC_AND:
		return a & b, nil
	case bytecode.OR, bytecode.ATOMIC_OR:
		return a | b, nil
	case bytecode.XOR, bytecode.ATOMIC_XOR:
		return a ^ b, nil
	case bytecode.SHL, bytecode.ATOMIC_SHL:
		return a << (b & 63), nil
	case bytecode.SHR, bytecode.ATOMIC_SHR:
		return uint64(int64(a) >> (b & 63)), nil
	case bytecode.USHR, bytecode.ATOMIC_USHR:
		return a >> (b & 63), nil
	default:
		return 0, vmerr.New(vmerr.IllegalOpcode, bytecode.Name(op))
	}
}

func applyIntUnary(op bytecode.Opcode, a uint64) uint64 {
	switch op {
	case bytecode.NOT, bytecode.ATOMIC_NOT:
		return ^a
	case bytecode.NEG, bytecode.ATOMIC_NEG:
		return uint64(-int64(a))
	case bytecode.INC, bytecode.ATOMIC_INC:
		return a + 1
	case bytecode.DEC, bytecode.ATOMIC_DEC:
		return a - 1
	default:
		return a
	}
}

func applyDoubleBinary(op bytecode.Opcode, a, b uint64) uint64 {
	da, db := math.Float64frombits(a), math.Float64frombits(b)
	var r float64
	switch op {
	case bytecode.ADD_DOUBLE, bytecode.ATOMIC_ADD_DOUBLE:
		r = da + db
	case bytecode.SUB_DOUBLE, bytecode.ATOMIC_SUB_DOUBLE:
		r = da - db
	case bytecode.MUL_DOUBLE, bytecode.ATOMIC_MUL_DOUBLE:
		r = da * db
	case bytecode.DIV_DOUBLE, bytecode.ATOMIC_DIV_DOUBLE:
		r = da / db
	case bytecode.MOD_DOUBLE, bytecode.ATOMIC_MOD_DOUBLE:
		r = math.Mod(da, db)
	}
	return math.Float64bits(r)
}

func applyFloatBinary(op bytecode.Opcode, a, b uint64) uint64 {
	fa, fb := math.Float32frombits(uint32(a)), math.Float32frombits(uint32(b))
	var r float32
	switch op {
	case bytecode.ADD_FLOAT, bytecode.ATOMIC_ADD_FLOAT:
		r = fa + fb
	case bytecode.SUB_FLOAT, bytecode.ATOMIC_SUB_FLOAT:
		r = fa - fb
	case bytecode.MUL_FLOAT, bytecode.ATOMIC_MUL_FLOAT:
		r = fa * fb
	case bytecode.DIV_FLOAT, bytecode.ATOMIC_DIV_FLOAT:
		r = fa / fb
	case bytecode.MOD_FLOAT, bytecode.ATOMIC_MOD_FLOAT:
		r = float32(math.Mod(float64(fa), float64(fb)))
	}
	return uint64(math.Float32bits(r))
}

// execIntBinOp handles both the plain and ATOMIC_ forms of the two-operand
// integer family. The plain form reads/writes registers only; the atomic
// form treats its first operand as a memory address and performs the whole
// read-modify-write under Linear Memory's lock (§4.2/§5) so concurrent
// threads incrementing the same cell (§8 scenario 4) never interleave.
func (u *ExecutionUnit) execIntBinOp(op bytecode.Opcode, atomic bool) error {
	r1, err := u.fetchReg()
	if err != nil {
		return err
	}
	r2, err := u.fetchReg()
	if err != nil {
		return err
	}
	if !atomic {
		result, err := applyIntBinary(op, u.regs[r1], u.regs[r2])
		if err != nil {
			return err
		}
		u.regs[r1] = result
		return nil
	}

	u.owner.Mem.Lock()
	defer u.owner.Mem.Unlock()
	addr := u.regs[r1]
	a, err := u.owner.Mem.LoadU64(addr)
	if err != nil {
		return err
	}
	result, err := applyIntBinary(op, a, u.regs[r2])
	if err != nil {
		return err
	}
	return u.owner.Mem.StoreU64(addr, result)
}

func (u *ExecutionUnit) execIntUnOp(op bytecode.Opcode, atomic bool) error {
	r, err := u.fetchReg()
	if err != nil {
		return err
	}
	if !atomic {
		u.regs[r] = applyIntUnary(op, u.regs[r])
		return nil
	}

	u.owner.Mem.Lock()
	defer u.owner.Mem.Unlock()
	addr := u.regs[r]
	a, err := u.owner.Mem.LoadU64(addr)
	if err != nil {
		return err
	}
	return u.owner.Mem.StoreU64(addr, applyIntUnary(op, a))
}

// execFloatBinOp mirrors execIntBinOp for the FLOAT/DOUBLE families. The
// atomic memory cell is sized to the operand width (4 bytes for FLOAT, 8 for
// DOUBLE) rather than always 8, since a float cell packed next to other
// fields should not have its neighbor clobbered.
func (u *ExecutionUnit) execFloatBinOp(op bytecode.Opcode, isDouble, atomic bool) error {
	r1, err := u.fetchReg()
	if err != nil {
		return err
	}
	r2, err := u.fetchReg()
	if err != nil {
		return err
	}
	apply := applyFloatBinary
	width := 4
	if isDouble {
		apply = applyDoubleBinary
		width = 8
	}

	if !atomic {
		u.regs[r1] = apply(op, u.regs[r1], u.regs[r2])
		return nil
	}

	u.owner.Mem.Lock()
	defer u.owner.Mem.Unlock()
	addr := u.regs[r1]
	a, err := u.loadWidth(addr, width)
	if err != nil {
		return err
	}
	return u.storeWidth(addr, width, apply(op, a, u.regs[r2]))
}

func (u *ExecutionUnit) execFloatUnOp(isDouble, atomic bool) error {
	r, err := u.fetchReg()
	if err != nil {
		return err
	}
	neg := func(v uint64) uint64 {
		if isDouble {
			return math.Float64bits(-math.Float64frombits(v))
		}
		return uint64(math.Float32bits(-math.Float32frombits(uint32(v))))
	}
	width := 4
	if isDouble {
		width = 8
	}

	if !atomic {
		u.regs[r] = neg(u.regs[r])
		return nil
	}

	u.owner.Mem.Lock()
	defer u.owner.Mem.Unlock()
	addr := u.regs[r]
	a, err := u.loadWidth(addr, width)
	if err != nil {
		return err
	}
	return u.storeWidth(addr, width, neg(a))
}

func (u *ExecutionUnit) execMalloc() error {
	rsize, err := u.fetchReg()
	if err != nil {
		return err
	}
	rdst, err := u.fetchReg()
	if err != nil {
		return err
	}
	addr, err := u.owner.Mem.Alloc(u.regs[rsize])
	if err != nil {
		return err
	}
	u.regs[rdst] = addr
	return nil
}

func (u *ExecutionUnit) execFree() error {
	rptr, err := u.fetchReg()
	if err != nil {
		return err
	}
	return u.owner.Mem.Free(u.regs[rptr])
}

func (u *ExecutionUnit) execRealloc() error {
	rptr, err := u.fetchReg()
	if err != nil {
		return err
	}
	rsize, err := u.fetchReg()
	if err != nil {
		return err
	}
	rdst, err := u.fetchReg()
	if err != nil {
		return err
	}
	addr, err := u.owner.Mem.Realloc(u.regs[rptr], u.regs[rsize])
	if err != nil {
		return err
	}
	u.regs[rdst] = addr
	return nil
}
