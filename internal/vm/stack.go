package vm

import "lvm/internal/bytecode"

// loadWidth/storeWidth dispatch to the Memory component's fixed-width
// accessors for the four widths every LOAD/STORE/PUSH/POP family member
// supports (§4.2).
func (u *ExecutionUnit) loadWidth(addr uint64, n int) (uint64, error) {
	switch n {
	case 1:
		v, err := u.owner.Mem.LoadU8(addr)
		return uint64(v), err
	case 2:
		v, err := u.owner.Mem.LoadU16(addr)
		return uint64(v), err
	case 4:
		v, err := u.owner.Mem.LoadU32(addr)
		return uint64(v), err
	default:
		return u.owner.Mem.LoadU64(addr)
	}
}

func (u *ExecutionUnit) storeWidth(addr uint64, n int, v uint64) error {
	switch n {
	case 1:
		return u.owner.Mem.StoreU8(addr, uint8(v))
	case 2:
		return u.owner.Mem.StoreU16(addr, uint16(v))
	case 4:
		return u.owner.Mem.StoreU32(addr, uint32(v))
	default:
		return u.owner.Mem.StoreU64(addr, v)
	}
}

// execPush decrements SP by n, then stores n bytes of the register operand
// there (§4.2's Stack family).
func (u *ExecutionUnit) execPush(n int) error {
	r, err := u.fetchReg()
	if err != nil {
		return err
	}
	u.regs[bytecode.SP] -= uint64(n)
	return u.storeWidth(u.regs[bytecode.SP], n, u.regs[r])
}

// execPop loads n bytes at SP into the register operand, then increments SP.
func (u *ExecutionUnit) execPop(n int) error {
	r, err := u.fetchReg()
	if err != nil {
		return err
	}
	v, err := u.loadWidth(u.regs[bytecode.SP], n)
	if err != nil {
		return err
	}
	u.regs[bytecode.SP] += uint64(n)
	u.regs[r] = v
	return nil
}

func (u *ExecutionUnit) execLoad(n int) error {
	raddr, err := u.fetchReg()
	if err != nil {
		return err
	}
	rdst, err := u.fetchReg()
	if err != nil {
		return err
	}
	v, err := u.loadWidth(u.regs[raddr], n)
	if err != nil {
		return err
	}
	u.regs[rdst] = v
	return nil
}

func (u *ExecutionUnit) execStore(n int) error {
	raddr, err := u.fetchReg()
	if err != nil {
		return err
	}
	rsrc, err := u.fetchReg()
	if err != nil {
		return err
	}
	return u.storeWidth(u.regs[raddr], n, u.regs[rsrc])
}

func (u *ExecutionUnit) execMov() error {
	rs, err := u.fetchReg()
	if err != nil {
		return err
	}
	rd, err := u.fetchReg()
	if err != nil {
		return err
	}
	u.regs[rd] = u.regs[rs]
	return nil
}

func (u *ExecutionUnit) execMovImmediate(n int) error {
	imm, err := u.fetchImmN(n)
	if err != nil {
		return err
	}
	rd, err := u.fetchReg()
	if err != nil {
		return err
	}
	u.regs[rd] = imm
	return nil
}
