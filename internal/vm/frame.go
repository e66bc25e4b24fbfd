package vm

import "lvm/internal/bytecode"

// execCreateFrame is the call prologue (§4.2/§8): push BP, anchor BP at the
// new SP, then reserve size bytes of locals below it.
func (u *ExecutionUnit) execCreateFrame() error {
	size, err := u.fetchI8()
	if err != nil {
		return err
	}
	u.regs[bytecode.SP] -= 8
	if err := u.owner.Mem.StoreU64(u.regs[bytecode.SP], u.regs[bytecode.BP]); err != nil {
		return err
	}
	u.regs[bytecode.BP] = u.regs[bytecode.SP]
	u.regs[bytecode.SP] -= size
	return nil
}

// execDestroyFrame is the inverse epilogue: drop the locals, restore SP to
// where BP was pushed, and pop the caller's BP back.
func (u *ExecutionUnit) execDestroyFrame() error {
	if _, err := u.fetchI8(); err != nil { // size is symmetric with CreateFrame but unused: BP already anchors it
		return err
	}
	u.regs[bytecode.SP] = u.regs[bytecode.BP]
	bp, err := u.owner.Mem.LoadU64(u.regs[bytecode.SP])
	if err != nil {
		return err
	}
	u.regs[bytecode.SP] += 8
	u.regs[bytecode.BP] = bp
	return nil
}

func (u *ExecutionUnit) execGetFieldAddress() error {
	robj, err := u.fetchReg()
	if err != nil {
		return err
	}
	off, err := u.fetchI8()
	if err != nil {
		return err
	}
	rdst, err := u.fetchReg()
	if err != nil {
		return err
	}
	u.regs[rdst] = u.regs[robj] + off
	return nil
}

func (u *ExecutionUnit) execGetLocalAddress() error {
	off, err := u.fetchI8()
	if err != nil {
		return err
	}
	rdst, err := u.fetchReg()
	if err != nil {
		return err
	}
	u.regs[rdst] = u.regs[bytecode.BP] - off
	return nil
}

func (u *ExecutionUnit) execGetParameterAddress() error {
	off, err := u.fetchI8()
	if err != nil {
		return err
	}
	rdst, err := u.fetchReg()
	if err != nil {
		return err
	}
	u.regs[rdst] = u.regs[bytecode.BP] + off
	return nil
}

// offsetKind selects which base register a typed-field access is relative
// to: an arbitrary object pointer, the current frame's locals, or its
// parameters (§4.2's Addressing/Typed field families share this shape).
type offsetKind int

const (
	offsetFromField offsetKind = iota
	offsetFromLocal
	offsetFromParameter
)

// resolveOffsetAddr decodes the operand(s) that precede the destination
// register in a LOAD_FIELD/LOAD_LOCAL/LOAD_PARAMETER-family instruction and
// returns the effective address plus the access width in bytes.
func (u *ExecutionUnit) resolveOffsetAddr(kind offsetKind) (addr uint64, width int, err error) {
	sizeTag, err := u.fetchReg()
	if err != nil {
		return 0, 0, err
	}
	width = intTypeWidth(sizeTag)

	switch kind {
	case offsetFromField:
		robj, err := u.fetchReg()
		if err != nil {
			return 0, 0, err
		}
		off, err := u.fetchI8()
		if err != nil {
			return 0, 0, err
		}
		return u.regs[robj] + off, width, nil
	case offsetFromLocal:
		off, err := u.fetchI8()
		if err != nil {
			return 0, 0, err
		}
		return u.regs[bytecode.BP] - off, width, nil
	default: // offsetFromParameter
		off, err := u.fetchI8()
		if err != nil {
			return 0, 0, err
		}
		return u.regs[bytecode.BP] + off, width, nil
	}
}

func (u *ExecutionUnit) execLoadOffset(kind offsetKind) error {
	addr, width, err := u.resolveOffsetAddr(kind)
	if err != nil {
		return err
	}
	rdst, err := u.fetchReg()
	if err != nil {
		return err
	}
	v, err := u.loadWidth(addr, width)
	if err != nil {
		return err
	}
	u.regs[rdst] = v
	return nil
}

func (u *ExecutionUnit) execStoreOffset(kind offsetKind) error {
	addr, width, err := u.resolveOffsetAddr(kind)
	if err != nil {
		return err
	}
	rsrc, err := u.fetchReg()
	if err != nil {
		return err
	}
	return u.storeWidth(addr, width, u.regs[rsrc])
}
