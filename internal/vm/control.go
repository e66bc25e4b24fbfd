package vm

import "lvm/internal/bytecode"

// pushReturnAddr pushes the current PC (the address of the instruction
// following the call) onto the stack, used by both INVOKE forms.
func (u *ExecutionUnit) pushReturnAddr() error {
	u.regs[bytecode.SP] -= 8
	return u.owner.Mem.StoreU64(u.regs[bytecode.SP], u.regs[bytecode.PC])
}

func (u *ExecutionUnit) execInvoke() error {
	rtgt, err := u.fetchReg()
	if err != nil {
		return err
	}
	target := u.regs[rtgt]
	if err := u.pushReturnAddr(); err != nil {
		return err
	}
	u.regs[bytecode.PC] = target
	return nil
}

func (u *ExecutionUnit) execInvokeImmediate() error {
	target, err := u.fetchI8()
	if err != nil {
		return err
	}
	if err := u.pushReturnAddr(); err != nil {
		return err
	}
	u.regs[bytecode.PC] = target
	return nil
}

func (u *ExecutionUnit) execReturn() error {
	pc, err := u.owner.Mem.LoadU64(u.regs[bytecode.SP])
	if err != nil {
		return err
	}
	u.regs[bytecode.SP] += 8
	u.regs[bytecode.PC] = pc
	return nil
}

// execInterrupt pushes FLAGS then PC and dispatches through IDTR[n*8],
// mirroring a hardware interrupt gate (§4.2).
func (u *ExecutionUnit) execInterrupt() error {
	n, err := u.fetchReg()
	if err != nil {
		return err
	}
	u.regs[bytecode.SP] -= 8
	if err := u.owner.Mem.StoreU64(u.regs[bytecode.SP], u.regs[bytecode.FLAGS]); err != nil {
		return err
	}
	u.regs[bytecode.SP] -= 8
	if err := u.owner.Mem.StoreU64(u.regs[bytecode.SP], u.regs[bytecode.PC]); err != nil {
		return err
	}
	handler, err := u.owner.Mem.LoadU64(u.regs[bytecode.IDTR] + uint64(n)*8)
	if err != nil {
		return err
	}
	u.regs[bytecode.PC] = handler
	return nil
}

// execInterruptReturn is IRET: pop PC, then FLAGS, the reverse order of
// INTERRUPT's pushes.
func (u *ExecutionUnit) execInterruptReturn() error {
	pc, err := u.owner.Mem.LoadU64(u.regs[bytecode.SP])
	if err != nil {
		return err
	}
	u.regs[bytecode.SP] += 8
	flags, err := u.owner.Mem.LoadU64(u.regs[bytecode.SP])
	if err != nil {
		return err
	}
	u.regs[bytecode.SP] += 8
	u.regs[bytecode.PC] = pc
	u.regs[bytecode.FLAGS] = flags
	return nil
}

func (u *ExecutionUnit) execExit() (bool, error) {
	r, err := u.fetchReg()
	if err != nil {
		return false, err
	}
	u.owner.Exit(int(u.regs[r]))
	return true, nil
}

func (u *ExecutionUnit) execExitImmediate() (bool, error) {
	status, err := u.fetchI8()
	if err != nil {
		return false, err
	}
	u.owner.Exit(int(status))
	return true, nil
}

// execSyscall is a decode-only stub (§9): it reads its operand for wire
// compatibility but always reports success with RV=0.
func (u *ExecutionUnit) execSyscall() error {
	if _, err := u.fetchReg(); err != nil {
		return err
	}
	u.regs[bytecode.RV] = 0
	return nil
}
