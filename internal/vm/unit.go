package vm

import (
	"encoding/binary"
	"sync"

	"lvm/internal/bytecode"
	"lvm/internal/vmerr"
	"lvm/internal/vmlog"
)

// ExecutionUnit is the register file plus fetch-decode-execute loop of
// §4.2. It borrows the VM and Linear Memory by shared reference; its
// handle exclusively owns it.
type ExecutionUnit struct {
	regs   Registers
	owner  *VirtualMachine
	handle *ThreadHandle
	mu     sync.Mutex // guards regs for cross-thread GET/SET_REGISTER (§4.3)
}

func newExecutionUnit(owner *VirtualMachine, handle *ThreadHandle, stackTop, entry uint64) *ExecutionUnit {
	u := &ExecutionUnit{owner: owner, handle: handle}
	u.regs[bytecode.BP] = stackTop
	u.regs[bytecode.SP] = stackTop
	u.regs[bytecode.PC] = entry
	return u
}

// run enters the dispatch loop and returns when THREAD_FINISH executes or
// the VM transitions to not-running (§4.2).
func (u *ExecutionUnit) run() {
	for u.owner.Running() && !u.handle.stopRequested() {
		op, err := u.fetchOpcode()
		if err != nil {
			u.fault(err)
			return
		}
		finished, err := u.execute(op)
		if err != nil {
			u.fault(err)
			return
		}
		if finished {
			return
		}
	}
}

func (u *ExecutionUnit) fault(err error) {
	vmlog.Tracef("fault: %v", err)
	u.owner.Exit(1)
}

func (u *ExecutionUnit) fetchOpcode() (bytecode.Opcode, error) {
	b, err := u.owner.Mem.FetchByte(u.regs[bytecode.PC])
	if err != nil {
		return 0, err
	}
	u.regs[bytecode.PC]++
	return b, nil
}

// fetchReg decodes a one-byte register-index operand.
func (u *ExecutionUnit) fetchReg() (uint8, error) {
	b, err := u.owner.Mem.FetchByte(u.regs[bytecode.PC])
	if err != nil {
		return 0, err
	}
	u.regs[bytecode.PC]++
	return b, nil
}

func (u *ExecutionUnit) fetchImmN(n int) (uint64, error) {
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := u.owner.Mem.FetchByte(u.regs[bytecode.PC])
		if err != nil {
			return 0, err
		}
		u.regs[bytecode.PC]++
		buf[i] = b
	}
	switch n {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	case 8:
		return binary.LittleEndian.Uint64(buf), nil
	}
	return 0, vmerr.New(vmerr.InvalidModule, "bad immediate width")
}

// fetchI8 decodes an 8-byte offset/absolute-address/immediate operand.
func (u *ExecutionUnit) fetchI8() (uint64, error) { return u.fetchImmN(8) }

