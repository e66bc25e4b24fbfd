package vm

import (
	"lvm/internal/bytecode"
	"lvm/internal/module/trace"
	"lvm/internal/vmerr"
	"lvm/internal/vmlog"
)

// execute decodes and performs the effect of op, which has already been
// fetched and whose PC has already been advanced past the opcode byte
// (§4.2). It returns finished=true when this thread's dispatch loop should
// stop (THREAD_FINISH, EXIT, EXIT_IMMEDIATE).
func (u *ExecutionUnit) execute(op bytecode.Opcode) (bool, error) {
	if vmlog.Enabled() {
		vmlog.Tracef("pc=%#x op=%s", u.regs[bytecode.PC]-1, bytecode.Name(op))
	}
	if u.owner.Trace != nil {
		if err := u.owner.Trace.Record(trace.Step{
			ThreadID: u.handle.ID,
			PC:       u.regs[bytecode.PC] - 1,
			Opcode:   bytecode.Name(op),
		}); err != nil {
			return false, vmerr.Wrap(vmerr.IoError, "trace record", err)
		}
	}
	switch op {
	case bytecode.NOP:
		return false, nil

	case bytecode.PUSH_1, bytecode.PUSH_2, bytecode.PUSH_4, bytecode.PUSH_8:
		return false, u.execPush(pushPopWidth(op, bytecode.PUSH_1))
	case bytecode.POP_1, bytecode.POP_2, bytecode.POP_4, bytecode.POP_8:
		return false, u.execPop(pushPopWidth(op, bytecode.POP_1))

	case bytecode.LOAD_1, bytecode.LOAD_2, bytecode.LOAD_4, bytecode.LOAD_8:
		return false, u.execLoad(pushPopWidth(op, bytecode.LOAD_1))
	case bytecode.STORE_1, bytecode.STORE_2, bytecode.STORE_4, bytecode.STORE_8:
		return false, u.execStore(pushPopWidth(op, bytecode.STORE_1))

	case bytecode.CMP:
		return false, u.execCmp()
	case bytecode.ATOMIC_CMP:
		return false, u.execAtomicCmp()

	case bytecode.MOV_E, bytecode.MOV_NE, bytecode.MOV_L, bytecode.MOV_LE,
		bytecode.MOV_G, bytecode.MOV_GE, bytecode.MOV_UL, bytecode.MOV_ULE,
		bytecode.MOV_UG, bytecode.MOV_UGE:
		return false, u.execCondMov(op)
	case bytecode.MOV:
		return false, u.execMov()

	case bytecode.MOV_IMMEDIATE1, bytecode.MOV_IMMEDIATE2, bytecode.MOV_IMMEDIATE4, bytecode.MOV_IMMEDIATE8:
		return false, u.execMovImmediate(movImmWidth(op))

	case bytecode.JUMP:
		return false, u.execJump()
	case bytecode.JUMP_IMMEDIATE:
		return false, u.execJumpImmediate()

	case bytecode.JE, bytecode.JNE, bytecode.JL, bytecode.JLE, bytecode.JG,
		bytecode.JGE, bytecode.JUL, bytecode.JULE, bytecode.JUG, bytecode.JUGE:
		return false, u.execCondJump(op)

	case bytecode.JUMP_IF_TRUE:
		return false, u.execJumpIf(true)
	case bytecode.JUMP_IF_FALSE:
		return false, u.execJumpIf(false)
	case bytecode.JUMP_IF:
		return false, u.execJumpIf(true)

	case bytecode.MALLOC:
		return false, u.execMalloc()
	case bytecode.FREE:
		return false, u.execFree()
	case bytecode.REALLOC:
		return false, u.execRealloc()

	case bytecode.ADD, bytecode.SUB, bytecode.MUL, bytecode.DIV, bytecode.MOD,
		bytecode.AND, bytecode.OR, bytecode.XOR, bytecode.SHL, bytecode.SHR, bytecode.USHR:
		return false, u.execIntBinOp(op, false)
	case bytecode.NOT, bytecode.NEG, bytecode.INC, bytecode.DEC:
		return false, u.execIntUnOp(op, false)

	case bytecode.ADD_DOUBLE, bytecode.SUB_DOUBLE, bytecode.MUL_DOUBLE, bytecode.DIV_DOUBLE, bytecode.MOD_DOUBLE:
		return false, u.execFloatBinOp(op, true, false)
	case bytecode.ADD_FLOAT, bytecode.SUB_FLOAT, bytecode.MUL_FLOAT, bytecode.DIV_FLOAT, bytecode.MOD_FLOAT:
		return false, u.execFloatBinOp(op, false, false)
	case bytecode.NEG_DOUBLE:
		return false, u.execFloatUnOp(true, false)
	case bytecode.NEG_FLOAT:
		return false, u.execFloatUnOp(false, false)

	case bytecode.ATOMIC_ADD, bytecode.ATOMIC_SUB, bytecode.ATOMIC_MUL, bytecode.ATOMIC_DIV, bytecode.ATOMIC_MOD,
		bytecode.ATOMIC_AND, bytecode.ATOMIC_OR, bytecode.ATOMIC_XOR,
		bytecode.ATOMIC_SHL, bytecode.ATOMIC_SHR, bytecode.ATOMIC_USHR:
		return false, u.execIntBinOp(op, true)
	case bytecode.ATOMIC_NOT, bytecode.ATOMIC_NEG, bytecode.ATOMIC_INC, bytecode.ATOMIC_DEC:
		return false, u.execIntUnOp(op, true)

	case bytecode.ATOMIC_ADD_DOUBLE, bytecode.ATOMIC_SUB_DOUBLE, bytecode.ATOMIC_MUL_DOUBLE,
		bytecode.ATOMIC_DIV_DOUBLE, bytecode.ATOMIC_MOD_DOUBLE:
		return false, u.execFloatBinOp(op, true, true)
	case bytecode.ATOMIC_ADD_FLOAT, bytecode.ATOMIC_SUB_FLOAT, bytecode.ATOMIC_MUL_FLOAT,
		bytecode.ATOMIC_DIV_FLOAT, bytecode.ATOMIC_MOD_FLOAT:
		return false, u.execFloatBinOp(op, false, true)
	case bytecode.ATOMIC_NEG_DOUBLE:
		return false, u.execFloatUnOp(true, true)
	case bytecode.ATOMIC_NEG_FLOAT:
		return false, u.execFloatUnOp(false, true)

	case bytecode.CAS:
		return false, u.execCAS()

	case bytecode.INVOKE:
		return false, u.execInvoke()
	case bytecode.INVOKE_IMMEDIATE:
		return false, u.execInvokeImmediate()
	case bytecode.RETURN:
		return false, u.execReturn()

	case bytecode.INTERRUPT:
		return false, u.execInterrupt()
	case bytecode.INTERRUPT_RETURN:
		return false, u.execInterruptReturn()

	case bytecode.INT_TYPE_CAST:
		return false, u.execIntTypeCast()
	case bytecode.LONG_TO_DOUBLE:
		return false, u.execLongToDouble()
	case bytecode.DOUBLE_TO_LONG:
		return false, u.execDoubleToLong()
	case bytecode.FLOAT_TO_DOUBLE:
		return false, u.execFloatToDouble()
	case bytecode.DOUBLE_TO_FLOAT:
		return false, u.execDoubleToFloat()

	case bytecode.OPEN:
		return false, u.execOpen()
	case bytecode.CLOSE:
		return false, u.execClose()
	case bytecode.READ:
		return false, u.execRead()
	case bytecode.WRITE:
		return false, u.execWrite()

	case bytecode.CREATE_FRAME:
		return false, u.execCreateFrame()
	case bytecode.DESTROY_FRAME:
		return false, u.execDestroyFrame()

	case bytecode.EXIT:
		return u.execExit()
	case bytecode.EXIT_IMMEDIATE:
		return u.execExitImmediate()

	case bytecode.GET_FIELD_ADDRESS:
		return false, u.execGetFieldAddress()
	case bytecode.GET_LOCAL_ADDRESS:
		return false, u.execGetLocalAddress()
	case bytecode.GET_PARAMETER_ADDRESS:
		return false, u.execGetParameterAddress()

	case bytecode.CREATE_THREAD:
		return false, u.execCreateThread()
	case bytecode.THREAD_CONTROL:
		return false, u.execThreadControl()

	case bytecode.LOAD_FIELD:
		return false, u.execLoadOffset(offsetFromField)
	case bytecode.STORE_FIELD:
		return false, u.execStoreOffset(offsetFromField)
	case bytecode.LOAD_LOCAL:
		return false, u.execLoadOffset(offsetFromLocal)
	case bytecode.STORE_LOCAL:
		return false, u.execStoreOffset(offsetFromLocal)
	case bytecode.LOAD_PARAMETER:
		return false, u.execLoadOffset(offsetFromParameter)
	case bytecode.STORE_PARAMETER:
		return false, u.execStoreOffset(offsetFromParameter)

	case bytecode.SYSCALL:
		return false, u.execSyscall()
	case bytecode.THREAD_FINISH:
		return true, nil

	case bytecode.INVOKE_NATIVE:
		_, err := u.fetchReg()
		return false, err
	case bytecode.JIT_FOR_RANGE:
		if _, err := u.fetchReg(); err != nil {
			return false, err
		}
		_, err := u.fetchReg()
		return false, err

	default:
		return false, vmerr.New(vmerr.IllegalOpcode, bytecode.Name(op))
	}
}

// pushPopWidth recovers N from a family's base opcode by measuring how far
// op sits from the family's first (1-byte) member: each family is declared
// in fixed {1,2,4,8}-byte order.
func pushPopWidth(op, base bytecode.Opcode) int {
	widths := [4]int{1, 2, 4, 8}
	return widths[op-base]
}

func movImmWidth(op bytecode.Opcode) int {
	return pushPopWidth(op, bytecode.MOV_IMMEDIATE1)
}
