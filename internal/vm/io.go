package vm

import "lvm/internal/bytecode"

// maxKernelBuffer bounds the transient buffer READ/WRITE stage bytes
// through, matching the "transient kernel buffer" §4.2 describes rather
// than trusting an arbitrarily large Rcnt outright.
const maxKernelBuffer = 64 << 20

// readCString reads a NUL-terminated string from Linear Memory, as OPEN's
// path operand is encoded (§6).
func (u *ExecutionUnit) readCString(addr uint64) (string, error) {
	var buf []byte
	for {
		b, err := u.owner.Mem.LoadU8(addr)
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		buf = append(buf, b)
		addr++
	}
	return string(buf), nil
}

func (u *ExecutionUnit) execOpen() error {
	rpath, err := u.fetchReg()
	if err != nil {
		return err
	}
	rflags, err := u.fetchReg()
	if err != nil {
		return err
	}
	rmode, err := u.fetchReg()
	if err != nil {
		return err
	}
	rdst, err := u.fetchReg()
	if err != nil {
		return err
	}

	path, err := u.readCString(u.regs[rpath])
	if err != nil {
		return err
	}
	fd, err := u.owner.openFD(path, u.regs[rflags], u.regs[rmode])
	if err != nil {
		return err
	}
	u.regs[rdst] = fd
	return nil
}

func (u *ExecutionUnit) execClose() error {
	rfd, err := u.fetchReg()
	if err != nil {
		return err
	}
	rdst, err := u.fetchReg()
	if err != nil {
		return err
	}
	if err := u.owner.closeFD(u.regs[rfd]); err != nil {
		return err
	}
	u.regs[rdst] = 0
	return nil
}

func (u *ExecutionUnit) execRead() error {
	rfd, err := u.fetchReg()
	if err != nil {
		return err
	}
	rbuf, err := u.fetchReg()
	if err != nil {
		return err
	}
	rcnt, err := u.fetchReg()
	if err != nil {
		return err
	}
	rdst, err := u.fetchReg()
	if err != nil {
		return err
	}

	f, err := u.lookupFileOrFault(u.regs[rfd])
	if err != nil {
		return err
	}
	count := u.regs[rcnt]
	if count > maxKernelBuffer {
		count = maxKernelBuffer
	}
	buf := make([]byte, count)
	n, err := f.read(buf)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := u.owner.Mem.StoreU8(u.regs[rbuf]+uint64(i), buf[i]); err != nil {
			return err
		}
	}
	u.regs[rdst] = uint64(n)
	return nil
}

func (u *ExecutionUnit) execWrite() error {
	rfd, err := u.fetchReg()
	if err != nil {
		return err
	}
	rbuf, err := u.fetchReg()
	if err != nil {
		return err
	}
	rcnt, err := u.fetchReg()
	if err != nil {
		return err
	}
	rdst, err := u.fetchReg()
	if err != nil {
		return err
	}

	f, err := u.lookupFileOrFault(u.regs[rfd])
	if err != nil {
		return err
	}
	count := u.regs[rcnt]
	if count > maxKernelBuffer {
		count = maxKernelBuffer
	}
	buf := make([]byte, count)
	for i := range buf {
		b, err := u.owner.Mem.LoadU8(u.regs[rbuf] + uint64(i))
		if err != nil {
			return err
		}
		buf[i] = b
	}
	n, err := f.write(buf)
	if err != nil {
		return err
	}
	u.regs[rdst] = uint64(n)
	return nil
}

func (u *ExecutionUnit) execCreateThread() error {
	rentry, err := u.fetchReg()
	if err != nil {
		return err
	}
	rdst, err := u.fetchReg()
	if err != nil {
		return err
	}
	h, err := u.owner.CreateThread(u.regs[rentry])
	if err != nil {
		return err
	}
	h.start()
	u.regs[rdst] = h.ID
	return nil
}

// execThreadControl decodes THREAD_CONTROL's Rtid,I1cmd,… operand shape
// (§4.2): STOP and WAIT take no further operands; GET_REGISTER and
// SET_REGISTER each take a target-register-index byte and a local
// register-index byte (§4.3).
func (u *ExecutionUnit) execThreadControl() error {
	rtid, err := u.fetchReg()
	if err != nil {
		return err
	}
	cmd, err := u.fetchReg()
	if err != nil {
		return err
	}

	h, ok := u.owner.lookupThread(u.regs[rtid])

	switch cmd {
	case bytecode.ThreadStop:
		if ok {
			h.requestStop()
		}
		return nil
	case bytecode.ThreadWait:
		if ok {
			h.join()
		}
		return nil
	case bytecode.ThreadGetRegister:
		targetReg, err := u.fetchReg()
		if err != nil {
			return err
		}
		localReg, err := u.fetchReg()
		if err != nil {
			return err
		}
		if ok {
			u.regs[localReg] = h.GetRegister(targetReg)
		}
		return nil
	case bytecode.ThreadSetRegister:
		targetReg, err := u.fetchReg()
		if err != nil {
			return err
		}
		localReg, err := u.fetchReg()
		if err != nil {
			return err
		}
		if ok {
			h.SetRegister(targetReg, u.regs[localReg])
		}
		return nil
	default:
		return nil
	}
}
