package vm

import "math"

// execIntTypeCast implements INT_TYPE_CAST per §9's resolution of the
// source's ambiguous `(8L < type)` expression: the tag byte packs the
// source width in its high nibble and the destination width in its low
// nibble (both byte counts — 1, 2, 4, or 8); the value sign-extends from
// the source width and truncates to the destination width.
func (u *ExecutionUnit) execIntTypeCast() error {
	tag, err := u.fetchReg()
	if err != nil {
		return err
	}
	rs, err := u.fetchReg()
	if err != nil {
		return err
	}
	rd, err := u.fetchReg()
	if err != nil {
		return err
	}
	srcWidth := int(tag >> 4)
	dstWidth := int(tag & 0x0F)

	extended := signExtend(maskWidth(u.regs[rs], srcWidth), srcWidth)
	u.regs[rd] = maskWidth(uint64(extended), dstWidth)
	return nil
}

func (u *ExecutionUnit) execLongToDouble() error {
	rs, err := u.fetchReg()
	if err != nil {
		return err
	}
	rd, err := u.fetchReg()
	if err != nil {
		return err
	}
	u.regs[rd] = math.Float64bits(float64(int64(u.regs[rs])))
	return nil
}

func (u *ExecutionUnit) execDoubleToLong() error {
	rs, err := u.fetchReg()
	if err != nil {
		return err
	}
	rd, err := u.fetchReg()
	if err != nil {
		return err
	}
	u.regs[rd] = uint64(int64(math.Float64frombits(u.regs[rs])))
	return nil
}

func (u *ExecutionUnit) execFloatToDouble() error {
	rs, err := u.fetchReg()
	if err != nil {
		return err
	}
	rd, err := u.fetchReg()
	if err != nil {
		return err
	}
	f := math.Float32frombits(uint32(u.regs[rs]))
	u.regs[rd] = math.Float64bits(float64(f))
	return nil
}

func (u *ExecutionUnit) execDoubleToFloat() error {
	rs, err := u.fetchReg()
	if err != nil {
		return err
	}
	rd, err := u.fetchReg()
	if err != nil {
		return err
	}
	d := math.Float64frombits(u.regs[rs])
	u.regs[rd] = uint64(math.Float32bits(float32(d)))
	return nil
}
