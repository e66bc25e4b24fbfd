package vm

import "lvm/internal/bytecode"

// Registers is the 42-slot register file (§3). Index constants live in
// bytecode so the decoder and the dispatch loop agree on them.
type Registers [bytecode.RegisterCount]uint64

func (r *Registers) flagsSet(mask uint64) bool {
	return r[bytecode.FLAGS]&mask != 0
}

func (r *Registers) setFlag(mask uint64, on bool) {
	if on {
		r[bytecode.FLAGS] |= mask
	} else {
		r[bytecode.FLAGS] &^= mask
	}
}
