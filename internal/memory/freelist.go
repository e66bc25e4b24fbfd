package memory

import "sort"

// block is a free interval of the heap region, [addr, addr+size). Matches
// original_source/memory.cpp's FreeMemory linked-list node, kept here as a
// sorted slice instead of an intrusive list — easier to reason about
// coalescing and disjointness (§8's free-list invariant) in Go.
type block struct {
	addr uint64
	size uint64
}

// freeList is a first-fit allocator over a sorted, disjoint set of free
// blocks. Every live allocation reserves an extra 8 bytes ahead of the
// returned address to record its size, mirroring memory.cpp's
// allocateMemory header so free() can recover the length without the
// caller repeating it.
type freeList struct {
	blocks []block
}

const allocHeaderSize = 8

func newFreeList(base, length uint64) *freeList {
	return &freeList{blocks: []block{{addr: base, size: length}}}
}

// alloc finds the first free block large enough for size+header bytes,
// splits off the remainder, and returns the address usable by the caller
// (past the header).
func (f *freeList) alloc(size uint64) (uint64, bool) {
	need := size + allocHeaderSize
	for i := range f.blocks {
		b := &f.blocks[i]
		if b.size < need {
			continue
		}
		start := b.addr
		if b.size == need {
			f.blocks = append(f.blocks[:i], f.blocks[i+1:]...)
		} else {
			b.addr += need
			b.size -= need
		}
		return start + allocHeaderSize, true
	}
	return 0, false
}

// free returns [headerAddr, headerAddr+size) to the pool, merging with
// adjacent blocks so the list stays maximally coalesced (§8).
func (f *freeList) free(headerAddr, size uint64) {
	total := size + allocHeaderSize
	nb := block{addr: headerAddr, size: total}

	i := sort.Search(len(f.blocks), func(i int) bool {
		return f.blocks[i].addr >= nb.addr
	})
	f.blocks = append(f.blocks, block{})
	copy(f.blocks[i+1:], f.blocks[i:])
	f.blocks[i] = nb

	// merge with following neighbor
	if i+1 < len(f.blocks) && f.blocks[i].addr+f.blocks[i].size == f.blocks[i+1].addr {
		f.blocks[i].size += f.blocks[i+1].size
		f.blocks = append(f.blocks[:i+1], f.blocks[i+2:]...)
	}
	// merge with preceding neighbor
	if i > 0 && f.blocks[i-1].addr+f.blocks[i-1].size == f.blocks[i].addr {
		f.blocks[i-1].size += f.blocks[i].size
		f.blocks = append(f.blocks[:i], f.blocks[i+1:]...)
	}
}

// contains reports whether addr falls inside any free block, used by
// double-free detection before trusting a caller-supplied size.
func (f *freeList) contains(addr uint64) bool {
	for _, b := range f.blocks {
		if addr >= b.addr && addr < b.addr+b.size {
			return true
		}
	}
	return false
}
