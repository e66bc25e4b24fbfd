package memory

// Page permission flags, matching original_source/memory.h's MemoryPage
// bit layout (MP_READ, MP_WRITE, MP_EXEC, MP_PRESENT).
type PageFlags uint8

const (
	FlagRead PageFlags = 1 << iota
	FlagWrite
	FlagExec
	FlagPresent
)

const (
	PageSize     = 4096
	pageOffsetMask = PageSize - 1
	tableSize    = 512 // entries per radix level (§4.1)
)

// page is one materialized 4 KiB unit of the address space: permission bits,
// a reference count (how many allocation records span it — §8's invariant),
// and its backing bytes.
type page struct {
	flags    PageFlags
	refCount uint64
	data     [PageSize]byte
}

func (p *page) readable() bool   { return p.flags&FlagRead != 0 }
func (p *page) writable() bool   { return p.flags&FlagWrite != 0 }
func (p *page) executable() bool { return p.flags&FlagExec != 0 }

// The four radix levels mirror the C++ prototype's MemoryPage***** chain
// (memory.h) as nested fixed-size Go arrays instead of raw pointer chasing.
// The root (level3) is indexed by address bits [47:39], level2 by [38:30],
// level1 by [29:21], and level0, which holds the pages, by [20:12];
// unreferenced levels stay nil (sparse) until something forces them into
// existence.
type level0 [tableSize]*page
type level1 [tableSize]*level0
type level2 [tableSize]*level1
type level3 [tableSize]*level2

type pageTable struct {
	root level3
}

func pageIndices(addr uint64) (i3, i2, i1, i0 int) {
	i3 = int((addr >> 39) & (tableSize - 1))
	i2 = int((addr >> 30) & (tableSize - 1))
	i1 = int((addr >> 21) & (tableSize - 1))
	i0 = int((addr >> 12) & (tableSize - 1))
	return
}

// get returns the page backing addr, or nil if no level of the chain down to
// it has ever been materialized.
func (t *pageTable) get(addr uint64) *page {
	i3, i2, i1, i0 := pageIndices(addr)
	l2 := t.root[i3]
	if l2 == nil {
		return nil
	}
	l1 := l2[i2]
	if l1 == nil {
		return nil
	}
	l0 := l1[i1]
	if l0 == nil {
		return nil
	}
	return l0[i0]
}

// getOrCreate materializes every level of the chain down to addr's page if
// necessary and returns it, creating it with flags if it didn't already
// exist. It never overwrites an existing page's flags.
func (t *pageTable) getOrCreate(addr uint64, flags PageFlags) *page {
	i3, i2, i1, i0 := pageIndices(addr)
	l2 := t.root[i3]
	if l2 == nil {
		l2 = &level2{}
		t.root[i3] = l2
	}
	l1 := l2[i2]
	if l1 == nil {
		l1 = &level1{}
		l2[i2] = l1
	}
	l0 := l1[i1]
	if l0 == nil {
		l0 = &level0{}
		l1[i1] = l0
	}
	p := l0[i0]
	if p == nil {
		p = &page{flags: flags | FlagPresent}
		l0[i0] = p
	}
	return p
}

// release drops a page entirely. Unreferenced inner levels are left sparse
// rather than pruned — §9 notes this is an implementation choice.
func (t *pageTable) release(addr uint64) {
	i3, i2, i1, i0 := pageIndices(addr)
	l2 := t.root[i3]
	if l2 == nil {
		return
	}
	l1 := l2[i2]
	if l1 == nil {
		return
	}
	l0 := l1[i1]
	if l0 == nil {
		return
	}
	l0[i0] = nil
}

func pageAlign(addr uint64) uint64 {
	return addr &^ pageOffsetMask
}

func pageCount(start, length uint64) uint64 {
	if length == 0 {
		return 0
	}
	end := start + length
	firstPage := pageAlign(start)
	lastPage := pageAlign(end - 1)
	return (lastPage-firstPage)/PageSize + 1
}
