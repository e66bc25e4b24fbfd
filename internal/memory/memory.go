// Package memory implements Linear Memory (§4.1): a single flat
// byte-addressable space backed by a sparse, lazily-materialized page table
// and a first-fit free-list allocator. It is the component every
// instruction touches, directly or indirectly, since code, constants,
// globals, stack, and heap all live in the same address space.
package memory

import (
	"encoding/binary"
	"math"

	"lvm/internal/vmerr"
)

// MaxAddr is the highest addressable byte, 2^48-1 (§4.1).
const MaxAddr = (uint64(1) << 48) - 1

// Memory is Linear Memory. The zero value is not usable; construct with
// New.
type Memory struct {
	pages  pageTable
	free   *freeList
	mu     *reentrantMutex
	bssEnd uint64 // first address past bss; start of the free-list region
}

func New() *Memory {
	return &Memory{mu: newReentrantMutex()}
}

// Lock/Unlock expose the reentrant mutex atomic opcodes serialize under
// (§4.1).
func (m *Memory) Lock()   { m.mu.Lock() }
func (m *Memory) Unlock() { m.mu.Unlock() }

// Init lays out text, rodata, and data contiguously from address 0 in that
// order, followed by bssLength zeroed bytes, per §5/§6. Permissions are RX
// for text, R for rodata, RW for data and bss; a page shared by two segments
// carries the union of their permissions. The remainder of the address
// space, from end-of-bss to MaxAddr, becomes the initial free list.
func (m *Memory) Init(text, rodata, data []byte, bssLength uint64) error {
	addr := uint64(0)
	addr = m.commitSegment(addr, text, FlagRead|FlagExec)
	addr = m.commitSegment(addr, rodata, FlagRead)
	addr = m.commitSegment(addr, data, FlagRead|FlagWrite)
	addr = m.commitZeroed(addr, bssLength, FlagRead|FlagWrite)

	if addr > MaxAddr {
		return vmerr.New(vmerr.InvalidModule, "module segments exceed address space")
	}
	m.bssEnd = addr
	m.free = newFreeList(addr, MaxAddr-addr+1)
	return nil
}

func (m *Memory) commitSegment(addr uint64, data []byte, flags PageFlags) uint64 {
	for i, b := range data {
		a := addr + uint64(i)
		p := m.pages.getOrCreate(pageAlign(a), flags)
		p.flags |= flags
		p.data[a&pageOffsetMask] = b
	}
	return addr + uint64(len(data))
}

func (m *Memory) commitZeroed(addr, length uint64, flags PageFlags) uint64 {
	if length == 0 {
		return addr
	}
	n := pageCount(addr, length)
	base := pageAlign(addr)
	for i := uint64(0); i < n; i++ {
		m.pages.getOrCreate(base+i*PageSize, flags).flags |= flags
	}
	return addr + length
}

// Alloc reserves size+8 bytes from the free list, writes the size header,
// commits RW pages across the range, zeroes the block, and returns the
// address past the header (§4.1).
func (m *Memory) Alloc(size uint64) (uint64, error) {
	if m.free == nil {
		return 0, vmerr.New(vmerr.OutOfMemory, "linear memory not initialized")
	}
	headerAddr, ok := m.free.alloc(size)
	if !ok {
		return 0, vmerr.New(vmerr.OutOfMemory, "no free interval fits requested size")
	}
	headerAddr -= allocHeaderSize
	n := pageCount(headerAddr, size+allocHeaderSize)
	base := pageAlign(headerAddr)
	for i := uint64(0); i < n; i++ {
		p := m.pages.getOrCreate(base+i*PageSize, FlagRead|FlagWrite)
		p.flags |= FlagRead | FlagWrite
		p.refCount++
	}
	m.putU64(headerAddr, size)
	// A page still referenced by another allocation survives Free with the
	// old block's bytes, so clear the block rather than rely on a fresh page.
	for a := headerAddr + allocHeaderSize; a < headerAddr+allocHeaderSize+size; a++ {
		m.pages.get(pageAlign(a)).data[a&pageOffsetMask] = 0
	}
	return headerAddr + allocHeaderSize, nil
}

// Free reads the size header at addr-8, returns the interval to the free
// list coalescing with neighbors, and drops the refcount of every page the
// block spans, releasing any that reach zero (§4.1).
func (m *Memory) Free(addr uint64) error {
	if addr < allocHeaderSize {
		return vmerr.AtAddress(vmerr.DoubleFree, "address has no allocation header", addr)
	}
	headerAddr := addr - allocHeaderSize
	size, err := m.getU64(headerAddr)
	if err != nil {
		return vmerr.Wrap(vmerr.DoubleFree, "cannot read allocation header", err)
	}
	if m.free.contains(headerAddr) {
		return vmerr.AtAddress(vmerr.DoubleFree, "address already free", addr)
	}

	n := pageCount(headerAddr, size+allocHeaderSize)
	base := pageAlign(headerAddr)
	for i := uint64(0); i < n; i++ {
		pa := base + i*PageSize
		p := m.pages.get(pa)
		if p == nil {
			continue
		}
		if p.refCount > 0 {
			p.refCount--
		}
		if p.refCount == 0 {
			m.pages.release(pa)
		}
	}

	m.free.free(headerAddr, size)
	return nil
}

// Realloc copies min(old_size,new_size) bytes into a freshly allocated
// block of new_size and frees the old one. Never in-place (§4.1).
func (m *Memory) Realloc(addr, newSize uint64) (uint64, error) {
	oldSize, err := m.getU64(addr - allocHeaderSize)
	if err != nil {
		return 0, err
	}
	newAddr, err := m.Alloc(newSize)
	if err != nil {
		return 0, err
	}
	n := oldSize
	if newSize < n {
		n = newSize
	}
	for i := uint64(0); i < n; i++ {
		b, err := m.LoadU8(addr + i)
		if err != nil {
			return 0, err
		}
		if err := m.StoreU8(newAddr+i, b); err != nil {
			return 0, err
		}
	}
	if err := m.Free(addr); err != nil {
		return 0, err
	}
	return newAddr, nil
}

func (m *Memory) pageFor(addr uint64, want PageFlags) (*page, error) {
	p := m.pages.get(pageAlign(addr))
	if p == nil {
		return nil, vmerr.AtAddress(vmerr.IllegalAddress, "access to unmapped address", addr)
	}
	if p.flags&want != want {
		return nil, vmerr.AtAddress(vmerr.PermissionDenied, "page lacks required permission", addr)
	}
	return p, nil
}

func (m *Memory) readByte(addr uint64) (byte, error) {
	p, err := m.pageFor(addr, FlagRead)
	if err != nil {
		return 0, err
	}
	return p.data[addr&pageOffsetMask], nil
}

func (m *Memory) writeByte(addr uint64, v byte) error {
	p, err := m.pageFor(addr, FlagWrite)
	if err != nil {
		return err
	}
	p.data[addr&pageOffsetMask] = v
	return nil
}

// FetchByte reads one byte for execute access, used by the fetch stage of
// the dispatch loop.
func (m *Memory) FetchByte(addr uint64) (byte, error) {
	p, err := m.pageFor(addr, FlagExec)
	if err != nil {
		return 0, err
	}
	return p.data[addr&pageOffsetMask], nil
}

func (m *Memory) LoadU8(addr uint64) (uint8, error) { return m.readByte(addr) }

func (m *Memory) StoreU8(addr uint64, v uint8) error { return m.writeByte(addr, v) }

func (m *Memory) readBytes(addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := m.readByte(addr + uint64(i))
		if err != nil {
			return nil, err
		}
		buf[i] = b
	}
	return buf, nil
}

func (m *Memory) writeBytes(addr uint64, buf []byte) error {
	for i, b := range buf {
		if err := m.writeByte(addr+uint64(i), b); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) LoadU16(addr uint64) (uint16, error) {
	b, err := m.readBytes(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (m *Memory) StoreU16(addr uint64, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return m.writeBytes(addr, b[:])
}

func (m *Memory) LoadU32(addr uint64) (uint32, error) {
	b, err := m.readBytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *Memory) StoreU32(addr uint64, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return m.writeBytes(addr, b[:])
}

func (m *Memory) LoadU64(addr uint64) (uint64, error) {
	b, err := m.readBytes(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m *Memory) StoreU64(addr uint64, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return m.writeBytes(addr, b[:])
}

func (m *Memory) LoadF32(addr uint64) (float32, error) {
	v, err := m.LoadU32(addr)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (m *Memory) StoreF32(addr uint64, v float32) error {
	return m.StoreU32(addr, math.Float32bits(v))
}

func (m *Memory) LoadF64(addr uint64) (float64, error) {
	v, err := m.LoadU64(addr)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (m *Memory) StoreF64(addr uint64, v float64) error {
	return m.StoreU64(addr, math.Float64bits(v))
}

// getU64/putU64 bypass permission checks; used internally for allocation
// headers. A header's page is committed RW along with its block, so bytecode
// can also reach it through LoadU64/StoreU64 at addr-8.
func (m *Memory) getU64(addr uint64) (uint64, error) {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		p := m.pages.get(pageAlign(addr + uint64(i)))
		if p == nil {
			return 0, vmerr.AtAddress(vmerr.IllegalAddress, "missing allocation header page", addr)
		}
		buf[i] = p.data[(addr+uint64(i))&pageOffsetMask]
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (m *Memory) putU64(addr, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	for i, b := range buf {
		p := m.pages.get(pageAlign(addr + uint64(i)))
		p.data[(addr+uint64(i))&pageOffsetMask] = b
	}
}

// HeapBase returns the first address past bss, where the free list starts.
func (m *Memory) HeapBase() uint64 { return m.bssEnd }
