package memory

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// §8: for all addresses a, store_Nbytes(a,v); load_Nbytes(a) returns v.
func TestStoreLoadRoundTrip(t *testing.T) {
	m := New()
	if err := m.Init(make([]byte, PageSize), nil, nil, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	addr, err := m.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if err := m.StoreU8(addr, 0x7A); err != nil {
		t.Fatal(err)
	}
	if got, err := m.LoadU8(addr); err != nil || got != 0x7A {
		t.Fatalf("LoadU8 = %v, %v; want 0x7A, nil", got, err)
	}

	if err := m.StoreU16(addr, 0xBEEF); err != nil {
		t.Fatal(err)
	}
	if got, err := m.LoadU16(addr); err != nil || got != 0xBEEF {
		t.Fatalf("LoadU16 = %v, %v; want 0xBEEF, nil", got, err)
	}

	if err := m.StoreU32(addr, 0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	if got, err := m.LoadU32(addr); err != nil || got != 0xDEADBEEF {
		t.Fatalf("LoadU32 = %v, %v; want 0xDEADBEEF, nil", got, err)
	}

	if err := m.StoreU64(addr, 0x0102030405060708); err != nil {
		t.Fatal(err)
	}
	if got, err := m.LoadU64(addr); err != nil || got != 0x0102030405060708 {
		t.Fatalf("LoadU64 = %#x, %v; want 0x0102030405060708, nil", got, err)
	}
}

// A store that straddles a page boundary must be semantically equivalent to
// a byte-by-byte sequence (§4.1).
func TestStraddlingPageBoundary(t *testing.T) {
	m := New()
	if err := m.Init(nil, nil, nil, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	// Choose an address 6 bytes before a page boundary so a StoreU64 spans
	// two pages, both of which must be lazily committed as part of Alloc.
	size := uint64(PageSize * 2)
	base, err := m.Alloc(size)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	straddle := pageAlign(base+PageSize) - 6

	if err := m.StoreU64(straddle, 0xAABBCCDD11223344); err != nil {
		t.Fatalf("StoreU64 straddling: %v", err)
	}
	got, err := m.LoadU64(straddle)
	if err != nil {
		t.Fatalf("LoadU64 straddling: %v", err)
	}
	if got != 0xAABBCCDD11223344 {
		t.Fatalf("straddling load = %#x, want 0xAABBCCDD11223344", got)
	}
}

// §8: free(alloc(s)) restores the free list to a state equivalent modulo
// coalescing to the pre-alloc state, and it stays sorted/disjoint.
func TestAllocFreeRestoresFreeList(t *testing.T) {
	m := New()
	if err := m.Init(nil, nil, nil, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	before := cloneBlocks(m.free.blocks)

	addr, err := m.Alloc(256)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := m.Free(addr); err != nil {
		t.Fatalf("Free: %v", err)
	}

	after := cloneBlocks(m.free.blocks)
	if diff := cmp.Diff(before, after, cmp.AllowUnexported(block{})); diff != "" {
		t.Fatalf("free list mismatch after alloc/free round trip (-before +after):\n%s", diff)
	}
}

func TestFreeListStaysSortedAndDisjoint(t *testing.T) {
	m := New()
	if err := m.Init(nil, nil, nil, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var addrs []uint64
	for i := 0; i < 8; i++ {
		a, err := m.Alloc(128)
		if err != nil {
			t.Fatalf("Alloc[%d]: %v", i, err)
		}
		addrs = append(addrs, a)
	}
	// free every other block, then all remaining, exercising both
	// non-adjacent and adjacent-coalescing frees.
	for i := 0; i < len(addrs); i += 2 {
		if err := m.Free(addrs[i]); err != nil {
			t.Fatalf("Free[%d]: %v", i, err)
		}
	}
	for i := 1; i < len(addrs); i += 2 {
		if err := m.Free(addrs[i]); err != nil {
			t.Fatalf("Free[%d]: %v", i, err)
		}
	}

	blocks := m.free.blocks
	for i := 1; i < len(blocks); i++ {
		if blocks[i-1].addr >= blocks[i].addr {
			t.Fatalf("free list not sorted at index %d: %+v", i, blocks)
		}
		if blocks[i-1].addr+blocks[i-1].size > blocks[i].addr {
			t.Fatalf("free list intervals overlap at index %d: %+v", i, blocks)
		}
	}
}

// §8: page refcount equals the number of live allocations touching that
// page; refcount 0 implies the page is absent.
func TestPageRefcountTracksAllocations(t *testing.T) {
	m := New()
	if err := m.Init(nil, nil, nil, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	a1, err := m.Alloc(32)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := m.Alloc(32)
	if err != nil {
		t.Fatal(err)
	}

	pa := pageAlign(a1)
	p := m.pages.get(pa)
	if p == nil || p.refCount != 2 {
		t.Fatalf("page refcount after two small allocations sharing one page = %+v, want 2", p)
	}

	if err := m.Free(a2); err != nil {
		t.Fatal(err)
	}
	if err := m.Free(a1); err != nil {
		t.Fatal(err)
	}
	if got := m.pages.get(pa); got != nil {
		t.Fatalf("page still present after both allocations touching it were freed: %+v", got)
	}
}

func TestPermissionDeniedOnWriteToReadOnlyPage(t *testing.T) {
	m := New()
	rodata := make([]byte, PageSize)
	if err := m.Init(nil, rodata, nil, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := m.StoreU8(0, 1); err == nil {
		t.Fatal("StoreU8 into rodata succeeded, want PermissionDenied fault")
	}
}

func TestIllegalAddressOnUnmappedAccess(t *testing.T) {
	m := New()
	if err := m.Init(nil, nil, nil, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := m.LoadU8(MaxAddr); err == nil {
		t.Fatal("LoadU8 of never-touched address succeeded, want IllegalAddress fault")
	}
}

func cloneBlocks(b []block) []block {
	out := make([]block, len(b))
	copy(out, b)
	return out
}
