package pfa

import (
	"testing"

	"github.com/coreos-arm64/capkernel/internal/addr"
)

func newTestAllocator(t *testing.T, numFrames uint64) *Allocator {
	t.Helper()
	var a Allocator
	storage := make([]uint64, BitmapWordsFor(numFrames))
	a.Init(0, addr.PhysAddr(numFrames*addr.PageSize), storage)
	return &a
}

func TestAllocReturnsLowestClearBit(t *testing.T) {
	a := newTestAllocator(t, 8)

	f0, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if f0 != 0 {
		t.Fatalf("expected first allocation at frame 0, got %#x", f0)
	}

	f1, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if f1 != addr.PageSize {
		t.Fatalf("expected second allocation at frame 1 (%#x), got %#x", addr.PageSize, f1)
	}
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := newTestAllocator(t, 8)

	f, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := a.Free(f); err != nil {
		t.Fatalf("Free: %v", err)
	}

	// Spec §8 scenario 2: alloc/free/alloc returns the same frame because
	// the allocator always picks the lowest clear bit.
	f2, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc after free: %v", err)
	}
	if f2 != f {
		t.Fatalf("expected reallocation to return freed frame %#x, got %#x", f, f2)
	}
}

func TestDoubleFreeIsAnError(t *testing.T) {
	a := newTestAllocator(t, 4)

	f, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := a.Free(f); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := a.Free(f); err != ErrDoubleFree {
		t.Fatalf("expected ErrDoubleFree, got %v", err)
	}
}

func TestOutOfMemory(t *testing.T) {
	a := newTestAllocator(t, 2)

	if _, err := a.Alloc(); err != nil {
		t.Fatalf("Alloc 1: %v", err)
	}
	if _, err := a.Alloc(); err != nil {
		t.Fatalf("Alloc 2: %v", err)
	}
	if _, err := a.Alloc(); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
}

func TestReservedRangeIsNeverAllocated(t *testing.T) {
	var a Allocator
	numFrames := uint64(8)
	storage := make([]uint64, BitmapWordsFor(numFrames))
	kernelStart := addr.PhysAddr(0)
	kernelEnd := addr.PhysAddr(3 * addr.PageSize)
	a.Init(0, addr.PhysAddr(numFrames*addr.PageSize), storage, [2]addr.PhysAddr{kernelStart, kernelEnd})

	if got, want := a.FreeCount(), numFrames-3; got != want {
		t.Fatalf("expected %d free frames after reservation, got %d", want, got)
	}

	f, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if f < kernelEnd {
		t.Fatalf("allocator returned a frame (%#x) inside the reserved range [%#x,%#x)", f, kernelStart, kernelEnd)
	}
}

func TestFreeOutOfRange(t *testing.T) {
	a := newTestAllocator(t, 4)
	if err := a.Free(addr.PhysAddr(100 * addr.PageSize)); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}
