package kheap

import (
	"testing"
	"unsafe"
)

func newTestHeap(t *testing.T, size int) *Heap {
	t.Helper()
	arena := make([]byte, size)
	h, err := New(arena)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func TestNewRejectsArenaTooSmall(t *testing.T) {
	if _, err := New(make([]byte, 4)); err != ErrTooSmall {
		t.Fatalf("expected ErrTooSmall, got %v", err)
	}
}

func TestAllocReturnsZeroedMemory(t *testing.T) {
	h := newTestHeap(t, 4096)
	p, err := h.Alloc(256)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	b := unsafe.Slice((*byte)(p), 256)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not zeroed: %d", i, v)
		}
	}
}

func TestAllocThenFreeReclaimsSpace(t *testing.T) {
	h := newTestHeap(t, 4096)
	before := h.FreeBytes()

	p, err := h.Alloc(128)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if h.FreeBytes() >= before {
		t.Fatal("expected FreeBytes to drop after Alloc")
	}

	if err := h.Free(p); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if h.FreeBytes() != before {
		t.Fatalf("expected Free to coalesce back to %d bytes free, got %d", before, h.FreeBytes())
	}
}

func TestDoubleFreeReturnsError(t *testing.T) {
	h := newTestHeap(t, 4096)
	p, _ := h.Alloc(64)
	if err := h.Free(p); err != nil {
		t.Fatalf("first Free: %v", err)
	}
	if err := h.Free(p); err != ErrDoubleFree {
		t.Fatalf("expected ErrDoubleFree on second Free, got %v", err)
	}
}

func TestAllocFailsWhenExhausted(t *testing.T) {
	h := newTestHeap(t, 512)
	var ptrs []unsafe.Pointer
	for {
		p, err := h.Alloc(64)
		if err != nil {
			break
		}
		ptrs = append(ptrs, p)
	}
	if len(ptrs) == 0 {
		t.Fatal("expected at least one successful allocation before exhaustion")
	}
	if _, err := h.Alloc(64); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory once exhausted, got %v", err)
	}
}

func TestCoalescingMergesFreedNeighbors(t *testing.T) {
	h := newTestHeap(t, 4096)
	before := h.FreeBytes()

	a, _ := h.Alloc(64)
	b, _ := h.Alloc(64)
	c, _ := h.Alloc(64)

	if err := h.Free(a); err != nil {
		t.Fatalf("Free(a): %v", err)
	}
	if err := h.Free(c); err != nil {
		t.Fatalf("Free(c): %v", err)
	}
	if err := h.Free(b); err != nil {
		t.Fatalf("Free(b): %v", err)
	}

	if h.FreeBytes() != before {
		t.Fatalf("expected freeing all three in any order to coalesce back to %d bytes, got %d", before, h.FreeBytes())
	}

	// A single allocation spanning roughly the whole arena should now
	// succeed again, proving the free list isn't fragmented.
	if _, err := h.Alloc(before - 2*headerSize); err != nil {
		t.Fatalf("expected large allocation to succeed after full coalescing: %v", err)
	}
}
