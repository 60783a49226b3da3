// Package kheap implements the kernel's small best-fit, coalescing heap
// (spec §4.3: "a small linked-list heap... serves the kernel's rare
// dynamic allocations"). It is the one place in the kernel that performs
// general-purpose dynamic allocation; everything else either lives on the
// stack, in a fixed-size array, or comes from internal/pfa or the CDT
// bump pool.
//
// Grounded in mazboot/golang/heap.go's kmalloc/kfree: a doubly-linked
// list of in-place segment headers over a raw memory region, best-fit
// search, split-on-allocate, coalesce-on-free. Simplified from that
// file's version in one respect: the teacher's header-pointer-before-
// the-data-pointer indirection exists to satisfy a 16-byte DMA alignment
// constraint for a specific peripheral (the Raspberry Pi mailbox); the
// kernel heap here has no such external alignment contract, so Free can
// walk straight back from the returned pointer to its segment header.
package kheap

import (
	"unsafe"

	"github.com/coreos-arm64/capkernel/internal/kernel"
)

const module = "kheap"

// segment is placed in-line at the start of every block the heap
// manages, both free and allocated.
type segment struct {
	next, prev *segment
	allocated  bool
	size       uint64 // total size of this block, header included
}

var headerSize = uint64(unsafe.Sizeof(segment{}))

// minSplit is the smallest remainder worth carving into its own free
// segment; a smaller leftover is left attached to the allocated block
// instead; internal fragmentation of at most this many bytes.
const minSplit = 64

const align = 16

func alignUp(v uint64) uint64 { return (v + align - 1) &^ (align - 1) }

var (
	ErrTooSmall    = kernel.New(module, kernel.KindInvalidArgument, "arena too small for a heap")
	ErrOutOfMemory = kernel.New(module, kernel.KindInsufficientMemory, "no free segment large enough")
	ErrDoubleFree  = kernel.New(module, kernel.KindInvalidState, "segment already free")
)

// Heap is a best-fit allocator over a single caller-owned arena (spec
// §4.3: "~1 MiB, sourced from PFA frames"). internal/boot is responsible
// for obtaining that backing memory from internal/pfa and mapping it
// contiguously before calling New; kheap itself never touches the frame
// allocator, matching the layering internal/ring uses for its
// caller-supplied buffer.
type Heap struct {
	head *segment
}

// New claims arena as the heap's entire backing store: one free segment
// spanning the whole slice.
func New(arena []byte) (*Heap, error) {
	if uint64(len(arena)) < 2*headerSize {
		return nil, ErrTooSmall
	}
	seg := (*segment)(unsafe.Pointer(&arena[0]))
	*seg = segment{size: uint64(len(arena))}
	return &Heap{head: seg}, nil
}

// Alloc returns size bytes of zero-value memory, best-fit among the free
// segments, splitting the chosen segment if the remainder is worth
// keeping as its own free block.
func (h *Heap) Alloc(size uint64) (unsafe.Pointer, error) {
	total := alignUp(headerSize + size)

	var best *segment
	var bestWaste uint64
	for s := h.head; s != nil; s = s.next {
		if s.allocated || s.size < total {
			continue
		}
		waste := s.size - total
		if best == nil || waste < bestWaste {
			best, bestWaste = s, waste
			if waste == 0 {
				break
			}
		}
	}
	if best == nil {
		return nil, ErrOutOfMemory
	}

	if bestWaste >= headerSize+minSplit {
		newAddr := uintptr(unsafe.Pointer(best)) + uintptr(total)
		newSeg := (*segment)(unsafe.Pointer(newAddr))
		*newSeg = segment{
			next: best.next,
			prev: best,
			size: bestWaste,
		}
		if newSeg.next != nil {
			newSeg.next.prev = newSeg
		}
		best.next = newSeg
		best.size = total
	}

	best.allocated = true
	data := unsafe.Pointer(uintptr(unsafe.Pointer(best)) + uintptr(headerSize))
	zero(data, best.size-headerSize)
	return data, nil
}

// zero clears n bytes starting at p. Dynamic allocations are handed out
// zeroed so a caller that forgets to initialize a field doesn't observe
// whatever the previous tenant of that memory left behind.
func zero(p unsafe.Pointer, n uint64) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = 0
	}
}

// Free returns a block previously returned by Alloc, coalescing with
// either neighbor if it is also free.
func (h *Heap) Free(ptr unsafe.Pointer) error {
	seg := (*segment)(unsafe.Pointer(uintptr(ptr) - uintptr(headerSize)))
	if !seg.allocated {
		return ErrDoubleFree
	}
	seg.allocated = false

	if seg.next != nil && !seg.next.allocated {
		next := seg.next
		seg.size += next.size
		seg.next = next.next
		if seg.next != nil {
			seg.next.prev = seg
		}
	}
	if seg.prev != nil && !seg.prev.allocated {
		prev := seg.prev
		prev.size += seg.size
		prev.next = seg.next
		if prev.next != nil {
			prev.next.prev = prev
		}
		seg = prev
	}
	return nil
}

// FreeBytes sums every free segment's usable size (size minus its own
// header), for exhaustion tests and diagnostics.
func (h *Heap) FreeBytes() uint64 {
	var total uint64
	for s := h.head; s != nil; s = s.next {
		if !s.allocated {
			total += s.size - headerSize
		}
	}
	return total
}
