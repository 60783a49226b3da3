package pte

import "github.com/coreos-arm64/capkernel/internal/addr"

// Memory is the physical-memory access the table walker needs: reading and
// writing the 8-byte descriptor words inside page-table frames. The
// arm64 build backs this with direct pointer dereference (valid because
// the kernel always keeps an identity mapping over the frames it uses for
// its own tables); the sim build backs it with a plain byte buffer so the
// walker is host-testable.
type Memory interface {
	ReadDescriptor(a addr.PhysAddr) Descriptor
	WriteDescriptor(a addr.PhysAddr, d Descriptor)
	Zero(a addr.PhysAddr, size uint64)
}

// FrameAllocator is the subset of pfa.Allocator the engine needs to create
// intermediate tables on demand.
type FrameAllocator interface {
	Alloc() (addr.PhysAddr, error)
}
