//go:build arm64

package pte

import (
	"unsafe"

	"github.com/coreos-arm64/capkernel/internal/addr"
)

// DirectMemory reads and writes page-table words via direct pointer
// dereference. This is safe only because every table frame this kernel
// touches lives inside the identity-mapped region installed at boot —
// exactly the same assumption tamago's arm64.InitMMU makes about its own
// L1/L2 table frames.
type DirectMemory struct{}

func (DirectMemory) ReadDescriptor(a addr.PhysAddr) Descriptor {
	return *(*Descriptor)(unsafe.Pointer(uintptr(a)))
}

func (DirectMemory) WriteDescriptor(a addr.PhysAddr, d Descriptor) {
	*(*Descriptor)(unsafe.Pointer(uintptr(a))) = d
}

func (DirectMemory) Zero(a addr.PhysAddr, size uint64) {
	p := uintptr(a)
	for i := uint64(0); i < size; i += 8 {
		*(*uint64)(unsafe.Pointer(p + uintptr(i))) = 0
	}
}
