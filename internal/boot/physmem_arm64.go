//go:build arm64

package boot

import (
	"unsafe"

	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/platform"
	"github.com/coreos-arm64/capkernel/internal/pte"
)

// newMemory constructs the pte.Memory backing the kernel's own page tables.
// On real hardware this is direct pointer dereference: every table frame
// boot.go builds lives inside the identity map it installs, so cfg is
// unused here (kept for signature symmetry with the sim build).
func newMemory(cfg platform.Config) pte.Memory {
	return pte.DirectMemory{}
}

// physBytes views size bytes of physical memory starting at a as a Go
// byte slice, for the handful of boot-time operations pte.Memory's
// descriptor-only interface doesn't cover: reading the raw DTB, copying
// the root task's already-relocated image, and writing the encoded
// BootInfo page. Valid only for memory already identity-mapped, exactly
// the same assumption pte.DirectMemory makes about table frames. k is
// unused on this build — real physical memory needs no backing object —
// but kept in the signature so boot.go calls identically on both builds.
func (k *Kernel) physBytes(a addr.PhysAddr, size uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(a))), size)
}
