//go:build arm64

package main

import (
	"unsafe"

	"github.com/coreos-arm64/capkernel/internal/boot"
	"github.com/coreos-arm64/capkernel/internal/kernel"
	"github.com/coreos-arm64/capkernel/internal/platform"
)

// BootArgs mirrors spec §6.2's register handoff from the elfloader to
// _start: DTB physical address, root-task physical [start, end), root
// virtual entry point, and the physical-to-virtual offset. Spec §4.8 notes
// these "must be saved into callee-saved registers before any function
// call might clobber them" — a real freestanding link step would have an
// assembly _start populate this struct as its very first instructions,
// before handing control to Go. This tree has no such link step (see
// internal/boot/boot.go's kernelImageReserve comment: "this kernel never
// gets a real freestanding link step"); BootArgs is the seam a production
// elfloader integration (out of scope per spec §1) would write into
// instead of registers.
var BootArgs struct {
	DTBAddr   uint64
	DTBSize   uint64
	RootStart uint64
	RootEnd   uint64
	RootEntry uint64
	PVOffset  uint64
}

func physView(base, size uint64) []byte {
	if base == 0 || size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(base))), int(size))
}

func run() {
	dtb := physView(BootArgs.DTBAddr, BootArgs.DTBSize)
	rootImage := physView(BootArgs.RootStart, BootArgs.RootEnd-BootArgs.RootStart)

	if _, err := boot.NewKernel(platform.Current).Boot(dtb, rootImage); err != nil {
		kernel.Panic("cmd/kernel", err.Error())
	}
	// Boot erets into the root task on success; reaching here at all means
	// it failed and kernel.Panic above already halted.
}
