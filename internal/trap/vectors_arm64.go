//go:build arm64

package trap

import "github.com/coreos-arm64/capkernel/internal/asm"

// vectorTableAddr returns the address of the 2KiB-aligned vector table
// vectors_arm64.s lays out, for installing into VBAR_EL1.
//
//go:noescape
func vectorTableAddr() uint64

// InstallVectors points VBAR_EL1 at this package's vector table. Spec
// §4.2 requires this before TCR/MAIR/TTBR programming so faults during
// the remaining bring-up steps are at least catchable (even if, for v1,
// only as a panic — see trapCommon's default case).
func InstallVectors() {
	asm.SetVBAR(vectorTableAddr())
}
