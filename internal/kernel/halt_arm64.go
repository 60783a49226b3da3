//go:build arm64

package kernel

import "github.com/coreos-arm64/capkernel/internal/asm"

// On real hardware, a fatal invariant violation parks the core in a wfi
// loop instead of unwinding a Go panic nothing above EL1 could catch.
func init() {
	Halt = asm.Halt
}
