//go:build !arm64

package boot

import (
	"os"

	"github.com/coreos-arm64/capkernel/internal/addr"
)

// UART is the host-testable stand-in for the PL011 driver: it implements
// the same kfmt.Sink surface over os.Stdout, so boot orchestration and its
// tests run under plain go test without any MMIO (SPEC_FULL.md §2.5's sim
// build requirement, same split internal/pte's mem_sim.go and
// internal/asm's asm_sim.go already establish).
type UART struct{}

// NewUART ignores base on a sim build; there is no real MMIO window to
// attach to.
func NewUART(base addr.PhysAddr) *UART { return &UART{} }

// Init is a no-op on a sim build.
func (u *UART) Init() {}

// WriteByte writes b to the host's stdout. Implements kfmt.Sink.
func (u *UART) WriteByte(b byte) {
	os.Stdout.Write([]byte{b})
}
