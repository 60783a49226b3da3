// Package trap implements the synchronous/asynchronous exception
// dispatcher (spec §4.7): decoding ESR_EL1, routing SVC to the syscall
// table, killing threads on unhandled aborts, and forwarding non-timer
// IRQs to the notification bound to that line.
//
// Grounded in mazboot/golang's exception_handlers.go, which decodes the
// same ESR_EL1.EC field and branches on a small switch of exception
// classes; generalized here from that fixed panic-on-everything handler
// into a full syscall dispatch table plus the abort/IRQ policy spec §4.7
// describes.
package trap

import "github.com/coreos-arm64/capkernel/internal/addr"

const module = "trap"

// Frame is exactly what the vector stub saves onto the kernel stack
// before branching to Dispatcher (spec §4.7): the full register file plus
// the four exception-syndrome registers the dispatcher decodes.
type Frame struct {
	X [31]uint64 // x0-x30

	SPEL0   uint64
	ELREL1  uint64
	SPSREL1 uint64

	ESREL1 uint64
	FAREL1 uint64
	TTBR0  addr.PhysAddr
}

// EC extracts ESR_EL1.EC, bits [31:26] — the exception class that
// determines which handler the dispatcher runs.
func (f *Frame) EC() uint8 { return uint8((f.ESREL1 >> 26) & 0x3F) }

// ISS extracts ESR_EL1's Instruction Specific Syndrome, bits [24:0].
func (f *Frame) ISS() uint32 { return uint32(f.ESREL1 & 0x01FFFFFF) }

// Exception classes this dispatcher distinguishes (ARMv8-A ARM D13.2.37).
// Every other EC value falls through to the "unknown" path.
const (
	ecSVC64              = 0x15
	ecInstructionAbortEL0 = 0x20
	ecDataAbortEL0        = 0x24
)
