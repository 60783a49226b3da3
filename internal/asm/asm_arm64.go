//go:build arm64

package asm

// Barriers and TLB maintenance. Implemented in asm_arm64.s.

//go:noescape
func DSB()

//go:noescape
func ISB()

//go:noescape
func TLBIVMALLE1IS()

// FlushTLBAll performs the dsb/tlbi/dsb/isb sequence spec §4.2 requires
// around any full TTBR switch.
func FlushTLBAll() {
	DSB()
	TLBIVMALLE1IS()
	DSB()
	ISB()
}

// Translation-table base, control, and memory-attribute registers.

//go:noescape
func ReadTTBR0() uint64

//go:noescape
func WriteTTBR0(addr uint64)

//go:noescape
func WriteTTBR1(addr uint64)

//go:noescape
func WriteTCR(val uint64)

//go:noescape
func WriteMAIR(val uint64)

// SetVBAR installs the exception vector table base address. Spec §4.2's
// MMU-enable sequence requires this to happen before TCR/MAIR/TTBR
// programming so faults during the remaining steps are catchable.
//
//go:noescape
func SetVBAR(addr uint64)

// EnableMMUOnly sets SCTLR_EL1.M without touching the C or I bits, per
// spec §4.2 ("MMU only — caches disabled for initial verification").
//
//go:noescape
func EnableMMUOnly()

// EnableCaches sets SCTLR_EL1.C and SCTLR_EL1.I. Called only after a
// translation has been verified to succeed (spec §4.2).
//
//go:noescape
func EnableCaches()

// Interrupt masking.

//go:noescape
func EnableIRQs()

//go:noescape
func DisableIRQs()

//go:noescape
func WFI()

// Exception syndrome/fault registers, read by the trap dispatcher.

//go:noescape
func ReadESR() uint64

//go:noescape
func ReadFAR() uint64

//go:noescape
func ReadELR() uint64

//go:noescape
func ReadSPSR() uint64

// WriteELR, WriteSPSR and WriteSPEL0 let the trap epilogue install a
// (possibly different, on a context switch) thread's saved PC/status/
// user-stack before EL0 entry.
//
//go:noescape
func WriteELR(val uint64)

//go:noescape
func WriteSPSR(val uint64)

//go:noescape
func WriteSPEL0(val uint64)

// SetKernelStack programs SP_EL1 — the stack the CPU switches to on
// every EL0->EL1 exception entry — once at boot, before IRQs or the first
// EL0 thread exist. Safe to call only from EL1h (SPSel.SP=1), which this
// kernel runs in from reset.
//
//go:noescape
func SetKernelStack(top uint64)

// ARM Generic Timer.

//go:noescape
func ReadCNTFRQ() uint32

//go:noescape
func WriteCNTFRQ(freq uint32)

//go:noescape
func ReadCNTPCT() uint64

// WriteTimerValue programs the physical timer's TVAL register and enables
// or disables it, per tamago's write_cntptval convention.
//
//go:noescape
func WriteTimerValue(ticks uint32, enable bool)

// Eret returns to the level/SP encoded in SPSR_EL1/ELR_EL1. Used only by
// the trap epilogue; never called directly from Go control flow (the
// assembly epilogue branches to it after restoring the trap frame).
//
//go:noescape
func Eret()

// Halt parks the core in a wfi loop. internal/boot wires kernel.Halt to
// this on a real board.
func Halt() {
	DisableIRQs()
	for {
		WFI()
	}
}
