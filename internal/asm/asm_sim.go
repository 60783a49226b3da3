//go:build !arm64

// The sim build backs every asm primitive with plain Go state instead of
// real AArch64 instructions, so the kernel's pure-algorithm packages
// (pfa, pte, capability, cdt, sched, ipc) can run under "go test" on the
// host. This mirrors gopheros's split between hardware-coupled code and
// the plain-Go allocator logic it unit-tests directly.
package asm

import "sync/atomic"

var (
	simTTBR0, simTTBR1 uint64
	simTCR, simMAIR     uint64
	simVBAR             uint64
	simSCTLR            uint64
	simIRQEnabled       uint32
	simCNTFRQ           uint32 = 62_500_000
	simCNTPCT           uint64
	simTimerTicks       uint32
	simTimerEnabled     bool
	simESR, simFAR      uint64
	simELR, simSPSR     uint64
)

func DSB()           {}
func ISB()           {}
func TLBIVMALLE1IS() {}

func FlushTLBAll() {}

func ReadTTBR0() uint64      { return simTTBR0 }
func WriteTTBR0(addr uint64) { simTTBR0 = addr }
func WriteTTBR1(addr uint64) { simTTBR1 = addr }
func WriteTCR(val uint64)    { simTCR = val }
func WriteMAIR(val uint64)   { simMAIR = val }

func SetVBAR(addr uint64) { simVBAR = addr }

func EnableMMUOnly() { simSCTLR |= 1 }
func EnableCaches()  { simSCTLR |= (1 << 2) | (1 << 12) }

func EnableIRQs()  { atomic.StoreUint32(&simIRQEnabled, 1) }
func DisableIRQs() { atomic.StoreUint32(&simIRQEnabled, 0) }
func IRQsEnabled() bool { return atomic.LoadUint32(&simIRQEnabled) != 0 }

func WFI() {}

func ReadESR() uint64  { return simESR }
func ReadFAR() uint64  { return simFAR }
func ReadELR() uint64  { return simELR }
func ReadSPSR() uint64 { return simSPSR }

func WriteELR(val uint64)  { simELR = val }
func WriteSPSR(val uint64) { simSPSR = val }
func WriteSPEL0(val uint64) {}
func SetKernelStack(top uint64) {}

// SetFaultRegisters lets sim tests inject a synthetic trap, standing in
// for a real data/instruction abort.
func SetFaultRegisters(esr, far, elr, spsr uint64) {
	simESR, simFAR, simELR, simSPSR = esr, far, elr, spsr
}

func ReadCNTFRQ() uint32    { return simCNTFRQ }
func WriteCNTFRQ(f uint32)  { simCNTFRQ = f }
func ReadCNTPCT() uint64    { return simCNTPCT }

// AdvanceCounter lets sim tests and the sim scheduler loop simulate the
// passage of timer ticks.
func AdvanceCounter(ticks uint64) { simCNTPCT += ticks }

func WriteTimerValue(ticks uint32, enable bool) {
	simTimerTicks, simTimerEnabled = ticks, enable
}

// TimerFired reports whether the simulated countdown has reached zero; the
// sim scheduler loop polls this in place of a real timer IRQ.
func TimerFired() bool {
	if !simTimerEnabled {
		return false
	}
	if simTimerTicks == 0 {
		return true
	}
	simTimerTicks--
	return simTimerTicks == 0
}

func Eret() {}

func Halt() { panic("kernel halt") }
