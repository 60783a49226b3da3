//go:build arm64

package boot

import (
	"unsafe"

	"github.com/coreos-arm64/capkernel/internal/addr"
)

// UART is a PL011 serial port accessed by direct volatile MMIO, backing
// kfmt.Sink once boot has mapped its device region (spec §4.8, §6.3's
// device-region enumeration).
type UART struct {
	base uintptr
}

func mmioRead32(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}

func mmioWrite32(addr uintptr, v uint32) {
	*(*uint32)(unsafe.Pointer(addr)) = v
}

// NewUART constructs a driver over a UART already identity- or
// kernel-mapped at base.
func NewUART(base addr.PhysAddr) *UART {
	return &UART{base: uintptr(base)}
}

// Init programs the standard 8N1 115200 line configuration and enables the
// transmitter and receiver (mazboot/golang's asm.UartInitPl011 sequence,
// expressed in Go instead of assembly since this driver has no .s stub).
func (u *UART) Init() {
	mmioWrite32(u.base+uartCR, 0) // disable UART while configuring

	ibrd, fbrd := pl011BaudDivisors()
	mmioWrite32(u.base+uartIBRD, ibrd)
	mmioWrite32(u.base+uartFBRD, fbrd)

	const wlen8 = 0x3 << 5
	const fifoEnable = 1 << 4
	mmioWrite32(u.base+uartLCRH, wlen8|fifoEnable)

	mmioWrite32(u.base+uartICR, 0x7FF) // clear all pending interrupts

	const uartEnable = 1
	const txEnable = 1 << 8
	const rxEnable = 1 << 9
	mmioWrite32(u.base+uartCR, uartEnable|txEnable|rxEnable)
}

// WriteByte blocks until the transmit FIFO has room, then writes b.
// Implements kfmt.Sink.
func (u *UART) WriteByte(b byte) {
	for mmioRead32(u.base+uartFR)&uartFRTXFF != 0 {
	}
	mmioWrite32(u.base+uartDR, uint32(b))
}
