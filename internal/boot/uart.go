package boot

// PL011 register offsets from the UART's MMIO base, shared by every board
// boot.go supports (QEMU virt and Raspberry Pi 4 both wire a PL011).
//
// Grounded in mazboot/golang/uart_qemu.go's QEMU_UART_DR/FR/IBRD/FBRD/LCRH/
// CR/ICR constants; that file hand-writes asm.MmioRead/MmioWrite calls at
// each offset because it predates any Go-level MMIO abstraction in the
// teacher repo. UART here is instead a kfmt.Sink, split into an arm64
// build (uart_arm64.go, real volatile MMIO) and a sim build (uart_sim.go,
// os.Stdout), matching the arm64/!arm64 split internal/pte and internal/asm
// already use.
const (
	uartDR   = 0x00
	uartFR   = 0x18
	uartIBRD = 0x24
	uartFBRD = 0x28
	uartLCRH = 0x2C
	uartCR   = 0x30
	uartICR  = 0x44

	uartFRTXFF = 1 << 5 // transmit FIFO full
)

// pl011BaudDivisors returns the integer and fractional baud-rate divisors
// for a 24 MHz UART clock at 115200 baud, per the PL011 TRM's worked
// example (the same clock/rate pair mazboot/golang's uartInit assumes).
func pl011BaudDivisors() (ibrd, fbrd uint32) {
	const uartClockHz = 24_000_000
	const baud = 115200
	// divisor = uartClockHz / (16 * baud), fractional part rounded to
	// the nearest 1/64.
	divisorX64 := (uartClockHz*4 + baud/2) / baud // = 64 * divisor
	return uint32(divisorX64 / 64), uint32(divisorX64 % 64)
}
