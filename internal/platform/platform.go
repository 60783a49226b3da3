// Package platform describes the fixed per-board facts internal/boot
// needs before it can parse anything: peripheral base addresses, the
// GIC's two MMIO windows, and the timer's interrupt ID (spec §6.4's two
// reference platforms, SPEC_FULL.md §2.4).
//
// Grounded in mazboot/golang's per-board constant blocks — kernel.go's
// PERIPHERAL_BASE/UART0_BASE chain for the Raspberry Pi 4 values, and
// uart_qemu.go/gic_qemu.go's QEMU_UART_BASE/GICD_*/GICC_* constants for
// QEMU virt — gathered here into one struct per board instead of two
// build-tag-gated constant blocks, since platform (unlike the teacher's
// register-access code) has no hardware dependency of its own and can be
// plain, host-testable Go.
package platform

import "github.com/coreos-arm64/capkernel/internal/addr"

// Board names the reference platform this kernel image targets (spec
// §6.4).
type Board uint8

const (
	BoardQEMUVirt Board = iota
	BoardRPi4
)

func (b Board) String() string {
	switch b {
	case BoardQEMUVirt:
		return "qemu-virt"
	case BoardRPi4:
		return "rpi4"
	default:
		return "unknown"
	}
}

// DeviceRegion is one entry of the device list BootInfo exposes to the
// root task (spec §6.3): a named MMIO window and, if the device raises
// interrupts, the line it uses.
type DeviceRegion struct {
	Name string
	Base addr.PhysAddr
	Size uint64
	IRQ  uint32 // 0 if the device has no interrupt line
}

// Config is everything internal/boot needs to stand up a board before
// the DTB has been walked: RAM extent, UART/GIC MMIO windows, the timer
// IRQ HandleIRQ treats specially, and the device list BootInfo copies
// verbatim (spec §6.3: "source's QEMU virt ships UART0/UART1/RTC/timer").
type Config struct {
	Board Board

	RAMBase addr.PhysAddr
	RAMSize uint64

	UARTBase    addr.PhysAddr
	GICDistBase addr.PhysAddr
	GICCPUBase  addr.PhysAddr
	TimerIRQ    uint32

	Devices []DeviceRegion
}

// QEMUVirt returns the reference configuration for QEMU's "virt" machine
// (Cortex-A53, 128 MiB, GICv2, PL011 UART at 0x0900_0000) — spec §6.4's
// first reference platform.
func QEMUVirt() Config {
	const uartBase = addr.PhysAddr(0x09000000)
	const gicDistBase = addr.PhysAddr(0x08000000)
	const gicCPUBase = addr.PhysAddr(0x08010000)
	const timerIRQ = 27 // CNTV, PPI 27 — matches gic_qemu.go's IRQ_ID_TIMER_PPI

	return Config{
		Board:       BoardQEMUVirt,
		RAMBase:     addr.PhysAddr(0x40000000),
		RAMSize:     128 * 1024 * 1024,
		UARTBase:    uartBase,
		GICDistBase: gicDistBase,
		GICCPUBase:  gicCPUBase,
		TimerIRQ:    timerIRQ,
		Devices: []DeviceRegion{
			{Name: "uart0", Base: uartBase, Size: 0x1000, IRQ: 33},
			{Name: "uart1", Base: addr.PhysAddr(0x09040000), Size: 0x1000, IRQ: 34},
			{Name: "rtc", Base: addr.PhysAddr(0x09010000), Size: 0x1000, IRQ: 35},
			{Name: "timer", Base: 0, Size: 0, IRQ: timerIRQ},
		},
	}
}

// RPi4 returns the reference configuration for the Raspberry Pi 4
// (BCM2711, peripheral base 0xFE00_0000, GICv2) — spec §6.4's second
// reference platform.
func RPi4() Config {
	const peripheralBase = addr.PhysAddr(0xFE000000)
	const uartBase = peripheralBase + 0x201000
	const gicDistBase = addr.PhysAddr(0xFF841000)
	const gicCPUBase = addr.PhysAddr(0xFF842000)
	const timerIRQ = 30 // CNTV PPI on the BCM2711's GIC mapping

	return Config{
		Board:       BoardRPi4,
		RAMBase:     addr.PhysAddr(0x00000000),
		RAMSize:     1024 * 1024 * 1024,
		UARTBase:    uartBase,
		GICDistBase: gicDistBase,
		GICCPUBase:  gicCPUBase,
		TimerIRQ:    timerIRQ,
		Devices: []DeviceRegion{
			{Name: "uart0", Base: uartBase, Size: 0x1000, IRQ: 153},
			{Name: "timer", Base: 0, Size: 0, IRQ: timerIRQ},
		},
	}
}

// For reports the board's reference Config, for callers (tests, the
// debug dump, tools/memviz) that select a board at runtime rather than
// through the build-tag-selected Current.
func For(b Board) Config {
	if b == BoardRPi4 {
		return RPi4()
	}
	return QEMUVirt()
}
