//go:build arm64

package boot

import "github.com/coreos-arm64/capkernel/internal/addr"

// NewGIC constructs a driver over the distributor/CPU-interface windows
// already identity- or kernel-mapped at distBase/cpuBase.
func NewGIC(distBase, cpuBase addr.PhysAddr) *GIC {
	return &GIC{distBase: uintptr(distBase), cpuBase: uintptr(cpuBase)}
}

// Init brings the distributor and CPU interface up exactly as
// mazboot/golang's gicInitFull does: disable both, mask every priority to
// the lowest threshold (0xFF), flat priority and CPU0 targets across every
// line, level-triggered config, group 0 routing, then re-enable both.
func (g *GIC) Init() {
	mmioWrite32(g.distBase+gicdCTLR, 0)
	mmioWrite32(g.cpuBase+giccCTLR, 0)

	for i := 0; i < gicdNumIRQRegs; i++ {
		mmioWrite32(g.distBase+gicdICENABLER+uintptr(i*4), 0xFFFFFFFF)
		mmioWrite32(g.distBase+gicdIGROUPR+uintptr(i*4), 0) // group 0
	}
	for i := 0; i < gicdNumIRQRegs*8; i++ {
		mmioWrite32(g.distBase+gicdIPRIORITYR+uintptr(i*4), 0x80808080)
	}
	for i := 0; i < gicdNumIRQRegs*8; i++ {
		mmioWrite32(g.distBase+gicdITARGETSR+uintptr(i*4), 0x01010101) // CPU0
	}
	for i := 0; i < gicdNumIRQRegs*2; i++ {
		mmioWrite32(g.distBase+gicdICFGR+uintptr(i*4), 0) // level-triggered
	}

	mmioWrite32(g.cpuBase+giccPMR, 0xFF)
	mmioWrite32(g.cpuBase+giccBPR, 0)

	const enableGroup0 = 1
	mmioWrite32(g.distBase+gicdCTLR, enableGroup0)
	mmioWrite32(g.cpuBase+giccCTLR, enableGroup0)
}

func (g *GIC) regBit(irq uint32) (reg uintptr, bit uint32) {
	return uintptr(irq/32) * 4, irq % 32
}

// Enable unmasks irq at the distributor.
func (g *GIC) Enable(irq uint32) {
	reg, bit := g.regBit(irq)
	mmioWrite32(g.distBase+gicdISENABLER+reg, 1<<bit)
}

// Disable masks irq at the distributor — the maskIRQ callback
// trap.NewDispatcher requires.
func (g *GIC) Disable(irq uint32) {
	reg, bit := g.regBit(irq)
	mmioWrite32(g.distBase+gicdICENABLER+reg, 1<<bit)
}

// Acknowledge reads GICC_IAR, returning the pending IRQ ID (or
// gicSpuriousIRQ if none is pending).
func (g *GIC) Acknowledge() uint32 {
	return mmioRead32(g.cpuBase+giccIAR) & 0x3FF
}

// EndOfInterrupt writes irq back to GICC_EOIR, completing the handler.
func (g *GIC) EndOfInterrupt(irq uint32) {
	mmioWrite32(g.cpuBase+giccEOIR, irq)
}
