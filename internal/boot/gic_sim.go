//go:build !arm64

package boot

import "github.com/coreos-arm64/capkernel/internal/addr"

// GIC on a sim build tracks enabled/masked state in a plain map instead of
// touching MMIO, so a sim build can boot without real hardware (same
// sim-build rationale as uart_sim.go and asm_sim.go).
type simGICState struct {
	enabled map[uint32]bool
	pending []uint32
}

// NewGIC ignores both base addresses on a sim build.
func NewGIC(distBase, cpuBase addr.PhysAddr) *GIC {
	return &GIC{distBase: 0, cpuBase: 0}
}

var simGIC = simGICState{enabled: make(map[uint32]bool)}

func (g *GIC) Init() {
	simGIC.enabled = make(map[uint32]bool)
	simGIC.pending = nil
}

func (g *GIC) Enable(irq uint32)  { simGIC.enabled[irq] = true }
func (g *GIC) Disable(irq uint32) { simGIC.enabled[irq] = false }

// InjectIRQ lets sim tests simulate an interrupt arriving on a line the
// driver has enabled.
func InjectIRQ(irq uint32) {
	if simGIC.enabled[irq] {
		simGIC.pending = append(simGIC.pending, irq)
	}
}

func (g *GIC) Acknowledge() uint32 {
	if len(simGIC.pending) == 0 {
		return gicSpuriousIRQ
	}
	irq := simGIC.pending[0]
	simGIC.pending = simGIC.pending[1:]
	return irq
}

func (g *GIC) EndOfInterrupt(irq uint32) {}

// IRQEnabled reports whether a sim test's driver currently has irq
// unmasked, for asserting the dispatcher's mask-on-unhandled-IRQ policy.
func IRQEnabled(irq uint32) bool { return simGIC.enabled[irq] }
