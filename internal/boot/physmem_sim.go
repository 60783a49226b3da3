//go:build !arm64

package boot

import (
	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/platform"
	"github.com/coreos-arm64/capkernel/internal/pte"
)

// newMemory backs the kernel's page tables with a flat byte array spanning
// from address 0 through the highest byte any board region touches (RAM,
// UART, or either GIC window — RPi4's peripheral block sits well above its
// RAM, so RAM size alone underestimates this on that board), so any
// identity or high-half mapping boot.go installs resolves to a real slice
// index.
func newMemory(cfg platform.Config) pte.Memory {
	end := uint64(cfg.RAMBase) + cfg.RAMSize
	if e := uint64(cfg.UARTBase) + 0x1000; e > end {
		end = e
	}
	if e := uint64(cfg.GICDistBase) + 0x10000; e > end {
		end = e
	}
	if e := uint64(cfg.GICCPUBase) + 0x10000; e > end {
		end = e
	}
	for _, d := range cfg.Devices {
		if e := uint64(d.Base) + d.Size; e > end {
			end = e
		}
	}
	return pte.NewSimMemory(0, end)
}

// physBytes views size bytes of the simulated RAM array backing k's page
// tables as a Go byte slice. Kernel.mem on a sim build is always a
// *pte.SimMemory (constructed by NewKernel through newMemory), so this assertion never fails in
// practice; it panics loudly instead of silently misreading if it ever
// would.
func (k *Kernel) physBytes(a addr.PhysAddr, size uint64) []byte {
	sm := k.mem.(*pte.SimMemory)
	off := uint64(a - sm.Base)
	return sm.Bytes[off : off+size]
}
