//go:build !arm64

package pte

import "github.com/coreos-arm64/capkernel/internal/addr"

// SimMemory backs Memory with a plain byte buffer standing in for "all of
// RAM", indexed by physical address, so the walker's logic (table/block/
// page construction, the TABLE_OR_PAGE invariant, round-trip map/unmap) is
// exercised directly by "go test" without real hardware.
type SimMemory struct {
	Base  addr.PhysAddr
	Bytes []byte
}

// NewSimMemory allocates a simulated RAM region of size bytes starting at
// base.
func NewSimMemory(base addr.PhysAddr, size uint64) *SimMemory {
	return &SimMemory{Base: base, Bytes: make([]byte, size)}
}

func (m *SimMemory) off(a addr.PhysAddr) uint64 { return uint64(a - m.Base) }

func (m *SimMemory) ReadDescriptor(a addr.PhysAddr) Descriptor {
	o := m.off(a)
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(m.Bytes[o+uint64(i)]) << (8 * i)
	}
	return Descriptor(v)
}

func (m *SimMemory) WriteDescriptor(a addr.PhysAddr, d Descriptor) {
	o := m.off(a)
	v := uint64(d)
	for i := 0; i < 8; i++ {
		m.Bytes[o+uint64(i)] = byte(v >> (8 * i))
	}
}

func (m *SimMemory) Zero(a addr.PhysAddr, size uint64) {
	o := m.off(a)
	for i := uint64(0); i < size; i++ {
		m.Bytes[o+i] = 0
	}
}
