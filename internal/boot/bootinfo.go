package boot

import (
	"encoding/binary"

	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/platform"
)

// InitialSlots names the fixed CNode slot numbers boot installs the root
// task's bootstrap capabilities into (spec §4.8's "install initial
// capabilities" step).
type InitialSlots struct {
	CSpaceRoot uint32
	VSpaceRoot uint32
	TCB        uint32
	IrqControl uint32
}

// DefaultSlots is the slot assignment spec §4.8 names explicitly: 1, 2, 3,
// 4 for CNode, VSpace, TCB, IRQ control.
var DefaultSlots = InitialSlots{CSpaceRoot: 1, VSpaceRoot: 2, TCB: 3, IrqControl: 4}

// UntypedDescriptor describes one region of RAM handed to the root task as
// an UntypedMemory capability, rather than pre-carved by the kernel (spec
// §6.3).
type UntypedDescriptor struct {
	Base     addr.PhysAddr
	SizeBits uint8
}

// BootInfo is the immutable structure boot writes and maps read-only into
// the root task (spec §6.3). UserVAFloor is the first virtual address the
// root task's own allocator is free to hand out; everything below it is
// already occupied by the loaded image, its stack, and this page.
type BootInfo struct {
	Platform    platform.Board
	RAMBase     addr.PhysAddr
	RAMSize     uint64
	Devices     []platform.DeviceRegion
	Untyped     []UntypedDescriptor
	Slots       InitialSlots
	UserVAFloor addr.VirtAddr
}

// DefaultBootInfoVA is the fixed userspace virtual address spec §6.3 names
// as an example mapping point for the BootInfo page.
const DefaultBootInfoVA = addr.VirtAddr(0x7FFF_F000)

// Encode serializes b into a flat little-endian byte layout suitable for
// writing into the single page boot maps read-only into the root task.
// The root task's runtime (outside this kernel's scope) decodes the same
// layout; Decode exists here only so tests can round-trip it.
func (b *BootInfo) Encode() []byte {
	var buf []byte
	put32 := func(v uint32) { var t [4]byte; binary.LittleEndian.PutUint32(t[:], v); buf = append(buf, t[:]...) }
	put64 := func(v uint64) { var t [8]byte; binary.LittleEndian.PutUint64(t[:], v); buf = append(buf, t[:]...) }

	put32(uint32(b.Platform))
	put64(uint64(b.RAMBase))
	put64(b.RAMSize)

	put32(uint32(len(b.Devices)))
	for _, d := range b.Devices {
		nameBytes := make([]byte, 32)
		copy(nameBytes, d.Name)
		buf = append(buf, nameBytes...)
		put64(uint64(d.Base))
		put64(d.Size)
		put32(d.IRQ)
	}

	put32(uint32(len(b.Untyped)))
	for _, u := range b.Untyped {
		put64(uint64(u.Base))
		buf = append(buf, u.SizeBits)
	}

	put32(b.Slots.CSpaceRoot)
	put32(b.Slots.VSpaceRoot)
	put32(b.Slots.TCB)
	put32(b.Slots.IrqControl)

	put64(uint64(b.UserVAFloor))

	return buf
}

// Decode parses the layout Encode produces. It exists for symmetry and for
// host-side tests; the kernel itself never decodes its own BootInfo page.
func Decode(buf []byte) (*BootInfo, error) {
	r := &byteReader{buf: buf}
	b := &BootInfo{}

	b.Platform = platform.Board(r.u32())
	b.RAMBase = addr.PhysAddr(r.u64())
	b.RAMSize = r.u64()

	ndev := r.u32()
	b.Devices = make([]platform.DeviceRegion, ndev)
	for i := range b.Devices {
		name := r.bytes(32)
		end := 0
		for end < len(name) && name[end] != 0 {
			end++
		}
		b.Devices[i].Name = string(name[:end])
		b.Devices[i].Base = addr.PhysAddr(r.u64())
		b.Devices[i].Size = r.u64()
		b.Devices[i].IRQ = r.u32()
	}

	nu := r.u32()
	b.Untyped = make([]UntypedDescriptor, nu)
	for i := range b.Untyped {
		b.Untyped[i].Base = addr.PhysAddr(r.u64())
		b.Untyped[i].SizeBits = r.byte()
	}

	b.Slots.CSpaceRoot = r.u32()
	b.Slots.VSpaceRoot = r.u32()
	b.Slots.TCB = r.u32()
	b.Slots.IrqControl = r.u32()

	b.UserVAFloor = addr.VirtAddr(r.u64())

	if r.err != nil {
		return nil, r.err
	}
	return b, nil
}

// byteReader is a minimal sequential little-endian cursor over a []byte,
// used only by Decode above.
type byteReader struct {
	buf []byte
	off int
	err error
}

func (r *byteReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = ErrTruncated
		return false
	}
	return true
}

func (r *byteReader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v
}

func (r *byteReader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off : r.off+8])
	r.off += 8
	return v
}

func (r *byteReader) byte() byte {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *byteReader) bytes(n int) []byte {
	if !r.need(n) {
		return make([]byte, n)
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v
}
