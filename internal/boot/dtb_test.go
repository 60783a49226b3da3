package boot

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/coreos-arm64/capkernel/internal/addr"
)

// fdtBuilder assembles a minimal flattened devicetree blob by hand, for
// tests that don't have a real dtc-compiled image available.
type fdtBuilder struct {
	strings bytes.Buffer
	strOff  map[string]uint32
	struc   bytes.Buffer
}

func newFDTBuilder() *fdtBuilder {
	return &fdtBuilder{strOff: make(map[string]uint32)}
}

func (b *fdtBuilder) u32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.struc.Write(buf[:])
}

func (b *fdtBuilder) internString(s string) uint32 {
	if off, ok := b.strOff[s]; ok {
		return off
	}
	off := uint32(b.strings.Len())
	b.strings.WriteString(s)
	b.strings.WriteByte(0)
	b.strOff[s] = off
	return off
}

func (b *fdtBuilder) pad4() {
	for b.struc.Len()%4 != 0 {
		b.struc.WriteByte(0)
	}
}

func (b *fdtBuilder) beginNode(name string) {
	b.u32(fdtBeginNode)
	b.struc.WriteString(name)
	b.struc.WriteByte(0)
	b.pad4()
}

func (b *fdtBuilder) endNode() { b.u32(fdtEndNode) }

func (b *fdtBuilder) prop(name string, value []byte) {
	b.u32(fdtProp)
	b.u32(uint32(len(value)))
	b.u32(b.internString(name))
	b.struc.Write(value)
	b.pad4()
}

func be64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func be32(v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return buf[:]
}

// build finishes the struct block with FDT_END and assembles the full
// blob: a 40-byte header, the struct block, then the strings block.
func (b *fdtBuilder) build() []byte {
	b.u32(fdtEnd)

	const headerSize = 40
	offStruct := uint32(headerSize)
	offStrings := offStruct + uint32(b.struc.Len())

	var out bytes.Buffer
	hdr := make([]byte, headerSize)
	binary.BigEndian.PutUint32(hdr[0:4], fdtMagic)
	binary.BigEndian.PutUint32(hdr[4:8], offStrings+uint32(b.strings.Len()))
	binary.BigEndian.PutUint32(hdr[8:12], offStruct)
	binary.BigEndian.PutUint32(hdr[12:16], offStrings)
	out.Write(hdr)
	out.Write(b.struc.Bytes())
	out.Write(b.strings.Bytes())
	return out.Bytes()
}

func buildTestDTB() []byte {
	b := newFDTBuilder()
	b.beginNode("")
	{
		b.beginNode("memory@40000000")
		reg := append(append([]byte{}, be64(0x40000000)...), be64(0x08000000)...)
		b.prop("reg", reg)
		b.endNode()

		b.beginNode("pl011@9000000")
		reg2 := append(append([]byte{}, be64(0x09000000)...), be64(0x1000)...)
		b.prop("reg", reg2)
		interrupts := append(append(append([]byte{}, be32(0)...), be32(1)...), be32(4)...)
		b.prop("interrupts", interrupts)
		b.endNode()
	}
	b.endNode()
	return b.build()
}

func TestParseReturnsRootWithChildren(t *testing.T) {
	root, err := Parse(buildTestDTB())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(root.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(root.Children))
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	bad := make([]byte, 64)
	if _, err := Parse(bad); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestMemoryRegionDecodesRegProperty(t *testing.T) {
	root, err := Parse(buildTestDTB())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	base, size, ok := MemoryRegion(root)
	if !ok {
		t.Fatal("expected a memory region to be found")
	}
	if base != addr.PhysAddr(0x40000000) || size != 0x08000000 {
		t.Fatalf("got base=%#x size=%#x", base, size)
	}
}

func TestDeviceNodeRegAndInterruptDecode(t *testing.T) {
	root, err := Parse(buildTestDTB())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	uart := root.Children[1]
	base, size, ok := uart.Reg()
	if !ok {
		t.Fatal("expected a decodable reg property")
	}
	if base != addr.PhysAddr(0x09000000) || size != 0x1000 {
		t.Fatalf("got base=%#x size=%#x", base, size)
	}
	irq, ok := uart.InterruptSPI()
	if !ok {
		t.Fatal("expected a decodable interrupts property")
	}
	if irq != 33 {
		t.Fatalf("expected SPI 1 to decode to IRQ 33, got %d", irq)
	}
}
