// Package boot sequences kernel bring-up (spec §4.8): parse the DTB,
// build kernel page tables, enable the MMU, stand up the kernel heap and
// CDT pool, construct the root task's CNode/VSpace/TCB, load its ELF
// segments, build BootInfo, install initial capabilities, and eret.
package boot

import (
	"encoding/binary"

	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/kernel"
)

const module = "boot"

// Flattened Device Tree token and header constants (devicetree
// specification v0.4 §5.4).
const (
	fdtMagic = 0xd00dfeed

	fdtBeginNode = 0x00000001
	fdtEndNode   = 0x00000002
	fdtProp      = 0x00000003
	fdtNop       = 0x00000004
	fdtEnd       = 0x00000009
)

// Node is one devicetree node: its unit name (with the "@unit-address"
// suffix, if any, left intact — MemoryRegion/Devices below strip it where
// it matters), its properties, and its children in document order.
type Node struct {
	Name     string
	Props    map[string][]byte
	Children []*Node
}

var (
	ErrBadMagic     = kernel.New(module, kernel.KindInvalidArgument, "DTB magic mismatch")
	ErrTruncated    = kernel.New(module, kernel.KindInvalidArgument, "DTB structure block truncated")
	ErrMalformedFDT = kernel.New(module, kernel.KindInvalidArgument, "malformed FDT token stream")
)

// Parse walks a flattened devicetree blob and returns its root node.
//
// Grounded in mazboot/golang/dtb_qemu.go's hand-rolled FDT walker (same
// big-endian token stream, same begin-node/end-node/prop/nop/end switch);
// that version operates on raw unsafe.Pointer arithmetic because it runs
// before any Go heap exists, reading directly out of physical memory.
// Boot's DTB has already been identity-mapped into a []byte view by the
// time this runs (the same technique internal/ring and internal/kheap use
// to view physical memory as a Go slice), so this walker builds a real
// *Node tree with encoding/binary instead of reimplementing be32/be64 by
// hand — same token semantics, idiomatic decode.
func Parse(dtb []byte) (*Node, error) {
	if len(dtb) < 40 {
		return nil, ErrTruncated
	}
	if binary.BigEndian.Uint32(dtb[0:4]) != fdtMagic {
		return nil, ErrBadMagic
	}
	offStruct := binary.BigEndian.Uint32(dtb[8:12])
	offStrings := binary.BigEndian.Uint32(dtb[12:16])

	p := &parser{dtb: dtb, strings: offStrings}
	root, _, err := p.parseNode(offStruct)
	if err != nil {
		return nil, err
	}
	return root, nil
}

type parser struct {
	dtb     []byte
	strings uint32
}

func (p *parser) u32(off uint32) (uint32, error) {
	if uint64(off)+4 > uint64(len(p.dtb)) {
		return 0, ErrTruncated
	}
	return binary.BigEndian.Uint32(p.dtb[off : off+4]), nil
}

func (p *parser) cstr(off uint32) (string, uint32, error) {
	start := off
	for off < uint32(len(p.dtb)) && p.dtb[off] != 0 {
		off++
	}
	if off >= uint32(len(p.dtb)) {
		return "", 0, ErrTruncated
	}
	return string(p.dtb[start:off]), off + 1, nil
}

func align4(off uint32) uint32 { return (off + 3) &^ 3 }

// parseNode expects off to point at an FDT_BEGIN_NODE token and consumes
// up to and including the matching FDT_END_NODE, returning the node and
// the offset just past it.
func (p *parser) parseNode(off uint32) (*Node, uint32, error) {
	tok, err := p.u32(off)
	if err != nil {
		return nil, 0, err
	}
	if tok != fdtBeginNode {
		return nil, 0, ErrMalformedFDT
	}
	off += 4

	name, off, err := p.cstr(off)
	if err != nil {
		return nil, 0, err
	}
	off = align4(off)

	n := &Node{Name: name, Props: make(map[string][]byte)}

	for {
		tok, err := p.u32(off)
		if err != nil {
			return nil, 0, err
		}
		switch tok {
		case fdtNop:
			off += 4
		case fdtProp:
			plen, err := p.u32(off + 4)
			if err != nil {
				return nil, 0, err
			}
			nameOff, err := p.u32(off + 8)
			if err != nil {
				return nil, 0, err
			}
			valStart := off + 12
			if uint64(valStart)+uint64(plen) > uint64(len(p.dtb)) {
				return nil, 0, ErrTruncated
			}
			propName, _, err := p.cstr(p.strings + nameOff)
			if err != nil {
				return nil, 0, err
			}
			n.Props[propName] = p.dtb[valStart : valStart+plen]
			off = align4(valStart + plen)
		case fdtBeginNode:
			child, next, err := p.parseNode(off)
			if err != nil {
				return nil, 0, err
			}
			n.Children = append(n.Children, child)
			off = next
		case fdtEndNode:
			return n, off + 4, nil
		case fdtEnd:
			return n, off, nil
		default:
			return nil, 0, ErrMalformedFDT
		}
	}
}

// Reg decodes a node's "reg" property as one (base, size) pair, assuming
// the conventional #address-cells=2, #size-cells=2 (both reference
// platforms' memory and MMIO nodes use this encoding).
func (n *Node) Reg() (base addr.PhysAddr, size uint64, ok bool) {
	v, present := n.Props["reg"]
	if !present || len(v) < 16 {
		return 0, 0, false
	}
	return addr.PhysAddr(binary.BigEndian.Uint64(v[0:8])), binary.BigEndian.Uint64(v[8:16]), true
}

// InterruptSPI decodes the first cell triple of an "interrupts" property
// under the GIC's standard binding (type, number, flags) and returns the
// IRQ line as the GIC would number it: SPIs (type 0) are offset by 32,
// PPIs (type 1) by 16.
func (n *Node) InterruptSPI() (irq uint32, ok bool) {
	v, present := n.Props["interrupts"]
	if !present || len(v) < 12 {
		return 0, false
	}
	kind := binary.BigEndian.Uint32(v[0:4])
	number := binary.BigEndian.Uint32(v[4:8])
	switch kind {
	case 0:
		return number + 32, true
	case 1:
		return number + 16, true
	default:
		return 0, false
	}
}

// MemoryRegion finds the first child of root named "memory" or
// "memory@..." and decodes its reg property (spec §4.8: "parse DTB
// (memory regions...)").
func MemoryRegion(root *Node) (base addr.PhysAddr, size uint64, ok bool) {
	for _, c := range root.Children {
		if matchesName(c.Name, "memory") {
			return c.Reg()
		}
	}
	return 0, 0, false
}

// matchesName reports whether a node's unit name (e.g. "memory@40000000")
// matches the bare name "memory", with or without a unit address.
func matchesName(nodeName, bare string) bool {
	if nodeName == bare {
		return true
	}
	return len(nodeName) > len(bare) && nodeName[:len(bare)] == bare && nodeName[len(bare)] == '@'
}
