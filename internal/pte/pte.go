// Package pte implements the ARMv8-A 4-level, 4 KiB-granule page table
// engine: building kernel and per-process page tables, walking them for
// translation and diagnostics, and the fixed MMU bring-up sequence (spec
// §3, §4.2).
//
// Grounded in usbarmory-tamago/arm64's InitMMU/initL1Table/initL2Table
// descriptor-writing style (table/block/page encoding via raw register
// writes) and gopher-os-gopheros's kernel/mem/vmm page-table-entry package
// for the Go-side type split between a raw descriptor word and its decoded
// flags.
package pte

import "github.com/coreos-arm64/capkernel/internal/addr"

// Descriptor is the raw 64-bit value written into a page-table slot.
type Descriptor uint64

// Kind classifies a descriptor by its bits[1:0] encoding, which differs by
// level: at levels 1-2, 0b01 is a block and 0b11 is a table; at level 3,
// only 0b11 (page) is valid; 0b00/0b10 are always invalid.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindTable
	KindBlock
	KindPage
)

const (
	bitValid        = uint64(1) << 0
	bitTableOrPage   = uint64(1) << 1 // spec §3: MUST be 0 for blocks
	bitAF           = uint64(1) << 10
	bitPXN          = uint64(1) << 53
	bitUXN          = uint64(1) << 54

	apShift    = 6
	apMask     = uint64(0b11) << apShift
	shShift    = 8
	shMask     = uint64(0b11) << shShift
	attrShift  = 2
	attrMask   = uint64(0b111) << attrShift

	addrMask = uint64(0x0000FFFFFFFFF000) // bits [47:12]
)

// AP encodes the AP[2:1] access-permission field (spec §3 table G5-9).
type AP uint8

const (
	APKernelOnlyRW AP = 0b00 // PL1 rw, PL0 no access
	APReserved     AP = 0b01 // unused in this kernel
	APKernelOnlyRO AP = 0b10
	APUserRW       AP = 0b11 // PL1 rw, PL0 rw — spec uses this for USER_RW/USER_RX too
)

// MemAttr indexes MAIR_EL1. Index 0 is normal cacheable memory, index 1 is
// device-nGnRE memory — the two attribute indices this kernel ever needs.
type MemAttr uint8

const (
	AttrNormal MemAttr = 0
	AttrDevice MemAttr = 1
)

// Shareability encodes the SH[1:0] field.
type Shareability uint8

const (
	ShNonShareable   Shareability = 0b00
	ShOuterShareable Shareability = 0b10
	ShInnerShareable Shareability = 0b11
)

// Flags is the attribute set carried by a leaf descriptor: spec §3 names
// five required combinations, constructed below as package-level values so
// callers never hand-assemble AP/PXN/UXN themselves.
type Flags struct {
	AP    AP
	PXN   bool
	UXN   bool
	SH    Shareability
	Attr  MemAttr
}

var (
	// KERNEL_RWX: PXN=0 UXN=1 — kernel code pages. Spec §4.2: required so
	// the first instruction fetched after MMU-enable doesn't fault.
	KernelRWX = Flags{AP: APKernelOnlyRW, PXN: false, UXN: true, SH: ShInnerShareable, Attr: AttrNormal}
	// KERNEL_RW: PXN=1 UXN=1 — ordinary kernel data.
	KernelRW = Flags{AP: APKernelOnlyRW, PXN: true, UXN: true, SH: ShInnerShareable, Attr: AttrNormal}
	// USER_RW: PXN=1 UXN=0, AP=unprivileged rw.
	UserRW = Flags{AP: APUserRW, PXN: true, UXN: false, SH: ShInnerShareable, Attr: AttrNormal}
	// USER_RX: unprivileged, executable by EL0 but never by EL1.
	UserRX = Flags{AP: APUserRW, PXN: true, UXN: false, SH: ShInnerShareable, Attr: AttrNormal}
	// DEVICE_RW: device memory attribute, never executable at any level.
	DeviceRW = Flags{AP: APKernelOnlyRW, PXN: true, UXN: true, SH: ShOuterShareable, Attr: AttrDevice}
)

// encodeLeaf builds the attribute bits common to block and page
// descriptors. AF is always set — spec §3: "must be 1 to avoid access
// faults" since this kernel never implements access-flag fault handling.
func encodeLeaf(f Flags) uint64 {
	v := bitAF
	v |= uint64(f.AP) << apShift
	v |= uint64(f.SH) << shShift
	v |= uint64(f.Attr) << attrShift
	if f.PXN {
		v |= bitPXN
	}
	if f.UXN {
		v |= bitUXN
	}
	return v
}

// NewTable encodes a table descriptor pointing at next, valid at levels 0-2.
func NewTable(next addr.PhysAddr) Descriptor {
	return Descriptor(bitValid | bitTableOrPage | (uint64(next) & addrMask))
}

// NewBlock encodes a block descriptor at level 1 (1 GiB) or level 2
// (2 MiB). bitTableOrPage MUST be clear — spec §3's critical invariant.
func NewBlock(target addr.PhysAddr, f Flags) Descriptor {
	return Descriptor(bitValid | encodeLeaf(f) | (uint64(target) & addrMask))
}

// NewPage encodes a level-3 page descriptor (4 KiB). Unlike block
// descriptors, page descriptors DO set bitTableOrPage.
func NewPage(target addr.PhysAddr, f Flags) Descriptor {
	return Descriptor(bitValid | bitTableOrPage | encodeLeaf(f) | (uint64(target) & addrMask))
}

// Invalid is the zero descriptor: bit 0 clear.
const Invalid Descriptor = 0

// Kind classifies d given the page-table level it was read from (levels
// 1-2 distinguish block from table via bit 1; level 3 and level 0 only
// ever hold table/page, never block).
func (d Descriptor) Kind(level int) Kind {
	if d&Descriptor(bitValid) == 0 {
		return KindInvalid
	}
	isTableOrPage := d&Descriptor(bitTableOrPage) != 0
	switch {
	case level == 3:
		if isTableOrPage {
			return KindPage
		}
		return KindInvalid
	case level == 0:
		if isTableOrPage {
			return KindTable
		}
		return KindInvalid
	default: // levels 1, 2
		if isTableOrPage {
			return KindTable
		}
		return KindBlock
	}
}

// TargetAddr extracts the output address field, valid for any non-invalid
// descriptor (table pointer, block base, or page base).
func (d Descriptor) TargetAddr() addr.PhysAddr {
	return addr.PhysAddr(uint64(d) & addrMask)
}

// DecodeFlags extracts the leaf attribute bits back out of a block or page
// descriptor, for debug_walk (spec §4.2).
func (d Descriptor) DecodeFlags() Flags {
	return Flags{
		AP:   AP((uint64(d) & apMask) >> apShift),
		PXN:  uint64(d)&bitPXN != 0,
		UXN:  uint64(d)&bitUXN != 0,
		SH:   Shareability((uint64(d) & shMask) >> shShift),
		Attr: MemAttr((uint64(d) & attrMask) >> attrShift),
	}
}

// AF reports whether the accessed flag is set.
func (d Descriptor) AF() bool { return uint64(d)&bitAF != 0 }
