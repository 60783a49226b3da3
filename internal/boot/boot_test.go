package boot

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/coreos-arm64/capkernel/internal/kfmt"
	"github.com/coreos-arm64/capkernel/internal/platform"
)

// buildTestELF assembles the smallest possible 64-bit little-endian ELF
// with one executable PT_LOAD segment, just enough for ParseELF to accept
// it and for Boot to have something to map and eret into. Grounded in the
// same hand-assembled-fixture style buildTestDTB already uses in
// dtb_test.go, applied to ELF64 instead of the FDT format.
func buildTestELF(entry uint64, code []byte) []byte {
	const ehsize = 64
	const phsize = 56

	buf := make([]byte, ehsize+phsize+len(code))

	buf[0], buf[1], buf[2], buf[3] = elfMagic0, elfMagic1, elfMagic2, elfMagic3
	buf[4] = elfClass64
	buf[5] = elfDataLSB
	buf[6] = 1 // EI_VERSION

	binary.LittleEndian.PutUint16(buf[16:18], 2)       // e_type = ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], 0xB7)    // e_machine = EM_AARCH64
	binary.LittleEndian.PutUint32(buf[20:24], 1)       // e_version
	binary.LittleEndian.PutUint64(buf[24:32], entry)   // e_entry
	binary.LittleEndian.PutUint64(buf[32:40], ehsize)  // e_phoff
	binary.LittleEndian.PutUint16(buf[54:56], phsize)  // e_phentsize
	binary.LittleEndian.PutUint16(buf[56:58], 1)       // e_phnum

	ph := buf[ehsize:]
	binary.LittleEndian.PutUint32(ph[0:4], ptLoad)
	binary.LittleEndian.PutUint32(ph[4:8], pfExec|4) // PF_X | PF_R
	binary.LittleEndian.PutUint64(ph[8:16], ehsize+phsize)
	binary.LittleEndian.PutUint64(ph[16:24], entry) // p_vaddr
	binary.LittleEndian.PutUint64(ph[24:32], entry) // p_paddr
	binary.LittleEndian.PutUint64(ph[32:40], uint64(len(code)))
	binary.LittleEndian.PutUint64(ph[40:48], uint64(len(code)))
	binary.LittleEndian.PutUint64(ph[48:56], addrAlign)

	copy(buf[ehsize+phsize:], code)
	return buf
}

const addrAlign = 0x1000

// buildSmallTestDTB mirrors buildTestDTB (dtb_test.go) but advertises a
// 16 MiB memory node instead of 128 MiB, matching the cut-down RAM size
// TestColdBootToRootTask gives the sim memory buffer — dtb_test.go's
// fixture describes a full QEMU-virt-sized region, which would force
// newMemory's simulated byte array up to the real board's RAM extent.
func buildSmallTestDTB(ramBase, ramSize uint64) []byte {
	b := newFDTBuilder()
	b.beginNode("")
	{
		b.beginNode("memory@40000000")
		reg := append(append([]byte{}, be64(ramBase)...), be64(ramSize)...)
		b.prop("reg", reg)
		b.endNode()
	}
	b.endNode()
	return b.build()
}

// TestColdBootToRootTask exercises spec §8 scenario 1 end to end: a DTB
// and a minimal root-task ELF image go in, BootInfo comes out, the MMU
// reports enabled, and the root task's TCB is left ready to run at its
// ELF entry point with the register state spec §4.5's "SPSR for EL0
// return" note requires.
func TestColdBootToRootTask(t *testing.T) {
	var out strings.Builder
	kfmt.Output = stringSink{&out}
	defer func() { kfmt.Output = nil }()

	// newMemory's sim buffer spans address 0 through the top of RAM (the
	// kernel identity-maps RAM at its real physical base, so the buffer
	// has to reach that far); platform.QEMUVirt's real 1 GiB RAM base
	// would make that buffer huge just for this test, so a scaled-down
	// board config keeps everything low and the buffer at 32 MiB.
	cfg := platform.Config{
		Board:       platform.BoardQEMUVirt,
		RAMBase:     0x01000000,
		RAMSize:     16 * 1024 * 1024,
		UARTBase:    0x00001000,
		GICDistBase: 0x00010000,
		GICCPUBase:  0x00020000,
		TimerIRQ:    27,
		Devices: []platform.DeviceRegion{
			{Name: "uart0", Base: 0x00001000, Size: 0x1000, IRQ: 33},
			{Name: "timer", Base: 0, Size: 0, IRQ: 27},
		},
	}
	k := NewKernel(cfg)
	dtb := buildSmallTestDTB(uint64(cfg.RAMBase), cfg.RAMSize)
	rootImage := buildTestELF(0x210120, []byte{0x1F, 0x20, 0x03, 0xD5}) // nop

	bi, err := k.Boot(dtb, rootImage)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if bi == nil {
		t.Fatal("Boot returned nil BootInfo")
	}
	if !strings.Contains(out.String(), "MMU enabled: true") {
		t.Fatalf("expected MMU enabled banner, got %q", out.String())
	}

	root := k.tcbs[k.rootTCBAddr]
	if root == nil {
		t.Fatal("root TCB not registered")
	}
	if root.Ctx.ELREL1 != 0x210120 {
		t.Fatalf("root ELR = %#x, want entry point", root.Ctx.ELREL1)
	}
	if root.Ctx.SPSREL1 != 0x3c0 {
		t.Fatalf("root SPSR = %#x, want 0x3c0 (EL0t, IRQs unmasked)", root.Ctx.SPSREL1)
	}
	if root.Ctx.SPEL0 == 0 {
		t.Fatal("root SP_EL0 left unset")
	}

	if len(bi.Untyped) == 0 {
		t.Fatal("BootInfo carries no untyped descriptors")
	}
	if bi.Slots != DefaultSlots {
		t.Fatalf("BootInfo slots = %+v, want %+v", bi.Slots, DefaultSlots)
	}
	if bi.Platform != platform.BoardQEMUVirt {
		t.Fatalf("BootInfo platform = %v, want qemu-virt", bi.Platform)
	}
}

type stringSink struct{ b *strings.Builder }

func (s stringSink) WriteByte(c byte) { s.b.WriteByte(c) }
