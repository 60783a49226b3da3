//go:build !arm64

package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/coreos-arm64/capkernel/internal/boot"
	"github.com/coreos-arm64/capkernel/internal/kfmt"
	"github.com/coreos-arm64/capkernel/internal/platform"
)

// run is the host-side development driver: it exercises the same
// boot.Kernel.Boot sequence the arm64 image runs, against either a real
// dtc-compiled DTB / linked root-task ELF (via -dtb/-root) or the built-in
// minimal fixtures below, so spec §8 scenario 1 ("cold boot to root
// task") can be driven under plain `go run` for development.
func run() {
	board := flag.String("board", "qemuvirt", "target board profile (qemuvirt|rpi4)")
	dtbPath := flag.String("dtb", "", "path to a flattened devicetree blob; defaults to a built-in minimal fixture")
	rootPath := flag.String("root", "", "path to the root-task ELF image; defaults to a built-in minimal fixture")
	dumpPath := flag.String("dump", "", "write a JSON snapshot of the PFA bitmap and CDT here after boot (for tools/memviz)")
	flag.Parse()

	var cfg platform.Config
	switch *board {
	case "rpi4":
		cfg = platform.RPi4()
	default:
		cfg = platform.QEMUVirt()
	}

	dtb, err := readOrDefault(*dtbPath, fixtureDTB(cfg))
	if err != nil {
		fmt.Fprintln(os.Stderr, "kernel: reading DTB:", err)
		os.Exit(1)
	}
	rootImage, err := readOrDefault(*rootPath, fixtureRootImage())
	if err != nil {
		fmt.Fprintln(os.Stderr, "kernel: reading root-task image:", err)
		os.Exit(1)
	}

	kfmt.Output = stdoutSink{}
	k := boot.NewKernel(cfg)
	if _, err := k.Boot(dtb, rootImage); err != nil {
		fmt.Fprintln(os.Stderr, "kernel: boot failed:", err)
		os.Exit(1)
	}

	if *dumpPath != "" {
		data, err := k.DumpJSON()
		if err != nil {
			fmt.Fprintln(os.Stderr, "kernel: snapshot:", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*dumpPath, data, 0o644); err != nil {
			fmt.Fprintln(os.Stderr, "kernel: writing dump:", err)
			os.Exit(1)
		}
	}
}

func readOrDefault(path string, fallback []byte) ([]byte, error) {
	if path == "" {
		return fallback, nil
	}
	return os.ReadFile(path)
}

type stdoutSink struct{}

func (stdoutSink) WriteByte(b byte) { os.Stdout.Write([]byte{b}) }

// --- minimal built-in fixtures ---
//
// A real build points -dtb/-root at a dtc-compiled blob and a linked
// root-task binary; these fixtures exist only so the command runs
// out of the box with no external inputs, mirroring the fixture-building
// helpers internal/boot's own tests use (dtb_test.go's fdtBuilder,
// boot_test.go's buildTestELF) but duplicated here since those are
// test-only and unexported.

func fixtureDTB(cfg platform.Config) []byte {
	var strings_, struc []byte
	strOff := map[string]uint32{}

	intern := func(s string) uint32 {
		if off, ok := strOff[s]; ok {
			return off
		}
		off := uint32(len(strings_))
		strings_ = append(append(strings_, s...), 0)
		strOff[s] = off
		return off
	}
	u32 := func(v uint32) { var b [4]byte; binary.BigEndian.PutUint32(b[:], v); struc = append(struc, b[:]...) }
	pad4 := func() {
		for len(struc)%4 != 0 {
			struc = append(struc, 0)
		}
	}
	beginNode := func(name string) {
		u32(1) // FDT_BEGIN_NODE
		struc = append(append(struc, name...), 0)
		pad4()
	}
	endNode := func() { u32(2) } // FDT_END_NODE
	prop := func(name string, value []byte) {
		u32(3) // FDT_PROP
		u32(uint32(len(value)))
		u32(intern(name))
		struc = append(struc, value...)
		pad4()
	}
	be64 := func(v uint64) []byte { var b [8]byte; binary.BigEndian.PutUint64(b[:], v); return b[:] }

	beginNode("")
	{
		beginNode(fmt.Sprintf("memory@%x", uint64(cfg.RAMBase)))
		reg := append(be64(uint64(cfg.RAMBase)), be64(cfg.RAMSize)...)
		prop("reg", reg)
		endNode()
	}
	endNode()
	u32(9) // FDT_END

	const headerSize = 40
	offStruct := uint32(headerSize)
	offStrings := offStruct + uint32(len(struc))

	out := make([]byte, headerSize)
	binary.BigEndian.PutUint32(out[0:4], 0xd00dfeed)
	binary.BigEndian.PutUint32(out[4:8], offStrings+uint32(len(strings_)))
	binary.BigEndian.PutUint32(out[8:12], offStruct)
	binary.BigEndian.PutUint32(out[12:16], offStrings)
	out = append(out, struc...)
	out = append(out, strings_...)
	return out
}

// fixtureRootImage builds the smallest ELF64 the loader accepts: one
// PT_LOAD segment containing a handful of "nop"s, entered at a fixed
// userspace address. A real root task replaces this with a linked
// component image (out of scope per spec §1).
func fixtureRootImage() []byte {
	const entry = 0x10000
	const ehsize, phsize = 64, 56
	code := []byte{0x1F, 0x20, 0x03, 0xD5, 0x1F, 0x20, 0x03, 0xD5} // two AArch64 nops

	buf := make([]byte, ehsize+phsize+len(code))
	buf[0], buf[1], buf[2], buf[3] = 0x7F, 'E', 'L', 'F'
	buf[4], buf[5], buf[6] = 2, 1, 1 // ELFCLASS64, ELFDATA2LSB, EV_CURRENT

	binary.LittleEndian.PutUint16(buf[16:18], 2)    // ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], 0xB7) // EM_AARCH64
	binary.LittleEndian.PutUint32(buf[20:24], 1)
	binary.LittleEndian.PutUint64(buf[24:32], entry)
	binary.LittleEndian.PutUint64(buf[32:40], ehsize)
	binary.LittleEndian.PutUint16(buf[54:56], phsize)
	binary.LittleEndian.PutUint16(buf[56:58], 1)

	ph := buf[ehsize:]
	binary.LittleEndian.PutUint32(ph[0:4], 1)    // PT_LOAD
	binary.LittleEndian.PutUint32(ph[4:8], 1|4)  // PF_X | PF_R
	binary.LittleEndian.PutUint64(ph[8:16], ehsize+phsize)
	binary.LittleEndian.PutUint64(ph[16:24], entry)
	binary.LittleEndian.PutUint64(ph[24:32], entry)
	binary.LittleEndian.PutUint64(ph[32:40], uint64(len(code)))
	binary.LittleEndian.PutUint64(ph[40:48], uint64(len(code)))
	binary.LittleEndian.PutUint64(ph[48:56], 0x1000)

	copy(buf[ehsize+phsize:], code)
	return buf
}
