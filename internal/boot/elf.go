package boot

import (
	"encoding/binary"

	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/kernel"
)

// Minimal ELF64 little-endian parsing for the root-task image: just
// enough of the header and program-table shape to find PT_LOAD segments
// (spec §4.8: "load the root-task ELF segments... map them with
// USER_RW/USER_RX at their ELF-specified virtual addresses"). Grounded in
// the same hand-rolled binary-field-decode idiom dtb.go already uses for
// the devicetree blob, applied here to the much smaller ELF64 header
// instead of debug/elf (which assumes an os.File/io.ReaderAt this
// freestanding kernel has no use for — the image is already a flat byte
// view of physical memory by the time this runs).
const (
	elfMagic0, elfMagic1, elfMagic2, elfMagic3 = 0x7F, 'E', 'L', 'F'
	elfClass64                                 = 2
	elfDataLSB                                 = 1
	ptLoad                                      = 1

	// PF_X, PF_W, PF_R — the p_flags bits the loader maps to USER_RX
	// versus USER_RW (spec §4.8 distinguishes executable from writable
	// segments; a segment is never both in this kernel's model, matching
	// the source's ELF loader assumption that code and data land in
	// separate PT_LOAD entries).
	pfExec  = 1
	pfWrite = 2
)

var (
	ErrBadELFMagic = kernel.New(module, kernel.KindInvalidArgument, "root task image is not a 64-bit little-endian ELF")
	ErrELFTruncated = kernel.New(module, kernel.KindInvalidArgument, "root task image truncated")
)

// Segment is one PT_LOAD entry: where its bytes start in the image, how
// many file bytes to copy, how many bytes the mapping must cover in
// total (p_memsz, the tail beyond p_filesz is zero-filled — .bss), the
// destination virtual address, and whether it is executable.
type Segment struct {
	FileOffset uint64
	FileSize   uint64
	MemSize    uint64
	VAddr      addr.VirtAddr
	Exec       bool
	Write      bool
}

// ELFImage is the decoded header fields boot.go needs: the entry point
// and the PT_LOAD segment list, in program-header order.
type ELFImage struct {
	Entry    addr.VirtAddr
	Segments []Segment
}

// ParseELF decodes img (the root task's relocated ELF image, viewed as a
// flat byte slice per spec §4.8's "root-task physical start/end").
func ParseELF(img []byte) (*ELFImage, error) {
	if len(img) < 64 {
		return nil, ErrELFTruncated
	}
	if img[0] != elfMagic0 || img[1] != elfMagic1 || img[2] != elfMagic2 || img[3] != elfMagic3 {
		return nil, ErrBadELFMagic
	}
	if img[4] != elfClass64 || img[5] != elfDataLSB {
		return nil, ErrBadELFMagic
	}

	entry := binary.LittleEndian.Uint64(img[24:32])
	phoff := binary.LittleEndian.Uint64(img[32:40])
	phentsize := binary.LittleEndian.Uint16(img[54:56])
	phnum := binary.LittleEndian.Uint16(img[56:58])

	out := &ELFImage{Entry: addr.VirtAddr(entry)}
	for i := uint16(0); i < phnum; i++ {
		off := phoff + uint64(i)*uint64(phentsize)
		if off+56 > uint64(len(img)) {
			return nil, ErrELFTruncated
		}
		ph := img[off:]
		ptype := binary.LittleEndian.Uint32(ph[0:4])
		if ptype != ptLoad {
			continue
		}
		flags := binary.LittleEndian.Uint32(ph[4:8])
		fileOff := binary.LittleEndian.Uint64(ph[8:16])
		vaddr := binary.LittleEndian.Uint64(ph[16:24])
		filesz := binary.LittleEndian.Uint64(ph[32:40])
		memsz := binary.LittleEndian.Uint64(ph[40:48])

		out.Segments = append(out.Segments, Segment{
			FileOffset: fileOff,
			FileSize:   filesz,
			MemSize:    memsz,
			VAddr:      addr.VirtAddr(vaddr),
			Exec:       flags&pfExec != 0,
			Write:      flags&pfWrite != 0,
		})
	}
	return out, nil
}
