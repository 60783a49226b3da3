// Engine drives the 4-level walk: allocating intermediate tables,
// installing block/page leaves, and translating or unmapping existing
// entries (spec §4.2).
package pte

import (
	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/kernel"
)

const module = "pte"

var (
	ErrUnaligned    = kernel.New(module, kernel.KindAlignmentError, "address not aligned to mapping size")
	ErrUnsupported  = kernel.New(module, kernel.KindInvalidArgument, "unsupported mapping size")
	ErrNotMapped    = kernel.New(module, kernel.KindNotFound, "virtual address not mapped")
	ErrAlreadyTable = kernel.New(module, kernel.KindInvalidState, "intermediate entry is a leaf, not a table")
)

const entriesPerTable = 512
const tableSize = entriesPerTable * 8 // one 4 KiB frame

// Mapping sizes the engine accepts: a 4 KiB page, a 2 MiB block (level 2),
// or a 1 GiB block (level 1).
const (
	SizePage  = addr.PageSize
	SizeBlock2M = 2 * 1024 * 1024
	SizeBlock1G = 1024 * 1024 * 1024
)

func levelShift(level int) uint {
	switch level {
	case 0:
		return 39
	case 1:
		return 30
	case 2:
		return 21
	default:
		return 12
	}
}

func indexAt(va addr.VirtAddr, level int) uint64 {
	return (uint64(va) >> levelShift(level)) & (entriesPerTable - 1)
}

// leafLevelFor returns the table level at which a mapping of the given
// size terminates.
func leafLevelFor(size uint64) (int, error) {
	switch size {
	case SizePage:
		return 3, nil
	case SizeBlock2M:
		return 2, nil
	case SizeBlock1G:
		return 1, nil
	default:
		return 0, ErrUnsupported
	}
}

// Engine ties a Memory accessor and a frame allocator together; every
// public method takes the root table frame explicitly so the same Engine
// value services the kernel's own tables and every process VSpace.
type Engine struct {
	Mem   Memory
	Alloc FrameAllocator
}

// slotAddr returns the address of the descriptor slot for idx within the
// table at tableFrame.
func slotAddr(tableFrame addr.PhysAddr, idx uint64) addr.PhysAddr {
	return tableFrame.Add(idx * 8)
}

// walkToLeafLevel descends from root to leafLevel, allocating and zeroing
// intermediate tables as needed when create is true. It returns the frame
// of the table that holds the final-level slot.
func (e *Engine) walkToLeafLevel(root addr.PhysAddr, va addr.VirtAddr, leafLevel int, create bool) (addr.PhysAddr, error) {
	table := root
	for level := 0; level < leafLevel; level++ {
		idx := indexAt(va, level)
		slot := slotAddr(table, idx)
		d := e.Mem.ReadDescriptor(slot)

		switch d.Kind(level) {
		case KindInvalid:
			if !create {
				return 0, ErrNotMapped
			}
			next, err := e.Alloc.Alloc()
			if err != nil {
				return 0, err
			}
			e.Mem.Zero(next, tableSize)
			e.Mem.WriteDescriptor(slot, NewTable(next))
			table = next
		case KindTable:
			table = d.TargetAddr()
		case KindBlock:
			return 0, ErrAlreadyTable
		case KindPage:
			return 0, ErrAlreadyTable
		}
	}
	return table, nil
}

// Map inserts a mapping for a 4 KiB page, 2 MiB block, or 1 GiB block,
// allocating intermediate tables via Alloc as needed. The engine clears
// the TABLE_OR_PAGE bit for block descriptors and sets it for page and
// table descriptors — spec §3's critical invariant, enforced here once so
// no caller can get it wrong.
func (e *Engine) Map(root addr.PhysAddr, va addr.VirtAddr, pa addr.PhysAddr, size uint64, f Flags) error {
	if !va.IsAligned(size) || !pa.IsAligned(size) {
		return ErrUnaligned
	}
	leafLevel, err := leafLevelFor(size)
	if err != nil {
		return err
	}
	table, err := e.walkToLeafLevel(root, va, leafLevel, true)
	if err != nil {
		return err
	}
	idx := indexAt(va, leafLevel)
	slot := slotAddr(table, idx)

	var d Descriptor
	if leafLevel == 3 {
		d = NewPage(pa, f)
	} else {
		d = NewBlock(pa, f)
	}
	e.Mem.WriteDescriptor(slot, d)
	return nil
}

// Unmap clears the leaf descriptor for va. Intermediate tables are left in
// place — spec §4.2: "does not free intermediate tables."
func (e *Engine) Unmap(root addr.PhysAddr, va addr.VirtAddr, size uint64) error {
	leafLevel, err := leafLevelFor(size)
	if err != nil {
		return err
	}
	table, err := e.walkToLeafLevel(root, va, leafLevel, false)
	if err != nil {
		return err
	}
	idx := indexAt(va, leafLevel)
	slot := slotAddr(table, idx)
	if e.Mem.ReadDescriptor(slot).Kind(leafLevel) == KindInvalid {
		return ErrNotMapped
	}
	e.Mem.WriteDescriptor(slot, Invalid)
	return nil
}

// Translate walks the table purely in software, stopping at whichever
// level holds a leaf (block or page). It is how the kernel reads/writes a
// user thread's memory without switching TTBR0 first, and how debug_walk
// is implemented.
func (e *Engine) Translate(root addr.PhysAddr, va addr.VirtAddr) (addr.PhysAddr, bool) {
	table := root
	for level := 0; level <= 3; level++ {
		idx := indexAt(va, level)
		slot := slotAddr(table, idx)
		d := e.Mem.ReadDescriptor(slot)
		switch d.Kind(level) {
		case KindInvalid:
			return 0, false
		case KindBlock, KindPage:
			shift := levelShift(level)
			offsetMask := (uint64(1) << shift) - 1
			return d.TargetAddr().Add(uint64(va) & offsetMask), true
		case KindTable:
			table = d.TargetAddr()
		}
	}
	return 0, false
}

// WalkEntry is one level's raw descriptor plus its decoded form, returned
// by DebugWalk.
type WalkEntry struct {
	Level      int
	Descriptor Descriptor
	Kind       Kind
}

// DebugWalk returns every level's raw descriptor for va, stopping at the
// first invalid or leaf entry. Spec §4.2 calls this "essential during
// bring-up". Its only callers are this package's tests; tools/memviz and
// cmd/kconsole do not use it.
func (e *Engine) DebugWalk(root addr.PhysAddr, va addr.VirtAddr) []WalkEntry {
	var entries []WalkEntry
	table := root
	for level := 0; level <= 3; level++ {
		idx := indexAt(va, level)
		slot := slotAddr(table, idx)
		d := e.Mem.ReadDescriptor(slot)
		k := d.Kind(level)
		entries = append(entries, WalkEntry{Level: level, Descriptor: d, Kind: k})
		if k == KindInvalid || k == KindBlock || k == KindPage {
			break
		}
		table = d.TargetAddr()
	}
	return entries
}
