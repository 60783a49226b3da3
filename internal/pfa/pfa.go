// Package pfa implements the Physical Frame Allocator: a bitmap over every
// 4 KiB frame in RAM, handing out and reclaiming physical frames for every
// other kernel allocation (spec §3, §4.1).
//
// Grounded in gopher-os-gopher-os's kernel/mem/pmm/allocator bitmap
// allocator (one bit per frame, lowest-clear-bit scan) and its
// kernel.Error convention for the out-of-memory/double-free sentinels.
package pfa

import (
	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/kernel"
)

const module = "pfa"

var (
	// ErrOutOfMemory is returned by Alloc when no bit is clear.
	ErrOutOfMemory = kernel.New(module, kernel.KindInsufficientMemory, "no free frames")
	// ErrDoubleFree is returned by Free when the frame was already free.
	// Spec §4.1: "fatally fails if the bit was already clear" — the
	// allocator reports this as an error rather than panicking directly
	// so the caller (usually revocation or a syscall handler) can decide
	// whether it represents a kernel bug (panic) or a user mistake
	// (return an error to userspace).
	ErrDoubleFree = kernel.New(module, kernel.KindInvalidState, "frame already free")
	// ErrOutOfRange is returned by Free for an address outside the pool.
	ErrOutOfRange = kernel.New(module, kernel.KindAlignmentError, "address outside frame pool")
)

const wordBits = 64

// Allocator is a bitmap over every frame in [start, end). A clear bit means
// free; a set bit means allocated. Bit i of the bitmap corresponds to
// frame (startFrame + i).
type Allocator struct {
	startFrame addr.FrameNumber
	numFrames  uint64
	bitmap     []uint64

	// freeCount lets callers (and tests) check exhaustion without
	// scanning the whole bitmap.
	freeCount uint64
}

// Init marks every frame in [ramStart, ramEnd) as free, then immediately
// reserves [kernelStart, kernelEnd) and any other ranges the caller
// supplies (the CDT bump pool, device MMIO windows already excluded
// because they are outside [ramStart, ramEnd)).
//
// storage must be large enough to hold one bit per frame; internal/boot
// carves it out of a static array before the kernel heap exists.
func (a *Allocator) Init(ramStart, ramEnd addr.PhysAddr, storage []uint64, reserved ...[2]addr.PhysAddr) {
	a.startFrame = addr.FrameOf(ramStart.AlignUp(addr.PageSize))
	endFrame := addr.FrameOf(ramEnd.AlignDown(addr.PageSize))
	a.numFrames = uint64(endFrame) - uint64(a.startFrame)
	a.bitmap = storage
	a.freeCount = a.numFrames

	for _, r := range reserved {
		a.reserveRange(r[0], r[1])
	}
}

func (a *Allocator) reserveRange(start, end addr.PhysAddr) {
	s := addr.FrameOf(start.AlignDown(addr.PageSize))
	e := addr.FrameOf(end.AlignUp(addr.PageSize))
	for f := s; f < e; f++ {
		a.markAllocated(f)
	}
}

func (a *Allocator) indexOf(f addr.FrameNumber) (word, bit uint64, ok bool) {
	if uint64(f) < uint64(a.startFrame) {
		return 0, 0, false
	}
	rel := uint64(f) - uint64(a.startFrame)
	if rel >= a.numFrames {
		return 0, 0, false
	}
	return rel / wordBits, rel % wordBits, true
}

func (a *Allocator) isFree(f addr.FrameNumber) bool {
	w, b, ok := a.indexOf(f)
	if !ok {
		return false
	}
	return a.bitmap[w]&(1<<b) == 0
}

func (a *Allocator) markAllocated(f addr.FrameNumber) {
	w, b, ok := a.indexOf(f)
	if !ok {
		return
	}
	if a.bitmap[w]&(1<<b) == 0 {
		a.freeCount--
	}
	a.bitmap[w] |= 1 << b
}

// Alloc scans for the lowest-index clear bit, sets it, and returns the
// frame's physical address. The returned memory is not zeroed — spec
// §4.1's guarantee is that only UntypedMemory.Retype zeroes.
func (a *Allocator) Alloc() (addr.PhysAddr, error) {
	for w := range a.bitmap {
		if a.bitmap[w] == ^uint64(0) {
			continue
		}
		for b := uint64(0); b < wordBits; b++ {
			rel := uint64(w)*wordBits + b
			if rel >= a.numFrames {
				break
			}
			if a.bitmap[w]&(1<<b) == 0 {
				a.bitmap[w] |= 1 << b
				a.freeCount--
				f := addr.FrameNumber(uint64(a.startFrame) + rel)
				return f.Addr(), nil
			}
		}
	}
	return 0, ErrOutOfMemory
}

// Free clears the bit for the frame containing a. It is an error — by
// spec, a fatal one at the call site that cannot tell the difference
// between a kernel bug and bad userspace input — to free a frame that is
// already free, or one outside the pool.
func (a *Allocator) Free(frameAddr addr.PhysAddr) error {
	if !frameAddr.IsAligned(addr.PageSize) {
		return kernel.New(module, kernel.KindAlignmentError, "frame address not page aligned")
	}
	f := addr.FrameOf(frameAddr)
	w, b, ok := a.indexOf(f)
	if !ok {
		return ErrOutOfRange
	}
	if a.bitmap[w]&(1<<b) == 0 {
		return ErrDoubleFree
	}
	a.bitmap[w] &^= 1 << b
	a.freeCount++
	return nil
}

// FreeCount returns the number of currently-unallocated frames.
func (a *Allocator) FreeCount() uint64 { return a.freeCount }

// TotalFrames returns the number of frames under management.
func (a *Allocator) TotalFrames() uint64 { return a.numFrames }

// StartFrame returns the frame number the bitmap's bit 0 corresponds to,
// so a caller walking the bitmap (tools/memviz's frame-grid renderer) can
// recover each bit's physical address.
func (a *Allocator) StartFrame() addr.FrameNumber { return a.startFrame }

// Allocated reports whether the i-th frame under management (0-based,
// relative to StartFrame) is currently allocated. Used by debug dumps
// (internal/boot's DebugSnapshot) rather than the hot allocation path,
// which works in FrameNumber/PhysAddr terms instead.
func (a *Allocator) Allocated(i uint64) bool {
	if i >= a.numFrames {
		return false
	}
	w, b := i/wordBits, i%wordBits
	return a.bitmap[w]&(1<<b) != 0
}

// BitmapWordsFor returns how many uint64 words a bitmap needs to cover n
// frames, for sizing the static storage array at boot.
func BitmapWordsFor(n uint64) uint64 { return (n + wordBits - 1) / wordBits }
