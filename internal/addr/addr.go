// Package addr defines the physical and virtual address types shared by
// every memory-facing component of the kernel.
package addr

// PageSize is the granule size for every leaf mapping the kernel installs.
const PageSize = 0x1000

// PageShift is log2(PageSize).
const PageShift = 12

// PhysAddr references a location in host RAM or device MMIO. It carries no
// meaning outside the scope of whichever translation regime (identity,
// kernel high-half, or a process VSpace) is currently in effect.
type PhysAddr uint64

// VirtAddr exists only within an address space; translating one requires a
// page-table root.
type VirtAddr uint64

// IsAligned reports whether a is a multiple of n, where n must be a power
// of two.
func (a PhysAddr) IsAligned(n uint64) bool { return uint64(a)&(n-1) == 0 }

// AlignDown rounds a down to the nearest multiple of n (n a power of two).
func (a PhysAddr) AlignDown(n uint64) PhysAddr { return PhysAddr(uint64(a) &^ (n - 1)) }

// AlignUp rounds a up to the nearest multiple of n (n a power of two).
func (a PhysAddr) AlignUp(n uint64) PhysAddr {
	return PhysAddr((uint64(a) + n - 1) &^ (n - 1))
}

// PageNumber returns the physical frame number, a / PageSize.
func (a PhysAddr) PageNumber() uint64 { return uint64(a) >> PageShift }

// Add returns a+n.
func (a PhysAddr) Add(n uint64) PhysAddr { return PhysAddr(uint64(a) + n) }

// IsAligned reports whether a is a multiple of n, where n must be a power
// of two.
func (a VirtAddr) IsAligned(n uint64) bool { return uint64(a)&(n-1) == 0 }

// AlignDown rounds a down to the nearest multiple of n (n a power of two).
func (a VirtAddr) AlignDown(n uint64) VirtAddr { return VirtAddr(uint64(a) &^ (n - 1)) }

// AlignUp rounds a up to the nearest multiple of n (n a power of two).
func (a VirtAddr) AlignUp(n uint64) VirtAddr {
	return VirtAddr((uint64(a) + n - 1) &^ (n - 1))
}

// PageNumber returns a / PageSize.
func (a VirtAddr) PageNumber() uint64 { return uint64(a) >> PageShift }

// Add returns a+n.
func (a VirtAddr) Add(n uint64) VirtAddr { return VirtAddr(uint64(a) + n) }

// Offset returns the offset of a within its containing page.
func (a VirtAddr) Offset() uint64 { return uint64(a) & (PageSize - 1) }

// FrameNumber is a physical-address / PageSize index into the PFA bitmap.
type FrameNumber uint64

// Addr converts a frame number back to the physical address of its first
// byte.
func (f FrameNumber) Addr() PhysAddr { return PhysAddr(uint64(f) * PageSize) }

// FrameOf returns the frame number containing a.
func FrameOf(a PhysAddr) FrameNumber { return FrameNumber(a.PageNumber()) }
