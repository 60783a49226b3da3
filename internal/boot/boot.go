package boot

import (
	"unsafe"

	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/capability"
	"github.com/coreos-arm64/capkernel/internal/cdt"
	"github.com/coreos-arm64/capkernel/internal/asm"
	"github.com/coreos-arm64/capkernel/internal/ipc"
	"github.com/coreos-arm64/capkernel/internal/kernel"
	"github.com/coreos-arm64/capkernel/internal/kfmt"
	"github.com/coreos-arm64/capkernel/internal/kheap"
	"github.com/coreos-arm64/capkernel/internal/object"
	"github.com/coreos-arm64/capkernel/internal/pfa"
	"github.com/coreos-arm64/capkernel/internal/platform"
	"github.com/coreos-arm64/capkernel/internal/pte"
	"github.com/coreos-arm64/capkernel/internal/sched"
	"github.com/coreos-arm64/capkernel/internal/trap"
)

// Fixed sizing constants for the boot sequence (spec §4.3, §4.8). There are
// no linker-provided _kernel_start/_kernel_end symbols in this tree (unlike
// mazboot/golang's patched-runtime image, this kernel never gets a real
// freestanding link step — see DESIGN.md), so the kernel image's physical
// footprint is approximated by reserving a fixed region at the bottom of
// RAM instead of computing it from section boundaries.
const (
	kernelImageReserve = 4 * 1024 * 1024  // 4 MiB, stands in for the real kernel image
	kernelHeapSize     = 1 * 1024 * 1024  // spec §4.3: "~1 MiB"
	cdtPoolCapacity    = 8192             // spec §4.3 describes ~73K nodes over 4 MiB; this tree's CapNode is smaller, capacity chosen for headroom rather than matching that byte budget exactly
	rootCNodeSizeBits  = 8                // 256 slots, spec §4.8: "typically 256 slots"
	rootStackSize      = 64 * 1024        // spec §4.8: "≥64 KiB"
	rootPriority       = 128
	timerQuantumTicks  = 1 // preemption point per timer tick; see OnTimerTick below
	untypedSlot        = 5 // just past DefaultSlots (1-4): the root task's lone bootstrap untyped capability
)

// tcrEncoded is TCR_EL1 for a 48-bit VA space (T0SZ=T1SZ=16), 4 KiB granule
// in both halves (TG0=0b00, TG1=0b10), inner/outer write-back cacheable,
// inner-shareable walks, physical address size left at its reset value.
// Grounded in usbarmory-tamago/arm64's configureMMU TCR encoding (same
// field layout, same granule choice); spec §4.2 names "program TCR_EL1,
// MAIR_EL1" without dictating the exact bit pattern.
const tcrEncoded uint64 = (16 << 0) | (16 << 16) | (0b00 << 14) | (0b10 << 30) | (0b01 << 8) | (0b01 << 10) | (0b11 << 12) | (0b11 << 28)

// mairEncoded programs MAIR_EL1 index 0 as normal write-back cacheable
// memory (0xFF) and index 1 as device-nGnRE memory (0x04), matching
// pte.AttrNormal/pte.AttrDevice.
const mairEncoded uint64 = 0xFF | (0x04 << 8)

var (
	ErrMMUVerifyFailed = kernel.New(module, kernel.KindInvalidState, "post-enable translation verify failed")
	ErrNoRootSegments  = kernel.New(module, kernel.KindInvalidArgument, "root task image has no loadable segments")
)

// Kernel holds every piece of boot-constructed state: the allocators, the
// single CDT pool and run-queue, the device drivers, and the object
// registries that let a physical address (the "handle" Retype and the CDT
// hand back) be turned back into the live Go value backing it. One Kernel
// exists per boot.
type Kernel struct {
	cfg platform.Config

	mem    pte.Memory
	frames pfa.Allocator
	engine *pte.Engine
	pool   *cdt.Pool
	heap   *kheap.Heap

	scheduler *sched.Scheduler
	gic       *GIC
	uart      *UART
	disp      *trap.Dispatcher

	rootUntyped    *object.UntypedMemory
	rootUntypedRef cdt.Ref

	// Object registries. Retype and InsertRoot return a physical address as
	// an object's identity; everything else in this kernel (syscalls, the
	// scheduler, IPC) looks the live Go value up by that address rather than
	// carrying pointers across the capability boundary, matching the
	// arena-plus-index discipline internal/cdt already uses one level down.
	cnodes        map[addr.PhysAddr]*capability.CNode
	vspaces       map[addr.PhysAddr]*object.VSpace
	tcbs          map[addr.PhysAddr]*object.TCB
	endpoints     map[addr.PhysAddr]*ipc.Endpoint
	notifications map[addr.PhysAddr]*ipc.Notification
	untypeds      map[addr.PhysAddr]*object.UntypedMemory

	// nextMapVA is the next virtual address sys_memory_map hands out. Boot
	// starts it at BootInfo.UserVAFloor.
	nextMapVA addr.VirtAddr

	rootCNodeAddr  addr.PhysAddr
	rootVSpaceAddr addr.PhysAddr
	rootTCBAddr    addr.PhysAddr

	quantum uint32
}

// NewKernel constructs a Kernel for the given board, wiring its physical
// memory view (direct MMIO on arm64, a simulated byte array in tests) per
// newMemory's build-tag split.
func NewKernel(cfg platform.Config) *Kernel {
	return &Kernel{
		cfg:           cfg,
		mem:           newMemory(cfg),
		cnodes:        make(map[addr.PhysAddr]*capability.CNode),
		vspaces:       make(map[addr.PhysAddr]*object.VSpace),
		tcbs:          make(map[addr.PhysAddr]*object.TCB),
		endpoints:     make(map[addr.PhysAddr]*ipc.Endpoint),
		notifications: make(map[addr.PhysAddr]*ipc.Notification),
		untypeds:      make(map[addr.PhysAddr]*object.UntypedMemory),
		quantum:       timerQuantumTicks,
	}
}

// allocRegion allocates n contiguous PFA frames, asserting contiguity — true
// in practice for every call site here, each of which runs against a freshly
// initialized (or otherwise known-sparse) allocator early in boot.
func (k *Kernel) allocRegion(n int) (addr.PhysAddr, error) {
	if n <= 0 {
		n = 1
	}
	first, err := k.frames.Alloc()
	if err != nil {
		return 0, err
	}
	base := first
	for i := 1; i < n; i++ {
		f, err := k.frames.Alloc()
		if err != nil {
			return 0, err
		}
		if f != base.Add(uint64(i)*addr.PageSize) {
			kernel.Panic(module, "boot region allocation was not contiguous")
		}
	}
	return base, nil
}

// demoHeapBox proves out the freshly constructed kernel heap (spec §4.3)
// with one real allocation rather than leaving k.heap untouched until a
// syscall eventually needs it: it boxes a short message on the heap,
// prints it back out through it, and frees it (spec §8 scenario 1's "Box
// allocation" banner).
func (k *Kernel) demoHeapBox() error {
	const msg = "Hello from Box on the heap!"

	box, err := k.heap.Alloc(uint64(len(msg)))
	if err != nil {
		return err
	}
	boxed := unsafe.Slice((*byte)(box), len(msg))
	copy(boxed, msg)

	kfmt.Printf("Box allocation: %s\n", string(boxed))

	return k.heap.Free(box)
}

func log2Floor(v uint64) uint8 {
	var n uint8
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// Boot runs the full bring-up sequence (spec §4.8) against an
// already-identity-mapped view of physical memory: parse dtb, stand up
// paging, the heap, the CDT pool, the root task's bootstrap objects, load
// rootImage, build BootInfo, register every syscall, and perform the first
// drop to EL0. On a sim build this returns normally once Eret (a no-op)
// would have transferred control, so tests can inspect the resulting
// Kernel; on real hardware Eret never returns.
func (k *Kernel) Boot(dtb []byte, rootImage []byte) (*BootInfo, error) {
	trap.InstallVectors()

	ramBase, ramSize := k.cfg.RAMBase, k.cfg.RAMSize
	if root, err := Parse(dtb); err == nil {
		if b, s, ok := MemoryRegion(root); ok {
			ramBase, ramSize = b, s
		}
	}

	totalFrames := ramSize / addr.PageSize
	storage := make([]uint64, pfa.BitmapWordsFor(totalFrames))
	k.frames.Init(ramBase, ramBase.Add(ramSize), storage, [2]addr.PhysAddr{ramBase, ramBase.Add(kernelImageReserve)})

	k.engine = &pte.Engine{Mem: k.mem, Alloc: &k.frames}

	kernelRoot, err := k.frames.Alloc()
	if err != nil {
		return nil, err
	}
	k.mem.Zero(kernelRoot, addr.PageSize)

	// Identity-map all of RAM KERNEL_RWX in 2 MiB blocks — this tree has no
	// linker-derived code/data split to map RWX vs RW separately (see
	// kernelImageReserve's comment), so the whole image region is RWX.
	for off := uint64(0); off < ramSize; off += pte.SizeBlock2M {
		va := addr.VirtAddr(uint64(ramBase) + off)
		pa := ramBase.Add(off)
		if err := k.engine.Map(kernelRoot, va, pa, pte.SizeBlock2M, pte.KernelRWX); err != nil {
			return nil, err
		}
	}

	// Device MMIO, DEVICE_RW, one page per window.
	devMap := func(base addr.PhysAddr, size uint64) error {
		for off := uint64(0); off < size; off += addr.PageSize {
			va := addr.VirtAddr(uint64(base) + off)
			if err := k.engine.Map(kernelRoot, va, base.Add(off), addr.PageSize, pte.DeviceRW); err != nil {
				return err
			}
		}
		return nil
	}
	if err := devMap(k.cfg.UARTBase, addr.PageSize); err != nil {
		return nil, err
	}
	if err := devMap(k.cfg.GICDistBase, 0x10000); err != nil {
		return nil, err
	}
	if err := devMap(k.cfg.GICCPUBase, 0x10000); err != nil {
		return nil, err
	}
	for _, d := range k.cfg.Devices {
		if d.Base == 0 || d.Size == 0 {
			continue // the synthetic "timer" entry carries no MMIO window
		}
		if err := devMap(d.Base, d.Size); err != nil {
			return nil, err
		}
	}

	// MMU enable sequence, spec §4.2's fixed order. TTBR1 reuses the same
	// root as TTBR0: this kernel is identity-mapped and never addresses the
	// canonical high half directly, so the "high-half kernel region" spec
	// §4.8 names is, in this tree, the same table loaded into both
	// registers rather than a distinct upper mapping — see DESIGN.md.
	asm.WriteTCR(tcrEncoded)
	asm.WriteMAIR(mairEncoded)
	asm.WriteTTBR0(uint64(kernelRoot))
	asm.WriteTTBR1(uint64(kernelRoot))
	asm.FlushTLBAll()
	asm.EnableMMUOnly()
	asm.DSB()
	asm.ISB()

	if _, ok := k.engine.Translate(kernelRoot, addr.VirtAddr(ramBase)); !ok {
		return nil, ErrMMUVerifyFailed
	}
	kfmt.Printf("MMU enabled: true\n")

	asm.EnableCaches()

	// Kernel heap: spec §4.3, ~1 MiB sourced from PFA frames.
	heapBase, err := k.allocRegion(kernelHeapSize / addr.PageSize)
	if err != nil {
		return nil, err
	}
	heapBytes := k.physBytes(heapBase, kernelHeapSize)
	k.heap, err = kheap.New(heapBytes)
	if err != nil {
		return nil, err
	}
	if err := k.demoHeapBox(); err != nil {
		return nil, err
	}

	k.pool = cdt.NewPool(cdtPoolCapacity)
	k.scheduler = sched.New()

	// Root CNode: a plain Go object from the start (nothing exists yet to
	// retype it from), given a one-frame nominal physical identity so the
	// rest of the kernel can address it the same way as every retyped
	// object.
	rootCNode, err := capability.NewCNode(rootCNodeSizeBits)
	if err != nil {
		return nil, err
	}
	k.rootCNodeAddr, err = k.allocRegion(1)
	if err != nil {
		return nil, err
	}
	k.cnodes[k.rootCNodeAddr] = rootCNode
	if _, err := k.pool.InsertRoot(rootCNode, DefaultSlots.CSpaceRoot, capability.Capability{
		Type: capability.TypeCNode, Object: k.rootCNodeAddr, Rights: capability.All, SizeBits: rootCNodeSizeBits,
	}); err != nil {
		return nil, err
	}

	// The root task's sole bootstrap Untyped covers every frame the PFA has
	// left after the heap: every further kernel object (VSpace, TCB,
	// endpoints, notifications, the root task's own pages) comes from
	// retyping it, matching spec §4.4's "retype is the sole means of
	// creating new objects" for everything past this one necessary
	// exception.
	untypedFrames := k.frames.FreeCount()
	untypedBytes := untypedFrames * addr.PageSize
	sizeBits := log2Floor(untypedBytes)
	roundedFrames := (uint64(1) << sizeBits) / addr.PageSize
	untypedBase, err := k.allocRegion(int(roundedFrames))
	if err != nil {
		return nil, err
	}
	k.rootUntyped = object.NewUntypedMemory(untypedBase, sizeBits)
	k.rootUntypedRef, err = k.pool.InsertRoot(rootCNode, untypedSlot, capability.Capability{
		Type: capability.TypeUntypedMemory, Object: untypedBase, Rights: capability.All, SizeBits: sizeBits,
	})
	if err != nil {
		return nil, err
	}

	vspaceBases, _, err := k.rootUntyped.Retype(k.pool, k.rootUntypedRef, k.mem, capability.TypeVSpace, 0, 1, rootCNode, DefaultSlots.VSpaceRoot)
	if err != nil {
		return nil, err
	}
	k.rootVSpaceAddr = vspaceBases[0]
	rootVSpace := object.NewVSpace(k.rootVSpaceAddr, k.engine)
	k.vspaces[k.rootVSpaceAddr] = rootVSpace

	tcbBases, _, err := k.rootUntyped.Retype(k.pool, k.rootUntypedRef, k.mem, capability.TypeTCB, 0, 1, rootCNode, DefaultSlots.TCB)
	if err != nil {
		return nil, err
	}
	k.rootTCBAddr = tcbBases[0]
	rootTCB := object.NewTCB(k.rootCNodeAddr, k.rootVSpaceAddr, addr.VirtAddr(0))
	rootTCB.Priority = rootPriority
	rootTCB.Slice = k.quantum
	k.tcbs[k.rootTCBAddr] = rootTCB

	if _, err := k.pool.InsertRoot(rootCNode, DefaultSlots.IrqControl, capability.Capability{
		Type: capability.TypeIrqControl, Object: 0, Rights: capability.All,
	}); err != nil {
		return nil, err
	}

	// Load the root task's ELF image.
	img, err := ParseELF(rootImage)
	if err != nil {
		return nil, err
	}
	if len(img.Segments) == 0 {
		return nil, ErrNoRootSegments
	}
	var highestVA addr.VirtAddr
	for _, seg := range img.Segments {
		flags := pte.UserRW
		if seg.Exec {
			flags = pte.UserRX
		}
		base := seg.VAddr.AlignDown(addr.PageSize)
		pageCount := int((seg.MemSize + (uint64(seg.VAddr) - uint64(base)) + addr.PageSize - 1) / addr.PageSize)
		for i := 0; i < pageCount; i++ {
			frameBases, _, err := k.rootUntyped.Retype(k.pool, k.rootUntypedRef, k.mem, capability.TypePage, 0, 1, rootCNode, 0)
			if err != nil {
				return nil, err
			}
			frame := frameBases[0]
			pageStart := uint64(i) * addr.PageSize
			if pageStart < seg.FileSize {
				n := seg.FileSize - pageStart
				if n > addr.PageSize {
					n = addr.PageSize
				}
				src := rootImage[seg.FileOffset+pageStart : seg.FileOffset+pageStart+n]
				dst := k.physBytes(frame, addr.PageSize)
				copy(dst, src)
			}
			va := base.Add(pageStart)
			if err := rootVSpace.Map(va, frame, addr.PageSize, flags); err != nil {
				return nil, err
			}
		}
		segEnd := seg.VAddr.Add(seg.MemSize)
		if segEnd > highestVA {
			highestVA = segEnd
		}
	}

	// Stack: spec §4.8, "≥64 KiB", placed just below the fixed BootInfo
	// page so neither region's placement is data-dependent on image size.
	stackTop := DefaultBootInfoVA.AlignDown(addr.PageSize)
	stackBase := addr.VirtAddr(uint64(stackTop) - rootStackSize)
	for off := uint64(0); off < rootStackSize; off += addr.PageSize {
		frameBases, _, err := k.rootUntyped.Retype(k.pool, k.rootUntypedRef, k.mem, capability.TypePage, 0, 1, rootCNode, 0)
		if err != nil {
			return nil, err
		}
		if err := rootVSpace.Map(stackBase.Add(off), frameBases[0], addr.PageSize, pte.UserRW); err != nil {
			return nil, err
		}
	}

	rootTCB.Ctx.SPEL0 = uint64(stackTop)
	rootTCB.Ctx.ELREL1 = uint64(img.Entry)
	rootTCB.Ctx.SPSREL1 = 0x3c0 // EL0t, IRQs unmasked (spec §4.5)
	rootTCB.Ctx.TTBR0 = k.rootVSpaceAddr

	// BootInfo: one page, mapped USER_RW (pte.Flags has no distinct
	// user-read-only combination; the "read-only" contract spec §6.3
	// describes is enforced by convention rather than an AP encoding in
	// this tree — see DESIGN.md).
	bi := &BootInfo{
		Platform: k.cfg.Board,
		RAMBase:  ramBase,
		RAMSize:  ramSize,
		Devices:  k.cfg.Devices,
		Untyped:  []UntypedDescriptor{{Base: untypedBase, SizeBits: sizeBits}},
		Slots:    DefaultSlots,
		UserVAFloor: func() addr.VirtAddr {
			floor := highestVA.AlignUp(addr.PageSize)
			if floor < stackTop.Add(addr.PageSize) {
				floor = stackTop.Add(addr.PageSize)
			}
			return floor
		}(),
	}
	k.nextMapVA = bi.UserVAFloor
	encoded := bi.Encode()
	if uint64(len(encoded)) > addr.PageSize {
		kernel.Panic(module, "BootInfo encoding exceeds one page")
	}
	biFrames, _, err := k.rootUntyped.Retype(k.pool, k.rootUntypedRef, k.mem, capability.TypePage, 0, 1, rootCNode, 0)
	if err != nil {
		return nil, err
	}
	copy(k.physBytes(biFrames[0], addr.PageSize), encoded)
	if err := rootVSpace.Map(DefaultBootInfoVA, biFrames[0], addr.PageSize, pte.UserRW); err != nil {
		return nil, err
	}

	// Devices: GIC and UART bring-up.
	k.gic = NewGIC(k.cfg.GICDistBase, k.cfg.GICCPUBase)
	k.gic.Init()
	k.gic.Enable(k.cfg.TimerIRQ)

	k.uart = NewUART(k.cfg.UARTBase)
	k.uart.Init()
	kfmt.Output = k.uart

	// Timer: spec §4.5, 5 ms tick.
	freq := asm.ReadCNTFRQ()
	if freq == 0 {
		freq = 62_500_000
	}
	ticksPer5ms := freq / 200
	asm.WriteTimerValue(ticksPer5ms, true)

	k.disp = trap.NewDispatcher(k.cfg.TimerIRQ, k.gic.Disable)
	k.registerSyscalls(rootTCB)

	trap.Active = k.disp
	trap.AckIRQ = k.gic.Acknowledge
	trap.EndIRQ = k.gic.EndOfInterrupt
	trap.Enqueue = k.scheduler.Enqueue
	trap.SelectNext = func() *object.TCB {
		if cur := trap.Current; cur != nil && cur.State() == object.Runnable {
			k.scheduler.Enqueue(cur)
		}
		return k.scheduler.SelectNext()
	}
	trap.OnTimerTick = func() {
		asm.WriteTimerValue(ticksPer5ms, true)
		if cur := trap.Current; cur != nil {
			if cur.Slice > 0 {
				cur.Slice--
			}
			if cur.Slice == 0 {
				cur.Slice = k.quantum
			}
		}
	}

	rootTCB.SetState(object.Runnable)
	rootTCB.SetState(object.Running)
	trap.Current = rootTCB

	asm.SetKernelStack(kernelStackTop())
	asm.EnableIRQs()

	// asm.Eret is documented as the trap epilogue's exclusively, never
	// called directly elsewhere — this first drop to EL0 is the one
	// deliberate exception: there is no prior trap frame to restore, X0-X30
	// are already zero (rootTCB.Ctx.X's zero value), and ELR/SPSR/SP_EL0
	// are programmed by hand immediately above, so the net effect matches
	// what the epilogue would do for a freshly-created, never-yet-run
	// thread.
	asm.WriteELR(rootTCB.Ctx.ELREL1)
	asm.WriteSPSR(rootTCB.Ctx.SPSREL1)
	asm.WriteSPEL0(rootTCB.Ctx.SPEL0)
	if rootTCB.Ctx.TTBR0 != addr.PhysAddr(asm.ReadTTBR0()) {
		asm.WriteTTBR0(uint64(rootTCB.Ctx.TTBR0))
		asm.FlushTLBAll()
	}
	asm.Eret()

	return bi, nil
}

// kernelStack is the static backing for SP_EL1: the stack the CPU switches
// to on every EL0->EL1 exception entry (asm.SetKernelStack's doc comment).
// A plain Go array works here because this kernel's "freestanding" code
// still runs under the Go runtime's memory model (see DESIGN.md on the
// kernel heap/CDT pool using make() rather than hand-carved arenas).
var kernelStack [32 * 1024]byte

func kernelStackTop() uint64 {
	return uint64(uintptr(unsafe.Pointer(&kernelStack[len(kernelStack)-1])))
}
