package boot

import (
	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/capability"
	"github.com/coreos-arm64/capkernel/internal/cdt"
	"github.com/coreos-arm64/capkernel/internal/ipc"
	"github.com/coreos-arm64/capkernel/internal/kernel"
	"github.com/coreos-arm64/capkernel/internal/kfmt"
	"github.com/coreos-arm64/capkernel/internal/object"
	"github.com/coreos-arm64/capkernel/internal/pte"
	"github.com/coreos-arm64/capkernel/internal/trap"
)

var (
	ErrNoCapSpace   = kernel.New(module, kernel.KindInvalidState, "capability space has no free slot")
	ErrWrongCapType = kernel.New(module, kernel.KindInvalidCapability, "capability is not the type this syscall requires")
	ErrUnknownObject = kernel.New(module, kernel.KindNotFound, "capability's object has no live kernel registration")
)

// cnodeOf, vspaceOf look a thread's capability space and address space up
// by the physical handle its TCB carries.
func (k *Kernel) cnodeOf(t *object.TCB) *capability.CNode  { return k.cnodes[t.CNode] }
func (k *Kernel) vspaceOf(t *object.TCB) *object.VSpace    { return k.vspaces[t.VSpace] }

// firstFreeSlot scans cn for an empty slot, the simplest possible
// allocation-within-a-flat-CNode policy — spec names no allocator for this
// beyond "typically 256 slots", so a linear scan is what a first
// implementation reaches for (mirrors the PFA's own lowest-clear-bit scan
// in internal/pfa).
func firstFreeSlot(cn *capability.CNode) (uint32, error) {
	for i := 0; i < cn.NumSlots(); i++ {
		s, _ := cn.SlotAt(uint32(i))
		if s.Empty() {
			return uint32(i), nil
		}
	}
	return 0, ErrNoCapSpace
}

// resolveCapRef finds the CDT reference and capability named by cptr in
// t's capability space. The root task's CNode (and every CNode this kernel
// currently constructs) is a single flat level, so depth always equals the
// CNode's own SizeBits and capability.Resolve never needs to descend into
// a child CNode — the lookup callback is wired for that case anyway so a
// deeper CSpace can be introduced later without touching call sites.
func (k *Kernel) resolveCapRef(t *object.TCB, cptr uint64) (cdt.Ref, capability.Capability, error) {
	cn := k.cnodeOf(t)
	if cn == nil {
		return 0, capability.Capability{}, kernel.New(module, kernel.KindInvalidCapability, "caller has no capability space")
	}
	_, slotIdx, err := capability.Resolve(cn, capability.CPtr(cptr), cn.SizeBits, func(capability.Slot) (*capability.CNode, bool) {
		return nil, false
	})
	if err != nil {
		return 0, capability.Capability{}, err
	}
	slot, err := cn.SlotAt(slotIdx)
	if err != nil {
		return 0, capability.Capability{}, err
	}
	raw, ok := slot.NodeRef()
	if !ok {
		return 0, capability.Capability{}, kernel.New(module, kernel.KindInvalidCapability, "empty capability slot")
	}
	ref := cdt.Ref(raw)
	if !k.pool.Live(ref) {
		return 0, capability.Capability{}, kernel.New(module, kernel.KindInvalidCapability, "capability slot is dead")
	}
	return ref, k.pool.Cap(ref), nil
}

// wake enqueues a TCB an IPC or notification operation just moved to
// Runnable. internal/ipc has no run-queue of its own to enqueue onto, so
// every Endpoint/Notification call that can unblock a second party hands
// that party back here (spec §8's run-queue invariant: a Runnable TCB
// must be enqueued somewhere, or SelectNext can never pick it again).
// t is nil whenever the operation only blocked its own caller.
func (k *Kernel) wake(t *object.TCB) {
	if t != nil {
		k.scheduler.Enqueue(t)
	}
}

// registerObject constructs and registers the live Go value backing a
// freshly retyped object, keyed by the physical handle Retype returned —
// the same step internal/boot's own bootstrap CNode/VSpace/TCB went
// through by hand, generalized for sys_cap_allocate (untyped.go's Retype
// doc: "the caller turns that address into a typed Go value").
func (k *Kernel) registerObject(t capability.Type, base addr.PhysAddr, sizeBits uint8) {
	switch t {
	case capability.TypeVSpace:
		k.vspaces[base] = object.NewVSpace(base, k.engine)
	case capability.TypeTCB:
		k.tcbs[base] = object.NewTCB(0, 0, 0)
	case capability.TypeCNode:
		if cn, err := capability.NewCNode(sizeBits); err == nil {
			k.cnodes[base] = cn
		}
	case capability.TypeEndpoint:
		k.endpoints[base] = ipc.NewEndpoint()
	case capability.TypeNotification:
		k.notifications[base] = ipc.NewNotification()
	case capability.TypeUntypedMemory:
		k.untypeds[base] = object.NewUntypedMemory(base, sizeBits)
	}
}

// registerSyscalls installs every syscall this kernel implements (spec
// §4.7 plus the Endpoint and IRQ-binding extensions trap/syscall.go
// already documents). rootTCB is unused directly but kept as a parameter
// to make the registration call site self-documenting about what thread
// is about to run first.
func (k *Kernel) registerSyscalls(rootTCB *object.TCB) {
	d := k.disp

	d.Register(trap.SysYield, func(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
		return 0, nil // trapCommon's voluntaryYield check does the actual reschedule
	})

	d.Register(trap.SysMemoryAllocate, k.sysMemoryAllocate)
	d.Register(trap.SysMemoryMap, k.sysMemoryMap)
	d.Register(trap.SysMemoryUnmap, k.sysMemoryUnmap)
	d.Register(trap.SysProcessCreate, k.sysProcessCreate)
	d.Register(trap.SysCapAllocate, k.sysCapAllocate)
	d.Register(trap.SysCapRevoke, k.sysCapRevoke)
	d.Register(trap.SysNotificationCreate, k.sysNotificationCreate)
	d.Register(trap.SysSignal, k.sysSignal)
	d.Register(trap.SysWait, k.sysWait)
	d.Register(trap.SysPoll, k.sysPoll)
	d.Register(trap.SysMemoryMapInto, k.sysMemoryMapInto)
	d.Register(trap.SysCapInsertInto, k.sysCapInsertInto)
	d.Register(trap.SysIrqHandlerSetNotify, k.sysIrqHandlerSetNotify)
	d.Register(trap.SysEndpointCreate, k.sysEndpointCreate)
	d.Register(trap.SysSend, k.sysSend)
	d.Register(trap.SysRecv, k.sysRecv)
	d.Register(trap.SysCall, k.sysCall)
	d.Register(trap.SysReply, k.sysReply)

	d.Register(trap.SysDebugPrint, k.sysDebugPrint)
}

func (k *Kernel) sysMemoryAllocate(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	size := args[0]
	pages := (size + addr.PageSize - 1) / addr.PageSize
	if pages == 0 {
		pages = 1
	}
	cn := k.cnodeOf(caller)
	var first addr.PhysAddr
	for i := uint64(0); i < pages; i++ {
		slot, err := firstFreeSlot(cn)
		if err != nil {
			return 0, err
		}
		bases, _, err := k.rootUntyped.Retype(k.pool, k.rootUntypedRef, k.mem, capability.TypePage, 0, 1, cn, slot)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			first = bases[0]
		}
	}
	return uint64(first), nil
}

func (k *Kernel) sysMemoryMap(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	phys := addr.PhysAddr(args[0])
	size := args[1]
	flags := flagsFromBits(args[2])

	vs := k.vspaceOf(caller)
	if vs == nil {
		return 0, ErrUnknownObject
	}
	pages := (size + addr.PageSize - 1) / addr.PageSize
	va := k.nextMapVA.AlignUp(addr.PageSize)
	for i := uint64(0); i < pages; i++ {
		if err := vs.Map(va.Add(i*addr.PageSize), phys.Add(i*addr.PageSize), addr.PageSize, flags); err != nil {
			return 0, err
		}
	}
	k.nextMapVA = va.Add(pages * addr.PageSize)
	return uint64(va), nil
}

func (k *Kernel) sysMemoryUnmap(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	vs := k.vspaceOf(caller)
	if vs == nil {
		return 0, ErrUnknownObject
	}
	if err := vs.Unmap(addr.VirtAddr(args[0]), args[1]); err != nil {
		return 0, err
	}
	return 0, nil
}

// sysProcessCreate builds a new thread around an already-allocated VSpace
// and CNode (spec §6.1's representative argument layout: entry, stack,
// pt_root, cspace_root, code_phys, code_vaddr, code_size, stack_phys,
// priority, capabilities). The caller is expected to have produced
// pt_root/cspace_root itself via sys_cap_allocate first.
func (k *Kernel) sysProcessCreate(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	entry := args[0]
	stack := args[1]
	ptRoot := addr.PhysAddr(args[2])
	cspaceRoot := addr.PhysAddr(args[3])
	codePhys := addr.PhysAddr(args[4])
	codeVaddr := addr.VirtAddr(args[5])
	codeSize := args[6]
	stackPhys := addr.PhysAddr(args[7])

	vs := k.vspaces[ptRoot]
	cn := k.cnodes[cspaceRoot]
	if vs == nil || cn == nil {
		return 0, ErrUnknownObject
	}

	codePages := (codeSize + addr.PageSize - 1) / addr.PageSize
	for i := uint64(0); i < codePages; i++ {
		if err := vs.Map(codeVaddr.Add(i*addr.PageSize), codePhys.Add(i*addr.PageSize), addr.PageSize, pte.UserRX); err != nil {
			return 0, err
		}
	}
	stackPages := uint64(rootStackSize / addr.PageSize)
	stackBase := addr.VirtAddr(stack - rootStackSize)
	for i := uint64(0); i < stackPages; i++ {
		if err := vs.Map(stackBase.Add(i*addr.PageSize), stackPhys.Add(i*addr.PageSize), addr.PageSize, pte.UserRW); err != nil {
			return 0, err
		}
	}

	slot, err := firstFreeSlot(cn)
	if err != nil {
		return 0, err
	}
	bases, _, err := k.rootUntyped.Retype(k.pool, k.rootUntypedRef, k.mem, capability.TypeTCB, 0, 1, cn, slot)
	if err != nil {
		return 0, err
	}

	child := object.NewTCB(cspaceRoot, ptRoot, 0)
	child.Priority = priority
	child.Slice = k.quantum
	child.Caps = object.CapMask(capabilities)
	child.Ctx.ELREL1 = entry
	child.Ctx.SPEL0 = stack
	child.Ctx.SPSREL1 = 0x3c0
	child.Ctx.TTBR0 = ptRoot

	k.tcbs[bases[0]] = child
	child.SetState(object.Runnable)
	k.scheduler.Enqueue(child)

	return uint64(bases[0]), nil
}

func (k *Kernel) sysCapAllocate(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	_, utCap, err := k.resolveCapRef(caller, args[0])
	if err != nil {
		return 0, err
	}
	if utCap.Type != capability.TypeUntypedMemory {
		return 0, ErrWrongCapType
	}
	ut := k.untypeds[utCap.Object]
	if ut == nil {
		return 0, ErrUnknownObject
	}
	utRef, _, err := k.resolveCapRef(caller, args[0])
	if err != nil {
		return 0, err
	}

	targetType := capability.Type(args[1])
	sizeBits := uint8(args[2])
	count := int(args[3])
	destSlot := uint32(args[4])

	cn := k.cnodeOf(caller)
	bases, _, err := ut.Retype(k.pool, utRef, k.mem, targetType, sizeBits, count, cn, destSlot)
	if err != nil {
		return 0, err
	}
	for _, base := range bases {
		k.registerObject(targetType, base, sizeBits)
	}
	return uint64(bases[0]), nil
}

func (k *Kernel) sysCapRevoke(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	ref, _, err := k.resolveCapRef(caller, args[0])
	if err != nil {
		return 0, err
	}
	if err := k.pool.Revoke(ref); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysNotificationCreate(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	cn := k.cnodeOf(caller)
	slot, err := firstFreeSlot(cn)
	if err != nil {
		return 0, err
	}
	bases, _, err := k.rootUntyped.Retype(k.pool, k.rootUntypedRef, k.mem, capability.TypeNotification, 0, 1, cn, slot)
	if err != nil {
		return 0, err
	}
	k.notifications[bases[0]] = ipc.NewNotification()
	return uint64(slot), nil
}

func (k *Kernel) sysSignal(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	_, cap, err := k.resolveCapRef(caller, args[0])
	if err != nil {
		return 0, err
	}
	if cap.Type != capability.TypeNotification {
		return 0, ErrWrongCapType
	}
	n := k.notifications[cap.Object]
	if n == nil {
		return 0, ErrUnknownObject
	}
	k.wake(n.Signal(args[1]))
	return 0, nil
}

func (k *Kernel) sysWait(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	_, cap, err := k.resolveCapRef(caller, args[0])
	if err != nil {
		return 0, err
	}
	if cap.Type != capability.TypeNotification {
		return 0, ErrWrongCapType
	}
	n := k.notifications[cap.Object]
	if n == nil {
		return 0, ErrUnknownObject
	}
	word, ok := n.Wait(caller)
	if !ok {
		return 0, nil // caller is now BlockedOnNotification; loadFrame delivers the word on wake
	}
	return word, nil
}

func (k *Kernel) sysPoll(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	_, cap, err := k.resolveCapRef(caller, args[0])
	if err != nil {
		return 0, err
	}
	if cap.Type != capability.TypeNotification {
		return 0, ErrWrongCapType
	}
	n := k.notifications[cap.Object]
	if n == nil {
		return 0, ErrUnknownObject
	}
	return n.Poll(), nil
}

func (k *Kernel) sysMemoryMapInto(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	_, cap, err := k.resolveCapRef(caller, args[0])
	if err != nil {
		return 0, err
	}
	if cap.Type != capability.TypeTCB {
		return 0, ErrWrongCapType
	}
	target := k.tcbs[cap.Object]
	if target == nil {
		return 0, ErrUnknownObject
	}
	vs := k.vspaceOf(target)
	if vs == nil {
		return 0, ErrUnknownObject
	}
	phys := addr.PhysAddr(args[1])
	vaddr := addr.VirtAddr(args[2])
	size := args[3]
	flags := flagsFromBits(args[4])
	pages := (size + addr.PageSize - 1) / addr.PageSize
	for i := uint64(0); i < pages; i++ {
		if err := vs.Map(vaddr.Add(i*addr.PageSize), phys.Add(i*addr.PageSize), addr.PageSize, flags); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

func (k *Kernel) sysCapInsertInto(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	_, pidCap, err := k.resolveCapRef(caller, args[0])
	if err != nil {
		return 0, err
	}
	if pidCap.Type != capability.TypeTCB {
		return 0, ErrWrongCapType
	}
	target := k.tcbs[pidCap.Object]
	if target == nil {
		return 0, ErrUnknownObject
	}
	targetCNode := k.cnodes[target.CNode]
	if targetCNode == nil {
		return 0, ErrUnknownObject
	}

	newCap := capability.Capability{
		Type:   capability.Type(args[2]),
		Object: addr.PhysAddr(args[3]),
		Rights: capability.All,
	}
	if _, err := k.pool.InsertRoot(targetCNode, uint32(args[1]), newCap); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysIrqHandlerSetNotify(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	_, cap, err := k.resolveCapRef(caller, args[1])
	if err != nil {
		return 0, err
	}
	if cap.Type != capability.TypeNotification {
		return 0, ErrWrongCapType
	}
	n := k.notifications[cap.Object]
	if n == nil {
		return 0, ErrUnknownObject
	}
	irq := uint32(args[0])
	k.disp.BindIRQNotification(irq, n)
	k.gic.Enable(irq) // also serves as the driver's ack-and-rearm call on a refire
	return 0, nil
}

func (k *Kernel) sysEndpointCreate(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	cn := k.cnodeOf(caller)
	slot, err := firstFreeSlot(cn)
	if err != nil {
		return 0, err
	}
	bases, _, err := k.rootUntyped.Retype(k.pool, k.rootUntypedRef, k.mem, capability.TypeEndpoint, 0, 1, cn, slot)
	if err != nil {
		return 0, err
	}
	k.endpoints[bases[0]] = ipc.NewEndpoint()
	return uint64(slot), nil
}

func (k *Kernel) resolveEndpoint(caller *object.TCB, cptr uint64) (*ipc.Endpoint, error) {
	_, cap, err := k.resolveCapRef(caller, cptr)
	if err != nil {
		return nil, err
	}
	if cap.Type != capability.TypeEndpoint {
		return nil, ErrWrongCapType
	}
	ep := k.endpoints[cap.Object]
	if ep == nil {
		return nil, ErrUnknownObject
	}
	return ep, nil
}

func (k *Kernel) sysSend(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	ep, err := k.resolveEndpoint(caller, args[0])
	if err != nil {
		return 0, err
	}
	k.wake(ep.Send(caller, ipc.Message{Words: []uint64{args[1]}}))
	return 0, nil
}

func (k *Kernel) sysRecv(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	ep, err := k.resolveEndpoint(caller, args[0])
	if err != nil {
		return 0, err
	}
	msg, ok, woken := ep.Recv(caller)
	k.wake(woken)
	if !ok {
		return 0, nil // caller now BlockedOnReceive; loadFrame delivers the message on wake
	}
	if len(msg.Words) == 0 {
		return 0, nil
	}
	return msg.Words[0], nil
}

func (k *Kernel) sysCall(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	ep, err := k.resolveEndpoint(caller, args[0])
	if err != nil {
		return 0, err
	}
	_, woken := ep.Call(caller, ipc.Message{Words: []uint64{args[1]}})
	k.wake(woken) // caller always blocks on the reply; see ipc.Endpoint.Call
	return 0, nil
}

func (k *Kernel) sysReply(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	ep, err := k.resolveEndpoint(caller, args[0])
	if err != nil {
		return 0, err
	}
	ok, woken := ep.Reply(caller, ipc.Message{Words: []uint64{args[1]}})
	if !ok {
		return 0, kernel.New(module, kernel.KindInvalidState, "reply with no outstanding call")
	}
	k.wake(woken)
	return 0, nil
}

func (k *Kernel) sysDebugPrint(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error) {
	vs := k.vspaceOf(caller)
	if vs == nil {
		return 0, ErrUnknownObject
	}
	va := addr.VirtAddr(args[0])
	remaining := args[1]
	for remaining > 0 {
		pa, ok := vs.Translate(va)
		if !ok {
			break
		}
		n := addr.PageSize - va.Offset()
		if uint64(n) > remaining {
			n = remaining
		}
		for _, b := range k.physBytes(pa, n) {
			if kfmt.Output != nil {
				kfmt.Output.WriteByte(b)
			}
		}
		va = va.Add(n)
		remaining -= n
	}
	return 0, nil
}

func flagsFromBits(bits uint64) pte.Flags {
	const (
		bitR = 1 << 0
		bitW = 1 << 1
		bitX = 1 << 2
	)
	f := pte.UserRW
	if bits&bitX != 0 {
		f = pte.UserRX
	}
	f.PXN = true
	f.UXN = bits&bitX == 0
	return f
}
