package trap

import "github.com/coreos-arm64/capkernel/internal/object"

// Number identifies one syscall in the authoritative table (spec §4.7).
type Number uint64

const (
	SysYield                   Number = 0x01
	SysMemoryAllocate          Number = 0x11
	SysMemoryMap               Number = 0x12
	SysMemoryUnmap             Number = 0x13
	SysProcessCreate           Number = 0x14
	SysCapAllocate             Number = 0x15
	SysCapRevoke               Number = 0x16
	SysNotificationCreate      Number = 0x17
	SysSignal                  Number = 0x18
	SysWait                    Number = 0x19
	SysPoll                    Number = 0x1A
	SysMemoryMapInto           Number = 0x1B
	SysCapInsertInto           Number = 0x1C
	SysIrqHandlerSetNotify     Number = 0x1D // extension, not in the base syscall table

	// The base table (spec §4.7) lists its syscalls as "representative
	// entries" and never assigns numbers to the four Endpoint operations
	// §4.6 describes in full (send/recv/call/reply) even though scenario 3
	// of the testable properties exercises them directly. These extend the
	// table the same way SysIrqHandlerSetNotify already does.
	SysEndpointCreate Number = 0x1E
	SysSend           Number = 0x1F
	SysRecv           Number = 0x20
	SysCall           Number = 0x21
	SysReply          Number = 0x22

	SysDebugPrint Number = 0x1001
)

// coarseGroups is the authoritative table's "coarse capability" column,
// keyed by syscall number. sys_yield and sys_debug_print require nothing.
var coarseGroups = map[Number]object.CapMask{
	SysYield:               0,
	SysMemoryAllocate:      object.CapMemory,
	SysMemoryMap:           object.CapMemory,
	SysMemoryUnmap:         object.CapMemory,
	SysProcessCreate:       object.CapProcess,
	SysCapAllocate:         object.CapCaps,
	SysCapRevoke:           object.CapCaps,
	SysNotificationCreate:  object.CapIPC,
	SysSignal:              object.CapIPC,
	SysWait:                object.CapIPC,
	SysPoll:                object.CapIPC,
	SysMemoryMapInto:       object.CapMemory | object.CapProcess,
	SysCapInsertInto:       object.CapCaps | object.CapProcess,
	SysIrqHandlerSetNotify: object.CapCaps | object.CapIPC,
	SysEndpointCreate:      object.CapIPC,
	SysSend:                object.CapIPC,
	SysRecv:                object.CapIPC,
	SysCall:                object.CapIPC,
	SysReply:               object.CapIPC,
	SysDebugPrint:          0,
}

// Handler runs one syscall's body. caller's Caps have already been
// checked against coarseGroups[num] by the time a Handler runs. args are
// x0-x7 from the trap frame; priority and capabilities are x9 and x10,
// used only by sys_process_create (spec §4.7).
type Handler func(caller *object.TCB, args [8]uint64, priority uint8, capabilities uint64) (uint64, error)
