// Package object implements the three kernel objects minted directly by
// retype — UntypedMemory, VSpace, and TCB (spec §3, §4.4, §4.5). Endpoint
// and Notification live in internal/ipc since their state (wait queues)
// is inseparable from the scheduler they block against.
package object

import (
	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/capability"
	"github.com/coreos-arm64/capkernel/internal/cdt"
	"github.com/coreos-arm64/capkernel/internal/kernel"
	"github.com/coreos-arm64/capkernel/internal/pte"
)

const module = "object"

var (
	ErrRegionExhausted = kernel.New(module, kernel.KindInsufficientMemory, "retype would exceed untyped region")
	ErrUnknownType     = kernel.New(module, kernel.KindInvalidArgument, "unknown object type for retype")
)

// objectSize returns the storage size in bytes of one instance of t. CNode
// and nested UntypedMemory are variable-sized, so their size is driven by
// sizeBits rather than this table.
func objectSize(t capability.Type, sizeBits uint8) (uint64, error) {
	switch t {
	case capability.TypeCNode:
		return uint64(1) << sizeBits * slotSize, nil
	case capability.TypeUntypedMemory:
		return uint64(1) << sizeBits, nil
	case capability.TypeTCB:
		return tcbStorageSize, nil
	case capability.TypeVSpace:
		return addr.PageSize, nil // one root table frame
	case capability.TypeEndpoint, capability.TypeNotification:
		return endpointStorageSize, nil
	case capability.TypePage:
		return addr.PageSize, nil
	case capability.TypePageTable:
		return addr.PageSize, nil
	case capability.TypeIrqControl, capability.TypeIrqHandler:
		return irqObjectSize, nil
	default:
		return 0, ErrUnknownType
	}
}

const (
	slotSize             = 8 // one capability.Slot, matched to cdt.Ref width
	tcbStorageSize       = 512
	endpointStorageSize  = 64
	irqObjectSize        = 16
)

// UntypedMemory is a power-of-two-sized, aligned physical region from
// which every other kernel object is minted (spec §3).
type UntypedMemory struct {
	Base      addr.PhysAddr
	SizeBits  uint8
	Watermark uint64
}

// NewUntypedMemory wraps an already-reserved, power-of-two-sized region.
// Callers (internal/boot) are responsible for reserving Base..Base+2^SizeBits
// from the PFA before constructing this.
func NewUntypedMemory(base addr.PhysAddr, sizeBits uint8) *UntypedMemory {
	return &UntypedMemory{Base: base, SizeBits: sizeBits}
}

// Size returns the region's total size in bytes.
func (u *UntypedMemory) Size() uint64 { return uint64(1) << u.SizeBits }

// Remaining returns the unallocated tail of the region.
func (u *UntypedMemory) Remaining() uint64 { return u.Size() - u.Watermark }

// Retype bumps the watermark by count objects of targetType (sizeBits is
// only meaningful for TypeCNode and TypeUntypedMemory; pass 0 otherwise),
// zero-initializes the storage via mem, links a child CapNode under
// parentRef for each new object, and installs each into a consecutive
// slot of dest starting at destSlot. It returns the physical base address
// of each newly retyped object's storage (the caller turns that address
// into a typed Go value — NewVSpace, NewTCB, ipc.NewEndpoint, etc.) and
// the CDT references of the installed capabilities.
//
// Retype fails without mutating state if the request does not fit in the
// untyped's remaining region (spec §4.4: "fails if sizeof(target_type) *
// count does not fit in S - W").
func (u *UntypedMemory) Retype(
	pool *cdt.Pool,
	parentRef cdt.Ref,
	mem pte.Memory,
	targetType capability.Type,
	sizeBits uint8,
	count int,
	dest *capability.CNode,
	destSlot uint32,
) ([]addr.PhysAddr, []cdt.Ref, error) {
	if count <= 0 {
		return nil, nil, kernel.New(module, kernel.KindInvalidArgument, "retype count must be positive")
	}
	objSize, err := objectSize(targetType, sizeBits)
	if err != nil {
		return nil, nil, err
	}

	// Start on a multiple of the object size so page-sized objects land on
	// page boundaries even after smaller objects moved the watermark.
	start := u.Watermark
	if rem := start % objSize; rem != 0 {
		start += objSize - rem
	}
	total := objSize * uint64(count)
	if start > u.Size() || total > u.Size()-start {
		return nil, nil, ErrRegionExhausted
	}

	bases := make([]addr.PhysAddr, count)
	refs := make([]cdt.Ref, count)

	offset := start
	for i := 0; i < count; i++ {
		base := u.Base.Add(offset)
		mem.Zero(base, objSize)

		cap := capability.Capability{
			Type:   targetType,
			Object: base,
			Rights: capability.All,
		}
		if targetType == capability.TypeCNode || targetType == capability.TypeUntypedMemory {
			cap.SizeBits = sizeBits
		}

		ref, err := pool.InsertChild(parentRef, dest, destSlot+uint32(i), cap)
		if err != nil {
			return nil, nil, err
		}

		bases[i] = base
		refs[i] = ref
		offset += objSize
	}

	u.Watermark = offset
	return bases, refs, nil
}
