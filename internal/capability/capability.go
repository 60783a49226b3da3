// Package capability defines the unforgeable Capability token, its rights
// set, and the CNode capability-space substrate (spec §3, §4.4).
//
// Grounded in gopher-os-gopheros's kernel.Error-returning accessor style
// and, for the rights-as-bitmask shape, iansmith-mazarin's bitfield
// package (packed boolean/bitfield structs) — rights are kept as a plain
// bitmask rather than a bitfield-tagged struct because they are tested for
// subset inclusion far more often than packed/unpacked, and a raw mask
// makes that a single AND.
package capability

import (
	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/kernel"
)

const module = "capability"

// Type is the variant tag of a Capability.
type Type uint8

const (
	TypeNull Type = iota
	TypeUntypedMemory
	TypeCNode
	TypeTCB
	TypeEndpoint
	TypeNotification
	TypeVSpace
	TypePage
	TypePageTable
	TypeIrqControl
	TypeIrqHandler
)

var typeNames = [...]string{
	"Null", "UntypedMemory", "CNode", "TCB", "Endpoint",
	"Notification", "VSpace", "Page", "PageTable", "IrqControl", "IrqHandler",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Rights is a bitmask subset of {Read, Write, Grant, GrantReply}.
type Rights uint8

const (
	Read Rights = 1 << iota
	Write
	Grant
	GrantReply
)

// All is the full rights set, the default for a freshly retyped
// capability (spec §4.4).
const All = Read | Write | Grant | GrantReply

// Subset reports whether r is a subset of other — the rule enforced by
// every operation that mints a capability (spec §4.4: "Rights monotonicity
// is the security backbone").
func (r Rights) Subset(other Rights) bool { return r&^other == 0 }

// Capability is the fixed-size token every syscall checks before it
// touches a kernel object. Badge, Guard, and SizeBits are type-specific
// (spec §3): Badge for Endpoint/Notification, Guard for CNode, SizeBits
// for UntypedMemory and CNode.
type Capability struct {
	Type   Type
	Object addr.PhysAddr
	Rights Rights

	Badge    uint64
	Guard    uint32
	SizeBits uint8
}

// IsNull reports whether c is the null capability.
func (c Capability) IsNull() bool { return c.Type == TypeNull }

// Derive produces a capability over the same object with a reduced rights
// set. It is the sole place rights monotonicity is checked for plain
// derivation (badging goes through Mint instead); spec §4.4.
func (c Capability) Derive(newRights Rights) (Capability, error) {
	if c.IsNull() {
		return Capability{}, kernel.New(module, kernel.KindInvalidCapability, "cannot derive from null capability")
	}
	if !newRights.Subset(c.Rights) {
		return Capability{}, kernel.New(module, kernel.KindInsufficientRights, "derived rights exceed parent rights")
	}
	out := c
	out.Rights = newRights
	return out, nil
}

// Mint produces a badged capability over the same Endpoint or Notification
// object, otherwise identical to the parent (spec §4.4).
func (c Capability) Mint(badge uint64) (Capability, error) {
	if c.Type != TypeEndpoint && c.Type != TypeNotification {
		return Capability{}, kernel.New(module, kernel.KindInvalidArgument, "mint is only defined for Endpoint and Notification")
	}
	out := c
	out.Badge = badge
	return out, nil
}

// CPtr is a capability pointer: an index consumed top-bits-first at each
// CNode level, after stripping that level's guard.
type CPtr uint64

// Slot holds either nothing or a reference to a CDT node. The reference is
// an opaque index (cdt.Ref) rather than a pointer — see DESIGN.md's
// arena-plus-index note — but capability doesn't import cdt to avoid a
// cycle, so Slot stores the raw uint32 and cdt.Ref is defined as that same
// underlying type.
type Slot struct {
	node uint32 // 0 means empty; cdt assigns 1-based indices
}

// NodeRef returns the raw CDT node index held by the slot, and whether the
// slot is occupied.
func (s Slot) NodeRef() (uint32, bool) { return s.node, s.node != 0 }

// SetNodeRef occupies the slot with the given 1-based CDT node index.
func (s *Slot) SetNodeRef(ref uint32) { s.node = ref }

// Clear empties the slot.
func (s *Slot) Clear() { s.node = 0 }

// Empty reports whether the slot holds no capability.
func (s Slot) Empty() bool { return s.node == 0 }

// CNode is an array of 2^SizeBits capability slots (spec §3: SizeBits in
// [4,12], 16-4096 slots). GuardBits and Guard are the address-resolution
// guard Resolve strips and checks before indexing this CNode's own slots
// (spec §3, §4.4) — zero GuardBits (the default for NewCNode) means this
// CNode carries no guard, matching a flat, single-level capability space.
type CNode struct {
	SizeBits  uint8
	GuardBits uint8
	Guard     uint32
	Slots     []Slot
}

var (
	ErrBadSizeBits = kernel.New(module, kernel.KindInvalidArgument, "CNode size_bits out of range [4,12]")
	ErrSlotRange   = kernel.New(module, kernel.KindNotFound, "slot index out of range")
)

// NewCNode allocates a CNode with 2^sizeBits slots.
func NewCNode(sizeBits uint8) (*CNode, error) {
	if sizeBits < 4 || sizeBits > 12 {
		return nil, ErrBadSizeBits
	}
	return &CNode{SizeBits: sizeBits, Slots: make([]Slot, 1<<sizeBits)}, nil
}

// SetGuard configures the guard word Resolve must match before consuming
// this CNode's own index bits: guardBits of cptr, taken from the top of
// whatever remains at this level, must equal guard exactly, or Resolve
// reports a decode error (spec §3: "a guard word used in address
// resolution"; §4.4: "consuming size_bits top bits of CPtr... after
// stripping the guard").
func (c *CNode) SetGuard(guard uint32, guardBits uint8) {
	c.Guard = guard
	c.GuardBits = guardBits
}

// NumSlots returns 2^SizeBits.
func (c *CNode) NumSlots() int { return len(c.Slots) }

// SlotAt validates idx against NumSlots and returns a pointer to the slot.
func (c *CNode) SlotAt(idx uint32) (*Slot, error) {
	if int(idx) >= c.NumSlots() {
		return nil, ErrSlotRange
	}
	return &c.Slots[idx], nil
}

// Resolve walks a (CPtr, depth) pair starting at root, consuming
// SizeBits top bits of the remaining pointer at each level to index the
// next CNode, until depth bits have been consumed (spec §4.4). A guard
// mismatch, depth that doesn't divide evenly by the CNodes visited, or a
// slot that doesn't resolve to a further CNode before depth is exhausted
// is a decode error returned to userspace.
//
// Resolve only finds the final CNode and slot index; the caller (the
// syscall layer, via cdt) checks what kind of capability sits there.
func Resolve(root *CNode, cptr CPtr, depth uint8, lookupChildCNode func(Slot) (*CNode, bool)) (*CNode, uint32, error) {
	node := root
	remaining := uint64(cptr)
	bitsLeft := depth

	for {
		if bitsLeft < node.GuardBits+node.SizeBits {
			return nil, 0, kernel.New(module, kernel.KindInvalidArgument, "depth too small for CNode guard and size_bits")
		}

		if node.GuardBits > 0 {
			guardMask := (uint64(1) << node.GuardBits) - 1
			got := uint32((remaining >> (bitsLeft - node.GuardBits)) & guardMask)
			bitsLeft -= node.GuardBits
			if got != node.Guard {
				return nil, 0, kernel.New(module, kernel.KindInvalidCapability, "guard mismatch decoding CPtr")
			}
		}

		idx := uint32((remaining >> (bitsLeft - node.SizeBits)) & ((1 << node.SizeBits) - 1))
		bitsLeft -= node.SizeBits

		slot, err := node.SlotAt(idx)
		if err != nil {
			return nil, 0, err
		}

		if bitsLeft == 0 {
			return node, idx, nil
		}

		next, ok := lookupChildCNode(*slot)
		if !ok {
			return nil, 0, kernel.New(module, kernel.KindNotFound, "slot does not resolve to a CNode at required depth")
		}
		node = next
	}
}
