// Package cdt implements the Capability Derivation Tree: the per-object
// parent/child/sibling graph that tracks where every derived capability
// came from, so revocation can kill an entire subtree in one pass (spec
// §3, §4.4).
//
// Grounded in DESIGN.md's arena-plus-index resolution of the source's raw
// pointers: CapNodes live in a flat slice (the bump pool spec §4.3
// describes, sized ~4 MiB / ~73K nodes in the source) and parent/child/
// sibling links are uint32 indices into that slice, 1-based so the zero
// value means "no link" — every link is then a bounds-checked slice
// lookup instead of a pointer, and freeing is structurally impossible
// (matching the source's "no free list in v1").
package cdt

import (
	"github.com/coreos-arm64/capkernel/internal/capability"
	"github.com/coreos-arm64/capkernel/internal/kernel"
)

const module = "cdt"

// Ref is a 1-based index into a Pool's node arena; zero is the null
// reference.
type Ref uint32

// node is one CapNode: a full capability plus its position in the
// derivation tree, plus the slot it currently occupies (needed so Revoke
// and Delete can null the owning CNode slot without a second lookup
// structure).
type node struct {
	cap Capability

	parent      Ref
	firstChild  Ref
	nextSibling Ref

	ownerCNode *capability.CNode
	ownerSlot  uint32

	dead bool
}

// Capability is a local alias kept for readability; cdt works exclusively
// with capability.Capability values.
type Capability = capability.Capability

// Pool is the bump-allocated CapNode arena. It never frees individual
// nodes — spec §4.3: "this simplifies ownership reasoning and makes
// double-free structurally impossible at the cost of eventual
// exhaustion."
type Pool struct {
	nodes []node
}

var ErrExhausted = kernel.New(module, kernel.KindInsufficientMemory, "CDT bump pool exhausted")

// NewPool reserves capacity nodes. internal/boot sizes this at
// ~4 MiB / sizeof(CapNode) per spec §3.
func NewPool(capacity int) *Pool {
	p := &Pool{nodes: make([]node, 1, capacity+1)} // index 0 reserved as "null"
	return p
}

func (p *Pool) alloc() (Ref, error) {
	if len(p.nodes) >= cap(p.nodes) {
		return 0, ErrExhausted
	}
	p.nodes = append(p.nodes, node{})
	return Ref(len(p.nodes) - 1), nil
}

func (p *Pool) at(r Ref) *node {
	if r == 0 {
		return nil
	}
	return &p.nodes[r]
}

// Cap returns the capability currently held by ref, or the null
// capability if ref is invalid or has been revoked.
func (p *Pool) Cap(r Ref) Capability {
	n := p.at(r)
	if n == nil || n.dead {
		return Capability{}
	}
	return n.cap
}

// Live reports whether ref still designates a usable capability — false
// for the null ref and for anything killed by Revoke or Delete.
func (p *Pool) Live(r Ref) bool {
	n := p.at(r)
	return n != nil && !n.dead
}

// InsertRoot allocates a root CapNode (no parent) for cap and installs it
// into cnode's slot.
func (p *Pool) InsertRoot(cnode *capability.CNode, slot uint32, cap Capability) (Ref, error) {
	s, err := cnode.SlotAt(slot)
	if err != nil {
		return 0, err
	}
	ref, err := p.alloc()
	if err != nil {
		return 0, err
	}
	n := p.at(ref)
	n.cap = cap
	n.ownerCNode = cnode
	n.ownerSlot = slot
	s.SetNodeRef(uint32(ref))
	return ref, nil
}

// Derive allocates a child CapNode under parentRef, links it as the new
// first child of parentRef's sibling list (O(1) head insertion, spec
// §4.4), and installs it into dstCNode's slot.
func (p *Pool) Derive(parentRef Ref, dstCNode *capability.CNode, dstSlot uint32, newRights capability.Rights) (Ref, error) {
	parent := p.at(parentRef)
	if parent == nil || parent.dead {
		return 0, kernel.New(module, kernel.KindInvalidCapability, "derive from dead or null parent")
	}

	childCap, err := parent.cap.Derive(newRights)
	if err != nil {
		return 0, err
	}

	s, err := dstCNode.SlotAt(dstSlot)
	if err != nil {
		return 0, err
	}

	ref, err := p.alloc()
	if err != nil {
		return 0, err
	}
	// parent may have moved if alloc() reallocated the backing slice;
	// re-fetch it before mutating.
	parent = p.at(parentRef)

	n := p.at(ref)
	n.cap = childCap
	n.parent = parentRef
	n.ownerCNode = dstCNode
	n.ownerSlot = dstSlot
	n.nextSibling = parent.firstChild
	parent.firstChild = ref

	s.SetNodeRef(uint32(ref))
	return ref, nil
}

// Mint is Derive's badging counterpart for Endpoint/Notification caps.
func (p *Pool) Mint(parentRef Ref, dstCNode *capability.CNode, dstSlot uint32, badge uint64) (Ref, error) {
	parent := p.at(parentRef)
	if parent == nil || parent.dead {
		return 0, kernel.New(module, kernel.KindInvalidCapability, "mint from dead or null parent")
	}
	childCap, err := parent.cap.Mint(badge)
	if err != nil {
		return 0, err
	}
	s, err := dstCNode.SlotAt(dstSlot)
	if err != nil {
		return 0, err
	}
	ref, err := p.alloc()
	if err != nil {
		return 0, err
	}
	parent = p.at(parentRef)

	n := p.at(ref)
	n.cap = childCap
	n.parent = parentRef
	n.ownerCNode = dstCNode
	n.ownerSlot = dstSlot
	n.nextSibling = parent.firstChild
	parent.firstChild = ref

	s.SetNodeRef(uint32(ref))
	return ref, nil
}

// InsertChild links a brand-new capability (over a brand-new object, e.g.
// one just produced by UntypedMemory.Retype) as a child of parentRef, for
// revocation purposes only — unlike Derive, it does not restrict cap's
// rights to a subset of the parent's, because parentRef's object
// (UntypedMemory) and cap's object (the freshly retyped child) are
// different objects entirely; retype capabilities default to All (spec
// §4.4).
func (p *Pool) InsertChild(parentRef Ref, dstCNode *capability.CNode, dstSlot uint32, cap Capability) (Ref, error) {
	parent := p.at(parentRef)
	if parent == nil || parent.dead {
		return 0, kernel.New(module, kernel.KindInvalidCapability, "insert child under dead or null parent")
	}
	s, err := dstCNode.SlotAt(dstSlot)
	if err != nil {
		return 0, err
	}
	ref, err := p.alloc()
	if err != nil {
		return 0, err
	}
	parent = p.at(parentRef)

	n := p.at(ref)
	n.cap = cap
	n.parent = parentRef
	n.ownerCNode = dstCNode
	n.ownerSlot = dstSlot
	n.nextSibling = parent.firstChild
	parent.firstChild = ref

	s.SetNodeRef(uint32(ref))
	return ref, nil
}

// Revoke destroys every descendant of ref (depth-first), then nulls the
// owning slot of each. Spec's chosen semantics (§9 open question): a
// capability becomes InvalidCapability *immediately* at revoke time, not
// lazily on next use — Live(ref) reflects this the instant Revoke
// returns. ref itself survives revoke (its own capability is untouched);
// only its descendants are destroyed. Complexity is O(n) in descendants.
func (p *Pool) Revoke(ref Ref) error {
	n := p.at(ref)
	if n == nil {
		return kernel.New(module, kernel.KindInvalidCapability, "revoke of null reference")
	}
	child := n.firstChild
	n.firstChild = 0
	for child != 0 {
		next := p.at(child).nextSibling
		p.destroySubtree(child)
		child = next
	}
	return nil
}

func (p *Pool) destroySubtree(ref Ref) {
	n := p.at(ref)
	if n == nil || n.dead {
		return
	}
	child := n.firstChild
	for child != 0 {
		next := p.at(child).nextSibling
		p.destroySubtree(child)
		child = next
	}
	if n.ownerCNode != nil {
		if s, err := n.ownerCNode.SlotAt(n.ownerSlot); err == nil {
			s.Clear()
		}
	}
	n.dead = true
	n.firstChild = 0
}

// Delete removes a single capability. If ref is the root of a non-empty
// derivation subtree, Delete cascades — first revoking every descendant,
// then destroying ref itself (spec §4.4/§9: the source is inconsistent
// between reject-on-children and cascade; this implementation selects
// cascade).
func (p *Pool) Delete(ref Ref) error {
	n := p.at(ref)
	if n == nil || n.dead {
		return kernel.New(module, kernel.KindInvalidCapability, "delete of dead or null reference")
	}
	if err := p.Revoke(ref); err != nil {
		return err
	}
	if parent := p.at(n.parent); parent != nil {
		p.unlinkSibling(parent, ref)
	}
	if n.ownerCNode != nil {
		if s, err := n.ownerCNode.SlotAt(n.ownerSlot); err == nil {
			s.Clear()
		}
	}
	n.dead = true
	return nil
}

// NodeView is the read-only projection of one arena slot tools/memviz's
// tree renderer (and anything else walking the CDT for diagnostics, not
// for kernel logic) consumes — never mutated, never mixed into the hot
// derive/revoke path above.
type NodeView struct {
	Ref      Ref
	Parent   Ref
	Cap      Capability
	Children []Ref
	Dead     bool
}

// Walk visits every allocated node in the pool, live or dead, in arena
// order (ref 1..len(nodes)-1). Grounded in spec §4.2's debug_walk: both
// exist so a human (or a rendering tool) can see the kernel's internal
// graphs without the viewer needing to understand the arena's index
// scheme itself.
func (p *Pool) Walk(fn func(NodeView)) {
	for r := Ref(1); int(r) < len(p.nodes); r++ {
		n := &p.nodes[r]
		var children []Ref
		for c := n.firstChild; c != 0; c = p.at(c).nextSibling {
			children = append(children, c)
		}
		fn(NodeView{Ref: r, Parent: n.parent, Cap: n.cap, Children: children, Dead: n.dead})
	}
}

func (p *Pool) unlinkSibling(parent *node, target Ref) {
	if parent.firstChild == target {
		parent.firstChild = p.at(target).nextSibling
		return
	}
	cur := parent.firstChild
	for cur != 0 {
		n := p.at(cur)
		if n.nextSibling == target {
			n.nextSibling = p.at(target).nextSibling
			return
		}
		cur = n.nextSibling
	}
}
