package capability

import "testing"

func TestDeriveIsMonotonic(t *testing.T) {
	parent := Capability{Type: TypeNotification, Object: 0x1000, Rights: All}

	child, err := parent.Derive(Read | Write)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if child.Type != parent.Type || child.Object != parent.Object {
		t.Fatalf("Derive changed type/object identity: %+v", child)
	}
	if child.Rights != Read|Write {
		t.Fatalf("expected Read|Write, got %v", child.Rights)
	}

	if _, err := parent.Derive(Read | Write | Grant | GrantReply | 0x80); err == nil {
		t.Fatal("expected error deriving rights not present in an unrelated bit")
	}
}

func TestDeriveRejectsWidening(t *testing.T) {
	parent := Capability{Type: TypeEndpoint, Object: 0x2000, Rights: Read}
	if _, err := parent.Derive(Read | Write); err == nil {
		t.Fatal("expected error widening rights beyond parent")
	}
}

func TestDeriveThenDeriveIsNotCumulative(t *testing.T) {
	// Spec §8: derive(c,r).then_derive(r) yields the same rights as
	// derive(c,r) — derivation is monotonic, not cumulative.
	root := Capability{Type: TypeNotification, Object: 0x3000, Rights: All}

	once, err := root.Derive(Read)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	twice, err := once.Derive(Read)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if twice.Rights != once.Rights {
		t.Fatalf("expected re-deriving the same rights to be a no-op, got %v vs %v", twice.Rights, once.Rights)
	}
}

func TestMintOnlyEndpointAndNotification(t *testing.T) {
	notif := Capability{Type: TypeNotification, Object: 0x4000, Rights: All}
	badged, err := notif.Mint(0xBEEF)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if badged.Badge != 0xBEEF {
		t.Fatalf("expected badge 0xBEEF, got %#x", badged.Badge)
	}

	tcb := Capability{Type: TypeTCB, Object: 0x5000, Rights: All}
	if _, err := tcb.Mint(1); err == nil {
		t.Fatal("expected error minting a badge onto a TCB capability")
	}
}

func TestCNodeSlotBounds(t *testing.T) {
	cn, err := NewCNode(4) // 16 slots
	if err != nil {
		t.Fatalf("NewCNode: %v", err)
	}
	if cn.NumSlots() != 16 {
		t.Fatalf("expected 16 slots, got %d", cn.NumSlots())
	}
	if _, err := cn.SlotAt(15); err != nil {
		t.Fatalf("SlotAt(15): %v", err)
	}
	if _, err := cn.SlotAt(16); err != ErrSlotRange {
		t.Fatalf("expected ErrSlotRange, got %v", err)
	}
}

func TestNewCNodeRejectsBadSizeBits(t *testing.T) {
	if _, err := NewCNode(3); err != ErrBadSizeBits {
		t.Fatalf("expected ErrBadSizeBits for size_bits=3, got %v", err)
	}
	if _, err := NewCNode(13); err != ErrBadSizeBits {
		t.Fatalf("expected ErrBadSizeBits for size_bits=13, got %v", err)
	}
}

func TestResolveSingleLevel(t *testing.T) {
	cn, _ := NewCNode(4) // 16 slots, depth 4
	noChildren := func(Slot) (*CNode, bool) { return nil, false }

	node, idx, err := Resolve(cn, CPtr(5), 4, noChildren)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if node != cn || idx != 5 {
		t.Fatalf("expected (cn, 5), got (%p, %d)", node, idx)
	}
}

func TestResolveStripsMatchingGuard(t *testing.T) {
	cn, _ := NewCNode(4) // 16 slots, size_bits 4
	cn.SetGuard(0x2, 2)  // top 2 bits of the remaining CPtr must read 0b10
	noChildren := func(Slot) (*CNode, bool) { return nil, false }

	// depth 6: 2 guard bits (0b10) + 4 index bits (slot 5).
	cptr := CPtr(0b10<<4 | 5)
	node, idx, err := Resolve(cn, cptr, 6, noChildren)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if node != cn || idx != 5 {
		t.Fatalf("expected (cn, 5), got (%p, %d)", node, idx)
	}
}

func TestResolveRejectsGuardMismatch(t *testing.T) {
	cn, _ := NewCNode(4)
	cn.SetGuard(0x2, 2)
	noChildren := func(Slot) (*CNode, bool) { return nil, false }

	// Same shape as above but the top 2 bits read 0b01, not the configured 0b10.
	cptr := CPtr(0b01<<4 | 5)
	if _, _, err := Resolve(cn, cptr, 6, noChildren); err == nil {
		t.Fatal("expected a guard mismatch to be rejected as a decode error")
	}
}

func TestResolveTwoLevels(t *testing.T) {
	root, _ := NewCNode(4)  // 16 slots
	child, _ := NewCNode(4) // 16 slots

	childSlot, err := root.SlotAt(3)
	if err != nil {
		t.Fatalf("SlotAt: %v", err)
	}
	childSlot.SetNodeRef(1)

	lookup := func(s Slot) (*CNode, bool) {
		if ref, ok := s.NodeRef(); ok && ref == 1 {
			return child, true
		}
		return nil, false
	}

	// depth 8: top 4 bits select slot 3 in root, bottom 4 select slot 7 in child.
	cptr := CPtr(3<<4 | 7)
	node, idx, err := Resolve(root, cptr, 8, lookup)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if node != child || idx != 7 {
		t.Fatalf("expected (child, 7), got (%p, %d)", node, idx)
	}
}
