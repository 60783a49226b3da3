package boot

import (
	"testing"

	"github.com/coreos-arm64/capkernel/internal/addr"
	"github.com/coreos-arm64/capkernel/internal/platform"
)

func sampleBootInfo() *BootInfo {
	return &BootInfo{
		Platform: platform.BoardQEMUVirt,
		RAMBase:  addr.PhysAddr(0x40000000),
		RAMSize:  128 << 20,
		Devices: []platform.DeviceRegion{
			{Name: "uart0", Base: addr.PhysAddr(0x09000000), Size: 0x1000, IRQ: 33},
			{Name: "timer", Base: 0, Size: 0, IRQ: 27},
		},
		Untyped: []UntypedDescriptor{
			{Base: addr.PhysAddr(0x41000000), SizeBits: 26},
		},
		Slots:       DefaultSlots,
		UserVAFloor: addr.VirtAddr(0x8000_0000),
	}
}

func TestBootInfoEncodeDecodeRoundTrips(t *testing.T) {
	want := sampleBootInfo()
	got, err := Decode(want.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Platform != want.Platform || got.RAMBase != want.RAMBase || got.RAMSize != want.RAMSize {
		t.Fatalf("header mismatch: got %+v want %+v", got, want)
	}
	if len(got.Devices) != len(want.Devices) {
		t.Fatalf("device count mismatch: got %d want %d", len(got.Devices), len(want.Devices))
	}
	for i := range want.Devices {
		if got.Devices[i] != want.Devices[i] {
			t.Fatalf("device %d mismatch: got %+v want %+v", i, got.Devices[i], want.Devices[i])
		}
	}
	if len(got.Untyped) != 1 || got.Untyped[0] != want.Untyped[0] {
		t.Fatalf("untyped mismatch: got %+v", got.Untyped)
	}
	if got.Slots != want.Slots {
		t.Fatalf("slots mismatch: got %+v want %+v", got.Slots, want.Slots)
	}
	if got.UserVAFloor != want.UserVAFloor {
		t.Fatalf("VA floor mismatch: got %#x want %#x", got.UserVAFloor, want.UserVAFloor)
	}
}

func TestBootInfoDecodeRejectsTruncatedBuffer(t *testing.T) {
	full := sampleBootInfo().Encode()
	if _, err := Decode(full[:len(full)-4]); err == nil {
		t.Fatal("expected a truncated buffer to fail to decode")
	}
}

func TestDefaultSlotsMatchSpecNumbers(t *testing.T) {
	if DefaultSlots.CSpaceRoot != 1 || DefaultSlots.VSpaceRoot != 2 || DefaultSlots.TCB != 3 || DefaultSlots.IrqControl != 4 {
		t.Fatalf("unexpected default slot assignment: %+v", DefaultSlots)
	}
}
