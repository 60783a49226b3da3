package platform

import "testing"

func TestQEMUVirtHasSaneConfig(t *testing.T) {
	c := QEMUVirt()
	if c.Board != BoardQEMUVirt {
		t.Fatalf("expected BoardQEMUVirt, got %v", c.Board)
	}
	if c.RAMBase == 0 || c.RAMSize == 0 {
		t.Fatal("expected non-zero RAM extent")
	}
	if c.UARTBase == 0 {
		t.Fatal("expected non-zero UART base")
	}
	if c.GICDistBase == 0 || c.GICCPUBase == 0 {
		t.Fatal("expected non-zero GIC MMIO windows")
	}
	if c.TimerIRQ == 0 {
		t.Fatal("expected a non-zero timer IRQ")
	}
	found := false
	for _, d := range c.Devices {
		if d.Name == "uart0" && d.Base == c.UARTBase {
			found = true
		}
	}
	if !found {
		t.Fatal("expected uart0 device region to match UARTBase")
	}
}

func TestRPi4HasSaneConfig(t *testing.T) {
	c := RPi4()
	if c.Board != BoardRPi4 {
		t.Fatalf("expected BoardRPi4, got %v", c.Board)
	}
	if c.RAMSize == 0 {
		t.Fatal("expected non-zero RAM size")
	}
	if c.UARTBase == 0 {
		t.Fatal("expected non-zero UART base")
	}
}

func TestQEMUVirtAndRPi4HaveDistinctAddressSpaces(t *testing.T) {
	q, r := QEMUVirt(), RPi4()
	if q.UARTBase == r.UARTBase {
		t.Fatal("expected the two boards to use different UART MMIO addresses")
	}
	if q.GICDistBase == r.GICDistBase {
		t.Fatal("expected the two boards to use different GIC distributor addresses")
	}
}

func TestForSelectsByBoard(t *testing.T) {
	if For(BoardQEMUVirt).Board != BoardQEMUVirt {
		t.Fatal("expected For(BoardQEMUVirt) to return a QEMU virt config")
	}
	if For(BoardRPi4).Board != BoardRPi4 {
		t.Fatal("expected For(BoardRPi4) to return an RPi4 config")
	}
}

func TestBoardStringNames(t *testing.T) {
	if BoardQEMUVirt.String() != "qemu-virt" {
		t.Fatalf("unexpected String(): %q", BoardQEMUVirt.String())
	}
	if BoardRPi4.String() != "rpi4" {
		t.Fatalf("unexpected String(): %q", BoardRPi4.String())
	}
}
