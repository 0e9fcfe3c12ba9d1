package bus

import (
	"testing"

	"github.com/cdriehuys/nesgo/internal/cartridge"
	"github.com/cdriehuys/nesgo/internal/ppu"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	prg := make([]byte, 16*1024)
	chr := make([]byte, 8*1024)
	cart, err := cartridge.New(prg, chr, 0, cartridge.MirrorHorizontal)
	if err != nil {
		t.Fatalf("cartridge.New: %v", err)
	}
	return New(cart)
}

// Invariant: for all a in [0, 0x2000), writing at a and reading at
// a^0x0800 returns the same value (RAM mirrored 4x through the region).
func TestBusMirroring(t *testing.T) {
	b := newTestBus(t)

	for i := 0; i < 10; i++ {
		b.Write(uint16(i), uint8(i+1))
	}

	for _, base := range []uint16{0, 0x800, 0x1000, 0x1800} {
		for i := 0; i < 10; i++ {
			if got := b.Read(base + uint16(i)); got != uint8(i+1) {
				t.Errorf("Read(%#04x) = %d, want %d", base+uint16(i), got, i+1)
			}
		}
	}
}

func TestPPURegistersMirroredEvery8Bytes(t *testing.T) {
	b := newTestBus(t)

	b.Write(0x2000, 0x80) // PPUCTRL, generate-NMI bit
	if got := b.Read(0x2002); got&0x80 != 0 {
		t.Errorf("PPUSTATUS should not reflect PPUCTRL bits")
	}
	b.Write(0x2008, 0x00) // mirrors 0x2000
	if b.ppu.FrameDone() {
		t.Errorf("unexpected frame completion from a register write")
	}

	b.Write(0x200B, 0x10) // mirrors OAMADDR
	b.Write(0x3FFC, 0xAB) // mirrors OAMDATA
	b.Write(0x2003, 0x10)
	if got := b.Read(0x2004); got != 0xAB {
		t.Errorf("Read(0x2004) = %#x, want 0xAB written through mirrored OAMADDR/OAMDATA", got)
	}
}

func TestControllerStrobeAndRead(t *testing.T) {
	b := newTestBus(t)

	b.pad1.SetState(0x01) // ButtonA
	b.Write(ctrl1Addr, 1) // strobe high: shift continuously tracks state
	b.Write(ctrl1Addr, 0) // strobe low: latch

	if got := b.Read(ctrl1Addr); got&0x01 == 0 {
		t.Errorf("first read of 0x4016 should return button A pressed")
	}
	if got := b.Read(ctrl1Addr); got&0x01 != 0 {
		t.Errorf("second read of 0x4016 should return button B (not pressed)")
	}
}

func TestPrgROMMappedAtCartridgeStart(t *testing.T) {
	prg := make([]byte, 16*1024)
	prg[0] = 0x42
	chr := make([]byte, 8*1024)
	cart, err := cartridge.New(prg, chr, 0, cartridge.MirrorHorizontal)
	if err != nil {
		t.Fatalf("cartridge.New: %v", err)
	}
	b := New(cart)

	if got := b.Read(0x8000); got != 0x42 {
		t.Errorf("Read(0x8000) = %#x, want 0x42", got)
	}
	if got := b.Read(0xC000); got != 0x42 {
		t.Errorf("Read(0xC000) = %#x, want mirrored 0x42 (16KiB image)", got)
	}
}

func TestUnmappedRegionsReadZero(t *testing.T) {
	b := newTestBus(t)
	if got := b.Read(0x4020); got != 0 {
		t.Errorf("Read(0x4020) = %#x, want 0", got)
	}
	if got := b.Read(0x6000); got != 0 {
		t.Errorf("Read(0x6000) = %#x, want 0", got)
	}
}

// Scenario: OAM DMA costs 513 or 514 CPU cycles and copies 256 bytes
// from CPU page (val<<8) into OAM.
func TestOAMDMACopiesPageAndStallsCPU(t *testing.T) {
	b := newTestBus(t)

	for i := 0; i < 256; i++ {
		b.Write(0x0200+uint16(i), uint8(i))
	}

	b.Write(oamDMA, 0x02)

	if b.dmaCycles != 513 && b.dmaCycles != 514 {
		t.Fatalf("dmaCycles = %d, want 513 or 514", b.dmaCycles)
	}

	b.cpu.LoadMem(0, []uint8{0xEA}) // NOP, so Step() executes a known instruction
	b.cpu.SetPC(0)
	cycles := b.Step()
	if cycles < 513+2 {
		t.Errorf("Step() cycles = %d, want at least NOP (2) + DMA stall (513)", cycles)
	}
	if b.dmaCycles != 0 {
		t.Errorf("dmaCycles should be drained after Step()")
	}
}

func TestChrReadWriteForwardedToCartridge(t *testing.T) {
	b := newTestBus(t)
	b.ChrWrite(0x0010, 0x55)
	if got := b.ChrRead(0x0010); got != 0x55 {
		t.Errorf("ChrRead(0x0010) = %#x, want 0x55", got)
	}
}

func TestTriggerNMIRequestsInterruptOnCPU(t *testing.T) {
	// PRG ROM ignores writes, so the NMI vector (0xFFFA, mirrored from
	// offset 0x3FFA of a 16KiB image) is placed in the image itself.
	prg := make([]byte, 16*1024)
	prg[0x3FFA], prg[0x3FFB] = 0x00, 0x90 // NMI vector -> 0x9000
	cart, err := cartridge.New(prg, make([]byte, 8*1024), 0, cartridge.MirrorHorizontal)
	if err != nil {
		t.Fatalf("cartridge.New: %v", err)
	}
	b := New(cart)
	b.cpu.LoadMem(0, []uint8{0xEA})
	b.cpu.SetPC(0)

	b.TriggerNMI()
	b.Step()

	if b.cpu.PC() != 0x9000 {
		t.Errorf("PC = %#04x, want 0x9000 after NMI is serviced", b.cpu.PC())
	}
}

func TestResolutionMatchesPPU(t *testing.T) {
	b := newTestBus(t)
	w, h := b.Resolution()
	if w != ppu.NES_RES_WIDTH || h != ppu.NES_RES_HEIGHT {
		t.Errorf("Resolution() = (%d, %d), want (%d, %d)", w, h, ppu.NES_RES_WIDTH, ppu.NES_RES_HEIGHT)
	}
}
