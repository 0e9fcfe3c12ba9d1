// Package bus multiplexes CPU addresses onto RAM, the PPU's register
// file, the two controller ports and the cartridge, and drives the
// PPU/CPU clock at 3 PPU dots per CPU cycle, per
// https://www.nesdev.org/wiki/CPU_memory_map.
package bus

import (
	"context"

	"github.com/cdriehuys/nesgo/internal/cartridge"
	"github.com/cdriehuys/nesgo/internal/controller"
	"github.com/cdriehuys/nesgo/internal/mos6502"
	"github.com/cdriehuys/nesgo/internal/ppu"
)

const (
	ramMirrorEnd   = 0x1FFF
	ppuMirrorEnd   = 0x3FFF
	ioRegistersEnd = 0x401F
	cartridgeStart = 0x8000

	ctrl1Addr = 0x4016
	ctrl2Addr = 0x4017
	oamDMA    = 0x4014
)

// Bus wires the CPU, PPU, cartridge and controllers together and owns
// the 2KiB of console RAM none of those components hold themselves.
type Bus struct {
	cpu  *mos6502.CPU
	ppu  *ppu.PPU
	cart *cartridge.Cartridge

	pad1, pad2 *controller.Controller

	ram [0x800]uint8

	totalCycles uint64
	dmaCycles   int
}

func New(cart *cartridge.Cartridge) *Bus {
	b := &Bus{
		cart: cart,
		pad1: &controller.Controller{},
		pad2: &controller.Controller{},
	}
	b.cpu = mos6502.New(b)
	b.ppu = ppu.New(b)
	b.ppu.SetMirrorMode(uint8(cart.MirroringMode()))

	return b
}

func (b *Bus) CPU() *mos6502.CPU            { return b.cpu }
func (b *Bus) PPU() *ppu.PPU                { return b.ppu }
func (b *Bus) Pad1() *controller.Controller { return b.pad1 }
func (b *Bus) Pad2() *controller.Controller { return b.pad2 }

// TriggerNMI is called by the PPU at the start of vertical blank.
func (b *Bus) TriggerNMI() {
	b.cpu.RequestInterrupt(mos6502.InterruptNMI)
}

// ChrRead and ChrWrite are the PPU's view of the cartridge's CHR ROM/RAM.
func (b *Bus) ChrRead(addr uint16) uint8       { return b.cart.ChrRead(addr) }
func (b *Bus) ChrWrite(addr uint16, val uint8) { b.cart.ChrWrite(addr, val) }

// Read implements mos6502.Memory for the CPU.
func (b *Bus) Read(addr uint16) uint8 {
	switch {
	case addr <= ramMirrorEnd:
		// 0x0800-0x1FFF mirrors the 2KiB at 0x0000-0x07FF.
		return b.ram[addr&0x07FF]
	case addr <= ppuMirrorEnd:
		// PPU's 8 registers are mirrored every 8 bytes through 0x3FFF.
		return b.ppu.ReadReg(0x2000 | (addr & 0x0007))
	case addr == ctrl1Addr:
		return b.pad1.Read()
	case addr == ctrl2Addr:
		return b.pad2.Read()
	case addr <= ioRegistersEnd:
		return 0
	case addr >= cartridgeStart:
		return b.cart.PrgRead(addr)
	default:
		// 0x4020-0x7FFF: expansion ROM / SRAM, unsupported.
		return 0
	}
}

// Write implements mos6502.Memory for the CPU.
func (b *Bus) Write(addr uint16, val uint8) {
	switch {
	case addr <= ramMirrorEnd:
		b.ram[addr&0x07FF] = val
	case addr <= ppuMirrorEnd:
		b.ppu.WriteReg(0x2000|(addr&0x0007), val)
	case addr == oamDMA:
		b.doOAMDMA(val)
	case addr == ctrl1Addr:
		// Writing 0x4016 strobes both controller shift registers.
		b.pad1.WriteStrobe(val)
		b.pad2.WriteStrobe(val)
	case addr <= ioRegistersEnd:
		// APU and other unimplemented I/O registers: dropped.
	case addr >= cartridgeStart:
		b.cart.PrgWrite(addr, val)
	}
}

// doOAMDMA copies 256 bytes starting at val<<8 into OAM via OAMADDR and
// stalls the CPU for 513 cycles, or 514 if DMA begins on an odd CPU
// cycle, per https://www.nesdev.org/wiki/DMA.
func (b *Bus) doOAMDMA(val uint8) {
	base := uint16(val) << 8
	for i := 0; i < 256; i++ {
		b.ppu.WriteOAMByte(b.Read(base + uint16(i)))
	}

	cycles := 513
	if b.totalCycles%2 != 0 {
		cycles = 514
	}
	b.dmaCycles += cycles
}

// Step executes one CPU instruction, any OAM DMA stall it triggered,
// and advances the PPU 3 dots per CPU cycle consumed. Returns the
// total CPU cycles consumed, including the DMA stall.
func (b *Bus) Step() int {
	cycles := b.cpu.Step()
	b.advance(cycles)

	if b.dmaCycles > 0 {
		stall := b.dmaCycles
		b.dmaCycles = 0
		b.advance(stall)
		cycles += stall
	}

	return cycles
}

func (b *Bus) advance(cycles int) {
	b.totalCycles += uint64(cycles)
	for i := 0; i < cycles*3; i++ {
		b.ppu.Tick()
	}
}

// Run steps the bus until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			b.Step()
		}
	}
}

// Reset resets the CPU to its power-on vector.
func (b *Bus) Reset() {
	b.cpu.Reset()
}

// FrameDone reports whether the PPU completed a frame since the last call.
func (b *Bus) FrameDone() bool {
	return b.ppu.FrameDone()
}

// Pixels exposes the PPU's framebuffer for the screen driver to blit.
func (b *Bus) Pixels() *[ppu.NES_RES_WIDTH * ppu.NES_RES_HEIGHT]uint32 {
	return b.ppu.Pixels()
}

// Resolution returns the NES's fixed output resolution.
func (b *Bus) Resolution() (int, int) {
	return b.ppu.GetResolution()
}
