// iNES file parsing per https://www.nesdev.org/wiki/INES, grounded on
// the teacher's nesrom/header.go header layout and nesrom/nesrom.go
// loader.
package cartridge

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
)

const (
	trainerSize = 512
	headerSize  = 16
)

// flags6 bit identifiers (byte 6 of the iNES header)
const (
	flag6Mirroring   = 1 << 0 // 0 = horizontal, 1 = vertical
	flag6BatteryRAM  = 1 << 1
	flag6Trainer     = 1 << 2
	flag6FourScreen  = 1 << 3
	flag6MapperLoNib = 0xF0
)

// flags7 bit identifiers (byte 7 of the iNES header)
const (
	flag7MapperHiNib = 0xF0
)

var magic = [4]byte{'N', 'E', 'S', 0x1A}

// ErrBadHeader is returned when the first four header bytes don't
// match the iNES magic number, per spec.md §7's "Fatal, abort:
// malformed iNES header".
var ErrBadHeader = errors.New("cartridge: not an iNES file")

// ErrTruncated is returned when the file is shorter than the header
// declares, per spec.md §7's "Fatal, abort: PRG image truncated".
var ErrTruncated = errors.New("cartridge: truncated ROM image")

type header struct {
	prgBanks uint8 // 16KiB units
	chrBanks uint8 // 8KiB units
	flags6   uint8
	flags7   uint8
}

func parseHeader(b [headerSize]byte) (header, error) {
	if b[0] != magic[0] || b[1] != magic[1] || b[2] != magic[2] || b[3] != magic[3] {
		return header{}, ErrBadHeader
	}
	return header{
		prgBanks: b[4],
		chrBanks: b[5],
		flags6:   b[6],
		flags7:   b[7],
	}, nil
}

func (h header) hasTrainer() bool {
	return h.flags6&flag6Trainer != 0
}

func (h header) mirroring() Mirroring {
	if h.flags6&flag6Mirroring != 0 {
		return MirrorVertical
	}
	return MirrorHorizontal
}

// mapperID combines the upper nibble of flags7 with the upper nibble
// of flags6, per https://www.nesdev.org/wiki/INES#Flags_6.
func (h header) mapperID() uint8 {
	return (h.flags7 & flag7MapperHiNib) | (h.flags6 >> 4)
}

// LoadINES reads and parses the .nes file at path, returning a ready
// Cartridge. Only mapper 0 is fully supported; other mapper IDs are
// accepted with a warning and mapper-0 addressing semantics, per
// spec.md §7's "Warn, continue: unsupported mapper".
func LoadINES(path string) (*Cartridge, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cartridge: opening %q: %w", path, err)
	}
	defer f.Close()

	var hb [headerSize]byte
	if _, err := io.ReadFull(f, hb[:]); err != nil {
		return nil, fmt.Errorf("cartridge: reading header of %q: %w", path, asTruncated(err))
	}

	h, err := parseHeader(hb)
	if err != nil {
		return nil, fmt.Errorf("cartridge: %q: %w", path, err)
	}

	if h.hasTrainer() {
		trainer := make([]byte, trainerSize)
		if _, err := io.ReadFull(f, trainer); err != nil {
			return nil, fmt.Errorf("cartridge: reading trainer of %q: %w", path, asTruncated(err))
		}
	}

	prg := make([]byte, int(h.prgBanks)*prgBlockSize)
	if _, err := io.ReadFull(f, prg); err != nil {
		return nil, fmt.Errorf("cartridge: reading PRG ROM of %q: %w", path, asTruncated(err))
	}

	var chr []byte
	if h.chrBanks > 0 {
		chr = make([]byte, int(h.chrBanks)*chrBlockSize)
		if _, err := io.ReadFull(f, chr); err != nil {
			return nil, fmt.Errorf("cartridge: reading CHR ROM of %q: %w", path, asTruncated(err))
		}
	}

	mapperID := h.mapperID()
	if mapperID != 0 {
		glog.Warningf("cartridge: %q declares mapper %d, only mapper 0 (NROM) is supported; attempting mapper-0 semantics anyway", path, mapperID)
	}

	return New(prg, chr, mapperID, h.mirroring())
}

// asTruncated maps the short-read errors io.ReadFull produces to
// ErrTruncated so callers can errors.Is(err, ErrTruncated).
func asTruncated(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ErrTruncated
	}
	return err
}
