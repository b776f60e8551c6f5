// Package gvawalk walks guest paging structures to translate a guest-
// virtual address to a guest-physical address, across 32-bit,
// PAE, and long-mode formats with PSE/huge-page handling. Takes no
// locks, so it is safe to call with a vCPU lock held across an entry.
// Each page-table entry read allocates a small byte buffer.
package gvawalk

import (
	"github.com/shvisor/vcore/hal"
	"github.com/shvisor/vcore/verror"
)

// Level names how many page-table levels this walk resolves.
type Level int

const (
	LevelNone  Level = 0 // paging disabled
	Level32Bit Level = 2
	LevelPAE   Level = 3
	LevelLong  Level = 4
	LevelLA57  Level = 5
)

// Info mirrors the Rust GuestPageWalkInfo: everything the walker
// needs to know about the guest's current paging mode.
type Info struct {
	CR3             uint64
	Level           Level
	Width           int // bits per table entry address field: 32 or 64
	IsUserModeAccess bool
	IsWriteAccess    bool
	IsInstFetch      bool
	PSE              bool
	WP               bool
	NXE              bool
	IsSMAPOn         bool
	IsSMEPOn         bool
}

// physAddrMask strips non-address bits from a page-table entry,
// matching the Rust original's PHYS_ADDR_MASK: 0x000f_ffff_ffff_f000.
const physAddrMask = 0x000f_ffff_ffff_f000

// entryPresent, entryWrite, entryUser, entryPS, entryNX are the
// common x86-64/PAE page-table entry bit positions.
const (
	entryPresent = 1 << 0
	entryWrite   = 1 << 1
	entryUser    = 1 << 2
	entryPS      = 1 << 7
	entryNX      = 1 << 63
)

// p5Index..p1Index extract the 9-bit index for each long-mode paging
// level from a guest-virtual address, offsets 48/39/30/21/12 per the
// Rust original.
func p5Index(gva uint64) uint64 { return (gva >> 48) & 0x1FF }
func p4Index(gva uint64) uint64 { return (gva >> 39) & 0x1FF }
func p3Index(gva uint64) uint64 { return (gva >> 30) & 0x1FF }
func p2Index(gva uint64) uint64 { return (gva >> 21) & 0x1FF }
func p1Index(gva uint64) uint64 { return (gva >> 12) & 0x1FF }

// index32 extracts the 10-bit index for 32-bit (non-PAE) paging,
// offsets 22 and 12.
func index32Dir(gva uint32) uint32  { return (gva >> 22) & 0x3FF }
func index32Page(gva uint32) uint32 { return (gva >> 12) & 0x3FF }

// Translate walks the guest page tables described by info to resolve
// gva, reading table pages through ept (guest-phys -> host-phys) and
// mem (host-phys -> host bytes).
func Translate(mem hal.GuestMemoryReader, ept hal.EPTTranslator, info Info, gva hal.GuestVirtAddr) (hal.GuestPhysAddr, hal.MappingFlags, hal.PageSize, error) {
	if info.Level == LevelNone {
		return hal.GuestPhysAddr(gva), hal.FlagPresent | hal.FlagWrite | hal.FlagUser, hal.Page4K, nil
	}

	if info.Level == Level32Bit {
		return translate32(mem, ept, info, uint32(gva))
	}

	return translateLong(mem, ept, info, uint64(gva))
}

func readEntry(mem hal.GuestMemoryReader, ept hal.EPTTranslator, tableGPA hal.GuestPhysAddr, index uint64, width int) (uint64, error) {
	_, _, _, ok := ept.GuestPhysToHostPhys(tableGPA)
	if !ok {
		return 0, verror.NotMapped
	}

	buf := make([]byte, width/8)
	if err := mem.ReadGuestPhys(hal.GuestPhysAddr(uint64(tableGPA)+index*uint64(width/8)), buf); err != nil {
		return 0, verror.BadAddress
	}

	var v uint64
	for i := len(buf) - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}

	return v, nil
}

func flagsFromEntry(entry uint64, isWrite, isUser bool) hal.MappingFlags {
	var f hal.MappingFlags

	if entry&entryPresent != 0 {
		f |= hal.FlagPresent
	}

	if entry&entryWrite != 0 {
		f |= hal.FlagWrite
	}

	if entry&entryUser != 0 {
		f |= hal.FlagUser
	}

	if entry&entryNX != 0 {
		f |= hal.FlagNoExecute
	}

	return f
}

func translateLong(mem hal.GuestMemoryReader, ept hal.EPTTranslator, info Info, gva uint64) (hal.GuestPhysAddr, hal.MappingFlags, hal.PageSize, error) {
	tableGPA := hal.GuestPhysAddr(info.CR3 & physAddrMask)

	var indices []uint64

	switch info.Level {
	case LevelLA57:
		indices = append(indices, p5Index(gva), p4Index(gva), p3Index(gva), p2Index(gva))
	case LevelPAE:
		// CR3 addresses the PDPT (p3 table) directly for a 3-level PAE
		// walk: there is no p4 hop.
		indices = append(indices, p3Index(gva), p2Index(gva))
	default:
		indices = append(indices, p4Index(gva), p3Index(gva), p2Index(gva))
	}

	var entry uint64

	for depth, idx := range indices {
		e, err := readEntry(mem, ept, tableGPA, idx, 64)
		if err != nil {
			return 0, 0, 0, err
		}

		entry = e

		if entry&entryPresent == 0 {
			return 0, 0, 0, verror.NotMapped
		}

		// PS bit at the PDPT (depth pointing at level-3) or PD
		// (level-2) entries short-circuits with a huge page.
		isPDPTOrPD := depth == len(indices)-2 || depth == len(indices)-1
		if info.PSE && isPDPTOrPD && entry&entryPS != 0 {
			pageSize := hal.Page2M
			shift := uint64(21)

			if depth == len(indices)-2 {
				pageSize = hal.Page1G
				shift = 30
			}

			base := entry & physAddrMask &^ ((1 << shift) - 1)
			offset := gva & ((1 << shift) - 1)
			flags := flagsFromEntry(entry, info.IsWriteAccess, info.IsUserModeAccess) | hal.FlagHuge

			return hal.GuestPhysAddr(base | offset), flags, pageSize, nil
		}

		tableGPA = hal.GuestPhysAddr(entry & physAddrMask)
	}

	e, err := readEntry(mem, ept, tableGPA, p1Index(gva), 64)
	if err != nil {
		return 0, 0, 0, err
	}

	if e&entryPresent == 0 {
		return 0, 0, 0, verror.NotMapped
	}

	base := e & physAddrMask
	offset := gva & 0xFFF
	flags := flagsFromEntry(e, info.IsWriteAccess, info.IsUserModeAccess)

	return hal.GuestPhysAddr(base | offset), flags, hal.Page4K, nil
}

func translate32(mem hal.GuestMemoryReader, ept hal.EPTTranslator, info Info, gva uint32) (hal.GuestPhysAddr, hal.MappingFlags, hal.PageSize, error) {
	dirGPA := hal.GuestPhysAddr(info.CR3 &^ 0xFFF)

	dirEntry, err := readEntry(mem, ept, dirGPA, uint64(index32Dir(gva)), 32)
	if err != nil {
		return 0, 0, 0, err
	}

	if dirEntry&entryPresent == 0 {
		return 0, 0, 0, verror.NotMapped
	}

	if info.PSE && dirEntry&entryPS != 0 {
		base := uint64(dirEntry) &^ 0x3FFFFF
		offset := uint64(gva) & 0x3FFFFF
		flags := flagsFromEntry(uint64(dirEntry), info.IsWriteAccess, info.IsUserModeAccess) | hal.FlagHuge

		return hal.GuestPhysAddr(base | offset), flags, hal.Page4M, nil
	}

	tableGPA := hal.GuestPhysAddr(uint64(dirEntry) &^ 0xFFF)

	pageEntry, err := readEntry(mem, ept, tableGPA, uint64(index32Page(gva)), 32)
	if err != nil {
		return 0, 0, 0, err
	}

	if pageEntry&entryPresent == 0 {
		return 0, 0, 0, verror.NotMapped
	}

	base := uint64(pageEntry) &^ 0xFFF
	offset := uint64(gva) & 0xFFF
	flags := flagsFromEntry(uint64(pageEntry), info.IsWriteAccess, info.IsUserModeAccess)

	return hal.GuestPhysAddr(base | offset), flags, hal.Page4K, nil
}
