// Package segment wraps kvmhal.Segment with constructors for the
// fixed access-rights patterns a "fresh start" real-mode setup
// requires.
package segment

import "github.com/shvisor/vcore/kvmhal"

// Entry is an x86 segment descriptor cache entry.
type Entry = kvmhal.Segment

// flat builds a base-0, limit-0xFFFF, 16-bit real-mode segment with
// the given access-rights byte decomposed into kvmhal.Segment's
// bitfields.
func flat(selector uint16, typ uint8, s, dpl, present, db, l, g, avl uint8) Entry {
	return Entry{
		Base:     0,
		Limit:    0xFFFF,
		Selector: selector,
		Typ:      typ,
		Present:  present,
		DPL:      dpl,
		DB:       db,
		S:        s,
		L:        l,
		G:        g,
		AVL:      avl,
	}
}

// CodeSegment builds a real-mode execute/read code segment, AR byte
// 0x9B (present, DPL0, code, accessed+readable).
func CodeSegment(selector uint16) Entry {
	return flat(selector, 0xB, 1, 0, 1, 0, 0, 0, 0)
}

// DataSegment builds a real-mode read/write data segment, AR byte 0x93.
func DataSegment(selector uint16) Entry {
	return flat(selector, 0x3, 1, 0, 1, 0, 0, 0, 0)
}

// TSSSegment builds a real-mode 32-bit busy TSS descriptor, AR byte 0x8B.
func TSSSegment(selector uint16) Entry {
	return flat(selector, 0xB, 0, 0, 1, 0, 0, 0, 0)
}

// LDTSegment builds a real-mode LDT descriptor, AR byte 0x82.
func LDTSegment(selector uint16) Entry {
	return flat(selector, 0x2, 0, 0, 1, 0, 0, 0, 0)
}
