package gvawalk

import (
	"encoding/binary"
	"testing"

	"github.com/shvisor/vcore/hal"
)

// flatMem is a byte-addressable guest-physical address space used to
// build small page-table fixtures; it also serves as its own
// EPTTranslator since these tests never exercise a real second-level
// translation, only presence.
type flatMem []byte

func (m flatMem) ReadGuestPhys(addr hal.GuestPhysAddr, buf []byte) error {
	copy(buf, m[addr:])

	return nil
}

func (m flatMem) GuestPhysToHostPhys(addr hal.GuestPhysAddr) (hal.HostPhysAddr, hal.MappingFlags, hal.PageSize, bool) {
	return hal.HostPhysAddr(addr), hal.FlagPresent, hal.Page4K, true
}

func TestTranslateNoPagingIsIdentity(t *testing.T) {
	t.Parallel()

	info := Info{Level: LevelNone}

	gpa, flags, size, err := Translate(nil, nil, info, hal.GuestVirtAddr(0xdead000))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if gpa != 0xdead000 {
		t.Errorf("gpa = %#x, want identity 0xdead000", gpa)
	}

	if !flags.Has(hal.FlagPresent) || !flags.Has(hal.FlagWrite) {
		t.Errorf("flags = %#x, want present+write", flags)
	}

	if size != hal.Page4K {
		t.Errorf("size = %v, want Page4K", size)
	}
}

func TestTranslateLongMode4KPage(t *testing.T) {
	t.Parallel()

	const (
		pml4 = 0x1000
		pdpt = 0x2000
		pd   = 0x3000
		pt   = 0x4000
		page = 0x5000
	)

	mem := make(flatMem, 0x6000)
	put := func(tableGPA uint64, index uint64, next uint64) {
		binary.LittleEndian.PutUint64(mem[tableGPA+index*8:], next|0x7) // present|write|user
	}

	put(pml4, 0, pdpt)
	put(pdpt, 0, pd)
	put(pd, 0, pt)
	put(pt, 0, page)

	info := Info{CR3: pml4, Level: LevelLong, Width: 64, IsWriteAccess: true, IsUserModeAccess: true}

	gpa, flags, size, err := Translate(mem, mem, info, hal.GuestVirtAddr(0))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if gpa != page {
		t.Errorf("gpa = %#x, want %#x", gpa, uint64(page))
	}

	if !flags.Has(hal.FlagPresent) || !flags.Has(hal.FlagWrite) || !flags.Has(hal.FlagUser) {
		t.Errorf("flags = %#x, want present+write+user", flags)
	}

	if size != hal.Page4K {
		t.Errorf("size = %v, want Page4K", size)
	}
}

func TestTranslateLongModeNotPresentFails(t *testing.T) {
	t.Parallel()

	mem := make(flatMem, 0x2000)
	// PML4[0] left zero: not present.

	info := Info{CR3: 0x1000, Level: LevelLong, Width: 64}

	if _, _, _, err := Translate(mem, mem, info, hal.GuestVirtAddr(0)); err == nil {
		t.Fatal("Translate through an empty PML4 entry: got nil error, want NotMapped")
	}
}

func TestTranslate32BitNonPAE(t *testing.T) {
	t.Parallel()

	const (
		dir  = 0x1000
		pt   = 0x2000
		page = 0x3000
	)

	mem := make(flatMem, 0x4000)
	binary.LittleEndian.PutUint32(mem[dir:], pt|0x7)
	binary.LittleEndian.PutUint32(mem[pt:], page|0x7)

	info := Info{CR3: dir, Level: Level32Bit, Width: 32, IsWriteAccess: true, IsUserModeAccess: true}

	gpa, flags, size, err := Translate(mem, mem, info, hal.GuestVirtAddr(0))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if gpa != page {
		t.Errorf("gpa = %#x, want %#x", gpa, uint64(page))
	}

	if !flags.Has(hal.FlagPresent) {
		t.Errorf("flags = %#x, want present", flags)
	}

	if size != hal.Page4K {
		t.Errorf("size = %v, want Page4K", size)
	}
}

func TestTranslate32BitPSEHugePage(t *testing.T) {
	t.Parallel()

	const dir = 0x1000

	mem := make(flatMem, 0x2000)
	// PS bit (1<<7) set, base 0x400000 (4 MiB aligned).
	binary.LittleEndian.PutUint32(mem[dir:], 0x400000|0x7|(1<<7))

	info := Info{CR3: dir, Level: Level32Bit, Width: 32, PSE: true}

	gpa, flags, size, err := Translate(mem, mem, info, hal.GuestVirtAddr(0x1234))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if gpa != 0x400000+0x1234 {
		t.Errorf("gpa = %#x, want %#x", gpa, uint64(0x400000+0x1234))
	}

	if !flags.Has(hal.FlagHuge) {
		t.Error("flags missing FlagHuge for a PSE 4 MiB page")
	}

	if size != hal.Page4M {
		t.Errorf("size = %v, want Page4M", size)
	}
}

func TestTranslatePAESkipsP4Hop(t *testing.T) {
	t.Parallel()

	const (
		pdpt = 0x1000
		pd   = 0x2000
		pt   = 0x3000
		page = 0x4000
	)

	mem := make(flatMem, 0x5000)
	put := func(tableGPA uint64, index uint64, next uint64) {
		binary.LittleEndian.PutUint64(mem[tableGPA+index*8:], next|0x7) // present|write|user
	}

	// CR3 addresses the PDPT directly; there is no PML4 to walk through.
	put(pdpt, 0, pd)
	put(pd, 0, pt)
	put(pt, 0, page)

	info := Info{CR3: pdpt, Level: LevelPAE, Width: 64, IsWriteAccess: true, IsUserModeAccess: true}

	gpa, flags, size, err := Translate(mem, mem, info, hal.GuestVirtAddr(0))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if gpa != page {
		t.Errorf("gpa = %#x, want %#x", gpa, uint64(page))
	}

	if !flags.Has(hal.FlagPresent) || !flags.Has(hal.FlagWrite) || !flags.Has(hal.FlagUser) {
		t.Errorf("flags = %#x, want present+write+user", flags)
	}

	if size != hal.Page4K {
		t.Errorf("size = %v, want Page4K", size)
	}
}
