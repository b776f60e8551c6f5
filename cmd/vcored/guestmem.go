package main

import (
	"errors"
	"unsafe"

	"github.com/shvisor/vcore/hal"
	"github.com/shvisor/vcore/kvmhal"
)

// flatGuestMemory is the minimal second-level (EPT/NPT) translator
// and guest-memory reader cmd/vcored needs to run anything: nested/
// second-level page-table construction and guest-physical<->host-
// physical lookup is an external collaborator's job (hal.EPTTranslator),
// not the core's, so this is that collaborator. It maps one flat,
// identity guest address space backed by one KVM user-memory-region
// slot.
type flatGuestMemory struct {
	buf []byte
}

var errGuestAddrOutOfRange = errors.New("vcored: guest address out of range")

func newFlatGuestMemory(vmFd uintptr, size int) (*flatGuestMemory, error) {
	buf, err := kvmhal.AllocAnonMemory(size)
	if err != nil {
		return nil, err
	}

	region := &kvmhal.UserspaceMemoryRegion{
		Slot:          0,
		GuestPhysAddr: 0,
		MemorySize:    uint64(size),
		UserspaceAddr: uint64(uintptrOf(buf)),
	}

	if err := kvmhal.SetUserMemoryRegion(vmFd, region); err != nil {
		return nil, err
	}

	return &flatGuestMemory{buf: buf}, nil
}

// LoadImage copies a flat real-mode image to guest-physical address 0,
// the entry point every vcpu.Setup "fresh start" boots at.
func (g *flatGuestMemory) LoadImage(image []byte) error {
	if len(image) > len(g.buf) {
		return errGuestAddrOutOfRange
	}

	copy(g.buf, image)

	return nil
}

// GuestPhysToHostPhys implements hal.EPTTranslator: every address
// inside the flat region is present, writable, user-accessible and
// executable; this is a demo identity map, not the core's concern.
func (g *flatGuestMemory) GuestPhysToHostPhys(addr hal.GuestPhysAddr) (hal.HostPhysAddr, hal.MappingFlags, hal.PageSize, bool) {
	if uint64(addr) >= uint64(len(g.buf)) {
		return 0, 0, 0, false
	}

	flags := hal.FlagPresent | hal.FlagWrite | hal.FlagUser
	host := hal.HostPhysAddr(uintptrOf(g.buf)) + hal.HostPhysAddr(addr)

	return host, flags, hal.Page4K, true
}

// ReadGuestPhys implements hal.GuestMemoryReader for gvawalk.
func (g *flatGuestMemory) ReadGuestPhys(addr hal.GuestPhysAddr, buf []byte) error {
	start := uint64(addr)
	if start+uint64(len(buf)) > uint64(len(g.buf)) {
		return errGuestAddrOutOfRange
	}

	copy(buf, g.buf[start:start+uint64(len(buf))])

	return nil
}

// EPTRoot is a placeholder nested-page-table root: the flat identity
// map above needs no real paging structure, but vcpu.Setup requires
// some address to install as InstallNestedRoot, so this reports the
// base of the flat region itself.
func (g *flatGuestMemory) EPTRoot() hal.HostPhysAddr {
	return hal.HostPhysAddr(uintptrOf(g.buf))
}

func uintptrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}

	return uintptr(unsafe.Pointer(&b[0]))
}
